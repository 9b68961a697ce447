// Package handlers implements the HTTP endpoints of the publish agent.
//
// Handlers are transport-thin:
//   - validate & normalize inputs
//   - delegate to application services (Agent, FormService)
//   - implement conditional responses (ETag) and idempotency semantics
//
// Pipeline outcomes are not transport errors: a failed publish is a 200 with
// success=false and a user-facing message, matching the chat contract. Only
// malformed requests, missing resources and infrastructure failures use the
// ErrorResponse envelope.
package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/tbourn/go-publish-agent/internal/domain"
	"github.com/tbourn/go-publish-agent/internal/registry"
	"github.com/tbourn/go-publish-agent/internal/services"
	"github.com/tbourn/go-publish-agent/internal/utils"
)

//
// Service contracts
//

// Agent is the conversation pipeline used by /chat and /publish.
type Agent interface {
	ValidateInput(input string) error
	Process(ctx context.Context, input, source string) *services.Conversation
	Publish(ctx context.Context, formID, prompt, source string) *services.Conversation
}

// FormService resolves stored form documents and their fingerprints.
type FormService interface {
	Get(ctx context.Context, id string) (*domain.Form, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Form, int64, error)
	FingerprintOf(ctx context.Context, f *domain.Form) (string, error)
}

// LinkBuilder derives the public link of a form version.
type LinkBuilder interface {
	PublicURL(formID, fingerprint string) string
}

// Verifier asks the registry whether a public link has been notarized.
type Verifier interface {
	Verify(ctx context.Context, publicURL string) (registry.Verification, error)
}

// HealthCheck probes one dependency. Probe returns a short status word and
// whether the dependency is usable.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) (status string, healthy bool)
}

// Handlers groups the chat API endpoints and their dependencies.
type Handlers struct {
	agent Agent
	forms FormService
	links LinkBuilder

	// DB backs listing ETags, idempotency records and the publication
	// audit. Those features are skipped when it is nil.
	DB *gorm.DB
	// Verifier, when set, adds the registry's verification state to
	// GET /forms/{id}.
	Verifier Verifier
	// Checks back GET /health, in order.
	Checks []HealthCheck
	// IdempotencyTTL bounds how long a stored /publish result is replayed.
	IdempotencyTTL time.Duration
	// Version is reported by GET /.
	Version string

	inflight singleflight.Group
}

// New constructs and returns a Handlers instance bound to the given services.
func New(agent Agent, forms FormService, links LinkBuilder) *Handlers {
	return &Handlers{
		agent:          agent,
		forms:          forms,
		links:          links,
		IdempotencyTTL: 24 * time.Hour,
		Version:        "1.0.0",
	}
}

// userID extracts the caller identity from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header, and finally to
// "anonymous".
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "anonymous"
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination reads page and page_size: defaults 1 and 20, page size
// capped at 100.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.PageQuery(c.Query("page"), c.Query("page_size"), 20, 100)
}
