package httpapi

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-publish-agent/internal/config"
	"github.com/tbourn/go-publish-agent/internal/domain"
	"github.com/tbourn/go-publish-agent/internal/http/handlers"
	"github.com/tbourn/go-publish-agent/internal/intent"
	"github.com/tbourn/go-publish-agent/internal/registry"
	"github.com/tbourn/go-publish-agent/internal/repo"
	"github.com/tbourn/go-publish-agent/internal/services"
)

// formRepoShim adapts the repository free functions to services.FormRepo.
type formRepoShim struct{}

func (formRepoShim) GetForm(ctx context.Context, db *gorm.DB, id string) (*domain.Form, error) {
	return repo.GetForm(ctx, db, id)
}

func (formRepoShim) CountForms(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountForms(ctx, db)
}

func (formRepoShim) ListFormsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Form, error) {
	return repo.ListFormsPage(ctx, db, offset, limit)
}

func (formRepoShim) SetFormFingerprint(ctx context.Context, db *gorm.DB, id, fp string, now time.Time) error {
	return repo.SetFormFingerprint(ctx, db, id, fp, now)
}

// recipientRepoShim adapts the repository free functions to services.RecipientRepo.
type recipientRepoShim struct{}

func (recipientRepoShim) FindGroupByAlias(ctx context.Context, db *gorm.DB, alias, ownerID string) (*domain.RecipientGroup, error) {
	return repo.FindGroupByAlias(ctx, db, alias, ownerID)
}

func (recipientRepoShim) ListRecipientsByIDs(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Recipient, error) {
	return repo.ListRecipientsByIDs(ctx, db, ids)
}

func (recipientRepoShim) CreateNotifications(ctx context.Context, db *gorm.DB, rows []domain.Notification) error {
	return repo.CreateNotifications(ctx, db, rows)
}

// auditRepoShim adapts repo.CreateAudit to services.AuditRepo.
type auditRepoShim struct{}

func (auditRepoShim) CreateAudit(ctx context.Context, db *gorm.DB, a *domain.PublicationAudit) error {
	return repo.CreateAudit(ctx, db, a)
}

// LLM is the inference client surface the agent and health checks use.
type LLM interface {
	intent.Generator
	Ping(ctx context.Context) (modelReady bool, err error)
}

// Registry is the registry client surface the agent and handlers use.
type Registry interface {
	Register(ctx context.Context, formID, fingerprint string) registry.Result
	PublicURL(formID, fingerprint string) string
	Verify(ctx context.Context, publicURL string) (registry.Verification, error)
	Status(ctx context.Context) (json.RawMessage, error)
}

// Dependencies are the external clients shared by every entry point.
type Dependencies struct {
	DB       *gorm.DB
	LLM      LLM
	Registry Registry
}

// maxChatRunes caps one chat message.
const maxChatRunes = 4000

// NewAgent assembles the publish pipeline and the form service it reads from.
// The chat API, the passive interceptor and the one-shot commands all share it.
func NewAgent(deps Dependencies, cfg config.Config) (*services.Agent, *services.FormService) {
	forms := services.NewFormService(deps.DB, formRepoShim{})
	notifier := services.NewNotificationService(deps.DB, recipientRepoShim{},
		strings.EqualFold(cfg.Agent.NotifyScope, "global"))

	var gen intent.Generator
	if deps.LLM != nil {
		gen = deps.LLM
	}
	agent := &services.Agent{
		Classifier:  &intent.Classifier{LLM: gen, Keywords: cfg.Agent.Keywords},
		Forms:       forms,
		Registry:    deps.Registry,
		Notifier:    notifier,
		LLM:         gen,
		Audit:       auditRepoShim{},
		DB:          deps.DB,
		MaxInputLen: maxChatRunes,
	}
	return agent, forms
}

// healthChecks probes the store, the inference server and the registry API.
func healthChecks(deps Dependencies) []handlers.HealthCheck {
	return []handlers.HealthCheck{
		{Name: "database", Probe: func(ctx context.Context) (string, bool) {
			if deps.DB == nil {
				return "disconnected", false
			}
			sqlDB, err := deps.DB.DB()
			if err != nil || sqlDB.PingContext(ctx) != nil {
				return "disconnected", false
			}
			return "connected", true
		}},
		{Name: "ollama", Probe: func(ctx context.Context) (string, bool) {
			if deps.LLM == nil {
				return "unavailable", false
			}
			ready, err := deps.LLM.Ping(ctx)
			switch {
			case err != nil:
				return "unavailable", false
			case !ready:
				return "model_missing", false
			}
			return "available", true
		}},
		{Name: "contract_api", Probe: func(ctx context.Context) (string, bool) {
			if deps.Registry == nil {
				return "unavailable", false
			}
			if _, err := deps.Registry.Status(ctx); err != nil {
				return "unavailable", false
			}
			return "available", true
		}},
	}
}
