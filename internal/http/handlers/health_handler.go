package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-publish-agent/internal/repo"
)

// HealthResponse reports the agent's dependencies.
type HealthResponse struct {
	// Status is "healthy" when every dependency is usable, else "degraded".
	Status   string            `json:"status" example:"healthy"`
	Services map[string]string `json:"services"`
	// Publications summarizes the audit; omitted without a store.
	Publications *PublicationSummary `json:"publications,omitempty"`
}

// PublicationSummary counts audited publishes.
type PublicationSummary struct {
	Total           int64      `json:"total" example:"12"`
	LastPublishedAt *time.Time `json:"last_published_at"`
}

// Health godoc
// @ID          health
// @Summary     Dependency health
// @Description Probes the document store, the inference server and the registry API. Always 200; inspect status.
// @Description Also reports how many publishes the audit holds and when the last one happened.
// @Tags        Ops
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Services: make(map[string]string, len(h.Checks))}
	for _, chk := range h.Checks {
		status, healthy := chk.Probe(ctx)
		resp.Services[chk.Name] = status
		if !healthy {
			resp.Status = "degraded"
		}
	}
	if h.DB != nil {
		if n, last, err := repo.PublicationStats(ctx, h.DB); err == nil {
			resp.Publications = &PublicationSummary{Total: n, LastPublishedAt: last}
		}
	}
	ok(c, http.StatusOK, resp)
}

// Root godoc
// @ID          root
// @Summary     Service banner
// @Tags        Ops
// @Produce     json
// @Success     200  {object}  map[string]any
// @Router      / [get]
func (h *Handlers) Root(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{
		"message": "Form Publishing AI Agent is running!",
		"version": h.Version,
		"endpoints": gin.H{
			"chat":         "/chat",
			"health":       "/health",
			"forms":        "/forms",
			"publish":      "/publish/{form_id}",
			"publications": "/publications",
		},
	})
}
