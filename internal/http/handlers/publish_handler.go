package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-publish-agent/internal/http/middleware"
	"github.com/tbourn/go-publish-agent/internal/repo"
	"github.com/tbourn/go-publish-agent/internal/services"
)

// PublishResponse is the outcome of a direct publish request.
type PublishResponse struct {
	FormID          string `json:"form_id" example:"64f1c2a9b3e4d5f6a7b8c9d0"`
	Message         string `json:"message"`
	Success         bool   `json:"success" example:"true"`
	PublicURL       string `json:"public_url,omitempty" example:"http://localhost:4200/public/form/64f1c2a9b3e4d5f6a7b8c9d0/3f2a9c0d1e4b5a67"`
	TransactionHash string `json:"transaction_hash,omitempty" example:"0xabc123"`
}

// PublishForm godoc
// @ID          publishForm
// @Summary     Publish a form
// @Description Registers the form's public link with the verifiable registry without going through intent detection.
// @Description Supports idempotency via the Idempotency-Key header: a repeated key replays the first successful result.
// @Tags        Forms
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       form_id          path    string  true  "Form ID"  example(64f1c2a9b3e4d5f6a7b8c9d0)
//
// @Success     200  {object}  handlers.PublishResponse
// @Header      200  {string}  Idempotency-Replayed  "true when the body is a stored result"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /publish/{form_id} [post]
func (h *Handlers) PublishForm(c *gin.Context) {
	ctx := c.Request.Context()
	formID := strings.TrimSpace(c.Param("form_id"))
	if formID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "form id required")
		return
	}
	currentUser := userID(c)
	db := h.DB

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && db != nil {
		if rec, err := repo.GetIdempotency(ctx, db, currentUser, formID, idemKey, time.Now().UTC()); err == nil && rec != nil {
			var prev PublishResponse
			if json.Unmarshal([]byte(rec.Body), &prev) == nil {
				replayed(c, rec.Status, prev)
				return
			}
		}
	}

	run := func() (any, error) {
		return publishReply(formID, h.agent.Publish(ctx, formID, "", services.SourceAPI)), nil
	}

	var resp PublishResponse
	if idemKey != "" {
		// Retries racing the first request share its outcome.
		v, _, _ := h.inflight.Do(currentUser+"\x00"+formID+"\x00"+idemKey, run)
		resp = v.(PublishResponse)
	} else {
		v, _ := run()
		resp = v.(PublishResponse)
	}

	// Idempotency (store path), best effort. Failures stay retryable.
	if idemKey != "" && db != nil && resp.Success {
		if body, err := json.Marshal(resp); err == nil {
			_, _ = repo.CreateIdempotency(ctx, db, currentUser, formID, idemKey, http.StatusOK, body, h.IdempotencyTTL)
		}
	}

	ok(c, http.StatusOK, resp)
}
