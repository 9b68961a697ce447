package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-publish-agent/internal/repo"
	"github.com/tbourn/go-publish-agent/internal/services"
)

// FormSummary is one entry of the form listing.
type FormSummary struct {
	ID              string    `json:"id" example:"64f1c2a9b3e4d5f6a7b8c9d0"`
	Name            string    `json:"name" example:"Employee onboarding"`
	JSONFingerprint string    `json:"json_fingerprint,omitempty" example:"3f2a9c0d1e4b5a67"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ListFormsResponse wraps a page of forms and pagination information.
type ListFormsResponse struct {
	Forms      []FormSummary `json:"forms"`
	Count      int           `json:"count"`
	Pagination Pagination    `json:"pagination"`
}

// FormResponse describes a single form and the link it would publish to.
type FormResponse struct {
	FormID          string          `json:"form_id" example:"64f1c2a9b3e4d5f6a7b8c9d0"`
	FormData        json.RawMessage `json:"form_data" swaggertype:"object"`
	JSONFingerprint string          `json:"json_fingerprint,omitempty" example:"3f2a9c0d1e4b5a67"`
	// PublicURL is null when no fingerprint could be derived.
	PublicURL *string `json:"public_url"`
	// Verified is the registry's answer for PublicURL; null when unknown.
	Verified *bool `json:"verified"`
}

// ListForms godoc
// @ID          listForms
// @Summary     List forms (paginated)
// @Description Returns a page of stored forms. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Forms
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"forms:3:1700000000\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListFormsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /forms [get]
func (h *Handlers) ListForms(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if h.DB != nil {
		count, maxTS, err := repo.FormsStats(ctx, h.DB)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"forms:%d:%d:%d:%d"`, count, ts, page, pageSize)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.forms.ListPage(ctx, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	out := make([]FormSummary, 0, len(items))
	for _, f := range items {
		out = append(out, FormSummary{
			ID:              f.ID,
			Name:            f.Name,
			JSONFingerprint: services.StoredFingerprint(f.Data),
			CreatedAt:       f.CreatedAt,
			UpdatedAt:       f.UpdatedAt,
		})
	}
	ok(c, http.StatusOK, ListFormsResponse{
		Forms:      out,
		Count:      len(out),
		Pagination: newPagination(page, pageSize, total),
	})
}

// GetForm godoc
// @ID          getForm
// @Summary     Get a form
// @Description Returns the stored form document, its fingerprint and the public link it would be published under.
// @Description verified reports whether the registry already holds that link; it is null when the registry could not be asked.
// @Tags        Forms
// @Produce     json
//
// @Param       id  path  string  true  "Form ID (object id or key)"  example(64f1c2a9b3e4d5f6a7b8c9d0)
//
// @Success     200  {object} handlers.FormResponse
// @Failure     404  {object} handlers.ErrorResponse "Form not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /forms/{id} [get]
func (h *Handlers) GetForm(c *gin.Context) {
	ctx := c.Request.Context()
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "form id required")
		return
	}

	f, err := h.forms.Get(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrFormNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "form not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	resp := FormResponse{FormID: id, FormData: json.RawMessage(f.Data)}
	if len(resp.FormData) == 0 {
		resp.FormData = json.RawMessage("{}")
	}
	fp, err := h.forms.FingerprintOf(ctx, f)
	switch {
	case err == nil:
		resp.JSONFingerprint = fp
		u := h.links.PublicURL(id, fp)
		resp.PublicURL = &u
		resp.Verified = h.verify(ctx, u)
	case errors.Is(err, services.ErrFingerprintNotFound):
		// leave fingerprint and link empty
	default:
		fail(c, http.StatusInternalServerError, ErrCodeFingerprintMissing, err.Error())
		return
	}
	ok(c, http.StatusOK, resp)
}

// verify asks the registry about publicURL. Registry trouble never fails the
// read; the answer is just left unknown.
func (h *Handlers) verify(ctx context.Context, publicURL string) *bool {
	if h.Verifier == nil {
		return nil
	}
	v, err := h.Verifier.Verify(ctx, publicURL)
	if err != nil {
		log.Warn().Err(err).Str("url", publicURL).Msg("registry verify failed")
		return nil
	}
	return &v.IsVerified
}
