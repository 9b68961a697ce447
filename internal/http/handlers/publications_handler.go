package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-publish-agent/internal/domain"
	"github.com/tbourn/go-publish-agent/internal/repo"
	"github.com/tbourn/go-publish-agent/internal/utils"
)

// ListPublicationsResponse is the recent publication audit, newest first.
type ListPublicationsResponse struct {
	Publications []domain.PublicationAudit `json:"publications"`
	Count        int                       `json:"count"`
}

// ListPublications godoc
// @ID          listPublications
// @Summary     Recent publications
// @Description Returns the publication audit newest first: every successful publish from chat, the API or the passive interceptor.
// @Tags        Forms
// @Produce     json
//
// @Param       form_id  query  string  false "Only publications of this form"  example(64f1c2a9b3e4d5f6a7b8c9d0)
// @Param       limit    query  int     false "Maximum records"                 minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListPublicationsResponse
// @Failure     503  {object} handlers.ErrorResponse "No store configured"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /publications [get]
func (h *Handlers) ListPublications(c *gin.Context) {
	if h.DB == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "publication audit unavailable")
		return
	}
	limit := utils.Clamp(utils.AtoiDefault(c.Query("limit"), 20), 1, 100)
	formID := strings.TrimSpace(c.Query("form_id"))

	rows, err := repo.ListAudits(c.Request.Context(), h.DB, formID, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if rows == nil {
		rows = []domain.PublicationAudit{}
	}
	ok(c, http.StatusOK, ListPublicationsResponse{Publications: rows, Count: len(rows)})
}
