package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-publish-agent/internal/services"
)

// ChatRequest is the JSON payload for POST /chat.
type ChatRequest struct {
	// Message is the user's chat turn.
	Message string `json:"message" binding:"required" example:"publish form 64f1c2a9b3e4d5f6a7b8c9d0 and notify @reviewers"`
}

// ChatResponse is the agent's reply. Success is false when the pipeline ended
// in its error state; Response then carries the explanation.
type ChatResponse struct {
	Response string `json:"response" example:"🎉 Form successfully published to the blockchain!"`
	Success  bool   `json:"success" example:"true"`
}

// Chat godoc
// @ID          chat
// @Summary     Talk to the publish agent
// @Description Runs the message through intent detection and, when it asks to publish a form, through the publish pipeline.
// @Tags        Agent
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.ChatRequest  true  "Chat message"
//
// @Success     200  {object}  handlers.ChatResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /chat [post]
func (h *Handlers) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}
	msg := strings.TrimSpace(req.Message)
	if err := h.agent.ValidateInput(msg); err != nil {
		switch {
		case errors.Is(err, services.ErrMessageTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message too long")
		default:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		}
		return
	}

	conv := h.agent.Process(c.Request.Context(), msg, services.SourceChat)
	lg := log.Info()
	if conv.Err != nil {
		lg = log.Warn().Err(conv.Err)
	}
	lg.Str("state", string(conv.State)).Str("form_id", conv.FormID).Msg("chat handled")

	ok(c, http.StatusOK, chatReply(conv))
}
