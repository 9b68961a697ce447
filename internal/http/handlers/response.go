// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the envelopes every endpoint answers with. Transport
// failures (bad input, unknown routes, a missing store) use ErrorResponse
// with a stable code from errors.go. Pipeline outcomes never do: a chat turn
// or publish that fails inside the agent is still a 200, and the reply built
// here from the Conversation says what went wrong.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "form not found"
//	}
//
// Example publish response:
//
//	HTTP/1.1 200 OK
//	{
//	  "form_id": "64f1c2a9b3e4d5f6a7b8c9d0",
//	  "message": "🎉 Form successfully published to the blockchain! ...",
//	  "success": true,
//	  "public_url": "http://localhost:4200/public/form/64f1c2a9b3e4d5f6a7b8c9d0/3f2a9c0d1e4b5a67",
//	  "transaction_hash": "0xabc123"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-publish-agent/internal/http/middleware"
	"github.com/tbourn/go-publish-agent/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"form not found"`
}

// fail aborts the request with a structured error. 5xx responses are logged
// through the request-scoped logger so they carry the request and form ids.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail(), used by the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// chatReply renders a processed chat turn. Success is false only when the
// pipeline ended in its error state.
func chatReply(conv *services.Conversation) ChatResponse {
	return ChatResponse{Response: conv.Response, Success: conv.Err == nil}
}

// publishReply renders a direct publish. Success means the registry accepted
// the link; the link and transaction hash are carried whenever the registry
// was reached, so a failed registration still shows the URL that was tried.
func publishReply(formID string, conv *services.Conversation) PublishResponse {
	resp := PublishResponse{FormID: formID, Message: conv.Response, Success: conv.Published()}
	if conv.Publish != nil {
		resp.PublicURL = conv.Publish.URL
		resp.TransactionHash = conv.Publish.TransactionHash
	}
	return resp
}

// replayed writes a stored publish result and marks it as a replay.
func replayed(c *gin.Context, status int, prev PublishResponse) {
	c.Header(middleware.HeaderIdempotencyReplayed, "true")
	ok(c, status, prev)
}
