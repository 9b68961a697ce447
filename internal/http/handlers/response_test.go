package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-publish-agent/internal/http/middleware"
	"github.com/tbourn/go-publish-agent/internal/registry"
	"github.com/tbourn/go-publish-agent/internal/services"
)

func Test_fail_500_LogsWithScopedLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).With().Str("form_id", "f-9").Logger()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/forms/:id", func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, ErrCodeFingerprintMissing, "store offline")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/forms/f-9", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-500" || resp.Code != ErrCodeFingerprintMissing || resp.Message != "store offline" {
		t.Fatalf("unexpected body: %+v", resp)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"error"`) || !strings.Contains(out, `"form_id":"f-9"`) {
		t.Fatalf("expected scoped error log, got: %s", out)
	}
}

func Test_Fail_4xxIsNotLogged(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-404")
		c.Set("logger", &logger)
		c.Next()
	})
	r.NoRoute(func(c *gin.Context) {
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "route not found")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	var er ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if w.Code != http.StatusNotFound || er.RequestID != "rid-404" || er.Code != ErrCodeNotFound {
		t.Fatalf("status=%d body=%+v", w.Code, er)
	}
	if buf.Len() != 0 {
		t.Fatalf("4xx should not log: %s", buf.String())
	}
}

func Test_chatReply(t *testing.T) {
	got := chatReply(&services.Conversation{Response: "🎉 published"})
	if !got.Success || got.Response != "🎉 published" {
		t.Fatalf("success turn: %+v", got)
	}

	got = chatReply(&services.Conversation{Response: "❌ Failed to publish form f1.", Err: errors.New("form not found")})
	if got.Success || !strings.HasPrefix(got.Response, "❌") {
		t.Fatalf("failed turn: %+v", got)
	}
}

func Test_publishReply(t *testing.T) {
	cases := []struct {
		name    string
		conv    *services.Conversation
		success bool
		url     string
		tx      string
	}{
		{
			name:    "registered",
			conv:    &services.Conversation{Response: "done", Publish: &registry.Result{Success: true, URL: "http://front/public/form/f1/fp", TransactionHash: "0xabc"}},
			success: true,
			url:     "http://front/public/form/f1/fp",
			tx:      "0xabc",
		},
		{
			name: "registry rejected",
			conv: &services.Conversation{Response: "❌", Err: errors.New("HTTP 500"), Publish: &registry.Result{URL: "http://front/public/form/f1/fp", Error: "HTTP 500"}},
			url:  "http://front/public/form/f1/fp",
		},
		{
			name: "never reached the registry",
			conv: &services.Conversation{Response: "❌", Err: services.ErrFormNotFound},
		},
	}
	for _, tc := range cases {
		got := publishReply("f1", tc.conv)
		if got.FormID != "f1" || got.Success != tc.success || got.PublicURL != tc.url || got.TransactionHash != tc.tx || got.Message != tc.conv.Response {
			t.Errorf("%s: %+v", tc.name, got)
		}
	}
}

func Test_replayed_MarksHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	prev := PublishResponse{FormID: "f1", Message: "done", Success: true, PublicURL: "http://front/public/form/f1/fp", TransactionHash: "0xabc"}
	replayed(c, http.StatusOK, prev)

	if w.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("replay header missing")
	}
	var got PublishResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil || got != prev {
		t.Fatalf("body=%s err=%v", w.Body.String(), err)
	}
}
