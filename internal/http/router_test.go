package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-publish-agent/internal/config"
	"github.com/tbourn/go-publish-agent/internal/domain"
	"github.com/tbourn/go-publish-agent/internal/http/middleware"
	"github.com/tbourn/go-publish-agent/internal/intent"
	"github.com/tbourn/go-publish-agent/internal/registry"
	"github.com/tbourn/go-publish-agent/internal/repo"
	"github.com/tbourn/go-publish-agent/internal/services"
)

// --- fakes for the external clients ---

type fakeLLM struct {
	ready bool
	err   error
}

func (f fakeLLM) Generate(context.Context, string, string) (string, error) {
	return "", errors.New("offline")
}

func (f fakeLLM) Ping(context.Context) (bool, error) { return f.ready, f.err }

type fakeRegistry struct {
	calls     int32
	statusErr error
}

func (f *fakeRegistry) Register(_ context.Context, formID, fp string) registry.Result {
	atomic.AddInt32(&f.calls, 1)
	return registry.Result{Success: true, URL: f.PublicURL(formID, fp), TransactionHash: "0xfeed"}
}

func (f *fakeRegistry) PublicURL(formID, fp string) string {
	return "http://front/public/form/" + formID + "/" + fp
}

// Verify reports a link as notarized once anything has been registered.
func (f *fakeRegistry) Verify(_ context.Context, u string) (registry.Verification, error) {
	return registry.Verification{URL: u, IsVerified: atomic.LoadInt32(&f.calls) > 0}, nil
}

func (f *fakeRegistry) Status(context.Context) (json.RawMessage, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return json.RawMessage(`{"ok":true}`), nil
}

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath:    "/",
		RateRPS:        100,
		RateBurst:      10,
		IdempotencyTTL: time.Hour,
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		Agent:          config.AgentConfig{NotifyScope: "owner"},
	}
}

func serve(r *gin.Engine, method, path string, body io.Reader, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	deps := Dependencies{DB: newTestDB(t), LLM: fakeLLM{ready: false}, Registry: &fakeRegistry{}}
	RegisterRoutes(r, deps, baseConfig())

	w := serve(r, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id missing")
	}
	var health struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &health)
	if health.Status != "degraded" || health.Services["database"] != "connected" ||
		health.Services["ollama"] != "model_missing" || health.Services["contract_api"] != "available" {
		t.Fatalf("health=%+v", health)
	}

	w = serve(r, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	if w = serve(r, http.MethodGet, "/nope", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if w = serve(r, http.MethodPost, "/health", nil, nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
	// swagger disabled by default
	if w = serve(r, http.MethodGet, "/swagger/index.html", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be off, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.APIBasePath = "/api/v1"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	RegisterRoutes(r, Dependencies{DB: newTestDB(t), Registry: &fakeRegistry{}}, cfg)

	w := serve(r, http.MethodGet, "/api/v1/health", nil, map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.SwaggerEnabled = true
	RegisterRoutes(r, Dependencies{DB: newTestDB(t), Registry: &fakeRegistry{}}, cfg)

	w := serve(r, http.MethodGet, "/swagger/doc.json", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/publish/{form_id}") {
		t.Fatalf("doc.json: %d", w.Code)
	}
}

func TestRegisterRoutes_PublishIdempotencyAndGzip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	reg := &fakeRegistry{}
	RegisterRoutes(r, Dependencies{DB: db, LLM: fakeLLM{ready: true}, Registry: reg}, baseConfig())

	const id = "64f1c2a9b3e4d5f6a7b8c9d0"
	if err := db.Create(&domain.Form{ID: id, Name: "F", Data: datatypes.JSON(`{"metadata":{"jsonFingerprint":"abcdabcdabcdabcd"}}`)}).Error; err != nil {
		t.Fatal(err)
	}

	hdr := map[string]string{middleware.HeaderIdempotencyKey: "retry-1", "X-User-ID": "u1"}
	w := serve(r, http.MethodPost, "/publish/"+id, nil, hdr)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"success":true`) {
		t.Fatalf("first publish: %d %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodPost, "/publish/"+id, nil, hdr)
	if w.Header().Get("Idempotency-Replayed") != "true" || atomic.LoadInt32(&reg.calls) != 1 {
		t.Fatalf("expected replay without a second registration (calls=%d)", reg.calls)
	}

	// invalid key shape is rejected before the handler
	w = serve(r, http.MethodPost, "/publish/"+id, nil, map[string]string{middleware.HeaderIdempotencyKey: "bad key!"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad key: %d", w.Code)
	}

	// responses are compressed on request
	w = serve(r, http.MethodGet, "/forms/"+id, nil, map[string]string{"Accept-Encoding": "gzip"})
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", w.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	plain, _ := io.ReadAll(zr)
	if !bytes.Contains(plain, []byte(`"public_url":"http://front/public/form/`+id+`/abcdabcdabcdabcd"`)) ||
		!bytes.Contains(plain, []byte(`"verified":true`)) {
		t.Fatalf("body=%s", plain)
	}

	// the replayed request did not publish twice
	w = serve(r, http.MethodGet, "/publications?form_id="+id, nil, nil)
	var pubs struct {
		Count        int `json:"count"`
		Publications []struct {
			Source          string `json:"source"`
			TransactionHash string `json:"transaction_hash"`
		} `json:"publications"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &pubs)
	if w.Code != http.StatusOK || pubs.Count != 1 || pubs.Publications[0].TransactionHash != "0xfeed" || pubs.Publications[0].Source != "api" {
		t.Fatalf("publications: %d %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/health", nil, nil)
	var health struct {
		Publications struct {
			Total           int64   `json:"total"`
			LastPublishedAt *string `json:"last_published_at"`
		} `json:"publications"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &health)
	if health.Publications.Total != 1 || health.Publications.LastPublishedAt == nil {
		t.Fatalf("health publications: %s", w.Body.String())
	}
}

func TestRegisterRoutes_ChatRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, Dependencies{DB: newTestDB(t), LLM: fakeLLM{}, Registry: &fakeRegistry{}}, baseConfig())

	w := serve(r, http.MethodPost, "/chat", strings.NewReader(`{"message":"hello there"}`),
		map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"success":true`) {
		t.Fatalf("chat: %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterPDFRoutes_HealthAndStatic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	out := t.TempDir()
	if err := os.MkdirAll(filepath.Join(out, "run1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(out, "run1", "doc_page_1.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := baseConfig()
	cfg.PDF = config.PDFConfig{OutputDir: out, MaxUpload: 1 << 20, AllowedOrigins: []string{"http://app"}}

	r := gin.New()
	RegisterPDFRoutes(r, nil, cfg)

	w := serve(r, http.MethodGet, "/conversion/health-check", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health-check = %d", w.Code)
	}
	w = serve(r, http.MethodGet, "/conversion/generated_images/run1/doc_page_1.png", nil, map[string]string{"Origin": "http://app"})
	if w.Code != http.StatusOK || w.Body.String() != "png" {
		t.Fatalf("static = %d %q", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://app" {
		t.Fatalf("ACAO = %q", got)
	}
	w = serve(r, http.MethodPost, "/conversion/pdf-metadata", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("metadata without upload = %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB"), nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := serve(r, http.MethodGet, path, nil, nil)
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}

func TestNewAgent_WiresConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Agent.Keywords = []string{"ship"}
	cfg.Agent.NotifyScope = "GLOBAL"
	agent, forms := NewAgent(Dependencies{DB: newTestDB(t), LLM: fakeLLM{}, Registry: &fakeRegistry{}}, cfg)

	if agent.Forms != services.FormSource(forms) || agent.DB == nil || agent.LLM == nil || agent.Audit == nil {
		t.Fatalf("agent not fully wired: %+v", agent)
	}
	cls, ok := agent.Classifier.(*intent.Classifier)
	if !ok || len(cls.Keywords) != 1 || cls.Keywords[0] != "ship" {
		t.Fatalf("classifier = %+v", agent.Classifier)
	}
	n, ok := agent.Notifier.(*services.NotificationService)
	if !ok || !n.Global {
		t.Fatalf("notifier scope not global: %+v", agent.Notifier)
	}

	// without an LLM the agent stays template-only
	agent, _ = NewAgent(Dependencies{DB: newTestDB(t), Registry: &fakeRegistry{}}, cfg)
	if agent.LLM != nil {
		t.Fatalf("expected nil LLM")
	}
}

func TestHealthChecks_Failures(t *testing.T) {
	db := newTestDB(t)
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	checks := healthChecks(Dependencies{
		DB:       db,
		LLM:      fakeLLM{err: errors.New("refused")},
		Registry: &fakeRegistry{statusErr: errors.New("HTTP 503")},
	})
	want := map[string]string{"database": "disconnected", "ollama": "unavailable", "contract_api": "unavailable"}
	for _, c := range checks {
		status, healthy := c.Probe(context.Background())
		if healthy || status != want[c.Name] {
			t.Errorf("%s = %q healthy=%v", c.Name, status, healthy)
		}
	}

	for _, c := range healthChecks(Dependencies{}) {
		if _, healthy := c.Probe(context.Background()); healthy {
			t.Errorf("%s healthy without a client", c.Name)
		}
	}
}

func Test_repoShims_Proxy(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	if err := db.Create(&domain.Form{ID: "key-1", Name: "K", Data: datatypes.JSON(`{}`)}).Error; err != nil {
		t.Fatal(err)
	}
	fr := formRepoShim{}
	if n, err := fr.CountForms(ctx, db); err != nil || n != 1 {
		t.Fatalf("CountForms = %d, %v", n, err)
	}
	if page, err := fr.ListFormsPage(ctx, db, 0, 10); err != nil || len(page) != 1 {
		t.Fatalf("ListFormsPage = %v, %v", page, err)
	}
	if err := fr.SetFormFingerprint(ctx, db, "key-1", "0123456789abcdef", time.Now()); err != nil {
		t.Fatal(err)
	}
	f, err := fr.GetForm(ctx, db, "key-1")
	if err != nil || services.StoredFingerprint(f.Data) != "0123456789abcdef" {
		t.Fatalf("GetForm = %+v, %v", f, err)
	}

	rr := recipientRepoShim{}
	if _, err := rr.FindGroupByAlias(ctx, db, "nobody", ""); err == nil {
		t.Fatalf("expected not found")
	}
	if got, err := rr.ListRecipientsByIDs(ctx, db, nil); err != nil || len(got) != 0 {
		t.Fatalf("ListRecipientsByIDs = %v, %v", got, err)
	}
	if err := rr.CreateNotifications(ctx, db, []domain.Notification{{ID: uuid.NewString(), FormID: "key-1", Status: "pending"}}); err != nil {
		t.Fatal(err)
	}

	if err := (auditRepoShim{}).CreateAudit(ctx, db, &domain.PublicationAudit{FormID: "key-1", Source: "api"}); err != nil {
		t.Fatal(err)
	}
	audits, err := repo.ListAudits(ctx, db, "key-1", 10)
	if err != nil || len(audits) != 1 {
		t.Fatalf("audits = %v, %v", audits, err)
	}
}

func Test_joinPath(t *testing.T) {
	for prefix, want := range map[string]string{"": "/health", "/": "/health", "/api/v1/": "/api/v1/health", "/api": "/api/health"} {
		if got := joinPath(prefix, "/health"); got != want {
			t.Errorf("joinPath(%q) = %q; want %q", prefix, got, want)
		}
	}
}
