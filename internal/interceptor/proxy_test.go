package interceptor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

type upstream struct {
	srv  *httptest.Server
	hits atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		if gjson.GetBytes(body, "stream").Exists() && !gjson.GetBytes(body, "stream").Bool() {
			_, _ = w.Write([]byte(`{"model":"m","response":"Hello","done":true}`))
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"response":"Hel","done":false}` + "\n"))
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte(`{"response":"lo","done":false}` + "\n" + `{"response":"","done":true}` + "\n"))
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2:3b"}]}`))
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

type capture struct {
	mu  sync.Mutex
	got []Exchange
}

func (c *capture) Observe(_ context.Context, ex Exchange) {
	c.mu.Lock()
	c.got = append(c.got, ex)
	c.mu.Unlock()
}

func (c *capture) all() []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Exchange(nil), c.got...)
}

func newTestProxy(t *testing.T, u *upstream, inj InjectionStore, obs Observer) *Proxy {
	t.Helper()
	target, _ := url.Parse(u.srv.URL)
	return NewProxy(target, NewRing(5), inj, obs, true)
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func TestProxy_ForwardsAndObservesStream(t *testing.T) {
	u := newUpstream(t)
	obs := &capture{}
	p := newTestProxy(t, u, NewMemoryInjections(time.Minute), obs)

	rec := post(p, EndpointGenerate, `{"model":"m","prompt":"hi there"}`)
	p.Wait()

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"Hel"`) {
		t.Fatalf("forwarded response = %d %s", rec.Code, rec.Body.String())
	}
	got := obs.all()
	if len(got) != 1 || got[0].Prompt != "hi there" || got[0].Response != "Hello" || !got[0].Stream || got[0].Injected {
		t.Fatalf("observed = %+v", got)
	}
	if p.Ring.Len() != 1 {
		t.Fatalf("ring len = %d", p.Ring.Len())
	}
}

func TestProxy_ForwardsNonStream(t *testing.T) {
	u := newUpstream(t)
	obs := &capture{}
	p := newTestProxy(t, u, nil, obs)

	post(p, EndpointGenerate, `{"model":"m","prompt":"hi","stream":false}`)
	p.Wait()
	if got := obs.all(); len(got) != 1 || got[0].Response != "Hello" || got[0].Stream {
		t.Fatalf("observed = %+v", got)
	}
}

func TestProxy_InjectsOnceThenForwards(t *testing.T) {
	u := newUpstream(t)
	obs := &capture{}
	inj := NewMemoryInjections(time.Minute)
	_ = inj.Put(context.Background(), "publish form abc123", "✅ published")
	p := newTestProxy(t, u, inj, obs)

	rec := post(p, EndpointGenerate, `{"model":"m","prompt":"Publish form ABC123","stream":false}`)
	if rec.Header().Get("X-Interceptor-Injected") != "true" {
		t.Fatalf("expected injected response")
	}
	if gjson.Get(rec.Body.String(), "response").String() != "✅ published" || !gjson.Get(rec.Body.String(), "done").Bool() {
		t.Fatalf("synthetic body = %s", rec.Body.String())
	}
	if u.hits.Load() != 0 {
		t.Fatalf("upstream must not be called for an injected reply")
	}

	rec = post(p, EndpointGenerate, `{"model":"m","prompt":"Publish form ABC123","stream":false}`)
	p.Wait()
	if rec.Header().Get("X-Interceptor-Injected") != "" || u.hits.Load() != 1 {
		t.Fatalf("second request should be forwarded")
	}
	got := obs.all()
	if len(got) != 2 || !got[0].Injected || got[1].Injected {
		t.Fatalf("observed = %+v", got)
	}
}

func TestProxy_InjectionDisabled(t *testing.T) {
	u := newUpstream(t)
	inj := NewMemoryInjections(time.Minute)
	_ = inj.Put(context.Background(), "p1", "x")
	p := newTestProxy(t, u, inj, nil)
	p.Inject = false

	post(p, EndpointGenerate, `{"prompt":"p1","stream":false}`)
	if u.hits.Load() != 1 || inj.Len() != 1 {
		t.Fatalf("disabled injection must forward and keep the entry")
	}
}

// closeNotifyRecorder lets httptest.ResponseRecorder satisfy http.CloseNotifier,
// which gin's response writer assumes when httputil.ReverseProxy asks for it.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (closeNotifyRecorder) CloseNotify() <-chan bool { return make(chan bool) }

func TestRouter_AdminAndPassthrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	u := newUpstream(t)
	p := newTestProxy(t, u, nil, nil)
	r := NewRouter(p, nil, "test")

	rec := httptest.NewRecorder()
	r.ServeHTTP(closeNotifyRecorder{rec}, httptest.NewRequest(http.MethodGet, "/api/tags", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "llama3.2") {
		t.Fatalf("passthrough = %d %s", rec.Code, rec.Body.String())
	}

	if rec := post(r, EndpointGenerate, `{"prompt":"hello","stream":false}`); rec.Code != http.StatusOK {
		t.Fatalf("proxied POST status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_interceptor/recent", nil))
	if gjson.Get(rec.Body.String(), "count").Int() != 1 ||
		gjson.Get(rec.Body.String(), "exchanges.0.prompt").String() != "hello" {
		t.Fatalf("recent = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_interceptor/health", nil))
	if gjson.Get(rec.Body.String(), "status").String() != "ok" {
		t.Fatalf("health = %s", rec.Body.String())
	}
}

func TestProxy_UpstreamDown(t *testing.T) {
	target, _ := url.Parse("http://127.0.0.1:1")
	p := NewProxy(target, NewRing(2), nil, nil, false)
	rec := post(p, EndpointGenerate, `{"prompt":"x"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
}
