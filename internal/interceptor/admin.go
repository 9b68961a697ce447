// Package interceptor – admin router
//
// The admin router owns the listener of the passive interceptor. It answers
// a few operational endpoints itself and hands everything else to the Proxy.
package interceptor

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-publish-agent/internal/http/middleware"
)

// Pinger reports whether the inference server and its model are available.
type Pinger interface {
	Ping(ctx context.Context) (modelReady bool, err error)
}

// NewRouter mounts the admin endpoints and hands every other request to p.
func NewRouter(p *Proxy, upstream Pinger, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(otelgin.Middleware(serviceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := r.Group("/_interceptor")
	admin.GET("/recent", func(c *gin.Context) {
		items := p.Ring.Snapshot()
		c.JSON(http.StatusOK, gin.H{"count": len(items), "exchanges": items})
	})
	admin.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":           "ok",
			"upstream":         p.Target().String(),
			"inject_responses": p.Inject,
			"recent":           p.Ring.Len(),
		}
		if upstream != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			ready, err := upstream.Ping(ctx)
			switch {
			case err != nil:
				body["status"] = "degraded"
				body["inference"] = "unavailable"
			case !ready:
				body["inference"] = "model missing"
			default:
				body["inference"] = "available"
			}
		}
		c.JSON(http.StatusOK, body)
	})

	r.NoRoute(gin.WrapH(p))
	return r
}
