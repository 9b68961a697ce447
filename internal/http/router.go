// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, idempotency, and rate limiting.
//
// Two routers are built here: the agent API (RegisterRoutes) and the PDF
// metadata service (RegisterPDFRoutes). They share the middleware stack.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/tbourn/go-publish-agent/docs"
	"github.com/tbourn/go-publish-agent/internal/config"
	"github.com/tbourn/go-publish-agent/internal/http/handlers"
	"github.com/tbourn/go-publish-agent/internal/http/middleware"
	"github.com/tbourn/go-publish-agent/internal/repo"
)

// RegisterRoutes attaches all middleware and the agent API endpoints to the
// given Gin engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
//  9. CORS, security headers and gzip
func RegisterRoutes(r *gin.Engine, deps Dependencies, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	commonMiddleware(r, cfg, 1<<20)

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200, ScopeParam: "form_id"},
		func(ctx context.Context, userID, formID, key string, now time.Time) (bool, error) {
			if deps.DB == nil {
				return false, nil
			}
			rec, err := repo.GetIdempotency(ctx, deps.DB, userID, formID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).
		Exempt("/metrics", joinPath(cfg.APIBasePath, "/health"))
	r.Use(rl.Handler())

	useCORS(r, cfg.CORS.AllowedOrigins)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	fallbacks(r)

	agent, forms := NewAgent(deps, cfg)
	h := handlers.New(agent, forms, deps.Registry)
	h.DB = deps.DB
	if deps.Registry != nil {
		h.Verifier = deps.Registry
	}
	h.Checks = healthChecks(deps)
	if cfg.IdempotencyTTL > 0 {
		h.IdempotencyTTL = cfg.IdempotencyTTL
	}

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/", h.Root)
		api.GET("/health", h.Health)
		api.POST("/chat", h.Chat)
		api.GET("/forms", h.ListForms)
		api.GET("/forms/:id", h.GetForm)
		api.POST("/publish/:form_id", h.PublishForm)
		api.GET("/publications", h.ListPublications)
	}
}

// RegisterPDFRoutes mounts the PDF metadata service under /conversion.
// Generated images are served from cfg.PDF.OutputDir.
func RegisterPDFRoutes(r *gin.Engine, renderer handlers.PageRenderer, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	maxBody := cfg.PDF.MaxUpload
	if maxBody <= 0 {
		maxBody = 50 << 20
	}
	// multipart overhead on top of the file itself
	commonMiddleware(r, cfg, maxBody+1<<20)
	r.MaxMultipartMemory = 8 << 20

	useCORS(r, cfg.PDF.AllowedOrigins)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:           cfg.Security.EnableHSTS,
		HSTSMaxAge:           cfg.Security.HSTSMaxAge,
		CrossOriginResources: true,
	}))

	fallbacks(r)

	const imagesPath = "/conversion/generated_images"
	p := &handlers.PDFHandlers{
		Renderer:   renderer,
		OutputDir:  cfg.PDF.OutputDir,
		ImagesPath: imagesPath,
	}
	conv := r.Group("/conversion")
	{
		conv.POST("/pdf-metadata", p.PDFMetadata)
		conv.POST("/pdf-to-png-save", p.PDFToPNG)
		conv.GET("/health-check", p.PDFHealth)
	}
	r.Static(imagesPath, cfg.PDF.OutputDir)
}

// commonMiddleware installs the observability and safety layers shared by
// both routers, plus /metrics.
func commonMiddleware(r *gin.Engine, cfg config.Config, maxBody int64) {
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBody))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// useCORS installs the CORS posture: allow all when no origins are
// configured, otherwise echo allow-listed origins.
func useCORS(r *gin.Engine, origins []string) {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", middleware.HeaderIdempotencyReplayed}
	methods := []string{"GET", "POST", "OPTIONS"}

	if len(origins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     methods,
		AllowHeaders:     allowHeaders,
		ExposeHeaders:    exposeHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
}

func fallbacks(r *gin.Engine) {
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// joinPath returns the route path of p under prefix, as Gin registers it.
func joinPath(prefix, p string) string {
	prefix = strings.TrimRight(prefix, "/")
	return prefix + p
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
