package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-publish-agent/internal/config"
	httpapi "github.com/tbourn/go-publish-agent/internal/http"
	"github.com/tbourn/go-publish-agent/internal/interceptor"
)

const (
	injectPrefix   = "publish-agent:inject:"
	seenPrefix     = "publish-agent:seen:"
	janitorPeriod  = time.Minute
	redisPingLimit = 5 * time.Second
)

// caches are the pending-reply and dedup stores the watcher and proxy share.
type caches struct {
	injections interceptor.InjectionStore
	seen       interceptor.SeenSet
	sweepers   []interceptor.Sweeper
	close      func()
}

// newCaches uses Redis when REDIS_URL is set so several proxies share
// state, and process memory otherwise.
func newCaches(ctx context.Context, cfg config.InterceptorConfig) (caches, error) {
	if cfg.RedisURL == "" {
		inj := interceptor.NewMemoryInjections(cfg.InjectionTTL)
		seen := interceptor.NewMemorySeen(cfg.DedupTTL)
		return caches{injections: inj, seen: seen, sweepers: []interceptor.Sweeper{inj, seen}, close: func() {}}, nil
	}

	rdb, err := interceptor.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return caches{}, fmt.Errorf("redis url: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, redisPingLimit)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return caches{}, fmt.Errorf("redis ping: %w", err)
	}
	return caches{
		injections: interceptor.NewRedisInjections(rdb, injectPrefix, cfg.InjectionTTL),
		seen:       interceptor.NewRedisSeen(rdb, seenPrefix, cfg.DedupTTL),
		close:      func() { closeRedis(rdb) },
	}, nil
}

func closeRedis(rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close")
	}
}

// newWatcher wires the passive callback to the shared publish pipeline.
func newWatcher(deps httpapi.Dependencies, cfg config.Config, c caches) *interceptor.Watcher {
	agent, _ := httpapi.NewAgent(deps, cfg)
	return &interceptor.Watcher{
		Classifier: agent.Classifier,
		Publisher:  agent,
		Injections: c.injections,
		Seen:       c.seen,
		Keywords:   cfg.Agent.Keywords,
	}
}

// NewPassiveCommand runs the interceptor in front of the inference server.
func NewPassiveCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "passive",
		Short: "Run the interceptor proxy in front of the inference server",
		Long: `passive listens on PROXY_PORT and forwards everything to OLLAMA_HOST.
Generate and chat requests are inspected after the fact; a prompt asking to
publish a form triggers the publish pipeline, and the next identical prompt
is answered with the publish confirmation when INJECT_RESPONSES is on.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			defer setupTracing(ctx, cfg, "proxy")()

			target, err := url.Parse(cfg.Ollama.Host)
			if err != nil || target.Host == "" {
				return fmt.Errorf("invalid OLLAMA_HOST %q", cfg.Ollama.Host)
			}

			deps, closeDB, err := openDeps(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			c, err := newCaches(ctx, cfg.Interceptor)
			if err != nil {
				return err
			}
			defer c.close()
			go interceptor.RunJanitor(ctx, janitorPeriod, c.sweepers...)

			w := newWatcher(deps, cfg, c)
			ring := interceptor.NewRing(cfg.Interceptor.RecentCapacity)
			proxy := interceptor.NewProxy(target, ring, c.injections, w, cfg.Interceptor.InjectResponses)

			if len(cfg.Interceptor.LogPaths) > 0 {
				tailer := &interceptor.LogTailer{Paths: cfg.Interceptor.LogPaths, Observer: w}
				go func() {
					if err := tailer.Run(ctx); err != nil {
						log.Warn().Err(err).Msg("log tailer stopped")
					}
				}()
			}

			r := interceptor.NewRouter(proxy, deps.LLM, cfg.OTEL.ServiceName)
			if addr == "" {
				addr = cfg.ProxyAddr()
			}
			log.Info().
				Str("upstream", target.String()).
				Bool("inject_responses", proxy.Inject).
				Bool("redis", cfg.Interceptor.RedisURL != "").
				Strs("keywords", cfg.Agent.Keywords).
				Msg("passive listening enabled")

			err = listenAndServe(ctx, newServer(cfg, addr, r), "interceptor proxy")
			// let in-flight publishes finish before the store closes
			proxy.Wait()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "Listen address (default PROXY_HOST:PROXY_PORT)")
	return cmd
}
