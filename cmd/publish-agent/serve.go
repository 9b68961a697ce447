package main

import (
	"github.com/spf13/cobra"

	httpapi "github.com/tbourn/go-publish-agent/internal/http"
)

// NewServeCommand runs the chat and publish API.
func NewServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			defer setupTracing(ctx, cfg, "api")()

			deps, closeDB, err := openDeps(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			r := newEngine(cfg)
			httpapi.RegisterRoutes(r, deps, cfg)
			if addr == "" {
				addr = cfg.Addr()
			}
			return listenAndServe(ctx, newServer(cfg, addr, r), "chat api")
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "Listen address (default HOST:PORT)")
	return cmd
}
