package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/tbourn/go-publish-agent/internal/http"
	"github.com/tbourn/go-publish-agent/internal/pdfmeta"
)

// NewPDFCommand runs the PDF metadata and conversion service.
func NewPDFCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "pdf",
		Short: "Run the PDF metadata and page image service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			defer setupTracing(ctx, cfg, "pdf")()

			if err := os.MkdirAll(cfg.PDF.OutputDir, 0o755); err != nil {
				return err
			}
			renderer := pdfmeta.Renderer{Path: cfg.PDF.PdftoppmPath, DPI: cfg.PDF.DPI}
			if !renderer.Available() {
				log.Warn().Str("pdftoppm", cfg.PDF.PdftoppmPath).Msg("pdftoppm not found; page conversion will fail")
			}

			r := newEngine(cfg)
			httpapi.RegisterPDFRoutes(r, renderer, cfg)
			if addr == "" {
				addr = cfg.PDFAddr()
			}
			return listenAndServe(ctx, newServer(cfg, addr, r), "pdf service")
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "Listen address (default HOST:PDF_PORT)")
	return cmd
}
