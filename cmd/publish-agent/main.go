// Command publish-agent runs the form publishing agent: the chat API, the
// passive interceptor proxy in front of the inference server, and the PDF
// metadata service, plus one-shot commands for manual checks.
package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-publish-agent/internal/config"
	"github.com/tbourn/go-publish-agent/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

// app carries the state PersistentPreRunE prepares for every subcommand.
type app struct {
	logLevel string
	envFile  string
	cfg      config.Config
}

// NewRootCommand wires the subcommands and the shared start-up: .env file,
// configuration and logger, in that order.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "publish-agent",
		Short: "Form publishing agent",
		Long: `publish-agent detects requests to publish forms, in chat or in passing
conversation with a local model, registers the form on the verifiable
registry and notifies the recipient groups mentioned in the request.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			sysutil.SetupLogger(cmd.ErrOrStderr(),
				sysutil.FirstNonEmpty(a.logLevel, cfg.LogLevel),
				cfg.LogPretty || sysutil.IsTruthy(os.Getenv("DEV")),
				cmd.Name())
			log.Debug().Str("version", version).Str("command", cmd.Name()).Msg("debug logging enabled")
			return nil
		},
	}

	root.AddCommand(
		NewServeCommand(a),
		NewPassiveCommand(a),
		NewPDFCommand(a),
		NewSimulateCommand(a),
		NewTestFormCommand(a),
		NewVersionCommand(),
	)

	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"Log level (debug,info,warn,error); overrides LOG_LEVEL")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env",
		"Dotenv file loaded before configuration; a missing file is ignored")
	return root
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		log.Fatal().Err(err).Msg("could not execute command")
	}
}
