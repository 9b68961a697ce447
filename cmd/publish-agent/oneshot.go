package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/tbourn/go-publish-agent/internal/http"
	"github.com/tbourn/go-publish-agent/internal/interceptor"
	"github.com/tbourn/go-publish-agent/internal/services"
)

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewSimulateCommand feeds one prompt to the passive callback, as if the
// proxy had just seen it, and prints the outcome.
func NewSimulateCommand(a *app) *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run one prompt through the passive publish callback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(prompt) == "" {
				return errors.New("--prompt is required")
			}
			cfg := a.cfg
			deps, closeDB, err := openDeps(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			// simulated prompts stay out of a running proxy's shared dedup set
			cfg.Interceptor.RedisURL = ""
			c, err := newCaches(cmd.Context(), cfg.Interceptor)
			if err != nil {
				return err
			}
			w := newWatcher(deps, cfg, c)
			out := w.Handle(cmd.Context(), interceptor.Exchange{
				At:       time.Now(),
				Endpoint: interceptor.EndpointGenerate,
				Prompt:   prompt,
				Origin:   "simulate",
			})
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt to classify, e.g. \"publish form 64f1c2a9b3e4d5f6a7b8c9d0\"")
	return cmd
}

// NewTestFormCommand publishes one form through the full pipeline.
func NewTestFormCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test-form <form-id>",
		Short: "Publish one form and print the conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, closeDB, err := openDeps(a.cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			agent, _ := httpapi.NewAgent(deps, a.cfg)
			conv := agent.Publish(cmd.Context(), args[0], "", services.SourceAPI)
			if err := printJSON(cmd, conv); err != nil {
				return err
			}
			if !conv.Published() {
				return fmt.Errorf("form %s not published: %s", args[0], conv.Error())
			}
			return nil
		},
	}
}
