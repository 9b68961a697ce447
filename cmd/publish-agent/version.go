package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// NewVersionCommand prints the build version. It skips configuration so it
// works without an environment.
func NewVersionCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// no config or logger needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "":
				fmt.Fprintf(cmd.OutOrStdout(), "publish-agent %s (%s)\n", version, runtime.Version())
			case "json":
				b, err := json.MarshalIndent(map[string]string{"version": version, "go": runtime.Version()}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
			default:
				return fmt.Errorf("invalid output format: %s", output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format; 'json' or empty")
	return cmd
}
