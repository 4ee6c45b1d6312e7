package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Nathan-Paranhos/AithosRag-sub003/connectivity"
	"github.com/Nathan-Paranhos/AithosRag-sub003/transport"
)

func newHealthCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the API health endpoint",
		Long: `Check the configured health endpoint once, with the configured timeout
and retries, and report reachability, latency and connection quality.

Examples:
  # Check using the defaults and RESILIENCE_* overrides
  resilctl health

  # Output as JSON
  resilctl health -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := f.load()
			if err != nil {
				return err
			}
			client := transport.New(
				transport.WithBaseURL(cfg.API.BaseURL),
				transport.WithTimeout(cfg.API.Timeout),
				transport.WithLogger(logger),
			)
			monitor, err := connectivity.New(client,
				connectivity.WithConfig(cfg.Connectivity),
				connectivity.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			defer monitor.Stop()

			st := monitor.Check(cmd.Context())
			out := cmd.OutOrStdout()
			if f.json() {
				return printJSON(out, st)
			}
			latency := "-"
			if st.APIAvailable {
				latency = st.Latency.String()
			}
			printPairs(out, [][2]string{
				{"Health URL", client.Resolve(cfg.Connectivity.HealthURL)},
				{"Online", strconv.FormatBool(st.IsOnline)},
				{"API Available", strconv.FormatBool(st.APIAvailable)},
				{"Latency", latency},
				{"Quality", string(st.Quality)},
				{"Error", orDash(st.Error)},
			})
			if !st.APIAvailable {
				return fmt.Errorf("api unreachable at %s", client.Resolve(cfg.Connectivity.HealthURL))
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
