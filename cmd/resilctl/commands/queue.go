package commands

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	resilience "github.com/Nathan-Paranhos/AithosRag-sub003"
	"github.com/Nathan-Paranhos/AithosRag-sub003/syncqueue"
)

func newQueueCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain the offline sync queue",
	}
	cmd.AddCommand(newQueueListCmd(f), newQueueDrainCmd(f))
	return cmd
}

func newQueueListCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending sync items in drain order",
		Long: `List the items persisted in the sync queue of the configured namespace,
in the order a drain would attempt them.

Examples:
  resilctl queue list
  RESILIENCE_STORAGE_NAMESPACE=chat resilctl queue list -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := f.load()
			if err != nil {
				return err
			}
			layer, err := resilience.New(cfg, resilience.WithLogger(logger))
			if err != nil {
				return err
			}
			defer layer.Close()

			items := layer.Queue.Items()
			out := cmd.OutOrStdout()
			if f.json() {
				return printJSON(out, items)
			}
			printItems(cmd, items)
			return nil
		},
	}
}

func printItems(cmd *cobra.Command, items []syncqueue.Item) {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		scheduled := "now"
		if it.ScheduledAt != nil {
			scheduled = when(*it.ScheduledAt)
		}
		rows = append(rows, []string{
			it.ID,
			string(it.Type),
			string(it.Action),
			orDash(it.RecordID()),
			fmt.Sprintf("%d/%d", it.Retries, it.MaxRetries),
			when(it.CreatedAt),
			scheduled,
			orDash(it.LastError),
		})
	}
	printTable(cmd.OutOrStdout(), []string{"ID", "Type", "Action", "Record", "Retries", "Created", "Scheduled", "Last Error"}, rows)
}

func newQueueDrainCmd(f *flags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay pending sync items against the API",
		Long: `Check the API and, when it is reachable, attempt every eligible item in
the sync queue once. Items that fail transiently stay queued with their
retry schedule; items that fail permanently are dropped.

Examples:
  resilctl queue drain

  # Skip the health check
  resilctl queue drain --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := f.load()
			if err != nil {
				return err
			}
			layer, err := resilience.New(cfg, resilience.WithLogger(logger))
			if err != nil {
				return err
			}
			defer layer.Close()

			ctx := cmd.Context()
			if force {
				layer.Queue.SetOnline(true)
			} else if st := layer.Monitor.Check(ctx); !st.Reachable() {
				return fmt.Errorf("api unreachable: %s", orDash(st.Error))
			}

			res, err := layer.Queue.TriggerSync(ctx)
			if err != nil {
				return err
			}
			logger.Debug("drain finished", slog.Int("synced", res.Synced), slog.Int("remaining", res.Remaining))

			out := cmd.OutOrStdout()
			if f.json() {
				return printJSON(out, res)
			}
			printPairs(out, [][2]string{
				{"Attempted", strconv.Itoa(res.Attempted)},
				{"Synced", strconv.Itoa(res.Synced)},
				{"Retried", strconv.Itoa(res.Retried)},
				{"Failed", strconv.Itoa(res.Failed)},
				{"Remaining", strconv.Itoa(res.Remaining)},
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Drain without probing the health endpoint")
	return cmd
}
