package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Nathan-Paranhos/AithosRag-sub003/cache"
	"github.com/Nathan-Paranhos/AithosRag-sub003/storage"
)

func newCacheCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect persisted caches",
	}
	cmd.AddCommand(newCacheInspectCmd(f), newCacheListCmd(f))
	return cmd
}

func newCacheInspectCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <name>",
		Short: "Show the persisted snapshot of a cache",
		Long: `Read the snapshot a cache last persisted (storage key cache_<name>) and
list its entries with size, priority, tags and expiry.

Examples:
  resilctl cache inspect api
  resilctl cache inspect api -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := f.load()
			if err != nil {
				return err
			}
			store, err := storage.Open(cfg.Storage.Config)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := cache.ReadSnapshot(cmd.Context(), store, args[0])
			if err != nil {
				return fmt.Errorf("read snapshot of cache %q: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if f.json() {
				return printJSON(out, snap)
			}

			var total int64
			rows := make([][]string, 0, len(snap.Entries))
			for _, e := range snap.Entries {
				total += e.Size
				expires := "never"
				if e.TTL() > 0 {
					expires = when(e.CreatedAt.Add(e.TTL()))
				}
				rows = append(rows, []string{
					e.Key,
					humanize.IBytes(uint64(e.Size)),
					e.Priority.String(),
					strings.Join(e.Tags, ","),
					strconv.FormatInt(e.AccessCount, 10),
					expires,
					strconv.FormatBool(e.Compressed),
				})
			}
			printPairs(out, [][2]string{
				{"Cache", args[0]},
				{"Written", when(snap.Timestamp)},
				{"Entries", strconv.Itoa(len(snap.Entries))},
				{"Size", humanize.IBytes(uint64(total))},
			})
			fmt.Fprintln(out)
			printTable(out, []string{"Key", "Size", "Priority", "Tags", "Accesses", "Expires", "Compressed"}, rows)
			return nil
		},
	}
}

func newCacheListCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List caches that have a persisted snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := f.load()
			if err != nil {
				return err
			}
			store, err := storage.Open(cfg.Storage.Config)
			if err != nil {
				return err
			}
			defer store.Close()

			keys, err := store.Keys(cmd.Context(), storage.CacheKey(""))
			if err != nil {
				return err
			}
			names := make([]string, 0, len(keys))
			for _, k := range keys {
				names = append(names, strings.TrimPrefix(k, storage.CacheKey("")))
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			if f.json() {
				return printJSON(out, names)
			}
			rows := make([][]string, 0, len(names))
			for _, n := range names {
				rows = append(rows, []string{n})
			}
			printTable(out, []string{"Name"}, rows)
			return nil
		},
	}
}
