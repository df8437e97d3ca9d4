// outboxctl is an operator tool for inspecting and repairing an outbox queue
// kept in a SQLite file. It lists queued operations, exports the full queue
// as JSON, applies conflict resolutions, and resets or discards stuck items.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	outboxkit "github.com/c0deZ3R0/go-outbox-kit"
	"github.com/c0deZ3R0/go-outbox-kit/logging"
	"github.com/c0deZ3R0/go-outbox-kit/storage/sqlite"
)

var (
	flagDB     string
	flagConfig string
	flagState  string
)

func main() {
	root := &cobra.Command{
		Use:           "outboxctl",
		Short:         "Inspect and repair an offline outbox queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagDB, "db", "", "path to the SQLite queue file")
	pf.StringVar(&flagConfig, "config", "", "path to a TOML config file")
	normalizeFlags(pf)

	root.AddCommand(listCmd(), exportCmd(), resetCmd(), discardCmd(), resolveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func normalizeFlags(pf *pflag.FlagSet) {
	pf.SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(name)
	})
}

// openOutbox resolves config, initializes logging, and opens the queue file.
func openOutbox(ctx context.Context) (*outboxkit.Outbox, func(), error) {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	if flagDB != "" {
		cfg.DB = flagDB
	}
	if cfg.DB == "" {
		return nil, nil, fmt.Errorf("no queue file given (use --db or the config file)")
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	store, err := sqlite.NewWithDataSource(cfg.DB)
	if err != nil {
		return nil, nil, err
	}

	outbox, err := outboxkit.Open(ctx, store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return outbox, func() { store.Close() }, nil
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			outbox, closeFn, err := openOutbox(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			var ops []outboxkit.QueuedOperation
			if flagState != "" {
				ops = outbox.ListState(outboxkit.State(flagState))
			} else {
				ops = outbox.All()
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATE\tRETRIES\tENQUEUED\tLAST ERROR")
			for _, op := range ops {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					op.ID, op.Name, op.State, op.RetryCount,
					op.EnqueuedAt.Format("2006-01-02 15:04:05"), op.LastError)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&flagState, "state", "", "filter by state (queued, in_flight, awaiting_resolution, terminal)")
	return cmd
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export the full queue as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			outbox, closeFn, err := openOutbox(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(outbox.All())
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <operation-id>",
		Short: "Return a stuck operation to the queue with a zero retry count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			outbox, closeFn, err := openOutbox(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := outbox.Reset(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("reset", args[0])
			return nil
		},
	}
}

func discardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <operation-id>",
		Short: "Remove an operation from the queue permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			outbox, closeFn, err := openOutbox(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := outbox.Remove(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("discarded", args[0])
			return nil
		},
	}
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <operation-id> <keep_local|keep_server|merge|retry|discard>",
		Short: "Apply a resolution to a conflicted operation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			outbox, closeFn, err := openOutbox(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			resolver, err := outboxkit.NewResolver(outbox, nil)
			if err != nil {
				return err
			}

			effect, err := resolver.Resolve(ctx, args[0], outboxkit.Resolution(args[1]))
			if err != nil {
				return err
			}
			if effect.AlreadyResolved {
				fmt.Println("already resolved:", args[0])
				return nil
			}
			if effect.NewOperationID != "" {
				fmt.Println("re-enqueued as", effect.NewOperationID)
			} else {
				fmt.Println("resolved", args[0])
			}
			return nil
		},
	}
}
