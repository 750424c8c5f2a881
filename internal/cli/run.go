package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alena-kono/ugc-service-2/internal/etl/app"
	"github.com/alena-kono/ugc-service-2/internal/etl/catalog"
	"github.com/alena-kono/ugc-service-2/internal/etl/index"
	"github.com/alena-kono/ugc-service-2/internal/etl/transform"
)

// NewRunCommand creates the long-running sync command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run synchronization cycles until interrupted",
		Long: `Run synchronization cycles forever, sleeping etl.interval between them.

Serves /metrics and /health/* on metrics.port when metrics are enabled and,
with kafka enabled, wakes early on sync-trigger messages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(rootOpts.cfg, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			slog.Info("starting synchronizer",
				"interval", rootOpts.cfg.ETL.Interval,
				"batch_size", rootOpts.cfg.ETL.BatchSize,
				"checkpoint", rootOpts.cfg.Checkpoint.Backend,
				"kafka", rootOpts.cfg.Kafka.Enabled,
			)
			if err := a.Run(ctx); err != nil {
				return err
			}
			slog.Info("synchronizer stopped")
			return nil
		},
	}
}

// OnceOptions holds flags for the once command.
type OnceOptions struct {
	*RootOptions
	DryRun bool
}

// NewOnceCommand creates the single-cycle command.
func NewOnceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OnceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single synchronization cycle and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(opts.cfg, app.Options{DryRun: opts.DryRun})
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("cycle %s: %w", summary.CycleID, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "index into memory and keep the stored watermark")

	return cmd
}

// NewSchemaCommand creates the command that only creates the indexes.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the movies, genres and persons indexes if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			es, err := index.NewElastic(rootOpts.cfg.Elastic)
			if err != nil {
				return err
			}
			defer es.Stop()
			return loadSchemas(cmd.Context(), es, cmd)
		},
	}
}

func loadSchemas(ctx context.Context, idx index.Index, cmd *cobra.Command) error {
	entries, err := catalog.Movies(idx, catalog.Options{Policy: transform.Skip})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := e.Loader.LoadSchema(ctx); err != nil {
			return fmt.Errorf("loading schema of %s: %w", e.Loader.Index(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s ready\n", e.Loader.Index())
	}
	return nil
}
