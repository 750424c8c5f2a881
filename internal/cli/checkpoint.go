package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alena-kono/ugc-service-2/internal/etl/app"
)

// NewCheckpointCommand groups the watermark maintenance commands.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or change the stored watermark",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored watermark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := app.OpenCheckpoint(rootOpts.cfg, nil)
			if err != nil {
				return err
			}
			defer cp.Close()
			mark, err := cp.Read(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mark.UTC().Format(time.RFC3339Nano))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Delete the stored watermark so the next cycle resyncs everything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := app.OpenCheckpoint(rootOpts.cfg, nil)
			if err != nil {
				return err
			}
			defer cp.Close()
			if err := cp.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "watermark reset")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "set <RFC3339 time>",
		Short:   "Store an explicit watermark",
		Example: "  etl checkpoint set 2024-06-01T00:00:00Z",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mark, err := time.Parse(time.RFC3339Nano, args[0])
			if err != nil {
				return fmt.Errorf("invalid watermark %q: %w", args[0], err)
			}
			cp, err := app.OpenCheckpoint(rootOpts.cfg, nil)
			if err != nil {
				return err
			}
			defer cp.Close()
			if err := cp.Write(cmd.Context(), mark.UTC()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "watermark set to %s\n", mark.UTC().Format(time.RFC3339Nano))
			return nil
		},
	})

	return cmd
}
