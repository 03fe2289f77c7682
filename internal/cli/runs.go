package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dedupeit/internal/admin"
	"github.com/JonMunkholm/dedupeit/internal/config"
	"github.com/JonMunkholm/dedupeit/internal/core"
	"github.com/JonMunkholm/dedupeit/internal/database"
)

func newRunsCmd() *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent dedupe runs from the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHistory(cmd, func(h *core.PostgresHistory, _ core.DBTX) error {
				runs, err := h.RecentRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOut {
					data, err := json.MarshalIndent(runs, "", "  ")
					if err != nil {
						return fmt.Errorf("failed to marshal runs: %w", err)
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return err
				}
				return writeRunsTable(cmd, runs)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output runs as JSON")

	cmd.AddCommand(newRunsResetCmd())
	return cmd
}

func newRunsResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to delete run history without --yes")
			}
			return withHistory(cmd, func(_ *core.PostgresHistory, db core.DBTX) error {
				r := &admin.ResetHistory{DB: db}
				if err := r.ResetAll(cmd.Context()); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "Run history cleared")
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

// withHistory connects to the configured database for the duration of fn.
func withHistory(cmd *cobra.Command, fn func(*core.PostgresHistory, core.DBTX) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled() {
		return fmt.Errorf("set DATABASE_URL to use run history: %w", core.ErrHistoryDisabled)
	}

	pool, err := database.Connect(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	h := core.NewPostgresHistory(pool)
	if err := h.EnsureSchema(cmd.Context()); err != nil {
		return err
	}
	return fn(h, pool)
}

func writeRunsTable(cmd *cobra.Command, runs []core.RunRecord) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATASET\tSTATUS\tRECORDS\tGROUPS\tABSORBED\tFINISHED\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.DatasetID, r.Status, r.Records, r.Groups, r.Absorbed,
			r.FinishedAt.Local().Format(time.DateTime), r.ErrorCode)
	}
	return w.Flush()
}
