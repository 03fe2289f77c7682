package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dedupeit/internal/config"
	"github.com/JonMunkholm/dedupeit/internal/core"
	"github.com/JonMunkholm/dedupeit/internal/database"
)

// shutdownTimeout bounds how long a finished command waits for run history
// writes to land.
const shutdownTimeout = 5 * time.Second

type runOptions struct {
	serviceURL string
	apiKey     string
	timeout    time.Duration
	maxRows    int
	expand     string
	export     string
	jsonOut    bool
	plain      bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <file.csv>",
		Short: "Deduplicate a CSV file and print the result",
		Long: `Parses the CSV file, sends its records to the dedupe service and prints
every surviving record. Absorbed duplicates are hidden under their
representative unless --expand names their group (or "all").

Flags override the DEDUPE_* and UPLOAD_* environment settings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.serviceURL, "service-url", "", "dedupe service endpoint (default from DEDUPE_SERVICE_URL)")
	f.StringVar(&opts.apiKey, "api-key", "", "dedupe service API key (default from DEDUPE_API_KEY)")
	f.DurationVar(&opts.timeout, "timeout", 0, "dedupe request timeout (default from DEDUPE_TIMEOUT)")
	f.IntVar(&opts.maxRows, "max-rows", 0, "maximum data rows (default from UPLOAD_MAX_ROWS)")
	f.StringVar(&opts.expand, "expand", "none", `groups to expand: "all", "none" or comma separated group ids`)
	f.StringVarP(&opts.export, "export", "o", "", "write the deduplicated rows to this CSV file")
	f.BoolVar(&opts.jsonOut, "json", false, "print the result as JSON")
	f.BoolVar(&opts.plain, "plain", false, "disable colour; mark diffs as [-removed-]{+added+}")
	return cmd
}

// applyTo overrides configuration with flags the user set explicitly.
func (o *runOptions) applyTo(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("service-url") {
		cfg.Dedupe.ServiceURL = o.serviceURL
	}
	if f.Changed("api-key") {
		cfg.Dedupe.APIKey = o.apiKey
	}
	if f.Changed("timeout") {
		cfg.Dedupe.Timeout = o.timeout
	}
	if f.Changed("max-rows") {
		cfg.Upload.MaxRows = o.maxRows
	}
}

func (o *runOptions) run(cmd *cobra.Command, path string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	o.applyTo(cmd, cfg)

	records, columns, err := readCSV(path, cfg.Upload)
	if err != nil {
		return err
	}

	client, err := core.NewClient(core.ClientOptions{
		BaseURL:          cfg.Dedupe.ServiceURL,
		APIKey:           cfg.Dedupe.APIKey,
		Timeout:          cfg.Dedupe.Timeout,
		MaxResponseBytes: cfg.Dedupe.MaxResponseBytes,
	})
	if err != nil {
		return err
	}

	recorder, closeHistory, err := openRecorder(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeHistory()

	orch := core.NewOrchestrator(client, core.WithRunRecorder(recorder))
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := orch.Shutdown(sctx); err != nil {
			slog.Warn("dedupe run did not stop in time", "error", err)
		}
	}()

	submitted, err := orch.Submit(records, columns)
	if err != nil {
		return err
	}
	if !o.jsonOut {
		fmt.Fprintf(cmd.ErrOrStderr(), "Deduplicating %d records from %s...\n", submitted.RecordCount(), path)
	}

	ds, err := orch.Wait(ctx)
	if err != nil {
		return err
	}
	if ds.Status == core.DatasetError {
		return ds.Err
	}

	if o.export != "" {
		if err := exportCSV(o.export, ds); err != nil {
			return err
		}
		if !o.jsonOut {
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s\n", o.export)
		}
	}

	if o.jsonOut {
		return writeRunJSON(cmd, ds)
	}

	out := cmd.OutOrStdout()
	t := newTheme(o.plain)
	fmt.Fprintln(out, renderTable(ds, core.ParseExpansion(ds.Hierarchy, o.expand), t))
	fmt.Fprintln(out)
	fmt.Fprint(out, renderSummary(ds, t))
	return nil
}

func readCSV(path string, limits config.UploadConfig) ([]core.Record, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	records, columns, err := core.ParseCSV(f, core.IngestLimits{
		MaxBytes: limits.MaxFileSize,
		MaxRows:  limits.MaxRows,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return records, columns, nil
}

// openRecorder returns the Postgres history when a database is configured.
func openRecorder(ctx context.Context, dc config.DatabaseConfig) (core.RunRecorder, func(), error) {
	if !dc.Enabled() {
		return core.NopRunRecorder{}, func() {}, nil
	}

	pool, err := database.Connect(ctx, dc)
	if err != nil {
		return nil, nil, err
	}
	pg := core.NewPostgresHistory(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool.Close, nil
}

func exportCSV(path string, ds *core.Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := core.WriteCSV(f, ds); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// runOutput is the --json form of a finished run.
type runOutput struct {
	DatasetID string                    `json:"dataset_id"`
	Status    core.DatasetStatus        `json:"status"`
	Columns   []string                  `json:"columns"`
	Groups    int                       `json:"groups"`
	Summary   core.Summary              `json:"summary"`
	Records   []core.HierarchicalRecord `json:"records"`
}

func writeRunJSON(cmd *cobra.Command, ds *core.Dataset) error {
	data, err := json.MarshalIndent(runOutput{
		DatasetID: ds.ID,
		Status:    ds.Status,
		Columns:   ds.Columns,
		Groups:    ds.Groups,
		Summary:   core.Summarize(ds.Hierarchy),
		Records:   ds.Hierarchy.Tree(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
