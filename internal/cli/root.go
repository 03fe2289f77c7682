// Package cli implements dedupectl, a terminal client that runs a CSV file
// through the dedupe service and prints the reviewed result.
package cli

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dedupeit/internal/core"
	"github.com/JonMunkholm/dedupeit/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootOptions struct {
	envFile string
	verbose bool
}

// NewRootCmd builds the dedupectl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "dedupectl",
		Short: "Deduplicate CSV records and review the merge",
		Long: `dedupectl uploads a CSV file to the dedupe service, folds the
duplicates it reports under their representative record and prints the
result with word-level diffs of every merged value.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.init(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load if present")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging on stderr")

	cmd.AddCommand(newRunCmd(), newRunsCmd(), newVersionCmd())
	return cmd
}

func (o *rootOptions) init(cmd *cobra.Command) error {
	if o.envFile != "" {
		// Load keeps variables already set in the environment.
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	level := "warn"
	if o.verbose {
		level = "debug"
	}
	slog.SetDefault(logging.New(cmd.ErrOrStderr(), level, "text"))
	return nil
}

// Execute runs the root command, cancelling on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// ErrorText formats err for the terminal, preferring the catalogued
// message and action when one exists.
func ErrorText(err error) string {
	if core.IsUserFacing(err) {
		return "Error: " + core.FormatUserError(err)
	}
	return "Error: " + err.Error()
}
