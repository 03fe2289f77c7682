// Package admin provides administrative operations for the history database.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/dedupeit/internal/core"
)

// ResetTimeout is the maximum duration for database reset operations.
const ResetTimeout = 30 * time.Second

// ResetHistory clears stored dedupe runs.
type ResetHistory struct {
	DB core.DBTX
}

type resetFn func(ctx context.Context) error

// ResetAll truncates the run history table.
// This is a destructive operation - use with caution.
func (r *ResetHistory) ResetAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	return r.runResets(ctx, []resetFn{
		r.truncate("dedupe_runs"),
	})
}

func (r *ResetHistory) truncate(table string) resetFn {
	return func(ctx context.Context) error {
		if _, err := r.DB.Exec(ctx, "TRUNCATE TABLE "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
		return nil
	}
}

func (r *ResetHistory) runResets(ctx context.Context, resets []resetFn) error {
	for _, reset := range resets {
		if err := reset(ctx); err != nil {
			return err
		}
	}
	return nil
}
