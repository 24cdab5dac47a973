// Package recovery runs the one-shot startup sweep that reconciles rows left
// "downloading" by a process that never reached a terminal or paused state
// (spec §4.5). Must run exactly once, before the Scheduler starts.
package recovery

import (
	"time"

	"downloaderd/internal/logger"
	"downloaderd/internal/storage"
)

// Run marks every row still "downloading" as failed with
// interrupted_by_restart, and logs the count for observability.
func Run(store *storage.Store) error {
	n, err := store.RecoverInterrupted(time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Log.Warn().Int64("count", n).Msg("recovered_interrupted_downloads")
	} else {
		logger.Log.Info().Msg("no_interrupted_downloads_found")
	}
	return nil
}
