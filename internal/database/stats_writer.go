package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/Teqed/FediFetcher-sub000/internal/logger"
)

const (
	statusStatsExistsQuery = `SELECT EXISTS(SELECT 1 FROM public.status_stats WHERE status_id = $1)`

	statusStatsUpdateQuery = `
		UPDATE public.status_stats
		SET reblogs_count = $2, favourites_count = $3, updated_at = now()
		WHERE status_id = $1`

	statusStatsInsertQuery = `
		INSERT INTO public.status_stats (status_id, reblogs_count, favourites_count, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())`
)

type statsUpdate struct {
	localID    string
	reblogs    int
	favourites int
}

// StatusStatsWriter buffers engagement counters for locally imported
// statuses and writes them to public.status_stats in one transaction.
// The table belongs to the home server, so failed flushes are logged
// and dropped rather than allowed to abort a run.
type StatusStatsWriter struct {
	db     *sqlx.DB
	logger logger.Interface

	mu    sync.Mutex
	queue []statsUpdate
}

// NewStatusStatsWriter creates a writer over an open connection.
func NewStatusStatsWriter(db *sqlx.DB, log logger.Interface) *StatusStatsWriter {
	return &StatusStatsWriter{
		db:     db,
		logger: log.WithComponent("stats_writer"),
	}
}

// Queue records a pending counter update. Updates where both counters
// are zero carry no information and are dropped.
func (w *StatusStatsWriter) Queue(localID string, reblogs, favourites int) {
	if localID == "" || (reblogs <= 0 && favourites <= 0) {
		return
	}
	w.mu.Lock()
	w.queue = append(w.queue, statsUpdate{localID: localID, reblogs: reblogs, favourites: favourites})
	w.mu.Unlock()
}

// Pending returns the number of queued updates.
func (w *StatusStatsWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Commit applies queued updates in queue order, so a duplicate id keeps
// its last queued value. The buffer is cleared whether or not the flush
// succeeds.
func (w *StatusStatsWriter) Commit(ctx context.Context) error {
	w.mu.Lock()
	batch := w.queue
	w.queue = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := w.flush(ctx, batch); err != nil {
		w.logger.Error("Failed to write status stats", "error", err, "updates", len(batch))
		return nil
	}
	w.logger.Info("Wrote status stats", "updates", len(batch))
	return nil
}

func (w *StatusStatsWriter) flush(ctx context.Context, batch []statsUpdate) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, update := range batch {
		var exists bool
		if err := tx.GetContext(ctx, &exists, statusStatsExistsQuery, update.localID); err != nil {
			return fmt.Errorf("failed to check status_stats for %s: %w", update.localID, err)
		}
		query := statusStatsInsertQuery
		if exists {
			query = statusStatsUpdateQuery
		}
		if _, err := tx.ExecContext(ctx, query, update.localID, update.reblogs, update.favourites); err != nil {
			return fmt.Errorf("failed to write status_stats for %s: %w", update.localID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status stats: %w", err)
	}
	return nil
}

// NoopStatsWriter satisfies StatsSink when no database is configured.
type NoopStatsWriter struct{}

// Queue discards the update.
func (NoopStatsWriter) Queue(string, int, int) {}

// Commit does nothing.
func (NoopStatsWriter) Commit(context.Context) error { return nil }

// Pending always reports an empty queue.
func (NoopStatsWriter) Pending() int { return 0 }
