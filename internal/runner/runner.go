// Package runner drives one complete fetch run: take the run lock,
// load the seen state, execute every enabled mode, persist state and
// queued stat updates, and fire the lifecycle webhooks.
package runner

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Teqed/FediFetcher-sub000/internal/config"
	"github.com/Teqed/FediFetcher-sub000/internal/database"
	"github.com/Teqed/FediFetcher-sub000/internal/fediverse"
	"github.com/Teqed/FediFetcher-sub000/internal/importer"
	"github.com/Teqed/FediFetcher-sub000/internal/lockfile"
	"github.com/Teqed/FediFetcher-sub000/internal/logger"
	"github.com/Teqed/FediFetcher-sub000/internal/peers"
	"github.com/Teqed/FediFetcher-sub000/internal/statestore"
	"github.com/Teqed/FediFetcher-sub000/internal/urlparse"
	"github.com/Teqed/FediFetcher-sub000/internal/walker"
	"github.com/Teqed/FediFetcher-sub000/internal/webhook"
)

// InstanceManager hands out home and peer instances for a run.
type InstanceManager interface {
	Home(server, token string) *fediverse.Instance
	HomeWithToken(server, token string) *fediverse.Instance
	Instance(ctx context.Context, server string) *fediverse.Instance
}

// Runner executes fetch runs against one home server. It may be
// reused across runs; per-run state (lock, seen state, counters) lives
// on the run itself.
type Runner struct {
	cfg     *config.Config
	log     logger.Interface
	manager InstanceManager
	parser  *urlparse.Parser
	cache   database.StatusCache
	stats   database.StatsSink
}

// New assembles a runner from explicit collaborators.
func New(cfg *config.Config, log logger.Interface, manager InstanceManager, parser *urlparse.Parser, cache database.StatusCache, stats database.StatsSink) *Runner {
	return &Runner{
		cfg:     cfg,
		log:     log.WithComponent("runner"),
		manager: manager,
		parser:  parser,
		cache:   cache,
		stats:   stats,
	}
}

// Build wires a runner with production collaborators. A configured but
// unreachable database degrades to an in-memory cache without stat
// writeback, logged once. The returned cleanup closes the database
// pool and must be called when the process is done running.
func Build(ctx context.Context, cfg *config.Config, log logger.Interface) (*Runner, func()) {
	cache := database.StatusCache(database.NewMemoryCache())
	stats := database.StatsSink(database.NoopStatsWriter{})
	cleanup := func() {}

	if cfg.HasDatabase() {
		db, err := database.Connect(cfg.Database)
		if err != nil {
			log.Warn("Database unavailable, running with in-memory cache", "error", err)
		} else {
			repo := database.NewStatusRepository(db, log)
			if err := repo.EnsureSchema(ctx); err != nil {
				log.Warn("Failed to prepare cache schema, running with in-memory cache", "error", err)
				_ = database.Close(db)
			} else {
				cache = repo
				stats = database.NewStatusStatsWriter(db, log)
				cleanup = func() { _ = database.Close(db) }
			}
		}
	}

	pool := peers.NewPool(peers.PoolOptions{
		Timeout: cfg.HTTPTimeoutDuration(),
		Tokens:  cfg.ExternalTokens,
		Logger:  log,
	})
	manager := fediverse.NewManager(pool, log)

	return New(cfg, log, manager, urlparse.New(), cache, stats), cleanup
}

// Run executes one fetch run. The returned summary is always non-nil.
// A non-nil error means the run could not start or could not persist
// its state; mode failures are recorded in the summary instead.
func (r *Runner) Run(ctx context.Context) (summary *Summary, err error) {
	runID := uuid.NewString()
	log := r.log.WithRunID(runID)
	notifier := webhook.New(runID, log)

	summary = newSummary(runID, r.cfg.Server)

	lock, lockErr := lockfile.Acquire(r.cfg.LockFile, r.cfg.LockTTL(), log)
	if lockErr != nil {
		summary.fail(lockErr)
		notifier.Ping(ctx, r.cfg.OnFail)
		return summary, fmt.Errorf("failed to acquire run lock: %w", lockErr)
	}
	defer lock.Release()

	store := statestore.New(r.cfg.StateDir, log)
	if loadErr := store.Load(r.cfg.RememberUsersHorizon()); loadErr != nil {
		summary.fail(loadErr)
		notifier.Ping(ctx, r.cfg.OnFail)
		return summary, fmt.Errorf("failed to load state: %w", loadErr)
	}

	notifier.Ping(ctx, r.cfg.OnStart)

	// Parachute: a panic outside the mode boundaries still saves the
	// seen state and reports the failure before the lock is released.
	defer func() {
		if rec := recover(); rec != nil {
			panicErr := fmt.Errorf("run panicked: %v", rec)
			log.Error("Run aborted", "error", panicErr)
			if saveErr := store.Save(); saveErr != nil {
				log.Error("Parachute state save failed", "error", saveErr)
			}
			summary.fail(panicErr)
			notifier.Ping(ctx, r.cfg.OnFail)
			err = panicErr
		}
	}()

	home := r.manager.Home(r.cfg.Server, r.cfg.AdminToken())
	imp := importer.New(home, r.cache, r.stats, log)

	rn := &run{
		cfg:      r.cfg,
		log:      log,
		manager:  r.manager,
		parser:   r.parser,
		cache:    r.cache,
		store:    store,
		home:     home,
		walker:   walker.New(home, r.manager, r.parser, store.Replies, log),
		importer: imp,
		summary:  summary,
		started:  summary.StartedAt,
	}
	rn.execute(ctx)

	if saveErr := store.Save(); saveErr != nil {
		log.Error("Failed to save state", "error", saveErr)
		summary.fail(saveErr)
		notifier.Ping(ctx, r.cfg.OnFail)
		return summary, fmt.Errorf("failed to save state: %w", saveErr)
	}

	if commitErr := imp.Commit(ctx); commitErr != nil {
		log.Error("Failed to commit stat updates", "error", commitErr)
	}

	summary.finish()
	notifier.Ping(ctx, r.cfg.OnDone)

	log.WithDuration(summary.Duration()).Info("Run finished",
		"modes", len(summary.Modes),
		"added", summary.Added,
		"seen", summary.Seen,
		"failed", summary.Failed,
	)
	return summary, nil
}
