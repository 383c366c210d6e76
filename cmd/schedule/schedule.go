// Package schedule implements the daemon command that runs fetch passes
// on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/Teqed/FediFetcher-sub000/cmd/common"
	"github.com/Teqed/FediFetcher-sub000/internal/lockfile"
	"github.com/Teqed/FediFetcher-sub000/internal/logger"
	"github.com/Teqed/FediFetcher-sub000/internal/runner"
)

const (
	// defaultCronSpec runs a pass at the top of every hour.
	defaultCronSpec = "0 * * * *"

	shutdownTimeout = 10 * time.Second

	errorChannelBufferSize = 1
)

// Service runs fetch passes on a cron schedule and remembers the most
// recent summary for the status endpoints.
type Service struct {
	log    logger.Interface
	runner *runner.Runner
	cron   *cron.Cron

	mu   sync.RWMutex
	last *runner.Summary
}

// NewService creates a scheduler service. Start registers the schedule.
func NewService(log logger.Interface, r *runner.Runner) *Service {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Service{
		log:    log,
		runner: r,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
	}
}

// Start registers spec and starts the cron loop.
func (s *Service) Start(ctx context.Context, spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	s.cron.Start()
	s.log.Info("Scheduler started", "cron", spec)
	return nil
}

// Stop halts the cron loop and waits for an in-flight pass to finish or
// ctx to expire.
func (s *Service) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown timed out: %w", ctx.Err())
	}
}

// Last returns the most recent run summary, or nil before the first pass.
func (s *Service) Last() *runner.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// runOnce executes a single pass. Finding the lock held is not an error
// in daemon mode, the previous tick is simply still running.
func (s *Service) runOnce(ctx context.Context) {
	summary, err := s.runner.Run(ctx)
	if summary != nil {
		s.mu.Lock()
		s.last = summary
		s.mu.Unlock()
	}

	switch {
	case err == nil:
	case errors.Is(err, lockfile.ErrHeld):
		s.log.Info("Previous run still holds the lock, skipping this tick")
	default:
		s.log.Error("Scheduled run failed", "error", err)
	}
}

// Command returns the schedule command for use in the root command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run fetch passes on a cron schedule",
		Long: `Start a long-running daemon that executes fetch passes on a cron
schedule. A tick that finds the previous pass still holding the run
lock is skipped. The daemon runs until interrupted with Ctrl+C.`,
		RunE: runSchedule,
	}

	cmd.Flags().String("cron", defaultCronSpec, "five-field cron expression for fetch passes")
	cmd.Flags().String("status-addr", "", "listen address for the status HTTP server (disabled when empty)")

	return cmd
}

// runSchedule executes the schedule command.
func runSchedule(cmd *cobra.Command, _ []string) error {
	deps, err := common.FromCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	spec, err := cmd.Flags().GetString("cron")
	if err != nil {
		return fmt.Errorf("read cron flag: %w", err)
	}
	statusAddr, err := cmd.Flags().GetString("status-addr")
	if err != nil {
		return fmt.Errorf("read status-addr flag: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, cleanup := runner.Build(ctx, deps.Config, deps.Logger)
	defer cleanup()

	svc := NewService(deps.Logger, r)
	if startErr := svc.Start(ctx, spec); startErr != nil {
		return startErr
	}

	// Optional status server
	var server *http.Server
	errChan := make(chan error, errorChannelBufferSize)
	if statusAddr != "" {
		server = newStatusServer(deps.Logger, svc, statusAddr)
		deps.Logger.Info("Starting status server", "addr", statusAddr)
		go func() {
			if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				errChan <- serveErr
			}
		}()
	}

	// Wait for interrupt signal or server error
	select {
	case serveErr := <-errChan:
		deps.Logger.Error("Status server error", "error", serveErr)
		return fmt.Errorf("status server: %w", serveErr)
	case <-ctx.Done():
		deps.Logger.Info("Shutdown signal received")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			deps.Logger.Error("Failed to stop status server", "error", shutdownErr)
		}
	}
	if stopErr := svc.Stop(shutdownCtx); stopErr != nil {
		return stopErr
	}

	deps.Logger.Info("Scheduler stopped")
	return nil
}
