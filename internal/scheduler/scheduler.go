package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ethanadams/s3client/internal/config"
	"github.com/ethanadams/s3client/internal/jitter"
	"github.com/ethanadams/s3client/internal/logging"
)

// CycleRunner executes one soak cycle (upload, download, or delete)
// against the configured bucket. cmd/s3soak supplies the concrete
// implementation wired to an s3multipart.MultipartUpload / s3xfer.Executor.
type CycleRunner interface {
	RunCycle(ctx context.Context, cycle config.SoakCycle) error
}

// Scheduler drives config.Config's soak cycles on their cron schedules,
// mirroring the teacher's cron-backed test scheduler but against soak
// cycles instead of synthetic test definitions.
type Scheduler struct {
	cron   *cron.Cron
	runner CycleRunner
	config *config.Config
}

// New creates a Scheduler for the given config and runner.
func New(cfg *config.Config, runner CycleRunner) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		config: cfg,
	}
}

// Start schedules every enabled soak cycle and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	enabledCount := 0

	for _, cycle := range s.config.Soak {
		if !cycle.Enabled {
			logging.Info("Skipping disabled soak cycle: %s", cycle.Name)
			continue
		}

		cycleCopy := cycle

		effectiveJitter := cycleCopy.GetCycleJitter(s.config.Jitter)
		var maxJitter time.Duration
		if effectiveJitter.IsEnabled() {
			scheduleInterval, _ := config.ParseCronInterval(cycleCopy.Schedule)
			maxJitter, _ = effectiveJitter.ParseMaxJitter(scheduleInterval)
		}
		cycleMaxJitter := maxJitter

		entryID, err := s.cron.AddFunc(cycle.Schedule, func() {
			if cycleMaxJitter > 0 {
				if err := jitter.Apply(ctx, cycleMaxJitter, fmt.Sprintf("soak cycle %s", cycleCopy.Name)); err != nil {
					logging.Warn("Soak cycle %s jitter interrupted: %v", cycleCopy.Name, err)
					return
				}
			}

			logging.Info("Running soak cycle: %s (action: %s)", cycleCopy.Name, cycleCopy.Action)
			if err := s.runner.RunCycle(ctx, cycleCopy); err != nil {
				logging.Error("Soak cycle %s failed: %v", cycleCopy.Name, err)
			}
		})
		if err != nil {
			return err
		}

		enabledCount++
		if cycleMaxJitter > 0 {
			logging.Info("Scheduled soak cycle: %s (action: %s, schedule: %s, jitter: max %v, entry ID: %d)",
				cycle.Name, cycle.Action, cycle.Schedule, cycleMaxJitter, entryID)
		} else {
			logging.Info("Scheduled soak cycle: %s (action: %s, schedule: %s, entry ID: %d)",
				cycle.Name, cycle.Action, cycle.Schedule, entryID)
		}
	}

	if enabledCount == 0 {
		logging.Warn("No soak cycles enabled in configuration")
	} else {
		logging.Info("Successfully scheduled %d soak cycle(s)", enabledCount)
	}

	s.cron.Start()
	logging.Info("Scheduler started")
	return nil
}

// Stop drains in-flight cron jobs and stops the scheduler.
func (s *Scheduler) Stop() {
	logging.Info("Stopping scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	logging.Info("Scheduler stopped")
}

// RunAll runs every enabled soak cycle once, concurrently, bounded to
// four in flight at a time, and returns the first error encountered.
// Used for the -once smoke-run path instead of the cron loop.
func (s *Scheduler) RunAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, cycle := range s.config.Soak {
		if !cycle.Enabled {
			continue
		}
		cycleCopy := cycle
		g.Go(func() error {
			logging.Info("Running soak cycle once: %s (action: %s)", cycleCopy.Name, cycleCopy.Action)
			return s.runner.RunCycle(gctx, cycleCopy)
		})
	}

	return g.Wait()
}

// RunNow immediately runs a named soak cycle, bypassing its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, cycle := range s.config.Soak {
		if cycle.Name == name {
			logging.Info("Running soak cycle on demand: %s", name)
			return s.runner.RunCycle(ctx, cycle)
		}
	}
	return fmt.Errorf("soak cycle not found: %s", name)
}
