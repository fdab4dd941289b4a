package build

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/conneroisu/trafficlight/internal/logging"
)

// Scheduler runs full rebuilds at a fixed interval, next to the builds the
// watcher triggers. Overlap is prevented by the pipeline itself.
type Scheduler struct {
	scheduler gocron.Scheduler
	pipeline  *Pipeline
	logger    logging.Logger
}

// NewScheduler creates a scheduler rebuilding through p every interval.
func NewScheduler(ctx context.Context, p *Pipeline, interval time.Duration, logger logging.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("rebuild interval must be positive, got %v", interval)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	sched := &Scheduler{
		scheduler: s,
		pipeline:  p,
		logger:    logger.WithComponent("build"),
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(sched.rebuild, ctx),
		gocron.WithName("periodic-rebuild"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create periodic rebuild job: %w", err)
	}

	return sched, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop waits for a running rebuild and stops the scheduler.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Scheduler) rebuild(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	s.logger.Info(ctx, "Executing scheduled rebuild")
	if _, err := s.pipeline.Process(ctx); err != nil {
		s.logger.Error(ctx, err, "Scheduled rebuild failed")
	}
}
