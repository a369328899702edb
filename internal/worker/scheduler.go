package worker

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Sweeper runs SweepCourses on a fixed interval.
type Sweeper struct {
	scheduler *gocron.Scheduler
	interval  time.Duration
	sweep     func(context.Context) error
	logger    *zap.Logger
}

// NewSweeper schedules sweep every interval. Runs never overlap.
func NewSweeper(interval time.Duration, sweep func(context.Context) error, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		scheduler: gocron.NewScheduler(time.UTC),
		interval:  interval,
		sweep:     sweep,
		logger:    logger.With(zap.String("component", "sweeper")),
	}
}

// Run starts the schedule and blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.scheduler.Every(s.interval).SingletonMode().WaitForSchedule().Do(func() {
		s.logger.Info("scheduled course sweep")
		if err := s.sweep(ctx); err != nil {
			s.logger.Error("scheduled course sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	s.logger.Info("starting course sweep scheduler", zap.Duration("interval", s.interval))
	s.scheduler.StartAsync()
	<-ctx.Done()
	s.scheduler.Stop()
	s.logger.Info("course sweep scheduler stopped")
	return nil
}
