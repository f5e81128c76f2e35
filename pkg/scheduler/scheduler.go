package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is a named unit of scheduled work.
type Task func(context.Context) error

// Scheduler wraps a cron runner and gives every task a bounded context.
type Scheduler struct {
	cron        *cron.Cron
	logger      *zap.Logger
	taskTimeout time.Duration
}

// Config tunes scheduler behaviour.
type Config struct {
	TaskTimeout time.Duration
	Logger      *zap.Logger
}

// New builds a scheduler using standard 5-field cron expressions.
func New(cfg Config) *Scheduler {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scheduler{
		cron:        cron.New(),
		logger:      cfg.Logger,
		taskTimeout: cfg.TaskTimeout,
	}
}

// Register schedules a task under the given cron spec.
func (s *Scheduler) Register(name, spec string, task Task) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
		defer cancel()

		started := time.Now()
		if err := task(ctx); err != nil {
			s.logger.Error("scheduled task failed",
				zap.String("task", name),
				zap.Duration("elapsed", time.Since(started)),
				zap.Error(err))
			return
		}
		s.logger.Info("scheduled task completed",
			zap.String("task", name),
			zap.Duration("elapsed", time.Since(started)))
	})
	if err != nil {
		return err
	}
	s.logger.Info("scheduled task registered", zap.String("task", name), zap.String("spec", spec))
	return nil
}

// Start launches the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running tasks to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
