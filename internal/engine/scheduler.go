package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler drives the engine's evaluation loop on a fixed interval.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(engine *Engine, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks, evaluating all bots on every tick until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("starting evaluation loop", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context done, stopping evaluation loop")
			return ctx.Err()
		case <-ticker.C:
			s.engine.EvaluateAll(ctx)
		}
	}
}
