// Package scheduler drives the periodic agents. Compaction ticks on a fixed
// interval; the manager ticks on a randomized one so the worker cannot learn
// the judgment rhythm and time their slacking around it.
package scheduler

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taskwarden/internal/engine"
)

type Scheduler struct {
	ManagerMin         time.Duration
	ManagerMax         time.Duration
	CompactionInterval time.Duration
	Log                *zap.Logger

	// Tick hooks, wired to the engine in New.
	ManagerTick    func(ctx context.Context) error
	CompactionTick func(ctx context.Context) error

	rand *rand.Rand
}

func New(e engine.Engine, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	cfg := e.Config
	return &Scheduler{
		ManagerMin:         time.Duration(cfg.Intervals.ManagerMinSeconds) * time.Second,
		ManagerMax:         time.Duration(cfg.Intervals.ManagerMaxSeconds) * time.Second,
		CompactionInterval: time.Duration(cfg.Intervals.CompactionSeconds) * time.Second,
		Log:                log,
		ManagerTick: func(ctx context.Context) error {
			_, err := e.RunManager(ctx)
			return err
		},
		CompactionTick: func(ctx context.Context) error {
			_, err := e.RunCompaction(ctx)
			return err
		},
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ManagerInterval draws the next wait uniformly from [min, max].
func (s *Scheduler) ManagerInterval() time.Duration {
	if s.rand == nil {
		s.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if s.ManagerMax <= s.ManagerMin {
		return s.ManagerMin
	}
	return s.ManagerMin + time.Duration(s.rand.Int63n(int64(s.ManagerMax-s.ManagerMin)))
}

// Run blocks until the context is cancelled. Tick failures are logged, not
// fatal; the oracle being down for one tick must not stop the loops.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runManager(ctx) })
	g.Go(func() error { return s.runCompaction(ctx) })
	return g.Wait()
}

func (s *Scheduler) runManager(ctx context.Context) error {
	for {
		timer := time.NewTimer(s.ManagerInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if err := s.ManagerTick(ctx); err != nil && ctx.Err() == nil {
			s.Log.Warn("manager tick failed", zap.Error(err))
		}
	}
}

func (s *Scheduler) runCompaction(ctx context.Context) error {
	ticker := time.NewTicker(s.CompactionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := s.CompactionTick(ctx); err != nil && ctx.Err() == nil {
			s.Log.Warn("compaction tick failed", zap.Error(err))
		}
	}
}
