package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/config"
	"github.com/sirupsen/logrus"
)

// Sweeper periodically expires past-due holds. It is not part of the request
// path: main() starts Run in its own goroutine and cancels the context on
// shutdown, which stops new ticks and lets the in-flight sweep finish.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *logrus.Logger
	done     chan struct{}
}

func NewSweeper(engine *Engine, interval time.Duration, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Run loops until ctx is cancelled. A failing sweep never kills the loop.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Done is closed once Run has returned; shutdown waits on it.
func (s *Sweeper) Done() <-chan struct{} {
	return s.done
}

func (s *Sweeper) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			config.LogError(s.logger, "workflow", "Sweeper.sweep", "panic during expiry sweep", nil, fmt.Errorf("%v", r))
		}
	}()

	count, err := s.engine.ExpireHolds(ctx, time.Now().UTC())
	if err != nil {
		config.LogError(s.logger, "workflow", "Sweeper.sweep", "expiry sweep failed", nil, err)
		return
	}
	if count > 0 {
		s.logger.WithFields(logrus.Fields{
			"module": "workflow",
			"count":  count,
		}).Info("expired reservations")
	}
}
