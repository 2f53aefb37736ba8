package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/log"
)

// SandboxSweeper expires sandboxes whose TTL has passed. Implemented by the
// sandbox service.
type SandboxSweeper interface {
	SweepExpired(ctx context.Context)
}

const sweepTimeout = 30 * time.Second

// Sweeper drives TTL expiry on an interval. The sweep itself logs and
// retries its own failures, so the loop never stops on error.
type Sweeper struct {
	sandboxes SandboxSweeper
	interval  time.Duration
	logger    zerolog.Logger
	stopCh    chan struct{}
	done      chan struct{}
}

func NewSweeper(sandboxes SandboxSweeper, interval time.Duration) *Sweeper {
	return &Sweeper{
		sandboxes: sandboxes,
		interval:  interval,
		logger:    log.WithComponent("sweeper"),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the sweep loop with an immediate first pass.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)

		s.sweep()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopCh:
				return
			}
		}
	}()
	s.logger.Info().Dur("interval", s.interval).Msg("ttl sweeper started")
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.done
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	s.sandboxes.SweepExpired(ctx)
}
