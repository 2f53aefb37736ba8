package sandbox

import (
	"context"
	"time"

	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/metrics"
	"github.com/burrowhq/burrow/pkg/security"
	"github.com/burrowhq/burrow/pkg/types"
)

// trimEvery bounds how often the retention trim runs relative to ingest.
const trimEvery = 100

// spawnCollector starts the single log tail for a container. One collector
// per sandbox: it is the only writer of that sandbox's stored logs and the
// only publisher to its broker topic.
func (s *Service) spawnCollector(sandboxID, ref string) {
	s.mu.Lock()
	if _, ok := s.collectors[sandboxID]; ok {
		s.mu.Unlock()
		return
	}
	cctx, cancel := context.WithCancel(s.ctx)
	s.collectors[sandboxID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			if c, ok := s.collectors[sandboxID]; ok {
				c()
				delete(s.collectors, sandboxID)
			}
			s.mu.Unlock()
		}()
		s.collect(cctx, sandboxID, ref)
	}()
}

// stopCollector cancels a sandbox's collector, if one is live.
func (s *Service) stopCollector(sandboxID string) {
	s.mu.Lock()
	cancel, ok := s.collectors[sandboxID]
	if ok {
		delete(s.collectors, sandboxID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Service) collect(ctx context.Context, sandboxID, ref string) {
	logger := log.WithSandboxID(s.logger, sandboxID)

	events, err := s.runtime.StreamLogs(ctx, ref, time.Now())
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open log stream")
		return
	}

	count := 0
	for ev := range events {
		ev.Text = security.Redact(ev.Text)

		entry := &types.SandboxLog{
			SandboxID: sandboxID,
			Stream:    ev.Stream,
			Text:      ev.Text,
			Timestamp: ev.Timestamp,
		}
		if err := s.store.AppendSandboxLog(ctx, entry); err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn().Err(err).Msg("failed to append sandbox log")
			continue
		}
		metrics.LogLinesCollected.Inc()

		// Viewers get the stored row itself, redacted and carrying the id
		// the store assigned, exactly once.
		s.broker.Publish(sandboxID, entry)

		count++
		if count%trimEvery == 0 {
			if err := s.store.TrimSandboxLogs(ctx, sandboxID, s.keepLogs); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("failed to trim sandbox logs")
			}
		}
	}

	if count > 0 && ctx.Err() == nil {
		trimCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.TrimSandboxLogs(trimCtx, sandboxID, s.keepLogs); err != nil {
			logger.Warn().Err(err).Msg("failed to trim sandbox logs")
		}
		cancel()
	}

	logger.Debug().Int("lines", count).Msg("log collector stopped")
}
