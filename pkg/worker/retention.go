package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/log"
)

// RetentionStore is the slice of the store the cleaner needs.
type RetentionStore interface {
	PurgeSandboxLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeAuditEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

const retentionTimeout = 5 * time.Minute

// Retention purges sandbox logs and audit entries older than their
// configured ages. Failures are logged and retried on the next pass.
type Retention struct {
	store    RetentionStore
	logAge   time.Duration
	auditAge time.Duration
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	done     chan struct{}
}

func NewRetention(store RetentionStore, logAge, auditAge, interval time.Duration) *Retention {
	return &Retention{
		store:    store,
		logAge:   logAge,
		auditAge: auditAge,
		interval: interval,
		logger:   log.WithComponent("retention"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup loop with an immediate first pass.
func (r *Retention) Start() {
	go func() {
		defer close(r.done)

		r.run()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.run()
			case <-r.stopCh:
				return
			}
		}
	}()
	r.logger.Info().
		Dur("log_age", r.logAge).
		Dur("audit_age", r.auditAge).
		Msg("retention cleaner started")
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (r *Retention) Stop() {
	close(r.stopCh)
	<-r.done
}

func (r *Retention) run() {
	ctx, cancel := context.WithTimeout(context.Background(), retentionTimeout)
	defer cancel()

	now := time.Now().UTC()

	logs, err := r.store.PurgeSandboxLogsBefore(ctx, now.Add(-r.logAge))
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to purge sandbox logs")
	} else if logs > 0 {
		r.logger.Info().Int64("purged", logs).Msg("old sandbox logs purged")
	}

	audit, err := r.store.PurgeAuditEntriesBefore(ctx, now.Add(-r.auditAge))
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to purge audit entries")
	} else if audit > 0 {
		r.logger.Info().Int64("purged", audit).Msg("old audit entries purged")
	}
}
