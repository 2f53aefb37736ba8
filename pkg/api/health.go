package api

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/metrics"
	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/storage"
)

const (
	healthCheckInterval = 15 * time.Second
	healthCheckTimeout  = 5 * time.Second
)

// HealthMonitor keeps the store and runtime health components current by
// pinging both on an interval. Readiness flips as soon as either backend
// becomes unreachable.
type HealthMonitor struct {
	store   storage.Store
	runtime runtime.Runtime
	logger  zerolog.Logger
	stopCh  chan struct{}
}

func NewHealthMonitor(store storage.Store, rt runtime.Runtime) *HealthMonitor {
	return &HealthMonitor{
		store:   store,
		runtime: rt,
		logger:  log.WithComponent("health"),
		stopCh:  make(chan struct{}),
	}
}

// Start registers the components and begins the check loop.
func (m *HealthMonitor) Start() {
	metrics.RegisterComponent("api", true, "")
	m.check()

	go func() {
		ticker := time.NewTicker(healthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.check()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the check loop.
func (m *HealthMonitor) Stop() {
	close(m.stopCh)
}

func (m *HealthMonitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := m.store.Ping(ctx); err != nil {
		metrics.UpdateComponent("store", false, err.Error())
		m.logger.Warn().Err(err).Msg("store unreachable")
	} else {
		metrics.UpdateComponent("store", true, "")
	}

	if err := m.runtime.Ping(ctx); err != nil {
		metrics.UpdateComponent("runtime", false, err.Error())
		m.logger.Warn().Err(err).Msg("runtime unreachable")
	} else {
		metrics.UpdateComponent("runtime", true, "")
	}
}
