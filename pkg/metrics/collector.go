package metrics

import (
	"context"
	"time"

	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
)

// Collector refreshes the inventory gauges from the store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectSandboxMetrics(ctx)
	c.collectEnvironmentMetrics(ctx)
}

func (c *Collector) collectSandboxMetrics(ctx context.Context) {
	counts, err := c.store.CountSandboxesByStatus(ctx)
	if err != nil {
		return
	}

	// Set every known status so gauges for drained statuses fall back to
	// zero instead of going stale.
	statuses := []types.SandboxStatus{
		types.StatusPending,
		types.StatusRunning,
		types.StatusStopped,
		types.StatusError,
		types.StatusExpired,
	}
	for _, status := range statuses {
		SandboxesTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectEnvironmentMetrics(ctx context.Context) {
	count, err := c.store.CountAllEnvironments(ctx)
	if err != nil {
		return
	}

	EnvironmentsTotal.Set(float64(count))
}
