package worker

import (
	"github.com/burrowhq/burrow/pkg/config"
	"github.com/burrowhq/burrow/pkg/metrics"
	"github.com/burrowhq/burrow/pkg/storage"
)

// Group bundles the control plane's background loops: the TTL sweeper, the
// retention cleaner, and the inventory gauge refresher.
type Group struct {
	sweeper   *Sweeper
	retention *Retention
	collector *metrics.Collector
}

func NewGroup(cfg *config.Config, store storage.Store, sandboxes SandboxSweeper) *Group {
	return &Group{
		sweeper:   NewSweeper(sandboxes, cfg.SweepInterval),
		retention: NewRetention(store, cfg.LogRetentionAge, cfg.AuditRetentionAge, cfg.RetentionInterval),
		collector: metrics.NewCollector(store),
	}
}

// Start launches every loop.
func (g *Group) Start() {
	g.sweeper.Start()
	g.retention.Start()
	g.collector.Start()
}

// Stop halts every loop, waiting for in-flight passes to finish.
func (g *Group) Stop() {
	g.sweeper.Stop()
	g.retention.Stop()
	g.collector.Stop()
}
