package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/metrics"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
)

const bufferSize = 1024

// Recorder persists audit entries asynchronously. Record never blocks the
// request path: entries go through a buffered channel and a single writer
// goroutine. When the buffer is full the entry is dropped and counted.
type Recorder struct {
	store  storage.Store
	logger zerolog.Logger

	entries chan *types.AuditEntry
	done    chan struct{}

	closeOnce sync.Once
}

// NewRecorder creates a recorder and starts its writer goroutine.
func NewRecorder(store storage.Store) *Recorder {
	r := &Recorder{
		store:   store,
		logger:  log.WithComponent("audit"),
		entries: make(chan *types.AuditEntry, bufferSize),
		done:    make(chan struct{}),
	}
	go r.writeLoop()
	return r
}

// Entry describes a single auditable action.
type Entry struct {
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     map[string]string
	ClientIP     string
	ClientAgent  string
}

// Record enqueues an entry for persistence. Drops the entry when the buffer
// is full rather than stalling the caller.
func (r *Recorder) Record(e Entry) {
	entry := &types.AuditEntry{
		UserID:       e.UserID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		CreatedAt:    time.Now().UTC(),
	}
	if len(e.Metadata) > 0 {
		entry.Metadata = types.StringMap(e.Metadata)
	}
	if e.ClientIP != "" {
		ip := e.ClientIP
		entry.ClientIP = &ip
	}
	if e.ClientAgent != "" {
		agent := e.ClientAgent
		entry.ClientAgent = &agent
	}

	select {
	case r.entries <- entry:
	default:
		metrics.AuditEntriesDropped.Inc()
		r.logger.Warn().
			Str("action", e.Action).
			Str("resource_type", e.ResourceType).
			Msg("audit buffer full, entry dropped")
	}
}

// Close stops accepting entries and drains the buffer.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.entries)
		<-r.done
	})
}

func (r *Recorder) writeLoop() {
	defer close(r.done)

	for entry := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.store.AppendAuditEntry(ctx, entry)
		cancel()
		if err != nil {
			r.logger.Error().Err(err).
				Str("action", entry.Action).
				Msg("failed to persist audit entry")
		}
	}
}
