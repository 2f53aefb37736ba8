package audit

import (
	"testing"

	"github.com/burrowhq/burrow/pkg/storage"
)

func TestRecordPersistsEntry(t *testing.T) {
	store := storage.NewMemoryStore()
	rec := NewRecorder(store)

	rec.Record(Entry{
		UserID:       "user-1",
		Action:       "sandbox.create",
		ResourceType: "sandbox",
		ResourceID:   "sb-1",
		Metadata:     map[string]string{"name": "web-a1b2c3d4"},
		ClientIP:     "10.0.0.1",
		ClientAgent:  "curl/8.0",
	})
	rec.Close()

	entries := store.AuditEntries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.UserID != "user-1" || e.Action != "sandbox.create" {
		t.Errorf("entry = %s/%s, want user-1/sandbox.create", e.UserID, e.Action)
	}
	if e.Metadata["name"] != "web-a1b2c3d4" {
		t.Errorf("metadata name = %q", e.Metadata["name"])
	}
	if e.ClientIP == nil || *e.ClientIP != "10.0.0.1" {
		t.Error("client IP not recorded")
	}
	if e.CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}
}

func TestRecordOmitsEmptyOptionalFields(t *testing.T) {
	store := storage.NewMemoryStore()
	rec := NewRecorder(store)

	rec.Record(Entry{
		UserID:       "user-1",
		Action:       "environment.delete",
		ResourceType: "environment",
		ResourceID:   "env-1",
	})
	rec.Close()

	entries := store.AuditEntries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].ClientIP != nil || entries[0].ClientAgent != nil {
		t.Error("optional fields should stay nil when unset")
	}
}

func TestCloseDrainsBuffer(t *testing.T) {
	store := storage.NewMemoryStore()
	rec := NewRecorder(store)

	for i := 0; i < 100; i++ {
		rec.Record(Entry{
			UserID:       "user-1",
			Action:       "sandbox.start",
			ResourceType: "sandbox",
			ResourceID:   "sb-1",
		})
	}
	rec.Close()

	if got := len(store.AuditEntries()); got != 100 {
		t.Errorf("got %d entries after close, want 100", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	rec := NewRecorder(storage.NewMemoryStore())
	rec.Close()
	rec.Close() // must not panic
}
