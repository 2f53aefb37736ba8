package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/types"
)

func (f *fixture) waitForLogs(t *testing.T, sandboxID string, want int) []*types.SandboxLog {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		logs, err := f.store.ListSandboxLogs(context.Background(), sandboxID, 1000)
		if err != nil {
			t.Fatalf("ListSandboxLogs() error = %v", err)
		}
		if len(logs) >= want {
			return logs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sandbox %s never reached %d stored logs", sandboxID, want)
	return nil
}

func TestCollectorStoresRedactedLines(t *testing.T) {
	f := newFixture(t)
	env := f.newEnv(t, "user-1", "web")
	ctx := context.Background()

	sb, _, err := f.svc.Create(ctx, "user-1", CreateRequest{EnvironmentID: env.ID, Name: "demo"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	running := f.waitForStatus(t, sb.ID, types.StatusRunning)
	ref := *running.ContainerRef

	sub := f.svc.Broker().Subscribe(sb.ID)
	defer f.svc.Broker().Unsubscribe(sb.ID, sub)

	f.rt.emitLog(ref, runtime.LogEvent{Stream: "stdout", Text: "listening on :8080", Timestamp: time.Now()})
	f.rt.emitLog(ref, runtime.LogEvent{Stream: "stderr", Text: "using API_KEY=sk_live_topsecret", Timestamp: time.Now()})

	logs := f.waitForLogs(t, sb.ID, 2)
	if logs[0].Text != "listening on :8080" || logs[0].Stream != "stdout" {
		t.Errorf("logs[0] = %s/%q", logs[0].Stream, logs[0].Text)
	}
	if logs[1].Text != "using API_KEY=[REDACTED]" {
		t.Errorf("logs[1] = %q, want secret scrubbed", logs[1].Text)
	}

	// Viewers get the stored row itself, redacted and with its id.
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub:
			if ev.Text != logs[i].Text {
				t.Errorf("published %q, stored %q", ev.Text, logs[i].Text)
			}
			if ev.ID != logs[i].ID {
				t.Errorf("published id = %d, stored id = %d", ev.ID, logs[i].ID)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("published event never arrived")
		}
	}
}

func TestCollectorTrimsToRetention(t *testing.T) {
	f := newFixture(t)
	f.svc.keepLogs = 10
	env := f.newEnv(t, "user-1", "web")
	ctx := context.Background()

	sb, _, err := f.svc.Create(ctx, "user-1", CreateRequest{EnvironmentID: env.ID, Name: "chatty"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	running := f.waitForStatus(t, sb.ID, types.StatusRunning)
	ref := *running.ContainerRef

	for i := 0; i < trimEvery; i++ {
		f.rt.emitLog(ref, runtime.LogEvent{Stream: "stdout", Text: "line", Timestamp: time.Now()})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		logs, err := f.store.ListSandboxLogs(ctx, sb.ID, 1000)
		if err != nil {
			t.Fatalf("ListSandboxLogs() error = %v", err)
		}
		if len(logs) == 10 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	logs, _ := f.store.ListSandboxLogs(ctx, sb.ID, 1000)
	t.Fatalf("stored logs = %d, want trimmed to 10", len(logs))
}

func TestCollectorStopsWithStream(t *testing.T) {
	f := newFixture(t)
	env := f.newEnv(t, "user-1", "web")
	ctx := context.Background()

	sb, _, err := f.svc.Create(ctx, "user-1", CreateRequest{EnvironmentID: env.ID, Name: "demo"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	running := f.waitForStatus(t, sb.ID, types.StatusRunning)
	ref := *running.ContainerRef

	f.rt.emitLog(ref, runtime.LogEvent{Stream: "stdout", Text: "bye", Timestamp: time.Now()})
	f.waitForLogs(t, sb.ID, 1)

	f.rt.endLogs(ref)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.svc.mu.Lock()
		_, live := f.svc.collectors[sb.ID]
		f.svc.mu.Unlock()
		if !live {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("collector still registered after its stream ended")
}

func TestBrokerFanOutAndOverflow(t *testing.T) {
	b := NewBroker()

	fast := b.Subscribe("sb-1")
	slow := b.Subscribe("sb-1")

	// Overflow the slow viewer without draining it.
	for i := 0; i <= subscriberBuffer; i++ {
		b.Publish("sb-1", &types.SandboxLog{Text: "line"})
		<-fast
	}

	if _, open := <-slow; open {
		// Drain whatever was buffered; the channel must end up closed.
		for range slow {
		}
	}

	// The fast viewer is unaffected.
	b.Publish("sb-1", &types.SandboxLog{Text: "after"})
	select {
	case ev := <-fast:
		if ev.Text != "after" {
			t.Errorf("fast viewer got %q, want after", ev.Text)
		}
	default:
		t.Error("fast viewer dropped alongside the slow one")
	}

	b.Unsubscribe("sb-1", fast)
	if _, open := <-fast; open {
		t.Error("unsubscribed channel left open")
	}
	// Unsubscribing the already-dropped viewer must not panic.
	b.Unsubscribe("sb-1", slow)
}

func TestBrokerCloseTopic(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("sb-1")

	b.CloseTopic("sb-1")
	if _, open := <-sub; open {
		t.Error("subscriber channel left open after topic close")
	}

	// Publishing to a closed topic is a no-op.
	b.Publish("sb-1", &types.SandboxLog{Text: "ghost"})
}
