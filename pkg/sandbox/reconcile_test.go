package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/burrowhq/burrow/pkg/types"
)

// backdate moves a sandbox's expiry into the past.
func (f *fixture) backdate(t *testing.T, id string) {
	t.Helper()
	past := time.Now().UTC().Add(-time.Minute)
	_, err := f.store.UpdateSandbox(context.Background(), id, func(sb *types.Sandbox) error {
		sb.ExpiresAt = &past
		return nil
	})
	if err != nil {
		t.Fatalf("failed to backdate sandbox: %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	env := f.newEnv(t, "user-1", "web")
	ctx := context.Background()

	doomed, _, err := f.svc.Create(ctx, "user-1", CreateRequest{EnvironmentID: env.ID, Name: "doomed"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	kept, _, err := f.svc.Create(ctx, "user-1", CreateRequest{EnvironmentID: env.ID, Name: "kept"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	running := f.waitForStatus(t, doomed.ID, types.StatusRunning)
	f.waitForStatus(t, kept.ID, types.StatusRunning)
	ref := *running.ContainerRef

	f.backdate(t, doomed.ID)
	f.svc.SweepExpired(ctx)

	got, err := f.store.GetSandboxByID(ctx, doomed.ID)
	if err != nil {
		t.Fatalf("GetSandboxByID() error = %v", err)
	}
	if got.Status != types.StatusExpired || got.Phase != types.PhaseStopped {
		t.Errorf("swept sandbox = %s/%s, want expired/stopped", got.Status, got.Phase)
	}
	if got.StoppedAt == nil {
		t.Error("stopped_at not stamped")
	}
	if f.rt.state(ref) != "" {
		t.Error("expired container not removed")
	}

	other, _ := f.store.GetSandboxByID(ctx, kept.ID)
	if other.Status != types.StatusRunning {
		t.Errorf("unexpired sandbox = %s, want running", other.Status)
	}
}

func TestSweepExpiredSkipsTerminal(t *testing.T) {
	f := newFixture(t)
	env := f.newEnv(t, "user-1", "web")
	ctx := context.Background()

	sb, _, err := f.svc.Create(ctx, "user-1", CreateRequest{EnvironmentID: env.ID, Name: "done"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.waitForStatus(t, sb.ID, types.StatusRunning)
	if _, err := f.svc.Stop(ctx, "user-1", sb.ID); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	f.backdate(t, sb.ID)
	f.svc.SweepExpired(ctx)

	got, _ := f.store.GetSandboxByID(ctx, sb.ID)
	if got.Status != types.StatusStopped {
		t.Errorf("stopped sandbox = %s after sweep, want left alone", got.Status)
	}
}

func TestSyncCorrectsDrift(t *testing.T) {
	f := newFixture(t)
	env := f.newEnv(t, "user-1", "web")
	ctx := context.Background()

	sb, _, err := f.svc.Create(ctx, "user-1", CreateRequest{EnvironmentID: env.ID, Name: "drifter"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	running := f.waitForStatus(t, sb.ID, types.StatusRunning)
	ref := *running.ContainerRef

	// Container died outside the platform.
	f.rt.setState(ref, "exited")
	got, err := f.svc.Sync(ctx, sb.ID)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if got.Status != types.StatusStopped || got.Phase != types.PhaseStopped {
		t.Errorf("after exit: %s/%s, want stopped/stopped", got.Status, got.Phase)
	}
	if got.StoppedAt == nil {
		t.Error("stopped_at not stamped")
	}

	// It came back (external restart).
	f.rt.setState(ref, "running")
	got, err = f.svc.Sync(ctx, sb.ID)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if got.Status != types.StatusRunning || got.Phase != types.PhaseHealthy {
		t.Errorf("after restart: %s/%s, want running/healthy", got.Status, got.Phase)
	}
	if got.StoppedAt != nil {
		t.Error("stopped_at not cleared on running correction")
	}

	// Gone entirely.
	if err := f.rt.RemoveContainer(ctx, ref); err != nil {
		t.Fatalf("RemoveContainer() error = %v", err)
	}
	got, err = f.svc.Sync(ctx, sb.ID)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if got.Status != types.StatusError || got.Phase != types.PhaseFailed {
		t.Errorf("after removal: %s/%s, want error/failed", got.Status, got.Phase)
	}
}

func TestSyncLeavesConsistentRows(t *testing.T) {
	f := newFixture(t)
	env := f.newEnv(t, "user-1", "web")
	ctx := context.Background()

	sb, _, err := f.svc.Create(ctx, "user-1", CreateRequest{EnvironmentID: env.ID, Name: "steady"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	running := f.waitForStatus(t, sb.ID, types.StatusRunning)

	got, err := f.svc.Sync(ctx, sb.ID)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if !got.UpdatedAt.Equal(running.UpdatedAt) {
		t.Error("consistent row rewritten by sync")
	}

	// Transitional container states are left for the next pass.
	f.rt.setState(*running.ContainerRef, "restarting")
	got, err = f.svc.Sync(ctx, sb.ID)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if got.Status != types.StatusRunning {
		t.Errorf("transitional state corrected to %s, want untouched", got.Status)
	}
}
