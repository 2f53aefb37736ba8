package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/types"
)

// fakeRuntime backs the HTTP tests: containers are string states, log
// streams stay open until the context ends.
type fakeRuntime struct {
	mu         sync.Mutex
	nextRef    int
	containers map[string]string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: make(map[string]string)}
}

func (f *fakeRuntime) EnsureImage(_ context.Context, _ string, progress runtime.ProgressFunc) error {
	if progress != nil {
		progress(100, "image present")
	}
	return nil
}

func (f *fakeRuntime) BuildImage(_ context.Context, _, _ string, _ map[string]string, _ runtime.ProgressFunc) error {
	return nil
}

func (f *fakeRuntime) CreateContainer(_ context.Context, _ runtime.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRef++
	ref := fmt.Sprintf("ctr-%d", f.nextRef)
	f.containers[ref] = "created"
	return ref, nil
}

func (f *fakeRuntime) StartContainer(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[ref] = "running"
	return nil
}

func (f *fakeRuntime) StopContainer(_ context.Context, ref string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[ref]; ok {
		f.containers[ref] = "exited"
	}
	return nil
}

func (f *fakeRuntime) RestartContainer(_ context.Context, ref string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[ref] = "running"
	return nil
}

func (f *fakeRuntime) RemoveContainer(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, ref)
	return nil
}

func (f *fakeRuntime) Inspect(_ context.Context, ref string) (*runtime.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.containers[ref]
	if !ok {
		return nil, nil
	}
	return &runtime.ContainerState{Status: st, Running: st == "running"}, nil
}

func (f *fakeRuntime) WaitRunning(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return true, nil
}

func (f *fakeRuntime) Stats(_ context.Context, _ string) (*types.ContainerMetrics, error) {
	return &types.ContainerMetrics{CPUPercent: 2.5, MemoryUsage: 4 << 20}, nil
}

func (f *fakeRuntime) StreamLogs(ctx context.Context, _ string, _ time.Time) (<-chan runtime.LogEvent, error) {
	out := make(chan runtime.LogEvent)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func (f *fakeRuntime) GetLogs(_ context.Context, _ string, _ int) ([]runtime.LogEvent, error) {
	return nil, nil
}

func (f *fakeRuntime) ExecBatch(_ context.Context, _ string, argv []string) (*runtime.ExecResult, error) {
	return &runtime.ExecResult{ExitCode: 0, Output: "ran " + argv[0]}, nil
}

func (f *fakeRuntime) ExecInteractive(_ context.Context, _ string, _, _ uint) (runtime.Session, error) {
	return nil, fmt.Errorf("interactive exec not supported by fake runtime")
}

func (f *fakeRuntime) ListOwned(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs := make([]string, 0, len(f.containers))
	for ref := range f.containers {
		refs = append(refs, ref)
	}
	return refs, nil
}

func (f *fakeRuntime) Ping(_ context.Context) error { return nil }
func (f *fakeRuntime) Close() error                 { return nil }

var _ runtime.Runtime = (*fakeRuntime)(nil)
