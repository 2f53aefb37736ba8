package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/types"
)

// fakeRuntime is an in-memory engine for service tests: containers are
// string states, log streams are test-fed channels.
type fakeRuntime struct {
	mu         sync.Mutex
	nextRef    int
	containers map[string]string // ref -> created|running|exited|dead
	specs      []runtime.ContainerSpec
	logChans   map[string]chan runtime.LogEvent
	removed    []string

	healthy   bool  // WaitRunning outcome
	createErr error // forced CreateContainer failure
	startErr  error // forced StartContainer failure
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers: make(map[string]string),
		logChans:   make(map[string]chan runtime.LogEvent),
		healthy:    true,
	}
}

func (f *fakeRuntime) EnsureImage(_ context.Context, _ string, progress runtime.ProgressFunc) error {
	if progress != nil {
		progress(100, "image present")
	}
	return nil
}

func (f *fakeRuntime) BuildImage(_ context.Context, _, _ string, _ map[string]string, progress runtime.ProgressFunc) error {
	if progress != nil {
		progress(99, "Step 1/1 : FROM scratch")
	}
	return nil
}

func (f *fakeRuntime) CreateContainer(_ context.Context, spec runtime.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextRef++
	ref := fmt.Sprintf("ctr-%d", f.nextRef)
	f.containers[ref] = "created"
	f.specs = append(f.specs, spec)
	return ref, nil
}

func (f *fakeRuntime) StartContainer(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
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
	f.removed = append(f.removed, ref)
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
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy, nil
}

func (f *fakeRuntime) Stats(_ context.Context, _ string) (*types.ContainerMetrics, error) {
	return &types.ContainerMetrics{CPUPercent: 1.5, MemoryUsage: 1 << 20}, nil
}

func (f *fakeRuntime) StreamLogs(ctx context.Context, ref string, _ time.Time) (<-chan runtime.LogEvent, error) {
	f.mu.Lock()
	src, ok := f.logChans[ref]
	if !ok {
		src = make(chan runtime.LogEvent, 64)
		f.logChans[ref] = src
	}
	f.mu.Unlock()

	out := make(chan runtime.LogEvent, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// emitLog feeds one event into a container's live stream.
func (f *fakeRuntime) emitLog(ref string, ev runtime.LogEvent) {
	f.mu.Lock()
	src, ok := f.logChans[ref]
	if !ok {
		src = make(chan runtime.LogEvent, 64)
		f.logChans[ref] = src
	}
	f.mu.Unlock()
	src <- ev
}

// endLogs closes a container's live stream, as a stopped container would.
func (f *fakeRuntime) endLogs(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if src, ok := f.logChans[ref]; ok {
		close(src)
		delete(f.logChans, ref)
	}
}

func (f *fakeRuntime) GetLogs(_ context.Context, _ string, _ int) ([]runtime.LogEvent, error) {
	return nil, nil
}

func (f *fakeRuntime) ExecBatch(_ context.Context, _ string, _ []string) (*runtime.ExecResult, error) {
	return &runtime.ExecResult{ExitCode: 0, Output: "ok"}, nil
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

func (f *fakeRuntime) state(ref string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containers[ref]
}

func (f *fakeRuntime) setState(ref, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[ref] = state
}

func (f *fakeRuntime) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

var _ runtime.Runtime = (*fakeRuntime)(nil)
