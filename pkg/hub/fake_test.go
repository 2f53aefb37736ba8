package hub

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/types"
)

// fakeRuntime backs the hub tests: containers are states in a map, log
// streams are test-fed channels, terminals are in-memory pipes.
type fakeRuntime struct {
	mu         sync.Mutex
	nextRef    int
	containers map[string]string
	logChans   map[string]chan runtime.LogEvent
	sessions   []*fakeSession
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers: make(map[string]string),
		logChans:   make(map[string]chan runtime.LogEvent),
	}
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
	return &types.ContainerMetrics{}, nil
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

func (f *fakeRuntime) GetLogs(_ context.Context, _ string, _ int) ([]runtime.LogEvent, error) {
	return nil, nil
}

func (f *fakeRuntime) ExecBatch(_ context.Context, _ string, _ []string) (*runtime.ExecResult, error) {
	return &runtime.ExecResult{}, nil
}

func (f *fakeRuntime) ExecInteractive(_ context.Context, _ string, cols, rows uint) (runtime.Session, error) {
	s := newFakeSession(cols, rows)
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeRuntime) lastSession() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

func (f *fakeRuntime) ListOwned(_ context.Context) ([]string, error) { return nil, nil }
func (f *fakeRuntime) Ping(_ context.Context) error                  { return nil }
func (f *fakeRuntime) Close() error                                  { return nil }

var _ runtime.Runtime = (*fakeRuntime)(nil)

// fakeSession is a PTY double built on pipes: the test writes container
// output with emitOutput and reads stdin from the input pipe.
type fakeSession struct {
	outR *io.PipeReader
	outW *io.PipeWriter
	inR  *io.PipeReader
	inW  *io.PipeWriter

	mu        sync.Mutex
	cols      uint
	rows      uint
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSession(cols, rows uint) *fakeSession {
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()
	return &fakeSession{
		outR: outR, outW: outW,
		inR: inR, inW: inW,
		cols: cols, rows: rows,
		closed: make(chan struct{}),
	}
}

func (s *fakeSession) Reader() io.Reader { return s.outR }

func (s *fakeSession) Write(p []byte) (int, error) { return s.inW.Write(p) }

func (s *fakeSession) Resize(_ context.Context, cols, rows uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cols, s.rows = cols, rows
	return nil
}

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.outW.Close()
		_ = s.inR.Close()
		close(s.closed)
	})
	return nil
}

func (s *fakeSession) size() (uint, uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// emitOutput feeds bytes as container output. Blocks until the pump reads
// them.
func (s *fakeSession) emitOutput(p []byte) error {
	_, err := s.outW.Write(p)
	return err
}

// readInput reads n stdin bytes the hub forwarded.
func (s *fakeSession) readInput(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.inR, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
