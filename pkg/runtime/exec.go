package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

func (r *DockerRuntime) ExecBatch(ctx context.Context, ref string, argv []string) (*ExecResult, error) {
	created, err := r.cli.ContainerExecCreate(ctx, ref, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, categorize(err, "failed to create exec")
	}

	attached, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, categorize(err, "failed to attach exec")
	}
	defer attached.Close()

	// Without a TTY the output is multiplexed; fold both streams into one
	// combined buffer in arrival order.
	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, attached.Reader); err != nil {
		return nil, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, categorize(err, "failed to inspect exec")
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Output:   combined.String(),
	}, nil
}

func (r *DockerRuntime) ExecInteractive(ctx context.Context, ref string, cols, rows uint) (Session, error) {
	size := [2]uint{rows, cols}
	created, err := r.cli.ContainerExecCreate(ctx, ref, container.ExecOptions{
		Cmd:          []string{"/bin/sh"},
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		ConsoleSize:  &size,
	})
	if err != nil {
		return nil, categorize(err, "failed to create interactive exec")
	}

	attached, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{
		Tty:         true,
		ConsoleSize: &size,
	})
	if err != nil {
		return nil, categorize(err, "failed to attach interactive exec")
	}

	return &execSession{
		runtime: r,
		execID:  created.ID,
		resp:    attached,
	}, nil
}

// execSession is a PTY-backed shell attached over the engine's hijacked
// connection. With a TTY the stream is raw bytes, not multiplexed.
type execSession struct {
	runtime *DockerRuntime
	execID  string
	resp    dockertypes.HijackedResponse

	closeOnce sync.Once
}

func (s *execSession) Reader() io.Reader {
	return s.resp.Reader
}

func (s *execSession) Write(p []byte) (int, error) {
	return s.resp.Conn.Write(p)
}

func (s *execSession) Resize(ctx context.Context, cols, rows uint) error {
	err := s.runtime.cli.ContainerExecResize(ctx, s.execID, container.ResizeOptions{
		Height: rows,
		Width:  cols,
	})
	if err != nil {
		return categorize(err, "failed to resize pty")
	}
	return nil
}

func (s *execSession) Close() error {
	s.closeOnce.Do(func() {
		s.resp.Close()
	})
	return nil
}
