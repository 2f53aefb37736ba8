package runtime

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/burrowhq/burrow/pkg/types"
)

// lineWriter splits a demultiplexed byte stream into log lines. Partial
// lines are buffered until the next write completes them.
type lineWriter struct {
	stream types.LogStream
	buf    bytes.Buffer
	emit   func(LogEvent)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	n := len(p)

	if w.buf.Len() > 0 {
		w.buf.Write(p)
		// Copy out: the buffer's array is reused for the next partial line.
		p = append([]byte(nil), w.buf.Bytes()...)
		w.buf.Reset()
	}

	for len(p) > 0 {
		nl := bytes.IndexByte(p, '\n')
		if nl == -1 {
			w.buf.Write(p)
			break
		}
		w.emitLine(string(p[:nl]))
		p = p[nl+1:]
	}

	return n, nil
}

// flush emits any trailing partial line.
func (w *lineWriter) flush() {
	if w.buf.Len() > 0 {
		w.emitLine(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) emitLine(line string) {
	ts, text := parseLogLine(line)
	w.emit(LogEvent{Stream: w.stream, Text: text, Timestamp: ts})
}

// parseLogLine splits the engine's RFC3339Nano timestamp prefix from the
// line body. Lines without a parseable prefix are stamped with now.
func parseLogLine(line string) (time.Time, string) {
	line = strings.TrimRight(line, "\r")

	if idx := strings.IndexByte(line, ' '); idx > 0 {
		if ts, err := time.Parse(time.RFC3339Nano, line[:idx]); err == nil {
			return ts, line[idx+1:]
		}
	}
	return time.Now().UTC(), line
}

func (r *DockerRuntime) StreamLogs(ctx context.Context, ref string, since time.Time) (<-chan LogEvent, error) {
	reader, err := r.cli.ContainerLogs(ctx, ref, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: true,
		Since:      strconv.FormatInt(since.Unix(), 10),
	})
	if err != nil {
		return nil, categorize(err, "failed to open log stream")
	}

	events := make(chan LogEvent, 256)
	emit := func(ev LogEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	stdout := &lineWriter{stream: types.StreamStdout, emit: emit}
	stderr := &lineWriter{stream: types.StreamStderr, emit: emit}

	// Unblock StdCopy when the caller goes away.
	go func() {
		<-ctx.Done()
		reader.Close()
	}()

	go func() {
		defer close(events)
		if _, err := stdcopy.StdCopy(stdout, stderr, reader); err != nil && ctx.Err() == nil {
			r.logger.Debug().Err(err).Str("container_ref", ref).Msg("log stream ended")
		}
		stdout.flush()
		stderr.flush()
	}()

	return events, nil
}

func (r *DockerRuntime) GetLogs(ctx context.Context, ref string, tail int) ([]LogEvent, error) {
	reader, err := r.cli.ContainerLogs(ctx, ref, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return nil, categorize(err, "failed to read logs")
	}
	defer reader.Close()

	var events []LogEvent
	emit := func(ev LogEvent) { events = append(events, ev) }
	stdout := &lineWriter{stream: types.StreamStdout, emit: emit}
	stderr := &lineWriter{stream: types.StreamStderr, emit: emit}

	if _, err := stdcopy.StdCopy(stdout, stderr, reader); err != nil {
		return nil, fmt.Errorf("failed to decode log stream: %w", err)
	}
	stdout.flush()
	stderr.flush()

	return events, nil
}
