package runtime

import (
	"bytes"
	"testing"
	"time"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/burrowhq/burrow/pkg/types"
)

func TestParseLogLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantText string
		wantTime string // RFC3339Nano, empty means "stamped with now"
	}{
		{
			name:     "timestamped line",
			line:     "2026-08-24T10:30:00.123456789Z hello world",
			wantText: "hello world",
			wantTime: "2026-08-24T10:30:00.123456789Z",
		},
		{
			name:     "timestamp only prefix with empty body",
			line:     "2026-08-24T10:30:00Z ",
			wantText: "",
			wantTime: "2026-08-24T10:30:00Z",
		},
		{
			name:     "no timestamp",
			line:     "plain output line",
			wantText: "plain output line",
		},
		{
			name:     "carriage return stripped",
			line:     "2026-08-24T10:30:00Z progress\r",
			wantText: "progress",
			wantTime: "2026-08-24T10:30:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, text := parseLogLine(tt.line)
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if tt.wantTime != "" {
				want, _ := time.Parse(time.RFC3339Nano, tt.wantTime)
				if !ts.Equal(want) {
					t.Errorf("timestamp = %v, want %v", ts, want)
				}
			} else if time.Since(ts) > time.Minute {
				t.Errorf("fallback timestamp %v not near now", ts)
			}
		})
	}
}

func TestLineWriterSplitsAndBuffers(t *testing.T) {
	var events []LogEvent
	w := &lineWriter{stream: types.StreamStdout, emit: func(ev LogEvent) { events = append(events, ev) }}

	// Lines arriving in arbitrary chunk boundaries.
	chunks := []string{
		"2026-08-24T10:00:00Z first",
		" line\n2026-08-24T10:00:01Z second line\n2026-08-24T10:00:02Z par",
		"tial",
	}
	for _, chunk := range chunks {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	if len(events) != 2 {
		t.Fatalf("got %d events before flush, want 2", len(events))
	}
	if events[0].Text != "first line" || events[1].Text != "second line" {
		t.Errorf("events = %q, %q", events[0].Text, events[1].Text)
	}

	w.flush()
	if len(events) != 3 {
		t.Fatalf("got %d events after flush, want 3", len(events))
	}
	if events[2].Text != "partial" {
		t.Errorf("flushed partial = %q, want partial", events[2].Text)
	}
}

func TestStdcopyFrameDecode(t *testing.T) {
	// Build a genuine multiplexed stream (8-byte header frames) and verify
	// decoding attributes lines to the right streams.
	var mux bytes.Buffer
	outW := stdcopy.NewStdWriter(&mux, stdcopy.Stdout)
	errW := stdcopy.NewStdWriter(&mux, stdcopy.Stderr)

	_, _ = outW.Write([]byte("2026-08-24T10:00:00Z out line\n"))
	_, _ = errW.Write([]byte("2026-08-24T10:00:01Z err line\n"))
	_, _ = outW.Write([]byte("2026-08-24T10:00:02Z another out\n"))

	var events []LogEvent
	emit := func(ev LogEvent) { events = append(events, ev) }
	stdout := &lineWriter{stream: types.StreamStdout, emit: emit}
	stderr := &lineWriter{stream: types.StreamStderr, emit: emit}

	if _, err := stdcopy.StdCopy(stdout, stderr, &mux); err != nil {
		t.Fatalf("StdCopy() error = %v", err)
	}
	stdout.flush()
	stderr.flush()

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	want := []struct {
		stream types.LogStream
		text   string
	}{
		{types.StreamStdout, "out line"},
		{types.StreamStderr, "err line"},
		{types.StreamStdout, "another out"},
	}
	for i, w := range want {
		if events[i].Stream != w.stream || events[i].Text != w.text {
			t.Errorf("event %d = %s/%q, want %s/%q", i, events[i].Stream, events[i].Text, w.stream, w.text)
		}
	}
}
