package runtime

import (
	"context"
	"io"
	"time"

	"github.com/burrowhq/burrow/pkg/types"
)

// PlatformLabel marks every container owned by the control plane.
const PlatformLabel = "sandbox-platform"

// ContainerSpec describes the container to create for a sandbox.
type ContainerSpec struct {
	Name      string
	Image     string
	Command   []string
	Env       []string
	Ports     []types.PortMapping
	CPU       float64 // cores
	MemoryMB  int
	SandboxID string
	UserID    string
}

// ContainerState is the subset of inspect output lifecycle decisions depend
// on.
type ContainerState struct {
	Status   string // created, running, paused, restarting, removing, exited, dead
	Running  bool
	ExitCode int
}

// LogEvent is one decoded log line from the multiplexed container stream.
type LogEvent struct {
	Stream    types.LogStream
	Text      string
	Timestamp time.Time
}

// ExecResult is the outcome of a blocking exec.
type ExecResult struct {
	ExitCode int    `json:"exitCode"`
	Output   string `json:"output"`
}

// Session is an interactive PTY-backed shell inside a container.
type Session interface {
	// Reader yields raw container output bytes.
	Reader() io.Reader
	// Write sends bytes to the PTY stdin.
	Write(p []byte) (int, error)
	// Resize adjusts the PTY dimensions.
	Resize(ctx context.Context, cols, rows uint) error
	// Close terminates the session. Safe to call more than once.
	Close() error
}

// ProgressFunc receives aggregated provisioning progress: a 0-100 percentage
// and a human status line.
type ProgressFunc func(percent int, status string)

// Runtime abstracts the container engine. All operations take a context and
// fail with a categorized error (pkg/errdefs kinds NotFound, Conflict,
// RuntimeUnavailable, Internal) so callers can translate failures into
// lifecycle transitions.
type Runtime interface {
	// EnsureImage makes the image locally available, reporting aggregated
	// pull progress. Present images report 100% immediately.
	EnsureImage(ctx context.Context, image string, progress ProgressFunc) error

	// BuildImage builds an image tagged tag from an in-memory Dockerfile and
	// its build files, reporting step progress.
	BuildImage(ctx context.Context, tag, dockerfile string, files map[string]string, progress ProgressFunc) error

	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, ref string) error
	// StopContainer treats "already stopped" as success.
	StopContainer(ctx context.Context, ref string, grace time.Duration) error
	RestartContainer(ctx context.Context, ref string, grace time.Duration) error
	// RemoveContainer force-removes; "not found" is success.
	RemoveContainer(ctx context.Context, ref string) error

	// Inspect returns nil when the container does not exist.
	Inspect(ctx context.Context, ref string) (*ContainerState, error)
	// WaitRunning polls Inspect at most every 500ms until the container
	// runs, exits, or the deadline passes.
	WaitRunning(ctx context.Context, ref string, deadline time.Duration) (bool, error)

	Stats(ctx context.Context, ref string) (*types.ContainerMetrics, error)

	// StreamLogs follows the multiplexed log stream from the given time.
	// The channel closes when the container exits or ctx is canceled.
	StreamLogs(ctx context.Context, ref string, since time.Time) (<-chan LogEvent, error)
	// GetLogs returns a bounded tail of decoded log lines.
	GetLogs(ctx context.Context, ref string, tail int) ([]LogEvent, error)

	ExecBatch(ctx context.Context, ref string, argv []string) (*ExecResult, error)
	ExecInteractive(ctx context.Context, ref string, cols, rows uint) (Session, error)

	// ListOwned enumerates container refs bearing the platform label.
	ListOwned(ctx context.Context) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
