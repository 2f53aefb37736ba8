package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/environment"
	"github.com/burrowhq/burrow/pkg/errdefs"
	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
)

const (
	stopGrace  = 10 * time.Second
	sweepGrace = 5 * time.Second
	startWait  = 30 * time.Second

	minTTLSeconds = 60
	maxTTLSeconds = 604800
)

// Service owns the sandbox lifecycle: creation, the async provisioner, log
// collection, start/stop/restart, replication, TTL expiry, and runtime
// reconciliation.
type Service struct {
	store     storage.Store
	runtime   runtime.Runtime
	envs      *environment.Service
	broker    *Broker
	maxActive int
	keepLogs  int
	logger    zerolog.Logger

	// Lifetime of all async work. Canceled on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	provisioning map[string]bool
	collectors   map[string]context.CancelFunc

	probe probeFunc
}

func NewService(store storage.Store, rt runtime.Runtime, envs *environment.Service, maxActive, keepLogs int) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:        store,
		runtime:      rt,
		envs:         envs,
		broker:       NewBroker(),
		maxActive:    maxActive,
		keepLogs:     keepLogs,
		logger:       log.WithComponent("sandbox"),
		ctx:          ctx,
		cancel:       cancel,
		provisioning: make(map[string]bool),
		collectors:   make(map[string]context.CancelFunc),
		probe:        probeTCP,
	}
}

// Broker exposes the live log fan-out for the hub.
func (s *Service) Broker() *Broker {
	return s.broker
}

// Shutdown cancels provisioners and collectors and waits for them, bounded
// by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sandbox workers did not drain: %w", ctx.Err())
	}
}

// CreateRequest describes a new sandbox.
type CreateRequest struct {
	EnvironmentID string              `json:"environmentId"`
	VersionID     string              `json:"versionId,omitempty"`
	Name          string              `json:"name,omitempty"`
	TTLSeconds    int                 `json:"ttlSeconds,omitempty"`
	Ports         []types.PortMapping `json:"ports,omitempty"`
	Env           map[string]string   `json:"env,omitempty"`
}

var sandboxNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

func (r CreateRequest) validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.EnvironmentID, validation.Required),
		validation.Field(&r.Name,
			validation.Match(sandboxNameRe).Error("must be lowercase alphanumeric with hyphens, at most 63 characters")),
		validation.Field(&r.TTLSeconds, validation.Min(minTTLSeconds), validation.Max(maxTTLSeconds)),
	)
	if err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			details := make(map[string]interface{}, len(verrs))
			for field, ferr := range verrs {
				details[field] = ferr.Error()
			}
			return errdefs.New(errdefs.KindValidation, "invalid request").WithDetails(details)
		}
		return errdefs.Wrap(errdefs.KindValidation, "invalid request", err)
	}
	for _, p := range r.Ports {
		if p.Container < 1 || p.Container > 65535 || p.Host < 1024 || p.Host > 65535 {
			return errdefs.Newf(errdefs.KindValidation,
				"port mapping %d:%d out of range (container 1..65535, host 1024..65535)", p.Host, p.Container)
		}
	}
	return nil
}

// Create inserts a pending/creating row and hands it to the provisioner. The
// caller gets the pending row back immediately. (user, environment, name) is
// the idempotency key: re-creating an existing sandbox returns it untouched,
// and a lost insert race returns the winner's row. The bool reports whether
// this call inserted the row, so callers can keep side effects (audit
// entries) to the one actual creation.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*types.Sandbox, bool, error) {
	if err := req.validate(); err != nil {
		return nil, false, err
	}

	active, err := s.store.CountActiveSandboxes(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if active >= s.maxActive {
		return nil, false, errdefs.Newf(errdefs.KindQuotaExceeded,
			"sandbox quota reached (%d of %d active)", active, s.maxActive)
	}

	env, err := s.store.GetEnvironment(ctx, userID, req.EnvironmentID)
	if err != nil {
		return nil, false, err
	}
	versionID := req.VersionID
	if versionID == "" {
		if env.CurrentVersionID == nil {
			return nil, false, errdefs.New(errdefs.KindNotFound, "environment has no current version")
		}
		versionID = *env.CurrentVersionID
	}
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, false, err
	}
	if version.EnvironmentID != env.ID {
		return nil, false, errdefs.New(errdefs.KindNotFound, "version does not belong to this environment")
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s-%s", env.Name, randomHex(4))
	}

	if existing, err := s.store.GetSandboxByName(ctx, userID, env.ID, name); err == nil {
		return existing, false, nil
	} else if !errdefs.IsNotFound(err) {
		return nil, false, err
	}

	ports := req.Ports
	if ports == nil {
		ports = version.Ports
	}

	now := time.Now().UTC()
	sb := &types.Sandbox{
		ID:                   uuid.NewString(),
		UserID:               userID,
		EnvironmentID:        env.ID,
		EnvironmentVersionID: version.ID,
		Name:                 name,
		Status:               types.InitialState.Status,
		Phase:                types.InitialState.Phase,
		Ports:                ports,
		CreatedAt:            now,
	}
	if req.TTLSeconds > 0 {
		expires := now.Add(time.Duration(req.TTLSeconds) * time.Second)
		sb.ExpiresAt = &expires
	}

	if err := s.store.CreateSandbox(ctx, sb); err != nil {
		if errdefs.IsConflict(err) {
			// Lost the insert race: the winner's row is the sandbox.
			winner, err := s.store.GetSandboxByName(ctx, userID, env.ID, name)
			return winner, false, err
		}
		return nil, false, err
	}

	s.logger.Info().
		Str("sandbox_id", sb.ID).
		Str("user_id", userID).
		Str("name", name).
		Msg("sandbox created")

	s.spawnProvisioner(sb.ID, req.Env)
	return sb, true, nil
}

// Get returns a tenant-scoped sandbox, reconciling its row against the
// runtime first when it claims a live container.
func (s *Service) Get(ctx context.Context, userID, id string) (*types.Sandbox, error) {
	sb, err := s.store.GetSandbox(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sb.ContainerRef != nil && !sb.Status.IsTerminal() && sb.Status != types.StatusPending {
		if synced, err := s.Sync(ctx, sb.ID); err == nil {
			return synced, nil
		}
		// Reconciliation is best-effort; the stored row still answers.
	}
	return sb, nil
}

// List returns the user's sandboxes, optionally filtered.
func (s *Service) List(ctx context.Context, userID string, filter storage.SandboxFilter) ([]*types.Sandbox, error) {
	return s.store.ListSandboxes(ctx, userID, filter)
}

// Logs returns the newest tail stored log lines in chronological order.
func (s *Service) Logs(ctx context.Context, userID, id string, tail int) ([]*types.SandboxLog, error) {
	if _, err := s.store.GetSandbox(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.store.ListSandboxLogs(ctx, id, tail)
}

// Start brings a stopped sandbox back up. Any other state is a no-op
// returning the current row.
func (s *Service) Start(ctx context.Context, userID, id string) (*types.Sandbox, error) {
	sb, err := s.store.GetSandbox(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sb.Status != types.StatusStopped || sb.ContainerRef == nil {
		return sb, nil
	}

	if err := s.runtime.StartContainer(ctx, *sb.ContainerRef); err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, id, types.LifecycleState{Status: types.StatusRunning, Phase: types.PhaseHealthy},
		func(sb *types.Sandbox) {
			now := time.Now().UTC()
			sb.StartedAt = &now
			sb.StoppedAt = nil
		})
	if err != nil {
		return nil, err
	}

	s.spawnCollector(updated.ID, *updated.ContainerRef)
	return updated, nil
}

// Stop gracefully stops a running sandbox. Any other state is a no-op.
func (s *Service) Stop(ctx context.Context, userID, id string) (*types.Sandbox, error) {
	sb, err := s.store.GetSandbox(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sb.Status != types.StatusRunning || sb.ContainerRef == nil {
		return sb, nil
	}

	s.stopCollector(id)
	if err := s.runtime.StopContainer(ctx, *sb.ContainerRef, stopGrace); err != nil {
		return nil, err
	}

	return s.transition(ctx, id, types.LifecycleState{Status: types.StatusStopped, Phase: types.PhaseStopped},
		func(sb *types.Sandbox) {
			now := time.Now().UTC()
			sb.StoppedAt = &now
		})
}

// Restart restarts a running sandbox, re-stamping started_at. Any other
// state is a no-op.
func (s *Service) Restart(ctx context.Context, userID, id string) (*types.Sandbox, error) {
	sb, err := s.store.GetSandbox(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sb.Status != types.StatusRunning || sb.ContainerRef == nil {
		return sb, nil
	}

	// The follow stream ends at restart; respawn the collector against the
	// new one.
	s.stopCollector(id)
	if err := s.runtime.RestartContainer(ctx, *sb.ContainerRef, stopGrace); err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, id, types.LifecycleState{Status: types.StatusRunning, Phase: types.PhaseHealthy},
		func(sb *types.Sandbox) {
			now := time.Now().UTC()
			sb.StartedAt = &now
		})
	if err != nil {
		return nil, err
	}

	s.spawnCollector(updated.ID, *updated.ContainerRef)
	return updated, nil
}

// Destroy force-removes the container and deletes the row. Reports whether
// the sandbox existed; concurrent destroys deduplicate at the store delete.
func (s *Service) Destroy(ctx context.Context, userID, id string) (bool, error) {
	sb, err := s.store.GetSandbox(ctx, userID, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	s.stopCollector(id)
	s.broker.CloseTopic(id)

	if sb.ContainerRef != nil {
		if err := s.runtime.RemoveContainer(ctx, *sb.ContainerRef); err != nil {
			return false, err
		}
	}

	existed, err := s.store.DeleteSandbox(ctx, userID, id)
	if err != nil {
		return false, err
	}

	if existed {
		s.logger.Info().
			Str("sandbox_id", id).
			Str("user_id", userID).
			Msg("sandbox destroyed")
	}
	return existed, nil
}

// DestroyByEnvironment tears down every sandbox of an environment. Used by
// environment delete.
func (s *Service) DestroyByEnvironment(ctx context.Context, userID, environmentID string) error {
	sandboxes, err := s.store.ListSandboxesByEnvironment(ctx, environmentID)
	if err != nil {
		return err
	}
	for _, sb := range sandboxes {
		if sb.UserID != userID {
			continue
		}
		if _, err := s.Destroy(ctx, userID, sb.ID); err != nil {
			return fmt.Errorf("failed to destroy sandbox %s: %w", sb.ID, err)
		}
	}
	return nil
}

// ReplicateRequest overrides for a replica; all fields optional.
type ReplicateRequest struct {
	Name  string              `json:"name,omitempty"`
	Ports []types.PortMapping `json:"ports,omitempty"`
	Env   map[string]string   `json:"env,omitempty"`
}

// Replicate clones a sandbox from the same environment version under a new
// name, probing free host ports upward from the original's when no override
// is given. The full create pipeline runs again.
func (s *Service) Replicate(ctx context.Context, userID, id string, req ReplicateRequest) (*types.Sandbox, error) {
	orig, err := s.store.GetSandbox(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s-replica-%s", orig.Name, randomHex(2))
	}

	ports := req.Ports
	if ports == nil && len(orig.Ports) > 0 {
		ports, err = assignReplicaPorts(orig.Ports, s.probe)
		if err != nil {
			return nil, err
		}
	}

	replica, _, err := s.Create(ctx, userID, CreateRequest{
		EnvironmentID: orig.EnvironmentID,
		VersionID:     orig.EnvironmentVersionID,
		Name:          name,
		Ports:         ports,
		Env:           req.Env,
	})
	return replica, err
}

// Exec runs a batch command in a running sandbox.
func (s *Service) Exec(ctx context.Context, userID, id string, argv []string) (*runtime.ExecResult, error) {
	sb, err := s.store.GetSandbox(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sb.Status != types.StatusRunning {
		return nil, errdefs.New(errdefs.KindNotRunning, "sandbox is not running")
	}
	if sb.ContainerRef == nil {
		return nil, errdefs.New(errdefs.KindNoContainer, "sandbox has no container")
	}
	return s.runtime.ExecBatch(ctx, *sb.ContainerRef, argv)
}

// Terminal opens an interactive PTY shell in a running sandbox. The caller
// owns the returned session and must close it.
func (s *Service) Terminal(ctx context.Context, userID, id string, cols, rows uint) (runtime.Session, error) {
	sb, err := s.store.GetSandbox(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sb.Status != types.StatusRunning {
		return nil, errdefs.New(errdefs.KindNotRunning, "sandbox is not running")
	}
	if sb.ContainerRef == nil {
		return nil, errdefs.New(errdefs.KindNoContainer, "sandbox has no container")
	}
	return s.runtime.ExecInteractive(ctx, *sb.ContainerRef, cols, rows)
}

// Metrics samples the container's resource usage.
func (s *Service) Metrics(ctx context.Context, userID, id string) (*types.ContainerMetrics, error) {
	sb, err := s.store.GetSandbox(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sb.Status != types.StatusRunning {
		return nil, errdefs.New(errdefs.KindNotRunning, "sandbox is not running")
	}
	if sb.ContainerRef == nil {
		return nil, errdefs.New(errdefs.KindNoContainer, "sandbox has no container")
	}

	m, err := s.runtime.Stats(ctx, *sb.ContainerRef)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindMetricsUnavailable, "failed to sample container stats", err)
	}
	return m, nil
}

// transition applies a lifecycle transition under the row lock, rejecting
// moves the state machine does not allow.
func (s *Service) transition(ctx context.Context, id string, to types.LifecycleState, mut func(*types.Sandbox)) (*types.Sandbox, error) {
	return s.store.UpdateSandbox(ctx, id, func(sb *types.Sandbox) error {
		from := sb.State()
		if !types.CanTransition(from, to) {
			return errdefs.Newf(errdefs.KindConflict,
				"illegal transition %s/%s -> %s/%s", from.Status, from.Phase, to.Status, to.Phase)
		}
		sb.Status = to.Status
		sb.Phase = to.Phase
		if mut != nil {
			mut(sb)
		}
		return nil
	})
}

func randomHex(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(buf)
}
