package sandbox

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/metrics"
	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/types"
)

// spawnProvisioner launches the async provisioning pipeline for a sandbox.
// The registry guarantees at most one live provisioner per sandbox id; a
// second spawn for the same id is a no-op.
func (s *Service) spawnProvisioner(sandboxID string, overrideEnv map[string]string) {
	s.mu.Lock()
	if s.provisioning[sandboxID] {
		s.mu.Unlock()
		return
	}
	s.provisioning[sandboxID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.provisioning, sandboxID)
			s.mu.Unlock()
		}()
		s.provision(s.ctx, sandboxID, overrideEnv)
	}()
}

func (s *Service) provision(ctx context.Context, sandboxID string, overrideEnv map[string]string) {
	logger := log.WithSandboxID(s.logger, sandboxID)
	timer := metrics.NewTimer()

	sb, err := s.store.GetSandboxByID(ctx, sandboxID)
	if err != nil {
		logger.Error().Err(err).Msg("provisioner could not load sandbox")
		return
	}

	version, err := s.store.GetVersion(ctx, sb.EnvironmentVersionID)
	if err != nil {
		s.markFailed(ctx, sandboxID, fmt.Errorf("failed to load version: %w", err))
		return
	}

	secrets, err := s.envs.DecryptSecrets(ctx, version.ID)
	if err != nil {
		s.markFailed(ctx, sandboxID, fmt.Errorf("failed to decrypt secrets: %w", err))
		return
	}

	progress := s.progressWriter(sandboxID)

	image, err := s.resolveImage(ctx, sb, version, progress)
	if err != nil {
		s.markFailed(ctx, sandboxID, err)
		return
	}

	spec := runtime.ContainerSpec{
		Name:      fmt.Sprintf("%s-%s", sb.Name, sb.ID[:8]),
		Image:     image,
		Env:       mergeEnv(version.Env, secrets, overrideEnv, sb.ID),
		Ports:     sb.Ports,
		CPU:       version.CPU,
		MemoryMB:  version.MemoryMB,
		SandboxID: sb.ID,
		UserID:    sb.UserID,
	}
	if version.Command != nil && *version.Command != "" {
		spec.Command = []string{"/bin/sh", "-c", *version.Command}
	}

	ref, err := s.runtime.CreateContainer(ctx, spec)
	if err != nil {
		s.markFailed(ctx, sandboxID, fmt.Errorf("failed to create container: %w", err))
		return
	}

	_, err = s.transition(ctx, sandboxID, types.LifecycleState{Status: types.StatusPending, Phase: types.PhaseStarting},
		func(sb *types.Sandbox) {
			sb.ContainerRef = &ref
			sb.ProvisionStatus = "starting container"
		})
	if err != nil {
		// The row moved under us (destroy or sweep); the container is
		// orphaned until the next reconciliation pass.
		logger.Warn().Err(err).Msg("provisioner lost its row")
		return
	}

	if err := s.runtime.StartContainer(ctx, ref); err != nil {
		s.markFailed(ctx, sandboxID, fmt.Errorf("failed to start container: %w", err))
		return
	}

	healthy, err := s.runtime.WaitRunning(ctx, ref, startWait)
	if err != nil {
		s.markFailed(ctx, sandboxID, fmt.Errorf("failed waiting for container: %w", err))
		return
	}
	if !healthy {
		s.markFailed(ctx, sandboxID, fmt.Errorf("container did not become healthy within %s", startWait))
		return
	}

	_, err = s.transition(ctx, sandboxID, types.LifecycleState{Status: types.StatusRunning, Phase: types.PhaseHealthy},
		func(sb *types.Sandbox) {
			now := time.Now().UTC()
			sb.StartedAt = &now
			sb.ProvisionProgress = 100
			sb.ProvisionStatus = "running"
		})
	if err != nil {
		logger.Warn().Err(err).Msg("provisioner lost its row after start")
		return
	}

	s.spawnCollector(sandboxID, ref)

	metrics.ProvisionsTotal.WithLabelValues("success").Inc()
	timer.ObserveDuration(metrics.ProvisionDuration)
	logger.Info().Str("container_ref", ref).Msg("sandbox provisioned")
}

// resolveImage pulls the version's image, or builds one from its Dockerfile.
func (s *Service) resolveImage(ctx context.Context, sb *types.Sandbox, version *types.EnvironmentVersion, progress runtime.ProgressFunc) (string, error) {
	if version.Image != nil && *version.Image != "" {
		if err := s.runtime.EnsureImage(ctx, *version.Image, progress); err != nil {
			return "", fmt.Errorf("failed to ensure image: %w", err)
		}
		return *version.Image, nil
	}

	tag := fmt.Sprintf("burrow-build:%s", version.ID)
	if err := s.runtime.BuildImage(ctx, tag, *version.Dockerfile, version.BuildFiles, progress); err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}
	return tag, nil
}

// progressWriter persists provisioning progress, throttled to writes of at
// least 5 points (completion always lands).
func (s *Service) progressWriter(sandboxID string) runtime.ProgressFunc {
	lastWritten := -5
	return func(percent int, status string) {
		if percent-lastWritten < 5 && percent != 100 {
			return
		}
		lastWritten = percent

		_, err := s.store.UpdateSandbox(context.Background(), sandboxID, func(sb *types.Sandbox) error {
			sb.ProvisionProgress = percent
			sb.ProvisionStatus = status
			return nil
		})
		if err != nil {
			s.logger.Debug().Err(err).Str("sandbox_id", sandboxID).Msg("progress write failed")
		}
	}
}

func (s *Service) markFailed(ctx context.Context, sandboxID string, cause error) {
	metrics.ProvisionsTotal.WithLabelValues("failure").Inc()
	s.logger.Error().Err(cause).Str("sandbox_id", sandboxID).Msg("provisioning failed")

	// Row and container are kept for inspection; only the state flips.
	_, err := s.store.UpdateSandbox(ctx, sandboxID, func(sb *types.Sandbox) error {
		sb.Status = types.StatusError
		sb.Phase = types.PhaseFailed
		sb.ProvisionStatus = cause.Error()
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("sandbox_id", sandboxID).Msg("failed to record provisioning failure")
	}
}

// mergeEnv builds the container env vector: version env, then decrypted
// secrets, then the caller's override, then SANDBOX_ID — right-biased.
func mergeEnv(base types.StringMap, secrets, override map[string]string, sandboxID string) []string {
	merged := make(map[string]string, len(base)+len(secrets)+len(override)+1)
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range secrets {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	merged["SANDBOX_ID"] = sandboxID

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}
