package sandbox

import (
	"context"
	"time"

	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/metrics"
	"github.com/burrowhq/burrow/pkg/types"
)

// SweepExpired expires every sandbox whose TTL has passed: best-effort
// container teardown, then status=expired/phase=stopped. Errors are logged
// and retried on the next sweep.
func (s *Service) SweepExpired(ctx context.Context) {
	expired, err := s.store.ListExpiredSandboxes(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list expired sandboxes")
		return
	}

	for _, sb := range expired {
		logger := log.WithSandboxID(s.logger, sb.ID)

		s.stopCollector(sb.ID)
		if sb.ContainerRef != nil {
			if err := s.runtime.StopContainer(ctx, *sb.ContainerRef, sweepGrace); err != nil {
				logger.Warn().Err(err).Msg("failed to stop expired container")
				continue
			}
			if err := s.runtime.RemoveContainer(ctx, *sb.ContainerRef); err != nil {
				logger.Warn().Err(err).Msg("failed to remove expired container")
				continue
			}
		}

		// Reconciliation write: the sweeper is authoritative over the state
		// machine for sandboxes past their TTL.
		_, err := s.store.UpdateSandbox(ctx, sb.ID, func(sb *types.Sandbox) error {
			now := time.Now().UTC()
			sb.Status = types.StatusExpired
			sb.Phase = types.PhaseStopped
			sb.StoppedAt = &now
			return nil
		})
		if err != nil {
			logger.Warn().Err(err).Msg("failed to expire sandbox")
			continue
		}

		metrics.SandboxesExpired.Inc()
		logger.Info().Msg("sandbox expired")
	}
}

// Sync aligns a sandbox row with what the runtime reports about its
// container: running → running/healthy, exited → stopped/stopped, dead or
// absent → error/failed.
func (s *Service) Sync(ctx context.Context, sandboxID string) (*types.Sandbox, error) {
	sb, err := s.store.GetSandboxByID(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	if sb.ContainerRef == nil {
		return sb, nil
	}

	state, err := s.runtime.Inspect(ctx, *sb.ContainerRef)
	if err != nil {
		return nil, err
	}

	var target types.LifecycleState
	var kind string
	switch {
	case state == nil || state.Status == "dead":
		target = types.LifecycleState{Status: types.StatusError, Phase: types.PhaseFailed}
		kind = "failed"
	case state.Running:
		target = types.LifecycleState{Status: types.StatusRunning, Phase: types.PhaseHealthy}
		kind = "running"
	case state.Status == "exited":
		target = types.LifecycleState{Status: types.StatusStopped, Phase: types.PhaseStopped}
		kind = "stopped"
	default:
		// created, restarting, paused, removing: transitional, leave the row.
		return sb, nil
	}

	if sb.State() == target {
		return sb, nil
	}

	updated, err := s.store.UpdateSandbox(ctx, sandboxID, func(sb *types.Sandbox) error {
		now := time.Now().UTC()
		sb.Status = target.Status
		sb.Phase = target.Phase
		switch target.Status {
		case types.StatusRunning:
			if sb.StartedAt == nil {
				sb.StartedAt = &now
			}
			sb.StoppedAt = nil
		case types.StatusStopped, types.StatusError:
			if sb.StoppedAt == nil {
				sb.StoppedAt = &now
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SyncCorrections.WithLabelValues(kind).Inc()
	s.logger.Info().
		Str("sandbox_id", sandboxID).
		Str("corrected_to", string(target.Status)).
		Msg("sandbox state reconciled")
	return updated, nil
}
