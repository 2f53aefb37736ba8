package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/burrowhq/burrow/pkg/api"
	"github.com/burrowhq/burrow/pkg/audit"
	"github.com/burrowhq/burrow/pkg/auth"
	"github.com/burrowhq/burrow/pkg/config"
	"github.com/burrowhq/burrow/pkg/environment"
	"github.com/burrowhq/burrow/pkg/hub"
	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/sandbox"
	"github.com/burrowhq/burrow/pkg/security"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/worker"
)

const containerStopGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})

		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	logger := log.WithComponent("main")
	logger.Info().
		Str("version", Version).
		Str("environment", cfg.Environment).
		Msg("starting burrow")

	// Storage.
	store, err := storage.Open(cfg.DatabaseURL, cfg.DatabasePoolSize)
	if err != nil {
		return err
	}
	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelBoot()
	if err := store.Ping(bootCtx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}
	if err := storage.Migrate(bootCtx, store.DB()); err != nil {
		return err
	}

	// Container engine.
	rt, err := runtime.NewDockerRuntime(cfg.RuntimeSocket)
	if err != nil {
		return err
	}
	if err := rt.Ping(bootCtx); err != nil {
		return fmt.Errorf("failed to reach container runtime: %w", err)
	}

	// Secrets vault and session signing.
	vault, err := security.NewVaultFromConfig(cfg.SecretsMasterKey, cfg.Production())
	if err != nil {
		return err
	}
	signingSecret, err := sessionSigningSecret(cfg)
	if err != nil {
		return err
	}

	// Services.
	envs := environment.NewService(store, vault, cfg.MaxEnvironmentsPerUser)
	sandboxes := sandbox.NewService(store, rt, envs, cfg.MaxSandboxesPerUser, cfg.LogRetentionPerSandbox)
	envs.SetDestroyer(sandboxes)
	authSvc := auth.NewService(store, signingSecret, cfg.SessionTTL)
	recorder := audit.NewRecorder(store)
	h := hub.New(sandboxes, cfg.CORSOrigin)
	srv := api.NewServer(cfg, authSvc, envs, sandboxes, h, recorder)

	// Background loops.
	health := api.NewHealthMonitor(store, rt)
	health.Start()
	workers := worker.NewGroup(cfg, store, sandboxes)
	workers.Start()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server failed")
	}

	// Coordinated teardown in dependency order under one hard deadline:
	// stop accepting requests, drain async work, tear down every owned
	// container, then release the backends.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("http server did not drain cleanly")
	}
	h.Close()
	workers.Stop()
	health.Stop()
	if err := sandboxes.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("sandbox workers did not drain cleanly")
	}

	removeOwnedContainers(ctx, logger, rt)

	recorder.Close()
	if err := rt.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close runtime client")
	}
	if err := store.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close store")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// removeOwnedContainers stops and removes every container carrying the
// platform label, in parallel so the shutdown deadline covers the slowest
// container rather than the sum. Sandboxes are disposable; their rows
// survive and the sync loop marks them stopped on the next boot.
func removeOwnedContainers(ctx context.Context, logger zerolog.Logger, rt runtime.Runtime) {
	refs, err := rt.ListOwned(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to list owned containers")
		return
	}
	if len(refs) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, ref := range refs {
		g.Go(func() error {
			if err := rt.StopContainer(ctx, ref, containerStopGrace); err != nil {
				logger.Warn().Err(err).Str("container", ref).Msg("failed to stop container")
				return nil
			}
			if err := rt.RemoveContainer(ctx, ref); err != nil {
				logger.Warn().Err(err).Str("container", ref).Msg("failed to remove container")
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info().Int("count", len(refs)).Msg("owned containers removed")
}

func sessionSigningSecret(cfg *config.Config) ([]byte, error) {
	if cfg.SessionSigningSecret != "" {
		return []byte(cfg.SessionSigningSecret), nil
	}

	// Development convenience: sessions do not survive a restart.
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate session signing secret: %w", err)
	}
	logger := log.WithComponent("main")
	logger.Warn().
		Msg("SESSION_SIGNING_SECRET not set; using an ephemeral secret - sessions become invalid after restart")
	return secret, nil
}
