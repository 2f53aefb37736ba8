package environment

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/errdefs"
	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/security"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
)

// SandboxDestroyer tears down every sandbox derived from an environment.
// Implemented by the sandbox service; wired after construction to avoid a
// package cycle.
type SandboxDestroyer interface {
	DestroyByEnvironment(ctx context.Context, userID, environmentID string) error
}

// Service owns environments and their immutable version chains.
type Service struct {
	store      storage.Store
	vault      *security.Vault
	maxPerUser int
	destroyer  SandboxDestroyer
	logger     zerolog.Logger
}

func NewService(store storage.Store, vault *security.Vault, maxPerUser int) *Service {
	return &Service{
		store:      store,
		vault:      vault,
		maxPerUser: maxPerUser,
		logger:     log.WithComponent("environment"),
	}
}

// SetDestroyer wires the sandbox teardown hook used by Delete.
func (s *Service) SetDestroyer(d SandboxDestroyer) {
	s.destroyer = d
}

// SecretRef is how secrets appear in every API response: key only.
type SecretRef struct {
	Key      string `json:"key"`
	Redacted bool   `json:"redacted"`
}

// VersionView is the response shape of one version. Secret values are never
// present.
type VersionView struct {
	ID         string              `json:"id"`
	Version    int                 `json:"version"`
	Image      *string             `json:"image,omitempty"`
	Dockerfile *string             `json:"dockerfile,omitempty"`
	BuildFiles map[string]string   `json:"buildFiles,omitempty"`
	Command    *string             `json:"command,omitempty"`
	CPU        float64             `json:"cpu"`
	MemoryMB   int                 `json:"memoryMb"`
	Ports      []types.PortMapping `json:"ports"`
	Env        map[string]string   `json:"env"`
	Secrets    []SecretRef         `json:"secrets"`
	Mounts     []types.Mount       `json:"mounts,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// View is the response shape of an environment with its current version.
type View struct {
	types.Environment
	CurrentVersion *VersionView `json:"currentVersion,omitempty"`
}

func newVersionView(v *types.EnvironmentVersion) *VersionView {
	secrets := make([]SecretRef, 0, len(v.SecretsEncrypted))
	for key := range v.SecretsEncrypted {
		secrets = append(secrets, SecretRef{Key: key, Redacted: true})
	}
	sort.Slice(secrets, func(i, j int) bool { return secrets[i].Key < secrets[j].Key })

	return &VersionView{
		ID:         v.ID,
		Version:    v.Version,
		Image:      v.Image,
		Dockerfile: v.Dockerfile,
		BuildFiles: v.BuildFiles,
		Command:    v.Command,
		CPU:        v.CPU,
		MemoryMB:   v.MemoryMB,
		Ports:      v.Ports,
		Env:        v.Env,
		Secrets:    secrets,
		Mounts:     v.Mounts,
		CreatedAt:  v.CreatedAt,
	}
}

// Create validates the request, enforces the per-user quota, and inserts the
// environment with version 1 in one transaction.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*View, error) {
	req.applyDefaults()
	if err := req.validate(); err != nil {
		return nil, err
	}

	count, err := s.store.CountEnvironments(ctx, userID)
	if err != nil {
		return nil, err
	}
	if count >= s.maxPerUser {
		return nil, errdefs.Newf(errdefs.KindQuotaExceeded,
			"environment quota reached (%d of %d)", count, s.maxPerUser)
	}

	encrypted, err := s.vault.EncryptMap(req.Secrets)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	env := &types.Environment{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      req.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	version := &types.EnvironmentVersion{
		ID:               uuid.NewString(),
		EnvironmentID:    env.ID,
		Version:          1,
		BuildFiles:       req.BuildFiles,
		CPU:              req.CPU,
		MemoryMB:         req.MemoryMB,
		Ports:            req.Ports,
		Env:              req.Env,
		SecretsEncrypted: encrypted,
		Mounts:           req.Mounts,
		CreatedAt:        now,
	}
	if req.Image != "" {
		image := req.Image
		version.Image = &image
	}
	if req.Dockerfile != "" {
		dockerfile := req.Dockerfile
		version.Dockerfile = &dockerfile
	}
	if req.Command != "" {
		command := req.Command
		version.Command = &command
	}

	if err := s.store.CreateEnvironment(ctx, env, version); err != nil {
		return nil, err
	}

	logger := log.WithUserID(log.WithEnvironmentID(s.logger, env.ID), userID)
	logger.Info().Str("name", env.Name).Msg("environment created")

	env.CurrentVersionID = &version.ID
	return &View{Environment: *env, CurrentVersion: newVersionView(version)}, nil
}

// Update appends the next version under the environment's row lock, carrying
// over every field the patch leaves nil, including the encrypted secrets map.
// Prior versions are never touched.
func (s *Service) Update(ctx context.Context, userID, environmentID string, req UpdateRequest) (*View, error) {
	version, err := s.store.AppendVersion(ctx, userID, environmentID,
		func(env *types.Environment, current *types.EnvironmentVersion) (*types.EnvironmentVersion, error) {
			next := *current
			next.ID = uuid.NewString()
			next.Version = current.Version + 1
			next.CreatedAt = time.Now().UTC()

			// Clone shared columns so the new row never aliases the old
			// one's maps.
			next.BuildFiles = cloneMap(current.BuildFiles)
			next.Env = cloneMap(current.Env)
			next.SecretsEncrypted = cloneMap(current.SecretsEncrypted)
			next.Ports = append(types.PortMappings(nil), current.Ports...)
			next.Mounts = append(types.Mounts(nil), current.Mounts...)

			if req.Image != nil {
				next.Image = req.Image
				next.Dockerfile = nil
			}
			if req.Dockerfile != nil {
				next.Dockerfile = req.Dockerfile
				next.Image = nil
			}
			if req.BuildFiles != nil {
				next.BuildFiles = req.BuildFiles
			}
			if req.Command != nil {
				next.Command = req.Command
			}
			if req.CPU != nil {
				next.CPU = *req.CPU
			}
			if req.MemoryMB != nil {
				next.MemoryMB = *req.MemoryMB
			}
			if req.Ports != nil {
				next.Ports = req.Ports
			}
			if req.Env != nil {
				next.Env = req.Env
			}
			if req.Mounts != nil {
				next.Mounts = req.Mounts
			}

			if err := validateVersion(&next); err != nil {
				return nil, err
			}
			return &next, nil
		})
	if err != nil {
		return nil, err
	}

	env, err := s.store.GetEnvironment(ctx, userID, environmentID)
	if err != nil {
		return nil, err
	}

	logger := log.WithEnvironmentID(s.logger, environmentID)
	logger.Info().Int("version", version.Version).Msg("environment version appended")

	return &View{Environment: *env, CurrentVersion: newVersionView(version)}, nil
}

// Get returns one environment with its current version.
func (s *Service) Get(ctx context.Context, userID, environmentID string) (*View, error) {
	env, err := s.store.GetEnvironment(ctx, userID, environmentID)
	if err != nil {
		return nil, err
	}
	return s.toView(ctx, env)
}

// List returns all environments owned by the user.
func (s *Service) List(ctx context.Context, userID string) ([]*View, error) {
	envs, err := s.store.ListEnvironments(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]*View, 0, len(envs))
	for _, env := range envs {
		view, err := s.toView(ctx, env)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// Delete destroys every sandbox derived from the environment, then removes
// the environment and its versions.
func (s *Service) Delete(ctx context.Context, userID, environmentID string) error {
	// Ownership check up front so a foreign id fails before any teardown.
	if _, err := s.store.GetEnvironment(ctx, userID, environmentID); err != nil {
		return err
	}

	if s.destroyer != nil {
		if err := s.destroyer.DestroyByEnvironment(ctx, userID, environmentID); err != nil {
			return err
		}
	}

	if err := s.store.DeleteEnvironment(ctx, userID, environmentID); err != nil {
		return err
	}

	logger := log.WithUserID(log.WithEnvironmentID(s.logger, environmentID), userID)
	logger.Info().Msg("environment deleted")
	return nil
}

// SetSecret encrypts the value and stores it under key on the current
// version.
func (s *Service) SetSecret(ctx context.Context, userID, environmentID, key, value string) error {
	if err := validateSecretKey(key); err != nil {
		return err
	}

	ciphertext, err := s.vault.Encrypt(value)
	if err != nil {
		return err
	}

	return s.store.MutateVersionSecrets(ctx, userID, environmentID,
		func(secrets types.StringMap) (types.StringMap, error) {
			if secrets == nil {
				secrets = types.StringMap{}
			}
			secrets[key] = ciphertext
			return secrets, nil
		})
}

// DeleteSecret removes key from the current version's secrets map.
func (s *Service) DeleteSecret(ctx context.Context, userID, environmentID, key string) error {
	return s.store.MutateVersionSecrets(ctx, userID, environmentID,
		func(secrets types.StringMap) (types.StringMap, error) {
			if _, ok := secrets[key]; !ok {
				return nil, errdefs.Newf(errdefs.KindNotFound, "secret %q not found", key)
			}
			delete(secrets, key)
			return secrets, nil
		})
}

// ListVersions returns the environment's version chain, redacted.
func (s *Service) ListVersions(ctx context.Context, userID, environmentID string) ([]*VersionView, error) {
	if _, err := s.store.GetEnvironment(ctx, userID, environmentID); err != nil {
		return nil, err
	}

	versions, err := s.store.ListVersions(ctx, environmentID)
	if err != nil {
		return nil, err
	}

	views := make([]*VersionView, 0, len(versions))
	for _, v := range versions {
		views = append(views, newVersionView(v))
	}
	return views, nil
}

// GetVersion returns one version row for internal callers. Not redacted;
// never serialized to a response.
func (s *Service) GetVersion(ctx context.Context, versionID string) (*types.EnvironmentVersion, error) {
	return s.store.GetVersion(ctx, versionID)
}

// DecryptSecrets decrypts a version's secrets for the provisioner. Plaintext
// goes straight into the container env vector and nowhere else.
func (s *Service) DecryptSecrets(ctx context.Context, versionID string) (map[string]string, error) {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return s.vault.DecryptMap(version.SecretsEncrypted)
}

func (s *Service) toView(ctx context.Context, env *types.Environment) (*View, error) {
	view := &View{Environment: *env}
	if env.CurrentVersionID != nil {
		version, err := s.store.GetVersion(ctx, *env.CurrentVersionID)
		if err != nil {
			return nil, err
		}
		view.CurrentVersion = newVersionView(version)
	}
	return view, nil
}

func cloneMap(m types.StringMap) types.StringMap {
	if m == nil {
		return nil
	}
	out := make(types.StringMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
