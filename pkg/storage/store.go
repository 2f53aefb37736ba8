package storage

import (
	"context"
	"time"

	"github.com/burrowhq/burrow/pkg/types"
)

// SandboxFilter narrows ListSandboxes.
type SandboxFilter struct {
	Status        types.SandboxStatus
	EnvironmentID string
}

// Store defines the persistence interface for the control plane.
//
// Tenant-scoped reads (those taking a userID) return a NotFound error for
// rows owned by another user, so callers cannot distinguish "absent" from
// "not mine". Update methods run their mutation inside a transaction holding
// a row-level lock (SELECT ... FOR UPDATE), serializing concurrent writers
// of the same row.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)

	// API keys
	CreateAPIKey(ctx context.Context, key *types.APIKey) error
	ListAPIKeys(ctx context.Context, userID string) ([]*types.APIKey, error)
	FindAPIKeysByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error)
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error
	RevokeAPIKey(ctx context.Context, userID, id string) error

	// Environments and versions
	CreateEnvironment(ctx context.Context, env *types.Environment, version *types.EnvironmentVersion) error
	GetEnvironment(ctx context.Context, userID, id string) (*types.Environment, error)
	ListEnvironments(ctx context.Context, userID string) ([]*types.Environment, error)
	CountEnvironments(ctx context.Context, userID string) (int, error)
	CountAllEnvironments(ctx context.Context) (int, error)
	DeleteEnvironment(ctx context.Context, userID, id string) error
	GetVersion(ctx context.Context, id string) (*types.EnvironmentVersion, error)
	ListVersions(ctx context.Context, environmentID string) ([]*types.EnvironmentVersion, error)

	// AppendVersion locks the environment, passes the current version to
	// build, inserts the version build returns, and flips
	// current_version_id. Prior version rows are never written.
	AppendVersion(ctx context.Context, userID, environmentID string,
		build func(env *types.Environment, current *types.EnvironmentVersion) (*types.EnvironmentVersion, error),
	) (*types.EnvironmentVersion, error)

	// MutateVersionSecrets locks the environment and applies fn to the
	// current version's encrypted secrets map in place. The one sanctioned
	// exception to version immutability.
	MutateVersionSecrets(ctx context.Context, userID, environmentID string,
		fn func(secrets types.StringMap) (types.StringMap, error),
	) error

	// Sandboxes
	CreateSandbox(ctx context.Context, sandbox *types.Sandbox) error
	GetSandbox(ctx context.Context, userID, id string) (*types.Sandbox, error)
	GetSandboxByID(ctx context.Context, id string) (*types.Sandbox, error)
	GetSandboxByName(ctx context.Context, userID, environmentID, name string) (*types.Sandbox, error)
	ListSandboxes(ctx context.Context, userID string, filter SandboxFilter) ([]*types.Sandbox, error)
	ListSandboxesByEnvironment(ctx context.Context, environmentID string) ([]*types.Sandbox, error)
	CountActiveSandboxes(ctx context.Context, userID string) (int, error)
	CountSandboxesByStatus(ctx context.Context) (map[types.SandboxStatus]int, error)
	ListExpiredSandboxes(ctx context.Context, now time.Time) ([]*types.Sandbox, error)
	UpdateSandbox(ctx context.Context, id string, fn func(*types.Sandbox) error) (*types.Sandbox, error)
	DeleteSandbox(ctx context.Context, userID, id string) (bool, error)

	// Sandbox logs
	AppendSandboxLog(ctx context.Context, entry *types.SandboxLog) error
	ListSandboxLogs(ctx context.Context, sandboxID string, tail int) ([]*types.SandboxLog, error)
	TrimSandboxLogs(ctx context.Context, sandboxID string, keep int) error
	PurgeSandboxLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Audit
	AppendAuditEntry(ctx context.Context, entry *types.AuditEntry) error
	PurgeAuditEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
