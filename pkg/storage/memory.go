package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/burrowhq/burrow/pkg/errdefs"
	"github.com/burrowhq/burrow/pkg/types"
)

// MemoryStore is an in-memory Store with the same semantics as the Postgres
// implementation (uniqueness, tenant-scoped NotFound, serialized row
// updates). It backs service-level tests and local experiments.
type MemoryStore struct {
	mu sync.Mutex

	users     map[string]*types.User
	apiKeys   map[string]*types.APIKey
	envs      map[string]*types.Environment
	versions  map[string]*types.EnvironmentVersion
	sandboxes map[string]*types.Sandbox
	logs      map[string][]*types.SandboxLog
	audit     []*types.AuditEntry

	nextLogID int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*types.User),
		apiKeys:   make(map[string]*types.APIKey),
		envs:      make(map[string]*types.Environment),
		versions:  make(map[string]*types.EnvironmentVersion),
		sandboxes: make(map[string]*types.Sandbox),
		logs:      make(map[string][]*types.SandboxLog),
	}
}

func copyUser(u *types.User) *types.User              { cp := *u; return &cp }
func copyKey(k *types.APIKey) *types.APIKey           { cp := *k; return &cp }
func copyEnv(e *types.Environment) *types.Environment { cp := *e; return &cp }

func copyVersion(v *types.EnvironmentVersion) *types.EnvironmentVersion {
	cp := *v
	cp.BuildFiles = cloneMap(v.BuildFiles)
	cp.Env = cloneMap(v.Env)
	cp.SecretsEncrypted = cloneMap(v.SecretsEncrypted)
	cp.Ports = append(types.PortMappings(nil), v.Ports...)
	cp.Mounts = append(types.Mounts(nil), v.Mounts...)
	return &cp
}

func copySandbox(s *types.Sandbox) *types.Sandbox {
	cp := *s
	cp.Ports = append(types.PortMappings(nil), s.Ports...)
	return &cp
}

func cloneMap(m types.StringMap) types.StringMap {
	if m == nil {
		return nil
	}
	cp := make(types.StringMap, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// ---- Users ----

func (s *MemoryStore) CreateUser(_ context.Context, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == user.Email {
			return errdefs.New(errdefs.KindConflict, "email already registered")
		}
	}
	s.users[user.ID] = copyUser(user)
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "user not found")
	}
	return copyUser(user), nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Email == email {
			return copyUser(user), nil
		}
	}
	return nil, errdefs.New(errdefs.KindNotFound, "user not found")
}

// ---- API keys ----

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *types.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[key.ID] = copyKey(key)
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context, userID string) ([]*types.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []*types.APIKey
	for _, key := range s.apiKeys {
		if key.UserID == userID {
			keys = append(keys, copyKey(key))
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (s *MemoryStore) FindAPIKeysByPrefix(_ context.Context, prefix string) ([]*types.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []*types.APIKey
	for _, key := range s.apiKeys {
		if key.Prefix == prefix && key.RevokedAt == nil {
			keys = append(keys, copyKey(key))
		}
	}
	return keys, nil
}

func (s *MemoryStore) TouchAPIKey(_ context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.apiKeys[id]; ok {
		key.LastUsedAt = &usedAt
	}
	return nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok || key.UserID != userID || key.RevokedAt != nil {
		return errdefs.New(errdefs.KindNotFound, "api key not found")
	}
	now := time.Now()
	key.RevokedAt = &now
	return nil
}

// ---- Environments ----

func (s *MemoryStore) CreateEnvironment(_ context.Context, env *types.Environment, version *types.EnvironmentVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.envs {
		if existing.UserID == env.UserID && existing.Name == env.Name {
			return errdefs.New(errdefs.KindConflict, "environment name already in use")
		}
	}

	stored := copyEnv(env)
	stored.CurrentVersionID = &version.ID
	s.envs[env.ID] = stored
	s.versions[version.ID] = copyVersion(version)
	env.CurrentVersionID = &version.ID
	return nil
}

func (s *MemoryStore) getEnvLocked(userID, id string) (*types.Environment, error) {
	env, ok := s.envs[id]
	if !ok || env.UserID != userID {
		return nil, errdefs.New(errdefs.KindNotFound, "environment not found")
	}
	return env, nil
}

func (s *MemoryStore) GetEnvironment(_ context.Context, userID, id string) (*types.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.getEnvLocked(userID, id)
	if err != nil {
		return nil, err
	}
	return copyEnv(env), nil
}

func (s *MemoryStore) ListEnvironments(_ context.Context, userID string) ([]*types.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var envs []*types.Environment
	for _, env := range s.envs {
		if env.UserID == userID {
			envs = append(envs, copyEnv(env))
		}
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].CreatedAt.Before(envs[j].CreatedAt) })
	return envs, nil
}

func (s *MemoryStore) CountEnvironments(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, env := range s.envs {
		if env.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountAllEnvironments(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs), nil
}

func (s *MemoryStore) DeleteEnvironment(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getEnvLocked(userID, id); err != nil {
		return err
	}

	delete(s.envs, id)
	for vid, v := range s.versions {
		if v.EnvironmentID == id {
			delete(s.versions, vid)
		}
	}
	for sid, sb := range s.sandboxes {
		if sb.EnvironmentID == id {
			delete(s.sandboxes, sid)
			delete(s.logs, sid)
		}
	}
	return nil
}

func (s *MemoryStore) GetVersion(_ context.Context, id string) (*types.EnvironmentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, ok := s.versions[id]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "environment version not found")
	}
	return copyVersion(version), nil
}

func (s *MemoryStore) ListVersions(_ context.Context, environmentID string) ([]*types.EnvironmentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var versions []*types.EnvironmentVersion
	for _, v := range s.versions {
		if v.EnvironmentID == environmentID {
			versions = append(versions, copyVersion(v))
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

func (s *MemoryStore) AppendVersion(_ context.Context, userID, environmentID string,
	build func(env *types.Environment, current *types.EnvironmentVersion) (*types.EnvironmentVersion, error),
) (*types.EnvironmentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.getEnvLocked(userID, environmentID)
	if err != nil {
		return nil, err
	}
	if env.CurrentVersionID == nil {
		return nil, errdefs.New(errdefs.KindNotFound, "environment has no current version")
	}
	current, ok := s.versions[*env.CurrentVersionID]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "current version not found")
	}

	next, err := build(copyEnv(env), copyVersion(current))
	if err != nil {
		return nil, err
	}

	s.versions[next.ID] = copyVersion(next)
	env.CurrentVersionID = &next.ID
	env.UpdatedAt = time.Now()
	return next, nil
}

func (s *MemoryStore) MutateVersionSecrets(_ context.Context, userID, environmentID string,
	fn func(secrets types.StringMap) (types.StringMap, error),
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.getEnvLocked(userID, environmentID)
	if err != nil {
		return err
	}
	if env.CurrentVersionID == nil {
		return errdefs.New(errdefs.KindNotFound, "environment has no current version")
	}
	current, ok := s.versions[*env.CurrentVersionID]
	if !ok {
		return errdefs.New(errdefs.KindNotFound, "current version not found")
	}

	next, err := fn(cloneMap(current.SecretsEncrypted))
	if err != nil {
		return err
	}
	current.SecretsEncrypted = next
	env.UpdatedAt = time.Now()
	return nil
}

// ---- Sandboxes ----

func (s *MemoryStore) CreateSandbox(_ context.Context, sandbox *types.Sandbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sandboxes {
		if existing.UserID == sandbox.UserID &&
			existing.EnvironmentID == sandbox.EnvironmentID &&
			existing.Name == sandbox.Name {
			return errdefs.New(errdefs.KindConflict, "sandbox name already in use")
		}
	}
	s.sandboxes[sandbox.ID] = copySandbox(sandbox)
	return nil
}

func (s *MemoryStore) GetSandbox(_ context.Context, userID, id string) (*types.Sandbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sandbox, ok := s.sandboxes[id]
	if !ok || sandbox.UserID != userID {
		return nil, errdefs.New(errdefs.KindNotFound, "sandbox not found")
	}
	return copySandbox(sandbox), nil
}

func (s *MemoryStore) GetSandboxByID(_ context.Context, id string) (*types.Sandbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sandbox, ok := s.sandboxes[id]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "sandbox not found")
	}
	return copySandbox(sandbox), nil
}

func (s *MemoryStore) GetSandboxByName(_ context.Context, userID, environmentID, name string) (*types.Sandbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sandbox := range s.sandboxes {
		if sandbox.UserID == userID && sandbox.EnvironmentID == environmentID && sandbox.Name == name {
			return copySandbox(sandbox), nil
		}
	}
	return nil, errdefs.New(errdefs.KindNotFound, "sandbox not found")
}

func (s *MemoryStore) ListSandboxes(_ context.Context, userID string, filter SandboxFilter) ([]*types.Sandbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sandboxes []*types.Sandbox
	for _, sandbox := range s.sandboxes {
		if sandbox.UserID != userID {
			continue
		}
		if filter.Status != "" && sandbox.Status != filter.Status {
			continue
		}
		if filter.EnvironmentID != "" && sandbox.EnvironmentID != filter.EnvironmentID {
			continue
		}
		sandboxes = append(sandboxes, copySandbox(sandbox))
	}
	sort.Slice(sandboxes, func(i, j int) bool {
		return sandboxes[i].CreatedAt.After(sandboxes[j].CreatedAt)
	})
	return sandboxes, nil
}

func (s *MemoryStore) ListSandboxesByEnvironment(_ context.Context, environmentID string) ([]*types.Sandbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sandboxes []*types.Sandbox
	for _, sandbox := range s.sandboxes {
		if sandbox.EnvironmentID == environmentID {
			sandboxes = append(sandboxes, copySandbox(sandbox))
		}
	}
	return sandboxes, nil
}

func (s *MemoryStore) CountActiveSandboxes(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, sandbox := range s.sandboxes {
		if sandbox.UserID == userID && !sandbox.Status.IsTerminal() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountSandboxesByStatus(_ context.Context) (map[types.SandboxStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[types.SandboxStatus]int)
	for _, sandbox := range s.sandboxes {
		counts[sandbox.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) ListExpiredSandboxes(_ context.Context, now time.Time) ([]*types.Sandbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*types.Sandbox
	for _, sandbox := range s.sandboxes {
		if sandbox.ExpiresAt != nil && sandbox.ExpiresAt.Before(now) && !sandbox.Status.IsTerminal() {
			expired = append(expired, copySandbox(sandbox))
		}
	}
	return expired, nil
}

func (s *MemoryStore) UpdateSandbox(_ context.Context, id string, fn func(*types.Sandbox) error) (*types.Sandbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sandbox, ok := s.sandboxes[id]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "sandbox not found")
	}

	// fn works on a copy; the stored row changes only if fn succeeds,
	// mirroring transaction rollback.
	updated := copySandbox(sandbox)
	if err := fn(updated); err != nil {
		return nil, err
	}
	s.sandboxes[id] = updated
	return copySandbox(updated), nil
}

func (s *MemoryStore) DeleteSandbox(_ context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sandbox, ok := s.sandboxes[id]
	if !ok || sandbox.UserID != userID {
		return false, nil
	}
	delete(s.sandboxes, id)
	delete(s.logs, id)
	return true, nil
}

// ---- Sandbox logs ----

func (s *MemoryStore) AppendSandboxLog(_ context.Context, entry *types.SandboxLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLogID++
	cp := *entry
	cp.ID = s.nextLogID
	s.logs[entry.SandboxID] = append(s.logs[entry.SandboxID], &cp)
	entry.ID = cp.ID
	return nil
}

func (s *MemoryStore) ListSandboxLogs(_ context.Context, sandboxID string, tail int) ([]*types.SandboxLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs := s.logs[sandboxID]
	if len(logs) > tail {
		logs = logs[len(logs)-tail:]
	}
	out := make([]*types.SandboxLog, len(logs))
	for i, l := range logs {
		cp := *l
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) TrimSandboxLogs(_ context.Context, sandboxID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs := s.logs[sandboxID]
	if len(logs) > keep {
		s.logs[sandboxID] = append([]*types.SandboxLog(nil), logs[len(logs)-keep:]...)
	}
	return nil
}

func (s *MemoryStore) PurgeSandboxLogsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, logs := range s.logs {
		var kept []*types.SandboxLog
		for _, l := range logs {
			if l.Timestamp.Before(cutoff) {
				purged++
			} else {
				kept = append(kept, l)
			}
		}
		s.logs[id] = kept
	}
	return purged, nil
}

// ---- Audit ----

func (s *MemoryStore) AppendAuditEntry(_ context.Context, entry *types.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	cp.ID = int64(len(s.audit) + 1)
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *MemoryStore) PurgeAuditEntriesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []*types.AuditEntry
	var purged int64
	for _, entry := range s.audit {
		if entry.CreatedAt.Before(cutoff) {
			purged++
		} else {
			kept = append(kept, entry)
		}
	}
	s.audit = kept
	return purged, nil
}

// AuditEntries returns a snapshot of recorded audit entries, for tests.
func (s *MemoryStore) AuditEntries() []*types.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.AuditEntry, len(s.audit))
	for i, entry := range s.audit {
		cp := *entry
		out[i] = &cp
	}
	return out
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }
