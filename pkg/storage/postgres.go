package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/burrowhq/burrow/pkg/errdefs"
	"github.com/burrowhq/burrow/pkg/types"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL via sqlx over the pgx stdlib
// driver.
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

// Open connects to Postgres and configures the pool.
func Open(databaseURL string, poolSize int) (*PostgresStore, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize / 2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresStore{db: db}, nil
}

// DB exposes the underlying pool for migrations.
func (s *PostgresStore) DB() *sql.DB {
	return s.db.DB
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a Postgres duplicate-key error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errdefs.New(errdefs.KindNotFound, msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// ---- Users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user *types.User) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, password_verifier, created_at)
		VALUES (:id, :email, :password_verifier, :created_at)`, user)
	if isUniqueViolation(err) {
		return errdefs.New(errdefs.KindConflict, "email already registered")
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*types.User, error) {
	var user types.User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, notFoundOr(err, "user not found")
	}
	return &user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	var user types.User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = $1`, email)
	if err != nil {
		return nil, notFoundOr(err, "user not found")
	}
	return &user, nil
}

// ---- API keys ----

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *types.APIKey) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, prefix, hashed_secret, name, created_at)
		VALUES (:id, :user_id, :prefix, :hashed_secret, :name, :created_at)`, key)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID string) ([]*types.APIKey, error) {
	var keys []*types.APIKey
	err := s.db.SelectContext(ctx, &keys, `
		SELECT * FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) FindAPIKeysByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error) {
	var keys []*types.APIKey
	err := s.db.SelectContext(ctx, &keys, `
		SELECT * FROM api_keys WHERE prefix = $1 AND revoked_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to find api keys: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = now()
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.New(errdefs.KindNotFound, "api key not found")
	}
	return nil
}

// ---- Environments ----

const insertVersionSQL = `
	INSERT INTO environment_versions
		(id, environment_id, version, image, dockerfile, build_files, command,
		 cpu, memory_mb, ports, env, secrets_encrypted, mounts, created_at)
	VALUES
		(:id, :environment_id, :version, :image, :dockerfile, :build_files, :command,
		 :cpu, :memory_mb, :ports, :env, :secrets_encrypted, :mounts, :created_at)`

func (s *PostgresStore) CreateEnvironment(ctx context.Context, env *types.Environment, version *types.EnvironmentVersion) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO environments (id, user_id, name, created_at, updated_at)
		VALUES (:id, :user_id, :name, :created_at, :updated_at)`, env)
	if isUniqueViolation(err) {
		return errdefs.New(errdefs.KindConflict, "environment name already in use")
	}
	if err != nil {
		return fmt.Errorf("failed to insert environment: %w", err)
	}

	if _, err := tx.NamedExecContext(ctx, insertVersionSQL, version); err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE environments SET current_version_id = $2 WHERE id = $1`, env.ID, version.ID); err != nil {
		return fmt.Errorf("failed to set current version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	env.CurrentVersionID = &version.ID
	return nil
}

func (s *PostgresStore) GetEnvironment(ctx context.Context, userID, id string) (*types.Environment, error) {
	var env types.Environment
	err := s.db.GetContext(ctx, &env, `
		SELECT * FROM environments WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return nil, notFoundOr(err, "environment not found")
	}
	return &env, nil
}

func (s *PostgresStore) ListEnvironments(ctx context.Context, userID string) ([]*types.Environment, error) {
	var envs []*types.Environment
	err := s.db.SelectContext(ctx, &envs, `
		SELECT * FROM environments WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	return envs, nil
}

func (s *PostgresStore) CountEnvironments(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT count(*) FROM environments WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count environments: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountAllEnvironments(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT count(*) FROM environments`)
	if err != nil {
		return 0, fmt.Errorf("failed to count environments: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) DeleteEnvironment(ctx context.Context, userID, id string) error {
	// current_version_id references a version row; clear it before the
	// cascade removes the versions.
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE environments SET current_version_id = NULL
		WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to clear current version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.New(errdefs.KindNotFound, "environment not found")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM environments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete environment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, id string) (*types.EnvironmentVersion, error) {
	var version types.EnvironmentVersion
	err := s.db.GetContext(ctx, &version, `SELECT * FROM environment_versions WHERE id = $1`, id)
	if err != nil {
		return nil, notFoundOr(err, "environment version not found")
	}
	return &version, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, environmentID string) ([]*types.EnvironmentVersion, error) {
	var versions []*types.EnvironmentVersion
	err := s.db.SelectContext(ctx, &versions, `
		SELECT * FROM environment_versions WHERE environment_id = $1 ORDER BY version`, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return versions, nil
}

func (s *PostgresStore) AppendVersion(ctx context.Context, userID, environmentID string,
	build func(env *types.Environment, current *types.EnvironmentVersion) (*types.EnvironmentVersion, error),
) (*types.EnvironmentVersion, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var env types.Environment
	err = tx.GetContext(ctx, &env, `
		SELECT * FROM environments WHERE id = $1 AND user_id = $2 FOR UPDATE`, environmentID, userID)
	if err != nil {
		return nil, notFoundOr(err, "environment not found")
	}
	if env.CurrentVersionID == nil {
		return nil, errdefs.New(errdefs.KindNotFound, "environment has no current version")
	}

	var current types.EnvironmentVersion
	err = tx.GetContext(ctx, &current, `
		SELECT * FROM environment_versions WHERE id = $1`, *env.CurrentVersionID)
	if err != nil {
		return nil, notFoundOr(err, "current version not found")
	}

	next, err := build(&env, &current)
	if err != nil {
		return nil, err
	}

	if _, err := tx.NamedExecContext(ctx, insertVersionSQL, next); err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE environments SET current_version_id = $2, updated_at = now()
		WHERE id = $1`, environmentID, next.ID); err != nil {
		return nil, fmt.Errorf("failed to flip current version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) MutateVersionSecrets(ctx context.Context, userID, environmentID string,
	fn func(secrets types.StringMap) (types.StringMap, error),
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var env types.Environment
	err = tx.GetContext(ctx, &env, `
		SELECT * FROM environments WHERE id = $1 AND user_id = $2 FOR UPDATE`, environmentID, userID)
	if err != nil {
		return notFoundOr(err, "environment not found")
	}
	if env.CurrentVersionID == nil {
		return errdefs.New(errdefs.KindNotFound, "environment has no current version")
	}

	var current types.EnvironmentVersion
	err = tx.GetContext(ctx, &current, `
		SELECT * FROM environment_versions WHERE id = $1`, *env.CurrentVersionID)
	if err != nil {
		return notFoundOr(err, "current version not found")
	}

	next, err := fn(current.SecretsEncrypted)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE environment_versions SET secrets_encrypted = $2 WHERE id = $1`,
		current.ID, next); err != nil {
		return fmt.Errorf("failed to update secrets: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE environments SET updated_at = now() WHERE id = $1`, environmentID); err != nil {
		return fmt.Errorf("failed to stamp environment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// ---- Sandboxes ----

func (s *PostgresStore) CreateSandbox(ctx context.Context, sandbox *types.Sandbox) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sandboxes
			(id, user_id, environment_id, environment_version_id, name, container_ref,
			 status, phase, ports, created_at, started_at, stopped_at, expires_at,
			 provision_progress, provision_status)
		VALUES
			(:id, :user_id, :environment_id, :environment_version_id, :name, :container_ref,
			 :status, :phase, :ports, :created_at, :started_at, :stopped_at, :expires_at,
			 :provision_progress, :provision_status)`, sandbox)
	if isUniqueViolation(err) {
		return errdefs.New(errdefs.KindConflict, "sandbox name already in use")
	}
	if err != nil {
		return fmt.Errorf("failed to create sandbox: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSandbox(ctx context.Context, userID, id string) (*types.Sandbox, error) {
	var sandbox types.Sandbox
	err := s.db.GetContext(ctx, &sandbox, `
		SELECT * FROM sandboxes WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return nil, notFoundOr(err, "sandbox not found")
	}
	return &sandbox, nil
}

func (s *PostgresStore) GetSandboxByID(ctx context.Context, id string) (*types.Sandbox, error) {
	var sandbox types.Sandbox
	err := s.db.GetContext(ctx, &sandbox, `SELECT * FROM sandboxes WHERE id = $1`, id)
	if err != nil {
		return nil, notFoundOr(err, "sandbox not found")
	}
	return &sandbox, nil
}

func (s *PostgresStore) GetSandboxByName(ctx context.Context, userID, environmentID, name string) (*types.Sandbox, error) {
	var sandbox types.Sandbox
	err := s.db.GetContext(ctx, &sandbox, `
		SELECT * FROM sandboxes
		WHERE user_id = $1 AND environment_id = $2 AND name = $3`, userID, environmentID, name)
	if err != nil {
		return nil, notFoundOr(err, "sandbox not found")
	}
	return &sandbox, nil
}

func (s *PostgresStore) ListSandboxes(ctx context.Context, userID string, filter SandboxFilter) ([]*types.Sandbox, error) {
	query := `SELECT * FROM sandboxes WHERE user_id = $1`
	args := []interface{}{userID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.EnvironmentID != "" {
		args = append(args, filter.EnvironmentID)
		query += fmt.Sprintf(" AND environment_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	var sandboxes []*types.Sandbox
	if err := s.db.SelectContext(ctx, &sandboxes, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sandboxes: %w", err)
	}
	return sandboxes, nil
}

func (s *PostgresStore) ListSandboxesByEnvironment(ctx context.Context, environmentID string) ([]*types.Sandbox, error) {
	var sandboxes []*types.Sandbox
	err := s.db.SelectContext(ctx, &sandboxes, `
		SELECT * FROM sandboxes WHERE environment_id = $1`, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sandboxes: %w", err)
	}
	return sandboxes, nil
}

func (s *PostgresStore) CountActiveSandboxes(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT count(*) FROM sandboxes
		WHERE user_id = $1 AND status NOT IN ('stopped', 'expired', 'error')`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count sandboxes: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountSandboxesByStatus(ctx context.Context) (map[types.SandboxStatus]int, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT status, count(*) FROM sandboxes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sandboxes by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.SandboxStatus]int)
	for rows.Next() {
		var status types.SandboxStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (s *PostgresStore) ListExpiredSandboxes(ctx context.Context, now time.Time) ([]*types.Sandbox, error) {
	var sandboxes []*types.Sandbox
	err := s.db.SelectContext(ctx, &sandboxes, `
		SELECT * FROM sandboxes
		WHERE expires_at IS NOT NULL AND expires_at < $1
		  AND status NOT IN ('expired', 'stopped', 'error')`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sandboxes: %w", err)
	}
	return sandboxes, nil
}

func (s *PostgresStore) UpdateSandbox(ctx context.Context, id string, fn func(*types.Sandbox) error) (*types.Sandbox, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var sandbox types.Sandbox
	err = tx.GetContext(ctx, &sandbox, `SELECT * FROM sandboxes WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, notFoundOr(err, "sandbox not found")
	}

	if err := fn(&sandbox); err != nil {
		return nil, err
	}

	_, err = tx.NamedExecContext(ctx, `
		UPDATE sandboxes SET
			container_ref = :container_ref,
			status = :status,
			phase = :phase,
			ports = :ports,
			started_at = :started_at,
			stopped_at = :stopped_at,
			expires_at = :expires_at,
			provision_progress = :provision_progress,
			provision_status = :provision_status
		WHERE id = :id`, &sandbox)
	if err != nil {
		return nil, fmt.Errorf("failed to update sandbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &sandbox, nil
}

func (s *PostgresStore) DeleteSandbox(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sandboxes WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete sandbox: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ---- Sandbox logs ----

func (s *PostgresStore) AppendSandboxLog(ctx context.Context, entry *types.SandboxLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sandbox_logs (sandbox_id, stream, text, "timestamp")
		VALUES ($1, $2, $3, $4)`, entry.SandboxID, entry.Stream, entry.Text, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSandboxLogs(ctx context.Context, sandboxID string, tail int) ([]*types.SandboxLog, error) {
	var logs []*types.SandboxLog
	err := s.db.SelectContext(ctx, &logs, `
		SELECT * FROM (
			SELECT * FROM sandbox_logs WHERE sandbox_id = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id`, sandboxID, tail)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	return logs, nil
}

func (s *PostgresStore) TrimSandboxLogs(ctx context.Context, sandboxID string, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sandbox_logs
		WHERE sandbox_id = $1 AND id < (
			SELECT coalesce(min(id), 0) FROM (
				SELECT id FROM sandbox_logs WHERE sandbox_id = $1 ORDER BY id DESC LIMIT $2
			) newest
		)`, sandboxID, keep)
	if err != nil {
		return fmt.Errorf("failed to trim logs: %w", err)
	}
	return nil
}

func (s *PostgresStore) PurgeSandboxLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sandbox_logs WHERE "timestamp" < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge logs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ---- Audit ----

func (s *PostgresStore) AppendAuditEntry(ctx context.Context, entry *types.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, resource_type, resource_id, metadata, client_ip, client_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.Metadata, entry.ClientIP, entry.ClientAgent, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) PurgeAuditEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
