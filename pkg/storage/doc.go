/*
Package storage provides transactional persistence for the control plane.

The Store interface covers users, API keys, environments, immutable
environment versions, sandboxes, sandbox logs and audit entries. Two
implementations exist:

  - PostgresStore: sqlx over the pgx stdlib driver, with a pool capped by
    configuration (default 20). Schema migrations are embedded goose SQL
    files applied by Migrate.
  - MemoryStore: a mutex-guarded map store with identical semantics, used by
    service tests.

# Locking model

Single-row lifecycle updates go through UpdateSandbox, AppendVersion and
MutateVersionSecrets, which wrap the caller's mutation in a transaction
holding SELECT ... FOR UPDATE on the owning row. Concurrent writers of the
same sandbox or environment serialize there; observers always see a
consistent row. A mutation callback returning an error rolls back the
transaction.

# Tenancy

Reads that take a userID never reveal rows owned by another user: a row
that exists but belongs to someone else is reported as NotFound, exactly
like a missing row.

# Retention

TrimSandboxLogs keeps the newest N lines per sandbox (applied after every
collector append); PurgeSandboxLogsBefore and PurgeAuditEntriesBefore apply
the global age bounds from the retention worker.
*/
package storage
