/*
Package types defines the core data structures shared across Burrow.

Entities mirror the persisted schema: User, APIKey, Environment,
EnvironmentVersion (immutable snapshots), Sandbox, SandboxLog and AuditEntry.
JSON columns (ports, env, secrets, mounts, metadata) are typed wrappers that
implement driver.Valuer and sql.Scanner so the storage layer can scan them
directly.

The sandbox lifecycle is the (Status, Phase) pair; lifecycle.go carries the
complete transition table and CanTransition, which the sandbox service
consults before every state change:

	pending/creating  -> pending/starting   -> running/healthy
	pending/creating  -> error/failed
	running/healthy   -> stopped/stopped
	stopped/stopped   -> running/healthy
	running/healthy   -> expired/stopped    (TTL)

error/failed and expired/stopped are terminal until the row is destroyed.
*/
package types
