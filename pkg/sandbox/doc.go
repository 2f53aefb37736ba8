// Package sandbox implements the sandbox lifecycle: creation against an
// environment version, asynchronous provisioning, start/stop/restart,
// replication, expiry sweeps, and runtime reconciliation.
//
// Create validates and inserts the row as pending/creating, then returns;
// a background provisioner resolves the image (pull or Dockerfile build),
// creates and starts the container, and flips the row to running/healthy.
// Failures land in error/failed with the cause in provision_status — the
// row and container are kept for inspection.
//
// Each running sandbox has exactly one log collector: it tails the
// container, redacts secret-shaped substrings, persists the line, and
// publishes it to the sandbox's Broker topic for live viewers. A viewer
// that cannot keep up is dropped by closing its channel.
//
// SweepExpired and Sync are reconciliation entry points driven by the
// background workers; their writes are authoritative and bypass the
// user-facing transition rules.
package sandbox
