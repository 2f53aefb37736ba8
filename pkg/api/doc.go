/*
Package api implements the REST surface of the control plane.

Every response uses a uniform JSON envelope:

	{"success": true,  "data": ...}
	{"success": false, "error": {"code": "...", "message": "...", "details": ...}}

Error status codes are derived from pkg/errdefs kinds, so handlers return
service errors untranslated and respondError maps them. Internal errors are
masked: the envelope says "internal error" and the cause stays server-side.

The router is chi with three surfaces:

  - Unauthenticated: /health, /health/ready, /health/live, /metrics, and
    /auth/signup + /auth/login behind a per-IP attempt limiter.
  - Authenticated: /auth/keys, /environments, /sandboxes, each behind the
    bearer-token middleware and a per-user request limiter. Sandbox creation
    and replication carry an additional, stricter limiter.
  - WebSocket: delegated to pkg/hub when a hub is wired in.

Mutating handlers record audit entries. The HealthMonitor keeps the store
and runtime readiness components current by pinging both on an interval.
*/
package api
