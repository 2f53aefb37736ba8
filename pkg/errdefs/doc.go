/*
Package errdefs defines the error taxonomy shared across Burrow.

Services return *errdefs.Error values (or wrap causes into them); the API
layer maps each kind to a stable external code and HTTP status:

	ValidationError     -> VALIDATION_ERROR      400
	AuthError           -> UNAUTHORIZED          401
	NotFound            -> NOT_FOUND             404
	Conflict            -> CONFLICT              409
	QuotaExceeded       -> QUOTA_EXCEEDED        429
	RateLimited         -> RATE_LIMITED          429
	RuntimeUnavailable  -> SANDBOX_ERROR         503
	Internal            -> INTERNAL_ERROR        500

NotFound deliberately covers both "absent" and "owned by another tenant" so
that cross-tenant probes cannot distinguish the two.
*/
package errdefs
