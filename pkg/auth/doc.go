// Package auth resolves bearer credentials to tenant identities. Two
// credential shapes are accepted: short-lived HS256 session tokens issued
// at signup/login, and long-lived API keys of the form sk_<prefix>_<secret>
// looked up by prefix and verified with a constant-time hash comparison.
//
// The package also carries the HTTP auth middleware and the per-key rate
// limiter sets used by the API layer.
package auth
