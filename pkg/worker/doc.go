/*
Package worker runs the control plane's periodic background loops.

Three loops share the same shape: an immediate first pass, then a ticker,
stopped through a channel. Each pass carries its own timeout and swallows
its own errors, so a failing store or runtime degrades the loop's work
without killing it.

  - Sweeper drives sandbox TTL expiry (pkg/sandbox owns the semantics).
  - Retention purges sandbox logs and audit entries past their ages.
  - The metrics collector refreshes inventory gauges from the store.
*/
package worker
