/*
Package metrics defines the platform's Prometheus metrics, the health/readiness
registry, and a small Timer helper for histogram observations.

All metrics are registered on the default registry at package init and exposed
via Handler(). The Collector refreshes the inventory gauges (sandbox counts by
status, environment count) from the store every 15 seconds; counters and
histograms are updated inline by the packages doing the work.

The health registry tracks per-component health reported through
RegisterComponent/UpdateComponent. Readiness requires the store, runtime, and
api components to be registered and healthy; liveness only requires the
process to be up.

Metric names are prefixed burrow_. Labels are kept to low-cardinality values
(status, method, outcome, kind) so series counts stay bounded regardless of
how many sandboxes exist.
*/
package metrics
