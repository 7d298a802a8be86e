/*
Package metrics defines the Prometheus collectors.

All collectors are package-level and registered at init, so any package
can instrument without wiring. Handler returns the exposition endpoint
mounted at /metrics.

Collectors cover builds (started, finished, in-flight by status,
duration), stages (attempts by outcome, retries, duration by stage),
model calls (count, tokens, USD by provider and model), cache hits and
misses, and API requests (count and duration by route and status).

Timer is a small helper for observing durations:

	t := metrics.NewTimer()
	...
	t.ObserveDurationVec(metrics.StageDuration, stageName)
*/
package metrics
