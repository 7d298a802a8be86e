/*
Package router resolves model roles and executes AI calls with retries,
fallbacks and cost admission.

Every AI call in the pipeline goes through the router. Callers name a
logical role ("clarifier", "code-generator"); the router resolves it to a
provider and model chain from configuration, admits the call against cost
limits, consults the response cache, acquires a rate-limit slot and then
attempts the targets in order until one succeeds.

# Call Flow

	Call(role, messages)
	  │
	  ├─ cost admit ──── denied ──► CostDenied
	  ├─ cache lookup ── hit ─────► cached response, no record
	  │
	  └─ for each target in chain (primary, fallbacks...):
	       up to 3 attempts, exponential backoff with jitter
	         250ms base, 1s after a rate-limit response, 8s cap
	       success ──► record call, cache, return
	       non-retryable ──► record call, abort the chain
	       retries exhausted ──► next target

Exactly one CallRecord is written per terminal outcome of the routed
call (success, chain exhausted, cancelled, cost denied) and none on a
cache hit, so the audit trail reflects routing decisions rather than
transport noise.

# Health

The router keeps a sliding window of the last ten outcomes per
provider. With at least three samples, an error rate of 30% marks the
provider degraded and 60% marks it unhealthy; fewer samples report
unknown. Health feeds the API's healthz payload; it does not reorder
chains.

# Collaborators

  - provider.Registry resolves roles and holds the adapters
  - ratelimit.Manager bounds concurrency and spacing per provider
  - cache.Cache memoizes identical prompts per provider and model
  - cost.Controller admits or denies before any tokens are spent
  - RecordSink (the build store) receives the call records
*/
package router
