/*
Package api exposes the HTTP control surface.

The server wraps the orchestrator, the model router and the cost
controller behind a chi router. All build operations live under /v1
behind bearer-token authentication; health and metrics stay open for
probes and scrapers.

# Endpoints

	GET  /healthz                            liveness + provider health
	GET  /metrics                            Prometheus exposition

	POST /v1/builds                          submit a build
	GET  /v1/builds                          list (filter, sort, page)
	GET  /v1/builds/{id}                     fetch one build
	POST /v1/builds/{id}/cancel              request cancellation
	POST /v1/builds/{id}/retry               clone into a new build
	POST /v1/builds/{id}/stages/{key}/retry  resume from a failed stage
	GET  /v1/builds/{id}/events              SSE progress stream

	GET  /v1/costs                           spend report (admin)
	POST /v1/costs/emergency-stop            engage the stop (admin)
	POST /v1/costs/resume                    release the stop (admin)

# Authentication

Bearer tokens map to principals (tenant, user, admin) from
configuration. An empty token table means the API runs unauthenticated
and every request acts as an anonymous admin, which keeps local
development frictionless. Non-admin principals only see their own
tenant's builds.

# Errors

Handlers return the error taxonomy's kind in a JSON body and map kinds
onto status codes: Validation 400, Unauthorized 401, CostDenied 402,
Forbidden 403, NotFound 404, Cancelled 409, provider transient and
timeout kinds 503, everything else 500. Retryable is included so clients
can back off intelligently.

# Events

The SSE stream replays the build's event history and then follows live
events, with a keep-alive pong every 15 seconds. The stream closes on
its own shortly after the build reaches a terminal status.
*/
package api
