/*
Package ratelimit bounds concurrent calls per provider.

Each provider gets a concurrency semaphore, an optional minimum interval
between call starts, and a circuit breaker (sony/gobreaker) that opens
after consecutive transient failures and half-opens after a cooldown.
Acquire blocks on the semaphore, spaces the call, and returns a release
function; Do runs the call through the breaker, and an open breaker
surfaces as ProviderUnavailable so the router moves to a fallback
without waiting.
*/
package ratelimit
