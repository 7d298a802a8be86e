/*
Package bus delivers per-build progress events to subscribers in order.

Each build gets its own topic. Publishers append events with a
monotonically increasing sequence number; subscribers receive the topic's
history first and then live events, so a client that attaches late still
sees every transition in order.

# Delivery Semantics

  - Ordered per topic; sequence numbers never go backwards
  - History replay on subscribe (bounded by the configured history size)
  - A subscriber whose buffer fills is closed rather than blocking
    publishers
  - Drain closes a topic after a grace period once a build is terminal

Disconnecting slow subscribers keeps the orchestrator's hot path
non-blocking; a closed channel tells the client to resubscribe and
replay. Clients that need a complete record read the build from the
store; the bus is a live view, not the source of truth.

# Usage

	ch, cancel := b.Subscribe(buildID)
	defer cancel()
	for ev := range ch {
		// channel closes after the terminal status drains
	}

Publish helpers in this package (PublishPhase, PublishStatus,
PublishProgress, PublishError) stamp the envelope fields so call sites
stay one-liners.
*/
package bus
