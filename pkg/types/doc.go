/*
Package types defines the core data structures used throughout Apex Coder.

This package contains all fundamental types that represent the domain model,
including builds, stage descriptors, artifacts, progress events, model call
records and provider health. These types are used by all other packages for
state management, API communication and orchestration logic.

# Architecture

The types package is the foundation of the data model. It defines:

  - Build lifecycle (status, per-stage sub-states, error history)
  - Stage identity (ordered fractional keys, canonical names)
  - Artifact references (category, path, size, checksum)
  - Progress events (phase, status, error, connected, pong)
  - Model call records (per-attempt audit rows with token usage and cost)
  - Provider health (healthy, degraded, unhealthy)

All types are designed to be:
  - Serializable (JSON)
  - Immutable where possible (use pointers for updates)
  - Self-documenting (clear field names and constants for enums)

# Core Types

Build Lifecycle:
  - Build: One execution of the pipeline for one specification
  - BuildStatus: Queued, running, completed, failed, cancelled
  - StageStatus: Per-stage sub-state with attempts and timestamps
  - BuildError: One entry of the build's error history

Stage Identity:
  - StageKey: Ordered fractional key ("0", "1", "1.5", ... "9")
  - ParseStageKey: Validates and normalizes a key string

Artifacts:
  - ArtifactRef: Category, name, size, write time
  - ArtifactCategory: Specs, docs, code

Events:
  - Event: Envelope with type, build ID, sequence and timestamp
  - EventType: Phase, status, progress, error, connected, pong

Model Calls:
  - CallRecord: One terminal routing outcome with usage and cost
  - Usage: Input and output token counts

# State Machine

Builds follow a state machine:

	queued → running → completed
	           ↓     ↘
	         failed   cancelled

Stage sub-states:

	pending → running → completed
	            ↓
	          failed

A retry of a failed build clones it into a new queued build carrying the
same specification. A stage retry resets one failed stage and everything
downstream of it back to pending on the same build.

# Thread Safety

Types in this package carry no locks. The orchestrator owns each running
build and is the only writer; everyone else reads snapshots returned by
the store.
*/
package types
