/*
Package orchestrator runs builds through the stage pipeline.

The orchestrator owns the build lifecycle end to end: it admits and queues
new builds, assigns each to a worker, drives the stage table in order,
applies the retry budget and backoff schedule per stage, and settles the
terminal status. It is the only writer of build state; everything else
observes through the store and the progress bus.

# Architecture

	┌──────────────────── ORCHESTRATOR ────────────────────┐
	│                                                       │
	│  Submit ──► validate ──► cost admit ──► queue         │
	│                                          │            │
	│  ┌───────────────────────────────────────▼─────────┐ │
	│  │              Worker Pool (cfg.Workers)           │ │
	│  │   one worker owns one build at a time            │ │
	│  └───────────────────────┬─────────────────────────┘ │
	│                          │                            │
	│  ┌───────────────────────▼─────────────────────────┐ │
	│  │            Stage Loop (stage.Table)              │ │
	│  │   preflight inputs → attempts → record outputs   │ │
	│  └───────────────────────┬─────────────────────────┘ │
	│                          │                            │
	│         completed / failed / cancelled                │
	│         finish metrics, drain event topic             │
	└───────────────────────────────────────────────────────┘

# Build Execution

Each stage runs under an attempt budget (cfg.Stages.Retries) with a fixed
backoff schedule between attempts. Only retryable errors burn additional
attempts; a non-retryable error or an exhausted budget fails the build at
that stage. A missing input artifact fails immediately without consuming
any attempt, since retrying cannot produce the input.

Partial progress always persists. A build that fails at stage 6 keeps the
artifacts of stages 0 through 5, and a stage retry resumes from the failed
stage reusing them.

# Operations

  - Submit: Validate the spec, admit against cost limits, enqueue
  - Cancel: Flag the build and cancel its worker context if running
  - Retry: Clone a failed or cancelled build into a new queued build
  - RetryStage: Reset the failed stage and its downstream, re-enqueue in place
  - Get, List: Read build snapshots

# Crash Recovery

Start re-enqueues every build found queued in the store and resets builds
found running back to queued. Stages already completed are skipped on the
re-run, so recovery costs only the interrupted stage.

# Shutdown

Stop closes the intake, cancels the contexts of running builds and waits
for the workers to drain. Cancelled builds settle as cancelled with their
partial artifacts intact.
*/
package orchestrator
