/*
Package store persists build records and model call records.

The Store interface covers everything the orchestrator and API need:
create, update, get and list builds, append call records, and prune old
call records. The only implementation is BoltStore, a single-file bbolt
database.

# Layout

	bucket "builds"  build ID → JSON build record
	bucket "calls"   timestamp+ID key → JSON call record

Values are JSON for debuggability; the keys of calls sort by time
so range scans serve both per-build listing and retention pruning.

Writes go through bbolt transactions, so a crash never leaves a
half-written record. The orchestrator re-reads the store on start to
recover interrupted builds.
*/
package store
