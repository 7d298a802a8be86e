package store

import (
	"time"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

// Store defines the interface for build state persistence
// This will be implemented by BoltDB-backed storage
type Store interface {
	// Builds
	CreateBuild(build *types.Build) error
	GetBuild(id string) (*types.Build, error)
	ListBuilds() ([]*types.Build, error)
	ListBuildsByTenant(tenantID string) ([]*types.Build, error)
	UpdateBuild(build *types.Build) error
	DeleteBuild(id string) error

	// Call records
	AppendCallRecord(rec *types.CallRecord) error
	ListCallRecords(buildID string) ([]*types.CallRecord, error)
	PruneCallRecords(before time.Time) (int, error)

	// Utility
	Close() error
}
