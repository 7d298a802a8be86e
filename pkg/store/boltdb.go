package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

var (
	// Bucket names
	bucketBuilds = []byte("builds")
	bucketCalls  = []byte("calls")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "apex.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBuilds, bucketCalls} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Build operations
func (s *BoltStore) CreateBuild(build *types.Build) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBuilds)
		data, err := json.Marshal(build)
		if err != nil {
			return err
		}
		return b.Put([]byte(build.ID), data)
	})
}

func (s *BoltStore) GetBuild(id string) (*types.Build, error) {
	var build types.Build
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBuilds)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.Newf(errdefs.KindNotFound, "build not found: %s", id)
		}
		return json.Unmarshal(data, &build)
	})
	if err != nil {
		return nil, err
	}
	return &build, nil
}

func (s *BoltStore) ListBuilds() ([]*types.Build, error) {
	var builds []*types.Build
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBuilds)
		return b.ForEach(func(k, v []byte) error {
			var build types.Build
			if err := json.Unmarshal(v, &build); err != nil {
				return err
			}
			builds = append(builds, &build)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// Most recent first.
	sort.Slice(builds, func(i, j int) bool {
		return builds[i].CreatedAt.After(builds[j].CreatedAt)
	})
	return builds, nil
}

func (s *BoltStore) ListBuildsByTenant(tenantID string) ([]*types.Build, error) {
	all, err := s.ListBuilds()
	if err != nil {
		return nil, err
	}
	var builds []*types.Build
	for _, build := range all {
		if build.TenantID == tenantID {
			builds = append(builds, build)
		}
	}
	return builds, nil
}

func (s *BoltStore) UpdateBuild(build *types.Build) error {
	return s.CreateBuild(build) // Same as create (upsert)
}

func (s *BoltStore) DeleteBuild(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBuilds)
		return b.Delete([]byte(id))
	})
}

// Call record operations. Keys are "<RFC3339 nano timestamp>/<id>" so a
// range scan prunes by age without unmarshalling every value.
func callKey(rec *types.CallRecord) []byte {
	return []byte(rec.Timestamp.UTC().Format(time.RFC3339Nano) + "/" + rec.ID)
}

func (s *BoltStore) AppendCallRecord(rec *types.CallRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCalls)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(callKey(rec), data)
	})
}

func (s *BoltStore) ListCallRecords(buildID string) ([]*types.CallRecord, error) {
	var recs []*types.CallRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCalls)
		return b.ForEach(func(k, v []byte) error {
			var rec types.CallRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if buildID == "" || rec.BuildID == buildID {
				recs = append(recs, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *BoltStore) PruneCallRecords(before time.Time) (int, error) {
	cutoff := []byte(before.UTC().Format(time.RFC3339Nano))
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCalls)
		c := b.Cursor()
		var stale [][]byte
		for k, _ := c.First(); k != nil && string(k) < string(cutoff); k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
