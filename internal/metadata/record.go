package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const cacheFileName = "metadata.json"

// Record is the persisted cache file: one snapshot keyed by "owner/name"
// plus the resolution time. Only the most recent repository's snapshot is
// retained; loading a record for a different repoKey is a cache miss.
type Record struct {
	RepoKey   string   `json:"repoKey"`
	Timestamp int64    `json:"timestamp"`
	Data      Snapshot `json:"data"`
}

// loadRecord reads the persisted record from dir. A missing, truncated or
// unparsable file is an ordinary miss (nil, nil), never an error.
func loadRecord(dir string) (*Record, error) {
	raw, err := os.ReadFile(filepath.Join(dir, cacheFileName))
	if err != nil {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil
	}
	if rec.RepoKey == "" || rec.Data.RepositoryID == "" {
		return nil, nil
	}
	return &rec, nil
}

// saveRecord writes the record to dir, overwriting any prior one.
func saveRecord(dir string, rec *Record) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, cacheFileName), raw, 0o644); err != nil {
		return fmt.Errorf("write cache record: %w", err)
	}
	return nil
}

// expired reports whether the record is older than maxAge. A zero maxAge
// means records never expire.
func (r *Record) expired(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(time.Unix(r.Timestamp, 0)) > maxAge
}
