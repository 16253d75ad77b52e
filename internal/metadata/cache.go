// Package metadata resolves and caches the repository metadata that
// capability calls depend on: node IDs for the repository, its labels,
// milestones, issue types and an optional Projects V2 board. Snapshots are
// persisted to disk and reused across process runs; a persisted record for
// a different repository is a miss, not an error.
package metadata

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Options configures a Cache.
type Options struct {
	Owner string
	Repo  string

	// Project board attachment: ID wins over Number, Number over Title.
	// Title is resolved by paginating the owner's boards (organization
	// scope first, personal scope as fallback) and matching
	// case-insensitively. All empty/zero means no board.
	ProjectID     string
	ProjectNumber int
	ProjectTitle  string

	// Dir is where the record file lives, e.g. ".ghscript".
	Dir string

	// MaxAge expires persisted records. Zero means records stay valid
	// until a forced refresh.
	MaxAge time.Duration
}

// Cache owns the in-memory snapshot and its on-disk record. Resolution is
// single-flight within one process: the mutex serializes concurrent
// Resolve calls so only one remote fetch happens on a cold start.
// Across processes the record file is last-writer-wins.
type Cache struct {
	client GraphQLClient
	opts   Options

	mu   sync.Mutex
	snap *Snapshot

	now func() time.Time // for tests
}

// GraphQLClient is the remote collaborator the cache resolves against.
type GraphQLClient interface {
	Execute(ctx context.Context, query string, variables map[string]any, result any) error
}

// New creates a Cache for the repository in opts.
func New(client GraphQLClient, opts Options) *Cache {
	return &Cache{
		client: client,
		opts:   opts,
		now:    time.Now,
	}
}

// repoKey is the "owner/name" key persisted records are matched on.
func (c *Cache) repoKey() string {
	return c.opts.Owner + "/" + c.opts.Repo
}

// Resolve returns the metadata snapshot, fetching it remotely at most
// once per process unless force is true. Persistence failures are logged
// and swallowed; the in-memory snapshot stays usable either way.
func (c *Cache) Resolve(ctx context.Context, force bool) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap != nil && !force {
		return c.snap, nil
	}

	if !force {
		rec, _ := loadRecord(c.opts.Dir)
		if rec != nil && rec.RepoKey == c.repoKey() && !rec.expired(c.opts.MaxAge, c.now()) {
			snap := rec.Data
			c.snap = &snap
			return c.snap, nil
		}
	}

	snap, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.snap = snap

	rec := &Record{
		RepoKey:   c.repoKey(),
		Timestamp: c.now().Unix(),
		Data:      *snap,
	}
	if err := saveRecord(c.opts.Dir, rec); err != nil {
		slog.Warn("metadata cache not persisted", "dir", c.opts.Dir, "error", err)
	}

	return c.snap, nil
}
