package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alekspetrov/ghscript/internal/github"
)

// fakeGraphQL implements GraphQLClient with a routing function.
type fakeGraphQL struct {
	calls atomic.Int32
	route func(query string, vars map[string]any) (string, error)
}

func (f *fakeGraphQL) Execute(ctx context.Context, query string, vars map[string]any, result any) error {
	f.calls.Add(1)
	raw, err := f.route(query, vars)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal([]byte(raw), result)
}

const metadataJSON = `{
	"repository": {
		"id": "R1",
		"labels": {"nodes": [{"id":"L1","name":"Bug"},{"id":"L2","name":"Feature"}]},
		"milestones": {"nodes": [{"id":"M1","number":5,"title":"v1.0","description":"first"}]},
		"issueTypes": {"nodes": [{"id":"T1","name":"Task"}]}
	}
}`

func metadataOnly(t *testing.T) *fakeGraphQL {
	t.Helper()
	return &fakeGraphQL{route: func(query string, vars map[string]any) (string, error) {
		if strings.Contains(query, "labels(first:") {
			return metadataJSON, nil
		}
		return "", errors.New("unexpected query: " + query)
	}}
}

func newTestCache(t *testing.T, client GraphQLClient, opts Options) *Cache {
	t.Helper()
	if opts.Owner == "" {
		opts.Owner = "acme"
	}
	if opts.Repo == "" {
		opts.Repo = "widgets"
	}
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	return New(client, opts)
}

func TestResolve_Idempotent(t *testing.T) {
	client := metadataOnly(t)
	cache := newTestCache(t, client, Options{})

	first, err := cache.Resolve(context.Background(), false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, err := cache.Resolve(context.Background(), false)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}

	if client.calls.Load() != 1 {
		t.Errorf("remote fetches = %d, want 1", client.calls.Load())
	}
	if first != second {
		t.Error("second Resolve should return the identical snapshot")
	}
	if first.RepositoryID != "R1" {
		t.Errorf("RepositoryID = %q, want R1", first.RepositoryID)
	}
	rec, ok := first.MilestoneByName("v1.0")
	if !ok || rec.ID != "M1" || rec.Number != 5 {
		t.Errorf("milestone v1.0 = %+v, ok=%v", rec, ok)
	}
}

func TestResolve_SingleFlight(t *testing.T) {
	client := metadataOnly(t)
	cache := newTestCache(t, client, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cache.Resolve(context.Background(), false)
		}()
	}
	wg.Wait()

	if client.calls.Load() != 1 {
		t.Errorf("concurrent cold Resolve issued %d fetches, want 1", client.calls.Load())
	}
}

func TestResolve_PersistedRecordReused(t *testing.T) {
	dir := t.TempDir()

	client := metadataOnly(t)
	warm := newTestCache(t, client, Options{Dir: dir})
	if _, err := warm.Resolve(context.Background(), false); err != nil {
		t.Fatalf("warm Resolve() error = %v", err)
	}

	// A fresh cache for the same repo must load from disk, not refetch.
	cold := newTestCache(t, metadataOnly(t), Options{Dir: dir})
	snap, err := cold.Resolve(context.Background(), false)
	if err != nil {
		t.Fatalf("cold Resolve() error = %v", err)
	}
	if id, ok := snap.LabelID("bug"); !ok || id != "L1" {
		t.Errorf("LabelID(bug) = %q, %v; want L1 (case-insensitive)", id, ok)
	}
}

func TestResolve_RepoKeyMismatchIsMiss(t *testing.T) {
	dir := t.TempDir()

	warmClient := metadataOnly(t)
	warm := newTestCache(t, warmClient, Options{Dir: dir, Owner: "acme", Repo: "widgets"})
	if _, err := warm.Resolve(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	otherClient := metadataOnly(t)
	other := newTestCache(t, otherClient, Options{Dir: dir, Owner: "acme", Repo: "gadgets"})
	if _, err := other.Resolve(context.Background(), false); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if otherClient.calls.Load() != 1 {
		t.Errorf("repoKey mismatch must force a full fetch; fetches = %d", otherClient.calls.Load())
	}
}

func TestResolve_CorruptRecordIsMiss(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, cacheFileName), []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}

	client := metadataOnly(t)
	cache := newTestCache(t, client, Options{Dir: dir})
	if _, err := cache.Resolve(context.Background(), false); err != nil {
		t.Fatalf("corrupt record must be a miss, got error %v", err)
	}
	if client.calls.Load() != 1 {
		t.Errorf("fetches = %d, want 1", client.calls.Load())
	}
}

func TestResolve_MaxAgeExpiry(t *testing.T) {
	dir := t.TempDir()

	warm := newTestCache(t, metadataOnly(t), Options{Dir: dir})
	if _, err := warm.Resolve(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	client := metadataOnly(t)
	stale := newTestCache(t, client, Options{Dir: dir, MaxAge: time.Hour})
	stale.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, err := stale.Resolve(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if client.calls.Load() != 1 {
		t.Errorf("expired record must force a fetch; fetches = %d", client.calls.Load())
	}

	// Without MaxAge the same old record stays valid.
	client2 := metadataOnly(t)
	fresh := newTestCache(t, client2, Options{Dir: dir})
	fresh.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := fresh.Resolve(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if client2.calls.Load() != 0 {
		t.Errorf("zero MaxAge must never expire; fetches = %d", client2.calls.Load())
	}
}

func TestResolve_PersistFailureNonFatal(t *testing.T) {
	// Block persistence by placing a regular file where the cache
	// directory should go.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	client := metadataOnly(t)
	cache := newTestCache(t, client, Options{Dir: filepath.Join(blocker, "nested")})

	snap, err := cache.Resolve(context.Background(), false)
	if err != nil {
		t.Fatalf("persistence failure must not fail resolution: %v", err)
	}
	if snap.RepositoryID != "R1" {
		t.Errorf("RepositoryID = %q", snap.RepositoryID)
	}

	// The in-memory snapshot must stay usable.
	again, err := cache.Resolve(context.Background(), false)
	if err != nil || again != snap {
		t.Errorf("in-memory snapshot not reused after persist failure")
	}
}

func TestResolve_ForceRefetches(t *testing.T) {
	client := metadataOnly(t)
	cache := newTestCache(t, client, Options{})

	if _, err := cache.Resolve(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Resolve(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if client.calls.Load() != 2 {
		t.Errorf("force=true must refetch; fetches = %d", client.calls.Load())
	}
}

func TestResolveProject_ByTitlePagination(t *testing.T) {
	var orgPages atomic.Int32
	client := &fakeGraphQL{route: func(query string, vars map[string]any) (string, error) {
		switch {
		case strings.Contains(query, "labels(first:"):
			return metadataJSON, nil
		case strings.Contains(query, "organization(login:"):
			if vars["cursor"] == nil {
				orgPages.Add(1)
				return `{"organization":{"projectsV2":{
					"nodes":[{"id":"P_other","title":"Other"}],
					"pageInfo":{"hasNextPage":true,"endCursor":"c1"}}}}`, nil
			}
			orgPages.Add(1)
			return `{"organization":{"projectsV2":{
				"nodes":[{"id":"P_road","title":"Roadmap"}],
				"pageInfo":{"hasNextPage":false,"endCursor":""}}}}`, nil
		}
		return "", errors.New("unexpected query")
	}}

	cache := newTestCache(t, client, Options{ProjectTitle: "roadmap"})
	snap, err := cache.Resolve(context.Background(), false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if snap.ProjectID != "P_road" {
		t.Errorf("ProjectID = %q, want P_road (case-insensitive title match)", snap.ProjectID)
	}
	if orgPages.Load() != 2 {
		t.Errorf("org pages scanned = %d, want 2", orgPages.Load())
	}
}

func TestResolve_PaginatesLabelsAndMilestones(t *testing.T) {
	client := &fakeGraphQL{route: func(query string, vars map[string]any) (string, error) {
		switch {
		case strings.Contains(query, "issueTypes("):
			// First bulk page: both connections report a next page.
			return `{"repository":{
				"id": "R1",
				"labels": {
					"nodes": [{"id":"L1","name":"Bug"}],
					"pageInfo": {"hasNextPage": true, "endCursor": "lc1"}},
				"milestones": {
					"nodes": [{"id":"M1","number":5,"title":"v1.0"}],
					"pageInfo": {"hasNextPage": true, "endCursor": "mc1"}},
				"issueTypes": {"nodes": []}
			}}`, nil
		case strings.Contains(query, "labels(first: 100, after:"):
			if vars["cursor"] != "lc1" {
				return "", errors.New("label page with wrong cursor")
			}
			return `{"repository":{"labels":{
				"nodes": [{"id":"L101","name":"kind/overflow"}],
				"pageInfo": {"hasNextPage": false, "endCursor": ""}}}}`, nil
		case strings.Contains(query, "milestones(first: 100, states: OPEN, after:"):
			if vars["cursor"] != "mc1" {
				return "", errors.New("milestone page with wrong cursor")
			}
			return `{"repository":{"milestones":{
				"nodes": [{"id":"M101","number":101,"title":"v9.9"}],
				"pageInfo": {"hasNextPage": false, "endCursor": ""}}}}`, nil
		}
		return "", errors.New("unexpected query: " + query)
	}}

	cache := newTestCache(t, client, Options{})
	snap, err := cache.Resolve(context.Background(), false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if _, ok := snap.LabelID("Bug"); !ok {
		t.Error("first-page label missing")
	}
	if _, ok := snap.LabelID("kind/overflow"); !ok {
		t.Error("second-page label missing; names past the first page must stay resolvable")
	}
	rec, ok := snap.MilestoneByName("v9.9")
	if !ok || rec.ID != "M101" || rec.Number != 101 {
		t.Errorf("second-page milestone = %+v, ok=%v", rec, ok)
	}
	if client.calls.Load() != 3 {
		t.Errorf("remote fetches = %d, want 3 (bulk + one page each)", client.calls.Load())
	}
}

func TestResolveProject_OrgFallsBackToUser(t *testing.T) {
	client := &fakeGraphQL{route: func(query string, vars map[string]any) (string, error) {
		switch {
		case strings.Contains(query, "labels(first:"):
			return metadataJSON, nil
		case strings.Contains(query, "organization(login:"):
			return "", &github.RemoteError{Message: "Could not resolve to an Organization"}
		case strings.Contains(query, "user(login:"):
			return `{"user":{"projectsV2":{
				"nodes":[{"id":"P_user","title":"Roadmap"}],
				"pageInfo":{"hasNextPage":false,"endCursor":""}}}}`, nil
		}
		return "", errors.New("unexpected query")
	}}

	cache := newTestCache(t, client, Options{ProjectTitle: "Roadmap"})
	snap, err := cache.Resolve(context.Background(), false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if snap.ProjectID != "P_user" {
		t.Errorf("ProjectID = %q, want P_user", snap.ProjectID)
	}
}

func TestResolveProject_TitleNotFound(t *testing.T) {
	client := &fakeGraphQL{route: func(query string, vars map[string]any) (string, error) {
		switch {
		case strings.Contains(query, "labels(first:"):
			return metadataJSON, nil
		case strings.Contains(query, "organization(login:"):
			return `{"organization":{"projectsV2":{"nodes":[],"pageInfo":{"hasNextPage":false,"endCursor":""}}}}`, nil
		case strings.Contains(query, "user(login:"):
			return `{"user":{"projectsV2":{"nodes":[],"pageInfo":{"hasNextPage":false,"endCursor":""}}}}`, nil
		}
		return "", errors.New("unexpected query")
	}}

	cache := newTestCache(t, client, Options{ProjectTitle: "Missing"})
	_, err := cache.Resolve(context.Background(), false)
	var cfgErr *github.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("exhausted pages must be a ConfigurationError, got %v", err)
	}
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	cache := newTestCache(t, metadataOnly(t), Options{Dir: dir})
	if _, err := cache.Resolve(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if err := cache.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, cacheFileName)); !os.IsNotExist(err) {
		t.Error("cache file should be removed")
	}
	// Clearing twice is fine.
	if err := cache.Clear(); err != nil {
		t.Errorf("second Clear() error = %v", err)
	}
}
