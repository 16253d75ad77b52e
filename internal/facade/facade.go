// Package facade is the capability surface exposed to sandboxed scripts:
// one method per permitted remote operation. Methods resolve human-readable
// names to node IDs through the metadata cache before delegating to the
// GitHub client, and return plain tagged values that can cross the sandbox
// boundary as ordinary data.
package facade

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alekspetrov/ghscript/internal/github"
	"github.com/alekspetrov/ghscript/internal/metadata"
)

// Facade owns its client, repository coordinates and metadata cache
// explicitly; there is no process-wide singleton. There is also no
// serialization across concurrent script executions beyond the cache's
// own single-flight resolution.
type Facade struct {
	client *github.Client
	cache  *metadata.Cache
	owner  string
	repo   string
}

// New creates a Facade for the configured repository.
func New(client *github.Client, cache *metadata.Cache, owner, repo string) *Facade {
	return &Facade{
		client: client,
		cache:  cache,
		owner:  owner,
		repo:   repo,
	}
}

// CreateIssueOptions are the script-facing options for CreateIssue.
// Labels, Milestone and Type are names; unresolvable names are dropped
// silently (best-effort: not every script-supplied name exists remotely,
// and strict failure would make batch operations unusable).
type CreateIssueOptions struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Labels    []string `json:"labels"`
	Milestone string   `json:"milestone"`
	Type      string   `json:"type"`
	Assignees []string `json:"assignees"`
}

// UpdateIssueOptions are the script-facing options for UpdateIssue.
// Empty fields are left unchanged; Labels replaces the label set when
// non-nil.
type UpdateIssueOptions struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	State     string   `json:"state"`
	Labels    []string `json:"labels"`
	Milestone string   `json:"milestone"`
	Type      string   `json:"type"`
}

// ListOptions filter ListIssues.
type ListOptions struct {
	State  string   `json:"state"`
	Labels []string `json:"labels"`
}

// resolveLabelIDs maps label names to node IDs, dropping unknown names.
func (f *Facade) resolveLabelIDs(snap *metadata.Snapshot, names []string) []string {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, ok := snap.LabelID(name)
		if !ok {
			slog.Debug("label not found, dropped from resolution", "label", name)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// resolveLabelNames keeps only names that exist remotely, preserving the
// remote casing. Used by the REST label endpoints which address labels by
// name.
func (f *Facade) resolveLabelNames(snap *metadata.Snapshot, names []string) []string {
	kept := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := snap.LabelID(name); ok {
			kept = append(kept, name)
		} else {
			slog.Debug("label not found, dropped from resolution", "label", name)
		}
	}
	return kept
}

// Repo returns the process-configured default repository.
func (f *Facade) Repo(ctx context.Context) (*github.Repository, error) {
	snap, err := f.cache.Resolve(ctx, false)
	if err != nil {
		return nil, err
	}
	return &github.Repository{
		Kind:  github.KindRepository,
		ID:    snap.RepositoryID,
		Owner: f.owner,
		Name:  f.repo,
	}, nil
}

// Labels returns the repository's labels from the snapshot, sorted by name.
func (f *Facade) Labels(ctx context.Context) ([]*github.Label, error) {
	snap, err := f.cache.Resolve(ctx, false)
	if err != nil {
		return nil, err
	}
	labels := make([]*github.Label, 0, len(snap.Labels))
	for name, id := range snap.Labels {
		labels = append(labels, &github.Label{Kind: github.KindLabel, ID: id, Name: name})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	return labels, nil
}

// Milestones returns the repository's open milestones, sorted by number.
func (f *Facade) Milestones(ctx context.Context) ([]*github.Milestone, error) {
	snap, err := f.cache.Resolve(ctx, false)
	if err != nil {
		return nil, err
	}
	milestones := make([]*github.Milestone, 0, len(snap.Milestones))
	for title, rec := range snap.Milestones {
		milestones = append(milestones, &github.Milestone{
			Kind:        github.KindMilestone,
			ID:          rec.ID,
			Number:      rec.Number,
			Title:       title,
			Description: rec.Description,
		})
	}
	sort.Slice(milestones, func(i, j int) bool { return milestones[i].Number < milestones[j].Number })
	return milestones, nil
}

// IssueTypes returns the repository's issue types, sorted by name.
func (f *Facade) IssueTypes(ctx context.Context) ([]*github.IssueType, error) {
	snap, err := f.cache.Resolve(ctx, false)
	if err != nil {
		return nil, err
	}
	types := make([]*github.IssueType, 0, len(snap.IssueTypes))
	for name, id := range snap.IssueTypes {
		types = append(types, &github.IssueType{Kind: github.KindIssueType, ID: id, Name: name})
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
	return types, nil
}

// ListIssues lists the repository's issues.
func (f *Facade) ListIssues(ctx context.Context, opts *ListOptions) ([]*github.Issue, error) {
	var clientOpts *github.ListIssuesOptions
	if opts != nil {
		clientOpts = &github.ListIssuesOptions{State: opts.State, Labels: opts.Labels}
	}
	return f.client.ListIssues(ctx, f.owner, f.repo, clientOpts)
}

// GetIssue fetches an issue by number. A missing number is a
// *github.NotFoundError, not a crash.
func (f *Facade) GetIssue(ctx context.Context, number int) (*github.Issue, error) {
	return f.fetchIssue(ctx, number)
}

// AddLabels adds labels to an issue by name. Names that do not resolve
// against the snapshot are dropped; when nothing survives resolution the
// call is a no-op.
func (f *Facade) AddLabels(ctx context.Context, number int, names []string) error {
	snap, err := f.cache.Resolve(ctx, false)
	if err != nil {
		return err
	}
	kept := f.resolveLabelNames(snap, names)
	if len(kept) == 0 {
		return nil
	}
	return f.client.AddLabels(ctx, f.owner, f.repo, number, kept)
}

// RemoveLabels removes labels from an issue by name, best-effort.
func (f *Facade) RemoveLabels(ctx context.Context, number int, names []string) error {
	snap, err := f.cache.Resolve(ctx, false)
	if err != nil {
		return err
	}
	for _, name := range f.resolveLabelNames(snap, names) {
		if err := f.client.RemoveLabel(ctx, f.owner, f.repo, number, name); err != nil {
			return err
		}
	}
	return nil
}

// UpdateIssue patches an issue via the REST API. The milestone name
// resolves to its sequence number (the REST identifier space); label
// names are filtered best-effort against the snapshot.
func (f *Facade) UpdateIssue(ctx context.Context, number int, opts *UpdateIssueOptions) (*github.Issue, error) {
	if opts == nil {
		return nil, fmt.Errorf("update issue #%d: no fields to update", number)
	}

	// Confirm the issue exists before patching so a bad number surfaces
	// as NotFound rather than a generic API error.
	if _, err := f.fetchIssue(ctx, number); err != nil {
		return nil, err
	}

	snap, err := f.cache.Resolve(ctx, false)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{}
	if opts.Title != "" {
		payload["title"] = opts.Title
	}
	if opts.Body != "" {
		payload["body"] = opts.Body
	}
	if opts.State != "" {
		payload["state"] = opts.State
	}
	if opts.Labels != nil {
		payload["labels"] = f.resolveLabelNames(snap, opts.Labels)
	}
	if opts.Milestone != "" {
		if rec, ok := snap.MilestoneByName(opts.Milestone); ok {
			payload["milestone"] = rec.Number
		} else {
			slog.Debug("milestone not found, dropped from resolution", "milestone", opts.Milestone)
		}
	}
	if opts.Type != "" {
		if _, ok := snap.IssueTypeID(opts.Type); ok {
			payload["type"] = opts.Type
		} else {
			slog.Debug("issue type not found, dropped from resolution", "type", opts.Type)
		}
	}
	if len(payload) == 0 {
		return f.fetchIssue(ctx, number)
	}

	return f.client.UpdateIssue(ctx, f.owner, f.repo, number, payload)
}

// CreateMilestone creates a milestone and forces a metadata refresh so
// later calls see the new name→ID mapping.
func (f *Facade) CreateMilestone(ctx context.Context, input *github.MilestoneInput) (*github.Milestone, error) {
	if input == nil || input.Title == "" {
		return nil, fmt.Errorf("create milestone: title is required")
	}
	ms, err := f.client.CreateMilestone(ctx, f.owner, f.repo, input)
	if err != nil {
		return nil, err
	}
	if _, err := f.cache.Resolve(ctx, true); err != nil {
		slog.Warn("metadata refresh after milestone creation failed", "error", err)
	}
	return ms, nil
}
