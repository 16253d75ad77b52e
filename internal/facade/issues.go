package facade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alekspetrov/ghscript/internal/github"
)

// GraphQL documents for issue operations.
const (
	queryIssueByNumber = `query($owner: String!, $name: String!, $number: Int!) {
  repository(owner: $owner, name: $name) {
    issue(number: $number) {
      id number title body state url createdAt updatedAt
      labels(first: 50) { nodes { id name color description } }
      milestone { id number title description }
    }
  }
}`

	querySearchIssues = `query($q: String!, $first: Int!) {
  search(query: $q, type: ISSUE, first: $first) {
    nodes {
      ... on Issue { id number title body state url createdAt updatedAt }
    }
  }
}`

	mutationCreateIssue = `mutation($input: CreateIssueInput!) {
  createIssue(input: $input) {
    issue { id number title body state url createdAt updatedAt }
  }
}`

	mutationDeleteIssue = `mutation($issueID: ID!) {
  deleteIssue(input: { issueId: $issueID }) { clientMutationId }
}`

	mutationAddToProject = `mutation($projectID: ID!, $contentID: ID!) {
  addProjectV2ItemById(input: { projectId: $projectID, contentId: $contentID }) {
    item { id }
  }
}`
)

// graphqlIssue is the GraphQL issue shape shared by queries and mutations.
type graphqlIssue struct {
	ID        string    `json:"id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Labels    *struct {
		Nodes []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Color       string `json:"color"`
			Description string `json:"description"`
		} `json:"nodes"`
	} `json:"labels"`
	Milestone *struct {
		ID          string `json:"id"`
		Number      int    `json:"number"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"milestone"`
}

func (gi *graphqlIssue) toIssue() *github.Issue {
	iss := &github.Issue{
		Kind:      github.KindIssue,
		ID:        gi.ID,
		Number:    gi.Number,
		Title:     gi.Title,
		Body:      gi.Body,
		State:     gi.State,
		URL:       gi.URL,
		CreatedAt: gi.CreatedAt,
		UpdatedAt: gi.UpdatedAt,
	}
	if gi.Labels != nil {
		for _, l := range gi.Labels.Nodes {
			iss.Labels = append(iss.Labels, github.Label{
				Kind:        github.KindLabel,
				ID:          l.ID,
				Name:        l.Name,
				Color:       l.Color,
				Description: l.Description,
			})
		}
	}
	if gi.Milestone != nil {
		iss.Milestone = &github.Milestone{
			Kind:        github.KindMilestone,
			ID:          gi.Milestone.ID,
			Number:      gi.Milestone.Number,
			Title:       gi.Milestone.Title,
			Description: gi.Milestone.Description,
		}
	}
	return iss
}

// fetchIssue resolves an issue number to the full issue, including its
// GraphQL node ID. A nil issue in the response is a NotFoundError.
func (f *Facade) fetchIssue(ctx context.Context, number int) (*github.Issue, error) {
	vars := map[string]any{"owner": f.owner, "name": f.repo, "number": number}

	var resp struct {
		Repository *struct {
			Issue *graphqlIssue `json:"issue"`
		} `json:"repository"`
	}
	err := f.client.Execute(ctx, queryIssueByNumber, vars, &resp)
	if err != nil {
		if github.IsNotFound(err) {
			return nil, &github.NotFoundError{Resource: "issue", Number: number}
		}
		return nil, err
	}
	if resp.Repository == nil || resp.Repository.Issue == nil {
		return nil, &github.NotFoundError{Resource: "issue", Number: number}
	}
	return resp.Repository.Issue.toIssue(), nil
}

// SearchIssues runs a search query scoped to the configured repository.
func (f *Facade) SearchIssues(ctx context.Context, query string) ([]*github.Issue, error) {
	q := fmt.Sprintf("repo:%s/%s %s", f.owner, f.repo, query)
	return f.search(ctx, q)
}

func (f *Facade) search(ctx context.Context, q string) ([]*github.Issue, error) {
	vars := map[string]any{"q": q, "first": 50}

	var resp struct {
		Search struct {
			Nodes []*graphqlIssue `json:"nodes"`
		} `json:"search"`
	}
	if err := f.client.Execute(ctx, querySearchIssues, vars, &resp); err != nil {
		return nil, err
	}

	issues := make([]*github.Issue, 0, len(resp.Search.Nodes))
	for _, node := range resp.Search.Nodes {
		if node == nil || node.ID == "" {
			continue
		}
		issues = append(issues, node.toIssue())
	}
	return issues, nil
}

// CreateIssue creates an issue, resolving label, milestone and type names
// to node IDs through the snapshot. Unresolvable names are dropped
// silently. When a project board is configured the new issue is added to
// it and the metadata cache is refreshed afterwards.
func (f *Facade) CreateIssue(ctx context.Context, opts *CreateIssueOptions) (*github.Issue, error) {
	if opts == nil || opts.Title == "" {
		return nil, fmt.Errorf("create issue: title is required")
	}

	snap, err := f.cache.Resolve(ctx, false)
	if err != nil {
		return nil, err
	}

	input := map[string]any{
		"repositoryId": snap.RepositoryID,
		"title":        opts.Title,
	}
	if opts.Body != "" {
		input["body"] = opts.Body
	}
	if ids := f.resolveLabelIDs(snap, opts.Labels); len(ids) > 0 {
		input["labelIds"] = ids
	}
	if opts.Milestone != "" {
		if rec, ok := snap.MilestoneByName(opts.Milestone); ok {
			input["milestoneId"] = rec.ID
		} else {
			slog.Debug("milestone not found, dropped from resolution", "milestone", opts.Milestone)
		}
	}
	if opts.Type != "" {
		if id, ok := snap.IssueTypeID(opts.Type); ok {
			input["issueTypeId"] = id
		} else {
			slog.Debug("issue type not found, dropped from resolution", "type", opts.Type)
		}
	}

	var resp struct {
		CreateIssue struct {
			Issue *graphqlIssue `json:"issue"`
		} `json:"createIssue"`
	}
	if err := f.client.Execute(ctx, mutationCreateIssue, map[string]any{"input": input}, &resp); err != nil {
		return nil, err
	}
	if resp.CreateIssue.Issue == nil {
		return nil, &github.RemoteError{Message: "createIssue returned no issue"}
	}
	issue := resp.CreateIssue.Issue.toIssue()

	if len(opts.Assignees) > 0 {
		if err := f.client.AddAssignees(ctx, f.owner, f.repo, issue.Number, opts.Assignees); err != nil {
			slog.Warn("assignees not added", "issue", issue.Number, "error", err)
		}
	}

	if snap.ProjectID != "" {
		if err := f.addToProject(ctx, snap.ProjectID, issue.ID); err != nil {
			return issue, fmt.Errorf("issue #%d created but not added to project: %w", issue.Number, err)
		}
		// Board-linked creation changes project metadata; refresh so later
		// calls in this or later scripts see it.
		if _, err := f.cache.Resolve(ctx, true); err != nil {
			slog.Warn("metadata refresh after project-linked creation failed", "error", err)
		}
	}

	return issue, nil
}

// addToProject attaches an issue to the Projects V2 board. The mutation is
// idempotent: adding an existing item returns the existing item.
func (f *Facade) addToProject(ctx context.Context, projectID, issueNodeID string) error {
	vars := map[string]any{"projectID": projectID, "contentID": issueNodeID}
	return f.client.Execute(ctx, mutationAddToProject, vars, nil)
}

// PartialDeleteError reports a cascade delete that failed after some
// children were already deleted. Deleted carries the count of completed
// deletions; nothing is retried or rolled back.
type PartialDeleteError struct {
	Deleted int
	Err     error
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("cascade delete failed after %d deletion(s): %v", e.Deleted, e.Err)
}

func (e *PartialDeleteError) Unwrap() error { return e.Err }

// DeleteResult summarizes a cascade delete.
type DeleteResult struct {
	Number          int `json:"number"`
	DeletedChildren int `json:"deletedChildren"`
}

// DeleteIssue deletes an issue and any child issues first. Children are
// found by searching issue bodies for "child of #N". A failure mid-cascade
// surfaces the number of children already deleted via PartialDeleteError.
func (f *Facade) DeleteIssue(ctx context.Context, number int) (*DeleteResult, error) {
	parent, err := f.fetchIssue(ctx, number)
	if err != nil {
		return nil, err
	}

	pattern := fmt.Sprintf("repo:%s/%s in:body \"child of #%d\"", f.owner, f.repo, number)
	children, err := f.search(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("find children of #%d: %w", number, err)
	}

	deleted := 0
	for _, child := range children {
		if child.Number == number {
			continue
		}
		if err := f.deleteByNodeID(ctx, child.ID); err != nil {
			return nil, &PartialDeleteError{Deleted: deleted, Err: err}
		}
		deleted++
	}

	if err := f.deleteByNodeID(ctx, parent.ID); err != nil {
		return nil, &PartialDeleteError{Deleted: deleted, Err: err}
	}

	return &DeleteResult{Number: number, DeletedChildren: deleted}, nil
}

func (f *Facade) deleteByNodeID(ctx context.Context, issueNodeID string) error {
	return f.client.Execute(ctx, mutationDeleteIssue, map[string]any{"issueID": issueNodeID}, nil)
}
