package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alekspetrov/ghscript/internal/github"
)

// GraphQL documents for metadata resolution. The repository query fetches
// everything a snapshot needs in one round trip; the per-connection
// queries pick up label and milestone pages past the first hundred.
const (
	queryRepositoryMetadata = `query($owner: String!, $name: String!) {
  repository(owner: $owner, name: $name) {
    id
    labels(first: 100) {
      nodes { id name }
      pageInfo { hasNextPage endCursor }
    }
    milestones(first: 100, states: OPEN) {
      nodes { id number title description }
      pageInfo { hasNextPage endCursor }
    }
    issueTypes(first: 25) { nodes { id name } }
  }
}`

	queryRepositoryLabels = `query($owner: String!, $name: String!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    labels(first: 100, after: $cursor) {
      nodes { id name }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

	queryRepositoryMilestones = `query($owner: String!, $name: String!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    milestones(first: 100, states: OPEN, after: $cursor) {
      nodes { id number title description }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

	queryProjectByOrgNumber = `query($owner: String!, $number: Int!) {
  organization(login: $owner) { projectV2(number: $number) { id } }
}`

	queryProjectByUserNumber = `query($owner: String!, $number: Int!) {
  user(login: $owner) { projectV2(number: $number) { id } }
}`

	queryProjectsByOrg = `query($owner: String!, $cursor: String) {
  organization(login: $owner) {
    projectsV2(first: 50, after: $cursor) {
      nodes { id title }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

	queryProjectsByUser = `query($owner: String!, $cursor: String) {
  user(login: $owner) {
    projectsV2(first: 50, after: $cursor) {
      nodes { id title }
      pageInfo { hasNextPage endCursor }
    }
  }
}`
)

// Response types for GraphQL unmarshalling.
type (
	pageInfo struct {
		HasNextPage bool   `json:"hasNextPage"`
		EndCursor   string `json:"endCursor"`
	}

	idNameNode struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	labelConnection struct {
		Nodes    []idNameNode `json:"nodes"`
		PageInfo pageInfo     `json:"pageInfo"`
	}

	milestoneNode struct {
		ID          string `json:"id"`
		Number      int    `json:"number"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}

	milestoneConnection struct {
		Nodes    []milestoneNode `json:"nodes"`
		PageInfo pageInfo        `json:"pageInfo"`
	}

	repositoryMetadataResponse struct {
		Repository *struct {
			ID         string              `json:"id"`
			Labels     labelConnection     `json:"labels"`
			Milestones milestoneConnection `json:"milestones"`
			IssueTypes struct {
				Nodes []idNameNode `json:"nodes"`
			} `json:"issueTypes"`
		} `json:"repository"`
	}

	repositoryLabelsResponse struct {
		Repository *struct {
			Labels labelConnection `json:"labels"`
		} `json:"repository"`
	}

	repositoryMilestonesResponse struct {
		Repository *struct {
			Milestones milestoneConnection `json:"milestones"`
		} `json:"repository"`
	}

	projectPage struct {
		ProjectsV2 struct {
			Nodes []struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"nodes"`
			PageInfo pageInfo `json:"pageInfo"`
		} `json:"projectsV2"`
	}

	projectsResponse struct {
		Organization *projectPage `json:"organization"`
		User         *projectPage `json:"user"`
	}

	projectByNumberResponse struct {
		Organization *struct {
			ProjectV2 *struct {
				ID string `json:"id"`
			} `json:"projectV2"`
		} `json:"organization"`
		User *struct {
			ProjectV2 *struct {
				ID string `json:"id"`
			} `json:"projectV2"`
		} `json:"user"`
	}
)

// fetch performs the full remote resolution: one bulk repository query,
// plus project board resolution when the configuration asks for one.
func (c *Cache) fetch(ctx context.Context) (*Snapshot, error) {
	vars := map[string]any{"owner": c.opts.Owner, "name": c.opts.Repo}

	var resp repositoryMetadataResponse
	if err := c.client.Execute(ctx, queryRepositoryMetadata, vars, &resp); err != nil {
		return nil, fmt.Errorf("fetch repository metadata: %w", err)
	}
	if resp.Repository == nil || resp.Repository.ID == "" {
		return nil, github.NewConfigurationError("repository %s not found or not accessible", c.repoKey())
	}

	snap := &Snapshot{
		RepositoryID: resp.Repository.ID,
		Labels:       make(map[string]string, len(resp.Repository.Labels.Nodes)),
		Milestones:   make(map[string]MilestoneRecord, len(resp.Repository.Milestones.Nodes)),
		IssueTypes:   make(map[string]string, len(resp.Repository.IssueTypes.Nodes)),
	}
	for _, l := range resp.Repository.Labels.Nodes {
		snap.Labels[l.Name] = l.ID
	}
	for _, m := range resp.Repository.Milestones.Nodes {
		snap.Milestones[m.Title] = MilestoneRecord{
			ID:          m.ID,
			Number:      m.Number,
			Description: m.Description,
		}
	}
	for _, t := range resp.Repository.IssueTypes.Nodes {
		snap.IssueTypes[t.Name] = t.ID
	}

	// Repositories with more than a page of labels or milestones need
	// follow-up fetches; a truncated snapshot would make valid names look
	// unknown and get them dropped by best-effort resolution.
	if err := c.fetchRemainingLabels(ctx, snap, resp.Repository.Labels.PageInfo); err != nil {
		return nil, err
	}
	if err := c.fetchRemainingMilestones(ctx, snap, resp.Repository.Milestones.PageInfo); err != nil {
		return nil, err
	}

	projectID, err := c.resolveProject(ctx)
	if err != nil {
		return nil, err
	}
	snap.ProjectID = projectID

	return snap, nil
}

// fetchRemainingLabels follows the label connection's cursors until the
// snapshot holds the full label set.
func (c *Cache) fetchRemainingLabels(ctx context.Context, snap *Snapshot, pi pageInfo) error {
	for pi.HasNextPage {
		vars := map[string]any{"owner": c.opts.Owner, "name": c.opts.Repo, "cursor": pi.EndCursor}

		var resp repositoryLabelsResponse
		if err := c.client.Execute(ctx, queryRepositoryLabels, vars, &resp); err != nil {
			return fmt.Errorf("fetch label page: %w", err)
		}
		if resp.Repository == nil {
			return nil
		}
		for _, l := range resp.Repository.Labels.Nodes {
			snap.Labels[l.Name] = l.ID
		}
		pi = resp.Repository.Labels.PageInfo
	}
	return nil
}

// fetchRemainingMilestones follows the milestone connection's cursors.
func (c *Cache) fetchRemainingMilestones(ctx context.Context, snap *Snapshot, pi pageInfo) error {
	for pi.HasNextPage {
		vars := map[string]any{"owner": c.opts.Owner, "name": c.opts.Repo, "cursor": pi.EndCursor}

		var resp repositoryMilestonesResponse
		if err := c.client.Execute(ctx, queryRepositoryMilestones, vars, &resp); err != nil {
			return fmt.Errorf("fetch milestone page: %w", err)
		}
		if resp.Repository == nil {
			return nil
		}
		for _, m := range resp.Repository.Milestones.Nodes {
			snap.Milestones[m.Title] = MilestoneRecord{
				ID:          m.ID,
				Number:      m.Number,
				Description: m.Description,
			}
		}
		pi = resp.Repository.Milestones.PageInfo
	}
	return nil
}

// resolveProject returns the configured project board's node ID, or ""
// when no board is configured. An explicit ID is passed through; a number
// is looked up directly; a title is matched by paginating all boards.
func (c *Cache) resolveProject(ctx context.Context) (string, error) {
	switch {
	case c.opts.ProjectID != "":
		return c.opts.ProjectID, nil
	case c.opts.ProjectNumber > 0:
		return c.resolveProjectByNumber(ctx)
	case c.opts.ProjectTitle != "":
		return c.resolveProjectByTitle(ctx)
	}
	return "", nil
}

// resolveProjectByNumber looks the board up by number, trying the
// organization scope first then falling back to a personal account.
func (c *Cache) resolveProjectByNumber(ctx context.Context) (string, error) {
	vars := map[string]any{"owner": c.opts.Owner, "number": c.opts.ProjectNumber}

	var orgResp projectByNumberResponse
	err := c.client.Execute(ctx, queryProjectByOrgNumber, vars, &orgResp)
	if err == nil && orgResp.Organization != nil && orgResp.Organization.ProjectV2 != nil {
		return orgResp.Organization.ProjectV2.ID, nil
	}

	var userResp projectByNumberResponse
	if err := c.client.Execute(ctx, queryProjectByUserNumber, vars, &userResp); err != nil {
		return "", fmt.Errorf("resolve project #%d for %s: %w", c.opts.ProjectNumber, c.opts.Owner, err)
	}
	if userResp.User == nil || userResp.User.ProjectV2 == nil {
		return "", github.NewConfigurationError("project #%d not found for owner %s", c.opts.ProjectNumber, c.opts.Owner)
	}
	return userResp.User.ProjectV2.ID, nil
}

// resolveProjectByTitle pages through every board visible under the owner
// (organization scope first, personal scope when the org does not exist)
// and picks the first whose title matches case-insensitively. Exhausting
// all pages without a match is a configuration error, not a silent no-op.
func (c *Cache) resolveProjectByTitle(ctx context.Context) (string, error) {
	id, found, orgErr := c.scanProjects(ctx, queryProjectsByOrg)
	if orgErr == nil && found {
		return id, nil
	}

	// Organization scope failed or does not exist; try the personal account.
	id, found, userErr := c.scanProjects(ctx, queryProjectsByUser)
	if userErr != nil {
		if orgErr != nil {
			return "", fmt.Errorf("resolve project %q for %s: %w", c.opts.ProjectTitle, c.opts.Owner, orgErr)
		}
		return "", fmt.Errorf("resolve project %q for %s: %w", c.opts.ProjectTitle, c.opts.Owner, userErr)
	}
	if !found {
		return "", github.NewConfigurationError("project %q not found for owner %s", c.opts.ProjectTitle, c.opts.Owner)
	}
	return id, nil
}

// scanProjects pages through one search space looking for the configured
// title. Returns found=false with a nil error when the space exists but
// holds no match.
func (c *Cache) scanProjects(ctx context.Context, query string) (string, bool, error) {
	cursor := ""
	for {
		vars := map[string]any{"owner": c.opts.Owner}
		if cursor != "" {
			vars["cursor"] = cursor
		}

		var raw projectsResponse
		if err := c.client.Execute(ctx, query, vars, &raw); err != nil {
			return "", false, err
		}
		page := raw.Organization
		if page == nil {
			page = raw.User
		}
		if page == nil {
			return "", false, fmt.Errorf("owner %s not found in this scope", c.opts.Owner)
		}

		for _, node := range page.ProjectsV2.Nodes {
			if strings.EqualFold(node.Title, c.opts.ProjectTitle) {
				return node.ID, true, nil
			}
		}

		if !page.ProjectsV2.PageInfo.HasNextPage {
			return "", false, nil
		}
		cursor = page.ProjectsV2.PageInfo.EndCursor
	}
}

// Clear removes the persisted record and drops the in-memory snapshot.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()

	path := filepath.Join(c.opts.Dir, cacheFileName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache record: %w", err)
	}
	return nil
}
