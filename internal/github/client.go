package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	githubAPIURL     = "https://api.github.com"
	githubGraphQLURL = "https://api.github.com/graphql"
)

// Client is a GitHub API client speaking both the v3 REST API and the v4
// GraphQL API with a single token. It performs no automatic retries:
// partial multi-step operations report progress to the caller instead of
// re-attempting.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string // for testing; defaults to githubAPIURL
	graphqlURL string // for testing; defaults to githubGraphQLURL
}

// NewClient creates a new GitHub client.
func NewClient(token string) *Client {
	return &Client{
		token:      token,
		baseURL:    githubAPIURL,
		graphqlURL: githubGraphQLURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithBaseURL creates a client pointed at a custom endpoint.
// Used by tests; both REST and GraphQL calls hit the same server.
func NewClientWithBaseURL(token, baseURL string) *Client {
	c := NewClient(token)
	c.baseURL = baseURL
	c.graphqlURL = baseURL + "/graphql"
	return c
}

// doRequest performs an HTTP request to the REST API. A non-2xx status
// becomes a *RemoteError carrying the response body verbatim.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RemoteError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}

	return nil
}

// GraphQLRequest is the generic GraphQL request envelope.
type GraphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// GraphQLResponse is the generic GraphQL response envelope.
type GraphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// GraphQLError is a single entry in a GraphQL errors list.
type GraphQLError struct {
	Message string `json:"message"`
}

// Execute runs a GraphQL query or mutation and unmarshals the data field
// into result. A non-200 status or a non-empty errors list becomes a
// *RemoteError; error messages are joined, not swallowed.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any, result any) error {
	body, err := json.Marshal(GraphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create graphql request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graphql request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read graphql response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &RemoteError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var gqlResp GraphQLResponse
	if err := json.Unmarshal(respBody, &gqlResp); err != nil {
		return fmt.Errorf("unmarshal graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		msgs := make([]string, len(gqlResp.Errors))
		for i, e := range gqlResp.Errors {
			msgs[i] = e.Message
		}
		return &RemoteError{Message: strings.Join(msgs, "; ")}
	}

	if result != nil && len(gqlResp.Data) > 0 {
		if err := json.Unmarshal(gqlResp.Data, result); err != nil {
			return fmt.Errorf("parse graphql data: %w", err)
		}
	}

	return nil
}

// ListIssues lists issues for a repository with optional filters.
// Label filtering happens case-insensitively in code after fetching.
func (c *Client) ListIssues(ctx context.Context, owner, repo string, opts *ListIssuesOptions) ([]*Issue, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues", owner, repo)
	var filterLabels []string
	if opts != nil {
		filterLabels = opts.Labels
		if opts.State != "" {
			path += "?state=" + opts.State
		}
	}

	var raw []*restIssue
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	issues := make([]*Issue, 0, len(raw))
	for _, ri := range raw {
		issues = append(issues, ri.toIssue())
	}

	if len(filterLabels) == 0 {
		return issues, nil
	}

	var filtered []*Issue
	for _, iss := range issues {
		all := true
		for _, want := range filterLabels {
			if !hasLabel(iss, want) {
				all = false
				break
			}
		}
		if all {
			filtered = append(filtered, iss)
		}
	}
	return filtered, nil
}

// hasLabel checks if an issue carries a label, case-insensitively.
func hasLabel(iss *Issue, name string) bool {
	for _, l := range iss.Labels {
		if strings.EqualFold(l.Name, name) {
			return true
		}
	}
	return false
}

// UpdateIssue patches an issue. The payload uses v3 field names
// ("milestone" is the milestone number, "labels" are label names).
func (c *Client) UpdateIssue(ctx context.Context, owner, repo string, number int, payload map[string]any) (*Issue, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number)
	var raw restIssue
	if err := c.doRequest(ctx, http.MethodPatch, path, payload, &raw); err != nil {
		return nil, err
	}
	return raw.toIssue(), nil
}

// AddAssignees assigns users to an issue by login.
func (c *Client) AddAssignees(ctx context.Context, owner, repo string, number int, assignees []string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/assignees", owner, repo, number)
	return c.doRequest(ctx, http.MethodPost, path, map[string][]string{"assignees": assignees}, nil)
}

// AddLabels adds labels to an issue by name.
func (c *Client) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", owner, repo, number)
	return c.doRequest(ctx, http.MethodPost, path, map[string][]string{"labels": labels}, nil)
}

// RemoveLabel removes one label from an issue. A 404 means the label was
// not on the issue, which counts as success. The name keeps its remote
// casing and is path-escaped so slash-bearing labels stay one segment.
func (c *Client) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels/%s", owner, repo, number, url.PathEscape(label))
	err := c.doRequest(ctx, http.MethodDelete, path, nil, nil)
	if err != nil && IsNotFound(err) {
		return nil
	}
	return err
}

// CreateMilestone creates a new milestone.
func (c *Client) CreateMilestone(ctx context.Context, owner, repo string, input *MilestoneInput) (*Milestone, error) {
	path := fmt.Sprintf("/repos/%s/%s/milestones", owner, repo)
	var raw restMilestone
	if err := c.doRequest(ctx, http.MethodPost, path, input, &raw); err != nil {
		return nil, err
	}
	return raw.toMilestone(), nil
}
