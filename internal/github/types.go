package github

import "time"

// Kind tags returned domain objects so downstream consumers switch on an
// explicit discriminant instead of sniffing which fields happen to be set.
const (
	KindIssue       = "issue"
	KindPullRequest = "pull_request"
	KindLabel       = "label"
	KindMilestone   = "milestone"
	KindRepository  = "repository"
	KindIssueType   = "issue_type"
)

// Issue is a GitHub issue. ID is the GraphQL node ID; Number is the
// repository-scoped issue number.
type Issue struct {
	Kind      string     `json:"kind"`
	ID        string     `json:"id"`
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	Labels    []Label    `json:"labels"`
	Milestone *Milestone `json:"milestone,omitempty"`
	URL       string     `json:"url"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Label is a repository label.
type Label struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// Milestone is a repository milestone. It lives in two identifier spaces:
// ID is the GraphQL node ID used by mutations, Number is the REST sequence
// number used by the v3 issues API.
type Milestone struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueOn       string `json:"dueOn,omitempty"`
}

// Repository identifies the repository the process is configured against.
type Repository struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// IssueType is an organization-defined issue type (Bug, Feature, Task...).
type IssueType struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// restIssue is the v3 REST representation; NodeID bridges to GraphQL.
type restIssue struct {
	NodeID    string    `json:"node_id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Labels    []struct {
		NodeID      string `json:"node_id"`
		Name        string `json:"name"`
		Color       string `json:"color"`
		Description string `json:"description"`
	} `json:"labels"`
	Milestone *struct {
		NodeID      string `json:"node_id"`
		Number      int    `json:"number"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"milestone"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

// toIssue converts the REST shape to the tagged domain type.
func (ri *restIssue) toIssue() *Issue {
	iss := &Issue{
		Kind:      KindIssue,
		ID:        ri.NodeID,
		Number:    ri.Number,
		Title:     ri.Title,
		Body:      ri.Body,
		State:     ri.State,
		URL:       ri.HTMLURL,
		CreatedAt: ri.CreatedAt,
		UpdatedAt: ri.UpdatedAt,
	}
	if ri.PullRequest != nil {
		iss.Kind = KindPullRequest
	}
	for _, l := range ri.Labels {
		iss.Labels = append(iss.Labels, Label{
			Kind:        KindLabel,
			ID:          l.NodeID,
			Name:        l.Name,
			Color:       l.Color,
			Description: l.Description,
		})
	}
	if ri.Milestone != nil {
		iss.Milestone = &Milestone{
			Kind:        KindMilestone,
			ID:          ri.Milestone.NodeID,
			Number:      ri.Milestone.Number,
			Title:       ri.Milestone.Title,
			Description: ri.Milestone.Description,
		}
	}
	return iss
}

// restMilestone is the v3 REST milestone representation.
type restMilestone struct {
	NodeID      string `json:"node_id"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description"`
	DueOn       string `json:"due_on"`
}

func (rm *restMilestone) toMilestone() *Milestone {
	return &Milestone{
		Kind:        KindMilestone,
		ID:          rm.NodeID,
		Number:      rm.Number,
		Title:       rm.Title,
		Description: rm.Description,
		DueOn:       rm.DueOn,
	}
}

// MilestoneInput is the input for creating a milestone.
type MilestoneInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueOn       string `json:"due_on,omitempty"`
}

// ListIssuesOptions filters ListIssues. Labels are matched
// case-insensitively in code after fetching; the GitHub label query
// is case-sensitive.
type ListIssuesOptions struct {
	State  string
	Labels []string
}
