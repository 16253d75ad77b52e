package metadata

import "strings"

// MilestoneRecord carries a milestone's two identifiers: the GraphQL node
// ID used by mutations and the REST sequence number used by the v3 issues
// API.
type MilestoneRecord struct {
	ID          string `json:"id"`
	Number      int    `json:"number"`
	Description string `json:"description,omitempty"`
}

// Snapshot is the resolved metadata for one repository: its own node ID,
// an optional project board ID, and name→ID maps for labels, milestones
// and issue types. Map keys keep their remote casing; lookups are
// case-insensitive. A snapshot is only valid for the repository it was
// resolved against.
type Snapshot struct {
	RepositoryID string                     `json:"repositoryId"`
	ProjectID    string                     `json:"projectId,omitempty"`
	Labels       map[string]string          `json:"labels"`
	Milestones   map[string]MilestoneRecord `json:"milestones"`
	IssueTypes   map[string]string          `json:"issueTypes"`
}

// LabelID looks up a label's node ID by name.
func (s *Snapshot) LabelID(name string) (string, bool) {
	for k, id := range s.Labels {
		if strings.EqualFold(k, name) {
			return id, true
		}
	}
	return "", false
}

// MilestoneByName looks up a milestone record by title.
func (s *Snapshot) MilestoneByName(name string) (MilestoneRecord, bool) {
	for k, rec := range s.Milestones {
		if strings.EqualFold(k, name) {
			return rec, true
		}
	}
	return MilestoneRecord{}, false
}

// IssueTypeID looks up an issue type's node ID by name.
func (s *Snapshot) IssueTypeID(name string) (string, bool) {
	for k, id := range s.IssueTypes {
		if strings.EqualFold(k, name) {
			return id, true
		}
	}
	return "", false
}
