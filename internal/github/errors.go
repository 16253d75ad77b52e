package github

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a missing or unresolvable piece of local
// configuration: no token, no repository, or a mandatory named resource
// (project board, milestone) that could not be resolved remotely.
// Configuration errors are never retried; the user has to fix something.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// NewConfigurationError creates a ConfigurationError with a formatted reason.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports that a numbered entity does not exist remotely.
type NotFoundError struct {
	Resource string // "issue", "milestone", ...
	Number   int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s #%d not found", e.Resource, e.Number)
}

// RemoteError reports a failure from the GitHub API: a non-2xx HTTP status
// or a GraphQL errors list. Message carries the remote's own text verbatim.
type RemoteError struct {
	Status  int // 0 for GraphQL-level errors on a 200 response
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("github API error (status %d): %s", e.Status, e.Message)
	}
	return "github API error: " + e.Message
}

// IsNotFound reports whether err is a NotFoundError or a 404 RemoteError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	var re *RemoteError
	return errors.As(err, &re) && re.Status == 404
}
