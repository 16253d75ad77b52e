// Package testutil provides testing utilities for the ghscript project.
package testutil

// Safe test tokens that won't trigger GitHub's push protection.
// These are intentionally simple and obviously fake to avoid secret
// scanning.
const (
	// FakeGitHubToken is a safe test token for GitHub API authentication.
	FakeGitHubToken = "test-github-token"
)
