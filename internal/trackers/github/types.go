// Package github mirrors YesWeHack reports into GitHub issues through the
// REST API. Attachments are uploaded through a browser session when
// github_cdn_on is set; GitHub's API has no attachment endpoint.
package github

import (
	"net/http"
	"strings"
	"time"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the maximum number of retries for rate-limited or
	// server-failed requests.
	MaxRetries = 3

	// RetryDelay is the base delay between retries (exponential backoff).
	RetryDelay = time.Second

	// MaxPageSize is the maximum number of items to fetch per page.
	MaxPageSize = 100

	// MaxPages is the maximum number of pages to fetch before stopping.
	// This prevents infinite loops from malformed Link headers.
	MaxPages = 1000
)

// Client provides methods to interact with the GitHub REST API.
type Client struct {
	Token      string       // personal access token
	Owner      string       // repository owner (user or org)
	Repo       string       // repository name
	BaseURL    string       // API base URL (default: https://api.github.com)
	HTTPClient *http.Client // optional custom HTTP client
}

// Issue represents an issue from the GitHub API.
type Issue struct {
	ID        int        `json:"id"`     // global unique ID
	Number    int        `json:"number"` // repository-scoped issue number
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"` // "open" or "closed"
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	User      *User      `json:"user,omitempty"`
	HTMLURL   string     `json:"html_url"`
	// Non-nil when the "issue" is actually a pull request; the issues API
	// returns both.
	PullRequest *PullRef `json:"pull_request,omitempty"`
}

// PullRef indicates an issue is actually a pull request.
type PullRef struct {
	URL string `json:"url,omitempty"`
}

// Comment represents an issue comment from the GitHub API.
type Comment struct {
	ID        int        `json:"id"`
	Body      string     `json:"body"`
	User      *User      `json:"user,omitempty"`
	CreatedAt *time.Time `json:"created_at"`
	HTMLURL   string     `json:"html_url,omitempty"`
}

// User represents a GitHub user.
type User struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
}

// Repository represents a GitHub repository.
type Repository struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
	Private  bool   `json:"private"`
}

// SplitProject splits an "owner/repo" project string.
func SplitProject(project string) (owner, repo string) {
	parts := strings.SplitN(project, "/", 2)
	if len(parts) != 2 {
		return project, ""
	}
	return parts[0], parts[1]
}
