// Package gitlab mirrors reports into GitLab project issues through the REST
// v4 API. Attachments are re-hosted through the project uploads endpoint, so
// issue bodies never depend on platform-side URLs.
package gitlab

import (
	"net/http"
	"time"
)

// API constants.
const (
	// DefaultInstanceURL is the public gitlab.com instance.
	DefaultInstanceURL = "https://gitlab.com"
	// DefaultTimeout for API requests.
	DefaultTimeout = 30 * time.Second
	// MaxRetries for rate-limited or failing requests.
	MaxRetries = 3
	// RetryDelay is the base delay between retries (doubles each attempt).
	RetryDelay = 1 * time.Second
	// MaxPageSize is GitLab's maximum per_page value.
	MaxPageSize = 100
	// MaxPages caps pagination as a safety guard.
	MaxPages = 1000
)

// Client is a GitLab REST v4 client scoped to one project.
type Client struct {
	Token      string
	Project    string // namespace/project path or numeric id
	BaseURL    string // instance URL; the API lives under /api/v4
	HTTPClient *http.Client
}

// Project is a GitLab project.
type Project struct {
	ID                int    `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
}

// Issue is a GitLab project issue. IID is the project-scoped number used in
// URLs and references; ID is the instance-global one.
type Issue struct {
	ID          int        `json:"id"`
	IID         int        `json:"iid"`
	ProjectID   int        `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	State       string     `json:"state"` // "opened" or "closed"
	WebURL      string     `json:"web_url"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Note is an issue note (comment). System notes record state changes and
// carry no author-written content.
type Note struct {
	ID        int        `json:"id"`
	Body      string     `json:"body"`
	System    bool       `json:"system"`
	Author    *User      `json:"author,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// User is a GitLab user reference.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// Upload is the response of the project uploads endpoint. URL is relative to
// the project's web URL.
type Upload struct {
	Alt      string `json:"alt"`
	URL      string `json:"url"`
	FullPath string `json:"full_path"`
	Markdown string `json:"markdown"`
}
