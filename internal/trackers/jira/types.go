// Package jira mirrors reports into Jira issues through the REST v2 API.
// Bodies use the wiki dialect. Attachments are added to the created issue,
// then body references are rewritten to the attachment content URLs.
package jira

import (
	"encoding/json"
	"net/http"
	"time"
)

// API constants.
const (
	// DefaultTimeout for API requests.
	DefaultTimeout = 30 * time.Second
	// MaxRetries for rate-limited or failing requests.
	MaxRetries = 3
	// RetryDelay is the base delay between retries (doubles each attempt).
	RetryDelay = 1 * time.Second
	// MaxPageSize is the comment page size requested per call.
	MaxPageSize = 100
	// MaxPages caps pagination as a safety guard.
	MaxPages = 1000

	apiPrefix = "/rest/api/2"
)

// Client is a Jira REST v2 client authenticated with basic auth.
type Client struct {
	Login      string
	Password   string
	BaseURL    string
	HTTPClient *http.Client
}

// timeLayout is Jira's REST timestamp encoding.
const timeLayout = "2006-01-02T15:04:05.000-0700"

// Time wraps time.Time with Jira's REST timestamp encoding.
type Time struct {
	time.Time
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(timeLayout))
}

func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.Parse(timeLayout, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// Project is a Jira project.
type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Issue is a Jira issue. Creation responses carry only ID, Key and Self;
// fetches fill Fields.
type Issue struct {
	ID     string  `json:"id"`
	Key    string  `json:"key"`
	Self   string  `json:"self"`
	Fields *Fields `json:"fields,omitempty"`
}

// Fields is the subset of issue fields the synchronizer reads.
type Fields struct {
	Summary     string  `json:"summary,omitempty"`
	Description string  `json:"description,omitempty"`
	Status      *Status `json:"status,omitempty"`
}

// Status is a workflow status.
type Status struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Comment is an issue comment.
type Comment struct {
	ID      string `json:"id"`
	Body    string `json:"body"`
	Author  *User  `json:"author,omitempty"`
	Created Time   `json:"created"`
}

// CommentPage is the paginated comment listing envelope.
type CommentPage struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Comments   []Comment `json:"comments"`
}

// User is a Jira user reference. Server instances fill Name, cloud ones only
// DisplayName.
type User struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Attachment is an issue attachment. Content is the download URL.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Content  string `json:"content"`
}
