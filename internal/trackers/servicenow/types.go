// Package servicenow mirrors reports into ServiceNow incidents through the
// Table API. An incident's activity lives in two resource streams, journal
// comments and attachment records; reading them back merges both into one
// chronological timeline.
package servicenow

import (
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

	apiPrefix = "/api/now"

	// timeLayout is the Table API timestamp encoding, in UTC.
	timeLayout = "2006-01-02 15:04:05"
)

// Client is a ServiceNow Table API client authenticated with basic auth.
type Client struct {
	Login      string
	Password   string
	BaseURL    string // instance URL, https://company.service-now.com
	HTTPClient *http.Client
}

// Incident is the subset of incident fields the synchronizer reads. The
// Table API sends every value as a string.
type Incident struct {
	SysID            string `json:"sys_id"`
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	State            string `json:"state"`
	Active           string `json:"active"` // "true" while the incident is open
	CreatedOn        string `json:"sys_created_on"`
}

// JournalEntry is one sys_journal_field row. Element is the journal field
// the entry belongs to ("comments" for the customer-visible stream).
type JournalEntry struct {
	SysID     string `json:"sys_id"`
	Element   string `json:"element"`
	Value     string `json:"value"`
	CreatedOn string `json:"sys_created_on"`
	CreatedBy string `json:"sys_created_by"`
}

// AttachmentRecord is one attachment table row.
type AttachmentRecord struct {
	SysID        string `json:"sys_id"`
	FileName     string `json:"file_name"`
	ContentType  string `json:"content_type"`
	DownloadLink string `json:"download_link"`
	CreatedOn    string `json:"sys_created_on"`
	CreatedBy    string `json:"sys_created_by"`
}
