// Package ywh provides the YesWeHack platform client and the report data model.
//
// Reports, logs and attachments are fetched snapshots: the engine treats them
// as immutable for the duration of one reconciliation. The only writes the
// client performs against a report are tracking-status updates, tracker-update
// feedback logs and mirrored comments.
package ywh

import (
	"context"
	"time"
)

// Tracking status codes recognized by the synchronizer. The platform defines
// more (AFV, ...); anything else is carried opaquely and never rewritten.
const (
	// TrackingStatusAFI marks a report awaiting implementation, i.e. not yet
	// mirrored into any tracker.
	TrackingStatusAFI = "AFI"

	// TrackingStatusTracked marks a report that has at least one tracker issue.
	TrackingStatusTracked = "T"
)

// Report workflow statuses the engine writes back. Reads are opaque strings.
const (
	// StatusAskVerification asks the hunter to verify a fix. Written when the
	// issue_closed_to_report_afv feedback option reacts to a closed issue.
	StatusAskVerification = "ask_verif"
)

// Log type discriminators as delivered by the platform API.
const (
	LogTypeComment        = "comment"
	LogTypeCVSSUpdate     = "cvss-update"
	LogTypeDetailsUpdate  = "details-update"
	LogTypePriorityUpdate = "priority-update"
	LogTypeReward         = "reward"
	LogTypeStatusUpdate   = "status-update"
	LogTypeTrackingStatus = "tracking-status"
	LogTypeTrackerUpdate  = "tracker-update"
	LogTypeTrackerMessage = "tracker-message"
)

// Report is a vulnerability submission snapshot.
type Report struct {
	ID               int          `json:"id"`
	LocalID          string       `json:"local_id"` // human-facing, e.g. "YWH-P1-123"
	Title            string       `json:"title"`
	Scope            string       `json:"scope"`
	VulnerableParts  string       `json:"vulnerable_part"`
	PartName         string       `json:"part_name"`
	EndPoint         string       `json:"end_point"`
	CVSS             CVSS         `json:"cvss"`
	BugType          BugType      `json:"bug_type"`
	PayloadSample    string       `json:"payload_sample"`
	TechnicalEnv     string       `json:"technical_information"`
	DescriptionHTML  string       `json:"description_html"`
	Attachments      []Attachment `json:"attachments"`
	Hunter           Author       `json:"hunter"`
	Program          Program      `json:"program"`
	Status           Status       `json:"status"`
	TrackingStatus   string       `json:"tracking_status"`
	Priority         *Priority    `json:"priority,omitempty"`
	Logs             []Log        `json:"logs"`
}

// IsTracked reports whether the platform already flagged this report as
// tracked in at least one tracker.
func (r *Report) IsTracked() bool { return r.TrackingStatus == TrackingStatusTracked }

// LatestTrackingStatusLog returns the newest tracking-status log whose tracker
// name matches, or nil. Logs are stored oldest-first; the walk is newest-first.
func (r *Report) LatestTrackingStatusLog(trackerName string) *Log {
	for i := len(r.Logs) - 1; i >= 0; i-- {
		l := &r.Logs[i]
		if l.Type != LogTypeTrackingStatus && l.Type != LogTypeTrackerUpdate {
			continue
		}
		if l.TrackerName == trackerName && l.TrackerID != "" {
			return l
		}
	}
	return nil
}

// CVSS is the report severity triple.
type CVSS struct {
	Criticity string  `json:"criticity"` // label: none/low/medium/high/critical
	Score     float64 `json:"score"`
	Vector    string  `json:"vector"`
}

// BugType names the vulnerability class with its reference links.
type BugType struct {
	Name            string `json:"name"`
	Link            string `json:"link"`
	RemediationLink string `json:"remediation_link"`
}

// Author is a platform user reference.
type Author struct {
	Username string `json:"username"`
}

// Program is a bug bounty program reference.
type Program struct {
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

// Status is a report workflow state.
type Status struct {
	Workflow string `json:"workflow_state"`
}

// Priority is the report priority as named on the platform.
type Priority struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// Log is a typed, append-only event on a report. The platform delivers all
// variants through one shape; Type selects which optional fields are set.
type Log struct {
	ID          int          `json:"id"`
	Type        string       `json:"type"`
	CreatedAt   time.Time    `json:"created_at"`
	Author      Author       `json:"author"`
	Private     bool         `json:"private"`
	MessageHTML string       `json:"message_html"`
	Attachments []Attachment `json:"attachments"`

	// cvss-update
	OldCVSS *CVSS `json:"old_cvss,omitempty"`
	NewCVSS *CVSS `json:"new_cvss,omitempty"`

	// details-update
	OldDetails map[string]string `json:"old_details,omitempty"`
	NewDetails map[string]string `json:"new_details,omitempty"`

	// priority-update
	NewPriority *Priority `json:"new_priority,omitempty"`

	// reward
	RewardAmount int `json:"reward_amount,omitempty"`

	// status-update
	OldStatus *Status `json:"old_status,omitempty"`
	NewStatus *Status `json:"new_status,omitempty"`

	// tracking-status, tracker-update, tracker-message
	TrackerName string `json:"tracker_name,omitempty"`
	TrackerID   string `json:"tracker_id,omitempty"`
	TrackerURL  string `json:"tracker_url,omitempty"`

	// tracker-update: state token produced by the statetoken codec, embedded
	// in the message body by the platform.
	TrackerToken string `json:"tracker_token,omitempty"`
}

// IsComment reports whether the log is a hunter/manager comment.
func (l *Log) IsComment() bool { return l.Type == LogTypeComment }

// Attachment is file metadata plus a lazy byte loader. The core never reads
// bytes; adapters invoke Load at upload time.
type Attachment struct {
	ID           int    `json:"id"`
	Name         string `json:"name"` // platform-assigned name
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	Size         int    `json:"size"`
	URL          string `json:"url"`

	// Loader fetches the attachment bytes through the platform session.
	// Populated by the client; nil on attachments built in tests that never
	// load data.
	Loader func(ctx context.Context) ([]byte, error) `json:"-"`
}

// Load fetches the attachment content through its loader.
func (a *Attachment) Load(ctx context.Context) ([]byte, error) {
	if a.Loader == nil {
		return nil, errNoLoader
	}
	return a.Loader(ctx)
}
