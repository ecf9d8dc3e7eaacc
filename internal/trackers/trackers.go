// Package trackers defines the adapter contract every issue tracker
// integration implements, plus the registry that maps configuration type
// tags to adapter constructors. The synchronization engine only ever talks
// to trackers through this interface.
package trackers

import (
	"context"
	"time"

	"github.com/yeswehack/ywh2bugtracker/internal/ywh"
)

// Tracker is implemented by each issue tracker integration. Implementations
// must be safe for use from one goroutine at a time; the engine never shares
// a Tracker across concurrent report synchronizations.
type Tracker interface {
	// Name returns the tracker's name from the configuration file.
	Name() string

	// URL returns the tracker base URL for feedback messages.
	URL() string

	// Test verifies connectivity and credentials without mutating anything.
	Test(ctx context.Context) error

	// GetIssue fetches an issue by tracker id. It returns nil, nil only when
	// the tracker definitively reports the issue does not exist; transport
	// and authentication failures return an error.
	GetIssue(ctx context.Context, issueID string) (*Issue, error)

	// SendReport creates a new issue carrying the report's formatted
	// description and re-hosted attachments.
	SendReport(ctx context.Context, report *ywh.Report) (*Issue, error)

	// SendLogs adds one comment per log to the issue, preserving order.
	// On failure the comments already created stay in place; the result
	// enumerates them so callers know how far the send got.
	SendLogs(ctx context.Context, issue *Issue, logs []*ywh.Log) (*SendLogsResult, error)

	// GetIssueComments lists issue comments in chronological order, skipping
	// the given comment ids. Inline images are downloaded through the
	// adapter's authenticated session and returned as attachment bytes.
	GetIssueComments(ctx context.Context, issueID string, excludeIDs []string) ([]*Comment, error)
}

// Issue is an existing tracker issue. Adapters produce these; the engine
// never persists them.
type Issue struct {
	TrackerURL string
	Project    string
	ID         string
	URL        string
	Closed     bool
}

// Comment is one tracker-side comment, normalized across trackers.
type Comment struct {
	ID          string
	Author      string
	CreatedAt   time.Time
	Body        string            // markdown; adapters convert their own dialect
	Attachments map[string][]byte // filename -> bytes for inline images
}

// SendLogsResult reports how far a SendLogs call got. CommentIDs holds the
// ids of the created comments in send order; on error it covers the
// comments created before the failure.
type SendLogsResult struct {
	Issue      *Issue
	CommentIDs []string
}
