package format

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	mdhtml "github.com/yuin/goldmark/renderer/html"
)

// TrackerInfo names an issue inside a tracker for feedback messages posted
// back to the platform.
type TrackerInfo struct {
	Type     string
	URL      string
	Project  string
	IssueID  string
	IssueURL string
}

var (
	commentMarkdown = goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Linkify,
			extension.Strikethrough,
		),
		goldmark.WithRendererOptions(
			mdhtml.WithUnsafe(),
		),
	)
	commentPolicy = bluemonday.UGCPolicy()
)

// TrackingStatusMessage is the platform comment recorded when a report is
// first attached to a tracker issue.
func TrackingStatusMessage(info TrackerInfo) string {
	return fmt.Sprintf(
		"<p>Synchronized with %s issue <a href=%q>%s</a> in project <a href=%q>%s</a>.</p>",
		html.EscapeString(info.Type),
		info.IssueURL,
		html.EscapeString(info.IssueID),
		info.URL,
		html.EscapeString(info.Project),
	)
}

// SynchronizationDoneMessage is the platform comment recorded after a
// synchronization round. transition is empty when the issue state did not
// change; see StateTransitionLine.
func SynchronizationDoneMessage(info TrackerInfo, commentCount int, transition string) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		"<p>Synchronization done with %s issue <a href=%q>%s</a>.</p>",
		html.EscapeString(info.Type),
		info.IssueURL,
		html.EscapeString(info.IssueID),
	)
	switch commentCount {
	case 0:
	case 1:
		b.WriteString("<p>1 comment added.</p>")
	default:
		fmt.Fprintf(&b, "<p>%d comments added.</p>", commentCount)
	}
	if transition != "" {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(transition))
	}
	return b.String()
}

// StateTransitionLine describes a closed-state change between two rounds,
// or returns "" when nothing changed.
func StateTransitionLine(oldClosed, newClosed bool) string {
	switch {
	case !oldClosed && newClosed:
		return "The tracker issue was closed."
	case oldClosed && !newClosed:
		return "The tracker issue was reopened."
	default:
		return ""
	}
}

// DownloadCommentHTML renders a comment pulled from a tracker as platform
// HTML: a header naming the author and tracker, then the markdown body
// converted and sanitized.
func DownloadCommentHTML(trackerName, author string, createdAt time.Time, body string) (string, error) {
	var buf bytes.Buffer
	if err := commentMarkdown.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("rendering comment body: %w", err)
	}
	header := fmt.Sprintf(
		"<p>Comment from <b>%s</b> on <b>%s</b> (%s):</p>",
		html.EscapeString(author),
		html.EscapeString(trackerName),
		createdAt.UTC().Format("2006-01-02 15:04:05 MST"),
	)
	return header + "\n" + commentPolicy.Sanitize(buf.String()), nil
}
