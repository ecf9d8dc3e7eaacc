package format

import (
	"strings"
	"testing"
	"time"

	"github.com/yeswehack/ywh2bugtracker/internal/ywh"
)

func sampleReport() *ywh.Report {
	return &ywh.Report{
		LocalID:         "YWH-P1-123",
		Title:           "SQL injection in search",
		Scope:           "https://example.com",
		VulnerableParts: "api",
		PartName:        "search",
		EndPoint:        "/search",
		CVSS:            ywh.CVSS{Criticity: "high", Score: 8.1, Vector: "CVSS:3.1/AV:N"},
		BugType: ywh.BugType{
			Name:            "SQL Injection",
			Link:            "https://bt.example/sqli",
			RemediationLink: "https://bt.example/sqli/fix",
		},
		PayloadSample:   "' OR 1=1 --",
		TechnicalEnv:    "prod",
		DescriptionHTML: "<p>Found an <b>issue</b>.</p>",
		Priority:        &ywh.Priority{Name: "P3", Level: 3},
	}
}

func TestIssueTitle(t *testing.T) {
	f := New(DialectMarkdown)
	got := f.IssueTitle(sampleReport())
	want := "#YWH-P1-123 : SQL injection in search"
	if got != want {
		t.Errorf("IssueTitle = %q, want %q", got, want)
	}
}

func TestIssueDescriptionMarkdown(t *testing.T) {
	f := New(DialectMarkdown)
	got, err := f.IssueDescription(sampleReport())
	if err != nil {
		t.Fatalf("IssueDescription: %v", err)
	}
	want := `| Property | Value |
|----------|-------|
| Title | YWH-P1-123 : SQL injection in search |
| Priority | P3 |
| Bug type | [SQL Injection](https://bt.example/sqli) |
| Remediation | https://bt.example/sqli/fix |
| Scope | https://example.com |
| Severity | high (8.1) |
| CVSS vector | CVSS:3.1/AV:N |
| End point | /search |
| Vulnerable part | api |
| Part name | search |
| Payload sample | ' OR 1=1 -- |
| Environment | prod |

## Description

Found an **issue**.`
	if got != want {
		t.Errorf("markdown description:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestIssueDescriptionWiki(t *testing.T) {
	f := New(DialectWiki)
	got, err := f.IssueDescription(sampleReport())
	if err != nil {
		t.Fatalf("IssueDescription: %v", err)
	}
	want := `||Property||Value||
|Title|YWH-P1-123 : SQL injection in search|
|Priority|P3|
|Bug type|[SQL Injection|https://bt.example/sqli]|
|Remediation|https://bt.example/sqli/fix|
|Scope|https://example.com|
|Severity|high (8.1)|
|CVSS vector|CVSS:3.1/AV:N|
|End point|/search|
|Vulnerable part|api|
|Part name|search|
|Payload sample|' OR 1=1 --|
|Environment|prod|

h2. Description

Found an *issue*.`
	if got != want {
		t.Errorf("wiki description:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

// Missing priority renders as an empty cell rather than failing.
func TestIssueDescriptionNoPriority(t *testing.T) {
	r := sampleReport()
	r.Priority = nil
	f := New(DialectMarkdown)
	got, err := f.IssueDescription(r)
	if err != nil {
		t.Fatalf("IssueDescription: %v", err)
	}
	if !strings.Contains(got, "| Priority |  |") {
		t.Errorf("description missing empty priority cell:\n%s", got)
	}
}

func TestLogCommentVariants(t *testing.T) {
	author := ywh.Author{Username: "triager"}
	tests := []struct {
		name string
		log  ywh.Log
		want string
	}{
		{
			name: "comment",
			log: ywh.Log{
				Type:        ywh.LogTypeComment,
				Author:      ywh.Author{Username: "hunter1"},
				MessageHTML: "<p>Hello <i>there</i></p>",
			},
			want: "**Comment from hunter1**\n\nHello *there*",
		},
		{
			name: "cvss update",
			log: ywh.Log{
				Type:    ywh.LogTypeCVSSUpdate,
				Author:  author,
				OldCVSS: &ywh.CVSS{Criticity: "low", Score: 3.0},
				NewCVSS: &ywh.CVSS{Criticity: "high", Score: 8.5},
			},
			want: "**CVSS update from triager**\n\nSeverity changed from low (3) to high (8.5).",
		},
		{
			name: "details update sorted by field",
			log: ywh.Log{
				Type:       ywh.LogTypeDetailsUpdate,
				Author:     author,
				OldDetails: map[string]string{"scope": "a", "endpoint": "/x"},
				NewDetails: map[string]string{"scope": "b", "endpoint": "/x", "part": "p"},
			},
			want: "**Details update from triager**\n\n| Field | Old | New |\n| --- | --- | --- |\n| part |  | p |\n| scope | a | b |",
		},
		{
			name: "priority update",
			log: ywh.Log{
				Type:        ywh.LogTypePriorityUpdate,
				Author:      author,
				NewPriority: &ywh.Priority{Name: "P2"},
			},
			want: "**Priority update from triager**\n\nPriority is now P2.",
		},
		{
			name: "reward with amount",
			log: ywh.Log{
				Type:         ywh.LogTypeReward,
				Author:       author,
				RewardAmount: 500,
			},
			want: "**Reward from triager**\n\nA reward of 500 was granted to the hunter.",
		},
		{
			name: "reward without amount",
			log: ywh.Log{
				Type:   ywh.LogTypeReward,
				Author: author,
			},
			want: "**Reward from triager**\n\nA reward was granted to the hunter.",
		},
		{
			name: "status update with message",
			log: ywh.Log{
				Type:        ywh.LogTypeStatusUpdate,
				Author:      author,
				OldStatus:   &ywh.Status{Workflow: "accepted"},
				NewStatus:   &ywh.Status{Workflow: "ask_verif"},
				MessageHTML: "<p>Please verify</p>",
			},
			want: "**Status update from triager**\n\nStatus changed from Accepted to Ask for fix verification.\n\nPlease verify",
		},
		{
			name: "kind without dedicated template falls back to body",
			log: ywh.Log{
				Type:        ywh.LogTypeTrackerMessage,
				Author:      author,
				MessageHTML: "<p>sync note</p>",
			},
			want: "sync note",
		},
	}

	f := New(DialectMarkdown)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.LogComment(&tt.log)
			if err != nil {
				t.Fatalf("LogComment: %v", err)
			}
			if got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestLogCommentWiki(t *testing.T) {
	f := New(DialectWiki)
	log := ywh.Log{
		Type:        ywh.LogTypeComment,
		Author:      ywh.Author{Username: "hunter1"},
		MessageHTML: "<p>Hello <i>there</i></p>",
	}
	got, err := f.LogComment(&log)
	if err != nil {
		t.Fatalf("LogComment: %v", err)
	}
	want := "*Comment from hunter1*\n\nHello _there_"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStatusLabel(t *testing.T) {
	if got, want := StatusLabel("wont_fix"), "Won't fix"; got != want {
		t.Errorf("StatusLabel(wont_fix) = %q, want %q", got, want)
	}
	if got, want := StatusLabel("weird_state"), "weird_state"; got != want {
		t.Errorf("unknown state should pass through, got %q want %q", got, want)
	}
}

func TestTrackingStatusMessage(t *testing.T) {
	info := TrackerInfo{
		Type:     "github",
		URL:      "https://github.com/acme/tracker",
		Project:  "acme/tracker",
		IssueID:  "42",
		IssueURL: "https://github.com/acme/tracker/issues/42",
	}
	got := TrackingStatusMessage(info)
	want := `<p>Synchronized with github issue <a href="https://github.com/acme/tracker/issues/42">42</a> in project <a href="https://github.com/acme/tracker">acme/tracker</a>.</p>`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSynchronizationDoneMessage(t *testing.T) {
	info := TrackerInfo{Type: "jira", IssueID: "BUG-7", IssueURL: "https://jira.example/browse/BUG-7"}

	got := SynchronizationDoneMessage(info, 0, "")
	if strings.Contains(got, "comment") {
		t.Errorf("zero comments should not mention comments: %q", got)
	}

	got = SynchronizationDoneMessage(info, 1, "")
	if !strings.Contains(got, "<p>1 comment added.</p>") {
		t.Errorf("missing singular comment line: %q", got)
	}

	got = SynchronizationDoneMessage(info, 3, "The tracker issue was closed.")
	if !strings.Contains(got, "<p>3 comments added.</p>") {
		t.Errorf("missing plural comment line: %q", got)
	}
	if !strings.Contains(got, "<p>The tracker issue was closed.</p>") {
		t.Errorf("missing transition line: %q", got)
	}
}

func TestStateTransitionLine(t *testing.T) {
	tests := []struct {
		oldClosed, newClosed bool
		want                 string
	}{
		{false, true, "The tracker issue was closed."},
		{true, false, "The tracker issue was reopened."},
		{false, false, ""},
		{true, true, ""},
	}
	for _, tt := range tests {
		if got := StateTransitionLine(tt.oldClosed, tt.newClosed); got != tt.want {
			t.Errorf("StateTransitionLine(%v, %v) = %q, want %q", tt.oldClosed, tt.newClosed, got, tt.want)
		}
	}
}

// Tracker comments arrive as markdown and must reach the platform as
// sanitized HTML with an attribution header.
func TestDownloadCommentHTML(t *testing.T) {
	created := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)
	got, err := DownloadCommentHTML("github", "dev1", created, "Fixed in `main`.\n\n<script>alert(1)</script>")
	if err != nil {
		t.Fatalf("DownloadCommentHTML: %v", err)
	}
	if !strings.Contains(got, "Comment from <b>dev1</b> on <b>github</b> (2024-03-05 10:30:00 UTC):") {
		t.Errorf("missing attribution header: %q", got)
	}
	if !strings.Contains(got, "<code>main</code>") {
		t.Errorf("markdown body not rendered: %q", got)
	}
	if strings.Contains(got, "<script") {
		t.Errorf("script tag survived sanitization: %q", got)
	}
}
