package gitlab

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/yeswehack/ywh2bugtracker/internal/config"
	"github.com/yeswehack/ywh2bugtracker/internal/format"
	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
	"github.com/yeswehack/ywh2bugtracker/internal/trackers"
	"github.com/yeswehack/ywh2bugtracker/internal/ywh"
)

func init() {
	trackers.Register(config.TypeGitLab, func(name string, cfg config.TrackerConfig) (trackers.Tracker, error) {
		gl, ok := cfg.(*config.GitLabConfig)
		if !ok {
			return nil, syncerr.New(syncerr.KindConfiguration,
				"tracker %s: unexpected config type %T", name, cfg)
		}
		return New(name, gl)
	})
}

// Tracker mirrors reports into one GitLab project.
type Tracker struct {
	name   string
	client *Client
	fm     *format.Formatter

	webOnce sync.Once
	webURL  string
}

// New builds a GitLab tracker from its configuration section.
func New(name string, cfg *config.GitLabConfig) (*Tracker, error) {
	client := NewClient(cfg.Token, cfg.Project).WithBaseURL(cfg.InstanceURL())
	if !cfg.VerifyTLS() {
		client = client.WithHTTPClient(insecureHTTPClient())
	}

	return &Tracker{
		name:   name,
		client: client,
		fm:     format.New(format.DialectMarkdown),
	}, nil
}

func (t *Tracker) Name() string { return t.name }

// URL returns the project's browser URL.
func (t *Tracker) URL() string {
	return t.client.BaseURL + "/" + t.client.Project
}

// Test probes the project with the configured token.
func (t *Tracker) Test(ctx context.Context) error {
	_, err := t.client.FetchProject(ctx)
	return err
}

// GetIssue fetches an issue by iid. A missing issue returns nil, nil.
func (t *Tracker) GetIssue(ctx context.Context, issueID string) (*trackers.Issue, error) {
	iid, err := strconv.Atoi(strings.TrimPrefix(issueID, "#"))
	if err != nil {
		// A non-numeric id can never name a GitLab issue.
		return nil, nil
	}
	issue, err := t.client.FetchIssue(ctx, iid)
	if err != nil {
		if syncerr.IsKind(err, syncerr.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return t.toIssue(issue), nil
}

// SendReport creates a new issue for the report. Attachments are uploaded to
// the project uploads area; when at least one upload succeeds an
// "Attachments:" footer lists them.
func (t *Tracker) SendReport(ctx context.Context, report *ywh.Report) (*trackers.Issue, error) {
	description, err := t.fm.IssueDescription(report)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindAdapter, err, "formatting report %s", report.LocalID)
	}
	description, uploaded := t.resolveAttachments(ctx, description, report.Attachments)
	if len(uploaded) > 0 {
		var footer strings.Builder
		footer.WriteString("\n\nAttachments:\n")
		for _, u := range uploaded {
			fmt.Fprintf(&footer, "\n- [%s](%s)", u.name, u.href)
		}
		description += footer.String()
	}

	issue, err := t.client.CreateIssue(ctx, t.fm.IssueTitle(report), description)
	if err != nil {
		return nil, err
	}
	return t.toIssue(issue), nil
}

// SendLogs adds one note per log, in order. On failure the result lists the
// notes already created.
func (t *Tracker) SendLogs(ctx context.Context, issue *trackers.Issue, logs []*ywh.Log) (*trackers.SendLogsResult, error) {
	result := &trackers.SendLogsResult{Issue: issue}
	iid, err := strconv.Atoi(issue.ID)
	if err != nil {
		return result, syncerr.New(syncerr.KindAdapter, "issue id %q is not a number", issue.ID)
	}

	for _, log := range logs {
		body, err := t.fm.LogComment(log)
		if err != nil {
			return result, syncerr.Wrap(syncerr.KindAdapter, err, "formatting log %d", log.ID)
		}
		body, _ = t.resolveAttachments(ctx, body, log.Attachments)
		note, err := t.client.CreateNote(ctx, iid, body)
		if err != nil {
			return result, err
		}
		result.CommentIDs = append(result.CommentIDs, strconv.Itoa(note.ID))
	}
	return result, nil
}

// GetIssueComments lists issue notes in creation order, skipping excludeIDs
// and system notes. Upload references are downloaded with the token.
func (t *Tracker) GetIssueComments(ctx context.Context, issueID string, excludeIDs []string) ([]*trackers.Comment, error) {
	iid, err := strconv.Atoi(issueID)
	if err != nil {
		return nil, syncerr.New(syncerr.KindAdapter, "issue id %q is not a number", issueID)
	}
	notes, err := t.client.ListNotes(ctx, iid)
	if err != nil {
		return nil, err
	}

	skip := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		skip[id] = true
	}

	var out []*trackers.Comment
	for i := range notes {
		n := &notes[i]
		id := strconv.Itoa(n.ID)
		if n.System || skip[id] {
			continue
		}
		tc := &trackers.Comment{ID: id, Body: n.Body}
		if n.Author != nil {
			tc.Author = n.Author.Username
		}
		if n.CreatedAt != nil {
			tc.CreatedAt = *n.CreatedAt
		}
		tc.Attachments = t.downloadImages(ctx, n.Body)
		out = append(out, tc)
	}
	return out, nil
}

func (t *Tracker) toIssue(issue *Issue) *trackers.Issue {
	return &trackers.Issue{
		TrackerURL: t.URL(),
		Project:    t.client.Project,
		ID:         strconv.Itoa(issue.IID),
		URL:        issue.WebURL,
		Closed:     issue.State == "closed",
	}
}

type uploadedAttachment struct {
	name string
	href string
}

// resolveAttachments re-hosts platform attachments referenced in a formatted
// body and substitutes the upload URLs. Attachments that cannot be uploaded
// degrade to a placeholder note, since platform URLs need platform
// credentials.
func (t *Tracker) resolveAttachments(ctx context.Context, body string, attachments []ywh.Attachment) (string, []uploadedAttachment) {
	var uploaded []uploadedAttachment
	for i := range attachments {
		att := &attachments[i]
		if att.URL == "" || !strings.Contains(body, att.URL) {
			continue
		}
		if href := t.uploadAttachment(ctx, att); href != "" {
			body = strings.ReplaceAll(body, att.URL, href)
			uploaded = append(uploaded, uploadedAttachment{name: att.OriginalName, href: href})
			continue
		}
		body = replaceAttachmentRefs(body, att.URL, attachmentNote(att))
	}
	return body, uploaded
}

func (t *Tracker) uploadAttachment(ctx context.Context, att *ywh.Attachment) string {
	data, err := att.Load(ctx)
	if err != nil {
		return ""
	}
	upload, err := t.client.UploadFile(ctx, att.OriginalName, data)
	if err != nil {
		return ""
	}
	if strings.HasPrefix(upload.URL, "/") {
		return t.projectWebURL(ctx) + upload.URL
	}
	return upload.URL
}

func attachmentNote(att *ywh.Attachment) string {
	return fmt.Sprintf("*(attachment %q is only available on the YesWeHack platform)*", att.OriginalName)
}

// replaceAttachmentRefs replaces whole image or link constructs around the
// attachment URL, then any bare occurrence left over.
func replaceAttachmentRefs(body, attachmentURL, note string) string {
	pattern := regexp.MustCompile(`!?\[[^\]]*\]\(` + regexp.QuoteMeta(attachmentURL) + `\)`)
	body = pattern.ReplaceAllString(body, note)
	return strings.ReplaceAll(body, attachmentURL, note)
}

// projectWebURL resolves the project's browser URL, asking the API once so
// numeric project ids resolve to real paths.
func (t *Tracker) projectWebURL(ctx context.Context) string {
	t.webOnce.Do(func() {
		if p, err := t.client.FetchProject(ctx); err == nil && p.WebURL != "" {
			t.webURL = p.WebURL
			return
		}
		t.webURL = t.URL()
	})
	return t.webURL
}

var imagePattern = regexp.MustCompile(`!\[[^\]]*\]\((/uploads/[^)\s]+|https?://[^)\s]+)\)`)

// downloadImages pulls the images referenced in a note body. Relative upload
// paths resolve against the project web URL. Failed downloads are skipped.
func (t *Tracker) downloadImages(ctx context.Context, body string) map[string][]byte {
	matches := imagePattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	files := make(map[string][]byte)
	for _, m := range matches {
		src := m[1]
		if strings.HasPrefix(src, "/") {
			src = t.projectWebURL(ctx) + src
		}
		data, err := t.client.DownloadFile(ctx, src)
		if err != nil {
			continue
		}
		files[path.Base(m[1])] = data
	}
	if len(files) == 0 {
		return nil
	}
	return files
}

func insecureHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: transport,
	}
}

var _ trackers.Tracker = (*Tracker)(nil)
