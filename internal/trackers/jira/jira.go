package jira

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/yeswehack/ywh2bugtracker/internal/config"
	"github.com/yeswehack/ywh2bugtracker/internal/format"
	"github.com/yeswehack/ywh2bugtracker/internal/markup"
	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
	"github.com/yeswehack/ywh2bugtracker/internal/trackers"
	"github.com/yeswehack/ywh2bugtracker/internal/ywh"
)

func init() {
	trackers.Register(config.TypeJira, func(name string, cfg config.TrackerConfig) (trackers.Tracker, error) {
		j, ok := cfg.(*config.JiraConfig)
		if !ok {
			return nil, syncerr.New(syncerr.KindConfiguration,
				"tracker %s: unexpected config type %T", name, cfg)
		}
		return New(name, j)
	})
}

// Tracker mirrors reports into one Jira project.
type Tracker struct {
	name   string
	cfg    *config.JiraConfig
	client *Client
	fm     *format.Formatter
}

// New builds a Jira tracker from its configuration section.
func New(name string, cfg *config.JiraConfig) (*Tracker, error) {
	client := NewClient(cfg.Login, cfg.Password, cfg.URL)
	if !cfg.VerifyTLS() {
		client = client.WithHTTPClient(insecureHTTPClient())
	}

	return &Tracker{
		name:   name,
		cfg:    cfg,
		client: client,
		fm:     format.New(format.DialectWiki),
	}, nil
}

func (t *Tracker) Name() string { return t.name }

// URL returns the project's browser URL.
func (t *Tracker) URL() string {
	return t.client.BaseURL + "/projects/" + t.cfg.Project
}

// Test probes the project with the configured credentials.
func (t *Tracker) Test(ctx context.Context) error {
	_, err := t.client.FetchProject(ctx, t.cfg.Project)
	return err
}

// GetIssue fetches an issue by key. A missing issue returns nil, nil.
func (t *Tracker) GetIssue(ctx context.Context, issueID string) (*trackers.Issue, error) {
	issue, err := t.client.FetchIssue(ctx, issueID)
	if err != nil {
		if syncerr.IsKind(err, syncerr.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return t.toIssue(issue), nil
}

// SendReport creates a new issue for the report. Attachments are added to
// the created issue, then the description is rewritten with their content
// URLs.
func (t *Tracker) SendReport(ctx context.Context, report *ywh.Report) (*trackers.Issue, error) {
	description, err := t.fm.IssueDescription(report)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindAdapter, err, "formatting report %s", report.LocalID)
	}
	description = mdImagesToWiki(description)

	issue, err := t.client.CreateIssue(ctx, t.cfg.Project, t.cfg.IssueTypeName(), t.fm.IssueTitle(report), description)
	if err != nil {
		return nil, err
	}

	resolved, changed := t.resolveAttachments(ctx, issue.Key, description, report.Attachments)
	if changed {
		if err := t.client.UpdateDescription(ctx, issue.Key, resolved); err != nil {
			return nil, syncerr.Wrap(syncerr.KindAdapter, err, "rewriting description of %s", issue.Key)
		}
	}

	return &trackers.Issue{
		TrackerURL: t.URL(),
		Project:    t.cfg.Project,
		ID:         issue.Key,
		URL:        t.browseURL(issue.Key),
	}, nil
}

// SendLogs adds one comment per log, in order. On failure the result lists
// the comments already created.
func (t *Tracker) SendLogs(ctx context.Context, issue *trackers.Issue, logs []*ywh.Log) (*trackers.SendLogsResult, error) {
	result := &trackers.SendLogsResult{Issue: issue}

	for _, log := range logs {
		body, err := t.fm.LogComment(log)
		if err != nil {
			return result, syncerr.Wrap(syncerr.KindAdapter, err, "formatting log %d", log.ID)
		}
		body = mdImagesToWiki(body)
		body, _ = t.resolveAttachments(ctx, issue.ID, body, log.Attachments)
		comment, err := t.client.AddComment(ctx, issue.ID, body)
		if err != nil {
			return result, err
		}
		result.CommentIDs = append(result.CommentIDs, comment.ID)
	}
	return result, nil
}

// GetIssueComments lists issue comments in creation order, skipping
// excludeIDs. Referenced attachment images are downloaded with basic auth.
func (t *Tracker) GetIssueComments(ctx context.Context, issueID string, excludeIDs []string) ([]*trackers.Comment, error) {
	comments, err := t.client.ListComments(ctx, issueID)
	if err != nil {
		return nil, err
	}

	skip := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		skip[id] = true
	}

	var out []*trackers.Comment
	for i := range comments {
		c := &comments[i]
		if skip[c.ID] {
			continue
		}
		// Comment bodies cross the adapter boundary as markdown; Jira is
		// the one tracker speaking another dialect.
		tc := &trackers.Comment{ID: c.ID, Body: markup.WikiToMarkdown(c.Body), CreatedAt: c.Created.Time}
		if c.Author != nil {
			tc.Author = c.Author.DisplayName
			if tc.Author == "" {
				tc.Author = c.Author.Name
			}
		}
		tc.Attachments = t.downloadImages(ctx, c.Body)
		out = append(out, tc)
	}
	return out, nil
}

func (t *Tracker) toIssue(issue *Issue) *trackers.Issue {
	closed := false
	if issue.Fields != nil && issue.Fields.Status != nil {
		closed = strings.EqualFold(issue.Fields.Status.Name, t.cfg.ClosedStatusName())
	}
	return &trackers.Issue{
		TrackerURL: t.URL(),
		Project:    t.cfg.Project,
		ID:         issue.Key,
		URL:        t.browseURL(issue.Key),
		Closed:     closed,
	}
}

func (t *Tracker) browseURL(key string) string {
	return t.client.BaseURL + "/browse/" + key
}

// resolveAttachments adds platform attachments referenced in a body to the
// issue and substitutes the attachment content URLs. Attachments that cannot
// be uploaded degrade to a placeholder note. The bool reports whether the
// body changed.
func (t *Tracker) resolveAttachments(ctx context.Context, key, body string, attachments []ywh.Attachment) (string, bool) {
	changed := false
	for i := range attachments {
		att := &attachments[i]
		if att.URL == "" || !strings.Contains(body, att.URL) {
			continue
		}
		if href := t.uploadAttachment(ctx, key, att); href != "" {
			body = strings.ReplaceAll(body, att.URL, href)
			changed = true
			continue
		}
		body = replaceAttachmentRefs(body, att.URL, attachmentNote(att))
		changed = true
	}
	return body, changed
}

func (t *Tracker) uploadAttachment(ctx context.Context, key string, att *ywh.Attachment) string {
	data, err := att.Load(ctx)
	if err != nil {
		return ""
	}
	attachment, err := t.client.AddAttachment(ctx, key, att.OriginalName, data)
	if err != nil {
		return ""
	}
	return attachment.Content
}

func attachmentNote(att *ywh.Attachment) string {
	return fmt.Sprintf("_(attachment %q is only available on the YesWeHack platform)_", att.OriginalName)
}

// replaceAttachmentRefs replaces whole wiki image or link constructs around
// the attachment URL, then any bare occurrence left over.
func replaceAttachmentRefs(body, attachmentURL, note string) string {
	quoted := regexp.QuoteMeta(attachmentURL)
	image := regexp.MustCompile(`!([^!|\n]*\|)?` + quoted + `(\|[^!\n]*)?!`)
	link := regexp.MustCompile(`\[([^\]|\n]*\|)?` + quoted + `\]`)
	body = image.ReplaceAllString(body, note)
	body = link.ReplaceAllString(body, note)
	return strings.ReplaceAll(body, attachmentURL, note)
}

var mdImagePattern = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)

// mdImagesToWiki rewrites residual markdown image syntax into the wiki
// dialect. Platform bodies occasionally carry literal markdown that the HTML
// conversion passes through as text.
func mdImagesToWiki(body string) string {
	return mdImagePattern.ReplaceAllStringFunc(body, func(m string) string {
		parts := mdImagePattern.FindStringSubmatch(m)
		if parts[1] == "" {
			return "!" + parts[2] + "!"
		}
		return "!" + parts[1] + "|" + parts[2] + "!"
	})
}

var wikiImagePattern = regexp.MustCompile(`!(https?://[^!|\s]+)(\|[^!\n]*)?!`)

// downloadImages pulls the images referenced in a comment body. Failed
// downloads are skipped; the comment text still carries the reference.
func (t *Tracker) downloadImages(ctx context.Context, body string) map[string][]byte {
	matches := wikiImagePattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	files := make(map[string][]byte)
	for _, m := range matches {
		data, err := t.client.DownloadFile(ctx, m[1])
		if err != nil {
			continue
		}
		u, err := url.Parse(m[1])
		if err != nil {
			continue
		}
		files[path.Base(u.Path)] = data
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
