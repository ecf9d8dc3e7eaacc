package github

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/yeswehack/ywh2bugtracker/internal/config"
	"github.com/yeswehack/ywh2bugtracker/internal/format"
	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
	"github.com/yeswehack/ywh2bugtracker/internal/trackers"
	"github.com/yeswehack/ywh2bugtracker/internal/ywh"
)

func init() {
	trackers.Register(config.TypeGitHub, func(name string, cfg config.TrackerConfig) (trackers.Tracker, error) {
		gh, ok := cfg.(*config.GitHubConfig)
		if !ok {
			return nil, syncerr.New(syncerr.KindConfiguration,
				"tracker %s: unexpected config type %T", name, cfg)
		}
		return New(name, gh)
	})
}

// Tracker mirrors reports into one GitHub repository.
type Tracker struct {
	name   string
	client *Client
	fm     *format.Formatter
	cdn    *cdnSession // nil unless github_cdn_on
}

// New builds a GitHub tracker from its configuration section.
func New(name string, cfg *config.GitHubConfig) (*Tracker, error) {
	owner, repo := SplitProject(cfg.Project)
	if repo == "" {
		return nil, syncerr.New(syncerr.KindConfiguration,
			"tracker %s: project %q must be owner/repository", name, cfg.Project)
	}

	client := NewClient(cfg.Token, owner, repo).WithBaseURL(cfg.APIURL())
	if !cfg.VerifyTLS() {
		client = client.WithHTTPClient(insecureHTTPClient())
	}

	t := &Tracker{
		name:   name,
		client: client,
		fm:     format.New(format.DialectMarkdown),
	}
	if cfg.CDNOn {
		t.cdn = newCDNSession(webBaseURL(cfg.APIURL()), cfg.Login, cfg.Password, cfg.VerifyTLS())
	}
	return t, nil
}

func (t *Tracker) Name() string { return t.name }

// URL returns the repository's browser URL.
func (t *Tracker) URL() string {
	return webBaseURL(t.client.BaseURL) + "/" + t.client.repoPath()
}

// Test probes the repository with the configured credentials.
func (t *Tracker) Test(ctx context.Context) error {
	_, err := t.client.FetchRepository(ctx)
	return err
}

// GetIssue fetches an issue by number. A missing issue returns nil, nil.
func (t *Tracker) GetIssue(ctx context.Context, issueID string) (*trackers.Issue, error) {
	number, err := strconv.Atoi(strings.TrimPrefix(issueID, "#"))
	if err != nil {
		// A non-numeric id can never name a GitHub issue.
		return nil, nil
	}
	issue, err := t.client.FetchIssueByNumber(ctx, number)
	if err != nil {
		if syncerr.IsKind(err, syncerr.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return t.toIssue(issue), nil
}

// SendReport creates a new issue for the report.
func (t *Tracker) SendReport(ctx context.Context, report *ywh.Report) (*trackers.Issue, error) {
	description, err := t.fm.IssueDescription(report)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindAdapter, err, "formatting report %s", report.LocalID)
	}
	description = t.resolveAttachments(ctx, description, report.Attachments)

	issue, err := t.client.CreateIssue(ctx, t.fm.IssueTitle(report), description)
	if err != nil {
		return nil, err
	}
	return t.toIssue(issue), nil
}

// SendLogs adds one comment per log, in order. On failure the result lists
// the comments already created.
func (t *Tracker) SendLogs(ctx context.Context, issue *trackers.Issue, logs []*ywh.Log) (*trackers.SendLogsResult, error) {
	result := &trackers.SendLogsResult{Issue: issue}
	number, err := strconv.Atoi(issue.ID)
	if err != nil {
		return result, syncerr.New(syncerr.KindAdapter, "issue id %q is not a number", issue.ID)
	}

	for _, log := range logs {
		body, err := t.fm.LogComment(log)
		if err != nil {
			return result, syncerr.Wrap(syncerr.KindAdapter, err, "formatting log %d", log.ID)
		}
		body = t.resolveAttachments(ctx, body, log.Attachments)
		comment, err := t.client.CreateComment(ctx, number, body)
		if err != nil {
			return result, err
		}
		result.CommentIDs = append(result.CommentIDs, strconv.Itoa(comment.ID))
	}
	return result, nil
}

// GetIssueComments lists issue comments in creation order, skipping
// excludeIDs. Inline images are downloaded through the API token.
func (t *Tracker) GetIssueComments(ctx context.Context, issueID string, excludeIDs []string) ([]*trackers.Comment, error) {
	number, err := strconv.Atoi(issueID)
	if err != nil {
		return nil, syncerr.New(syncerr.KindAdapter, "issue id %q is not a number", issueID)
	}
	comments, err := t.client.ListComments(ctx, number)
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
		id := strconv.Itoa(c.ID)
		if skip[id] {
			continue
		}
		tc := &trackers.Comment{ID: id, Body: c.Body}
		if c.User != nil {
			tc.Author = c.User.Login
		}
		if c.CreatedAt != nil {
			tc.CreatedAt = *c.CreatedAt
		}
		tc.Attachments = t.downloadImages(ctx, c.Body)
		out = append(out, tc)
	}
	return out, nil
}

func (t *Tracker) toIssue(issue *Issue) *trackers.Issue {
	return &trackers.Issue{
		TrackerURL: t.URL(),
		Project:    t.client.repoPath(),
		ID:         strconv.Itoa(issue.Number),
		URL:        issue.HTMLURL,
		Closed:     issue.State == "closed",
	}
}

// resolveAttachments rewrites platform attachment references in a formatted
// body. With the CDN session each attachment is re-hosted and its URL
// substituted; without it references become a placeholder note, since the
// platform URLs need platform credentials.
func (t *Tracker) resolveAttachments(ctx context.Context, body string, attachments []ywh.Attachment) string {
	for i := range attachments {
		att := &attachments[i]
		if att.URL == "" || !strings.Contains(body, att.URL) {
			continue
		}
		if t.cdn != nil {
			if href := t.uploadAttachment(ctx, att); href != "" {
				body = strings.ReplaceAll(body, att.URL, href)
				continue
			}
		}
		body = replaceAttachmentRefs(body, att.URL, attachmentNote(att))
	}
	return body
}

func (t *Tracker) uploadAttachment(ctx context.Context, att *ywh.Attachment) string {
	data, err := att.Load(ctx)
	if err != nil {
		return ""
	}
	href, err := t.cdn.Upload(ctx, att.OriginalName, att.MimeType, data)
	if err != nil {
		return ""
	}
	return href
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

var imagePattern = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^)\s]+)\)`)

// downloadImages pulls the images referenced in a comment body. Failed
// downloads are skipped; the comment text still carries the reference.
func (t *Tracker) downloadImages(ctx context.Context, body string) map[string][]byte {
	matches := imagePattern.FindAllStringSubmatch(body, -1)
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

// webBaseURL derives the browser URL from an API base URL. The public API
// lives on an api. subdomain; GitHub Enterprise serves it under /api/v3.
func webBaseURL(apiURL string) string {
	u := strings.TrimRight(apiURL, "/")
	u = strings.TrimSuffix(u, "/api/v3")
	return strings.Replace(u, "://api.", "://", 1)
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
