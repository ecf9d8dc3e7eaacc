package servicenow

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/yeswehack/ywh2bugtracker/internal/config"
	"github.com/yeswehack/ywh2bugtracker/internal/format"
	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
	"github.com/yeswehack/ywh2bugtracker/internal/trackers"
	"github.com/yeswehack/ywh2bugtracker/internal/ywh"
)

func init() {
	trackers.Register(config.TypeServiceNow, func(name string, cfg config.TrackerConfig) (trackers.Tracker, error) {
		sn, ok := cfg.(*config.ServiceNowConfig)
		if !ok {
			return nil, syncerr.New(syncerr.KindConfiguration,
				"tracker %s: unexpected config type %T", name, cfg)
		}
		return New(name, sn)
	})
}

// Tracker mirrors reports into incidents on one ServiceNow instance.
type Tracker struct {
	name   string
	cfg    *config.ServiceNowConfig
	client *Client
	fm     *format.Formatter
}

// New builds a ServiceNow tracker from its configuration section.
func New(name string, cfg *config.ServiceNowConfig) (*Tracker, error) {
	client := NewClient(cfg.Login, cfg.Password, cfg.InstanceURL())
	if !cfg.VerifyTLS() {
		client = client.WithHTTPClient(insecureHTTPClient())
	}

	return &Tracker{
		name:   name,
		cfg:    cfg,
		client: client,
		fm:     format.New(format.DialectMarkdown),
	}, nil
}

func (t *Tracker) Name() string { return t.name }

// URL returns the instance URL.
func (t *Tracker) URL() string {
	return t.client.BaseURL
}

// Test probes the incident table with the configured credentials.
func (t *Tracker) Test(ctx context.Context) error {
	return t.client.Probe(ctx)
}

// GetIssue fetches an incident by sys_id. A missing incident returns
// nil, nil.
func (t *Tracker) GetIssue(ctx context.Context, issueID string) (*trackers.Issue, error) {
	incident, err := t.client.FetchIncident(ctx, issueID)
	if err != nil {
		if syncerr.IsKind(err, syncerr.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return t.toIssue(incident), nil
}

// SendReport creates a new incident for the report. Attachments are uploaded
// onto the incident, then the description is rewritten with their download
// links.
func (t *Tracker) SendReport(ctx context.Context, report *ywh.Report) (*trackers.Issue, error) {
	description, err := t.fm.IssueDescription(report)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindAdapter, err, "formatting report %s", report.LocalID)
	}

	incident, err := t.client.CreateIncident(ctx, t.fm.IssueTitle(report), description)
	if err != nil {
		return nil, err
	}

	resolved, changed := t.resolveAttachments(ctx, incident.SysID, description, report.Attachments)
	if changed {
		if _, err := t.client.UpdateIncident(ctx, incident.SysID, map[string]string{"description": resolved}); err != nil {
			return nil, syncerr.Wrap(syncerr.KindAdapter, err, "rewriting description of %s", incident.Number)
		}
	}

	return &trackers.Issue{
		TrackerURL: t.URL(),
		Project:    "incident",
		ID:         incident.SysID,
		URL:        t.incidentURL(incident.SysID),
	}, nil
}

// SendLogs adds one journal comment per log, in order. On failure the result
// lists the entries already created.
func (t *Tracker) SendLogs(ctx context.Context, issue *trackers.Issue, logs []*ywh.Log) (*trackers.SendLogsResult, error) {
	result := &trackers.SendLogsResult{Issue: issue}

	for _, log := range logs {
		body, err := t.fm.LogComment(log)
		if err != nil {
			return result, syncerr.Wrap(syncerr.KindAdapter, err, "formatting log %d", log.ID)
		}
		body, _ = t.resolveAttachments(ctx, issue.ID, body, log.Attachments)
		if _, err := t.client.UpdateIncident(ctx, issue.ID, map[string]string{"comments": body}); err != nil {
			return result, err
		}
		// The patch response carries the incident, not the journal entry;
		// fetch the newest entry to learn the id.
		entry, err := t.client.LatestJournalEntry(ctx, issue.ID, "comments")
		if err != nil {
			return result, err
		}
		if entry != nil {
			result.CommentIDs = append(result.CommentIDs, entry.SysID)
		}
	}
	return result, nil
}

// GetIssueComments merges journal comments and attachment records into one
// chronological timeline, skipping excludeIDs and entries created by the
// synchronizer's own account.
func (t *Tracker) GetIssueComments(ctx context.Context, issueID string, excludeIDs []string) ([]*trackers.Comment, error) {
	entries, err := t.client.ListJournalEntries(ctx, issueID, "comments")
	if err != nil {
		return nil, err
	}
	records, err := t.client.ListAttachments(ctx, issueID)
	if err != nil {
		return nil, err
	}

	skip := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		skip[id] = true
	}

	var out []*trackers.Comment
	for i := range entries {
		e := &entries[i]
		if skip[e.SysID] || e.CreatedBy == t.cfg.Login {
			continue
		}
		out = append(out, &trackers.Comment{
			ID:        e.SysID,
			Author:    e.CreatedBy,
			CreatedAt: parseTime(e.CreatedOn),
			Body:      e.Value,
		})
	}
	for i := range records {
		r := &records[i]
		if skip[r.SysID] || r.CreatedBy == t.cfg.Login {
			continue
		}
		comment := &trackers.Comment{
			ID:        r.SysID,
			Author:    r.CreatedBy,
			CreatedAt: parseTime(r.CreatedOn),
			Body:      fmt.Sprintf("Attached file: %s", r.FileName),
		}
		if r.DownloadLink != "" {
			if data, err := t.client.DownloadFile(ctx, r.DownloadLink); err == nil {
				comment.Attachments = map[string][]byte{r.FileName: data}
			}
		}
		out = append(out, comment)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *Tracker) toIssue(incident *Incident) *trackers.Issue {
	return &trackers.Issue{
		TrackerURL: t.URL(),
		Project:    "incident",
		ID:         incident.SysID,
		URL:        t.incidentURL(incident.SysID),
		Closed:     incident.Active == "false",
	}
}

// incidentURL builds the classic UI deep link to an incident.
func (t *Tracker) incidentURL(sysID string) string {
	return t.client.BaseURL + "/nav_to.do?uri=" + url.QueryEscape("incident.do?sys_id="+sysID)
}

// resolveAttachments uploads platform attachments referenced in a body onto
// the incident and substitutes the download links. Attachments that cannot
// be uploaded degrade to a placeholder note. The bool reports whether the
// body changed.
func (t *Tracker) resolveAttachments(ctx context.Context, sysID, body string, attachments []ywh.Attachment) (string, bool) {
	changed := false
	for i := range attachments {
		att := &attachments[i]
		if att.URL == "" || !strings.Contains(body, att.URL) {
			continue
		}
		if href := t.uploadAttachment(ctx, sysID, att); href != "" {
			body = strings.ReplaceAll(body, att.URL, href)
			changed = true
			continue
		}
		note := fmt.Sprintf("*(attachment %q is only available on the YesWeHack platform)*", att.OriginalName)
		body = strings.ReplaceAll(body, att.URL, note)
		changed = true
	}
	return body, changed
}

func (t *Tracker) uploadAttachment(ctx context.Context, sysID string, att *ywh.Attachment) string {
	data, err := att.Load(ctx)
	if err != nil {
		return ""
	}
	record, err := t.client.UploadAttachment(ctx, sysID, att.OriginalName, att.MimeType, data)
	if err != nil {
		return ""
	}
	if strings.HasPrefix(record.DownloadLink, "/") {
		return t.client.BaseURL + record.DownloadLink
	}
	return record.DownloadLink
}

func parseTime(s string) time.Time {
	parsed, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return parsed
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
