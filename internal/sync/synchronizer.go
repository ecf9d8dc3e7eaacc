package sync

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	"github.com/yeswehack/ywh2bugtracker/internal/config"
	"github.com/yeswehack/ywh2bugtracker/internal/format"
	"github.com/yeswehack/ywh2bugtracker/internal/markup"
	"github.com/yeswehack/ywh2bugtracker/internal/statetoken"
	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
	"github.com/yeswehack/ywh2bugtracker/internal/trackers"
	"github.com/yeswehack/ywh2bugtracker/internal/ywh"
)

// PlatformClient is the slice of the platform API the synchronizer writes
// through. *ywh.Client implements it; tests substitute fakes.
type PlatformClient interface {
	Login(ctx context.Context) error
	Host() string
	ListProgramReports(ctx context.Context, slug string, trackingStatuses []string) ([]ywh.Report, error)
	GetReport(ctx context.Context, id int) (*ywh.Report, error)
	PutTrackingStatus(ctx context.Context, report *ywh.Report, upd ywh.TrackingStatusUpdate) error
	PostTrackerUpdate(ctx context.Context, report *ywh.Report, upd ywh.TrackerUpdate) error
	PostComment(ctx context.Context, report *ywh.Report, html string, private bool) error
	UploadAttachment(ctx context.Context, report *ywh.Report, name, mimeType string, data []byte) (*ywh.Attachment, error)
	PutStatus(ctx context.Context, report *ywh.Report, status, comment string) error
}

// Synchronizer reconciles one (report, tracker) pair per Synchronize call.
// All operations inside one call are strictly sequential; they share the
// replay cursor carried by the report's tracker-update logs.
type Synchronizer struct {
	Platform    PlatformClient
	Tracker     trackers.Tracker
	TrackerType string
	Options     config.SynchronizeOptions
	Feedback    config.FeedbackOptions
}

// Synchronize runs the reconciliation state machine for one report against
// the configured tracker: determine the issue, push new logs, pull tracker
// comments, then write tracking status and a fresh state token back to the
// platform. Errors abort this pair only; the orchestrator keeps going.
func (s *Synchronizer) Synchronize(ctx context.Context, report *ywh.Report) (*Result, error) {
	res := &Result{}
	report = s.prepare(report)

	issue, isNew, stale, err := s.locateIssue(ctx, report)
	if err != nil {
		return nil, err
	}
	res.Issue = issue
	res.New = isNew
	res.Stale = stale

	info := format.TrackerInfo{
		Type:     s.TrackerType,
		URL:      issue.TrackerURL,
		Project:  issue.Project,
		IssueID:  issue.ID,
		IssueURL: issue.URL,
	}

	// Record the tracking status before any tracker-update of the same
	// round. A failure here is fatal for the pair.
	if isNew || !report.IsTracked() {
		err := s.Platform.PutTrackingStatus(ctx, report, ywh.TrackingStatusUpdate{
			Status:      ywh.TrackingStatusTracked,
			TrackerName: s.Tracker.Name(),
			TrackerID:   issue.ID,
			TrackerURL:  issue.URL,
			Message:     format.TrackingStatusMessage(info),
		})
		if err != nil {
			return res, err
		}
		res.TrackingStatusWritten = true
	}

	cursor, prevState, downloaded := s.replayCursor(report)

	outbound := s.outboundLogs(report, cursor, downloaded)
	if len(outbound) > 0 {
		sent, err := s.Tracker.SendLogs(ctx, issue, outbound)
		if sent != nil {
			for i := range sent.CommentIDs {
				res.SentLogIDs = append(res.SentLogIDs, outbound[i].ID)
			}
			downloaded = append(downloaded, sent.CommentIDs...)
		}
		if err != nil {
			// Comments already created stay in place. The cursor does not
			// advance, so the next round re-sends the whole set.
			return res, err
		}
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	if s.Feedback.DownloadTrackerComments && !isNew {
		mirrored, warnings, err := s.mirrorComments(ctx, report, issue, downloaded)
		res.MirroredCommentIDs = mirrored
		res.Warnings = append(res.Warnings, warnings...)
		downloaded = append(downloaded, mirrored...)
		if err != nil {
			return res, err
		}
	}

	transition := ""
	if prevState != nil && prevState.Closed != issue.Closed {
		res.StateChanged = true
		transition = format.StateTransitionLine(prevState.Closed, issue.Closed)
	}
	if res.StateChanged && issue.Closed && s.Feedback.IssueClosedToReportAFV {
		err := s.Platform.PutStatus(ctx, report, ywh.StatusAskVerification,
			format.SynchronizationDoneMessage(info, 0, transition))
		if err != nil {
			return res, err
		}
	}

	if !res.Changed() {
		return res, nil
	}

	token, err := statetoken.Encode(strconv.Itoa(report.ID), &statetoken.State{
		Closed:             issue.Closed,
		BugtrackerName:     s.Tracker.Name(),
		DownloadedComments: dedupe(downloaded),
	})
	if err != nil {
		return res, syncerr.Wrap(syncerr.KindProtocol, err, "encoding state token for report %d", report.ID)
	}
	err = s.Platform.PostTrackerUpdate(ctx, report, ywh.TrackerUpdate{
		TrackerName: s.Tracker.Name(),
		TrackerID:   issue.ID,
		TrackerURL:  issue.URL,
		Token:       token,
		Message:     format.SynchronizationDoneMessage(info, len(res.SentLogIDs), transition),
	})
	if err != nil {
		return res, err
	}
	res.TrackerUpdateWritten = true
	return res, nil
}

// prepare rewrites platform redirect wrappers and attachment URL signing
// noise out of the report's HTML before any of it reaches a tracker. The
// fetched snapshot stays untouched; the copy is what the round works on.
func (s *Synchronizer) prepare(report *ywh.Report) *ywh.Report {
	host := s.Platform.Host()
	if host == "" {
		return report
	}
	r := *report
	r.DescriptionHTML = cleanHTML(report.DescriptionHTML, report.Attachments, host)
	r.Logs = make([]ywh.Log, len(report.Logs))
	for i, l := range report.Logs {
		l.MessageHTML = cleanHTML(l.MessageHTML, l.Attachments, host)
		r.Logs[i] = l
	}
	return &r
}

func cleanHTML(blob string, atts []ywh.Attachment, host string) string {
	urls := make([]string, 0, len(atts))
	for _, a := range atts {
		urls = append(urls, a.URL)
	}
	return markup.ScrubAttachmentURLs(markup.UnwrapRedirects(blob, host), urls, host)
}

// locateIssue resolves the tracker-side issue for the report: reuse the
// newest recorded mapping when the tracker still knows the issue, otherwise
// create one. A recorded id the tracker no longer resolves is treated as
// stale and replaced rather than blocking on a deleted remote.
func (s *Synchronizer) locateIssue(ctx context.Context, report *ywh.Report) (issue *trackers.Issue, isNew, stale bool, err error) {
	if log := report.LatestTrackingStatusLog(s.Tracker.Name()); log != nil {
		issue, err = s.Tracker.GetIssue(ctx, log.TrackerID)
		if err != nil {
			return nil, false, false, err
		}
		if issue != nil {
			return issue, false, false, nil
		}
		stale = true
	}
	issue, err = s.Tracker.SendReport(ctx, report)
	if err != nil {
		return nil, false, stale, err
	}
	if issue == nil || issue.ID == "" || issue.URL == "" {
		return nil, false, stale, syncerr.New(syncerr.KindAdapter,
			"tracker %s returned an incomplete issue for report %d", s.Tracker.Name(), report.ID)
	}
	return issue, true, stale, nil
}

// replayCursor finds the newest tracker-update log whose token decodes for
// this tracker. Its index is the cursor past which logs are still unsent.
// Downloaded comment ids are unioned across all matching tokens, not just
// the newest one, so a round lost to a race cannot mirror a comment twice.
func (s *Synchronizer) replayCursor(report *ywh.Report) (cursor int, last *statetoken.State, downloaded []string) {
	cursor = -1
	key := strconv.Itoa(report.ID)
	seen := make(map[string]bool)
	for i := range report.Logs {
		l := &report.Logs[i]
		if l.Type != ywh.LogTypeTrackerUpdate {
			continue
		}
		text := l.TrackerToken
		if text == "" {
			text = l.MessageHTML
		}
		st := statetoken.Decode(key, text)
		if st == nil || st.BugtrackerName != s.Tracker.Name() {
			continue
		}
		cursor = i
		last = st
		for _, id := range st.DownloadedComments {
			if !seen[id] {
				seen[id] = true
				downloaded = append(downloaded, id)
			}
		}
	}
	return cursor, last, downloaded
}

// outboundLogs selects the logs to push this round: everything after the
// cursor, gated per kind by the program's synchronize options, minus logs
// that themselves record comments mirrored in from the tracker.
func (s *Synchronizer) outboundLogs(report *ywh.Report, cursor int, downloaded []string) []*ywh.Log {
	mirrored := make(map[string]bool, len(downloaded))
	for _, id := range downloaded {
		mirrored[id] = true
	}
	var out []*ywh.Log
	for i := cursor + 1; i < len(report.Logs); i++ {
		l := &report.Logs[i]
		if !s.wantLog(l) {
			continue
		}
		if mirrored[strconv.Itoa(l.ID)] {
			continue
		}
		out = append(out, l)
	}
	return out
}

// wantLog applies the per-kind synchronize option gates. Bookkeeping kinds
// (tracking-status, tracker-update, tracker-message) never go out.
func (s *Synchronizer) wantLog(l *ywh.Log) bool {
	switch l.Type {
	case ywh.LogTypeComment:
		if l.Private {
			return s.Options.UploadPrivateComments
		}
		return s.Options.UploadPublicComments
	case ywh.LogTypeDetailsUpdate, ywh.LogTypePriorityUpdate:
		return s.Options.UploadDetailsUpdates
	case ywh.LogTypeCVSSUpdate:
		return s.Options.UploadCVSSUpdates
	case ywh.LogTypeReward:
		return s.Options.UploadRewards
	case ywh.LogTypeStatusUpdate:
		return s.Options.UploadStatusUpdates
	default:
		return false
	}
}

// mirrorComments pulls tracker-origin comments that are not yet on the
// platform and posts each as a private report comment. A comment that fails
// to mirror is skipped without recording its id, so the next round retries
// it; comments posted before the failure keep theirs. Only the listing call
// itself is fatal.
func (s *Synchronizer) mirrorComments(ctx context.Context, report *ywh.Report, issue *trackers.Issue, excludeIDs []string) (mirrored []string, warnings []error, err error) {
	comments, err := s.Tracker.GetIssueComments(ctx, issue.ID, excludeIDs)
	if err != nil {
		return nil, nil, err
	}

	for _, c := range comments {
		if err := ctx.Err(); err != nil {
			return mirrored, warnings, err
		}
		if err := s.mirrorComment(ctx, report, c); err != nil {
			warnings = append(warnings,
				fmt.Errorf("mirroring comment %s from %s: %w", c.ID, s.Tracker.Name(), err))
			continue
		}
		mirrored = append(mirrored, c.ID)
	}
	return mirrored, warnings, nil
}

func (s *Synchronizer) mirrorComment(ctx context.Context, report *ywh.Report, c *trackers.Comment) error {
	body, err := format.DownloadCommentHTML(s.Tracker.Name(), c.Author, c.CreatedAt, c.Body)
	if err != nil {
		return err
	}
	if footer, err := s.uploadCommentMedia(ctx, report, c); err != nil {
		return err
	} else if footer != "" {
		body += footer
	}
	return s.Platform.PostComment(ctx, report, body, true)
}

// uploadCommentMedia re-hosts a mirrored comment's media on the platform and
// returns an HTML footer linking the uploads, or "" when the comment carried
// none.
func (s *Synchronizer) uploadCommentMedia(ctx context.Context, report *ywh.Report, c *trackers.Comment) (string, error) {
	if len(c.Attachments) == 0 {
		return "", nil
	}
	names := make([]string, 0, len(c.Attachments))
	for name := range c.Attachments {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("<p>Attachments:</p><ul>")
	for _, name := range names {
		att, err := s.Platform.UploadAttachment(ctx, report, name, mimeOf(name), c.Attachments[name])
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "<li><a href=%q>%s</a></li>", att.URL, html.EscapeString(name))
	}
	b.WriteString("</ul>")
	return b.String(), nil
}

func mimeOf(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return "application/octet-stream"
	}
	switch strings.ToLower(name[i+1:]) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "svg":
		return "image/svg+xml"
	case "txt", "log":
		return "text/plain"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
