package ywh

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
)

// API configuration constants.
const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetryElapsed bounds the total time spent retrying one request.
	MaxRetryElapsed = 2 * time.Minute

	// MaxPageSize is the page size requested from list endpoints.
	MaxPageSize = 50

	// MaxPages caps pagination loops against malformed pagination metadata.
	MaxPages = 1000

	// AppsHeaderName is the header every Apps-scoped request must carry.
	AppsHeaderName = "X-YesWeHack-Apps"
)

var errNoLoader = errors.New("attachment has no loader")

// Credentials configures authentication. Either a personal access token or a
// login/password pair (with an optional TOTP code generator) must be set.
type Credentials struct {
	Email    string
	Password string
	PAT      string

	// TOTP returns a fresh one-time code when the platform requires a second
	// factor. Nil means TOTP is not configured and a TOTP challenge fails.
	TOTP func() (string, error)
}

// Client provides authenticated access to the YesWeHack reports API.
// Authentication is lazy: the first request triggers Login unless a PAT is
// configured. One client is shared across a whole orchestration run.
type Client struct {
	APIURL      string
	Credentials Credentials
	AppsHeaders map[string]string
	HTTPClient  *http.Client

	token string // bearer session token after Login; the PAT in PAT mode
}

// NewClient creates a platform client for the given API base URL.
func NewClient(apiURL string, creds Credentials, appsHeaders map[string]string, verifyTLS bool) *Client {
	transport := http.DefaultTransport
	if !verifyTLS {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}
	return &Client{
		APIURL:      strings.TrimSuffix(apiURL, "/"),
		Credentials: creds,
		AppsHeaders: appsHeaders,
		HTTPClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
	}
}

// Host returns the hostname of the API base URL, used to recognize
// platform-owned links during content transformation.
func (c *Client) Host() string {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Login authenticates the session. PAT mode needs no round trip. Password
// mode posts /login and follows the TOTP continuation when the platform asks
// for a second factor.
func (c *Client) Login(ctx context.Context) error {
	if c.Credentials.PAT != "" {
		c.token = c.Credentials.PAT
		return nil
	}

	body := map[string]string{
		"email":    c.Credentials.Email,
		"password": c.Credentials.Password,
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/login", nil, body, false)
	if err != nil {
		return syncerr.Wrap(syncerr.KindAuthentication, err, "login to %s failed", c.APIURL)
	}

	var login struct {
		Token       string `json:"token"`
		TOTPToken   string `json:"totp_token"`
		TOTPEnabled bool   `json:"totp_enabled"`
	}
	if err := json.Unmarshal(resp, &login); err != nil {
		return syncerr.Wrap(syncerr.KindProtocol, err, "login response is not valid JSON")
	}

	if login.Token != "" && !login.TOTPEnabled {
		c.token = login.Token
		return nil
	}

	if login.TOTPToken == "" {
		return syncerr.New(syncerr.KindProtocol, "login response carries neither token nor totp_token")
	}
	return c.loginTOTP(ctx, login.TOTPToken)
}

// loginTOTP completes the second factor of a TOTP-protected login.
func (c *Client) loginTOTP(ctx context.Context, totpToken string) error {
	if c.Credentials.TOTP == nil {
		return syncerr.New(syncerr.KindAuthentication, "account requires TOTP but no TOTP secret is configured")
	}
	code, err := c.Credentials.TOTP()
	if err != nil {
		return syncerr.Wrap(syncerr.KindAuthentication, err, "generating TOTP code")
	}

	body := map[string]string{"token": totpToken, "code": code}
	resp, err := c.doRequest(ctx, http.MethodPost, "/account/totp", nil, body, false)
	if err != nil {
		return syncerr.Wrap(syncerr.KindAuthentication, err, "TOTP login failed")
	}

	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp, &login); err != nil {
		return syncerr.Wrap(syncerr.KindProtocol, err, "TOTP response is not valid JSON")
	}
	if login.Token == "" {
		return syncerr.New(syncerr.KindProtocol, "TOTP response carries no token")
	}
	c.token = login.Token
	return nil
}

// ensureAuth authenticates lazily before the first API call of a run.
func (c *Client) ensureAuth(ctx context.Context) error {
	if c.token != "" {
		return nil
	}
	return c.Login(ctx)
}

// ListProgramReports fetches the reports of a program whose tracking status is
// one of the given codes, following pagination.
func (c *Client) ListProgramReports(ctx context.Context, slug string, trackingStatuses []string) ([]Report, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}

	var all []Report
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("resultsPerPage", strconv.Itoa(MaxPageSize))
		for i, ts := range trackingStatuses {
			params.Set(fmt.Sprintf("filters[trackingStatus][%d]", i), ts)
		}

		body, err := c.doRequest(ctx, http.MethodGet, "/programs/"+url.PathEscape(slug)+"/reports", params, nil, true)
		if err != nil {
			return nil, syncerr.Wrap(kindOfHTTP(err), err, "listing reports of program %q", slug)
		}

		var resp struct {
			Items      []Report `json:"items"`
			Pagination struct {
				NbPages int `json:"nb_pages"`
			} `json:"pagination"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing report list of program %q", slug)
		}

		all = append(all, resp.Items...)
		if page >= resp.Pagination.NbPages || len(resp.Items) == 0 {
			break
		}
		if page > MaxPages {
			return nil, syncerr.New(syncerr.KindProtocol, "pagination did not terminate after %d pages", MaxPages)
		}
	}
	return all, nil
}

// GetReport fetches one report with its full log history and wires attachment
// loaders to this client's session.
func (c *Client) GetReport(ctx context.Context, id int) (*Report, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/reports/"+strconv.Itoa(id), nil, nil, true)
	if err != nil {
		return nil, syncerr.Wrap(kindOfHTTP(err), err, "fetching report %d", id)
	}

	var report Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing report %d", id)
	}

	logs, err := c.getReportLogs(ctx, id)
	if err != nil {
		return nil, err
	}
	report.Logs = logs

	c.attachLoaders(report.Attachments)
	for i := range report.Logs {
		c.attachLoaders(report.Logs[i].Attachments)
	}
	return &report, nil
}

// getReportLogs fetches the paginated log history of a report, oldest first.
func (c *Client) getReportLogs(ctx context.Context, id int) ([]Log, error) {
	var all []Log
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))

		body, err := c.doRequest(ctx, http.MethodGet, "/reports/"+strconv.Itoa(id)+"/logs", params, nil, true)
		if err != nil {
			return nil, syncerr.Wrap(kindOfHTTP(err), err, "fetching logs of report %d", id)
		}

		var resp struct {
			Items      []Log `json:"items"`
			Pagination struct {
				NbPages int `json:"nb_pages"`
			} `json:"pagination"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing logs of report %d", id)
		}

		all = append(all, resp.Items...)
		if page >= resp.Pagination.NbPages || len(resp.Items) == 0 {
			break
		}
		if page > MaxPages {
			return nil, syncerr.New(syncerr.KindProtocol, "log pagination did not terminate after %d pages", MaxPages)
		}
	}
	return all, nil
}

// attachLoaders wires lazy content loaders into attachment metadata.
func (c *Client) attachLoaders(atts []Attachment) {
	for i := range atts {
		att := &atts[i]
		u := att.URL
		atts[i].Loader = func(ctx context.Context) ([]byte, error) {
			return c.download(ctx, u)
		}
	}
}

// download fetches a platform-hosted resource through the authenticated session.
func (c *Client) download(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransport, err, "building download request")
	}
	c.setHeaders(req, true)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransport, err, "downloading %s", rawURL)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, syncerr.New(syncerr.KindTransport, "downloading %s: status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// TrackingStatusUpdate is the payload of PutTrackingStatus.
type TrackingStatusUpdate struct {
	Status      string `json:"status"`
	TrackerName string `json:"tracker_name"`
	TrackerID   string `json:"tracker_id"`
	TrackerURL  string `json:"tracker_url"`
	Message     string `json:"message"`
}

// PutTrackingStatus records on the platform that the report is now tracked.
// Called exactly once per (report, tracker) pair, the first time the pair is
// established.
func (c *Client) PutTrackingStatus(ctx context.Context, report *Report, upd TrackingStatusUpdate) error {
	if err := c.ensureAuth(ctx); err != nil {
		return err
	}
	body, err := c.doRequest(ctx, http.MethodPut, "/reports/"+strconv.Itoa(report.ID)+"/tracking-status", nil, upd, true)
	if err != nil {
		return syncerr.Wrap(kindOfHTTP(err), err, "updating tracking status of report %d", report.ID)
	}
	return checkServerErrors(body, "tracking-status update")
}

// TrackerUpdate is the payload of PostTrackerUpdate. Token is the encoded
// state token; the platform embeds it verbatim in the tracker-update log.
type TrackerUpdate struct {
	TrackerName string `json:"tracker_name"`
	TrackerID   string `json:"tracker_id"`
	TrackerURL  string `json:"tracker_url"`
	Token       string `json:"tracker_token"`
	Message     string `json:"message"`
}

// PostTrackerUpdate appends a tracker-update feedback log to the report after
// a synchronization round that changed the tracker side.
func (c *Client) PostTrackerUpdate(ctx context.Context, report *Report, upd TrackerUpdate) error {
	if err := c.ensureAuth(ctx); err != nil {
		return err
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/reports/"+strconv.Itoa(report.ID)+"/tracker-update", nil, upd, true)
	if err != nil {
		return syncerr.Wrap(kindOfHTTP(err), err, "posting tracker update on report %d", report.ID)
	}
	return checkServerErrors(body, "tracker update")
}

// PostComment adds a comment to the report. Mirrored tracker comments are
// posted private so they stay between the program and the hunter.
func (c *Client) PostComment(ctx context.Context, report *Report, html string, private bool) error {
	if err := c.ensureAuth(ctx); err != nil {
		return err
	}
	payload := map[string]interface{}{"message_html": html, "private": private}
	body, err := c.doRequest(ctx, http.MethodPost, "/reports/"+strconv.Itoa(report.ID)+"/comments", nil, payload, true)
	if err != nil {
		return syncerr.Wrap(kindOfHTTP(err), err, "posting comment on report %d", report.ID)
	}
	return checkServerErrors(body, "comment")
}

// UploadAttachment uploads a file to the report and returns its platform
// attachment record. Used when mirroring tracker comments that carry media.
func (c *Client) UploadAttachment(ctx context.Context, report *Report, name, mimeType string, data []byte) (*Attachment, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransport, err, "building attachment form")
	}
	if _, err := part.Write(data); err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransport, err, "writing attachment form")
	}
	if err := w.Close(); err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransport, err, "closing attachment form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.APIURL+"/reports/"+strconv.Itoa(report.ID)+"/attachments", &buf)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransport, err, "building attachment request")
	}
	c.setHeaders(req, true)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransport, err, "uploading attachment %q", name)
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransport, err, "reading attachment response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, syncerr.New(syncerr.KindProtocol, "attachment upload returned %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var att Attachment
	if err := json.Unmarshal(respBody, &att); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing attachment response")
	}
	if att.MimeType == "" {
		att.MimeType = mimeType
	}
	return &att, nil
}

// PutStatus changes the report workflow status. Only used by the
// issue_closed_to_report_afv feedback option.
func (c *Client) PutStatus(ctx context.Context, report *Report, status, comment string) error {
	if err := c.ensureAuth(ctx); err != nil {
		return err
	}
	payload := map[string]string{"status": status, "message": comment}
	body, err := c.doRequest(ctx, http.MethodPut, "/reports/"+strconv.Itoa(report.ID)+"/status", nil, payload, true)
	if err != nil {
		return syncerr.Wrap(kindOfHTTP(err), err, "updating status of report %d", report.ID)
	}
	return checkServerErrors(body, "status update")
}

// httpStatusError carries the HTTP status of a failed request so callers can
// classify it without string matching.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.status, e.body)
}

// kindOfHTTP maps a request failure to the error taxonomy.
func kindOfHTTP(err error) syncerr.Kind {
	var se *httpStatusError
	if errors.As(err, &se) {
		switch {
		case se.status == http.StatusUnauthorized || se.status == http.StatusForbidden:
			return syncerr.KindAuthentication
		case se.status == http.StatusNotFound:
			return syncerr.KindNotFound
		case se.status >= 500:
			return syncerr.KindTransport
		default:
			return syncerr.KindProtocol
		}
	}
	return syncerr.KindTransport
}

// doRequest performs one authenticated JSON request with retry on transient
// failures (429 and 5xx), honoring Retry-After.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, payload interface{}, authed bool) ([]byte, error) {
	urlStr := c.APIURL + path
	if len(params) > 0 {
		urlStr += "?" + params.Encode()
	}

	var jsonBody []byte
	if payload != nil {
		var err error
		jsonBody, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	var respBody []byte
	operation := func() error {
		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		c.setHeaders(req, authed)
		if jsonBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err // transient: retry
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 50*1024*1024))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if after := resp.Header.Get("Retry-After"); after != "" {
				if seconds, perr := strconv.Atoi(after); perr == nil {
					select {
					case <-time.After(time.Duration(seconds) * time.Second):
					case <-ctx.Done():
						return backoff.Permanent(ctx.Err())
					}
				}
			}
			return &httpStatusError{status: resp.StatusCode, body: truncate(body, 200)}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(&httpStatusError{status: resp.StatusCode, body: truncate(body, 200)})
		}

		respBody = body
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = MaxRetryElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return respBody, nil
}

// setHeaders applies apps headers and the bearer token.
func (c *Client) setHeaders(req *http.Request, authed bool) {
	req.Header.Set("Accept", "application/json")
	for k, v := range c.AppsHeaders {
		req.Header.Set(k, v)
	}
	if authed && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// checkServerErrors rejects 2xx responses whose body carries a populated
// errors array, which the platform uses for field-level failures.
func checkServerErrors(body []byte, op string) error {
	if len(body) == 0 {
		return nil
	}
	var resp struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil // non-JSON 2xx bodies are tolerated
	}
	if len(resp.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(resp.Errors))
	for i, e := range resp.Errors {
		msgs[i] = e.Message
	}
	return syncerr.New(syncerr.KindProtocol, "%s rejected by platform: %s", op, strings.Join(msgs, "; "))
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
