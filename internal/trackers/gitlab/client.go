package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
)

// NewClient creates a new GitLab client for one project.
func NewClient(token, project string) *Client {
	return &Client{
		Token:   token,
		Project: project,
		BaseURL: DefaultInstanceURL,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithHTTPClient returns a new client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	return &Client{
		Token:      c.Token,
		Project:    c.Project,
		BaseURL:    c.BaseURL,
		HTTPClient: httpClient,
	}
}

// WithBaseURL returns a new client with a custom instance URL (for testing
// or self-managed instances).
func (c *Client) WithBaseURL(baseURL string) *Client {
	return &Client{
		Token:      c.Token,
		Project:    c.Project,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: c.HTTPClient,
	}
}

// projectPath returns the project identifier escaped for use in a URL path.
func (c *Client) projectPath() string {
	return url.PathEscape(c.Project)
}

// buildURL constructs a full API URL under /api/v4.
func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + "/api/v4" + path

	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}

	return u
}

// kindOfStatus maps an HTTP status to an error kind.
func kindOfStatus(status int) syncerr.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return syncerr.KindAuthentication
	case status == http.StatusNotFound:
		return syncerr.KindNotFound
	case status >= 500:
		return syncerr.KindTransport
	default:
		return syncerr.KindProtocol
	}
}

// doRequest performs an HTTP request with authentication and retry logic.
// Rate-limited (429) and 5xx responses are retried with exponential backoff.
func (c *Client) doRequest(ctx context.Context, method, urlStr, contentType string, body []byte) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return nil, nil, syncerr.Wrap(syncerr.KindAdapter, err, "creating request")
		}

		req.Header.Set("PRIVATE-TOKEN", c.Token)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = syncerr.Wrap(syncerr.KindTransport, err, "request failed (attempt %d/%d)", attempt+1, MaxRetries+1)
			continue
		}

		const maxResponseSize = 50 * 1024 * 1024
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			lastErr = syncerr.Wrap(syncerr.KindTransport, err, "reading response (attempt %d/%d)", attempt+1, MaxRetries+1)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			delay := RetryDelay * time.Duration(1<<attempt)
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					delay = time.Duration(seconds) * time.Second
				}
			}
			lastErr = syncerr.New(kindOfStatus(resp.StatusCode),
				"gitlab responded %d (attempt %d/%d)", resp.StatusCode, attempt+1, MaxRetries+1)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, nil, syncerr.New(kindOfStatus(resp.StatusCode),
				"gitlab responded %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		}

		return respBody, resp.Header, nil
	}

	return nil, nil, syncerr.Wrap(syncerr.KindTransport, lastErr, "max retries (%d) exceeded", MaxRetries+1)
}

func (c *Client) doJSON(ctx context.Context, method, urlStr string, body interface{}) ([]byte, http.Header, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, nil, syncerr.Wrap(syncerr.KindAdapter, err, "marshaling request body")
		}
	}
	return c.doRequest(ctx, method, urlStr, "application/json", jsonBody)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// linkNextPattern matches the "next" relation in GitLab Link headers.
var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// hasNextPage checks the Link header for a next page URL and returns it.
func hasNextPage(headers http.Header) (string, bool) {
	link := headers.Get("Link")
	if link == "" {
		return "", false
	}
	m := linkNextPattern.FindStringSubmatch(link)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FetchProject fetches the configured project. Used as the credential probe
// and for web URL discovery.
func (c *Client) FetchProject(ctx context.Context) (*Project, error) {
	urlStr := c.buildURL("/projects/"+c.projectPath(), nil)

	body, _, err := c.doJSON(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}

	var project Project
	if err := json.Unmarshal(body, &project); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing project")
	}
	return &project, nil
}

// FetchIssue fetches one issue by project-scoped iid.
func (c *Client) FetchIssue(ctx context.Context, iid int) (*Issue, error) {
	urlStr := c.buildURL("/projects/"+c.projectPath()+"/issues/"+strconv.Itoa(iid), nil)

	body, _, err := c.doJSON(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing issue")
	}
	return &issue, nil
}

// CreateIssue creates a new issue in the project.
func (c *Client) CreateIssue(ctx context.Context, title, description string) (*Issue, error) {
	urlStr := c.buildURL("/projects/"+c.projectPath()+"/issues", nil)

	payload := map[string]string{
		"title":       title,
		"description": description,
	}
	body, _, err := c.doJSON(ctx, http.MethodPost, urlStr, payload)
	if err != nil {
		return nil, err
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing created issue")
	}
	return &issue, nil
}

// CreateNote adds a note (comment) to an issue.
func (c *Client) CreateNote(ctx context.Context, iid int, noteBody string) (*Note, error) {
	urlStr := c.buildURL("/projects/"+c.projectPath()+"/issues/"+strconv.Itoa(iid)+"/notes", nil)

	payload := map[string]string{"body": noteBody}
	body, _, err := c.doJSON(ctx, http.MethodPost, urlStr, payload)
	if err != nil {
		return nil, err
	}

	var note Note
	if err := json.Unmarshal(body, &note); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing created note")
	}
	return &note, nil
}

// ListNotes fetches all notes of an issue in creation order, following
// pagination.
func (c *Client) ListNotes(ctx context.Context, iid int) ([]Note, error) {
	urlStr := c.buildURL("/projects/"+c.projectPath()+"/issues/"+strconv.Itoa(iid)+"/notes", map[string]string{
		"sort":     "asc",
		"order_by": "created_at",
		"per_page": strconv.Itoa(MaxPageSize),
	})

	var all []Note
	for page := 0; page < MaxPages; page++ {
		body, headers, err := c.doJSON(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}

		var notes []Note
		if err := json.Unmarshal(body, &notes); err != nil {
			return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing notes")
		}
		all = append(all, notes...)

		next, ok := hasNextPage(headers)
		if !ok {
			break
		}
		urlStr = resolveNext(urlStr, next)
	}

	return all, nil
}

// resolveNext resolves a Link header target against the request URL. GitLab
// behind a path-rewriting proxy can emit relative targets.
func resolveNext(base, next string) string {
	bu, err := url.Parse(base)
	if err != nil {
		return next
	}
	nu, err := url.Parse(next)
	if err != nil {
		return next
	}
	return bu.ResolveReference(nu).String()
}

// UploadFile uploads a file to the project uploads area. The returned URL is
// relative to the project's web URL.
func (c *Client) UploadFile(ctx context.Context, name string, data []byte) (*Upload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindAdapter, err, "preparing upload")
	}
	if _, err := fw.Write(data); err != nil {
		return nil, syncerr.Wrap(syncerr.KindAdapter, err, "preparing upload")
	}
	if err := mw.Close(); err != nil {
		return nil, syncerr.Wrap(syncerr.KindAdapter, err, "preparing upload")
	}

	urlStr := c.buildURL("/projects/"+c.projectPath()+"/uploads", nil)
	body, _, err := c.doRequest(ctx, http.MethodPost, urlStr, mw.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}

	var upload Upload
	if err := json.Unmarshal(body, &upload); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing upload response")
	}
	if upload.URL == "" {
		return nil, syncerr.New(syncerr.KindProtocol, "upload response carries no url")
	}
	return &upload, nil
}

// DownloadFile fetches a file (an upload referenced from a note) with the
// token attached.
func (c *Client) DownloadFile(ctx context.Context, fileURL string) ([]byte, error) {
	body, _, err := c.doRequest(ctx, http.MethodGet, fileURL, "", nil)
	if err != nil {
		return nil, err
	}
	return body, nil
}
