package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
)

// NewClient creates a new GitHub client.
func NewClient(token, owner, repo string) *Client {
	return &Client{
		Token:   token,
		Owner:   owner,
		Repo:    repo,
		BaseURL: DefaultAPIEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithHTTPClient returns a new client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	return &Client{
		Token:      c.Token,
		Owner:      c.Owner,
		Repo:       c.Repo,
		BaseURL:    c.BaseURL,
		HTTPClient: httpClient,
	}
}

// WithBaseURL returns a new client with a custom base URL (for testing or
// GitHub Enterprise).
func (c *Client) WithBaseURL(baseURL string) *Client {
	return &Client{
		Token:      c.Token,
		Owner:      c.Owner,
		Repo:       c.Repo,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: c.HTTPClient,
	}
}

// repoPath returns the "owner/repo" path segment.
func (c *Client) repoPath() string {
	return c.Owner + "/" + c.Repo
}

// buildURL constructs a full API URL.
func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path

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
// Rate-limited (429, or 403 with an exhausted rate-limit header) and 5xx
// responses are retried with exponential backoff.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body interface{}) ([]byte, http.Header, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, nil, syncerr.Wrap(syncerr.KindAdapter, err, "marshaling request body")
		}
	}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return nil, nil, syncerr.Wrap(syncerr.KindAdapter, err, "creating request")
		}

		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

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

		rateLimited := resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0")
		if rateLimited || resp.StatusCode >= 500 {
			delay := RetryDelay * time.Duration(1<<attempt)
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					delay = time.Duration(seconds) * time.Second
				}
			}
			lastErr = syncerr.New(kindOfStatus(resp.StatusCode),
				"github responded %d (attempt %d/%d)", resp.StatusCode, attempt+1, MaxRetries+1)
			if rateLimited {
				lastErr = syncerr.New(syncerr.KindTransport,
					"rate limited (attempt %d/%d)", attempt+1, MaxRetries+1)
			}
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, nil, syncerr.New(kindOfStatus(resp.StatusCode),
				"github responded %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		}

		return respBody, resp.Header, nil
	}

	return nil, nil, syncerr.Wrap(syncerr.KindTransport, lastErr, "max retries (%d) exceeded", MaxRetries+1)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// linkNextPattern matches the "next" relation in GitHub Link headers.
var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// hasNextPage checks the Link header for a next page URL and returns it.
func hasNextPage(headers http.Header) (string, bool) {
	link := headers.Get("Link")
	if link == "" {
		return "", false
	}
	matches := linkNextPattern.FindStringSubmatch(link)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}

// FetchRepository retrieves the configured repository. Used as the
// connectivity and credentials probe.
func (c *Client) FetchRepository(ctx context.Context) (*Repository, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath(), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching repository %s: %w", c.repoPath(), err)
	}

	var repo Repository
	if err := json.Unmarshal(respBody, &repo); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing repository response")
	}
	return &repo, nil
}

// FetchIssueByNumber retrieves a single issue by its number.
func (c *Client) FetchIssueByNumber(ctx context.Context, number int) (*Issue, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching issue #%d: %w", number, err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing issue response")
	}
	return &issue, nil
}

// CreateIssue creates a new issue in GitHub.
func (c *Client) CreateIssue(ctx context.Context, title, body string) (*Issue, error) {
	reqBody := map[string]interface{}{
		"title": title,
		"body":  body,
	}

	urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating issue: %w", err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing create response")
	}
	return &issue, nil
}

// CreateComment adds a comment to an issue.
func (c *Client) CreateComment(ctx context.Context, number int, body string) (*Comment, error) {
	reqBody := map[string]interface{}{"body": body}

	urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues/"+strconv.Itoa(number)+"/comments", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, reqBody)
	if err != nil {
		return nil, fmt.Errorf("commenting on issue #%d: %w", number, err)
	}

	var comment Comment
	if err := json.Unmarshal(respBody, &comment); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing comment response")
	}
	return &comment, nil
}

// ListComments retrieves all comments of an issue in creation order.
func (c *Client) ListComments(ctx context.Context, number int) ([]Comment, error) {
	var all []Comment
	page := 1

	for {
		select {
		case <-ctx.Done():
			return all, ctx.Err()
		default:
		}

		params := map[string]string{
			"per_page": strconv.Itoa(MaxPageSize),
			"page":     strconv.Itoa(page),
		}
		urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues/"+strconv.Itoa(number)+"/comments", params)
		respBody, headers, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("listing comments of issue #%d: %w", number, err)
		}

		var comments []Comment
		if err := json.Unmarshal(respBody, &comments); err != nil {
			return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing comments response")
		}
		all = append(all, comments...)

		if _, ok := hasNextPage(headers); !ok {
			break
		}
		page++

		if page > MaxPages {
			return nil, syncerr.New(syncerr.KindProtocol,
				"pagination limit exceeded: stopped after %d pages", MaxPages)
		}
	}

	return all, nil
}

// DownloadFile fetches a URL through the authenticated client. Used to pull
// comment images referenced from user content hosts.
func (c *Client) DownloadFile(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindAdapter, err, "creating download request")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransport, err, "downloading %s", fileURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, syncerr.New(kindOfStatus(resp.StatusCode),
			"downloading %s: status %d", fileURL, resp.StatusCode)
	}
	const maxFileSize = 50 * 1024 * 1024
	return io.ReadAll(io.LimitReader(resp.Body, maxFileSize))
}
