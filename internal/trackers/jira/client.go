package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
)

// NewClient creates a new Jira client.
func NewClient(login, password, baseURL string) *Client {
	return &Client{
		Login:    login,
		Password: password,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithHTTPClient returns a new client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	return &Client{
		Login:      c.Login,
		Password:   c.Password,
		BaseURL:    c.BaseURL,
		HTTPClient: httpClient,
	}
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

// doRequest performs an HTTP request with basic auth and retry logic. Extra
// headers pass through http.Header.Set, so mixed-case keys collapse into one
// canonical header instead of clobbering each other downstream.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, headers map[string]string, body []byte) ([]byte, http.Header, error) {
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

		req.SetBasicAuth(c.Login, c.Password)
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
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
				"jira responded %d (attempt %d/%d)", resp.StatusCode, attempt+1, MaxRetries+1)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, nil, syncerr.New(kindOfStatus(resp.StatusCode),
				"jira responded %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		}

		return respBody, resp.Header, nil
	}

	return nil, nil, syncerr.Wrap(syncerr.KindTransport, lastErr, "max retries (%d) exceeded", MaxRetries+1)
}

func (c *Client) doJSON(ctx context.Context, method, urlStr string, body interface{}) ([]byte, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindAdapter, err, "marshaling request body")
		}
	}
	respBody, _, err := c.doRequest(ctx, method, urlStr, map[string]string{"Content-Type": "application/json"}, jsonBody)
	return respBody, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// FetchProject fetches a project by key. Used as the credential probe.
func (c *Client) FetchProject(ctx context.Context, key string) (*Project, error) {
	urlStr := c.buildURL(apiPrefix+"/project/"+url.PathEscape(key), nil)

	body, err := c.doJSON(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}

	var project Project
	if err := json.Unmarshal(body, &project); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing project")
	}
	return &project, nil
}

// FetchIssue fetches one issue by key, with the fields the synchronizer
// reads.
func (c *Client) FetchIssue(ctx context.Context, key string) (*Issue, error) {
	urlStr := c.buildURL(apiPrefix+"/issue/"+url.PathEscape(key), map[string]string{
		"fields": "summary,status",
	})

	body, err := c.doJSON(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing issue")
	}
	return &issue, nil
}

// CreateIssue creates a new issue. The response carries only id, key and
// self.
func (c *Client) CreateIssue(ctx context.Context, project, issueType, summary, description string) (*Issue, error) {
	urlStr := c.buildURL(apiPrefix+"/issue", nil)

	payload := map[string]interface{}{
		"fields": map[string]interface{}{
			"project":     map[string]string{"key": project},
			"issuetype":   map[string]string{"name": issueType},
			"summary":     summary,
			"description": description,
		},
	}
	body, err := c.doJSON(ctx, http.MethodPost, urlStr, payload)
	if err != nil {
		return nil, err
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing created issue")
	}
	return &issue, nil
}

// UpdateDescription rewrites an issue's description.
func (c *Client) UpdateDescription(ctx context.Context, key, description string) error {
	urlStr := c.buildURL(apiPrefix+"/issue/"+url.PathEscape(key), nil)

	payload := map[string]interface{}{
		"fields": map[string]string{"description": description},
	}
	_, err := c.doJSON(ctx, http.MethodPut, urlStr, payload)
	return err
}

// AddComment adds a comment to an issue.
func (c *Client) AddComment(ctx context.Context, key, commentBody string) (*Comment, error) {
	urlStr := c.buildURL(apiPrefix+"/issue/"+url.PathEscape(key)+"/comment", nil)

	payload := map[string]string{"body": commentBody}
	body, err := c.doJSON(ctx, http.MethodPost, urlStr, payload)
	if err != nil {
		return nil, err
	}

	var comment Comment
	if err := json.Unmarshal(body, &comment); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing created comment")
	}
	return &comment, nil
}

// ListComments fetches all comments of an issue in creation order, following
// startAt pagination.
func (c *Client) ListComments(ctx context.Context, key string) ([]Comment, error) {
	var all []Comment
	startAt := 0
	for page := 0; page < MaxPages; page++ {
		urlStr := c.buildURL(apiPrefix+"/issue/"+url.PathEscape(key)+"/comment", map[string]string{
			"startAt":    strconv.Itoa(startAt),
			"maxResults": strconv.Itoa(MaxPageSize),
		})

		body, err := c.doJSON(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}

		var pageBody CommentPage
		if err := json.Unmarshal(body, &pageBody); err != nil {
			return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing comments")
		}
		all = append(all, pageBody.Comments...)

		startAt += len(pageBody.Comments)
		if len(pageBody.Comments) == 0 || startAt >= pageBody.Total {
			break
		}
	}

	return all, nil
}

// AddAttachment uploads a file to an issue and returns the created
// attachment record.
func (c *Client) AddAttachment(ctx context.Context, key, filename string, data []byte) (*Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindAdapter, err, "preparing attachment")
	}
	if _, err := fw.Write(data); err != nil {
		return nil, syncerr.Wrap(syncerr.KindAdapter, err, "preparing attachment")
	}
	if err := mw.Close(); err != nil {
		return nil, syncerr.Wrap(syncerr.KindAdapter, err, "preparing attachment")
	}

	urlStr := c.buildURL(apiPrefix+"/issue/"+url.PathEscape(key)+"/attachments", nil)
	headers := map[string]string{
		"Content-Type":      mw.FormDataContentType(),
		"X-Atlassian-Token": "no-check",
	}
	body, _, err := c.doRequest(ctx, http.MethodPost, urlStr, headers, buf.Bytes())
	if err != nil {
		return nil, err
	}

	var attachments []Attachment
	if err := json.Unmarshal(body, &attachments); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing attachment response")
	}
	if len(attachments) == 0 {
		return nil, syncerr.New(syncerr.KindProtocol, "attachment response is empty")
	}
	return &attachments[0], nil
}

// DownloadFile fetches a file (an attachment referenced from a comment) with
// basic auth attached.
func (c *Client) DownloadFile(ctx context.Context, fileURL string) ([]byte, error) {
	body, _, err := c.doRequest(ctx, http.MethodGet, fileURL, nil, nil)
	if err != nil {
		return nil, err
	}
	return body, nil
}
