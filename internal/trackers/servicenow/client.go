package servicenow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
)

// NewClient creates a new ServiceNow client.
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

// doRequest performs an HTTP request with basic auth and retry logic.
func (c *Client) doRequest(ctx context.Context, method, urlStr, contentType string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindAdapter, err, "creating request")
		}

		req.SetBasicAuth(c.Login, c.Password)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
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
				"servicenow responded %d (attempt %d/%d)", resp.StatusCode, attempt+1, MaxRetries+1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, syncerr.New(kindOfStatus(resp.StatusCode),
				"servicenow responded %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		}

		return respBody, nil
	}

	return nil, syncerr.Wrap(syncerr.KindTransport, lastErr, "max retries (%d) exceeded", MaxRetries+1)
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
	return c.doRequest(ctx, method, urlStr, "application/json", jsonBody)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Probe checks the credentials against the incident table.
func (c *Client) Probe(ctx context.Context) error {
	urlStr := c.buildURL(apiPrefix+"/table/incident", map[string]string{
		"sysparm_limit":  "1",
		"sysparm_fields": "sys_id",
	})
	_, err := c.doJSON(ctx, http.MethodGet, urlStr, nil)
	return err
}

// FetchIncident fetches one incident by sys_id.
func (c *Client) FetchIncident(ctx context.Context, sysID string) (*Incident, error) {
	urlStr := c.buildURL(apiPrefix+"/table/incident/"+url.PathEscape(sysID), nil)

	body, err := c.doJSON(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result Incident `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing incident")
	}
	return &envelope.Result, nil
}

// CreateIncident creates a new incident.
func (c *Client) CreateIncident(ctx context.Context, shortDescription, description string) (*Incident, error) {
	urlStr := c.buildURL(apiPrefix+"/table/incident", nil)

	payload := map[string]string{
		"short_description": shortDescription,
		"description":       description,
	}
	body, err := c.doJSON(ctx, http.MethodPost, urlStr, payload)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result Incident `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing created incident")
	}
	return &envelope.Result, nil
}

// UpdateIncident patches incident fields. Writing the "comments" field adds
// a journal entry instead of mutating the record.
func (c *Client) UpdateIncident(ctx context.Context, sysID string, fields map[string]string) (*Incident, error) {
	urlStr := c.buildURL(apiPrefix+"/table/incident/"+url.PathEscape(sysID), nil)

	body, err := c.doJSON(ctx, http.MethodPatch, urlStr, fields)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result Incident `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing updated incident")
	}
	return &envelope.Result, nil
}

// ListJournalEntries fetches the journal entries of one record's element
// stream in creation order.
func (c *Client) ListJournalEntries(ctx context.Context, sysID, element string) ([]JournalEntry, error) {
	urlStr := c.buildURL(apiPrefix+"/table/sys_journal_field", map[string]string{
		"sysparm_query": "element_id=" + sysID + "^element=" + element + "^ORDERBYsys_created_on",
	})

	body, err := c.doJSON(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result []JournalEntry `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing journal entries")
	}
	return envelope.Result, nil
}

// LatestJournalEntry fetches the newest journal entry of one record's
// element stream, or nil when there is none.
func (c *Client) LatestJournalEntry(ctx context.Context, sysID, element string) (*JournalEntry, error) {
	urlStr := c.buildURL(apiPrefix+"/table/sys_journal_field", map[string]string{
		"sysparm_query": "element_id=" + sysID + "^element=" + element + "^ORDERBYDESCsys_created_on",
		"sysparm_limit": "1",
	})

	body, err := c.doJSON(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result []JournalEntry `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing journal entries")
	}
	if len(envelope.Result) == 0 {
		return nil, nil
	}
	return &envelope.Result[0], nil
}

// ListAttachments fetches the attachment records of one record in creation
// order.
func (c *Client) ListAttachments(ctx context.Context, sysID string) ([]AttachmentRecord, error) {
	urlStr := c.buildURL(apiPrefix+"/attachment", map[string]string{
		"sysparm_query": "table_sys_id=" + sysID + "^ORDERBYsys_created_on",
	})

	body, err := c.doJSON(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result []AttachmentRecord `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing attachments")
	}
	return envelope.Result, nil
}

// UploadAttachment streams a file onto a record.
func (c *Client) UploadAttachment(ctx context.Context, sysID, fileName, contentType string, data []byte) (*AttachmentRecord, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	urlStr := c.buildURL(apiPrefix+"/attachment/file", map[string]string{
		"table_name":   "incident",
		"table_sys_id": sysID,
		"file_name":    fileName,
	})

	body, err := c.doRequest(ctx, http.MethodPost, urlStr, contentType, data)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result AttachmentRecord `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, err, "parsing uploaded attachment")
	}
	return &envelope.Result, nil
}

// DownloadFile fetches an attachment's content with basic auth attached.
func (c *Client) DownloadFile(ctx context.Context, fileURL string) ([]byte, error) {
	return c.doRequest(ctx, http.MethodGet, fileURL, "", nil)
}
