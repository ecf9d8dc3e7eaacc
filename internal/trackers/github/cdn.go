package github

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
)

// cdnSession uploads attachments through the github.com browser flow: log in
// with the web form, ask the upload policies endpoint for a signed
// destination, then push the file there. The REST API has no attachment
// endpoint, so this is the only way to keep images inline.
type cdnSession struct {
	webURL   string
	login    string
	password string
	client   *http.Client
	token    string // CSRF token captured at login
	authed   bool
}

func newCDNSession(webURL, login, password string, verifyTLS bool) *cdnSession {
	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Timeout: DefaultTimeout,
		Jar:     jar,
	}
	if !verifyTLS {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		client.Transport = transport
	}
	return &cdnSession{
		webURL:   strings.TrimRight(webURL, "/"),
		login:    login,
		password: password,
		client:   client,
	}
}

func (s *cdnSession) ensureLogin(ctx context.Context) error {
	if s.authed {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.webURL+"/login", nil)
	if err != nil {
		return syncerr.Wrap(syncerr.KindAdapter, err, "creating login request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return syncerr.Wrap(syncerr.KindTransport, err, "loading login page")
	}
	page, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	_ = resp.Body.Close()
	if err != nil {
		return syncerr.Wrap(syncerr.KindTransport, err, "reading login page")
	}

	token := authenticityToken(page)
	if token == "" {
		return syncerr.New(syncerr.KindProtocol, "login page carries no authenticity token")
	}

	form := url.Values{}
	form.Set("login", s.login)
	form.Set("password", s.password)
	form.Set("authenticity_token", token)
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, s.webURL+"/session",
		strings.NewReader(form.Encode()))
	if err != nil {
		return syncerr.Wrap(syncerr.KindAdapter, err, "creating session request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err = s.client.Do(req)
	if err != nil {
		return syncerr.Wrap(syncerr.KindTransport, err, "submitting login")
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024*1024))
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return syncerr.New(syncerr.KindAuthentication, "github web login rejected (status %d)", resp.StatusCode)
	}

	s.token = token
	s.authed = true
	return nil
}

// uploadPolicy is the signed destination returned by the policies endpoint.
type uploadPolicy struct {
	UploadURL string            `json:"upload_url"`
	Form      map[string]string `json:"form"`
	Asset     struct {
		Href string `json:"href"`
	} `json:"asset"`
}

// Upload pushes one file and returns its CDN URL.
func (s *cdnSession) Upload(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	if err := s.ensureLogin(ctx); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("name", name)
	form.Set("size", strconv.Itoa(len(data)))
	form.Set("content_type", mimeType)
	form.Set("authenticity_token", s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webURL+"/upload/policies/assets",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindAdapter, err, "creating policy request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindTransport, err, "requesting upload policy")
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	_ = resp.Body.Close()
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindTransport, err, "reading upload policy")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", syncerr.New(kindOfStatus(resp.StatusCode),
			"upload policy rejected for %q (status %d)", name, resp.StatusCode)
	}

	var policy uploadPolicy
	if err := json.Unmarshal(body, &policy); err != nil {
		return "", syncerr.Wrap(syncerr.KindProtocol, err, "parsing upload policy")
	}
	if policy.UploadURL == "" || policy.Asset.Href == "" {
		return "", syncerr.New(syncerr.KindProtocol, "upload policy missing destination for %q", name)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range policy.Form {
		if err := writer.WriteField(k, v); err != nil {
			return "", syncerr.Wrap(syncerr.KindAdapter, err, "writing upload form")
		}
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindAdapter, err, "writing upload file")
	}
	if _, err := part.Write(data); err != nil {
		return "", syncerr.Wrap(syncerr.KindAdapter, err, "writing upload file")
	}
	if err := writer.Close(); err != nil {
		return "", syncerr.Wrap(syncerr.KindAdapter, err, "closing upload form")
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, policy.UploadURL, &buf)
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindAdapter, err, "creating upload request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err = s.client.Do(req)
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindTransport, err, "uploading %q", name)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024*1024))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", syncerr.New(kindOfStatus(resp.StatusCode),
			"upload of %q failed (status %d)", name, resp.StatusCode)
	}
	return policy.Asset.Href, nil
}

// authenticityToken extracts the CSRF token from a login page.
func authenticityToken(page []byte) string {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	return findAuthenticityToken(doc)
}

func findAuthenticityToken(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "input" {
		var name, value string
		for _, attr := range n.Attr {
			switch attr.Key {
			case "name":
				name = attr.Val
			case "value":
				value = attr.Val
			}
		}
		if name == "authenticity_token" {
			return value
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if token := findAuthenticityToken(child); token != "" {
			return token
		}
	}
	return ""
}
