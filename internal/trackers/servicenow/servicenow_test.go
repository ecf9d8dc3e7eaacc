package servicenow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yeswehack/ywh2bugtracker/internal/config"
	"github.com/yeswehack/ywh2bugtracker/internal/trackers"
	"github.com/yeswehack/ywh2bugtracker/internal/ywh"
)

func testConfig(instanceURL string) *config.ServiceNowConfig {
	return &config.ServiceNowConfig{
		Type:     config.TypeServiceNow,
		Host:     strings.TrimPrefix(instanceURL, "http://"),
		Login:    "sync.account",
		Password: "secret",
	}
}

func testTracker(t *testing.T, server *httptest.Server) *Tracker {
	t.Helper()
	tr, err := New("snow", testConfig(server.URL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	// The config prepends https; point the client at the plain test server.
	tr.client = tr.client.WithHTTPClient(server.Client())
	tr.client.BaseURL = server.URL
	return tr
}

func testReport() *ywh.Report {
	return &ywh.Report{
		ID:              123,
		LocalID:         "YWH-P1-123",
		Title:           "RCE through file upload",
		Scope:           "https://app.example.com",
		CVSS:            ywh.CVSS{Criticity: "critical", Score: 9.8},
		BugType:         ywh.BugType{Name: "RCE", Link: "https://bt.example/rce"},
		DescriptionHTML: "<p>Uploads are executed server side.</p>",
		Hunter:          ywh.Author{Username: "hunter1"},
	}
}

func TestRegisteredFactory(t *testing.T) {
	cfg := &config.ServiceNowConfig{
		Type:     config.TypeServiceNow,
		Host:     "acme.service-now.com",
		Login:    "sync.account",
		Password: "secret",
	}
	tr, err := trackers.New("snow", cfg)
	if err != nil {
		t.Fatalf("trackers.New() error = %v", err)
	}
	if tr.Name() != "snow" {
		t.Errorf("Name() = %q, want snow", tr.Name())
	}
	if tr.URL() != "https://acme.service-now.com" {
		t.Errorf("URL() = %q", tr.URL())
	}
}

func TestGetIssue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		login, password, ok := r.BasicAuth()
		if !ok || login != "sync.account" || password != "secret" {
			t.Errorf("basic auth = %q, %q, %v", login, password, ok)
		}
		if r.URL.Path != "/api/now/table/incident/abc123" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"No Record found"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"sys_id":"abc123","number":"INC0010001","state":"7","active":"false"}}`))
	}))
	defer server.Close()

	tr := testTracker(t, server)

	issue, err := tr.GetIssue(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("GetIssue() error = %v", err)
	}
	if issue == nil {
		t.Fatal("GetIssue() = nil, want issue")
	}
	if issue.ID != "abc123" {
		t.Errorf("issue.ID = %q, want abc123", issue.ID)
	}
	if !issue.Closed {
		t.Error("issue.Closed = false, want true (active is false)")
	}
	if want := server.URL + "/nav_to.do?uri=incident.do%3Fsys_id%3Dabc123"; issue.URL != want {
		t.Errorf("issue.URL = %q, want %q", issue.URL, want)
	}

	issue, err = tr.GetIssue(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetIssue(missing) error = %v", err)
	}
	if issue != nil {
		t.Errorf("GetIssue(missing) = %+v, want nil", issue)
	}
}

func TestSendReportUploadsAttachments(t *testing.T) {
	attURL := "https://apps.yeswehack.com/files/poc.bin"
	var createdFields, patchedFields map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/now/table/incident":
			_ = json.NewDecoder(r.Body).Decode(&createdFields)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"result":{"sys_id":"abc123","number":"INC0010001","active":"true"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/now/attachment/file":
			q := r.URL.Query()
			if q.Get("table_name") != "incident" || q.Get("table_sys_id") != "abc123" {
				t.Errorf("upload query = %v", q)
			}
			if q.Get("file_name") != "poc.bin" {
				t.Errorf("file_name = %q, want poc.bin", q.Get("file_name"))
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"result":{"sys_id":"att1","file_name":"poc.bin","download_link":"/api/now/attachment/att1/file"}}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/api/now/table/incident/abc123":
			_ = json.NewDecoder(r.Body).Decode(&patchedFields)
			_, _ = w.Write([]byte(`{"result":{"sys_id":"abc123","active":"true"}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	report := testReport()
	report.DescriptionHTML = `<p>Payload: <a href="` + attURL + `">poc.bin</a></p>`
	report.Attachments = []ywh.Attachment{{
		OriginalName: "poc.bin",
		MimeType:     "application/octet-stream",
		URL:          attURL,
		Loader: func(ctx context.Context) ([]byte, error) {
			return []byte{0xde, 0xad}, nil
		},
	}}

	tr := testTracker(t, server)

	issue, err := tr.SendReport(context.Background(), report)
	if err != nil {
		t.Fatalf("SendReport() error = %v", err)
	}
	if issue.ID != "abc123" {
		t.Errorf("issue.ID = %q, want abc123", issue.ID)
	}

	if createdFields["short_description"] != "#YWH-P1-123 : RCE through file upload" {
		t.Errorf("short_description = %q", createdFields["short_description"])
	}
	if !strings.Contains(createdFields["description"], attURL) {
		t.Errorf("created description misses the original link:\n%s", createdFields["description"])
	}
	hosted := server.URL + "/api/now/attachment/att1/file"
	if !strings.Contains(patchedFields["description"], hosted) {
		t.Errorf("patched description misses the download link:\n%s", patchedFields["description"])
	}
	if strings.Contains(patchedFields["description"], attURL) {
		t.Errorf("patched description still carries the platform URL:\n%s", patchedFields["description"])
	}
}

func TestSendLogs(t *testing.T) {
	var comments []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPatch && r.URL.Path == "/api/now/table/incident/abc123":
			var fields map[string]string
			_ = json.NewDecoder(r.Body).Decode(&fields)
			comments = append(comments, fields["comments"])
			_, _ = w.Write([]byte(`{"result":{"sys_id":"abc123","active":"true"}}`))
		case r.URL.Path == "/api/now/table/sys_journal_field":
			query := r.URL.Query().Get("sysparm_query")
			if !strings.Contains(query, "element_id=abc123") || !strings.Contains(query, "ORDERBYDESC") {
				t.Errorf("journal query = %q", query)
			}
			_, _ = w.Write([]byte(`{"result":[{"sys_id":"j` + string(rune('0'+len(comments))) + `","element":"comments","value":"x","sys_created_on":"2024-05-02 14:00:00","sys_created_by":"sync.account"}]}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	tr := testTracker(t, server)

	logs := []*ywh.Log{
		{ID: 1, Type: ywh.LogTypeComment, Author: ywh.Author{Username: "h"}, MessageHTML: "<p>first</p>"},
		{ID: 2, Type: ywh.LogTypeComment, Author: ywh.Author{Username: "h"}, MessageHTML: "<p>second</p>"},
	}
	result, err := tr.SendLogs(context.Background(), &trackers.Issue{ID: "abc123"}, logs)
	if err != nil {
		t.Fatalf("SendLogs() error = %v", err)
	}

	if len(result.CommentIDs) != 2 || result.CommentIDs[0] != "j1" || result.CommentIDs[1] != "j2" {
		t.Errorf("result.CommentIDs = %v, want [j1 j2]", result.CommentIDs)
	}
	if len(comments) != 2 || !strings.Contains(comments[0], "first") || !strings.Contains(comments[1], "second") {
		t.Errorf("journal comments = %v", comments)
	}
}

func TestGetIssueCommentsMergesStreams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/now/table/sys_journal_field":
			_, _ = w.Write([]byte(`{"result":[
				{"sys_id":"j1","element":"comments","value":"looking into it","sys_created_on":"2024-05-02 09:00:00","sys_created_by":"agent.smith"},
				{"sys_id":"j2","element":"comments","value":"mirrored","sys_created_on":"2024-05-02 10:00:00","sys_created_by":"sync.account"},
				{"sys_id":"j3","element":"comments","value":"excluded","sys_created_on":"2024-05-02 11:00:00","sys_created_by":"agent.smith"},
				{"sys_id":"j4","element":"comments","value":"fix shipped","sys_created_on":"2024-05-02 13:00:00","sys_created_by":"agent.smith"}
			]}`))
		case r.URL.Path == "/api/now/attachment" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"result":[
				{"sys_id":"a1","file_name":"trace.log","download_link":"` + serverURL(r) + `/api/now/attachment/a1/file","sys_created_on":"2024-05-02 12:00:00","sys_created_by":"agent.smith"}
			]}`))
		case r.URL.Path == "/api/now/attachment/a1/file":
			_, _ = w.Write([]byte("log-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	tr := testTracker(t, server)

	comments, err := tr.GetIssueComments(context.Background(), "abc123", []string{"j3"})
	if err != nil {
		t.Fatalf("GetIssueComments() error = %v", err)
	}

	// j2 is filtered as the synchronizer's own entry, j3 by exclusion.
	if len(comments) != 3 {
		t.Fatalf("GetIssueComments() returned %d comments, want 3", len(comments))
	}
	wantOrder := []string{"j1", "a1", "j4"}
	for i, want := range wantOrder {
		if comments[i].ID != want {
			t.Errorf("comments[%d].ID = %q, want %q (chronological merge)", i, comments[i].ID, want)
		}
	}
	if comments[1].Body != "Attached file: trace.log" {
		t.Errorf("comments[1].Body = %q", comments[1].Body)
	}
	if string(comments[1].Attachments["trace.log"]) != "log-bytes" {
		t.Errorf("comments[1].Attachments = %v, want downloaded trace.log", comments[1].Attachments)
	}
}

// serverURL reconstructs the test server's base URL from the request, for
// response bodies that must reference it before the server variable exists.
func serverURL(r *http.Request) string {
	return "http://" + r.Host
}
