package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
)

const sampleYAML = `
trackers:
  mygithub:
    type: github
    token: ghp_xxx
    project: acme/tracker
  mygitlab:
    type: gitlab
    url: https://gitlab.example.com
    token: glpat-xxx
    project: acme/tracker
    verify: false
  myjira:
    type: jira
    url: https://jira.example.com
    login: bot@example.com
    password: jira-secret
    project: BUG
  mysnow:
    type: servicenow
    host: acme.service-now.com
    login: bot
    password: snow-secret
yeswehack:
  default:
    api_url: https://api.yeswehack.com
    apps_headers:
      X-YesWeHack-Apps: app-token
    login: ops@example.com
    password: hunter2
    programs:
      - slug: acme-public
        synchronize_options:
          upload_public_comments: true
        feedback_options:
          download_tracker_comments: true
        bugtrackers_name: [MyGithub, myjira]
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	root, err := Load(writeConfig(t, "ywh2bt.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(root.Trackers) != 4 {
		t.Fatalf("got %d trackers, want 4", len(root.Trackers))
	}
	gh, ok := root.Trackers["mygithub"].(*GitHubConfig)
	if !ok {
		t.Fatalf("mygithub decoded as %T, want *GitHubConfig", root.Trackers["mygithub"])
	}
	if gh.Token != "ghp_xxx" || gh.Project != "acme/tracker" {
		t.Errorf("github config = %+v", gh)
	}
	if !gh.VerifyTLS() {
		t.Error("verify should default to true")
	}
	if got, want := gh.APIURL(), "https://api.github.com"; got != want {
		t.Errorf("APIURL = %q, want %q", got, want)
	}

	gl := root.Trackers["mygitlab"].(*GitLabConfig)
	if gl.VerifyTLS() {
		t.Error("explicit verify: false should stick")
	}
	if got, want := gl.InstanceURL(), "https://gitlab.example.com"; got != want {
		t.Errorf("gitlab InstanceURL = %q, want %q", got, want)
	}

	sn := root.Trackers["mysnow"].(*ServiceNowConfig)
	if got, want := sn.InstanceURL(), "https://acme.service-now.com"; got != want {
		t.Errorf("InstanceURL = %q, want %q", got, want)
	}

	platform := root.Platforms["default"]
	if platform == nil {
		t.Fatal("missing yeswehack.default")
	}
	if got, want := platform.AppsHeader(), "app-token"; got != want {
		t.Errorf("AppsHeader = %q, want %q", got, want)
	}
	if len(platform.Programs) != 1 {
		t.Fatalf("got %d programs, want 1", len(platform.Programs))
	}
	program := platform.Programs[0]
	if !program.SynchronizeOptions.UploadPublicComments {
		t.Error("upload_public_comments not decoded")
	}
	if program.SynchronizeOptions.UploadPrivateComments {
		t.Error("upload_private_comments should default to false")
	}
	// References are matched case-insensitively against tracker names.
	if want := []string{"mygithub", "myjira"}; !reflect.DeepEqual(program.Trackers, want) {
		t.Errorf("program trackers = %v, want %v", program.Trackers, want)
	}
}

func TestLoadJSON(t *testing.T) {
	content := `{
  "trackers": {
    "gh": {"type": "github", "token": "ghp_xxx", "project": "acme/tracker"}
  },
  "yeswehack": {
    "default": {
      "api_url": "https://api.yeswehack.com",
      "apps_headers": {"X-YesWeHack-Apps": "app-token"},
      "pat": "pat-token",
      "programs": [
        {"slug": "acme-public", "bugtrackers_name": ["gh"]}
      ]
    }
  }
}`
	root, err := Load(writeConfig(t, "ywh2bt.json", content))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := root.Trackers["gh"].(*GitHubConfig); !ok {
		t.Errorf("gh decoded as %T, want *GitHubConfig", root.Trackers["gh"])
	}
	if got, want := root.Platforms["default"].PAT, "pat-token"; got != want {
		t.Errorf("PAT = %q, want %q", got, want)
	}
	if errs := root.Validate(); len(errs) != 0 {
		t.Errorf("valid config rejected: %v", errs)
	}
}

// $ENV:NAME string values resolve from the environment at load time.
func TestLoadEnvIndirection(t *testing.T) {
	t.Setenv("YWH_TEST_TOKEN", "from-env")
	content := `
trackers:
  gh:
    type: github
    token: $ENV:YWH_TEST_TOKEN
    project: acme/tracker
yeswehack: {}
`
	root, err := Load(writeConfig(t, "ywh2bt.yaml", content))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	gh := root.Trackers["gh"].(*GitHubConfig)
	if got, want := gh.Token, "from-env"; got != want {
		t.Errorf("token = %q, want %q", got, want)
	}
}

func TestLoadUnknownTrackerType(t *testing.T) {
	content := `
trackers:
  x:
    type: bugzilla
yeswehack: {}
`
	_, err := Load(writeConfig(t, "ywh2bt.yaml", content))
	if err == nil {
		t.Fatal("expected error for unknown tracker type")
	}
	if !syncerr.IsKind(err, syncerr.KindConfiguration) {
		t.Errorf("kind = %v, want configuration", syncerr.KindOf(err))
	}
	if !strings.Contains(err.Error(), "bugzilla") {
		t.Errorf("error should name the bad type: %v", err)
	}
}

// Loading a saved document yields the document it was saved from, in both
// output formats.
func TestRoundTrip(t *testing.T) {
	root, err := Load(writeConfig(t, "ywh2bt.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, name := range []string{"copy.yaml", "copy.json"} {
		path := filepath.Join(t.TempDir(), name)
		if err := Save(root, path); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
		reloaded, err := Load(path)
		if err != nil {
			t.Fatalf("reload %s: %v", name, err)
		}
		if !reflect.DeepEqual(root, reloaded) {
			t.Errorf("%s round trip changed the document:\nbefore: %+v\nafter:  %+v", name, root, reloaded)
		}
	}
}

func TestTrackerMapUnmarshalYAML(t *testing.T) {
	var m TrackerMap
	err := yaml.Unmarshal([]byte(`
gh:
  type: github
  token: t
  project: a/b
snow:
  type: servicenow
  host: acme.service-now.com
  login: bot
  password: p
`), &m)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["gh"].(*GitHubConfig); !ok {
		t.Errorf("gh = %T, want *GitHubConfig", m["gh"])
	}
	if _, ok := m["snow"].(*ServiceNowConfig); !ok {
		t.Errorf("snow = %T, want *ServiceNowConfig", m["snow"])
	}
}

func TestValidate(t *testing.T) {
	load := func(t *testing.T, content string) *Root {
		t.Helper()
		root, err := Load(writeConfig(t, "ywh2bt.yaml", content))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return root
	}

	t.Run("valid", func(t *testing.T) {
		root := load(t, sampleYAML)
		if errs := root.Validate(); len(errs) != 0 {
			t.Errorf("valid config rejected: %v", errs)
		}
	})

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "missing token",
			content: `
trackers:
  gh:
    type: github
    project: acme/tracker
yeswehack:
  default:
    api_url: https://api.yeswehack.com
    apps_headers: {X-YesWeHack-Apps: a}
    pat: p
    programs: [{slug: s, bugtrackers_name: [gh]}]
`,
			want: "trackers.gh: missing token",
		},
		{
			name: "project without owner",
			content: `
trackers:
  gh:
    type: github
    token: t
    project: tracker
yeswehack:
  default:
    api_url: https://api.yeswehack.com
    apps_headers: {X-YesWeHack-Apps: a}
    pat: p
    programs: [{slug: s, bugtrackers_name: [gh]}]
`,
			want: "must be owner/repository",
		},
		{
			name: "cdn without login",
			content: `
trackers:
  gh:
    type: github
    token: t
    project: a/b
    github_cdn_on: true
yeswehack:
  default:
    api_url: https://api.yeswehack.com
    apps_headers: {X-YesWeHack-Apps: a}
    pat: p
    programs: [{slug: s, bugtrackers_name: [gh]}]
`,
			want: "github_cdn_on requires login and password",
		},
		{
			name: "unknown tracker reference",
			content: `
trackers:
  gh:
    type: github
    token: t
    project: a/b
yeswehack:
  default:
    api_url: https://api.yeswehack.com
    apps_headers: {X-YesWeHack-Apps: a}
    pat: p
    programs: [{slug: s, bugtrackers_name: [gone]}]
`,
			want: `unknown tracker "gone"`,
		},
		{
			name: "missing apps header",
			content: `
trackers:
  gh:
    type: github
    token: t
    project: a/b
yeswehack:
  default:
    api_url: https://api.yeswehack.com
    apps_headers: {X-Other: a}
    pat: p
    programs: [{slug: s, bugtrackers_name: [gh]}]
`,
			want: "X-YesWeHack-Apps",
		},
		{
			name: "missing credentials",
			content: `
trackers:
  gh:
    type: github
    token: t
    project: a/b
yeswehack:
  default:
    api_url: https://api.yeswehack.com
    apps_headers: {X-YesWeHack-Apps: a}
    login: only-login
    programs: [{slug: s, bugtrackers_name: [gh]}]
`,
			want: "credentials must be either a pat or login plus password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := load(t, tt.content)
			errs := root.Validate()
			if len(errs) == 0 {
				t.Fatalf("expected a validation error containing %q", tt.want)
			}
			found := false
			for _, err := range errs {
				if strings.Contains(err.Error(), tt.want) {
					found = true
				}
				if !syncerr.IsKind(err, syncerr.KindConfiguration) {
					t.Errorf("kind = %v, want configuration: %v", syncerr.KindOf(err), err)
				}
			}
			if !found {
				t.Errorf("no error contained %q, got %v", tt.want, errs)
			}
		})
	}
}
