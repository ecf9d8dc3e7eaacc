// Package config holds the synchronization configuration tree: the tracker
// catalog, the platform accounts, and the per-program option sets. The same
// model loads from YAML or JSON, validates itself, and exports its own
// schema.
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
)

// Tracker type discriminators accepted in the trackers section.
const (
	TypeGitHub     = "github"
	TypeGitLab     = "gitlab"
	TypeJira       = "jira"
	TypeServiceNow = "servicenow"
)

// Root is the whole configuration document.
type Root struct {
	Trackers  TrackerMap                 `json:"trackers" yaml:"trackers"`
	Platforms map[string]*PlatformConfig `json:"yeswehack" yaml:"yeswehack"`
}

// TrackerConfig is implemented by every tracker section variant.
type TrackerConfig interface {
	// TrackerType returns the type discriminator ("github", "gitlab", ...).
	TrackerType() string

	// Validate checks the section in isolation. Cross-section rules live on
	// Root.Validate.
	Validate(name string) []error
}

// TrackerMap decodes the trackers section, dispatching each entry on its
// "type" discriminator into the matching concrete config.
type TrackerMap map[string]TrackerConfig

// GitHubConfig configures one GitHub project.
type GitHubConfig struct {
	Type    string `json:"type" yaml:"type"`
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Token   string `json:"token" yaml:"token"`
	Project string `json:"project" yaml:"project"`
	Verify  *bool  `json:"verify,omitempty" yaml:"verify,omitempty"`

	// GitHub has no attachment API. When CDNOn is set the adapter uploads
	// attachments through a browser session authenticated with Login and
	// Password; otherwise attachment references become placeholder text.
	CDNOn    bool   `json:"github_cdn_on,omitempty" yaml:"github_cdn_on,omitempty"`
	Login    string `json:"login,omitempty" yaml:"login,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

func (c *GitHubConfig) TrackerType() string { return TypeGitHub }

// APIURL returns the configured API base or the public github.com API.
func (c *GitHubConfig) APIURL() string {
	if c.URL == "" {
		return "https://api.github.com"
	}
	return strings.TrimRight(c.URL, "/")
}

func (c *GitHubConfig) VerifyTLS() bool { return verifyDefault(c.Verify) }

func (c *GitHubConfig) Validate(name string) []error {
	var errs []error
	if c.Token == "" {
		errs = append(errs, missingField(name, "token"))
	}
	if c.Project == "" {
		errs = append(errs, missingField(name, "project"))
	} else if !strings.Contains(c.Project, "/") {
		errs = append(errs, syncerr.New(syncerr.KindConfiguration,
			"trackers.%s: project %q must be owner/repository", name, c.Project))
	}
	if c.CDNOn && (c.Login == "" || c.Password == "") {
		errs = append(errs, syncerr.New(syncerr.KindConfiguration,
			"trackers.%s: github_cdn_on requires login and password", name))
	}
	return errs
}

// GitLabConfig configures one GitLab project.
type GitLabConfig struct {
	Type    string `json:"type" yaml:"type"`
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Token   string `json:"token" yaml:"token"`
	Project string `json:"project" yaml:"project"`
	Verify  *bool  `json:"verify,omitempty" yaml:"verify,omitempty"`
}

func (c *GitLabConfig) TrackerType() string { return TypeGitLab }

// InstanceURL returns the configured instance base or gitlab.com. The REST
// API lives under /api/v4 of this URL.
func (c *GitLabConfig) InstanceURL() string {
	if c.URL == "" {
		return "https://gitlab.com"
	}
	return strings.TrimRight(c.URL, "/")
}

func (c *GitLabConfig) VerifyTLS() bool { return verifyDefault(c.Verify) }

func (c *GitLabConfig) Validate(name string) []error {
	var errs []error
	if c.Token == "" {
		errs = append(errs, missingField(name, "token"))
	}
	if c.Project == "" {
		errs = append(errs, missingField(name, "project"))
	}
	return errs
}

// JiraConfig configures one Jira project.
type JiraConfig struct {
	Type         string `json:"type" yaml:"type"`
	URL          string `json:"url" yaml:"url"`
	Login        string `json:"login" yaml:"login"`
	Password     string `json:"password" yaml:"password"`
	Project      string `json:"project" yaml:"project"`
	IssueType    string `json:"issuetype,omitempty" yaml:"issuetype,omitempty"`
	ClosedStatus string `json:"issue_closed_status,omitempty" yaml:"issue_closed_status,omitempty"`
	Verify       *bool  `json:"verify,omitempty" yaml:"verify,omitempty"`
}

func (c *JiraConfig) TrackerType() string { return TypeJira }

func (c *JiraConfig) VerifyTLS() bool { return verifyDefault(c.Verify) }

// IssueTypeName returns the configured issue type or the "Task" default.
func (c *JiraConfig) IssueTypeName() string {
	if c.IssueType == "" {
		return "Task"
	}
	return c.IssueType
}

// ClosedStatusName returns the status name treated as closed, "Closed" by
// default. Issue state mirroring compares against it case-insensitively.
func (c *JiraConfig) ClosedStatusName() string {
	if c.ClosedStatus == "" {
		return "Closed"
	}
	return c.ClosedStatus
}

func (c *JiraConfig) Validate(name string) []error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, missingField(name, "url"))
	}
	if c.Login == "" {
		errs = append(errs, missingField(name, "login"))
	}
	if c.Password == "" {
		errs = append(errs, missingField(name, "password"))
	}
	if c.Project == "" {
		errs = append(errs, missingField(name, "project"))
	}
	return errs
}

// ServiceNowConfig configures one ServiceNow instance. Issues are incidents;
// there is no project notion.
type ServiceNowConfig struct {
	Type     string `json:"type" yaml:"type"`
	Host     string `json:"host" yaml:"host"`
	Login    string `json:"login" yaml:"login"`
	Password string `json:"password" yaml:"password"`
	Verify   *bool  `json:"verify,omitempty" yaml:"verify,omitempty"`
}

func (c *ServiceNowConfig) TrackerType() string { return TypeServiceNow }

func (c *ServiceNowConfig) VerifyTLS() bool { return verifyDefault(c.Verify) }

// InstanceURL returns the https base URL for the configured host. A host
// given with an explicit scheme is used as-is.
func (c *ServiceNowConfig) InstanceURL() string {
	if strings.Contains(c.Host, "://") {
		return strings.TrimRight(c.Host, "/")
	}
	return "https://" + strings.TrimRight(c.Host, "/")
}

func (c *ServiceNowConfig) Validate(name string) []error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, missingField(name, "host"))
	}
	if c.Login == "" {
		errs = append(errs, missingField(name, "login"))
	}
	if c.Password == "" {
		errs = append(errs, missingField(name, "password"))
	}
	return errs
}

// PlatformConfig is one YesWeHack account plus the programs synchronized
// through it.
type PlatformConfig struct {
	APIURL      string            `json:"api_url" yaml:"api_url"`
	AppsHeaders map[string]string `json:"apps_headers" yaml:"apps_headers"`
	Login       string            `json:"login,omitempty" yaml:"login,omitempty"`
	Password    string            `json:"password,omitempty" yaml:"password,omitempty"`
	PAT         string            `json:"pat,omitempty" yaml:"pat,omitempty"`
	OAuthArgs   map[string]string `json:"oauth_args,omitempty" yaml:"oauth_args,omitempty"`
	Verify      *bool             `json:"verify,omitempty" yaml:"verify,omitempty"`
	Programs    []ProgramConfig   `json:"programs" yaml:"programs"`
}

func (c *PlatformConfig) VerifyTLS() bool { return verifyDefault(c.Verify) }

// AppsHeader returns the value of the X-YesWeHack-Apps header. Header keys
// compare case-insensitively because loaders may normalize them.
func (c *PlatformConfig) AppsHeader() string {
	for k, v := range c.AppsHeaders {
		if strings.EqualFold(k, "x-yeswehack-apps") {
			return v
		}
	}
	return ""
}

// ProgramConfig selects one program and the trackers its reports go to.
type ProgramConfig struct {
	Slug               string             `json:"slug" yaml:"slug"`
	SynchronizeOptions SynchronizeOptions `json:"synchronize_options" yaml:"synchronize_options"`
	FeedbackOptions    FeedbackOptions    `json:"feedback_options" yaml:"feedback_options"`
	Trackers           []string           `json:"bugtrackers_name" yaml:"bugtrackers_name"`
}

// SynchronizeOptions gates which report log kinds are pushed to trackers.
// Everything defaults to off; issue creation itself is not gated.
type SynchronizeOptions struct {
	UploadPrivateComments bool `json:"upload_private_comments" yaml:"upload_private_comments"`
	UploadPublicComments  bool `json:"upload_public_comments" yaml:"upload_public_comments"`
	UploadDetailsUpdates  bool `json:"upload_details_updates" yaml:"upload_details_updates"`
	UploadCVSSUpdates     bool `json:"upload_cvss_updates" yaml:"upload_cvss_updates"`
	UploadRewards         bool `json:"upload_rewards" yaml:"upload_rewards"`
	UploadStatusUpdates   bool `json:"upload_status_updates" yaml:"upload_status_updates"`
}

// Any reports whether at least one log kind is pushed out.
func (o SynchronizeOptions) Any() bool {
	return o.UploadPrivateComments || o.UploadPublicComments ||
		o.UploadDetailsUpdates || o.UploadCVSSUpdates ||
		o.UploadRewards || o.UploadStatusUpdates
}

// FeedbackOptions gates which tracker-side activity flows back to the
// platform.
type FeedbackOptions struct {
	DownloadTrackerComments bool `json:"download_tracker_comments" yaml:"download_tracker_comments"`
	IssueClosedToReportAFV  bool `json:"issue_closed_to_report_afv" yaml:"issue_closed_to_report_afv"`
}

// Any reports whether at least one feedback flow is enabled.
func (o FeedbackOptions) Any() bool {
	return o.DownloadTrackerComments || o.IssueClosedToReportAFV
}

func verifyDefault(v *bool) bool {
	if v == nil {
		return true
	}
	return *v
}

func missingField(section, field string) error {
	return syncerr.New(syncerr.KindConfiguration, "trackers.%s: missing %s", section, field)
}

func newTrackerConfig(typ string) (TrackerConfig, error) {
	switch typ {
	case TypeGitHub:
		return &GitHubConfig{Type: typ}, nil
	case TypeGitLab:
		return &GitLabConfig{Type: typ}, nil
	case TypeJira:
		return &JiraConfig{Type: typ}, nil
	case TypeServiceNow:
		return &ServiceNowConfig{Type: typ}, nil
	case "":
		return nil, fmt.Errorf("missing type")
	default:
		return nil, fmt.Errorf("unknown type %q", typ)
	}
}

// UnmarshalJSON decodes each tracker entry into the concrete config named by
// its type field.
func (m *TrackerMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(TrackerMap, len(raw))
	for name, entry := range raw {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(entry, &head); err != nil {
			return syncerr.Wrap(syncerr.KindConfiguration, err, "trackers.%s", name)
		}
		cfg, err := newTrackerConfig(head.Type)
		if err != nil {
			return syncerr.Wrap(syncerr.KindConfiguration, err, "trackers.%s", name)
		}
		if err := json.Unmarshal(entry, cfg); err != nil {
			return syncerr.Wrap(syncerr.KindConfiguration, err, "trackers.%s", name)
		}
		out[name] = cfg
	}
	*m = out
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for documents decoded directly with
// yaml.v3.
func (m *TrackerMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return syncerr.New(syncerr.KindConfiguration, "trackers section must be a mapping")
	}
	out := make(TrackerMap, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		name := value.Content[i].Value
		node := value.Content[i+1]
		var head struct {
			Type string `yaml:"type"`
		}
		if err := node.Decode(&head); err != nil {
			return syncerr.Wrap(syncerr.KindConfiguration, err, "trackers.%s", name)
		}
		cfg, err := newTrackerConfig(head.Type)
		if err != nil {
			return syncerr.Wrap(syncerr.KindConfiguration, err, "trackers.%s", name)
		}
		if err := node.Decode(cfg); err != nil {
			return syncerr.Wrap(syncerr.KindConfiguration, err, "trackers.%s", name)
		}
		out[name] = cfg
	}
	*m = out
	return nil
}
