package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldDoc describes one configuration field. The tables below drive both
// schema export and the reference documentation printed by the CLI.
type FieldDoc struct {
	Key      string
	Type     string // string, boolean, object, array
	Items    string // array item type, or a definition name
	Ref      string // definition name for object-typed fields
	Required bool
	Secret   bool
	Default  string
	Doc      string
}

// SectionDoc groups the fields of one configuration object.
type SectionDoc struct {
	Name   string // definition name used in $ref targets
	Title  string
	Doc    string
	Fields []FieldDoc
}

// Schema returns the configuration model, one section per object type.
func Schema() []SectionDoc {
	return []SectionDoc{
		{
			Name:  "root",
			Title: "Configuration document",
			Doc:   "Top-level document with the tracker catalog and the platform accounts.",
			Fields: []FieldDoc{
				{Key: "trackers", Type: "object", Required: true, Doc: "Named tracker sections; each entry carries a type discriminator."},
				{Key: "yeswehack", Type: "object", Ref: "platform", Required: true, Doc: "Named YesWeHack accounts with their programs."},
			},
		},
		{
			Name:  "github",
			Title: "GitHub tracker",
			Fields: []FieldDoc{
				{Key: "type", Type: "string", Required: true, Doc: `Always "github".`},
				{Key: "url", Type: "string", Default: "https://api.github.com", Doc: "API base URL; set for GitHub Enterprise."},
				{Key: "token", Type: "string", Required: true, Secret: true, Doc: "Personal access token with repo scope."},
				{Key: "project", Type: "string", Required: true, Doc: "Repository as owner/name."},
				{Key: "verify", Type: "boolean", Default: "true", Doc: "Verify TLS certificates."},
				{Key: "github_cdn_on", Type: "boolean", Default: "false", Doc: "Upload attachments through a browser session instead of replacing them with placeholders."},
				{Key: "login", Type: "string", Doc: "Account login for the browser session; required with github_cdn_on."},
				{Key: "password", Type: "string", Secret: true, Doc: "Account password for the browser session; required with github_cdn_on."},
			},
		},
		{
			Name:  "gitlab",
			Title: "GitLab tracker",
			Fields: []FieldDoc{
				{Key: "type", Type: "string", Required: true, Doc: `Always "gitlab".`},
				{Key: "url", Type: "string", Default: "https://gitlab.com", Doc: "Instance base URL."},
				{Key: "token", Type: "string", Required: true, Secret: true, Doc: "Personal access token with api scope."},
				{Key: "project", Type: "string", Required: true, Doc: "Project path or numeric id."},
				{Key: "verify", Type: "boolean", Default: "true", Doc: "Verify TLS certificates."},
			},
		},
		{
			Name:  "jira",
			Title: "Jira tracker",
			Fields: []FieldDoc{
				{Key: "type", Type: "string", Required: true, Doc: `Always "jira".`},
				{Key: "url", Type: "string", Required: true, Doc: "Instance base URL."},
				{Key: "login", Type: "string", Required: true, Doc: "Account email."},
				{Key: "password", Type: "string", Required: true, Secret: true, Doc: "API token or password."},
				{Key: "project", Type: "string", Required: true, Doc: "Project key."},
				{Key: "issuetype", Type: "string", Default: "Task", Doc: "Issue type for created issues."},
				{Key: "issue_closed_status", Type: "string", Default: "Closed", Doc: "Status name treated as closed when mirroring issue state."},
				{Key: "verify", Type: "boolean", Default: "true", Doc: "Verify TLS certificates."},
			},
		},
		{
			Name:  "servicenow",
			Title: "ServiceNow tracker",
			Fields: []FieldDoc{
				{Key: "type", Type: "string", Required: true, Doc: `Always "servicenow".`},
				{Key: "host", Type: "string", Required: true, Doc: "Instance host, e.g. company.service-now.com."},
				{Key: "login", Type: "string", Required: true, Doc: "Account login."},
				{Key: "password", Type: "string", Required: true, Secret: true, Doc: "Account password."},
				{Key: "verify", Type: "boolean", Default: "true", Doc: "Verify TLS certificates."},
			},
		},
		{
			Name:  "platform",
			Title: "YesWeHack account",
			Fields: []FieldDoc{
				{Key: "api_url", Type: "string", Required: true, Doc: "Platform API base URL."},
				{Key: "apps_headers", Type: "object", Required: true, Doc: "HTTP headers sent on every call; must carry a non-blank X-YesWeHack-Apps value."},
				{Key: "login", Type: "string", Doc: "Account email; required without pat."},
				{Key: "password", Type: "string", Secret: true, Doc: "Account password; required without pat."},
				{Key: "pat", Type: "string", Secret: true, Doc: "Personal access token; replaces login and password."},
				{Key: "oauth_args", Type: "object", Doc: "Extra OAuth parameters forwarded on login."},
				{Key: "verify", Type: "boolean", Default: "true", Doc: "Verify TLS certificates."},
				{Key: "programs", Type: "array", Items: "program", Required: true, Doc: "Programs synchronized through this account."},
			},
		},
		{
			Name:  "program",
			Title: "Program",
			Fields: []FieldDoc{
				{Key: "slug", Type: "string", Required: true, Doc: "Program slug on the platform."},
				{Key: "synchronize_options", Type: "object", Ref: "synchronize_options", Doc: "Log kinds pushed to trackers."},
				{Key: "feedback_options", Type: "object", Ref: "feedback_options", Doc: "Tracker activity mirrored back to the platform."},
				{Key: "bugtrackers_name", Type: "array", Items: "string", Required: true, Doc: "Names of trackers receiving this program's reports."},
			},
		},
		{
			Name:  "synchronize_options",
			Title: "Synchronize options",
			Doc:   "Issue creation is unconditional; these flags only gate log replay.",
			Fields: []FieldDoc{
				{Key: "upload_private_comments", Type: "boolean", Default: "false", Doc: "Push private comments."},
				{Key: "upload_public_comments", Type: "boolean", Default: "false", Doc: "Push public comments."},
				{Key: "upload_details_updates", Type: "boolean", Default: "false", Doc: "Push details and priority changes."},
				{Key: "upload_cvss_updates", Type: "boolean", Default: "false", Doc: "Push CVSS changes."},
				{Key: "upload_rewards", Type: "boolean", Default: "false", Doc: "Push reward events."},
				{Key: "upload_status_updates", Type: "boolean", Default: "false", Doc: "Push workflow status changes."},
			},
		},
		{
			Name:  "feedback_options",
			Title: "Feedback options",
			Fields: []FieldDoc{
				{Key: "download_tracker_comments", Type: "boolean", Default: "false", Doc: "Mirror tracker comments back as platform comments."},
				{Key: "issue_closed_to_report_afv", Type: "boolean", Default: "false", Doc: "Ask for fix verification on the report when the tracker issue is closed."},
			},
		},
	}
}

// SchemaText renders the schema as plain text for terminals.
func SchemaText() string {
	var b strings.Builder
	for i, section := range Schema() {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s (%s)\n", section.Title, section.Name)
		if section.Doc != "" {
			fmt.Fprintf(&b, "  %s\n", section.Doc)
		}
		for _, f := range section.Fields {
			var marks []string
			if f.Required {
				marks = append(marks, "required")
			}
			if f.Secret {
				marks = append(marks, "secret")
			}
			if f.Default != "" {
				marks = append(marks, "default "+f.Default)
			}
			suffix := ""
			if len(marks) > 0 {
				suffix = " [" + strings.Join(marks, ", ") + "]"
			}
			fmt.Fprintf(&b, "  %-28s %-8s%s\n      %s\n", f.Key, f.Type, suffix, f.Doc)
		}
	}
	return b.String()
}

// SchemaMarkdown renders the schema as one markdown table per section.
func SchemaMarkdown() string {
	var b strings.Builder
	for i, section := range Schema() {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n\n", section.Title)
		if section.Doc != "" {
			fmt.Fprintf(&b, "%s\n\n", section.Doc)
		}
		b.WriteString("| Field | Type | Required | Default | Description |\n")
		b.WriteString("| --- | --- | --- | --- | --- |\n")
		for _, f := range section.Fields {
			required := ""
			if f.Required {
				required = "yes"
			}
			doc := f.Doc
			if f.Secret {
				doc = "(secret) " + doc
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				f.Key, f.Type, required, f.Default, doc)
		}
	}
	return b.String()
}

// SchemaJSON renders a JSON-Schema document equivalent to the typed model.
func SchemaJSON() ([]byte, error) {
	definitions := make(map[string]interface{})
	var trackerRefs []interface{}
	for _, section := range Schema() {
		if section.Name == "root" {
			continue
		}
		definitions[section.Name] = sectionSchema(section)
		switch section.Name {
		case TypeGitHub, TypeGitLab, TypeJira, TypeServiceNow:
			trackerRefs = append(trackerRefs, map[string]interface{}{
				"$ref": "#/definitions/" + section.Name,
			})
		}
	}

	doc := map[string]interface{}{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"title":   "ywh2bt configuration",
		"type":    "object",
		"properties": map[string]interface{}{
			"trackers": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": map[string]interface{}{"oneOf": trackerRefs},
			},
			"yeswehack": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": map[string]interface{}{"$ref": "#/definitions/platform"},
			},
		},
		"required":    []string{"trackers", "yeswehack"},
		"definitions": definitions,
	}
	return json.MarshalIndent(doc, "", "  ")
}

func sectionSchema(section SectionDoc) map[string]interface{} {
	properties := make(map[string]interface{}, len(section.Fields))
	var required []string
	for _, f := range section.Fields {
		prop := map[string]interface{}{"description": f.Doc}
		switch {
		case f.Ref != "":
			prop["$ref"] = "#/definitions/" + f.Ref
		case f.Type == "array" && f.Items != "" && f.Items != "string":
			prop["type"] = "array"
			prop["items"] = map[string]interface{}{"$ref": "#/definitions/" + f.Items}
		case f.Type == "array":
			prop["type"] = "array"
			prop["items"] = map[string]interface{}{"type": "string"}
		case f.Type == "object":
			prop["type"] = "object"
			prop["additionalProperties"] = map[string]interface{}{"type": "string"}
		default:
			prop["type"] = f.Type
		}
		if f.Default != "" && f.Ref == "" {
			switch f.Type {
			case "boolean":
				prop["default"] = f.Default == "true"
			default:
				prop["default"] = f.Default
			}
		}
		properties[f.Key] = prop
		if f.Required {
			required = append(required, f.Key)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if section.Doc != "" {
		schema["description"] = section.Doc
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
