package format

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/yeswehack/ywh2bugtracker/internal/ywh"
)

type logData struct {
	Author    string
	Body      string
	OldCVSS   string
	NewCVSS   string
	Changes   []fieldChange
	Priority  string
	Reward    int
	OldStatus string
	NewStatus string
}

type fieldChange struct {
	Field string
	Old   string
	New   string
}

// Log comment templates keyed by log type; the empty key is the default arm
// used for kinds without dedicated formatting.
var markdownLogTpls = map[string]*template.Template{
	ywh.LogTypeComment: mustTpl("comment.md",
		"**Comment from {{.Author}}**\n\n{{.Body}}"),
	ywh.LogTypeCVSSUpdate: mustTpl("cvss.md",
		"**CVSS update from {{.Author}}**\n\nSeverity changed from {{.OldCVSS}} to {{.NewCVSS}}."),
	ywh.LogTypeDetailsUpdate: mustTpl("details.md",
		"**Details update from {{.Author}}**\n\n| Field | Old | New |\n| --- | --- | --- |\n{{range .Changes}}| {{.Field}} | {{.Old}} | {{.New}} |\n{{end}}"),
	ywh.LogTypePriorityUpdate: mustTpl("priority.md",
		"**Priority update from {{.Author}}**\n\nPriority is now {{.Priority}}."),
	ywh.LogTypeReward: mustTpl("reward.md",
		"**Reward from {{.Author}}**\n\n{{if .Reward}}A reward of {{.Reward}} was granted to the hunter.{{else}}A reward was granted to the hunter.{{end}}"),
	ywh.LogTypeStatusUpdate: mustTpl("status.md",
		"**Status update from {{.Author}}**\n\nStatus changed from {{.OldStatus}} to {{.NewStatus}}.{{if .Body}}\n\n{{.Body}}{{end}}"),
	"": mustTpl("default.md", "{{.Body}}"),
}

var wikiLogTpls = map[string]*template.Template{
	ywh.LogTypeComment: mustTpl("comment.wiki",
		"*Comment from {{.Author}}*\n\n{{.Body}}"),
	ywh.LogTypeCVSSUpdate: mustTpl("cvss.wiki",
		"*CVSS update from {{.Author}}*\n\nSeverity changed from {{.OldCVSS}} to {{.NewCVSS}}."),
	ywh.LogTypeDetailsUpdate: mustTpl("details.wiki",
		"*Details update from {{.Author}}*\n\n||Field||Old||New||\n{{range .Changes}}|{{.Field}}|{{.Old}}|{{.New}}|\n{{end}}"),
	ywh.LogTypePriorityUpdate: mustTpl("priority.wiki",
		"*Priority update from {{.Author}}*\n\nPriority is now {{.Priority}}."),
	ywh.LogTypeReward: mustTpl("reward.wiki",
		"*Reward from {{.Author}}*\n\n{{if .Reward}}A reward of {{.Reward}} was granted to the hunter.{{else}}A reward was granted to the hunter.{{end}}"),
	ywh.LogTypeStatusUpdate: mustTpl("status.wiki",
		"*Status update from {{.Author}}*\n\nStatus changed from {{.OldStatus}} to {{.NewStatus}}.{{if .Body}}\n\n{{.Body}}{{end}}"),
	"": mustTpl("default.wiki", "{{.Body}}"),
}

func mustTpl(name, text string) *template.Template {
	return template.Must(template.New(name).Parse(text))
}

// LogComment renders one report log as a tracker comment body.
func (f *Formatter) LogComment(l *ywh.Log) (string, error) {
	data := logData{
		Author: l.Author.Username,
		Body:   f.Transform(l.MessageHTML),
		Reward: l.RewardAmount,
	}
	if l.OldCVSS != nil {
		data.OldCVSS = cvssLabel(*l.OldCVSS)
	}
	if l.NewCVSS != nil {
		data.NewCVSS = cvssLabel(*l.NewCVSS)
	}
	if l.NewPriority != nil {
		data.Priority = l.NewPriority.Name
	}
	if l.OldStatus != nil {
		data.OldStatus = StatusLabel(l.OldStatus.Workflow)
	}
	if l.NewStatus != nil {
		data.NewStatus = StatusLabel(l.NewStatus.Workflow)
	}
	data.Changes = detailChanges(l.OldDetails, l.NewDetails)

	tpls := markdownLogTpls
	if f.dialect == DialectWiki {
		tpls = wikiLogTpls
	}
	tpl, ok := tpls[l.Type]
	if !ok {
		tpl = tpls[""]
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func cvssLabel(c ywh.CVSS) string {
	return fmt.Sprintf("%s (%s)", c.Criticity, formatScore(c.Score))
}

// detailChanges lists the fields whose value changed, sorted by field name
// so rendered tables are deterministic.
func detailChanges(old, new map[string]string) []fieldChange {
	keys := make(map[string]bool, len(old)+len(new))
	for k := range old {
		keys[k] = true
	}
	for k := range new {
		keys[k] = true
	}
	fields := make([]string, 0, len(keys))
	for k := range keys {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	var changes []fieldChange
	for _, k := range fields {
		if old[k] == new[k] {
			continue
		}
		changes = append(changes, fieldChange{Field: k, Old: old[k], New: new[k]})
	}
	return changes
}
