// Package format renders report descriptions, log comments, and feedback
// messages. One template set exists per tracker dialect; platform-bound
// feedback is always HTML.
package format

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/yeswehack/ywh2bugtracker/internal/markup"
	"github.com/yeswehack/ywh2bugtracker/internal/ywh"
)

// Dialect selects the markup language of a tracker.
type Dialect string

const (
	DialectMarkdown Dialect = "markdown"
	DialectWiki     Dialect = "wiki"
)

// Formatter renders platform content in one tracker dialect.
type Formatter struct {
	dialect Dialect
}

func New(dialect Dialect) *Formatter {
	return &Formatter{dialect: dialect}
}

func (f *Formatter) Dialect() Dialect { return f.dialect }

// IssueTitle builds the tracker issue title from the report identity.
func (f *Formatter) IssueTitle(r *ywh.Report) string {
	return fmt.Sprintf("#%s : %s", r.LocalID, r.Title)
}

// Transform converts platform HTML into this formatter's dialect.
func (f *Formatter) Transform(html string) string {
	if f.dialect == DialectWiki {
		return markup.ToWiki(html)
	}
	return markup.ToMarkdown(html)
}

type descriptionData struct {
	LocalID              string
	Title                string
	PriorityName         string
	BugTypeName          string
	BugTypeLink          string
	BugTypeRemediation   string
	Scope                string
	CVSSCriticity        string
	CVSSScore            string
	CVSSVector           string
	EndPoint             string
	VulnerablePart       string
	PartName             string
	PayloadSample        string
	TechnicalEnvironment string
	Description          string
}

var markdownDescriptionTpl = template.Must(template.New("description.md").Parse(
	`| Property | Value |
|----------|-------|
| Title | {{.LocalID}} : {{.Title}} |
| Priority | {{.PriorityName}} |
| Bug type | [{{.BugTypeName}}]({{.BugTypeLink}}) |
| Remediation | {{.BugTypeRemediation}} |
| Scope | {{.Scope}} |
| Severity | {{.CVSSCriticity}} ({{.CVSSScore}}) |
| CVSS vector | {{.CVSSVector}} |
| End point | {{.EndPoint}} |
| Vulnerable part | {{.VulnerablePart}} |
| Part name | {{.PartName}} |
| Payload sample | {{.PayloadSample}} |
| Environment | {{.TechnicalEnvironment}} |

## Description

{{.Description}}
`))

var wikiDescriptionTpl = template.Must(template.New("description.wiki").Parse(
	`||Property||Value||
|Title|{{.LocalID}} : {{.Title}}|
|Priority|{{.PriorityName}}|
|Bug type|[{{.BugTypeName}}|{{.BugTypeLink}}]|
|Remediation|{{.BugTypeRemediation}}|
|Scope|{{.Scope}}|
|Severity|{{.CVSSCriticity}} ({{.CVSSScore}})|
|CVSS vector|{{.CVSSVector}}|
|End point|{{.EndPoint}}|
|Vulnerable part|{{.VulnerablePart}}|
|Part name|{{.PartName}}|
|Payload sample|{{.PayloadSample}}|
|Environment|{{.TechnicalEnvironment}}|

h2. Description

{{.Description}}
`))

// IssueDescription renders the full tracker issue body for a report. The
// description HTML goes through the content transformer; everything else is
// copied from the report snapshot.
func (f *Formatter) IssueDescription(r *ywh.Report) (string, error) {
	data := descriptionData{
		LocalID:              r.LocalID,
		Title:                r.Title,
		PriorityName:         priorityName(r.Priority),
		BugTypeName:          r.BugType.Name,
		BugTypeLink:          r.BugType.Link,
		BugTypeRemediation:   r.BugType.RemediationLink,
		Scope:                r.Scope,
		CVSSCriticity:        r.CVSS.Criticity,
		CVSSScore:            formatScore(r.CVSS.Score),
		CVSSVector:           r.CVSS.Vector,
		EndPoint:             r.EndPoint,
		VulnerablePart:       r.VulnerableParts,
		PartName:             r.PartName,
		PayloadSample:        r.PayloadSample,
		TechnicalEnvironment: r.TechnicalEnv,
		Description:          f.Transform(r.DescriptionHTML),
	}

	tpl := markdownDescriptionTpl
	if f.dialect == DialectWiki {
		tpl = wikiDescriptionTpl
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func priorityName(p *ywh.Priority) string {
	if p == nil {
		return ""
	}
	return p.Name
}

func formatScore(score float64) string {
	return strings.TrimSuffix(fmt.Sprintf("%.1f", score), ".0")
}

// statusLabels translates workflow states to human strings. Unknown states
// pass through unchanged.
var statusLabels = map[string]string{
	"new":          "New",
	"under_review": "Under review",
	"accepted":     "Accepted",
	"ask_verif":    "Ask for fix verification",
	"resolved":     "Resolved",
	"wont_fix":     "Won't fix",
	"duplicate":    "Duplicate",
	"informative":  "Informative",
	"invalid":      "Invalid",
	"out_of_scope": "Out of scope",
	"spam":         "Spam",
	"auto_close":   "Auto closed",
}

func StatusLabel(state string) string {
	if label, ok := statusLabels[state]; ok {
		return label
	}
	return state
}
