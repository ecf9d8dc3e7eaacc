package markup

import (
	"fmt"
	"regexp"
	"strings"
)

// Pass patterns, applied in the fixed order of WikiToMarkdown.
var (
	mdFencePattern      = regexp.MustCompile("(?s)```.*?```")
	wikiCodePattern     = regexp.MustCompile(`(?s)\{code(?::([^}|]+)[^}]*)?\}(.*?)\{code\}`)
	wikiNoformatPattern = regexp.MustCompile(`(?s)\{noformat\}(.*?)\{noformat\}`)
	wikiQuotePrefix     = regexp.MustCompile(`(?m)^bq\.\s+`)
	wikiBulletPattern   = regexp.MustCompile(`(?m)^(\*+)\s+`)
	wikiNumberPattern   = regexp.MustCompile(`(?m)^(#+)\s+`)
	wikiHeaderPattern   = regexp.MustCompile(`(?m)^h([1-6])\.\s+(.*)$`)
	wikiBoldPattern     = regexp.MustCompile(`\*{1,2}([^*\n]+)\*{1,2}`)
	wikiItalicPattern   = regexp.MustCompile(`(?m)(^|[\s(])_([^_\n]+)_($|[\s).,:;!?])`)
	wikiMonoPattern     = regexp.MustCompile(`\{\{([^{}\n]+)\}\}`)
	wikiStrikePattern   = regexp.MustCompile(`(?m)(^|[\s(])-([^\s-][^-\n]*?)-($|[\s).,:;!?])`)
	wikiInsertPattern   = regexp.MustCompile(`(?m)(^|[\s(])\+([^\s+][^+\n]*?)\+($|[\s).,:;!?])`)
	wikiSuperPattern    = regexp.MustCompile(`\^([^^\n]+)\^`)
	wikiSubPattern      = regexp.MustCompile(`~{1,2}([^~\n]+)~{1,2}`)
	wikiImagePattern    = regexp.MustCompile(`!([^!\n]+)!`)
	wikiNamedLink       = regexp.MustCompile(`\[([^\]|\n]+)\|([^\]\n]+)\]`)
	wikiSimpleLink      = regexp.MustCompile(`\[(https?://[^\]\s]+)\]`)
	wikiColorPattern    = regexp.MustCompile(`(?s)\{color:([^}]+)\}(.*?)\{color\}`)
	wikiPanelPattern    = regexp.MustCompile(`(?s)\{(?:quote|panel(?::[^}]*)?)\}(.*?)\{(?:quote|panel)\}`)
)

// WikiToMarkdown converts tracker wiki markup to markdown. Code content is
// placeholdered before any rewriting so the emphasis and list passes cannot
// touch it; existing markdown fences are protected the same way, which is
// what makes reapplication safe.
func WikiToMarkdown(src string) string {
	var blocks []string
	stash := func(fence string) string {
		blocks = append(blocks, fence)
		return placeholder(len(blocks) - 1)
	}

	out := mdFencePattern.ReplaceAllStringFunc(src, stash)
	out = wikiCodePattern.ReplaceAllStringFunc(out, func(m string) string {
		sm := wikiCodePattern.FindStringSubmatch(m)
		lang := strings.TrimPrefix(strings.TrimSpace(sm[1]), "language=")
		content := strings.Trim(sm[2], "\n")
		return stash("```" + lang + "\n" + content + "\n```")
	})
	out = wikiNoformatPattern.ReplaceAllStringFunc(out, func(m string) string {
		sm := wikiNoformatPattern.FindStringSubmatch(m)
		return stash("```\n" + strings.Trim(sm[1], "\n") + "\n```")
	})

	out = wikiQuotePrefix.ReplaceAllString(out, "> ")

	out = wikiBulletPattern.ReplaceAllStringFunc(out, func(m string) string {
		return strings.Repeat("  ", strings.Count(m, "*")-1) + "- "
	})
	out = wikiNumberPattern.ReplaceAllStringFunc(out, func(m string) string {
		return strings.Repeat("  ", strings.Count(m, "#")-1) + "1. "
	})

	out = wikiHeaderPattern.ReplaceAllStringFunc(out, func(m string) string {
		sm := wikiHeaderPattern.FindStringSubmatch(m)
		return strings.Repeat("#", int(sm[1][0]-'0')) + " " + sm[2]
	})

	out = wikiBoldPattern.ReplaceAllStringFunc(out, func(m string) string {
		inner := strings.Trim(m, "*")
		if inner == "" || strings.TrimSpace(inner) != inner {
			return m
		}
		return "**" + inner + "**"
	})
	out = wikiItalicPattern.ReplaceAllString(out, "$1*$2*$3")
	out = wikiMonoPattern.ReplaceAllString(out, "`$1`")
	out = wikiStrikePattern.ReplaceAllString(out, "$1~~$2~~$3")
	out = wikiInsertPattern.ReplaceAllString(out, "$1<ins>$2</ins>$3")
	out = wikiSuperPattern.ReplaceAllString(out, "<sup>$1</sup>")
	out = wikiSubPattern.ReplaceAllStringFunc(out, func(m string) string {
		if strings.HasPrefix(m, "~~") {
			return m // strikethrough, not subscript
		}
		return "<sub>" + strings.Trim(m, "~") + "</sub>"
	})

	out = wikiImagePattern.ReplaceAllStringFunc(out, func(m string) string {
		inner := strings.Trim(m, "!")
		alt, src := "", inner
		if i := strings.Index(inner, "|"); i >= 0 {
			alt, src = inner[:i], inner[i+1:]
		}
		if src == "" || strings.ContainsAny(src, " \t[]()") {
			return m // exclamation prose, not an image reference
		}
		return fmt.Sprintf("![%s](%s)", alt, src)
	})

	out = wikiNamedLink.ReplaceAllString(out, "[$1]($2)")
	out = wikiSimpleLink.ReplaceAllString(out, "<$1>")

	out = wikiColorPattern.ReplaceAllString(out, `<span style="color:$1">$2</span>`)

	out = wikiPanelPattern.ReplaceAllStringFunc(out, func(m string) string {
		sm := wikiPanelPattern.FindStringSubmatch(m)
		lines := strings.Split(strings.Trim(sm[1], "\n"), "\n")
		for i, l := range lines {
			if l == "" {
				lines[i] = ">"
			} else {
				lines[i] = "> " + l
			}
		}
		return strings.Join(lines, "\n")
	})

	out = convertWikiTables(out)

	out = strings.ReplaceAll(out, "{noformat}", "```")

	return restorePlaceholders(out, blocks)
}

// convertWikiTables rewrites runs of pipe rows as markdown tables. A run
// whose second line is already a markdown separator row is left alone. A run
// without a double-pipe header row gets an injected empty header so the
// separator row stays valid.
func convertWikiTables(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for i := 0; i < len(lines); {
		if !isTableRowLine(lines[i]) {
			out = append(out, lines[i])
			i++
			continue
		}
		j := i
		for j < len(lines) && isTableRowLine(lines[j]) {
			j++
		}
		out = append(out, convertTableBlock(lines[i:j])...)
		i = j
	}
	return strings.Join(out, "\n")
}

func isTableRowLine(l string) bool {
	t := strings.TrimSpace(l)
	return len(t) >= 2 && strings.HasPrefix(t, "|") && strings.HasSuffix(t, "|")
}

func isMDSeparatorRow(l string) bool {
	t := strings.TrimSpace(l)
	if !strings.HasPrefix(t, "|") || !strings.Contains(t, "-") {
		return false
	}
	for _, r := range t {
		if !strings.ContainsRune("|-: \t", r) {
			return false
		}
	}
	return true
}

func convertTableBlock(block []string) []string {
	if len(block) >= 2 && isMDSeparatorRow(block[1]) {
		return block
	}

	var out []string
	first := strings.TrimSpace(block[0])
	var width int
	if strings.HasPrefix(first, "||") {
		header := splitTableRow(first, "||")
		width = len(header)
		out = append(out, mdTableRow(header, width), mdSeparatorRow(width))
		block = block[1:]
	} else {
		width = len(splitTableRow(first, "|"))
		out = append(out, mdTableRow(make([]string, width), width), mdSeparatorRow(width))
	}
	for _, l := range block {
		t := strings.TrimSpace(l)
		sep := "|"
		if strings.HasPrefix(t, "||") {
			sep = "||"
		}
		out = append(out, mdTableRow(splitTableRow(t, sep), width))
	}
	return out
}

func splitTableRow(l, sep string) []string {
	t := strings.TrimPrefix(strings.TrimSpace(l), sep)
	t = strings.TrimSuffix(t, sep)
	parts := strings.Split(t, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func mdTableRow(cells []string, width int) string {
	var b strings.Builder
	b.WriteString("|")
	for i := 0; i < width; i++ {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		b.WriteString(" " + cell + " |")
	}
	return b.String()
}

func mdSeparatorRow(width int) string {
	cells := make([]string, width)
	for i := range cells {
		cells[i] = "---"
	}
	return mdTableRow(cells, width)
}
