package markup

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

var mdBlockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "pre": true, "blockquote": true,
	"table": true, "hr": true,
}

var headingLevels = map[string]int{
	"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6,
}

// ToMarkdown renders platform HTML as GitHub-flavored markdown. Line
// structure follows the source block elements; no wrapping is applied.
func ToMarkdown(src string) string {
	body := parseBody(src)
	if body == nil {
		return strings.TrimSpace(src)
	}
	return tidyBlocks(mdBlocks(body))
}

// mdBlocks renders the children of n as blocks separated by blank lines.
// Consecutive inline content between block elements forms one block.
func mdBlocks(n *html.Node) string {
	var blocks []string
	var inline strings.Builder
	flush := func() {
		if s := strings.TrimSpace(inline.String()); s != "" {
			blocks = append(blocks, s)
		}
		inline.Reset()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && mdBlockTags[c.Data] {
			flush()
			if b := mdBlock(c); b != "" {
				blocks = append(blocks, b)
			}
			continue
		}
		inline.WriteString(mdInline(c))
	}
	flush()
	return strings.Join(blocks, "\n\n")
}

func mdBlock(n *html.Node) string {
	switch n.Data {
	case "p":
		return strings.TrimSpace(mdInlineChildren(n))
	case "div", "section", "article":
		return mdBlocks(n)
	case "h1", "h2", "h3", "h4", "h5", "h6":
		text := strings.TrimSpace(mdInlineChildren(n))
		return strings.Repeat("#", headingLevels[n.Data]) + " " + text
	case "pre":
		return mdFence(n)
	case "blockquote":
		return mdQuote(n)
	case "ul":
		return mdList(n, 0, false)
	case "ol":
		return mdList(n, 0, true)
	case "table":
		return mdTable(n)
	case "hr":
		return "---"
	}
	return ""
}

func mdInlineChildren(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(mdInline(c))
	}
	return b.String()
}

func mdInline(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		return foldSpace(n.Data)
	case html.ElementNode:
		switch n.Data {
		case "br":
			return "\n"
		case "strong", "b":
			return wrapNonEmpty(mdInlineChildren(n), "**")
		case "em", "i":
			return wrapNonEmpty(mdInlineChildren(n), "*")
		case "del", "s", "strike":
			return wrapNonEmpty(mdInlineChildren(n), "~~")
		case "code":
			return "`" + innerText(n) + "`"
		case "a":
			href := attrVal(n, "href")
			text := strings.TrimSpace(mdInlineChildren(n))
			if href == "" {
				return text
			}
			if text == "" || text == href {
				return "<" + href + ">"
			}
			return "[" + text + "](" + href + ")"
		case "img":
			return fmt.Sprintf("![%s](%s)", attrVal(n, "alt"), attrVal(n, "src"))
		}
	}
	return mdInlineChildren(n)
}

// mdFence renders a pre block as a fenced code block with the language hint
// right after the opening fence. Code content is taken verbatim.
func mdFence(n *html.Node) string {
	lang := codeLanguage(n)
	content := strings.Trim(innerText(n), "\n")
	return "```" + lang + "\n" + content + "\n```"
}

func mdQuote(n *html.Node) string {
	inner := tidyBlocks(mdBlocks(n))
	lines := strings.Split(inner, "\n")
	for i, l := range lines {
		if l == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + l
		}
	}
	return strings.Join(lines, "\n")
}

// mdList renders a list two spaces deeper per nesting level. Ordered items
// are numbered by position.
func mdList(n *html.Node, depth int, ordered bool) string {
	var lines []string
	idx := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != "li" {
			continue
		}
		idx++
		marker := "- "
		if ordered {
			marker = fmt.Sprintf("%d. ", idx)
		}
		var text strings.Builder
		var nested []string
		for g := c.FirstChild; g != nil; g = g.NextSibling {
			if g.Type == html.ElementNode && (g.Data == "ul" || g.Data == "ol") {
				nested = append(nested, mdList(g, depth+1, g.Data == "ol"))
				continue
			}
			if g.Type == html.ElementNode && g.Data == "p" {
				text.WriteString(mdInlineChildren(g))
				continue
			}
			text.WriteString(mdInline(g))
		}
		lines = append(lines, strings.Repeat("  ", depth)+marker+strings.TrimSpace(text.String()))
		lines = append(lines, nested...)
	}
	return strings.Join(lines, "\n")
}

// mdTable renders a GFM table. A table without a th row gets an empty
// injected header so the separator row stays valid.
func mdTable(n *html.Node) string {
	var header []string
	var rows [][]string
	var walkRows func(*html.Node)
	walkRows = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "thead", "tbody", "tfoot":
				walkRows(c)
			case "tr":
				var cells []string
				isHeader := false
				for td := c.FirstChild; td != nil; td = td.NextSibling {
					if td.Type != html.ElementNode {
						continue
					}
					if td.Data == "th" {
						isHeader = true
					}
					if td.Data == "th" || td.Data == "td" {
						cell := strings.TrimSpace(mdInlineChildren(td))
						cells = append(cells, strings.ReplaceAll(cell, "|", "\\|"))
					}
				}
				if isHeader && header == nil {
					header = cells
				} else if len(cells) > 0 {
					rows = append(rows, cells)
				}
			}
		}
	}
	walkRows(n)

	width := len(header)
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	if width == 0 {
		return ""
	}
	if header == nil {
		header = make([]string, width)
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}
	writeRow(header)
	sep := make([]string, width)
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(sep)
	for _, r := range rows {
		writeRow(r)
	}
	return strings.TrimRight(b.String(), "\n")
}

// foldSpace folds whitespace runs to single spaces while keeping edge
// spaces, so inline boundaries survive HTML source formatting.
func foldSpace(s string) string {
	if s == "" {
		return s
	}
	mid := collapseSpace(s)
	if mid == "" {
		return " "
	}
	runes := []rune(s)
	if unicode.IsSpace(runes[0]) {
		mid = " " + mid
	}
	if unicode.IsSpace(runes[len(runes)-1]) {
		mid += " "
	}
	return mid
}

func wrapNonEmpty(s, mark string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return mark + s + mark
}
