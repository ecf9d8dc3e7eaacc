package markup

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	preBlockPattern  = regexp.MustCompile(`(?s)<pre[^>]*>.*?</pre>`)
	codeOpenPattern  = regexp.MustCompile(`<code[^>]*>`)
	codeClassPattern = regexp.MustCompile(`class="[^"]*language-([^"\s]+)[^"]*"`)
	tagPattern       = regexp.MustCompile(`(?s)<[^>]+>`)
)

// ToWiki renders platform HTML in the wiki dialect. Code blocks are lifted
// out before the tree walk and reinserted verbatim afterwards, so emphasis
// and list rewriting cannot touch their contents.
func ToWiki(src string) string {
	lifted, blocks := liftPreBlocks(src)
	body := parseBody(lifted)
	if body == nil {
		return strings.TrimSpace(src)
	}
	out := tidyBlocks(wikiBlocks(body))
	return restorePlaceholders(out, blocks)
}

// liftPreBlocks replaces every pre block with an inert placeholder and
// returns the wiki code macro each placeholder stands for.
func liftPreBlocks(src string) (string, []string) {
	var blocks []string
	lifted := preBlockPattern.ReplaceAllStringFunc(src, func(m string) string {
		lang := ""
		if cm := codeClassPattern.FindStringSubmatch(m); cm != nil {
			lang = cm[1]
		}
		content := tagPattern.ReplaceAllString(m, "")
		content = html.UnescapeString(content)
		content = strings.Trim(content, "\n")

		open := "{code}"
		if lang != "" {
			open = "{code:" + lang + "}"
		}
		blocks = append(blocks, open+"\n"+content+"\n{code}")
		return "<p>" + placeholder(len(blocks)-1) + "</p>"
	})
	return lifted, blocks
}

func placeholder(i int) string {
	return fmt.Sprintf("ywh2btliftedblock%dywh2btliftedblock", i)
}

func restorePlaceholders(s string, blocks []string) string {
	for i, b := range blocks {
		s = strings.Replace(s, placeholder(i), b, 1)
	}
	return s
}

var wikiBlockTags = mdBlockTags

func wikiBlocks(n *html.Node) string {
	var blocks []string
	var inline strings.Builder
	flush := func() {
		if s := strings.TrimSpace(inline.String()); s != "" {
			blocks = append(blocks, s)
		}
		inline.Reset()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && wikiBlockTags[c.Data] {
			flush()
			if b := wikiBlock(c); b != "" {
				blocks = append(blocks, b)
			}
			continue
		}
		inline.WriteString(wikiInline(c))
	}
	flush()
	return strings.Join(blocks, "\n\n")
}

func wikiBlock(n *html.Node) string {
	switch n.Data {
	case "p":
		return strings.TrimSpace(wikiInlineChildren(n))
	case "div", "section", "article":
		return wikiBlocks(n)
	case "h1", "h2", "h3", "h4", "h5", "h6":
		text := strings.TrimSpace(wikiInlineChildren(n))
		return fmt.Sprintf("h%d. %s", headingLevels[n.Data], text)
	case "pre":
		// Unreachable after lifting, kept for direct callers.
		return "{code}\n" + strings.Trim(innerText(n), "\n") + "\n{code}"
	case "blockquote":
		return wikiQuote(n)
	case "ul":
		return wikiList(n, 1, false)
	case "ol":
		return wikiList(n, 1, true)
	case "table":
		return wikiTable(n)
	case "hr":
		return "----"
	}
	return ""
}

func wikiInlineChildren(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(wikiInline(c))
	}
	return b.String()
}

func wikiInline(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		return foldSpace(n.Data)
	case html.ElementNode:
		switch n.Data {
		case "br":
			return "\n"
		case "strong", "b":
			return wrapNonEmpty(wikiInlineChildren(n), "*")
		case "em", "i":
			return wrapNonEmpty(wikiInlineChildren(n), "_")
		case "del", "s", "strike":
			return wrapNonEmpty(wikiInlineChildren(n), "-")
		case "ins", "u":
			return wrapNonEmpty(wikiInlineChildren(n), "+")
		case "sup":
			return wrapNonEmpty(wikiInlineChildren(n), "^")
		case "sub":
			return wrapNonEmpty(wikiInlineChildren(n), "~")
		case "code":
			return "{{" + innerText(n) + "}}"
		case "a":
			href := attrVal(n, "href")
			text := strings.TrimSpace(wikiInlineChildren(n))
			if href == "" {
				return text
			}
			if text == "" || text == href {
				return "[" + href + "]"
			}
			return "[" + text + "|" + href + "]"
		case "img":
			alt := attrVal(n, "alt")
			src := attrVal(n, "src")
			if alt == "" {
				return "!" + src + "!"
			}
			return "!" + alt + "|" + src + "!"
		}
	}
	return wikiInlineChildren(n)
}

func wikiQuote(n *html.Node) string {
	inner := tidyBlocks(wikiBlocks(n))
	if !strings.Contains(inner, "\n") {
		return "bq. " + inner
	}
	return "{quote}\n" + inner + "\n{quote}"
}

// wikiList renders bullets one marker character deeper per nesting level.
func wikiList(n *html.Node, depth int, ordered bool) string {
	marker := strings.Repeat("*", depth)
	if ordered {
		marker = strings.Repeat("#", depth)
	}
	var lines []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != "li" {
			continue
		}
		var text strings.Builder
		var nested []string
		for g := c.FirstChild; g != nil; g = g.NextSibling {
			if g.Type == html.ElementNode && (g.Data == "ul" || g.Data == "ol") {
				nested = append(nested, wikiList(g, depth+1, g.Data == "ol"))
				continue
			}
			if g.Type == html.ElementNode && g.Data == "p" {
				text.WriteString(wikiInlineChildren(g))
				continue
			}
			text.WriteString(wikiInline(g))
		}
		lines = append(lines, marker+" "+strings.TrimSpace(text.String()))
		lines = append(lines, nested...)
	}
	return strings.Join(lines, "\n")
}

// wikiTable renders header rows with double pipes and data rows with single
// pipes.
func wikiTable(n *html.Node) string {
	var lines []string
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
						cells = append(cells, strings.TrimSpace(wikiInlineChildren(td)))
					}
				}
				if len(cells) == 0 {
					continue
				}
				sep := "|"
				if isHeader {
					sep = "||"
				}
				lines = append(lines, sep+strings.Join(cells, sep)+sep)
			}
		}
	}
	walkRows(n)
	return strings.Join(lines, "\n")
}
