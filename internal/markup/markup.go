// Package markup converts report and comment bodies between the dialects
// spoken by the platform and the trackers.
//
// The platform emits HTML. Markdown trackers take the ToMarkdown rendition,
// wiki trackers take ToWiki, and tracker comments mirrored back to the
// platform go through WikiToMarkdown. Each converter is a no-op on its own
// output from the second application onwards, so re-converting already
// converted text cannot compound damage.
package markup

import (
	"strings"

	"golang.org/x/net/html"
)

// parseBody parses an HTML fragment and returns its body element. html.Parse
// is lenient and wraps fragments in a full document, so body always exists.
func parseBody(src string) *html.Node {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil
	}
	return findElement(doc, "body")
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func innerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// codeLanguage extracts the language hint from a language-* class on the
// node or a nested code element.
func codeLanguage(n *html.Node) string {
	if lang := classLanguage(n); lang != "" {
		return lang
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "code" {
			if lang := classLanguage(c); lang != "" {
				return lang
			}
		}
	}
	return ""
}

func classLanguage(n *html.Node) string {
	for _, cls := range strings.Fields(attrVal(n, "class")) {
		if strings.HasPrefix(cls, "language-") {
			return strings.TrimPrefix(cls, "language-")
		}
	}
	return ""
}

// collapseSpace folds HTML-insignificant whitespace runs into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// tidyBlocks trims the rendition and folds runs of blank lines down to one
// blank line between blocks.
func tidyBlocks(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := 0
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			blank++
			if blank > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blank = 0
		out = append(out, strings.TrimRight(l, " \t"))
	}
	return strings.Trim(strings.Join(out, "\n"), "\n")
}
