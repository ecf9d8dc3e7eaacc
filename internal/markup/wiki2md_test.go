package markup

import (
	"strings"
	"testing"
)

// TestWikiToMarkdown verifies each pass of the wiki to markdown pipeline.
func TestWikiToMarkdown(t *testing.T) {
	tests := []struct {
		name string
		wiki string
		want string
	}{
		{
			name: "header",
			wiki: "h2. Reproduction",
			want: "## Reproduction",
		},
		{
			name: "block quote",
			wiki: "bq. note this",
			want: "> note this",
		},
		{
			name: "bullets with depth",
			wiki: "* first\n** deeper\n* second",
			want: "- first\n  - deeper\n- second",
		},
		{
			name: "numbered list with depth",
			wiki: "# one\n## sub\n# two",
			want: "1. one\n  1. sub\n1. two",
		},
		{
			name: "inline marks",
			wiki: "Some *bold* and _italic_ and {{mono}} and -gone- text.",
			want: "Some **bold** and *italic* and `mono` and ~~gone~~ text.",
		},
		{
			name: "insert and super and sub",
			wiki: "now +added+ and x^2^ and H~2~O",
			want: "now <ins>added</ins> and x<sup>2</sup> and H<sub>2</sub>O",
		},
		{
			name: "image bare",
			wiki: "!https://img.example.com/x.png!",
			want: "![](https://img.example.com/x.png)",
		},
		{
			name: "image with alt",
			wiki: "!desc|https://img.example.com/y.png!",
			want: "![desc](https://img.example.com/y.png)",
		},
		{
			name: "exclamation prose untouched",
			wiki: "wow! that is bad! indeed",
			want: "wow! that is bad! indeed",
		},
		{
			name: "named link",
			wiki: "[Named|https://example.com/p]",
			want: "[Named](https://example.com/p)",
		},
		{
			name: "simple link",
			wiki: "[https://example.com/raw]",
			want: "<https://example.com/raw>",
		},
		{
			name: "colored span",
			wiki: "{color:#ff0000}warning{color}",
			want: `<span style="color:#ff0000">warning</span>`,
		},
		{
			name: "quote panel",
			wiki: "{quote}\nline one\nline two\n{quote}",
			want: "> line one\n> line two",
		},
		{
			name: "table with header",
			wiki: "||h1||h2||\n|a|b|\n|c|d|",
			want: "| h1 | h2 |\n| --- | --- |\n| a | b |\n| c | d |",
		},
		{
			name: "table without header gets empty header",
			wiki: "|x|y|\n|z|w|",
			want: "|  |  |\n| --- | --- |\n| x | y |\n| z | w |",
		},
		{
			name: "markdown table left alone",
			wiki: "| a | b |\n| --- | --- |\n| c | d |",
			want: "| a | b |\n| --- | --- |\n| c | d |",
		},
		{
			name: "stray noformat marker",
			wiki: "{noformat}",
			want: "```",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WikiToMarkdown(tt.wiki)
			if got != tt.want {
				t.Errorf("WikiToMarkdown() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestWikiToMarkdownCodeBlocks verifies code macros become fences and their
// contents are protected from every other pass.
func TestWikiToMarkdownCodeBlocks(t *testing.T) {
	wiki := "before\n{code:python}\nprint(\"*stars*\")\n* not a bullet\nh1. not a header\n{code}\nafter"
	want := "before\n```python\nprint(\"*stars*\")\n* not a bullet\nh1. not a header\n```\nafter"

	got := WikiToMarkdown(wiki)
	if got != want {
		t.Errorf("WikiToMarkdown() = %q, want %q", got, want)
	}
}

// TestWikiToMarkdownCodeLanguageParam verifies {code:language=x} and
// parameterized macros yield the right fence language.
func TestWikiToMarkdownCodeLanguageParam(t *testing.T) {
	got := WikiToMarkdown("{code:language=go}\nx := 1\n{code}")
	if !strings.HasPrefix(got, "```go\n") {
		t.Errorf("WikiToMarkdown() = %q, want fence opener ```go", got)
	}

	got = WikiToMarkdown("{code:java|title=PoC}\nint x;\n{code}")
	if !strings.HasPrefix(got, "```java\n") {
		t.Errorf("WikiToMarkdown() = %q, want fence opener ```java", got)
	}
}

// TestWikiToMarkdownNoformat verifies paired noformat blocks become plain
// fences with protected content.
func TestWikiToMarkdownNoformat(t *testing.T) {
	wiki := "{noformat}\nraw *text* here\n{noformat}"
	want := "```\nraw *text* here\n```"

	got := WikiToMarkdown(wiki)
	if got != want {
		t.Errorf("WikiToMarkdown() = %q, want %q", got, want)
	}
}

// TestWikiToMarkdownStableAfterSecondPass verifies reapplication settles.
func TestWikiToMarkdownStableAfterSecondPass(t *testing.T) {
	inputs := []string{
		"h1. Steps\n* first\n* second\nSome *bold* text.",
		"||h||\n|v|",
		"{code}\nraw\n{code}",
		"[Named|https://example.com/p] and !https://example.com/i.png!",
	}
	for _, in := range inputs {
		first := WikiToMarkdown(in)
		second := WikiToMarkdown(first)
		third := WikiToMarkdown(second)
		if second != third {
			t.Errorf("not stable after second pass for %q:\nsecond = %q\nthird  = %q", in, second, third)
		}
	}
}

// TestWikiToMarkdownFencesSurviveReapplication verifies markdown fences from
// a previous conversion are not converted again.
func TestWikiToMarkdownFencesSurviveReapplication(t *testing.T) {
	md := "```python\nprint(\"*stars*\")\n```"
	if got := WikiToMarkdown(md); got != md {
		t.Errorf("WikiToMarkdown() = %q, want unchanged %q", got, md)
	}
}
