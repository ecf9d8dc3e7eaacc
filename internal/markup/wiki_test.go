package markup

import (
	"strings"
	"testing"
)

// TestToWiki verifies the HTML to wiki mapping element by element.
func TestToWiki(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "heading and paragraph",
			html: "<h3>Impact</h3><p>High</p>",
			want: "h3. Impact\n\nHigh",
		},
		{
			name: "inline marks",
			html: "<p>A <strong>bold</strong> <em>soft</em> <del>gone</del> <ins>new</ins> word.</p>",
			want: "A *bold* _soft_ -gone- +new+ word.",
		},
		{
			name: "superscript and subscript",
			html: "<p>x<sup>2</sup> and H<sub>2</sub>O</p>",
			want: "x^2^ and H~2~O",
		},
		{
			name: "inline code",
			html: "<p>Run <code>ls -la</code> now.</p>",
			want: "Run {{ls -la}} now.",
		},
		{
			name: "image with alt",
			html: `<p><img src="https://example.com/a.png" alt="proof"></p>`,
			want: "!proof|https://example.com/a.png!",
		},
		{
			name: "image without alt",
			html: `<p><img src="https://example.com/a.png"></p>`,
			want: "!https://example.com/a.png!",
		},
		{
			name: "named link",
			html: `<p><a href="https://example.com/doc">doc</a></p>`,
			want: "[doc|https://example.com/doc]",
		},
		{
			name: "bare link",
			html: `<p><a href="https://example.com/x">https://example.com/x</a></p>`,
			want: "[https://example.com/x]",
		},
		{
			name: "nested bullets",
			html: "<ul><li>a<ul><li>b</li></ul></li></ul>",
			want: "* a\n** b",
		},
		{
			name: "numbered list",
			html: "<ol><li>x</li><li>y</li></ol>",
			want: "# x\n# y",
		},
		{
			name: "single line quote",
			html: "<blockquote><p>quoted</p></blockquote>",
			want: "bq. quoted",
		},
		{
			name: "multi line quote",
			html: "<blockquote><p>one</p><p>two</p></blockquote>",
			want: "{quote}\none\n\ntwo\n{quote}",
		},
		{
			name: "table",
			html: "<table><thead><tr><th>Name</th><th>Value</th></tr></thead>" +
				"<tbody><tr><td>a</td><td>1</td></tr></tbody></table>",
			want: "||Name||Value||\n|a|1|",
		},
		{
			name: "horizontal rule",
			html: "<p>a</p><hr><p>b</p>",
			want: "a\n\n----\n\nb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToWiki(tt.html)
			if got != tt.want {
				t.Errorf("ToWiki() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestToWikiCodeLiftOut verifies pre blocks are lifted out before conversion
// and reinserted as code macros with their contents untouched.
func TestToWikiCodeLiftOut(t *testing.T) {
	html := "<p>before</p><pre><code class=\"language-java\">int x = 1 * 2;</code></pre><p>after</p>"
	want := "before\n\n{code:java}\nint x = 1 * 2;\n{code}\n\nafter"

	got := ToWiki(html)
	if got != want {
		t.Errorf("ToWiki() = %q, want %q", got, want)
	}
}

// TestToWikiCodeEntities verifies entities inside lifted code are decoded.
func TestToWikiCodeEntities(t *testing.T) {
	html := "<pre><code>if (a &lt; b &amp;&amp; c) return;</code></pre>"

	got := ToWiki(html)
	if !strings.Contains(got, "if (a < b && c) return;") {
		t.Errorf("ToWiki() = %q, want decoded code content", got)
	}
	if !strings.HasPrefix(got, "{code}") || !strings.HasSuffix(got, "{code}") {
		t.Errorf("ToWiki() = %q, want {code} envelope", got)
	}
}

// TestToWikiCodeWithoutLanguage verifies a plain pre gets a bare code macro.
func TestToWikiCodeWithoutLanguage(t *testing.T) {
	html := "<pre>plain dump</pre>"
	want := "{code}\nplain dump\n{code}"

	got := ToWiki(html)
	if got != want {
		t.Errorf("ToWiki() = %q, want %q", got, want)
	}
}
