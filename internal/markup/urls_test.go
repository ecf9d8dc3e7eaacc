package markup

import (
	"net/url"
	"strings"
	"testing"
)

const testHost = "apps.example.com"

func wrapRedirect(target string, extra string) string {
	enc := url.QueryEscape(url.QueryEscape(target))
	s := "https://" + testHost + "/redirect?url=" + enc + "&expires=1700000000&token=deadbeef"
	if extra != "" {
		s += "&" + extra
	}
	return s
}

// TestUnwrapRedirects verifies the wrapper is removed and the doubly encoded
// target recovered.
func TestUnwrapRedirects(t *testing.T) {
	target := "https://files.example.com/poc.png?sig=abc"
	wrapped := wrapRedirect(target, "")

	got := UnwrapRedirects(wrapped, testHost)
	if got != target {
		t.Errorf("UnwrapRedirects() = %q, want %q", got, target)
	}
}

// TestUnwrapRedirectsKeepsOtherParams verifies expires and token are dropped
// while other wrapper parameters are carried onto the target.
func TestUnwrapRedirectsKeepsOtherParams(t *testing.T) {
	wrapped := wrapRedirect("https://t.example.com/page", "ref=campaign")

	got := UnwrapRedirects(wrapped, testHost)
	if got != "https://t.example.com/page?ref=campaign" {
		t.Errorf("UnwrapRedirects() = %q, want ref preserved without expires/token", got)
	}
}

// TestUnwrapRedirectsNested verifies wrappers pointing at wrappers unwrap to
// the innermost target.
func TestUnwrapRedirectsNested(t *testing.T) {
	innermost := "https://end.example.com/x"
	level1 := wrapRedirect(innermost, "")
	wrapped := wrapRedirect(level1, "")

	got := UnwrapRedirects(wrapped, testHost)
	if got != innermost {
		t.Errorf("UnwrapRedirects() = %q, want %q", got, innermost)
	}
}

// TestUnwrapRedirectsInAttributes verifies replacement inside href/src
// attribute values.
func TestUnwrapRedirectsInAttributes(t *testing.T) {
	target := "https://files.example.com/a.png"
	html := `<a href="` + wrapRedirect(target, "") + `">link</a>`

	got := UnwrapRedirects(html, testHost)
	want := `<a href="` + target + `">link</a>`
	if got != want {
		t.Errorf("UnwrapRedirects() = %q, want %q", got, want)
	}
}

// TestUnwrapRedirectsForeignHost verifies wrappers on another host are left
// untouched.
func TestUnwrapRedirectsForeignHost(t *testing.T) {
	foreign := "https://evil.example.com/redirect?url=" +
		url.QueryEscape(url.QueryEscape("https://end.example.com/x"))

	got := UnwrapRedirects(foreign, testHost)
	if got != foreign {
		t.Errorf("UnwrapRedirects() = %q, want unchanged", got)
	}
}

// TestUnwrapRedirectsIdempotent verifies a second application changes nothing.
func TestUnwrapRedirectsIdempotent(t *testing.T) {
	wrapped := "see " + wrapRedirect("https://files.example.com/poc.png", "") + " here"

	first := UnwrapRedirects(wrapped, testHost)
	second := UnwrapRedirects(first, testHost)
	if first != second {
		t.Errorf("not idempotent: first = %q, second = %q", first, second)
	}
}

// TestScrubAttachmentURLs verifies query garbage after an attachment URL is
// dropped so body references match attachment metadata exactly.
func TestScrubAttachmentURLs(t *testing.T) {
	att := "https://" + testHost + "/attachments/77/f.png"
	blob := `<img src="` + att + `?expires=1&sig=x"> and <a href="` + att + `?token=y">dl</a>`

	got := ScrubAttachmentURLs(blob, []string{att}, testHost)
	want := `<img src="` + att + `"> and <a href="` + att + `">dl</a>`
	if got != want {
		t.Errorf("ScrubAttachmentURLs() = %q, want %q", got, want)
	}
	if strings.Count(got, att) != 2 {
		t.Errorf("got %d references, want 2", strings.Count(got, att))
	}
}

// TestScrubAttachmentURLsForeignHost verifies attachments on a foreign host
// are refused.
func TestScrubAttachmentURLsForeignHost(t *testing.T) {
	att := "https://cdn.example.com/f.png"
	blob := `<img src="` + att + `?sig=x">`

	got := ScrubAttachmentURLs(blob, []string{att}, testHost)
	if got != blob {
		t.Errorf("ScrubAttachmentURLs() = %q, want unchanged for foreign host", got)
	}
}

// TestScrubAttachmentURLsLeavesCleanReferences verifies references without
// garbage stay byte-identical.
func TestScrubAttachmentURLsLeavesCleanReferences(t *testing.T) {
	att := "https://" + testHost + "/attachments/1/a.png"
	blob := `<img src="` + att + `">`

	got := ScrubAttachmentURLs(blob, []string{att}, testHost)
	if got != blob {
		t.Errorf("ScrubAttachmentURLs() = %q, want unchanged", got)
	}
}
