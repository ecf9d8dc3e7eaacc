package markup

import (
	"net/url"
	"regexp"
	"strings"
)

const maxRedirectDepth = 8

// UnwrapRedirects replaces platform redirect wrappers
// (https://host/redirect?url=...&expires=...&token=...) with their target
// URLs, in attribute values and bare text alike. The inner URL is
// percent-decoded twice, the signing parameters are dropped, and any other
// wrapper parameters are carried onto the target. Nested wrappers are
// unwrapped up to a fixed depth.
func UnwrapRedirects(s, platformHost string) string {
	if platformHost == "" {
		return s
	}
	pattern := regexp.MustCompile(`https?://` + regexp.QuoteMeta(platformHost) + `/redirect\?[^"'\s<>)\]]*`)
	return pattern.ReplaceAllStringFunc(s, func(m string) string {
		return unwrapRedirect(m, platformHost)
	})
}

func unwrapRedirect(raw, platformHost string) string {
	cur := raw
	for depth := 0; depth < maxRedirectDepth; depth++ {
		u, err := url.Parse(cur)
		if err != nil || u.Host != platformHost || !strings.HasPrefix(u.Path, "/redirect") {
			break
		}
		q, err := url.ParseQuery(u.RawQuery)
		if err != nil {
			break
		}
		inner := q.Get("url")
		if inner == "" {
			break
		}
		// Get already decoded once; the platform encodes twice.
		if dec, derr := url.QueryUnescape(inner); derr == nil {
			inner = dec
		}

		q.Del("url")
		q.Del("expires")
		q.Del("token")
		if len(q) > 0 {
			if iu, perr := url.Parse(inner); perr == nil {
				iq := iu.Query()
				for k, vs := range q {
					for _, v := range vs {
						iq.Add(k, v)
					}
				}
				iu.RawQuery = iq.Encode()
				inner = iu.String()
			}
		}
		cur = inner
	}
	return cur
}

// ScrubAttachmentURLs drops query-string garbage from references whose
// prefix matches one of the attachment URLs, so body references line up
// byte-for-byte with the attachment metadata. Attachment URLs on a host
// other than the platform's are refused.
func ScrubAttachmentURLs(blob string, attachmentURLs []string, platformHost string) string {
	for _, att := range attachmentURLs {
		u, err := url.Parse(att)
		if err != nil || u.Host != platformHost {
			continue
		}
		pattern := regexp.MustCompile(regexp.QuoteMeta(att) + `[?&][^"'\s<>)\]]*`)
		blob = pattern.ReplaceAllString(blob, att)
	}
	return blob
}
