package markdown

import (
	"net/url"
	"strings"
)

// DocsRsPath converts a docs.rs or doc.rust-lang.org item URL to the Rust
// path it documents, e.g.
// https://docs.rs/serde/latest/serde/ser/trait.Serialize.html → serde::ser::Serialize.
// Crate info pages and URLs with too few segments are not convertible.
func DocsRsPath(rawURL string) (string, bool) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	path := strings.Trim(u.Path, "/")
	var rest string
	switch u.Host {
	case "docs.rs":
		if strings.HasPrefix(path, "crate/") {
			return "", false
		}
		// crate/version/lib-name/...
		parts := strings.SplitN(path, "/", 3)
		if len(parts) < 3 {
			return "", false
		}
		rest = parts[2]
	case "doc.rust-lang.org":
		// optional channel prefix: /stable/std/..., /nightly/core/...
		for _, ch := range []string{"stable/", "beta/", "nightly/"} {
			path = strings.TrimPrefix(path, ch)
		}
		rest = path
	default:
		return "", false
	}

	segments := strings.Split(rest, "/")
	for len(segments) > 0 && segments[len(segments)-1] == "" {
		segments = segments[:len(segments)-1]
	}
	if len(segments) == 0 {
		return "", false
	}

	last := segments[len(segments)-1]
	if strings.HasSuffix(last, ".html") {
		if last == "index.html" {
			segments = segments[:len(segments)-1]
		} else {
			base := strings.TrimSuffix(last, ".html")
			if dot := strings.Index(base, "."); dot >= 0 {
				segments[len(segments)-1] = base[dot+1:]
			}
		}
	}
	if len(segments) == 0 || segments[0] == "" {
		return "", false
	}
	return strings.Join(segments, "::"), true
}
