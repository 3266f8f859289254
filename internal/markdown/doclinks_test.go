package markdown

import (
	"testing"
)

func TestExtractLinks(t *testing.T) {
	t.Parallel()
	doc := "See [`Point`] and [make one](Point::new) but not `[Code]`.\n" +
		"Also [a page](https://example.com) and [Vec::new()]."
	links := ExtractLinks(doc)
	if len(links) != 3 {
		t.Fatalf("got %d links, want 3: %+v", len(links), links)
	}
	if links[0].Form != Shortcut || links[0].Target != "`Point`" {
		t.Errorf("links[0] = %+v", links[0])
	}
	if got := doc[links[0].Start:links[0].End]; got != "[`Point`]" {
		t.Errorf("marker text = %q", got)
	}
	if links[1].Form != Inline || links[1].Target != "Point::new" || links[1].Label != "make one" {
		t.Errorf("links[1] = %+v", links[1])
	}
	if got := doc[links[1].DestStart:links[1].DestEnd]; got != "Point::new" {
		t.Errorf("dest text = %q", got)
	}
	if links[2].Target != "Vec::new()" {
		t.Errorf("links[2] = %+v", links[2])
	}
}

func TestExtractLinks_FencedCode(t *testing.T) {
	t.Parallel()
	doc := "[A]\n```rust\nlet x = [B];\n```\n[C]"
	links := ExtractLinks(doc)
	if len(links) != 2 || links[0].Target != "A" || links[1].Target != "C" {
		t.Errorf("got %+v", links)
	}
}

func TestExtractLinks_Definitions(t *testing.T) {
	t.Parallel()
	doc := "See [the point][p] and [Point].\n\n[p]: crate::geom::Point\n[Point]: crate::geom::Point"
	links := ExtractLinks(doc)
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2: %+v", len(links), links)
	}
	for _, l := range links {
		if l.Form != Definition || l.Target != "crate::geom::Point" {
			t.Errorf("got %+v", l)
		}
		if got := doc[l.DestStart:l.DestEnd]; got != "crate::geom::Point" {
			t.Errorf("dest text = %q", got)
		}
	}
}

func TestExtractLinks_ReferenceWithoutDefinition(t *testing.T) {
	t.Parallel()
	links := ExtractLinks("Uses [a point][crate::Point].")
	if len(links) != 1 || links[0].Form != Reference || links[0].Target != "crate::Point" {
		t.Errorf("got %+v", links)
	}
}

func TestExtractLinks_DocsRs(t *testing.T) {
	t.Parallel()
	links := ExtractLinks("[Serialize](https://docs.rs/serde/latest/serde/ser/trait.Serialize.html)")
	if len(links) != 1 {
		t.Fatalf("got %+v", links)
	}
	if links[0].Target != "serde::ser::Serialize" || links[0].URL == "" {
		t.Errorf("got %+v", links[0])
	}
}

func TestExtractLinks_Images(t *testing.T) {
	t.Parallel()
	if links := ExtractLinks("![Logo](logo)"); len(links) != 0 {
		t.Errorf("got %+v", links)
	}
}

func TestParseTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Target
		ok   bool
	}{
		{"Point", Target{Path: "Point"}, true},
		{"`crate::geom::Point`", Target{Path: "crate::geom::Point"}, true},
		{"struct@Point", Target{Path: "Point", Disambig: "struct"}, true},
		{"Point::new()", Target{Path: "Point::new", Disambig: "fn"}, true},
		{"vec!", Target{Path: "vec", Disambig: "macro"}, true},
		{"Vec<T>", Target{Path: "Vec"}, true},
		{"bogus@Point", Target{}, false},
		{"a page", Target{}, false},
		{"https://example.com", Target{}, false},
		{"1", Target{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseTarget(tt.raw)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseTarget(%q) = %+v, %v; want %+v, %v", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestApplyEdits(t *testing.T) {
	t.Parallel()
	src := "see [A] and [B]"
	got := ApplyEdits(src, []Edit{
		{Start: 4, End: 7, Text: "[A](item:1)"},
		{Start: 12, End: 15, Text: "B"},
	})
	if want := "see [A](item:1) and B"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDocsRsPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url  string
		want string
	}{
		{"https://docs.rs/serde/latest/serde/ser/trait.Serialize.html", "serde::ser::Serialize"},
		{"https://docs.rs/tokio/1.0.0/tokio/sync/struct.Mutex.html#method.lock", "tokio::sync::Mutex"},
		{"https://docs.rs/serde/latest/serde/ser/index.html", "serde::ser"},
		{"https://docs.rs/serde/latest/serde/", "serde"},
		{"https://doc.rust-lang.org/std/vec/struct.Vec.html", "std::vec::Vec"},
		{"https://doc.rust-lang.org/stable/core/option/enum.Option.html", "core::option::Option"},
		{"https://docs.rs/crate/serde/latest", ""},
		{"https://docs.rs/serde/latest", ""},
		{"https://example.com/a/b/c", ""},
		{"serde::Serialize", ""},
	}
	for _, tt := range tests {
		got, ok := DocsRsPath(tt.url)
		if got != tt.want || ok != (tt.want != "") {
			t.Errorf("DocsRsPath(%q) = %q, %v; want %q", tt.url, got, ok, tt.want)
		}
	}
}
