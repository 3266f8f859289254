package emit

import (
	"strings"
	"testing"

	"github.com/jcdickinson/cratedoc/internal/walker"
)

func TestPage_Struct(t *testing.T) {
	t.Parallel()
	ix, res := build(t, geomCrate, walker.Root{Name: "x", Path: "/x/lib.rs"})
	out := Emit(ix, res)

	page, err := out.Page("rsdoc://x/latest/x::Point")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"---\nuri: rsdoc://x/latest/x::Point\nkind: struct\ncrate: x\n",
		"# struct x::Point",
		"```rust\nstruct Point",
		"A point.",
		"# Fields\n\n- **x**: Horizontal.",
		"# Implementations",
		"- `fn new() -> Self`: Makes a point.",
	} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q:\n%s", want, page)
		}
	}
	if strings.Contains(page, "item:") {
		t.Errorf("page kept item links:\n%s", page)
	}
}

func TestPage_LinksBecomeURIs(t *testing.T) {
	t.Parallel()
	ix, res := build(t, geomCrate, walker.Root{Name: "x", Path: "/x/lib.rs"})
	out := Emit(ix, res)

	page, err := out.Page("rsdoc://x/latest/x::build")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(page, "## Types Used\n\n- [x::Point](rsdoc://x/latest/x::Point)") {
		t.Errorf("types used missing:\n%s", page)
	}
	if !strings.Contains(page, "## Warnings") || !strings.Contains(page, "`Missing`") {
		t.Errorf("warnings missing:\n%s", page)
	}

	root, err := out.Page("rsdoc://x/latest/x")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# crate x", "[Point](rsdoc://x/latest/x::Point)", "- function [build](rsdoc://x/latest/x::build)"} {
		if !strings.Contains(root, want) {
			t.Errorf("crate page missing %q:\n%s", want, root)
		}
	}
	if strings.Contains(root, "[Secret](") {
		t.Errorf("crate page links hidden item:\n%s", root)
	}
}

func TestPage_BadURI(t *testing.T) {
	t.Parallel()
	ix, res := build(t, geomCrate, walker.Root{Name: "x", Path: "/x/lib.rs"})
	out := Emit(ix, res)
	for _, uri := range []string{
		"https://docs.rs/x",
		"rsdoc://x/latest",
		"rsdoc://y/latest/y::Point",
		"rsdoc://x/9.9.9/x::Point",
		"rsdoc://x/latest/x::Nope",
	} {
		t.Run(uri, func(t *testing.T) {
			if _, err := out.Page(uri); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseURI(t *testing.T) {
	t.Parallel()
	crate, ver, path, frag, err := ParseURI("rsdoc://serde/1.0.0/serde::Serialize#implementations")
	if err != nil {
		t.Fatal(err)
	}
	if crate != "serde" || ver != "1.0.0" || path != "serde::Serialize" || frag != "implementations" {
		t.Errorf("got %q %q %q %q", crate, ver, path, frag)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()
	ix, res := build(t, geomCrate, walker.Root{Name: "x", Path: "/x/lib.rs"})
	out := Emit(ix, res)

	tests := []struct {
		query string
		want  []string
	}{
		{"x::Point", []string{"x::Point"}},
		{"Point", []string{"x::Point"}},
		{"Point::x", []string{"x::Point::x"}},
		{"Secret", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var got []string
			for _, s := range out.Lookup(tt.query, 0) {
				got = append(got, s.Path)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Lookup(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}
