package resolve

import (
	"context"
	"reflect"
	"testing"

	"github.com/spf13/afero"

	"github.com/jcdickinson/cratedoc/internal/index"
	"github.com/jcdickinson/cratedoc/internal/walker"
)

func buildIndex(t *testing.T, files map[string]string, roots ...walker.Root) *index.Index {
	t.Helper()
	fs := afero.NewMemMapFs()
	for p, src := range files {
		if err := afero.WriteFile(fs, p, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	w := walker.New(fs)
	b := index.NewBuilder()
	for _, r := range roots {
		if _, err := w.Walk(context.Background(), r, b); err != nil {
			t.Fatalf("Walk(%s): %v", r.Path, err)
		}
	}
	ix, err := b.Finalize(false)
	if err != nil {
		t.Fatal(err)
	}
	return ix
}

func resolveAll(t *testing.T, ix *index.Index) *Result {
	t.Helper()
	res, err := New().Resolve(context.Background(), ix)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func idOf(t *testing.T, ix *index.Index, key string) index.ItemID {
	t.Helper()
	id, ok := ix.ByKey(key)
	if !ok {
		t.Fatalf("no item with key %q", key)
	}
	return id
}

// refOf finds the reference of the given kind written as raw in the item
// keyed key.
func refOf(t *testing.T, ix *index.Index, key, raw string, kind index.RefKind) int {
	t.Helper()
	id := idOf(t, ix, key)
	for i, r := range ix.References() {
		if r.From == id && r.RawText == raw && r.Kind == kind {
			return i
		}
	}
	t.Fatalf("no %s reference %q from %s", kind, raw, key)
	return -1
}

func wantLink(t *testing.T, res *Result, ref int, to index.ItemID) {
	t.Helper()
	l, ok := res.Link(ref)
	if !ok {
		f, _ := res.Failure(ref)
		t.Fatalf("reference %d did not resolve: %+v", ref, f)
	}
	if l.To != to {
		t.Errorf("reference %d resolved to %s, want %s", ref, l.To, to)
	}
}

func wantFailure(t *testing.T, res *Result, ref int, reason Reason) Unresolved {
	t.Helper()
	f, ok := res.Failure(ref)
	if !ok {
		l, _ := res.Link(ref)
		t.Fatalf("reference %d resolved to %s, want %s", ref, l.To, reason)
	}
	if f.Reason != reason {
		t.Errorf("reference %d: reason %s, want %s", ref, f.Reason, reason)
	}
	return f
}

func TestResolve_CrossCrate(t *testing.T) {
	t.Parallel()
	ix := buildIndex(t, map[string]string{
		"/a/Cargo.toml": "[package]\nname = \"a\"\nversion = \"0.1.0\"\n",
		"/a/src/lib.rs": "pub struct Point { pub x: i32, pub y: i32 }\n",
		"/b/Cargo.toml": "[package]\nname = \"b\"\nversion = \"0.1.0\"\n\n[dependencies]\na = { path = \"../a\" }\n",
		"/b/src/lib.rs": "pub fn origin() -> a::Point { a::Point { x: 0, y: 0 } }\n",
	}, walker.Root{Path: "/b"}, walker.Root{Path: "/a"})
	res := resolveAll(t, ix)
	ref := refOf(t, ix, "b::fn origin", "a::Point", index.TypeUse)
	wantLink(t, res, ref, idOf(t, ix, "a::struct Point"))
	if len(res.Unresolved) != 0 {
		t.Errorf("unexpected failures: %+v", res.Unresolved)
	}
}

func TestResolve_ReexportIdempotent(t *testing.T) {
	t.Parallel()
	ix := buildIndex(t, map[string]string{
		"/r/lib.rs": `pub mod geom;
pub use geom::Point;

pub fn direct() -> geom::Point {}
pub fn via() -> crate::Point {}

pub mod user {
    pub fn u() -> super::Point {}
}
`,
		"/r/geom.rs": "pub struct Point;\n",
	}, walker.Root{Name: "r", Path: "/r/lib.rs"})
	res := resolveAll(t, ix)
	point := idOf(t, ix, "r::geom::struct Point")
	wantLink(t, res, refOf(t, ix, "r::fn direct", "geom::Point", index.TypeUse), point)
	wantLink(t, res, refOf(t, ix, "r::fn via", "crate::Point", index.TypeUse), point)
	wantLink(t, res, refOf(t, ix, "r::user::fn u", "super::Point", index.TypeUse), point)
	wantLink(t, res, refOf(t, ix, "r", "geom::Point", index.TypeUse), point)
}

func TestResolve_Ambiguous(t *testing.T) {
	t.Parallel()
	ix := buildIndex(t, map[string]string{
		"/x/lib.rs": `mod a {
    pub struct Point;
}
mod b {
    pub struct Point;
}
use a::*;
use b::*;

pub fn f(p: Point) {}
`,
	}, walker.Root{Name: "x", Path: "/x/lib.rs"})
	res := resolveAll(t, ix)
	f := wantFailure(t, res, refOf(t, ix, "x::fn f", "Point", index.TypeUse), ReasonAmbiguous)
	if len(f.Candidates) != 2 {
		t.Errorf("candidates = %v", f.Candidates)
	}
}

func TestResolve_ExplicitBeatsGlob(t *testing.T) {
	t.Parallel()
	ix := buildIndex(t, map[string]string{
		"/x/lib.rs": `mod a {
    pub struct Point;
}
mod b {
    pub struct Point;
}
use a::*;
use b::Point;

pub fn f(p: Point) {}
`,
	}, walker.Root{Name: "x", Path: "/x/lib.rs"})
	res := resolveAll(t, ix)
	wantLink(t, res, refOf(t, ix, "x::fn f", "Point", index.TypeUse), idOf(t, ix, "x::b::struct Point"))
}

func TestResolve_InnermostScope(t *testing.T) {
	t.Parallel()
	ix := buildIndex(t, map[string]string{
		"/s/lib.rs": `pub struct Point;

pub mod inner {
    pub struct Point;
    pub fn g() -> Point {}
}

pub mod other {
    pub fn h() -> Point {}
}
`,
	}, walker.Root{Name: "s", Path: "/s/lib.rs"})
	res := resolveAll(t, ix)
	wantLink(t, res, refOf(t, ix, "s::inner::fn g", "Point", index.TypeUse), idOf(t, ix, "s::inner::struct Point"))
	wantLink(t, res, refOf(t, ix, "s::other::fn h", "Point", index.TypeUse), idOf(t, ix, "s::struct Point"))
}

func TestResolve_External(t *testing.T) {
	t.Parallel()
	ix := buildIndex(t, map[string]string{
		"/x/lib.rs": `pub fn e() -> std::string::String {}
pub fn v() -> Vec<u8> {}
pub fn j() -> serde_json::Value {}
pub fn m() -> Missing {}
`,
	}, walker.Root{Name: "x", Path: "/x/lib.rs", Externs: []string{"serde_json"}})
	res := resolveAll(t, ix)
	tests := []struct {
		key, raw string
		reason   Reason
		crate    string
	}{
		{"x::fn e", "std::string::String", ReasonExternal, "std"},
		{"x::fn v", "Vec", ReasonExternal, "std"},
		{"x::fn j", "serde_json::Value", ReasonExternal, "serde_json"},
		{"x::fn m", "Missing", ReasonUnresolved, ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			f := wantFailure(t, res, refOf(t, ix, tt.key, tt.raw, index.TypeUse), tt.reason)
			if f.Crate != tt.crate {
				t.Errorf("crate = %q, want %q", f.Crate, tt.crate)
			}
		})
	}
}

var implSrc = map[string]string{
	"/x/lib.rs": `pub struct Point;

impl Point {
    pub fn new() -> Self { Point }
}

impl Clone for Point {
    fn clone(&self) -> Self { Point }
}

/// Builds via [` + "`Point::new`" + `] or [struct@Point].
pub fn build() -> Point { Point::new() }
`,
}

func TestResolve_ImplsAndDocLinks(t *testing.T) {
	t.Parallel()
	ix := buildIndex(t, implSrc, walker.Root{Name: "x", Path: "/x/lib.rs"})
	res := resolveAll(t, ix)
	point := idOf(t, ix, "x::struct Point")
	newFn := idOf(t, ix, "x::impl impl x::Point::fn new")

	wantLink(t, res, refOf(t, ix, "x::fn build", "Point::new", index.DocLinkRef), newFn)
	wantLink(t, res, refOf(t, ix, "x::fn build", "Point", index.DocLinkRef), point)
	wantLink(t, res, refOf(t, ix, "x::fn build", "Point", index.TypeUse), point)
	wantFailure(t, res, refOf(t, ix, "x::impl impl Clone for x::Point", "Clone", index.TraitImpl), ReasonExternal)

	if got := len(res.Impls(point)); got != 2 {
		t.Errorf("impls of Point = %d, want 2", got)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	t.Parallel()
	ix := buildIndex(t, implSrc, walker.Root{Name: "x", Path: "/x/lib.rs"})
	a, err := New(WithWorkers(1)).Resolve(context.Background(), ix)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(WithWorkers(8)).Resolve(context.Background(), ix)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Links, b.Links) || !reflect.DeepEqual(a.Unresolved, b.Unresolved) {
		t.Error("results differ between worker counts")
	}
}

func TestResolve_PanicsOnUnfinalized(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	_, _ = New().Resolve(context.Background(), &index.Index{})
}

func TestCache(t *testing.T) {
	t.Parallel()
	ix := buildIndex(t, implSrc, walker.Root{Name: "x", Path: "/x/lib.rs"})
	c, err := NewCache(New(), 4)
	if err != nil {
		t.Fatal(err)
	}
	a, err := c.Resolve(context.Background(), ix)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Resolve(context.Background(), ix)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("second resolve was not served from the cache")
	}
	if c.Len() != 1 {
		t.Errorf("cache len = %d, want 1", c.Len())
	}
	if a.Hash != ix.ContentHash() {
		t.Errorf("hash = %q, want %q", a.Hash, ix.ContentHash())
	}
}
