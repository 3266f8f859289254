package rust

import (
	"reflect"
	"testing"
)

func refPaths(sig Signature) []string {
	var out []string
	for _, r := range sig.Refs {
		out = append(out, r.Path)
	}
	return out
}

func TestParseStructWithFields(t *testing.T) {
	t.Parallel()
	f := Parse("/// A point.\npub struct Point {\n    /// X coord.\n    pub x: i32,\n    y: Vec<Point>,\n}\n")
	if len(f.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", f.Errors)
	}
	if len(f.Items) != 1 {
		t.Fatalf("got %d items, want 1", len(f.Items))
	}
	s := f.Items[0]
	if s.Kind != NodeStruct || s.Name != "Point" || s.Vis != VisPublic {
		t.Errorf("got %v %q vis=%v", s.Kind, s.Name, s.Vis)
	}
	if s.Doc != "A point." {
		t.Errorf("doc = %q", s.Doc)
	}
	if got := s.Sig.String(); got != "struct Point" {
		t.Errorf("sig = %q", got)
	}
	if s.StartLine != 2 || s.EndLine != 6 {
		t.Errorf("lines = %d-%d, want 2-6", s.StartLine, s.EndLine)
	}
	if len(s.Children) != 2 {
		t.Fatalf("got %d fields, want 2", len(s.Children))
	}
	x, y := s.Children[0], s.Children[1]
	if x.Name != "x" || x.Vis != VisPublic || x.Doc != "X coord." || x.Sig.String() != "x: i32" {
		t.Errorf("field x = %+v (sig %q)", x, x.Sig.String())
	}
	if y.Vis != VisPrivate || y.Sig.String() != "y: Vec<Point>" {
		t.Errorf("field y vis=%v sig=%q", y.Vis, y.Sig.String())
	}
	if got := refPaths(y.Sig); !reflect.DeepEqual(got, []string{"Vec", "Point"}) {
		t.Errorf("refs = %v", got)
	}
}

func TestSignatureNormalization(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		src  string
		want string
		refs []string
	}{
		{
			name: "spacing",
			src:  "pub fn  origin(\n) ->   Point { Point { x: 0 } }",
			want: "fn origin() -> Point",
			refs: []string{"Point"},
		},
		{
			name: "generics_and_where",
			src:  "fn f<T: Clone>(x: T, y: &Vec<Point>, z: u32) -> Result<(), Error> where T: Send {}",
			want: "fn f<T: Clone>(x: T, y: &Vec<Point>, z: u32) -> Result<(), Error> where T: Send",
			refs: []string{"Clone", "Vec", "Point", "Result", "Error", "Send"},
		},
		{
			name: "qualifiers",
			src:  "pub const unsafe fn danger() {}",
			want: "const unsafe fn danger()",
		},
		{
			name: "extern_abi",
			src:  "pub extern \"C\" fn callback(p: *const u8) {}",
			want: "extern \"C\" fn callback(p: *const u8)",
		},
		{
			name: "assoc_binding",
			src:  "fn it(i: impl Iterator<Item = Point>) {}",
			want: "fn it(i: impl Iterator<Item = Point>)",
			refs: []string{"Iterator", "Point"},
		},
		{
			name: "qualified_path",
			src:  "fn q<T>(x: <T as Shape>::Out) {}",
			want: "fn q<T>(x: <T as Shape>::Out)",
			refs: []string{"Shape"},
		},
		{
			name: "lifetimes_and_slices",
			src:  "fn s<'a>(b: &'a [u8], n: [u8; 4]) -> &'a str { b }",
			want: "fn s<'a>(b: &'a [u8], n: [u8; 4]) -> &'a str",
		},
		{
			name: "crate_path",
			src:  "fn c() -> crate::geom::Point { todo!() }",
			want: "fn c() -> crate::geom::Point",
			refs: []string{"crate::geom::Point"},
		},
		{
			name: "trailing_comma",
			src:  "fn f(\n    a: u8,\n    b: &str,\n) -> Option<u8> { None }",
			want: "fn f(a: u8, b: &str) -> Option<u8>",
			refs: []string{"Option"},
		},
		{
			name: "const_item",
			src:  "pub const MAX: usize = 10 * 2;",
			want: "const MAX: usize",
		},
		{
			name: "static_item",
			src:  "static mut COUNT: AtomicUsize = AtomicUsize::new(0);",
			want: "static mut COUNT: AtomicUsize",
			refs: []string{"AtomicUsize"},
		},
		{
			name: "type_alias",
			src:  "pub type Result<T> = std::result::Result<T, Error>;",
			want: "type Result<T> = std::result::Result<T, Error>",
			refs: []string{"std::result::Result", "Error"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Parse(tt.src)
			if len(f.Errors) != 0 {
				t.Fatalf("unexpected errors: %v", f.Errors)
			}
			if len(f.Items) != 1 {
				t.Fatalf("got %d items", len(f.Items))
			}
			n := f.Items[0]
			if got := n.Sig.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if got := refPaths(n.Sig); !reflect.DeepEqual(got, tt.refs) {
				t.Errorf("refs = %v, want %v", got, tt.refs)
			}
		})
	}
}

func TestSignatureIgnoresFormatting(t *testing.T) {
	t.Parallel()
	a := Parse("pub fn f(a:u8,b:&str)->Option<u8>{None}")
	b := Parse("pub fn f(\n    a: u8,\n    b: &str,\n) -> Option<u8> {\n    None\n}\n")
	if a.Items[0].Sig.String() != b.Items[0].Sig.String() {
		t.Errorf("%q != %q", a.Items[0].Sig.String(), b.Items[0].Sig.String())
	}
}

func TestParseImpl(t *testing.T) {
	t.Parallel()
	src := `impl<T: Clone> fmt::Display for Wrapper<T> where T: Debug {
    fn fmt(&self, f: &mut fmt::Formatter) -> fmt::Result { Ok(()) }
}

impl Wrapper<u8> {
    pub fn new() -> Self { todo!() }
    fn hidden_helper(self: Box<Self>) {}
}
`
	f := Parse(src)
	if len(f.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", f.Errors)
	}
	if len(f.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(f.Items))
	}
	ti := f.Items[0]
	if ti.Kind != NodeImpl || ti.Name != "fmt::Display for Wrapper<T>" {
		t.Errorf("trait impl = %v %q", ti.Kind, ti.Name)
	}
	if got := ti.Sig.String(); got != "impl<T: Clone> fmt::Display for Wrapper<T> where T: Debug" {
		t.Errorf("sig = %q", got)
	}
	if ti.TraitRef < 0 || ti.Sig.Refs[ti.TraitRef].Path != "fmt::Display" || ti.Sig.Refs[ti.TraitRef].Role != RoleTrait {
		t.Errorf("trait ref = %d", ti.TraitRef)
	}
	if ti.SelfRef < 0 || ti.Sig.Refs[ti.SelfRef].Path != "Wrapper" {
		t.Errorf("self ref = %d", ti.SelfRef)
	}
	m := ti.Children[0]
	if m.Vis != VisPublic {
		t.Errorf("trait impl method vis = %v, want public", m.Vis)
	}
	if got := m.Sig.String(); got != "fn fmt(&self, f: &mut fmt::Formatter) -> fmt::Result" {
		t.Errorf("method sig = %q", got)
	}

	inh := f.Items[1]
	if inh.Name != "Wrapper<u8>" || inh.TraitRef != -1 {
		t.Errorf("inherent impl = %q trait=%d", inh.Name, inh.TraitRef)
	}
	if len(inh.Children) != 2 || inh.Children[1].Vis != VisPrivate {
		t.Fatalf("children = %+v", inh.Children)
	}
	if got := inh.Children[1].Sig.String(); got != "fn hidden_helper(self: Box<Self>)" {
		t.Errorf("self param sig = %q", got)
	}
}

func TestParseUse(t *testing.T) {
	t.Parallel()
	f := Parse("use std::{fmt, io::{self, Read as R}};\npub use crate::geom::*;\nextern crate serde as s;\n")
	want := []Import{
		{Alias: "fmt", Path: "std::fmt", Line: 1},
		{Alias: "io", Path: "std::io", Line: 1},
		{Alias: "R", Path: "std::io::Read", Line: 1},
		{Path: "crate::geom", Glob: true, Vis: VisPublic, Line: 2},
		{Alias: "s", Path: "::serde", Line: 3},
	}
	if !reflect.DeepEqual(f.Imports, want) {
		t.Errorf("got %+v\nwant %+v", f.Imports, want)
	}
}

func TestParseRecoversFromSyntaxErrors(t *testing.T) {
	t.Parallel()
	f := Parse("struct Ok1;\nstruct Bad { x: }\nfn good() {}\n")
	if len(f.Errors) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(f.Errors), f.Errors)
	}
	if f.Errors[0].Line != 2 {
		t.Errorf("error line = %d", f.Errors[0].Line)
	}
	var kinds []NodeKind
	var names []string
	for _, n := range f.Items {
		kinds = append(kinds, n.Kind)
		names = append(names, n.Name)
	}
	if !reflect.DeepEqual(kinds, []NodeKind{NodeStruct, NodeOpaque, NodeFn}) {
		t.Errorf("kinds = %v", kinds)
	}
	if !reflect.DeepEqual(names, []string{"Ok1", "Bad", "good"}) {
		t.Errorf("names = %v", names)
	}
	if f.Items[1].Raw != "struct Bad { x: }" {
		t.Errorf("raw = %q", f.Items[1].Raw)
	}
}

func TestParseMacros(t *testing.T) {
	t.Parallel()
	f := Parse("lazy_static! {\n    static ref X: u8 = 1;\n}\nmacro_rules! square {\n    ($x:expr) => { $x * $x };\n}\nthread_local!(static Y: u8 = 0);\n")
	if len(f.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", f.Errors)
	}
	var names []string
	for _, n := range f.Items {
		if n.Kind != NodeOpaque {
			t.Errorf("%q kind = %v", n.Name, n.Kind)
		}
		names = append(names, n.Name)
	}
	if !reflect.DeepEqual(names, []string{"lazy_static!", "square", "thread_local!"}) {
		t.Errorf("names = %v", names)
	}
}

func TestParseAttributes(t *testing.T) {
	t.Parallel()
	src := `#[doc(hidden)]
pub fn secret() {}
#[cfg(feature = "x")]
pub fn gated() {}
#[path = "other.rs"]
mod thing;
#[doc = "Attr doc."]
#[derive(Debug)]
pub const N: usize = 3;
`
	f := Parse(src)
	if len(f.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", f.Errors)
	}
	if !f.Items[0].Hidden {
		t.Error("secret should be hidden")
	}
	if !f.Items[1].Cfg {
		t.Error("gated should be cfg-gated")
	}
	if m := f.Items[2]; m.Kind != NodeModule || m.PathAttr != "other.rs" || m.Body != nil {
		t.Errorf("module = %+v", m)
	}
	n := f.Items[3]
	if n.Doc != "Attr doc." {
		t.Errorf("doc = %q", n.Doc)
	}
	if !reflect.DeepEqual(n.Attrs, []string{"#[derive(Debug)]"}) {
		t.Errorf("attrs = %v", n.Attrs)
	}
}

func TestParseDocs(t *testing.T) {
	t.Parallel()
	src := "//! Crate doc.\n//!\n//!     indented\n\n/**\n * Block doc.\n */\npub mod a {\n    //! Inner.\n    pub fn f() {}\n}\n"
	f := Parse(src)
	if f.Doc != "Crate doc.\n\n    indented" {
		t.Errorf("crate doc = %q", f.Doc)
	}
	a := f.Items[0]
	if a.Doc != "Block doc." {
		t.Errorf("block doc = %q", a.Doc)
	}
	if a.Body == nil || a.Body.Doc != "Inner." || len(a.Body.Items) != 1 {
		t.Errorf("body = %+v", a.Body)
	}
}

func TestParseEnum(t *testing.T) {
	t.Parallel()
	f := Parse("pub enum Shape<T> { Circle(f64), Rect { w: f64, h: Point }, Other(T), Empty = 3 }")
	if len(f.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", f.Errors)
	}
	e := f.Items[0]
	var sigs []string
	for _, v := range e.Children {
		sigs = append(sigs, v.Sig.String())
	}
	want := []string{"Circle(f64)", "Rect { w: f64, h: Point }", "Other(T)", "Empty = 3"}
	if !reflect.DeepEqual(sigs, want) {
		t.Errorf("got %q", sigs)
	}
	if got := refPaths(e.Children[1].Sig); !reflect.DeepEqual(got, []string{"Point"}) {
		t.Errorf("refs = %v", got)
	}
	if len(e.Children[2].Sig.Refs) != 0 {
		t.Errorf("generic param referenced: %v", refPaths(e.Children[2].Sig))
	}
}

func TestParseTrait(t *testing.T) {
	t.Parallel()
	f := Parse("pub unsafe trait Shape: Clone + Send {\n    type Out;\n    const SIDES: u32;\n    fn area(&self) -> f64;\n    fn name(&self) -> Self::Out { todo!() }\n}\n")
	if len(f.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", f.Errors)
	}
	tr := f.Items[0]
	if got := tr.Sig.String(); got != "unsafe trait Shape: Clone + Send" {
		t.Errorf("sig = %q", got)
	}
	if len(tr.Children) != 4 {
		t.Fatalf("got %d trait items", len(tr.Children))
	}
	for _, c := range tr.Children {
		if c.Vis != VisPublic {
			t.Errorf("%s vis = %v", c.Name, c.Vis)
		}
	}
	if refs := refPaths(tr.Children[3].Sig); len(refs) != 0 {
		t.Errorf("Self path referenced: %v", refs)
	}
}

func TestParseModuleDecls(t *testing.T) {
	t.Parallel()
	f := Parse("pub mod geom;\nmod inline {\n    pub(crate) struct S;\n    pub(super) fn f() {}\n}\n")
	if len(f.Items) != 2 {
		t.Fatalf("got %d items", len(f.Items))
	}
	if f.Items[0].Body != nil || f.Items[0].Vis != VisPublic {
		t.Errorf("geom = %+v", f.Items[0])
	}
	body := f.Items[1].Body
	if body == nil || len(body.Items) != 2 {
		t.Fatalf("inline body = %+v", body)
	}
	if body.Items[0].Vis != VisCrate || body.Items[1].Vis != VisRestricted {
		t.Errorf("vis = %v %v", body.Items[0].Vis, body.Items[1].Vis)
	}
}
