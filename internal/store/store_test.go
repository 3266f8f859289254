package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/jcdickinson/cratedoc/internal/cas"
	"github.com/jcdickinson/cratedoc/internal/emit"
	"github.com/jcdickinson/cratedoc/internal/index"
	"github.com/jcdickinson/cratedoc/internal/pipeline"
	"github.com/jcdickinson/cratedoc/internal/resolve"
	"github.com/jcdickinson/cratedoc/internal/walker"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := New("")
	if err != nil {
		t.Fatalf("creating test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func buildOutput(t *testing.T) (*emit.Output, *resolve.Result) {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/x/Cargo.toml":  "[package]\nname = \"x\"\nversion = \"0.3.0\"\n",
		"/x/src/lib.rs":  "//! Geometry.\nmod geom;\nmod missing;\n\npub use geom::Point;\n\npub mod shapes {\n    pub use crate::geom::*;\n}\n\n/// Builds a [`Point`].\npub fn build() -> Point { todo!() }\n",
		"/x/src/geom.rs": "/// A point.\npub struct Point { pub x: i32 }\n\npub struct Line;\n",
	}
	for p, src := range files {
		if err := afero.WriteFile(fs, p, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	p := pipeline.New(fs)
	out, err := p.Run(context.Background(), []walker.Root{{Path: "/x"}})
	if err != nil {
		t.Fatal(err)
	}
	res, _ := p.Result()
	return out, res
}

func find(t *testing.T, out *emit.Output, path string) *emit.ItemSummary {
	t.Helper()
	got := out.Lookup(path, 0)
	if len(got) != 1 {
		t.Fatalf("Lookup(%q) = %d items", path, len(got))
	}
	return got[0]
}

func TestSaveOutput(t *testing.T) {
	t.Parallel()
	db := testDB(t)
	out, res := buildOutput(t)
	blobs := cas.New(afero.NewMemMapFs(), "/cas")

	// Saving twice replaces rows instead of duplicating them.
	for range 2 {
		if err := db.SaveOutput(out, res, blobs); err != nil {
			t.Fatal(err)
		}
	}

	crates, err := db.ListCrates()
	if err != nil {
		t.Fatal(err)
	}
	if len(crates) != 1 {
		t.Fatalf("crates = %+v", crates)
	}
	c := crates[0]
	if c.Name != "x" || c.Version != "0.3.0" || c.IndexHash != out.Hash || !c.Partial || c.ProcessedAt == nil {
		t.Errorf("crate = %+v", c)
	}
	if latest, err := db.GetLatestCrate("x"); err != nil || latest == nil || latest.ID != c.ID {
		t.Errorf("GetLatestCrate = %+v, %v", latest, err)
	}
	if got, err := db.GetCrate("x", "9.9.9"); err != nil || got != nil {
		t.Errorf("GetCrate(unknown) = %+v, %v", got, err)
	}

	n, err := db.CountItems(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := 0
	for _, m := range out.Crates[0].Modules {
		want += len(m.Items)
	}
	if n != want {
		t.Errorf("CountItems = %d, want %d", n, want)
	}

	point := find(t, out, "x::geom::Point")
	it, err := db.GetItemByPath(c.ID, "x::geom::Point")
	if err != nil || it == nil {
		t.Fatalf("GetItemByPath = %+v, %v", it, err)
	}
	if it.ItemID != point.ID || it.Kind != "struct" || it.Summary != "A point." {
		t.Errorf("item = %+v", it)
	}
	page, err := blobs.Read(it.ContentHash)
	if err != nil {
		t.Fatal(err)
	}
	want2, _ := out.Page(out.URI(point.ID))
	if page != want2 {
		t.Errorf("stored page differs from rendered page")
	}
	if byID, err := db.GetItem(point.ID); err != nil || byID == nil || byID.Path != "x::geom::Point" {
		t.Errorf("GetItem = %+v, %v", byID, err)
	}
	if missing, err := db.GetItemByPath(c.ID, "x::Nope"); err != nil || missing != nil {
		t.Errorf("GetItemByPath(missing) = %+v, %v", missing, err)
	}
}

func TestReferrers(t *testing.T) {
	t.Parallel()
	db := testDB(t)
	out, res := buildOutput(t)
	if err := db.SaveOutput(out, res, nil); err != nil {
		t.Fatal(err)
	}
	point := find(t, out, "x::geom::Point")
	build := find(t, out, "x::build")

	refs, err := db.Referrers(point.ID)
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[string]bool{}
	for _, r := range refs {
		if r.From != build.ID || r.Path != "x::build" {
			t.Errorf("unexpected referrer %+v", r)
		}
		kinds[r.Kind] = true
	}
	if !kinds[index.TypeUse.String()] || !kinds[index.DocLinkRef.String()] {
		t.Errorf("referrer kinds = %v", kinds)
	}
}

func TestSearchItems(t *testing.T) {
	t.Parallel()
	db := testDB(t)
	out, res := buildOutput(t)
	if err := db.SaveOutput(out, res, nil); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		query string
		want  []string
	}{
		{"Point", []string{"x::geom::Point"}},
		{"geom::Line", []string{"x::geom::Line"}},
		{"x::build", []string{"x::build"}},
		{"Nope", nil},
		{"  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := db.SearchItems(tt.query, 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d items, want %d", len(got), len(tt.want))
			}
			for i, it := range got {
				if it.Path != tt.want[i] {
					t.Errorf("got %q, want %q", it.Path, tt.want[i])
				}
			}
		})
	}
}

func TestResolveReexport(t *testing.T) {
	t.Parallel()
	db := testDB(t)
	out, res := buildOutput(t)
	if err := db.SaveOutput(out, res, nil); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetLatestCrate("x")
	if err != nil || c == nil {
		t.Fatalf("GetLatestCrate = %+v, %v", c, err)
	}
	point := find(t, out, "x::geom::Point")

	target, src, ok := db.ResolveReexport(c.ID, "x::Point")
	if !ok || target != point.ID || src != "geom::Point" {
		t.Errorf("explicit = %q, %q, %v", target, src, ok)
	}
	target, src, ok = db.ResolveReexport(c.ID, "x::shapes::Line")
	if !ok || target != "" || src != "crate::geom::Line" {
		t.Errorf("glob = %q, %q, %v", target, src, ok)
	}
	if _, _, ok := db.ResolveReexport(c.ID, "x::nothing::Here"); ok {
		t.Error("expected no re-export")
	}
}

func TestNew_OnDisk(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "cratedoc.duckdb")
	db, err := New(path)
	if err != nil {
		t.Fatalf("New(%q): %v", path, err)
	}
	out, res := buildOutput(t)
	if err := db.SaveOutput(out, res, nil); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening runs the schema statements against existing tables.
	db, err = New(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer db.Close()
	c, err := db.GetLatestCrate("x")
	if err != nil || c == nil {
		t.Fatalf("GetLatestCrate = %+v, %v", c, err)
	}
	if _, src, ok := db.ResolveReexport(c.ID, "x::shapes::Line"); !ok || src != "crate::geom::Line" {
		t.Errorf("glob re-export after reopen = %q, %v", src, ok)
	}
}

func TestDiagnosticsAndClear(t *testing.T) {
	t.Parallel()
	db := testDB(t)
	out, res := buildOutput(t)
	if err := db.SaveOutput(out, res, nil); err != nil {
		t.Fatal(err)
	}
	diags, err := db.Diagnostics(out.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if len(diags) != len(out.Diagnostics) {
		t.Fatalf("got %d diagnostics, want %d", len(diags), len(out.Diagnostics))
	}
	found := false
	for i, d := range diags {
		if d.Code != out.Diagnostics[i].Code || d.Severity != out.Diagnostics[i].Severity || d.Message != out.Diagnostics[i].Message {
			t.Errorf("diagnostic %d = %+v, want %+v", i, d, out.Diagnostics[i])
		}
		if d.Code == index.CodeIncompleteCrate {
			found = true
		}
	}
	if !found {
		t.Error("missing module diagnostic not stored")
	}

	if err := db.Clear(); err != nil {
		t.Fatal(err)
	}
	crates, err := db.ListCrates()
	if err != nil {
		t.Fatal(err)
	}
	if len(crates) != 0 {
		t.Errorf("crates after Clear = %+v", crates)
	}
}
