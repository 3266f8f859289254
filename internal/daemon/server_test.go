package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/jcdickinson/cratedoc/internal/config"
	"github.com/jcdickinson/cratedoc/internal/pipeline"
	"github.com/jcdickinson/cratedoc/internal/rpc"
	"github.com/jcdickinson/cratedoc/internal/walker"
)

func sourceFS(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/a/Cargo.toml": "[package]\nname = \"a\"\nversion = \"0.1.0\"\n",
		"/a/src/lib.rs": "/// A point.\npub struct Point { pub x: i32 }\n",
		"/b/Cargo.toml": "[package]\nname = \"b\"\nversion = \"0.2.0\"\n\n[dependencies]\na = \"0.1\"\n",
		"/b/src/lib.rs": "/// The origin.\npub fn origin() -> a::Point { todo!() }\n",
	}
	for p, src := range files {
		if err := afero.WriteFile(fs, p, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return fs
}

func testServer(t *testing.T, fs afero.Fs, crates ...walker.Root) *Server {
	t.Helper()
	cfg := &config.Config{Crates: crates}
	s, err := NewServer(cfg, nil, nil, filepath.Join(t.TempDir(), "d.sock"),
		WithFS(fs), WithSnapshotDir("/snapshots"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func buildLines(t *testing.T, s *Server, req rpc.BuildRequest) []rpc.ProgressLine {
	t.Helper()
	rec := do(t, s, "POST", "/build", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var lines []rpc.ProgressLine
	dec := json.NewDecoder(rec.Body)
	for dec.More() {
		var l rpc.ProgressLine
		if err := dec.Decode(&l); err != nil {
			t.Fatal(err)
		}
		lines = append(lines, l)
	}
	if len(lines) == 0 || lines[len(lines)-1].Type != "result" {
		t.Fatalf("stream did not end with a result: %+v", lines)
	}
	return lines
}

func TestBuildAndServe(t *testing.T) {
	t.Parallel()
	s := testServer(t, sourceFS(t))

	lines := buildLines(t, s, rpc.BuildRequest{Crates: []walker.Root{{Path: "/a"}, {Path: "/b"}}})
	res := lines[len(lines)-1].Result
	if res.Error != "" {
		t.Fatalf("build error: %s", res.Error)
	}
	if len(res.Crates) != 2 || res.Hash == "" || res.Stats.Links != 1 {
		t.Errorf("result = %+v", res)
	}
	var sawReady bool
	for _, l := range lines[:len(lines)-1] {
		if l.Type != "progress" || l.Message == "" {
			t.Errorf("bad progress line %+v", l)
		}
		if l.State == pipeline.Ready {
			sawReady = true
		}
	}
	if !sawReady {
		t.Error("no ready progress line")
	}

	t.Run("get_doc", func(t *testing.T) {
		rec := do(t, s, "POST", "/get-doc", rpc.GetDocRequest{Crate: "b", Path: "b::origin"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d: %s", rec.Code, rec.Body)
		}
		var resp rpc.GetDocResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.URI != "rsdoc://b/latest/b::origin" {
			t.Errorf("uri = %q", resp.URI)
		}
		if !strings.Contains(resp.Markdown, "The origin.") || !strings.Contains(resp.Markdown, "rsdoc://a/0.1.0/a::Point") {
			t.Errorf("markdown = %s", resp.Markdown)
		}
	})

	t.Run("get_doc_missing", func(t *testing.T) {
		rec := do(t, s, "POST", "/get-doc", rpc.GetDocRequest{Crate: "b", Path: "b::nope"})
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("lookup", func(t *testing.T) {
		rec := do(t, s, "POST", "/lookup", rpc.LookupRequest{Query: "Point"})
		var resp rpc.LookupResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if len(resp.Results) != 1 || resp.Results[0].Path != "a::Point" || resp.Results[0].CrateVersion != "0.1.0" {
			t.Errorf("results = %+v", resp.Results)
		}
		if resp.Results[0].URI != "rsdoc://a/0.1.0/a::Point" || resp.Results[0].Summary != "A point." {
			t.Errorf("result = %+v", resp.Results[0])
		}
	})

	t.Run("lookup_empty_query", func(t *testing.T) {
		if rec := do(t, s, "POST", "/lookup", rpc.LookupRequest{Query: " "}); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("status", func(t *testing.T) {
		rec := do(t, s, "GET", "/status", nil)
		var resp rpc.StatusResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.State != pipeline.Ready || resp.Hash != res.Hash || len(resp.Crates) != 2 {
			t.Errorf("status = %+v", resp)
		}
	})
}

func TestBuild_NoCrates(t *testing.T) {
	t.Parallel()
	s := testServer(t, sourceFS(t))
	lines := buildLines(t, s, rpc.BuildRequest{Replace: true})
	if res := lines[len(lines)-1].Result; res.Error == "" {
		t.Error("expected an error result")
	}
	if rec := do(t, s, "POST", "/get-doc", rpc.GetDocRequest{Crate: "a"}); rec.Code != http.StatusNotFound {
		t.Errorf("get-doc before a build: status = %d", rec.Code)
	}
}

func TestBuild_Failure(t *testing.T) {
	t.Parallel()
	s := testServer(t, sourceFS(t))
	lines := buildLines(t, s, rpc.BuildRequest{Crates: []walker.Root{{Path: "/missing"}}})
	if res := lines[len(lines)-1].Result; res.Error == "" {
		t.Error("expected an error result")
	}
	if s.latest() != nil {
		t.Error("failed build replaced the current build")
	}
}

func TestNextRoots(t *testing.T) {
	t.Parallel()
	s := testServer(t, sourceFS(t), walker.Root{Path: "/a"})

	got := s.nextRoots(rpc.BuildRequest{Crates: []walker.Root{{Path: "/b"}, {Name: "renamed", Path: "/a"}}})
	if len(got) != 2 || got[0].Name != "renamed" || got[1].Path != "/b" {
		t.Errorf("add = %+v", got)
	}
	got = s.nextRoots(rpc.BuildRequest{Replace: true, Crates: []walker.Root{{Path: "/b"}}})
	if len(got) != 1 || got[0].Path != "/b" {
		t.Errorf("replace = %+v", got)
	}
	got = s.nextRoots(rpc.BuildRequest{Replace: true})
	if len(got) != 1 || got[0].Path != "/a" {
		t.Errorf("configured = %+v", got)
	}
}

func TestRootsKey(t *testing.T) {
	t.Parallel()
	a := []walker.Root{{Path: "/a"}, {Path: "/b"}}
	b := []walker.Root{{Path: "/b"}, {Path: "/a"}}
	if rootsKey(a, false) != rootsKey(b, false) {
		t.Error("key depends on root order")
	}
	if rootsKey(a, false) == rootsKey(a, true) {
		t.Error("key ignores strictness")
	}
}

func TestSnapshotReload(t *testing.T) {
	t.Parallel()
	fs := sourceFS(t)
	s := testServer(t, fs)
	res := buildLines(t, s, rpc.BuildRequest{Crates: []walker.Root{{Path: "/a"}}})
	hash := res[len(res)-1].Result.Hash

	fresh := testServer(t, fs)
	if err := fresh.loadSnapshot(); err != nil {
		t.Fatal(err)
	}
	b := fresh.latest()
	if b == nil || b.out.Hash != hash {
		t.Fatalf("reloaded build = %+v", b)
	}
	if len(fresh.roots) != 1 || fresh.roots[0].Path != "/a" {
		t.Errorf("roots = %+v", fresh.roots)
	}

	if rec := do(t, fresh, "POST", "/clear-cache", nil); rec.Code != http.StatusOK {
		t.Fatalf("clear-cache status %d: %s", rec.Code, rec.Body)
	}
	if fresh.latest() != nil {
		t.Error("build survived clear-cache")
	}
	if ok, _ := afero.Exists(fs, "/snapshots/current.json"); ok {
		t.Error("snapshot manifest survived clear-cache")
	}
	again := testServer(t, fs)
	if err := again.loadSnapshot(); err != nil || again.latest() != nil {
		t.Errorf("loadSnapshot after clear = %v, %v", again.latest(), err)
	}
}

func TestClient(t *testing.T) {
	t.Parallel()
	s := testServer(t, sourceFS(t))
	sock := filepath.Join(t.TempDir(), "c.sock")
	l, err := net.Listen("unix", sock)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	srv := &http.Server{Handler: s.routes()}
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	c := NewClient(sock)
	if !c.IsAvailable() {
		t.Fatal("client cannot reach the server")
	}
	ctx := context.Background()

	var progress int
	res, err := c.Build(ctx, rpc.BuildRequest{Crates: []walker.Root{{Path: "/a"}, {Path: "/b"}}}, func(rpc.ProgressLine) { progress++ })
	if err != nil {
		t.Fatal(err)
	}
	if progress == 0 || len(res.Crates) != 2 {
		t.Errorf("progress = %d, result = %+v", progress, res)
	}

	found, err := c.Lookup(ctx, rpc.LookupRequest{Query: "origin"})
	if err != nil {
		t.Fatal(err)
	}
	if len(found.Results) != 1 {
		t.Fatalf("lookup = %+v", found.Results)
	}
	doc, err := c.GetDoc(ctx, rpc.GetDocRequest{Crate: "b", Version: "0.2.0", Path: "b::origin"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(doc.Markdown, "origin") {
		t.Errorf("markdown = %s", doc.Markdown)
	}
	if _, err := c.GetDoc(ctx, rpc.GetDocRequest{Crate: "b", Path: "b::nope"}); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("missing item error = %v", err)
	}
	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != pipeline.Ready {
		t.Errorf("state = %s", st.State)
	}
	if err := c.ClearCache(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Build(ctx, rpc.BuildRequest{Replace: true}, nil); err == nil {
		t.Error("expected build error with no crates")
	}
}
