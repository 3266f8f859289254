package pipeline

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/jcdickinson/cratedoc/internal/index"
	"github.com/jcdickinson/cratedoc/internal/resolve"
	"github.com/jcdickinson/cratedoc/internal/walker"
)

func memFS(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/a/Cargo.toml": "[package]\nname = \"a\"\nversion = \"0.1.0\"\n",
		"/a/src/lib.rs": "/// A point.\npub struct Point { x: i32, y: i32 }\n",
		"/b/Cargo.toml": "[package]\nname = \"b\"\nversion = \"0.2.0\"\n\n[dependencies]\na = \"0.1\"\n",
		"/b/src/lib.rs": "mod missing;\n\npub fn origin() -> a::Point { todo!() }\n",
	}
	for p, src := range files {
		if err := afero.WriteFile(fs, p, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return fs
}

var roots = []walker.Root{{Path: "/a"}, {Path: "/b"}}

func TestRun_Ready(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		states []State
		walked []string
	)
	p := New(memFS(t), WithProgress(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Crate != "" {
			walked = append(walked, ev.Crate)
			return
		}
		states = append(states, ev.State)
	}))
	if p.State() != Empty {
		t.Fatalf("initial state = %s", p.State())
	}
	out, err := p.Run(context.Background(), roots)
	if err != nil {
		t.Fatal(err)
	}
	if p.State() != Ready {
		t.Errorf("state = %s, want ready", p.State())
	}
	want := []State{Walking, Indexed, Resolving, Ready}
	if !slices.Equal(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
	slices.Sort(walked)
	if !slices.Equal(walked, []string{"a", "b"}) {
		t.Errorf("walked = %v", walked)
	}
	if got, ok := p.Output(); !ok || got != out {
		t.Error("Output does not return the run's output")
	}

	st := p.Stats()
	if st.Crates != 2 || st.Placeholders != 1 || st.Links != 1 {
		t.Errorf("stats = %+v", st)
	}
	if len(out.Lookup("b::origin", 0)) != 1 {
		t.Error("origin not emitted")
	}
}

func TestRun_OnlyFromEmpty(t *testing.T) {
	t.Parallel()
	p := New(memFS(t))
	first, err := p.Run(context.Background(), roots)
	if err != nil {
		t.Fatal(err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic running a Ready pipeline")
			}
		}()
		_, _ = p.Run(context.Background(), roots)
	}()

	p.Reset()
	if p.State() != Empty {
		t.Fatalf("state after Reset = %s", p.State())
	}
	if _, ok := p.Output(); ok {
		t.Error("output survived Reset")
	}
	second, err := p.Run(context.Background(), []walker.Root{roots[1], roots[0]})
	if err != nil {
		t.Fatal(err)
	}
	if first.Hash != second.Hash {
		t.Error("rebuild in a different root order changed the index hash")
	}
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(memFS(t))
	_, err := p.Run(ctx, roots)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if p.State() != Empty {
		t.Errorf("state = %s, want empty", p.State())
	}
}

func TestRun_Strict(t *testing.T) {
	t.Parallel()
	p := New(memFS(t), WithStrict(true))
	_, err := p.Run(context.Background(), roots)
	var ice *index.IncompleteCrateError
	if !errors.As(err, &ice) {
		t.Fatalf("err = %v, want *index.IncompleteCrateError", err)
	}
	if p.State() != Empty {
		t.Errorf("state = %s, want empty", p.State())
	}
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		roots []walker.Root
	}{
		{"no_roots", nil},
		{"bad_root", []walker.Root{{Path: "/nowhere"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(memFS(t))
			if _, err := p.Run(context.Background(), tt.roots); err == nil {
				t.Error("expected error")
			}
			if p.State() != Empty {
				t.Errorf("state = %s, want empty", p.State())
			}
		})
	}
}

func TestRun_SharedCache(t *testing.T) {
	t.Parallel()
	cache, err := resolve.NewCache(resolve.New(), 8)
	if err != nil {
		t.Fatal(err)
	}
	fs := memFS(t)
	a := New(fs, WithCache(cache), WithWorkers(2))
	b := New(fs, WithCache(cache), WithWorkers(1))
	if _, err := a.Run(context.Background(), roots); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Run(context.Background(), roots); err != nil {
		t.Fatal(err)
	}
	ra, _ := a.Result()
	rb, _ := b.Result()
	if ra != rb {
		t.Error("second pipeline did not reuse the cached result")
	}
	if cache.Len() != 1 {
		t.Errorf("cache len = %d, want 1", cache.Len())
	}
}

func TestState_Text(t *testing.T) {
	t.Parallel()
	for _, s := range []State{Empty, Walking, Indexed, Resolving, Ready} {
		b, err := s.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var got State
		if err := got.UnmarshalText(b); err != nil {
			t.Fatal(err)
		}
		if got != s {
			t.Errorf("got %s, want %s", got, s)
		}
	}
	var s State
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for unknown state")
	}
}
