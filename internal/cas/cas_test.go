package cas

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func memStore() *Store {
	return New(afero.NewMemMapFs(), "/cache/cas")
}

func TestWriteRead_RoundTrip(t *testing.T) {
	t.Parallel()
	s := memStore()

	content := "# Hello\n\nThis is some documentation."
	hash, err := s.Write(content)
	if err != nil {
		t.Fatal(err)
	}
	if hash != Hash(content) {
		t.Errorf("got %q, want %q", hash, Hash(content))
	}
	if !s.Has(hash) {
		t.Error("expected Has=true after write")
	}

	got, err := s.Read(hash)
	if err != nil {
		t.Fatal(err)
	}
	if got != content {
		t.Errorf("round-trip failed: got %q, want %q", got, content)
	}
}

func TestWrite_Dedup(t *testing.T) {
	t.Parallel()
	s := memStore()

	hash1, err := s.Write("duplicate content")
	if err != nil {
		t.Fatal(err)
	}
	hash2, err := s.Write("duplicate content")
	if err != nil {
		t.Fatal(err)
	}
	if hash1 != hash2 {
		t.Errorf("same content produced different hashes: %s vs %s", hash1, hash2)
	}
	other, err := s.Write("content B")
	if err != nil {
		t.Fatal(err)
	}
	if other == hash1 {
		t.Error("different content should produce different hashes")
	}
}

func TestShardedLayout(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	s := New(fs, "/c")
	hash, err := s.Write("layout")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join("/c", hash[:2], hash[2:]+".md.zst")
	if ok, _ := afero.Exists(fs, want); !ok {
		t.Errorf("blob not at %s", want)
	}
	if ok, _ := afero.Exists(fs, want+".tmp"); ok {
		t.Error("temporary file left behind")
	}
}

func TestRead_Errors(t *testing.T) {
	t.Parallel()
	s := memStore()
	for _, hash := range []string{"", "ab", "deadbeef"} {
		if _, err := s.Read(hash); err == nil {
			t.Errorf("Read(%q): expected error", hash)
		}
		if s.Has(hash) {
			t.Errorf("Has(%q) = true", hash)
		}
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	s := memStore()
	hash, err := s.Write("gone soon")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if s.Has(hash) {
		t.Error("blob survived Clear")
	}
	if err := s.Clear(); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

func TestDefault(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/xdg")
	if got, want := Default().Dir(), filepath.Join("/xdg", "cratedoc", "cas"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
