package daemon

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/spf13/afero"

	"github.com/jcdickinson/cratedoc/internal/emit"
	"github.com/jcdickinson/cratedoc/internal/walker"
)

// manifest names the snapshot to load on startup and the crate set it was
// built from.
type manifest struct {
	Hash  string        `json:"hash"`
	Roots []walker.Root `json:"roots"`
}

const manifestName = "current.json"

func (s *Server) snapshotPath(hash string) string {
	return filepath.Join(s.snapshots, hash+".json.zst")
}

func (s *Server) saveSnapshot(out *emit.Output, roots []walker.Root) error {
	if err := s.fs.MkdirAll(s.snapshots, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	f, err := s.fs.Create(s.snapshotPath(out.Hash))
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	if err := emit.WriteSnapshot(f, out); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}

	data, err := json.Marshal(manifest{Hash: out.Hash, Roots: roots})
	if err != nil {
		return fmt.Errorf("encoding snapshot manifest: %w", err)
	}
	if err := afero.WriteFile(s.fs, filepath.Join(s.snapshots, manifestName), data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot manifest: %w", err)
	}
	return nil
}

// loadSnapshot restores the last build saved by saveSnapshot, if any.
func (s *Server) loadSnapshot() error {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.snapshots, manifestName))
	if err != nil {
		return nil
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decoding snapshot manifest: %w", err)
	}
	f, err := s.fs.Open(s.snapshotPath(m.Hash))
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()
	out, err := emit.ReadSnapshot(f)
	if err != nil {
		return err
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.current = &build{out: out}
	if len(m.Roots) > 0 {
		s.roots = slices.Clone(m.Roots)
	}
	return nil
}
