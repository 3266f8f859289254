// Package cas is a zstd-compressed content-addressed store for rendered doc
// pages. Blobs live at <dir>/<first2>/<rest>.md.zst.
package cas

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"

	"github.com/jcdickinson/cratedoc/internal/config"
)

type Store struct {
	fs  afero.Fs
	dir string
}

func New(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// Default returns the store under the user cache directory.
func Default() *Store {
	return New(afero.NewOsFs(), config.CASDir())
}

func (s *Store) Dir() string { return s.dir }

// path returns the sharded file path for a hash: <dir>/<first2>/<rest>.md.zst
func (s *Store) path(hash string) (string, error) {
	if len(hash) < 3 {
		return "", fmt.Errorf("invalid CAS hash %q", hash)
	}
	return filepath.Join(s.dir, hash[:2], hash[2:]+".md.zst"), nil
}

// Hash returns the key content would be stored under.
func Hash(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}

// Write stores content, returning its SHA-256 hash.
// If the content already exists, this is a no-op.
func (s *Store) Write(content string) (string, error) {
	hash := Hash(content)
	p, err := s.path(hash)
	if err != nil {
		return "", err
	}
	if _, err := s.fs.Stat(p); err == nil {
		return hash, nil
	}

	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("creating CAS directory: %w", err)
	}

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		w.Close()
		return "", fmt.Errorf("compressing CAS content: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing zstd writer: %w", err)
	}

	// Readers never observe a partially written blob.
	tmp := p + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("writing CAS file: %w", err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		return "", fmt.Errorf("renaming CAS file: %w", err)
	}
	return hash, nil
}

func (s *Store) Has(hash string) bool {
	p, err := s.path(hash)
	if err != nil {
		return false
	}
	_, err = s.fs.Stat(p)
	return err == nil
}

// Read retrieves content by hash.
func (s *Store) Read(hash string) (string, error) {
	p, err := s.path(hash)
	if err != nil {
		return "", err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		return "", fmt.Errorf("reading CAS file %s: %w", hash, err)
	}
	defer f.Close()

	r, err := zstd.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("creating zstd reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decompressing CAS file %s: %w", hash, err)
	}
	return string(data), nil
}

// Clear removes every blob.
func (s *Store) Clear() error {
	if err := s.fs.RemoveAll(s.dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing CAS: %w", err)
	}
	return nil
}
