package walker

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

// Manifest is the part of Cargo.toml the walker needs.
type Manifest struct {
	Package struct {
		Name    string `toml:"name"`
		Version any    `toml:"version"` // string, or a table for `version.workspace = true`
	} `toml:"package"`
	Lib *struct {
		Name string `toml:"name"`
		Path string `toml:"path"`
	} `toml:"lib"`
	Bin []struct {
		Name string `toml:"name"`
		Path string `toml:"path"`
	} `toml:"bin"`
	Dependencies map[string]any `toml:"dependencies"`
}

// LoadManifest reads dir/Cargo.toml.
func LoadManifest(fs afero.Fs, dir string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, filepath.Join(dir, "Cargo.toml"))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", filepath.Join(dir, "Cargo.toml"), err)
	}
	return &m, nil
}

// Version returns the package version, or "" when it is inherited from a
// workspace.
func (m *Manifest) Version() string {
	if v, ok := m.Package.Version.(string); ok {
		return v
	}
	return ""
}

// Externs returns the crate names dependencies are referred to by in code.
func (m *Manifest) Externs() []string {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, crateIdent(name))
	}
	sort.Strings(names)
	return names
}

// target picks the library target, falling back to src/main.rs or the
// first [[bin]]. It reports the crate name and the entry file relative to
// the manifest directory.
func (m *Manifest) target(fs afero.Fs, dir string) (name, entry string, err error) {
	name = m.Package.Name
	exists := func(p string) bool {
		ok, _ := afero.Exists(fs, filepath.Join(dir, p))
		return ok
	}
	switch {
	case m.Lib != nil && m.Lib.Path != "":
		entry = m.Lib.Path
	case exists("src/lib.rs"):
		entry = "src/lib.rs"
	case exists("src/main.rs"):
		entry = "src/main.rs"
	case len(m.Bin) > 0 && m.Bin[0].Path != "":
		entry = m.Bin[0].Path
		if m.Bin[0].Name != "" {
			name = m.Bin[0].Name
		}
	default:
		return "", "", fmt.Errorf("no lib or bin target in %s", filepath.Join(dir, "Cargo.toml"))
	}
	if m.Lib != nil && m.Lib.Name != "" {
		name = m.Lib.Name
	}
	if name == "" {
		return "", "", fmt.Errorf("manifest %s has no package name", filepath.Join(dir, "Cargo.toml"))
	}
	return crateIdent(name), filepath.FromSlash(entry), nil
}

func crateIdent(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
