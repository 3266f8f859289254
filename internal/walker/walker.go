// Package walker discovers the source files of a crate by following its
// module declarations, parses them and inserts the resulting items into an
// index.Builder.
package walker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/jcdickinson/cratedoc/internal/index"
	"github.com/jcdickinson/cratedoc/internal/rust"
)

// Root names a crate to walk. Path is either a crate directory holding a
// Cargo.toml or the crate's entry file; a bare entry file needs Name.
type Root struct {
	Name    string   `mapstructure:"name" json:"name"`
	Path    string   `mapstructure:"path" json:"path"`
	Version string   `mapstructure:"version" json:"version,omitempty"`
	Externs []string `mapstructure:"externs" json:"externs,omitempty"`
}

// Result summarizes one walked crate.
type Result struct {
	Crate        string
	Key          string // builder key of the crate root
	Files        int
	Items        int
	Placeholders int
	SyntaxErrors int
}

type Walker struct {
	fs      afero.Fs
	workers int
}

type Option func(*Walker)

// WithWorkers bounds the number of files parsed concurrently.
func WithWorkers(n int) Option {
	return func(w *Walker) {
		if n > 0 {
			w.workers = n
		}
	}
}

func New(fs afero.Fs, opts ...Option) *Walker {
	w := &Walker{fs: fs, workers: runtime.GOMAXPROCS(0)}
	for _, o := range opts {
		o(w)
	}
	return w
}

type crateRoot struct {
	name    string
	version string
	dir     string
	entry   string
	externs []string
}

func (w *Walker) resolveRoot(root Root) (*crateRoot, error) {
	info, err := w.fs.Stat(root.Path)
	if err != nil {
		return nil, fmt.Errorf("crate root %s: %w", root.Path, err)
	}
	c := &crateRoot{name: root.Name, version: root.Version}
	externs := append([]string(nil), root.Externs...)
	if info.IsDir() {
		m, err := LoadManifest(w.fs, root.Path)
		if err != nil {
			return nil, fmt.Errorf("crate root %s: %w", root.Path, err)
		}
		name, entry, err := m.target(w.fs, root.Path)
		if err != nil {
			return nil, err
		}
		if c.name == "" {
			c.name = name
		}
		if c.version == "" {
			c.version = m.Version()
		}
		c.dir = root.Path
		c.entry = filepath.Join(root.Path, entry)
		externs = append(externs, m.Externs()...)
	} else {
		if root.Name == "" {
			return nil, fmt.Errorf("crate root %s: a crate name is required for an entry file", root.Path)
		}
		c.dir = filepath.Dir(root.Path)
		c.entry = root.Path
	}
	c.name = crateIdent(c.name)

	for _, e := range externs {
		e = crateIdent(e)
		if e != c.name && !slices.Contains(c.externs, e) {
			c.externs = append(c.externs, e)
		}
	}
	sort.Strings(c.externs)
	return c, nil
}

// Walk parses every file reachable from root's entry file and inserts the
// crate's items into b. Files are parsed concurrently; items are inserted
// depth first in declaration order. Unreadable or missing module files
// become placeholder modules, never errors.
func (w *Walker) Walk(ctx context.Context, root Root, b *index.Builder) (*Result, error) {
	c, err := w.resolveRoot(root)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	l := &loader{
		fs:      w.fs,
		ctx:     gctx,
		g:       g,
		files:   make(map[string]*source),
		located: make(map[*rust.Node]located),
	}
	l.load(c.entry, true)
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("walking %s: %w", c.name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("walking %s: %w", c.name, err)
	}

	a := &assembler{
		b:       b,
		crate:   c,
		files:   l.files,
		located: l.located,
		visited: make(map[string]bool),
		res:     &Result{Crate: c.name},
	}
	a.root()
	if a.err != nil {
		return nil, a.err
	}
	slog.Debug("walked crate", "crate", c.name, "files", a.res.Files, "items", a.res.Items)
	return a.res, nil
}

// source is one module file. Fields are written by the loading goroutine
// and read only after the errgroup has been waited on.
type source struct {
	path  string
	modRS bool
	file  *rust.File
	err   error
}

type located struct {
	path  string
	modRS bool
	tried []string
}

type loader struct {
	fs  afero.Fs
	ctx context.Context
	g   *errgroup.Group

	mu      sync.Mutex
	files   map[string]*source
	located map[*rust.Node]located
}

// load schedules path for parsing unless it was seen before. When every
// worker is busy the file is parsed on the calling goroutine.
func (l *loader) load(path string, modRS bool) {
	l.mu.Lock()
	if _, ok := l.files[path]; ok {
		l.mu.Unlock()
		return
	}
	src := &source{path: path, modRS: modRS}
	l.files[path] = src
	l.mu.Unlock()

	task := func() error {
		l.read(src)
		return nil
	}
	if !l.g.TryGo(task) {
		_ = task()
	}
}

func (l *loader) read(src *source) {
	if err := l.ctx.Err(); err != nil {
		src.err = err
		return
	}
	data, err := afero.ReadFile(l.fs, src.path)
	if err != nil {
		src.err = err
		return
	}
	src.file = rust.Parse(string(data))
	slog.Debug("parsed file", "path", src.path, "items", len(src.file.Items), "errors", len(src.file.Errors))
	l.discover(&src.file.Module, src.context())
}

// fileContext says where the module files declared at one nesting level
// live.
type fileContext struct {
	path   string // the source file
	dir    string // directory of `mod name;` files
	inline bool   // inside an inline `mod name { }` block
}

func (s *source) context() fileContext {
	dir := filepath.Dir(s.path)
	if !s.modRS {
		dir = strings.TrimSuffix(s.path, ".rs")
	}
	return fileContext{path: s.path, dir: dir}
}

func (fc fileContext) inlineChild(name string) fileContext {
	return fileContext{path: fc.path, dir: filepath.Join(fc.dir, name), inline: true}
}

func (l *loader) discover(m *rust.Module, fc fileContext) {
	for _, n := range m.Items {
		if n.Kind != rust.NodeModule {
			continue
		}
		if n.Body != nil {
			l.discover(n.Body, fc.inlineChild(n.Name))
			continue
		}
		loc := l.locate(fc, n)
		l.mu.Lock()
		l.located[n] = loc
		l.mu.Unlock()
		if loc.path != "" {
			l.load(loc.path, loc.modRS)
		}
	}
}

// locate finds the file backing `mod name;`: the #[path] target, else
// name.rs, else name/mod.rs.
func (l *loader) locate(fc fileContext, n *rust.Node) located {
	var cands []string
	if n.PathAttr != "" {
		p := filepath.FromSlash(n.PathAttr)
		if !filepath.IsAbs(p) {
			base := filepath.Dir(fc.path)
			if fc.inline {
				base = fc.dir
			}
			p = filepath.Join(base, p)
		}
		cands = []string{p}
	} else {
		cands = []string{
			filepath.Join(fc.dir, n.Name+".rs"),
			filepath.Join(fc.dir, n.Name, "mod.rs"),
		}
	}
	for i, c := range cands {
		if ok, _ := afero.Exists(l.fs, c); ok {
			return located{path: c, modRS: n.PathAttr != "" || i == 1, tried: cands[:i+1]}
		}
	}
	return located{tried: cands}
}
