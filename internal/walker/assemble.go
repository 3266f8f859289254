package walker

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jcdickinson/cratedoc/internal/index"
	"github.com/jcdickinson/cratedoc/internal/markdown"
	"github.com/jcdickinson/cratedoc/internal/rust"
)

// assembler turns parsed files into index items, depth first in
// declaration order.
type assembler struct {
	b       *index.Builder
	crate   *crateRoot
	files   map[string]*source
	located map[*rust.Node]located
	visited map[string]bool
	res     *Result
	err     error
}

func (a *assembler) rel(path string) string {
	r, err := filepath.Rel(a.crate.dir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(r)
}

func (a *assembler) insert(it *index.Item, parent string) string {
	key, err := a.b.Insert(it, parent)
	var dup *index.DuplicateError
	switch {
	case errors.As(err, &dup):
		slog.Debug("duplicate declaration", "key", dup.Key, "kept", dup.Kept, "dropped", dup.Dropped)
	case err != nil:
		if a.err == nil {
			a.err = fmt.Errorf("inserting %s: %w", it.Name, err)
		}
	}
	a.res.Items++
	return key
}

func (a *assembler) root() {
	src := a.files[a.crate.entry]
	it := &index.Item{
		Crate:      a.crate.name,
		Kind:       index.KindCrate,
		Name:       a.crate.name,
		Visibility: index.Public,
		Location:   index.Location{File: a.rel(a.crate.entry), StartLine: 1, EndLine: 1},
		Version:    a.crate.version,
		Externs:    a.crate.externs,
	}
	if src.err != nil {
		it.Placeholder = true
		it.Partial = true
		it.Problems = []index.Problem{{
			Severity: index.SeverityWarning,
			Code:     index.CodeIncompleteCrate,
			Message:  fmt.Sprintf("crate entry %s could not be read: %v", it.Location.File, src.err),
			Line:     1,
		}}
		a.res.Placeholders++
		a.res.Key = a.insert(it, "")
		return
	}
	a.visited[src.path] = true
	a.res.Files++
	f := src.file
	it.Location.EndLine = f.Lines
	it.Doc = f.Doc
	it.Hidden = f.Hidden
	it.Attrs = f.Attrs
	it.Imports = imports(f.Imports)
	it.Problems = a.syntaxProblems(f)
	a.finish(it)
	a.res.Key = a.insert(it, "")
	a.items(&f.Module, []string{a.crate.name}, a.res.Key, src.context())
}

func (a *assembler) syntaxProblems(f *rust.File) []index.Problem {
	if len(f.Errors) == 0 {
		return nil
	}
	a.res.SyntaxErrors++
	first := f.Errors[0]
	msg := fmt.Sprintf("malformed item at line %d recovered as opaque: %s", first.Line, first.Msg)
	if n := len(f.Errors); n > 1 {
		lines := make([]string, 0, n-1)
		for _, e := range f.Errors[1:] {
			lines = append(lines, fmt.Sprint(e.Line))
		}
		msg += fmt.Sprintf(" (%d more at lines %s)", n-1, strings.Join(lines, ", "))
	}
	return []index.Problem{{
		Severity: index.SeverityWarning,
		Code:     index.CodeSyntaxError,
		Message:  msg,
		Line:     first.Line,
	}}
}

// items inserts the declarations of one module body under parent.
func (a *assembler) items(m *rust.Module, path []string, parent string, fc fileContext) {
	sc := newScope(a.crate.name, path, m)
	ordinals := make(map[string]int)
	for _, n := range m.Items {
		if n.Kind == rust.NodeModule {
			a.module(n, path, parent, fc)
			continue
		}
		it := a.item(n, path, fc.path)
		if n.Kind == rust.NodeOpaque {
			it.Ordinal = ordinals[n.Name]
			ordinals[n.Name]++
		}
		if n.Kind == rust.NodeImpl {
			it.MergeName = sc.mergeName(n)
			it.SelfPath = sc.selfPath(n)
		}
		a.finish(it)
		key := a.insert(it, parent)
		a.children(n, path, key, fc.path)
	}
}

func (a *assembler) children(n *rust.Node, path []string, parent, file string) {
	ordinals := make(map[string]int)
	for _, c := range n.Children {
		it := a.item(c, path, file)
		if c.Kind == rust.NodeOpaque {
			it.Ordinal = ordinals[c.Name]
			ordinals[c.Name]++
		}
		a.finish(it)
		key := a.insert(it, parent)
		a.children(c, path, key, file)
	}
}

func (a *assembler) module(n *rust.Node, path []string, parent string, fc fileContext) {
	it := a.item(n, path, fc.path)
	modPath := append(append([]string(nil), path...), n.Name)

	if n.Body != nil {
		it.Doc = joinDocs(n.Doc, n.Body.Doc)
		it.Hidden = n.Hidden || n.Body.Hidden
		it.Attrs = append(append([]string(nil), n.Attrs...), n.Body.Attrs...)
		it.Imports = imports(n.Body.Imports)
		a.finish(it)
		key := a.insert(it, parent)
		a.items(n.Body, modPath, key, fc.inlineChild(n.Name))
		return
	}

	loc := a.located[n]
	src := a.files[loc.path]
	switch {
	case loc.path == "":
		tried := make([]string, len(loc.tried))
		for i, t := range loc.tried {
			tried[i] = a.rel(t)
		}
		a.placeholder(it, parent, fmt.Sprintf("module `%s` has no source file (tried %s)", n.Name, strings.Join(tried, ", ")))
		return
	case src == nil || src.err != nil:
		var err error = errors.New("not loaded")
		if src != nil {
			err = src.err
		}
		a.placeholder(it, parent, fmt.Sprintf("module `%s`: reading %s: %v", n.Name, a.rel(loc.path), err))
		return
	case a.visited[loc.path]:
		slog.Debug("module file already read", "module", n.Name, "path", loc.path)
		a.finish(it)
		a.insert(it, parent)
		return
	}

	a.visited[loc.path] = true
	a.res.Files++
	f := src.file
	it.Decl = it.Location
	it.Location = index.Location{File: a.rel(loc.path), StartLine: 1, EndLine: f.Lines}
	it.Doc = joinDocs(n.Doc, f.Doc)
	it.Hidden = n.Hidden || f.Hidden
	it.Attrs = append(append([]string(nil), n.Attrs...), f.Attrs...)
	it.Imports = imports(f.Imports)
	it.Problems = a.syntaxProblems(f)
	a.finish(it)
	key := a.insert(it, parent)
	a.items(&f.Module, modPath, key, src.context())
}

// placeholder records a declared module whose file could not be read.
func (a *assembler) placeholder(it *index.Item, parent, msg string) {
	it.Placeholder = true
	it.Partial = true
	it.Problems = append(it.Problems, index.Problem{
		Severity: index.SeverityWarning,
		Code:     index.CodeIncompleteCrate,
		Message:  msg,
		Line:     it.Location.StartLine,
	})
	a.res.Placeholders++
	a.finish(it)
	a.insert(it, parent)
}

func (a *assembler) item(n *rust.Node, path []string, file string) *index.Item {
	it := &index.Item{
		Crate:      a.crate.name,
		Kind:       kindOf(n.Kind),
		Name:       n.Name,
		Path:       path,
		Visibility: visibilityOf(n.Vis),
		Signature:  n.Sig.String(),
		SigTokens:  n.Sig.Tokens,
		Doc:        n.Doc,
		Location:   index.Location{File: a.rel(file), StartLine: n.StartLine, EndLine: n.EndLine},
		Attrs:      n.Attrs,
		Generics:   n.Generics,
		Hidden:     n.Hidden,
		Cfg:        n.Cfg,
		Raw:        n.Raw,
	}
	for _, r := range n.Sig.Refs {
		kind := index.TypeUse
		if r.Role == rust.RoleTrait {
			kind = index.TraitImpl
		}
		it.Refs = append(it.Refs, index.Reference{RawText: r.Path, Kind: kind, Origin: index.FromSignature, Slot: r.Token})
	}
	if n.Kind == rust.NodeImpl {
		it.Impl = &index.ImplInfo{SelfRef: n.SelfRef, TraitRef: n.TraitRef}
	}
	return it
}

// finish adds the references that depend on the item's final doc text and
// imports: intra-doc links and `pub use` re-exports.
func (a *assembler) finish(it *index.Item) {
	for _, l := range markdown.ExtractLinks(it.Doc) {
		dl := index.DocLink{
			Target:    l.Target,
			URL:       l.URL,
			Label:     l.Label,
			Start:     l.Start,
			End:       l.End,
			DestStart: l.DestStart,
			DestEnd:   l.DestEnd,
		}
		if l.URL != "" {
			dl.Path = l.Target
		} else {
			t, _ := markdown.ParseTarget(l.Target)
			dl.Path, dl.Disambig = t.Path, t.Disambig
		}
		it.Refs = append(it.Refs, index.Reference{RawText: dl.Path, Kind: index.DocLinkRef, Origin: index.FromDoc, Slot: len(it.DocLinks)})
		it.DocLinks = append(it.DocLinks, dl)
	}
	for i, imp := range it.Imports {
		if imp.Public && imp.Alias != "_" {
			it.Refs = append(it.Refs, index.Reference{RawText: imp.Path, Kind: index.TypeUse, Origin: index.FromImport, Slot: i})
		}
	}
}

func imports(in []rust.Import) []index.Import {
	if len(in) == 0 {
		return nil
	}
	out := make([]index.Import, len(in))
	for i, imp := range in {
		out[i] = index.Import{
			Alias:  imp.Alias,
			Path:   imp.Path,
			Glob:   imp.Glob,
			Public: imp.Vis == rust.VisPublic,
			Line:   imp.Line,
		}
	}
	return out
}

func joinDocs(outer, inner string) string {
	switch {
	case outer == "":
		return inner
	case inner == "":
		return outer
	}
	return outer + "\n\n" + inner
}

func kindOf(k rust.NodeKind) index.Kind {
	switch k {
	case rust.NodeModule:
		return index.KindModule
	case rust.NodeStruct:
		return index.KindStruct
	case rust.NodeEnum:
		return index.KindEnum
	case rust.NodeTrait:
		return index.KindTrait
	case rust.NodeFn:
		return index.KindFunction
	case rust.NodeImpl:
		return index.KindImpl
	case rust.NodeConst, rust.NodeStatic:
		return index.KindConst
	case rust.NodeTypeAlias:
		return index.KindTypeAlias
	case rust.NodeField:
		return index.KindField
	case rust.NodeVariant:
		return index.KindVariant
	}
	return index.KindOpaque
}

func visibilityOf(v rust.Visibility) index.Visibility {
	switch v {
	case rust.VisPublic:
		return index.Public
	case rust.VisCrate:
		return index.CrateVisible
	case rust.VisRestricted:
		return index.Restricted
	}
	return index.Private
}
