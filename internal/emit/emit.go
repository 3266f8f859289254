// Package emit converts a finalized index and its resolution result into the
// neutral output tree, and renders single items as markdown pages.
package emit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jcdickinson/cratedoc/internal/index"
	"github.com/jcdickinson/cratedoc/internal/markdown"
	"github.com/jcdickinson/cratedoc/internal/resolve"
	"github.com/jcdickinson/cratedoc/internal/rust"
)

// DefaultScheme prefixes item ids in rewritten doc links.
const DefaultScheme = "item:"

type Option func(*emitter)

// WithLinkScheme sets the prefix written before item ids in doc links.
func WithLinkScheme(scheme string) Option {
	return func(e *emitter) {
		if scheme != "" {
			e.scheme = scheme
		}
	}
}

type emitter struct {
	ix     *index.Index
	res    *resolve.Result
	scheme string
	diags  []index.Diagnostic
}

// Emit builds the output tree. Items hidden with #[doc(hidden)], and
// everything beneath them, are left out; links to them render as plain
// text. Unresolved and ambiguous references become warnings on the item
// that wrote them and diagnostics in the output.
func Emit(ix *index.Index, res *resolve.Result, opts ...Option) *Output {
	if !ix.Finalized() {
		panic("emit: index is not finalized")
	}
	e := &emitter{ix: ix, res: res, scheme: DefaultScheme}
	for _, o := range opts {
		o(e)
	}

	out := &Output{Hash: ix.ContentHash(), LinkScheme: e.scheme}
	for _, ct := range ix.Crates() {
		out.Crates = append(out.Crates, e.crate(ct))
	}
	for _, u := range res.Unresolved {
		e.failure(u)
	}
	out.Diagnostics = append(ix.Diagnostics(), e.diags...)
	index.SortDiagnostics(out.Diagnostics)
	return out
}

func (e *emitter) crate(ct index.CrateTree) Crate {
	root, _ := e.ix.Lookup(ct.Root)
	c := Crate{
		Name:         ct.Name,
		Version:      ct.Version,
		Root:         ct.Root,
		Partial:      root.Partial,
		Dependencies: root.Externs,
	}
	mods := make(map[index.ItemID]int)
	for _, id := range ct.Items {
		if e.ix.HiddenFrom(id) {
			continue
		}
		it, _ := e.ix.Lookup(id)
		if it.Kind == index.KindCrate || it.Kind == index.KindModule {
			mods[id] = len(c.Modules)
			c.Modules = append(c.Modules, Module{ID: id, Path: e.ix.QualifiedPath(id), Partial: it.Partial})
		}
		if it.Kind == index.KindCrate {
			var own ItemSummary
			c.Doc = e.doc(&it, &own)
			c.Reexports = e.reexports(&it, &own)
			c.Warnings, c.External = own.Warnings, own.External
			continue
		}
		m, ok := mods[it.Module]
		if !ok {
			continue
		}
		c.Modules[m].Items = append(c.Modules[m].Items, e.item(&it))
	}
	return c
}

func (e *emitter) item(it *index.Item) ItemSummary {
	s := ItemSummary{
		ID:             it.ID,
		Kind:           it.Kind,
		Name:           it.Name,
		Path:           e.path(it.ID),
		Crate:          it.Crate,
		Visibility:     it.Visibility,
		SourceLocation: it.Location,
		Parent:         it.Parent,
		Attrs:          it.Attrs,
		Partial:        it.Partial,
		Placeholder:    it.Placeholder,
		Raw:            it.Raw,
	}
	s.Signature, s.SignatureLinks = e.signature(it)
	s.Doc = e.doc(it, &s)
	s.Summary = markdown.Summary(s.Doc)
	for _, c := range it.Children {
		if !e.ix.HiddenFrom(c) {
			s.Children = append(s.Children, c)
		}
	}

	switch it.Kind {
	case index.KindImpl:
		s.SelfType = e.target(it, it.Impl.SelfRef)
		s.Trait = e.target(it, it.Impl.TraitRef)
	case index.KindStruct, index.KindEnum, index.KindTrait, index.KindTypeAlias:
		for _, impl := range e.res.Impls(it.ID) {
			if !e.ix.HiddenFrom(impl) {
				s.Impls = append(s.Impls, impl)
			}
		}
	case index.KindModule:
		s.Reexports = e.reexports(it, &s)
	}

	for k, r := range it.Refs {
		if r.Origin == index.FromDoc || r.Origin == index.FromImport {
			continue // reported by doc and reexports
		}
		e.note(&s, it.RefBase+k)
	}
	return s
}

// target returns the visible item that slot of it.Refs resolved to.
func (e *emitter) target(it *index.Item, slot int) index.ItemID {
	if slot < 0 {
		return ""
	}
	l, ok := e.res.Link(it.RefBase + slot)
	if !ok || e.ix.HiddenFrom(l.To) {
		return ""
	}
	return l.To
}

// path is the display path of id. Members of an impl block are listed
// under the type the impl resolved to, wherever the block was written.
func (e *emitter) path(id index.ItemID) string {
	it, ok := e.ix.Lookup(id)
	if !ok || e.ix.Kind(it.Parent) != index.KindImpl {
		return e.ix.QualifiedPath(id)
	}
	impl, _ := e.ix.Lookup(it.Parent)
	if impl.Impl != nil {
		if self := e.target(&impl, impl.Impl.SelfRef); self != "" {
			return e.ix.QualifiedPath(self) + "::" + it.Name
		}
	}
	return e.ix.QualifiedPath(id)
}

// signature shortens every resolved type path to its last segment and
// records where it landed in the rendered text.
func (e *emitter) signature(it *index.Item) (string, []SignatureLink) {
	if len(it.SigTokens) == 0 {
		return it.Signature, nil
	}
	targets := make(map[int]index.ItemID)
	text := func(i int) (string, bool) {
		t := it.SigTokens[i]
		if t.Ref < 0 {
			return "", false
		}
		l, ok := e.res.Link(it.RefBase + t.Ref)
		if !ok || e.ix.HiddenFrom(l.To) {
			return "", false
		}
		targets[i] = l.To
		segs := rust.Segments(t.Text)
		return segs[len(segs)-1], true
	}
	sig, spans := rust.Render(it.SigTokens, text)
	var links []SignatureLink
	for _, sp := range spans {
		if to, ok := targets[sp.Token]; ok {
			links = append(links, SignatureLink{Start: sp.Start, End: sp.End, Target: to, Path: e.path(to)})
		}
	}
	return sig, links
}

// doc rewrites resolved doc-link markers to point at item ids. s may be nil
// for items that are not emitted as summaries.
func (e *emitter) doc(it *index.Item, s *ItemSummary) string {
	var edits []markdown.Edit
	for k, r := range it.Refs {
		if r.Origin != index.FromDoc {
			continue
		}
		dl := it.DocLinks[r.Slot]
		ref := it.RefBase + k
		l, ok := e.res.Link(ref)
		if !ok {
			if s != nil {
				e.note(s, ref)
			}
			continue
		}
		switch {
		case e.ix.HiddenFrom(l.To):
			if !definition(it.Doc, dl) {
				edits = append(edits, markdown.Edit{Start: dl.Start, End: dl.End, Text: dl.Label})
			}
		case dl.DestEnd > dl.DestStart:
			edits = append(edits, markdown.Edit{Start: dl.DestStart, End: dl.DestEnd, Text: e.scheme + string(l.To)})
		default:
			edits = append(edits, markdown.Edit{Start: dl.Start, End: dl.End, Text: "[" + dl.Label + "](" + e.scheme + string(l.To) + ")"})
		}
	}
	return markdown.ApplyEdits(it.Doc, edits)
}

// definition reports whether dl is a `[ref]: dest` line.
func definition(doc string, dl index.DocLink) bool {
	m := doc[dl.Start:dl.End]
	i := strings.IndexByte(m, ']')
	return i >= 0 && i+1 < len(m) && m[i+1] == ':'
}

// reexports lists the public imports of a module. s may be nil as in doc.
func (e *emitter) reexports(it *index.Item, s *ItemSummary) []Reexport {
	var out []Reexport
	for k, r := range it.Refs {
		if r.Origin != index.FromImport {
			continue
		}
		imp := it.Imports[r.Slot]
		re := Reexport{Name: imp.Alias, Path: imp.Path, Glob: imp.Glob}
		ref := it.RefBase + k
		if l, ok := e.res.Link(ref); ok {
			if e.ix.HiddenFrom(l.To) {
				continue
			}
			re.Target = l.To
		} else if f, ok := e.res.Failure(ref); ok && f.Reason == resolve.ReasonExternal {
			re.Crate = f.Crate
		} else if s != nil {
			e.note(s, ref)
		}
		out = append(out, re)
	}
	return out
}

// note attaches the failure of ref, if any, to s.
func (e *emitter) note(s *ItemSummary, ref int) {
	f, ok := e.res.Failure(ref)
	if !ok {
		return
	}
	if f.Reason == resolve.ReasonExternal {
		for _, x := range s.External {
			if x.Path == f.RawText {
				return
			}
		}
		s.External = append(s.External, ExternalRef{Path: f.RawText, Crate: f.Crate})
		return
	}
	s.Warnings = append(s.Warnings, Warning{
		Code:       index.Code(f.Reason),
		Message:    e.message(f),
		RawText:    f.RawText,
		Candidates: f.Candidates,
	})
}

// failure turns an unresolved or ambiguous reference into a diagnostic.
func (e *emitter) failure(f resolve.Unresolved) {
	if f.Reason == resolve.ReasonExternal {
		return
	}
	it, _ := e.ix.Lookup(f.From)
	e.diags = append(e.diags, index.Diagnostic{
		Severity: index.SeverityWarning,
		Code:     index.Code(f.Reason),
		ItemID:   f.From,
		Message:  e.message(f),
		Location: it.Location,
	})
}

func (e *emitter) message(f resolve.Unresolved) string {
	what := "type"
	switch f.Kind {
	case index.TraitImpl:
		what = "trait"
	case index.DocLinkRef:
		what = "doc link"
	}
	from := e.path(f.From)
	if f.Reason != resolve.ReasonAmbiguous {
		return fmt.Sprintf("unresolved %s `%s` in %s", what, f.RawText, from)
	}
	paths := make([]string, len(f.Candidates))
	for i, c := range f.Candidates {
		paths[i] = e.path(c)
	}
	sort.Strings(paths)
	return fmt.Sprintf("ambiguous %s `%s` in %s: could be %s", what, f.RawText, from, strings.Join(paths, " or "))
}
