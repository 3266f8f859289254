package resolve

import (
	"github.com/jcdickinson/cratedoc/internal/index"
	"github.com/jcdickinson/cratedoc/internal/rust"
)

type outcome struct {
	to     index.ItemID
	reason Reason
	cands  []index.ItemID
	crate  string
}

// state is shared by all resolutions of one index. Everything but out and
// done is read-only once the impl headers are resolved.
type state struct {
	ix       *index.Index
	refs     []index.Reference
	items    map[index.ItemID]*index.Item
	crates   map[string]index.ItemID
	impls    []index.ItemID
	implsFor map[index.ItemID][]index.ItemID
	implSelf map[index.ItemID]index.ItemID
	out      []outcome
	done     []bool
}

func newState(ix *index.Index) *state {
	refs := ix.References()
	s := &state{
		ix:       ix,
		refs:     refs,
		items:    make(map[index.ItemID]*index.Item, ix.Len()),
		crates:   make(map[string]index.ItemID),
		implsFor: make(map[index.ItemID][]index.ItemID),
		implSelf: make(map[index.ItemID]index.ItemID),
		out:      make([]outcome, len(refs)),
		done:     make([]bool, len(refs)),
	}
	for _, id := range ix.Items() {
		it, _ := ix.Lookup(id)
		s.items[id] = &it
		if it.Kind == index.KindImpl && it.Impl != nil {
			s.impls = append(s.impls, id)
		}
	}
	for _, c := range ix.Crates() {
		s.crates[c.Name] = c.Root
	}
	return s
}

// filter selects the item kinds a path segment may name.
type filter func(index.Kind) bool

func typeNS(k index.Kind) bool {
	switch k {
	case index.KindStruct, index.KindEnum, index.KindTrait, index.KindTypeAlias:
		return true
	}
	return false
}

func traitNS(k index.Kind) bool { return k == index.KindTrait }

func anyNS(k index.Kind) bool { return k != index.KindImpl }

// pathNS admits items that can have path children.
func pathNS(k index.Kind) bool {
	switch k {
	case index.KindCrate, index.KindModule, index.KindStruct, index.KindEnum, index.KindTrait:
		return true
	}
	return false
}

func disambiguated(d string) filter {
	is := func(kinds ...index.Kind) filter {
		return func(k index.Kind) bool {
			for _, want := range kinds {
				if k == want {
					return true
				}
			}
			return false
		}
	}
	switch d {
	case "":
		return anyNS
	case "struct":
		return is(index.KindStruct)
	case "enum":
		return is(index.KindEnum)
	case "trait":
		return is(index.KindTrait)
	case "fn":
		return is(index.KindFunction)
	case "mod":
		return is(index.KindModule, index.KindCrate)
	case "const":
		return is(index.KindConst)
	case "type":
		return typeNS
	case "macro":
		return is(index.KindOpaque)
	case "value":
		return is(index.KindFunction, index.KindConst, index.KindVariant)
	case "field":
		return is(index.KindField)
	case "variant":
		return is(index.KindVariant)
	}
	return func(index.Kind) bool { return false }
}

var externalRoots = map[string]bool{
	"std": true, "core": true, "alloc": true, "proc_macro": true, "test": true,
}

func (s *state) resolve(i int) outcome {
	ref := s.refs[i]
	from := s.items[ref.From]
	if ref.RawText == "" {
		return outcome{reason: ReasonUnresolved}
	}

	final, container := filter(typeNS), false
	switch {
	case ref.Origin == index.FromImport:
		final = anyNS
		if from.Imports[ref.Slot].Glob {
			final = pathNS
		}
	case ref.Kind == index.TraitImpl:
		final = traitNS
	case ref.Kind == index.DocLinkRef:
		d := from.DocLinks[ref.Slot].Disambig
		if d == "prim" {
			return outcome{reason: ReasonExternal, crate: "std"}
		}
		final, container = disambiguated(d), true
	}

	l := &lookup{s: s, from: from, seen: make(map[importKey]bool)}
	scope := ref.Scope
	if scope == "" {
		scope = s.scopeOf(from)
	}
	f := l.walk(scope, rust.Segments(ref.RawText), final, container)
	if len(f.ids) > 1 {
		f.ids = s.narrow(scope, f.ids)
	}
	switch {
	case len(f.ids) == 1:
		return outcome{to: f.ids[0]}
	case len(f.ids) > 1:
		return outcome{reason: ReasonAmbiguous, cands: f.ids}
	case f.ext:
		return outcome{reason: ReasonExternal, crate: f.crate}
	}
	return outcome{reason: ReasonUnresolved}
}

func (s *state) kind(id index.ItemID) index.Kind {
	if it, ok := s.items[id]; ok {
		return it.Kind
	}
	return index.KindOpaque
}

// scopeOf is the module whose names an item's references are written in.
func (s *state) scopeOf(it *index.Item) index.ItemID {
	if it.Kind == index.KindCrate || it.Kind == index.KindModule {
		return it.ID
	}
	return it.Module
}

func (s *state) parentModule(m index.ItemID) index.ItemID {
	if it, ok := s.items[m]; ok {
		return it.Module
	}
	return ""
}

// containerOf is the struct, enum, trait or impl an item belongs to.
func (s *state) containerOf(it *index.Item) index.ItemID {
	switch s.kind(it.Parent) {
	case index.KindStruct, index.KindEnum, index.KindTrait, index.KindImpl:
		return it.Parent
	}
	return ""
}

// selfType is what `Self` names inside it.
func (s *state) selfType(it *index.Item) index.ItemID {
	switch it.Kind {
	case index.KindStruct, index.KindEnum, index.KindTrait:
		return it.ID
	case index.KindImpl:
		return s.implSelf[it.ID]
	}
	switch s.kind(it.Parent) {
	case index.KindStruct, index.KindEnum, index.KindTrait:
		return it.Parent
	case index.KindImpl:
		return s.implSelf[it.Parent]
	}
	return ""
}

func (s *state) members(scope index.ItemID, name string, f filter) []index.ItemID {
	var out []index.ItemID
	for _, id := range s.ix.Members(scope, name) {
		if k := s.kind(id); k != index.KindImpl && f(k) {
			out = append(out, id)
		}
	}
	return out
}

// narrow keeps the candidates declared in the innermost module enclosing
// scope, if that leaves exactly one.
func (s *state) narrow(scope index.ItemID, ids []index.ItemID) []index.ItemID {
	depth := make(map[index.ItemID]int)
	d := 0
	for m := scope; m != ""; m = s.parentModule(m) {
		depth[m] = d
		d++
	}
	best, bestDepth, tie := index.ItemID(""), -1, false
	for _, id := range ids {
		dd, ok := depth[s.items[id].Module]
		if !ok {
			continue
		}
		switch {
		case bestDepth < 0 || dd < bestDepth:
			best, bestDepth, tie = id, dd, false
		case dd == bestDepth:
			tie = true
		}
	}
	if best == "" || tie {
		return ids
	}
	return []index.ItemID{best}
}

type importKey struct {
	mod  index.ItemID
	slot int
}

// found is the result of looking up a path or a path prefix.
type found struct {
	ids   []index.ItemID
	ext   bool
	crate string
}

func (f *found) add(g found) {
	for _, id := range g.ids {
		dup := false
		for _, have := range f.ids {
			if have == id {
				dup = true
				break
			}
		}
		if !dup {
			f.ids = append(f.ids, id)
		}
	}
	if g.ext && !f.ext {
		f.ext, f.crate = true, g.crate
	}
}

// lookup resolves one reference. seen guards against import cycles.
type lookup struct {
	s       *state
	from    *index.Item
	seen    map[importKey]bool
	extGlob bool
}

const maxImportDepth = 32

// walk resolves segs relative to scope; the last segment must pass final.
func (l *lookup) walk(scope index.ItemID, segs []string, final filter, container bool) found {
	if len(segs) == 0 {
		return found{}
	}
	s := l.s
	var cur index.ItemID
	rest := segs[1:]
	switch head := segs[0]; head {
	case "":
		if len(segs) < 2 {
			return found{}
		}
		id, ok := s.crates[segs[1]]
		if !ok {
			return found{ext: true, crate: segs[1]}
		}
		cur, rest = id, segs[2:]
	case "crate":
		cur = s.crates[l.from.Crate]
	case "self":
		cur = scope
	case "super":
		cur, rest = scope, segs
		for len(rest) > 0 && rest[0] == "super" {
			if cur = s.parentModule(cur); cur == "" {
				return found{}
			}
			rest = rest[1:]
		}
	case "Self":
		if cur = s.selfType(l.from); cur == "" {
			return found{}
		}
	default:
		f := pathNS
		if len(segs) == 1 {
			f = final
		}
		got := l.first(scope, head, f, container && len(segs) == 1)
		if got.ext || len(got.ids) != 1 {
			return got
		}
		cur = got.ids[0]
	}

	for i, seg := range rest {
		f := pathNS
		if i == len(rest)-1 {
			f = final
		}
		got := l.descend(cur, seg, f)
		if got.ext || len(got.ids) != 1 {
			return got
		}
		cur = got.ids[0]
	}
	if cur == "" || !final(s.kind(cur)) {
		return found{}
	}
	return found{ids: []index.ItemID{cur}}
}

// first finds the item a path's first segment names: (a) the container and
// the module itself, (b) the module's imports, (c) indexed crates and
// enclosing modules innermost first, (d) external crates and the prelude.
func (l *lookup) first(scope index.ItemID, name string, f filter, container bool) found {
	s := l.s
	if container {
		if c := s.containerOf(l.from); c != "" {
			if ids := s.members(c, name, f); len(ids) > 0 {
				return found{ids: ids}
			}
		}
	}
	if ids := s.members(scope, name, f); len(ids) > 0 {
		return found{ids: ids}
	}
	if got := l.imported(scope, name, f); got.ext || len(got.ids) > 0 {
		return got
	}
	if id, ok := s.crates[name]; ok && f(index.KindCrate) {
		return found{ids: []index.ItemID{id}}
	}
	for m := s.parentModule(scope); m != ""; m = s.parentModule(m) {
		if ids := s.members(m, name, f); len(ids) > 0 {
			return found{ids: ids}
		}
	}
	if _, indexed := s.crates[name]; indexed {
		return found{}
	}
	if root, ok := s.items[s.crates[l.from.Crate]]; ok {
		for _, e := range root.Externs {
			if e == name {
				return found{ext: true, crate: name}
			}
		}
	}
	switch {
	case externalRoots[name]:
		return found{ext: true, crate: name}
	case rust.Prelude(name), rust.Primitive(name), l.extGlob:
		return found{ext: true, crate: "std"}
	}
	return found{}
}

// imported looks name up through the `use` declarations of module mod.
// Explicit imports shadow glob imports.
func (l *lookup) imported(mod index.ItemID, name string, f filter) found {
	m, ok := l.s.items[mod]
	if !ok || len(l.seen) >= maxImportDepth {
		return found{}
	}
	var explicit found
	for i, imp := range m.Imports {
		if imp.Glob || imp.Alias != name {
			continue
		}
		key := importKey{mod, i}
		if l.seen[key] {
			continue
		}
		l.seen[key] = true
		explicit.add(l.walk(mod, rust.Segments(imp.Path), f, false))
		delete(l.seen, key)
	}
	if explicit.ext || len(explicit.ids) > 0 {
		return explicit
	}

	var globbed found
	for i, imp := range m.Imports {
		if !imp.Glob {
			continue
		}
		key := importKey{mod, i}
		if l.seen[key] {
			continue
		}
		l.seen[key] = true
		base := l.walk(mod, rust.Segments(imp.Path), pathNS, false)
		if base.ext {
			l.extGlob = true
		} else if len(base.ids) == 1 {
			got := l.descend(base.ids[0], name, f)
			globbed.add(found{ids: got.ids})
		}
		delete(l.seen, key)
	}
	return globbed
}

// descend looks up seg inside item id: module members and re-exports, or
// the fields, variants, trait items and impl members of a type.
func (l *lookup) descend(id index.ItemID, seg string, f filter) found {
	s := l.s
	switch s.kind(id) {
	case index.KindCrate, index.KindModule:
		if ids := s.members(id, seg, f); len(ids) > 0 {
			return found{ids: ids}
		}
		return l.imported(id, seg, f)
	case index.KindStruct, index.KindEnum, index.KindTrait:
		var got found
		got.add(found{ids: s.members(id, seg, f)})
		for _, impl := range s.implsFor[id] {
			got.add(found{ids: s.members(impl, seg, f)})
		}
		return got
	}
	return found{}
}
