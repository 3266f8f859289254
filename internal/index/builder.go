package index

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"
)

const shardCount = 64

// Builder accumulates items. Insert may be called from many goroutines;
// Finalize is the single join point after which the builder is frozen.
type Builder struct {
	gate   sync.RWMutex
	done   bool
	shards [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	item   *Item
	parent string
	losers []*Item
	frags  []fragment // impl blocks merged under this key
}

type fragment struct {
	item   *Item
	parent string
}

func NewBuilder() *Builder {
	return &Builder{}
}

// ChildKey returns the canonical key an item gets when inserted under
// parent. Impls are keyed by crate and MergeName so that blocks for the
// same type merge wherever they are written.
func ChildKey(parent string, it *Item) string {
	switch it.Kind {
	case KindCrate:
		return it.Name
	case KindModule:
		return parent + "::" + it.Name
	case KindImpl:
		name := it.MergeName
		if name == "" {
			name = parent + " " + it.Name
		}
		return it.Crate + "::impl " + name
	}
	k := parent + "::" + it.Kind.tag() + " " + it.Name
	if it.Ordinal > 0 {
		k += "#" + strconv.Itoa(it.Ordinal)
	}
	return k
}

// Insert adds an item under the item keyed parent and returns its key.
// Re-inserting the same declaration is a no-op. A conflicting declaration
// keeps whichever location sorts first and returns a *DuplicateError.
func (b *Builder) Insert(it *Item, parent string) (string, error) {
	b.gate.RLock()
	defer b.gate.RUnlock()
	if b.done {
		panic("index: Insert after Finalize")
	}
	if it.Kind != KindCrate && parent == "" {
		return "", fmt.Errorf("index: %s %q has no parent", it.Kind, it.Name)
	}
	key := ChildKey(parent, it)
	cp := *it
	cp.Key = key

	sh := &b.shards[xxh3.HashString(key)%shardCount]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.entries == nil {
		sh.entries = make(map[string]*entry)
	}
	e, ok := sh.entries[key]
	if !ok {
		e = &entry{item: &cp, parent: parent}
		if cp.Kind == KindImpl {
			e.frags = []fragment{{&cp, parent}}
		}
		sh.entries[key] = e
		return key, nil
	}
	if e.item.Location == cp.Location {
		return key, nil
	}
	if cp.Kind == KindImpl && e.item.Kind == KindImpl {
		for _, f := range e.frags {
			if f.item.Location == cp.Location {
				return key, nil
			}
		}
		e.frags = append(e.frags, fragment{&cp, parent})
		return key, nil
	}
	winner, loser := e.item, &cp
	if cp.Location.Less(winner.Location) {
		winner, loser = &cp, e.item
		e.parent = parent
	}
	e.item = winner
	e.losers = append(e.losers, loser)
	if winner.Cfg || loser.Cfg {
		return key, nil
	}
	return key, &DuplicateError{Key: key, Kept: winner.Location, Dropped: loser.Location}
}

// Finalize freezes the builder and produces the Index. With strict set,
// a crate that has placeholder modules fails with *IncompleteCrateError;
// otherwise placeholders and their ancestors are marked Partial.
func (b *Builder) Finalize(strict bool) (*Index, error) {
	b.gate.Lock()
	if b.done {
		b.gate.Unlock()
		panic("index: Finalize called twice")
	}
	b.done = true
	b.gate.Unlock()

	entries := make(map[string]*entry)
	for i := range b.shards {
		for k, e := range b.shards[i].entries {
			if len(e.frags) > 0 {
				e.item, e.parent = mergeImpl(e.frags)
			}
			entries[k] = e
		}
	}
	dropShadowed(entries)
	dropOrphans(entries)

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var placeholders []string
	for _, k := range keys {
		if entries[k].item.Placeholder {
			placeholders = append(placeholders, k)
		}
	}
	if strict && len(placeholders) > 0 {
		return nil, &IncompleteCrateError{Modules: placeholders}
	}

	ids := assignIDs(keys)
	ix := &Index{
		items:   make(map[ItemID]*Item, len(keys)),
		byKey:   make(map[string]ItemID, len(keys)),
		members: make(map[ItemID]map[string][]ItemID),
	}
	for _, k := range keys {
		e := entries[k]
		it := *e.item
		it.ID = ids[k]
		it.Parent = ids[e.parent]
		it.Children = nil
		if it.Decl.File == "" {
			it.Decl = it.Location
		}
		if it.Kind == KindImpl {
			info := ImplInfo{SelfRef: -1, TraitRef: -1}
			if it.Impl != nil {
				info = *it.Impl
			}
			info.Fragments = make([]Location, len(e.frags))
			for i, f := range e.frags {
				info.Fragments[i] = f.item.Location
			}
			sort.Slice(info.Fragments, func(i, j int) bool { return info.Fragments[i].Less(info.Fragments[j]) })
			it.Impl = &info
		}
		ix.items[it.ID] = &it
		ix.byKey[k] = it.ID
	}

	var roots []*Item
	for _, k := range keys {
		it := ix.items[ids[k]]
		if it.Kind == KindCrate {
			roots = append(roots, it)
			continue
		}
		p := ix.items[it.Parent]
		p.Children = append(p.Children, it.ID)
	}
	for _, it := range ix.items {
		sortChildren(ix, it)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Name < roots[j].Name })

	for _, root := range roots {
		tree := CrateTree{Name: root.Name, Version: root.Version, Root: root.ID}
		ix.walk(root, "", func(it *Item, module ItemID) {
			it.Module = module
			tree.Items = append(tree.Items, it.ID)
			ix.order = append(ix.order, it.ID)
			it.RefBase = len(ix.refs)
			own := module
			if it.Kind == KindCrate || it.Kind == KindModule {
				own = it.ID
			} else if id, ok := ids[strings.Join(it.Path, "::")]; ok {
				own = id
			}
			it.Refs = append([]Reference(nil), it.Refs...)
			for i := range it.Refs {
				r := &it.Refs[i]
				r.From = it.ID
				r.Scope = own
				if id, ok := ids[r.scope]; ok {
					r.Scope = id
				}
				ix.refs = append(ix.refs, *r)
			}
			if it.Parent != "" {
				ix.addMember(it.Parent, it)
			}
		})
		ix.crates = append(ix.crates, tree)
	}

	for _, k := range placeholders {
		for id := ids[k]; id != ""; id = ix.items[id].Parent {
			ix.items[id].Partial = true
		}
	}

	ix.diags = collectDiagnostics(ix, entries, keys, ids)
	return ix, nil
}

func (ix *Index) walk(it *Item, module ItemID, fn func(*Item, ItemID)) {
	fn(it, module)
	if it.Kind == KindCrate || it.Kind == KindModule {
		module = it.ID
	}
	for _, c := range it.Children {
		ix.walk(ix.items[c], module, fn)
	}
}

func (ix *Index) addMember(parent ItemID, it *Item) {
	m := ix.members[parent]
	if m == nil {
		m = make(map[string][]ItemID)
		ix.members[parent] = m
	}
	m[it.Name] = append(m[it.Name], it.ID)
}

func sortChildren(ix *Index, it *Item) {
	sort.Slice(it.Children, func(i, j int) bool {
		a, b := ix.items[it.Children[i]], ix.items[it.Children[j]]
		if a.Decl != b.Decl {
			return a.Decl.Less(b.Decl)
		}
		return a.Key < b.Key
	})
}

// mergeImpl combines the blocks of one impl. The block written in the self
// type's module owns the merged item, else the first by location. Each
// block contributes its doc, doc links and problems; the owner's header
// references stand for all of them.
func mergeImpl(frags []fragment) (*Item, string) {
	if len(frags) == 1 {
		return frags[0].item, frags[0].parent
	}
	sort.Slice(frags, func(i, j int) bool { return frags[i].item.Location.Less(frags[j].item.Location) })
	owner := 0
	for i, f := range frags {
		if f.item.SelfPath != "" && selfModule(f.item.SelfPath) == strings.Join(f.item.Path, "::") {
			owner = i
			break
		}
	}

	ordered := append([]fragment{frags[owner]}, frags[:owner]...)
	ordered = append(ordered, frags[owner+1:]...)
	it := *ordered[0].item
	it.Refs = append([]Reference(nil), it.Refs...)
	it.DocLinks = append([]DocLink(nil), it.DocLinks...)
	it.Problems = append([]Problem(nil), it.Problems...)
	for i := range it.Problems {
		if it.Problems[i].File == "" {
			it.Problems[i].File = it.Location.File
		}
	}
	var doc strings.Builder
	doc.WriteString(it.Doc)
	for _, f := range ordered[1:] {
		o := f.item
		for _, p := range o.Problems {
			if p.File == "" {
				p.File = o.Location.File
			}
			it.Problems = append(it.Problems, p)
		}
		if o.Doc == "" {
			continue
		}
		if doc.Len() > 0 {
			doc.WriteString("\n\n")
		}
		shift, base := doc.Len(), len(it.DocLinks)
		doc.WriteString(o.Doc)
		for _, dl := range o.DocLinks {
			dl.Start += shift
			dl.End += shift
			if dl.DestEnd > dl.DestStart {
				dl.DestStart += shift
				dl.DestEnd += shift
			}
			it.DocLinks = append(it.DocLinks, dl)
		}
		for _, r := range o.Refs {
			if r.Origin != FromDoc {
				continue
			}
			r.Slot += base
			r.scope = strings.Join(o.Path, "::")
			it.Refs = append(it.Refs, r)
		}
	}
	it.Doc = doc.String()
	return &it, ordered[0].parent
}

// selfModule is the module part of a crate-rooted self type path.
func selfModule(self string) string {
	i := strings.LastIndex(self, "::")
	if i < 0 {
		return ""
	}
	return self[:i]
}

// assignIDs hashes each key; on the unlikely collision the later key in
// sorted order is rehashed with a counter.
func assignIDs(keys []string) map[string]ItemID {
	ids := make(map[string]ItemID, len(keys))
	seen := make(map[ItemID]bool, len(keys))
	for _, k := range keys {
		id := hashID(k)
		for n := 1; seen[id]; n++ {
			id = hashID(k + "\x00" + strconv.Itoa(n))
		}
		seen[id] = true
		ids[k] = id
	}
	return ids
}

func hashID(s string) ItemID {
	return ItemID(fmt.Sprintf("%016x", xxh3.HashString(s)))
}

// dropShadowed removes the descendants of displaced duplicates. Their keys
// extend the duplicate's key and their locations lie inside its span.
func dropShadowed(entries map[string]*entry) {
	type span struct {
		prefix string
		loc    Location
	}
	var spans []span
	for k, e := range entries {
		for _, l := range e.losers {
			spans = append(spans, span{prefix: k + "::", loc: l.Location})
		}
	}
	if len(spans) == 0 {
		return
	}
	shadowed := func(key string, loc Location) bool {
		for _, s := range spans {
			if strings.HasPrefix(key, s.prefix) && s.loc.contains(loc) {
				return true
			}
		}
		return false
	}
	for k, e := range entries {
		kept := e.losers[:0]
		for _, l := range e.losers {
			if !shadowed(k, l.Location) {
				kept = append(kept, l)
			}
		}
		e.losers = kept
		if shadowed(k, e.item.Location) {
			delete(entries, k)
		}
	}
}

func dropOrphans(entries map[string]*entry) {
	for {
		removed := false
		for k, e := range entries {
			if e.item.Kind == KindCrate {
				continue
			}
			if _, ok := entries[e.parent]; !ok {
				delete(entries, k)
				removed = true
			}
		}
		if !removed {
			return
		}
	}
}

func collectDiagnostics(ix *Index, entries map[string]*entry, keys []string, ids map[string]ItemID) []Diagnostic {
	var diags []Diagnostic
	for _, k := range keys {
		e := entries[k]
		it := ix.items[ids[k]]
		for _, l := range e.losers {
			if e.item.Cfg || l.Cfg {
				continue
			}
			diags = append(diags, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeDuplicateDeclaration,
				ItemID:   it.ID,
				Message:  fmt.Sprintf("duplicate %s `%s`; keeping the declaration at %s", it.Kind, it.QualifiedPath(ix.items[it.Parent]), it.Location),
				Location: l.Location,
			})
		}
		for _, p := range it.Problems {
			file := p.File
			if file == "" {
				file = it.Location.File
			}
			loc := Location{File: file, StartLine: p.Line, EndLine: p.Line}
			if p.Line == 0 {
				loc = it.Decl
			}
			diags = append(diags, Diagnostic{
				Severity: p.Severity,
				Code:     p.Code,
				ItemID:   it.ID,
				Message:  p.Message,
				Location: loc,
			})
		}
	}
	SortDiagnostics(diags)
	return diags
}
