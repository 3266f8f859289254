package index

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"
)

// Index is a finalized, read-only documentation index. It is safe for
// concurrent use. Items returned by Lookup are copies; their slices must
// not be modified.
type Index struct {
	items   map[ItemID]*Item
	byKey   map[string]ItemID
	order   []ItemID
	crates  []CrateTree
	refs    []Reference
	diags   []Diagnostic
	members map[ItemID]map[string][]ItemID

	hashOnce sync.Once
	hash     string
}

// Finalized reports whether ix was produced by Builder.Finalize.
func (ix *Index) Finalized() bool {
	return ix != nil && ix.items != nil
}

func (ix *Index) Lookup(id ItemID) (Item, bool) {
	it, ok := ix.items[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

func (ix *Index) ByKey(key string) (ItemID, bool) {
	id, ok := ix.byKey[key]
	return id, ok
}

func (ix *Index) Len() int { return len(ix.order) }

// Items returns every item id, crate by crate in pre-order.
func (ix *Index) Items() []ItemID {
	return append([]ItemID(nil), ix.order...)
}

func (ix *Index) Crates() []CrateTree {
	return append([]CrateTree(nil), ix.crates...)
}

func (ix *Index) Crate(name string) (CrateTree, bool) {
	for _, c := range ix.crates {
		if c.Name == name {
			return c, true
		}
	}
	return CrateTree{}, false
}

// References returns all references in item order. An item's references
// start at its RefBase.
func (ix *Index) References() []Reference {
	return append([]Reference(nil), ix.refs...)
}

func (ix *Index) Diagnostics() []Diagnostic {
	return append([]Diagnostic(nil), ix.diags...)
}

// Members returns the direct children of scope named name.
func (ix *Index) Members(scope ItemID, name string) []ItemID {
	return ix.members[scope][name]
}

// Kind returns the kind of id without copying the item.
func (ix *Index) Kind(id ItemID) Kind {
	if it, ok := ix.items[id]; ok {
		return it.Kind
	}
	return KindOpaque
}

// QualifiedPath returns the display path of id.
func (ix *Index) QualifiedPath(id ItemID) string {
	it, ok := ix.items[id]
	if !ok {
		return ""
	}
	return it.QualifiedPath(ix.items[it.Parent])
}

// HiddenFrom reports whether id or any ancestor is #[doc(hidden)].
func (ix *Index) HiddenFrom(id ItemID) bool {
	for id != "" {
		it, ok := ix.items[id]
		if !ok {
			return false
		}
		if it.Hidden {
			return true
		}
		id = it.Parent
	}
	return false
}

// ContentHash is a hash over the canonical serialization of the index.
// Two indexes built from the same sources have the same hash.
func (ix *Index) ContentHash() string {
	ix.hashOnce.Do(func() {
		h := xxh3.New()
		w := func(parts ...string) {
			for _, p := range parts {
				h.WriteString(strconv.Itoa(len(p)))
				h.WriteString(":")
				h.WriteString(p)
			}
		}
		for _, id := range ix.order {
			it := ix.items[id]
			w(string(it.ID), it.Key, it.Kind.String(), it.Name, it.Visibility.String(),
				it.Signature, it.Doc, it.Location.File,
				strconv.Itoa(it.Location.StartLine), strconv.Itoa(it.Location.EndLine),
				string(it.Parent), strconv.FormatBool(it.Hidden), strconv.FormatBool(it.Partial),
				strings.Join(it.Attrs, "\x00"), it.Version)
			for _, imp := range it.Imports {
				w(imp.Alias, imp.Path, strconv.FormatBool(imp.Glob), strconv.FormatBool(imp.Public))
			}
			for _, r := range it.Refs {
				w(r.RawText, r.Kind.String(), strconv.Itoa(int(r.Origin)), strconv.Itoa(r.Slot))
			}
		}
		for _, d := range ix.diags {
			w(string(d.Code), string(d.ItemID), d.Message)
		}
		ix.hash = fmt.Sprintf("%016x", h.Sum64())
	})
	return ix.hash
}
