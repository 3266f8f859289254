package walker

import (
	"strings"

	"github.com/jcdickinson/cratedoc/internal/rust"
)

// scope canonicalizes paths written in one module well enough to decide
// which impl blocks describe the same header. It knows only the module's
// own declarations and imports; anything else is left to the resolver.
type scope struct {
	crate string
	path  []string
	local map[string]bool
	uses  map[string]string
}

func newScope(crate string, path []string, m *rust.Module) *scope {
	s := &scope{
		crate: crate,
		path:  path,
		local: make(map[string]bool),
		uses:  make(map[string]string),
	}
	for _, n := range m.Items {
		switch n.Kind {
		case rust.NodeModule, rust.NodeStruct, rust.NodeEnum, rust.NodeTrait, rust.NodeTypeAlias:
			s.local[n.Name] = true
		}
	}
	for _, imp := range m.Imports {
		if !imp.Glob && imp.Alias != "" && imp.Alias != "_" {
			s.uses[imp.Alias] = imp.Path
		}
	}
	return s
}

// canonical rewrites p to a crate-rooted path. It reports false when the
// first segment cannot be placed without resolution.
func (s *scope) canonical(p string, depth int) (string, bool) {
	if depth > 8 {
		return "", false
	}
	segs := rust.Segments(p)
	head := segs[0]
	switch {
	case head == "":
		return strings.Join(segs[1:], "::"), len(segs) > 1
	case head == "crate":
		return join([]string{s.crate}, segs[1:]), true
	case head == "self" || head == "super":
		base := append([]string(nil), s.path...)
		i := 0
		if head == "self" {
			i = 1
		}
		for ; i < len(segs) && segs[i] == "super"; i++ {
			if len(base) <= 1 {
				return "", false
			}
			base = base[:len(base)-1]
		}
		return join(base, segs[i:]), true
	case s.local[head]:
		return join(s.path, segs), true
	}
	if target, ok := s.uses[head]; ok {
		c, ok := s.canonical(target, depth+1)
		if !ok {
			return "", false
		}
		return join([]string{c}, segs[1:]), true
	}
	if len(segs) > 1 || rust.Prelude(head) {
		// an external crate path or a prelude name
		return p, true
	}
	return "", false
}

// mergeName renders an impl header with every path canonicalized. Impl
// blocks with equal merge names in one crate are the same impl. It returns
// "" when a path cannot be canonicalized.
func (s *scope) mergeName(n *rust.Node) string {
	ok := true
	text := func(i int) (string, bool) {
		t := n.Sig.Tokens[i]
		if t.Ref < 0 {
			return "", false
		}
		c, good := s.canonical(n.Sig.Refs[t.Ref].Path, 0)
		if !good {
			ok = false
			return "", false
		}
		return c, true
	}
	name, _ := rust.Render(n.Sig.Tokens, text)
	if !ok {
		return ""
	}
	return name
}

// selfPath returns the crate-rooted path of an impl's self type when it
// names a type of this crate, else "".
func (s *scope) selfPath(n *rust.Node) string {
	if n.SelfRef < 0 || n.SelfRef >= len(n.Sig.Refs) {
		return ""
	}
	c, ok := s.canonical(n.Sig.Refs[n.SelfRef].Path, 0)
	if !ok || !strings.HasPrefix(c, s.crate+"::") {
		return ""
	}
	if i := strings.IndexByte(c, '<'); i >= 0 {
		c = c[:i]
	}
	return c
}

func join(base, rest []string) string {
	return strings.Join(append(append([]string(nil), base...), rest...), "::")
}
