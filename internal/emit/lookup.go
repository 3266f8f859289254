package emit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jcdickinson/cratedoc/internal/index"
)

// URIScheme prefixes item URIs: rsdoc://<crate>/<version>/<path>.
const URIScheme = "rsdoc://"

func (o *Output) build() {
	o.once.Do(func() {
		o.byID = make(map[index.ItemID]*ItemSummary)
		o.byPath = make(map[string]*ItemSummary)
		o.inCrate = make(map[[2]string]*ItemSummary)
		o.crates = make(map[string]*Crate)
		for ci := range o.Crates {
			c := &o.Crates[ci]
			o.crates[c.Name] = c
			for mi := range c.Modules {
				for ii := range c.Modules[mi].Items {
					s := &c.Modules[mi].Items[ii]
					o.byID[s.ID] = s
					if _, dup := o.byPath[s.Path]; !dup {
						o.byPath[s.Path] = s
					}
					if _, dup := o.inCrate[[2]string{c.Name, s.Path}]; !dup {
						o.inCrate[[2]string{c.Name, s.Path}] = s
					}
				}
			}
		}
	})
}

// Item returns the summary of id.
func (o *Output) Item(id index.ItemID) (*ItemSummary, bool) {
	o.build()
	s, ok := o.byID[id]
	return s, ok
}

func (o *Output) Crate(name string) (*Crate, bool) {
	o.build()
	c, ok := o.crates[name]
	return c, ok
}

// Lookup finds items by qualified path. An exact path match wins; otherwise
// every item whose path ends with query, or whose name equals it, is
// returned in path order. limit <= 0 means no limit.
func (o *Output) Lookup(query string, limit int) []*ItemSummary {
	o.build()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	if s, ok := o.byPath[query]; ok {
		return []*ItemSummary{s}
	}
	var out []*ItemSummary
	for _, s := range o.byID {
		if s.Kind == index.KindImpl {
			continue
		}
		if s.Name == query || strings.HasSuffix(s.Path, "::"+query) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// URI returns the rsdoc URI of id. Impl blocks point at the implementations
// section of their self type.
func (o *Output) URI(id index.ItemID) string {
	o.build()
	s, ok := o.byID[id]
	if !ok {
		if c := o.rootCrate(id); c != nil {
			return fmt.Sprintf("%s%s/%s/%s", URIScheme, c.Name, version(c.Version), c.Name)
		}
		return ""
	}
	if s.Kind == index.KindImpl && s.SelfType != "" {
		if u := o.URI(s.SelfType); u != "" {
			return u + "#implementations"
		}
	}
	v := ""
	if c, ok := o.crates[s.Crate]; ok {
		v = c.Version
	}
	return fmt.Sprintf("%s%s/%s/%s", URIScheme, s.Crate, version(v), s.Path)
}

func (o *Output) rootCrate(id index.ItemID) *Crate {
	for i := range o.Crates {
		if o.Crates[i].Root == id {
			return &o.Crates[i]
		}
	}
	return nil
}

func version(v string) string {
	if v == "" {
		return "latest"
	}
	return v
}

// ParseURI splits rsdoc://<crate>/<version>/<path>#<fragment>.
func ParseURI(uri string) (crate, ver, path, fragment string, err error) {
	rest, ok := strings.CutPrefix(uri, URIScheme)
	if !ok {
		return "", "", "", "", fmt.Errorf("invalid URI %q: expected %s<crate>/<version>/<path>", uri, URIScheme)
	}
	rest, fragment, _ = strings.Cut(rest, "#")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[2] == "" {
		return "", "", "", "", fmt.Errorf("invalid URI %q: expected %s<crate>/<version>/<path>", uri, URIScheme)
	}
	return parts[0], parts[1], parts[2], fragment, nil
}

// Resolve returns the item an rsdoc URI names. A crate path names the crate
// root and yields a nil summary.
func (o *Output) Resolve(uri string) (*Crate, *ItemSummary, error) {
	name, ver, path, _, err := ParseURI(uri)
	if err != nil {
		return nil, nil, err
	}
	c, ok := o.Crate(name)
	if !ok {
		return nil, nil, fmt.Errorf("crate %s is not indexed", name)
	}
	if ver != "latest" && ver != "" && ver != version(c.Version) {
		return nil, nil, fmt.Errorf("crate %s is indexed at version %s, not %s", name, version(c.Version), ver)
	}
	if path == c.Name {
		return c, nil, nil
	}
	s, ok := o.inCrate[[2]string{name, path}]
	if !ok {
		return nil, nil, fmt.Errorf("no item %s in crate %s", path, name)
	}
	return c, s, nil
}
