package emit

import (
	"sync"

	"github.com/jcdickinson/cratedoc/internal/index"
)

// Output is the neutral documentation tree handed to a renderer: one entry
// per crate plus the ordered diagnostics of the whole build.
type Output struct {
	Hash        string             `json:"index_hash"`
	LinkScheme  string             `json:"link_scheme"`
	Crates      []Crate            `json:"crates"`
	Diagnostics []index.Diagnostic `json:"diagnostics"`

	once    sync.Once
	byID    map[index.ItemID]*ItemSummary
	byPath  map[string]*ItemSummary
	inCrate map[[2]string]*ItemSummary
	crates  map[string]*Crate
}

type Crate struct {
	Name         string       `json:"crate_name"`
	Version      string       `json:"version"`
	Root         index.ItemID `json:"root"`
	Doc          string       `json:"doc,omitempty"`
	Partial      bool         `json:"partial,omitempty"`
	Dependencies []string     `json:"dependencies,omitempty"`
	Reexports    []Reexport   `json:"reexports,omitempty"`
	Modules      []Module     `json:"modules"`

	// Warnings and External hold the crate root's own doc links and
	// re-exports.
	Warnings []Warning     `json:"warnings,omitempty"`
	External []ExternalRef `json:"external,omitempty"`
}

// Module lists the items declared directly in one module. The crate root is
// the first module of its crate.
type Module struct {
	ID      index.ItemID  `json:"id"`
	Path    string        `json:"path"`
	Partial bool          `json:"partial,omitempty"`
	Items   []ItemSummary `json:"items"`
}

type ItemSummary struct {
	ID             index.ItemID     `json:"id"`
	Kind           index.Kind       `json:"kind"`
	Name           string           `json:"name"`
	Path           string           `json:"path"`
	Crate          string           `json:"crate"`
	Visibility     index.Visibility `json:"visibility"`
	Signature      string           `json:"signature,omitempty"`
	SignatureLinks []SignatureLink  `json:"signature_links,omitempty"`
	Doc            string           `json:"doc,omitempty"`
	Summary        string           `json:"summary,omitempty"`
	SourceLocation index.Location   `json:"source_location"`
	Parent         index.ItemID     `json:"parent,omitempty"`
	Children       []index.ItemID   `json:"children,omitempty"`
	Attrs          []string         `json:"attrs,omitempty"`
	Partial        bool             `json:"partial,omitempty"`
	Placeholder    bool             `json:"placeholder,omitempty"`
	Raw            string           `json:"raw,omitempty"`

	// Impl blocks only.
	SelfType index.ItemID `json:"self_type,omitempty"`
	Trait    index.ItemID `json:"trait,omitempty"`
	// Types and traits: the impl blocks naming them.
	Impls []index.ItemID `json:"impls,omitempty"`
	// Crates and modules: public `use` re-exports.
	Reexports []Reexport `json:"reexports,omitempty"`

	External []ExternalRef `json:"external,omitempty"`
	Warnings []Warning     `json:"warnings,omitempty"`
}

// SignatureLink tags the byte range [Start, End) of Signature with the item
// the type path there resolved to.
type SignatureLink struct {
	Start  int          `json:"start"`
	End    int          `json:"end"`
	Target index.ItemID `json:"target"`
	Path   string       `json:"path"`
}

type Reexport struct {
	Name   string       `json:"name"`
	Path   string       `json:"path"`
	Glob   bool         `json:"glob,omitempty"`
	Target index.ItemID `json:"target,omitempty"`
	Crate  string       `json:"crate,omitempty"` // external crate, when not indexed
}

// ExternalRef is a reference into a crate that was not indexed.
type ExternalRef struct {
	Path  string `json:"path"`
	Crate string `json:"crate,omitempty"`
}

// Warning is a reference problem attached to the item that wrote it.
type Warning struct {
	Code       index.Code     `json:"code"`
	Message    string         `json:"message"`
	RawText    string         `json:"raw_text"`
	Candidates []index.ItemID `json:"candidates,omitempty"`
}
