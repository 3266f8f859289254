// Package index holds the documentation index: items collected from one or
// more crates, their references and diagnostics. A Builder accepts items
// concurrently; Finalize freezes it into an immutable Index with stable ids.
package index

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/jcdickinson/cratedoc/internal/rust"
)

// ItemID is a stable identifier derived from an item's canonical key.
type ItemID string

type Kind int

const (
	KindCrate Kind = iota
	KindModule
	KindStruct
	KindEnum
	KindTrait
	KindFunction
	KindImpl
	KindConst
	KindTypeAlias
	KindField
	KindVariant
	KindOpaque
)

var kindNames = []string{
	KindCrate:     "crate",
	KindModule:    "module",
	KindStruct:    "struct",
	KindEnum:      "enum",
	KindTrait:     "trait",
	KindFunction:  "function",
	KindImpl:      "impl",
	KindConst:     "const",
	KindTypeAlias: "type_alias",
	KindField:     "field",
	KindVariant:   "variant",
	KindOpaque:    "opaque",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, ok := ParseKind(string(b))
	if !ok {
		return fmt.Errorf("unknown item kind %q", b)
	}
	*k = v
	return nil
}

func ParseKind(s string) (Kind, bool) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), true
		}
	}
	return 0, false
}

// tag is the kind prefix used in canonical keys.
func (k Kind) tag() string {
	switch k {
	case KindFunction:
		return "fn"
	case KindTypeAlias:
		return "type"
	case KindOpaque:
		return "macro"
	}
	return k.String()
}

// IsType reports whether items of this kind live in the type namespace.
func (k Kind) IsType() bool {
	switch k {
	case KindCrate, KindModule, KindStruct, KindEnum, KindTrait, KindTypeAlias:
		return true
	}
	return false
}

type Visibility int

const (
	Private Visibility = iota
	CrateVisible
	Restricted
	Public
)

var visNames = []string{"private", "crate", "restricted", "public"}

func (v Visibility) String() string {
	if int(v) < len(visNames) {
		return visNames[v]
	}
	return fmt.Sprintf("Visibility(%d)", int(v))
}

func (v Visibility) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Visibility) UnmarshalText(b []byte) error {
	for i, n := range visNames {
		if n == string(b) {
			*v = Visibility(i)
			return nil
		}
	}
	return fmt.Errorf("unknown visibility %q", b)
}

// Location is a line range within a file. File paths are relative to the
// crate directory and use forward slashes.
type Location struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func (l Location) Less(o Location) bool {
	if l.File != o.File {
		return l.File < o.File
	}
	if l.StartLine != o.StartLine {
		return l.StartLine < o.StartLine
	}
	return l.EndLine < o.EndLine
}

func (l Location) contains(o Location) bool {
	return l.File == o.File && l.StartLine <= o.StartLine && o.EndLine <= l.EndLine
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.StartLine)
}

type RefKind int

const (
	TypeUse RefKind = iota
	TraitImpl
	DocLinkRef
)

func (k RefKind) String() string {
	switch k {
	case TypeUse:
		return "type_use"
	case TraitImpl:
		return "trait_impl"
	case DocLinkRef:
		return "doc_link"
	}
	return fmt.Sprintf("RefKind(%d)", int(k))
}

func (k RefKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Origin says where in an item a reference was written.
type Origin int

const (
	FromSignature Origin = iota // Slot is a signature token index
	FromDoc                     // Slot is a DocLinks index
	FromImport                  // Slot is an Imports index
)

// Reference is an unresolved textual mention of another item.
type Reference struct {
	From    ItemID
	RawText string
	Kind    RefKind
	Origin  Origin
	Slot    int
	Scope   ItemID // module the reference was written in, set by Finalize

	scope string // key of Scope when it differs from the item's own module
}

// DocLink is an intra-doc link marker found in an item's documentation.
// Start and End delimit the whole marker in Doc; DestStart and DestEnd
// delimit the written destination when the marker has one.
type DocLink struct {
	Target    string // as written
	Path      string
	Disambig  string
	URL       string // docs.rs URL the path was derived from
	Label     string
	Start     int
	End       int
	DestStart int
	DestEnd   int
}

// Import is a `use` binding of a module.
type Import struct {
	Alias  string
	Path   string
	Glob   bool
	Public bool
	Line   int
}

// ImplInfo links an impl to its header references, as indices into
// Item.Refs (-1 when absent).
type ImplInfo struct {
	SelfRef   int
	TraitRef  int
	Fragments []Location
}

// Problem is a diagnostic attached to an item before ids exist.
type Problem struct {
	Severity Severity
	Code     Code
	Message  string
	File     string // defaults to the item's file
	Line     int
}

// Item is one documented declaration.
type Item struct {
	ID          ItemID
	Key         string
	Crate       string
	Kind        Kind
	Name        string
	Path        []string // enclosing module path, crate name first
	Visibility  Visibility
	Signature   string
	SigTokens   []rust.SigToken
	Doc         string
	DocLinks    []DocLink
	Location    Location
	Decl        Location // declaration site, differs from Location for file modules
	Attrs       []string
	Generics    []string
	Hidden      bool
	Cfg         bool
	Partial     bool
	Placeholder bool
	Raw         string
	Ordinal     int    // disambiguates repeated names among opaque items
	MergeName   string // canonical impl header; impls with equal MergeName merge
	SelfPath    string // impls only: crate-rooted self type path, when known
	Impl        *ImplInfo
	Imports     []Import
	Refs        []Reference
	Problems    []Problem
	Version     string   // crate roots only
	Externs     []string // crate roots only: declared dependencies

	// Set by Finalize.
	Parent   ItemID
	Module   ItemID
	Children []ItemID
	RefBase  int
}

// QualifiedPath is the item's display path, e.g. `a::geom::Point::x`.
func (it *Item) QualifiedPath(parent *Item) string {
	switch it.Kind {
	case KindCrate:
		return it.Name
	case KindModule:
		return joinPath(it.Path, it.Name)
	case KindImpl:
		return joinPath(it.Path, "impl "+it.Name)
	}
	if parent != nil {
		switch parent.Kind {
		case KindStruct, KindEnum, KindTrait:
			return parent.QualifiedPath(nil) + "::" + it.Name
		case KindImpl:
			if parent.SelfPath != "" {
				return parent.SelfPath + "::" + it.Name
			}
			return joinPath(parent.Path, SelfName(parent.Name)) + "::" + it.Name
		}
	}
	return joinPath(it.Path, it.Name)
}

// SelfName reduces an impl header such as `Tr for &'a S<T, N>` to the
// written self type path, `S`. Headers whose self type is not a path are
// returned trimmed of the trait part only.
func SelfName(header string) string {
	if i := strings.LastIndex(header, " for "); i >= 0 {
		header = header[i+len(" for "):]
	}
	header = strings.TrimSpace(header)
	bare := header
	if i := strings.IndexAny(bare, "<+"); i >= 0 {
		bare = bare[:i]
	}
	f := strings.Fields(bare)
	if len(f) == 0 {
		return header
	}
	last := strings.TrimLeft(f[len(f)-1], "&*")
	if !isPath(last) {
		return header
	}
	return last
}

func isPath(s string) bool {
	if s == "" {
		return false
	}
	for _, seg := range strings.Split(s, "::") {
		if seg == "" {
			return false
		}
		for i, r := range seg {
			if r != '_' && !unicode.IsLetter(r) && (i == 0 || !unicode.IsDigit(r)) {
				return false
			}
		}
	}
	return true
}

func joinPath(path []string, name string) string {
	return strings.Join(append(append([]string(nil), path...), name), "::")
}

type CrateTree struct {
	Name    string
	Version string
	Root    ItemID
	Items   []ItemID // pre-order
}
