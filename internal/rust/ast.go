package rust

import "strings"

// NodeKind classifies a parsed declaration.
type NodeKind int

const (
	NodeModule NodeKind = iota
	NodeStruct
	NodeEnum
	NodeTrait
	NodeFn
	NodeImpl
	NodeConst
	NodeStatic
	NodeTypeAlias
	NodeField
	NodeVariant
	NodeOpaque
)

var nodeKindNames = map[NodeKind]string{
	NodeModule:    "module",
	NodeStruct:    "struct",
	NodeEnum:      "enum",
	NodeTrait:     "trait",
	NodeFn:        "fn",
	NodeImpl:      "impl",
	NodeConst:     "const",
	NodeStatic:    "static",
	NodeTypeAlias: "type",
	NodeField:     "field",
	NodeVariant:   "variant",
	NodeOpaque:    "opaque",
}

func (k NodeKind) String() string {
	if s, ok := nodeKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Visibility as written on a declaration.
type Visibility int

const (
	VisPrivate Visibility = iota
	VisCrate
	VisRestricted
	VisPublic
)

// Module is the item list of a file or of an inline `mod name { ... }` block.
type Module struct {
	Doc     string
	Hidden  bool
	Attrs   []string
	Items   []*Node
	Imports []Import
}

// File is the parse result of one source file.
type File struct {
	Module
	Lines  int
	Errors []SyntaxError
}

// SyntaxError is a malformed region that was recovered from.
type SyntaxError struct {
	Line int
	Msg  string
}

// Node is one declaration. Fields not applicable to a kind are zero.
type Node struct {
	Kind      NodeKind
	Name      string
	Vis       Visibility
	Doc       string
	Hidden    bool
	Cfg       bool
	Attrs     []string
	Sig       Signature
	Generics  []string
	StartLine int
	EndLine   int
	Children  []*Node

	// Modules.
	Body     *Module // nil for `mod name;`
	PathAttr string

	// Impls. Indices into Sig.Refs, -1 when absent.
	SelfRef  int
	TraitRef int
	Negative bool

	// Opaque nodes keep the raw text they were parsed from.
	Raw string
}

// Import is one name introduced by a `use` declaration or `extern crate`.
// Path is the full path as written with `::` separators; Alias is the name
// bound in the module, empty for glob imports.
type Import struct {
	Alias string
	Path  string
	Glob  bool
	Vis   Visibility
	Line  int
}

// Segments splits an import or reference path. A leading `::` yields an
// empty first segment.
func Segments(path string) []string {
	return strings.Split(path, "::")
}
