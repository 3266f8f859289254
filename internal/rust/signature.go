package rust

import "strings"

// RefRole says how a path in a signature is used.
type RefRole int

const (
	RoleType RefRole = iota
	RoleTrait
)

// SigToken is one rendered unit of a signature. A type path such as
// `a::geom::Point` is a single token; Ref is its index in Signature.Refs
// or -1.
type SigToken struct {
	Text  string `json:"text"`
	Punct bool   `json:"punct,omitempty"`
	Ref   int    `json:"ref"`
}

// TypeRef is a path named in a signature.
type TypeRef struct {
	Path  string
	Role  RefRole
	Token int
}

// Signature is the normalized declaration header of an item, without
// visibility, attributes or body.
type Signature struct {
	Tokens []SigToken
	Refs   []TypeRef
}

func (s Signature) String() string {
	out, _ := Render(s.Tokens, nil)
	return out
}

// Span locates a rendered reference token in a signature string.
type Span struct {
	Start int
	End   int
	Token int
}

// Render joins tokens with canonical spacing. When text is non-nil it may
// replace the displayed text of any token; spacing decisions always use the
// original token. Spans are returned for every token with a reference.
func Render(toks []SigToken, text func(i int) (string, bool)) (string, []Span) {
	var sb strings.Builder
	var spans []Span
	for i, t := range toks {
		if i > 0 && spaceBetween(toks, i) {
			sb.WriteByte(' ')
		}
		s := t.Text
		if text != nil {
			if alt, ok := text(i); ok {
				s = alt
			}
		}
		start := sb.Len()
		sb.WriteString(s)
		if t.Ref >= 0 {
			spans = append(spans, Span{Start: start, End: sb.Len(), Token: i})
		}
	}
	return sb.String(), spans
}

var noSpaceAfter = map[string]bool{
	"(": true, "[": true, "<": true, "&": true, "::": true, "#": true,
	"!": true, "?": true, ".": true, "..": true, "..=": true, "$": true,
}

var noSpaceBefore = map[string]bool{
	")": true, "]": true, ",": true, ";": true, ">": true, "::": true,
	":": true, ".": true, "..": true, "..=": true,
}

// Keywords that keep a space before a following '(' or '<'.
var spacedKeywords = map[string]bool{
	"mut": true, "dyn": true, "where": true, "as": true, "in": true,
	"unsafe": true, "extern": true, "const": true, "async": true,
	"ref": true, "move": true, "return": true, "static": true,
}

func spaceBetween(toks []SigToken, i int) bool {
	prev, next := toks[i-1], toks[i]
	p, n := prev.Text, next.Text
	switch {
	case p == "{" || n == "{" || n == "}":
		return true
	case prev.Punct && noSpaceAfter[p]:
		return false
	case next.Punct && noSpaceBefore[n]:
		return false
	case p == "*" && (n == "const" || n == "mut"):
		return false
	case p == "-" && i >= 2 && toks[i-2].Punct && toks[i-2].Text != ")" && toks[i-2].Text != "]":
		return false
	case n == "(" || n == "<":
		if !prev.Punct {
			return spacedKeywords[p]
		}
		return !(p == ">" && n == "(")
	case n == "!" && !prev.Punct && !keywords[p]:
		return false
	}
	return true
}

var keywords = map[string]bool{
	"as": true, "async": true, "await": true, "break": true, "const": true,
	"continue": true, "crate": true, "dyn": true, "else": true, "enum": true,
	"extern": true, "false": true, "fn": true, "for": true, "if": true,
	"impl": true, "in": true, "let": true, "loop": true, "match": true,
	"mod": true, "move": true, "mut": true, "pub": true, "ref": true,
	"return": true, "self": true, "Self": true, "static": true, "struct": true,
	"super": true, "trait": true, "true": true, "type": true, "unsafe": true,
	"use": true, "where": true, "while": true,
}

// Primitive reports whether name is a built-in scalar or str type.
func Primitive(name string) bool {
	switch name {
	case "bool", "char", "str", "u8", "u16", "u32", "u64", "u128", "usize",
		"i8", "i16", "i32", "i64", "i128", "isize", "f16", "f32", "f64", "f128":
		return true
	}
	return false
}

var prelude = map[string]bool{
	"Option": true, "Some": true, "None": true, "Result": true, "Ok": true, "Err": true,
	"Vec": true, "String": true, "Box": true, "ToString": true, "ToOwned": true,
	"Clone": true, "Copy": true, "Default": true, "Drop": true, "Eq": true,
	"PartialEq": true, "Ord": true, "PartialOrd": true, "Fn": true, "FnMut": true,
	"FnOnce": true, "From": true, "Into": true, "TryFrom": true, "TryInto": true,
	"Iterator": true, "IntoIterator": true, "DoubleEndedIterator": true,
	"ExactSizeIterator": true, "Extend": true, "FromIterator": true,
	"Send": true, "Sync": true, "Sized": true, "Unpin": true, "AsRef": true,
	"AsMut": true, "Debug": true, "Hash": true,
}

// Prelude reports whether name is available in every module without an
// import: the std prelude plus the derive macros that share its names.
func Prelude(name string) bool {
	return prelude[name]
}

type sigBuilder struct {
	sig      Signature
	generics map[string]bool
}

func newSigBuilder(generics []string) *sigBuilder {
	b := &sigBuilder{generics: map[string]bool{}}
	for _, g := range generics {
		b.generics[g] = true
	}
	return b
}

func (b *sigBuilder) word(s string) {
	b.sig.Tokens = append(b.sig.Tokens, SigToken{Text: s, Ref: -1})
}

func (b *sigBuilder) tok(t Token) {
	text := t.Text
	if t.Raw {
		text = "r#" + text
	}
	b.sig.Tokens = append(b.sig.Tokens, SigToken{Text: text, Punct: t.Kind == TokPunct, Ref: -1})
}

func (b *sigBuilder) toks(ts []Token) {
	for _, t := range ts {
		b.tok(t)
	}
}

// typ appends a type or bound expression, merging every path into a single
// token and recording a reference for paths that can name an item.
func (b *sigBuilder) typ(ts []Token, role RefRole) {
	for i := 0; i < len(ts); {
		if !startsPath(ts, i) {
			b.tok(ts[i])
			i++
			continue
		}
		j, segs := readPath(ts, i)
		text := strings.Join(segs, "::")
		if !b.referable(ts, i, j, segs) {
			b.sig.Tokens = append(b.sig.Tokens, SigToken{Text: text, Ref: -1})
			i = j
			continue
		}
		b.sig.Tokens = append(b.sig.Tokens, SigToken{Text: text, Ref: len(b.sig.Refs)})
		b.sig.Refs = append(b.sig.Refs, TypeRef{Path: text, Role: role, Token: len(b.sig.Tokens) - 1})
		i = j
	}
}

func (b *sigBuilder) referable(ts []Token, i, j int, segs []string) bool {
	if j < len(ts) {
		next := ts[j]
		if next.is("!") || next.is("=") || next.is(":") {
			return false
		}
	}
	first := segs[0]
	if first == "Self" || first == "self" && len(segs) == 1 {
		return false
	}
	if len(segs) == 1 && (Primitive(first) || b.generics[first] || first == "_") {
		return false
	}
	return true
}

func startsPath(ts []Token, i int) bool {
	t := ts[i]
	var prev Token
	if i > 0 {
		prev = ts[i-1]
	}
	if prev.is("::") || prev.is(".") || prev.Kind == TokLifetime {
		return false
	}
	if t.is("::") {
		if prev.Kind == TokIdent || prev.is(">") {
			return false
		}
		return i+1 < len(ts) && ts[i+1].Kind == TokIdent
	}
	if t.Kind != TokIdent {
		return false
	}
	if t.Raw {
		return true
	}
	switch t.Text {
	case "crate", "self", "super":
		return i+1 < len(ts) && ts[i+1].is("::")
	case "Self":
		return true
	}
	return !keywords[t.Text]
}

// readPath consumes `::`? ident (`::` ident)* starting at i. A turbofish
// `::<` ends the path.
func readPath(ts []Token, i int) (int, []string) {
	var segs []string
	j := i
	if ts[j].is("::") {
		segs = append(segs, "")
		j++
	}
	for j < len(ts) && ts[j].Kind == TokIdent {
		segs = append(segs, ts[j].Text)
		j++
		if j+1 < len(ts) && ts[j].is("::") && ts[j+1].Kind == TokIdent {
			j++
			continue
		}
		break
	}
	return j, segs
}
