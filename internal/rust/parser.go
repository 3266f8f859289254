package rust

import (
	"fmt"
	"strconv"
	"strings"
)

type bailout struct {
	line int
	msg  string
}

type blockKind int

const (
	blockModule blockKind = iota
	blockTrait
	blockTraitImpl
	blockImpl
	blockExtern
)

type attr struct {
	text   string
	doc    string
	isDoc  bool
	hidden bool
	cfg    bool
	path   string
}

type parser struct {
	src   string
	toks  []Token
	pos   int
	errs  []SyntaxError
	outer []string // generic parameters of the enclosing impl or trait
}

// Parse parses one source file. It never fails: malformed regions become
// opaque nodes and are listed in File.Errors.
func Parse(src string) *File {
	toks, lexErrs := Lex(src)
	p := &parser{src: src, toks: toks}
	for _, e := range lexErrs {
		p.errs = append(p.errs, SyntaxError(e))
	}
	f := &File{}
	f.Module = *p.parseItems(blockModule)
	for p.peek().Kind != TokEOF {
		// stray closing brace at top level
		p.errs = append(p.errs, SyntaxError{Line: p.peek().Line, Msg: "unexpected " + strconv.Quote(p.peek().Text)})
		p.next()
		f.Module.Items = append(f.Module.Items, p.parseItems(blockModule).Items...)
	}
	f.Errors = p.errs
	f.Lines = strings.Count(src, "\n")
	if !strings.HasSuffix(src, "\n") {
		f.Lines++
	}
	return f
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) peekN(n int) Token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() Token {
	t := p.toks[p.pos]
	if t.Kind != TokEOF {
		p.pos++
	}
	return t
}

func (p *parser) at(text string) bool { return p.peek().is(text) }

func (p *parser) accept(text string) bool {
	if p.at(text) {
		p.next()
		return true
	}
	return false
}

func (p *parser) fail(format string, args ...any) {
	panic(bailout{line: p.peek().Line, msg: fmt.Sprintf(format, args...)})
}

func (p *parser) expect(text string) Token {
	if !p.at(text) {
		p.fail("expected %q, found %s", text, p.describe())
	}
	return p.next()
}

func (p *parser) expectIdent() Token {
	t := p.peek()
	if t.Kind != TokIdent || (!t.Raw && keywords[t.Text] && t.Text != "self" && t.Text != "crate" && t.Text != "super") {
		p.fail("expected identifier, found %s", p.describe())
	}
	return p.next()
}

func (p *parser) describe() string {
	t := p.peek()
	if t.Kind == TokEOF {
		return "end of file"
	}
	return strconv.Quote(t.Text)
}

func (p *parser) lastLine() int {
	if p.pos == 0 {
		return 1
	}
	return p.toks[p.pos-1].Line
}

// try runs f, converting a bailout into a recorded syntax error.
func (p *parser) try(f func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b, isBail := r.(bailout)
			if !isBail {
				panic(r)
			}
			p.errs = append(p.errs, SyntaxError{Line: b.line, Msg: b.msg})
			ok = false
		}
	}()
	f()
	return true
}

func (p *parser) parseItems(kind blockKind) *Module {
	m := &Module{}
	var innerDocs []string
	for {
		t := p.peek()
		if t.Kind == TokEOF || t.is("}") {
			break
		}
		if t.Kind == TokDoc && t.Inner {
			p.next()
			innerDocs = append(innerDocs, t.Text)
			continue
		}
		if t.is("#") && p.peekN(1).is("!") {
			start := p.pos
			var a attr
			if !p.try(func() { a = p.parseAttr() }) {
				p.skipRecover(start)
				continue
			}
			switch {
			case a.isDoc:
				innerDocs = append(innerDocs, a.doc)
			case a.hidden:
				m.Hidden = true
				m.Attrs = append(m.Attrs, a.text)
			default:
				m.Attrs = append(m.Attrs, a.text)
			}
			continue
		}
		if t.is(";") {
			p.next()
			continue
		}
		start := p.pos
		var docs []string
		var attrs []attr
		if !p.try(func() { docs, attrs = p.leading() }) {
			p.skipRecover(start)
			continue
		}
		if t := p.peek(); t.Kind == TokEOF || t.is("}") {
			break
		}
		nodes, imps := p.item(docs, attrs, kind)
		m.Items = append(m.Items, nodes...)
		m.Imports = append(m.Imports, imps...)
	}
	m.Doc = joinDoc(innerDocs)
	return m
}

// leading consumes outer doc comments and attributes.
func (p *parser) leading() (docs []string, attrs []attr) {
	for {
		t := p.peek()
		switch {
		case t.Kind == TokDoc && !t.Inner:
			p.next()
			docs = append(docs, t.Text)
		case t.is("#") && !p.peekN(1).is("!"):
			a := p.parseAttr()
			if a.isDoc {
				docs = append(docs, a.doc)
			} else {
				attrs = append(attrs, a)
			}
		default:
			return docs, attrs
		}
	}
}

func (p *parser) parseAttr() attr {
	start := p.expect("#")
	p.accept("!")
	p.expect("[")
	body := p.collect("]")
	end := p.expect("]")
	a := attr{text: p.src[start.Offset:end.End]}
	if len(body) == 0 || body[0].Kind != TokIdent {
		return a
	}
	switch body[0].Text {
	case "doc":
		if len(body) >= 3 && body[1].is("=") && body[2].Kind == TokLiteral {
			a.isDoc = true
			a.doc = literalValue(body[2].Text)
		} else if len(body) >= 2 && body[1].is("(") {
			for _, t := range body[2:] {
				if t.is("hidden") {
					a.hidden = true
				}
			}
		}
	case "cfg":
		a.cfg = true
	case "path":
		if len(body) >= 3 && body[1].is("=") && body[2].Kind == TokLiteral {
			a.path = literalValue(body[2].Text)
		}
	}
	return a
}

// item parses one declaration, recovering to an opaque node on error.
func (p *parser) item(docs []string, attrs []attr, kind blockKind) (nodes []*Node, imps []Import) {
	start := p.pos
	ok := p.try(func() { nodes, imps = p.parseItem(docs, attrs, kind) })
	if ok {
		return nodes, imps
	}
	p.skipRecover(start)
	n := p.opaque(start, docs, attrs)
	n.Name = malformedName(p.toks[start:p.pos])
	return []*Node{n}, nil
}

func (p *parser) opaque(start int, docs []string, attrs []attr) *Node {
	end := p.pos
	if end <= start {
		end = start + 1
	}
	first, last := p.toks[start], p.toks[end-1]
	n := &Node{
		Kind:      NodeOpaque,
		Doc:       joinDoc(docs),
		StartLine: first.Line,
		EndLine:   last.Line,
		SelfRef:   -1,
		TraitRef:  -1,
		Raw:       p.src[first.Offset:last.End],
	}
	n.applyAttrs(attrs)
	return n
}

func malformedName(toks []Token) string {
	afterKeyword := false
	for _, t := range toks {
		if t.Kind != TokIdent {
			continue
		}
		if !t.Raw && itemKeywords[t.Text] {
			afterKeyword = true
			continue
		}
		if afterKeyword {
			return t.Text
		}
	}
	return "_"
}

var itemKeywords = map[string]bool{
	"fn": true, "struct": true, "enum": true, "trait": true, "impl": true,
	"mod": true, "use": true, "const": true, "static": true, "type": true,
	"pub": true, "union": true, "extern": true, "unsafe": true,
	"macro_rules": true, "async": true,
}

// skipRecover moves past a malformed item: to a ';' or balanced '}' at
// depth zero, to an unopened closer, or to an item keyword starting a line.
func (p *parser) skipRecover(start int) {
	p.pos = start
	startLine := p.peek().Line
	depth := 0
	for {
		t := p.peek()
		if t.Kind == TokEOF {
			return
		}
		if p.pos > start && depth == 0 && t.Line > startLine && p.toks[p.pos-1].Line < t.Line && beginsItem(t) {
			return
		}
		switch {
		case t.is("{") || t.is("(") || t.is("["):
			depth++
		case t.is("}") || t.is(")") || t.is("]"):
			if depth == 0 {
				if p.pos == start {
					p.next()
				}
				return
			}
			depth--
			if depth == 0 && t.is("}") {
				p.next()
				return
			}
		case t.is(";") && depth == 0:
			p.next()
			return
		}
		p.next()
	}
}

func beginsItem(t Token) bool {
	return t.Kind == TokDoc || t.is("#") || t.Kind == TokIdent && !t.Raw && itemKeywords[t.Text]
}

func (n *Node) applyAttrs(attrs []attr) {
	for _, a := range attrs {
		if a.hidden {
			n.Hidden = true
		}
		if a.cfg {
			n.Cfg = true
		}
		if a.path != "" {
			n.PathAttr = a.path
		}
		n.Attrs = append(n.Attrs, a.text)
	}
}

func (p *parser) parseVis() Visibility {
	if !p.at("pub") {
		if p.at("crate") && !p.peekN(1).is("::") {
			p.next()
			return VisCrate
		}
		return VisPrivate
	}
	p.next()
	if !p.at("(") {
		return VisPublic
	}
	inner := p.peekN(1)
	switch {
	case inner.is("crate") && p.peekN(2).is(")"):
		p.next()
		p.next()
		p.next()
		return VisCrate
	case inner.is("self") && p.peekN(2).is(")"):
		p.next()
		p.next()
		p.next()
		return VisPrivate
	case inner.is("super") && p.peekN(2).is(")"), inner.is("in"):
		p.next()
		p.collect(")")
		p.expect(")")
		return VisRestricted
	}
	// pub (T) in a tuple field: the parenthesis is the type
	return VisPublic
}

func (p *parser) parseItem(docs []string, attrs []attr, kind blockKind) ([]*Node, []Import) {
	first := p.peek()
	vis := p.parseVis()
	switch kind {
	case blockTrait, blockTraitImpl:
		vis = VisPublic
	}
	n := &Node{Vis: vis, Doc: joinDoc(docs), StartLine: first.Line, SelfRef: -1, TraitRef: -1}
	n.applyAttrs(attrs)

	// qualifiers
	q := p.pos
	for {
		t := p.toks[q]
		switch {
		case t.is("async") || t.is("unsafe") || t.is("default") && !p.toks[q+1].is("!") && p.toks[q+1].Kind == TokIdent:
			q++
			continue
		case t.is("safe") && (p.toks[q+1].is("fn") || p.toks[q+1].is("static")):
			q++
			continue
		case t.is("const") && (p.toks[q+1].is("fn") || p.toks[q+1].is("async") || p.toks[q+1].is("unsafe") || p.toks[q+1].is("extern")):
			q++
			continue
		case t.is("extern") && !p.toks[q+1].is("crate"):
			q++
			if p.toks[q].Kind == TokLiteral {
				q++
			}
			continue
		}
		break
	}
	kw := p.toks[q]

	switch {
	case kw.is("fn"):
		p.parseFn(n)
	case kw.is("{") && q > p.pos:
		return p.parseExternBlock(), nil
	case kw.is("impl"):
		p.parseImpl(n)
	case kw.is("trait") || kw.is("auto") && p.toks[q+1].is("trait"):
		p.parseTrait(n)
	case kw.is("static"):
		p.parseStatic(n)
	case q > p.pos:
		p.fail("expected item after qualifiers, found %s", strconv.Quote(kw.Text))
	case kw.is("mod"):
		p.parseMod(n)
	case kw.is("use"):
		return nil, p.parseUse(vis)
	case kw.is("extern") && p.peekN(1).is("crate"):
		return nil, p.parseExternCrate(vis)
	case kw.is("struct"):
		p.parseStruct(n, "struct")
	case kw.is("union") && p.peekN(1).Kind == TokIdent:
		p.parseStruct(n, "union")
	case kw.is("enum"):
		p.parseEnum(n)
	case kw.is("const"):
		if !p.parseConst(n) {
			return nil, nil
		}
	case kw.is("type"):
		p.parseTypeAlias(n)
	case kw.is("macro_rules") && p.peekN(1).is("!"):
		p.parseMacroRules(n)
	case kw.is("macro") && p.peekN(1).Kind == TokIdent:
		p.parseDeclMacro(n)
	case kw.Kind == TokIdent:
		p.parseMacroCall(n)
	default:
		p.fail("expected item, found %s", p.describe())
	}
	n.EndLine = p.lastLine()
	return []*Node{n}, nil
}

// collect gathers tokens up to a stop token at depth zero or an unmatched
// closing delimiter.
func (p *parser) collect(stops ...string) []Token {
	start := p.pos
	depth := 0
	for {
		t := p.peek()
		if t.Kind == TokEOF {
			break
		}
		if depth == 0 && (t.Kind == TokPunct || t.Kind == TokIdent) && contains(stops, t.Text) {
			break
		}
		if t.is("(") || t.is("[") || t.is("{") || t.is("<") {
			depth++
		} else if t.is(")") || t.is("]") || t.is("}") || t.is(">") {
			if depth == 0 {
				break
			}
			depth--
		}
		p.next()
	}
	return p.toks[start:p.pos]
}

// group consumes a balanced delimited group and returns it with delimiters.
func (p *parser) group() []Token {
	start := p.pos
	open := p.next()
	closer := map[string]string{"(": ")", "[": "]", "{": "}"}[open.Text]
	if closer == "" {
		p.pos = start
		p.fail("expected delimiter, found %s", p.describe())
	}
	depth := 1
	for depth > 0 {
		t := p.next()
		switch {
		case t.Kind == TokEOF:
			panic(bailout{line: open.Line, msg: "unclosed " + strconv.Quote(open.Text)})
		case t.is("(") || t.is("[") || t.is("{"):
			depth++
		case t.is(")") || t.is("]") || t.is("}"):
			depth--
		}
	}
	return p.toks[start:p.pos]
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// parseGenerics consumes an optional `<...>` parameter list.
func (p *parser) parseGenerics() ([]Token, []string) {
	if !p.at("<") {
		return nil, nil
	}
	start := p.pos
	depth := 0
	var names []string
	for {
		t := p.next()
		switch {
		case t.Kind == TokEOF:
			p.fail("unclosed generic parameter list")
		case t.is("<"):
			depth++
		case t.is(">"):
			depth--
		case t.is("(") || t.is("["):
			p.pos--
			p.group()
		}
		if depth == 0 {
			break
		}
		if depth == 1 && (t.is("<") || t.is(",")) {
			nt := p.peek()
			if nt.is("const") {
				nt = p.peekN(1)
			}
			if nt.Kind == TokIdent && !nt.is("const") {
				names = append(names, nt.Text)
			}
		}
	}
	return p.toks[start:p.pos], names
}

func (p *parser) parseWhere() []Token {
	if !p.at("where") {
		return nil
	}
	start := p.pos
	p.next()
	p.collect("{", ";", "=")
	return p.toks[start:p.pos]
}

func (p *parser) scope(own []string) []string {
	return append(append([]string(nil), p.outer...), own...)
}

func (p *parser) parseMod(n *Node) {
	n.Kind = NodeModule
	p.expect("mod")
	n.Name = p.expectIdent().Text
	b := newSigBuilder(nil)
	b.word("mod")
	b.word(n.Name)
	n.Sig = b.sig
	if p.accept(";") {
		return
	}
	p.expect("{")
	body := p.parseItems(blockModule)
	p.expect("}")
	n.Body = body
}

func (p *parser) parseStruct(n *Node, kw string) {
	n.Kind = NodeStruct
	p.expect(kw)
	n.Name = p.expectIdent().Text
	gToks, gNames := p.parseGenerics()
	n.Generics = gNames
	names := p.scope(gNames)
	b := newSigBuilder(names)
	b.word(kw)
	b.word(n.Name)
	b.typ(gToks, RoleType)
	var where []Token
	switch {
	case p.at("("):
		n.Children = p.tupleFields(names)
		where = p.parseWhere()
		p.expect(";")
	default:
		where = p.parseWhere()
		if p.at("{") {
			n.Children = p.namedFields(names)
		} else {
			p.expect(";")
		}
	}
	b.typ(where, RoleType)
	n.Sig = b.sig
}

func (p *parser) namedFields(generics []string) []*Node {
	var fields []*Node
	p.expect("{")
	for !p.at("}") {
		docs, attrs := p.leading()
		if p.at("}") {
			break
		}
		first := p.peek()
		vis := p.parseVis()
		name := p.expectIdent()
		p.expect(":")
		ty := p.collect(",", "}")
		if len(ty) == 0 {
			p.fail("expected field type, found %s", p.describe())
		}
		fb := newSigBuilder(generics)
		fb.tok(name)
		fb.word(":")
		fb.sig.Tokens[len(fb.sig.Tokens)-1].Punct = true
		fb.typ(ty, RoleType)
		f := &Node{Kind: NodeField, Name: name.Text, Vis: vis, Doc: joinDoc(docs), Sig: fb.sig, StartLine: first.Line, EndLine: p.lastLine(), SelfRef: -1, TraitRef: -1}
		f.applyAttrs(attrs)
		fields = append(fields, f)
		if !p.accept(",") {
			break
		}
	}
	p.expect("}")
	return fields
}

func (p *parser) tupleFields(generics []string) []*Node {
	var fields []*Node
	p.expect("(")
	for i := 0; !p.at(")"); i++ {
		docs, attrs := p.leading()
		first := p.peek()
		vis := p.parseVis()
		ty := p.collect(",", ")")
		if len(ty) == 0 {
			p.fail("expected field type, found %s", p.describe())
		}
		fb := newSigBuilder(generics)
		fb.typ(ty, RoleType)
		f := &Node{Kind: NodeField, Name: strconv.Itoa(i), Vis: vis, Doc: joinDoc(docs), Sig: fb.sig, StartLine: first.Line, EndLine: p.lastLine(), SelfRef: -1, TraitRef: -1}
		f.applyAttrs(attrs)
		fields = append(fields, f)
		if !p.accept(",") {
			break
		}
	}
	p.expect(")")
	return fields
}

func (p *parser) parseEnum(n *Node) {
	n.Kind = NodeEnum
	p.expect("enum")
	n.Name = p.expectIdent().Text
	gToks, gNames := p.parseGenerics()
	n.Generics = gNames
	names := p.scope(gNames)
	b := newSigBuilder(names)
	b.word("enum")
	b.word(n.Name)
	b.typ(gToks, RoleType)
	b.typ(p.parseWhere(), RoleType)
	n.Sig = b.sig
	p.expect("{")
	for !p.at("}") {
		docs, attrs := p.leading()
		if p.at("}") {
			break
		}
		first := p.peek()
		p.parseVis()
		name := p.expectIdent()
		vb := newSigBuilder(names)
		vb.tok(name)
		if p.at("{") || p.at("(") {
			vb.typ(p.group(), RoleType)
		}
		if p.at("=") {
			vb.tok(p.next())
			vb.toks(p.collect(",", "}"))
		}
		v := &Node{Kind: NodeVariant, Name: name.Text, Vis: VisPublic, Doc: joinDoc(docs), Sig: vb.sig, StartLine: first.Line, EndLine: p.lastLine(), SelfRef: -1, TraitRef: -1}
		v.applyAttrs(attrs)
		n.Children = append(n.Children, v)
		if !p.accept(",") {
			break
		}
	}
	p.expect("}")
}

func (p *parser) parseTrait(n *Node) {
	n.Kind = NodeTrait
	b := newSigBuilder(nil)
	for !p.at("trait") {
		b.tok(p.next())
	}
	p.expect("trait")
	b.word("trait")
	n.Name = p.expectIdent().Text
	b.word(n.Name)
	gToks, gNames := p.parseGenerics()
	n.Generics = gNames
	b.generics = map[string]bool{}
	for _, g := range gNames {
		b.generics[g] = true
	}
	b.typ(gToks, RoleType)
	if p.at(":") {
		b.tok(p.next())
		b.typ(p.collect("where", "{", "="), RoleType)
	}
	if p.at("=") {
		b.tok(p.next())
		b.typ(p.collect(";"), RoleType)
		p.expect(";")
		n.Sig = b.sig
		return
	}
	b.typ(p.parseWhere(), RoleType)
	n.Sig = b.sig
	n.Children = p.body(gNames, blockTrait)
}

// body parses the `{ ... }` item list of a trait or impl.
func (p *parser) body(generics []string, kind blockKind) []*Node {
	saved := p.outer
	p.outer = p.scope(generics)
	defer func() { p.outer = saved }()
	p.expect("{")
	m := p.parseItems(kind)
	p.expect("}")
	return m.Items
}

func (p *parser) parseImpl(n *Node) {
	n.Kind = NodeImpl
	b := newSigBuilder(nil)
	for !p.at("impl") {
		if t := p.next(); !t.is("default") {
			b.tok(t)
		}
	}
	p.expect("impl")
	b.word("impl")
	gToks, gNames := p.parseGenerics()
	n.Generics = gNames
	for _, g := range p.scope(gNames) {
		b.generics[g] = true
	}
	b.typ(gToks, RoleType)
	n.Negative = p.accept("!")

	head := p.implHead()
	var traitToks, selfToks []Token
	if p.at("for") {
		traitToks = head
		p.next()
		selfToks = p.collect("where", "{")
	} else {
		selfToks = head
	}
	if len(selfToks) == 0 {
		p.fail("expected type in impl header, found %s", p.describe())
	}

	kind := blockImpl
	var traitText string
	if traitToks != nil {
		kind = blockTraitImpl
		if n.Negative {
			b.word("!")
			b.sig.Tokens[len(b.sig.Tokens)-1].Punct = true
		}
		before := len(b.sig.Refs)
		from := len(b.sig.Tokens)
		b.typ(traitToks, RoleTrait)
		if len(b.sig.Refs) > before {
			n.TraitRef = before
		}
		traitText, _ = Render(b.sig.Tokens[from:], nil)
		b.word("for")
	}
	before := len(b.sig.Refs)
	from := len(b.sig.Tokens)
	b.typ(selfToks, RoleType)
	if len(b.sig.Refs) > before {
		n.SelfRef = before
	}
	selfText, _ := Render(b.sig.Tokens[from:], nil)
	b.typ(p.parseWhere(), RoleType)
	n.Sig = b.sig

	n.Name = selfText
	if traitToks != nil {
		if n.Negative {
			traitText = "!" + traitText
		}
		n.Name = traitText + " for " + selfText
	}
	n.Children = p.body(gNames, kind)
}

// implHead collects the impl header up to `for` (not `for<`), `where` or
// the body at depth zero.
func (p *parser) implHead() []Token {
	start := p.pos
	depth := 0
	for {
		t := p.peek()
		if t.Kind == TokEOF {
			p.fail("unexpected end of file in impl header")
		}
		if depth == 0 && (t.is("where") || t.is("{") || t.is("for") && !p.peekN(1).is("<")) {
			break
		}
		switch {
		case t.is("<") || t.is("(") || t.is("["):
			depth++
		case t.is(">") || t.is(")") || t.is("]"):
			depth--
		}
		p.next()
	}
	return p.toks[start:p.pos]
}

func (p *parser) parseFn(n *Node) {
	n.Kind = NodeFn
	var quals []Token
	for !p.at("fn") {
		if t := p.next(); !t.is("default") {
			quals = append(quals, t)
		}
	}
	p.expect("fn")
	n.Name = p.expectIdent().Text
	gToks, gNames := p.parseGenerics()
	n.Generics = gNames
	b := newSigBuilder(p.scope(gNames))
	b.toks(quals)
	b.word("fn")
	b.word(n.Name)
	b.typ(gToks, RoleType)
	b.tok(p.expect("("))
	for !p.at(")") {
		p.leading()
		if p.at(")") {
			break
		}
		param := p.collect(",", ")")
		if len(param) == 0 {
			p.fail("expected parameter, found %s", p.describe())
		}
		p.param(b, param)
		if !p.at(",") {
			break
		}
		comma := p.next()
		if !p.at(")") {
			b.tok(comma)
		}
	}
	b.tok(p.expect(")"))
	if p.at("->") {
		b.tok(p.next())
		b.typ(p.collect("where", "{", ";"), RoleType)
	}
	b.typ(p.parseWhere(), RoleType)
	n.Sig = b.sig
	if p.at("{") {
		p.group()
		return
	}
	p.expect(";")
}

func (p *parser) param(b *sigBuilder, toks []Token) {
	colon := -1
	depth := 0
	isSelf := false
	for i, t := range toks {
		switch {
		case t.is("(") || t.is("[") || t.is("<"):
			depth++
		case t.is(")") || t.is("]") || t.is(">"):
			depth--
		case depth == 0 && t.is(":") && colon < 0:
			colon = i
		case depth == 0 && colon < 0 && t.is("self"):
			isSelf = true
		}
	}
	switch {
	case colon < 0 && isSelf:
		b.toks(toks)
	case colon < 0:
		b.typ(toks, RoleType)
	default:
		b.toks(toks[:colon+1])
		b.typ(toks[colon+1:], RoleType)
	}
}

// parseConst reports false for anonymous `const _` items, which are skipped.
func (p *parser) parseConst(n *Node) bool {
	n.Kind = NodeConst
	p.expect("const")
	if p.accept("_") {
		p.collect(";")
		p.expect(";")
		return false
	}
	name := p.expectIdent()
	n.Name = name.Text
	b := newSigBuilder(p.outer)
	b.word("const")
	b.tok(name)
	b.tok(p.expect(":"))
	b.typ(p.collect("=", ";"), RoleType)
	if p.accept("=") {
		p.collect(";")
	}
	p.expect(";")
	n.Sig = b.sig
	return true
}

func (p *parser) parseStatic(n *Node) {
	n.Kind = NodeStatic
	b := newSigBuilder(p.outer)
	for !p.at("static") {
		b.tok(p.next())
	}
	b.tok(p.expect("static"))
	if p.at("mut") {
		b.tok(p.next())
	}
	name := p.expectIdent()
	n.Name = name.Text
	b.tok(name)
	b.tok(p.expect(":"))
	b.typ(p.collect("=", ";"), RoleType)
	if p.accept("=") {
		p.collect(";")
	}
	p.expect(";")
	n.Sig = b.sig
}

func (p *parser) parseTypeAlias(n *Node) {
	n.Kind = NodeTypeAlias
	p.expect("type")
	n.Name = p.expectIdent().Text
	gToks, gNames := p.parseGenerics()
	n.Generics = gNames
	b := newSigBuilder(p.scope(gNames))
	b.word("type")
	b.word(n.Name)
	b.typ(gToks, RoleType)
	if p.at(":") {
		b.tok(p.next())
		b.typ(p.collect("where", "=", ";"), RoleType)
	}
	b.typ(p.parseWhere(), RoleType)
	if p.at("=") {
		b.tok(p.next())
		b.typ(p.collect("where", ";"), RoleType)
	}
	b.typ(p.parseWhere(), RoleType)
	p.expect(";")
	n.Sig = b.sig
}

func (p *parser) parseMacroRules(n *Node) {
	start := p.pos
	n.Kind = NodeOpaque
	p.expect("macro_rules")
	p.expect("!")
	n.Name = p.expectIdent().Text
	g := p.group()
	if !g[0].is("{") {
		p.accept(";")
	}
	n.Raw = p.src[p.toks[start].Offset:p.toks[p.pos-1].End]
	b := newSigBuilder(nil)
	b.word("macro_rules!")
	b.word(n.Name)
	n.Sig = b.sig
}

func (p *parser) parseDeclMacro(n *Node) {
	start := p.pos
	n.Kind = NodeOpaque
	p.expect("macro")
	n.Name = p.expectIdent().Text
	for !p.at("{") {
		p.group()
	}
	p.group()
	n.Raw = p.src[p.toks[start].Offset:p.toks[p.pos-1].End]
	b := newSigBuilder(nil)
	b.word("macro")
	b.word(n.Name)
	n.Sig = b.sig
}

// parseMacroCall handles an item-position macro invocation. Whatever it
// expands to is not indexed.
func (p *parser) parseMacroCall(n *Node) {
	start := p.pos
	n.Kind = NodeOpaque
	var path []string
	for {
		path = append(path, p.expectIdent().Text)
		if !p.accept("::") {
			break
		}
	}
	p.expect("!")
	if p.peek().Kind == TokIdent {
		p.next()
	}
	g := p.group()
	if !g[0].is("{") {
		p.expect(";")
	}
	n.Name = strings.Join(path, "::") + "!"
	n.Raw = p.src[p.toks[start].Offset:p.toks[p.pos-1].End]
}

func (p *parser) parseExternBlock() []*Node {
	for !p.at("{") {
		p.next()
	}
	return p.body(nil, blockExtern)
}

func (p *parser) parseExternCrate(vis Visibility) []Import {
	line := p.expect("extern").Line
	p.expect("crate")
	name := p.expectIdent().Text
	alias := name
	if p.accept("as") {
		if p.accept("_") {
			alias = "_"
		} else {
			alias = p.expectIdent().Text
		}
	}
	p.expect(";")
	path := "::" + name
	if name == "self" {
		path = "crate"
	}
	return []Import{{Alias: alias, Path: path, Vis: vis, Line: line}}
}

func (p *parser) parseUse(vis Visibility) []Import {
	line := p.expect("use").Line
	var imps []Import
	var prefix []string
	if p.accept("::") {
		prefix = []string{""}
	}
	p.useTree(prefix, vis, line, &imps)
	p.expect(";")
	return imps
}

func (p *parser) useTree(prefix []string, vis Visibility, line int, out *[]Import) {
	segs := append([]string(nil), prefix...)
	for {
		switch {
		case p.accept("*"):
			*out = append(*out, Import{Path: strings.Join(segs, "::"), Glob: true, Vis: vis, Line: line})
			return
		case p.accept("{"):
			for !p.at("}") {
				if p.accept("::") && len(segs) == 0 {
					p.useTree([]string{""}, vis, line, out)
				} else {
					p.useTree(segs, vis, line, out)
				}
				if !p.accept(",") {
					break
				}
			}
			p.expect("}")
			return
		}
		seg := p.expectIdent().Text
		if seg == "self" && len(segs) > 0 {
			// `a::{self}` imports `a` itself
			alias := segs[len(segs)-1]
			if p.accept("as") {
				alias = p.useAlias()
			}
			*out = append(*out, Import{Alias: alias, Path: strings.Join(segs, "::"), Vis: vis, Line: line})
			return
		}
		segs = append(segs, seg)
		if p.accept("::") {
			continue
		}
		alias := seg
		if p.accept("as") {
			alias = p.useAlias()
		}
		*out = append(*out, Import{Alias: alias, Path: strings.Join(segs, "::"), Vis: vis, Line: line})
		return
	}
}

func (p *parser) useAlias() string {
	if p.accept("_") {
		return "_"
	}
	return p.expectIdent().Text
}

func literalValue(text string) string {
	if strings.HasPrefix(text, "r") {
		s := strings.TrimLeft(text[1:], "#")
		s = strings.TrimRight(s, "#")
		return strings.TrimSuffix(strings.TrimPrefix(s, "\""), "\"")
	}
	if v, err := strconv.Unquote(text); err == nil {
		return v
	}
	if len(text) >= 2 {
		return text[1 : len(text)-1]
	}
	return text
}

// joinDoc concatenates doc fragments and removes their common indentation.
func joinDoc(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	lines := strings.Split(strings.Join(parts, "\n"), "\n")
	indent := -1
	for i, l := range lines {
		l = strings.TrimRight(l, "\r")
		lines[i] = l
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	for i, l := range lines {
		switch {
		case strings.TrimSpace(l) == "":
			lines[i] = ""
		case indent > 0:
			lines[i] = l[indent:]
		}
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
