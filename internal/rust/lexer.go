// Package rust is a tolerant lexer and item-level parser for Rust source.
// It recovers declarations, signatures, attributes and doc comments; function
// bodies and expressions are skipped, never interpreted.
package rust

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokLifetime
	TokLiteral
	TokPunct
	TokDoc
)

// Token is a lexical token. Doc comments are tokens; ordinary comments are not.
type Token struct {
	Kind   TokenKind
	Text   string
	Line   int
	Offset int
	End    int
	Raw    bool // r#ident
	Inner  bool // //! and /*! doc comments
}

func (t Token) is(text string) bool {
	return (t.Kind == TokPunct || t.Kind == TokIdent && !t.Raw) && t.Text == text
}

// LexError reports an unterminated literal or comment.
type LexError struct {
	Line int
	Msg  string
}

func (e LexError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Multi-character punctuation. '<' and '>' are always single tokens so that
// generic argument lists can be matched by counting.
var puncts = []string{"...", "..=", "::", "->", "=>", "==", "!=", ".."}

type lexer struct {
	src  string
	pos  int
	line int
	toks []Token
	errs []LexError
}

// Lex splits src into tokens. Lexing never fails outright: unterminated
// constructs extend to end of input and are reported in the error slice.
func Lex(src string) ([]Token, []LexError) {
	lx := &lexer{src: src, line: 1}
	if strings.HasPrefix(src, "#!") && !strings.HasPrefix(src, "#![") {
		// shebang line
		for lx.pos < len(src) && src[lx.pos] != '\n' {
			lx.pos++
		}
	}
	lx.run()
	lx.toks = append(lx.toks, Token{Kind: TokEOF, Line: lx.line, Offset: len(src), End: len(src)})
	return lx.toks, lx.errs
}

func (lx *lexer) peekByte(n int) byte {
	if lx.pos+n < len(lx.src) {
		return lx.src[lx.pos+n]
	}
	return 0
}

func (lx *lexer) errorf(line int, format string, args ...any) {
	lx.errs = append(lx.errs, LexError{Line: line, Msg: fmt.Sprintf(format, args...)})
}

func (lx *lexer) emit(kind TokenKind, start, line int) {
	lx.toks = append(lx.toks, Token{Kind: kind, Text: lx.src[start:lx.pos], Line: line, Offset: start, End: lx.pos})
}

func (lx *lexer) advance(n int) {
	for i := 0; i < n && lx.pos < len(lx.src); i++ {
		if lx.src[lx.pos] == '\n' {
			lx.line++
		}
		lx.pos++
	}
}

func (lx *lexer) run() {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == '\n' || c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			lx.advance(1)
		case c == '/' && lx.peekByte(1) == '/':
			lx.lineComment()
		case c == '/' && lx.peekByte(1) == '*':
			lx.blockComment()
		case c == '"':
			lx.quoted(lx.pos, 0)
		case c == '\'':
			lx.quote()
		case c >= '0' && c <= '9':
			lx.number()
		case isIdentStart(lx.src[lx.pos:]):
			lx.identOrPrefixed()
		default:
			lx.punct()
		}
	}
}

func (lx *lexer) lineComment() {
	start, line := lx.pos, lx.line
	end := strings.IndexByte(lx.src[lx.pos:], '\n')
	if end < 0 {
		end = len(lx.src)
	} else {
		end += lx.pos
	}
	text := lx.src[start:end]
	lx.pos = end
	switch {
	case strings.HasPrefix(text, "///") && !strings.HasPrefix(text, "////"):
		lx.toks = append(lx.toks, Token{Kind: TokDoc, Text: text[3:], Line: line, Offset: start, End: end})
	case strings.HasPrefix(text, "//!"):
		lx.toks = append(lx.toks, Token{Kind: TokDoc, Text: text[3:], Line: line, Offset: start, End: end, Inner: true})
	}
}

func (lx *lexer) blockComment() {
	start, line := lx.pos, lx.line
	depth := 0
	for lx.pos < len(lx.src) {
		if strings.HasPrefix(lx.src[lx.pos:], "/*") {
			depth++
			lx.advance(2)
			continue
		}
		if strings.HasPrefix(lx.src[lx.pos:], "*/") {
			depth--
			lx.advance(2)
			if depth == 0 {
				break
			}
			continue
		}
		lx.advance(1)
	}
	if depth > 0 {
		lx.errorf(line, "unterminated block comment")
		return
	}
	text := lx.src[start:lx.pos]
	body := text[2 : len(text)-2]
	switch {
	case strings.HasPrefix(text, "/**") && !strings.HasPrefix(text, "/***") && text != "/**/":
		lx.toks = append(lx.toks, Token{Kind: TokDoc, Text: blockDocBody(body[1:]), Line: line, Offset: start, End: lx.pos})
	case strings.HasPrefix(text, "/*!"):
		lx.toks = append(lx.toks, Token{Kind: TokDoc, Text: blockDocBody(body[1:]), Line: line, Offset: start, End: lx.pos, Inner: true})
	}
}

// blockDocBody strips the conventional leading " * " decoration when every
// non-blank line carries it.
func blockDocBody(body string) string {
	lines := strings.Split(body, "\n")
	decorated := true
	for _, l := range lines[1:] {
		t := strings.TrimSpace(l)
		if t != "" && !strings.HasPrefix(t, "*") {
			decorated = false
			break
		}
	}
	if decorated {
		for i := 1; i < len(lines); i++ {
			t := strings.TrimLeft(lines[i], " \t")
			t = strings.TrimPrefix(t, "*")
			lines[i] = t
		}
	}
	return strings.Join(lines, "\n")
}

func (lx *lexer) quote() {
	// 'a' and '\n' are char literals, 'a without a closing quote is a lifetime.
	start, line := lx.pos, lx.line
	rest := lx.src[lx.pos+1:]
	if strings.HasPrefix(rest, "\\") {
		lx.quoted(start, 0)
		return
	}
	r, size := utf8.DecodeRuneInString(rest)
	if size > 0 && len(rest) > size && rest[size] == '\'' {
		lx.advance(1 + size + 1)
		lx.emit(TokLiteral, start, line)
		return
	}
	if r == '_' || unicode.IsLetter(r) {
		lx.advance(1)
		lx.identTail()
		lx.emit(TokLifetime, start, line)
		return
	}
	lx.advance(1)
	lx.emit(TokPunct, start, line)
}

// quoted lexes a string or char literal that starts at start; the opening
// delimiter is at lx.pos.
func (lx *lexer) quoted(start, _ int) {
	line := lx.line
	delim := lx.src[lx.pos]
	lx.advance(1)
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if c == '\\' {
			lx.advance(2)
			continue
		}
		lx.advance(1)
		if c == delim {
			lx.identTail() // literal suffix
			lx.emit(TokLiteral, start, line)
			return
		}
	}
	lx.errorf(line, "unterminated literal")
	lx.emit(TokLiteral, start, line)
}

func (lx *lexer) rawString(start int) {
	line := lx.line
	hashes := 0
	for lx.peekByte(0) == '#' {
		hashes++
		lx.advance(1)
	}
	if lx.peekByte(0) != '"' {
		lx.emit(TokLiteral, start, line)
		return
	}
	lx.advance(1)
	closing := "\"" + strings.Repeat("#", hashes)
	idx := strings.Index(lx.src[lx.pos:], closing)
	if idx < 0 {
		lx.errorf(line, "unterminated raw string")
		lx.advance(len(lx.src) - lx.pos)
		lx.emit(TokLiteral, start, line)
		return
	}
	lx.advance(idx + len(closing))
	lx.emit(TokLiteral, start, line)
}

func (lx *lexer) number() {
	start, line := lx.pos, lx.line
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
			if (c == 'e' || c == 'E') && (lx.peekByte(1) == '+' || lx.peekByte(1) == '-') && !strings.HasPrefix(lx.src[start:], "0x") {
				lx.advance(2)
				continue
			}
			lx.advance(1)
		case c == '.' && lx.peekByte(1) >= '0' && lx.peekByte(1) <= '9':
			lx.advance(1)
		default:
			lx.emit(TokLiteral, start, line)
			return
		}
	}
	lx.emit(TokLiteral, start, line)
}

func (lx *lexer) identOrPrefixed() {
	start, line := lx.pos, lx.line
	rest := lx.src[lx.pos:]
	switch {
	case strings.HasPrefix(rest, "r#") && len(rest) > 2 && isIdentStart(rest[2:]):
		lx.advance(2)
		s := lx.pos
		lx.identTail()
		lx.toks = append(lx.toks, Token{Kind: TokIdent, Text: lx.src[s:lx.pos], Line: line, Offset: start, End: lx.pos, Raw: true})
		return
	case strings.HasPrefix(rest, "r\"") || strings.HasPrefix(rest, "r#"):
		lx.advance(1)
		lx.rawString(start)
		return
	case strings.HasPrefix(rest, "br\"") || strings.HasPrefix(rest, "br#") || strings.HasPrefix(rest, "cr\"") || strings.HasPrefix(rest, "cr#"):
		lx.advance(2)
		lx.rawString(start)
		return
	case strings.HasPrefix(rest, "b\"") || strings.HasPrefix(rest, "b'") || strings.HasPrefix(rest, "c\""):
		lx.advance(1)
		lx.quoted(start, 0)
		return
	}
	lx.identTail()
	lx.emit(TokIdent, start, line)
}

func (lx *lexer) identTail() {
	for lx.pos < len(lx.src) {
		r, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return
		}
		lx.pos += size
	}
}

func (lx *lexer) punct() {
	start, line := lx.pos, lx.line
	rest := lx.src[lx.pos:]
	for _, p := range puncts {
		if strings.HasPrefix(rest, p) {
			lx.advance(len(p))
			lx.emit(TokPunct, start, line)
			return
		}
	}
	_, size := utf8.DecodeRuneInString(rest)
	lx.advance(size)
	lx.emit(TokPunct, start, line)
}

func isIdentStart(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r == '_' || unicode.IsLetter(r)
}
