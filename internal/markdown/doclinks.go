package markdown

import (
	"regexp"
	"sort"
	"strings"
)

type LinkForm int

const (
	Inline     LinkForm = iota // [label](target)
	Reference                  // [label][ref]
	Shortcut                   // [label]
	Definition                 // [ref]: target
)

// Link is a link marker in documentation text. Start and End cover the whole
// marker; DestStart and DestEnd cover the written destination of Inline and
// Definition forms.
type Link struct {
	Form      LinkForm
	Label     string
	Target    string
	Start     int
	End       int
	DestStart int
	DestEnd   int
	Ref       string // reference label of Reference and Shortcut forms
	URL       string // set when Target was derived from a docs.rs URL
}

// Target is a parsed intra-doc link target.
type Target struct {
	Path     string
	Disambig string // struct, fn, macro, mod, ... or ""
}

var disambiguators = map[string]string{
	"struct": "struct", "enum": "enum", "trait": "trait", "union": "struct",
	"fn": "fn", "function": "fn", "method": "fn", "tymethod": "fn",
	"mod": "mod", "module": "mod", "const": "const", "constant": "const",
	"static": "const", "type": "type", "macro": "macro", "derive": "macro",
	"attr": "macro", "value": "value", "field": "field", "variant": "variant",
	"prim": "prim", "primitive": "prim", "tyalias": "type",
}

var pathRe = regexp.MustCompile(`^(::)?[\p{L}_][\p{L}\p{N}_]*(::[\p{L}_][\p{L}\p{N}_]*)*$`)

// ParseTarget parses an intra-doc link target such as `struct@Point`,
// `Point::new()` or `vec!`. It reports false for anything that is not a
// Rust path.
func ParseTarget(raw string) (Target, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "`")
	var t Target
	if i := strings.Index(s, "@"); i > 0 {
		d, ok := disambiguators[s[:i]]
		if !ok {
			return Target{}, false
		}
		t.Disambig = d
		s = s[i+1:]
	}
	switch {
	case strings.HasSuffix(s, "()"):
		s = strings.TrimSuffix(s, "()")
		if t.Disambig == "" {
			t.Disambig = "fn"
		}
	case strings.HasSuffix(s, "!"):
		s = strings.TrimSuffix(s, "!")
		if t.Disambig == "" {
			t.Disambig = "macro"
		}
	}
	s = stripGenerics(s)
	if !pathRe.MatchString(s) {
		return Target{}, false
	}
	t.Path = s
	return t, true
}

func stripGenerics(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>':
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	if depth != 0 {
		return s
	}
	return b.String()
}

// ExtractLinks finds the intra-doc link markers in doc: links whose target
// is a Rust path or a docs.rs URL. Code spans and fenced code blocks are
// skipped. A reference-style link backed by a definition is reported once,
// as the Definition.
func ExtractLinks(doc string) []Link {
	defs := definitions(doc)
	var links []Link
	for _, l := range scanLinks(doc, defs) {
		if l.Form == Reference || l.Form == Shortcut {
			if _, ok := defs[normLabel(l.Ref)]; ok {
				continue
			}
		}
		if u, ok := DocsRsPath(l.Target); ok {
			l.URL = l.Target
			l.Target = u
			links = append(links, l)
			continue
		}
		if _, ok := ParseTarget(l.Target); ok {
			links = append(links, l)
		}
	}
	return links
}

func normLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func definitions(doc string) map[string]string {
	defs := make(map[string]string)
	for _, l := range scanLinks(doc, nil) {
		if l.Form == Definition {
			if _, dup := defs[normLabel(l.Label)]; !dup {
				defs[normLabel(l.Label)] = l.Target
			}
		}
	}
	return defs
}

func scanLinks(doc string, defs map[string]string) []Link {
	var links []Link
	lineStart := true
	inFence := ""
	for i := 0; i < len(doc); {
		if lineStart {
			lineStart = false
			trimmed := strings.TrimLeft(doc[i:min(len(doc), i+3)], " ")
			rest := doc[i+(min(len(doc), i+3)-i-len(trimmed)):]
			if f := fence(rest); f != "" && (inFence == "" || strings.HasPrefix(f, inFence[:1]) && len(f) >= len(inFence)) {
				if inFence == "" {
					inFence = f
				} else {
					inFence = ""
				}
				i = nextLine(doc, i)
				lineStart = true
				continue
			}
			if inFence != "" {
				i = nextLine(doc, i)
				lineStart = true
				continue
			}
		}
		c := doc[i]
		switch {
		case c == '\n':
			lineStart = true
			i++
		case c == '\\':
			i += 2
		case c == '`':
			i = skipCode(doc, i)
		case c == '[' && !(i > 0 && doc[i-1] == '!'):
			l, next, ok := linkAt(doc, i, defs)
			if ok {
				links = append(links, l)
				i = next
				if l.Form == Definition {
					lineStart = true
				}
				continue
			}
			i++
		default:
			i++
		}
	}
	sort.SliceStable(links, func(a, b int) bool { return links[a].Start < links[b].Start })
	return links
}

func fence(line string) string {
	for _, f := range []string{"```", "~~~"} {
		if strings.HasPrefix(line, f) {
			n := 0
			for n < len(line) && line[n] == f[0] {
				n++
			}
			return line[:n]
		}
	}
	return ""
}

func nextLine(doc string, i int) int {
	j := strings.IndexByte(doc[i:], '\n')
	if j < 0 {
		return len(doc)
	}
	return i + j + 1
}

// skipCode returns the index after the code span opened at i, or after the
// backtick run when it is never closed.
func skipCode(doc string, i int) int {
	n := 0
	for i+n < len(doc) && doc[i+n] == '`' {
		n++
	}
	run := doc[i : i+n]
	for j := i + n; j < len(doc); {
		k := strings.Index(doc[j:], run)
		if k < 0 {
			break
		}
		k += j
		m := 0
		for k+m < len(doc) && doc[k+m] == '`' {
			m++
		}
		if m == n {
			return k + n
		}
		j = k + m
	}
	return i + n
}

// closeBracket finds the ']' matching the '[' at i. Links do not span
// blank lines.
func closeBracket(doc string, i int) int {
	depth := 0
	for j := i; j < len(doc); j++ {
		switch doc[j] {
		case '\\':
			j++
		case '`':
			j = skipCode(doc, j) - 1
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return j
			}
		case '\n':
			if j+1 < len(doc) && strings.TrimSpace(doc[j+1:nextLine(doc, j+1)]) == "" {
				return -1
			}
		}
	}
	return -1
}

func closeParen(doc string, i int) int {
	depth := 0
	for j := i; j < len(doc); j++ {
		switch doc[j] {
		case '\\':
			j++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return j
			}
		case '\n':
			return -1
		}
	}
	return -1
}

func linkAt(doc string, i int, defs map[string]string) (Link, int, bool) {
	j := closeBracket(doc, i)
	if j < 0 {
		return Link{}, 0, false
	}
	label := doc[i+1 : j]
	atLineStart := strings.TrimSpace(doc[strings.LastIndexByte(doc[:i], '\n')+1:i]) == ""
	next := byte(0)
	if j+1 < len(doc) {
		next = doc[j+1]
	}
	switch {
	case next == ':' && atLineStart:
		end := nextLine(doc, j+1)
		lineEnd := end
		if lineEnd > 0 && doc[lineEnd-1] == '\n' {
			lineEnd--
		}
		raw := doc[j+2 : lineEnd]
		dest := strings.TrimSpace(raw)
		ds := j + 2 + strings.Index(raw, dest)
		if fields := strings.Fields(dest); len(fields) > 0 {
			dest = fields[0]
		}
		return Link{Form: Definition, Label: label, Target: dest, Start: i, End: lineEnd, DestStart: ds, DestEnd: ds + len(dest)}, end, true
	case next == '(':
		k := closeParen(doc, j+1)
		if k < 0 {
			return Link{}, 0, false
		}
		raw := doc[j+2 : k]
		dest := strings.TrimSpace(raw)
		if fields := strings.Fields(dest); len(fields) > 0 {
			dest = fields[0]
		}
		ds := j + 2 + strings.Index(raw, dest)
		return Link{Form: Inline, Label: label, Target: strings.Trim(dest, "<>"), Start: i, End: k + 1, DestStart: ds, DestEnd: ds + len(dest)}, k + 1, true
	case next == '[':
		k := closeBracket(doc, j+1)
		if k < 0 {
			break
		}
		ref := doc[j+2 : k]
		if ref == "" {
			ref = label
		}
		target, ok := defs[normLabel(ref)]
		if !ok {
			target = ref
		}
		return Link{Form: Reference, Label: label, Target: target, Ref: ref, Start: i, End: k + 1}, k + 1, true
	}
	target, ok := defs[normLabel(label)]
	if !ok {
		target = label
	}
	return Link{Form: Shortcut, Label: label, Target: target, Ref: label, Start: i, End: j + 1}, j + 1, true
}

// Edit replaces doc[Start:End] with Text.
type Edit struct {
	Start int
	End   int
	Text  string
}

// ApplyEdits applies non-overlapping edits to src.
func ApplyEdits(src string, edits []Edit) string {
	if len(edits) == 0 {
		return src
	}
	sorted := append([]Edit(nil), edits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })
	out := src
	for _, e := range sorted {
		out = out[:e.Start] + e.Text + out[e.End:]
	}
	return out
}
