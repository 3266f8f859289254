package markdown

import (
	"fmt"
	"sort"
	"strings"

	gm "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	gmparser "github.com/gomarkdown/markdown/parser"
)

func parse(src string) ast.Node {
	return gm.Parse([]byte(src), gmparser.NewWithExtensions(
		gmparser.CommonExtensions|gmparser.Autolink,
	))
}

// RewriteLinks rewrites markdown link destinations. rewrite is called once
// per distinct destination found in the parsed document; returning false
// leaves it unchanged. Replacement is textual so the original formatting
// is preserved.
func RewriteLinks(src string, rewrite func(dest string) (string, bool)) string {
	if rewrite == nil {
		return src
	}

	seen := make(map[string]bool)
	replacements := make(map[string]string)
	ast.WalkFunc(parse(src), func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		if link, ok := node.(*ast.Link); ok {
			dest := string(link.Destination)
			if seen[dest] {
				return ast.GoToNext
			}
			seen[dest] = true
			if to, ok := rewrite(dest); ok && to != dest {
				replacements[dest] = to
			}
		}
		return ast.GoToNext
	})
	if len(replacements) == 0 {
		return src
	}

	olds := make([]string, 0, len(replacements))
	for old := range replacements {
		olds = append(olds, old)
	}
	sort.Strings(olds)

	result := src
	for _, old := range olds {
		result = strings.ReplaceAll(result, "]("+old+")", "]("+replacements[old]+")")
	}

	// reference definitions: [ref]: destination
	lines := strings.Split(result, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, old := range olds {
			if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]: "+old) {
				lines[i] = strings.Replace(line, "]: "+old, "]: "+replacements[old], 1)
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}

// Field is one front-matter entry.
type Field struct {
	Key   string
	Value string
}

// AddFrontMatter prepends a YAML front-matter block. Fields are written in
// the order given; empty values are skipped.
func AddFrontMatter(src string, fields []Field) string {
	var b strings.Builder
	n := 0
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		if n == 0 {
			b.WriteString("---\n")
		}
		n++
		b.WriteString(fmt.Sprintf("%s: %s\n", f.Key, f.Value))
	}
	if n == 0 {
		return src
	}
	b.WriteString("---\n\n")
	b.WriteString(src)
	return b.String()
}

// Summary returns the plain text of the first paragraph before any heading.
func Summary(src string) string {
	for _, child := range parse(src).GetChildren() {
		switch n := child.(type) {
		case *ast.Heading:
			return ""
		case *ast.Paragraph:
			return nodeText(n)
		}
	}
	return ""
}

func nodeText(node ast.Node) string {
	var b strings.Builder
	ast.WalkFunc(node, func(n ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		if _, ok := n.(*ast.Softbreak); ok {
			b.WriteByte(' ')
		}
		if leaf := n.AsLeaf(); leaf != nil && leaf.Literal != nil {
			b.Write(leaf.Literal)
		}
		return ast.GoToNext
	})
	return strings.Join(strings.Fields(b.String()), " ")
}
