package emit

import (
	"fmt"
	"strings"

	"github.com/jcdickinson/cratedoc/internal/index"
	"github.com/jcdickinson/cratedoc/internal/markdown"
)

// Page renders the item an rsdoc URI names as a markdown document with
// front matter. Links between items are rewritten to rsdoc URIs.
func (o *Output) Page(uri string) (string, error) {
	c, s, err := o.Resolve(uri)
	if err != nil {
		return "", err
	}
	var (
		body   string
		fields []markdown.Field
	)
	if s == nil {
		body = o.cratePage(c)
		fields = []markdown.Field{
			{Key: "uri", Value: o.URI(c.Root)},
			{Key: "kind", Value: index.KindCrate.String()},
			{Key: "crate", Value: c.Name},
			{Key: "version", Value: c.Version},
			{Key: "partial", Value: flag(c.Partial)},
		}
	} else {
		body = o.itemPage(s)
		fields = []markdown.Field{
			{Key: "uri", Value: o.URI(s.ID)},
			{Key: "kind", Value: s.Kind.String()},
			{Key: "crate", Value: s.Crate},
			{Key: "version", Value: c.Version},
			{Key: "visibility", Value: s.Visibility.String()},
			{Key: "source", Value: s.SourceLocation.String()},
			{Key: "partial", Value: flag(s.Partial)},
		}
	}
	body = markdown.RewriteLinks(body, func(dest string) (string, bool) {
		id, ok := strings.CutPrefix(dest, o.scheme())
		if !ok {
			return "", false
		}
		u := o.URI(index.ItemID(id))
		return u, u != ""
	})
	return markdown.AddFrontMatter(body, fields), nil
}

func (o *Output) scheme() string {
	if o.LinkScheme == "" {
		return DefaultScheme
	}
	return o.LinkScheme
}

func flag(b bool) string {
	if b {
		return "true"
	}
	return ""
}

func (o *Output) link(id index.ItemID, text string) string {
	return fmt.Sprintf("[%s](%s%s)", text, o.scheme(), id)
}

func (o *Output) cratePage(c *Crate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# crate %s", c.Name)
	if c.Version != "" {
		fmt.Fprintf(&b, " %s", c.Version)
	}
	b.WriteString("\n\n")
	if c.Doc != "" {
		b.WriteString(strings.TrimSpace(c.Doc))
		b.WriteString("\n\n")
	}
	o.writeReexports(&b, c.Reexports)
	if len(c.Modules) > 0 {
		o.writeItemsFrom(&b, "Items", c.Modules[0].Items)
	}
	o.writeWarnings(&b, c.Warnings)
	return b.String()
}

func (o *Output) itemPage(s *ItemSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s %s\n\n", s.Kind, s.Path)
	switch {
	case s.Raw != "":
		fmt.Fprintf(&b, "```rust\n%s\n```\n\n", s.Raw)
	case s.Signature != "":
		fmt.Fprintf(&b, "```rust\n%s\n```\n\n", s.Signature)
	}
	if s.Placeholder {
		b.WriteString("*Source file for this module was not found.*\n\n")
	}
	if s.Doc != "" {
		b.WriteString(strings.TrimSpace(s.Doc))
		b.WriteString("\n\n")
	}

	var kids []*ItemSummary
	for _, id := range s.Children {
		if k, ok := o.Item(id); ok {
			kids = append(kids, k)
		}
	}
	switch s.Kind {
	case index.KindStruct:
		o.writeMembers(&b, "Fields", kids)
	case index.KindEnum:
		o.writeMembers(&b, "Variants", kids)
	case index.KindTrait:
		o.writeMembers(&b, "Associated Items", kids)
		o.writeImplementors(&b, s)
	case index.KindImpl:
		o.writeMembers(&b, "Items", kids)
	case index.KindModule:
		o.writeReexports(&b, s.Reexports)
		o.writeItems(&b, "Items", kids)
	}
	if s.Kind != index.KindTrait {
		o.writeImpls(&b, s)
	}
	o.writeTypesUsed(&b, s)
	o.writeWarnings(&b, s.Warnings)
	return b.String()
}

func (o *Output) writeMembers(b *strings.Builder, title string, kids []*ItemSummary) {
	if len(kids) == 0 {
		return
	}
	fmt.Fprintf(b, "# %s\n\n", title)
	for _, k := range kids {
		if k.Kind == index.KindField || k.Kind == index.KindVariant {
			fmt.Fprintf(b, "- **%s**", k.Name)
		} else {
			fmt.Fprintf(b, "- `%s`", display(k))
		}
		if k.Summary != "" {
			b.WriteString(": " + k.Summary)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func (o *Output) writeItems(b *strings.Builder, title string, items []*ItemSummary) {
	var rows []string
	for _, it := range items {
		if it.Kind == index.KindImpl || it.Kind == index.KindField || it.Kind == index.KindVariant {
			continue
		}
		row := fmt.Sprintf("- %s %s", it.Kind, o.link(it.ID, it.Name))
		if it.Summary != "" {
			row += ": " + it.Summary
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(b, "# %s\n\n%s\n\n", title, strings.Join(rows, "\n"))
}

func (o *Output) writeItemsFrom(b *strings.Builder, title string, items []ItemSummary) {
	ptrs := make([]*ItemSummary, len(items))
	for i := range items {
		ptrs[i] = &items[i]
	}
	o.writeItems(b, title, ptrs)
}

func (o *Output) writeReexports(b *strings.Builder, res []Reexport) {
	if len(res) == 0 {
		return
	}
	b.WriteString("# Re-exports\n\n")
	for _, r := range res {
		text := "pub use " + r.Path
		if r.Glob {
			text += "::*"
		} else if r.Name != "" && !strings.HasSuffix(r.Path, "::"+r.Name) && r.Path != r.Name {
			text += " as " + r.Name
		}
		if r.Target != "" {
			fmt.Fprintf(b, "- %s\n", o.link(r.Target, "`"+text+"`"))
		} else {
			fmt.Fprintf(b, "- `%s`\n", text)
		}
	}
	b.WriteString("\n")
}

func (o *Output) writeImpls(b *strings.Builder, s *ItemSummary) {
	if len(s.Impls) == 0 {
		return
	}
	b.WriteString("# Implementations\n\n")
	for _, id := range s.Impls {
		impl, ok := o.Item(id)
		if !ok {
			continue
		}
		header := impl.Signature
		if impl.Trait != "" {
			if t, ok := o.Item(impl.Trait); ok {
				header = fmt.Sprintf("impl %s for %s", o.link(t.ID, t.Name), s.Name)
			}
		}
		fmt.Fprintf(b, "## %s\n\n", header)
		for _, c := range impl.Children {
			m, ok := o.Item(c)
			if !ok {
				continue
			}
			fmt.Fprintf(b, "- `%s`", display(m))
			if m.Summary != "" {
				b.WriteString(": " + m.Summary)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
}

func (o *Output) writeImplementors(b *strings.Builder, s *ItemSummary) {
	var rows []string
	for _, id := range s.Impls {
		impl, ok := o.Item(id)
		if !ok || impl.Trait != s.ID {
			continue
		}
		if t, ok := o.Item(impl.SelfType); ok {
			rows = append(rows, "- "+o.link(t.ID, t.Path))
		} else {
			rows = append(rows, "- `"+impl.Signature+"`")
		}
	}
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(b, "# Implementors\n\n%s\n\n", strings.Join(rows, "\n"))
}

func (o *Output) writeTypesUsed(b *strings.Builder, s *ItemSummary) {
	seen := make(map[index.ItemID]bool)
	var rows []string
	for _, l := range s.SignatureLinks {
		if seen[l.Target] {
			continue
		}
		seen[l.Target] = true
		rows = append(rows, "- "+o.link(l.Target, l.Path))
	}
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(b, "## Types Used\n\n%s\n\n", strings.Join(rows, "\n"))
}

func (o *Output) writeWarnings(b *strings.Builder, warnings []Warning) {
	if len(warnings) == 0 {
		return
	}
	b.WriteString("## Warnings\n\n")
	for _, w := range warnings {
		fmt.Fprintf(b, "- %s: %s\n", w.Code, w.Message)
	}
	b.WriteString("\n")
}

func display(s *ItemSummary) string {
	if s.Signature != "" {
		return s.Signature
	}
	return s.Name
}
