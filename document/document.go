// Package document turns markdown files into typed document trees and splits
// those trees into token-bounded chunks for embedding.
package document

import (
	"sort"
	"strings"
	"time"
)

// Node is one block element of a document tree. The variant set is closed:
// Section, Paragraph, Table, BulletList and Image (plus Document itself, so
// the chunker can carry whole documents on its work list). Adding a new leaf
// kind means extending the chunker's split rules too.
type Node interface {
	// String renders the node back to markdown. Rendering a parsed tree and
	// re-parsing it yields an equal tree up to whitespace collapsing.
	String() string

	node()
}

// Document is a parsed markdown file: front-matter metadata, an optional
// modification timestamp, and the ordered top-level nodes. Content appearing
// before the first heading sits directly in Sections.
type Document struct {
	FileName  string
	Metadata  map[string]string
	UpdatedAt time.Time
	Sections  []Node
}

// Section is a heading plus everything up to the next heading of the same or
// higher level. A nested Section always has a level strictly greater than its
// parent.
type Section struct {
	Title    string
	Level    int
	Children []Node
}

// Paragraph is a run of inline text with internal whitespace collapsed and
// soft breaks kept as newlines.
type Paragraph struct {
	Content string
}

// Table is a GitHub-flavored pipe table. The caption is adopted from the
// paragraph immediately preceding the table, when there is one.
type Table struct {
	Caption string
	Headers []string
	Rows    [][]string
}

// BulletList is a flattened list: nested and ordered lists collapse into one
// item sequence preserving source order.
type BulletList struct {
	Items []string
}

// Image is a standalone markdown image.
type Image struct {
	URL string
	Alt string
}

func (Document) node()   {}
func (Section) node()    {}
func (Paragraph) node()  {}
func (Table) node()      {}
func (BulletList) node() {}
func (Image) node()      {}

func (d Document) String() string {
	var sb strings.Builder

	if len(d.Metadata) > 0 {
		keys := make([]string, 0, len(d.Metadata))
		for key := range d.Metadata {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		sb.WriteString("---\n")
		for _, key := range keys {
			sb.WriteString(key)
			sb.WriteString(": ")
			sb.WriteString(d.Metadata[key])
			sb.WriteString("\n")
		}
		sb.WriteString("---\n\n")
	}

	sb.WriteString(d.Body())

	return sb.String()
}

// Body renders the document without its front-matter block.
func (d Document) Body() string {
	var sb strings.Builder
	for _, section := range d.Sections {
		sb.WriteString(section.String())
	}
	return sb.String()
}

func (s Section) String() string {
	var sb strings.Builder
	sb.WriteString(strings.Repeat("#", s.Level))
	sb.WriteString(" ")
	sb.WriteString(s.Title)
	sb.WriteString("\n\n")
	for _, child := range s.Children {
		sb.WriteString(child.String())
	}
	return sb.String()
}

func (p Paragraph) String() string {
	return p.Content + "\n\n"
}

func (t Table) String() string {
	var sb strings.Builder

	if t.Caption != "" {
		sb.WriteString(t.Caption)
		sb.WriteString("\n\n")
	}

	sb.WriteString("| ")
	sb.WriteString(strings.Join(t.Headers, " | "))
	sb.WriteString(" |\n|")
	for range t.Headers {
		sb.WriteString("---|")
	}
	sb.WriteString("\n")

	for _, row := range t.Rows {
		sb.WriteString("| ")
		sb.WriteString(strings.Join(row, " | "))
		sb.WriteString(" |\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func (b BulletList) String() string {
	var sb strings.Builder
	for _, item := range b.Items {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	return sb.String()
}

func (i Image) String() string {
	return "![" + i.Alt + "](" + i.URL + ")\n\n"
}

// Tree renders an indented outline of the section hierarchy, for debugging.
func (d Document) Tree() string {
	var sb strings.Builder
	var walk func(nodes []Node, indent int)
	walk = func(nodes []Node, indent int) {
		for _, node := range nodes {
			section, ok := node.(Section)
			if !ok {
				continue
			}
			sb.WriteString(strings.Repeat(" ", indent))
			sb.WriteString(section.Title)
			sb.WriteString("\n")
			walk(section.Children, indent+2)
		}
	}
	walk(d.Sections, 0)
	return sb.String()
}
