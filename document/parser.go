package document

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	goagenticrag "github.com/MegaGrindStone/go-agentic-rag"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Parser parses markdown into a Document tree. It understands an optional
// leading front-matter block, headings 1-6, paragraphs, pipe tables, bullet
// and ordered lists, and standalone images; everything else is skipped.
type Parser struct {
	fileName  string
	updatedAt time.Time

	md goldmark.Markdown
}

// NewParser creates a parser for one file. The updatedAt timestamp is carried
// into the parsed document for the update mode of the ingestion routine; pass
// the zero time when it doesn't matter.
func NewParser(fileName string, updatedAt time.Time) Parser {
	return Parser{
		fileName:  fileName,
		updatedAt: updatedAt,
		md:        goldmark.New(),
	}
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Parse builds a Document from markdown content. Malformed front-matter lines
// are tolerated (lines without a colon are skipped); a parser failure on
// pathological input surfaces as a goagenticrag.ParseError.
func (p Parser) Parse(content string) (doc Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = goagenticrag.ParseError{File: p.fileName, Cause: fmt.Sprint(r)}
		}
	}()

	metadata, body := splitFrontMatter(content)

	source := []byte(body)
	root := p.md.Parser().Parse(text.NewReader(source))

	var nodes []ast.Node
	for child := root.FirstChild(); child != nil; child = child.NextSibling() {
		nodes = append(nodes, child)
	}

	return Document{
		FileName:  p.fileName,
		Metadata:  metadata,
		UpdatedAt: p.updatedAt,
		Sections:  parseNodes(nodes, source),
	}, nil
}

// splitFrontMatter harvests the leading ----delimited block. Each non-empty
// line inside it is split at the first colon; lines without one are skipped.
func splitFrontMatter(content string) (map[string]string, string) {
	metadata := map[string]string{}
	if !strings.HasPrefix(content, "---") {
		return metadata, content
	}

	end := strings.Index(content[3:], "---")
	if end == -1 {
		return metadata, content
	}
	end += 3

	for line := range strings.SplitSeq(content[3:end], "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		metadata[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return metadata, content[end+3:]
}

// parseNodes assembles sections by heading-level grouping: a heading of level
// L collects every following node until the next heading of level <= L, then
// recurses into the collected subtree.
func parseNodes(nodes []ast.Node, source []byte) []Node {
	var result []Node

	i := 0
	for i < len(nodes) {
		switch n := nodes[i].(type) {
		case *ast.Heading:
			j := i + 1
			var sub []ast.Node
			for j < len(nodes) {
				if next, ok := nodes[j].(*ast.Heading); ok && next.Level <= n.Level {
					break
				}
				sub = append(sub, nodes[j])
				j++
			}
			result = append(result, Section{
				Title:    inlineText(n, source),
				Level:    n.Level,
				Children: parseNodes(sub, source),
			})
			i = j

		case *ast.Paragraph:
			if img, ok := soleImage(n); ok {
				result = append(result, Image{
					URL: string(img.Destination),
					Alt: inlineText(img, source),
				})
				i++
				continue
			}

			txt := inlineText(n, source)
			switch {
			case strings.HasPrefix(txt, "|"):
				result = appendTable(result, txt)
			case txt != "":
				result = append(result, Paragraph{Content: txt})
			}
			i++

		case *ast.List:
			items := collectList(n, source)
			if len(items) > 0 {
				result = append(result, BulletList{Items: items})
			}
			i++

		default:
			// Unhandled block kinds (code blocks, blockquotes, thematic
			// breaks) are skipped.
			i++
		}
	}

	return result
}

// appendTable reinterprets a pipe-leading paragraph as a GitHub-flavored
// table: first line headers, second line separator, rest body rows. The
// immediately preceding paragraph, if any, is adopted as the caption and
// removed from the output so that rendering the tree reproduces it exactly
// once.
func appendTable(result []Node, txt string) []Node {
	caption := ""
	if len(result) > 0 {
		if para, ok := result[len(result)-1].(Paragraph); ok {
			caption = para.Content
			result = result[:len(result)-1]
		}
	}

	lines := strings.Split(txt, "\n")
	headers := splitCells(lines[0])

	var rows [][]string
	if len(lines) > 2 {
		for _, line := range lines[2:] {
			cells := splitCells(line)
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		}
	}

	return append(result, Table{Caption: caption, Headers: headers, Rows: rows})
}

// splitCells splits a pipe-delimited line into trimmed non-empty cells.
func splitCells(line string) []string {
	var cells []string
	for _, cell := range strings.Split(line, "|") {
		cell = strings.TrimSpace(cell)
		if cell != "" {
			cells = append(cells, cell)
		}
	}
	return cells
}

// collectList flattens a list depth-first into a flat item sequence. Nested
// bullet and ordered lists contribute their items in source order.
func collectList(list ast.Node, source []byte) []string {
	var items []string
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		for child := item.FirstChild(); child != nil; child = child.NextSibling() {
			switch child.(type) {
			case *ast.List:
				items = append(items, collectList(child, source)...)
			case *ast.Paragraph, *ast.TextBlock:
				items = append(items, inlineText(child, source))
			}
		}
	}
	return items
}

// soleImage reports whether the paragraph consists of exactly one image.
func soleImage(para *ast.Paragraph) (*ast.Image, bool) {
	child := para.FirstChild()
	if child == nil || child.NextSibling() != nil {
		return nil, false
	}
	img, ok := child.(*ast.Image)
	return img, ok
}

// inlineText renders the inline content of a node to plain text. Whitespace
// inside text segments collapses to single spaces; soft and hard line breaks
// become single newlines; images contribute their alt text.
func inlineText(n ast.Node, source []byte) string {
	var sb strings.Builder

	var walk func(n ast.Node)
	walk = func(n ast.Node) {
		for child := n.FirstChild(); child != nil; child = child.NextSibling() {
			switch t := child.(type) {
			case *ast.Text:
				sb.WriteString(whitespaceRe.ReplaceAllString(string(t.Segment.Value(source)), " "))
				if t.SoftLineBreak() || t.HardLineBreak() {
					sb.WriteString("\n")
				}
			case *ast.CodeSpan:
				for code := t.FirstChild(); code != nil; code = code.NextSibling() {
					if txt, ok := code.(*ast.Text); ok {
						sb.WriteString(string(txt.Segment.Value(source)))
					}
				}
			case *ast.AutoLink:
				sb.Write(t.URL(source))
			default:
				walk(child)
			}
		}
	}
	walk(n)

	return sb.String()
}
