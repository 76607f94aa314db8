package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Block type tags as they appear on the wire.
const (
	BlockTypeParagraph = "paragraph"
	BlockTypeTable     = "table"
)

// Run is the smallest styled-text unit of extracted content.
type Run struct {
	Text     string `json:"text"`
	IsBold   bool   `json:"isBold,omitempty"`
	IsItalic bool   `json:"isItalic,omitempty"`
}

// Paragraph is an ordered sequence of runs.
type Paragraph struct {
	Runs []Run `json:"runs"`
}

// Text concatenates the run texts with no separator.
func (p Paragraph) Text() string {
	var b strings.Builder
	for _, r := range p.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

type TableCell struct {
	Content Paragraph `json:"content"`
}

type TableRow struct {
	Cells []TableCell `json:"cells"`
}

// ContentBlock is either a *ParagraphBlock or a *TableBlock.
type ContentBlock interface {
	BlockType() string
	isContentBlock()
}

// ParagraphBlock is a standalone paragraph in reading order.
type ParagraphBlock struct {
	Content Paragraph
}

func (*ParagraphBlock) BlockType() string { return BlockTypeParagraph }
func (*ParagraphBlock) isContentBlock()   {}

func (b *ParagraphBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string    `json:"type"`
		Content Paragraph `json:"content"`
	}{BlockTypeParagraph, b.Content})
}

// TableBlock is a table whose rows and cells mirror the source layout.
type TableBlock struct {
	Rows []TableRow
}

func (*TableBlock) BlockType() string { return BlockTypeTable }
func (*TableBlock) isContentBlock()   {}

func (b *TableBlock) MarshalJSON() ([]byte, error) {
	rows := b.Rows
	if rows == nil {
		rows = []TableRow{}
	}
	return json.Marshal(struct {
		Type string     `json:"type"`
		Rows []TableRow `json:"rows"`
	}{BlockTypeTable, rows})
}

// ExtractedContent is the ordered block sequence produced by one extraction.
type ExtractedContent []ContentBlock

// wireBlock is the union of every field a block can carry on the wire.
type wireBlock struct {
	Type    string     `json:"type"`
	Content Paragraph  `json:"content"`
	Rows    []TableRow `json:"rows"`
}

// UnmarshalJSON decodes a tagged block array. Any element that is not an
// object tagged "paragraph" or "table" is rejected.
func (c *ExtractedContent) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("content is not an array of blocks: %w", err)
	}
	out := make(ExtractedContent, 0, len(raw))
	for i, item := range raw {
		var wb wireBlock
		if err := json.Unmarshal(item, &wb); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		switch wb.Type {
		case BlockTypeParagraph:
			out = append(out, &ParagraphBlock{Content: wb.Content})
		case BlockTypeTable:
			out = append(out, &TableBlock{Rows: wb.Rows})
		default:
			return fmt.Errorf("block %d: unknown block type %q", i, wb.Type)
		}
	}
	*c = out
	return nil
}

// PlainText projects the content to text: run texts are joined with nothing,
// table cells with a tab, table rows with a newline and blocks with a blank line.
func (c ExtractedContent) PlainText() string {
	if len(c) == 0 {
		return ""
	}
	parts := make([]string, 0, len(c))
	for _, block := range c {
		switch b := block.(type) {
		case *ParagraphBlock:
			parts = append(parts, b.Content.Text())
		case *TableBlock:
			rows := make([]string, 0, len(b.Rows))
			for _, row := range b.Rows {
				cells := make([]string, 0, len(row.Cells))
				for _, cell := range row.Cells {
					cells = append(cells, cell.Content.Text())
				}
				rows = append(rows, strings.Join(cells, "\t"))
			}
			parts = append(parts, strings.Join(rows, "\n"))
		default:
			parts = append(parts, "")
		}
	}
	return strings.Join(parts, "\n\n")
}

// Clone returns a deep copy so registry state never leaks to callers.
func (c ExtractedContent) Clone() ExtractedContent {
	if c == nil {
		return nil
	}
	out := make(ExtractedContent, 0, len(c))
	for _, block := range c {
		switch b := block.(type) {
		case *ParagraphBlock:
			out = append(out, &ParagraphBlock{Content: b.Content.clone()})
		case *TableBlock:
			rows := make([]TableRow, len(b.Rows))
			for i, row := range b.Rows {
				cells := make([]TableCell, len(row.Cells))
				for j, cell := range row.Cells {
					cells[j] = TableCell{Content: cell.Content.clone()}
				}
				rows[i] = TableRow{Cells: cells}
			}
			out = append(out, &TableBlock{Rows: rows})
		}
	}
	return out
}

func (p Paragraph) clone() Paragraph {
	if p.Runs == nil {
		return Paragraph{}
	}
	runs := make([]Run, len(p.Runs))
	copy(runs, p.Runs)
	return Paragraph{Runs: runs}
}
