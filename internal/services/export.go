package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"html"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Lllllllleong/documentcapture/internal/models"
	"github.com/Lllllllleong/documentcapture/internal/observability/metrics"
	"github.com/fumiama/go-docx"
	"github.com/microcosm-cc/bluemonday"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
)

// ChatReplyFilename is the download name of an exported chat reply.
const ChatReplyFilename = "chatbot-response.docx"

// DocxMIMEType is the content type of every exported Word document.
const DocxMIMEType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// XLSXMIMEType is the content type of TablesWorkbook output.
const XLSXMIMEType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	// fullWidthPct is 100% in the fiftieths of a percent used by table widths.
	fullWidthPct = 5000
	// textWidthTwips is the text area of an A4 page with one-inch margins.
	textWidthTwips = 11906 - 2*1440
)

var (
	headingMarker    = regexp.MustCompile(`^#+\s+`)
	listMarker       = regexp.MustCompile(`^\s*([-*]|\d+\.)\s+`)
	blockquoteMarker = regexp.MustCompile(`^>\s?`)
	emphasisMarker   = regexp.MustCompile(`(\*\*|__|\*|_|~~)`)
	markdownLink     = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
)

// Exporter renders extracted content and chat replies as downloadable files.
type Exporter struct {
	metrics     *metrics.CaptureMetrics
	tags        *bluemonday.Policy
	concurrency int
}

func NewExporter(m *metrics.CaptureMetrics) *Exporter {
	return &Exporter{metrics: m, tags: bluemonday.StrictPolicy(), concurrency: 4}
}

// BuildContentDocument maps content blocks onto a Word document. Blocks of an
// unknown kind and tables without cells are dropped.
func BuildContentDocument(content models.ExtractedContent) *docx.Docx {
	doc := docx.New().WithDefaultTheme()
	for _, block := range content {
		switch b := block.(type) {
		case *models.ParagraphBlock:
			p := doc.AddParagraph()
			for _, run := range b.Content.Runs {
				addRun(p, run)
			}
		case *models.TableBlock:
			addTable(doc, b.Rows)
		}
	}
	return doc
}

// addTable renders rows as a full-width grid. Short rows are padded so every
// row has the same number of cells, and each cell holds one paragraph per run.
func addTable(doc *docx.Docx, rows []models.TableRow) {
	cols := 0
	for _, row := range rows {
		cols = max(cols, len(row.Cells))
	}
	if cols == 0 {
		return
	}
	tbl := doc.AddTable(len(rows), cols, 0, nil)
	tbl.TableProperties.Width = &docx.WTableWidth{W: fullWidthPct, Type: "pct"}
	tbl.TableGrid.GridCols = make([]*docx.WGridCol, cols)
	for i := range tbl.TableGrid.GridCols {
		tbl.TableGrid.GridCols[i] = &docx.WGridCol{W: textWidthTwips / int64(cols)}
	}
	for i, row := range rows {
		for j, cell := range tbl.TableRows[i].TableCells {
			if j >= len(row.Cells) || len(row.Cells[j].Content.Runs) == 0 {
				cell.AddParagraph()
				continue
			}
			for _, run := range row.Cells[j].Content.Runs {
				addRun(cell.AddParagraph(), run)
			}
		}
	}
}

func addRun(p *docx.Paragraph, run models.Run) {
	r := p.AddText(run.Text)
	for _, child := range r.Children {
		if t, ok := child.(*docx.Text); ok {
			t.XMLSpace = "preserve"
		}
	}
	if run.IsBold {
		r.Bold()
	}
	if run.IsItalic {
		r.Italic()
	}
}

func encodeDocument(doc *docx.Docx) ([]byte, error) {
	doc.WithA4Page()
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ContentDocument encodes extracted content as a .docx file.
func (e *Exporter) ContentDocument(content models.ExtractedContent) ([]byte, error) {
	data, err := encodeDocument(BuildContentDocument(content))
	if err != nil {
		return nil, fmt.Errorf("encode content document: %w", err)
	}
	e.metrics.ObserveExport("document")
	return data, nil
}

// ChatReplyDocument encodes a chat reply as a .docx file with markdown
// decoration removed, one paragraph per line.
func (e *Exporter) ChatReplyDocument(text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyExport
	}
	doc := docx.New().WithDefaultTheme()
	for _, line := range strings.Split(text, "\n") {
		line = e.cleanLine(strings.TrimSuffix(line, "\r"))
		addRun(doc.AddParagraph(), models.Run{Text: line})
	}
	data, err := encodeDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("encode chat reply document: %w", err)
	}
	e.metrics.ObserveExport("chat")
	return data, nil
}

func (e *Exporter) cleanLine(line string) string {
	if strings.ContainsRune(line, '<') {
		line = html.UnescapeString(e.tags.Sanitize(line))
	}
	return CleanChatLine(line)
}

// CleanChatLine strips markdown decoration from one line of a chat reply.
func CleanChatLine(line string) string {
	line = headingMarker.ReplaceAllString(line, "")
	line = listMarker.ReplaceAllString(line, "")
	line = blockquoteMarker.ReplaceAllString(line, "")
	line = emphasisMarker.ReplaceAllString(line, "")
	line = strings.ReplaceAll(line, "`", "")
	line = markdownLink.ReplaceAllString(line, "$1")
	return line
}

// DocumentFilename derives the download name of a record's document.
func DocumentFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "document"
	}
	return base + ".docx"
}

// Archive zips the documents of all successful records. Documents are
// rendered concurrently and written in record order.
func (e *Exporter) Archive(ctx context.Context, records []models.UploadRecord) ([]byte, error) {
	var done []models.UploadRecord
	for _, rec := range records {
		if rec.Status == models.StatusSuccess {
			done = append(done, rec)
		}
	}

	rendered := make([][]byte, len(done))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, rec := range done {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := encodeDocument(BuildContentDocument(rec.ExtractedContent))
			if err != nil {
				return fmt.Errorf("render %s: %w", rec.File.Name, err)
			}
			rendered[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	used := make(map[string]int)
	for i, rec := range done {
		w, err := zw.Create(uniqueName(used, DocumentFilename(rec.File.Name)))
		if err != nil {
			return nil, fmt.Errorf("create archive entry: %w", err)
		}
		if _, err := w.Write(rendered[i]); err != nil {
			return nil, fmt.Errorf("write archive entry: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	e.metrics.ObserveExport("archive")
	return buf.Bytes(), nil
}

func uniqueName(used map[string]int, name string) string {
	used[name]++
	n := used[name]
	if n == 1 {
		return name
	}
	ext := filepath.Ext(name)
	candidate := fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
	for used[candidate] > 0 {
		n++
		candidate = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
	}
	used[candidate]++
	return candidate
}

// TablesWorkbook writes every table block as one sheet of an .xlsx workbook.
func (e *Exporter) TablesWorkbook(content models.ExtractedContent) ([]byte, error) {
	var tables []*models.TableBlock
	for _, block := range content {
		if t, ok := block.(*models.TableBlock); ok {
			tables = append(tables, t)
		}
	}
	if len(tables) == 0 {
		return nil, ErrNoTables
	}

	f := excelize.NewFile()
	defer f.Close()

	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create bold style: %w", err)
	}

	for i, table := range tables {
		sheet := fmt.Sprintf("Table %d", i+1)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", sheet, err)
		}

		for r, row := range table.Rows {
			for c, cell := range row.Cells {
				ref, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					return nil, err
				}
				if err := f.SetCellStr(sheet, ref, cell.Content.Text()); err != nil {
					return nil, fmt.Errorf("write cell %s!%s: %w", sheet, ref, err)
				}
				if allBold(cell.Content.Runs) {
					if err := f.SetCellStyle(sheet, ref, ref, boldStyle); err != nil {
						return nil, fmt.Errorf("style cell %s!%s: %w", sheet, ref, err)
					}
				}
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	e.metrics.ObserveExport("tables")
	return buf.Bytes(), nil
}

func allBold(runs []models.Run) bool {
	if len(runs) == 0 {
		return false
	}
	for _, r := range runs {
		if !r.IsBold {
			return false
		}
	}
	return true
}
