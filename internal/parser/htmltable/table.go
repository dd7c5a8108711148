// Package htmltable reads the rows of an HTML <table> element as
// header-aligned string records.
package htmltable

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Options configure parsing. The zero value reads the document's first
// table, assuming UTF-8 input.
type Options struct {
	// Selector picks the table to read (any goquery selector); empty
	// means the first <table> in the document.
	Selector string

	// Encoding names the input character set (IANA name). Empty or a
	// UTF-8 alias reads the bytes as-is.
	Encoding string

	// OnRowError receives rows whose cell count does not match the
	// header, with the 1-based data row number. Such rows are skipped.
	OnRowError func(row int, err error)
}

// Table holds the extracted rows of one HTML table and yields them one
// record at a time.
//
// Semantics:
//   - The first row with any cells supplies the header (th or td).
//   - Every later row contributes its th/td cell texts, whitespace-trimmed.
//   - Rows whose width differs from the header are reported and skipped.
type Table struct {
	columns []string
	rows    [][]string
	next    int
}

// Parse reads the selected table out of an HTML document. The whole
// document is parsed up front; tables are interactive artifacts, not
// streams.
func Parse(src io.Reader, opt Options) (*Table, error) {
	dec, err := decodeReader(src, opt.Encoding)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(dec)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	sel := opt.Selector
	if sel == "" {
		sel = "table"
	}
	table := doc.Find(sel).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("no table matches %q", sel)
	}

	t := &Table{}
	row := 0
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := cellTexts(tr)
		if len(cells) == 0 {
			return
		}
		if t.columns == nil {
			t.columns = cells
			return
		}
		row++
		if len(cells) != len(t.columns) {
			if opt.OnRowError != nil {
				opt.OnRowError(row, fmt.Errorf("row has %d cells, header has %d", len(cells), len(t.columns)))
			}
			return
		}
		t.rows = append(t.rows, cells)
	})

	if t.columns == nil {
		return nil, fmt.Errorf("table matching %q has no rows", sel)
	}
	return t, nil
}

// Columns returns the header names in document order.
func (t *Table) Columns() []string { return t.columns }

// Len returns the number of data rows extracted.
func (t *Table) Len() int { return len(t.rows) }

// Read returns the next data record, or io.EOF when the table is drained.
func (t *Table) Read() ([]string, error) {
	if t.next >= len(t.rows) {
		return nil, io.EOF
	}
	rec := t.rows[t.next]
	t.next++
	return rec, nil
}

// cellTexts collects the direct th/td children of a row. Nested tables do
// not leak cells into the enclosing row.
func cellTexts(tr *goquery.Selection) []string {
	var cells []string
	tr.ChildrenFiltered("th,td").Each(func(_ int, cell *goquery.Selection) {
		cells = append(cells, strings.TrimSpace(cell.Text()))
	})
	return cells
}

// decodeReader wraps src with a decoder for the named character set.
func decodeReader(src io.Reader, name string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return src, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w", name, err)
	}
	return transform.NewReader(src, enc.NewDecoder()), nil
}
