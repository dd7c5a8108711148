// Package csv reads delimited text into header-aligned string records.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Options configure a Reader. The zero value reads comma-separated UTF-8
// input with a header row.
type Options struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune

	// Encoding names the input character set (IANA name, e.g.
	// "windows-1250"). Empty or a UTF-8 alias reads the bytes as-is.
	Encoding string

	// LazyQuotes permits stray quotes inside unquoted fields.
	LazyQuotes bool

	// TrimSpace trims leading and trailing whitespace from every field.
	TrimSpace bool

	// NoHeader treats the first row as data; columns are named
	// col_1..col_N after its width.
	NoHeader bool

	// OnRowError receives per-row parse failures (wrong field count, bad
	// quoting) with the 1-based data row number. Malformed rows are
	// skipped and reading continues. Callers that must account for every
	// row count them here.
	OnRowError func(row int, err error)
}

// Reader pulls one record at a time from delimited text. The header row is
// consumed by NewReader; each Read returns a data record whose backing
// array is reused, so callers keep values only until the next Read.
type Reader struct {
	cr      *csv.Reader
	columns []string
	trim    bool
	onErr   func(row int, err error)
	row     int

	// pending holds the first data row when the header was synthesized.
	pending []string
}

// NewReader wraps src and consumes the header row. A byte-order mark on the
// first header cell is stripped and header cells are always trimmed; the
// header width becomes the enforced record width.
func NewReader(src io.Reader, opt Options) (*Reader, error) {
	dec, err := decodeReader(src, opt.Encoding)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(dec)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.ReuseRecord = true
	cr.LazyQuotes = opt.LazyQuotes

	r := &Reader{cr: cr, trim: opt.TrimSpace, onErr: opt.OnRowError}

	first, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	if opt.NoHeader {
		r.columns = make([]string, len(first))
		for i := range first {
			r.columns[i] = fmt.Sprintf("col_%d", i+1)
		}
		rec := make([]string, len(first))
		copy(rec, first)
		if r.trim {
			trimFields(rec)
		}
		r.pending = rec
		return r, nil
	}

	cols := make([]string, len(first))
	for i, h := range first {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		cols[i] = strings.TrimSpace(h)
	}
	r.columns = cols
	return r, nil
}

// Columns returns the header names in input order.
func (r *Reader) Columns() []string { return r.columns }

// Row returns the 1-based number of the last data row read or skipped.
func (r *Reader) Row() int { return r.row }

// Read returns the next data record, or io.EOF at end of input. Rows that
// fail to parse are reported to OnRowError and skipped; any other error
// means the stream itself is broken.
func (r *Reader) Read() ([]string, error) {
	if r.pending != nil {
		rec := r.pending
		r.pending = nil
		r.row++
		return rec, nil
	}

	for {
		rec, err := r.cr.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		r.row++
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				if r.onErr != nil {
					r.onErr(r.row, err)
				}
				continue
			}
			return nil, err
		}

		if r.trim {
			trimFields(rec)
		}
		return rec, nil
	}
}

func trimFields(rec []string) {
	for i, v := range rec {
		if hasEdgeSpace(v) {
			rec[i] = strings.TrimSpace(v)
		}
	}
}

// hasEdgeSpace gates TrimSpace so untouched fields skip the scan.
func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return isSpace(s[0]) || isSpace(s[len(s)-1])
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
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
