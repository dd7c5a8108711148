// Package json reads JSON records into header-aligned string rows.
//
// Three input shapes are understood:
//
//   - a root array of objects, one record per element
//   - an envelope object whose first array-valued field holds the records;
//     the other envelope fields are skipped
//   - a single root object, read as one record
//
// After the root value, further whitespace-separated objects are read as
// additional records, which also covers JSON Lines files.
//
// Column names and their order come from the first record's keys as they
// appear in the input. Later records are matched by key: a missing key
// reads as NULL, keys the first record did not have are ignored.
package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Options configure Rows. The zero value joins string arrays with ",".
type Options struct {
	// ArrayJoin separates the elements when an all-string array value is
	// flattened into one field. Empty means ",".
	ArrayJoin string

	// OnRowError receives records that are not objects, with the 1-based
	// record number. Such records are skipped and reading continues.
	OnRowError func(row int, err error)
}

const (
	phaseArray    = iota // inside an open record array
	phaseTrailing        // whitespace-separated root-level records
	phaseDone
)

// Rows pulls one record at a time from a JSON document. Scalars keep their
// input spelling: numbers are never reparsed into float64, so "10.50"
// reaches the consumer as written.
type Rows struct {
	dec      *json.Decoder
	columns  []string
	sep      string
	onErr    func(row int, err error)
	row      int
	phase    int
	envelope bool

	// pending holds the first record, decoded while discovering columns.
	pending []string
}

// NewRows wraps src and consumes input up to the first record, whose keys
// become the column set.
func NewRows(src io.Reader, opt Options) (*Rows, error) {
	dec := json.NewDecoder(src)
	dec.UseNumber()

	r := &Rows{dec: dec, sep: opt.ArrayJoin, onErr: opt.OnRowError}
	if r.sep == "" {
		r.sep = ","
	}

	tok, err := dec.Token()
	if err == io.EOF {
		return nil, errors.New("empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read root: %w", err)
	}
	switch d, _ := tok.(json.Delim); d {
	case '[':
		r.phase = phaseArray
	case '{':
		keys, values, err := r.scanRootObject()
		if err != nil {
			return nil, err
		}
		if !r.envelope {
			if err := r.fix(keys, values); err != nil {
				return nil, err
			}
			return r, nil
		}
	default:
		return nil, fmt.Errorf("root is %v, want an object or an array", tok)
	}

	keys, values, err := r.nextObject()
	if err == io.EOF {
		return nil, errors.New("input has no records")
	}
	if err != nil {
		return nil, err
	}
	if err := r.fix(keys, values); err != nil {
		return nil, err
	}
	return r, nil
}

// fix pins the column set to the first record's keys and queues the record
// itself for the first Read.
func (r *Rows) fix(keys []string, values map[string]any) error {
	if len(keys) == 0 {
		return errors.New("first record has no fields")
	}
	r.columns = keys
	r.pending = r.mapRecord(values)
	return nil
}

// Columns returns the first record's field names in input order.
func (r *Rows) Columns() []string { return r.columns }

// Row returns the 1-based number of the last record read or skipped.
func (r *Rows) Row() int { return r.row }

// Read returns the next record aligned to Columns, or io.EOF at end of
// input. Records that are not objects are reported to OnRowError and
// skipped; any other error means the document itself is broken.
func (r *Rows) Read() ([]string, error) {
	if r.pending != nil {
		rec := r.pending
		r.pending = nil
		r.row++
		return rec, nil
	}

	_, values, err := r.nextObject()
	if err != nil {
		return nil, err
	}
	r.row++
	return r.mapRecord(values), nil
}

// nextObject advances to the next record that is an object and materializes
// it with its key order intact. Non-object records are counted, reported
// and skipped.
func (r *Rows) nextObject() ([]string, map[string]any, error) {
	for {
		tok, err := r.nextRecordToken()
		if err != nil {
			return nil, nil, err
		}
		if d, ok := tok.(json.Delim); ok && d == '{' {
			return r.decodeOpenObject()
		}

		if _, err := r.decodeValue(tok); err != nil {
			return nil, nil, err
		}
		r.row++
		if r.onErr != nil {
			r.onErr(r.row, fmt.Errorf("record is %s, want an object", tokenKind(tok)))
		}
	}
}

// nextRecordToken returns the first token of the next record, moving from
// the record array to trailing records when the array ends.
func (r *Rows) nextRecordToken() (json.Token, error) {
	for {
		switch r.phase {
		case phaseArray:
			if r.dec.More() {
				tok, err := r.dec.Token()
				if err != nil {
					return nil, fmt.Errorf("read record: %w", err)
				}
				return tok, nil
			}
			if err := r.closeArray(); err != nil {
				return nil, err
			}

		case phaseTrailing:
			tok, err := r.dec.Token()
			if err == io.EOF {
				r.phase = phaseDone
				return nil, io.EOF
			}
			if err != nil {
				return nil, fmt.Errorf("read record: %w", err)
			}
			return tok, nil

		default:
			return nil, io.EOF
		}
	}
}

// closeArray consumes the record array's ']' and, for an envelope, the
// rest of the root object, then switches to trailing records.
func (r *Rows) closeArray() error {
	if _, err := r.dec.Token(); err != nil {
		return fmt.Errorf("read array end: %w", err)
	}
	if r.envelope {
		for r.dec.More() {
			if _, err := r.dec.Token(); err != nil {
				return fmt.Errorf("read envelope field: %w", err)
			}
			tok, err := r.dec.Token()
			if err != nil {
				return fmt.Errorf("read envelope field: %w", err)
			}
			if _, err := r.decodeValue(tok); err != nil {
				return err
			}
		}
		if _, err := r.dec.Token(); err != nil {
			return fmt.Errorf("read envelope end: %w", err)
		}
		r.envelope = false
	}
	r.phase = phaseTrailing
	return nil
}

// scanRootObject walks the root object. The first array-valued field, if
// any, becomes the record stream and the fields read before it are
// discarded; otherwise the object itself is the one root record and its
// ordered keys and values are returned.
func (r *Rows) scanRootObject() ([]string, map[string]any, error) {
	var keys []string
	values := make(map[string]any)

	for r.dec.More() {
		key, err := r.fieldName()
		if err != nil {
			return nil, nil, err
		}
		tok, err := r.dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("read field %s: %w", key, err)
		}
		if d, ok := tok.(json.Delim); ok && d == '[' {
			r.phase = phaseArray
			r.envelope = true
			return nil, nil, nil
		}
		v, err := r.decodeValue(tok)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := values[key]; !dup {
			keys = append(keys, key)
		}
		values[key] = v
	}
	if _, err := r.dec.Token(); err != nil {
		return nil, nil, fmt.Errorf("read object end: %w", err)
	}
	r.phase = phaseTrailing
	return keys, values, nil
}

// decodeOpenObject materializes an object whose '{' was already consumed,
// keeping the key order of the input. On duplicate keys the last value
// wins and the first position is kept.
func (r *Rows) decodeOpenObject() ([]string, map[string]any, error) {
	var keys []string
	values := make(map[string]any)

	for r.dec.More() {
		key, err := r.fieldName()
		if err != nil {
			return nil, nil, err
		}
		tok, err := r.dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("read field %s: %w", key, err)
		}
		v, err := r.decodeValue(tok)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := values[key]; !dup {
			keys = append(keys, key)
		}
		values[key] = v
	}
	if _, err := r.dec.Token(); err != nil {
		return nil, nil, fmt.Errorf("read object end: %w", err)
	}
	return keys, values, nil
}

func (r *Rows) fieldName() (string, error) {
	tok, err := r.dec.Token()
	if err != nil {
		return "", fmt.Errorf("read field name: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("field name is %v, want a string", tok)
	}
	return key, nil
}

// decodeValue materializes the value whose first token is tok.
func (r *Rows) decodeValue(tok json.Token) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		_, values, err := r.decodeOpenObject()
		return values, err
	case '[':
		var arr []any
		for r.dec.More() {
			t, err := r.dec.Token()
			if err != nil {
				return nil, fmt.Errorf("read array element: %w", err)
			}
			v, err := r.decodeValue(t)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := r.dec.Token(); err != nil {
			return nil, fmt.Errorf("read array end: %w", err)
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", d)
	}
}

// mapRecord aligns an object's values with the column order.
func (r *Rows) mapRecord(values map[string]any) []string {
	rec := make([]string, len(r.columns))
	for i, col := range r.columns {
		rec[i] = r.render(values[col])
	}
	return rec
}

// render flattens one JSON value into a string field. Null becomes the
// empty string, which loads as NULL; an all-string array joins with the
// separator; any other composite renders as compact JSON text.
func (r *Rows) render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []any:
		if ss, ok := stringElems(t); ok {
			return strings.Join(ss, r.sep)
		}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// stringElems extracts an all-string array for joining, skipping nulls.
func stringElems(arr []any) ([]string, bool) {
	ss := make([]string, 0, len(arr))
	for _, v := range arr {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		ss = append(ss, s)
	}
	return ss, true
}

func tokenKind(tok json.Token) string {
	switch tok.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case json.Number:
		return "a number"
	case bool:
		return "a boolean"
	case json.Delim:
		return "an array"
	}
	return fmt.Sprintf("%T", tok)
}
