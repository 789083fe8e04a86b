package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Reader reads Records from CSV input with a header row. Columns are
// located by name, fields are trimmed, and rows may omit trailing fields,
// so a dispute row without an amount column is accepted.
type Reader struct {
	r    *csv.Reader
	cols map[string]int
}

var requiredColumns = []string{"type", "client", "tx"}

// NewReader reads the header of in and returns a Reader positioned on the
// first record.
func NewReader(in io.Reader) (*Reader, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("missing header")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("header lacks column %q", name)
		}
	}
	return &Reader{r: r, cols: cols}, nil
}

// Next returns the next record, or io.EOF at the end of input. A row that
// cannot be split into fields yields an error wrapping ErrMalformed, after
// which reading may continue.
func (r *Reader) Next() (Record, error) {
	fields, err := r.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return Record{Line: perr.Line}, fmt.Errorf("%w: %v", ErrMalformed, perr)
		}
		return Record{}, err
	}

	line, _ := r.r.FieldPos(0)
	return Record{
		Type:   r.field(fields, "type"),
		Client: r.field(fields, "client"),
		Tx:     r.field(fields, "tx"),
		Amount: r.field(fields, "amount"),
		Line:   line,
	}, nil
}

func (r *Reader) field(fields []string, name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}
