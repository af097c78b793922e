package datasource

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dataxchange/dxp/pkg/record"
)

// Row is one data row.
type Row struct {
	// Number is the 1-based position of the row after the header.
	Number int

	// Fields are the raw values in column order.
	Fields []string

	// Values maps header names to values.
	Values *record.Bag
}

// Reader iterates the rows of a CSV payload. The first record is the header.
type Reader struct {
	closer io.Closer
	csv    *csv.Reader
	opts   Options
	header []string
	count  int
}

func newReader(rc io.ReadCloser, opts Options) (*Reader, error) {
	cr := csv.NewReader(rc)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = opts.TrimSpaces
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}

	r := &Reader{closer: rc, csv: cr, opts: opts}

	header, err := r.next()
	if errors.Is(err, io.EOF) {
		// an empty payload has no rows
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	r.header = header
	return r, nil
}

// Header returns the column names.
func (r *Reader) Header() []string {
	return r.header
}

func (r *Reader) next() ([]string, error) {
	for {
		rec, err := r.csv.Read()
		if err != nil {
			return nil, err
		}
		if r.opts.TrimSpaces {
			for i := range rec {
				rec[i] = strings.TrimSpace(rec[i])
			}
		}
		if r.opts.SkipBlankLines && isBlank(rec) {
			continue
		}
		return rec, nil
	}
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Next returns the next row, or io.EOF when the payload is exhausted.
func (r *Reader) Next() (*Row, error) {
	if r.header == nil {
		return nil, io.EOF
	}

	rec, err := r.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("row %d: %w", r.count+1, err)
	}

	r.count++
	values := record.New()
	for i, name := range r.header {
		if i >= len(rec) {
			break
		}
		_ = values.SetString(name, rec[i])
	}

	return &Row{Number: r.count, Fields: rec, Values: values}, nil
}

// Close releases the underlying payload.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadAll reads every remaining row and closes the reader.
func (r *Reader) ReadAll() ([]*Row, error) {
	defer r.Close()

	var rows []*Row
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}
