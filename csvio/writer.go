package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/gofeature/featsort/feature"
)

// Writer writes records of one schema as CSV, starting with a header row
// readable by NewReader. The id is the first column.
type Writer struct {
	w      *csv.Writer
	schema *feature.Schema
	row    []string
}

// NewWriter writes the header row for schema to w.
func NewWriter(w io.Writer, schema *feature.Schema) (*Writer, error) {
	cw := csv.NewWriter(w)
	header := make([]string, 0, schema.Len()+1)
	header = append(header, IDColumn)
	for _, a := range schema.Attributes() {
		header = append(header, HeaderCell(a))
	}
	if err := cw.Write(header); err != nil {
		return nil, err
	}
	return &Writer{w: cw, schema: schema, row: make([]string, len(header))}, nil
}

// Write writes rec as one row.
func (w *Writer) Write(rec *feature.Record) error {
	if rec.Schema != w.schema {
		return fmt.Errorf("csvio: record %s does not use schema %s", rec.ID, w.schema.Name())
	}
	w.row[0] = rec.ID
	for i, v := range rec.Values {
		s, err := FormatValue(w.schema.Attribute(i), v)
		if err != nil {
			return fmt.Errorf("csvio: record %s: %w", rec.ID, err)
		}
		w.row[i+1] = s
	}
	return w.w.Write(w.row)
}

// Flush writes any buffered rows to the underlying writer.
func (w *Writer) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

// WriteStream writes the header for the schema of s and every remaining
// record of s to w, returning the number of records written. s is not closed.
func WriteStream(w io.Writer, s feature.Stream) (int, error) {
	cw, err := NewWriter(w, s.Schema())
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		rec, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		if err := cw.Write(rec); err != nil {
			return n, err
		}
		n++
	}
	return n, cw.Flush()
}

// FormatValue formats v, a value of a, as the text of one cell.
func FormatValue(a feature.Attribute, v any) (string, error) {
	if v == nil {
		return "", nil
	}
	switch v := v.(type) {
	case bool:
		return strconv.FormatBool(v), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case string:
		return v, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	case orb.Geometry:
		return wkt.MarshalString(v), nil
	}
	return "", fmt.Errorf("attribute %s: %T cannot be written as text", a.Name, v)
}
