package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/gofeature/featsort/feature"
)

// Reader streams the rows of a CSV document as records.
type Reader struct {
	reader  *csv.Reader
	closer  io.Closer
	schema  *feature.Schema
	idCol   int
	columns []int
	line    int
	closed  bool
}

var _ feature.Stream = (*Reader)(nil)

// NewReader reads the header row of r and returns a stream of the rows that
// follow, as records of a schema called name. If r is an io.Closer the
// reader takes ownership of it and closes it on Close.
func NewReader(r io.Reader, name string) (*Reader, error) {
	closer, _ := r.(io.Closer)
	fail := func(err error) (*Reader, error) {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}

	csvReader := csv.NewReader(r)
	csvReader.TrimLeadingSpace = true
	csvReader.ReuseRecord = true

	headers, err := csvReader.Read()
	if err != nil {
		return fail(fmt.Errorf("csvio: failed to read CSV headers: %w", err))
	}
	schema, idCol, columns, err := ParseHeader(name, headers)
	if err != nil {
		return fail(err)
	}
	csvReader.FieldsPerRecord = len(headers)

	return &Reader{
		reader:  csvReader,
		closer:  closer,
		schema:  schema,
		idCol:   idCol,
		columns: columns,
		line:    1,
	}, nil
}

// Schema returns the schema declared by the header row.
func (r *Reader) Schema() *feature.Schema {
	return r.schema
}

// Next parses the following row.
func (r *Reader) Next() (*feature.Record, error) {
	if r.closed {
		return nil, feature.ErrClosed
	}
	row, err := r.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	r.line++
	if err != nil {
		return nil, fmt.Errorf("csvio: line %d: %w", r.line, err)
	}

	rec := &feature.Record{
		ID:     r.schema.Name() + "." + strconv.Itoa(r.line-1),
		Schema: r.schema,
		Values: make([]any, r.schema.Len()),
	}
	for i, cell := range row {
		if i == r.idCol {
			rec.ID = cell
			continue
		}
		a := r.schema.Attribute(r.columns[i])
		v, err := ParseValue(a, cell)
		if err != nil {
			return nil, fmt.Errorf("csvio: line %d column %q: %w", r.line, a.Name, err)
		}
		rec.Values[r.columns[i]] = v
	}
	return rec, nil
}

// Close closes the underlying reader if it is an io.Closer.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// ParseValue converts the text of one cell into a value of a. An empty cell
// is null when a is nillable and the empty string for string attributes.
func ParseValue(a feature.Attribute, s string) (any, error) {
	if s == "" {
		if a.Nillable {
			return nil, nil
		}
		if a.Type == feature.TypeString {
			return "", nil
		}
		return nil, errors.New("empty value for attribute that is not nillable")
	}
	switch a.Type {
	case feature.TypeBool:
		return strconv.ParseBool(s)
	case feature.TypeInt8:
		v, err := strconv.ParseInt(s, 10, 8)
		return int8(v), err
	case feature.TypeInt16:
		v, err := strconv.ParseInt(s, 10, 16)
		return int16(v), err
	case feature.TypeInt32:
		v, err := strconv.ParseInt(s, 10, 32)
		return int32(v), err
	case feature.TypeInt64:
		return strconv.ParseInt(s, 10, 64)
	case feature.TypeFloat32:
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	case feature.TypeFloat64:
		return strconv.ParseFloat(s, 64)
	case feature.TypeString:
		return s, nil
	case feature.TypeDate, feature.TypeTime, feature.TypeTimestamp:
		return parseTime(s)
	case feature.TypeGeometry:
		return wkt.Unmarshal(s)
	}
	return nil, fmt.Errorf("type %v cannot be read from text", a.Type)
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02", "15:04:05"}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as RFC 3339 time", s)
}
