package feature

import (
	"errors"
	"io"
)

// ErrClosed is returned by Next on a stream that has been closed.
var ErrClosed = errors.New("feature: stream closed")

// Stream is a forward-only sequence of records sharing one schema.
// Next returns io.EOF once the stream is exhausted. Close releases any
// resources held by the stream and must be safe to call more than once.
type Stream interface {
	Schema() *Schema
	Next() (*Record, error)
	Close() error
}

// SliceStream streams records held in memory.
type SliceStream struct {
	schema  *Schema
	records []*Record
	pos     int
	closed  bool
}

// NewSliceStream returns a stream over records, which must all use schema.
func NewSliceStream(schema *Schema, records []*Record) *SliceStream {
	return &SliceStream{schema: schema, records: records}
}

// Schema returns the schema of the streamed records.
func (s *SliceStream) Schema() *Schema {
	return s.schema
}

// Next returns the next record or io.EOF.
func (s *SliceStream) Next() (*Record, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

// Len returns the number of records not yet returned.
func (s *SliceStream) Len() int {
	return len(s.records) - s.pos
}

// Close drops the remaining records.
func (s *SliceStream) Close() error {
	s.closed = true
	s.records = nil
	return nil
}

// Collect drains s into a slice and closes it.
func Collect(s Stream) (out []*Record, err error) {
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()
	for {
		rec, err := s.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
