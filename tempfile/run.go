package tempfile

import (
	"fmt"
	"io"

	"github.com/gofeature/featsort/codec"
	"github.com/gofeature/featsort/feature"
)

// Run is a sorted block of Count records written contiguously from Offset.
type Run struct {
	Offset int64
	Count  int
}

// RunReader reads the records of one run back in order, keeping the current
// record available for comparison during a merge.
//
// Run readers of the same Store share its cursor. Every refill seeks to the
// reader's own offset first, and up to prefetch records are decoded per seek.
type RunReader struct {
	store     *Store
	offset    int64 // offset of the next record not yet decoded
	remaining int   // records not yet decoded
	buf       []*feature.Record
	head      int
	current   *feature.Record
}

// NewRunReader opens run on store and loads its first record.
func NewRunReader(store *Store, run Run, prefetch int) (*RunReader, error) {
	if prefetch <= 0 {
		prefetch = 1
	}
	r := &RunReader{
		store:     store,
		offset:    run.Offset,
		remaining: run.Count,
		buf:       make([]*feature.Record, 0, min(prefetch, max(run.Count, 1))),
	}
	if _, err := r.Next(); err != nil {
		return nil, err
	}
	return r, nil
}

// Feature returns the current record without advancing, or nil once the run
// is exhausted.
func (r *RunReader) Feature() *feature.Record {
	return r.current
}

// Next advances to the following record and returns it. It returns nil, and
// no error, once all records of the run have been consumed.
func (r *RunReader) Next() (*feature.Record, error) {
	if r.head == len(r.buf) {
		if r.remaining == 0 {
			r.current = nil
			return nil, nil
		}
		if err := r.fill(); err != nil {
			r.current = nil
			return nil, err
		}
	}
	r.current = r.buf[r.head]
	r.buf[r.head] = nil
	r.head++
	return r.current, nil
}

func (r *RunReader) fill() error {
	if err := r.store.Seek(r.offset); err != nil {
		return err
	}
	r.buf, r.head = r.buf[:0], 0
	for len(r.buf) < cap(r.buf) && r.remaining > 0 {
		if r.store.EOF() {
			return &codec.CorruptRecordError{
				Cause: fmt.Errorf("run ends at offset %d with %d records missing: %w", r.store.Offset(), r.remaining, io.ErrUnexpectedEOF),
			}
		}
		rec, err := r.store.Read()
		if err != nil {
			return err
		}
		r.buf = append(r.buf, rec)
		r.remaining--
	}
	r.offset = r.store.Offset()
	return nil
}
