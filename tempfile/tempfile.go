// Package tempfile implements the spill store of an external sort: one
// temporary file that sorted runs of records are appended to and later read
// back from arbitrary offsets, removed from the filesystem when the sort is done.
// Every run of a sort maps to a section of the same real file.
package tempfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/gofeature/featsort/codec"
	"github.com/gofeature/featsort/feature"
)

var (
	// file IO buffer size for the store
	fileBufferSize = 1 << 16 // 64k
	// filename prefix for files put in temp directory
	spillFilenamePrefix = fmt.Sprintf("featsort_%d_", os.Getpid())

	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("tempfile: store closed")
)

// Store is a single random access spill file holding encoded records.
// Appends go to the end of the file; reads start at the cursor set by Seek.
// A Store is not safe for concurrent use.
type Store struct {
	fs    afero.Fs
	file  afero.File
	name  string
	codec *codec.Codec

	w    *bufio.Writer
	size int64 // logical file length, buffered bytes included

	pos   int64 // read cursor
	r     *bufio.Reader
	rpos  int64 // offset the next byte of r comes from, -1 when r is stale
	limit int64 // file length r was created for

	closed bool
}

// New creates an empty spill file for records of schema in dir on fs.
// An empty dir uses the default temp directory of fs.
func New(fs afero.Fs, dir string, schema *feature.Schema) (*Store, error) {
	c, err := codec.New(schema)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if err := fs.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	f, err := afero.TempFile(fs, dir, spillFilenamePrefix)
	if err != nil {
		return nil, err
	}
	return &Store{
		fs:    fs,
		file:  f,
		name:  f.Name(),
		codec: c,
		w:     bufio.NewWriterSize(f, fileBufferSize),
		r:     bufio.NewReaderSize(nil, fileBufferSize),
		rpos:  -1,
	}, nil
}

// Name returns the path of the backing file.
func (s *Store) Name() string {
	return s.name
}

// Size returns the number of bytes appended so far.
func (s *Store) Size() int64 {
	return s.size
}

// Append encodes rec at the end of the file and returns the offset it starts at.
func (s *Store) Append(rec *feature.Record) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	off := s.size
	n, err := s.codec.Write(s.w, rec)
	s.size += n
	return off, err
}

// WriteRun appends records, already sorted, as one run.
func (s *Store) WriteRun(records []*feature.Record) (Run, error) {
	run := Run{Offset: s.size, Count: len(records)}
	for _, rec := range records {
		if _, err := s.Append(rec); err != nil {
			return run, err
		}
	}
	return run, nil
}

// Seek moves the read cursor to off.
func (s *Store) Seek(off int64) error {
	if s.closed {
		return ErrClosed
	}
	if off < 0 || off > s.size {
		return fmt.Errorf("tempfile: seek to %d outside [0, %d]", off, s.size)
	}
	s.pos = off
	return nil
}

// Offset returns the read cursor.
func (s *Store) Offset() int64 {
	return s.pos
}

// EOF reports whether the read cursor is at or past the end of the file.
func (s *Store) EOF() bool {
	return s.pos >= s.size
}

// Read decodes the record at the cursor and advances the cursor past it.
// It returns io.EOF at the end of the file.
func (s *Store) Read() (*feature.Record, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.w.Buffered() > 0 {
		if err := s.w.Flush(); err != nil {
			return nil, err
		}
	}
	if s.EOF() {
		return nil, io.EOF
	}
	if s.rpos != s.pos || s.limit != s.size {
		s.r.Reset(io.NewSectionReader(s.file, s.pos, s.size-s.pos))
		s.rpos, s.limit = s.pos, s.size
	}
	rec, n, err := s.codec.Read(s.r)
	s.pos += n
	if err != nil {
		s.rpos = -1
		if err == io.EOF {
			// the file holds fewer bytes than were appended
			err = &codec.CorruptRecordError{
				Cause: fmt.Errorf("file ends before offset %d: %w", s.pos, io.ErrUnexpectedEOF),
			}
		}
		return nil, err
	}
	s.rpos = s.pos
	return rec, nil
}

// Close releases the file handle and, if deleteFile is set, removes the file.
// Calls after the first return nil.
func (s *Store) Close(deleteFile bool) error {
	if s.closed {
		return nil
	}
	s.closed = true

	var result *multierror.Error
	if !deleteFile {
		if err := s.w.Flush(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.file.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if deleteFile {
		if err := s.fs.Remove(s.name); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
		}
	}
	s.w, s.r = nil, nil
	return result.ErrorOrNil()
}
