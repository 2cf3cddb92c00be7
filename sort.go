// Package featsort implements an unstable external sort for streams of
// feature records. Inputs of at most Config.MaxInMemory records are sorted in
// memory; larger inputs are cut into sorted runs spilled to one temporary file
// and merged back when the sorted stream is read.
package featsort

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"go.uber.org/zap"

	"github.com/gofeature/featsort/codec"
	"github.com/gofeature/featsort/feature"
	"github.com/gofeature/featsort/ordering"
	"github.com/gofeature/featsort/tempfile"
)

// CanSort reports, as a *NotSortableError, why records of schema cannot be
// sorted by sortBy: an attribute the spill codec cannot encode, or a sort key
// that is missing or has no natural order.
func CanSort(schema *feature.Schema, sortBy []ordering.SortBy) error {
	if schema == nil {
		return &NotSortableError{Reason: "stream has no schema"}
	}
	if err := canSpill(schema); err != nil {
		return err
	}
	for _, sb := range sortBy {
		if sb.ByID() {
			continue
		}
		i := schema.Index(sb.Property)
		if i < 0 {
			return &NotSortableError{Attribute: sb.Property, Reason: "no such attribute in " + schema.Name()}
		}
		if a := schema.Attribute(i); !ordering.Sortable(a) {
			return &NotSortableError{Attribute: a.Name, Reason: fmt.Sprintf("type %v has no natural order", a.Type)}
		}
	}
	return nil
}

func canSpill(schema *feature.Schema) error {
	for _, a := range schema.Attributes() {
		if err := codec.CanEncode(a); err != nil {
			return &NotSortableError{Attribute: a.Name, Reason: err.Error()}
		}
	}
	return nil
}

// Sort returns input ordered by sortBy.
//
// An empty sortBy returns input itself. Otherwise eligibility is checked
// before input is read, then input is drained and closed. The result is a
// *feature.SliceStream when at most config.MaxInMemory records were read, and
// a *MergeStream over a spill file otherwise. Closing the result removes the
// spill file. A nil config uses DefaultConfig.
//
// Sorted records carry the values a spill file would give back whichever path
// is taken: temporal values are truncated to milliseconds in UTC before they
// are compared, and an orb.Ring or orb.Bound geometry fails the sort with a
// *SerializationError. Records needing truncation are copied, never modified.
func Sort(ctx context.Context, input feature.Stream, sortBy []ordering.SortBy, config *Config) (feature.Stream, error) {
	if ordering.Unsorted(sortBy) {
		return input, nil
	}
	schema := input.Schema()
	if err := CanSort(schema, sortBy); err != nil {
		return nil, err
	}
	cmp, err := ordering.Build(schema, sortBy)
	if err != nil {
		return nil, &NotSortableError{Reason: err.Error()}
	}
	return sortStream(ctx, input, cmp, config)
}

// SortFunc is Sort with a caller supplied comparator. Only the schema is
// checked for eligibility.
func SortFunc(ctx context.Context, input feature.Stream, cmp ordering.Comparator, config *Config) (feature.Stream, error) {
	if input.Schema() == nil {
		return nil, &NotSortableError{Reason: "stream has no schema"}
	}
	if err := canSpill(input.Schema()); err != nil {
		return nil, err
	}
	return sortStream(ctx, input, cmp, config)
}

// sorter holds the state of the drain phase of one sort.
type sorter struct {
	config Config
	log    *zap.Logger
	schema *feature.Schema
	cmp    ordering.Comparator
	batch  []*feature.Record
	store  *tempfile.Store
	runs   []tempfile.Run
	total  int
}

func sortStream(ctx context.Context, input feature.Stream, cmp ordering.Comparator, config *Config) (out feature.Stream, err error) {
	config = mergeConfig(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &sorter{
		config: *config,
		log:    config.Logger.With(zap.String("schema", input.Schema().Name())),
		schema: input.Schema(),
		cmp:    cmp,
	}
	defer func() {
		if err != nil {
			s.discard()
		}
	}()

	if err := s.drain(ctx, input); err != nil {
		return nil, err
	}

	if s.store == nil {
		if err := s.sortBatch(); err != nil {
			return nil, err
		}
		s.log.Debug("sorted in memory", zap.Int("records", s.total))
		return feature.NewSliceStream(s.schema, s.batch), nil
	}

	if len(s.batch) > 0 {
		if err := s.spill(); err != nil {
			return nil, err
		}
	}
	m, err := newMergeStream(s.schema, s.store, s.runs, s.cmp, s.config.RunBufferSize, s.log)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// drain reads input to the end, spilling a run every time the batch would
// grow past MaxInMemory, and closes input.
func (s *sorter) drain(ctx context.Context, input feature.Stream) (err error) {
	defer func() {
		if cerr := input.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := input.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if rec, err = codec.Normalize(rec); err != nil {
			return err
		}
		if len(s.batch) == s.config.MaxInMemory {
			if err := s.spill(); err != nil {
				return err
			}
		}
		s.batch = append(s.batch, rec)
		s.total++
	}
}

// sortBatch sorts the batch in memory, reporting a comparator panic as a
// ComparisonError.
func (s *sorter) sortBatch() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewComparisonError(r, "sortBatch")
		}
	}()
	slices.SortFunc(s.batch, s.cmp.Compare)
	return nil
}

// spill sorts the batch and appends it to the spill file as one run. The
// spill file is created on the first call.
func (s *sorter) spill() error {
	if err := s.sortBatch(); err != nil {
		return err
	}
	if s.store == nil {
		dir := tempfile.GetTempDir(s.config.TempFilesDir, s.config.PreferDiskBacked)
		store, err := tempfile.New(s.config.Fs, dir, s.schema)
		if err != nil {
			return NewDiskError(err, "create spill file", dir)
		}
		s.store = store
		s.log.Debug("created spill file", zap.String("path", store.Name()))
	}

	run, err := s.store.WriteRun(s.batch)
	if err != nil {
		var se *SerializationError
		if errors.As(err, &se) {
			return err
		}
		return NewDiskError(err, "write run", s.store.Name())
	}
	s.runs = append(s.runs, run)
	s.log.Debug("spilled run",
		zap.Int("run", len(s.runs)-1),
		zap.Int64("offset", run.Offset),
		zap.Int("records", run.Count))

	clear(s.batch)
	s.batch = s.batch[:0]
	return nil
}

// discard releases everything held after a failed sort.
func (s *sorter) discard() {
	s.batch = nil
	if s.store == nil {
		return
	}
	if err := s.store.Close(true); err != nil {
		s.log.Warn("failed to remove spill file", zap.String("path", s.store.Name()), zap.Error(err))
	}
	s.store = nil
}
