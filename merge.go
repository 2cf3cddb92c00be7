package featsort

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/gofeature/featsort/feature"
	"github.com/gofeature/featsort/ordering"
	"github.com/gofeature/featsort/queue"
	"github.com/gofeature/featsort/tempfile"
)

// mergeRun is one run taking part in the merge. index breaks ties between
// runs so equal records come out in run order.
type mergeRun struct {
	reader *tempfile.RunReader
	index  int
}

// MergeStream yields the records of all spilled runs in order by repeatedly
// taking the smallest current record among the run readers.
// The spill file is removed at the end of the stream or on Close, whichever
// comes first.
type MergeStream struct {
	schema *feature.Schema
	store  *tempfile.Store
	path   string
	runs   int
	pq     *queue.PriorityQueue[*mergeRun]
	log    *zap.Logger
	err    error
	closed bool
}

func newMergeStream(schema *feature.Schema, store *tempfile.Store, runs []tempfile.Run, cmp ordering.Comparator, prefetch int, log *zap.Logger) (*MergeStream, error) {
	m := &MergeStream{
		schema: schema,
		store:  store,
		path:   store.Name(),
		runs:   len(runs),
		log:    log,
	}
	m.pq = queue.NewPriorityQueue(func(a, b *mergeRun) int {
		if c := cmp.Compare(a.reader.Feature(), b.reader.Feature()); c != 0 {
			return c
		}
		return a.index - b.index
	})

	log.Debug("merging runs", zap.Int("runs", len(runs)), zap.String("path", m.path), zap.Int64("bytes", store.Size()))
	err := m.guard("start merge", func() error {
		for i, run := range runs {
			r, err := tempfile.NewRunReader(store, run, prefetch)
			if err != nil {
				return m.readError(err)
			}
			if r.Feature() != nil {
				m.pq.Push(&mergeRun{reader: r, index: i})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Schema returns the schema of the merged records.
func (m *MergeStream) Schema() *feature.Schema {
	return m.schema
}

// Runs returns the number of runs the input was spilled as.
func (m *MergeStream) Runs() int {
	return m.runs
}

// Path returns the path of the spill file, which no longer exists once the
// stream is exhausted or closed.
func (m *MergeStream) Path() string {
	return m.path
}

// Next returns the next record in order, or io.EOF after the last one.
// Any read or comparison failure is returned again by later calls.
func (m *MergeStream) Next() (*feature.Record, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.pq.Len() == 0 {
		if err := m.release(); err != nil {
			m.err = err
			return nil, err
		}
		return nil, io.EOF
	}

	var rec *feature.Record
	err := m.guard("merge", func() error {
		top := m.pq.Peek()
		rec = top.reader.Feature()
		next, err := top.reader.Next()
		if err != nil {
			return m.readError(err)
		}
		if next == nil {
			m.pq.Pop()
		} else {
			m.pq.PeekUpdate()
		}
		return nil
	})
	if err != nil {
		m.fail(err)
		return nil, err
	}
	return rec, nil
}

// Close stops the merge and removes the spill file. Calls after the first
// return nil.
func (m *MergeStream) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.pq.Clear()
	return m.release()
}

// guard runs fn, turning a comparator panic into a ComparisonError.
func (m *MergeStream) guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewComparisonError(r, op)
		}
	}()
	return fn()
}

func (m *MergeStream) readError(err error) error {
	var ce *CorruptRecordError
	if errors.As(err, &ce) {
		return err
	}
	return NewDiskError(err, "read run", m.path)
}

// fail makes err sticky and removes the spill file.
func (m *MergeStream) fail(err error) {
	m.err = err
	m.pq.Clear()
	if rerr := m.release(); rerr != nil {
		m.log.Warn("failed to remove spill file after merge error", zap.String("path", m.path), zap.Error(rerr))
	}
}

func (m *MergeStream) release() error {
	if m.store == nil {
		return nil
	}
	err := m.store.Close(true)
	m.store = nil
	if err != nil {
		m.log.Warn("failed to remove spill file", zap.String("path", m.path), zap.Error(err))
		return NewDiskError(err, "remove spill file", m.path)
	}
	return nil
}
