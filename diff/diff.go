// Package diff compares two record streams sorted by the same comparator and
// reports the records found in only one of them.
package diff

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gofeature/featsort/feature"
	"github.com/gofeature/featsort/ordering"
)

// differ holds the state of one diff of two sorted streams.
type differ struct {
	ctx        context.Context
	a, b       feature.Stream
	compare    ordering.Comparator
	resultFunc ResultFunc
}

// Streams walks a and b, which MUST both be sorted by compare, and calls
// resultFunc for every record that has no equal counterpart in the other
// stream. Records comparing equal are counted as common. Sortedness is not
// validated. Neither stream is closed.
func Streams(ctx context.Context, a, b feature.Stream, compare ordering.Comparator, resultFunc ResultFunc) (Result, error) {
	if ctx == nil || a == nil || b == nil || compare == nil || resultFunc == nil {
		return Result{}, fmt.Errorf("arguments must not be nil")
	}
	d := differ{ctx: ctx, a: a, b: b, compare: compare, resultFunc: resultFunc}
	return d.diff()
}

// next reads the following record of s, returning nil at the end of s.
func (d *differ) next(s feature.Stream) (*feature.Record, error) {
	if err := d.ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.Next()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	return rec, err
}

func (d *differ) diff() (r Result, err error) {
	recA, err := d.next(d.a)
	if err != nil {
		return r, err
	}
	recB, err := d.next(d.b)
	if err != nil {
		return r, err
	}
	for recA != nil && recB != nil {
		c := d.compare.Compare(recA, recB)
		switch {
		case c > 0:
			r.TotalB++
			r.ExtraB++
			if err = d.resultFunc(NEW, recB); err != nil {
				return
			}
			if recB, err = d.next(d.b); err != nil {
				return
			}
		case c < 0:
			r.TotalA++
			r.ExtraA++
			if err = d.resultFunc(OLD, recA); err != nil {
				return
			}
			if recA, err = d.next(d.a); err != nil {
				return
			}
		default:
			r.Common++
			r.TotalA++
			r.TotalB++
			if recA, err = d.next(d.a); err != nil {
				return
			}
			if recB, err = d.next(d.b); err != nil {
				return
			}
		}
	}
	// if only A has data left
	for recA != nil {
		r.TotalA++
		r.ExtraA++
		if err = d.resultFunc(OLD, recA); err != nil {
			return
		}
		if recA, err = d.next(d.a); err != nil {
			return
		}
	}
	// if only B has data left
	for recB != nil {
		r.TotalB++
		r.ExtraB++
		if err = d.resultFunc(NEW, recB); err != nil {
			return
		}
		if recB, err = d.next(d.b); err != nil {
			return
		}
	}
	return
}
