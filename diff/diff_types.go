package diff

import (
	"fmt"
	"io"

	"github.com/gofeature/featsort/feature"
)

// Delta tells which of two sorted streams a record was found in.
type Delta int

const (
	// NEW marks a record found only in the second stream (B).
	NEW Delta = iota // +

	// OLD marks a record found only in the first stream (A).
	OLD // -
)

func (d Delta) String() string {
	switch d {
	case NEW:
		return ">"
	case OLD:
		return "<"
	default:
		return "?"
	}
}

// ResultFunc is called once for each record found in only one of the two
// streams. Returning an error stops the diff.
type ResultFunc func(Delta, *feature.Record) error

// Result counts the records of a diff.
type Result struct {
	// ExtraA is the count of records only in stream A (OLD records)
	ExtraA uint64

	// ExtraB is the count of records only in stream B (NEW records)
	ExtraB uint64

	// TotalA is the total count of records read from stream A
	TotalA uint64

	// TotalB is the total count of records read from stream B
	TotalB uint64

	// Common is the count of records found in both streams
	Common uint64
}

func (r *Result) String() string {
	return fmt.Sprintf("A: %d/%d\tB: %d/%d\tC: %d", r.ExtraA, r.TotalA, r.ExtraB, r.TotalB, r.Common)
}

// Writer returns a ResultFunc printing every difference to w as the Delta
// symbol followed by the record.
func Writer(w io.Writer) ResultFunc {
	return func(d Delta, rec *feature.Record) error {
		_, err := fmt.Fprintf(w, "%s %v\n", d, rec)
		return err
	}
}
