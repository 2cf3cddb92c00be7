package featsort

import (
	"github.com/gofeature/featsort/feature"
	"github.com/gofeature/featsort/ordering"
)

// Unique returns a stream that drops every record comparing equal under cmp
// to the record returned just before it. On a stream sorted by cmp this keeps
// the first record of each group of equal records.
// Closing the returned stream closes s.
func Unique(s feature.Stream, cmp ordering.Comparator) feature.Stream {
	return &uniqueStream{Stream: s, cmp: cmp}
}

type uniqueStream struct {
	feature.Stream
	cmp   ordering.Comparator
	prior *feature.Record
}

func (u *uniqueStream) Next() (*feature.Record, error) {
	for {
		rec, err := u.Stream.Next()
		if err != nil {
			return nil, err
		}
		if u.prior != nil && u.cmp.Compare(u.prior, rec) == 0 {
			continue
		}
		u.prior = rec
		return rec, nil
	}
}
