package codec

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/gofeature/featsort/feature"
)

// TruncateTime returns t as the codec reads it back: whole milliseconds in UTC.
func TruncateTime(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

// Normalize returns rec with its values in the form a write and read through
// the codec would produce, so records kept in memory look like records that
// went through a spill file. Temporal values are truncated with TruncateTime
// and geometries that cannot be told apart after a round trip are refused
// with a *SerializationError. rec itself is returned when nothing changes;
// otherwise the result is a copy and rec is left untouched.
func Normalize(rec *feature.Record) (*feature.Record, error) {
	if rec.Schema == nil {
		return rec, nil
	}
	var values []any
	for i, v := range rec.Values {
		if v == nil || i >= rec.Schema.Len() {
			continue
		}
		a := rec.Schema.Attribute(i)
		switch {
		case a.Type.IsTemporal():
			t, ok := v.(time.Time)
			if !ok {
				continue
			}
			nt := TruncateTime(t)
			if nt == t {
				continue
			}
			if values == nil {
				values = append([]any(nil), rec.Values...)
			}
			values[i] = nt
		case a.Type == feature.TypeGeometry:
			if g, ok := v.(orb.Geometry); ok && !feature.GeometryConforms(g) {
				return nil, &SerializationError{Attribute: a.Name, Value: v, Cause: errGeometryKind}
			}
		}
	}
	if values == nil {
		return rec, nil
	}
	return &feature.Record{ID: rec.ID, Schema: rec.Schema, Values: values}, nil
}
