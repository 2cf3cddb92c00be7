package feature

import (
	"fmt"
	"reflect"
	"time"

	"github.com/paulmach/orb"
)

// Record is one feature: an identifier plus attribute values laid out in
// schema order. A nil value is null.
type Record struct {
	ID     string
	Schema *Schema
	Values []any
}

// New returns a record of schema with the given id and values.
// The values are not checked, see Validate.
func New(schema *Schema, id string, values ...any) *Record {
	return &Record{ID: id, Schema: schema, Values: values}
}

// Value returns the i'th attribute value.
func (r *Record) Value(i int) any {
	return r.Values[i]
}

// Get returns the value of the named attribute.
func (r *Record) Get(name string) (any, bool) {
	i := r.Schema.Index(name)
	if i < 0 {
		return nil, false
	}
	return r.Values[i], true
}

// Validate checks that the record has one value per schema attribute and that
// every non-null value has the Go type its declared type requires.
func (r *Record) Validate() error {
	if r.Schema == nil {
		return fmt.Errorf("feature %q: no schema", r.ID)
	}
	if len(r.Values) != r.Schema.Len() {
		return fmt.Errorf("feature %q: %d values for %d attributes", r.ID, len(r.Values), r.Schema.Len())
	}
	for i, v := range r.Values {
		a := r.Schema.attrs[i]
		if v == nil {
			if !a.Nillable {
				return fmt.Errorf("feature %q: attribute %q is not nillable", r.ID, a.Name)
			}
			continue
		}
		if !ValueConforms(a, v) {
			return fmt.Errorf("feature %q: attribute %q of type %v holds %T", r.ID, a.Name, a.Type, v)
		}
	}
	return nil
}

// ValueConforms reports whether the non-nil value v has the Go type required by a.
func ValueConforms(a Attribute, v any) bool {
	switch a.Type {
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeInt8:
		_, ok := v.(int8)
		return ok
	case TypeInt16:
		_, ok := v.(int16)
		return ok
	case TypeInt32:
		_, ok := v.(int32)
		return ok
	case TypeInt64:
		_, ok := v.(int64)
		return ok
	case TypeFloat32:
		_, ok := v.(float32)
		return ok
	case TypeFloat64:
		_, ok := v.(float64)
		return ok
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeDate, TypeTime, TypeTimestamp:
		_, ok := v.(time.Time)
		return ok
	case TypeGeometry:
		g, ok := v.(orb.Geometry)
		return ok && GeometryConforms(g)
	case TypeOpaque:
		return a.Binding != nil && reflect.TypeOf(v) == a.Binding
	}
	return false
}

// GeometryConforms reports whether g can be stored as a geometry value.
// orb.Ring and orb.Bound are refused, alone or inside a collection, since
// their well-known binary form is that of an orb.Polygon.
func GeometryConforms(g orb.Geometry) bool {
	switch g := g.(type) {
	case orb.Ring, orb.Bound:
		return false
	case orb.Collection:
		for _, member := range g {
			if !GeometryConforms(member) {
				return false
			}
		}
	}
	return true
}

// Equal reports whether r and o have the same id and equal values.
// Times are compared with time.Time.Equal and geometries with orb.Equal.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.ID != o.ID || len(r.Values) != len(o.Values) {
		return false
	}
	for i := range r.Values {
		if !valueEqual(r.Values[i], o.Values[i]) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case orb.Geometry:
		bv, ok := b.(orb.Geometry)
		return ok && orb.Equal(av, bv)
	}
	return reflect.DeepEqual(a, b)
}

func (r *Record) String() string {
	return fmt.Sprintf("%s%v", r.ID, r.Values)
}
