// Package ordering builds comparators over feature records: single key
// comparators on the feature id or an attribute, and composites that break
// ties left to right.
package ordering

import (
	"cmp"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/gofeature/featsort/feature"
)

// Direction is the sort direction of one key.
type Direction int

// Directions
const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

func (d Direction) sign() int {
	if d == Descending {
		return -1
	}
	return 1
}

// IDProperty names the feature identifier in a SortBy.
const IDProperty = "@id"

// SortBy names one sort key. An empty Property or IDProperty sorts on the
// feature id.
type SortBy struct {
	Property  string
	Direction Direction
}

// ByID reports whether s sorts on the feature id.
func (s SortBy) ByID() bool {
	return s.Property == "" || s.Property == IDProperty
}

func (s SortBy) String() string {
	p := s.Property
	if s.ByID() {
		p = IDProperty
	}
	return p + ":" + s.Direction.String()
}

var (
	// NaturalOrder sorts by feature id, ascending.
	NaturalOrder = SortBy{Direction: Ascending}
	// ReverseOrder sorts by feature id, descending.
	ReverseOrder = SortBy{Direction: Descending}
)

// Unsorted reports whether sortBy requests no ordering at all.
func Unsorted(sortBy []SortBy) bool {
	return len(sortBy) == 0
}

// ParseSortBy parses "name", "name:asc" or "name:desc". "@id" names the
// feature id.
func ParseSortBy(s string) (SortBy, error) {
	prop, dir, found := strings.Cut(strings.TrimSpace(s), ":")
	sb := SortBy{Property: strings.TrimSpace(prop)}
	if sb.Property == "" {
		return SortBy{}, fmt.Errorf("ordering: empty sort key %q", s)
	}
	if found {
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "asc", "ascending", "a":
			sb.Direction = Ascending
		case "desc", "descending", "d":
			sb.Direction = Descending
		default:
			return SortBy{}, fmt.Errorf("ordering: unknown direction %q in %q", dir, s)
		}
	}
	return sb, nil
}

// Comparator orders two records sharing a schema. Compare returns a negative
// number when a sorts first, zero when the records tie and a positive number
// when b sorts first.
type Comparator interface {
	Compare(a, b *feature.Record) int
}

// Func adapts a function to Comparator.
type Func func(a, b *feature.Record) int

// Compare calls f(a, b).
func (f Func) Compare(a, b *feature.Record) int {
	return f(a, b)
}

type idComparator struct {
	sign int
}

// ByID orders records by feature id. An empty id sorts first.
func ByID(dir Direction) Comparator {
	return idComparator{sign: dir.sign()}
}

func (c idComparator) Compare(a, b *feature.Record) int {
	return c.sign * strings.Compare(a.ID, b.ID)
}

type attributeComparator struct {
	index int
	typ   feature.Type
	sign  int
}

// ByIndex orders records by the attribute at index, whose declared type is typ.
func ByIndex(index int, typ feature.Type, dir Direction) Comparator {
	return attributeComparator{index: index, typ: typ, sign: dir.sign()}
}

// ByAttribute orders records of schema by the named attribute.
func ByAttribute(schema *feature.Schema, name string, dir Direction) (Comparator, error) {
	i := schema.Index(name)
	if i < 0 {
		return nil, fmt.Errorf("ordering: schema %s has no attribute %q", schema.Name(), name)
	}
	a := schema.Attribute(i)
	if !Sortable(a) {
		return nil, fmt.Errorf("ordering: attribute %q of type %v has no natural order", name, a.Type)
	}
	return ByIndex(i, a.Type, dir), nil
}

func (c attributeComparator) Compare(a, b *feature.Record) int {
	return c.sign * CompareValues(c.typ, a.Values[c.index], b.Values[c.index])
}

var comparableType = reflect.TypeOf((*feature.Comparable)(nil)).Elem()

// Sortable reports whether values of a have a natural order.
func Sortable(a feature.Attribute) bool {
	switch {
	case a.Type == feature.TypeBool, a.Type == feature.TypeString:
		return true
	case a.Type.IsNumeric(), a.Type.IsTemporal():
		return true
	case a.Type == feature.TypeOpaque:
		return a.Binding != nil && a.Binding.Implements(comparableType)
	}
	return false
}

// CompareValues compares two values of declared type typ in natural order.
// Null sorts before any value and two nulls are equal.
func CompareValues(typ feature.Type, a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch typ {
	case feature.TypeBool:
		return compareBool(a.(bool), b.(bool))
	case feature.TypeInt8:
		return cmp.Compare(a.(int8), b.(int8))
	case feature.TypeInt16:
		return cmp.Compare(a.(int16), b.(int16))
	case feature.TypeInt32:
		return cmp.Compare(a.(int32), b.(int32))
	case feature.TypeInt64:
		return cmp.Compare(a.(int64), b.(int64))
	case feature.TypeFloat32:
		return cmp.Compare(a.(float32), b.(float32))
	case feature.TypeFloat64:
		return cmp.Compare(a.(float64), b.(float64))
	case feature.TypeString:
		return strings.Compare(a.(string), b.(string))
	case feature.TypeDate, feature.TypeTime, feature.TypeTimestamp:
		return a.(time.Time).Compare(b.(time.Time))
	case feature.TypeOpaque:
		return a.(feature.Comparable).CompareTo(b)
	}
	panic(fmt.Sprintf("ordering: type %v is not comparable", typ))
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

// Composite evaluates its comparators in order and returns the first non-zero
// result.
type Composite []Comparator

// Compare implements Comparator.
func (c Composite) Compare(a, b *feature.Record) int {
	for _, k := range c {
		if r := k.Compare(a, b); r != 0 {
			return r
		}
	}
	return 0
}

// Build returns the composite comparator for sortBy over schema.
func Build(schema *feature.Schema, sortBy []SortBy) (Composite, error) {
	c := make(Composite, 0, len(sortBy))
	for _, sb := range sortBy {
		if sb.ByID() {
			c = append(c, ByID(sb.Direction))
			continue
		}
		k, err := ByAttribute(schema, sb.Property, sb.Direction)
		if err != nil {
			return nil, err
		}
		c = append(c, k)
	}
	return c, nil
}
