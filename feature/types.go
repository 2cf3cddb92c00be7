package feature

import (
	"fmt"
	"strings"
)

// Type is the declared semantic type of an attribute. It decides how a value is
// encoded on disk and whether the attribute can be used as a sort key.
type Type int

// Attribute types
const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeString
	TypeDate
	TypeTime
	TypeTimestamp
	TypeGeometry
	TypeOpaque
)

var typeNames = map[Type]string{
	TypeBool:      "bool",
	TypeInt8:      "int8",
	TypeInt16:     "int16",
	TypeInt32:     "int32",
	TypeInt64:     "int64",
	TypeFloat32:   "float32",
	TypeFloat64:   "float64",
	TypeString:    "string",
	TypeDate:      "date",
	TypeTime:      "time",
	TypeTimestamp: "timestamp",
	TypeGeometry:  "geometry",
	TypeOpaque:    "opaque",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType returns the Type named by s, case insensitive.
// "int" and "integer" are accepted for int32, "long" for int64 and "double" for float64.
func ParseType(s string) (Type, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "int", "integer":
		return TypeInt32, nil
	case "long":
		return TypeInt64, nil
	case "double":
		return TypeFloat64, nil
	case "float":
		return TypeFloat32, nil
	case "boolean":
		return TypeBool, nil
	}
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeInvalid, fmt.Errorf("feature: unknown attribute type %q", s)
}

// IsInteger reports whether t is one of the fixed width integer types.
func (t Type) IsInteger() bool {
	return t >= TypeInt8 && t <= TypeInt64
}

// IsFloat reports whether t is float32 or float64.
func (t Type) IsFloat() bool {
	return t == TypeFloat32 || t == TypeFloat64
}

// IsNumeric reports whether t is an integer or float type.
func (t Type) IsNumeric() bool {
	return t.IsInteger() || t.IsFloat()
}

// IsTemporal reports whether values of t are time.Time.
func (t Type) IsTemporal() bool {
	return t == TypeDate || t == TypeTime || t == TypeTimestamp
}

// Comparable is implemented by opaque values that have a natural order.
// CompareTo returns a negative number, zero or a positive number when the
// receiver sorts before, equal to or after other.
type Comparable interface {
	CompareTo(other any) int
}
