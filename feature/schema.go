// Package feature defines the records sorted by featsort: a shared, immutable
// Schema of typed attributes, Records conforming to it positionally, and the
// forward-only Stream used to pass records between producers and the sorter.
package feature

import (
	"errors"
	"fmt"
	"reflect"
)

// MaxStringChunk is the largest number of bytes written under a single string
// length prefix. Strings that may exceed it are split into chunks.
const MaxStringChunk = 32767

// Attribute describes one named, typed column of a Schema.
type Attribute struct {
	Name     string
	Type     Type
	Nillable bool
	// Length is the declared maximum length of a string attribute in bytes.
	// Zero means unrestricted.
	Length int
	// Binding is the Go type of TypeOpaque values.
	Binding reflect.Type
}

// LargeString reports whether values of a may exceed MaxStringChunk bytes and
// are therefore encoded in chunks.
func (a Attribute) LargeString() bool {
	return a.Type == TypeString && (a.Length <= 0 || a.Length > MaxStringChunk)
}

// Schema is an ordered list of attributes shared by every record of a sort.
// A Schema is immutable once created.
type Schema struct {
	name  string
	attrs []Attribute
	index map[string]int
}

// NewSchema creates a schema called name. Attribute names must be unique and
// non-empty, and every attribute must have a valid type.
func NewSchema(name string, attrs ...Attribute) (*Schema, error) {
	s := &Schema{
		name:  name,
		attrs: make([]Attribute, len(attrs)),
		index: make(map[string]int, len(attrs)),
	}
	for i, a := range attrs {
		if a.Name == "" {
			return nil, fmt.Errorf("feature: attribute %d has no name", i)
		}
		if _, ok := typeNames[a.Type]; !ok {
			return nil, fmt.Errorf("feature: attribute %q has invalid type %v", a.Name, a.Type)
		}
		if _, dup := s.index[a.Name]; dup {
			return nil, fmt.Errorf("feature: duplicate attribute %q", a.Name)
		}
		if a.Type == TypeOpaque && a.Binding == nil {
			return nil, errors.New("feature: opaque attribute " + a.Name + " needs a Binding")
		}
		s.attrs[i] = a
		s.index[a.Name] = i
	}
	return s, nil
}

// Name returns the schema (feature type) name.
func (s *Schema) Name() string {
	return s.name
}

// Len returns the number of attributes.
func (s *Schema) Len() int {
	return len(s.attrs)
}

// Attribute returns the i'th attribute.
func (s *Schema) Attribute(i int) Attribute {
	return s.attrs[i]
}

// Attributes returns a copy of the attribute list.
func (s *Schema) Attributes() []Attribute {
	out := make([]Attribute, len(s.attrs))
	copy(out, s.attrs)
	return out
}

// Index returns the position of the named attribute or -1.
func (s *Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}
