package codec

import (
	"fmt"
)

// SerializationError reports a record that could not be encoded: a value whose
// Go type does not match its declared attribute type, a string too long for
// its length prefix, or a failure of the geometry or opaque encoder.
type SerializationError struct {
	// Attribute is the name of the offending attribute, empty for the record id.
	Attribute string
	// Value is the value that failed to encode.
	Value any
	// Cause is the underlying error.
	Cause error
}

func (e *SerializationError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("serialization error in feature id: %v", e.Cause)
	}
	return fmt.Sprintf("serialization error in attribute %s (value %T): %v", e.Attribute, e.Value, e.Cause)
}

func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// CorruptRecordError reports stored bytes that do not match the layout the
// schema dictates: a truncated record, an invalid null flag, or geometry or
// opaque payloads that fail to decode.
type CorruptRecordError struct {
	// Attribute is the attribute being decoded, empty for the record id.
	Attribute string
	// Cause is the underlying error.
	Cause error
}

func (e *CorruptRecordError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("corrupt record: feature id: %v", e.Cause)
	}
	return fmt.Sprintf("corrupt record: attribute %s: %v", e.Attribute, e.Cause)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Cause
}
