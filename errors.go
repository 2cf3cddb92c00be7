package featsort

import (
	"fmt"

	"github.com/gofeature/featsort/codec"
	"github.com/gofeature/featsort/feature"
)

// ErrClosed is returned by Next on a sorted stream that has been closed.
var ErrClosed = feature.ErrClosed

// NotSortableError reports a schema or ordering that cannot be sorted. It is
// returned before the input stream is read.
type NotSortableError struct {
	// Attribute is the offending attribute, empty when the problem is not
	// tied to one
	Attribute string
	// Reason explains why sorting is impossible
	Reason string
}

func (e *NotSortableError) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("not sortable: attribute %q: %s", e.Attribute, e.Reason)
	}
	return "not sortable: " + e.Reason
}

// CorruptRecordError represents spill file content that does not decode
// against the schema.
type CorruptRecordError = codec.CorruptRecordError

// SerializationError represents a record value the codec could not encode.
type SerializationError = codec.SerializationError

// ComparisonError represents an error that occurred during item comparison
type ComparisonError struct {
	// Cause is the original panic or error that occurred during comparison
	Cause interface{}
	// Context provides additional information about when the comparison failed
	Context string
}

func (e *ComparisonError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("comparison panic in %s: %v", e.Context, e.Cause)
	}
	return fmt.Sprintf("comparison panic: %v", e.Cause)
}

func (e *ComparisonError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}

// NewComparisonError creates a ComparisonError
func NewComparisonError(cause interface{}, context string) error {
	return &ComparisonError{Cause: cause, Context: context}
}

// NewDiskError wraps the underlying I/O error of a spill file operation
func NewDiskError(err error, operation, path string) error {
	if path != "" {
		return fmt.Errorf("disk error during %s on %s: %w", operation, path, err)
	}
	return fmt.Errorf("disk error during %s: %w", operation, err)
}

// ConfigError represents an error in configuration parameters
type ConfigError struct {
	// Field is the name of the configuration field that's invalid
	Field string
	// Value is the invalid value provided
	Value interface{}
	// Reason explains why the value is invalid
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field %s (value: %v): %s", e.Field, e.Value, e.Reason)
}
