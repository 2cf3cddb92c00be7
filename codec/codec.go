// Package codec implements the binary record format used for spill files.
//
// A record is laid out as its id (uvarint length and bytes) followed by every
// attribute in schema order. Each attribute starts with a one byte null flag;
// a present value is encoded according to the attribute's declared type:
//
//	bool                       1 byte
//	int8, int16, int32, int64  fixed width, big endian
//	float32, float64           IEEE 754 bits, big endian
//	string                     uint16 length and bytes
//	large string               uint32 chunk count, then uint16 length and bytes per chunk
//	date, time, timestamp      int64 Unix milliseconds
//	geometry                   uvarint length and WKB
//	opaque                     uvarint length and CBOR
//
// The format is private to one sort and is not meant for other readers.
package codec

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"time"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/gofeature/featsort/feature"
)

const (
	flagNull    byte = 0
	flagPresent byte = 1

	// maxBlobLen bounds uvarint lengths read back so corrupt data cannot ask
	// for an absurd allocation.
	maxBlobLen = 1 << 30

	// maxRetainedBuf is the largest encode buffer kept between records.
	maxRetainedBuf = 1 << 16
)

var (
	errTypeMismatch   = errors.New("value does not match the declared type")
	errStringTooLong  = errors.New("string exceeds 65535 bytes; declare the attribute without a length restriction")
	errSchemaMismatch = errors.New("record does not use the codec schema")
	errBadNullFlag    = errors.New("invalid null flag")
	errBlobTooLarge   = errors.New("length prefix out of range")
	errBadBool        = errors.New("invalid boolean byte")
	errGeometryKind   = errors.New("orb.Ring and orb.Bound read back as orb.Polygon; store a Polygon")

	cborMarshalerType     = reflect.TypeOf((*cbor.Marshaler)(nil)).Elem()
	cborUnmarshalerType   = reflect.TypeOf((*cbor.Unmarshaler)(nil)).Elem()
	binaryMarshalerType   = reflect.TypeOf((*encoding.BinaryMarshaler)(nil)).Elem()
	binaryUnmarshalerType = reflect.TypeOf((*encoding.BinaryUnmarshaler)(nil)).Elem()
	timeType              = reflect.TypeOf(time.Time{})
)

// Codec encodes and decodes records of one schema.
// A Codec keeps scratch buffers and is not safe for concurrent use.
type Codec struct {
	schema  *feature.Schema
	encMode cbor.EncMode
	decMode cbor.DecMode
	buf     []byte
	scratch [8]byte
	cr      countingReader
}

// New returns a codec for schema. It fails if any attribute cannot be
// serialized, see CanEncode.
func New(schema *feature.Schema) (*Codec, error) {
	encMode, decMode, err := cborModes()
	if err != nil {
		return nil, err
	}
	for _, a := range schema.Attributes() {
		if err := canEncode(encMode, a); err != nil {
			return nil, err
		}
	}
	return &Codec{
		schema:  schema,
		encMode: encMode,
		decMode: decMode,
		buf:     make([]byte, 0, 256),
	}, nil
}

func cborModes() (cbor.EncMode, cbor.DecMode, error) {
	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}
	decMode, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CBOR decoder: %w", err)
	}
	return encMode, decMode, nil
}

// CanEncode reports whether values of a can be written and read back
// unchanged. Every declared type except opaque is always encodable; an opaque
// attribute needs a concrete Binding that CBOR reproduces exactly, see
// checkBinding.
func CanEncode(a feature.Attribute) error {
	encMode, _, err := cborModes()
	if err != nil {
		return err
	}
	return canEncode(encMode, a)
}

func canEncode(encMode cbor.EncMode, a feature.Attribute) error {
	switch a.Type {
	case feature.TypeInvalid:
		return fmt.Errorf("attribute %s has no type", a.Name)
	case feature.TypeOpaque:
	default:
		return nil
	}
	if a.Binding == nil {
		return fmt.Errorf("opaque attribute %s has no binding", a.Name)
	}
	if err := checkBinding(a.Binding, map[reflect.Type]bool{}); err != nil {
		return fmt.Errorf("opaque attribute %s: %w", a.Name, err)
	}
	if _, err := encMode.Marshal(reflect.Zero(a.Binding).Interface()); err != nil {
		return fmt.Errorf("opaque attribute %s: %v is not serializable: %w", a.Name, a.Binding, err)
	}
	return nil
}

// checkBinding walks t and rejects every part CBOR would not decode back to
// the same Go value: unexported or skipped struct fields, interface types
// (decoded values change type) and kinds CBOR cannot carry at all. Types
// that encode themselves through cbor.Marshaler or encoding.BinaryMarshaler,
// with the matching unmarshaler, are trusted as a whole.
func checkBinding(t reflect.Type, seen map[reflect.Type]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true

	switch t.Kind() {
	case reflect.Interface:
		return fmt.Errorf("%v holds interface values, which do not keep their type", t)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Uintptr,
		reflect.Complex64, reflect.Complex128, reflect.Invalid:
		return fmt.Errorf("%v is not serializable", t)
	}
	if t == timeType {
		return errors.New("time.Time loses its location and sub-second precision; use a temporal attribute")
	}
	if selfEncoding(t) {
		return nil
	}

	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return checkBinding(t.Elem(), seen)
	case reflect.Map:
		if err := checkBinding(t.Key(), seen); err != nil {
			return err
		}
		return checkBinding(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				return fmt.Errorf("%v has unexported field %s", t, f.Name)
			}
			if tag := f.Tag.Get("cbor"); tag == "-" || (tag == "" && f.Tag.Get("json") == "-") {
				return fmt.Errorf("%v skips field %s", t, f.Name)
			}
			if err := checkBinding(f.Type, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func selfEncoding(t reflect.Type) bool {
	pt := reflect.PointerTo(t)
	implements := func(m, u reflect.Type) bool {
		return (t.Implements(m) || pt.Implements(m)) && pt.Implements(u)
	}
	return implements(cborMarshalerType, cborUnmarshalerType) ||
		implements(binaryMarshalerType, binaryUnmarshalerType)
}

// Schema returns the schema the codec was built for.
func (c *Codec) Schema() *feature.Schema {
	return c.schema
}

// Write encodes rec to w with a single Write call and returns the number of
// bytes written.
func (c *Codec) Write(w io.Writer, rec *feature.Record) (int64, error) {
	if rec.Schema != c.schema || len(rec.Values) != c.schema.Len() {
		return 0, &SerializationError{Value: rec, Cause: errSchemaMismatch}
	}
	buf := binary.AppendUvarint(c.buf[:0], uint64(len(rec.ID)))
	buf = append(buf, rec.ID...)

	var err error
	for i, v := range rec.Values {
		if v == nil {
			buf = append(buf, flagNull)
			continue
		}
		buf = append(buf, flagPresent)
		a := c.schema.Attribute(i)
		if buf, err = c.appendValue(buf, a, v); err != nil {
			c.keep(buf)
			return 0, &SerializationError{Attribute: a.Name, Value: v, Cause: err}
		}
	}
	n, err := w.Write(buf)
	c.keep(buf)
	return int64(n), err
}

// keep holds on to buf for the next record unless a huge value grew it.
func (c *Codec) keep(buf []byte) {
	if cap(buf) > maxRetainedBuf {
		c.buf = make([]byte, 0, 256)
		return
	}
	c.buf = buf[:0]
}

// appendValue dispatches on the declared type of a only.
func (c *Codec) appendValue(buf []byte, a feature.Attribute, v any) ([]byte, error) {
	switch a.Type {
	case feature.TypeBool:
		b, ok := v.(bool)
		if !ok {
			return buf, errTypeMismatch
		}
		if b {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case feature.TypeInt8:
		i, ok := v.(int8)
		if !ok {
			return buf, errTypeMismatch
		}
		return append(buf, byte(i)), nil
	case feature.TypeInt16:
		i, ok := v.(int16)
		if !ok {
			return buf, errTypeMismatch
		}
		return binary.BigEndian.AppendUint16(buf, uint16(i)), nil
	case feature.TypeInt32:
		i, ok := v.(int32)
		if !ok {
			return buf, errTypeMismatch
		}
		return binary.BigEndian.AppendUint32(buf, uint32(i)), nil
	case feature.TypeInt64:
		i, ok := v.(int64)
		if !ok {
			return buf, errTypeMismatch
		}
		return binary.BigEndian.AppendUint64(buf, uint64(i)), nil
	case feature.TypeFloat32:
		f, ok := v.(float32)
		if !ok {
			return buf, errTypeMismatch
		}
		return binary.BigEndian.AppendUint32(buf, math.Float32bits(f)), nil
	case feature.TypeFloat64:
		f, ok := v.(float64)
		if !ok {
			return buf, errTypeMismatch
		}
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(f)), nil
	case feature.TypeString:
		s, ok := v.(string)
		if !ok {
			return buf, errTypeMismatch
		}
		if a.LargeString() {
			return appendLargeString(buf, s), nil
		}
		if len(s) > math.MaxUint16 {
			return buf, errStringTooLong
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		return append(buf, s...), nil
	case feature.TypeDate, feature.TypeTime, feature.TypeTimestamp:
		t, ok := v.(time.Time)
		if !ok {
			return buf, errTypeMismatch
		}
		return binary.BigEndian.AppendUint64(buf, uint64(t.UnixMilli())), nil
	case feature.TypeGeometry:
		g, ok := v.(orb.Geometry)
		if !ok {
			return buf, errTypeMismatch
		}
		if !feature.GeometryConforms(g) {
			return buf, errGeometryKind
		}
		raw, err := wkb.Marshal(g)
		if err != nil {
			return buf, err
		}
		buf = binary.AppendUvarint(buf, uint64(len(raw)))
		return append(buf, raw...), nil
	case feature.TypeOpaque:
		if reflect.TypeOf(v) != a.Binding {
			return buf, errTypeMismatch
		}
		raw, err := c.encMode.Marshal(v)
		if err != nil {
			return buf, err
		}
		buf = binary.AppendUvarint(buf, uint64(len(raw)))
		return append(buf, raw...), nil
	}
	return buf, fmt.Errorf("unsupported type %v", a.Type)
}

// appendLargeString splits s into chunks of at most feature.MaxStringChunk
// bytes, never cutting a UTF-8 sequence.
func appendLargeString(buf []byte, s string) []byte {
	countAt := len(buf)
	buf = binary.BigEndian.AppendUint32(buf, 0)
	var chunks uint32
	for len(s) > 0 {
		end := min(len(s), feature.MaxStringChunk)
		if end < len(s) {
			for cut := end; cut > end-utf8.UTFMax && cut > 0; cut-- {
				if utf8.RuneStart(s[cut]) {
					end = cut
					break
				}
			}
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(end))
		buf = append(buf, s[:end]...)
		s = s[end:]
		chunks++
	}
	binary.BigEndian.PutUint32(buf[countAt:], chunks)
	return buf
}

// Read decodes one record from r and returns it with the number of bytes
// consumed. It returns io.EOF, and no record, when r is exhausted before the
// first byte of a record. A record cut short or holding bytes that do not
// match the schema yields a *CorruptRecordError; other read failures are
// returned as they are.
func (c *Codec) Read(r io.Reader) (*feature.Record, int64, error) {
	c.cr.r, c.cr.n = r, 0
	defer func() { c.cr.r = nil }()

	idLen, err := c.readUvarint()
	if err == io.EOF {
		return nil, 0, io.EOF
	}
	if err != nil {
		return nil, c.cr.n, c.corrupt("", err)
	}
	id, err := c.readBlob(idLen)
	if err != nil {
		return nil, c.cr.n, c.corrupt("", err)
	}

	values := make([]any, c.schema.Len())
	for i := range values {
		a := c.schema.Attribute(i)
		if err := c.readFull(1); err != nil {
			return nil, c.cr.n, c.corrupt(a.Name, err)
		}
		switch c.scratch[0] {
		case flagNull:
			continue
		case flagPresent:
		default:
			return nil, c.cr.n, c.corrupt(a.Name, errBadNullFlag)
		}
		if values[i], err = c.readValue(a); err != nil {
			return nil, c.cr.n, c.corrupt(a.Name, err)
		}
	}
	return feature.New(c.schema, string(id), values...), c.cr.n, nil
}

// corrupt classifies err: format problems and truncation become
// CorruptRecordError, anything else is an I/O failure of the reader.
func (c *Codec) corrupt(attr string, err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	var ce *CorruptRecordError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || isFormatError(err) {
		return &CorruptRecordError{Attribute: attr, Cause: err}
	}
	return err
}

type formatError struct{ error }

func (e formatError) Unwrap() error { return e.error }

func isFormatError(err error) bool {
	var fe formatError
	return errors.As(err, &fe) || errors.Is(err, errBadNullFlag) || errors.Is(err, errBlobTooLarge)
}

// readValue mirrors appendValue.
func (c *Codec) readValue(a feature.Attribute) (any, error) {
	switch a.Type {
	case feature.TypeBool:
		if err := c.readFull(1); err != nil {
			return nil, err
		}
		switch c.scratch[0] {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, formatError{errBadBool}
	case feature.TypeInt8:
		if err := c.readFull(1); err != nil {
			return nil, err
		}
		return int8(c.scratch[0]), nil
	case feature.TypeInt16:
		if err := c.readFull(2); err != nil {
			return nil, err
		}
		return int16(binary.BigEndian.Uint16(c.scratch[:2])), nil
	case feature.TypeInt32:
		if err := c.readFull(4); err != nil {
			return nil, err
		}
		return int32(binary.BigEndian.Uint32(c.scratch[:4])), nil
	case feature.TypeInt64:
		if err := c.readFull(8); err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(c.scratch[:8])), nil
	case feature.TypeFloat32:
		if err := c.readFull(4); err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(c.scratch[:4])), nil
	case feature.TypeFloat64:
		if err := c.readFull(8); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(c.scratch[:8])), nil
	case feature.TypeString:
		if a.LargeString() {
			return c.readLargeString()
		}
		return c.readShortString()
	case feature.TypeDate, feature.TypeTime, feature.TypeTimestamp:
		if err := c.readFull(8); err != nil {
			return nil, err
		}
		return time.UnixMilli(int64(binary.BigEndian.Uint64(c.scratch[:8]))).UTC(), nil
	case feature.TypeGeometry:
		raw, err := c.readLenBlob()
		if err != nil {
			return nil, err
		}
		g, err := wkb.Unmarshal(raw)
		if err != nil {
			return nil, formatError{err}
		}
		return g, nil
	case feature.TypeOpaque:
		raw, err := c.readLenBlob()
		if err != nil {
			return nil, err
		}
		ptr := reflect.New(a.Binding)
		if err := c.decMode.Unmarshal(raw, ptr.Interface()); err != nil {
			return nil, formatError{err}
		}
		return ptr.Elem().Interface(), nil
	}
	return nil, formatError{fmt.Errorf("unsupported type %v", a.Type)}
}

func (c *Codec) readShortString() (string, error) {
	if err := c.readFull(2); err != nil {
		return "", err
	}
	b, err := c.readBlob(uint64(binary.BigEndian.Uint16(c.scratch[:2])))
	return string(b), err
}

func (c *Codec) readLargeString() (string, error) {
	if err := c.readFull(4); err != nil {
		return "", err
	}
	chunks := binary.BigEndian.Uint32(c.scratch[:4])
	var out []byte
	for ; chunks > 0; chunks-- {
		if err := c.readFull(2); err != nil {
			return "", err
		}
		n := int(binary.BigEndian.Uint16(c.scratch[:2]))
		if n > feature.MaxStringChunk {
			return "", errBlobTooLarge
		}
		start := len(out)
		out = append(out, make([]byte, n)...)
		if _, err := io.ReadFull(&c.cr, out[start:]); err != nil {
			return "", err
		}
	}
	return string(out), nil
}

func (c *Codec) readLenBlob() ([]byte, error) {
	n, err := c.readUvarint()
	if err != nil {
		return nil, err
	}
	return c.readBlob(n)
}

// readUvarint separates a varint overflow, which can only happen after
// binary.MaxVarintLen64 bytes were read, from failures of the reader.
func (c *Codec) readUvarint() (uint64, error) {
	start := c.cr.n
	v, err := binary.ReadUvarint(&c.cr)
	if err != nil && err != io.EOF && !errors.Is(err, io.ErrUnexpectedEOF) && c.cr.n-start >= binary.MaxVarintLen64 {
		return 0, formatError{err}
	}
	return v, err
}

func (c *Codec) readBlob(n uint64) ([]byte, error) {
	if n > maxBlobLen {
		return nil, errBlobTooLarge
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(&c.cr, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *Codec) readFull(n int) error {
	_, err := io.ReadFull(&c.cr, c.scratch[:n])
	return err
}

// countingReader counts the bytes handed out so callers can track offsets.
type countingReader struct {
	r io.Reader
	n int64
	b [1]byte
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	if br, ok := c.r.(io.ByteReader); ok {
		b, err := br.ReadByte()
		if err == nil {
			c.n++
		}
		return b, err
	}
	if _, err := io.ReadFull(c, c.b[:]); err != nil {
		return 0, err
	}
	return c.b[0], nil
}
