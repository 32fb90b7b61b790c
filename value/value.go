package value

import "bytes"

// Kind identifies the type of a column value. There are no implicit numeric
// coercions between kinds: a Float column value is never equal to an Int one
// even if the magnitudes match.
type Kind int

const (
	// Null is an absent value.
	Null Kind = iota
	// Int is a signed 64-bit integer.
	Int
	// Float is a 64-bit float.
	Float
	// Text is a UTF-8 string.
	Text
	// Bytes is an opaque byte string.
	Bytes
	// Geometry is well-known-binary geometry. Equality is byte equality, not
	// geometric equality: two geometries that represent the same shape but
	// were encoded differently (e.g. different WKB byte order) compare unequal.
	Geometry
)

// Value is a single typed column value.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Text  string
	Bytes []byte
}

// NullValue returns a Null value.
func NullValue() Value { return Value{Kind: Null} }

// IntValue returns an Int value.
func IntValue(v int64) Value { return Value{Kind: Int, Int: v} }

// FloatValue returns a Float value.
func FloatValue(v float64) Value { return Value{Kind: Float, Float: v} }

// TextValue returns a Text value.
func TextValue(v string) Value { return Value{Kind: Text, Text: v} }

// BytesValue returns a Bytes value.
func BytesValue(v []byte) Value { return Value{Kind: Bytes, Bytes: v} }

// GeometryValue returns a Geometry value carrying raw well-known-binary bytes.
func GeometryValue(wkb []byte) Value { return Value{Kind: Geometry, Bytes: wkb} }

// Equal reports byte-for-byte equality. Geometry and Bytes values are equal
// iff their underlying byte strings are identical; there is no normalized or
// approximate geometry comparison (spec.md §1 Non-goals).
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case Null:
		return true
	case Int:
		return v.Int == other.Int
	case Float:
		return v.Float == other.Float
	case Text:
		return v.Text == other.Text
	case Bytes, Geometry:
		return bytes.Equal(v.Bytes, other.Bytes)
	default:
		return false
	}
}
