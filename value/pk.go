// Package value defines the type-tagged scalar and feature values that make
// up a row in a versioned dataset.
package value

import "strconv"

// PKKind identifies the underlying representation of a primary key.
type PKKind int

const (
	// PKInt is an integer primary key.
	PKInt PKKind = iota
	// PKString is a string primary key.
	PKString
)

// PK is an opaque scalar uniquely identifying a feature within a dataset.
// It is either an integer or a string; there are no other representations.
type PK struct {
	Kind PKKind
	Int  int64
	Str  string
}

// NewIntPK returns an integer PK.
func NewIntPK(v int64) PK {
	return PK{Kind: PKInt, Int: v}
}

// NewStringPK returns a string PK.
func NewStringPK(v string) PK {
	return PK{Kind: PKString, Str: v}
}

// String returns the canonical diff-key form of the PK.
func (p PK) String() string {
	if p.Kind == PKInt {
		return strconv.FormatInt(p.Int, 10)
	}
	return p.Str
}

// Equal reports whether two PKs have the same kind and value.
func (p PK) Equal(other PK) bool {
	return p.Kind == other.Kind && p.Int == other.Int && p.Str == other.Str
}
