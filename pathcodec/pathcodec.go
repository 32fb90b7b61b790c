// Package pathcodec implements the bijection between a primary key value and
// a feature blob path under a dataset's ".sno-table" subtree (spec.md §4.1),
// plus classification of a relative path into a feature or meta reference.
// The on-disk scheme is a property of the dataset's schema version; two
// versions are implemented here (V1, V2) behind one Codec interface, selected
// by ForVersion from an integer version; ParseVersion parses a version
// string such as "2.0".
package pathcodec

import (
	"strconv"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/value"
)

// TablePrefix is the name of the marker subtree identifying a dataset.
const TablePrefix = ".sno-table"

// MetaPrefix is the relative path under TablePrefix holding schema metadata.
const MetaPrefix = TablePrefix + "/meta/"

// Kind classifies a path inside a dataset's tree.
type Kind int

const (
	// KindFeature is a feature blob, addressed by its encoded PK.
	KindFeature Kind = iota
	// KindMeta is a schema metadata item, addressed by name.
	KindMeta
)

// Classification is the result of Classify.
type Classification struct {
	Kind Kind
	// MetaName is set when Kind == KindMeta: the path relative to
	// ".sno-table/meta/".
	MetaName string
}

// Classify reports whether relpath (relative to a dataset's root, starting
// with ".sno-table/") is a meta item or a feature path. It does not decode
// the feature's primary key; callers that need the PK call a Codec's
// DecodePath.
func Classify(relpath string) (Classification, error) {
	if !strings.HasPrefix(relpath, TablePrefix+"/") {
		return Classification{}, errors.Errorf("%s: not a dataset-relative path", relpath)
	}
	if strings.HasPrefix(relpath, MetaPrefix) {
		return Classification{Kind: KindMeta, MetaName: strings.TrimPrefix(relpath, MetaPrefix)}, nil
	}
	return Classification{Kind: KindFeature}, nil
}

// Codec converts between a primary key value and the relative blob path it
// is stored at within a dataset's ".sno-table" subtree.
type Codec interface {
	// EncodePK returns the deterministic, injective relative path
	// (".sno-table/<fanout>/<encoded-pk>") for pk.
	EncodePK(pk value.PK) (string, error)
	// DecodePath is the inverse of EncodePK. It fails with ErrMalformedPath
	// if relpath is not a well-formed feature path for this codec.
	DecodePath(relpath string) (value.PK, error)
}

// ErrMalformedPath is returned by DecodePath when a path cannot be decoded
// back into a primary key by the codec it is given to.
var ErrMalformedPath = errors.Base("malformed feature path")

// ErrUnknownVersion is returned when a dataset declares a schema version
// with no known codec.
var ErrUnknownVersion = errors.Base("unknown dataset schema version")

// ForVersion returns the Codec for a dataset schema version.
func ForVersion(version int) (Codec, error) {
	switch version {
	case 1:
		return v1Codec{}, nil
	case 2:
		return v2Codec{}, nil
	default:
		errE := errors.WithStack(ErrUnknownVersion)
		errors.Details(errE)["version"] = version
		return nil, errE
	}
}

// ParseVersion extracts the leading integer schema version out of the raw
// bytes of a dataset's "meta/version" item (e.g. "2.0\n" -> 2).
func ParseVersion(data []byte) (int, error) {
	s := strings.TrimSpace(string(data))
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Errorf("malformed version %q: %w", string(data), err)
	}
	return v, nil
}
