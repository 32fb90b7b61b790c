package pathcodec

import (
	"crypto/md5" //nolint:gosec
	"encoding/base64"
	"encoding/hex"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/value"
)

// v1Codec is the original schema-version-1 encoding: a two-level fanout
// directory derived from the md5 of the tagged PK bytes, with the leaf name
// the unpadded URL-safe base64 of those same bytes (the standard alphabet's
// '/' would split the leaf into extra path segments).
type v1Codec struct{}

func (v1Codec) EncodePK(pk value.PK) (string, error) {
	tagged := encodePKTagged(pk)
	if tagged == nil {
		return "", errors.Errorf("%T: unsupported primary key kind", pk)
	}
	sum := md5.Sum(tagged) //nolint:gosec
	hexSum := hex.EncodeToString(sum[:])
	leaf := base64.RawURLEncoding.EncodeToString(tagged)
	return TablePrefix + "/" + hexSum[0:2] + "/" + hexSum[2:4] + "/" + leaf, nil
}

func (v1Codec) DecodePath(relpath string) (value.PK, error) {
	rest := strings.TrimPrefix(relpath, TablePrefix+"/")
	if rest == relpath {
		return value.PK{}, errors.WithStack(ErrMalformedPath)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		errE := errors.WithStack(ErrMalformedPath)
		errors.Details(errE)["path"] = relpath
		return value.PK{}, errE
	}
	tagged, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		errE := errors.WithStack(ErrMalformedPath)
		errors.Details(errE)["path"] = relpath
		errors.Details(errE)["cause"] = err.Error()
		return value.PK{}, errE
	}
	return decodePKTagged(tagged)
}
