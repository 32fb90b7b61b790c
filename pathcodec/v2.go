package pathcodec

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/value"
)

var base32Enc = base32.StdEncoding.WithPadding(base32.NoPadding)

// v2Codec is the schema-version-2 encoding: a two-level fanout directory
// derived from the sha256 of the tagged PK bytes, with the leaf name the
// unpadded base32 of those same bytes.
type v2Codec struct{}

func (v2Codec) EncodePK(pk value.PK) (string, error) {
	tagged := encodePKTagged(pk)
	if tagged == nil {
		return "", errors.Errorf("%T: unsupported primary key kind", pk)
	}
	sum := sha256.Sum256(tagged)
	hexSum := hex.EncodeToString(sum[:])
	leaf := base32Enc.EncodeToString(tagged)
	return TablePrefix + "/" + hexSum[0:2] + "/" + hexSum[2:4] + "/" + leaf, nil
}

func (v2Codec) DecodePath(relpath string) (value.PK, error) {
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
	tagged, err := base32Enc.DecodeString(parts[2])
	if err != nil {
		errE := errors.WithStack(ErrMalformedPath)
		errors.Details(errE)["path"] = relpath
		errors.Details(errE)["cause"] = err.Error()
		return value.PK{}, errE
	}
	return decodePKTagged(tagged)
}
