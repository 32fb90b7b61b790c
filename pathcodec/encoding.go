package pathcodec

import (
	"encoding/binary"
	"strconv"

	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/value"
)

const (
	tagInt    byte = 'i'
	tagString byte = 's'
)

// encodePKTagged serializes a PK to a tagged byte string that round-trips
// through decodePKTagged. Both codec versions share this representation;
// they differ only in how the resulting bytes are hashed into a fanout path
// and text-encoded into a leaf name.
func encodePKTagged(pk value.PK) []byte {
	switch pk.Kind {
	case value.PKInt:
		buf := make([]byte, 9)
		buf[0] = tagInt
		binary.BigEndian.PutUint64(buf[1:], uint64(pk.Int))
		return buf
	case value.PKString:
		buf := make([]byte, 1+len(pk.Str))
		buf[0] = tagString
		copy(buf[1:], pk.Str)
		return buf
	default:
		return nil
	}
}

func decodePKTagged(data []byte) (value.PK, error) {
	if len(data) == 0 {
		return value.PK{}, errors.WithStack(ErrMalformedPath)
	}
	switch data[0] {
	case tagInt:
		if len(data) != 9 {
			errE := errors.WithStack(ErrMalformedPath)
			errors.Details(errE)["length"] = strconv.Itoa(len(data))
			return value.PK{}, errE
		}
		v := int64(binary.BigEndian.Uint64(data[1:]))
		return value.NewIntPK(v), nil
	case tagString:
		return value.NewStringPK(string(data[1:])), nil
	default:
		errE := errors.WithStack(ErrMalformedPath)
		errors.Details(errE)["tag"] = data[0]
		return value.PK{}, errE
	}
}
