package dataset

import (
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"

	"github.com/craigds/sno/value"
)

// wireValue is the JSON-serializable form of value.Value.
type wireValue struct {
	Kind  string   `json:"kind"`
	Int   *int64   `json:"int,omitempty"`
	Float *float64 `json:"float,omitempty"`
	Text  *string  `json:"text,omitempty"`
	Bytes []byte   `json:"bytes,omitempty"`
}

func toWireValue(v value.Value) wireValue {
	switch v.Kind {
	case value.Null:
		return wireValue{Kind: "null"}
	case value.Int:
		return wireValue{Kind: "int", Int: &v.Int}
	case value.Float:
		return wireValue{Kind: "float", Float: &v.Float}
	case value.Text:
		return wireValue{Kind: "text", Text: &v.Text}
	case value.Bytes:
		return wireValue{Kind: "bytes", Bytes: v.Bytes}
	case value.Geometry:
		return wireValue{Kind: "geometry", Bytes: v.Bytes}
	default:
		return wireValue{Kind: "null"}
	}
}

func fromWireValue(w wireValue) (value.Value, error) {
	switch w.Kind {
	case "null", "":
		return value.NullValue(), nil
	case "int":
		if w.Int == nil {
			return value.Value{}, errors.New(`wire value of kind "int" is missing "int"`)
		}
		return value.IntValue(*w.Int), nil
	case "float":
		if w.Float == nil {
			return value.Value{}, errors.New(`wire value of kind "float" is missing "float"`)
		}
		return value.FloatValue(*w.Float), nil
	case "text":
		if w.Text == nil {
			return value.Value{}, errors.New(`wire value of kind "text" is missing "text"`)
		}
		return value.TextValue(*w.Text), nil
	case "bytes":
		return value.BytesValue(w.Bytes), nil
	case "geometry":
		return value.GeometryValue(w.Bytes), nil
	default:
		errE := errors.New("unknown wire value kind")
		errors.Details(errE)["kind"] = w.Kind
		return value.Value{}, errE
	}
}

// wireFeature is the JSON-serializable form of a feature blob.
type wireFeature struct {
	PK      wirePK               `json:"pk"`
	Columns []string             `json:"columns"`
	Values  map[string]wireValue `json:"values"`
}

type wirePK struct {
	Kind string `json:"kind"`
	Int  int64  `json:"int,omitempty"`
	Str  string `json:"str,omitempty"`
}

func toWirePK(pk value.PK) wirePK {
	if pk.Kind == value.PKString {
		return wirePK{Kind: "string", Str: pk.Str}
	}
	return wirePK{Kind: "int", Int: pk.Int}
}

func fromWirePK(w wirePK) value.PK {
	if w.Kind == "string" {
		return value.NewStringPK(w.Str)
	}
	return value.NewIntPK(w.Int)
}

// encodeFeature serializes a feature to the bytes stored in its blob.
func encodeFeature(f value.Feature) ([]byte, error) {
	wf := wireFeature{
		PK:      toWirePK(f.PK),
		Columns: f.Columns,
		Values:  make(map[string]wireValue, len(f.Values)),
	}
	for col, v := range f.Values {
		wf.Values[col] = toWireValue(v)
	}
	return x.MarshalWithoutEscapeHTML(wf)
}

// decodeFeature is the inverse of encodeFeature.
func decodeFeature(data []byte) (value.Feature, error) {
	var wf wireFeature
	errE := x.UnmarshalWithoutUnknownFields(data, &wf)
	if errE != nil {
		return value.Feature{}, errE
	}
	values := make(map[string]value.Value, len(wf.Values))
	for col, wv := range wf.Values {
		v, err := fromWireValue(wv)
		if err != nil {
			return value.Feature{}, err
		}
		values[col] = v
	}
	return value.NewFeature(fromWirePK(wf.PK), wf.Columns, values), nil
}
