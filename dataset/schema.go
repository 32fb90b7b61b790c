package dataset

import (
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"
)

// Schema is a dataset's versioned column layout (spec.md §3: schema
// metadata lives under ".sno-table/meta/"). It is read from the single
// "schema.json" meta item.
type Schema struct {
	Version        int      `json:"version"`
	PKColumn       string   `json:"pkColumn"`
	GeometryColumn string   `json:"geometryColumn,omitempty"`
	Columns        []string `json:"columns"`
	SRS            string   `json:"srs,omitempty"`
}

// HasGeometry reports whether the schema declares a geometry column.
func (s Schema) HasGeometry() bool {
	return s.GeometryColumn != ""
}

const schemaMetaName = "schema.json"

func unmarshalSchema(data []byte) (Schema, error) {
	var s Schema
	errE := x.UnmarshalWithoutUnknownFields(data, &s)
	if errE != nil {
		return Schema{}, errE
	}
	if s.PKColumn == "" {
		return Schema{}, errors.New(`schema.json is missing "pkColumn"`)
	}
	return s, nil
}

func marshalSchema(s Schema) ([]byte, error) {
	return x.MarshalWithoutEscapeHTML(s)
}
