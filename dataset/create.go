package dataset

import (
	"context"
	"strings"

	"github.com/craigds/sno/objectstore"
	"github.com/craigds/sno/pathcodec"
	"github.com/craigds/sno/value"
)

// Create builds a brand-new ".sno-table" tree containing schema.json and
// the given features, and returns its OID. It is the bulk-construction
// primitive a dataset importer sits on top of (spec.md's working-copy
// import CLI is a declared Non-goal, but the underlying tree-building
// operation is not).
func Create(ctx context.Context, store objectstore.Store, path string, schema Schema, features []value.Feature) (objectstore.OID, error) {
	ds, err := NewEmpty(store, path, schema)
	if err != nil {
		return "", err
	}

	handle, err := store.BuildTreeFrom(ctx, "")
	if err != nil {
		return "", err
	}

	schemaJSON, err := marshalSchema(schema)
	if err != nil {
		return "", err
	}
	schemaOID, err := store.CreateBlob(ctx, schemaJSON)
	if err != nil {
		return "", err
	}
	handle.Add("meta/"+schemaMetaName, schemaOID)

	for _, f := range features {
		relPath, err := ds.codec.EncodePK(f.PK)
		if err != nil {
			return "", err
		}
		blob, err := encodeFeature(f)
		if err != nil {
			return "", err
		}
		oid, err := store.CreateBlob(ctx, blob)
		if err != nil {
			return "", err
		}
		handle.Add(strings.TrimPrefix(relPath, pathcodec.TablePrefix+"/"), oid)
	}

	return store.WriteTree(ctx, handle)
}
