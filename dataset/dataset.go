// Package dataset implements the dataset view of spec.md §4.2: a versioned
// table rooted at a tree, feature iteration and lookup, the feature-level
// diff algorithm between two dataset trees, and writing a dataset diff into
// a tree-building index.
package dataset

import (
	"context"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/objectstore"
	"github.com/craigds/sno/pathcodec"
	"github.com/craigds/sno/value"
)

// ErrNotFound is returned when a feature or meta item does not exist.
var ErrNotFound = errors.Base("feature not found")

// Dataset is a versioned table rooted at a tree. Tree is the OID of the
// dataset's ".sno-table" subtree directly (not the dataset's repo-rooted
// parent tree); Path is the dataset's location from the repository root,
// used only to build full repo-relative index paths in WriteToIndex.
type Dataset struct {
	Path   string
	Tree   objectstore.OID
	Schema Schema

	store objectstore.Store
	codec pathcodec.Codec
}

// NewEmpty returns a Dataset with no features yet, ready to be fed through
// WriteToIndex as part of creating a brand-new table in a commit.
func NewEmpty(store objectstore.Store, path string, schema Schema) (*Dataset, error) {
	codec, err := pathcodec.ForVersion(schema.Version)
	if err != nil {
		return nil, err
	}
	return &Dataset{Path: path, Schema: schema, store: store, codec: codec}, nil
}

// Open loads a Dataset's schema from the ".sno-table" subtree at tableTree
// and returns a Dataset ready for reads. For the zero OID there is no
// schema.json to read and Open fails with ErrNotFound; a dataset that has no
// tree yet is built with NewEmpty instead.
func Open(ctx context.Context, store objectstore.Store, path string, tableTree objectstore.OID) (*Dataset, error) {
	ds := &Dataset{Path: path, Tree: tableTree, store: store}

	raw, ok, err := ds.readRelPath(ctx, "meta/"+schemaMetaName)
	if err != nil {
		return nil, err
	}
	if !ok {
		errE := errors.WithStack(ErrNotFound)
		errors.Details(errE)["path"] = path + "/" + pathcodec.MetaPrefix + schemaMetaName
		return nil, errE
	}
	schema, err := unmarshalSchema(raw)
	if err != nil {
		return nil, err
	}
	ds.Schema = schema

	codec, err := pathcodec.ForVersion(schema.Version)
	if err != nil {
		return nil, err
	}
	ds.codec = codec

	return ds, nil
}

// readRelPath resolves a path relative to the dataset's table tree (without
// the ".sno-table/" prefix, e.g. "meta/schema.json" or "ab/cd/leaf") to a
// blob OID by walking the tree one path segment at a time.
func (d *Dataset) readRelPath(ctx context.Context, relpath string) (objectstore.OID, bool, error) {
	if d.Tree.IsZero() {
		return "", false, nil
	}
	parts := strings.Split(relpath, "/")
	cur := d.Tree
	for i, part := range parts {
		t, err := d.store.ReadTree(ctx, cur)
		if err != nil {
			return "", false, err
		}
		entry, ok := t.Get(part)
		if !ok {
			return "", false, nil
		}
		if i == len(parts)-1 {
			return entry.OID, true, nil
		}
		cur = entry.OID
	}
	return "", false, nil
}

// GetFeature returns the feature with the given primary key.
func (d *Dataset) GetFeature(ctx context.Context, pk value.PK) (value.Feature, error) {
	fullPath, err := d.codec.EncodePK(pk)
	if err != nil {
		return value.Feature{}, err
	}
	relPath := strings.TrimPrefix(fullPath, pathcodec.TablePrefix+"/")

	oid, ok, err := d.readRelPath(ctx, relPath)
	if err != nil {
		return value.Feature{}, err
	}
	if !ok {
		errE := errors.WithStack(ErrNotFound)
		errors.Details(errE)["dataset"] = d.Path
		errors.Details(errE)["pk"] = pk.String()
		return value.Feature{}, errE
	}

	raw, err := d.store.ReadBlob(ctx, oid)
	if err != nil {
		return value.Feature{}, err
	}
	return decodeFeature(raw)
}

// GetMeta returns the raw bytes of a meta item by name, and false if absent.
func (d *Dataset) GetMeta(ctx context.Context, name string) ([]byte, bool, error) {
	oid, ok, err := d.readRelPath(ctx, "meta/"+name)
	if err != nil || !ok {
		return nil, ok, err
	}
	raw, err := d.store.ReadBlob(ctx, oid)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// IterFeatures calls fn once for every feature in the dataset, in no
// particular order. It checks ctx.Err() between features and stops (without
// error) if the context has been cancelled (spec.md §5 Cancellation). fn's
// own error aborts iteration and is returned.
func (d *Dataset) IterFeatures(ctx context.Context, fn func(value.PK, value.Feature) error) error {
	if d.Tree.IsZero() {
		return nil
	}
	t, err := d.store.ReadTree(ctx, d.Tree)
	if err != nil {
		return err
	}
	for _, e := range t.Entries {
		if e.Name == "meta" {
			continue
		}
		if err := d.walkFanout(ctx, e.OID, fn); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dataset) walkFanout(ctx context.Context, oid objectstore.OID, fn func(value.PK, value.Feature) error) error {
	if err := ctx.Err(); err != nil {
		return nil //nolint:nilerr
	}
	t, err := d.store.ReadTree(ctx, oid)
	if err != nil {
		return err
	}
	for _, e := range t.Entries {
		if e.Mode == objectstore.ModeTree {
			if err := d.walkFanout(ctx, e.OID, fn); err != nil {
				return err
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil //nolint:nilerr
		}
		raw, err := d.store.ReadBlob(ctx, e.OID)
		if err != nil {
			return err
		}
		f, err := decodeFeature(raw)
		if err != nil {
			return err
		}
		if err := fn(f.PK, f); err != nil {
			return err
		}
	}
	return nil
}
