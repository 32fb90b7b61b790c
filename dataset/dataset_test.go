package dataset_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craigds/sno/dataset"
	"github.com/craigds/sno/diff"
	"github.com/craigds/sno/objectstore"
	"github.com/craigds/sno/objectstore/memstore"
	"github.com/craigds/sno/value"
)

func schemaFor(geomCol string) dataset.Schema {
	cols := []string{"id", "name"}
	if geomCol != "" {
		cols = append(cols, geomCol)
	}
	return dataset.Schema{Version: 2, PKColumn: "id", GeometryColumn: geomCol, Columns: cols}
}

func buildTable(t *testing.T, ctx context.Context, store objectstore.Store, schema dataset.Schema, features []value.Feature) objectstore.OID {
	t.Helper()
	tree, err := dataset.Create(ctx, store, "points", schema, features)
	require.NoError(t, err)
	return tree
}

// flattenTree walks a tree recursively into a flat relpath -> blob OID map.
func flattenTree(t *testing.T, ctx context.Context, store objectstore.Store, oid objectstore.OID, prefix string, out map[string]objectstore.OID) {
	t.Helper()
	if oid.IsZero() {
		return
	}
	tree, err := store.ReadTree(ctx, oid)
	require.NoError(t, err)
	for _, e := range tree.Entries {
		p := prefix + e.Name
		if e.Mode == objectstore.ModeTree {
			flattenTree(t, ctx, store, e.OID, p+"/", out)
			continue
		}
		out[p] = e.OID
	}
}

// buildRepoRoot wraps a dataset's table tree at datasetPath in a repo root
// tree, the shape WriteToIndex's handle parameter expects (seeded from a
// commit's full tree, not a single dataset's table tree).
func buildRepoRoot(t *testing.T, ctx context.Context, store objectstore.Store, datasetPath string, tableTree objectstore.OID) objectstore.OID {
	t.Helper()
	flat := map[string]objectstore.OID{}
	flattenTree(t, ctx, store, tableTree, datasetPath+"/.sno-table/", flat)

	handle, err := store.BuildTreeFrom(ctx, "")
	require.NoError(t, err)
	for path, oid := range flat {
		handle.Add(path, oid)
	}
	root, err := store.WriteTree(ctx, handle)
	require.NoError(t, err)
	return root
}

// tableTreeUnder extracts the ".sno-table" tree OID for datasetPath out of
// a repo root tree.
func tableTreeUnder(t *testing.T, ctx context.Context, store objectstore.Store, root objectstore.OID, datasetPath string) objectstore.OID {
	t.Helper()
	dsTree, err := store.ReadTree(ctx, root)
	require.NoError(t, err)
	entry, ok := dsTree.Get(datasetPath)
	require.True(t, ok)
	tableTree, err := store.ReadTree(ctx, entry.OID)
	require.NoError(t, err)
	marker, ok := tableTree.Get(".sno-table")
	require.True(t, ok)
	return marker.OID
}

func TestGetFeatureRoundtrips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()
	schema := schemaFor("")

	f1 := value.NewFeature(value.NewIntPK(1), []string{"id", "name"}, map[string]value.Value{
		"id": value.IntValue(1), "name": value.TextValue("alice"),
	})
	tree := buildTable(t, ctx, store, schema, []value.Feature{f1})

	ds, err := dataset.Open(ctx, store, "points", tree)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Schema.Version)

	got, err := ds.GetFeature(ctx, value.NewIntPK(1))
	require.NoError(t, err)
	assert.True(t, got.Equal(f1))

	_, err = ds.GetFeature(ctx, value.NewIntPK(999))
	assert.ErrorIs(t, err, dataset.ErrNotFound)
}

func TestIterFeaturesVisitsEveryRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()
	schema := schemaFor("")

	var features []value.Feature
	for i := int64(1); i <= 5; i++ {
		features = append(features, value.NewFeature(value.NewIntPK(i), []string{"id", "name"}, map[string]value.Value{
			"id": value.IntValue(i), "name": value.TextValue("row"),
		}))
	}
	tree := buildTable(t, ctx, store, schema, features)
	ds, err := dataset.Open(ctx, store, "points", tree)
	require.NoError(t, err)

	seen := map[string]bool{}
	err = ds.IterFeatures(ctx, func(pk value.PK, f value.Feature) error {
		seen[pk.String()] = true
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 5)
}

func TestDiffReportsInsertUpdateDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()
	schema := schemaFor("")

	f1 := value.NewFeature(value.NewIntPK(1), []string{"id", "name"}, map[string]value.Value{"id": value.IntValue(1), "name": value.TextValue("a")})
	f2 := value.NewFeature(value.NewIntPK(2), []string{"id", "name"}, map[string]value.Value{"id": value.IntValue(2), "name": value.TextValue("b")})
	oldTree := buildTable(t, ctx, store, schema, []value.Feature{f1, f2})

	f1Updated := value.NewFeature(value.NewIntPK(1), []string{"id", "name"}, map[string]value.Value{"id": value.IntValue(1), "name": value.TextValue("a2")})
	f3 := value.NewFeature(value.NewIntPK(3), []string{"id", "name"}, map[string]value.Value{"id": value.IntValue(3), "name": value.TextValue("c")})
	newTree := buildTable(t, ctx, store, schema, []value.Feature{f1Updated, f3})

	oldDS, err := dataset.Open(ctx, store, "points", oldTree)
	require.NoError(t, err)
	newDS, err := dataset.Open(ctx, store, "points", newTree)
	require.NoError(t, err)

	dd, err := oldDS.Diff(ctx, newDS, diff.UnfilteredPKs())
	require.NoError(t, err)

	require.Contains(t, dd.U, "1")
	assert.Equal(t, "a2", dd.U["1"].New.Get("name").Text)
	require.Len(t, dd.I, 1)
	assert.Equal(t, "3", dd.I[0].PK.String())
	require.Contains(t, dd.D, "2")
}

func TestWriteToIndexAppliesInsertsAndDeletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()
	schema := schemaFor("")

	f1 := value.NewFeature(value.NewIntPK(1), []string{"id", "name"}, map[string]value.Value{"id": value.IntValue(1), "name": value.TextValue("a")})
	tree := buildTable(t, ctx, store, schema, []value.Feature{f1})

	ds, err := dataset.Open(ctx, store, "points", tree)
	require.NoError(t, err)

	dd := diff.NewDatasetDiff()
	dd.D["1"] = f1
	dd.I = []value.Feature{
		value.NewFeature(value.NewIntPK(2), []string{"id", "name"}, map[string]value.Value{"id": value.IntValue(2), "name": value.TextValue("b")}),
	}

	root := buildRepoRoot(t, ctx, store, "points", tree)
	handle, err := store.BuildTreeFrom(ctx, root)
	require.NoError(t, err)
	require.NoError(t, ds.WriteToIndex(ctx, dd, handle))

	newRoot, err := store.WriteTree(ctx, handle)
	require.NoError(t, err)
	newTree := tableTreeUnder(t, ctx, store, newRoot, "points")

	newDS, err := dataset.Open(ctx, store, "points", newTree)
	require.NoError(t, err)

	_, err = newDS.GetFeature(ctx, value.NewIntPK(1))
	assert.ErrorIs(t, err, dataset.ErrNotFound)

	got, err := newDS.GetFeature(ctx, value.NewIntPK(2))
	require.NoError(t, err)
	assert.Equal(t, "b", got.Get("name").Text)
}

func TestWriteToIndexGeometryColumnIsIgnoredForConflicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()
	schema := schemaFor("geom")

	base := value.NewFeature(value.NewIntPK(1), []string{"id", "name", "geom"}, map[string]value.Value{
		"id": value.IntValue(1), "name": value.TextValue("a"), "geom": value.GeometryValue([]byte{0x01}),
	})
	tree := buildTable(t, ctx, store, schema, []value.Feature{base})
	ds, err := dataset.Open(ctx, store, "points", tree)
	require.NoError(t, err)

	// The diff's expected pre-image has a different (re-serialized) geometry
	// than what's actually stored, but identical non-geometry columns: this
	// must not be treated as a conflict.
	stalePreimage := value.NewFeature(value.NewIntPK(1), []string{"id", "name", "geom"}, map[string]value.Value{
		"id": value.IntValue(1), "name": value.TextValue("a"), "geom": value.GeometryValue([]byte{0x02}),
	})
	newFeature := value.NewFeature(value.NewIntPK(1), []string{"id", "name", "geom"}, map[string]value.Value{
		"id": value.IntValue(1), "name": value.TextValue("updated"), "geom": value.GeometryValue([]byte{0x02}),
	})

	dd := diff.NewDatasetDiff()
	dd.U["1"] = diff.UpdatePair{Old: stalePreimage, New: newFeature}

	root := buildRepoRoot(t, ctx, store, "points", tree)
	handle, err := store.BuildTreeFrom(ctx, root)
	require.NoError(t, err)
	assert.NoError(t, ds.WriteToIndex(ctx, dd, handle))
}

// TestDiffInsertUpdateDeleteRoundTrip covers insert/update/delete together
// (a PK value change decomposes into a delete-at-the-old-PK plus an
// insert-at-the-new-PK, since a feature's path is a pure function of its PK
// value; the collision-based rename fold only triggers when the *same* PK
// string shows up on both sides, e.g. a codec-version path change): a diff
// built from old_tree to new_tree, inverted and applied to an index seeded
// from new_tree, reproduces old_tree's oid.
func TestDiffInsertUpdateDeleteRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()
	schema := schemaFor("")

	mk := func(id int64, name string) value.Feature {
		return value.NewFeature(value.NewIntPK(id), []string{"id", "name"}, map[string]value.Value{
			"id": value.IntValue(id), "name": value.TextValue(name),
		})
	}

	f1 := mk(1, "one")
	f2 := mk(2, "two")
	f3 := mk(3, "three")
	oldTree := buildTable(t, ctx, store, schema, []value.Feature{f1, f2, f3})

	f1Moved := mk(9998, "one")
	f2Updated := mk(2, "TWO")
	f9999 := mk(9999, "new")
	newTree := buildTable(t, ctx, store, schema, []value.Feature{f1Moved, f2Updated, f9999})

	oldDS, err := dataset.Open(ctx, store, "points", oldTree)
	require.NoError(t, err)
	newDS, err := dataset.Open(ctx, store, "points", newTree)
	require.NoError(t, err)

	dd, err := oldDS.Diff(ctx, newDS, diff.UnfilteredPKs())
	require.NoError(t, err)

	assert.Contains(t, dd.D, "1")
	assert.Contains(t, dd.D, "3")
	assert.Contains(t, dd.U, "2")
	assert.Equal(t, "TWO", dd.U["2"].New.Get("name").Text)

	inserted := map[string]bool{}
	for _, f := range dd.I {
		inserted[f.PK.String()] = true
	}
	assert.True(t, inserted["9998"])
	assert.True(t, inserted["9999"])

	rd := diff.NewFromDataset("points", dd)
	inverted, err := rd.Invert()
	require.NoError(t, err)
	invDD, ok := inverted.Dataset("points")
	require.True(t, ok)

	root := buildRepoRoot(t, ctx, store, "points", newTree)
	handle, err := store.BuildTreeFrom(ctx, root)
	require.NoError(t, err)
	require.NoError(t, newDS.WriteToIndex(ctx, invDD, handle))

	newRoot, err := store.WriteTree(ctx, handle)
	require.NoError(t, err)
	gotOldTree := tableTreeUnder(t, ctx, store, newRoot, "points")
	assert.Equal(t, oldTree, gotOldTree)
}

// TestWriteToIndexDeleteIgnoresContentMismatch covers structure.py
// write_index's D loop: a delete only checks that the path is present, not
// that its content still matches the diff's pre-image, so a feature whose
// content changed underneath the diff (but wasn't removed) still deletes
// cleanly.
func TestWriteToIndexDeleteIgnoresContentMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()
	schema := schemaFor("")

	base := value.NewFeature(value.NewIntPK(1), []string{"id", "name"}, map[string]value.Value{"id": value.IntValue(1), "name": value.TextValue("a")})
	tree := buildTable(t, ctx, store, schema, []value.Feature{base})
	ds, err := dataset.Open(ctx, store, "points", tree)
	require.NoError(t, err)

	stalePreimage := value.NewFeature(value.NewIntPK(1), []string{"id", "name"}, map[string]value.Value{"id": value.IntValue(1), "name": value.TextValue("not-a")})
	dd := diff.NewDatasetDiff()
	dd.D["1"] = stalePreimage

	root := buildRepoRoot(t, ctx, store, "points", tree)
	handle, err := store.BuildTreeFrom(ctx, root)
	require.NoError(t, err)
	assert.NoError(t, ds.WriteToIndex(ctx, dd, handle))
}

// TestWriteToIndexDetectsConflict covers structure.py write_index's
// presence checks: deleting or updating a primary key that is no longer (or
// never was) present in the dataset's own tree is a conflict.
func TestWriteToIndexDetectsConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()
	schema := schemaFor("")

	base := value.NewFeature(value.NewIntPK(1), []string{"id", "name"}, map[string]value.Value{"id": value.IntValue(1), "name": value.TextValue("a")})
	tree := buildTable(t, ctx, store, schema, []value.Feature{base})
	ds, err := dataset.Open(ctx, store, "points", tree)
	require.NoError(t, err)

	missing := value.NewFeature(value.NewIntPK(2), []string{"id", "name"}, map[string]value.Value{"id": value.IntValue(2), "name": value.TextValue("b")})
	dd := diff.NewDatasetDiff()
	dd.D["2"] = missing

	root := buildRepoRoot(t, ctx, store, "points", tree)
	handle, err := store.BuildTreeFrom(ctx, root)
	require.NoError(t, err)
	err = ds.WriteToIndex(ctx, dd, handle)
	assert.ErrorIs(t, err, dataset.ErrPatchDoesNotApply)
}

// TestWriteToIndexAggregatesMultipleConflicts covers structure.py
// write_index: every loop (D, U, I) accumulates its conflicts instead of
// failing on the first one found, so a diff with independent conflicts in
// more than one loop reports all of them in a single call.
func TestWriteToIndexAggregatesMultipleConflicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()
	schema := schemaFor("")

	base := value.NewFeature(value.NewIntPK(1), []string{"id", "name"}, map[string]value.Value{"id": value.IntValue(1), "name": value.TextValue("a")})
	tree := buildTable(t, ctx, store, schema, []value.Feature{base})
	ds, err := dataset.Open(ctx, store, "points", tree)
	require.NoError(t, err)

	missingDelete := value.NewFeature(value.NewIntPK(2), []string{"id", "name"}, map[string]value.Value{"id": value.IntValue(2), "name": value.TextValue("b")})
	missingUpdateOld := value.NewFeature(value.NewIntPK(3), []string{"id", "name"}, map[string]value.Value{"id": value.IntValue(3), "name": value.TextValue("c")})
	missingUpdateNew := value.NewFeature(value.NewIntPK(3), []string{"id", "name"}, map[string]value.Value{"id": value.IntValue(3), "name": value.TextValue("c2")})

	dd := diff.NewDatasetDiff()
	dd.D["2"] = missingDelete
	dd.U["3"] = diff.UpdatePair{Old: missingUpdateOld, New: missingUpdateNew}

	root := buildRepoRoot(t, ctx, store, "points", tree)
	handle, err := store.BuildTreeFrom(ctx, root)
	require.NoError(t, err)
	err = ds.WriteToIndex(ctx, dd, handle)
	require.ErrorIs(t, err, dataset.ErrPatchDoesNotApply)
}
