package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craigds/sno/dataset"
	"github.com/craigds/sno/objectstore"
	"github.com/craigds/sno/objectstore/memstore"
	"github.com/craigds/sno/repo"
	"github.com/craigds/sno/value"
)

func testSchema() dataset.Schema {
	return dataset.Schema{Version: 2, PKColumn: "id", Columns: []string{"id", "name"}}
}

func testFeature(id int64, name string) value.Feature {
	return value.NewFeature(value.NewIntPK(id), []string{"id", "name"}, map[string]value.Value{
		"id": value.IntValue(id), "name": value.TextValue(name),
	})
}

// buildRepoTree wraps one or more dataset table trees into a repo-rooted
// tree, the shape a commit's Tree normally has.
func buildRepoTree(t *testing.T, ctx context.Context, store objectstore.Store, tables map[string]objectstore.OID) objectstore.OID {
	t.Helper()
	handle, err := store.BuildTreeFrom(ctx, "")
	require.NoError(t, err)
	for path, tableTree := range tables {
		flat := map[string]objectstore.OID{}
		flattenInto(t, ctx, store, tableTree, path+"/.sno-table/", flat)
		for p, oid := range flat {
			handle.Add(p, oid)
		}
	}
	tree, err := store.WriteTree(ctx, handle)
	require.NoError(t, err)
	return tree
}

func flattenInto(t *testing.T, ctx context.Context, store objectstore.Store, oid objectstore.OID, prefix string, out map[string]objectstore.OID) {
	t.Helper()
	if oid.IsZero() {
		return
	}
	tree, err := store.ReadTree(ctx, oid)
	require.NoError(t, err)
	for _, e := range tree.Entries {
		p := prefix + e.Name
		if e.Mode == objectstore.ModeTree {
			flattenInto(t, ctx, store, e.OID, p+"/", out)
			continue
		}
		out[p] = e.OID
	}
}

func TestLookupResolvesCommitAndTree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()

	tableTree, err := dataset.Create(ctx, store, "points", testSchema(), []value.Feature{testFeature(1, "a")})
	require.NoError(t, err)
	repoTree := buildRepoTree(t, ctx, store, map[string]objectstore.OID{"points": tableTree})

	author := objectstore.Signature{Name: "a", Email: "a@example.com"}
	commitOID, err := store.CreateCommit(ctx, "HEAD", author, author, "initial", repoTree, nil)
	require.NoError(t, err)

	s, err := repo.Lookup(ctx, store, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, commitOID, s.Commit)
	assert.Equal(t, repoTree, s.Tree)

	bare, err := repo.Lookup(ctx, store, repoTree.String())
	require.NoError(t, err)
	assert.True(t, bare.Commit.IsZero())
	assert.Equal(t, repoTree, bare.Tree)
}

func TestStructureDatasetsDiscoversNestedTables(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()

	pointsTree, err := dataset.Create(ctx, store, "points", testSchema(), []value.Feature{testFeature(1, "a")})
	require.NoError(t, err)
	linesTree, err := dataset.Create(ctx, store, "layers/lines", testSchema(), []value.Feature{testFeature(2, "b")})
	require.NoError(t, err)

	repoTree := buildRepoTree(t, ctx, store, map[string]objectstore.OID{
		"points":       pointsTree,
		"layers/lines": linesTree,
	})

	author := objectstore.Signature{Name: "a", Email: "a@example.com"}
	_, err = store.CreateCommit(ctx, "HEAD", author, author, "initial", repoTree, nil)
	require.NoError(t, err)

	structure, err := repo.Lookup(ctx, store, "HEAD")
	require.NoError(t, err)

	paths, err := structure.DatasetPaths(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"points", "layers/lines"}, paths)

	ds, err := structure.Dataset(ctx, "layers/lines")
	require.NoError(t, err)
	require.NotNil(t, ds)
	got, err := ds.GetFeature(ctx, value.NewIntPK(2))
	require.NoError(t, err)
	assert.Equal(t, "b", got.Get("name").Text)

	missing, err := structure.Dataset(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
