package mergestate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craigds/sno/dataset"
	"github.com/craigds/sno/merge"
	"github.com/craigds/sno/mergestate"
	"github.com/craigds/sno/objectstore"
	"github.com/craigds/sno/objectstore/memstore"
	"github.com/craigds/sno/value"
)

var sig = objectstore.Signature{Name: "tester", Email: "tester@example.com"}

func schema() dataset.Schema {
	return dataset.Schema{Version: 2, PKColumn: "id", Columns: []string{"id", "name"}}
}

func feature(id int64, name string) value.Feature {
	return value.NewFeature(value.NewIntPK(id), []string{"id", "name"}, map[string]value.Value{
		"id": value.IntValue(id), "name": value.TextValue(name),
	})
}

func buildRepoTree(t *testing.T, ctx context.Context, store objectstore.Store, tables map[string]objectstore.OID) objectstore.OID {
	t.Helper()
	handle, err := store.BuildTreeFrom(ctx, "")
	require.NoError(t, err)
	for path, tableTree := range tables {
		flat := map[string]objectstore.OID{}
		flatten(t, ctx, store, tableTree, path+"/.sno-table/", flat)
		for p, oid := range flat {
			handle.Add(p, oid)
		}
	}
	tree, err := store.WriteTree(ctx, handle)
	require.NoError(t, err)
	return tree
}

func flatten(t *testing.T, ctx context.Context, store objectstore.Store, oid objectstore.OID, prefix string, out map[string]objectstore.OID) {
	t.Helper()
	if oid.IsZero() {
		return
	}
	tree, err := store.ReadTree(ctx, oid)
	require.NoError(t, err)
	for _, e := range tree.Entries {
		p := prefix + e.Name
		if e.Mode == objectstore.ModeTree {
			flatten(t, ctx, store, e.OID, p+"/", out)
			continue
		}
		out[p] = e.OID
	}
}

func commit(t *testing.T, ctx context.Context, store objectstore.Store, branch string, parent objectstore.OID, tables map[string]objectstore.OID) objectstore.OID {
	t.Helper()
	tree := buildRepoTree(t, ctx, store, tables)
	var parents []objectstore.OID
	if !parent.IsZero() {
		parents = []objectstore.OID{parent}
	}
	oid, err := store.CreateCommit(ctx, branch, sig, sig, "commit", tree, parents)
	require.NoError(t, err)
	return oid
}

func TestStateReflectsMergeHeadPresence(t *testing.T) {
	t.Parallel()
	dir := mergestate.New(t.TempDir())

	state, err := dir.State()
	require.NoError(t, err)
	assert.Equal(t, mergestate.Normal, state)
	require.NoError(t, dir.RequireState(mergestate.Normal))
	assert.ErrorIs(t, dir.RequireState(mergestate.Merging), mergestate.ErrInvalidOperation)

	conflicts := []merge.Conflict{{Dataset: "points", PK: "1"}}
	require.NoError(t, dir.Begin("deadbeef", "changes", `Merge branch "changes" into master`, conflicts))

	state, err = dir.State()
	require.NoError(t, err)
	assert.Equal(t, mergestate.Merging, state)
	assert.ErrorIs(t, dir.RequireState(mergestate.Normal), mergestate.ErrInvalidOperation)
	require.NoError(t, dir.RequireState(mergestate.Merging))

	theirs, err := dir.TheirsOID()
	require.NoError(t, err)
	assert.Equal(t, objectstore.OID("deadbeef"), theirs)

	branch, err := dir.TheirsBranch()
	require.NoError(t, err)
	assert.Equal(t, "changes", branch)

	msg, err := dir.Message()
	require.NoError(t, err)
	assert.Equal(t, `Merge branch "changes" into master`, msg)

	idx, err := dir.ReadIndex()
	require.NoError(t, err)
	require.Len(t, idx.Conflicts, 1)
	assert.Equal(t, "points", idx.Conflicts[0].Dataset)
	assert.NotEmpty(t, idx.Conflicts[0].ID)
	assert.False(t, idx.Conflicts[0].Resolved)

	require.NoError(t, dir.Abort())
	state, err = dir.State()
	require.NoError(t, err)
	assert.Equal(t, mergestate.Normal, state)
}

func TestResolveMarksConflictAndRejectsUnknownID(t *testing.T) {
	t.Parallel()
	dir := mergestate.New(t.TempDir())
	conflicts := []merge.Conflict{{Dataset: "points", PK: "1"}, {Dataset: "points", PK: "2"}}
	require.NoError(t, dir.Begin("deadbeef", "changes", "Merge", conflicts))

	idx, err := dir.ReadIndex()
	require.NoError(t, err)
	id := idx.Conflicts[0].ID

	resolved := feature(1, "resolved")
	require.NoError(t, dir.Resolve(id, &resolved))

	idx, err = dir.ReadIndex()
	require.NoError(t, err)
	require.Len(t, idx.Unresolved(), 1)
	assert.Equal(t, "2", idx.Unresolved()[0].PK)

	assert.ErrorIs(t, dir.Resolve("nope", nil), mergestate.ErrConflictNotFound)
}

func TestContinueFailsUntilAllConflictsResolved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()

	table0, err := dataset.Create(ctx, store, "points", schema(), []value.Feature{feature(1, "base")})
	require.NoError(t, err)
	base := commit(t, ctx, store, "HEAD", "", map[string]objectstore.OID{"points": table0})

	tableOurs, err := dataset.Create(ctx, store, "points", schema(), []value.Feature{feature(1, "ours")})
	require.NoError(t, err)
	ours := commit(t, ctx, store, "refs/heads/master", base, map[string]objectstore.OID{"points": tableOurs})

	tableTheirs, err := dataset.Create(ctx, store, "points", schema(), []value.Feature{feature(1, "theirs")})
	require.NoError(t, err)
	theirs := commit(t, ctx, store, "refs/heads/changes", base, map[string]objectstore.OID{"points": tableTheirs})

	result, err := merge.Merge(ctx, store, "refs/heads/master", ours, theirs, "master", "changes", sig, sig, merge.Options{})
	require.NoError(t, err)
	require.True(t, result.HasConflicts())

	dir := mergestate.New(t.TempDir())
	require.NoError(t, dir.Begin(theirs, "changes", result.Message, result.Conflicts))

	_, err = dir.Continue(ctx, store, "refs/heads/master", ours, sig, sig)
	assert.ErrorIs(t, err, mergestate.ErrUnresolvedConflicts)

	idx, err := dir.ReadIndex()
	require.NoError(t, err)
	require.Len(t, idx.Conflicts, 1)

	resolved := feature(1, "resolved")
	require.NoError(t, dir.Resolve(idx.Conflicts[0].ID, &resolved))

	commitOID, err := dir.Continue(ctx, store, "refs/heads/master", ours, sig, sig)
	require.NoError(t, err)
	require.NotEqual(t, objectstore.OID(""), commitOID)

	commitObj, err := store.ReadCommit(ctx, commitOID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []objectstore.OID{ours, theirs}, commitObj.Parents)

	ds, err := dataset.Open(ctx, store, "points", tableTreeOf(t, ctx, store, commitObj.Tree, "points"))
	require.NoError(t, err)
	got, err := ds.GetFeature(ctx, value.NewIntPK(1))
	require.NoError(t, err)
	assert.Equal(t, "resolved", got.Get("name").Text)

	state, err := dir.State()
	require.NoError(t, err)
	assert.Equal(t, mergestate.Normal, state)
}

func TestContinueDeletesOnNilResolution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()

	table0, err := dataset.Create(ctx, store, "points", schema(), []value.Feature{feature(1, "base")})
	require.NoError(t, err)
	base := commit(t, ctx, store, "HEAD", "", map[string]objectstore.OID{"points": table0})

	tableOurs, err := dataset.Create(ctx, store, "points", schema(), []value.Feature{feature(1, "ours")})
	require.NoError(t, err)
	ours := commit(t, ctx, store, "refs/heads/master", base, map[string]objectstore.OID{"points": tableOurs})

	tableTheirs, err := dataset.Create(ctx, store, "points", schema(), []value.Feature{feature(1, "theirs")})
	require.NoError(t, err)
	theirs := commit(t, ctx, store, "refs/heads/changes", base, map[string]objectstore.OID{"points": tableTheirs})

	result, err := merge.Merge(ctx, store, "refs/heads/master", ours, theirs, "master", "changes", sig, sig, merge.Options{})
	require.NoError(t, err)
	require.True(t, result.HasConflicts())

	dir := mergestate.New(t.TempDir())
	require.NoError(t, dir.Begin(theirs, "changes", result.Message, result.Conflicts))

	idx, err := dir.ReadIndex()
	require.NoError(t, err)
	require.NoError(t, dir.Resolve(idx.Conflicts[0].ID, nil))

	commitOID, err := dir.Continue(ctx, store, "refs/heads/master", ours, sig, sig)
	require.NoError(t, err)

	commitObj, err := store.ReadCommit(ctx, commitOID)
	require.NoError(t, err)
	ds, err := dataset.Open(ctx, store, "points", tableTreeOf(t, ctx, store, commitObj.Tree, "points"))
	require.NoError(t, err)
	_, err = ds.GetFeature(ctx, value.NewIntPK(1))
	assert.ErrorIs(t, err, dataset.ErrNotFound)
}

func tableTreeOf(t *testing.T, ctx context.Context, store objectstore.Store, root objectstore.OID, path string) objectstore.OID {
	t.Helper()
	tree, err := store.ReadTree(ctx, root)
	require.NoError(t, err)
	entry, ok := tree.Get(path)
	require.True(t, ok)
	dsTree, err := store.ReadTree(ctx, entry.OID)
	require.NoError(t, err)
	marker, ok := dsTree.Get(".sno-table")
	require.True(t, ok)
	return marker.OID
}
