package repo

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/diff"
	"github.com/craigds/sno/objectstore"
)

// Commit applies a repo-wide diff on top of parentCommit (the zero OID for a
// repository's first commit) and creates a new commit object, atomically
// advancing refname to point at it (original_source/sno/structure.py
// RepositoryStructure.commit / create_tree_from_diff).
//
// Every dataset path touched by rd must already exist at parentCommit: this
// mirrors WriteToIndex's restriction that schema (meta) changes aren't
// supported there, so a brand-new dataset is built with dataset.Create and
// staged into the tree separately before Commit is called.
func Commit(ctx context.Context, store objectstore.Store, refname string, parentCommit objectstore.OID, rd diff.RepoDiff, message string, author, committer objectstore.Signature) (objectstore.OID, error) {
	var parentTree objectstore.OID
	var parents []objectstore.OID
	if !parentCommit.IsZero() {
		c, err := store.ReadCommit(ctx, parentCommit)
		if err != nil {
			return "", err
		}
		parentTree = c.Tree
		parents = []objectstore.OID{parentCommit}
	}

	handle, err := store.BuildTreeFrom(ctx, parentTree)
	if err != nil {
		return "", err
	}

	base := &Structure{Tree: parentTree, store: store}
	for _, path := range rd.Datasets() {
		dd, _ := rd.Dataset(path)
		if dd.IsEmpty() {
			continue
		}
		ds, err := base.Dataset(ctx, path)
		if err != nil {
			return "", err
		}
		if ds == nil {
			errE := errors.Errorf("commit: dataset %q does not exist at parent commit; create it before committing", path)
			return "", errE
		}
		if err := ds.WriteToIndex(ctx, dd, handle); err != nil {
			return "", err
		}
	}

	tree, err := store.WriteTree(ctx, handle)
	if err != nil {
		return "", err
	}
	return store.CreateCommit(ctx, refname, author, committer, message, tree, parents)
}
