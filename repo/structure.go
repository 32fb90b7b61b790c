// Package repo implements the repository-wide view over datasets: discovery
// of datasets within a tree, repo-wide and per-dataset diff composition
// across commits and the working copy, commit-spec parsing, and commit
// construction (spec.md §4.3).
package repo

import (
	"context"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/dataset"
	"github.com/craigds/sno/objectstore"
)

// ErrNotFound is returned by Lookup when a ref or OID resolves to an object
// that is neither a commit nor a tree. A ref or OID that does not resolve at
// all fails with the store's own error, and a missing dataset path makes
// Dataset return nil without an error.
var ErrNotFound = errors.Base("not found")

// Structure is a read-only view of the datasets present at one commit or
// tree (original_source/sno/structure.py RepositoryStructure). A commit's
// Structure is rooted at that commit's tree; a bare tree has no Commit OID.
type Structure struct {
	Commit objectstore.OID // zero if this Structure is rooted at a bare tree
	Tree   objectstore.OID

	store objectstore.Store
}

// Lookup resolves a ref or OID string to the Structure at the commit or
// tree it names.
func Lookup(ctx context.Context, store objectstore.Store, refOrOID string) (*Structure, error) {
	kind, oid, err := store.Resolve(ctx, refOrOID)
	if err != nil {
		return nil, err
	}
	switch kind {
	case objectstore.KindCommit:
		c, err := store.ReadCommit(ctx, oid)
		if err != nil {
			return nil, err
		}
		return &Structure{Commit: oid, Tree: c.Tree, store: store}, nil
	case objectstore.KindTree:
		return &Structure{Tree: oid, store: store}, nil
	default:
		errE := errors.WithStack(ErrNotFound)
		errors.Details(errE)["ref"] = refOrOID
		return nil, errE
	}
}

// Equal reports whether two structures resolve to the same object.
func (s *Structure) Equal(other *Structure) bool {
	if s == nil || other == nil {
		return s == other
	}
	if !s.Commit.IsZero() || !other.Commit.IsZero() {
		return s.Commit == other.Commit
	}
	return s.Tree == other.Tree
}

// Dataset loads the single dataset at path, or nil if none exists there.
func (s *Structure) Dataset(ctx context.Context, path string) (*dataset.Dataset, error) {
	oid, ok, err := s.datasetTableTree(ctx, path)
	if err != nil || !ok {
		return nil, err
	}
	return dataset.Open(ctx, s.store, path, oid)
}

// datasetTableTree resolves path to its ".sno-table" subtree OID, if path
// names a dataset at all.
func (s *Structure) datasetTableTree(ctx context.Context, path string) (objectstore.OID, bool, error) {
	if s.Tree.IsZero() {
		return "", false, nil
	}
	parts := splitPath(path)
	cur := s.Tree
	for _, part := range parts {
		t, err := s.store.ReadTree(ctx, cur)
		if err != nil {
			return "", false, err
		}
		entry, ok := t.Get(part)
		if !ok || entry.Mode != objectstore.ModeTree {
			return "", false, nil
		}
		cur = entry.OID
	}
	t, err := s.store.ReadTree(ctx, cur)
	if err != nil {
		return "", false, err
	}
	marker, ok := t.Get(".sno-table")
	if !ok {
		return "", false, nil
	}
	return marker.OID, true, nil
}

// Datasets returns every dataset reachable from this Structure's tree,
// found by a breadth-first walk that stops descending into any directory
// containing a ".sno-table" marker (original_source/sno/structure.py
// RepositoryStructure.iter_at). A dataset can never sit at the repository
// root itself, only within some subdirectory, matching iter_at's behaviour
// of only testing child entries for the marker.
func (s *Structure) Datasets(ctx context.Context) ([]*dataset.Dataset, error) {
	if s.Tree.IsZero() {
		return nil, nil
	}

	type queued struct {
		path string
		tree objectstore.OID
	}
	queue := []queued{{path: "", tree: s.Tree}}

	var out []*dataset.Dataset
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		t, err := s.store.ReadTree(ctx, cur.tree)
		if err != nil {
			return nil, err
		}
		for _, e := range t.Entries {
			if e.Mode != objectstore.ModeTree {
				continue
			}
			childPath := e.Name
			if cur.path != "" {
				childPath = cur.path + "/" + e.Name
			}
			childTree, err := s.store.ReadTree(ctx, e.OID)
			if err != nil {
				return nil, err
			}
			if marker, ok := childTree.Get(".sno-table"); ok {
				ds, err := dataset.Open(ctx, s.store, childPath, marker.OID)
				if err != nil {
					return nil, err
				}
				out = append(out, ds)
				continue
			}
			queue = append(queue, queued{path: childPath, tree: e.OID})
		}
	}
	return out, nil
}

// DatasetPaths returns the dataset paths present in this Structure, e.g. for
// repo-wide diff union. It is built on Datasets, so each dataset's schema is
// still loaded.
func (s *Structure) DatasetPaths(ctx context.Context) ([]string, error) {
	datasets, err := s.Datasets(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(datasets))
	for i, ds := range datasets {
		paths[i] = ds.Path
	}
	return paths, nil
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
