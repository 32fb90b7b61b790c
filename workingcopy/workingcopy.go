// Package workingcopy defines the narrow interface the repo and diff layers
// use to compare a dataset's tree against whatever mutable storage a caller
// keeps checked-out rows in (spec.md §1 Non-goals: the SQL/GPKG working-copy
// backend itself is an external collaborator, not part of this module).
package workingcopy

import (
	"context"

	"github.com/craigds/sno/dataset"
	"github.com/craigds/sno/diff"
	"github.com/craigds/sno/objectstore"
)

// WorkingCopy is implemented by whatever concrete checkout storage a caller
// uses (a SQL database, a GeoPackage file, an in-memory fixture for tests).
// This module ships no implementation of it.
type WorkingCopy interface {
	// DiffToTree returns the feature-level diff between the working copy's
	// current content for ds and the tree ds was checked out from,
	// restricted to filter (spec.md §4.3 "target<>working_copy").
	DiffToTree(ctx context.Context, ds *dataset.Dataset, filter diff.PKFilter) (diff.DatasetDiff, error)

	// AssertDBTreeMatch fails if the working copy's recorded checkout tree
	// does not match tree, meaning it is stale relative to the ref it
	// claims to track (original_source/sno/working_copy.py
	// assert_db_tree_match).
	AssertDBTreeMatch(ctx context.Context, tree objectstore.OID) error
}
