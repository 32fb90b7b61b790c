package dataset

import (
	"context"
	"strings"

	"github.com/craigds/sno/diff"
	"github.com/craigds/sno/objectstore"
	"github.com/craigds/sno/value"
)

// Diff computes the feature-level difference between d (the old side) and
// other (the new side). filter restricts which primary keys are considered;
// pass diff.UnfilteredPKs() for no restriction.
//
// Renames are detected by primary-key collision between a path reported as
// purely Added and one reported as purely Deleted (structure.py
// DatasetStructure.diff): since a feature's path is a pure function of its
// PK, this only happens when the two sides use different codec versions for
// the same logical row, and is folded into an Update rather than reported as
// a spurious insert+delete pair.
func (d *Dataset) Diff(ctx context.Context, other *Dataset, filter diff.PKFilter) (diff.DatasetDiff, error) {
	return d.diff(ctx, other, filter, false)
}

// ReverseDiff is equivalent to other.Diff(ctx, d, filter), computed without
// requiring the caller to already hold other as the receiver.
func (d *Dataset) ReverseDiff(ctx context.Context, other *Dataset, filter diff.PKFilter) (diff.DatasetDiff, error) {
	return d.diff(ctx, other, filter, true)
}

func (d *Dataset) diff(ctx context.Context, other *Dataset, filter diff.PKFilter, reverse bool) (diff.DatasetDiff, error) {
	dd := diff.NewDatasetDiff()

	deltas, err := d.store.DiffTrees(ctx, d.Tree, other.Tree, reverse)
	if err != nil {
		return dd, err
	}

	type pathOID struct {
		path string
		oid  objectstore.OID
	}
	var added, deleted []pathOID

	for _, delta := range deltas {
		path := delta.NewPath
		if path == "" {
			path = delta.OldPath
		}
		if strings.HasPrefix(path, "meta/") {
			// Meta-path deltas are not expressible in this core's diff
			// algebra (spec.md §4.2, §3 META invariant) and are skipped
			// outright, never captured (structure.py diff()).
			continue
		}

		switch delta.Status {
		case objectstore.Added:
			added = append(added, pathOID{path: path, oid: delta.NewOID})
		case objectstore.Deleted:
			deleted = append(deleted, pathOID{path: path, oid: delta.OldOID})
		case objectstore.Modified:
			oldF, err := d.readFeatureBlob(ctx, delta.OldOID)
			if err != nil {
				return dd, err
			}
			newF, err := d.readFeatureBlob(ctx, delta.NewOID)
			if err != nil {
				return dd, err
			}
			pk := oldF.PK.String()
			if !filter.Contains(pk) && !filter.Contains(newF.PK.String()) {
				continue
			}
			dd.U[pk] = diff.UpdatePair{Old: oldF, New: newF}
		}
	}

	deletedByPK := make(map[string]value.Feature, len(deleted))
	for _, de := range deleted {
		f, err := d.readFeatureBlob(ctx, de.oid)
		if err != nil {
			return dd, err
		}
		deletedByPK[f.PK.String()] = f
	}

	renamed := make(map[string]bool, len(added))
	for _, ae := range added {
		f, err := d.readFeatureBlob(ctx, ae.oid)
		if err != nil {
			return dd, err
		}
		pk := f.PK.String()
		if oldF, ok := deletedByPK[pk]; ok {
			if filter.Contains(pk) {
				dd.U[pk] = diff.UpdatePair{Old: oldF, New: f}
			}
			renamed[pk] = true
			continue
		}
		if !filter.Contains(pk) {
			continue
		}
		dd.I = append(dd.I, f)
	}

	for pk, f := range deletedByPK {
		if renamed[pk] {
			continue
		}
		if !filter.Contains(pk) {
			continue
		}
		dd.D[pk] = f
	}

	return dd, nil
}

func (d *Dataset) readFeatureBlob(ctx context.Context, oid objectstore.OID) (value.Feature, error) {
	raw, err := d.store.ReadBlob(ctx, oid)
	if err != nil {
		return value.Feature{}, err
	}
	return decodeFeature(raw)
}
