package mergestate

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/diff"
	"github.com/craigds/sno/merge"
	"github.com/craigds/sno/objectstore"
	"github.com/craigds/sno/repo"
	"github.com/craigds/sno/value"
)

// repoDiff computes the unfiltered, working-copy-free repo diff from base to
// target, the same inputs merge.Merge itself diffs from the ancestor.
func repoDiff(ctx context.Context, store objectstore.Store, base, target objectstore.OID) (diff.RepoDiff, error) {
	baseS, err := repo.Lookup(ctx, store, base.String())
	if err != nil {
		return diff.RepoDiff{}, err
	}
	targetS, err := repo.Lookup(ctx, store, target.String())
	if err != nil {
		return diff.RepoDiff{}, err
	}
	return repo.RepoDiff(ctx, store, repo.CommitSpec{Base: baseS, Target: targetS}, nil, diff.UnfilteredRepo())
}

// applyResolutions substitutes each recomputed conflict's recorded
// resolution from idx into combined, turning it from a conflicting PK back
// into an ordinary insert/update/delete. It fails if any conflict lacks a
// matching, resolved record in idx; Continue already checked idx.Unresolved
// is empty, so that only happens if the merge was recombined against a
// dataset set that has changed shape since Begin.
func applyResolutions(combined diff.RepoDiff, conflicts []merge.Conflict, idx Index) (diff.RepoDiff, error) {
	byKey := make(map[string]Conflict, len(idx.Conflicts))
	for _, c := range idx.Conflicts {
		byKey[c.Dataset+"\x00"+c.PK] = c
	}

	byPath := make(map[string]diff.DatasetDiff, len(combined.Datasets())+len(conflicts))
	for _, path := range combined.Datasets() {
		dd, _ := combined.Dataset(path)
		byPath[path] = dd.Clone()
	}

	for _, rc := range conflicts {
		record, ok := byKey[rc.Dataset+"\x00"+rc.PK]
		if !ok || !record.Resolved {
			errE := errors.Errorf("mergestate: conflict %s/%s has no resolved record in the merge index", rc.Dataset, rc.PK)
			return diff.RepoDiff{}, errE
		}
		dd, ok := byPath[rc.Dataset]
		if !ok {
			dd = diff.NewDatasetDiff()
		}
		applyResolution(&dd, rc.Ancestor, rc.PK, record.Resolution)
		byPath[rc.Dataset] = dd
	}

	return diff.NewFromDatasets(byPath), nil
}

// applyResolution turns one conflicting PK back into a plain diff entry:
// ancestor nil + resolution present -> insert; ancestor present + resolution
// present -> update; ancestor present + resolution nil -> delete; ancestor
// nil + resolution nil -> the feature never existed on either side and
// nothing needs to be written.
func applyResolution(dd *diff.DatasetDiff, ancestor *value.Feature, pk string, resolution *value.Feature) {
	switch {
	case ancestor == nil && resolution != nil:
		dd.I = append(dd.I, *resolution)
	case ancestor != nil && resolution != nil:
		dd.U[pk] = diff.UpdatePair{Old: *ancestor, New: *resolution}
	case ancestor != nil && resolution == nil:
		dd.D[pk] = *ancestor
	}
}
