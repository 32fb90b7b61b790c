package repo

import (
	"context"
	"regexp"

	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/dataset"
	"github.com/craigds/sno/diff"
	"github.com/craigds/sno/objectstore"
	"github.com/craigds/sno/workingcopy"
)

// rangeOperator matches the ".." and "..." separators in a commit-spec
// string (original_source/sno/diff.py: re.split(r"(\.{2,3})", commit_spec)).
var rangeOperator = regexp.MustCompile(`\.{2,3}`)

// CommitSpec is the resolved form of a --commit spec string: the two sides
// to diff, and whether the working copy's pending edits against Target
// should be composed in afterwards.
type CommitSpec struct {
	Base   *Structure
	Target *Structure

	// ComposeWorkingCopy means Target<>working-copy is concatenated onto
	// Base<>Target (true whenever the spec did not pin two explicit
	// commits with a range operator).
	ComposeWorkingCopy bool
}

// ParseCommitSpec resolves a --commit spec string to the structures it
// names (original_source/sno/diff.py's commit-spec grammar):
//
//   - "" or a single ref R: diffs R<>HEAD composed with HEAD<>working-copy.
//   - "A...B": diffs A directly against B, no working copy involved.
//   - "A..B": diffs merge-base(A,B) against B (git log "A..B" semantics),
//     no working copy involved. Both sides must resolve to commits.
//
// An empty A or B defaults to "HEAD".
func ParseCommitSpec(ctx context.Context, store objectstore.Store, spec string) (CommitSpec, error) {
	loc := rangeOperator.FindStringIndex(spec)
	if loc == nil {
		ref := spec
		if ref == "" {
			ref = "HEAD"
		}
		base, err := Lookup(ctx, store, ref)
		if err != nil {
			return CommitSpec{}, err
		}
		target, err := Lookup(ctx, store, "HEAD")
		if err != nil {
			return CommitSpec{}, err
		}
		return CommitSpec{Base: base, Target: target, ComposeWorkingCopy: true}, nil
	}

	sep := spec[loc[0]:loc[1]]
	left, right := spec[:loc[0]], spec[loc[1]:]
	if left == "" {
		left = "HEAD"
	}
	if right == "" {
		right = "HEAD"
	}

	leftS, err := Lookup(ctx, store, left)
	if err != nil {
		return CommitSpec{}, err
	}
	rightS, err := Lookup(ctx, store, right)
	if err != nil {
		return CommitSpec{}, err
	}

	if sep == "..." {
		return CommitSpec{Base: leftS, Target: rightS}, nil
	}

	// ".." requires both sides to be commits, so their merge-base exists.
	if leftS.Commit.IsZero() || rightS.Commit.IsZero() {
		errE := errors.Errorf("%q: \"..\" requires both sides to be commits, not bare trees", spec)
		return CommitSpec{}, errE
	}
	mb, ok, err := store.MergeBase(ctx, leftS.Commit, rightS.Commit)
	if err != nil {
		return CommitSpec{}, err
	}
	if !ok {
		errE := errors.Errorf("%q and %q share no common ancestor", left, right)
		return CommitSpec{}, errE
	}
	baseS, err := Lookup(ctx, store, mb.String())
	if err != nil {
		return CommitSpec{}, err
	}
	return CommitSpec{Base: baseS, Target: rightS}, nil
}

// datasetOrEmpty loads the dataset at path from s, or an empty Dataset
// rooted at the zero tree (borrowing other's schema, which Diff/ReverseDiff
// never consult) if s has no dataset there at all.
func datasetOrEmpty(ctx context.Context, store objectstore.Store, s *Structure, path string, other *dataset.Dataset) (*dataset.Dataset, error) {
	ds, err := s.Dataset(ctx, path)
	if err != nil {
		return nil, err
	}
	if ds != nil {
		return ds, nil
	}
	return dataset.NewEmpty(store, path, other.Schema)
}

// DatasetDiff computes the diff for a single dataset path between a commit
// spec's two sides, composed with the working copy's pending edits if the
// spec calls for it (original_source/sno/diff.py get_dataset_diff). wc may
// be nil if the caller knows ComposeWorkingCopy is false for this spec.
func DatasetDiff(ctx context.Context, store objectstore.Store, cs CommitSpec, wc workingcopy.WorkingCopy, path string, filter diff.PKFilter) (diff.DatasetDiff, error) {
	targetDS, err := cs.Target.Dataset(ctx, path)
	if err != nil {
		return diff.DatasetDiff{}, err
	}
	baseDS, err := cs.Base.Dataset(ctx, path)
	if err != nil {
		return diff.DatasetDiff{}, err
	}

	var dd diff.DatasetDiff
	switch {
	case baseDS == nil && targetDS == nil:
		return diff.NewDatasetDiff(), nil
	case targetDS == nil:
		empty, err := dataset.NewEmpty(store, path, baseDS.Schema)
		if err != nil {
			return diff.DatasetDiff{}, err
		}
		dd, err = baseDS.Diff(ctx, empty, filter)
		if err != nil {
			return diff.DatasetDiff{}, err
		}
	case baseDS == nil:
		empty, err := dataset.NewEmpty(store, path, targetDS.Schema)
		if err != nil {
			return diff.DatasetDiff{}, err
		}
		dd, err = empty.Diff(ctx, targetDS, filter)
		if err != nil {
			return diff.DatasetDiff{}, err
		}
	default:
		dd, err = baseDS.Diff(ctx, targetDS, filter)
		if err != nil {
			return diff.DatasetDiff{}, err
		}
	}

	if !cs.ComposeWorkingCopy || wc == nil {
		return dd, nil
	}

	wcTarget := targetDS
	if wcTarget == nil {
		wcTarget, err = datasetOrEmpty(ctx, store, cs.Target, path, baseDS)
		if err != nil {
			return diff.DatasetDiff{}, err
		}
	}
	wcDiff, err := wc.DiffToTree(ctx, wcTarget, filter)
	if err != nil {
		return diff.DatasetDiff{}, err
	}

	rd, err := diff.NewFromDataset(path, dd).Concat(diff.NewFromDataset(path, wcDiff))
	if err != nil {
		return diff.DatasetDiff{}, err
	}
	combined, _ := rd.Dataset(path)
	return combined, nil
}

// RepoDiff computes the repository-wide diff across every dataset present
// on either side of a commit spec, restricted to filter (original_source/sno/diff.py
// get_repo_diff). filter selects which datasets (and, within each, which
// PKs) to include; pass diff.UnfilteredRepo() for no restriction.
func RepoDiff(ctx context.Context, store objectstore.Store, cs CommitSpec, wc workingcopy.WorkingCopy, filter diff.RepoFilter) (diff.RepoDiff, error) {
	basePaths, err := cs.Base.DatasetPaths(ctx)
	if err != nil {
		return diff.RepoDiff{}, err
	}
	targetPaths, err := cs.Target.DatasetPaths(ctx)
	if err != nil {
		return diff.RepoDiff{}, err
	}

	all := map[string]bool{}
	for _, p := range basePaths {
		all[p] = true
	}
	for _, p := range targetPaths {
		all[p] = true
	}

	byPath := make(map[string]diff.DatasetDiff, len(all))
	for path := range all {
		pkFilter, ok := filter.ForDataset(path)
		if !ok {
			continue
		}
		dd, err := DatasetDiff(ctx, store, cs, wc, path, pkFilter)
		if err != nil {
			return diff.RepoDiff{}, err
		}
		if !dd.IsEmpty() {
			byPath[path] = dd
		}
	}
	return diff.NewFromDatasets(byPath), nil
}
