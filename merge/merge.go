// Package merge implements the three-way merge described in spec.md §4.5:
// fast-forward detection, ancestor discovery via merge-base, the `d_ours +
// d_theirs` diff-algebra combination, and either a fast-forward ref move, a
// two-parent merge commit, or a conflict report. Persisting a conflicted
// merge's state to disk (MERGE_HEAD/MERGE_BRANCH/MERGE_MSG/MERGE_INDEX) is
// the mergestate package's job, not this one's.
package merge

import (
	"context"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/diff"
	"github.com/craigds/sno/objectstore"
	"github.com/craigds/sno/repo"
	"github.com/craigds/sno/value"
)

// FastForwardMode selects how a merge should use fast-forwards, mirroring
// the --ff/--ff-only/--no-ff CLI flags (spec.md §4.5).
type FastForwardMode int

const (
	// FFAllowed fast-forwards when possible, otherwise creates a merge commit.
	FFAllowed FastForwardMode = iota
	// FFOnly fails with ErrNotFastForward when a true merge commit would be
	// required.
	FFOnly
	// FFNever always creates a two-parent merge commit, even when a
	// fast-forward would suffice.
	FFNever
)

// ErrNotFastForward is returned when FFOnly is set but the merge cannot be
// resolved as a fast-forward.
var ErrNotFastForward = errors.Base("can't resolve as a fast-forward merge and --ff-only specified")

// ErrNoCommonAncestor is returned when two commits share no ancestry.
var ErrNoCommonAncestor = errors.Base("branches share no common ancestor")

// Options configures a merge (spec.md §4.5).
type Options struct {
	FastForward FastForwardMode
	// DryRun computes and reports the merge outcome without moving the
	// branch ref or creating any commit.
	DryRun bool
}

// Conflict is one irreconcilable per-PK difference between ours and theirs,
// relative to their common ancestor (spec.md §4.5 step 5). A nil Ancestor
// means the PK didn't exist there (both sides independently added it); a
// nil Ours or Theirs means that side deleted the row.
type Conflict struct {
	Dataset string
	PK      string

	Ancestor, Ours, Theirs *value.Feature
}

// Label classifies a conflict the way the original CLI's feature-conflict
// summary does ("add/add", "edit/edit", "edit/delete", ...).
func (c Conflict) Label() string {
	return sideLabel(c.Ancestor, c.Ours) + "/" + sideLabel(c.Ancestor, c.Theirs)
}

func sideLabel(ancestor, side *value.Feature) string {
	switch {
	case side == nil:
		return "delete"
	case ancestor == nil:
		return "add"
	default:
		return "edit"
	}
}

// Result reports the outcome of a merge attempt.
type Result struct {
	AlreadyUpToDate bool
	FastForward     bool

	Ancestor, Ours, Theirs objectstore.OID
	Message                string

	// Commit is the new commit OID: the fast-forward target, or a freshly
	// created merge commit. Zero if Conflicts is non-empty, or if DryRun was
	// set for a merge that is not a fast-forward.
	Commit objectstore.OID

	Conflicts []Conflict
}

// HasConflicts reports whether the merge could not be resolved cleanly.
func (r *Result) HasConflicts() bool {
	return len(r.Conflicts) > 0
}

// FeatureConflictCounts summarizes Conflicts by dataset and label, matching
// the original CLI's "add/add: 1, edit/edit: 3" report shape.
func (r *Result) FeatureConflictCounts() map[string]map[string]int {
	out := map[string]map[string]int{}
	for _, c := range r.Conflicts {
		byLabel, ok := out[c.Dataset]
		if !ok {
			byLabel = map[string]int{}
			out[c.Dataset] = byLabel
		}
		byLabel[c.Label()]++
	}
	return out
}

// Merge performs a three-way merge of theirsCommit into oursCommit and, on
// success, advances refname (spec.md §4.5). oursName/theirsName are used
// only to build the merge commit message.
func Merge(ctx context.Context, store objectstore.Store, refname string, oursCommit, theirsCommit objectstore.OID, oursName, theirsName string, author, committer objectstore.Signature, opts Options) (*Result, error) {
	upToDate, err := store.Reachable(ctx, theirsCommit, oursCommit)
	if err != nil {
		return nil, err
	}
	if upToDate {
		return &Result{AlreadyUpToDate: true, Ours: oursCommit, Theirs: theirsCommit}, nil
	}

	canFF, err := store.Reachable(ctx, oursCommit, theirsCommit)
	if err != nil {
		return nil, err
	}
	if canFF && opts.FastForward != FFNever {
		if opts.DryRun {
			return &Result{FastForward: true, Ours: oursCommit, Theirs: theirsCommit, Commit: theirsCommit}, nil
		}
		if err := store.UpdateRef(ctx, refname, theirsCommit); err != nil {
			return nil, err
		}
		return &Result{FastForward: true, Ours: oursCommit, Theirs: theirsCommit, Commit: theirsCommit}, nil
	}

	if opts.FastForward == FFOnly {
		return nil, errors.WithStack(ErrNotFastForward)
	}

	var ancestorOID objectstore.OID
	if canFF {
		// Ours is already an ancestor of theirs, but --no-ff forces a merge
		// commit anyway: the ancestor for diffing purposes is ours itself.
		ancestorOID = oursCommit
	} else {
		mb, ok, err := store.MergeBase(ctx, oursCommit, theirsCommit)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.WithStack(ErrNoCommonAncestor)
		}
		ancestorOID = mb
	}

	ancestorS, err := repo.Lookup(ctx, store, ancestorOID.String())
	if err != nil {
		return nil, err
	}
	oursS, err := repo.Lookup(ctx, store, oursCommit.String())
	if err != nil {
		return nil, err
	}
	theirsS, err := repo.Lookup(ctx, store, theirsCommit.String())
	if err != nil {
		return nil, err
	}

	dOurs, err := repo.RepoDiff(ctx, store, repo.CommitSpec{Base: ancestorS, Target: oursS}, nil, diff.UnfilteredRepo())
	if err != nil {
		return nil, err
	}
	dTheirs, err := repo.RepoDiff(ctx, store, repo.CommitSpec{Base: ancestorS, Target: theirsS}, nil, diff.UnfilteredRepo())
	if err != nil {
		return nil, err
	}

	combined, conflicts, err := combineRepoDiffs(dOurs, dTheirs)
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Merge branch %q into %s", theirsName, oursName)
	result := &Result{Ancestor: ancestorOID, Ours: oursCommit, Theirs: theirsCommit, Message: message, Conflicts: conflicts}
	if result.HasConflicts() || opts.DryRun {
		return result, nil
	}

	commitOID, err := buildMergeCommit(ctx, store, ancestorS, refname, oursCommit, theirsCommit, message, author, committer, combined)
	if err != nil {
		return nil, err
	}
	result.Commit = commitOID
	return result, nil
}

// Combine applies spec.md §4.5 step 5's `d_ours + d_theirs` combination and
// reports every conflicting PK across every touched dataset. It is exported
// so that a caller resuming a merge after conflicts were resolved out of
// band (the mergestate package's Continue) can recompute the same
// combination rather than duplicating combineRepoDiffs.
func Combine(dOurs, dTheirs diff.RepoDiff) (diff.RepoDiff, []Conflict, error) {
	return combineRepoDiffs(dOurs, dTheirs)
}

// CommitResolved builds and creates the two-parent merge commit from a
// RepoDiff whose conflicts have already been resolved, the way Merge does
// internally once combineRepoDiffs reports none. Used by mergestate.Continue
// once every conflict in a MERGE_INDEX has been resolved.
func CommitResolved(ctx context.Context, store objectstore.Store, refname string, ancestorOID, oursCommit, theirsCommit objectstore.OID, message string, author, committer objectstore.Signature, combined diff.RepoDiff) (objectstore.OID, error) {
	ancestorS, err := repo.Lookup(ctx, store, ancestorOID.String())
	if err != nil {
		return "", err
	}
	return buildMergeCommit(ctx, store, ancestorS, refname, oursCommit, theirsCommit, message, author, committer, combined)
}

// buildMergeCommit seeds an index from the merge ancestor's tree, applies
// combined to every touched dataset, and creates the two-parent merge
// commit (spec.md §4.5 step 6).
func buildMergeCommit(ctx context.Context, store objectstore.Store, ancestorS *repo.Structure, refname string, oursCommit, theirsCommit objectstore.OID, message string, author, committer objectstore.Signature, combined diff.RepoDiff) (objectstore.OID, error) {
	handle, err := store.BuildTreeFrom(ctx, ancestorS.Tree)
	if err != nil {
		return "", err
	}
	for _, path := range combined.Datasets() {
		dd, _ := combined.Dataset(path)
		if dd.IsEmpty() {
			continue
		}
		ds, err := ancestorS.Dataset(ctx, path)
		if err != nil {
			return "", err
		}
		if ds == nil {
			return "", errors.Errorf("merge: dataset %q does not exist at the merge ancestor", path)
		}
		if err := ds.WriteToIndex(ctx, dd, handle); err != nil {
			return "", err
		}
	}
	tree, err := store.WriteTree(ctx, handle)
	if err != nil {
		return "", err
	}
	return store.CreateCommit(ctx, refname, author, committer, message, tree, []objectstore.OID{oursCommit, theirsCommit})
}

// combineRepoDiffs applies spec.md §4.4's `+` operator (diff.ConcatDataset)
// per dataset across the union of paths touched by either side, collecting
// every dataset's conflicting PKs instead of stopping at the first one
// (unlike RepoDiff.Concat, which is built for sequential composition and
// bails at the first conflicting dataset).
func combineRepoDiffs(dOurs, dTheirs diff.RepoDiff) (diff.RepoDiff, []Conflict, error) {
	paths := mapset.NewThreadUnsafeSet[string]()
	for _, p := range dOurs.Datasets() {
		paths.Add(p)
	}
	for _, p := range dTheirs.Datasets() {
		paths.Add(p)
	}

	byPath := map[string]diff.DatasetDiff{}
	var conflicts []Conflict
	for _, path := range paths.ToSlice() {
		ours, oursOK := dOurs.Dataset(path)
		theirs, theirsOK := dTheirs.Dataset(path)
		switch {
		case oursOK && theirsOK:
			combined, pks, err := diff.ConcatDataset(ours, theirs)
			if err != nil {
				return diff.RepoDiff{}, nil, err
			}
			if pks.Cardinality() > 0 {
				for _, pk := range pks.ToSlice() {
					conflicts = append(conflicts, buildConflict(path, pk, ours, theirs))
				}
				continue
			}
			byPath[path] = combined
		case oursOK:
			byPath[path] = ours
		case theirsOK:
			byPath[path] = theirs
		}
	}

	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Dataset != conflicts[j].Dataset {
			return conflicts[i].Dataset < conflicts[j].Dataset
		}
		return conflicts[i].PK < conflicts[j].PK
	})

	return diff.NewFromDatasets(byPath), conflicts, nil
}

func buildConflict(path, pk string, ours, theirs diff.DatasetDiff) Conflict {
	ancestorOurs, newOurs := sideFeatures(ours, pk)
	ancestorTheirs, newTheirs := sideFeatures(theirs, pk)
	ancestor := ancestorOurs
	if ancestor == nil {
		ancestor = ancestorTheirs
	}
	return Conflict{Dataset: path, PK: pk, Ancestor: ancestor, Ours: newOurs, Theirs: newTheirs}
}

// sideFeatures returns the pre-change and post-change feature values a
// DatasetDiff records for pk, or nil for whichever side didn't have it.
func sideFeatures(dd diff.DatasetDiff, pk string) (before, after *value.Feature) {
	if up, ok := dd.U[pk]; ok {
		o, n := up.Old, up.New
		return &o, &n
	}
	if f, ok := dd.D[pk]; ok {
		return &f, nil
	}
	for _, f := range dd.I {
		if f.PK.String() == pk {
			n := f
			return nil, &n
		}
	}
	return nil, nil
}
