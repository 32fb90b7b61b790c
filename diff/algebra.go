package diff

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/value"
)

// Concat composes two repo diffs end-to-end: `r` happened first, `other`
// second. For a dataset present in only one operand, that operand's diff
// carries through unchanged; for a dataset in both, their per-PK entries are
// combined by addDatasetDiffs. If any dataset's combination yields
// conflicting PKs, Concat fails with ErrConflict (errors.Details carries the
// dataset path and the sorted conflicting PK strings) and returns no value.
func (r RepoDiff) Concat(other RepoDiff) (RepoDiff, error) {
	out := make(map[string]DatasetDiff, len(r.data)+len(other.data))
	for path, dd := range r.data {
		out[path] = dd.Clone()
	}
	for path, odd := range other.data {
		dd, ok := out[path]
		if !ok {
			out[path] = odd.Clone()
			continue
		}
		combined, conflicts, err := addDatasetDiffs(dd, odd)
		if err != nil {
			return RepoDiff{}, err
		}
		if conflicts.Cardinality() > 0 {
			errE := errors.WithStack(ErrConflict)
			errors.Details(errE)["dataset"] = path
			keys := conflicts.ToSlice()
			sort.Strings(keys)
			errors.Details(errE)["pks"] = keys
			return RepoDiff{}, errE
		}
		out[path] = combined
	}
	return RepoDiff{data: out}, nil
}

// ConcatDataset combines two dataset diffs from the same base the way Concat
// does per-dataset, additionally returning the set of conflicting PK
// strings instead of failing at the first one. RepoDiff.Concat stops at the
// first conflicting dataset; a three-way merge needs every dataset's
// conflicts enumerated before reporting, so it calls this directly per
// dataset path instead.
func ConcatDataset(a, b DatasetDiff) (DatasetDiff, mapset.Set[string], error) {
	return addDatasetDiffs(a, b)
}

// addDatasetDiffs implements the per-PK combination table from spec.md
// §4.4: walking a's I/U/D and consuming matching entries from b's I/U/D,
// then appending whatever is left over in b verbatim.
func addDatasetDiffs(a, b DatasetDiff) (DatasetDiff, mapset.Set[string], error) {
	if len(a.Meta) > 0 || len(b.Meta) > 0 {
		return DatasetDiff{}, nil, errMetaNotSupported("concat")
	}

	conflicts := mapset.NewThreadUnsafeSet[string]()

	aIns := make(map[string]value.Feature, len(a.I))
	for _, f := range a.I {
		aIns[f.PK.String()] = f
	}
	aUpd := make(map[string]UpdatePair, len(a.U))
	for k, v := range a.U {
		aUpd[k] = v
	}
	aDel := make(map[string]value.Feature, len(a.D))
	for k, v := range a.D {
		aDel[k] = v
	}

	bIns := make(map[string]value.Feature, len(b.I))
	for _, f := range b.I {
		bIns[f.PK.String()] = f
	}
	bUpd := make(map[string]UpdatePair, len(b.U))
	for k, v := range b.U {
		bUpd[k] = v
	}
	bDel := make(map[string]value.Feature, len(b.D))
	for k, v := range b.D {
		bDel[k] = v
	}

	outIns := map[string]value.Feature{}
	outUpd := map[string]UpdatePair{}
	outDel := map[string]value.Feature{}

	for pk, o := range aIns {
		// ins + ins -> conflict
		// ins + upd -> ins (b's new value)
		// ins + del -> noop (never existed)
		// ins +     -> ins
		if _, ok := bIns[pk]; ok {
			delete(bIns, pk)
			conflicts.Add(pk)
			continue
		}
		if up, ok := bUpd[pk]; ok {
			delete(bUpd, pk)
			outIns[pk] = up.New
			continue
		}
		if _, ok := bDel[pk]; ok {
			delete(bDel, pk)
			continue
		}
		outIns[pk] = o
	}

	for pk, aup := range aUpd {
		// upd + ins -> conflict
		// upd + upd -> conflict if b's pre-image is not a's result and the
		//              two results differ; else upd, or noop if it changed back
		// upd + del -> del (pre-image of a's update)
		// upd +     -> upd
		if _, ok := bIns[pk]; ok {
			delete(bIns, pk)
			conflicts.Add(pk)
			continue
		}
		if bup, ok := bUpd[pk]; ok {
			delete(bUpd, pk)
			if !aup.New.Equal(bup.Old) && !aup.New.Equal(bup.New) {
				conflicts.Add(pk)
				continue
			}
			if !aup.Old.Equal(bup.New) {
				outUpd[pk] = UpdatePair{Old: aup.Old, New: bup.New}
			}
			continue
		}
		if _, ok := bDel[pk]; ok {
			delete(bDel, pk)
			outDel[pk] = aup.Old
			continue
		}
		outUpd[pk] = aup
	}

	for pk, o := range aDel {
		// del + del -> conflict
		// del + upd -> conflict
		// del + ins -> upd, or noop if re-inserted identically
		// del +     -> del
		if _, ok := bDel[pk]; ok {
			delete(bDel, pk)
			conflicts.Add(pk)
			continue
		}
		if _, ok := bUpd[pk]; ok {
			delete(bUpd, pk)
			conflicts.Add(pk)
			continue
		}
		if ins, ok := bIns[pk]; ok {
			delete(bIns, pk)
			if !ins.Equal(o) {
				outUpd[pk] = UpdatePair{Old: o, New: ins}
			}
			continue
		}
		outDel[pk] = o
	}

	if conflicts.Cardinality() > 0 {
		return DatasetDiff{}, conflicts, nil
	}

	// Post-condition: the keys remaining in out* and the leftover b* maps
	// must be pairwise disjoint; a duplicate here means the combination
	// logic above double-counted a PK.
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, m := range []map[string]value.Feature{outIns, outDel, bIns, bDel} {
		for k := range m {
			if seen.Contains(k) {
				return DatasetDiff{}, nil, errors.Errorf("BUG: key %q appears in more than one diff-combination bucket", k)
			}
			seen.Add(k)
		}
	}
	for _, m := range []map[string]UpdatePair{outUpd, bUpd} {
		for k := range m {
			if seen.Contains(k) {
				return DatasetDiff{}, nil, errors.Errorf("BUG: key %q appears in more than one diff-combination bucket", k)
			}
			seen.Add(k)
		}
	}

	for pk, f := range bIns {
		outIns[pk] = f
	}
	for pk, up := range bUpd {
		outUpd[pk] = up
	}
	for pk, f := range bDel {
		outDel[pk] = f
	}

	out := NewDatasetDiff()
	out.U = outUpd
	out.D = outDel
	out.I = make([]value.Feature, 0, len(outIns))
	for _, f := range outIns {
		out.I = append(out.I, f)
	}
	sort.Slice(out.I, func(i, j int) bool { return out.I[i].PK.String() < out.I[j].PK.String() })

	return out, conflicts, nil
}
