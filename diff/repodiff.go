package diff

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"gitlab.com/tozd/go/errors"
)

// RepoDiff is a map from dataset path to per-dataset diff (spec.md §3).
// Datasets with an empty per-dataset diff may be, but need not be, absent.
type RepoDiff struct {
	data map[string]DatasetDiff
}

// NewRepoDiff returns an empty RepoDiff.
func NewRepoDiff() RepoDiff {
	return RepoDiff{data: map[string]DatasetDiff{}}
}

// NewFromDataset seeds a RepoDiff with a single dataset's diff.
func NewFromDataset(path string, dd DatasetDiff) RepoDiff {
	return RepoDiff{data: map[string]DatasetDiff{path: dd}}
}

// NewFromDatasets seeds a RepoDiff from a set of per-dataset diffs in one
// step, equivalent to repeated NewFromDataset+Union but without the
// quadratic overlap checks (the map's keys are unique by construction). Used
// by repo-wide diff composition over the union of two commits' dataset sets.
func NewFromDatasets(byPath map[string]DatasetDiff) RepoDiff {
	out := make(map[string]DatasetDiff, len(byPath))
	for path, dd := range byPath {
		out[path] = dd
	}
	return RepoDiff{data: out}
}

// Dataset returns the diff recorded for path, if any.
func (r RepoDiff) Dataset(path string) (DatasetDiff, bool) {
	dd, ok := r.data[path]
	return dd, ok
}

// Datasets returns the dataset paths touched by this diff, sorted (callers
// that need deterministic repository-diff order sort by path; spec.md §5).
func (r RepoDiff) Datasets() []string {
	paths := make([]string, 0, len(r.data))
	for p := range r.data {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the total cardinality across all datasets.
func (r RepoDiff) Len() int {
	total := 0
	for _, dd := range r.data {
		total += dd.Len()
	}
	return total
}

// IsEmpty reports whether every dataset diff is empty.
func (r RepoDiff) IsEmpty() bool {
	return r.Len() == 0
}

// clone returns a RepoDiff with its own map and deep-copied dataset diffs.
func (r RepoDiff) clone() RepoDiff {
	out := make(map[string]DatasetDiff, len(r.data))
	for path, dd := range r.data {
		out[path] = dd.Clone()
	}
	return RepoDiff{data: out}
}

// Union combines two diffs covering disjoint dataset sets. It fails with
// ErrMetaNotSupported if either operand carries meta changes, and with
// ErrDatasetOverlap if any dataset path appears in both operands.
func (r RepoDiff) Union(other RepoDiff) (RepoDiff, error) {
	for _, operand := range []RepoDiff{r, other} {
		for _, dd := range operand.data {
			if len(dd.Meta) > 0 {
				return RepoDiff{}, errMetaNotSupported("union")
			}
		}
	}

	overlap := mapset.NewThreadUnsafeSet[string]()
	for path := range r.data {
		if _, ok := other.data[path]; ok {
			overlap.Add(path)
		}
	}
	if overlap.Cardinality() > 0 {
		errE := errors.WithStack(ErrDatasetOverlap)
		errors.Details(errE)["datasets"] = overlap.ToSlice()
		return RepoDiff{}, errE
	}

	out := r.clone()
	for path, dd := range other.data {
		out.data[path] = dd.Clone()
	}
	return out, nil
}

// Invert returns the reverse of every per-dataset diff.
func (r RepoDiff) Invert() (RepoDiff, error) {
	out := make(map[string]DatasetDiff, len(r.data))
	for path, dd := range r.data {
		inv, err := dd.invert()
		if err != nil {
			return RepoDiff{}, err
		}
		out[path] = inv
	}
	return RepoDiff{data: out}, nil
}

// Equal compares two repo diffs structurally.
func (r RepoDiff) Equal(other RepoDiff) bool {
	if len(r.data) != len(other.data) {
		return false
	}
	for path, dd := range r.data {
		odd, ok := other.data[path]
		if !ok || !dd.equal(odd) {
			return false
		}
	}
	return true
}

// ToFilter returns, for each touched dataset, the set of PK strings
// affected by that dataset's diff (spec.md §4.4 Projection).
func (r RepoDiff) ToFilter() map[string]mapset.Set[string] {
	out := make(map[string]mapset.Set[string], len(r.data))
	for path, dd := range r.data {
		out[path] = dd.pks()
	}
	return out
}
