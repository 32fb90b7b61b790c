package diff

import mapset "github.com/deckarep/golang-set/v2"

// PKFilter is a predicate over PK strings, used to restrict a dataset diff
// to a subset of rows. The zero value matches nothing; use UnfilteredPKs
// for "accepts all PKs".
type PKFilter struct {
	all bool
	set mapset.Set[string]
}

// UnfilteredPKs returns a filter that accepts every PK (spec.md §4.2 UNFILTERED).
func UnfilteredPKs() PKFilter {
	return PKFilter{all: true}
}

// NewPKFilter returns a filter that accepts exactly the given PK strings.
func NewPKFilter(pks ...string) PKFilter {
	return PKFilter{set: mapset.NewThreadUnsafeSet(pks...)}
}

// Contains reports whether pk passes the filter.
func (f PKFilter) Contains(pk string) bool {
	if f.all {
		return true
	}
	if f.set == nil {
		return false
	}
	return f.set.Contains(pk)
}

// IsUnfiltered reports whether f accepts every PK.
func (f PKFilter) IsUnfiltered() bool {
	return f.all
}

// RepoFilter restricts a repository-wide operation to a subset of datasets,
// each with its own PKFilter.
type RepoFilter struct {
	all       bool
	byDataset map[string]PKFilter
}

// UnfilteredRepo returns a filter that accepts every dataset and every PK.
func UnfilteredRepo() RepoFilter {
	return RepoFilter{all: true}
}

// NewRepoFilter returns a filter restricted to the given per-dataset filters.
// Datasets absent from byDataset are excluded entirely.
func NewRepoFilter(byDataset map[string]PKFilter) RepoFilter {
	return RepoFilter{byDataset: byDataset}
}

// IsUnfiltered reports whether f accepts every dataset.
func (f RepoFilter) IsUnfiltered() bool {
	return f.all
}

// ForDataset returns the PKFilter to apply within the named dataset, and
// whether the dataset is included at all.
func (f RepoFilter) ForDataset(path string) (PKFilter, bool) {
	if f.all {
		return UnfilteredPKs(), true
	}
	pf, ok := f.byDataset[path]
	return pf, ok
}

// Keys returns the dataset paths this filter restricts to. Only meaningful
// when !IsUnfiltered.
func (f RepoFilter) Keys() mapset.Set[string] {
	s := mapset.NewThreadUnsafeSet[string]()
	for path := range f.byDataset {
		s.Add(path)
	}
	return s
}
