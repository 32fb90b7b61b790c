// Package diff implements the structured feature-level diff value and its
// algebra (union, concatenation, inversion) described in spec.md §4.4, plus
// the PK/dataset filters consumed by the dataset and repo layers.
package diff

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/craigds/sno/value"
)

// MetaChange is a schema metadata change. Union, Concat and Invert fail with
// ErrMetaNotSupported if any operand's Meta map is non-empty, as a runtime
// policy check rather than a structural omission; Len and equality count
// and compare Meta entries like any others.
type MetaChange struct {
	Old, New []byte
}

// UpdatePair is an (old, new) feature pair recorded under a single dataset
// diff's U map, keyed by the old feature's PK string.
type UpdatePair struct {
	Old, New value.Feature
}

// DatasetDiff is the per-dataset diff value from spec.md §3: inserts,
// updates (keyed by the pre-image PK string), deletes (keyed by PK string),
// and meta changes (keyed by meta item name).
type DatasetDiff struct {
	Meta map[string]MetaChange
	I    []value.Feature
	U    map[string]UpdatePair
	D    map[string]value.Feature
}

// NewDatasetDiff returns an empty DatasetDiff with initialized maps.
func NewDatasetDiff() DatasetDiff {
	return DatasetDiff{
		Meta: map[string]MetaChange{},
		U:    map[string]UpdatePair{},
		D:    map[string]value.Feature{},
	}
}

// Len returns the cardinality |I| + |U| + |D| + |META|.
func (d DatasetDiff) Len() int {
	return len(d.Meta) + len(d.I) + len(d.U) + len(d.D)
}

// IsEmpty reports whether the dataset diff has zero entries.
func (d DatasetDiff) IsEmpty() bool {
	return d.Len() == 0
}

// Clone deep-copies a DatasetDiff so algebraic operators never mutate an
// operand.
func (d DatasetDiff) Clone() DatasetDiff {
	out := NewDatasetDiff()
	for k, v := range d.Meta {
		out.Meta[k] = v
	}
	out.I = make([]value.Feature, len(d.I))
	for i, f := range d.I {
		out.I[i] = f.Clone()
	}
	for k, up := range d.U {
		out.U[k] = UpdatePair{Old: up.Old.Clone(), New: up.New.Clone()}
	}
	for k, f := range d.D {
		out.D[k] = f.Clone()
	}
	return out
}

// pks returns the set of PK strings touched by this dataset diff: both
// sides of every insert/update/delete.
func (d DatasetDiff) pks() mapset.Set[string] {
	s := mapset.NewThreadUnsafeSet[string]()
	for _, f := range d.I {
		s.Add(f.PK.String())
	}
	for k, up := range d.U {
		s.Add(k)
		s.Add(up.New.PK.String())
	}
	for k := range d.D {
		s.Add(k)
	}
	return s
}

// sortedInserts returns I sorted by PK string, used for display and for
// diff equality (insertion order is not semantically meaningful).
func (d DatasetDiff) sortedInserts() []value.Feature {
	out := make([]value.Feature, len(d.I))
	copy(out, d.I)
	sort.Slice(out, func(i, j int) bool { return out[i].PK.String() < out[j].PK.String() })
	return out
}

// equal compares two dataset diffs structurally, ignoring I's insertion
// order (spec.md §4.4 Equality).
func (d DatasetDiff) equal(other DatasetDiff) bool {
	if len(d.Meta) != len(other.Meta) || len(d.U) != len(other.U) || len(d.D) != len(other.D) || len(d.I) != len(other.I) {
		return false
	}
	for k, v := range d.Meta {
		ov, ok := other.Meta[k]
		if !ok || string(v.Old) != string(ov.Old) || string(v.New) != string(ov.New) {
			return false
		}
	}
	mine := d.sortedInserts()
	theirs := other.sortedInserts()
	for i := range mine {
		if !mine[i].PK.Equal(theirs[i].PK) || !mine[i].Equal(theirs[i]) {
			return false
		}
	}
	for k, up := range d.U {
		oup, ok := other.U[k]
		if !ok || !up.Old.Equal(oup.Old) || !up.New.Equal(oup.New) || !up.Old.PK.Equal(oup.Old.PK) || !up.New.PK.Equal(oup.New.PK) {
			return false
		}
	}
	for k, f := range d.D {
		of, ok := other.D[k]
		if !ok || !f.Equal(of) {
			return false
		}
	}
	return true
}

// invert returns the inverse of a single dataset diff: deletes become
// inserts, inserts become deletes (re-keyed by their own PK), and update
// pairs swap old/new.
func (d DatasetDiff) invert() (DatasetDiff, error) {
	if len(d.Meta) > 0 {
		return DatasetDiff{}, errMetaNotSupported("invert")
	}
	out := NewDatasetDiff()
	for _, f := range d.D {
		out.I = append(out.I, f)
	}
	for _, f := range d.I {
		out.D[f.PK.String()] = f
	}
	for k, up := range d.U {
		out.U[k] = UpdatePair{Old: up.New, New: up.Old}
	}
	return out, nil
}
