package value

// Feature is an ordered mapping from column name to value: a single row.
// Column order is carried for stable re-encoding; equality and diffing never
// depend on it.
type Feature struct {
	PK      PK
	Columns []string
	Values  map[string]Value
}

// NewFeature builds a Feature from an explicit column order and value map.
func NewFeature(pk PK, columns []string, values map[string]Value) Feature {
	return Feature{PK: pk, Columns: columns, Values: values}
}

// Get returns the value of the named column, or an explicit Null if the
// column is absent.
func (f Feature) Get(column string) Value {
	v, ok := f.Values[column]
	if !ok {
		return NullValue()
	}
	return v
}

// Equal reports whether two features have identical column values. Two
// features with different PKs can still be Equal by this definition; callers
// that care about identity compare PK separately.
func (f Feature) Equal(other Feature) bool {
	return f.equalExcept(other, "")
}

// EqualExcept reports feature equality while ignoring the named column. This
// is used by dataset write-conflict detection to sidestep geometry
// comparison (spec.md §9 Open Questions), not to relax PK or other columns.
func (f Feature) EqualExcept(other Feature, column string) bool {
	return f.equalExcept(other, column)
}

func (f Feature) equalExcept(other Feature, skip string) bool {
	seen := make(map[string]bool, len(f.Values)+len(other.Values))
	for col, v := range f.Values {
		if col == skip {
			continue
		}
		seen[col] = true
		if !v.Equal(other.Get(col)) {
			return false
		}
	}
	for col := range other.Values {
		if col == skip || seen[col] {
			continue
		}
		if !f.Get(col).Equal(other.Values[col]) {
			return false
		}
	}
	return true
}

// Clone returns a shallow copy of the feature with its own Values map.
func (f Feature) Clone() Feature {
	values := make(map[string]Value, len(f.Values))
	for k, v := range f.Values {
		values[k] = v
	}
	columns := make([]string, len(f.Columns))
	copy(columns, f.Columns)
	return Feature{PK: f.PK, Columns: columns, Values: values}
}
