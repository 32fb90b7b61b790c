package diff

import "gitlab.com/tozd/go/errors"

// ErrMetaNotSupported is returned by any algebraic operator when either
// operand carries a non-empty MetaChange set (spec.md §9: the algebra
// assumes META absent; this is a policy check, not a structural omission).
var ErrMetaNotSupported = errors.Base("metadata changes are not supported in diff algebra")

// ErrDatasetOverlap is returned by Union when both operands touch the same
// dataset path.
var ErrDatasetOverlap = errors.Base("same dataset appears in both diffs")

// ErrConflict is returned by Concat when the per-PK combination rules
// detect a collision. errors.Details(err)["pks"] carries the sorted list of
// conflicting PK strings, and errors.Details(err)["dataset"] the dataset path.
var ErrConflict = errors.Base("conflicting changes")

func errMetaNotSupported(op string) error {
	errE := errors.WithStack(ErrMetaNotSupported)
	errors.Details(errE)["op"] = op
	return errE
}
