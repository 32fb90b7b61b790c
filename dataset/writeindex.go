package dataset

import (
	"context"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/diff"
	"github.com/craigds/sno/objectstore"
	"github.com/craigds/sno/pathcodec"
	"github.com/craigds/sno/value"
)

// ErrPatchDoesNotApply is returned by WriteToIndex once every delete,
// update, and insert in the diff has been checked and at least one
// conflict was found. errors.Details(err)["conflicts"] carries every
// writeConflict collected across the whole diff (structure.py write_index:
// conflicts are accumulated across all three loops and raised once, as
// InvalidOperation("Patch does not apply", exit_code=PATCH_DOES_NOT_APPLY)).
var ErrPatchDoesNotApply = errors.Base("patch does not apply")

// writeConflict records one delete/update/insert that could not be applied.
type writeConflict struct {
	PK string
	Op string
}

// WriteToIndex applies a dataset diff to handle, a tree-building index
// seeded from the repo's parent commit tree (repo.commit seeds one handle
// per commit and calls WriteToIndex once per changed dataset). Paths staged
// are repo-relative, prefixed with d.Path.
//
// A non-empty dd.Meta fails outright: schema changes are not yet
// implemented as part of a working-copy commit (spec.md §9 Open Questions).
//
// Every delete and update is checked against the dataset's own tree, and
// every insert against handle (its path must not already be staged there);
// conflicting entries are collected rather than raised on first
// sight, so one call reports every entry that doesn't apply, not just the
// first. A conflicting entry is skipped (nothing is staged for it), and if
// any conflicts were found at all, the whole call fails with the
// accumulated list wrapped in ErrPatchDoesNotApply (structure.py
// write_index).
//
// Update conflicts ignore the dataset's geometry column, if any, so that a
// geometry whose WKB encoding was merely re-serialized upstream (same
// shape, different bytes) does not block an unrelated attribute edit
// (spec.md §9).
func (d *Dataset) WriteToIndex(ctx context.Context, dd diff.DatasetDiff, handle objectstore.IndexHandle) error {
	if len(dd.Meta) > 0 {
		return errors.New("WriteToIndex: schema (meta) changes are not supported")
	}

	skipCol := ""
	if d.Schema.HasGeometry() {
		skipCol = d.Schema.GeometryColumn
	}

	var conflicts []writeConflict

	for pk, f := range dd.D {
		ok, err := d.checkDeletePreimage(ctx, f)
		if err != nil {
			return err
		}
		if !ok {
			conflicts = append(conflicts, writeConflict{PK: pk, Op: "delete"})
			continue
		}
		relPath, err := d.codec.EncodePK(f.PK)
		if err != nil {
			return err
		}
		handle.Remove(d.fullPath(relPath))
	}

	for pk, up := range dd.U {
		ok, err := d.checkUpdatePreimage(ctx, up.Old, skipCol)
		if err != nil {
			return err
		}
		if !ok {
			conflicts = append(conflicts, writeConflict{PK: pk, Op: "update"})
			continue
		}

		oldRelPath, err := d.codec.EncodePK(up.Old.PK)
		if err != nil {
			return err
		}
		newRelPath, err := d.codec.EncodePK(up.New.PK)
		if err != nil {
			return err
		}
		oldFullPath, newFullPath := d.fullPath(oldRelPath), d.fullPath(newRelPath)
		if newFullPath != oldFullPath {
			handle.Remove(oldFullPath)
		}

		blob, err := encodeFeature(up.New)
		if err != nil {
			return err
		}
		oid, err := d.store.CreateBlob(ctx, blob)
		if err != nil {
			return err
		}
		handle.Add(newFullPath, oid)
	}

	for _, f := range dd.I {
		relPath, err := d.codec.EncodePK(f.PK)
		if err != nil {
			return err
		}
		fullPath := d.fullPath(relPath)
		if handle.Contains(fullPath) {
			conflicts = append(conflicts, writeConflict{PK: f.PK.String(), Op: "insert"})
			continue
		}
		blob, err := encodeFeature(f)
		if err != nil {
			return err
		}
		oid, err := d.store.CreateBlob(ctx, blob)
		if err != nil {
			return err
		}
		handle.Add(fullPath, oid)
	}

	if len(conflicts) > 0 {
		errE := errors.WithStack(ErrPatchDoesNotApply)
		errors.Details(errE)["dataset"] = d.Path
		errors.Details(errE)["conflicts"] = conflicts
		return errE
	}

	return nil
}

// checkDeletePreimage reports whether expected's path is present in this
// dataset's own tree. Unlike checkUpdatePreimage, it never compares feature
// content: a delete only conflicts on an already-vanished path, not on one
// whose content merely changed underneath it (structure.py write_index's D
// loop: `if feature_path not in index: conflicts = True`).
func (d *Dataset) checkDeletePreimage(ctx context.Context, expected value.Feature) (bool, error) {
	_, ok, err := d.resolveFeaturePath(ctx, expected.PK)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// checkUpdatePreimage reports whether expected's path is present in this
// dataset's own tree AND its current content still matches expected
// (ignoring skipCol). Both absence and content mismatch are conflicts
// (structure.py write_index's U loop).
func (d *Dataset) checkUpdatePreimage(ctx context.Context, expected value.Feature, skipCol string) (bool, error) {
	oid, ok, err := d.resolveFeaturePath(ctx, expected.PK)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	raw, err := d.store.ReadBlob(ctx, oid)
	if err != nil {
		return false, err
	}
	current, err := decodeFeature(raw)
	if err != nil {
		return false, err
	}
	return current.EqualExcept(expected, skipCol), nil
}

// resolveFeaturePath looks up the blob OID this dataset's own tree currently
// holds at pk's encoded path, if any.
func (d *Dataset) resolveFeaturePath(ctx context.Context, pk value.PK) (objectstore.OID, bool, error) {
	relPath, err := d.codec.EncodePK(pk)
	if err != nil {
		return "", false, err
	}
	return d.readRelPath(ctx, strings.TrimPrefix(relPath, pathcodec.TablePrefix+"/"))
}

// fullPath joins the dataset's repo-relative location to a path returned by
// its codec (which is already prefixed with ".sno-table/").
func (d *Dataset) fullPath(codecPath string) string {
	if d.Path == "" {
		return codecPath
	}
	return d.Path + "/" + codecPath
}
