// Package mergestate persists the repository-wide merge operation state
// described in spec.md §4.7: the NORMAL/MERGING state machine, the four
// merge-state files (MERGE_HEAD, MERGE_BRANCH, MERGE_MSG, MERGE_INDEX), and
// the --abort/--continue transitions. The merge package computes a merge's
// outcome; this package is what lets that outcome survive a process restart
// while conflicts are resolved one at a time (original_source's
// sno/merge_util.py MergeIndex, exercised end to end by
// original_source/tests/test_merge.py).
package mergestate

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/craigds/sno/merge"
	"github.com/craigds/sno/objectstore"
	"github.com/craigds/sno/value"
)

// State is the repository-wide operation-gating state (spec.md §4.7).
type State int

const (
	// Normal is the default state: checkout is allowed, conflicts/resolve
	// are not.
	Normal State = iota
	// Merging means a merge is in progress with unresolved conflicts:
	// conflicts/resolve are allowed, checkout is not.
	Merging
)

func (s State) String() string {
	if s == Merging {
		return "merging"
	}
	return "normal"
}

const (
	headFile   = "MERGE_HEAD"
	branchFile = "MERGE_BRANCH"
	msgFile    = "MERGE_MSG"
	indexFile  = "MERGE_INDEX"
)

// ErrInvalidOperation is returned when an operation is attempted in the
// wrong repository state (spec.md §4.7's NORMAL/MERGING gating table).
var ErrInvalidOperation = errors.Base("operation not valid in the current repository state")

// ErrUnresolvedConflicts is returned by Continue when the merge index still
// has conflicts without a recorded resolution.
var ErrUnresolvedConflicts = errors.Base("unresolved conflicts remain")

// ErrConflictNotFound is returned by Resolve when no conflict with the given
// ID exists in the merge index.
var ErrConflictNotFound = errors.Base("no such conflict")

// Conflict is one MERGE_INDEX record: a conflict as merge.Merge reported it,
// plus whatever resolution has been recorded for it so far. Resolution is
// nil until Resolve is called for this ID; after that, a nil Resolution
// means "delete the feature", any other value means "keep this feature".
type Conflict struct {
	ID      string `yaml:"id"`
	Dataset string `yaml:"dataset"`
	PK      string `yaml:"pk"`

	Ancestor *value.Feature `yaml:"ancestor,omitempty"`
	Ours     *value.Feature `yaml:"ours,omitempty"`
	Theirs   *value.Feature `yaml:"theirs,omitempty"`

	Resolved   bool           `yaml:"resolved"`
	Resolution *value.Feature `yaml:"resolution,omitempty"`
}

// Index is the full deserialized content of MERGE_INDEX.
type Index struct {
	Conflicts []Conflict `yaml:"conflicts"`
}

// Unresolved returns the conflicts not yet marked Resolved.
func (idx Index) Unresolved() []Conflict {
	var out []Conflict
	for _, c := range idx.Conflicts {
		if !c.Resolved {
			out = append(out, c)
		}
	}
	return out
}

// Dir wraps a repository's state directory (e.g. ".sno", sitting alongside
// the object store), reading and writing the four merge-state files. No
// library in the retrieved pack offers an abstraction better suited to four
// flat, line-oriented state files than the standard library, so this reads
// and writes them directly.
type Dir struct {
	path string
}

// New wraps path, the directory merge-state files are read from and written
// to.
func New(path string) *Dir {
	return &Dir{path: path}
}

func (d *Dir) file(name string) string {
	return filepath.Join(d.path, name)
}

// State reports whether a merge is in progress, based on MERGE_HEAD's
// presence.
func (d *Dir) State() (State, error) {
	_, err := os.Stat(d.file(headFile))
	if err == nil {
		return Merging, nil
	}
	if os.IsNotExist(err) {
		return Normal, nil
	}
	return Normal, errors.WithStack(err)
}

// RequireState fails with ErrInvalidOperation unless the repository is
// currently in want (spec.md §4.7's gating table: checkout requires Normal,
// conflicts/resolve require Merging).
func (d *Dir) RequireState(want State) error {
	got, err := d.State()
	if err != nil {
		return err
	}
	if got != want {
		errE := errors.WithStack(ErrInvalidOperation)
		errors.Details(errE)["want"] = want.String()
		errors.Details(errE)["have"] = got.String()
		return errE
	}
	return nil
}

// Begin persists a conflicted merge's state, transitioning NORMAL->MERGING
// (spec.md §4.7). Each conflict is assigned a stable ID that Resolve later
// addresses it by.
func (d *Dir) Begin(theirs objectstore.OID, theirsBranch, message string, conflicts []merge.Conflict) error {
	if err := os.WriteFile(d.file(headFile), []byte(theirs.String()+"\n"), 0o644); err != nil {
		return errors.WithStack(err)
	}
	if err := os.WriteFile(d.file(branchFile), []byte(theirsBranch+"\n"), 0o644); err != nil {
		return errors.WithStack(err)
	}
	if err := os.WriteFile(d.file(msgFile), []byte(message+"\n"), 0o644); err != nil {
		return errors.WithStack(err)
	}

	idx := Index{Conflicts: make([]Conflict, len(conflicts))}
	for i, c := range conflicts {
		idx.Conflicts[i] = Conflict{
			ID:       uuid.NewString(),
			Dataset:  c.Dataset,
			PK:       c.PK,
			Ancestor: c.Ancestor,
			Ours:     c.Ours,
			Theirs:   c.Theirs,
		}
	}
	return d.WriteIndex(idx)
}

// ReadIndex loads the current MERGE_INDEX.
func (d *Dir) ReadIndex() (Index, error) {
	data, err := os.ReadFile(d.file(indexFile))
	if err != nil {
		return Index{}, errors.WithStack(err)
	}
	var idx Index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return Index{}, errors.WithStack(err)
	}
	return idx, nil
}

// WriteIndex persists idx as the new MERGE_INDEX content.
func (d *Dir) WriteIndex(idx Index) error {
	data, err := yaml.Marshal(idx)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(d.file(indexFile), data, 0o644))
}

// Resolve records resolution as the chosen final value for the conflict
// with the given ID (nil means "delete this feature"). It does not write
// the resolution into the object store; Continue does that for every
// resolved conflict at once.
func (d *Dir) Resolve(id string, resolution *value.Feature) error {
	idx, err := d.ReadIndex()
	if err != nil {
		return err
	}
	found := false
	for i := range idx.Conflicts {
		if idx.Conflicts[i].ID == id {
			idx.Conflicts[i].Resolved = true
			idx.Conflicts[i].Resolution = resolution
			found = true
			break
		}
	}
	if !found {
		errE := errors.WithStack(ErrConflictNotFound)
		errors.Details(errE)["id"] = id
		return errE
	}
	return d.WriteIndex(idx)
}

// TheirsOID reads MERGE_HEAD.
func (d *Dir) TheirsOID() (objectstore.OID, error) {
	data, err := os.ReadFile(d.file(headFile))
	if err != nil {
		return "", errors.WithStack(err)
	}
	return objectstore.OID(strings.TrimSpace(string(data))), nil
}

// TheirsBranch reads MERGE_BRANCH.
func (d *Dir) TheirsBranch() (string, error) {
	data, err := os.ReadFile(d.file(branchFile))
	if err != nil {
		return "", errors.WithStack(err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Message reads MERGE_MSG.
func (d *Dir) Message() (string, error) {
	data, err := os.ReadFile(d.file(msgFile))
	if err != nil {
		return "", errors.WithStack(err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Abort deletes all four merge-state files without committing, transitioning
// MERGING->NORMAL (spec.md §4.7).
func (d *Dir) Abort() error {
	for _, name := range []string{headFile, branchFile, msgFile, indexFile} {
		if err := os.Remove(d.file(name)); err != nil && !os.IsNotExist(err) {
			return errors.WithStack(err)
		}
	}
	return nil
}

// Continue finishes a merge once every conflict in the index has a
// recorded resolution: it recomputes d_ours/d_theirs exactly as Merge did,
// substitutes each conflict's recorded resolution for the raw conflict, and
// creates the merge commit (spec.md §4.5 step 6, §4.7's MERGING --continue->
// NORMAL). oursCommit is the current tip of refname, which must not have
// moved since Begin.
func (d *Dir) Continue(ctx context.Context, store objectstore.Store, refname string, oursCommit objectstore.OID, author, committer objectstore.Signature) (objectstore.OID, error) {
	if err := d.RequireState(Merging); err != nil {
		return "", err
	}

	idx, err := d.ReadIndex()
	if err != nil {
		return "", err
	}
	if unresolved := idx.Unresolved(); len(unresolved) > 0 {
		errE := errors.WithStack(ErrUnresolvedConflicts)
		errors.Details(errE)["count"] = len(unresolved)
		return "", errE
	}

	theirsCommit, err := d.TheirsOID()
	if err != nil {
		return "", err
	}
	message, err := d.Message()
	if err != nil {
		return "", err
	}

	ancestor, ok, err := store.MergeBase(ctx, oursCommit, theirsCommit)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.WithStack(merge.ErrNoCommonAncestor)
	}

	dOurs, err := repoDiff(ctx, store, ancestor, oursCommit)
	if err != nil {
		return "", err
	}
	dTheirs, err := repoDiff(ctx, store, ancestor, theirsCommit)
	if err != nil {
		return "", err
	}

	combined, conflicts, err := merge.Combine(dOurs, dTheirs)
	if err != nil {
		return "", err
	}
	combined, err = applyResolutions(combined, conflicts, idx)
	if err != nil {
		return "", err
	}

	commitOID, err := merge.CommitResolved(ctx, store, refname, ancestor, oursCommit, theirsCommit, message, author, committer, combined)
	if err != nil {
		return "", err
	}

	if err := d.Abort(); err != nil {
		return "", err
	}
	return commitOID, nil
}
