package sno

import (
	"context"
	"fmt"
	"os"
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/merge"
	"github.com/craigds/sno/mergestate"
	"github.com/craigds/sno/objectstore"
)

// MergeCommand implements `merge <ref> [--ff | --ff-only | --no-ff]
// [--dry-run]`, `merge --abort`, and `merge --continue` (spec.md §6).
type MergeCommand struct {
	Ref string `arg:"" help:"Branch or commit to merge into the current branch." optional:""`

	FF       bool `help:"Fast-forward when possible, otherwise create a merge commit (default)." group:"fast-forward" xor:"ff"`
	FFOnly   bool `help:"Refuse to merge unless it can be resolved as a fast-forward." name:"ff-only" group:"fast-forward" xor:"ff"`
	NoFF     bool `help:"Always create a merge commit, even when a fast-forward is possible." name:"no-ff" group:"fast-forward" xor:"ff"`
	DryRun   bool `help:"Report the merge's outcome without changing any ref or commit." name:"dry-run"`
	Abort    bool `help:"Abandon the merge currently in progress." xor:"action"`
	Continue bool `help:"Resume the merge currently in progress once every conflict is resolved." xor:"action"`
}

func (c *MergeCommand) mode() merge.FastForwardMode {
	switch {
	case c.FFOnly:
		return merge.FFOnly
	case c.NoFF:
		return merge.FFNever
	default:
		return merge.FFAllowed
	}
}

// Run dispatches to --abort, --continue, or a fresh merge attempt.
func (c *MergeCommand) Run(globals *Globals) errors.E {
	dir := mergestate.New(globals.Repo)

	if c.Abort {
		return dir.Abort()
	}

	store, err := globals.Store()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sig := objectstoreSignature()

	if c.Continue {
		branch, errE := store.CurrentBranch(ctx)
		if errE != nil {
			return errE
		}
		ours, ok, errE := store.ResolveRef(ctx, branch)
		if errE != nil {
			return errE
		}
		if !ok {
			return errors.Errorf("merge --continue: branch %q has no commits", branch)
		}
		commitOID, errE := dir.Continue(ctx, store, branch, ours, sig, sig)
		if errE != nil {
			return errE
		}
		fmt.Fprintf(os.Stdout, "Merge commit %s created.\n", commitOID)
		return nil
	}

	if err := dir.RequireState(mergestate.Normal); err != nil {
		return err
	}

	branch, errE := store.CurrentBranch(ctx)
	if errE != nil {
		return errE
	}
	ours, ok, errE := store.ResolveRef(ctx, branch)
	if errE != nil {
		return errE
	}
	if !ok {
		return errors.Errorf("merge: branch %q has no commits", branch)
	}

	_, theirs, errE := store.Resolve(ctx, c.Ref)
	if errE != nil {
		return errE
	}

	result, errE := merge.Merge(ctx, store, branch, ours, theirs, branch, c.Ref, sig, sig, merge.Options{FastForward: c.mode(), DryRun: c.DryRun})
	if errE != nil {
		return errE
	}

	switch {
	case result.AlreadyUpToDate:
		fmt.Fprintln(os.Stdout, "Already up to date.")
		return nil
	case result.FastForward:
		if c.DryRun {
			fmt.Fprintf(os.Stdout, "Would fast-forward to %s.\n", result.Commit)
			return nil
		}
		fmt.Fprintf(os.Stdout, "Fast-forwarded %s to %s.\n", branch, result.Commit)
		return nil
	case result.HasConflicts():
		if !c.DryRun {
			if err := dir.Begin(theirs, c.Ref, result.Message, result.Conflicts); err != nil {
				return err
			}
		}
		fmt.Fprintf(os.Stdout, "Merge has %d conflict(s); resolve them and run `sno merge --continue`.\n", len(result.Conflicts))
		for dataset, byLabel := range result.FeatureConflictCounts() {
			for label, n := range byLabel {
				fmt.Fprintf(os.Stdout, "  %s: %s %d\n", dataset, label, n)
			}
		}
		return nil
	case c.DryRun:
		fmt.Fprintln(os.Stdout, "Would create a merge commit.")
		return nil
	default:
		fmt.Fprintf(os.Stdout, "Merge commit %s created.\n", result.Commit)
		return nil
	}
}

// objectstoreSignature builds the author/committer signature merge commits
// are created with, sourced from the SNO_AUTHOR_NAME and SNO_AUTHOR_EMAIL
// environment variables (defaulting to "sno" and "sno@localhost") so
// scripted usage needs no extra flags.
func objectstoreSignature() objectstore.Signature {
	name := os.Getenv("SNO_AUTHOR_NAME")
	if name == "" {
		name = "sno"
	}
	email := os.Getenv("SNO_AUTHOR_EMAIL")
	if email == "" {
		email = "sno@localhost"
	}
	return objectstore.Signature{Name: name, Email: email, When: time.Now()}
}
