package sno

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/diff"
	"github.com/craigds/sno/mergestate"
	"github.com/craigds/sno/objectstore"
	"github.com/craigds/sno/repo"
)

// StatusCommand implements `status` (original_source/sno/status.py),
// reporting the current branch/commit and either the working copy's diff
// against it or, during a merge, the unresolved-conflict count.
type StatusCommand struct{}

// Run prints the current branch's status.
func (c *StatusCommand) Run(globals *Globals) errors.E {
	store, err := globals.Store()
	if err != nil {
		return err
	}
	ctx := context.Background()

	branch, errE := store.CurrentBranch(ctx)
	if errE != nil {
		return errE
	}
	head, ok, errE := store.ResolveRef(ctx, branch)
	if errE != nil {
		return errE
	}
	if !ok {
		fmt.Fprintln(os.Stdout, "Empty repository.")
		return nil
	}
	fmt.Fprintf(os.Stdout, "On branch %s\n", branch)

	if errE := printUpstreamStatus(ctx, store, branch, head); errE != nil {
		return errE
	}

	dir := mergestate.New(globals.Repo)
	state, errE := dir.State()
	if errE != nil {
		return errE
	}
	if state == mergestate.Merging {
		return printMergeStatus(dir)
	}

	headS, errE := repo.Lookup(ctx, store, "HEAD")
	if errE != nil {
		return errE
	}

	wc := globals.WorkingCopy()
	if wc == nil {
		fmt.Fprintln(os.Stdout, "No working copy")
		return nil
	}

	cs := repo.CommitSpec{Base: headS, Target: headS, ComposeWorkingCopy: true}
	wcDiff, errE := repo.RepoDiff(ctx, store, cs, wc, diff.UnfilteredRepo())
	if errE != nil {
		return errE
	}
	if wcDiff.IsEmpty() {
		fmt.Fprintln(os.Stdout, "Nothing to commit, working copy clean")
		return nil
	}

	fmt.Fprintln(os.Stdout, "Changes in working copy:")
	printRepoDiff(os.Stdout, wcDiff)
	return nil
}

// printUpstreamStatus reports how branch's head compares to its upstream
// tracking ref on DefaultRemote, counts only, no network fetch
// (original_source/sno/status.py get_branch_status_json/
// upstream_status_to_text). It prints nothing if the branch has no
// corresponding ref on DefaultRemote.
func printUpstreamStatus(ctx context.Context, store objectstore.Store, branch string, head objectstore.OID) errors.E {
	shortName := strings.TrimPrefix(branch, "refs/heads/")
	upstreamRef := "refs/remotes/" + DefaultRemote + "/" + shortName
	upstream, ok, errE := store.ResolveRef(ctx, upstreamRef)
	if errE != nil {
		return errE
	}
	if !ok {
		return nil
	}

	ahead, behind, errE := aheadBehind(ctx, store, head, upstream)
	if errE != nil {
		return errE
	}

	switch {
	case ahead == 0 && behind == 0:
		fmt.Fprintf(os.Stdout, "Your branch is up to date with '%s'.\n", upstreamRef)
	case ahead > 0 && behind > 0:
		fmt.Fprintf(os.Stdout,
			"Your branch and '%s' have diverged,\nand have %d and %d different commits each, respectively.\n",
			upstreamRef, ahead, behind)
	case ahead > 0:
		fmt.Fprintf(os.Stdout, "Your branch is ahead of '%s' by %d commit(s).\n", upstreamRef, ahead)
	case behind > 0:
		fmt.Fprintf(os.Stdout, "Your branch is behind '%s' by %d commit(s), and can be fast-forwarded.\n", upstreamRef, behind)
	}
	return nil
}

// aheadBehind counts the commits reachable only from head and only from
// upstream, the same pair pygit2's Repository.ahead_behind returns
// (original_source/sno/status.py). Shared history before their merge-base
// appears in both ancestor sets and cancels out of the counts without
// needing to locate the merge-base explicitly.
func aheadBehind(ctx context.Context, store objectstore.Store, head, upstream objectstore.OID) (int, int, errors.E) {
	headAncestors, errE := ancestors(ctx, store, head)
	if errE != nil {
		return 0, 0, errE
	}
	upstreamAncestors, errE := ancestors(ctx, store, upstream)
	if errE != nil {
		return 0, 0, errE
	}

	ahead := 0
	for oid := range headAncestors {
		if _, ok := upstreamAncestors[oid]; !ok {
			ahead++
		}
	}
	behind := 0
	for oid := range upstreamAncestors {
		if _, ok := headAncestors[oid]; !ok {
			behind++
		}
	}
	return ahead, behind, nil
}

// ancestors returns the set of commit OIDs reachable from head, head
// included, via a breadth-first walk of Commit.Parents.
func ancestors(ctx context.Context, store objectstore.Store, head objectstore.OID) (map[objectstore.OID]struct{}, errors.E) {
	seen := map[objectstore.OID]struct{}{}
	if head.IsZero() {
		return seen, nil
	}
	queue := []objectstore.OID{head}
	for len(queue) > 0 {
		oid := queue[0]
		queue = queue[1:]
		if _, ok := seen[oid]; ok {
			continue
		}
		seen[oid] = struct{}{}
		c, errE := store.ReadCommit(ctx, oid)
		if errE != nil {
			return nil, errE
		}
		queue = append(queue, c.Parents...)
	}
	return seen, nil
}

// printMergeStatus reports an in-progress merge's outstanding conflicts
// (original_source/sno/status.py merge_status_to_text).
func printMergeStatus(dir *mergestate.Dir) errors.E {
	branch, err := dir.TheirsBranch()
	if err != nil {
		return err
	}
	idx, err := dir.ReadIndex()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Merging with %s\n", branch)
	unresolved := len(idx.Unresolved())
	if unresolved == 0 {
		fmt.Fprintln(os.Stdout, "All conflicts resolved; run `sno merge --continue`")
		return nil
	}
	fmt.Fprintf(os.Stdout, "%d conflict(s) remaining; resolve them, then run `sno merge --continue`\n", unresolved)
	return nil
}
