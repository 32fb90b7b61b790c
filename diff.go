package sno

import (
	"context"
	"fmt"
	"io"
	"os"

	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno/diff"
	"github.com/craigds/sno/repo"
)

// exitCodeDiffPresent is distinct from the usual error exit code so a
// non-empty diff is never confused with a failure (spec.md §6/§7).
const exitCodeDiffPresent = 1

// exitCodeUncategorizedError is used in place of the generic CLI error exit
// code when --exit-code is set: an unexpected error (object-store failure,
// bad commit spec, ...) must exit with a code distinct from both 0 ("diff
// is empty") and exitCodeDiffPresent ("diff is non-empty"), so scripts
// checking `sno diff --exit-code`'s status can't mistake a failure for a
// non-empty diff (spec.md §7 UncategorizedError).
const exitCodeUncategorizedError = 2

// DiffCommand implements `diff [spec] --exit-code`
// (original_source/sno/diff.py's `diff` command).
type DiffCommand struct {
	Spec     string `arg:""  help:"Commit spec: <rev>, <rev>..<rev>, or <rev>...<rev>. Either side of a range, or the whole spec, defaults to HEAD." optional:""`
	ExitCode bool   `help:"Don't print anything; exit 0 if there's no diff, 1 if there is one." name:"exit-code"`
}

// Run computes and prints the repo-wide diff named by c.Spec. With
// --exit-code, any error encountered along the way exits immediately with
// exitCodeUncategorizedError rather than being returned for the generic CLI
// error path, so it can never be mistaken for exitCodeDiffPresent.
func (c *DiffCommand) Run(globals *Globals) errors.E {
	store, err := globals.Store()
	if err != nil {
		if c.ExitCode {
			os.Exit(exitCodeUncategorizedError)
		}
		return err
	}

	ctx := context.Background()
	cs, errE := repo.ParseCommitSpec(ctx, store, c.Spec)
	if errE != nil {
		if c.ExitCode {
			os.Exit(exitCodeUncategorizedError)
		}
		return errE
	}

	rd, errE := repo.RepoDiff(ctx, store, cs, globals.WorkingCopy(), diff.UnfilteredRepo())
	if errE != nil {
		if c.ExitCode {
			os.Exit(exitCodeUncategorizedError)
		}
		return errE
	}

	if c.ExitCode {
		if rd.IsEmpty() {
			os.Exit(0)
		}
		os.Exit(exitCodeDiffPresent)
	}

	printRepoDiff(os.Stdout, rd)
	return nil
}

// printRepoDiff writes a repo-wide diff as a "--- <path> ---" header per
// changed dataset, in sorted path order, followed by one "-" (delete), "~"
// (update) or "+" (insert) line per changed feature.
func printRepoDiff(w io.Writer, rd diff.RepoDiff) {
	for _, path := range rd.Datasets() {
		dd, ok := rd.Dataset(path)
		if !ok || dd.IsEmpty() {
			continue
		}
		fmt.Fprintf(w, "--- %s ---\n", path)
		for _, f := range dd.D {
			fmt.Fprintf(w, "  - %s\n", f.PK.String())
		}
		for pk, up := range dd.U {
			fmt.Fprintf(w, "  ~ %s (was %s)\n", up.New.PK.String(), pk)
		}
		for _, f := range dd.I {
			fmt.Fprintf(w, "  + %s\n", f.PK.String())
		}
	}
}
