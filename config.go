// Package sno is the command-line frontend over the dataset/diff/repo/merge
// core: it wires kong's flag parsing to one Run method per command and
// leaves the object store and working copy as injected dependencies, the
// same way the core packages themselves only ever consume those two
// interfaces rather than implement them (spec.md §6).
package sno

import (
	"github.com/alecthomas/kong"
	"gitlab.com/tozd/go/cli"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/zerolog"

	"github.com/craigds/sno/objectstore"
	"github.com/craigds/sno/workingcopy"
)

// DefaultRemote is the conventional name for a repository's primary remote.
const DefaultRemote = "origin"

// ErrNoStore is returned by Globals.Store when no object store has been
// injected via UseStore.
var ErrNoStore = errors.Base("no object store configured for this repository")

// Globals describes top-level (global) flags common to every command.
//
//nolint:lll
type Globals struct {
	zerolog.LoggingConfig `yaml:",inline"`

	Version kong.VersionFlag `help:"Show program's version and exit."                               short:"V" yaml:"-"`
	Config  cli.ConfigFlag   `help:"Load configuration from a JSON or YAML file." name:"config" placeholder:"PATH" short:"c" yaml:"-"`

	Repo string `default:"." help:"Path to the repository's control directory, used to locate merge-state files." placeholder:"PATH" short:"R" type:"path" yaml:"repo"`

	store objectstore.Store
	wc    workingcopy.WorkingCopy
}

// UseStore injects the object store commands run against. It must be called
// before Run; kong never touches this field, since it has no exported name.
func (g *Globals) UseStore(store objectstore.Store) {
	g.store = store
}

// UseWorkingCopy injects the working copy adapter diff/status compose
// against. With a nil working copy, diff reports the commit-only diff and
// status prints "No working copy" instead of a working-copy diff.
func (g *Globals) UseWorkingCopy(wc workingcopy.WorkingCopy) {
	g.wc = wc
}

// Store returns the injected object store, or ErrNoStore if none was set.
func (g *Globals) Store() (objectstore.Store, error) {
	if g.store == nil {
		return nil, errors.WithStack(ErrNoStore)
	}
	return g.store, nil
}

// WorkingCopy returns the injected working copy adapter, which may be nil.
func (g *Globals) WorkingCopy() workingcopy.WorkingCopy {
	return g.wc
}

// Config provides configuration. It is used as configuration for Kong's
// command-line parser as well.
type Config struct {
	Globals `yaml:"globals"`

	Diff   DiffCommand   `cmd:""                    help:"Show changes between commits, or a commit and the working copy." yaml:"diff"`
	Status StatusCommand `cmd:"" default:"withargs" help:"Show the working copy's status relative to HEAD."               yaml:"status"`
	Merge  MergeCommand  `cmd:""                    help:"Merge another commit into the current branch."                  yaml:"merge"`
}
