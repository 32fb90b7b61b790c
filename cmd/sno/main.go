// Command sno is the command-line interface for the dataset version-control
// engine: diff, status, and merge over commits built on an in-memory object
// store.
package main

import (
	"github.com/alecthomas/kong"
	"gitlab.com/tozd/go/cli"
	"gitlab.com/tozd/go/errors"

	"github.com/craigds/sno"
	"github.com/craigds/sno/objectstore/memstore"
)

func main() {
	var config sno.Config
	cli.Run(&config, kong.Vars{}, func(ctx *kong.Context) errors.E {
		// memstore is the only object store this module ships (spec.md §6
		// treats the object store as an external interface to be injected,
		// not implemented here); a deployment with a persistent backend
		// would inject it the same way, here in the cli.Run callback before
		// ctx.Run.
		config.Globals.UseStore(memstore.New())
		return errors.WithStack(ctx.Run(&config.Globals))
	})
}
