// Command pawl runs an autonomous task loop: it executes the next task with
// a language model, stores the result in a vector memory, derives new tasks
// from it and reprioritizes the queue, until its iteration budget is spent.
package main

import (
	"github.com/alecthomas/kong"
)

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("pawl"),
		kong.Description("Autonomous task loop: execute, remember, create, reprioritize."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
