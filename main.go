// Command quark is the command-line interface to the quark kernel simulator.
package main

import (
	"context"
	"os"

	"github.com/quark-os/quark/internal/cli"
	"github.com/quark-os/quark/internal/cli/cmd"
)

var (
	commands = []cli.Command{
		cmd.Demo(),
	}
)

// Entry point.
func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
