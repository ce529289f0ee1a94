package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"

	"github.com/strata-cms/strata/command"
	"github.com/strata-cms/strata/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	c := cli.NewCLI("stratad", version.Version)
	c.Args = args
	c.Commands = command.Commands(&command.Meta{Ui: ui})

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %v\n", err)
		return 1
	}
	return exitCode
}
