// Package command implements the stratad CLI commands.
package command

import "github.com/hashicorp/cli"

// Meta carries the fields shared by every command.
type Meta struct {
	Ui cli.Ui
}

// Commands returns the command factories keyed by name.
func Commands(meta *Meta) map[string]cli.CommandFactory {
	if meta == nil {
		meta = new(Meta)
	}
	return map[string]cli.CommandFactory{
		"agent": func() (cli.Command, error) {
			return &AgentCommand{Meta: *meta}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{Meta: *meta}, nil
		},
	}
}
