package command

import (
	"fmt"

	"github.com/strata-cms/strata/version"
)

// VersionCommand prints the runtime version.
type VersionCommand struct {
	Meta
}

func (c *VersionCommand) Help() string {
	return "Usage: stratad version"
}

func (c *VersionCommand) Synopsis() string {
	return "Prints the runtime version"
}

func (c *VersionCommand) Run(_ []string) int {
	c.Ui.Output(fmt.Sprintf("Strata v%s", version.Version))
	return 0
}
