package command

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/strata-cms/strata/agent"
)

// AgentCommand boots the runtime and serves until signalled.
type AgentCommand struct {
	Meta

	// ShutdownCh triggers a graceful stop, in addition to SIGINT/SIGTERM.
	// Tests use it; when nil only signals stop the agent.
	ShutdownCh <-chan struct{}
}

func (c *AgentCommand) Help() string {
	helpText := `
Usage: stratad agent [options]

  Starts the runtime agent: loads configuration from the environment,
  discovers plugins, and serves the v1 API until interrupted.

Options:

  -src=<dir>
    Directory holding env.json / env.<id>.json files. Defaults to the
    current directory.
`
	return strings.TrimSpace(helpText)
}

func (c *AgentCommand) Synopsis() string {
	return "Runs the runtime agent"
}

func (c *AgentCommand) Run(args []string) int {
	flags := flag.NewFlagSet("agent", flag.ContinueOnError)
	flags.Usage = func() { c.Ui.Output(c.Help()) }

	var srcDir string
	flags.StringVar(&srcDir, "src", ".", "configuration directory")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	config, err := agent.LoadConfig(srcDir)
	if err != nil {
		// Environment load failure is the one fatal path.
		c.Ui.Error(fmt.Sprintf("Configuration error: %v", err))
		return 1
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "strata",
		Level: config.HCLogLevel(),
	})

	a, err := agent.NewAgent(config, logger)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Agent setup failed: %v", err))
		return 1
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		c.Ui.Error(fmt.Sprintf("Agent start failed: %v", err))
		return 1
	}
	c.Ui.Output(fmt.Sprintf("Strata agent running on port %d", config.Port))

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-signalCh:
		c.Ui.Output(fmt.Sprintf("Caught signal: %v", sig))
	case <-c.shutdownCh():
		c.Ui.Output("Shutdown requested")
	}

	if err := a.Shutdown(ctx); err != nil {
		c.Ui.Error(fmt.Sprintf("Shutdown error: %v", err))
		return 1
	}
	return 0
}

func (c *AgentCommand) shutdownCh() <-chan struct{} {
	if c.ShutdownCh != nil {
		return c.ShutdownCh
	}
	return make(chan struct{})
}
