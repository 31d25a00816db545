package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/meshsim/pkg/service/mcp"
	"github.com/m-mizutani/meshsim/pkg/usecase/sim"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the simulation as MCP tools over stdio",
		Flags: simFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			return withSimulation(ctx, &cfg, func(ctx context.Context, s *sim.Simulation) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				return mcp.NewServer(s).Run(ctx)
			})
		},
	}
}
