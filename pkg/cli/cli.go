package cli

import (
	"context"
	"io"
	"os"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	return run(ctx, argv, os.Stdout)
}

func run(ctx context.Context, argv []string, w io.Writer) *Error {
	cmd := &cli.Command{
		Name:   "meshsim",
		Usage:  "Simulated decentralized network with content addressing and assistant nodes",
		Writer: w,
		Commands: []*cli.Command{
			initCommand(),
			nodesCommand(),
			nodeStatusCommand(),
			sendCommand(),
			historyCommand(),
			contentCommand(),
			queryCommand(),
			chatCommand(),
			servicesCommand(),
			serveCommand(),
			mcpCommand(),
			healthCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// simFlags returns the flags every simulation command accepts
func simFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, storeFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	return flags
}
