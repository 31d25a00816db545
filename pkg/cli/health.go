package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/urfave/cli/v3"
)

func healthCommand() *cli.Command {
	var (
		cfg    config
		format string
	)

	flags := []cli.Flag{formatFlag(&format)}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "health",
		Usage: "Check that the persistence backend is reachable",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.initLogger(ctx)

			sc, err := loadSimConfig(cfg.simConfigPath)
			if err != nil {
				return err
			}
			repo, err := cfg.newRepository(ctx, sc)
			if err != nil {
				return err
			}
			defer repo.Close()

			h := repo.Health(ctx)

			w := c.Root().Writer
			if done, err := printStructured(w, format, h); done && err != nil {
				return err
			} else if !done {
				fmt.Fprintf(w, "backend:   %s\n", cfg.backend)
				fmt.Fprintf(w, "reachable: %t\n", h.Reachable)
				fmt.Fprintf(w, "degraded:  %t\n", h.Degraded)
				fmt.Fprintf(w, "state:     %s\n", h.State)
			}

			if !h.Reachable && !h.Degraded {
				return goerr.Wrap(model.ErrBackendUnavailable, "backend is unreachable", goerr.V("backend", cfg.backend))
			}
			return nil
		},
	}
}
