package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/urfave/cli/v3"
)

func initCommand() *cli.Command {
	var (
		cfg   config
		force bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "force",
			Usage:       "Clear all persisted state and build a fresh network",
			Destination: &force,
		},
	}
	flags = append(flags, simFlags(&cfg)...)

	return &cli.Command{
		Name:  "init",
		Usage: "Initialize the network, or load it when already persisted",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.initLogger(ctx)

			s, _, err := cfg.newSimulation(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			nodes := s.Network.Nodes()
			if force {
				if nodes, err = s.Reset(ctx); err != nil {
					return goerr.Wrap(err, "failed to reset simulation")
				}
			}

			counts := make(map[model.NodeType]int)
			active := 0
			for _, n := range nodes {
				counts[n.Type]++
				if n.Active {
					active++
				}
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "network ready: %d nodes (%d active)\n", len(nodes), active)
			for _, t := range []model.NodeType{model.NodeTypeAssistant, model.NodeTypeContentStore, model.NodeTypeStandard} {
				fmt.Fprintf(w, "  %-14s %d\n", t, counts[t])
			}
			return nil
		},
	}
}

func nodesCommand() *cli.Command {
	var (
		cfg        config
		activeOnly bool
		format     string
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "active",
			Aliases:     []string{"a"},
			Usage:       "List only active nodes",
			Destination: &activeOnly,
		},
		formatFlag(&format),
	}
	flags = append(flags, simFlags(&cfg)...)

	return &cli.Command{
		Name:  "nodes",
		Usage: "List network nodes",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.initLogger(ctx)

			s, _, err := cfg.newSimulation(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			nodes := s.Network.Nodes()
			if activeOnly {
				nodes = s.Network.ActiveNodes()
			}

			w := c.Root().Writer
			if done, err := printStructured(w, format, nodes); done {
				return err
			}

			for _, n := range nodes {
				status := "active"
				if !n.Active {
					status = "inactive"
				}
				neighbors := make([]string, len(n.Neighbors))
				for i, id := range n.Neighbors {
					neighbors[i] = string(id)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.ID, n.Type, status, strings.Join(neighbors, ","))
			}
			return nil
		},
	}
}

func nodeStatusCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "node-status",
		Usage:     "Activate or deactivate a node",
		ArgsUsage: "<node-id> <active|inactive>",
		Flags:     simFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.initLogger(ctx)

			if c.Args().Len() != 2 {
				return goerr.New("node-status requires <node-id> <active|inactive>")
			}
			id := model.NodeID(c.Args().Get(0))

			var active bool
			switch c.Args().Get(1) {
			case "active":
				active = true
			case "inactive":
				active = false
			default:
				return goerr.New("status must be active or inactive", goerr.V("status", c.Args().Get(1)))
			}

			s, _, err := cfg.newSimulation(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			node, err := s.Network.UpdateNodeStatus(ctx, id, active)
			if err != nil {
				return goerr.Wrap(err, "failed to update node status", goerr.V("node_id", id))
			}
			if node == nil {
				return goerr.Wrap(model.ErrNotFound, "node not found", goerr.V("node_id", id))
			}

			fmt.Fprintf(c.Root().Writer, "%s is now %s\n", node.ID, c.Args().Get(1))
			return nil
		},
	}
}
