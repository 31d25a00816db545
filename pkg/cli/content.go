package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/usecase/sim"
	"github.com/urfave/cli/v3"
)

func contentCommand() *cli.Command {
	return &cli.Command{
		Name:  "content",
		Usage: "Operate the content-addressed store",
		Commands: []*cli.Command{
			contentPutCommand(),
			contentGetCommand(),
			contentRemoveCommand(),
			contentListCommand(),
			contentSearchCommand(),
			contentMetaCommand(),
		},
	}
}

func metaFlag(dst *[]string, usage string) cli.Flag {
	return &cli.StringSliceFlag{
		Name:        "meta",
		Aliases:     []string{"m"},
		Usage:       usage,
		Destination: dst,
	}
}

// withSimulation runs fn against a started simulation that is closed afterwards
func withSimulation(ctx context.Context, cfg *config, fn func(ctx context.Context, s *sim.Simulation) error) error {
	ctx = cfg.initLogger(ctx)

	s, _, err := cfg.newSimulation(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, s)
}

func printRecords(w io.Writer, format string, records []*model.ContentRecord) error {
	if records == nil {
		records = []*model.ContentRecord{}
	}
	if done, err := printStructured(w, format, records); done {
		return err
	}
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", rec.CID, rec.Size, rec.Type, rec.Timestamp.Format(time.RFC3339))
	}
	return nil
}

func contentPutCommand() *cli.Command {
	var (
		cfg   config
		file  string
		metas []string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "file",
			Aliases:     []string{"i"},
			Usage:       "Read content from file ('-' for stdin) instead of the argument",
			Destination: &file,
		},
		metaFlag(&metas, "Metadata as key=value, repeatable"),
	}
	flags = append(flags, simFlags(&cfg)...)

	return &cli.Command{
		Name:      "put",
		Usage:     "Store content and print its CID",
		ArgsUsage: "[content]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			meta, err := parseMetadata(metas)
			if err != nil {
				return err
			}

			var data string
			switch {
			case file == "-":
				raw, err := io.ReadAll(os.Stdin)
				if err != nil {
					return goerr.Wrap(err, "failed to read stdin")
				}
				data = string(raw)
			case file != "":
				raw, err := os.ReadFile(file)
				if err != nil {
					return goerr.Wrap(err, "failed to read file", goerr.V("path", file))
				}
				data = string(raw)
			case c.Args().Len() == 1:
				data = c.Args().First()
			default:
				return goerr.New("content put requires one content argument or --file")
			}

			return withSimulation(ctx, &cfg, func(ctx context.Context, s *sim.Simulation) error {
				cid, err := s.Content.Put(ctx, data, meta)
				if err != nil {
					return goerr.Wrap(err, "failed to store content")
				}
				fmt.Fprintf(c.Root().Writer, "%s\n", cid)
				return nil
			})
		},
	}
}

func contentGetCommand() *cli.Command {
	var (
		cfg    config
		format string
	)

	flags := []cli.Flag{formatFlag(&format)}
	flags = append(flags, simFlags(&cfg)...)

	return &cli.Command{
		Name:      "get",
		Usage:     "Print content stored under a CID",
		ArgsUsage: "<cid>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("content get requires <cid>")
			}
			cid := model.CID(c.Args().First())

			return withSimulation(ctx, &cfg, func(ctx context.Context, s *sim.Simulation) error {
				rec, err := s.Content.Record(ctx, cid)
				if err != nil {
					return err
				}

				w := c.Root().Writer
				if done, err := printStructured(w, format, rec); done {
					return err
				}
				fmt.Fprintf(w, "%s\n", rec.Content)
				return nil
			})
		},
	}
}

func contentRemoveCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "rm",
		Usage:     "Delete content stored under a CID",
		ArgsUsage: "<cid>",
		Flags:     simFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("content rm requires <cid>")
			}
			cid := model.CID(c.Args().First())

			return withSimulation(ctx, &cfg, func(ctx context.Context, s *sim.Simulation) error {
				existed, err := s.Content.Delete(ctx, cid)
				if err != nil {
					return goerr.Wrap(err, "failed to delete content")
				}
				if !existed {
					return goerr.Wrap(model.ErrNotFound, "content not found", goerr.V("cid", cid))
				}
				fmt.Fprintf(c.Root().Writer, "deleted %s\n", cid)
				return nil
			})
		},
	}
}

func contentListCommand() *cli.Command {
	var (
		cfg    config
		format string
	)

	flags := []cli.Flag{formatFlag(&format)}
	flags = append(flags, simFlags(&cfg)...)

	return &cli.Command{
		Name:  "ls",
		Usage: "List stored content",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			return withSimulation(ctx, &cfg, func(ctx context.Context, s *sim.Simulation) error {
				return printRecords(c.Root().Writer, format, s.Content.ListAll(ctx))
			})
		},
	}
}

func contentSearchCommand() *cli.Command {
	var (
		cfg    config
		metas  []string
		format string
	)

	flags := []cli.Flag{
		metaFlag(&metas, "Metadata pair every match must contain, repeatable"),
		formatFlag(&format),
	}
	flags = append(flags, simFlags(&cfg)...)

	return &cli.Command{
		Name:  "search",
		Usage: "Find content by metadata",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			query, err := parseMetadata(metas)
			if err != nil {
				return err
			}

			return withSimulation(ctx, &cfg, func(ctx context.Context, s *sim.Simulation) error {
				return printRecords(c.Root().Writer, format, s.Content.Search(ctx, query))
			})
		},
	}
}

func contentMetaCommand() *cli.Command {
	var (
		cfg   config
		metas []string
	)

	flags := []cli.Flag{metaFlag(&metas, "Metadata to merge as key=value, repeatable")}
	flags = append(flags, simFlags(&cfg)...)

	return &cli.Command{
		Name:      "meta",
		Usage:     "Merge metadata into a stored record",
		ArgsUsage: "<cid>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("content meta requires <cid>")
			}
			cid := model.CID(c.Args().First())

			patch, err := parseMetadata(metas)
			if err != nil {
				return err
			}
			if len(patch) == 0 {
				return goerr.New("at least one --meta is required")
			}

			return withSimulation(ctx, &cfg, func(ctx context.Context, s *sim.Simulation) error {
				ok, err := s.Content.UpdateMetadata(ctx, cid, patch)
				if err != nil {
					return goerr.Wrap(err, "failed to update metadata")
				}
				if !ok {
					return goerr.Wrap(model.ErrNotFound, "content not found", goerr.V("cid", cid))
				}
				fmt.Fprintf(c.Root().Writer, "updated %s\n", cid)
				return nil
			})
		},
	}
}
