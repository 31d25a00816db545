package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/usecase/bus"
	"github.com/urfave/cli/v3"
)

func sendCommand() *cli.Command {
	var (
		cfg     config
		from    string
		to      string
		msgType string
		content string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "from",
			Usage:       "Sender node ID",
			Destination: &from,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "to",
			Usage:       "Receiver node ID",
			Destination: &to,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "type",
			Aliases:     []string{"t"},
			Usage:       "Message type (query, response, storage, retrieval)",
			Value:       string(model.MessageTypeQuery),
			Destination: &msgType,
		},
		&cli.StringFlag{
			Name:        "content",
			Usage:       "Message payload",
			Destination: &content,
		},
	}
	flags = append(flags, simFlags(&cfg)...)

	return &cli.Command{
		Name:  "send",
		Usage: "Send a message between two nodes and wait for delivery",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.initLogger(ctx)

			s, _, err := cfg.newSimulation(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			start := time.Now()
			id, err := s.Bus.Send(ctx, model.NodeID(from), model.NodeID(to), model.MessageType(msgType), content)
			if err != nil {
				return goerr.Wrap(err, "failed to send message")
			}

			fmt.Fprintf(c.Root().Writer, "%s delivered in %s\n", id, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	var (
		cfg    config
		limit  int64
		format string
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of messages to show",
			Value:       bus.DefaultHistoryLimit,
			Destination: &limit,
		},
		formatFlag(&format),
	}
	flags = append(flags, simFlags(&cfg)...)

	return &cli.Command{
		Name:  "history",
		Usage: "Show persisted messages, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.initLogger(ctx)

			s, _, err := cfg.newSimulation(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			msgs := s.Bus.History(ctx, int(limit))

			w := c.Root().Writer
			if done, err := printStructured(w, format, msgs); done {
				return err
			}

			for _, m := range msgs {
				state := "pending"
				if m.Delivered {
					state = "delivered"
				}
				fmt.Fprintf(w, "%s\t%s\t%s -> %s\t%s\t%s\n",
					m.Timestamp.Format(time.RFC3339), m.Type, m.From, m.To, state, m.Content)
			}
			return nil
		},
	}
}
