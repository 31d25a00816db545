package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/usecase/query"
	"github.com/m-mizutani/meshsim/pkg/usecase/sim"
	"github.com/urfave/cli/v3"
)

func printResult(w io.Writer, result *query.Result) {
	path := make([]string, len(result.ProcessingPath))
	for i, id := range result.ProcessingPath {
		path[i] = string(id)
	}

	fmt.Fprintf(w, "%s\n\n", result.Response)
	fmt.Fprintf(w, "query:    %s\n", result.QueryCID)
	fmt.Fprintf(w, "response: %s\n", result.ResponseCID)
	fmt.Fprintf(w, "path:     %s\n", strings.Join(path, " -> "))
	fmt.Fprintf(w, "time:     %s\n", result.ProcessingTime.Round(time.Millisecond))
}

// processWithSpinner runs a query while showing progress on stderr
func processWithSpinner(ctx context.Context, s *sim.Simulation, q string) (*query.Result, error) {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	sp.Suffix = " routing query through the network..."
	sp.Start()
	defer sp.Stop()

	return s.Orchestrator.ProcessQuery(ctx, q)
}

func queryCommand() *cli.Command {
	var (
		cfg    config
		format string
	)

	flags := []cli.Flag{formatFlag(&format)}
	flags = append(flags, simFlags(&cfg)...)

	return &cli.Command{
		Name:      "query",
		Usage:     "Route a query to an assistant node and print the answer",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			q := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if q == "" {
				return goerr.New("query text is required")
			}

			return withSimulation(ctx, &cfg, func(ctx context.Context, s *sim.Simulation) error {
				result, err := processWithSpinner(ctx, s, q)
				if err != nil {
					return goerr.Wrap(err, "failed to process query")
				}

				w := c.Root().Writer
				if done, err := printStructured(w, format, result); done {
					return err
				}
				printResult(w, result)
				return nil
			})
		},
	}
}

func chatCommand() *cli.Command {
	var (
		cfg         config
		historyFile string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "history-file",
			Usage:       "Readline history file",
			Value:       filepath.Join(os.TempDir(), "meshsim_history"),
			Sources:     cli.EnvVars("MESHSIM_HISTORY_FILE"),
			Destination: &historyFile,
		},
	}
	flags = append(flags, simFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive query session against the network",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			return withSimulation(ctx, &cfg, func(ctx context.Context, s *sim.Simulation) error {
				rl, err := readline.NewEx(&readline.Config{
					Prompt:          "> ",
					HistoryFile:     historyFile,
					InterruptPrompt: "^C",
					EOFPrompt:       "exit",
				})
				if err != nil {
					return goerr.Wrap(err, "failed to start readline")
				}
				defer rl.Close()

				w := c.Root().Writer
				fmt.Fprintf(w, "Chat session started. Type 'exit' to quit.\n")

				for {
					line, err := rl.Readline()
					if errors.Is(err, readline.ErrInterrupt) {
						if line == "" {
							break
						}
						continue
					}
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						return goerr.Wrap(err, "failed to read input")
					}

					message := strings.TrimSpace(line)
					if message == "exit" {
						break
					}
					if message == "" {
						continue
					}

					result, err := processWithSpinner(ctx, s, message)
					if err != nil {
						fmt.Fprintf(w, "error: %s\n", err)
						continue
					}
					printResult(w, result)
					fmt.Fprintln(w)
				}

				fmt.Fprintf(w, "\nChat session completed\n")
				return nil
			})
		},
	}
}
