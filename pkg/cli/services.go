package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/adapter"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/repository"
	"github.com/m-mizutani/meshsim/pkg/usecase/services"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// metricsConfig holds the optional BigQuery export of services snapshots
type metricsConfig struct {
	bigqueryProject string
	bigqueryDataset string
	bigqueryTable   string
}

// metricsFlags returns flags for exporting services snapshots
func metricsFlags(cfg *metricsConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project of the snapshot table",
			Sources:     cli.EnvVars("MESHSIM_BIGQUERY_PROJECT"),
			Destination: &cfg.bigqueryProject,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset of the snapshot table",
			Sources:     cli.EnvVars("MESHSIM_BIGQUERY_DATASET"),
			Destination: &cfg.bigqueryDataset,
		},
		&cli.StringFlag{
			Name:        "bigquery-table",
			Usage:       "BigQuery table receiving services snapshots",
			Value:       "service_snapshots",
			Sources:     cli.EnvVars("MESHSIM_BIGQUERY_TABLE"),
			Destination: &cfg.bigqueryTable,
		},
	}
}

// newSimulator builds the services simulator with its policy topology and,
// when configured, a BigQuery sink. The returned cleanup closes the sink.
func (mc *metricsConfig) newSimulator(ctx context.Context, sc *simConfig, repo *repository.Repository) (*services.Simulator, func(), error) {
	topology, err := services.NewTopology(ctx, sc.Services.PolicyDir)
	if err != nil {
		return nil, nil, err
	}

	var opts []services.Option
	cleanup := func() {}

	if mc.bigqueryProject != "" {
		if mc.bigqueryDataset == "" {
			return nil, nil, goerr.New("bigquery-dataset is required")
		}
		bq, err := adapter.NewBigQuery(ctx, mc.bigqueryProject, mc.bigqueryDataset, mc.bigqueryTable)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create bigquery client")
		}
		if err := bq.EnsureTable(ctx); err != nil {
			_ = bq.Close()
			return nil, nil, goerr.Wrap(err, "failed to prepare snapshot table")
		}
		opts = append(opts, services.WithSink(bq))
		cleanup = func() {
			if err := bq.Close(); err != nil {
				logging.From(ctx).Warn("failed to close bigquery client", "error", err)
			}
		}
	}

	simulator, err := services.New(ctx, sc.Services, topology, repo, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return simulator, cleanup, nil
}

func printServices(w io.Writer, list []*model.Service) {
	for _, svc := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\treq=%d err=%d avg=%.1fms\tconn=%v\n",
			svc.ID, svc.Type, svc.Status,
			svc.Metrics.Requests, svc.Metrics.Errors, svc.Metrics.AvgResponseTime,
			svc.Connections)
	}
}

func servicesCommand() *cli.Command {
	var (
		cfg      config
		mc       metricsConfig
		duration time.Duration
		format   string
	)

	flags := []cli.Flag{
		&cli.DurationFlag{
			Name:        "duration",
			Usage:       "How long to run the services simulator",
			Value:       10 * time.Second,
			Destination: &duration,
		},
		formatFlag(&format),
	}
	flags = append(flags, metricsFlags(&mc)...)
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "services",
		Usage: "Run the backend services simulator and print the final service states",
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

			simulator, cleanup, err := mc.newSimulator(ctx, sc, repo)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			simulator.Start(ctx)
			select {
			case <-time.After(duration):
			case <-ctx.Done():
			}
			simulator.Stop()

			w := c.Root().Writer
			list := simulator.Services()
			if done, err := printStructured(w, format, list); done {
				return err
			}
			printServices(w, list)
			fmt.Fprintf(w, "snapshots stored: %d\n", len(repo.ListSnapshots(context.WithoutCancel(ctx))))
			return nil
		},
	}
}
