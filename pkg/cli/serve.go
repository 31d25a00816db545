package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/adapter"
	"github.com/m-mizutani/meshsim/pkg/service/api"
	"github.com/m-mizutani/meshsim/pkg/service/feed"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// feedConfig holds the live message feed settings
type feedConfig struct {
	origins     []string
	mqttBroker  string
	mqttTopic   string
	mqttID      string
	runServices bool
}

// feedFlags returns flags for the websocket feed, MQTT relay and services
func feedFlags(cfg *feedConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "allowed-origin",
			Usage:       "Allowed CORS and websocket origin, repeatable (default any)",
			Sources:     cli.EnvVars("MESHSIM_ALLOWED_ORIGINS"),
			Destination: &cfg.origins,
		},
		&cli.StringFlag{
			Name:        "mqtt-broker",
			Usage:       "Relay every message to this MQTT broker, e.g. tcp://localhost:1883",
			Sources:     cli.EnvVars("MESHSIM_MQTT_BROKER"),
			Destination: &cfg.mqttBroker,
		},
		&cli.StringFlag{
			Name:        "mqtt-topic-prefix",
			Usage:       "Topic prefix of relayed messages",
			Value:       "meshsim/messages",
			Sources:     cli.EnvVars("MESHSIM_MQTT_TOPIC_PREFIX"),
			Destination: &cfg.mqttTopic,
		},
		&cli.StringFlag{
			Name:        "mqtt-client-id",
			Usage:       "MQTT client ID",
			Value:       "meshsim",
			Sources:     cli.EnvVars("MESHSIM_MQTT_CLIENT_ID"),
			Destination: &cfg.mqttID,
		},
		&cli.BoolFlag{
			Name:        "services",
			Usage:       "Run the backend services simulator and expose it at /api/services",
			Sources:     cli.EnvVars("MESHSIM_SERVICES"),
			Destination: &cfg.runServices,
		},
	}
}

func serveCommand() *cli.Command {
	var (
		cfg  config
		fc   feedConfig
		mc   metricsConfig
		addr string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("MESHSIM_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, feedFlags(&fc)...)
	flags = append(flags, metricsFlags(&mc)...)
	flags = append(flags, simFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the simulation over HTTP with a websocket message feed",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.initLogger(ctx)
			logger := logging.From(ctx)

			s, sc, err := cfg.newSimulation(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := feed.NewHub(fc.origins...)
			defer s.Bus.Subscribe(hub.Publish)()

			if fc.mqttBroker != "" {
				pub, err := adapter.NewMQTT(fc.mqttBroker, fc.mqttID)
				if err != nil {
					return goerr.Wrap(err, "failed to connect MQTT relay")
				}
				defer pub.Close()
				relay := feed.NewMQTTRelay(pub, fc.mqttTopic)
				defer relay.Close()
				defer s.Bus.Subscribe(relay.Publish)()
			}

			opts := []api.Option{api.WithFeed(hub)}
			if len(fc.origins) > 0 {
				opts = append(opts, api.WithAllowedOrigins(fc.origins...))
			}
			if fc.runServices {
				simulator, cleanup, err := mc.newSimulator(ctx, sc, s.Repo)
				if err != nil {
					return err
				}
				defer cleanup()
				simulator.Start(ctx)
				defer simulator.Stop()
				opts = append(opts, api.WithServices(simulator))
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           api.New(s, opts...).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(_ net.Listener) context.Context { return logging.With(context.Background(), logger) },
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("serving", "addr", addr)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return goerr.Wrap(err, "server failed", goerr.V("addr", addr))
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shut down server")
			}
			logger.Info("server stopped")
			return nil
		},
	}
}
