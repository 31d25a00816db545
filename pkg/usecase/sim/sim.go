// Package sim composes the simulation context: persistence, the node graph,
// the message bus, the content store and the query orchestrator. A Simulation
// is constructed explicitly and owns all mutable simulation state.
package sim

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/adapter"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/repository"
	"github.com/m-mizutani/meshsim/pkg/tool"
	contenttool "github.com/m-mizutani/meshsim/pkg/tool/content"
	networktool "github.com/m-mizutani/meshsim/pkg/tool/network"
	"github.com/m-mizutani/meshsim/pkg/usecase/bus"
	"github.com/m-mizutani/meshsim/pkg/usecase/content"
	"github.com/m-mizutani/meshsim/pkg/usecase/network"
	"github.com/m-mizutani/meshsim/pkg/usecase/query"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
	"github.com/m-mizutani/meshsim/pkg/utils/random"
)

// Input contains parameters for creating a Simulation
type Input struct {
	Repo      *repository.Repository
	Network   network.Config
	Delay     bus.DelayPolicy
	Responder query.Responder

	// Gemini, when set and Responder is nil, answers queries with Gemini and
	// gives it the network_status and lookup_content tools.
	Gemini adapter.Gemini

	// Seed makes graph construction, delays and relay choice reproducible.
	// Zero seeds from the current time.
	Seed uint64
}

// Simulation is the owned simulation context
type Simulation struct {
	Repo         *repository.Repository
	Network      *network.Network
	Bus          *bus.Bus
	Content      *content.UseCase
	Orchestrator *query.Orchestrator
}

// New wires the components together. Call Start to load or build the network.
func New(input Input) *Simulation {
	rnd := random.NewTimeSeeded()
	if input.Seed != 0 {
		rnd = random.New(input.Seed)
	}

	netCfg := input.Network
	if netCfg.Total() == 0 {
		netCfg = network.DefaultConfig
	}
	delay := input.Delay
	if delay.Max == 0 {
		delay = bus.DefaultDelayPolicy
	}

	net := network.New(input.Repo, network.WithConfig(netCfg), network.WithRandom(rnd))
	b := bus.New(net, input.Repo, bus.WithDelayPolicy(delay), bus.WithRandom(rnd))
	store := content.New(input.Repo)

	opts := []query.Option{query.WithRandom(rnd)}
	switch {
	case input.Responder != nil:
		opts = append(opts, query.WithResponder(input.Responder))
	case input.Gemini != nil:
		registry := tool.New(
			networktool.NewStatus(net),
			contenttool.NewLookup(store),
		)
		opts = append(opts, query.WithResponder(query.NewGeminiResponder(input.Gemini, query.WithTools(registry))))
	}

	return &Simulation{
		Repo:         input.Repo,
		Network:      net,
		Bus:          b,
		Content:      store,
		Orchestrator: query.New(store, net, b, opts...),
	}
}

// Start loads the persisted network and message log, initializing the
// network when nothing has been persisted yet
func (s *Simulation) Start(ctx context.Context) error {
	nodes, err := s.Network.LoadOrInitialize(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to load network")
	}
	loaded := s.Bus.Load(ctx)

	logging.From(ctx).Info("simulation started", "nodes", len(nodes), "messages", loaded)
	return nil
}

// Reset waits for pending deliveries, clears every collection and builds a
// fresh network. Sends issued during the reset run against the new network.
func (s *Simulation) Reset(ctx context.Context) ([]*model.Node, error) {
	var nodes []*model.Node
	err := s.Bus.Exclusive(func() error {
		if err := s.Repo.Clear(ctx); err != nil {
			return goerr.Wrap(err, "failed to clear persistence")
		}
		s.Bus.Reset()

		initialized, err := s.Network.Initialize(ctx)
		if err != nil {
			return goerr.Wrap(err, "failed to initialize network")
		}
		nodes = initialized
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// Close waits for pending deliveries and closes persistence
func (s *Simulation) Close() error {
	s.Bus.Wait()
	return s.Repo.Close()
}
