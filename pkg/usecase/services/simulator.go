package services

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/interfaces"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
	"github.com/m-mizutani/meshsim/pkg/utils/random"
)

// Config controls the simulator tick
type Config struct {
	Interval      time.Duration `yaml:"interval" json:"interval" validate:"gt=0"`
	SnapshotEvery int           `yaml:"snapshot_every" json:"snapshot_every" validate:"gte=1"`
	PolicyDir     string        `yaml:"policy_dir" json:"policy_dir"`
}

// DefaultConfig ticks every 2 seconds and snapshots every 5 ticks
var DefaultConfig = Config{
	Interval:      2 * time.Second,
	SnapshotEvery: 5,
}

const (
	// emaAlpha weighs the latest response time sample
	emaAlpha = 0.2

	// degradedErrorRate and degradedLatency mark a service degraded
	degradedErrorRate = 0.05
	degradedLatency   = 250.0
)

// SnapshotSink receives every persisted snapshot, e.g. a BigQuery table
type SnapshotSink interface {
	InsertSnapshot(ctx context.Context, snapshot *model.MetricsSnapshot) error
}

// DefaultServices returns one service of each type
func DefaultServices() []*model.Service {
	names := map[model.ServiceType]string{
		model.ServiceTypeAPI:       "API Gateway",
		model.ServiceTypeDatabase:  "Primary Database",
		model.ServiceTypeCompute:   "Compute Cluster",
		model.ServiceTypeStorage:   "Object Storage",
		model.ServiceTypeAnalytics: "Analytics Engine",
	}

	services := make([]*model.Service, 0, len(model.ServiceTypes))
	for _, t := range model.ServiceTypes {
		services = append(services, &model.Service{
			ID:     "svc-" + string(t),
			Name:   names[t],
			Type:   t,
			Status: model.ServiceStatusHealthy,
		})
	}
	return services
}

// Simulator periodically perturbs service metrics and persists snapshots
type Simulator struct {
	cfg  Config
	repo interfaces.SnapshotRepository
	sink SnapshotSink
	rnd  *random.Source

	mu       sync.Mutex
	services []*model.Service
	ticks    int
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option is a functional option for Simulator
type Option func(*Simulator)

// WithSink also exports snapshots to sink
func WithSink(sink SnapshotSink) Option {
	return func(s *Simulator) {
		s.sink = sink
	}
}

// WithRandom injects the random source used for perturbation
func WithRandom(rnd *random.Source) Option {
	return func(s *Simulator) {
		s.rnd = rnd
	}
}

// WithServices replaces DefaultServices
func WithServices(services []*model.Service) Option {
	return func(s *Simulator) {
		s.services = services
	}
}

// New creates a Simulator and wires service connections with topology
func New(ctx context.Context, cfg Config, topology *Topology, repo interfaces.SnapshotRepository, opts ...Option) (*Simulator, error) {
	s := &Simulator{
		cfg:  cfg,
		repo: repo,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		s.rnd = random.NewTimeSeeded()
	}
	if s.services == nil {
		s.services = DefaultServices()
	}
	if s.cfg.SnapshotEvery < 1 {
		s.cfg.SnapshotEvery = 1
	}

	if err := topology.Connect(ctx, s.services); err != nil {
		return nil, goerr.Wrap(err, "failed to build service topology")
	}
	return s, nil
}

// Services returns a copy of the current service states
func (s *Simulator) Services() []*model.Service {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*model.Service, 0, len(s.services))
	for _, svc := range s.services {
		c := *svc
		c.Connections = append([]string{}, svc.Connections...)
		result = append(result, &c)
	}
	return result
}

// Running reports whether the background loop is active
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Start runs Tick every interval in the background until Stop is called or
// ctx is cancelled. Starting a running simulator is a no-op.
func (s *Simulator) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		defer func() {
			// the loop may end on ctx cancellation without Stop
			s.mu.Lock()
			if s.done == done {
				s.cancel, s.done = nil, nil
			}
			s.mu.Unlock()
			cancel()
		}()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Tick(ctx); err != nil {
					logging.From(ctx).Warn("services tick failed", "error", err)
				}
			}
		}
	}()

	logging.From(ctx).Info("services simulator started", "interval", s.cfg.Interval, "snapshot_every", s.cfg.SnapshotEvery)
}

// Stop halts the background loop and waits for it to exit. It is safe to call
// more than once.
func (s *Simulator) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick perturbs every service once. Every SnapshotEvery ticks it persists a
// snapshot and returns it; otherwise it returns nil.
func (s *Simulator) Tick(ctx context.Context) (*model.MetricsSnapshot, error) {
	s.mu.Lock()
	for _, svc := range s.services {
		s.perturb(svc)
	}
	s.ticks++
	due := s.ticks%s.cfg.SnapshotEvery == 0

	var snapshot *model.MetricsSnapshot
	if due {
		snapshot = &model.MetricsSnapshot{
			ID:        model.NewSnapshotID(),
			Timestamp: time.Now(),
			Services:  make(map[string]model.ServiceMetrics, len(s.services)),
		}
		for _, svc := range s.services {
			snapshot.Services[svc.ID] = svc.Metrics
		}
	}
	s.mu.Unlock()

	if snapshot == nil {
		return nil, nil
	}

	if err := s.repo.PutSnapshot(ctx, snapshot); err != nil {
		return nil, goerr.Wrap(err, "failed to persist metrics snapshot", goerr.V("snapshot_id", snapshot.ID))
	}
	if s.sink != nil {
		if err := s.sink.InsertSnapshot(ctx, snapshot); err != nil {
			logging.From(ctx).Warn("failed to export metrics snapshot", "snapshot_id", snapshot.ID, "error", err)
		}
	}

	logging.From(ctx).Debug("metrics snapshot saved", "snapshot_id", snapshot.ID, "services", len(snapshot.Services))
	return snapshot, nil
}

// perturb adds a random request batch and folds a latency sample into the
// moving average
func (s *Simulator) perturb(svc *model.Service) {
	requests := int64(s.rnd.Between(10, 100))
	var errs int64
	for range requests {
		if s.rnd.Float64() < 0.01 {
			errs++
		}
	}

	sample := 20 + s.rnd.Float64()*180
	if s.rnd.Float64() < 0.05 {
		// occasional latency spike
		sample += 200 + s.rnd.Float64()*300
	}

	m := &svc.Metrics
	m.Requests += requests
	m.Errors += errs
	if m.AvgResponseTime == 0 {
		m.AvgResponseTime = sample
	} else {
		m.AvgResponseTime = emaAlpha*sample + (1-emaAlpha)*m.AvgResponseTime
	}

	errorRate := float64(m.Errors) / float64(m.Requests)
	if errorRate > degradedErrorRate || m.AvgResponseTime > degradedLatency {
		svc.Status = model.ServiceStatusDegraded
	} else {
		svc.Status = model.ServiceStatusHealthy
	}
}
