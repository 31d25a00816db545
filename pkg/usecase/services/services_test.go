package services_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/repository"
	"github.com/m-mizutani/meshsim/pkg/usecase/services"
	"github.com/m-mizutani/meshsim/pkg/utils/random"
)

func TestDefaultTopology(t *testing.T) {
	ctx := context.Background()
	topo, err := services.NewTopology(ctx, "")
	gt.NoError(t, err)

	allowed := [][2]model.ServiceType{
		{model.ServiceTypeAPI, model.ServiceTypeDatabase},
		{model.ServiceTypeCompute, model.ServiceTypeAPI},
		{model.ServiceTypeDatabase, model.ServiceTypeStorage},
		{model.ServiceTypeAnalytics, model.ServiceTypeDatabase},
		{model.ServiceTypeStorage, model.ServiceTypeAnalytics},
		{model.ServiceTypeCompute, model.ServiceTypeStorage},
	}
	for _, pair := range allowed {
		ok, err := topo.Allow(ctx, pair[0], pair[1])
		gt.NoError(t, err)
		gt.True(t, ok)
	}

	denied := [][2]model.ServiceType{
		{model.ServiceTypeAPI, model.ServiceTypeStorage},
		{model.ServiceTypeAPI, model.ServiceTypeAnalytics},
		{model.ServiceTypeCompute, model.ServiceTypeDatabase},
		{model.ServiceTypeAPI, model.ServiceTypeAPI},
	}
	for _, pair := range denied {
		ok, err := topo.Allow(ctx, pair[0], pair[1])
		gt.NoError(t, err)
		gt.False(t, ok)
	}
}

func TestCustomTopologyPolicy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	policy := `package topology

default allow := false

allow if {
	input.from == "api"
}
`
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "topology.rego"), []byte(policy), 0644))

	topo, err := services.NewTopology(ctx, dir)
	gt.NoError(t, err)

	svcs := services.DefaultServices()
	gt.NoError(t, topo.Connect(ctx, svcs))
	for _, s := range svcs {
		if s.Type == model.ServiceTypeAPI {
			gt.A(t, s.Connections).Length(4)
		} else {
			gt.A(t, s.Connections).Length(0)
		}
	}

	_, err = services.NewTopology(ctx, t.TempDir())
	gt.Error(t, err)
}

func newSimulator(t *testing.T, cfg services.Config, opts ...services.Option) (*services.Simulator, *repository.Repository) {
	t.Helper()
	ctx := context.Background()
	topo, err := services.NewTopology(ctx, "")
	gt.NoError(t, err)

	repo := repository.NewInMemory(ctx)
	opts = append([]services.Option{services.WithRandom(random.New(1))}, opts...)
	sim, err := services.New(ctx, cfg, topo, repo, opts...)
	gt.NoError(t, err)
	return sim, repo
}

func TestSimulatorConnections(t *testing.T) {
	sim, _ := newSimulator(t, services.DefaultConfig)

	byID := map[string]*model.Service{}
	for _, s := range sim.Services() {
		byID[s.ID] = s
	}
	gt.A(t, byID["svc-api"].Connections).Length(2)
	gt.True(t, slices.Contains(byID["svc-api"].Connections, "svc-database"))
	gt.True(t, slices.Contains(byID["svc-api"].Connections, "svc-compute"))
	gt.A(t, byID["svc-storage"].Connections).Length(3)
}

type recordingSink struct {
	mu        sync.Mutex
	snapshots []*model.MetricsSnapshot
	err       error
}

func (r *recordingSink) InsertSnapshot(ctx context.Context, s *model.MetricsSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
	return r.err
}

func TestSimulatorTick(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{err: goerr.New("export failed")}
	sim, repo := newSimulator(t, services.Config{Interval: time.Hour, SnapshotEvery: 3}, services.WithSink(sink))

	var snapshots []*model.MetricsSnapshot
	for range 6 {
		snapshot, err := sim.Tick(ctx)
		gt.NoError(t, err)
		if snapshot != nil {
			snapshots = append(snapshots, snapshot)
		}
	}

	gt.A(t, snapshots).Length(2)
	gt.A(t, repo.ListSnapshots(ctx)).Length(2)
	// export failures do not fail the tick
	gt.A(t, sink.snapshots).Length(2)

	first := snapshots[0].Services["svc-api"]
	second := snapshots[1].Services["svc-api"]
	gt.True(t, second.Requests > first.Requests)
	gt.True(t, first.Requests >= 30)

	for _, s := range sim.Services() {
		gt.True(t, s.Metrics.AvgResponseTime > 0)
		gt.True(t, s.Metrics.Errors <= s.Metrics.Requests)
	}
}

func TestSimulatorStartStop(t *testing.T) {
	ctx := context.Background()
	sim, repo := newSimulator(t, services.Config{Interval: 5 * time.Millisecond, SnapshotEvery: 1})

	sim.Start(ctx)
	sim.Start(ctx)
	gt.True(t, sim.Running())

	deadline := time.Now().Add(2 * time.Second)
	for len(repo.ListSnapshots(ctx)) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	sim.Stop()
	sim.Stop()
	gt.False(t, sim.Running())

	count := len(repo.ListSnapshots(ctx))
	gt.True(t, count >= 2)

	time.Sleep(30 * time.Millisecond)
	gt.Equal(t, len(repo.ListSnapshots(ctx)), count)
}

func TestSimulatorRestartAfterCancel(t *testing.T) {
	sim, repo := newSimulator(t, services.Config{Interval: 5 * time.Millisecond, SnapshotEvery: 1})

	ctx, cancel := context.WithCancel(context.Background())
	sim.Start(ctx)
	gt.True(t, sim.Running())
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for sim.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	gt.False(t, sim.Running())

	bg := context.Background()
	before := len(repo.ListSnapshots(bg))
	sim.Start(bg)
	defer sim.Stop()
	gt.True(t, sim.Running())

	for len(repo.ListSnapshots(bg)) <= before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	gt.True(t, len(repo.ListSnapshots(bg)) > before)
}
