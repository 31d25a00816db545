package network_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/repository"
	"github.com/m-mizutani/meshsim/pkg/usecase/network"
	"github.com/m-mizutani/meshsim/pkg/utils/random"
)

func countByType(nodes []*model.Node) map[model.NodeType]int {
	counts := map[model.NodeType]int{}
	for _, n := range nodes {
		counts[n.Type]++
	}
	return counts
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	for s := range uint64(20) {
		repo := repository.NewInMemory(ctx)
		net := network.New(repo, network.WithRandom(random.New(s)))

		nodes, err := net.Initialize(ctx)
		gt.NoError(t, err)
		gt.A(t, nodes).Length(21)

		counts := countByType(nodes)
		gt.Equal(t, counts[model.NodeTypeAssistant], 1)
		gt.Equal(t, counts[model.NodeTypeContentStore], 5)
		gt.Equal(t, counts[model.NodeTypeStandard], 15)

		assistant := net.NodesByType(model.NodeTypeAssistant, false)[0]
		for _, store := range net.NodesByType(model.NodeTypeContentStore, false) {
			gt.True(t, assistant.HasNeighbor(store.ID))
			gt.True(t, store.HasNeighbor(assistant.ID))
		}

		for _, n := range nodes {
			gt.False(t, n.HasNeighbor(n.ID))
			seen := map[model.NodeID]bool{}
			for _, id := range n.Neighbors {
				gt.False(t, seen[id])
				seen[id] = true
			}
			if n.Type == model.NodeTypeStandard {
				gt.True(t, len(n.Neighbors) <= 4)
			}
			if n.Type != model.NodeTypeStandard {
				gt.True(t, n.Active)
			}
		}

		gt.A(t, repo.ListNodes(ctx)).Length(21)
		entry, err := repo.GetMetadata(ctx, model.MetadataNetworkInitialized)
		gt.NoError(t, err)
		gt.V(t, entry.Value).Equal(true)
	}
}

func TestInitializeWithConfig(t *testing.T) {
	ctx := context.Background()
	cfg := network.Config{
		Assistants:          1,
		ContentStores:       2,
		Standards:           3,
		InactiveProbability: 1,
		MinNeighbors:        1,
		MaxNeighbors:        1,
	}
	net := network.New(repository.NewInMemory(ctx), network.WithConfig(cfg), network.WithRandom(random.New(1)))

	nodes, err := net.Initialize(ctx)
	gt.NoError(t, err)
	gt.A(t, nodes).Length(cfg.Total())

	for _, n := range net.NodesByType(model.NodeTypeStandard, false) {
		gt.False(t, n.Active)
		gt.A(t, n.Neighbors).Length(1)
	}
	gt.A(t, net.ActiveNodes()).Length(3)
}

func TestSameSeedSameGraph(t *testing.T) {
	ctx := context.Background()

	a := network.New(repository.NewInMemory(ctx), network.WithRandom(random.New(99)))
	b := network.New(repository.NewInMemory(ctx), network.WithRandom(random.New(99)))
	na, err := a.Initialize(ctx)
	gt.NoError(t, err)
	nb, err := b.Initialize(ctx)
	gt.NoError(t, err)

	for i := range na {
		gt.Equal(t, na[i].ID, nb[i].ID)
		gt.Equal(t, na[i].Active, nb[i].Active)
		gt.Equal(t, na[i].Neighbors, nb[i].Neighbors)
	}
}

func TestLoadOrInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("initializes an empty store", func(t *testing.T) {
		repo := repository.NewInMemory(ctx)
		net := network.New(repo, network.WithRandom(random.New(1)))

		nodes, err := net.LoadOrInitialize(ctx)
		gt.NoError(t, err)
		gt.A(t, nodes).Length(21)
		gt.A(t, repo.ListNodes(ctx)).Length(21)
	})

	t.Run("hydrates a persisted network", func(t *testing.T) {
		repo := repository.NewInMemory(ctx)
		first := network.New(repo, network.WithRandom(random.New(1)))
		original, err := first.Initialize(ctx)
		gt.NoError(t, err)

		second := network.New(repo, network.WithRandom(random.New(2)))
		loaded, err := second.LoadOrInitialize(ctx)
		gt.NoError(t, err)
		gt.A(t, loaded).Length(len(original))

		for _, n := range original {
			got, err := second.Node(n.ID)
			gt.NoError(t, err)
			gt.Equal(t, got.Neighbors, n.Neighbors)
			gt.Equal(t, got.Active, n.Active)
		}
		gt.Equal(t, loaded[0].Type, model.NodeTypeAssistant)
	})

	t.Run("reinitializes when the flag is set but nodes are gone", func(t *testing.T) {
		repo := repository.NewInMemory(ctx)
		gt.NoError(t, repo.PutMetadata(ctx, model.MetadataNetworkInitialized, true))

		net := network.New(repo, network.WithRandom(random.New(1)))
		nodes, err := net.LoadOrInitialize(ctx)
		gt.NoError(t, err)
		gt.A(t, nodes).Length(21)
	})
}

// seed persists a fixed topology and loads it
func seed(t *testing.T, nodes ...*model.Node) (*network.Network, *repository.Repository) {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewInMemory(ctx)
	for _, n := range nodes {
		gt.NoError(t, repo.PutNode(ctx, n))
	}
	gt.NoError(t, repo.PutMetadata(ctx, model.MetadataNetworkInitialized, true))

	net := network.New(repo)
	_, err := net.LoadOrInitialize(ctx)
	gt.NoError(t, err)
	return net, repo
}

func TestCanReach(t *testing.T) {
	// a -> b -> c, a -> d(inactive) -> e, f isolated
	net, _ := seed(t,
		&model.Node{ID: "a", Type: model.NodeTypeStandard, Active: true, Neighbors: []model.NodeID{"b", "d"}},
		&model.Node{ID: "b", Type: model.NodeTypeStandard, Active: true, Neighbors: []model.NodeID{"c"}},
		&model.Node{ID: "c", Type: model.NodeTypeStandard, Active: true, Neighbors: []model.NodeID{"g"}},
		&model.Node{ID: "d", Type: model.NodeTypeStandard, Active: false, Neighbors: []model.NodeID{"e"}},
		&model.Node{ID: "e", Type: model.NodeTypeStandard, Active: true},
		&model.Node{ID: "f", Type: model.NodeTypeStandard, Active: true},
		&model.Node{ID: "g", Type: model.NodeTypeStandard, Active: true},
	)

	gt.True(t, net.CanReach("a", "b"))
	gt.True(t, net.CanReach("a", "c"))
	// two hops are not checked
	gt.False(t, net.CanReach("a", "g"))
	// intermediate must be active
	gt.False(t, net.CanReach("a", "e"))
	// adjacency is directed
	gt.False(t, net.CanReach("b", "a"))
	gt.False(t, net.CanReach("f", "a"))
	gt.False(t, net.CanReach("missing", "a"))
}

func TestUpdateNodeStatus(t *testing.T) {
	ctx := context.Background()
	net, repo := seed(t,
		&model.Node{ID: "a", Type: model.NodeTypeStandard, Active: true},
	)

	node, err := net.UpdateNodeStatus(ctx, "a", false)
	gt.NoError(t, err)
	gt.NotNil(t, node)
	gt.False(t, node.Active)

	mirror, err := net.Node("a")
	gt.NoError(t, err)
	gt.False(t, mirror.Active)
	gt.A(t, net.ActiveNodes()).Length(0)

	persisted, err := repo.GetNode(ctx, "a")
	gt.NoError(t, err)
	gt.False(t, persisted.Active)

	missing, err := net.UpdateNodeStatus(ctx, "zzz", true)
	gt.NoError(t, err)
	gt.True(t, missing == nil)
}

func TestTouch(t *testing.T) {
	ctx := context.Background()
	net, repo := seed(t,
		&model.Node{ID: "a", Type: model.NodeTypeStandard, Active: true},
	)

	before, err := net.Node("a")
	gt.NoError(t, err)

	net.Touch(ctx, "a", "missing")

	after, err := net.Node("a")
	gt.NoError(t, err)
	gt.True(t, after.LastSeen.After(before.LastSeen))

	persisted, err := repo.GetNode(ctx, "a")
	gt.NoError(t, err)
	gt.True(t, persisted.LastSeen.Equal(after.LastSeen))
}
