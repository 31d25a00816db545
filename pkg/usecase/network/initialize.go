package network

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
)

func assistantID(i int) model.NodeID    { return model.NodeID(fmt.Sprintf("assistant-%d", i)) }
func contentStoreID(i int) model.NodeID { return model.NodeID(fmt.Sprintf("content-store-%d", i)) }
func standardID(i int) model.NodeID     { return model.NodeID(fmt.Sprintf("node-%d", i)) }

// Initialize builds a fresh node population with random adjacency, persists
// it and marks the network as initialized. The in-memory snapshot is replaced
// before persisting, so a persistence error still leaves a usable network.
func (n *Network) Initialize(ctx context.Context) ([]*model.Node, error) {
	nodes := n.build(time.Now())
	n.replace(nodes)

	logging.From(ctx).Info("network initialized",
		"nodes", len(nodes),
		"assistants", n.cfg.Assistants,
		"content_stores", n.cfg.ContentStores,
		"standards", n.cfg.Standards,
	)

	for _, node := range nodes {
		if err := n.repo.PutNode(ctx, node); err != nil {
			return n.Nodes(), goerr.Wrap(err, "failed to persist node", goerr.V("id", node.ID))
		}
	}

	if err := n.repo.PutMetadata(ctx, model.MetadataNetworkInitialized, true); err != nil {
		return n.Nodes(), goerr.Wrap(err, "failed to mark network initialized")
	}

	return n.Nodes(), nil
}

func (n *Network) build(now time.Time) []*model.Node {
	newNode := func(id model.NodeID, t model.NodeType, active bool) *model.Node {
		return &model.Node{
			ID:        id,
			Type:      t,
			Active:    active,
			Neighbors: []model.NodeID{},
			CreatedAt: now,
			LastSeen:  now,
		}
	}

	var assistants, stores []*model.Node
	for i := 1; i <= n.cfg.Assistants; i++ {
		assistants = append(assistants, newNode(assistantID(i), model.NodeTypeAssistant, true))
	}
	for i := 1; i <= n.cfg.ContentStores; i++ {
		stores = append(stores, newNode(contentStoreID(i), model.NodeTypeContentStore, true))
	}

	nodes := append(append([]*model.Node{}, assistants...), stores...)
	for i := 1; i <= n.cfg.Standards; i++ {
		active := n.rnd.Float64() >= n.cfg.InactiveProbability
		nodes = append(nodes, newNode(standardID(i), model.NodeTypeStandard, active))
	}

	// Draws may repeat a candidate; a repeated draw is skipped rather than
	// redrawn, so a node can end up with fewer than k neighbors.
	for _, node := range nodes {
		others := make([]model.NodeID, 0, len(nodes)-1)
		for _, other := range nodes {
			if other.ID != node.ID {
				others = append(others, other.ID)
			}
		}
		if len(others) == 0 {
			continue
		}

		k := n.rnd.Between(n.cfg.MinNeighbors, n.cfg.MaxNeighbors)
		for range k {
			node.Connect(others[n.rnd.IntN(len(others))])
		}
	}

	for _, a := range assistants {
		for _, s := range stores {
			a.Connect(s.ID)
			s.Connect(a.ID)
		}
	}

	return nodes
}
