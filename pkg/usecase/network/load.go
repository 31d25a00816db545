package network

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
)

// LoadOrInitialize hydrates the node list from persistence when the network
// has been initialized before, and calls Initialize otherwise. Any load
// failure also falls back to Initialize.
func (n *Network) LoadOrInitialize(ctx context.Context) ([]*model.Node, error) {
	logger := logging.From(ctx)

	entry, err := n.repo.GetMetadata(ctx, model.MetadataNetworkInitialized)
	if err != nil {
		logger.Info("network is not initialized yet", "reason", err)
		return n.Initialize(ctx)
	}
	if initialized, ok := entry.Value.(bool); !ok || !initialized {
		return n.Initialize(ctx)
	}

	nodes := n.repo.ListNodes(ctx)
	if len(nodes) == 0 {
		logger.Warn("network marked initialized but no node could be loaded, reinitializing")
		return n.Initialize(ctx)
	}

	slices.SortStableFunc(nodes, func(a, b *model.Node) int {
		return typeRank(a.Type) - typeRank(b.Type)
	})
	n.replace(nodes)
	logger.Info("network loaded", "nodes", len(nodes))

	return n.Nodes(), nil
}

func typeRank(t model.NodeType) int {
	switch t {
	case model.NodeTypeAssistant:
		return 0
	case model.NodeTypeContentStore:
		return 1
	default:
		return 2
	}
}

// UpdateNodeStatus sets the node's active flag and last-seen time in
// persistence and in the in-memory snapshot. It returns nil without error when
// the node does not exist.
func (n *Network) UpdateNodeStatus(ctx context.Context, id model.NodeID, active bool) (*model.Node, error) {
	node, err := n.repo.GetNode(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get node", goerr.V("id", id))
	}

	node.Active = active
	node.LastSeen = time.Now()

	if err := n.repo.PutNode(ctx, node); err != nil {
		return nil, goerr.Wrap(err, "failed to update node", goerr.V("id", id), goerr.V("active", active))
	}

	n.mu.Lock()
	if mirror, ok := n.index[id]; ok {
		mirror.Active = node.Active
		mirror.LastSeen = node.LastSeen
	}
	n.mu.Unlock()

	return node.Clone(), nil
}

// Touch updates the last-seen time of the given nodes. Persistence failures
// are logged and not returned.
func (n *Network) Touch(ctx context.Context, ids ...model.NodeID) {
	now := time.Now()

	for _, id := range ids {
		n.mu.Lock()
		mirror, ok := n.index[id]
		var snapshot *model.Node
		if ok {
			mirror.LastSeen = now
			snapshot = mirror.Clone()
		}
		n.mu.Unlock()

		if !ok {
			continue
		}
		if err := n.repo.PutNode(ctx, snapshot); err != nil {
			logging.From(ctx).Warn("failed to persist last seen", "id", id, "error", err)
		}
	}
}
