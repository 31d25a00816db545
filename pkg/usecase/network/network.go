package network

import (
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/interfaces"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/utils/random"
)

// Repository is the persistence the network needs
type Repository interface {
	interfaces.NodeRepository
	interfaces.MetadataRepository
}

// Network owns the authoritative in-memory node list. Persistence only holds
// a durable mirror of it.
type Network struct {
	repo Repository
	cfg  Config
	rnd  *random.Source

	mu    sync.RWMutex
	nodes []*model.Node
	index map[model.NodeID]*model.Node
}

// Option is a functional option for Network
type Option func(*Network)

// WithConfig replaces DefaultConfig
func WithConfig(cfg Config) Option {
	return func(n *Network) {
		n.cfg = cfg
	}
}

// WithRandom injects the random source used for graph construction
func WithRandom(rnd *random.Source) Option {
	return func(n *Network) {
		n.rnd = rnd
	}
}

// New creates an empty network. Call Initialize or LoadOrInitialize to
// populate it.
func New(repo Repository, opts ...Option) *Network {
	n := &Network{
		repo:  repo,
		cfg:   DefaultConfig,
		index: make(map[model.NodeID]*model.Node),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.rnd == nil {
		n.rnd = random.NewTimeSeeded()
	}
	return n
}

// replace swaps the in-memory snapshot
func (n *Network) replace(nodes []*model.Node) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nodes = nodes
	n.index = make(map[model.NodeID]*model.Node, len(nodes))
	for _, node := range nodes {
		n.index[node.ID] = node
	}
}

// Nodes returns a copy of every node in the current snapshot
func (n *Network) Nodes() []*model.Node {
	n.mu.RLock()
	defer n.mu.RUnlock()

	result := make([]*model.Node, 0, len(n.nodes))
	for _, node := range n.nodes {
		result = append(result, node.Clone())
	}
	return result
}

// ActiveNodes returns the active nodes of the current snapshot. It does not
// read persistence.
func (n *Network) ActiveNodes() []*model.Node {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var result []*model.Node
	for _, node := range n.nodes {
		if node.Active {
			result = append(result, node.Clone())
		}
	}
	return result
}

// NodesByType returns the nodes of the given type, optionally only active ones
func (n *Network) NodesByType(t model.NodeType, activeOnly bool) []*model.Node {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var result []*model.Node
	for _, node := range n.nodes {
		if node.Type == t && (node.Active || !activeOnly) {
			result = append(result, node.Clone())
		}
	}
	return result
}

// Node returns a copy of the node with the given ID
func (n *Network) Node(id model.NodeID) (*model.Node, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	node, ok := n.index[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "node not found", goerr.V("id", id))
	}
	return node.Clone(), nil
}

// CanReach reports whether to is a direct neighbor of from, or a neighbor of
// one active node adjacent to from. Only one hop of indirection is checked.
func (n *Network) CanReach(from, to model.NodeID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	src, ok := n.index[from]
	if !ok {
		return false
	}
	if src.HasNeighbor(to) {
		return true
	}

	for _, id := range src.Neighbors {
		hop, ok := n.index[id]
		if ok && hop.Active && hop.HasNeighbor(to) {
			return true
		}
	}
	return false
}
