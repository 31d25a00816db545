package model

import (
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

type NodeID string

// ClientID is the synthetic identifier of the caller outside the mesh. It never
// exists as a node; it only appears at both ends of a processing path.
const ClientID NodeID = "client"

type NodeType string

var ErrInvalidNodeType = goerr.New("invalid node type")

const (
	NodeTypeStandard     NodeType = "standard"
	NodeTypeContentStore NodeType = "content-store"
	NodeTypeAssistant    NodeType = "assistant"
)

// Validate checks if the node type is known
func (t NodeType) Validate() error {
	switch t {
	case NodeTypeStandard, NodeTypeContentStore, NodeTypeAssistant:
		return nil
	default:
		return ErrInvalidNodeType
	}
}

// Node is a simulated network participant
type Node struct {
	ID        NodeID    `json:"id" yaml:"id" firestore:"id"`
	Type      NodeType  `json:"type" yaml:"type" firestore:"type"`
	Active    bool      `json:"active" yaml:"active" firestore:"active"`
	Neighbors []NodeID  `json:"neighbors" yaml:"neighbors" firestore:"neighbors"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at" firestore:"created_at"`
	LastSeen  time.Time `json:"last_seen" yaml:"last_seen" firestore:"last_seen"`
}

// HasNeighbor reports whether id is in the node's neighbor list
func (n *Node) HasNeighbor(id NodeID) bool {
	return slices.Contains(n.Neighbors, id)
}

// Connect appends id to the neighbor list unless it is already present or
// refers to the node itself. It returns true when the list changed.
func (n *Node) Connect(id NodeID) bool {
	if id == n.ID || n.HasNeighbor(id) {
		return false
	}
	n.Neighbors = append(n.Neighbors, id)
	return true
}

// Clone returns a deep copy so that callers can not mutate the simulation state
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Neighbors = slices.Clone(n.Neighbors)
	return &c
}
