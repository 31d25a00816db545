package query

import (
	"context"
	"time"

	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/utils/random"
)

// ContentStore is the subset of the content store the orchestrator writes to
type ContentStore interface {
	Put(ctx context.Context, content string, metadata map[string]any) (model.CID, error)
	UpdateMetadata(ctx context.Context, cid model.CID, patch map[string]any) (bool, error)
}

// Topology answers node lookups and reachability
type Topology interface {
	NodesByType(t model.NodeType, activeOnly bool) []*model.Node
	CanReach(from, to model.NodeID) bool
}

// Sender sends a message and waits for its delivery
type Sender interface {
	Send(ctx context.Context, from, to model.NodeID, msgType model.MessageType, content string) (model.MessageID, error)
}

// Result is the outcome of ProcessQuery
type Result struct {
	Response       string         `json:"response"`
	ResponseCID    model.CID      `json:"response_cid"`
	QueryCID       model.CID      `json:"query_cid"`
	ProcessingPath []model.NodeID `json:"processing_path"`
	ProcessingTime time.Duration  `json:"processing_time"`
}

// Orchestrator routes a query through the simulated network: client, a
// standard relay node, the assistant, a content-store node, and back.
type Orchestrator struct {
	store     ContentStore
	topology  Topology
	sender    Sender
	responder Responder
	rnd       *random.Source
}

// Option is a functional option for Orchestrator
type Option func(*Orchestrator)

// WithResponder replaces the default CannedResponder
func WithResponder(r Responder) Option {
	return func(o *Orchestrator) {
		o.responder = r
	}
}

// WithRandom injects the random source used to pick relay nodes
func WithRandom(rnd *random.Source) Option {
	return func(o *Orchestrator) {
		o.rnd = rnd
	}
}

// New creates an Orchestrator
func New(store ContentStore, topology Topology, sender Sender, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		topology: topology,
		sender:   sender,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rnd == nil {
		o.rnd = random.NewTimeSeeded()
	}
	if o.responder == nil {
		o.responder = NewCannedResponder(o.rnd)
	}
	return o
}
