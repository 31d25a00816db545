package bus

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/interfaces"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/utils/random"
)

var (
	// ErrNodeNotFound is returned when an endpoint does not exist
	ErrNodeNotFound = goerr.Wrap(model.ErrNotFound, "node not found")

	// ErrNodeInactive is returned when an endpoint is not active
	ErrNodeInactive = goerr.Wrap(model.ErrInvalidOperation, "node is inactive")

	// ErrNoPath is returned when the receiver is neither a neighbor of the
	// sender nor a neighbor of one of its active neighbors
	ErrNoPath = goerr.Wrap(model.ErrInvalidOperation, "no path between nodes")
)

// Directory resolves nodes and reachability
type Directory interface {
	Node(id model.NodeID) (*model.Node, error)
	CanReach(from, to model.NodeID) bool
	Touch(ctx context.Context, ids ...model.NodeID)
}

// DelayPolicy bounds the simulated delivery latency. A delay is drawn
// uniformly from [Min, Max).
type DelayPolicy struct {
	Min time.Duration `yaml:"min" json:"min" validate:"gte=0"`
	Max time.Duration `yaml:"max" json:"max" validate:"gtefield=Min"`
}

// DefaultDelayPolicy delivers after 300ms to 1s
var DefaultDelayPolicy = DelayPolicy{
	Min: 300 * time.Millisecond,
	Max: 1000 * time.Millisecond,
}

// DefaultHistoryLimit is used by History when no positive limit is given
const DefaultHistoryLimit = 100

// Listener receives every newly created message before it is delivered
type Listener func(msg *model.Message)

type subscription struct {
	id uint64
	fn Listener
}

// Bus creates messages between reachable active nodes and delivers them after
// a random delay
type Bus struct {
	dir   Directory
	repo  interfaces.MessageRepository
	delay DelayPolicy
	rnd   *random.Source

	mu        sync.RWMutex
	log       []*model.Message
	listeners []subscription
	nextSubID uint64

	gate    sync.RWMutex
	pending sync.WaitGroup
}

// Option is a functional option for Bus
type Option func(*Bus)

// WithDelayPolicy replaces DefaultDelayPolicy
func WithDelayPolicy(p DelayPolicy) Option {
	return func(b *Bus) {
		b.delay = p
	}
}

// WithRandom injects the random source used for delivery delays
func WithRandom(rnd *random.Source) Option {
	return func(b *Bus) {
		b.rnd = rnd
	}
}

// New creates a Bus
func New(dir Directory, repo interfaces.MessageRepository, opts ...Option) *Bus {
	b := &Bus{
		dir:   dir,
		repo:  repo,
		delay: DefaultDelayPolicy,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.rnd == nil {
		b.rnd = random.NewTimeSeeded()
	}
	return b
}

// Load replaces the in-memory log with the persisted messages
func (b *Bus) Load(ctx context.Context) int {
	msgs := b.repo.ListMessages(ctx)
	slices.Reverse(msgs)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = msgs
	return len(msgs)
}

// Log returns a copy of the in-memory message log, oldest first
func (b *Bus) Log() []*model.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]*model.Message, 0, len(b.log))
	for _, msg := range b.log {
		result = append(result, msg.Clone())
	}
	return result
}

// Reset drops the in-memory log. Subscribers are kept.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = nil
}

// History returns persisted messages newest first, at most limit of them
func (b *Bus) History(ctx context.Context, limit int) []*model.Message {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	msgs := b.repo.ListMessages(ctx)
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs
}

// Wait blocks until every scheduled delivery has completed
func (b *Bus) Wait() {
	b.pending.Wait()
}

// Exclusive blocks new sends, waits for every scheduled delivery and runs fn.
// Sends issued meanwhile proceed after fn returns.
func (b *Bus) Exclusive(fn func() error) error {
	b.gate.Lock()
	defer b.gate.Unlock()

	b.pending.Wait()
	return fn()
}
