package repository

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
	"github.com/sony/gobreaker"
)

// FallbackConfig tunes the circuit breaker guarding the primary backend
type FallbackConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures uint32 `yaml:"max_failures" validate:"gte=1"`
	// Timeout is how long the circuit stays open before probing the primary again
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

var DefaultFallbackConfig = FallbackConfig{
	MaxFailures: 3,
	Timeout:     30 * time.Second,
}

// Fallback routes operations to a primary backend and transparently redirects
// them to a volatile Memory when the primary cannot be opened, fails, or its
// circuit is open. Records written to memory during an outage shadow the
// primary's copies until they are deleted or cleared. Shadowed records deleted
// during an outage leave a tombstone that hides the primary's copy until the
// delete is replayed on the primary.
type Fallback struct {
	open    Opener
	memory  *Memory
	breaker *gobreaker.CircuitBreaker

	mu      sync.RWMutex
	primary Backend

	tombMu     sync.Mutex
	tombstones map[Collection]map[string]struct{}
}

// NewFallback creates a Fallback over the backend produced by open. The
// primary is not opened until Open is called.
func NewFallback(open Opener, memory *Memory, cfg FallbackConfig) *Fallback {
	if memory == nil {
		memory = NewMemory()
	}

	f := &Fallback{
		open:       open,
		memory:     memory,
		tombstones: make(map[Collection]map[string]struct{}),
	}

	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "repository",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isNotFound(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.Default().Warn("persistence circuit changed state",
				"name", name, "from", from.String(), "to", to.String())
		},
	})

	return f
}

// Open (re)opens the primary backend and returns the Fallback itself, so it
// can be used as an Opener. A primary that fails to open leaves the Fallback
// in memory-only mode; the error is logged, not returned.
func (f *Fallback) Open(ctx context.Context) (Backend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.primary != nil {
		_ = f.primary.Close()
		f.primary = nil
	}

	primary, err := f.open(ctx)
	if err != nil {
		logging.From(ctx).Warn("persistent backend unavailable, using in-memory fallback", "error", err)
		return f, nil
	}

	f.primary = primary
	return f, nil
}

// Degraded reports whether operations are currently served from memory only
func (f *Fallback) Degraded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.primary == nil || f.breaker.State() == gobreaker.StateOpen
}

// State returns the breaker state name
func (f *Fallback) State() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.primary == nil {
		return "memory-only"
	}
	return f.breaker.State().String()
}

func (f *Fallback) current() Backend {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.primary
}

// exec runs fn against the primary through the breaker. It returns
// errUseMemory when the caller should serve the request from memory.
func (f *Fallback) exec(ctx context.Context, op string, fn func(b Backend) (any, error)) (any, error) {
	primary := f.current()
	if primary == nil {
		return nil, errUseMemory
	}

	v, err := f.breaker.Execute(func() (any, error) {
		return fn(primary)
	})
	if err == nil || isNotFound(err) {
		f.replay(ctx, primary)
		return v, err
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errUseMemory
	}

	logging.From(ctx).Warn("primary backend failed, using in-memory fallback", "op", op, "error", err)
	return nil, errUseMemory
}

var errUseMemory = goerr.New("use memory fallback")

func (f *Fallback) bury(col Collection, key string) {
	f.tombMu.Lock()
	defer f.tombMu.Unlock()
	if f.tombstones[col] == nil {
		f.tombstones[col] = make(map[string]struct{})
	}
	f.tombstones[col][key] = struct{}{}
}

func (f *Fallback) unbury(col Collection, key string) {
	f.tombMu.Lock()
	defer f.tombMu.Unlock()
	delete(f.tombstones[col], key)
}

func (f *Fallback) buried(col Collection, key string) bool {
	f.tombMu.Lock()
	defer f.tombMu.Unlock()
	_, ok := f.tombstones[col][key]
	return ok
}

// replay applies deletes recorded during an outage to the primary. Keys that
// still fail stay buried for the next attempt.
func (f *Fallback) replay(ctx context.Context, primary Backend) {
	f.tombMu.Lock()
	pending := make(map[Collection][]string)
	for col, keys := range f.tombstones {
		for key := range keys {
			pending[col] = append(pending[col], key)
		}
	}
	f.tombMu.Unlock()

	for col, keys := range pending {
		for _, key := range keys {
			if _, err := primary.Delete(ctx, col, key); err != nil {
				logging.From(ctx).Warn("failed to replay delete on primary backend",
					"collection", col, "key", key, "error", err)
				continue
			}
			f.unbury(col, key)
		}
	}
}

func (f *Fallback) Put(ctx context.Context, col Collection, key string, data []byte) error {
	_, err := f.exec(ctx, "put", func(b Backend) (any, error) {
		return nil, b.Put(ctx, col, key, data)
	})
	if errors.Is(err, errUseMemory) {
		if err := f.memory.Put(ctx, col, key, data); err != nil {
			return err
		}
		f.unbury(col, key)
		return nil
	}
	if err != nil {
		return err
	}

	// the primary now holds the latest copy
	f.unbury(col, key)
	_, _ = f.memory.Delete(ctx, col, key)
	return nil
}

func (f *Fallback) Get(ctx context.Context, col Collection, key string) ([]byte, error) {
	if data, err := f.memory.Get(ctx, col, key); err == nil {
		return data, nil
	}
	if f.buried(col, key) {
		return nil, goerr.Wrap(model.ErrNotFound, "record deleted", goerr.V("collection", col), goerr.V("key", key))
	}

	v, err := f.exec(ctx, "get", func(b Backend) (any, error) {
		return b.Get(ctx, col, key)
	})
	if errors.Is(err, errUseMemory) {
		return f.memory.Get(ctx, col, key)
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (f *Fallback) List(ctx context.Context, col Collection) ([]Record, error) {
	shadow, err := f.memory.List(ctx, col)
	if err != nil {
		return nil, err
	}

	// snapshot before the primary call, which may replay and clear tombstones
	f.tombMu.Lock()
	buried := maps.Clone(f.tombstones[col])
	f.tombMu.Unlock()

	v, err := f.exec(ctx, "list", func(b Backend) (any, error) {
		return b.List(ctx, col)
	})
	if errors.Is(err, errUseMemory) {
		return shadow, nil
	}
	if err != nil {
		return nil, err
	}

	merged := make(map[string][]byte)
	for _, r := range v.([]Record) {
		if _, ok := buried[r.Key]; ok {
			continue
		}
		merged[r.Key] = r.Data
	}
	for _, r := range shadow {
		merged[r.Key] = r.Data
	}

	keys := slices.SortedFunc(maps.Keys(merged), strings.Compare)
	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		records = append(records, Record{Key: k, Data: merged[k]})
	}
	return records, nil
}

func (f *Fallback) Delete(ctx context.Context, col Collection, key string) (bool, error) {
	inMemory, _ := f.memory.Delete(ctx, col, key)

	v, err := f.exec(ctx, "delete", func(b Backend) (any, error) {
		return b.Delete(ctx, col, key)
	})
	if errors.Is(err, errUseMemory) {
		if inMemory {
			f.bury(col, key)
			return true, nil
		}
		// the primary may hold the record, but nothing can remove it now
		return false, goerr.Wrap(model.ErrBackendUnavailable, "primary backend cannot serve delete",
			goerr.V("collection", col), goerr.V("key", key))
	}
	if err != nil {
		return inMemory, err
	}
	f.unbury(col, key)
	return inMemory || v.(bool), nil
}

func (f *Fallback) Clear(ctx context.Context, col Collection) error {
	_ = f.memory.Clear(ctx, col)

	f.tombMu.Lock()
	delete(f.tombstones, col)
	f.tombMu.Unlock()

	_, err := f.exec(ctx, "clear", func(b Backend) (any, error) {
		return nil, b.Clear(ctx, col)
	})
	if errors.Is(err, errUseMemory) {
		return nil
	}
	return err
}

// Ping reports the primary's health. The Fallback itself always serves
// requests, so callers use Degraded to tell the two apart.
func (f *Fallback) Ping(ctx context.Context) error {
	primary := f.current()
	if primary == nil {
		return goerr.New("primary backend is not open")
	}
	return primary.Ping(ctx)
}

func (f *Fallback) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.primary == nil {
		return nil
	}
	err := f.primary.Close()
	f.primary = nil
	return err
}
