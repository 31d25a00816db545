package repository

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
)

// Repository is the typed persistence layer of the simulation. Writes are
// retried with RetryPolicy (reopening the backend between attempts); list
// operations are resilient and return an empty result on backend failure.
type Repository struct {
	open  Opener
	retry RetryPolicy

	mu      sync.RWMutex
	backend Backend
}

// Option is a functional option for Repository
type Option func(*Repository)

// WithRetryPolicy replaces DefaultRetryPolicy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Repository) {
		r.retry = p
	}
}

// New opens the backend and creates a Repository
func New(ctx context.Context, open Opener, opts ...Option) (*Repository, error) {
	r := &Repository{
		open:  open,
		retry: DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(r)
	}

	backend, err := open(ctx)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(model.ErrBackendUnavailable, err), "failed to open backend")
	}
	r.backend = backend

	return r, nil
}

// NewInMemory creates a Repository over a fresh in-memory backend
func NewInMemory(ctx context.Context, opts ...Option) *Repository {
	r, _ := New(ctx, MemoryOpener(NewMemory()), opts...)
	return r
}

func (r *Repository) current() Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backend
}

func (r *Repository) reopen(ctx context.Context, attempt int, cause error) {
	logging.From(ctx).Warn("backend write failed, reopening", "attempt", attempt, "error", cause)

	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.backend.Close()
	backend, err := r.open(ctx)
	if err != nil {
		logging.From(ctx).Warn("failed to reopen backend", "error", err)
		return
	}
	r.backend = backend
}

// put marshals v and upserts it with bounded retry
func (r *Repository) put(ctx context.Context, col Collection, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal record", goerr.V("collection", col), goerr.V("key", key))
	}

	err = r.retry.Do(ctx, func(ctx context.Context) error {
		return r.current().Put(ctx, col, key, data)
	}, r.reopen)
	if err != nil {
		return goerr.Wrap(errors.Join(model.ErrBackendUnavailable, err), "failed to put record",
			goerr.V("collection", col), goerr.V("key", key), goerr.V("attempts", r.retry.MaxAttempts))
	}
	return nil
}

func getRecord[T any](ctx context.Context, r *Repository, col Collection, key string) (*T, error) {
	data, err := r.current().Get(ctx, col, key)
	if err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, goerr.Wrap(errors.Join(model.ErrBackendUnavailable, err), "failed to get record",
			goerr.V("collection", col), goerr.V("key", key))
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal record", goerr.V("collection", col), goerr.V("key", key))
	}
	return &v, nil
}

// listRecords returns every decodable record of a collection. Backend failures
// are logged and reported as an empty result.
func listRecords[T any](ctx context.Context, r *Repository, col Collection) []*T {
	records, err := r.current().List(ctx, col)
	if err != nil {
		logging.From(ctx).Warn("failed to list records, returning empty result", "collection", col, "error", err)
		return []*T{}
	}

	result := make([]*T, 0, len(records))
	for _, rec := range records {
		var v T
		if err := json.Unmarshal(rec.Data, &v); err != nil {
			logging.From(ctx).Warn("skip broken record", "collection", col, "key", rec.Key, "error", err)
			continue
		}
		result = append(result, &v)
	}
	return result
}

func (r *Repository) delete(ctx context.Context, col Collection, key string) (bool, error) {
	existed, err := r.current().Delete(ctx, col, key)
	if err != nil {
		return false, goerr.Wrap(errors.Join(model.ErrBackendUnavailable, err), "failed to delete record",
			goerr.V("collection", col), goerr.V("key", key))
	}
	return existed, nil
}

// PutNode saves a node
func (r *Repository) PutNode(ctx context.Context, node *model.Node) error {
	return r.put(ctx, CollectionNodes, string(node.ID), node)
}

// GetNode retrieves a node by ID
func (r *Repository) GetNode(ctx context.Context, id model.NodeID) (*model.Node, error) {
	return getRecord[model.Node](ctx, r, CollectionNodes, string(id))
}

// ListNodes retrieves all nodes ordered by ID
func (r *Repository) ListNodes(ctx context.Context) []*model.Node {
	return listRecords[model.Node](ctx, r, CollectionNodes)
}

// PutMessage saves a message
func (r *Repository) PutMessage(ctx context.Context, msg *model.Message) error {
	return r.put(ctx, CollectionMessages, string(msg.ID), msg)
}

// GetMessage retrieves a message by ID
func (r *Repository) GetMessage(ctx context.Context, id model.MessageID) (*model.Message, error) {
	return getRecord[model.Message](ctx, r, CollectionMessages, string(id))
}

// ListMessages retrieves all messages, newest first
func (r *Repository) ListMessages(ctx context.Context) []*model.Message {
	msgs := listRecords[model.Message](ctx, r, CollectionMessages)
	slices.SortStableFunc(msgs, func(a, b *model.Message) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return msgs
}

// PutContent saves a content record under its CID
func (r *Repository) PutContent(ctx context.Context, rec *model.ContentRecord) error {
	return r.put(ctx, CollectionContent, string(rec.CID), rec)
}

// GetContent retrieves a content record by CID
func (r *Repository) GetContent(ctx context.Context, cid model.CID) (*model.ContentRecord, error) {
	return getRecord[model.ContentRecord](ctx, r, CollectionContent, string(cid))
}

// DeleteContent removes a content record and reports whether it existed
func (r *Repository) DeleteContent(ctx context.Context, cid model.CID) (bool, error) {
	return r.delete(ctx, CollectionContent, string(cid))
}

// ListContent retrieves all content records
func (r *Repository) ListContent(ctx context.Context) []*model.ContentRecord {
	return listRecords[model.ContentRecord](ctx, r, CollectionContent)
}

// PutMetadata sets a metadata flag
func (r *Repository) PutMetadata(ctx context.Context, key string, value any) error {
	return r.put(ctx, CollectionMetadata, key, &model.MetadataEntry{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	})
}

// GetMetadata retrieves a metadata flag
func (r *Repository) GetMetadata(ctx context.Context, key string) (*model.MetadataEntry, error) {
	return getRecord[model.MetadataEntry](ctx, r, CollectionMetadata, key)
}

// PutSnapshot saves a services metrics snapshot
func (r *Repository) PutSnapshot(ctx context.Context, snapshot *model.MetricsSnapshot) error {
	return r.put(ctx, CollectionMetrics, string(snapshot.ID), snapshot)
}

// ListSnapshots retrieves metrics snapshots, oldest first
func (r *Repository) ListSnapshots(ctx context.Context) []*model.MetricsSnapshot {
	snapshots := listRecords[model.MetricsSnapshot](ctx, r, CollectionMetrics)
	slices.SortStableFunc(snapshots, func(a, b *model.MetricsSnapshot) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return snapshots
}

// Clear removes every record of the given collections, or of all collections when none is given
func (r *Repository) Clear(ctx context.Context, cols ...Collection) error {
	if len(cols) == 0 {
		cols = Collections
	}
	for _, col := range cols {
		if err := r.current().Clear(ctx, col); err != nil {
			return goerr.Wrap(errors.Join(model.ErrBackendUnavailable, err), "failed to clear collection", goerr.V("collection", col))
		}
	}
	return nil
}

// Health describes the reachability of the persistence backend
type Health struct {
	Reachable bool   `json:"reachable"`
	Degraded  bool   `json:"degraded"`
	State     string `json:"state"`
}

// Health reports whether the backend is reachable without exposing its implementation
func (r *Repository) Health(ctx context.Context) Health {
	backend := r.current()
	h := Health{
		Reachable: backend.Ping(ctx) == nil,
		State:     "ok",
	}
	if fb, ok := backend.(*Fallback); ok {
		h.Degraded = fb.Degraded()
		h.State = fb.State()
	}
	if !h.Reachable && !h.Degraded {
		h.State = "unreachable"
	}
	return h
}

// Close closes the backend
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backend.Close()
}
