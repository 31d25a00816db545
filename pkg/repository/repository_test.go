package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/repository"
)

var errInjected = goerr.New("injected failure")

// flakyBackend wraps Memory and fails a configured number of operations
type flakyBackend struct {
	*repository.Memory

	mu        sync.Mutex
	putFails  int
	listFails bool
	puts      int
}

func (f *flakyBackend) Put(ctx context.Context, col repository.Collection, key string, data []byte) error {
	f.mu.Lock()
	f.puts++
	fail := f.putFails > 0
	if fail {
		f.putFails--
	}
	f.mu.Unlock()

	if fail {
		return errInjected
	}
	return f.Memory.Put(ctx, col, key, data)
}

func (f *flakyBackend) List(ctx context.Context, col repository.Collection) ([]repository.Record, error) {
	if f.listFails {
		return nil, errInjected
	}
	return f.Memory.List(ctx, col)
}

func (f *flakyBackend) Ping(ctx context.Context) error {
	if f.listFails {
		return errInjected
	}
	return nil
}

func countingOpener(b repository.Backend, opens *int) repository.Opener {
	return func(ctx context.Context) (repository.Backend, error) {
		*opens++
		return b, nil
	}
}

var fastRetry = repository.WithRetryPolicy(repository.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond})

func TestRepositoryNodes(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewInMemory(ctx)

	for _, id := range []model.NodeID{"node-2", "node-1", "assistant-1"} {
		gt.NoError(t, repo.PutNode(ctx, &model.Node{ID: id, Type: model.NodeTypeStandard, Active: true}))
	}

	node, err := repo.GetNode(ctx, "node-1")
	gt.NoError(t, err)
	gt.Equal(t, node.ID, model.NodeID("node-1"))
	gt.True(t, node.Active)

	_, err = repo.GetNode(ctx, "node-404")
	gt.True(t, errors.Is(err, model.ErrNotFound))

	nodes := repo.ListNodes(ctx)
	gt.A(t, nodes).Length(3)
	gt.Equal(t, nodes[0].ID, model.NodeID("assistant-1"))
}

func TestRepositoryMessagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewInMemory(ctx)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []model.MessageID{"msg_a", "msg_b", "msg_c"} {
		gt.NoError(t, repo.PutMessage(ctx, &model.Message{
			ID:        id,
			From:      "node-1",
			To:        "node-2",
			Type:      model.MessageTypeQuery,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs := repo.ListMessages(ctx)
	gt.A(t, msgs).Length(3)
	gt.Equal(t, msgs[0].ID, model.MessageID("msg_c"))
	gt.Equal(t, msgs[2].ID, model.MessageID("msg_a"))
}

func TestRepositoryContent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewInMemory(ctx)
	cid := model.DeriveCID("hello")

	gt.NoError(t, repo.PutContent(ctx, &model.ContentRecord{
		CID:      cid,
		Content:  "hello",
		Size:     5,
		Metadata: map[string]any{"kind": "greeting", "n": 1},
	}))

	rec, err := repo.GetContent(ctx, cid)
	gt.NoError(t, err)
	gt.Equal(t, rec.Content, "hello")
	// numbers come back from JSON as float64
	gt.V(t, rec.Metadata["n"]).Equal(float64(1))

	existed, err := repo.DeleteContent(ctx, cid)
	gt.NoError(t, err)
	gt.True(t, existed)

	existed, err = repo.DeleteContent(ctx, cid)
	gt.NoError(t, err)
	gt.False(t, existed)
}

func TestRepositoryMetadataAndClear(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewInMemory(ctx)

	gt.NoError(t, repo.PutMetadata(ctx, model.MetadataNetworkInitialized, true))
	entry, err := repo.GetMetadata(ctx, model.MetadataNetworkInitialized)
	gt.NoError(t, err)
	gt.V(t, entry.Value).Equal(true)

	gt.NoError(t, repo.PutNode(ctx, &model.Node{ID: "node-1"}))
	gt.NoError(t, repo.Clear(ctx, repository.CollectionNodes))
	gt.A(t, repo.ListNodes(ctx)).Length(0)

	// metadata survives a partial clear
	_, err = repo.GetMetadata(ctx, model.MetadataNetworkInitialized)
	gt.NoError(t, err)

	gt.NoError(t, repo.Clear(ctx))
	_, err = repo.GetMetadata(ctx, model.MetadataNetworkInitialized)
	gt.True(t, errors.Is(err, model.ErrNotFound))
}

func TestRepositorySnapshotsOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewInMemory(ctx)
	base := time.Now()

	later := &model.MetricsSnapshot{ID: "b", Timestamp: base.Add(time.Minute)}
	earlier := &model.MetricsSnapshot{ID: "a", Timestamp: base}
	gt.NoError(t, repo.PutSnapshot(ctx, later))
	gt.NoError(t, repo.PutSnapshot(ctx, earlier))

	snapshots := repo.ListSnapshots(ctx)
	gt.A(t, snapshots).Length(2)
	gt.Equal(t, snapshots[0].ID, model.SnapshotID("a"))
}

func TestRepositoryRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures and reopens between attempts", func(t *testing.T) {
		backend := &flakyBackend{Memory: repository.NewMemory(), putFails: 2}
		var opens int
		repo, err := repository.New(ctx, countingOpener(backend, &opens), fastRetry)
		gt.NoError(t, err)

		gt.NoError(t, repo.PutNode(ctx, &model.Node{ID: "node-1"}))
		gt.Equal(t, backend.puts, 3)
		// initial open plus one reopen per failed attempt
		gt.Equal(t, opens, 3)

		_, err = repo.GetNode(ctx, "node-1")
		gt.NoError(t, err)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		backend := &flakyBackend{Memory: repository.NewMemory(), putFails: 10}
		var opens int
		repo, err := repository.New(ctx, countingOpener(backend, &opens), fastRetry)
		gt.NoError(t, err)

		err = repo.PutNode(ctx, &model.Node{ID: "node-1"})
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrBackendUnavailable))
		gt.Equal(t, backend.puts, 3)
	})

	t.Run("open failure", func(t *testing.T) {
		_, err := repository.New(ctx, func(ctx context.Context) (repository.Backend, error) {
			return nil, errInjected
		})
		gt.True(t, errors.Is(err, model.ErrBackendUnavailable))
	})
}

func TestRetryPolicyDo(t *testing.T) {
	ctx := context.Background()
	policy := repository.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}

	t.Run("not found is not retried", func(t *testing.T) {
		var calls int
		err := policy.Do(ctx, func(ctx context.Context) error {
			calls++
			return goerr.Wrap(model.ErrNotFound, "missing")
		}, nil)
		gt.True(t, errors.Is(err, model.ErrNotFound))
		gt.Equal(t, calls, 1)
	})

	t.Run("cancelled context aborts waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		slow := repository.RetryPolicy{MaxAttempts: 3, Delay: time.Hour}

		var calls int
		err := slow.Do(ctx, func(ctx context.Context) error {
			calls++
			return errInjected
		}, func(ctx context.Context, attempt int, err error) {
			cancel()
		})
		gt.True(t, errors.Is(err, context.Canceled))
		gt.Equal(t, calls, 1)
	})
}

func TestRepositoryResilientList(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Memory: repository.NewMemory()}
	var opens int
	repo, err := repository.New(ctx, countingOpener(backend, &opens), fastRetry)
	gt.NoError(t, err)

	gt.NoError(t, repo.PutNode(ctx, &model.Node{ID: "node-1"}))
	backend.listFails = true

	gt.A(t, repo.ListNodes(ctx)).Length(0)
	gt.A(t, repo.ListContent(ctx)).Length(0)

	h := repo.Health(ctx)
	gt.False(t, h.Reachable)
	gt.Equal(t, h.State, "unreachable")
}
