package repository_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/repository"
)

// testBackend runs the common contract every Backend must satisfy
func testBackend(t *testing.T, b repository.Backend) {
	ctx := context.Background()
	col := repository.CollectionContent
	key := "Qm" + uuid.NewString()

	t.Cleanup(func() {
		_ = b.Clear(ctx, col)
		_ = b.Close()
	})

	t.Run("get missing key", func(t *testing.T) {
		_, err := b.Get(ctx, col, "no-such-key")
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("put then get", func(t *testing.T) {
		gt.NoError(t, b.Put(ctx, col, key, []byte(`{"content":"hello"}`)))
		data, err := b.Get(ctx, col, key)
		gt.NoError(t, err)
		gt.S(t, string(data)).Contains(`"hello"`)
	})

	t.Run("put overwrites", func(t *testing.T) {
		gt.NoError(t, b.Put(ctx, col, key, []byte(`{"content":"world"}`)))
		data, err := b.Get(ctx, col, key)
		gt.NoError(t, err)
		gt.S(t, string(data)).Contains(`"world"`)
	})

	t.Run("list", func(t *testing.T) {
		gt.NoError(t, b.Put(ctx, col, key+"-2", []byte(`{"content":"second"}`)))
		records, err := b.List(ctx, col)
		gt.NoError(t, err)
		gt.A(t, records).Length(2)
	})

	t.Run("collections are isolated", func(t *testing.T) {
		records, err := b.List(ctx, repository.CollectionMetrics)
		gt.NoError(t, err)
		for _, r := range records {
			gt.NotEqual(t, r.Key, key)
		}
	})

	t.Run("delete", func(t *testing.T) {
		existed, err := b.Delete(ctx, col, key)
		gt.NoError(t, err)
		gt.True(t, existed)

		existed, err = b.Delete(ctx, col, key)
		gt.NoError(t, err)
		gt.False(t, existed)

		_, err = b.Get(ctx, col, key)
		gt.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("clear", func(t *testing.T) {
		gt.NoError(t, b.Clear(ctx, col))
		records, err := b.List(ctx, col)
		gt.NoError(t, err)
		gt.A(t, records).Length(0)
	})

	t.Run("ping", func(t *testing.T) {
		gt.NoError(t, b.Ping(ctx))
	})
}

func TestMemoryBackend(t *testing.T) {
	testBackend(t, repository.NewMemory())
}

func TestSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	b, err := repository.NewSQLite(ctx, filepath.Join(t.TempDir(), "meshsim.db"))
	gt.NoError(t, err)
	testBackend(t, b)
}

func TestSQLiteDurability(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meshsim.db")

	b, err := repository.NewSQLite(ctx, path)
	gt.NoError(t, err)
	gt.NoError(t, b.Put(ctx, repository.CollectionNodes, "node-1", []byte(`{"id":"node-1"}`)))
	gt.NoError(t, b.Close())

	reopened, err := repository.NewSQLite(ctx, path)
	gt.NoError(t, err)
	defer reopened.Close()

	data, err := reopened.Get(ctx, repository.CollectionNodes, "node-1")
	gt.NoError(t, err)
	gt.S(t, string(data)).Contains("node-1")
}

func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN is not set")
	}

	b, err := repository.NewPostgres(context.Background(), dsn)
	gt.NoError(t, err)
	testBackend(t, b)
}

func TestFirestoreBackend(t *testing.T) {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	b, err := repository.NewFirestore(context.Background(), projectID, databaseID, "test_"+uuid.NewString()[:8]+"_")
	gt.NoError(t, err)
	testBackend(t, b)
}

func TestObjectStoreBackend(t *testing.T) {
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_GCS_BUCKET is not set")
	}

	open := repository.ObjectStoreOpener(bucket, "test/"+uuid.NewString()+"/")
	b, err := open(context.Background())
	gt.NoError(t, err)
	testBackend(t, b)
}

func TestDynamoDBBackend(t *testing.T) {
	table := os.Getenv("TEST_DYNAMODB_TABLE")
	if table == "" {
		t.Skip("TEST_DYNAMODB_TABLE is not set")
	}

	b, err := repository.NewDynamoDB(context.Background(), table, os.Getenv("TEST_DYNAMODB_REGION"))
	gt.NoError(t, err)
	testBackend(t, b)
}
