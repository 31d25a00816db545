package repository

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore is a Backend storing each collection as a Firestore collection.
// Records are stored as native documents so they stay readable in the console.
type Firestore struct {
	client *firestore.Client
	prefix string
}

// NewFirestore creates a new Firestore backend. prefix is prepended to every
// collection name so several simulations can share one database.
func NewFirestore(ctx context.Context, projectID, databaseID, prefix string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID), goerr.V("database_id", databaseID))
	}

	return &Firestore{
		client: client,
		prefix: prefix,
	}, nil
}

// FirestoreOpener returns an Opener for NewFirestore
func FirestoreOpener(projectID, databaseID, prefix string) Opener {
	return func(ctx context.Context) (Backend, error) {
		backend, err := NewFirestore(ctx, projectID, databaseID, prefix)
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
}

func (f *Firestore) collection(col Collection) *firestore.CollectionRef {
	return f.client.Collection(f.prefix + string(col))
}

func (f *Firestore) Put(ctx context.Context, col Collection, key string, data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return goerr.Wrap(err, "record is not a JSON object", goerr.V("collection", col), goerr.V("key", key))
	}

	if _, err := f.collection(col).Doc(key).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to set document", goerr.V("collection", col), goerr.V("key", key))
	}
	return nil
}

func (f *Firestore) Get(ctx context.Context, col Collection, key string) ([]byte, error) {
	snap, err := f.collection(col).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "document not found", goerr.V("collection", col), goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to get document", goerr.V("collection", col), goerr.V("key", key))
	}

	data, err := json.Marshal(snap.Data())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal document", goerr.V("collection", col), goerr.V("key", key))
	}
	return data, nil
}

func (f *Firestore) List(ctx context.Context, col Collection) ([]Record, error) {
	iter := f.collection(col).Documents(ctx)
	defer iter.Stop()

	var records []Record
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate documents", goerr.V("collection", col))
		}

		data, err := json.Marshal(snap.Data())
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal document", goerr.V("collection", col), goerr.V("key", snap.Ref.ID))
		}
		records = append(records, Record{Key: snap.Ref.ID, Data: data})
	}
	return records, nil
}

func (f *Firestore) Delete(ctx context.Context, col Collection, key string) (bool, error) {
	_, err := f.collection(col).Doc(key).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, goerr.Wrap(err, "failed to delete document", goerr.V("collection", col), goerr.V("key", key))
	}
	return true, nil
}

func (f *Firestore) Clear(ctx context.Context, col Collection) error {
	refs, err := f.collection(col).DocumentRefs(ctx).GetAll()
	if err != nil {
		return goerr.Wrap(err, "failed to list document refs", goerr.V("collection", col))
	}

	for _, ref := range refs {
		if _, err := ref.Delete(ctx); err != nil {
			return goerr.Wrap(err, "failed to delete document", goerr.V("collection", col), goerr.V("key", ref.ID))
		}
	}
	return nil
}

func (f *Firestore) Ping(ctx context.Context) error {
	iter := f.collection(CollectionMetadata).Limit(1).Documents(ctx)
	defer iter.Stop()

	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return goerr.Wrap(err, "firestore is not reachable")
	}
	return nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}
