package repository

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/adapter"
)

// ObjectStore is a Backend over object storage. Each record is one JSON
// object at "<prefix><collection>/<escaped key>.json".
type ObjectStore struct {
	storage adapter.Storage
	prefix  string
}

// NewObjectStore creates an ObjectStore on top of storage
func NewObjectStore(storage adapter.Storage, prefix string) *ObjectStore {
	return &ObjectStore{
		storage: storage,
		prefix:  prefix,
	}
}

// ObjectStoreOpener returns an Opener creating a Cloud Storage client for bucket
func ObjectStoreOpener(bucket, prefix string) Opener {
	return func(ctx context.Context) (Backend, error) {
		storage, err := adapter.NewStorage(ctx, bucket)
		if err != nil {
			return nil, err
		}
		return NewObjectStore(storage, prefix), nil
	}
}

func (o *ObjectStore) dir(col Collection) string {
	return o.prefix + string(col) + "/"
}

func (o *ObjectStore) objectKey(col Collection, key string) string {
	return o.dir(col) + url.PathEscape(key) + ".json"
}

func (o *ObjectStore) recordKey(objectKey string) (string, bool) {
	name := strings.TrimSuffix(path.Base(objectKey), ".json")
	key, err := url.PathUnescape(name)
	if err != nil {
		return "", false
	}
	return key, true
}

func (o *ObjectStore) Put(ctx context.Context, col Collection, key string, data []byte) error {
	w, err := o.storage.Put(ctx, o.objectKey(col, key))
	if err != nil {
		return goerr.Wrap(err, "failed to open object writer", goerr.V("collection", col), goerr.V("key", key))
	}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write object", goerr.V("collection", col), goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to commit object", goerr.V("collection", col), goerr.V("key", key))
	}
	return nil
}

func (o *ObjectStore) Get(ctx context.Context, col Collection, key string) ([]byte, error) {
	r, err := o.storage.Get(ctx, o.objectKey(col, key))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read object", goerr.V("collection", col), goerr.V("key", key))
	}
	return data, nil
}

func (o *ObjectStore) List(ctx context.Context, col Collection) ([]Record, error) {
	keys, err := o.storage.List(ctx, o.dir(col))
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(keys))
	for _, objectKey := range keys {
		key, ok := o.recordKey(objectKey)
		if !ok {
			continue
		}
		data, err := o.Get(ctx, col, key)
		if err != nil {
			// deleted between list and get
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		records = append(records, Record{Key: key, Data: data})
	}
	return records, nil
}

func (o *ObjectStore) Delete(ctx context.Context, col Collection, key string) (bool, error) {
	if err := o.storage.Delete(ctx, o.objectKey(col, key)); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (o *ObjectStore) Clear(ctx context.Context, col Collection) error {
	keys, err := o.storage.List(ctx, o.dir(col))
	if err != nil {
		return err
	}

	var errs []error
	for _, key := range keys {
		if err := o.storage.Delete(ctx, key); err != nil && !isNotFound(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return goerr.Wrap(errors.Join(errs...), "failed to clear collection", goerr.V("collection", col))
	}
	return nil
}

func (o *ObjectStore) Ping(ctx context.Context) error {
	if _, err := o.storage.List(ctx, o.dir(CollectionMetadata)); err != nil {
		return goerr.Wrap(err, "object storage is not reachable")
	}
	return nil
}

func (o *ObjectStore) Close() error {
	return o.storage.Close()
}
