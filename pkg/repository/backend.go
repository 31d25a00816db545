package repository

import (
	"context"
	"errors"

	"github.com/m-mizutani/meshsim/pkg/model"
)

// Collection names a group of records sharing a key space
type Collection string

const (
	CollectionNodes    Collection = "nodes"
	CollectionMessages Collection = "messages"
	CollectionContent  Collection = "content"
	CollectionMetadata Collection = "metadata"
	CollectionMetrics  Collection = "metrics"
)

// Collections lists every collection the simulation uses
var Collections = []Collection{
	CollectionNodes,
	CollectionMessages,
	CollectionContent,
	CollectionMetadata,
	CollectionMetrics,
}

// Record is a raw JSON document stored under a key
type Record struct {
	Key  string
	Data []byte
}

// Backend is the low level key-value store behind Repository. Get must return
// an error wrapping model.ErrNotFound when the key is absent.
type Backend interface {
	Put(ctx context.Context, col Collection, key string, data []byte) error
	Get(ctx context.Context, col Collection, key string) ([]byte, error)
	List(ctx context.Context, col Collection) ([]Record, error)
	// Delete removes the record and reports whether it existed
	Delete(ctx context.Context, col Collection, key string) (bool, error)
	Clear(ctx context.Context, col Collection) error
	Ping(ctx context.Context) error
	Close() error
}

// Opener opens (or reopens) a Backend
type Opener func(ctx context.Context) (Backend, error)

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
