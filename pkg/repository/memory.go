package repository

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
)

// Memory is a volatile Backend keyed by collection name
type Memory struct {
	mu   sync.RWMutex
	data map[Collection]map[string][]byte
}

// NewMemory creates an empty in-memory backend
func NewMemory() *Memory {
	return &Memory{
		data: make(map[Collection]map[string][]byte),
	}
}

// MemoryOpener returns an Opener that always hands out the same Memory, so
// reopening keeps the data
func MemoryOpener(m *Memory) Opener {
	return func(ctx context.Context) (Backend, error) {
		return m, nil
	}
}

func (m *Memory) Put(ctx context.Context, col Collection, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.data[col]
	if !ok {
		records = make(map[string][]byte)
		m.data[col] = records
	}
	records[key] = slices.Clone(data)
	return nil
}

func (m *Memory) Get(ctx context.Context, col Collection, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[col][key]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "record not found", goerr.V("collection", col), goerr.V("key", key))
	}
	return slices.Clone(data), nil
}

func (m *Memory) List(ctx context.Context, col Collection) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]Record, 0, len(m.data[col]))
	for key, data := range m.data[col] {
		records = append(records, Record{Key: key, Data: slices.Clone(data)})
	}
	slices.SortFunc(records, func(a, b Record) int {
		return strings.Compare(a.Key, b.Key)
	})
	return records, nil
}

func (m *Memory) Delete(ctx context.Context, col Collection, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[col][key]; !ok {
		return false, nil
	}
	delete(m.data[col], key)
	return true, nil
}

func (m *Memory) Clear(ctx context.Context, col Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, col)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// Close is a no-op; data survives a reopen through MemoryOpener
func (m *Memory) Close() error { return nil }
