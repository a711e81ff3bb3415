package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Ensure MockBlobStorage implements BlobStorage
var _ driven.BlobStorage = (*MockBlobStorage)(nil)

// MockBlobStorage keeps blobs in memory and counts physical writes.
type MockBlobStorage struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	writes int

	// Custom behavior hooks (optional)
	PutFn func(key string, data []byte) (bool, error)
}

// NewMockBlobStorage creates an empty blob store
func NewMockBlobStorage() *MockBlobStorage {
	return &MockBlobStorage{blobs: make(map[string][]byte)}
}

// Put stores data unless key already exists
func (m *MockBlobStorage) Put(ctx context.Context, key string, data []byte) (bool, error) {
	if m.PutFn != nil {
		return m.PutFn(key, data)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[key]; ok {
		return false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[key] = cp
	m.writes++
	return true, nil
}

// Get returns the blob at key
func (m *MockBlobStorage) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Exists reports whether key holds a blob
func (m *MockBlobStorage) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok, nil
}

// Delete removes the blob at key
func (m *MockBlobStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Writes returns how many blobs were physically written.
func (m *MockBlobStorage) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Len returns the number of stored blobs.
func (m *MockBlobStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
