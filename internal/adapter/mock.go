package adapter

import (
	"context"
	"sync"

	"storesync/internal/model"
)

// Mock implements Backend for testing.
// Each method can be configured via function fields; calls are recorded.
type Mock struct {
	FetchFunc  func(ctx context.Context, req FetchRequest) (*FullCollection, error)
	MutateFunc func(ctx context.Context, m Mutation) (Response, error)

	mu        sync.Mutex
	fetches   []FetchRequest
	mutations []Mutation
}

// Fetch calls the configured FetchFunc or returns an empty collection.
func (m *Mock) Fetch(ctx context.Context, req FetchRequest) (*FullCollection, error) {
	m.mu.Lock()
	m.fetches = append(m.fetches, req)
	m.mu.Unlock()

	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, req)
	}
	return &FullCollection{Items: []model.Item{}}, nil
}

// Mutate calls the configured MutateFunc or acknowledges without a body.
func (m *Mock) Mutate(ctx context.Context, mut Mutation) (Response, error) {
	m.mu.Lock()
	m.mutations = append(m.mutations, mut)
	m.mu.Unlock()

	if m.MutateFunc != nil {
		return m.MutateFunc(ctx, mut)
	}
	return &AckOnly{Status: 204}, nil
}

// Fetches returns the recorded Fetch requests.
func (m *Mock) Fetches() []FetchRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FetchRequest(nil), m.fetches...)
}

// Mutations returns the recorded Mutate calls in dispatch order.
func (m *Mock) Mutations() []Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mutation(nil), m.mutations...)
}

// Verify Mock implements Backend interface at compile time.
var _ Backend = (*Mock)(nil)
