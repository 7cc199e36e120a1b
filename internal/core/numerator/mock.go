package numerator

import (
	"context"
)

// MockStore is a test implementation of Store.
// Use in unit tests to avoid storage dependencies.
type MockStore struct {
	TakeFunc   func(ctx context.Context, tenantID string, dt DocumentType, seed Config) (Taken, error)
	GetFunc    func(ctx context.Context, tenantID string, dt DocumentType) (Counter, error)
	ListFunc   func(ctx context.Context, tenantID string) ([]Counter, error)
	EnsureFunc func(ctx context.Context, tenantID string, dt DocumentType, cfg Config) (bool, error)
	SetFunc    func(ctx context.Context, c Counter, allowLower bool) error
}

// Take implements Store.
func (m *MockStore) Take(ctx context.Context, tenantID string, dt DocumentType, seed Config) (Taken, error) {
	if m.TakeFunc != nil {
		return m.TakeFunc(ctx, tenantID, dt, seed)
	}
	return Taken{Number: seed.Seed, Format: seed.Format, Prefix: seed.Prefix}, nil
}

// Get implements Store.
func (m *MockStore) Get(ctx context.Context, tenantID string, dt DocumentType) (Counter, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, tenantID, dt)
	}
	return Counter{}, ErrCounterNotFound
}

// List implements Store.
func (m *MockStore) List(ctx context.Context, tenantID string) ([]Counter, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, tenantID)
	}
	return nil, nil
}

// Ensure implements Store.
func (m *MockStore) Ensure(ctx context.Context, tenantID string, dt DocumentType, cfg Config) (bool, error) {
	if m.EnsureFunc != nil {
		return m.EnsureFunc(ctx, tenantID, dt, cfg)
	}
	return true, nil
}

// Set implements Store.
func (m *MockStore) Set(ctx context.Context, c Counter, allowLower bool) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, c, allowLower)
	}
	return nil
}

// Ensure compile-time interface compliance.
var _ Store = (*MockStore)(nil)
