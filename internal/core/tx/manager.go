// Package tx provides transaction management abstractions.
// Domain services depend on this interface; the PostgreSQL and in-memory
// implementations live in infrastructure/storage.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
type Manager interface {
	// RunInTransaction executes fn within a transaction.
	// If fn returns an error, every write made through ctx is rolled back.
	// If fn succeeds, the transaction is committed.
	//
	// Nested calls reuse the existing transaction from context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// SerializableManager runs fn at serializable isolation. Multi-document
// write-pairs (storno) use it so that concurrent reversals of the same
// invoice cannot both commit.
type SerializableManager interface {
	Manager

	RunSerializable(ctx context.Context, fn func(ctx context.Context) error) error
}
