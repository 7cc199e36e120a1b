package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/tx"
	"bizledger/pkg/logger"
)

var tracer = otel.Tracer("bizledger/tx")

var _ tx.SerializableManager = (*TxManager)(nil)

const (
	// statementTimeout bounds every statement of a ledger transaction.
	statementTimeout = 30 * time.Second

	// serializableAttempts is how often a serializable unit is run before a
	// serialization failure is reported as CONCURRENT_MODIFICATION.
	serializableAttempts = 3
)

// TxManager runs ledger units of work in PostgreSQL transactions. The active
// transaction travels in the context; nested calls join it.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager creates a new transaction manager.
func NewTxManager(pool *Pool) *TxManager {
	return &TxManager{pool: pool.Pool}
}

type txKey struct{}

// Tx is the transaction stored in the context.
type Tx struct {
	pgx.Tx
	isolation pgx.TxIsoLevel
}

// RunInTransaction executes fn at read committed. Row locks taken by the
// repositories (GetForUpdate) serialize writers of the same item or document.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.GetTx(ctx) != nil {
		return fn(ctx)
	}
	return m.run(ctx, pgx.ReadCommitted, fn)
}

// RunSerializable executes fn at serializable isolation. Serialization
// failures and deadlocks restart fn up to serializableAttempts times; fn
// therefore must re-read everything it decides on. A failure that persists is
// reported as CONCURRENT_MODIFICATION.
func (m *TxManager) RunSerializable(ctx context.Context, fn func(ctx context.Context) error) error {
	if existing := m.GetTx(ctx); existing != nil {
		if existing.isolation != pgx.Serializable {
			return fmt.Errorf("serializable unit cannot join a %s transaction", existing.isolation)
		}
		return fn(ctx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := m.run(ctx, pgx.Serializable, fn)
		switch {
		case err == nil:
			return struct{}{}, nil
		case IsSerializationFailure(err):
			logger.Debug(ctx, "serialization failure, restarting transaction", "attempt", attempt)
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(serializableAttempts),
	)

	if IsSerializationFailure(err) {
		return apperror.NewConcurrentModification("transaction", nil).
			WithDetail("attempts", attempt).
			WithCause(err)
	}
	return err
}

// IsSerializationFailure reports whether err is a PostgreSQL serialization
// failure (40001) or deadlock (40P01).
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func (m *TxManager) run(ctx context.Context, iso pgx.TxIsoLevel, fn func(ctx context.Context) error) (err error) {
	ctx, span := tracer.Start(ctx, "transaction",
		trace.WithAttributes(attribute.String("tx.isolation", string(iso))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rolled back")
		}
		span.End()
	}()

	ptx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := ptx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", statementTimeout.Milliseconds())); err != nil {
		_ = ptx.Rollback(context.WithoutCancel(ctx))
		return fmt.Errorf("set statement_timeout: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, &Tx{Tx: ptx, isolation: iso})
	if err := fn(txCtx); err != nil {
		// The rollback must complete even when ctx is already cancelled.
		if rbErr := ptx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logger.Error(ctx, "rollback failed", "error", rbErr, "original_error", err)
		}
		return err
	}

	if err := ptx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetTx returns the current transaction from context, or nil if none.
func (m *TxManager) GetTx(ctx context.Context) *Tx {
	if t, ok := ctx.Value(txKey{}).(*Tx); ok {
		return t
	}
	return nil
}

// Querier is implemented by both the pool and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetQuerier returns the transaction in ctx, or the pool outside a transaction.
func (m *TxManager) GetQuerier(ctx context.Context) Querier {
	if t := m.GetTx(ctx); t != nil {
		return t.Tx
	}
	return m.pool
}
