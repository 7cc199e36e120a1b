// Package numerator provides the durable SequenceStore backends:
// PostgreSQL (single-statement upsert) and Redis (optimistic WATCH/MULTI).
package numerator

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	corenumerator "bizledger/internal/core/numerator"
)

const sequencesTable = "sys_sequences"

// Querier interface for database operations.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps counters in sys_sequences keyed by (tenant_id, document_type).
type PostgresStore struct {
	querier func(ctx context.Context) Querier
	builder sq.StatementBuilderType
}

// Ensure compile-time interface compliance.
var _ corenumerator.Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store that resolves its querier per call, so a
// counter taken inside a business transaction commits or rolls back with it.
func NewPostgresStore(querier func(ctx context.Context) Querier) *PostgresStore {
	return &PostgresStore{
		querier: querier,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// NewStaticPostgresStore creates a store bound to a single querier.
func NewStaticPostgresStore(q Querier) *PostgresStore {
	return NewPostgresStore(func(context.Context) Querier { return q })
}

// Take implements Store with one INSERT ... ON CONFLICT DO UPDATE ... RETURNING.
// The row lock taken by the upsert serializes concurrent callers on the same key,
// and a missing row is created with the seed inside the same statement.
func (s *PostgresStore) Take(ctx context.Context, tenantID string, dt corenumerator.DocumentType, seed corenumerator.Config) (corenumerator.Taken, error) {
	var t corenumerator.Taken
	err := s.querier(ctx).QueryRow(ctx, `
		INSERT INTO sys_sequences (tenant_id, document_type, next_number, format, prefix, updated_at)
		VALUES ($1, $2, $3::bigint + 1, $4, $5, now())
		ON CONFLICT (tenant_id, document_type) DO UPDATE
			SET next_number = sys_sequences.next_number + 1, updated_at = now()
		RETURNING next_number - 1, format, prefix
	`, tenantID, string(dt), seed.Seed, seed.Format, seed.Prefix).Scan(&t.Number, &t.Format, &t.Prefix)
	if err != nil {
		return corenumerator.Taken{}, mapError("take", err)
	}
	return t, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, tenantID string, dt corenumerator.DocumentType) (corenumerator.Counter, error) {
	query, args, err := s.selectCounters().
		Where(sq.Eq{"tenant_id": tenantID, "document_type": string(dt)}).
		ToSql()
	if err != nil {
		return corenumerator.Counter{}, fmt.Errorf("build query: %w", err)
	}

	var c corenumerator.Counter
	if err := pgxscan.Get(ctx, s.querier(ctx), &c, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return corenumerator.Counter{}, corenumerator.ErrCounterNotFound
		}
		return corenumerator.Counter{}, mapError("get", err)
	}
	return c, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, tenantID string) ([]corenumerator.Counter, error) {
	query, args, err := s.selectCounters().
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("document_type").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var counters []corenumerator.Counter
	if err := pgxscan.Select(ctx, s.querier(ctx), &counters, query, args...); err != nil {
		return nil, mapError("list", err)
	}
	return counters, nil
}

// Ensure implements Store.
func (s *PostgresStore) Ensure(ctx context.Context, tenantID string, dt corenumerator.DocumentType, cfg corenumerator.Config) (bool, error) {
	tag, err := s.querier(ctx).Exec(ctx, `
		INSERT INTO sys_sequences (tenant_id, document_type, next_number, format, prefix, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (tenant_id, document_type) DO NOTHING
	`, tenantID, string(dt), cfg.Seed, cfg.Format, cfg.Prefix)
	if err != nil {
		return false, mapError("ensure", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, c corenumerator.Counter, allowLower bool) error {
	_, err := s.querier(ctx).Exec(ctx, `
		INSERT INTO sys_sequences (tenant_id, document_type, next_number, format, prefix, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (tenant_id, document_type) DO UPDATE
			SET next_number = CASE WHEN $6::boolean THEN EXCLUDED.next_number
			                       ELSE GREATEST(sys_sequences.next_number, EXCLUDED.next_number) END,
			    format = EXCLUDED.format,
			    prefix = EXCLUDED.prefix,
			    updated_at = now()
	`, c.TenantID, string(c.DocumentType), c.NextNumber, c.Format, c.Prefix, allowLower)
	if err != nil {
		return mapError("set", err)
	}
	return nil
}

func (s *PostgresStore) selectCounters() sq.SelectBuilder {
	return s.builder.
		Select("tenant_id", "document_type", "next_number", "format", "prefix", "updated_at").
		From(sequencesTable)
}

// mapError marks serialization failures and deadlocks as retryable conflicts.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%s counter: %w: %v", op, corenumerator.ErrConflict, err)
		}
	}
	return fmt.Errorf("%s counter: %w", op, err)
}
