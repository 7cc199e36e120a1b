package numerator

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/id"
	"bizledger/internal/domain/numbering"
)

const degradedTable = "sys_degraded_allocations"

// PostgresDegradedLog keeps degraded allocations in sys_degraded_allocations.
// It writes through the pool so that the record survives a rollback of the
// business transaction that consumed the number.
type PostgresDegradedLog struct {
	querier func(ctx context.Context) Querier
	builder sq.StatementBuilderType
}

var _ numbering.DegradedLog = (*PostgresDegradedLog)(nil)

// NewPostgresDegradedLog creates the reconciliation log.
func NewPostgresDegradedLog(querier func(ctx context.Context) Querier) *PostgresDegradedLog {
	return &PostgresDegradedLog{
		querier: querier,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Record implements numbering.DegradedLog.
func (l *PostgresDegradedLog) Record(ctx context.Context, d numbering.DegradedAllocation) error {
	sql, args, err := l.builder.Insert(degradedTable).
		Columns("id", "tenant_id", "document_type", "number", "formatted", "cause", "created_at").
		Values(d.ID, d.TenantID, string(d.DocumentType), d.Number, d.Formatted, d.Cause, d.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := l.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("record degraded allocation: %w", err)
	}
	return nil
}

// List implements numbering.DegradedLog. Oldest records come first.
func (l *PostgresDegradedLog) List(ctx context.Context, tenantID string, includeResolved bool) ([]numbering.DegradedAllocation, error) {
	q := l.builder.
		Select("id", "tenant_id", "document_type", "number", "formatted", "cause", "created_at", "resolved_at", "resolved_by").
		From(degradedTable).
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("created_at", "id")
	if !includeResolved {
		q = q.Where(sq.Eq{"resolved_at": nil})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var out []numbering.DegradedAllocation
	if err := pgxscan.Select(ctx, l.querier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("list degraded allocations: %w", err)
	}
	return out, nil
}

// Resolve implements numbering.DegradedLog.
func (l *PostgresDegradedLog) Resolve(ctx context.Context, tenantID string, recordID id.ID, resolvedBy string, at time.Time) error {
	sql, args, err := l.builder.Update(degradedTable).
		Set("resolved_at", at).
		Set("resolved_by", resolvedBy).
		Where(sq.Eq{"id": recordID, "tenant_id": tenantID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := l.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("resolve degraded allocation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("DegradedAllocation", recordID)
	}
	return nil
}
