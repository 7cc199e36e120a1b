// Package document_repo provides PostgreSQL implementations for document repositories.
// Document lines are stored as JSONB columns next to the header row.
package document_repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/id"
	"bizledger/internal/infrastructure/storage/postgres"
)

// BaseDocumentRepo provides common operations for a document table. R is the
// row type: the domain document plus its JSON-encoded line columns.
type BaseDocumentRepo[R any] struct {
	txManager  *postgres.TxManager
	tableName  string
	entityName string
	selectCols []string
}

// NewBaseDocumentRepo creates a new base document repository.
func NewBaseDocumentRepo[R any](txManager *postgres.TxManager, tableName, entityName string) *BaseDocumentRepo[R] {
	return &BaseDocumentRepo[R]{
		txManager:  txManager,
		tableName:  tableName,
		entityName: entityName,
		selectCols: postgres.ExtractDBColumns[R](),
	}
}

// Builder returns a new squirrel builder.
func (r *BaseDocumentRepo[R]) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// SelectBuilder selects all columns of the table for a tenant.
func (r *BaseDocumentRepo[R]) SelectBuilder(tenantID string) squirrel.SelectBuilder {
	return r.Builder().Select(r.selectCols...).From(r.tableName).
		Where(squirrel.Eq{"tenant_id": tenantID})
}

// Insert inserts a row.
func (r *BaseDocumentRepo[R]) Insert(ctx context.Context, row *R) error {
	data := postgres.StructToMap(row)
	if len(data) == 0 {
		return fmt.Errorf("no db tags found in %s row", r.entityName)
	}

	sql, args, err := r.Builder().Insert(r.tableName).SetMap(data).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperror.NewConflict(fmt.Sprintf("%s already exists", r.entityName)).WithCause(err)
		}
		return fmt.Errorf("insert %s: %w", r.tableName, err)
	}
	return nil
}

// Update writes a row with optimistic locking. The caller has already
// incremented the version (entity.BaseEntity.Touch), so the stored row must
// still carry version-1.
func (r *BaseDocumentRepo[R]) Update(ctx context.Context, row *R) error {
	data := postgres.StructToMap(row)
	if len(data) == 0 {
		return fmt.Errorf("no db tags found in %s row", r.entityName)
	}

	entityID := data["id"]
	tenantID := data["tenant_id"]
	version, ok := data["version"].(int)
	if !ok {
		return fmt.Errorf("%s row has no int version", r.entityName)
	}

	// Exclude immutable fields
	for _, col := range []string{"id", "tenant_id", "created_at", "created_by", "number"} {
		delete(data, col)
	}

	sql, args, err := r.Builder().Update(r.tableName).
		SetMap(data).
		Where(squirrel.Eq{"id": entityID, "tenant_id": tenantID}).
		Where(squirrel.Eq{"version": version - 1}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperror.NewConflict(fmt.Sprintf("%s conflicts with an existing record", r.entityName)).WithCause(err)
		}
		return fmt.Errorf("update %s: %w", r.tableName, err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewConcurrentModification(r.entityName, entityID)
	}
	return nil
}

// Get returns one row of the tenant. lock adds FOR UPDATE and requires a
// transaction.
func (r *BaseDocumentRepo[R]) Get(ctx context.Context, tenantID string, docID id.ID, lock bool) (*R, error) {
	q := r.SelectBuilder(tenantID).Where(squirrel.Eq{"id": docID})
	if lock {
		if r.txManager.GetTx(ctx) == nil {
			return nil, fmt.Errorf("locking %s requires transaction context", r.entityName)
		}
		q = q.Suffix("FOR UPDATE")
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row R
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(r.entityName, docID)
		}
		return nil, fmt.Errorf("get %s: %w", r.tableName, err)
	}
	return &row, nil
}

// Select runs a prepared select.
func (r *BaseDocumentRepo[R]) Select(ctx context.Context, q squirrel.SelectBuilder) ([]R, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []R
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select %s: %w", r.tableName, err)
	}
	return rows, nil
}

// Paginate applies limit and offset.
func Paginate(q squirrel.SelectBuilder, limit, offset int) squirrel.SelectBuilder {
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}
	return q
}

func marshalLines(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal lines: %w", err)
	}
	if string(b) == "null" {
		return []byte("[]"), nil
	}
	return b, nil
}

func unmarshalLines(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal lines: %w", err)
	}
	return nil
}
