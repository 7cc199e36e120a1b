// Package register_repo provides PostgreSQL implementations for register repositories.
package register_repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/id"
	"bizledger/internal/domain/registers/stock"
	"bizledger/internal/infrastructure/storage/postgres"
)

const (
	itemsTable     = "inv_items"
	movementsTable = "inv_movements"
	itemEntity     = "InventoryItem"
)

var itemColumns = []string{
	"id", "tenant_id", "version", "created_at", "updated_at",
	"sku", "name", "unit",
	"current_stock", "reserved_stock", "min_stock",
	"purchase_price", "selling_price", "active",
}

var movementColumns = []string{
	"id", "tenant_id", "item_id", "seq", "type",
	"quantity", "previous_stock", "new_stock", "previous_reserved", "new_reserved",
	"reason", "reference", "created_by", "created_at",
}

// StockRepo implements stock.Repository.
type StockRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

var _ stock.Repository = (*StockRepo)(nil)

// NewStockRepo creates a new stock register repository.
func NewStockRepo(txManager *postgres.TxManager) *StockRepo {
	return &StockRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// CreateItem implements stock.Repository.
func (r *StockRepo) CreateItem(ctx context.Context, item *stock.Item) error {
	sql, args, err := r.builder.Insert(itemsTable).Columns(itemColumns...).Values(
		item.ID, item.TenantID, item.Version, item.CreatedAt, item.UpdatedAt,
		item.SKU, item.Name, item.Unit,
		item.CurrentStock, item.ReservedStock, item.MinStock,
		item.PurchasePrice, item.SellingPrice, item.Active,
	).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperror.NewConflict("SKU already in use").WithDetail("sku", item.SKU)
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// GetItem implements stock.Repository.
func (r *StockRepo) GetItem(ctx context.Context, tenantID string, itemID id.ID) (*stock.Item, error) {
	return r.getItem(ctx, tenantID, itemID, "")
}

// GetItemForUpdate implements stock.Repository.
func (r *StockRepo) GetItemForUpdate(ctx context.Context, tenantID string, itemID id.ID) (*stock.Item, error) {
	if r.txManager.GetTx(ctx) == nil {
		return nil, fmt.Errorf("GetItemForUpdate requires transaction context")
	}
	return r.getItem(ctx, tenantID, itemID, "FOR UPDATE")
}

func (r *StockRepo) getItem(ctx context.Context, tenantID string, itemID id.ID, suffix string) (*stock.Item, error) {
	q := r.builder.Select(itemColumns...).From(itemsTable).
		Where(squirrel.Eq{"id": itemID, "tenant_id": tenantID})
	if suffix != "" {
		q = q.Suffix(suffix)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var item stock.Item
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &item, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(itemEntity, itemID)
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &item, nil
}

// UpdateItem implements stock.Repository.
func (r *StockRepo) UpdateItem(ctx context.Context, item *stock.Item) error {
	sql, args, err := r.builder.Update(itemsTable).SetMap(map[string]any{
		"version":        item.Version,
		"updated_at":     item.UpdatedAt,
		"name":           item.Name,
		"unit":           item.Unit,
		"current_stock":  item.CurrentStock,
		"reserved_stock": item.ReservedStock,
		"min_stock":      item.MinStock,
		"purchase_price": item.PurchasePrice,
		"selling_price":  item.SellingPrice,
		"active":         item.Active,
	}).Where(squirrel.Eq{"id": item.ID, "tenant_id": item.TenantID}).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		if postgres.IsCheckViolation(err) {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule, "Stock levels would violate 0 <= reserved <= current").
				WithDetail("item_id", item.ID.String()).
				WithCause(err)
		}
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(itemEntity, item.ID)
	}
	return nil
}

// ListItems implements stock.Repository.
func (r *StockRepo) ListItems(ctx context.Context, tenantID string, filter stock.ItemFilter) ([]stock.Item, error) {
	q := r.builder.Select(itemColumns...).From(itemsTable).
		Where(squirrel.Eq{"tenant_id": tenantID})

	if filter.OnlyActive {
		q = q.Where(squirrel.Eq{"active": true})
	}
	if filter.LowStock {
		q = q.Where("current_stock - reserved_stock <= min_stock")
	}
	if filter.OutOfStock {
		q = q.Where("current_stock - reserved_stock <= 0")
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		q = q.Where(squirrel.Or{
			squirrel.ILike{"name": pattern},
			squirrel.ILike{"sku": pattern},
		})
	}

	q = q.OrderBy("name", "id")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var items []stock.Item
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	return items, nil
}

// AppendMovements implements stock.Repository.
func (r *StockRepo) AppendMovements(ctx context.Context, movements ...stock.Movement) error {
	if len(movements) == 0 {
		return nil
	}

	// Fast path: COPY when inside a transaction.
	if tx := r.txManager.GetTx(ctx); tx != nil {
		rows := make([][]any, 0, len(movements))
		for _, m := range movements {
			rows = append(rows, movementValues(m))
		}
		if _, err := postgres.NewBatchInserter(r.txManager).CopyFromSlice(ctx, movementsTable, movementColumns, rows); err != nil {
			return fmt.Errorf("copy movements: %w", err)
		}
		return nil
	}

	q := r.builder.Insert(movementsTable).Columns(movementColumns...)
	for _, m := range movements {
		q = q.Values(movementValues(m)...)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert movements: %w", err)
	}
	return nil
}

func movementValues(m stock.Movement) []any {
	return []any{
		m.ID, m.TenantID, m.ItemID, m.Seq, string(m.Type),
		int64(m.Quantity), int64(m.PreviousStock), int64(m.NewStock),
		int64(m.PreviousReserved), int64(m.NewReserved),
		m.Reason, m.Reference, m.CreatedBy, m.CreatedAt,
	}
}

// ListMovements implements stock.Repository.
func (r *StockRepo) ListMovements(ctx context.Context, tenantID string, filter stock.MovementFilter) ([]stock.Movement, error) {
	q := r.builder.Select(movementColumns...).From(movementsTable).
		Where(squirrel.Eq{"tenant_id": tenantID})

	if filter.ItemID != nil {
		q = q.Where(squirrel.Eq{"item_id": *filter.ItemID})
	}
	if filter.Reference != "" {
		q = q.Where(squirrel.Eq{"reference": filter.Reference})
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		q = q.Where(squirrel.Eq{"type": types})
	}

	q = q.OrderBy("created_at DESC", "seq DESC")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var movements []stock.Movement
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &movements, sql, args...); err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	return movements, nil
}
