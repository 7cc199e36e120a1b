package memory

import (
	"context"
	"slices"
	"sort"
	"strings"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/id"
	"bizledger/internal/domain/registers/stock"
)

const itemEntity = "InventoryItem"

// StockRepository is the in-memory stock.Repository.
type StockRepository struct{ s *Store }

// CreateItem implements stock.Repository.
func (r *StockRepository) CreateItem(ctx context.Context, item *stock.Item) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.items[item.ID]; ok {
			return apperror.NewConflict("item already exists").WithDetail("id", item.ID)
		}
		for _, it := range st.items {
			if item.SKU != "" && it.TenantID == item.TenantID && it.SKU == item.SKU {
				return apperror.NewConflict("SKU already in use").WithDetail("sku", item.SKU)
			}
		}
		st.items[item.ID] = *item
		return nil
	})
}

// GetItem implements stock.Repository.
func (r *StockRepository) GetItem(ctx context.Context, tenantID string, itemID id.ID) (*stock.Item, error) {
	var out *stock.Item
	err := r.s.read(ctx, func(st *state) error {
		it, ok := st.items[itemID]
		if !ok || it.TenantID != tenantID {
			return apperror.NewNotFound(itemEntity, itemID)
		}
		out = &it
		return nil
	})
	return out, err
}

// GetItemForUpdate implements stock.Repository. The store lock held by the
// transaction already excludes every other writer.
func (r *StockRepository) GetItemForUpdate(ctx context.Context, tenantID string, itemID id.ID) (*stock.Item, error) {
	return r.GetItem(ctx, tenantID, itemID)
}

// UpdateItem implements stock.Repository.
func (r *StockRepository) UpdateItem(ctx context.Context, item *stock.Item) error {
	return r.s.write(ctx, func(st *state) error {
		cur, ok := st.items[item.ID]
		if !ok || cur.TenantID != item.TenantID {
			return apperror.NewNotFound(itemEntity, item.ID)
		}
		st.items[item.ID] = *item
		return nil
	})
}

// ListItems implements stock.Repository.
func (r *StockRepository) ListItems(ctx context.Context, tenantID string, filter stock.ItemFilter) ([]stock.Item, error) {
	var out []stock.Item
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	err := r.s.read(ctx, func(st *state) error {
		for _, it := range st.items {
			if it.TenantID != tenantID {
				continue
			}
			if filter.OnlyActive && !it.Active {
				continue
			}
			if filter.LowStock && !it.IsLowStock() {
				continue
			}
			if filter.OutOfStock && !it.IsOutOfStock() {
				continue
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(it.Name), search) &&
				!strings.Contains(strings.ToLower(it.SKU), search) {
				continue
			}
			out = append(out, it)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return paginate(out, filter.Limit, filter.Offset), err
}

// AppendMovements implements stock.Repository.
func (r *StockRepository) AppendMovements(ctx context.Context, movements ...stock.Movement) error {
	return r.s.write(ctx, func(st *state) error {
		st.movements = append(st.movements, movements...)
		return nil
	})
}

// ListMovements implements stock.Repository.
func (r *StockRepository) ListMovements(ctx context.Context, tenantID string, filter stock.MovementFilter) ([]stock.Movement, error) {
	var out []stock.Movement
	err := r.s.read(ctx, func(st *state) error {
		for i := len(st.movements) - 1; i >= 0; i-- {
			m := st.movements[i]
			if m.TenantID != tenantID {
				continue
			}
			if filter.ItemID != nil && m.ItemID != *filter.ItemID {
				continue
			}
			if filter.Reference != "" && m.Reference != filter.Reference {
				continue
			}
			if len(filter.Types) > 0 && !slices.Contains(filter.Types, m.Type) {
				continue
			}
			out = append(out, m)
			if filter.Limit > 0 && len(out) == filter.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}
