package stock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bizledger/internal/core/apperror"
	appctx "bizledger/internal/core/context"
	"bizledger/internal/core/entity"
	"bizledger/internal/core/id"
	"bizledger/internal/core/tx"
	"bizledger/internal/core/types"
	"bizledger/pkg/logger"
)

// Service is the stock ledger. Every mutation locks the item row, applies the
// change, checks 0 <= reserved <= current and appends its movement inside one
// transaction, so two concurrent reservations can never both read the same
// available stock.
type Service struct {
	repo Repository
	txm  tx.Manager
	now  func() time.Time
}

// NewService creates a new stock ledger service.
func NewService(repo Repository, txm tx.Manager) *Service {
	return &Service{
		repo: repo,
		txm:  txm,
		now:  time.Now,
	}
}

// CreateItem adds an item. A positive initial stock is recorded as an "in" movement.
func (s *Service) CreateItem(ctx context.Context, tenantID string, in NewItem) (*Item, error) {
	if tenantID == "" {
		return nil, apperror.NewValidation("tenant is required").WithDetail("field", "tenantId")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperror.NewValidation("name is required").WithDetail("field", "name")
	}
	if in.InitialStock.IsNegative() || in.MinStock.IsNegative() {
		return nil, apperror.NewValidation("stock levels must not be negative")
	}

	item := &Item{
		BaseEntity:    entity.NewBaseEntity(tenantID),
		SKU:           in.SKU,
		Name:          strings.TrimSpace(in.Name),
		Unit:          in.Unit,
		CurrentStock:  in.InitialStock,
		MinStock:      in.MinStock,
		PurchasePrice: in.PurchasePrice,
		SellingPrice:  in.SellingPrice,
		Active:        true,
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateItem(ctx, item); err != nil {
			return fmt.Errorf("create item: %w", err)
		}
		if !in.InitialStock.IsPositive() {
			return nil
		}
		before := *item
		before.CurrentStock = 0
		return s.repo.AppendMovements(ctx, s.movement(ctx, &before, item, MovementIn, in.InitialStock, InitialStockReason, ""))
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "inventory item created", "tenant_id", tenantID, "item_id", item.ID, "initial_stock", item.CurrentStock)
	return item, nil
}

// UpdateDetails changes name, prices, minimum stock or the active flag.
// Stock levels are not touched and no movement is written.
func (s *Service) UpdateDetails(ctx context.Context, tenantID string, itemID id.ID, in DetailsInput) (*Item, error) {
	var item *Item
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.repo.GetItemForUpdate(ctx, tenantID, itemID)
		if err != nil {
			return err
		}
		if in.Name != nil {
			if strings.TrimSpace(*in.Name) == "" {
				return apperror.NewValidation("name is required").WithDetail("field", "name")
			}
			item.Name = strings.TrimSpace(*in.Name)
		}
		if in.MinStock != nil {
			if in.MinStock.IsNegative() {
				return apperror.NewValidation("minimum stock must not be negative").WithDetail("field", "minStock")
			}
			item.MinStock = *in.MinStock
		}
		if in.PurchasePrice != nil {
			item.PurchasePrice = *in.PurchasePrice
		}
		if in.SellingPrice != nil {
			item.SellingPrice = *in.SellingPrice
		}
		if in.Active != nil {
			item.Active = *in.Active
		}
		item.Touch()
		return s.repo.UpdateItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Reserve increments ReservedStock. Fails with INSUFFICIENT_STOCK if
// AvailableStock < qty; in that case nothing is written.
func (s *Service) Reserve(ctx context.Context, tenantID string, itemID id.ID, qty types.Quantity, reason, reference string) (*Item, error) {
	return s.mutate(ctx, tenantID, itemID, MovementReserve, qty, reason, reference, func(item *Item) (types.Quantity, error) {
		if item.AvailableStock() < qty {
			return 0, apperror.NewInsufficientStock(itemID.String(), qty.Float64(), item.AvailableStock().Float64())
		}
		item.ReservedStock += qty
		return qty, nil
	})
}

// Release decrements ReservedStock by min(qty, ReservedStock). Releasing more
// than is reserved is clamped so callers can retry after a partial failure.
func (s *Service) Release(ctx context.Context, tenantID string, itemID id.ID, qty types.Quantity, reason, reference string) (*Item, error) {
	return s.mutate(ctx, tenantID, itemID, MovementRelease, qty, reason, reference, func(item *Item) (types.Quantity, error) {
		released := types.MinQuantity(qty, item.ReservedStock)
		item.ReservedStock -= released
		return released, nil
	})
}

// Sell decrements CurrentStock and ReservedStock by qty, neither below zero.
func (s *Service) Sell(ctx context.Context, tenantID string, itemID id.ID, qty types.Quantity, reason, reference string) (*Item, error) {
	return s.mutate(ctx, tenantID, itemID, MovementOut, qty, reason, reference, func(item *Item) (types.Quantity, error) {
		sold := types.MinQuantity(qty, item.CurrentStock)
		item.CurrentStock -= sold
		item.ReservedStock = (item.ReservedStock - qty).ClampZero()
		return sold, nil
	})
}

// Issue removes unreserved stock (e.g. a delivery without a quote).
func (s *Service) Issue(ctx context.Context, tenantID string, itemID id.ID, qty types.Quantity, reason, reference string) (*Item, error) {
	return s.mutate(ctx, tenantID, itemID, MovementOut, qty, reason, reference, func(item *Item) (types.Quantity, error) {
		if item.AvailableStock() < qty {
			return 0, apperror.NewInsufficientStock(itemID.String(), qty.Float64(), item.AvailableStock().Float64())
		}
		item.CurrentStock -= qty
		return qty, nil
	})
}

// Receive adds qty to CurrentStock.
func (s *Service) Receive(ctx context.Context, tenantID string, itemID id.ID, qty types.Quantity, reason, reference string) (*Item, error) {
	return s.mutate(ctx, tenantID, itemID, MovementIn, qty, reason, reference, func(item *Item) (types.Quantity, error) {
		item.CurrentStock += qty
		return qty, nil
	})
}

// Adjust sets CurrentStock to newCurrent (manual count). The count may not go
// below the reserved quantity; outstanding reservations must be released first.
func (s *Service) Adjust(ctx context.Context, tenantID string, itemID id.ID, newCurrent types.Quantity, reason string) (*Item, error) {
	if newCurrent.IsNegative() {
		return nil, apperror.NewValidation("stock must not be negative").WithDetail("field", "newCurrentStock")
	}
	return s.apply(ctx, tenantID, itemID, MovementAdjustment, reason, "", func(item *Item) (types.Quantity, error) {
		if newCurrent < item.ReservedStock {
			return 0, apperror.NewBusinessRule(apperror.CodeInsufficientStock,
				"Stock cannot be adjusted below the reserved quantity").
				WithDetail("item_id", itemID.String()).
				WithDetail("reserved", item.ReservedStock.Float64()).
				WithDetail("requested", newCurrent.Float64())
		}
		delta := (newCurrent - item.CurrentStock).Abs()
		item.CurrentStock = newCurrent
		return delta, nil
	})
}

// DeductForDeliveryNote issues all lines in one transaction: either every
// line has enough available stock and all are deducted, or nothing changes.
func (s *Service) DeductForDeliveryNote(ctx context.Context, tenantID, reference string, lines []Line) ([]*Item, error) {
	if len(lines) == 0 {
		return nil, apperror.NewValidation("at least one line is required")
	}
	for i, l := range lines {
		if id.IsNil(l.ItemID) || !l.Quantity.IsPositive() {
			return nil, apperror.NewValidation("line requires an item and a positive quantity").WithDetail("line", i+1)
		}
	}

	// Lock in id order so concurrent batches over the same items cannot deadlock.
	ordered := make([]Line, len(lines))
	copy(ordered, lines)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ItemID.String() < ordered[j].ItemID.String() })

	var updated []*Item
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		items := make([]*Item, len(ordered))
		var shortages []map[string]any
		for i, l := range ordered {
			item, err := s.repo.GetItemForUpdate(ctx, tenantID, l.ItemID)
			if err != nil {
				return err
			}
			items[i] = item
			if item.AvailableStock() < l.Quantity {
				shortages = append(shortages, map[string]any{
					"item_id":   l.ItemID.String(),
					"requested": l.Quantity.Float64(),
					"available": item.AvailableStock().Float64(),
				})
			}
		}
		if len(shortages) > 0 {
			return apperror.NewBusinessRule(apperror.CodeInsufficientStock, "Delivery note cannot be fulfilled").
				WithDetail("reference", reference).
				WithDetail("shortages", shortages)
		}

		movements := make([]Movement, 0, len(ordered))
		for i, l := range ordered {
			item := items[i]
			before := *item
			item.CurrentStock -= l.Quantity
			item.Touch()
			if err := s.repo.UpdateItem(ctx, item); err != nil {
				return fmt.Errorf("update item %s: %w", item.ID, err)
			}
			movements = append(movements, s.movement(ctx, &before, item, MovementOut, l.Quantity, "Lieferschein", reference))
		}
		updated = items
		return s.repo.AppendMovements(ctx, movements...)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "delivery note deducted", "tenant_id", tenantID, "reference", reference, "lines", len(lines))
	return updated, nil
}

// GetItem returns a single item.
func (s *Service) GetItem(ctx context.Context, tenantID string, itemID id.ID) (*Item, error) {
	return s.repo.GetItem(ctx, tenantID, itemID)
}

// ListItems returns the tenant's items.
func (s *Service) ListItems(ctx context.Context, tenantID string, filter ItemFilter) ([]Item, error) {
	return s.repo.ListItems(ctx, tenantID, filter)
}

// Movements returns MovementLog entries newest first.
func (s *Service) Movements(ctx context.Context, tenantID string, filter MovementFilter) ([]Movement, error) {
	return s.repo.ListMovements(ctx, tenantID, filter)
}

// Stats aggregates value and stock health of all active items.
func (s *Service) Stats(ctx context.Context, tenantID string) (Stats, error) {
	items, err := s.repo.ListItems(ctx, tenantID, ItemFilter{OnlyActive: true})
	if err != nil {
		return Stats{}, fmt.Errorf("list items: %w", err)
	}

	st := Stats{TotalValue: types.Zero(), AverageValue: types.Zero()}
	for i := range items {
		item := &items[i]
		st.TotalItems++
		st.TotalValue = st.TotalValue.Add(item.StockValue())
		if item.IsOutOfStock() {
			st.OutOfStockItems++
		} else if item.IsLowStock() {
			st.LowStockItems++
		}
	}
	if st.TotalItems > 0 {
		st.AverageValue = st.TotalValue.Div(types.NewMoney(float64(st.TotalItems))).Round(2)
	}
	return st, nil
}

// Reconstruct rebuilds current and reserved stock of an item from its
// MovementLog and compares them with the live aggregate.
func (s *Service) Reconstruct(ctx context.Context, tenantID string, itemID id.ID) (Reconstruction, error) {
	item, err := s.repo.GetItem(ctx, tenantID, itemID)
	if err != nil {
		return Reconstruction{}, err
	}
	movements, err := s.repo.ListMovements(ctx, tenantID, MovementFilter{ItemID: &itemID})
	if err != nil {
		return Reconstruction{}, fmt.Errorf("list movements: %w", err)
	}
	sort.Slice(movements, func(i, j int) bool { return movements[i].Seq < movements[j].Seq })

	r := Reconstruction{
		ItemID:       itemID,
		Entries:      len(movements),
		LiveCurrent:  item.CurrentStock,
		LiveReserved: item.ReservedStock,
	}
	for i, m := range movements {
		r.LoggedCurrent += m.StockDelta()
		r.LoggedReserved += m.ReservedDelta()
		if i > 0 {
			prev := movements[i-1]
			if m.PreviousStock != prev.NewStock || m.PreviousReserved != prev.NewReserved {
				r.BrokenChainAtSeq = append(r.BrokenChainAtSeq, m.Seq)
			}
		}
	}

	if r.Drifted() {
		logger.Warn(ctx, "stock aggregate drifted from movement log",
			"tenant_id", tenantID,
			"item_id", itemID,
			"live_current", r.LiveCurrent,
			"logged_current", r.LoggedCurrent,
			"live_reserved", r.LiveReserved,
			"logged_reserved", r.LoggedReserved,
		)
	}
	return r, nil
}

type applyFunc func(item *Item) (types.Quantity, error)

// mutate validates a positive quantity and applies fn atomically.
func (s *Service) mutate(ctx context.Context, tenantID string, itemID id.ID, mt MovementType, qty types.Quantity, reason, reference string, fn applyFunc) (*Item, error) {
	if !qty.IsPositive() {
		return nil, apperror.NewValidation("quantity must be positive").WithDetail("field", "quantity")
	}
	return s.apply(ctx, tenantID, itemID, mt, reason, reference, fn)
}

// apply locks the item, runs fn, checks the invariant, persists the item and
// appends the movement as one atomic unit.
func (s *Service) apply(ctx context.Context, tenantID string, itemID id.ID, mt MovementType, reason, reference string, fn applyFunc) (*Item, error) {
	var result *Item
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		item, err := s.repo.GetItemForUpdate(ctx, tenantID, itemID)
		if err != nil {
			return err
		}
		before := *item

		applied, err := fn(item)
		if err != nil {
			return err
		}
		if err := item.checkInvariant(); err != nil {
			return err
		}

		item.Touch()
		if err := s.repo.UpdateItem(ctx, item); err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		if err := s.repo.AppendMovements(ctx, s.movement(ctx, &before, item, mt, applied, reason, reference)); err != nil {
			return fmt.Errorf("append movement: %w", err)
		}
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug(ctx, "stock movement",
		"tenant_id", tenantID,
		"item_id", itemID,
		"type", mt,
		"reference", reference,
		"current", result.CurrentStock,
		"reserved", result.ReservedStock,
	)
	return result, nil
}

func (s *Service) movement(ctx context.Context, before, after *Item, mt MovementType, qty types.Quantity, reason, reference string) Movement {
	return Movement{
		ID:               id.New(),
		TenantID:         after.TenantID,
		ItemID:           after.ID,
		Seq:              int64(after.Version),
		Type:             mt,
		Quantity:         qty,
		PreviousStock:    before.CurrentStock,
		NewStock:         after.CurrentStock,
		PreviousReserved: before.ReservedStock,
		NewReserved:      after.ReservedStock,
		Reason:           reason,
		Reference:        reference,
		CreatedBy:        appctx.GetActor(ctx),
		CreatedAt:        s.now().UTC(),
	}
}
