// Package reservation coordinates reserve, release and sell of all inventory
// lines belonging to one reservation owner (a quote).
package reservation

import (
	"context"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/id"
	"bizledger/internal/core/types"
	"bizledger/internal/domain/registers/stock"
	"bizledger/pkg/logger"
)

// Policy decides what happens to already reserved lines when a later line fails.
type Policy string

const (
	// PolicyCompensate releases every line reserved so far before reporting the failure.
	PolicyCompensate Policy = "compensate"

	// PolicyKeepPartial stops at the first failure and leaves earlier lines reserved.
	PolicyKeepPartial Policy = "keep-partial"
)

// Ledger is the subset of the stock ledger the coordinator drives.
type Ledger interface {
	Reserve(ctx context.Context, tenantID string, itemID id.ID, qty types.Quantity, reason, reference string) (*stock.Item, error)
	Release(ctx context.Context, tenantID string, itemID id.ID, qty types.Quantity, reason, reference string) (*stock.Item, error)
	Sell(ctx context.Context, tenantID string, itemID id.ID, qty types.Quantity, reason, reference string) (*stock.Item, error)
	Movements(ctx context.Context, tenantID string, filter stock.MovementFilter) ([]stock.Movement, error)
}

// LineFailure describes a line that could not be processed.
type LineFailure struct {
	Line    stock.Line `json:"line"`
	Code    string     `json:"code"`
	Message string     `json:"message"`
}

// Result lists the outcome of a multi-line operation.
type Result struct {
	OwnerID string `json:"ownerId"`

	// Succeeded are the lines the operation applied.
	Succeeded []stock.Line  `json:"succeeded"`
	Failed    []LineFailure `json:"failed,omitempty"`

	// Compensated are succeeded lines undone after a failure.
	Compensated []stock.Line `json:"compensated,omitempty"`

	// Outstanding are the lines that remain applied.
	Outstanding []stock.Line `json:"outstanding"`
}

// Coordinator runs the per-line ledger operations of an owner.
// Every movement it causes carries reference = ownerID.
type Coordinator struct {
	ledger Ledger
	policy Policy
}

// NewCoordinator creates a coordinator. An empty policy means PolicyCompensate.
func NewCoordinator(ledger Ledger, policy Policy) *Coordinator {
	if policy == "" {
		policy = PolicyCompensate
	}
	return &Coordinator{ledger: ledger, policy: policy}
}

// Policy returns the configured partial-failure policy.
func (c *Coordinator) Policy() Policy { return c.policy }

// ReserveForOwner reserves lines in order and stops at the first failure.
// On failure it returns PARTIAL_RESERVATION_FAILURE together with the result;
// under PolicyCompensate the lines reserved so far are released first.
func (c *Coordinator) ReserveForOwner(ctx context.Context, tenantID, ownerID string, lines []stock.Line) (Result, error) {
	res := Result{OwnerID: ownerID}
	var failure error

	for _, l := range lines {
		if _, err := c.ledger.Reserve(ctx, tenantID, l.ItemID, l.Quantity, "Reservierung", ownerID); err != nil {
			res.Failed = append(res.Failed, newLineFailure(l, err))
			failure = err
			break
		}
		res.Succeeded = append(res.Succeeded, l)
	}
	res.Outstanding = res.Succeeded
	if failure == nil {
		logger.Debug(ctx, "owner lines reserved", "tenant_id", tenantID, "owner_id", ownerID, "lines", len(lines))
		return res, nil
	}

	if c.policy == PolicyCompensate {
		c.compensate(ctx, tenantID, &res)
	}

	logger.Warn(ctx, "reservation incomplete",
		"tenant_id", tenantID,
		"owner_id", ownerID,
		"policy", c.policy,
		"succeeded", len(res.Succeeded),
		"compensated", len(res.Compensated),
		"error", failure,
	)
	return res, apperror.NewPartialReservationFailure(ownerID, res.Outstanding, res.Failed).
		WithDetail("policy", string(c.policy)).
		WithCause(failure)
}

// compensate releases succeeded lines in reverse order. Lines whose release
// fails stay reserved and are reported as outstanding.
func (c *Coordinator) compensate(ctx context.Context, tenantID string, res *Result) {
	res.Outstanding = nil
	for i := len(res.Succeeded) - 1; i >= 0; i-- {
		l := res.Succeeded[i]
		if _, err := c.ledger.Release(ctx, tenantID, l.ItemID, l.Quantity, "Kompensation", res.OwnerID); err != nil {
			logger.Error(ctx, "compensating release failed",
				"tenant_id", tenantID, "owner_id", res.OwnerID, "item_id", l.ItemID, "error", err)
			res.Outstanding = append(res.Outstanding, l)
			continue
		}
		res.Compensated = append(res.Compensated, l)
	}
}

// ReleaseForOwner releases every line. Unlike reservation it does not stop at
// a failing line, so one missing item cannot keep the rest of the owner's
// stock reserved.
func (c *Coordinator) ReleaseForOwner(ctx context.Context, tenantID, ownerID string, lines []stock.Line) (Result, error) {
	return c.each(ctx, tenantID, ownerID, lines, "release", func(l stock.Line) error {
		_, err := c.ledger.Release(ctx, tenantID, l.ItemID, l.Quantity, "Freigabe", ownerID)
		return err
	})
}

// SellForOwner sells every line, continuing past failing lines.
func (c *Coordinator) SellForOwner(ctx context.Context, tenantID, ownerID string, lines []stock.Line) (Result, error) {
	return c.each(ctx, tenantID, ownerID, lines, "sell", func(l stock.Line) error {
		_, err := c.ledger.Sell(ctx, tenantID, l.ItemID, l.Quantity, "Verkauf", ownerID)
		return err
	})
}

func (c *Coordinator) each(ctx context.Context, tenantID, ownerID string, lines []stock.Line, op string, fn func(stock.Line) error) (Result, error) {
	res := Result{OwnerID: ownerID}
	var first error
	for _, l := range lines {
		if err := fn(l); err != nil {
			res.Failed = append(res.Failed, newLineFailure(l, err))
			if first == nil {
				first = err
			}
			continue
		}
		res.Succeeded = append(res.Succeeded, l)
	}
	res.Outstanding = res.Succeeded
	if first == nil {
		logger.Debug(ctx, "owner lines processed", "op", op, "tenant_id", tenantID, "owner_id", ownerID, "lines", len(lines))
		return res, nil
	}

	logger.Warn(ctx, "owner lines partially processed",
		"op", op, "tenant_id", tenantID, "owner_id", ownerID, "failed", len(res.Failed), "error", first)
	return res, apperror.NewPartialReservationFailure(ownerID, res.Succeeded, res.Failed).
		WithDetail("operation", op).
		WithCause(first)
}

// ReservedForOwner rebuilds the lines still reserved for an owner from the
// MovementLog by summing the reserved-stock change of every entry whose
// reference is ownerID. Items are returned in order of their first entry.
func (c *Coordinator) ReservedForOwner(ctx context.Context, tenantID, ownerID string) ([]stock.Line, error) {
	movements, err := c.ledger.Movements(ctx, tenantID, stock.MovementFilter{Reference: ownerID})
	if err != nil {
		return nil, err
	}

	net := make(map[id.ID]types.Quantity)
	var order []id.ID
	// Movements come newest first.
	for i := len(movements) - 1; i >= 0; i-- {
		m := movements[i]
		if _, seen := net[m.ItemID]; !seen {
			order = append(order, m.ItemID)
		}
		net[m.ItemID] += m.ReservedDelta()
	}

	var lines []stock.Line
	for _, itemID := range order {
		if qty := net[itemID]; qty.IsPositive() {
			lines = append(lines, stock.Line{ItemID: itemID, Quantity: qty})
		}
	}
	return lines, nil
}

func newLineFailure(l stock.Line, err error) LineFailure {
	f := LineFailure{Line: l, Code: apperror.CodeInternal, Message: err.Error()}
	if appErr, ok := apperror.AsAppError(err); ok {
		f.Code = appErr.Code
		f.Message = appErr.Message
	}
	return f
}
