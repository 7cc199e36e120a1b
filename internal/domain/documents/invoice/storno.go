package invoice

import (
	"context"
	"fmt"
	"strings"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/entity"
	"bizledger/internal/core/id"
	"bizledger/internal/core/tx"
	"bizledger/internal/domain/audit"
	"bizledger/internal/domain/events"
	"bizledger/pkg/logger"
)

// StornoResult is the committed write-pair.
type StornoResult struct {
	Original *Invoice `json:"original"`
	Storno   *Invoice `json:"storno"`
}

// CreateStorno reverses an invoice. The storno document is inserted and the
// original marked cancelled in one serializable transaction: either both
// changes are visible or neither is.
func (s *Service) CreateStorno(ctx context.Context, tenantID string, originalID id.ID, reason, actor string) (*StornoResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.NewValidation("storno reason is required").WithDetail("field", "reason")
	}

	// Fail fast before a number is taken.
	orig, err := s.repo.Get(ctx, tenantID, originalID)
	if err != nil {
		return nil, err
	}
	if err := checkReversible(orig); err != nil {
		return nil, err
	}

	alloc, err := s.numbers.NextNumber(ctx, tenantID, s.opts.StornoNumberType)
	if err != nil {
		return nil, err
	}

	var result *StornoResult
	err = s.runSerializable(ctx, func(ctx context.Context) error {
		orig, err := s.repo.GetForUpdate(ctx, tenantID, originalID)
		if err != nil {
			return err
		}
		// Re-check under the lock: a concurrent storno may have committed meanwhile.
		if err := checkReversible(orig); err != nil {
			return err
		}

		now := s.now().UTC()
		st := &Invoice{
			Document:          entity.NewDocument(tenantID, actor),
			CustomerName:      orig.CustomerName,
			Status:            StatusStorno,
			Lines:             copyLines(orig.Lines),
			Total:             orig.Total.Neg(),
			QuoteID:           orig.QuoteID,
			IsStorno:          true,
			OriginalInvoiceID: &orig.ID,
			StornoReason:      reason,
			StornoBy:          actor,
			StornoDate:        &now,
		}
		st.Number = alloc.Formatted
		st.NumberDegraded = alloc.Degraded
		st.Comment = fmt.Sprintf("Storno zu %s", orig.Number)

		fromStatus := orig.Status
		orig.Status = StatusCancelled
		orig.StornoInvoiceID = &st.ID
		orig.UpdatedBy = actor
		orig.Touch()

		if err := s.repo.Create(ctx, st); err != nil {
			return fmt.Errorf("create storno: %w", err)
		}
		if err := s.repo.Update(ctx, orig); err != nil {
			return fmt.Errorf("cancel original: %w", err)
		}

		if err := s.audit.Record(ctx, audit.Entry{
			TenantID: tenantID, EntityType: entityName, EntityID: st.ID,
			Action: audit.ActionStorno, Actor: actor, ToStatus: string(StatusStorno), Snapshot: st,
		}); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, audit.Entry{
			TenantID: tenantID, EntityType: entityName, EntityID: orig.ID,
			Action: audit.ActionStorno, Actor: actor,
			FromStatus: string(fromStatus), ToStatus: string(StatusCancelled), Snapshot: orig,
		}); err != nil {
			return err
		}
		if err := s.publisher.Publish(ctx, events.DomainEvent{
			TenantID:      tenantID,
			AggregateType: events.AggregateInvoice,
			AggregateID:   orig.ID,
			EventType:     events.TypeInvoiceReversed,
			Payload: map[string]any{
				"originalId":     orig.ID,
				"originalNumber": orig.Number,
				"stornoId":       st.ID,
				"stornoNumber":   st.Number,
				"reason":         reason,
			},
		}); err != nil {
			return err
		}

		result = &StornoResult{Original: orig, Storno: st}
		return nil
	})
	if err != nil {
		if !apperror.IsAppError(err) {
			logger.Error(ctx, "storno failed, number burned",
				"tenant_id", tenantID, "original_id", originalID, "number", alloc.Formatted, "error", err)
		}
		return nil, err
	}

	logger.Info(ctx, "invoice reversed",
		"tenant_id", tenantID,
		"original_id", originalID,
		"original_number", result.Original.Number,
		"storno_number", result.Storno.Number,
		"actor", actor,
	)
	return result, nil
}

func (s *Service) runSerializable(ctx context.Context, fn func(ctx context.Context) error) error {
	if sm, ok := s.txm.(tx.SerializableManager); ok {
		return sm.RunSerializable(ctx, fn)
	}
	return s.txm.RunInTransaction(ctx, fn)
}

func checkReversible(inv *Invoice) error {
	switch {
	case inv.IsStorno:
		return apperror.NewAlreadyReversed(inv.ID)
	case inv.Status == StatusCancelled || inv.StornoInvoiceID != nil:
		return apperror.NewAlreadyCancelled(inv.ID)
	case !inv.Status.Reversible():
		return apperror.NewInvalidTransition(entityName, string(inv.Status), string(StatusCancelled))
	}
	return nil
}
