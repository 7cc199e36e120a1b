package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/entity"
	"bizledger/internal/core/id"
	"bizledger/internal/core/numerator"
	"bizledger/internal/core/tx"
	"bizledger/internal/domain/audit"
	"bizledger/internal/domain/documents/invoice"
	"bizledger/internal/domain/events"
	"bizledger/internal/domain/registers/stock"
	"bizledger/internal/domain/reservation"
	"bizledger/pkg/logger"
)

const entityName = "Quote"

// Options configures the quote lifecycle.
type Options struct {
	// Validity is the default time a quote stays open.
	Validity time.Duration

	// PendingTimeout is how long a reservation may stay pending before
	// RecoverPending settles it from the MovementLog.
	PendingTimeout time.Duration
}

// Service implements the quote lifecycle.
type Service struct {
	repo         Repository
	numbers      NumberAllocator
	reservations Reservations
	invoices     InvoiceIssuer
	txm          tx.Manager
	audit        audit.Recorder
	publisher    events.Publisher
	opts         Options
	now          func() time.Time
}

// NewService creates a new quote service.
func NewService(
	repo Repository,
	numbers NumberAllocator,
	reservations Reservations,
	invoices InvoiceIssuer,
	txm tx.Manager,
	recorder audit.Recorder,
	publisher events.Publisher,
	opts Options,
) *Service {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if opts.Validity <= 0 {
		opts.Validity = 30 * 24 * time.Hour
	}
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = 10 * time.Minute
	}
	return &Service{
		repo:         repo,
		numbers:      numbers,
		reservations: reservations,
		invoices:     invoices,
		txm:          txm,
		audit:        recorder,
		publisher:    publisher,
		opts:         opts,
		now:          time.Now,
	}
}

// Create creates a draft quote numbered from the "Angebot" counter.
// With in.Reserve set the lines are reserved afterwards; a reservation
// failure is returned together with the created quote.
func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput, actor string) (*Quote, error) {
	if len(in.Lines) == 0 {
		return nil, apperror.NewValidation("at least one line is required").WithDetail("field", "lines")
	}
	if err := entity.ValidateLines(in.Lines); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	q := &Quote{
		Document:         entity.NewDocument(tenantID, actor),
		CustomerName:     in.CustomerName,
		Status:           StatusDraft,
		ValidUntil:       now.Add(s.opts.Validity),
		Lines:            make([]entity.DocumentLine, len(in.Lines)),
		ReservationState: ReservationNone,
	}
	copy(q.Lines, in.Lines)
	for i := range q.Lines {
		q.Lines[i].LineNo = i + 1
	}
	q.Total = entity.TotalAmount(q.Lines)
	q.Comment = in.Comment
	if in.ValidUntil != nil {
		q.ValidUntil = in.ValidUntil.UTC()
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		alloc, err := s.numbers.NextNumber(ctx, tenantID, numerator.TypeQuote)
		if err != nil {
			return err
		}
		q.Number = alloc.Formatted
		q.NumberDegraded = alloc.Degraded

		if err := q.Validate(ctx); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, q); err != nil {
			return fmt.Errorf("create quote: %w", err)
		}
		return s.audit.Record(ctx, audit.Entry{
			TenantID:   tenantID,
			EntityType: entityName,
			EntityID:   q.ID,
			Action:     audit.ActionCreate,
			Actor:      actor,
			ToStatus:   string(q.Status),
			Snapshot:   q,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "quote created", "tenant_id", tenantID, "quote_id", q.ID, "number", q.Number)

	if in.Reserve {
		reserved, _, err := s.Reserve(ctx, tenantID, q.ID, actor)
		if reserved != nil {
			q = reserved
		}
		return q, err
	}
	return q, nil
}

// Get returns a quote.
func (s *Service) Get(ctx context.Context, tenantID string, quoteID id.ID) (*Quote, error) {
	return s.repo.Get(ctx, tenantID, quoteID)
}

// List returns quotes of a tenant, newest first.
func (s *Service) List(ctx context.Context, tenantID string, filter ListFilter) ([]Quote, error) {
	return s.repo.List(ctx, tenantID, filter)
}

// Reserve reserves the quote's lines through the coordinator.
//
// The quote is first claimed (reservation state pending) so a second call
// fails with ALREADY_RESERVED instead of reserving the lines twice. The lines
// themselves are reserved one ledger transaction at a time; afterwards the
// outstanding lines are recorded and the state settles to reserved, partial
// (keep-partial policy) or back to none. A quote in state partial may call
// Reserve again to retry only its missing lines.
func (s *Service) Reserve(ctx context.Context, tenantID string, quoteID id.ID, actor string) (*Quote, reservation.Result, error) {
	var pending []stock.Line
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		q, err := s.repo.GetForUpdate(ctx, tenantID, quoteID)
		if err != nil {
			return err
		}
		if q.Status != StatusDraft && q.Status != StatusSent {
			return apperror.NewInvalidTransition(entityName, string(q.Status), "reserved")
		}
		switch q.ReservationState {
		case ReservationNone, ReservationPartial:
		default:
			return apperror.NewAlreadyReserved(quoteID).WithDetail("state", string(q.ReservationState))
		}

		pending = q.UnreservedLines()
		q.ReservationState = ReservationPending
		q.Touch()
		return s.repo.Update(ctx, q)
	})
	if err != nil {
		return nil, reservation.Result{}, err
	}

	res, resErr := s.reservations.ReserveForOwner(ctx, tenantID, quoteID.String(), pending)

	var settled *Quote
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		q, err := s.repo.GetForUpdate(ctx, tenantID, quoteID)
		if err != nil {
			return err
		}
		q.ReservedLines = append(q.ReservedLines, res.Outstanding...)
		switch {
		case resErr == nil:
			q.ReservationState = ReservationReserved
		case len(q.ReservedLines) > 0:
			q.ReservationState = ReservationPartial
		default:
			q.ReservationState = ReservationNone
		}
		q.UpdatedBy = actor
		q.Touch()
		if err := s.repo.Update(ctx, q); err != nil {
			return fmt.Errorf("update quote: %w", err)
		}
		if err := s.audit.Record(ctx, audit.Entry{
			TenantID:   tenantID,
			EntityType: entityName,
			EntityID:   q.ID,
			Action:     audit.ActionReserve,
			Actor:      actor,
			FromStatus: string(ReservationPending),
			ToStatus:   string(q.ReservationState),
			Snapshot:   res,
		}); err != nil {
			return err
		}
		settled = q
		if resErr != nil {
			return nil
		}
		return s.publisher.Publish(ctx, events.DomainEvent{
			TenantID:      tenantID,
			AggregateType: events.AggregateQuote,
			AggregateID:   q.ID,
			EventType:     events.TypeQuoteReserved,
			Payload:       map[string]any{"number": q.Number, "lines": q.ReservedLines},
		})
	})
	if err != nil {
		logger.Error(ctx, "quote reservation could not be settled",
			"tenant_id", tenantID, "quote_id", quoteID, "outstanding", res.Outstanding, "error", err)
		s.abandonReservation(ctx, tenantID, quoteID, res.Outstanding)
		return nil, res, err
	}

	if resErr != nil {
		return settled, res, resErr
	}
	logger.Info(ctx, "quote reserved", "tenant_id", tenantID, "quote_id", quoteID, "lines", len(res.Succeeded))
	return settled, res, nil
}

// abandonReservation undoes the lines reserved by a Reserve call whose
// settle transaction failed and lifts the pending claim. When either step
// fails the quote stays pending and RecoverPending settles it later.
func (s *Service) abandonReservation(ctx context.Context, tenantID string, quoteID id.ID, lines []stock.Line) {
	if len(lines) > 0 {
		if _, err := s.reservations.ReleaseForOwner(ctx, tenantID, quoteID.String(), lines); err != nil {
			logger.Error(ctx, "release after failed settle incomplete", "tenant_id", tenantID, "quote_id", quoteID, "error", err)
			return
		}
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		q, err := s.repo.GetForUpdate(ctx, tenantID, quoteID)
		if err != nil {
			return err
		}
		if q.ReservationState != ReservationPending {
			return nil
		}
		q.ReservationState = ReservationNone
		if len(q.ReservedLines) > 0 {
			q.ReservationState = ReservationPartial
		}
		q.Touch()
		return s.repo.Update(ctx, q)
	})
	if err != nil {
		logger.Error(ctx, "pending reservation left for recovery", "tenant_id", tenantID, "quote_id", quoteID, "error", err)
	}
}

// RecoverPending settles quotes whose reservation has been pending for longer
// than Options.PendingTimeout, e.g. after a crash between reserving the lines
// and recording them. The reserved lines are rebuilt from the MovementLog
// entries referencing the quote, so a later release or sale covers exactly
// the stock that is held. Returns the number of settled quotes.
func (s *Service) RecoverPending(ctx context.Context, tenantID string, now time.Time) (int, error) {
	cutoff := now.Add(-s.opts.PendingTimeout)
	quotes, err := s.repo.List(ctx, tenantID, ListFilter{
		ReservationStates: []ReservationState{ReservationPending},
		UpdatedBefore:     &cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("list pending quotes: %w", err)
	}

	recovered := 0
	var errs []error
	for _, stale := range quotes {
		settled := false
		err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			q, err := s.repo.GetForUpdate(ctx, tenantID, stale.ID)
			if err != nil {
				return err
			}
			if q.ReservationState != ReservationPending || !q.UpdatedAt.Before(cutoff) {
				return nil
			}

			lines, err := s.reservations.ReservedForOwner(ctx, tenantID, q.ID.String())
			if err != nil {
				return fmt.Errorf("rebuild reserved lines: %w", err)
			}
			q.ReservedLines = lines
			switch {
			case len(lines) == 0:
				q.ReservationState = ReservationNone
			case len(q.UnreservedLines()) == 0:
				q.ReservationState = ReservationReserved
			default:
				q.ReservationState = ReservationPartial
			}
			q.UpdatedBy = "system"
			q.Touch()
			if err := s.repo.Update(ctx, q); err != nil {
				return fmt.Errorf("update quote: %w", err)
			}
			settled = true
			return s.audit.Record(ctx, audit.Entry{
				TenantID:   tenantID,
				EntityType: entityName,
				EntityID:   q.ID,
				Action:     audit.ActionReserve,
				Actor:      "system",
				FromStatus: string(ReservationPending),
				ToStatus:   string(q.ReservationState),
				Snapshot:   q.ReservedLines,
			})
		})
		if err != nil {
			logger.Error(ctx, "pending reservation recovery failed", "tenant_id", tenantID, "quote_id", stale.ID, "error", err)
			errs = append(errs, fmt.Errorf("quote %s: %w", stale.ID, err))
			continue
		}
		if settled {
			recovered++
		}
	}

	if recovered > 0 {
		logger.Warn(ctx, "recovered pending reservations", "tenant_id", tenantID, "count", recovered)
	}
	return recovered, errors.Join(errs...)
}

// Transition moves the quote to the target status and applies its stock
// side effects in the same transaction:
//
//   - accepted: missing lines are reserved, all reserved lines are sold and a
//     draft invoice numbered from "Rechnung" is created and linked
//   - rejected, cancelled, expired: reserved lines are released; lines the
//     ledger rejects stay listed in ReservedLines and the quote still closes
//
// Any other failing side effect rolls the whole transition back and the quote
// keeps its previous status.
func (s *Service) Transition(ctx context.Context, tenantID string, quoteID id.ID, to Status, actor string) (*Quote, error) {
	var result *Quote
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		q, err := s.repo.GetForUpdate(ctx, tenantID, quoteID)
		if err != nil {
			return err
		}

		from := q.Status
		if !CanTransition(from, to) {
			return apperror.NewInvalidTransition(entityName, string(from), string(to))
		}
		if q.ReservationState == ReservationPending {
			return apperror.NewConflict("Reservation of this quote is in progress").
				WithDetail("quote_id", quoteID.String())
		}

		owner := q.ID.String()
		event := ""
		switch to {
		case StatusAccepted:
			if err := s.accept(ctx, q, actor); err != nil {
				return err
			}
			event = events.TypeQuoteAccepted
		case StatusRejected, StatusCancelled, StatusExpired:
			if len(q.ReservedLines) > 0 {
				res, err := s.reservations.ReleaseForOwner(ctx, tenantID, owner, q.ReservedLines)
				if err != nil && !apperror.IsPartialReservationFailure(err) {
					return err
				}
				// Lines that could not be released stay on the quote so
				// the gap is visible; the quote closes regardless.
				q.ReservedLines = nil
				for _, f := range res.Failed {
					q.ReservedLines = append(q.ReservedLines, f.Line)
				}
				if len(res.Failed) > 0 {
					logger.Warn(ctx, "quote closed with unreleased lines",
						"tenant_id", tenantID, "quote_id", quoteID, "failed", res.Failed)
				}
				q.ReservationState = ReservationReleased
			}
			event = events.TypeQuoteClosed
		}

		q.Status = to
		if to.IsTerminal() {
			now := s.now().UTC()
			q.ClosedAt = &now
		}
		q.UpdatedBy = actor
		q.Touch()

		if err := s.repo.Update(ctx, q); err != nil {
			return fmt.Errorf("update quote: %w", err)
		}
		if err := s.audit.Record(ctx, audit.Entry{
			TenantID:   tenantID,
			EntityType: entityName,
			EntityID:   q.ID,
			Action:     audit.ActionTransition,
			Actor:      actor,
			FromStatus: string(from),
			ToStatus:   string(to),
			Snapshot:   q,
		}); err != nil {
			return err
		}
		if event != "" {
			if err := s.publisher.Publish(ctx, events.DomainEvent{
				TenantID:      tenantID,
				AggregateType: events.AggregateQuote,
				AggregateID:   q.ID,
				EventType:     event,
				Payload: map[string]any{
					"number":        q.Number,
					"status":        q.Status,
					"invoiceId":     q.InvoiceID,
					"invoiceNumber": q.InvoiceNumber,
				},
			}); err != nil {
				return err
			}
		}
		result = q
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "quote transitioned",
		"tenant_id", tenantID, "quote_id", quoteID, "status", to, "invoice_number", result.InvoiceNumber)
	return result, nil
}

func (s *Service) accept(ctx context.Context, q *Quote, actor string) error {
	owner := q.ID.String()

	if missing := q.UnreservedLines(); len(missing) > 0 {
		res, err := s.reservations.ReserveForOwner(ctx, q.TenantID, owner, missing)
		if err != nil {
			return err
		}
		q.ReservedLines = append(q.ReservedLines, res.Outstanding...)
	}
	if _, err := s.reservations.SellForOwner(ctx, q.TenantID, owner, q.ReservedLines); err != nil {
		return err
	}
	q.ReservedLines = nil
	q.ReservationState = ReservationSold

	inv, err := s.invoices.CreateFromQuote(ctx, q.TenantID, invoice.FromQuote{
		QuoteID:      q.ID,
		QuoteNumber:  q.Number,
		CustomerName: q.CustomerName,
		Lines:        q.Lines,
	}, actor)
	if err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	q.InvoiceID = &inv.ID
	q.InvoiceNumber = inv.Number
	return nil
}

// SweepExpired expires every sent quote whose validity ended before now and
// releases its reservations. Returns the number of expired quotes.
func (s *Service) SweepExpired(ctx context.Context, tenantID string, now time.Time) (int, error) {
	quotes, err := s.repo.List(ctx, tenantID, ListFilter{
		Statuses:    []Status{StatusSent},
		ValidBefore: &now,
	})
	if err != nil {
		return 0, fmt.Errorf("list expired quotes: %w", err)
	}

	expired := 0
	var errs []error
	for _, q := range quotes {
		if _, err := s.Transition(ctx, tenantID, q.ID, StatusExpired, "system"); err != nil {
			if apperror.IsInvalidTransition(err) {
				continue
			}
			logger.Error(ctx, "quote expiry failed", "tenant_id", tenantID, "quote_id", q.ID, "error", err)
			errs = append(errs, fmt.Errorf("quote %s: %w", q.ID, err))
			continue
		}
		expired++
	}

	if expired > 0 {
		logger.Info(ctx, "expired quotes swept", "tenant_id", tenantID, "count", expired)
	}
	return expired, errors.Join(errs...)
}
