package invoice

import (
	"context"
	"fmt"
	"time"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/entity"
	"bizledger/internal/core/id"
	"bizledger/internal/core/numerator"
	"bizledger/internal/core/tx"
	"bizledger/internal/domain/audit"
	"bizledger/internal/domain/events"
	"bizledger/pkg/logger"
)

const entityName = "Invoice"

// Options configures the invoice service.
type Options struct {
	// StornoNumberType is the counter storno documents are numbered from.
	StornoNumberType numerator.DocumentType
}

// DefaultOptions numbers storno documents from the invoice counter.
func DefaultOptions() Options {
	return Options{StornoNumberType: numerator.TypeInvoice}
}

// Service implements the invoice lifecycle.
type Service struct {
	repo      Repository
	numbers   NumberAllocator
	txm       tx.Manager
	audit     audit.Recorder
	publisher events.Publisher
	opts      Options
	now       func() time.Time
}

// NewService creates a new invoice service.
func NewService(repo Repository, numbers NumberAllocator, txm tx.Manager, recorder audit.Recorder, publisher events.Publisher, opts Options) *Service {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if opts.StornoNumberType == "" {
		opts.StornoNumberType = numerator.TypeInvoice
	}
	return &Service{
		repo:      repo,
		numbers:   numbers,
		txm:       txm,
		audit:     recorder,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

// Create creates a draft invoice numbered from the "Rechnung" counter.
func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput, actor string) (*Invoice, error) {
	if err := entity.ValidateLines(in.Lines); err != nil {
		return nil, err
	}

	inv := s.newDraft(tenantID, actor, in.CustomerName, in.Lines)
	inv.DueDate = in.DueDate
	inv.Comment = in.Comment

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.insert(ctx, inv, actor)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "invoice created", "tenant_id", tenantID, "invoice_id", inv.ID, "number", inv.Number)
	return inv, nil
}

// CreateFromQuote creates the draft invoice of an accepted quote. It joins the
// caller's transaction when one is active.
func (s *Service) CreateFromQuote(ctx context.Context, tenantID string, in FromQuote, actor string) (*Invoice, error) {
	inv := s.newDraft(tenantID, actor, in.CustomerName, in.Lines)
	quoteID := in.QuoteID
	inv.QuoteID = &quoteID
	inv.Comment = fmt.Sprintf("Angebot %s", in.QuoteNumber)

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.insert(ctx, inv, actor)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "invoice created from quote",
		"tenant_id", tenantID, "invoice_id", inv.ID, "number", inv.Number, "quote_id", in.QuoteID)
	return inv, nil
}

func (s *Service) newDraft(tenantID, actor, customer string, lines []entity.DocumentLine) *Invoice {
	inv := &Invoice{
		Document:     entity.NewDocument(tenantID, actor),
		CustomerName: customer,
		Status:       StatusDraft,
		Lines:        copyLines(lines),
	}
	inv.Total = entity.TotalAmount(inv.Lines)
	return inv
}

// insert numbers and stores a new invoice. Callers run it inside a
// transaction; only the Postgres and memory counters roll back with it. The
// Redis counter commits on its own, so a failed insert leaves a gap there.
func (s *Service) insert(ctx context.Context, inv *Invoice, actor string) error {
	alloc, err := s.numbers.NextNumber(ctx, inv.TenantID, numerator.TypeInvoice)
	if err != nil {
		return err
	}
	inv.Number = alloc.Formatted
	inv.NumberDegraded = alloc.Degraded

	if err := inv.Validate(ctx); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	return s.audit.Record(ctx, audit.Entry{
		TenantID:   inv.TenantID,
		EntityType: entityName,
		EntityID:   inv.ID,
		Action:     audit.ActionCreate,
		Actor:      actor,
		ToStatus:   string(inv.Status),
		Snapshot:   inv,
	})
}

// Get returns an invoice.
func (s *Service) Get(ctx context.Context, tenantID string, invoiceID id.ID) (*Invoice, error) {
	return s.repo.Get(ctx, tenantID, invoiceID)
}

// List returns invoices of a tenant, newest first.
func (s *Service) List(ctx context.Context, tenantID string, filter ListFilter) ([]Invoice, error) {
	return s.repo.List(ctx, tenantID, filter)
}

// Transition moves an invoice along draft -> sent -> paid|overdue, overdue -> paid
// or draft -> cancelled. Anything else fails with INVALID_TRANSITION.
func (s *Service) Transition(ctx context.Context, tenantID string, invoiceID id.ID, to Status, actor string) (*Invoice, error) {
	var inv *Invoice
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.repo.GetForUpdate(ctx, tenantID, invoiceID)
		if err != nil {
			return err
		}

		from := inv.Status
		if !CanTransition(from, to) {
			appErr := apperror.NewInvalidTransition(entityName, string(from), string(to))
			if to == StatusCancelled && from.Reversible() {
				appErr = appErr.WithDetail("hint", "issued invoices are cancelled by creating a storno")
			}
			return appErr
		}

		inv.Status = to
		if to == StatusPaid {
			now := s.now().UTC()
			inv.PaidAt = &now
		}
		inv.UpdatedBy = actor
		inv.Touch()

		if err := s.repo.Update(ctx, inv); err != nil {
			return fmt.Errorf("update invoice: %w", err)
		}
		if err := s.audit.Record(ctx, audit.Entry{
			TenantID:   tenantID,
			EntityType: entityName,
			EntityID:   inv.ID,
			Action:     audit.ActionTransition,
			Actor:      actor,
			FromStatus: string(from),
			ToStatus:   string(to),
			Snapshot:   inv,
		}); err != nil {
			return err
		}
		return s.publisher.Publish(ctx, events.DomainEvent{
			TenantID:      tenantID,
			AggregateType: events.AggregateInvoice,
			AggregateID:   inv.ID,
			EventType:     events.TypeInvoiceStatusChanged,
			Payload:       map[string]any{"from": from, "to": to, "number": inv.Number},
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "invoice transitioned", "tenant_id", tenantID, "invoice_id", invoiceID, "status", to)
	return inv, nil
}

func copyLines(lines []entity.DocumentLine) []entity.DocumentLine {
	out := make([]entity.DocumentLine, len(lines))
	copy(out, lines)
	for i := range out {
		out[i].LineNo = i + 1
	}
	return out
}
