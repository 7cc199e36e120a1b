// Package numbering implements the sequence allocator: collision-free document
// numbers per tenant and document type. Numbers are gapless when the counter
// store shares the caller's transaction.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/id"
	"bizledger/internal/core/numerator"
	"bizledger/internal/core/tx"
	"bizledger/internal/domain/events"
	"bizledger/pkg/logger"
)

// Options configures the allocator.
type Options struct {
	// RetryBudget is the maximum number of attempts per allocation.
	RetryBudget int

	InitialInterval time.Duration
	MaxInterval     time.Duration

	// DegradedFallback enables time-derived numbers once the retry budget is spent.
	DegradedFallback bool

	// Overrides replace the built-in seed/format of individual document types.
	Overrides map[numerator.DocumentType]numerator.Config

	// Now is the clock of the degraded path.
	Now func() time.Time
}

// DefaultOptions returns production defaults (fallback disabled).
func DefaultOptions() Options {
	return Options{
		RetryBudget:     5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
		Now:             time.Now,
	}
}

// Service is the sequence allocator.
type Service struct {
	store     numerator.Store
	degraded  DegradedLog
	txm       tx.Manager
	publisher events.Publisher
	opts      Options

	retries       metric.Int64Counter
	degradedCount metric.Int64Counter
}

// NewService creates the allocator. degraded, txm and publisher are only used
// by the degraded fallback and may be nil when it is disabled.
func NewService(store numerator.Store, degraded DegradedLog, txm tx.Manager, publisher events.Publisher, opts Options) *Service {
	if opts.RetryBudget < 1 {
		opts.RetryBudget = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	meter := otel.Meter("bizledger/numbering")
	retries, _ := meter.Int64Counter("bizledger.sequence.retries",
		metric.WithDescription("Counter updates retried after a concurrent writer conflict"))
	degradedCount, _ := meter.Int64Counter("bizledger.sequence.degraded",
		metric.WithDescription("Time-derived document numbers issued by the degraded fallback"))

	return &Service{
		store:         store,
		degraded:      degraded,
		txm:           txm,
		publisher:     publisher,
		opts:          opts,
		retries:       retries,
		degradedCount: degradedCount,
	}
}

// ConfigFor returns the seed and template used when the counter is created.
func (s *Service) ConfigFor(dt numerator.DocumentType) numerator.Config {
	if cfg, ok := s.opts.Overrides[dt]; ok {
		return cfg
	}
	return numerator.DefaultConfig(dt)
}

// NextNumber allocates the next number of (tenantID, dt).
//
// The counter is created lazily from the document type's seed within the same
// atomic store operation that returns the first number. Conflicts with
// concurrent writers are retried up to the retry budget; after that the call
// fails with SEQUENCE_UNAVAILABLE, or returns a Degraded allocation when the
// fallback is enabled.
func (s *Service) NextNumber(ctx context.Context, tenantID string, dt numerator.DocumentType) (Allocation, error) {
	if err := validateKey(tenantID, dt); err != nil {
		return Allocation{}, err
	}
	seed := s.ConfigFor(dt)

	attempts := 0
	taken, err := backoff.Retry(ctx, func() (numerator.Taken, error) {
		attempts++
		t, err := s.store.Take(ctx, tenantID, dt, seed)
		if err == nil {
			return t, nil
		}
		if errors.Is(err, numerator.ErrConflict) {
			s.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("document_type", string(dt))))
			logger.Debug(ctx, "sequence conflict, retrying",
				"tenant_id", tenantID, "document_type", dt, "attempt", attempts)
			return numerator.Taken{}, err
		}
		return numerator.Taken{}, backoff.Permanent(err)
	}, backoff.WithBackOff(s.newBackOff()), backoff.WithMaxTries(uint(s.opts.RetryBudget)))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Allocation{}, ctxErr
		}
		if s.opts.DegradedFallback {
			return s.degradedNumber(ctx, tenantID, dt, seed, err)
		}
		logger.Error(ctx, "sequence unavailable",
			"tenant_id", tenantID, "document_type", dt, "attempts", attempts, "error", err)
		return Allocation{}, apperror.NewSequenceUnavailable(tenantID, string(dt), attempts).WithCause(err)
	}

	alloc := Allocation{
		DocumentType: dt,
		Number:       taken.Number,
		Formatted:    numerator.Format(taken.Number, taken.Format, taken.Prefix),
	}
	logger.Debug(ctx, "allocated document number",
		"tenant_id", tenantID, "document_type", dt, "number", alloc.Formatted)
	return alloc, nil
}

func (s *Service) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if s.opts.InitialInterval > 0 {
		b.InitialInterval = s.opts.InitialInterval
	}
	if s.opts.MaxInterval > 0 {
		b.MaxInterval = s.opts.MaxInterval
	}
	return b
}

// degradedNumber derives a number from the wall clock. The number is only
// returned once its reconciliation record and event are written.
func (s *Service) degradedNumber(ctx context.Context, tenantID string, dt numerator.DocumentType, seed numerator.Config, cause error) (Allocation, error) {
	if s.degraded == nil || s.txm == nil {
		return Allocation{}, apperror.NewSequenceUnavailable(tenantID, string(dt), s.opts.RetryBudget).WithCause(cause)
	}

	now := s.opts.Now().UTC()
	number := now.UnixMilli() % 10000
	record := DegradedAllocation{
		ID:           id.New(),
		TenantID:     tenantID,
		DocumentType: dt,
		Number:       number,
		Formatted:    numerator.Format(number, seed.Format, seed.Prefix),
		Cause:        cause.Error(),
		CreatedAt:    now,
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.degraded.Record(ctx, record); err != nil {
			return fmt.Errorf("record degraded allocation: %w", err)
		}
		return s.publisher.Publish(ctx, events.DomainEvent{
			TenantID:      tenantID,
			AggregateType: events.AggregateSequence,
			AggregateID:   record.ID,
			EventType:     events.TypeSequenceDegraded,
			Payload:       record,
		})
	})
	if err != nil {
		logger.Error(ctx, "degraded number could not be recorded",
			"tenant_id", tenantID, "document_type", dt, "error", err)
		return Allocation{}, apperror.NewSequenceUnavailable(tenantID, string(dt), s.opts.RetryBudget).
			WithCause(errors.Join(cause, err))
	}

	s.degradedCount.Add(ctx, 1, metric.WithAttributes(attribute.String("document_type", string(dt))))
	logger.Warn(ctx, "degraded document number issued, reconciliation required",
		"tenant_id", tenantID,
		"document_type", dt,
		"number", record.Formatted,
		"record_id", record.ID,
		"cause", cause,
	)

	return Allocation{
		DocumentType: dt,
		Number:       number,
		Formatted:    record.Formatted,
		Degraded:     true,
	}, nil
}

// ProvisionDefaults creates every missing built-in counter of the tenant.
// Existing counters are left untouched. Returns the types that were created.
func (s *Service) ProvisionDefaults(ctx context.Context, tenantID string) ([]numerator.DocumentType, error) {
	if tenantID == "" {
		return nil, apperror.NewValidation("tenant is required")
	}

	var created []numerator.DocumentType
	for _, dt := range numerator.DefaultTypes() {
		ok, err := s.store.Ensure(ctx, tenantID, dt, s.ConfigFor(dt))
		if err != nil {
			return created, fmt.Errorf("ensure counter %s: %w", dt, err)
		}
		if ok {
			created = append(created, dt)
		}
	}

	logger.Info(ctx, "provisioned default sequences", "tenant_id", tenantID, "created", len(created))
	return created, nil
}

// ListSequences returns the tenant's counters with a preview of the next number.
func (s *Service) ListSequences(ctx context.Context, tenantID string) ([]Sequence, error) {
	if tenantID == "" {
		return nil, apperror.NewValidation("tenant is required")
	}
	counters, err := s.store.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	out := make([]Sequence, 0, len(counters))
	for _, c := range counters {
		out = append(out, Sequence{Counter: c, NextFormatted: c.Preview()})
	}
	return out, nil
}

// GetSequence returns one counter. An absent counter is reported with its seed
// values so callers can preview the first number.
func (s *Service) GetSequence(ctx context.Context, tenantID string, dt numerator.DocumentType) (Sequence, error) {
	if err := validateKey(tenantID, dt); err != nil {
		return Sequence{}, err
	}
	c, err := s.store.Get(ctx, tenantID, dt)
	if errors.Is(err, numerator.ErrCounterNotFound) {
		cfg := s.ConfigFor(dt)
		c = numerator.Counter{
			TenantID:     tenantID,
			DocumentType: dt,
			NextNumber:   cfg.Seed,
			Format:       cfg.Format,
			Prefix:       cfg.Prefix,
		}
	} else if err != nil {
		return Sequence{}, fmt.Errorf("get counter: %w", err)
	}
	return Sequence{Counter: c, NextFormatted: c.Preview()}, nil
}

// UpdateSequence changes format, prefix or next number of a counter.
func (s *Service) UpdateSequence(ctx context.Context, tenantID string, dt numerator.DocumentType, in UpdateInput) (Sequence, error) {
	current, err := s.GetSequence(ctx, tenantID, dt)
	if err != nil {
		return Sequence{}, err
	}

	c := current.Counter
	if in.Format != nil {
		c.Format = *in.Format
	}
	if in.Prefix != nil {
		c.Prefix = *in.Prefix
	}
	if in.NextNumber != nil {
		if *in.NextNumber < 1 {
			return Sequence{}, apperror.NewValidation("next number must be positive").
				WithDetail("field", "nextNumber")
		}
		if *in.NextNumber < c.NextNumber && !in.Force {
			return Sequence{}, apperror.NewBusinessRule(apperror.CodeBusinessRule,
				"Lowering a counter can reissue numbers; set force to confirm").
				WithDetail("current", c.NextNumber).
				WithDetail("requested", *in.NextNumber)
		}
		c.NextNumber = *in.NextNumber
	}

	if err := s.store.Set(ctx, c, in.Force); err != nil {
		return Sequence{}, fmt.Errorf("set counter: %w", err)
	}

	logger.Info(ctx, "sequence updated",
		"tenant_id", tenantID, "document_type", dt, "next_number", c.NextNumber, "format", c.Format, "forced", in.Force)

	return s.GetSequence(ctx, tenantID, dt)
}

// ListDegraded returns degraded allocations awaiting reconciliation.
func (s *Service) ListDegraded(ctx context.Context, tenantID string, includeResolved bool) ([]DegradedAllocation, error) {
	if s.degraded == nil {
		return nil, nil
	}
	return s.degraded.List(ctx, tenantID, includeResolved)
}

// ResolveDegraded marks a degraded allocation as reconciled by an operator.
func (s *Service) ResolveDegraded(ctx context.Context, tenantID string, recordID id.ID, actor string) error {
	if s.degraded == nil {
		return apperror.NewNotFound("degraded allocation", recordID)
	}
	if err := s.degraded.Resolve(ctx, tenantID, recordID, actor, s.opts.Now().UTC()); err != nil {
		return err
	}
	logger.Info(ctx, "degraded allocation resolved", "tenant_id", tenantID, "record_id", recordID, "actor", actor)
	return nil
}

func validateKey(tenantID string, dt numerator.DocumentType) error {
	if tenantID == "" {
		return apperror.NewValidation("tenant is required").WithDetail("field", "tenantId")
	}
	if dt == "" {
		return apperror.NewValidation("document type is required").WithDetail("field", "documentType")
	}
	return nil
}
