package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bizledger/internal/core/id"
	"bizledger/internal/domain/audit"
	"bizledger/internal/domain/events"
)

// OutboxMessage is a published event awaiting delivery.
type OutboxMessage struct {
	ID        id.ID
	Event     events.DomainEvent
	CreatedAt time.Time
}

// Outbox is the in-memory events.Publisher. Events commit or roll back with
// the surrounding transaction.
type Outbox struct{ s *Store }

// Publish implements events.Publisher.
func (o *Outbox) Publish(ctx context.Context, event events.DomainEvent) error {
	return o.s.write(ctx, func(st *state) error {
		st.outbox = append(st.outbox, OutboxMessage{
			ID:        id.New(),
			Event:     event,
			CreatedAt: o.s.now().UTC(),
		})
		return nil
	})
}

// Events returns the published events of a tenant in publish order.
func (o *Outbox) Events(ctx context.Context, tenantID string) []events.DomainEvent {
	var out []events.DomainEvent
	_ = o.s.read(ctx, func(st *state) error {
		for _, m := range st.outbox {
			if m.Event.TenantID == tenantID {
				out = append(out, m.Event)
			}
		}
		return nil
	})
	return out
}

// AuditLog is the in-memory audit.Recorder and audit.Reader.
type AuditLog struct{ s *Store }

type auditRow struct {
	tenantID string
	record   audit.Record
}

// Record implements audit.Recorder.
func (a *AuditLog) Record(ctx context.Context, e audit.Entry) error {
	var snapshot json.RawMessage
	if e.Snapshot != nil {
		b, err := json.Marshal(e.Snapshot)
		if err != nil {
			return fmt.Errorf("marshal audit snapshot: %w", err)
		}
		snapshot = b
	}
	return a.s.write(ctx, func(st *state) error {
		st.audit = append(st.audit, auditRow{
			tenantID: e.TenantID,
			record: audit.Record{
				ID:         id.New(),
				EntityType: e.EntityType,
				EntityID:   e.EntityID,
				Action:     e.Action,
				Actor:      e.Actor,
				FromStatus: e.FromStatus,
				ToStatus:   e.ToStatus,
				Snapshot:   snapshot,
				CreatedAt:  a.s.now().UTC(),
			},
		})
		return nil
	})
}

// Entries returns the audit trail of one entity in record order.
func (a *AuditLog) Entries(ctx context.Context, tenantID string, entityID id.ID) []audit.Record {
	var out []audit.Record
	_ = a.s.read(ctx, func(st *state) error {
		for _, row := range st.audit {
			if row.tenantID == tenantID && row.record.EntityID == entityID {
				out = append(out, row.record)
			}
		}
		return nil
	})
	return out
}

// History implements audit.Reader.
func (a *AuditLog) History(ctx context.Context, tenantID, entityType string, entityID id.ID, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = audit.DefaultHistoryLimit
	}
	var out []audit.Record
	err := a.s.read(ctx, func(st *state) error {
		for i := len(st.audit) - 1; i >= 0 && len(out) < limit; i-- {
			row := st.audit[i]
			if row.tenantID == tenantID && row.record.EntityType == entityType && row.record.EntityID == entityID {
				out = append(out, row.record)
			}
		}
		return nil
	})
	return out, err
}
