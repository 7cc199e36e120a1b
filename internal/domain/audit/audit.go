// Package audit defines the audit trail of document state changes.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"bizledger/internal/core/id"
)

// Actions recorded in the trail.
const (
	ActionCreate     = "create"
	ActionTransition = "transition"
	ActionStorno     = "storno"
	ActionReserve    = "reserve"
)

// Entry is one audit record. Snapshot is serialized by the recorder.
type Entry struct {
	TenantID   string
	EntityType string
	EntityID   id.ID
	Action     string
	Actor      string
	FromStatus string
	ToStatus   string
	Snapshot   any
}

// Recorder persists audit entries. Called inside the transaction of the change.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// NopRecorder discards entries.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, Entry) error { return nil }

// Record is a stored entry as returned by History.
type Record struct {
	ID         id.ID           `json:"id"`
	EntityType string          `json:"entityType"`
	EntityID   id.ID           `json:"entityId"`
	Action     string          `json:"action"`
	Actor      string          `json:"actor,omitempty"`
	FromStatus string          `json:"fromStatus,omitempty"`
	ToStatus   string          `json:"toStatus,omitempty"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Reader returns the trail of one entity, newest first.
type Reader interface {
	History(ctx context.Context, tenantID, entityType string, entityID id.ID, limit int) ([]Record, error)
}

// DefaultHistoryLimit applies when History is called with limit <= 0.
const DefaultHistoryLimit = 100
