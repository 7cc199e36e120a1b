package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"bizledger/internal/core/id"
	"bizledger/internal/domain/audit"
)

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// AuditRecord is a stored audit log entry.
type AuditRecord struct {
	ID                id.ID           `db:"id"`
	TenantID          string          `db:"tenant_id"`
	EntityType        string          `db:"entity_type"`
	EntityID          id.ID           `db:"entity_id"`
	Action            string          `db:"action"`
	Actor             string          `db:"actor"`
	FromStatus        string          `db:"from_status"`
	ToStatus          string          `db:"to_status"`
	Changes           json.RawMessage `db:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	CreatedAt         time.Time       `db:"created_at"`
}

// AuditService writes audit entries into sys_audit. Snapshots larger than the
// threshold are stored zstd-compressed.
type AuditService struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

var (
	_ audit.Recorder = (*AuditService)(nil)
	_ audit.Reader   = (*AuditService)(nil)
)

// NewAuditService creates a new audit service. A threshold <= 0 means 10KB.
func NewAuditService(txManager *TxManager, compressThreshold int) (*AuditService, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	if compressThreshold <= 0 {
		compressThreshold = 10 * 1024
	}

	return &AuditService{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: compressThreshold,
	}, nil
}

// Record implements audit.Recorder. It writes through the transaction in ctx
// so the entry commits together with the change it describes.
func (s *AuditService) Record(ctx context.Context, e audit.Entry) error {
	rec, err := s.encode(e)
	if err != nil {
		return err
	}

	_, err = s.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_audit (
			id, tenant_id, entity_type, entity_id, action, actor, from_status, to_status,
			changes, changes_compressed, compression_algo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.ID, rec.TenantID, rec.EntityType, rec.EntityID, rec.Action, rec.Actor, rec.FromStatus, rec.ToStatus,
		rec.Changes, rec.ChangesCompressed, rec.CompressionAlgo, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *AuditService) encode(e audit.Entry) (AuditRecord, error) {
	rec := AuditRecord{
		ID:              id.New(),
		TenantID:        e.TenantID,
		EntityType:      e.EntityType,
		EntityID:        e.EntityID,
		Action:          e.Action,
		Actor:           e.Actor,
		FromStatus:      e.FromStatus,
		ToStatus:        e.ToStatus,
		CompressionAlgo: CompressionNone,
		CreatedAt:       time.Now().UTC(),
	}
	if e.Snapshot == nil {
		return rec, nil
	}

	changes, err := json.Marshal(e.Snapshot)
	if err != nil {
		return rec, fmt.Errorf("marshal audit snapshot: %w", err)
	}
	rec.Changes = changes

	if len(changes) > s.compressThreshold {
		rec.ChangesCompressed = s.encoder.EncodeAll(changes, nil)
		rec.Changes = nil
		rec.CompressionAlgo = CompressionZstd
	}
	return rec, nil
}

// decode restores a compressed snapshot in place.
func (s *AuditService) decode(rec *AuditRecord) error {
	if rec.CompressionAlgo != CompressionZstd || len(rec.ChangesCompressed) == 0 {
		return nil
	}
	decompressed, err := s.decoder.DecodeAll(rec.ChangesCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress changes: %w", err)
	}
	rec.Changes = decompressed
	rec.ChangesCompressed = nil
	return nil
}

// History implements audit.Reader.
func (s *AuditService) History(ctx context.Context, tenantID, entityType string, entityID id.ID, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = audit.DefaultHistoryLimit
	}
	rows, err := s.txManager.GetQuerier(ctx).Query(ctx, `
		SELECT id, tenant_id, entity_type, entity_id, action, actor, from_status, to_status,
		       changes, changes_compressed, compression_algo, created_at
		FROM sys_audit
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, tenantID, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(
			&r.ID, &r.TenantID, &r.EntityType, &r.EntityID, &r.Action, &r.Actor, &r.FromStatus, &r.ToStatus,
			&r.Changes, &r.ChangesCompressed, &r.CompressionAlgo, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := s.decode(&r); err != nil {
			return nil, err
		}
		records = append(records, audit.Record{
			ID:         r.ID,
			EntityType: r.EntityType,
			EntityID:   r.EntityID,
			Action:     r.Action,
			Actor:      r.Actor,
			FromStatus: r.FromStatus,
			ToStatus:   r.ToStatus,
			Snapshot:   r.Changes,
			CreatedAt:  r.CreatedAt,
		})
	}
	return records, rows.Err()
}
