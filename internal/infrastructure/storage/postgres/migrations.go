package postgres

import (
	"context"
	"fmt"

	"bizledger/pkg/logger"
)

// migrations create the schema. Every statement is idempotent so Migrate can
// run on each start of the seed command.
var migrations = []struct {
	name string
	sql  string
}{
	{"sys_sequences", `
		CREATE TABLE IF NOT EXISTS sys_sequences (
			tenant_id     TEXT        NOT NULL,
			document_type TEXT        NOT NULL,
			next_number   BIGINT      NOT NULL CHECK (next_number >= 0),
			format        TEXT        NOT NULL,
			prefix        TEXT        NOT NULL DEFAULT '',
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, document_type)
		)`},
	{"sys_degraded_allocations", `
		CREATE TABLE IF NOT EXISTS sys_degraded_allocations (
			id            UUID        PRIMARY KEY,
			tenant_id     TEXT        NOT NULL,
			document_type TEXT        NOT NULL,
			number        BIGINT      NOT NULL,
			formatted     TEXT        NOT NULL,
			cause         TEXT        NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			resolved_at   TIMESTAMPTZ,
			resolved_by   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_degraded_open
			ON sys_degraded_allocations (tenant_id, created_at) WHERE resolved_at IS NULL`},
	{"inv_items", `
		CREATE TABLE IF NOT EXISTS inv_items (
			id             UUID          PRIMARY KEY,
			tenant_id      TEXT          NOT NULL,
			version        INT           NOT NULL DEFAULT 1,
			sku            TEXT          NOT NULL DEFAULT '',
			name           TEXT          NOT NULL,
			unit           TEXT          NOT NULL DEFAULT '',
			current_stock  BIGINT        NOT NULL DEFAULT 0,
			reserved_stock BIGINT        NOT NULL DEFAULT 0,
			min_stock      BIGINT        NOT NULL DEFAULT 0,
			purchase_price NUMERIC(18,4) NOT NULL DEFAULT 0,
			selling_price  NUMERIC(18,4) NOT NULL DEFAULT 0,
			active         BOOLEAN       NOT NULL DEFAULT TRUE,
			created_at     TIMESTAMPTZ   NOT NULL,
			updated_at     TIMESTAMPTZ   NOT NULL,
			CONSTRAINT inv_items_levels CHECK (reserved_stock >= 0 AND reserved_stock <= current_stock)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_inv_items_sku
			ON inv_items (tenant_id, sku) WHERE sku <> ''`},
	{"inv_movements", `
		CREATE TABLE IF NOT EXISTS inv_movements (
			id                UUID        PRIMARY KEY,
			tenant_id         TEXT        NOT NULL,
			item_id           UUID        NOT NULL REFERENCES inv_items (id),
			seq               BIGINT      NOT NULL,
			type              TEXT        NOT NULL,
			quantity          BIGINT      NOT NULL,
			previous_stock    BIGINT      NOT NULL,
			new_stock         BIGINT      NOT NULL,
			previous_reserved BIGINT      NOT NULL,
			new_reserved      BIGINT      NOT NULL,
			reason            TEXT        NOT NULL DEFAULT '',
			reference         TEXT        NOT NULL DEFAULT '',
			created_by        TEXT        NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL,
			UNIQUE (item_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_inv_movements_reference ON inv_movements (tenant_id, reference)`},
	{"doc_quotes", `
		CREATE TABLE IF NOT EXISTS doc_quotes (
			id                UUID          PRIMARY KEY,
			tenant_id         TEXT          NOT NULL,
			version           INT           NOT NULL DEFAULT 1,
			number            TEXT          NOT NULL,
			number_degraded   BOOLEAN       NOT NULL DEFAULT FALSE,
			date              TIMESTAMPTZ   NOT NULL,
			created_by        TEXT          NOT NULL DEFAULT '',
			updated_by        TEXT          NOT NULL DEFAULT '',
			comment           TEXT          NOT NULL DEFAULT '',
			customer_name     TEXT          NOT NULL DEFAULT '',
			status            TEXT          NOT NULL,
			valid_until       TIMESTAMPTZ   NOT NULL,
			lines             JSONB         NOT NULL DEFAULT '[]',
			total             NUMERIC(18,4) NOT NULL DEFAULT 0,
			reservation_state TEXT          NOT NULL DEFAULT 'none',
			reserved_lines    JSONB         NOT NULL DEFAULT '[]',
			invoice_id        UUID,
			invoice_number    TEXT          NOT NULL DEFAULT '',
			closed_at         TIMESTAMPTZ,
			created_at        TIMESTAMPTZ   NOT NULL,
			updated_at        TIMESTAMPTZ   NOT NULL,
			UNIQUE (tenant_id, number)
		);
		CREATE INDEX IF NOT EXISTS idx_doc_quotes_open ON doc_quotes (tenant_id, status, valid_until);
		CREATE INDEX IF NOT EXISTS idx_doc_quotes_pending ON doc_quotes (tenant_id, updated_at)
			WHERE reservation_state = 'pending'`},
	{"doc_invoices", `
		CREATE TABLE IF NOT EXISTS doc_invoices (
			id                  UUID          PRIMARY KEY,
			tenant_id           TEXT          NOT NULL,
			version             INT           NOT NULL DEFAULT 1,
			number              TEXT          NOT NULL,
			number_degraded     BOOLEAN       NOT NULL DEFAULT FALSE,
			date                TIMESTAMPTZ   NOT NULL,
			created_by          TEXT          NOT NULL DEFAULT '',
			updated_by          TEXT          NOT NULL DEFAULT '',
			comment             TEXT          NOT NULL DEFAULT '',
			customer_name       TEXT          NOT NULL DEFAULT '',
			status              TEXT          NOT NULL,
			due_date            TIMESTAMPTZ,
			lines               JSONB         NOT NULL DEFAULT '[]',
			total               NUMERIC(18,4) NOT NULL DEFAULT 0,
			paid_at             TIMESTAMPTZ,
			quote_id            UUID,
			is_storno           BOOLEAN       NOT NULL DEFAULT FALSE,
			original_invoice_id UUID REFERENCES doc_invoices (id),
			storno_invoice_id   UUID,
			storno_reason       TEXT          NOT NULL DEFAULT '',
			storno_by           TEXT          NOT NULL DEFAULT '',
			storno_date         TIMESTAMPTZ,
			created_at          TIMESTAMPTZ   NOT NULL,
			updated_at          TIMESTAMPTZ   NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_doc_invoices_one_storno
			ON doc_invoices (original_invoice_id) WHERE is_storno`},
	{"sys_outbox", `
		CREATE TABLE IF NOT EXISTS sys_outbox (
			id             UUID        PRIMARY KEY,
			tenant_id      TEXT        NOT NULL,
			aggregate_type TEXT        NOT NULL,
			aggregate_id   UUID        NOT NULL,
			event_type     TEXT        NOT NULL,
			payload        JSONB       NOT NULL,
			status         TEXT        NOT NULL,
			retry_count    INT         NOT NULL DEFAULT 0,
			last_error     TEXT,
			next_retry_at  TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL,
			published_at   TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_sys_outbox_pending ON sys_outbox (created_at) WHERE status = 'pending'`},
	{"sys_audit", `
		CREATE TABLE IF NOT EXISTS sys_audit (
			id                 UUID        PRIMARY KEY,
			tenant_id          TEXT        NOT NULL,
			entity_type        TEXT        NOT NULL,
			entity_id          UUID        NOT NULL,
			action             TEXT        NOT NULL,
			actor              TEXT        NOT NULL DEFAULT '',
			from_status        TEXT        NOT NULL DEFAULT '',
			to_status          TEXT        NOT NULL DEFAULT '',
			changes            JSONB,
			changes_compressed BYTEA,
			compression_algo   TEXT        NOT NULL DEFAULT 'none',
			created_at         TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sys_audit_entity ON sys_audit (tenant_id, entity_type, entity_id, created_at)`},
}

// Migrate applies the schema.
func Migrate(ctx context.Context, txm *TxManager) error {
	return txm.RunInTransaction(ctx, func(ctx context.Context) error {
		q := txm.GetQuerier(ctx)
		for _, m := range migrations {
			if _, err := q.Exec(ctx, m.sql); err != nil {
				return fmt.Errorf("migration %s: %w", m.name, err)
			}
			logger.Debug(ctx, "migration applied", "name", m.name)
		}
		return nil
	})
}
