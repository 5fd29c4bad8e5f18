package database

const (
	tableBatches = "batches"
	tableItems   = "borrowing_items"
	tableAudit   = "workflow_audit"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reference TEXT NOT NULL UNIQUE,
		borrower_name TEXT NOT NULL,
		borrower_contact TEXT NOT NULL DEFAULT '',
		borrower_project TEXT NOT NULL DEFAULT '',
		purpose TEXT NOT NULL DEFAULT '',
		created_by INTEGER NOT NULL,
		status TEXT NOT NULL,
		verified_by INTEGER,
		verified_at DATETIME,
		verification_notes TEXT,
		approved_by INTEGER,
		approved_at DATETIME,
		approval_notes TEXT,
		released_by INTEGER,
		released_at DATETIME,
		release_notes TEXT,
		returned_by INTEGER,
		returned_at DATETIME,
		return_notes TEXT,
		canceled_by INTEGER,
		canceled_at DATETIME,
		cancellation_reason TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS borrowing_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id INTEGER NOT NULL REFERENCES batches(id),
		asset_id INTEGER NOT NULL,
		asset_name TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 1,
		serial_number TEXT NOT NULL DEFAULT '',
		expected_return DATETIME,
		actual_return DATETIME,
		status TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		batch_id INTEGER NOT NULL REFERENCES batches(id),
		transition TEXT NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status TEXT NOT NULL,
		actor_id INTEGER NOT NULL,
		actor_name TEXT NOT NULL DEFAULT '',
		actor_role TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_created_by ON batches(created_by)`,
	`CREATE INDEX IF NOT EXISTS idx_items_batch_id ON borrowing_items(batch_id)`,
	`CREATE INDEX IF NOT EXISTS idx_items_expected_return ON borrowing_items(expected_return)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_batch_id ON workflow_audit(batch_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_idempotency ON workflow_audit(batch_id, idempotency_key)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS batches (
		id BIGSERIAL PRIMARY KEY,
		reference TEXT NOT NULL UNIQUE,
		borrower_name TEXT NOT NULL,
		borrower_contact TEXT NOT NULL DEFAULT '',
		borrower_project TEXT NOT NULL DEFAULT '',
		purpose TEXT NOT NULL DEFAULT '',
		created_by BIGINT NOT NULL,
		status TEXT NOT NULL,
		verified_by BIGINT,
		verified_at TIMESTAMPTZ,
		verification_notes TEXT,
		approved_by BIGINT,
		approved_at TIMESTAMPTZ,
		approval_notes TEXT,
		released_by BIGINT,
		released_at TIMESTAMPTZ,
		release_notes TEXT,
		returned_by BIGINT,
		returned_at TIMESTAMPTZ,
		return_notes TEXT,
		canceled_by BIGINT,
		canceled_at TIMESTAMPTZ,
		cancellation_reason TEXT,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS borrowing_items (
		id BIGSERIAL PRIMARY KEY,
		batch_id BIGINT NOT NULL REFERENCES batches(id),
		asset_id BIGINT NOT NULL,
		asset_name TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 1,
		serial_number TEXT NOT NULL DEFAULT '',
		expected_return TIMESTAMPTZ,
		actual_return TIMESTAMPTZ,
		status TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_audit (
		id BIGSERIAL PRIMARY KEY,
		event_id TEXT NOT NULL,
		batch_id BIGINT NOT NULL REFERENCES batches(id),
		transition TEXT NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status TEXT NOT NULL,
		actor_id BIGINT NOT NULL,
		actor_name TEXT NOT NULL DEFAULT '',
		actor_role TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_created_by ON batches(created_by)`,
	`CREATE INDEX IF NOT EXISTS idx_items_batch_id ON borrowing_items(batch_id)`,
	`CREATE INDEX IF NOT EXISTS idx_items_expected_return ON borrowing_items(expected_return)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_batch_id ON workflow_audit(batch_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_idempotency ON workflow_audit(batch_id, idempotency_key)`,
}
