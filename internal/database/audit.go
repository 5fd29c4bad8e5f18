package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"constructlink/internal/models"

	"github.com/jmoiron/sqlx"
)

const auditColumns = `id, event_id, batch_id, transition, from_status, to_status,
	actor_id, actor_name, actor_role, notes, idempotency_key, created_at`

type auditRow struct {
	ID             int64          `db:"id"`
	EventID        string         `db:"event_id"`
	BatchID        int64          `db:"batch_id"`
	Transition     string         `db:"transition"`
	FromStatus     string         `db:"from_status"`
	ToStatus       string         `db:"to_status"`
	ActorID        int64          `db:"actor_id"`
	ActorName      string         `db:"actor_name"`
	ActorRole      string         `db:"actor_role"`
	Notes          string         `db:"notes"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r *auditRow) toModel() *models.AuditEntry {
	return &models.AuditEntry{
		ID:             r.ID,
		EventID:        r.EventID,
		BatchID:        r.BatchID,
		Transition:     models.Transition(r.Transition),
		FromStatus:     models.Status(r.FromStatus),
		ToStatus:       models.Status(r.ToStatus),
		ActorID:        r.ActorID,
		ActorName:      r.ActorName,
		ActorRole:      models.Role(r.ActorRole),
		Notes:          r.Notes,
		IdempotencyKey: r.IdempotencyKey.String,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func appendAudit(ctx context.Context, q sqlx.ExtContext, entry *models.AuditEntry) error {
	query := q.Rebind(`INSERT INTO workflow_audit (
			event_id, batch_id, transition, from_status, to_status,
			actor_id, actor_name, actor_role, notes, idempotency_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)

	err := q.QueryRowxContext(ctx, query,
		entry.EventID,
		entry.BatchID,
		entry.Transition,
		entry.FromStatus,
		entry.ToStatus,
		entry.ActorID,
		entry.ActorName,
		entry.ActorRole,
		entry.Notes,
		nullString(entry.IdempotencyKey),
		entry.CreatedAt.UTC(),
	).Scan(&entry.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func findAuditByKey(ctx context.Context, q sqlx.ExtContext, batchID int64, key string) (*models.AuditEntry, error) {
	query := q.Rebind(`SELECT ` + auditColumns + ` FROM workflow_audit WHERE batch_id = ? AND idempotency_key = ?`)
	var row auditRow
	if err := sqlx.GetContext(ctx, q, &row, query, batchID, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find audit entry: %w", err)
	}
	return row.toModel(), nil
}

func (db *DB) FindAuditByKey(ctx context.Context, batchID int64, key string) (*models.AuditEntry, error) {
	return findAuditByKey(ctx, db.DB, batchID, key)
}

// ListAudit returns the full trail of a batch, oldest first.
func (db *DB) ListAudit(ctx context.Context, batchID int64) ([]*models.AuditEntry, error) {
	query := db.Rebind(`SELECT ` + auditColumns + ` FROM workflow_audit WHERE batch_id = ? ORDER BY id ASC`)
	return db.selectAudit(ctx, query, batchID)
}

// RecentAudit returns up to limit entries, newest first.
func (db *DB) RecentAudit(ctx context.Context, batchID int64, limit int) ([]*models.AuditEntry, error) {
	query := db.Rebind(`SELECT ` + auditColumns + ` FROM workflow_audit WHERE batch_id = ? ORDER BY id DESC LIMIT ?`)
	return db.selectAudit(ctx, query, batchID, limit)
}

func (db *DB) selectAudit(ctx context.Context, query string, args ...interface{}) ([]*models.AuditEntry, error) {
	var rows []auditRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	entries := make([]*models.AuditEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].toModel())
	}
	return entries, nil
}
