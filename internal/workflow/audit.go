package workflow

import (
	"context"
	"errors"
	"fmt"

	"constructlink/internal/database"
	"constructlink/internal/domain"
	"constructlink/internal/models"
)

// AuditTrail reads the append-only workflow history. Writes happen only
// inside engine transactions.
type AuditTrail struct {
	store domain.WorkflowStore
}

func NewAuditTrail(store domain.WorkflowStore) *AuditTrail {
	return &AuditTrail{store: store}
}

// History returns every entry of a batch, oldest first.
func (a *AuditTrail) History(ctx context.Context, batchID int64) ([]models.AuditEntry, error) {
	if _, _, err := a.store.GetBatch(ctx, batchID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound(batchID)
		}
		return nil, fmt.Errorf("failed to load batch %d: %w", batchID, err)
	}

	entries, err := a.store.ListAudit(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	return deref(entries), nil
}

// Recent returns up to limit entries, newest first.
func (a *AuditTrail) Recent(ctx context.Context, batchID int64, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		return []models.AuditEntry{}, nil
	}
	entries, err := a.store.RecentAudit(ctx, batchID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent audit entries: %w", err)
	}
	return deref(entries), nil
}

func deref(entries []*models.AuditEntry) []models.AuditEntry {
	out := make([]models.AuditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e)
	}
	return out
}
