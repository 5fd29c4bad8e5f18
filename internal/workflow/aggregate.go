package workflow

import (
	"fmt"
	"time"

	"constructlink/internal/models"
)

// AggregateStatus resolves the batch status from its items.
//
// Stored statuses must be identical across the batch, otherwise the result is
// ErrConsistency. Effective statuses are not required to agree: expected
// returns may differ per item, so a Borrowed batch whose items are partly
// Overdue and partly Borrowed resolves to Overdue instead of failing.
func AggregateStatus(items []*models.BorrowingItem, now time.Time) (models.Status, error) {
	if len(items) == 0 {
		return "", consistency(0, "batch has no items")
	}

	shared := items[0].Status
	overdue := false
	for _, it := range items {
		if it.Status != shared {
			return "", consistency(it.BatchID, fmt.Sprintf("item %d is %s, item %d is %s", items[0].ID, shared, it.ID, it.Status))
		}
		if EffectiveStatus(*it, now) == models.StatusOverdue {
			overdue = true
		}
	}
	if !shared.Stored() {
		return "", consistency(items[0].BatchID, fmt.Sprintf("unknown stored status %q", shared))
	}
	if overdue {
		return models.StatusOverdue, nil
	}
	return shared, nil
}
