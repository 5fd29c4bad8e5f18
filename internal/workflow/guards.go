package workflow

import (
	"fmt"
	"strings"
	"time"

	"constructlink/internal/models"
)

// ItemData is per-item input carried by a transition.
type ItemData struct {
	ItemID       int64  `json:"item_id"`
	SerialNumber string `json:"serial_number,omitempty"`
}

func checkCancelReason(batchID int64, reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", guardFailed(batchID, models.TransitionCancel, "reason", "a cancellation reason is required")
	}
	return reason, nil
}

func checkExpectedReturns(batchID int64, items []*models.BorrowingItem) error {
	var missing []string
	for _, it := range items {
		if it.ExpectedReturn == nil {
			missing = append(missing, fmt.Sprintf("%d", it.ID))
		}
	}
	if len(missing) > 0 {
		return guardFailed(batchID, models.TransitionRelease, "expected_return",
			"expected return is not set for item(s) "+strings.Join(missing, ", "))
	}
	return nil
}

// checkActualReturn defaults the return time to now and rejects future
// times or times before the batch was released.
func checkActualReturn(batch *models.BorrowingBatch, actual *time.Time, now time.Time) (time.Time, error) {
	if actual == nil {
		return now, nil
	}
	at := *actual
	if at.After(now) {
		return time.Time{}, guardFailed(batch.ID, models.TransitionReturn, "actual_return", "actual return cannot be in the future")
	}
	if batch.Released.At != nil && at.Before(*batch.Released.At) {
		return time.Time{}, guardFailed(batch.ID, models.TransitionReturn, "actual_return", "actual return cannot precede the release")
	}
	return at, nil
}

func indexItems(items []*models.BorrowingItem) map[int64]*models.BorrowingItem {
	byID := make(map[int64]*models.BorrowingItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	return byID
}

// applyItemData validates every entry before touching any item.
func applyItemData(batchID int64, t models.Transition, items []*models.BorrowingItem, data []ItemData) error {
	byID := indexItems(items)
	seen := make(map[int64]bool, len(data))
	for _, d := range data {
		if _, ok := byID[d.ItemID]; !ok {
			return guardFailed(batchID, t, "items", fmt.Sprintf("item %d does not belong to the batch", d.ItemID))
		}
		if seen[d.ItemID] {
			return guardFailed(batchID, t, "items", fmt.Sprintf("item %d listed twice", d.ItemID))
		}
		seen[d.ItemID] = true
	}
	for _, d := range data {
		if sn := strings.TrimSpace(d.SerialNumber); sn != "" {
			byID[d.ItemID].SerialNumber = sn
		}
	}
	return nil
}
