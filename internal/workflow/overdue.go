package workflow

import (
	"time"

	"constructlink/internal/models"
)

// EffectiveStatus is the status shown to users. A Borrowed item is Overdue
// only strictly after its expected return.
func EffectiveStatus(item models.BorrowingItem, now time.Time) models.Status {
	if item.Status == models.StatusBorrowed && item.ExpectedReturn != nil && now.After(*item.ExpectedReturn) {
		return models.StatusOverdue
	}
	return item.Status
}

// OverdueBy returns how long past its expected return an item is, or zero.
func OverdueBy(item models.BorrowingItem, now time.Time) time.Duration {
	if EffectiveStatus(item, now) != models.StatusOverdue {
		return 0
	}
	return now.Sub(*item.ExpectedReturn)
}

// ItemViews decorates items with their effective status.
func ItemViews(items []*models.BorrowingItem, now time.Time) []models.ItemView {
	views := make([]models.ItemView, 0, len(items))
	for _, it := range items {
		views = append(views, models.ItemView{BorrowingItem: *it, EffectiveStatus: EffectiveStatus(*it, now)})
	}
	return views
}
