package models

import "time"

// BorrowingItem is one equipment line of a batch.
type BorrowingItem struct {
	ID             int64      `json:"id"`
	BatchID        int64      `json:"batch_id"`
	AssetID        int64      `json:"asset_id"`
	AssetName      string     `json:"asset_name"`
	Quantity       int        `json:"quantity"`
	SerialNumber   string     `json:"serial_number,omitempty"`
	ExpectedReturn *time.Time `json:"expected_return,omitempty"`
	ActualReturn   *time.Time `json:"actual_return,omitempty"`
	Status         Status     `json:"status"`
}

// ItemView is an item as shown to callers, with overdue already derived.
type ItemView struct {
	BorrowingItem
	EffectiveStatus Status `json:"effective_status"`
}
