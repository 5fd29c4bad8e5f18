package models

import "time"

// AuditEntry is one append-only record of a workflow action.
type AuditEntry struct {
	ID             int64      `json:"id"`
	EventID        string     `json:"event_id"`
	BatchID        int64      `json:"batch_id"`
	Transition     Transition `json:"transition"`
	FromStatus     Status     `json:"from_status,omitempty"`
	ToStatus       Status     `json:"to_status"`
	ActorID        int64      `json:"actor_id"`
	ActorName      string     `json:"actor_name"`
	ActorRole      Role       `json:"actor_role"`
	Notes          string     `json:"notes,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// BatchSnapshot is the read model handed to list, detail and timeline views.
type BatchSnapshot struct {
	Batch  BorrowingBatch `json:"batch"`
	Status Status         `json:"status"`
	Items  []ItemView     `json:"items"`
	Audit  []AuditEntry   `json:"audit"`
}
