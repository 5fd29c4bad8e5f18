package models

import "time"

// Actor is the authenticated principal performing an action.
type Actor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Stamp records who performed a workflow step and when.
type Stamp struct {
	By    *int64     `json:"by,omitempty"`
	At    *time.Time `json:"at,omitempty"`
	Notes string     `json:"notes,omitempty"`
}

// Done reports whether the step has been performed.
func (s Stamp) Done() bool { return s.At != nil }

// BorrowingBatch is a group of equipment items sharing one approval workflow.
type BorrowingBatch struct {
	ID              int64     `json:"id"`
	Reference       string    `json:"reference"`
	BorrowerName    string    `json:"borrower_name"`
	BorrowerContact string    `json:"borrower_contact"`
	BorrowerProject string    `json:"borrower_project,omitempty"`
	Purpose         string    `json:"purpose"`
	CreatedBy       int64     `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	// Status caches the aggregate of the items' stored statuses.
	Status   Status `json:"status"`
	Verified Stamp  `json:"verified"`
	Approved Stamp  `json:"approved"`
	Released Stamp  `json:"released"`
	Returned Stamp  `json:"returned"`
	// Canceled.Notes holds the cancellation reason.
	Canceled Stamp `json:"canceled"`
	Version  int64 `json:"version"`
}

// StampFor returns the header step written by a batch-wide transition.
func (b *BorrowingBatch) StampFor(t Transition) *Stamp {
	switch t {
	case TransitionVerify:
		return &b.Verified
	case TransitionApprove:
		return &b.Approved
	case TransitionRelease:
		return &b.Released
	case TransitionReturn:
		return &b.Returned
	case TransitionCancel:
		return &b.Canceled
	default:
		return nil
	}
}

// BatchFilter narrows ListBatches. Zero values mean "any".
type BatchFilter struct {
	Status          Status
	BorrowerName    string
	BorrowerProject string
	CreatedBy       int64
	Limit           int
	Offset          int
}
