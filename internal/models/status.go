package models

import (
	"fmt"
	"strings"
)

// Status is the workflow stage of a borrowing item or batch.
type Status string

const (
	StatusPendingVerification Status = "Pending Verification"
	StatusPendingApproval     Status = "Pending Approval"
	StatusApproved            Status = "Approved"
	StatusBorrowed            Status = "Borrowed"
	StatusReturned            Status = "Returned"
	StatusCanceled            Status = "Canceled"

	// StatusOverdue is never stored. It is derived from Borrowed at read time.
	StatusOverdue Status = "Overdue"
)

var storedStatuses = []Status{
	StatusPendingVerification,
	StatusPendingApproval,
	StatusApproved,
	StatusBorrowed,
	StatusReturned,
	StatusCanceled,
}

// StoredStatuses lists every status that may be persisted.
func StoredStatuses() []Status {
	return append([]Status(nil), storedStatuses...)
}

// Stored reports whether s may be written to storage.
func (s Status) Stored() bool {
	for _, v := range storedStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Valid reports whether s is a stored or display status.
func (s Status) Valid() bool {
	return s == StatusOverdue || s.Stored()
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusReturned || s == StatusCanceled
}

func (s Status) String() string { return string(s) }

// ParseStatus accepts the display name or a snake_case alias ("pending_approval").
func ParseStatus(raw string) (Status, error) {
	norm := normalizeName(raw)
	for _, s := range append(storedStatuses, StatusOverdue) {
		if normalizeName(string(s)) == norm {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// Transition names a workflow action recorded in the audit trail.
type Transition string

const (
	TransitionSubmit   Transition = "submit"
	TransitionSchedule Transition = "schedule"
	TransitionVerify   Transition = "verify"
	TransitionApprove  Transition = "approve"
	TransitionRelease  Transition = "release"
	TransitionReturn   Transition = "return"
	TransitionCancel   Transition = "cancel"
)

// BatchTransitions are the batch-wide state changes, in pipeline order.
var BatchTransitions = []Transition{
	TransitionVerify,
	TransitionApprove,
	TransitionRelease,
	TransitionReturn,
	TransitionCancel,
}

var allTransitions = append([]Transition{TransitionSubmit, TransitionSchedule}, BatchTransitions...)

// AllTransitions lists every action known to the authorization matrix.
func AllTransitions() []Transition {
	return append([]Transition(nil), allTransitions...)
}

func (t Transition) Valid() bool {
	for _, v := range allTransitions {
		if v == t {
			return true
		}
	}
	return false
}

// BatchWide reports whether t moves every item of a batch to a new status.
func (t Transition) BatchWide() bool {
	for _, v := range BatchTransitions {
		if v == t {
			return true
		}
	}
	return false
}

func (t Transition) String() string { return string(t) }

func ParseTransition(raw string) (Transition, error) {
	t := Transition(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown transition %q", raw)
	}
	return t, nil
}

// Role is the organisational role an actor acts under.
type Role string

const (
	RoleSystemAdmin        Role = "System Admin"
	RoleProjectManager     Role = "Project Manager"
	RoleAssetDirector      Role = "Asset Director"
	RoleFinanceDirector    Role = "Finance Director"
	RoleWarehouseman       Role = "Warehouseman"
	RoleSiteInventoryClerk Role = "Site Inventory Clerk"
	RoleProcurementOfficer Role = "Procurement Officer"
)

var allRoles = []Role{
	RoleSystemAdmin,
	RoleProjectManager,
	RoleAssetDirector,
	RoleFinanceDirector,
	RoleWarehouseman,
	RoleSiteInventoryClerk,
	RoleProcurementOfficer,
}

func AllRoles() []Role {
	return append([]Role(nil), allRoles...)
}

func (r Role) Valid() bool {
	for _, v := range allRoles {
		if v == r {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }

func ParseRole(raw string) (Role, error) {
	norm := normalizeName(raw)
	for _, r := range allRoles {
		if normalizeName(string(r)) == norm {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(s), " ")
}
