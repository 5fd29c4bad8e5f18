package workflow

import "constructlink/internal/models"

var preStates = map[models.Transition][]models.Status{
	models.TransitionSchedule: {models.StatusPendingVerification, models.StatusPendingApproval, models.StatusApproved},
	models.TransitionVerify:   {models.StatusPendingVerification},
	models.TransitionApprove:  {models.StatusPendingApproval},
	models.TransitionRelease:  {models.StatusApproved},
	models.TransitionReturn:   {models.StatusBorrowed, models.StatusOverdue},
	models.TransitionCancel:   {models.StatusPendingVerification, models.StatusPendingApproval, models.StatusApproved},
}

var postStates = map[models.Transition]models.Status{
	models.TransitionVerify:  models.StatusPendingApproval,
	models.TransitionApprove: models.StatusApproved,
	models.TransitionRelease: models.StatusBorrowed,
	models.TransitionReturn:  models.StatusReturned,
	models.TransitionCancel:  models.StatusCanceled,
}

// ValidFrom reports whether t may leave a batch whose aggregate status is current.
func ValidFrom(t models.Transition, current models.Status) bool {
	for _, s := range preStates[t] {
		if s == current {
			return true
		}
	}
	return false
}

// PostState is the status a batch-wide transition moves every item to.
func PostState(t models.Transition) (models.Status, bool) {
	s, ok := postStates[t]
	return s, ok
}

// PreStates lists the statuses t may start from.
func PreStates(t models.Transition) []models.Status {
	return append([]models.Status(nil), preStates[t]...)
}
