package tasks

import (
	"github.com/pushkarjay/safecom/internal/apperr"
	"github.com/pushkarjay/safecom/internal/models"
)

// transitions lists the statuses reachable from each non-terminal status.
// COMPLETED and CANCELLED have no entry: they are terminal.
var transitions = map[models.TaskStatus][]models.TaskStatus{
	models.StatusPending:    {models.StatusInProgress, models.StatusCompleted, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted, models.StatusPending, models.StatusCancelled},
}

// storedState maps a legacy stored OVERDUE to the non-terminal state it
// stands for.
func storedState(s models.TaskStatus) models.TaskStatus {
	if s == models.StatusOverdue {
		return models.StatusPending
	}
	return s
}

// checkTransition returns InvalidTransition unless from -> to is allowed.
func checkTransition(from, to models.TaskStatus) error {
	from = storedState(from)
	if from.Terminal() {
		return apperr.InvalidTransition("task is %s and cannot change status", from)
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return apperr.InvalidTransition("cannot move task from %s to %s", from, to)
}
