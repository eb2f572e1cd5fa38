package services

import (
	"strings"

	"github.com/campus-dx/grant-engine/v1/models"
)

// validTransitions is the status graph: pending may enter review or be
// decided directly, review may be re-asserted or decided, and decided
// states are terminal.
var validTransitions = map[models.Status][]models.Status{
	models.StatusPending:     {models.StatusUnderReview, models.StatusApproved, models.StatusRejected},
	models.StatusUnderReview: {models.StatusUnderReview, models.StatusApproved, models.StatusRejected},
	models.StatusApproved:    {},
	models.StatusRejected:    {},
}

// StateMachine owns status transitions and their effects: the remark
// recorded for the acting role and the notification emitted to the
// application owner.
type StateMachine struct{}

// NewStateMachine creates the application state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// CanTransition reports whether target is reachable from current for the
// given role. Only reviewing roles transition at all, and only admin may
// move an application out of a terminal state. Admin bypasses the
// transition graph, never the status enum itself.
func (sm *StateMachine) CanTransition(role models.Role, current, target models.Status) bool {
	if !target.IsValid() {
		return false
	}
	if !role.IsReviewer() {
		return false
	}
	if role == models.RoleAdmin {
		return true
	}
	for _, s := range validTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

// Transition applies the status change to the application in place and
// returns the notification to emit. The application is not persisted
// here; the orchestrator saves it under the optimistic-concurrency
// guard. A rejected transition leaves the application untouched.
func (sm *StateMachine) Transition(role models.Role, app *models.Application, target models.Status, remark string) (models.StatusResult, *models.NotificationEvent) {
	current := models.Status(app.Status)

	if !sm.CanTransition(role, current, target) {
		return models.StatusResult{Accepted: false, NewStatus: current, Reason: models.ReasonInvalidTransition}, nil
	}

	// A rejection is shown verbatim to the student, so it must always
	// carry a reason.
	if target == models.StatusRejected && strings.TrimSpace(remark) == "" {
		return models.StatusResult{Accepted: false, NewStatus: current, Reason: models.ReasonRemarkRequired}, nil
	}

	app.Status = string(target)
	if strings.TrimSpace(remark) != "" {
		if app.Remarks == nil {
			app.Remarks = make(map[string]string)
		}
		app.Remarks[string(role)] = remark
	}

	event := &models.NotificationEvent{
		ApplicationID: app.ApplicationID,
		NewStatus:     target,
		Remark:        remark,
		ByRole:        role,
	}
	return models.StatusResult{Accepted: true, NewStatus: target}, event
}
