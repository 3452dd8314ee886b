package servicerequest

import "github.com/looplab/fsm"

type Status string

const (
	StatusDraft            Status = "DRAFT"
	StatusSubmitted        Status = "SUBMITTED"
	StatusTriaged          Status = "TRIAGED"
	StatusInProgress       Status = "IN_PROGRESS"
	StatusWaitingOnCitizen Status = "WAITING_ON_CITIZEN"
	StatusResolved         Status = "RESOLVED"
	StatusClosed           Status = "CLOSED"
	StatusRejected         Status = "REJECTED"
	StatusReopened         Status = "REOPENED"
)

// Action is a caller-facing verb mapped one-to-one to a target status.
type Action string

const (
	ActionTriage         Action = "triage"
	ActionStart          Action = "start"
	ActionWaitForCitizen Action = "wait_for_citizen"
	ActionResolve        Action = "resolve"
	ActionClose          Action = "close"
	ActionReject         Action = "reject"
	ActionReopen         Action = "reopen"
)

// eventSubmit moves a draft into the workflow at creation time. It is not a
// caller-facing action and never appears in the API.
const eventSubmit = "submit"

// transitions is the full status graph. REOPENED routes back through TRIAGED
// only, so no state is permanently unreachable; this is deliberate policy
// (nothing is ever un-editable for good) and must stay exactly as written.
var transitions = fsm.Events{
	{Name: eventSubmit, Src: []string{string(StatusDraft)}, Dst: string(StatusSubmitted)},
	{Name: string(ActionTriage), Src: []string{string(StatusSubmitted), string(StatusReopened)}, Dst: string(StatusTriaged)},
	{Name: string(ActionStart), Src: []string{string(StatusTriaged), string(StatusWaitingOnCitizen)}, Dst: string(StatusInProgress)},
	{Name: string(ActionWaitForCitizen), Src: []string{string(StatusInProgress)}, Dst: string(StatusWaitingOnCitizen)},
	{Name: string(ActionResolve), Src: []string{string(StatusInProgress), string(StatusWaitingOnCitizen)}, Dst: string(StatusResolved)},
	{Name: string(ActionClose), Src: []string{string(StatusWaitingOnCitizen), string(StatusResolved)}, Dst: string(StatusClosed)},
	{Name: string(ActionReject), Src: []string{string(StatusSubmitted), string(StatusTriaged), string(StatusInProgress)}, Dst: string(StatusRejected)},
	{Name: string(ActionReopen), Src: []string{string(StatusResolved), string(StatusClosed), string(StatusRejected)}, Dst: string(StatusReopened)},
}

// Actions lists every caller-facing verb.
var Actions = []Action{
	ActionTriage,
	ActionStart,
	ActionWaitForCitizen,
	ActionResolve,
	ActionClose,
	ActionReject,
	ActionReopen,
}

// ActionToStatus returns the target status for a caller-facing action. The
// second return value is false for unknown verbs, including eventSubmit.
func ActionToStatus(action Action) (Status, bool) {
	for _, a := range Actions {
		if a == action {
			for _, e := range transitions {
				if e.Name == string(action) {
					return Status(e.Dst), true
				}
			}
		}
	}
	return "", false
}

// IsValidTransition reports whether the directed edge current->target exists
// in the status graph. Unrecognized statuses on either side yield false.
func IsValidTransition(current, target Status) bool {
	for _, e := range transitions {
		if e.Dst != string(target) {
			continue
		}
		for _, src := range e.Src {
			if src == string(current) {
				return true
			}
		}
	}
	return false
}

// CanApply reports whether the action is legal from the current status.
func CanApply(current Status, action Action) bool {
	if _, ok := ActionToStatus(action); !ok {
		return false
	}
	return fsm.NewFSM(string(current), transitions, fsm.Callbacks{}).Can(string(action))
}
