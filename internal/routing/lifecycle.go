package routing

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for a lifecycle move that is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// Status is a request's position in the approval lifecycle.
type Status string

const (
	StatusNew               Status = "new"
	StatusManagerPending    Status = "manager_pending"
	StatusCompliancePending Status = "compliance_pending"
	StatusSMF16Pending      Status = "smf16_pending"
	StatusAutoApproved      Status = "auto_approved"
	StatusApproved          Status = "approved"
	StatusDeclined          Status = "declined"
	StatusExecuted          Status = "executed"
	StatusExpired           Status = "expired"
)

var transitions = map[Status][]Status{
	StatusNew:               {StatusManagerPending, StatusCompliancePending, StatusSMF16Pending, StatusAutoApproved},
	StatusManagerPending:    {StatusApproved, StatusDeclined},
	StatusCompliancePending: {StatusApproved, StatusDeclined},
	StatusSMF16Pending:      {StatusApproved, StatusDeclined},
	StatusAutoApproved:      {StatusExecuted, StatusExpired},
	StatusApproved:          {StatusExecuted, StatusExpired},
}

// manualOnly lists moves a reviewer may make but the system never makes
// on its own.
var manualOnly = map[Status][]Status{
	StatusCompliancePending: {StatusSMF16Pending},
}

// InitialStatus is the status a freshly routed request enters. A
// clarification pause leaves the request new.
func InitialStatus(r Route) Status {
	switch r {
	case AutoApprove:
		return StatusAutoApproved
	case Manager:
		return StatusManagerPending
	case Compliance:
		return StatusCompliancePending
	case SMF16:
		return StatusSMF16Pending
	}
	return StatusNew
}

// Transition validates a lifecycle move. manual is true when a reviewer
// initiated it.
func Transition(from, to Status, manual bool) error {
	if contains(transitions[from], to) {
		return nil
	}
	if contains(manualOnly[from], to) {
		if manual {
			return nil
		}
		return fmt.Errorf("%w: %s -> %s is manual only", ErrInvalidTransition, from, to)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Terminal reports whether no further transition exists.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0 && len(manualOnly[s]) == 0
}

func contains(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
