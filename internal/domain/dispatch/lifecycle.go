package dispatch

import (
	"strings"

	"github.com/aidmate/dispatch/internal/platform/apperr"
	"github.com/aidmate/dispatch/internal/platform/auth"
)

// transitions is the complete set of legal status changes, keyed by the
// current status, with the action that performs each one.
var transitions = map[Status]map[Status]auth.Action{
	StatusNew:        {StatusAssigned: auth.ActionAssignCase},
	StatusAssigned:   {StatusInProgress: auth.ActionUpdateStatus},
	StatusInProgress: {StatusCompleted: auth.ActionCompleteCase},
}

// noteStatuses are the statuses in which treatment notes may be appended.
var noteStatuses = map[Status]bool{
	StatusAssigned:   true,
	StatusInProgress: true,
}

func resourceOf(c *Case) auth.Resource {
	return auth.Resource{AssigneeID: c.AssigneeID()}
}

// authorizeOn checks actor against the assignee of c.
func authorizeOn(actor auth.Actor, action auth.Action, c *Case) error {
	return auth.Authorize(actor, action, resourceOf(c))
}

// CanTransition reports whether from -> to is in the table and performed by
// action.
func CanTransition(from, to Status, action auth.Action) bool {
	want, ok := transitions[from][to]
	return ok && want == action
}

// checkTransition validates moving c to `to` via action on behalf of actor.
// It never mutates c.
func checkTransition(actor auth.Actor, c *Case, to Status, action auth.Action) error {
	if err := authorizeOn(actor, action, c); err != nil {
		return err
	}
	if c.Status == StatusCompleted {
		return apperr.Conflict("case is already completed")
	}
	if !CanTransition(c.Status, to, action) {
		return apperr.Conflict("cannot change case status from %s to %s", c.Status, to)
	}
	return nil
}

// checkNote validates appending a treatment note to c.
func checkNote(actor auth.Actor, c *Case, content string) error {
	if err := authorizeOn(actor, auth.ActionAddNote, c); err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return apperr.Validation("note content is required")
	}
	if !noteStatuses[c.Status] {
		return apperr.Conflict("notes can only be added to assigned or in-progress cases")
	}
	return nil
}

// buildReport validates a completion request and returns the normalized
// report. The hospital name is dropped when there is no transfer.
func buildReport(req ReportRequest) (*MedicalReport, error) {
	summary := strings.TrimSpace(req.TreatmentSummary)
	status := PatientStatus(strings.ToLower(strings.TrimSpace(req.PatientStatus)))
	recs := strings.TrimSpace(req.Recommendations)

	if summary == "" || status == "" || recs == "" {
		return nil, apperr.Validation("treatmentSummary, patientStatus and recommendations are required")
	}
	if !status.Valid() {
		return nil, apperr.Validation("unknown patient status %q", req.PatientStatus)
	}

	r := &MedicalReport{
		TreatmentSummary: summary,
		PatientStatus:    status,
		HospitalTransfer: req.HospitalTransfer,
		Recommendations:  recs,
	}
	if req.HospitalTransfer {
		if req.HospitalName == nil || strings.TrimSpace(*req.HospitalName) == "" {
			return nil, apperr.Validation("hospital name is required when patient is transferred")
		}
		name := strings.TrimSpace(*req.HospitalName)
		r.HospitalName = &name
	}
	return r, nil
}
