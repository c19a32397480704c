package dispatch

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aidmate/dispatch/internal/platform/apperr"
	"github.com/aidmate/dispatch/internal/platform/auth"
)

func TestCanTransition_OnlyForwardSteps(t *testing.T) {
	legal := map[[2]Status]auth.Action{
		{StatusNew, StatusAssigned}:         auth.ActionAssignCase,
		{StatusAssigned, StatusInProgress}:  auth.ActionUpdateStatus,
		{StatusInProgress, StatusCompleted}: auth.ActionCompleteCase,
	}
	actions := []auth.Action{auth.ActionAssignCase, auth.ActionUpdateStatus, auth.ActionCompleteCase}

	for _, from := range Statuses {
		for _, to := range Statuses {
			for _, action := range actions {
				want := legal[[2]Status{from, to}] == action
				require.Equal(t, want, CanTransition(from, to, action), "%s -> %s via %s", from, to, action)
			}
		}
	}
}

func TestCheckTransition_CompletedIsTerminal(t *testing.T) {
	director := auth.Actor{ID: uuid.New(), Role: auth.RoleDirector}
	c := &Case{ID: uuid.New(), Status: StatusCompleted, ParamedicID: ptr(uuid.New())}

	for _, to := range Statuses {
		err := checkTransition(director, c, to, auth.ActionUpdateStatus)
		require.True(t, apperr.Is(err, apperr.KindConflict), "to %s: got %v", to, err)
	}
}

func TestCheckTransition_SkipAndRegressionRejected(t *testing.T) {
	director := auth.Actor{ID: uuid.New(), Role: auth.RoleDirector}
	paramedicID := uuid.New()

	cases := []struct {
		from, to Status
	}{
		{StatusNew, StatusInProgress},
		{StatusAssigned, StatusNew},
		{StatusInProgress, StatusAssigned},
		{StatusInProgress, StatusNew},
		{StatusAssigned, StatusAssigned},
	}
	for _, tc := range cases {
		c := &Case{ID: uuid.New(), Status: tc.from, ParamedicID: &paramedicID}
		err := checkTransition(director, c, tc.to, auth.ActionUpdateStatus)
		require.True(t, apperr.Is(err, apperr.KindConflict), "%s -> %s: got %v", tc.from, tc.to, err)
	}
}

func TestCheckTransition_AuthorizationBeforeState(t *testing.T) {
	other := auth.Actor{ID: uuid.New(), Role: auth.RoleParamedic}
	c := &Case{ID: uuid.New(), Status: StatusCompleted, ParamedicID: ptr(uuid.New())}

	err := checkTransition(other, c, StatusInProgress, auth.ActionUpdateStatus)
	require.True(t, apperr.Is(err, apperr.KindUnauthorized), "got %v", err)
}

func TestCheckTransition_AssigneeMayStart(t *testing.T) {
	paramedic := auth.Actor{ID: uuid.New(), Role: auth.RoleParamedic}
	c := &Case{ID: uuid.New(), Status: StatusAssigned, ParamedicID: &paramedic.ID}

	require.NoError(t, checkTransition(paramedic, c, StatusInProgress, auth.ActionUpdateStatus))
}

func TestCheckTransition_ParamedicCannotAssign(t *testing.T) {
	paramedic := auth.Actor{ID: uuid.New(), Role: auth.RoleParamedic}
	c := &Case{ID: uuid.New(), Status: StatusNew}

	err := checkTransition(paramedic, c, StatusAssigned, auth.ActionAssignCase)
	require.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestCheckNote(t *testing.T) {
	paramedic := auth.Actor{ID: uuid.New(), Role: auth.RoleParamedic}
	other := auth.Actor{ID: uuid.New(), Role: auth.RoleParamedic}
	director := auth.Actor{ID: uuid.New(), Role: auth.RoleDirector}

	c := &Case{ID: uuid.New(), Status: StatusInProgress, ParamedicID: &paramedic.ID}
	require.NoError(t, checkNote(paramedic, c, "Administered oxygen"))
	require.NoError(t, checkNote(director, c, "Family notified"))

	require.True(t, apperr.Is(checkNote(other, c, "x"), apperr.KindUnauthorized))
	require.True(t, apperr.Is(checkNote(paramedic, c, "   "), apperr.KindValidation))

	for _, st := range []Status{StatusNew, StatusCompleted} {
		closed := &Case{ID: uuid.New(), Status: st, ParamedicID: &paramedic.ID}
		require.True(t, apperr.Is(checkNote(director, closed, "late"), apperr.KindConflict), "status %s", st)
	}
}

func TestBuildReport(t *testing.T) {
	r, err := buildReport(ReportRequest{
		TreatmentSummary: " Splinted fracture ",
		PatientStatus:    "Stable",
		HospitalTransfer: false,
		HospitalName:     ptr("St. Paul's"),
		Recommendations:  "Follow up in a week",
	})
	require.NoError(t, err)
	require.Equal(t, "Splinted fracture", r.TreatmentSummary)
	require.Equal(t, PatientStable, r.PatientStatus)
	require.Nil(t, r.HospitalName, "hospital name must be dropped without a transfer")

	r, err = buildReport(ReportRequest{
		TreatmentSummary: "CPR",
		PatientStatus:    "critical",
		HospitalTransfer: true,
		HospitalName:     ptr(" Black Lion "),
		Recommendations:  "ICU",
	})
	require.NoError(t, err)
	require.Equal(t, "Black Lion", *r.HospitalName)
}

func TestBuildReport_Invalid(t *testing.T) {
	base := ReportRequest{TreatmentSummary: "x", PatientStatus: "stable", Recommendations: "y"}

	missing := base
	missing.Recommendations = "  "
	transfer := base
	transfer.HospitalTransfer = true
	transfer.HospitalName = ptr("")
	unknown := base
	unknown.PatientStatus = "dead"

	for name, req := range map[string]ReportRequest{
		"missing field":        missing,
		"transfer no hospital": transfer,
		"unknown status":       unknown,
	} {
		_, err := buildReport(req)
		require.True(t, apperr.Is(err, apperr.KindValidation), "%s: got %v", name, err)
	}
}
