package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/aidmate/dispatch/pkg/geo"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type Status string

const (
	StatusNew        Status = "NEW"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusNew, StatusAssigned, StatusInProgress, StatusCompleted}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

type PatientStatus string

const (
	PatientCritical  PatientStatus = "critical"
	PatientSerious   PatientStatus = "serious"
	PatientStable    PatientStatus = "stable"
	PatientImproving PatientStatus = "improving"
	PatientRecovered PatientStatus = "recovered"
)

func (p PatientStatus) Valid() bool {
	switch p {
	case PatientCritical, PatientSerious, PatientStable, PatientImproving, PatientRecovered:
		return true
	}
	return false
}

// PersonRef is the public part of a user referenced by a case.
type PersonRef struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Case maps to the cases table.
type Case struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientName   *string    `db:"patient_name" json:"patientName"`
	PatientAge    *int       `db:"patient_age" json:"patientAge"`
	PatientGender *string    `db:"patient_gender" json:"patientGender"`
	Location      string     `db:"location" json:"location"`
	Latitude      *float64   `db:"latitude" json:"latitude"`
	Longitude     *float64   `db:"longitude" json:"longitude"`
	Description   string     `db:"description" json:"description"`
	Severity      Severity   `db:"severity" json:"severity"`
	Notes         *string    `db:"notes" json:"notes"`
	Status        Status     `db:"status" json:"status"`
	ParamedicID   *uuid.UUID `db:"paramedic_id" json:"paramedicId"`
	DirectorID    uuid.UUID  `db:"director_id" json:"directorId"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`

	Paramedic *PersonRef `json:"paramedic,omitempty"`
	Director  *PersonRef `json:"director,omitempty"`
}

// Coordinates returns the case position when both halves are present.
func (c *Case) Coordinates() (geo.Point, bool) {
	if c.Latitude == nil || c.Longitude == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *c.Latitude, Lng: *c.Longitude}, true
}

// AssigneeID returns the assigned paramedic or uuid.Nil.
func (c *Case) AssigneeID() uuid.UUID {
	if c.ParamedicID == nil {
		return uuid.Nil
	}
	return *c.ParamedicID
}

type TreatmentNote struct {
	ID        uuid.UUID `db:"id" json:"id"`
	CaseID    uuid.UUID `db:"case_id" json:"caseId"`
	Content   string    `db:"content" json:"content"`
	Timestamp time.Time `db:"created_at" json:"timestamp"`
}

type MedicalReport struct {
	ID               uuid.UUID     `db:"id" json:"id"`
	CaseID           uuid.UUID     `db:"case_id" json:"caseId"`
	TreatmentSummary string        `db:"treatment_summary" json:"treatmentSummary"`
	PatientStatus    PatientStatus `db:"patient_status" json:"patientStatus"`
	HospitalTransfer bool          `db:"hospital_transfer" json:"hospitalTransfer"`
	HospitalName     *string       `db:"hospital_name" json:"hospitalName"`
	Recommendations  string        `db:"recommendations" json:"recommendations"`
	CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
}

// CaseDetail is a case with everything recorded against it.
type CaseDetail struct {
	*Case
	TreatmentNotes []*TreatmentNote `json:"treatmentNotes"`
	MedicalReport  *MedicalReport   `json:"medicalReport"`
}

// ReportSummary is the slice of a medical report shown in history lists.
type ReportSummary struct {
	ID               uuid.UUID     `json:"id"`
	PatientStatus    PatientStatus `json:"patientStatus"`
	HospitalTransfer bool          `json:"hospitalTransfer"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// HistoryEntry is one row of a paramedic's case history.
type HistoryEntry struct {
	*Case
	MedicalReport     *ReportSummary `json:"medicalReport"`
	HasTreatmentNotes bool           `json:"hasTreatmentNotes"`
}

type Stats struct {
	TotalCases      int `json:"totalCases"`
	NewCases        int `json:"newCases"`
	AssignedCases   int `json:"assignedCases"`
	InProgressCases int `json:"inProgressCases"`
	CompletedCases  int `json:"completedCases"`
}

// StatsFromCounts folds per-status counts into Stats.
func StatsFromCounts(counts map[Status]int) Stats {
	s := Stats{
		NewCases:        counts[StatusNew],
		AssignedCases:   counts[StatusAssigned],
		InProgressCases: counts[StatusInProgress],
		CompletedCases:  counts[StatusCompleted],
	}
	s.TotalCases = s.NewCases + s.AssignedCases + s.InProgressCases + s.CompletedCases
	return s
}

// RankedParamedic is an on-duty paramedic annotated with the distance to a
// case.
type RankedParamedic struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Distance  float64   `json:"distance"`
}

type AssignResult struct {
	Paramedics []RankedParamedic `json:"paramedics"`
	Success    bool              `json:"success"`
	Case       *Case             `json:"case"`
}

type CompleteResult struct {
	MedicalReport *MedicalReport `json:"medicalReport"`
	Case          *Case          `json:"case"`
}

// -- Requests --

type CreateCaseRequest struct {
	PatientName   *string  `json:"patientName"`
	PatientAge    *int     `json:"patientAge"`
	PatientGender *string  `json:"patientGender"`
	Location      string   `json:"location"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	Description   string   `json:"description"`
	Severity      Severity `json:"severity"`
	Notes         *string  `json:"notes"`
}

type AssignRequest struct {
	ParamedicID string `json:"paramedicId"`
}

type StatusRequest struct {
	Status Status `json:"status"`
}

type NoteRequest struct {
	Content string `json:"content"`
}

type ReportRequest struct {
	TreatmentSummary string  `json:"treatmentSummary"`
	PatientStatus    string  `json:"patientStatus"`
	HospitalTransfer bool    `json:"hospitalTransfer"`
	HospitalName     *string `json:"hospitalName"`
	Recommendations  string  `json:"recommendations"`
}

// HistoryFilter narrows a paramedic's history. Empty or "all" status means
// every status; Period is one of today, week or month, or empty.
type HistoryFilter struct {
	Status string
	Period string
}
