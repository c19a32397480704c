package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("case not found")
	// ErrStaleStatus is returned by UpdateStatus when the case is no longer
	// in the expected status.
	ErrStaleStatus  = errors.New("case status changed concurrently")
	ErrReportExists = errors.New("medical report already exists")
	// ErrNotesClosed is returned by AddNote when the case is not ASSIGNED or
	// IN_PROGRESS at insert time.
	ErrNotesClosed = errors.New("case does not accept treatment notes")
)

// StatusChange moves a case from From to To. When ParamedicID is set the
// assignee is replaced in the same statement.
type StatusChange struct {
	CaseID      uuid.UUID
	From        Status
	To          Status
	ParamedicID *uuid.UUID
}

// HistoryQuery selects a paramedic's cases. A nil Status or Since disables
// that filter.
type HistoryQuery struct {
	ParamedicID uuid.UUID
	Status      *Status
	Since       *time.Time
}

type CaseRepository interface {
	Create(ctx context.Context, c *Case) error
	// GetByID returns the case with its paramedic and director references.
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	// List returns cases newest first.
	List(ctx context.Context, limit, offset int) ([]*Case, int, error)
	// UpdateStatus applies the change only if the case is still in
	// change.From, and returns the updated case.
	UpdateStatus(ctx context.Context, change StatusChange) (*Case, error)
	ListByParamedic(ctx context.Context, paramedicID uuid.UUID, statuses []Status) ([]*Case, error)
	History(ctx context.Context, q HistoryQuery) ([]*HistoryEntry, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)

	AddNote(ctx context.Context, n *TreatmentNote) error
	ListNotes(ctx context.Context, caseID uuid.UUID) ([]*TreatmentNote, error)

	CreateReport(ctx context.Context, r *MedicalReport) error
	// GetReport returns ErrNotFound when the case has no report.
	GetReport(ctx context.Context, caseID uuid.UUID) (*MedicalReport, error)
}
