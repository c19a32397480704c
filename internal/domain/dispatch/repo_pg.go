package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aidmate/dispatch/internal/platform/db"
)

type caseRepoPG struct{ pool *pgxpool.Pool }

func NewCaseRepoPG(pool *pgxpool.Pool) CaseRepository {
	return &caseRepoPG{pool: pool}
}

const caseCols = `c.id, c.patient_name, c.patient_age, c.patient_gender,
	c.location, c.latitude, c.longitude, c.description, c.severity, c.notes,
	c.status, c.paramedic_id, c.director_id, c.created_at, c.updated_at,
	p.name, p.email, d.name, d.email`

const caseFrom = ` FROM cases c
	LEFT JOIN users p ON p.id = c.paramedic_id
	JOIN users d ON d.id = c.director_id`

func caseDest(c *Case, pName, pEmail, dName, dEmail **string) []any {
	return []any{&c.ID, &c.PatientName, &c.PatientAge, &c.PatientGender,
		&c.Location, &c.Latitude, &c.Longitude, &c.Description, &c.Severity, &c.Notes,
		&c.Status, &c.ParamedicID, &c.DirectorID, &c.CreatedAt, &c.UpdatedAt,
		pName, pEmail, dName, dEmail}
}

func attachRefs(c *Case, pName, pEmail, dName, dEmail *string) {
	if pName != nil {
		c.Paramedic = &PersonRef{Name: *pName}
		if pEmail != nil {
			c.Paramedic.Email = *pEmail
		}
	}
	if dName != nil {
		c.Director = &PersonRef{Name: *dName}
		if dEmail != nil {
			c.Director.Email = *dEmail
		}
	}
}

func (r *caseRepoPG) scanCase(row pgx.Row) (*Case, error) {
	var c Case
	var pName, pEmail, dName, dEmail *string
	if err := row.Scan(caseDest(&c, &pName, &pEmail, &dName, &dEmail)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	attachRefs(&c, pName, pEmail, dName, dEmail)
	return &c, nil
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO cases (id, patient_name, patient_age, patient_gender, location,
			latitude, longitude, description, severity, notes, status, paramedic_id, director_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		c.ID, c.PatientName, c.PatientAge, c.PatientGender, c.Location,
		c.Latitude, c.Longitude, c.Description, c.Severity, c.Notes, c.Status, c.ParamedicID, c.DirectorID,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return r.scanCase(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+caseCols+caseFrom+` WHERE c.id = $1`, id))
}

func (r *caseRepoPG) List(ctx context.Context, limit, offset int) ([]*Case, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM cases`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}
	cases, err := r.queryCases(ctx, `SELECT `+caseCols+caseFrom+`
		ORDER BY c.created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	return cases, total, err
}

func (r *caseRepoPG) queryCases(ctx context.Context, query string, args ...any) ([]*Case, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var cases []*Case
	for rows.Next() {
		c, err := r.scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

func (r *caseRepoPG) UpdateStatus(ctx context.Context, ch StatusChange) (*Case, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE cases SET status = $3, paramedic_id = COALESCE($4, paramedic_id), updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		ch.CaseID, ch.From, ch.To, ch.ParamedicID)
	if err != nil {
		return nil, fmt.Errorf("update case status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, ch.CaseID); err != nil {
			return nil, err
		}
		return nil, ErrStaleStatus
	}
	return r.GetByID(ctx, ch.CaseID)
}

func (r *caseRepoPG) ListByParamedic(ctx context.Context, paramedicID uuid.UUID, statuses []Status) ([]*Case, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return r.queryCases(ctx, `SELECT `+caseCols+caseFrom+`
		WHERE c.paramedic_id = $1 AND c.status = ANY($2)
		ORDER BY c.created_at DESC`, paramedicID, names)
}

func (r *caseRepoPG) History(ctx context.Context, q HistoryQuery) ([]*HistoryEntry, error) {
	query := `SELECT ` + caseCols + `,
		mr.id, mr.patient_status, mr.hospital_transfer, mr.created_at,
		EXISTS (SELECT 1 FROM treatment_notes n WHERE n.case_id = c.id)` + caseFrom + `
		LEFT JOIN medical_reports mr ON mr.case_id = c.id
		WHERE c.paramedic_id = $1`
	args := []any{q.ParamedicID}
	idx := 2
	if q.Status != nil {
		query += fmt.Sprintf(" AND c.status = $%d", idx)
		args = append(args, *q.Status)
		idx++
	}
	if q.Since != nil {
		query += fmt.Sprintf(" AND c.created_at >= $%d", idx)
		args = append(args, *q.Since)
	}
	query += " ORDER BY c.created_at DESC"

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []*HistoryEntry
	for rows.Next() {
		var (
			c                            Case
			pName, pEmail, dName, dEmail *string
			reportID                     *uuid.UUID
			patientStatus                *string
			transfer                     *bool
			reportAt                     *time.Time
			hasNotes                     bool
		)
		dest := append(caseDest(&c, &pName, &pEmail, &dName, &dEmail),
			&reportID, &patientStatus, &transfer, &reportAt, &hasNotes)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		attachRefs(&c, pName, pEmail, dName, dEmail)

		entry := &HistoryEntry{Case: &c, HasTreatmentNotes: hasNotes}
		if reportID != nil {
			entry.MedicalReport = &ReportSummary{ID: *reportID}
			if patientStatus != nil {
				entry.MedicalReport.PatientStatus = PatientStatus(*patientStatus)
			}
			if transfer != nil {
				entry.MedicalReport.HospitalTransfer = *transfer
			}
			if reportAt != nil {
				entry.MedicalReport.CreatedAt = *reportAt
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (r *caseRepoPG) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT status, COUNT(*) FROM cases GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count cases by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int, len(Statuses))
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

func (r *caseRepoPG) AddNote(ctx context.Context, n *TreatmentNote) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO treatment_notes (id, case_id, content)
		SELECT $1, $2, $3
		WHERE EXISTS (
			SELECT 1 FROM cases WHERE id = $2 AND status IN ('ASSIGNED', 'IN_PROGRESS')
		)
		RETURNING created_at`, n.ID, n.CaseID, n.Content,
	).Scan(&n.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotesClosed
	}
	if err != nil {
		return fmt.Errorf("insert treatment note: %w", err)
	}
	return nil
}

func (r *caseRepoPG) ListNotes(ctx context.Context, caseID uuid.UUID) ([]*TreatmentNote, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, case_id, content, created_at FROM treatment_notes
		WHERE case_id = $1 ORDER BY created_at`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query treatment notes: %w", err)
	}
	defer rows.Close()

	var notes []*TreatmentNote
	for rows.Next() {
		var n TreatmentNote
		if err := rows.Scan(&n.ID, &n.CaseID, &n.Content, &n.Timestamp); err != nil {
			return nil, err
		}
		notes = append(notes, &n)
	}
	return notes, rows.Err()
}

const reportCols = `id, case_id, treatment_summary, patient_status, hospital_transfer,
	hospital_name, recommendations, created_at`

func (r *caseRepoPG) CreateReport(ctx context.Context, rep *MedicalReport) error {
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medical_reports (id, case_id, treatment_summary, patient_status,
			hospital_transfer, hospital_name, recommendations)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		rep.ID, rep.CaseID, rep.TreatmentSummary, rep.PatientStatus,
		rep.HospitalTransfer, rep.HospitalName, rep.Recommendations,
	).Scan(&rep.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrReportExists
	}
	return err
}

func (r *caseRepoPG) GetReport(ctx context.Context, caseID uuid.UUID) (*MedicalReport, error) {
	var rep MedicalReport
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+reportCols+` FROM medical_reports WHERE case_id = $1`, caseID).
		Scan(&rep.ID, &rep.CaseID, &rep.TreatmentSummary, &rep.PatientStatus, &rep.HospitalTransfer,
			&rep.HospitalName, &rep.Recommendations, &rep.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}
