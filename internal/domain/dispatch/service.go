package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aidmate/dispatch/internal/domain/personnel"
	"github.com/aidmate/dispatch/internal/platform/apperr"
	"github.com/aidmate/dispatch/internal/platform/auth"
	"github.com/aidmate/dispatch/internal/platform/cache"
	"github.com/aidmate/dispatch/internal/platform/db"
	"github.com/aidmate/dispatch/internal/platform/notification"
	"github.com/aidmate/dispatch/internal/platform/websocket"
	"github.com/aidmate/dispatch/pkg/geo"
	"github.com/aidmate/dispatch/pkg/pagination"
)

const (
	statsCacheKey   = "dispatch:stats"
	defaultStatsTTL = 30 * time.Second
)

// ParamedicDirectory resolves paramedics for assignment.
type ParamedicDirectory interface {
	GetParamedic(ctx context.Context, id uuid.UUID) (*personnel.User, error)
	AvailableParamedics(ctx context.Context) ([]*personnel.User, error)
}

// Notifier delivers the assignment push message. Implementations must not
// block the caller.
type Notifier interface {
	NotifyCaseAssigned(ctx context.Context, a notification.CaseAssignment)
}

type Deps struct {
	Cases      CaseRepository
	Paramedics ParamedicDirectory
	Tx         db.TxRunner
	Notifier   Notifier
	Events     websocket.EventPublisher
	Cache      cache.KVStore
	StatsTTL   time.Duration
	Logger     zerolog.Logger
}

type Service struct {
	cases      CaseRepository
	paramedics ParamedicDirectory
	tx         db.TxRunner
	notifier   Notifier
	events     websocket.EventPublisher
	cache      cache.KVStore
	statsTTL   time.Duration
	logger     zerolog.Logger
	now        func() time.Time

	// statsGen is bumped on every invalidation. A stats read only caches its
	// result when no invalidation happened while it was counting.
	statsGen atomic.Uint64
}

type nopNotifier struct{}

func (nopNotifier) NotifyCaseAssigned(context.Context, notification.CaseAssignment) {}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, websocket.Event) error { return nil }

func NewService(d Deps) *Service {
	s := &Service{
		cases:      d.Cases,
		paramedics: d.Paramedics,
		tx:         d.Tx,
		notifier:   d.Notifier,
		events:     d.Events,
		cache:      d.Cache,
		statsTTL:   d.StatsTTL,
		logger:     d.Logger.With().Str("component", "dispatch").Logger(),
		now:        time.Now,
	}
	if s.tx == nil {
		s.tx = db.NewTxRunner(nil)
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.events == nil {
		s.events = nopEvents{}
	}
	if s.cache == nil {
		s.cache = cache.NewMemoryKVStore()
	}
	if s.statsTTL <= 0 {
		s.statsTTL = defaultStatsTTL
	}
	return s
}

func repoErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("case not found")
	case errors.Is(err, ErrStaleStatus):
		return apperr.Conflict("case status changed concurrently, reload and retry")
	case errors.Is(err, ErrReportExists):
		return apperr.Conflict("case already has a medical report")
	case errors.Is(err, ErrNotesClosed):
		return apperr.Conflict("notes can only be added to assigned or in-progress cases")
	}
	return apperr.Internal(op, err)
}

func (s *Service) loadCase(ctx context.Context, id uuid.UUID) (*Case, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr("load case", err)
	}
	return c, nil
}

// publish fans an event out to the directors' feed and to the assignee.
func (s *Service) publish(ctx context.Context, eventType string, c *Case, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("encode case event")
		return
	}
	topics := []string{websocket.TopicCases}
	if id := c.AssigneeID(); id != uuid.Nil {
		topics = append(topics, websocket.ParamedicTopic(id))
	}
	for _, topic := range topics {
		ev := websocket.Event{
			Type:   eventType,
			Topic:  topic,
			CaseID: c.ID.String(),
			Status: string(c.Status),
			Data:   data,
		}
		if err := s.events.Publish(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("event", eventType).Str("topic", topic).Msg("publish case event")
		}
	}
}

func (s *Service) invalidateStats(ctx context.Context) {
	s.statsGen.Add(1)
	if err := s.cache.Delete(ctx, statsCacheKey); err != nil {
		s.logger.Warn().Err(err).Msg("invalidate case stats")
	}
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

// CreateCase records a new emergency in status NEW.
func (s *Service) CreateCase(ctx context.Context, actor auth.Actor, req CreateCaseRequest) (*Case, error) {
	if err := auth.Authorize(actor, auth.ActionCreateCase, auth.Resource{}); err != nil {
		return nil, err
	}

	location := strings.TrimSpace(req.Location)
	description := strings.TrimSpace(req.Description)
	severity := Severity(strings.ToUpper(strings.TrimSpace(string(req.Severity))))
	if location == "" || description == "" || severity == "" {
		return nil, apperr.Validation("location, description and severity are required")
	}
	if !severity.Valid() {
		return nil, apperr.Validation("unknown severity %q", req.Severity)
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return nil, apperr.Validation("latitude and longitude must be provided together")
	}
	if req.Latitude != nil && (*req.Latitude < -90 || *req.Latitude > 90 || *req.Longitude < -180 || *req.Longitude > 180) {
		return nil, apperr.Validation("coordinates are out of range")
	}
	if req.PatientAge != nil && *req.PatientAge < 0 {
		return nil, apperr.Validation("patient age cannot be negative")
	}

	c := &Case{
		PatientName:   trimOptional(req.PatientName),
		PatientAge:    req.PatientAge,
		PatientGender: trimOptional(req.PatientGender),
		Location:      location,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		Description:   description,
		Severity:      severity,
		Notes:         trimOptional(req.Notes),
		Status:        StatusNew,
		DirectorID:    actor.ID,
	}
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, repoErr("create case", err)
	}
	c.Director = &PersonRef{Name: actor.Name, Email: actor.Email}

	s.logger.Info().Str("case_id", c.ID.String()).Str("severity", string(c.Severity)).Msg("case created")
	s.publish(ctx, websocket.EventCaseCreated, c, c)
	s.invalidateStats(ctx)
	return c, nil
}

// ListCases returns a page of cases, newest first.
func (s *Service) ListCases(ctx context.Context, actor auth.Actor, pg pagination.Params) ([]*Case, int, error) {
	if err := auth.Authorize(actor, auth.ActionListCases, auth.Resource{}); err != nil {
		return nil, 0, err
	}
	cases, total, err := s.cases.List(ctx, pg.Limit, pg.Offset)
	if err != nil {
		return nil, 0, repoErr("list cases", err)
	}
	if cases == nil {
		cases = []*Case{}
	}
	return cases, total, nil
}

// GetCase returns a case with its notes and report.
func (s *Service) GetCase(ctx context.Context, actor auth.Actor, id uuid.UUID) (*CaseDetail, error) {
	c, err := s.loadCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeOn(actor, auth.ActionViewCase, c); err != nil {
		return nil, err
	}

	notes, err := s.cases.ListNotes(ctx, id)
	if err != nil {
		return nil, repoErr("list treatment notes", err)
	}
	if notes == nil {
		notes = []*TreatmentNote{}
	}
	report, err := s.cases.GetReport(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, repoErr("load medical report", err)
	}
	return &CaseDetail{Case: c, TreatmentNotes: notes, MedicalReport: report}, nil
}

// rankParamedics orders on-duty paramedics by distance from p.
func rankParamedics(p geo.Point, users []*personnel.User) []RankedParamedic {
	byID := make(map[string]*personnel.User, len(users))
	candidates := make([]geo.Candidate, 0, len(users))
	for _, u := range users {
		pt, ok := u.Coordinates()
		if !ok {
			continue
		}
		byID[u.ID.String()] = u
		candidates = append(candidates, geo.Candidate{ID: u.ID.String(), Point: pt})
	}

	ranked := geo.Rank(p, candidates)
	out := make([]RankedParamedic, 0, len(ranked))
	for _, r := range ranked {
		u := byID[r.ID]
		out = append(out, RankedParamedic{
			ID:        u.ID,
			Name:      u.Name,
			Latitude:  r.Point.Lat,
			Longitude: r.Point.Lng,
			Distance:  r.DistanceKm,
		})
	}
	return out
}

// AssignCase assigns a NEW case to paramedicID. The returned ranking of
// on-duty paramedics is advisory; any paramedic may be chosen.
func (s *Service) AssignCase(ctx context.Context, actor auth.Actor, caseID, paramedicID uuid.UUID) (*AssignResult, error) {
	if err := auth.Authorize(actor, auth.ActionAssignCase, auth.Resource{}); err != nil {
		return nil, err
	}
	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	point, ok := c.Coordinates()
	if !ok {
		return nil, apperr.Validation("case location is incomplete")
	}

	available, err := s.paramedics.AvailableParamedics(ctx)
	if err != nil {
		return nil, err
	}
	ranked := rankParamedics(point, available)

	paramedic, err := s.paramedics.GetParamedic(ctx, paramedicID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(actor, c, StatusAssigned, auth.ActionAssignCase); err != nil {
		return nil, err
	}

	updated, err := s.cases.UpdateStatus(ctx, StatusChange{
		CaseID:      c.ID,
		From:        StatusNew,
		To:          StatusAssigned,
		ParamedicID: &paramedic.ID,
	})
	if err != nil {
		return nil, repoErr("assign case", err)
	}

	log := s.logger.Info().Str("case_id", c.ID.String()).Str("paramedic_id", paramedic.ID.String())
	if len(ranked) > 0 {
		log = log.Str("nearest_id", ranked[0].ID.String()).Float64("nearest_km", ranked[0].Distance)
	}
	log.Msg("case assigned")

	patient := ""
	if updated.PatientName != nil {
		patient = *updated.PatientName
	}
	s.notifier.NotifyCaseAssigned(ctx, notification.CaseAssignment{
		CaseID:       updated.ID,
		PatientName:  patient,
		Location:     updated.Location,
		ParamedicID:  paramedic.ID,
		Subscription: paramedic.PushSubscription,
	})
	s.publish(ctx, websocket.EventCaseAssigned, updated, updated)
	s.invalidateStats(ctx)

	return &AssignResult{Paramedics: ranked, Success: true, Case: updated}, nil
}

// UpdateStatus applies a plain status change. Completion needs a report and
// goes through CompleteCase.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Actor, caseID uuid.UUID, to Status) (*Case, error) {
	to = Status(strings.ToUpper(strings.TrimSpace(string(to))))
	if to == "" {
		return nil, apperr.Validation("status is required")
	}
	if !to.Valid() {
		return nil, apperr.Validation("unknown status %q", to)
	}

	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOn(actor, auth.ActionUpdateStatus, c); err != nil {
		return nil, err
	}
	if c.Status != StatusCompleted && to == StatusCompleted {
		return nil, apperr.Validation("a medical report is required to complete a case")
	}
	if err := checkTransition(actor, c, to, auth.ActionUpdateStatus); err != nil {
		return nil, err
	}

	updated, err := s.cases.UpdateStatus(ctx, StatusChange{CaseID: c.ID, From: c.Status, To: to})
	if err != nil {
		return nil, repoErr("update case status", err)
	}
	s.logger.Info().Str("case_id", c.ID.String()).Str("from", string(c.Status)).Str("to", string(to)).Msg("case status changed")
	s.publish(ctx, websocket.EventCaseStatusChanged, updated, updated)
	s.invalidateStats(ctx)
	return updated, nil
}

// AddNote appends a treatment note. The case itself is not modified.
func (s *Service) AddNote(ctx context.Context, actor auth.Actor, caseID uuid.UUID, content string) (*TreatmentNote, error) {
	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := checkNote(actor, c, content); err != nil {
		return nil, err
	}

	n := &TreatmentNote{CaseID: c.ID, Content: strings.TrimSpace(content)}
	if err := s.cases.AddNote(ctx, n); err != nil {
		return nil, repoErr("add treatment note", err)
	}
	s.publish(ctx, websocket.EventCaseNoteAdded, c, n)
	return n, nil
}

// CompleteCase files the medical report and closes the case in one
// transaction.
func (s *Service) CompleteCase(ctx context.Context, actor auth.Actor, caseID uuid.UUID, req ReportRequest) (*CompleteResult, error) {
	var result *CompleteResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.loadCase(ctx, caseID)
		if err != nil {
			return err
		}
		if err := checkTransition(actor, c, StatusCompleted, auth.ActionCompleteCase); err != nil {
			return err
		}
		report, err := buildReport(req)
		if err != nil {
			return err
		}

		report.CaseID = c.ID
		if err := s.cases.CreateReport(ctx, report); err != nil {
			return repoErr("create medical report", err)
		}
		updated, err := s.cases.UpdateStatus(ctx, StatusChange{CaseID: c.ID, From: StatusInProgress, To: StatusCompleted})
		if err != nil {
			return repoErr("complete case", err)
		}
		result = &CompleteResult{MedicalReport: report, Case: updated}
		return nil
	})
	if err != nil {
		var appErr *apperr.Error
		if !errors.As(err, &appErr) {
			err = apperr.Internal("complete case", err)
		}
		return nil, err
	}

	s.logger.Info().Str("case_id", caseID.String()).Str("patient_status", string(result.MedicalReport.PatientStatus)).Msg("case completed")
	s.publish(ctx, websocket.EventCaseCompleted, result.Case, result)
	s.invalidateStats(ctx)
	return result, nil
}

// Stats returns per-status case counts, served from cache when fresh.
func (s *Service) Stats(ctx context.Context, actor auth.Actor) (Stats, error) {
	if err := auth.Authorize(actor, auth.ActionViewStats, auth.Resource{}); err != nil {
		return Stats{}, err
	}

	raw, err := s.cache.Get(ctx, statsCacheKey)
	switch {
	case err == nil:
		var st Stats
		if jsonErr := json.Unmarshal([]byte(raw), &st); jsonErr == nil {
			return st, nil
		}
	case !errors.Is(err, cache.ErrCacheMiss):
		s.logger.Warn().Err(err).Msg("read case stats from cache")
	}

	gen := s.statsGen.Load()
	counts, err := s.cases.CountByStatus(ctx)
	if err != nil {
		return Stats{}, repoErr("count cases", err)
	}
	st := StatsFromCounts(counts)
	if s.statsGen.Load() != gen {
		return st, nil
	}

	if b, err := json.Marshal(st); err == nil {
		if err := s.cache.Set(ctx, statsCacheKey, string(b), s.statsTTL); err != nil {
			s.logger.Warn().Err(err).Msg("write case stats to cache")
		}
	}
	return st, nil
}

// ActiveCases returns the caller's assigned and in-progress cases.
func (s *Service) ActiveCases(ctx context.Context, actor auth.Actor) ([]*Case, error) {
	if err := auth.Authorize(actor, auth.ActionViewOwnCases, auth.Resource{}); err != nil {
		return nil, err
	}
	cases, err := s.cases.ListByParamedic(ctx, actor.ID, []Status{StatusAssigned, StatusInProgress})
	if err != nil {
		return nil, repoErr("list active cases", err)
	}
	if cases == nil {
		cases = []*Case{}
	}
	return cases, nil
}

// periodStart maps a history period to the earliest creation time it covers.
func periodStart(period string, now time.Time) (*time.Time, error) {
	var t time.Time
	switch strings.ToLower(strings.TrimSpace(period)) {
	case "", "all":
		return nil, nil
	case "today":
		t = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case "week":
		t = now.AddDate(0, 0, -7)
	case "month":
		t = now.AddDate(0, -1, 0)
	default:
		return nil, apperr.Validation("unknown period %q", period)
	}
	return &t, nil
}

// History returns the caller's cases with report summaries.
func (s *Service) History(ctx context.Context, actor auth.Actor, f HistoryFilter) ([]*HistoryEntry, error) {
	if err := auth.Authorize(actor, auth.ActionViewOwnCases, auth.Resource{}); err != nil {
		return nil, err
	}

	q := HistoryQuery{ParamedicID: actor.ID}
	if st := strings.ToUpper(strings.TrimSpace(f.Status)); st != "" && st != "ALL" {
		status := Status(st)
		if !status.Valid() {
			return nil, apperr.Validation("unknown status %q", f.Status)
		}
		q.Status = &status
	}
	since, err := periodStart(f.Period, s.now())
	if err != nil {
		return nil, err
	}
	q.Since = since

	entries, err := s.cases.History(ctx, q)
	if err != nil {
		return nil, repoErr("load case history", err)
	}
	if entries == nil {
		entries = []*HistoryEntry{}
	}
	return entries, nil
}
