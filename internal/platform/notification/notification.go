// Package notification delivers best-effort push messages to paramedics.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Publisher moves an encoded message onto a transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// PushMessage is the payload a push gateway turns into a Web Push
// notification for Subscription.
type PushMessage struct {
	Title        string          `json:"title"`
	Body         string          `json:"body"`
	URL          string          `json:"url"`
	Subscription json.RawMessage `json:"subscription"`
	SentAt       time.Time       `json:"sentAt"`
}

// CaseAssignment carries what the assigned paramedic needs to see.
type CaseAssignment struct {
	CaseID       uuid.UUID
	PatientName  string
	Location     string
	ParamedicID  uuid.UUID
	Subscription json.RawMessage
}

var ErrNoSubscription = errors.New("paramedic has no push subscription")

// Topic returns the MQTT topic for a paramedic's notifications.
func Topic(prefix string, paramedicID uuid.UUID) string {
	return fmt.Sprintf("%s/paramedics/%s/notifications", prefix, paramedicID)
}

type DispatcherConfig struct {
	TopicPrefix string
	Timeout     time.Duration
}

// Dispatcher renders and publishes notifications in the background.
// Failures are logged and never returned to the caller.
type Dispatcher struct {
	publisher Publisher
	templates *TemplateEngine
	cfg       DispatcherConfig
	logger    zerolog.Logger
	wg        sync.WaitGroup
	now       func() time.Time
}

func NewDispatcher(publisher Publisher, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "aidmate"
	}
	return &Dispatcher{
		publisher: publisher,
		templates: NewTemplateEngine(),
		cfg:       cfg,
		logger:    logger.With().Str("component", "notification").Logger(),
		now:       time.Now,
	}
}

// BuildCaseAssigned renders the assignment message.
func (d *Dispatcher) BuildCaseAssigned(a CaseAssignment) (PushMessage, error) {
	if len(a.Subscription) == 0 || string(a.Subscription) == "null" {
		return PushMessage{}, ErrNoSubscription
	}
	patient := a.PatientName
	if patient == "" {
		patient = "Anonymous"
	}
	title, body, url, err := d.templates.Render(TemplateCaseAssigned, map[string]string{
		"patient_name": patient,
		"location":     a.Location,
		"case_id":      a.CaseID.String(),
	})
	if err != nil {
		return PushMessage{}, err
	}
	return PushMessage{
		Title:        title,
		Body:         body,
		URL:          url,
		Subscription: a.Subscription,
		SentAt:       d.now().UTC(),
	}, nil
}

// NotifyCaseAssigned publishes the assignment message without blocking the
// caller. The publish outlives the request but is bounded by the configured
// timeout.
func (d *Dispatcher) NotifyCaseAssigned(ctx context.Context, a CaseAssignment) {
	log := d.logger.With().
		Str("case_id", a.CaseID.String()).
		Str("paramedic_id", a.ParamedicID.String()).
		Logger()

	msg, err := d.BuildCaseAssigned(a)
	if err != nil {
		if errors.Is(err, ErrNoSubscription) {
			log.Debug().Msg("skipping notification: no push subscription")
			return
		}
		log.Error().Err(err).Msg("build notification")
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("encode notification")
		return
	}

	topic := Topic(d.cfg.TopicPrefix, a.ParamedicID)
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		if err := d.publisher.Publish(bg, topic, payload); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("push notification failed")
			return
		}
		log.Info().Str("topic", topic).Msg("push notification sent")
	}()
}

// Wait blocks until in-flight notifications finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// NopPublisher drops every message. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []byte) error { return nil }

// PublishCall records one call to MockPublisher.Publish.
type PublishCall struct {
	Topic   string
	Payload []byte
}

// MockPublisher is a test double for Publisher.
type MockPublisher struct {
	mu        sync.Mutex
	calls     []PublishCall
	FailError error
}

func (m *MockPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, PublishCall{Topic: topic, Payload: payload})
	return m.FailError
}

// Calls returns a copy of recorded calls.
func (m *MockPublisher) Calls() []PublishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublishCall, len(m.calls))
	copy(out, m.calls)
	return out
}
