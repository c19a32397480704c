package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var testSubscription = json.RawMessage(`{"endpoint":"https://push.example.com/abc","keys":{"p256dh":"k","auth":"a"}}`)

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()
	title, body, url, err := e.Render(TemplateCaseAssigned, map[string]string{
		"patient_name": "Abebe",
		"location":     "Bole Road",
		"case_id":      "c-1",
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if title != "New Case Assigned" {
		t.Errorf("unexpected title %q", title)
	}
	if body != "You've been assigned to a new case: Abebe at Bole Road." {
		t.Errorf("unexpected body %q", body)
	}
	if url != "/paramedic/case/c-1" {
		t.Errorf("unexpected url %q", url)
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	if _, _, _, err := NewTemplateEngine().Render("nope", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestTemplateEngine_MissingKeyLeftAsIs(t *testing.T) {
	e := NewTemplateEngine()
	e.Register(Template{ID: "t", Title: "Hi {{name}}", Body: "{{unknown}}"})

	title, body, _, err := e.Render("t", map[string]string{"name": "Sarah"})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if title != "Hi Sarah" || body != "{{unknown}}" {
		t.Errorf("unexpected render: %q %q", title, body)
	}
}

func TestTopic(t *testing.T) {
	id := uuid.MustParse("6f1c1a52-3b0e-4a8b-9a53-2a8a3cf0d6b1")
	if got := Topic("aidmate", id); got != "aidmate/paramedics/6f1c1a52-3b0e-4a8b-9a53-2a8a3cf0d6b1/notifications" {
		t.Errorf("unexpected topic %q", got)
	}
}

func TestDispatcher_BuildCaseAssigned_Anonymous(t *testing.T) {
	d := NewDispatcher(&MockPublisher{}, DispatcherConfig{}, zerolog.Nop())
	caseID := uuid.New()

	msg, err := d.BuildCaseAssigned(CaseAssignment{
		CaseID:       caseID,
		Location:     "Meskel Square",
		ParamedicID:  uuid.New(),
		Subscription: testSubscription,
	})
	if err != nil {
		t.Fatalf("BuildCaseAssigned() error: %v", err)
	}
	if msg.Body != "You've been assigned to a new case: Anonymous at Meskel Square." {
		t.Errorf("unexpected body %q", msg.Body)
	}
	if msg.URL != "/paramedic/case/"+caseID.String() {
		t.Errorf("unexpected url %q", msg.URL)
	}
}

func TestDispatcher_NotifyCaseAssigned_Publishes(t *testing.T) {
	pub := &MockPublisher{}
	d := NewDispatcher(pub, DispatcherConfig{TopicPrefix: "test"}, zerolog.Nop())
	paramedicID := uuid.New()

	d.NotifyCaseAssigned(context.Background(), CaseAssignment{
		CaseID:       uuid.New(),
		PatientName:  "Abebe",
		Location:     "Bole",
		ParamedicID:  paramedicID,
		Subscription: testSubscription,
	})
	d.Wait()

	calls := pub.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(calls))
	}
	if calls[0].Topic != Topic("test", paramedicID) {
		t.Errorf("unexpected topic %q", calls[0].Topic)
	}

	var msg PushMessage
	if err := json.Unmarshal(calls[0].Payload, &msg); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if msg.Title != "New Case Assigned" {
		t.Errorf("unexpected title %q", msg.Title)
	}
	if !bytes.Contains(msg.Subscription, []byte("push.example.com")) {
		t.Errorf("expected subscription in payload, got %s", msg.Subscription)
	}
}

func TestDispatcher_SkipsWithoutSubscription(t *testing.T) {
	pub := &MockPublisher{}
	d := NewDispatcher(pub, DispatcherConfig{}, zerolog.Nop())

	for _, sub := range []json.RawMessage{nil, json.RawMessage("null")} {
		d.NotifyCaseAssigned(context.Background(), CaseAssignment{
			CaseID:       uuid.New(),
			ParamedicID:  uuid.New(),
			Subscription: sub,
		})
	}
	d.Wait()

	if n := len(pub.Calls()); n != 0 {
		t.Errorf("expected no publishes, got %d", n)
	}
}

func TestDispatcher_FailureIsLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	pub := &MockPublisher{FailError: errors.New("broker unavailable")}
	d := NewDispatcher(pub, DispatcherConfig{}, zerolog.New(&buf))

	d.NotifyCaseAssigned(context.Background(), CaseAssignment{
		CaseID:       uuid.New(),
		ParamedicID:  uuid.New(),
		Subscription: testSubscription,
	})
	d.Wait()

	if !strings.Contains(buf.String(), "broker unavailable") {
		t.Errorf("expected failure to be logged, got %q", buf.String())
	}
}

type blockingPublisher struct {
	sawDeadline chan bool
}

func (b *blockingPublisher) Publish(ctx context.Context, _ string, _ []byte) error {
	_, ok := ctx.Deadline()
	b.sawDeadline <- ok
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatcher_SurvivesCallerCancellation(t *testing.T) {
	pub := &blockingPublisher{sawDeadline: make(chan bool, 1)}
	d := NewDispatcher(pub, DispatcherConfig{Timeout: 50 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	d.NotifyCaseAssigned(ctx, CaseAssignment{
		CaseID:       uuid.New(),
		ParamedicID:  uuid.New(),
		Subscription: testSubscription,
	})
	cancel()

	if !<-pub.sawDeadline {
		t.Error("expected publish context to carry its own deadline")
	}
	d.Wait()
}
