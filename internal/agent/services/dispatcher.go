package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Chative-whatsapp-agent/server/internal/agent/graph/parsers"
	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/calendar"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/database"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/email"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

// Action names recorded in service results and service_actions rows.
const (
	ActionEmailSent       = "email_sent"
	ActionEventCreated    = "calendar_event_created"
	ActionReminderCreated = "reminder_created"
	ActionQueryLogged     = "data_query_logged"
)

const (
	reminderDuration = 15 * time.Minute
	logTimeout       = 3 * time.Second
	displayLayout    = "2006-01-02 15:04"
)

type Mailer interface {
	Send(ctx context.Context, m email.Message) error
}

type Calendar interface {
	CreateEvent(ctx context.Context, draft model.EventDraft) (*calendar.Event, error)
}

type Recorder interface {
	Insert(ctx context.Context, table string, values map[string]any) (map[string]any, error)
}

// Dispatcher turns a detected service request into an integration call.
// Any of its integrations may be nil; topics that need a missing one report
// model.ErrServiceUnavailable.
type Dispatcher struct {
	mail          Mailer
	cal           Calendar
	store         Recorder
	eventDuration time.Duration
	location      *time.Location
	now           func() time.Time
}

type Option func(*Dispatcher)

func WithMailer(m Mailer) Option     { return func(d *Dispatcher) { d.mail = m } }
func WithCalendar(c Calendar) Option { return func(d *Dispatcher) { d.cal = c } }
func WithRecorder(r Recorder) Option { return func(d *Dispatcher) { d.store = r } }

// WithClock replaces time.Now; tests pin it.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

func NewDispatcher(cfg model.CalendarConfig, opts ...Option) *Dispatcher {
	loc := time.Local
	if cfg.TimeZone != "" {
		if l, err := time.LoadLocation(cfg.TimeZone); err == nil {
			loc = l
		} else {
			logx.Warn().Err(err).Str("time_zone", cfg.TimeZone).Msg("Unknown calendar time zone, using local time")
		}
	}
	d := &Dispatcher{
		eventDuration: cfg.EventDuration,
		location:      loc,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle implements model.ServiceHandler.
func (d *Dispatcher) Handle(ctx context.Context, req model.ServiceRequest) (*model.ServiceResult, error) {
	var (
		res *model.ServiceResult
		err error
	)
	switch req.Topic {
	case model.TopicEmail:
		res, err = d.sendEmail(ctx, req)
	case model.TopicCalendar:
		res, err = d.createEvent(ctx, req)
	case model.TopicReminder:
		res, err = d.createReminder(ctx, req)
	case model.TopicDataQuery:
		res, err = d.logQuery(ctx, req)
	default:
		return nil, fmt.Errorf("no service handles topic %q", req.Topic)
	}
	if err != nil {
		return nil, err
	}
	if res.Success {
		d.record(ctx, req.Sender, res)
	}
	return res, nil
}

func (d *Dispatcher) sendEmail(ctx context.Context, req model.ServiceRequest) (*model.ServiceResult, error) {
	if d.mail == nil {
		return nil, model.ErrServiceUnavailable
	}
	draft, err := parsers.ParseEmailRequest(req.Text, req.Sender)
	if errors.Is(err, parsers.ErrMissingRecipient) {
		return &model.ServiceResult{
			Action:  ActionEmailSent,
			Message: "No encontré una dirección de email válida en tu mensaje. ¿A quién quieres que lo envíe?",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := d.mail.Send(ctx, email.Message{To: draft.To, Subject: draft.Subject, Body: draft.Body}); err != nil {
		return nil, err
	}
	return &model.ServiceResult{
		Action:  ActionEmailSent,
		Success: true,
		Message: fmt.Sprintf("✅ Email enviado exitosamente a %s", joinList(draft.To)),
		Details: map[string]any{"recipients": draft.To, "subject": draft.Subject},
	}, nil
}

func (d *Dispatcher) createEvent(ctx context.Context, req model.ServiceRequest) (*model.ServiceResult, error) {
	if d.cal == nil {
		return nil, model.ErrServiceUnavailable
	}
	draft, err := parsers.ParseEvent(req.Text, d.now().In(d.location), d.eventDuration)
	if err != nil {
		return nil, err
	}

	ev, err := d.cal.CreateEvent(ctx, draft)
	if err != nil {
		return nil, err
	}
	return &model.ServiceResult{
		Action:    ActionEventCreated,
		Success:   true,
		Message:   fmt.Sprintf("📅 Evento creado: %s para %s", draft.Summary, draft.Start.Format(displayLayout)),
		Reference: ev.ID,
		Details: map[string]any{
			"event_id":   ev.ID,
			"summary":    draft.Summary,
			"start_time": draft.Start.Format(time.RFC3339),
			"link":       ev.Link,
		},
	}, nil
}

func (d *Dispatcher) createReminder(ctx context.Context, req model.ServiceRequest) (*model.ServiceResult, error) {
	if d.cal == nil && d.store == nil {
		return nil, model.ErrServiceUnavailable
	}
	draft, err := parsers.ParseReminder(req.Text, d.now().In(d.location))
	if errors.Is(err, parsers.ErrMissingDetails) {
		return &model.ServiceResult{
			Action:  ActionReminderCreated,
			Message: "¿Qué quieres que te recuerde? Por ejemplo: \"recuérdame llamar a Ana en 30 minutos\".",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	var eventID string
	if d.cal != nil {
		ev, err := d.cal.CreateEvent(ctx, model.EventDraft{
			Summary:     "🔔 Recordatorio: " + draft.Text,
			Description: "Recordatorio solicitado por " + req.Sender,
			Start:       draft.At,
			End:         draft.At.Add(reminderDuration),
		})
		if err != nil {
			return nil, err
		}
		eventID = ev.ID
	}

	if d.store != nil {
		row := map[string]any{
			"user_id":   req.Sender,
			"text":      draft.Text,
			"remind_at": draft.At,
		}
		if eventID != "" {
			row["calendar_event_id"] = eventID
		}
		if _, err := d.store.Insert(ctx, database.TableReminders, row); err != nil {
			if eventID == "" {
				return nil, err
			}
			logx.Warn().Err(err).Str("event_id", eventID).Msg("Reminder row not stored, calendar event exists")
		}
	}

	return &model.ServiceResult{
		Action:    ActionReminderCreated,
		Success:   true,
		Message:   fmt.Sprintf("⏰ Recordatorio creado: %s para %s", draft.Text, draft.At.Format(displayLayout)),
		Reference: eventID,
		Details: map[string]any{
			"reminder_text": draft.Text,
			"reminder_time": draft.At.Format(time.RFC3339),
		},
	}, nil
}

func (d *Dispatcher) logQuery(ctx context.Context, req model.ServiceRequest) (*model.ServiceResult, error) {
	if d.store == nil {
		return nil, model.ErrServiceUnavailable
	}
	row, err := d.store.Insert(ctx, database.TableUserQueries, map[string]any{
		"user_id": req.Sender,
		"query":   req.Text,
	})
	if err != nil {
		return nil, err
	}
	ref, _ := row["id"].(string)
	return &model.ServiceResult{
		Action:    ActionQueryLogged,
		Success:   true,
		Message:   "📊 Tu consulta ha sido registrada para procesamiento.",
		Reference: ref,
		Details:   map[string]any{"query": req.Text},
	}, nil
}

// record writes the action to service_actions; failures are only logged.
func (d *Dispatcher) record(ctx context.Context, sender string, res *model.ServiceResult) {
	if d.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logTimeout)
	defer cancel()

	details := res.Details
	if details == nil {
		details = map[string]any{}
	}
	_, err := d.store.Insert(ctx, database.TableServiceActions, map[string]any{
		"user_id":   sender,
		"action":    res.Action,
		"status":    "success",
		"reference": res.Reference,
		"details":   details,
	})
	if err != nil {
		logx.Warn().Err(err).Str("action", res.Action).Msg("Service action not logged")
	}
}

func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	out := items[0]
	for _, it := range items[1 : len(items)-1] {
		out += ", " + it
	}
	return out + " y " + items[len(items)-1]
}
