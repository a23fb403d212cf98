package calendar

import (
	"context"
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	"github.com/Chative-whatsapp-agent/server/internal/metrics"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

// Event is the calendar event view returned to callers.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees,omitempty"`
	Link        string    `json:"link,omitempty"`
	Status      string    `json:"status,omitempty"`
}

// EventPatch holds the fields an update may change; nil fields are kept.
type EventPatch struct {
	Summary     *string    `json:"summary,omitempty"`
	Description *string    `json:"description,omitempty"`
	Location    *string    `json:"location,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
}

// Client wraps the Google Calendar v3 events API for one calendar.
type Client struct {
	svc        *gcal.Service
	calendarID string
	timeZone   string
}

// New authenticates with the service-account file unless opts are supplied.
func New(ctx context.Context, cfg model.CalendarConfig, opts ...option.ClientOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []option.ClientOption{
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(gcal.CalendarScope),
		}
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}

	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Client{svc: svc, calendarID: calendarID, timeZone: cfg.TimeZone}, nil
}

// CreateEvent inserts the draft and returns the stored event.
func (c *Client) CreateEvent(ctx context.Context, draft model.EventDraft) (*Event, error) {
	if draft.Summary == "" {
		return nil, errx.Validation("event summary is required")
	}
	if draft.End.IsZero() || !draft.End.After(draft.Start) {
		draft.End = draft.Start.Add(time.Hour)
	}

	ev := &gcal.Event{
		Summary:     draft.Summary,
		Description: draft.Description,
		Start:       c.dateTime(draft.Start),
		End:         c.dateTime(draft.End),
	}
	for _, a := range draft.Attendees {
		ev.Attendees = append(ev.Attendees, &gcal.EventAttendee{Email: a})
	}

	created, err := c.svc.Events.Insert(c.calendarID, ev).Context(ctx).Do()
	if err := c.observe("create", err); err != nil {
		return nil, err
	}
	logx.Info().Str("event_id", created.Id).Str("summary", created.Summary).Msg("Calendar event created")
	return toEvent(created), nil
}

// ListEvents returns single events between from and to ordered by start time.
func (c *Client) ListEvents(ctx context.Context, from, to time.Time, max int64) ([]Event, error) {
	call := c.svc.Events.List(c.calendarID).
		SingleEvents(true).
		OrderBy("startTime").
		TimeMin(from.Format(time.RFC3339))
	if !to.IsZero() {
		call = call.TimeMax(to.Format(time.RFC3339))
	}
	if max > 0 {
		call = call.MaxResults(max)
	}

	res, err := call.Context(ctx).Do()
	if err := c.observe("list", err); err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(res.Items))
	for _, item := range res.Items {
		out = append(out, *toEvent(item))
	}
	return out, nil
}

func (c *Client) GetEvent(ctx context.Context, id string) (*Event, error) {
	ev, err := c.svc.Events.Get(c.calendarID, id).Context(ctx).Do()
	if err := c.observe("get", err); err != nil {
		return nil, err
	}
	return toEvent(ev), nil
}

// UpdateEvent applies the non-nil fields of patch.
func (c *Client) UpdateEvent(ctx context.Context, id string, patch EventPatch) (*Event, error) {
	ev := &gcal.Event{}
	if patch.Summary != nil {
		ev.Summary = *patch.Summary
	}
	if patch.Description != nil {
		ev.Description = *patch.Description
	}
	if patch.Location != nil {
		ev.Location = *patch.Location
	}
	if patch.Start != nil {
		ev.Start = c.dateTime(*patch.Start)
	}
	if patch.End != nil {
		ev.End = c.dateTime(*patch.End)
	}

	updated, err := c.svc.Events.Patch(c.calendarID, id, ev).Context(ctx).Do()
	if err := c.observe("update", err); err != nil {
		return nil, err
	}
	return toEvent(updated), nil
}

func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	err := c.svc.Events.Delete(c.calendarID, id).Context(ctx).Do()
	return c.observe("delete", err)
}

func (c *Client) observe(op string, err error) error {
	metrics.IntegrationCalls.WithLabelValues("calendar", metrics.Status(err)).Inc()
	if err != nil {
		logx.Error().Err(err).Str("op", op).Str("calendar_id", c.calendarID).Msg("Calendar call failed")
		return errx.Integration("calendar", err)
	}
	return nil
}

func (c *Client) dateTime(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: c.timeZone}
}

func toEvent(ev *gcal.Event) *Event {
	out := &Event{
		ID:          ev.Id,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Link:        ev.HtmlLink,
		Status:      ev.Status,
	}
	if ev.Start != nil {
		out.Start = parseDateTime(ev.Start)
	}
	if ev.End != nil {
		out.End = parseDateTime(ev.End)
	}
	for _, a := range ev.Attendees {
		if a != nil && a.Email != "" {
			out.Attendees = append(out.Attendees, a.Email)
		}
	}
	return out
}

func parseDateTime(dt *gcal.EventDateTime) time.Time {
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse("2006-01-02", dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}
