// ABOUTME: Stub Google Calendar connector: calendars and events.
// ABOUTME: Returns canned payloads shaped like the Calendar API; no network calls.

package integrations

import (
	"context"
	"fmt"
	"time"

	"github.com/ndtriplebolt/coreassist-electron/internal/connector"
)

// maxSampleEvents caps list_events output regardless of max_results.
const maxSampleEvents = 3

// NewGoogleCalendar builds the Google Calendar connector from its manifest.
func NewGoogleCalendar(m *connector.Manifest) (connector.Connector, error) {
	s := &service{Base: connector.NewBase(m), display: "Google Calendar"}
	s.handlers = map[string]handlerFunc{
		"list_calendars": calendarListCalendars,
		"create_event":   calendarCreateEvent,
		"list_events":    calendarListEvents,
	}
	return s, nil
}

func calendarListCalendars(_ context.Context, _ map[string]any, _ connector.AuthData) (map[string]any, error) {
	return map[string]any{
		"calendars": []map[string]any{
			{"id": "primary", "summary": "Primary Calendar", "description": "Main calendar", "timeZone": "America/Los_Angeles"},
			{"id": "work_calendar", "summary": "Work Calendar", "description": "Work-related events", "timeZone": "America/Los_Angeles"},
		},
		"message": "Listed calendars (stub)",
	}, nil
}

type calendarCreateEventInput struct {
	CalendarID  string   `json:"calendar_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	Attendees   []string `json:"attendees"`
}

func calendarCreateEvent(_ context.Context, params map[string]any, _ connector.AuthData) (map[string]any, error) {
	in := calendarCreateEventInput{CalendarID: "primary"}
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if err := requireParams(
		[2]string{"title", in.Title},
		[2]string{"start_time", in.StartTime},
		[2]string{"end_time", in.EndTime},
	); err != nil {
		return nil, err
	}

	attendees := make([]map[string]any, 0, len(in.Attendees))
	for _, email := range in.Attendees {
		attendees = append(attendees, map[string]any{"email": email})
	}

	ts := timestamp()
	return map[string]any{
		"event": map[string]any{
			"id":          "event_" + ts,
			"summary":     in.Title,
			"description": in.Description,
			"start":       map[string]any{"dateTime": in.StartTime},
			"end":         map[string]any{"dateTime": in.EndTime},
			"attendees":   attendees,
			"created":     ts,
			"updated":     ts,
		},
		"calendar_id": in.CalendarID,
		"message":     fmt.Sprintf("Created event %q (stub)", in.Title),
	}, nil
}

type calendarListEventsInput struct {
	CalendarID string `json:"calendar_id"`
	MaxResults int    `json:"max_results"`
	TimeMin    string `json:"time_min"`
}

func calendarListEvents(_ context.Context, params map[string]any, _ connector.AuthData) (map[string]any, error) {
	in := calendarListEventsInput{CalendarID: "primary", MaxResults: 10}
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}

	base := now().UTC()
	if in.TimeMin != "" {
		t, err := time.Parse(time.RFC3339, in.TimeMin)
		if err != nil {
			return nil, fmt.Errorf("invalid time_min: %w", err)
		}
		base = t.UTC()
	}

	n := min(max(in.MaxResults, 0), maxSampleEvents)
	events := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		start := base.Add(time.Duration(i) * 25 * time.Hour)
		events = append(events, map[string]any{
			"id":      fmt.Sprintf("sample_event_%d", i),
			"summary": fmt.Sprintf("Sample Event %d", i+1),
			"start":   map[string]any{"dateTime": start.Format(time.RFC3339)},
			"end":     map[string]any{"dateTime": start.Add(time.Hour).Format(time.RFC3339)},
			"created": timestamp(),
		})
	}

	return map[string]any{
		"events":      events,
		"calendar_id": in.CalendarID,
		"message":     fmt.Sprintf("Listed %d events (stub)", len(events)),
	}, nil
}
