package calendar

import "time"

// EventPayload is the wire-level shape of a calendar event as this engine
// creates it. Dates are calendar days; every event is all-day.
type EventPayload struct {
	// Title is the human-visible summary, e.g. "Frieren episode 5".
	Title string `json:"title"`

	// Description is free text shown in the event body. Always contains
	// the fingerprint line so operators can see it too.
	Description string `json:"description"`

	// Fingerprint is the deterministic release identity, stored as event
	// metadata by the service and queried by FindEventByFingerprint.
	Fingerprint string `json:"fingerprint"`

	// Start and End bound a single-day all-day span (End is exclusive,
	// the day after Start).
	Start string `json:"start"`
	End   string `json:"end"`

	// AllDay is always true for release events; kept explicit so the
	// payload is self-describing.
	AllDay bool `json:"all_day"`

	// ColorID selects the category color, keyed by work kind.
	ColorID string `json:"color_id"`

	// ReminderMinutes lists reminder offsets before the event start.
	ReminderMinutes []int `json:"reminder_minutes"`
}

// dateFormat is the calendar service's all-day date format.
const dateFormat = "2006-01-02"

// SpanFor returns the all-day [start, end) strings for a release date.
func SpanFor(day time.Time) (start, end string) {
	d := day.UTC()
	return d.Format(dateFormat), d.AddDate(0, 0, 1).Format(dateFormat)
}
