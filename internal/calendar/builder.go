package calendar

import (
	"fmt"

	"github.com/relwatch/relwatch/internal/release"
)

// Category colors by work kind. The ids follow the external service's
// palette; unknown kinds fall back to colorDefault.
const (
	colorAnime   = "9"  // blueberry
	colorManga   = "10" // basil
	colorNovel   = "5"  // banana
	colorDefault = "8"  // graphite
)

// defaultReminders are the reminder offsets, in minutes before the event:
// one hour and one day.
var defaultReminders = []int{60, 1440}

// BuildEvent maps a (work, release) pair to the event payload sent to the
// external calendar.
//
// Pure function: no I/O, no clock, no randomness. Two calls with the same
// inputs produce identical payloads, which is what makes golden tests and
// the idempotency fingerprint trustworthy.
func BuildEvent(w release.Work, r release.Release) EventPayload {
	start, end := SpanFor(r.Date)
	fp := release.Fingerprint(r)

	return EventPayload{
		Title:           eventTitle(w, r),
		Description:     eventDescription(w, r, fp),
		Fingerprint:     fp,
		Start:           start,
		End:             end,
		AllDay:          true,
		ColorID:         colorFor(w.Kind),
		ReminderMinutes: append([]int(nil), defaultReminders...),
	}
}

// eventTitle renders "<Work title> episode <N>" or "<Work title> volume <N>".
func eventTitle(w release.Work, r release.Release) string {
	return fmt.Sprintf("%s %s %d", w.Title, r.Type, r.Number)
}

// eventDescription renders the event body. The fingerprint line must stay
// machine-parseable; the rest is for humans.
func eventDescription(w release.Work, r release.Release, fp string) string {
	body := fmt.Sprintf("%s %s %d on %s", w.Title, r.Type, r.Number, r.Platform)
	if r.SourceURL != "" {
		body += "\n" + r.SourceURL
	}
	body += "\n\nrelwatch-fingerprint: " + fp
	return body
}

func colorFor(kind string) string {
	switch kind {
	case "anime":
		return colorAnime
	case "manga":
		return colorManga
	case "novel":
		return colorNovel
	default:
		return colorDefault
	}
}
