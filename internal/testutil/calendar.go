package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/relwatch/relwatch/internal/calendar"
)

// FakeCalendar is an in-memory calendar.Client with scriptable failures.
//
// Events live in a map keyed by service-assigned id, with a fingerprint
// index backing FindEventByFingerprint. Failures are queued per operation
// and popped one per call, so a test can script "two timeouts, then
// success" without touching the fake between calls.
//
// Thread-safety: safe for concurrent use; the engine's worker pool hits
// one shared fake.
type FakeCalendar struct {
	mu            sync.Mutex
	nextID        int
	events        map[string]calendar.EventPayload
	byFingerprint map[string]string
	failures      map[string][]scriptedFailure
	calls         []Call
}

// Call records one client call for assertions.
type Call struct {
	Op          string // "create", "update", "delete", "find"
	EventID     string
	Fingerprint string
}

type scriptedFailure struct {
	err error
	// land makes the operation take effect server-side even though the
	// caller sees err. Simulates the ambiguous-timeout case where the
	// request reached the service but the response was lost.
	land bool
}

// NewFakeCalendar creates an empty fake.
func NewFakeCalendar() *FakeCalendar {
	return &FakeCalendar{
		events:        make(map[string]calendar.EventPayload),
		byFingerprint: make(map[string]string),
		failures:      make(map[string][]scriptedFailure),
	}
}

// FailNext queues errors for upcoming calls of op, one per call, before
// any queued by later FailNext calls.
func (f *FakeCalendar) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, err := range errs {
		f.failures[op] = append(f.failures[op], scriptedFailure{err: err})
	}
}

// FailNextButLand queues an error for the next op call whose side effect
// still lands server-side.
func (f *FakeCalendar) FailNextButLand(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], scriptedFailure{err: err, land: true})
}

func (f *FakeCalendar) popFailure(op string) (scriptedFailure, bool) {
	queue := f.failures[op]
	if len(queue) == 0 {
		return scriptedFailure{}, false
	}
	fail := queue[0]
	f.failures[op] = queue[1:]
	return fail, true
}

// CreateEvent implements calendar.Client.
func (f *FakeCalendar) CreateEvent(ctx context.Context, payload calendar.EventPayload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: "create", Fingerprint: payload.Fingerprint})

	fail, scripted := f.popFailure("create")
	if scripted && !fail.land {
		return "", fail.err
	}

	f.nextID++
	id := fmt.Sprintf("evt-%d", f.nextID)
	f.events[id] = payload
	f.byFingerprint[payload.Fingerprint] = id

	if scripted {
		return "", fail.err
	}
	return id, nil
}

// UpdateEvent implements calendar.Client.
func (f *FakeCalendar) UpdateEvent(ctx context.Context, eventID string, payload calendar.EventPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: "update", EventID: eventID, Fingerprint: payload.Fingerprint})

	fail, scripted := f.popFailure("update")
	if scripted && !fail.land {
		return fail.err
	}

	old, ok := f.events[eventID]
	if !ok {
		return &calendar.APIError{StatusCode: 404, Message: "event not found"}
	}
	delete(f.byFingerprint, old.Fingerprint)
	f.events[eventID] = payload
	f.byFingerprint[payload.Fingerprint] = eventID

	if scripted {
		return fail.err
	}
	return nil
}

// DeleteEvent implements calendar.Client.
func (f *FakeCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: "delete", EventID: eventID})

	fail, scripted := f.popFailure("delete")
	if scripted && !fail.land {
		return fail.err
	}

	payload, ok := f.events[eventID]
	if !ok {
		return &calendar.APIError{StatusCode: 410, Message: "event gone"}
	}
	delete(f.events, eventID)
	delete(f.byFingerprint, payload.Fingerprint)

	if scripted {
		return fail.err
	}
	return nil
}

// FindEventByFingerprint implements calendar.Client.
func (f *FakeCalendar) FindEventByFingerprint(ctx context.Context, fingerprint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: "find", Fingerprint: fingerprint})

	if fail, scripted := f.popFailure("find"); scripted {
		return "", fail.err
	}

	id, ok := f.byFingerprint[fingerprint]
	if !ok {
		return "", calendar.ErrNotFound
	}
	return id, nil
}

// Seed places an event directly into the fake, bypassing call recording.
// Returns the assigned event id.
func (f *FakeCalendar) Seed(payload calendar.EventPayload) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("evt-%d", f.nextID)
	f.events[id] = payload
	f.byFingerprint[payload.Fingerprint] = id
	return id
}

// Event returns the stored payload for an id.
func (f *FakeCalendar) Event(id string) (calendar.EventPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.events[id]
	return p, ok
}

// EventCount returns how many events the fake currently holds.
func (f *FakeCalendar) EventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// Calls returns a copy of all recorded calls in order.
func (f *FakeCalendar) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many calls of op were made.
func (f *FakeCalendar) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}
