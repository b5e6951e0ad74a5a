package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/relwatch/relwatch/internal/audit"
	"github.com/relwatch/relwatch/internal/calendar"
	"github.com/relwatch/relwatch/internal/ratelimit"
	"github.com/relwatch/relwatch/internal/release"
	"github.com/relwatch/relwatch/internal/retry"
	"github.com/relwatch/relwatch/internal/store"
)

// DefaultMaxRetries is the default transient attempt budget per operation.
const DefaultMaxRetries = 3

// Action is what the state machine did for one release.
type Action int

const (
	// ActionSkipped means no calendar work was needed this cycle.
	ActionSkipped Action = iota
	// ActionCreated means a new event was created.
	ActionCreated
	// ActionAdopted means an existing event found by fingerprint lookup
	// was bound instead of creating a duplicate.
	ActionAdopted
	// ActionUpdated means the existing event was refreshed.
	ActionUpdated
	// ActionDeleted means the event was removed after cancellation.
	ActionDeleted
)

// String implements fmt.Stringer for logs and reports.
func (a Action) String() string {
	switch a {
	case ActionCreated:
		return "created"
	case ActionAdopted:
		return "adopted"
	case ActionUpdated:
		return "updated"
	case ActionDeleted:
		return "deleted"
	default:
		return "skipped"
	}
}

// Result is the outcome of one state-machine pass over one release.
// Err is nil on success; Action is meaningful only when Err is nil.
type Result struct {
	ReleaseID string
	Action    Action
	EventID   string
	Err       error
}

// Machine decides and executes the calendar operation for one release:
// create, update, delete, or nothing. All remote calls go through the
// rate limiter, the retry executor, and the audit sink.
//
// Thread-safety: SyncOne is safe for concurrent use across distinct
// releases. The scheduler guarantees each release appears at most once
// per cycle.
type Machine struct {
	store   *store.Store
	client  calendar.Client
	limiter *ratelimit.Limiter
	exec    *retry.Executor
	sink    audit.Sink
	clock   *Clock
	log     *slog.Logger

	maxRetries  int
	callTimeout time.Duration
	now         func() time.Time
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithMachineClock sets the logical clock used for audit seq numbers.
// Shared with the scheduler so all records in a process order globally.
func WithMachineClock(c *Clock) MachineOption {
	return func(m *Machine) {
		m.clock = c
	}
}

// WithMachineLogger sets the structured logger.
func WithMachineLogger(log *slog.Logger) MachineOption {
	return func(m *Machine) {
		m.log = log
	}
}

// WithMaxRetries sets the transient attempt budget recorded in audit
// rows. Must match the executor's MaxAttempts.
func WithMaxRetries(n int) MachineOption {
	return func(m *Machine) {
		m.maxRetries = n
	}
}

// WithCallTimeout bounds each network call. The deadline starts after
// rate-limit admission, so a long window wait can never eat the call
// budget. Zero disables the per-call deadline; the cycle deadline still
// applies.
func WithCallTimeout(d time.Duration) MachineOption {
	return func(m *Machine) {
		m.callTimeout = d
	}
}

// WithMachineNow replaces the wall clock. Tests pass a fixed clock for
// deterministic timestamps.
func WithMachineNow(now func() time.Time) MachineOption {
	return func(m *Machine) {
		m.now = now
	}
}

// NewMachine creates a state machine over the given dependencies.
func NewMachine(
	st *store.Store,
	client calendar.Client,
	limiter *ratelimit.Limiter,
	exec *retry.Executor,
	sink audit.Sink,
	opts ...MachineOption,
) *Machine {
	m := &Machine{
		store:      st,
		client:     client,
		limiter:    limiter,
		exec:       exec,
		sink:       sink,
		clock:      NewClock(),
		log:        slog.Default(),
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SyncOne runs the state machine for a single release: reads its current
// state, decides the operation, executes it under retry, and persists the
// outcome. A cancelled ctx leaves the persisted state unchanged.
func (m *Machine) SyncOne(ctx context.Context, cycleToken string, p release.Pending) Result {
	id := p.Release.ID()

	st, err := m.store.GetState(ctx, id)
	if err != nil {
		return Result{ReleaseID: id, Err: err}
	}

	switch {
	case st.Live():
		if p.Release.Cancelled() {
			return m.deleteEvent(ctx, cycleToken, p, st)
		}
		if st.SyncedAt != nil && p.Release.ChangedSince(*st.SyncedAt) {
			return m.updateEvent(ctx, cycleToken, p, st)
		}
		return Result{ReleaseID: id, Action: ActionSkipped}

	case st.Status == store.StatusPending:
		if p.Release.Cancelled() {
			// Never reached the calendar; nothing to delete.
			return Result{ReleaseID: id, Action: ActionSkipped}
		}
		return m.createEvent(ctx, cycleToken, p, st)

	default:
		// failed is parked until re-driven; deleted is terminal.
		return Result{ReleaseID: id, Action: ActionSkipped}
	}
}

// createEvent creates a calendar event for a pending release. Before
// creating it probes by fingerprint: an earlier crash or ambiguous timeout
// may already have landed the event, and adoption is always preferred over
// a duplicate.
func (m *Machine) createEvent(ctx context.Context, token string, p release.Pending, st store.SyncState) Result {
	id := p.Release.ID()

	eventID, found, err := m.lookup(ctx, token, p, st)
	if err != nil {
		return Result{ReleaseID: id, Err: err}
	}
	if found {
		return m.adopt(ctx, p, st, eventID)
	}

	payload := calendar.BuildEvent(p.Work, p.Release)
	lg := m.newAttemptLog(ctx, token, p, st, audit.OpCreate, "")

	var createdID string
	op := func(ctx context.Context) error {
		if err := m.limiter.Admit(ctx, p.Release.Platform); err != nil {
			return err
		}
		callCtx, cancel := m.callContext(ctx)
		defer cancel()
		eid, err := m.client.CreateEvent(callCtx, payload)
		if err != nil {
			return err
		}
		createdID = eid
		lg.eventID = eid
		return nil
	}

	if err := m.exec.Execute(ctx, op, calendar.ClassifyError, lg.observe); err != nil {
		return m.createFailure(ctx, token, p, st, lg, err)
	}
	return m.finishSynced(ctx, p, lg, createdID, false, ActionCreated)
}

// createFailure maps a terminal create error onto persisted state.
func (m *Machine) createFailure(ctx context.Context, token string, p release.Pending, st store.SyncState, lg *attemptLog, err error) Result {
	id := p.Release.ID()

	var rerr *retry.Error
	if !errors.As(err, &rerr) {
		// Cancelled before or during an attempt. The executor skipped the
		// observer for it, so the release is still pending with its retry
		// counter intact.
		return Result{ReleaseID: id, Err: err}
	}

	switch {
	case rerr.Exhausted:
		m.markFailed(ctx, id, rerr.Err.Error(), lg.retries)
		return Result{ReleaseID: id, Err: &SyncError{
			Code: ErrCodeRetryExhausted, Message: "create retries exhausted", ReleaseID: id, Err: rerr,
		}}

	case rerr.Class == retry.ClassAmbiguous:
		// Outcome unknown: the event may or may not exist. Resolve via
		// the fingerprint lookup instead of blind-retrying.
		eventID, found, lerr := m.lookup(ctx, token, p, st)
		if lerr == nil && found {
			return m.adopt(ctx, p, st, eventID)
		}
		return m.ambiguousUnresolved(ctx, p, lg, rerr, "create outcome unresolved")

	default:
		m.markFailed(ctx, id, rerr.Err.Error(), lg.retries)
		return Result{ReleaseID: id, Err: &SyncError{
			Code: ErrCodePermanent, Message: "create rejected", ReleaseID: id, Err: rerr,
		}}
	}
}

// updateEvent refreshes the existing calendar event after an upstream
// content change.
func (m *Machine) updateEvent(ctx context.Context, token string, p release.Pending, st store.SyncState) Result {
	id := p.Release.ID()
	payload := calendar.BuildEvent(p.Work, p.Release)
	lg := m.newAttemptLog(ctx, token, p, st, audit.OpUpdate, st.ExternalEventID)

	op := func(ctx context.Context) error {
		if err := m.limiter.Admit(ctx, p.Release.Platform); err != nil {
			return err
		}
		callCtx, cancel := m.callContext(ctx)
		defer cancel()
		return m.client.UpdateEvent(callCtx, st.ExternalEventID, payload)
	}

	err := m.exec.Execute(ctx, op, calendar.ClassifyError, lg.observe)
	if err == nil {
		return m.finishSynced(ctx, p, lg, st.ExternalEventID, true, ActionUpdated)
	}

	var rerr *retry.Error
	if !errors.As(err, &rerr) {
		return Result{ReleaseID: id, Err: err}
	}

	switch {
	case rerr.Exhausted:
		m.markFailed(ctx, id, rerr.Err.Error(), lg.retries)
		return Result{ReleaseID: id, Err: &SyncError{
			Code: ErrCodeRetryExhausted, Message: "update retries exhausted", ReleaseID: id, EventID: st.ExternalEventID, Err: rerr,
		}}

	case rerr.Class == retry.ClassAmbiguous:
		// PUT against a fixed event id is idempotent; leave the release
		// live and let the next cycle re-apply the update.
		return m.ambiguousUnresolved(ctx, p, lg, rerr, "update outcome unresolved")

	case calendar.IsStatus(rerr.Err, 404) || calendar.IsStatus(rerr.Err, 410):
		// The event vanished server-side (deleted out of band). Recreate
		// it rather than parking the release on a stale id.
		m.log.Warn("event id stale, recreating",
			"release", id, "event", st.ExternalEventID)
		return m.createEvent(ctx, token, p, st)

	default:
		m.markFailed(ctx, id, rerr.Err.Error(), lg.retries)
		return Result{ReleaseID: id, Err: &SyncError{
			Code: ErrCodePermanent, Message: "update rejected", ReleaseID: id, EventID: st.ExternalEventID, Err: rerr,
		}}
	}
}

// deleteEvent removes the calendar event for a cancelled release.
func (m *Machine) deleteEvent(ctx context.Context, token string, p release.Pending, st store.SyncState) Result {
	id := p.Release.ID()
	lg := m.newAttemptLog(ctx, token, p, st, audit.OpDelete, st.ExternalEventID)

	op := func(ctx context.Context) error {
		if err := m.limiter.Admit(ctx, p.Release.Platform); err != nil {
			return err
		}
		callCtx, cancel := m.callContext(ctx)
		defer cancel()
		return m.client.DeleteEvent(callCtx, st.ExternalEventID)
	}

	err := m.exec.Execute(ctx, op, calendar.ClassifyError, lg.observe)
	if err == nil {
		return m.finishDeleted(ctx, p, st)
	}

	var rerr *retry.Error
	if !errors.As(err, &rerr) {
		return Result{ReleaseID: id, Err: err}
	}

	switch {
	case rerr.Exhausted:
		m.markFailed(ctx, id, rerr.Err.Error(), lg.retries)
		return Result{ReleaseID: id, Err: &SyncError{
			Code: ErrCodeRetryExhausted, Message: "delete retries exhausted", ReleaseID: id, EventID: st.ExternalEventID, Err: rerr,
		}}

	case rerr.Class == retry.ClassAmbiguous:
		// Did the delete land? The fingerprint lookup settles it.
		_, found, lerr := m.lookup(ctx, token, p, st)
		if lerr == nil && !found {
			return m.finishDeleted(ctx, p, st)
		}
		return m.ambiguousUnresolved(ctx, p, lg, rerr, "delete outcome unresolved")

	case calendar.IsStatus(rerr.Err, 404) || calendar.IsStatus(rerr.Err, 410):
		// Already gone; the goal state is reached.
		return m.finishDeleted(ctx, p, st)

	default:
		m.markFailed(ctx, id, rerr.Err.Error(), lg.retries)
		return Result{ReleaseID: id, Err: &SyncError{
			Code: ErrCodePermanent, Message: "delete rejected", ReleaseID: id, EventID: st.ExternalEventID, Err: rerr,
		}}
	}
}

// callContext bounds one network call with the configured per-call
// deadline. Admission waits happen before this is applied.
func (m *Machine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.callTimeout)
}

// lookup is the idempotency probe: one rate-limited, audited
// find-by-fingerprint call. A miss is a successful lookup, not a failure.
func (m *Machine) lookup(ctx context.Context, token string, p release.Pending, st store.SyncState) (eventID string, found bool, err error) {
	if aerr := m.limiter.Admit(ctx, p.Release.Platform); aerr != nil {
		return "", false, aerr
	}

	fp := release.Fingerprint(p.Release)
	callCtx, cancel := m.callContext(ctx)
	defer cancel()

	start := time.Now()
	eventID, err = m.client.FindEventByFingerprint(callCtx, fp)
	dur := time.Since(start)

	rec := audit.Record{
		CycleToken: token,
		ReleaseID:  p.Release.ID(),
		WorkID:     p.Work.ID,
		Attempt:    1,
		Operation:  audit.OpLookup,
		SyncStatus: string(st.Status),
		RetryCount: st.RetryCount,
		MaxRetries: m.maxRetries,
		Duration:   dur,
		Seq:        m.clock.Next(),
		CreatedAt:  m.now(),
	}

	switch {
	case err == nil:
		rec.Outcome = audit.OutcomeSuccess
		rec.ExternalEventID = eventID
		found = true
	case errors.Is(err, calendar.ErrNotFound):
		rec.Outcome = audit.OutcomeSuccess
		err = nil
	default:
		rec.Outcome = audit.OutcomeFailure
		rec.ErrorMessage = err.Error()
	}

	if aerr := m.sink.Append(ctx, rec); aerr != nil {
		m.log.Error("audit append failed", "release", rec.ReleaseID, "error", aerr)
	}
	return eventID, found, err
}

// adopt binds an externally discovered event to the release.
func (m *Machine) adopt(ctx context.Context, p release.Pending, st store.SyncState, eventID string) Result {
	id := p.Release.ID()

	if err := m.store.AdoptExternalEvent(ctx, id, eventID, m.now()); err != nil {
		if errors.Is(err, store.ErrEventBound) {
			m.markFailed(ctx, id, err.Error(), st.RetryCount)
			return Result{ReleaseID: id, Err: &SyncError{
				Code: ErrCodeBindingConflict, Message: "adopted event already bound", ReleaseID: id, EventID: eventID, Err: err,
			}}
		}
		return Result{ReleaseID: id, Err: err}
	}

	m.log.Info("adopted existing event", "release", id, "event", eventID)
	return Result{ReleaseID: id, Action: ActionAdopted, EventID: eventID}
}

// finishSynced persists a successful create or update.
func (m *Machine) finishSynced(ctx context.Context, p release.Pending, lg *attemptLog, eventID string, updated bool, action Action) Result {
	id := p.Release.ID()

	if err := m.store.MarkSynced(ctx, id, eventID, m.now(), updated); err != nil {
		if errors.Is(err, store.ErrEventBound) {
			m.log.Error("event already bound to another release",
				"release", id, "event", eventID)
			m.markFailed(ctx, id, err.Error(), lg.retries)
			return Result{ReleaseID: id, Err: &SyncError{
				Code: ErrCodeBindingConflict, Message: "external event already bound", ReleaseID: id, EventID: eventID, Err: err,
			}}
		}
		return Result{ReleaseID: id, Err: err}
	}
	return Result{ReleaseID: id, Action: action, EventID: eventID}
}

// finishDeleted persists a confirmed delete.
func (m *Machine) finishDeleted(ctx context.Context, p release.Pending, st store.SyncState) Result {
	id := p.Release.ID()
	if err := m.store.MarkDeleted(ctx, id, m.now()); err != nil {
		return Result{ReleaseID: id, Err: err}
	}
	return Result{ReleaseID: id, Action: ActionDeleted, EventID: st.ExternalEventID}
}

// ambiguousUnresolved records an unresolved ambiguous outcome: the retry
// counter is bumped so repeated ambiguity eventually parks the release,
// and the current status is otherwise left alone for the next cycle.
func (m *Machine) ambiguousUnresolved(ctx context.Context, p release.Pending, lg *attemptLog, rerr *retry.Error, msg string) Result {
	id := p.Release.ID()

	if err := m.store.BumpRetry(ctx, id, rerr.Err.Error(), m.now()); err != nil {
		m.log.Error("bump retry failed", "release", id, "error", err)
	} else {
		lg.retries++
	}

	if lg.retries >= m.maxRetries {
		m.markFailed(ctx, id, rerr.Err.Error(), lg.retries)
		return Result{ReleaseID: id, Err: &SyncError{
			Code: ErrCodeRetryExhausted, Message: msg + ", budget exhausted", ReleaseID: id, Err: rerr,
		}}
	}
	return Result{ReleaseID: id, Err: &SyncError{
		Code: ErrCodeAmbiguous, Message: msg, ReleaseID: id, Err: rerr,
	}}
}

// markFailed parks the release, logging rather than failing on a store
// error: the audit trail already holds the attempt history.
func (m *Machine) markFailed(ctx context.Context, releaseID, msg string, retries int) {
	if err := m.store.MarkFailed(ctx, releaseID, msg, retries, m.now()); err != nil {
		m.log.Error("mark failed failed", "release", releaseID, "error", err)
	}
}

// attemptLog is the retry observer for one operation: each attempt becomes
// one audit record, and failed transient attempts bump the persisted retry
// counter row-by-row so a crash mid-operation never resets the budget.
type attemptLog struct {
	m       *Machine
	ctx     context.Context
	token   string
	p       release.Pending
	op      audit.Operation
	status  store.Status
	eventID string
	retries int
}

func (m *Machine) newAttemptLog(ctx context.Context, token string, p release.Pending, st store.SyncState, op audit.Operation, eventID string) *attemptLog {
	return &attemptLog{
		m:       m,
		ctx:     ctx,
		token:   token,
		p:       p,
		op:      op,
		status:  st.Status,
		eventID: eventID,
		retries: st.RetryCount,
	}
}

func (l *attemptLog) observe(a retry.Attempt) {
	now := l.m.now()
	rec := audit.Record{
		CycleToken:      l.token,
		ReleaseID:       l.p.Release.ID(),
		WorkID:          l.p.Work.ID,
		Attempt:         a.Number,
		Operation:       l.op,
		ExternalEventID: l.eventID,
		SyncStatus:      string(l.status),
		RetryCount:      l.retries,
		MaxRetries:      l.m.maxRetries,
		Duration:        a.Duration,
		Seq:             l.m.clock.Next(),
		CreatedAt:       now,
	}

	if a.Err == nil {
		rec.Outcome = audit.OutcomeSuccess
		rec.SyncedAt = &now
	} else {
		rec.Outcome = audit.OutcomeFailure
		rec.ErrorMessage = a.Err.Error()
		if a.Class == retry.ClassTransient {
			if err := l.m.store.BumpRetry(l.ctx, rec.ReleaseID, rec.ErrorMessage, now); err != nil {
				l.m.log.Error("bump retry failed", "release", rec.ReleaseID, "error", err)
			} else {
				l.retries++
				rec.RetryCount = l.retries
			}
		}
	}

	if err := l.m.sink.Append(l.ctx, rec); err != nil {
		l.m.log.Error("audit append failed", "release", rec.ReleaseID, "error", err)
	}
}
