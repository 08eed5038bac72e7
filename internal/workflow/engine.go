// Package workflow drives the login and compose/send phases against the mail UI
// as a linear state machine. Each step yields exactly one Outcome; the first
// failed Outcome ends the run.
package workflow

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"mailpilot/internal/action"
	"mailpilot/internal/config"
	"mailpilot/internal/diagnostics"
	"mailpilot/internal/dom"
	"mailpilot/internal/events"
	"mailpilot/internal/locator"

	"github.com/google/uuid"
)

// Opener creates one exclusive session per run.
type Opener interface {
	Open(ctx context.Context) (dom.Session, error)
}

// Options configures an Engine.
type Options struct {
	Account config.AccountConfig
	Timings config.Timings
	// ScreenshotDir is the parent of the per-run artifact directories.
	ScreenshotDir string
	// Catalog overrides DefaultCatalog(Timings) when non-nil.
	Catalog   *Catalog
	Observers []Observer
}

// Engine runs workflows. It holds no per-run state and is safe for concurrent use.
type Engine struct {
	opener  Opener
	sink    events.Sink
	opts    Options
	catalog Catalog
}

// New builds an engine. sink receives every event of every run.
func New(opener Opener, sink events.Sink, opts Options) *Engine {
	if sink == nil {
		sink = events.Discard
	}
	catalog := DefaultCatalog(opts.Timings)
	if opts.Catalog != nil {
		catalog = *opts.Catalog
	}
	return &Engine{opener: opener, sink: sink, opts: opts, catalog: catalog}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// Run executes one workflow under a fresh run id.
func (e *Engine) Run(ctx context.Context, msg Message) Result {
	return e.RunWithID(ctx, NewRunID(), msg)
}

// RunWithID executes one workflow. The session is opened here and closed
// exactly once before returning, whatever happens in between.
func (e *Engine) RunWithID(ctx context.Context, runID string, msg Message) (res Result) {
	r := &run{
		id:      runID,
		engine:  e,
		msg:     msg,
		catalog: e.catalog,
		t:       e.opts.Timings,
		state:   StateStarted,
	}
	r.rec = diagnostics.NewRecorder(runID, nil, e.sink, r.recorderOptions())

	defer func() {
		res = r.result()
		for _, o := range e.opts.Observers {
			o.RunFinished(res)
		}
	}()

	if err := msg.Validate(); err != nil {
		r.finish(Step{Name: "validate"}, Outcome{Status: StatusFailed, Reason: ReasonInvalidCommand, Detail: err.Error(), Err: err})
		return
	}
	if !e.opts.Account.HasCredentials() {
		r.finish(Step{Name: "validate"}, Outcome{Status: StatusFailed, Reason: ReasonInvalidCommand, Detail: ErrMissingCredentials.Error(), Err: ErrMissingCredentials})
		return
	}

	var sess dom.Session
	defer func() {
		if p := recover(); p != nil {
			r.recoverFault(ctx, p)
		}
		if sess != nil {
			r.closeSession(sess)
		}
	}()

	r.setCurrent("open_session")
	r.status("🧠 Launching browser...")
	var err error
	sess, err = e.opener.Open(ctx)
	if err != nil {
		r.status("[❌] Could not start browser: %v", err)
		r.finish(Step{Name: "open_session"}, Outcome{Status: StatusFailed, Reason: ReasonSessionFailed, Detail: err.Error(), Err: err})
		return
	}

	r.page = sess.Page()
	r.rec = diagnostics.NewRecorder(runID, r.page, e.sink, r.recorderOptions())
	r.resolver = locator.NewResolver(e.opts.Timings.FieldTimeout)
	r.resolver.Interval = e.opts.Timings.PollInterval
	r.resolver.OnAttempt = func(element string, c dom.Candidate) {
		log.Printf("run %s: resolving %s via %s", runID, element, c)
	}
	r.exec = action.New(action.Pacing{
		Settle: e.opts.Timings.ActionSettle,
		KeyMin: e.opts.Timings.KeyDelayMin,
		KeyMax: e.opts.Timings.KeyDelayMax,
	})

	if !r.login(ctx) {
		r.status("❌ Login failed.")
		return
	}
	r.status("✅ Logged in.")
	if !r.compose(ctx) {
		r.status("❌ Failed to send email.")
		return
	}
	r.status("✅ Email sent successfully!")
	return
}

// run is the state of one workflow execution.
type run struct {
	id      string
	engine  *Engine
	msg     Message
	catalog Catalog
	t       config.Timings

	page     dom.Page
	rec      *diagnostics.Recorder
	resolver *locator.Resolver
	exec     *action.Executor

	mu        sync.Mutex
	state     State
	current   string
	outcomes  []Outcome
	failed    *Outcome
	failStep  string
	confirmed bool

	// body is kept for the send shortcut.
	body dom.Element
}

// recoverFault turns a recovered panic into the run's failure. A second panic
// while recording it is logged and dropped so the session still gets closed.
func (r *run) recoverFault(ctx context.Context, p interface{}) {
	log.Printf("run %s: unexpected fault: %v\n%s", r.id, p, debug.Stack())
	defer func() {
		if p2 := recover(); p2 != nil {
			log.Printf("run %s: fault while recording fault: %v", r.id, p2)
		}
	}()

	r.mu.Lock()
	current := r.current
	r.mu.Unlock()

	err := fmt.Errorf("unexpected fault: %v", p)
	r.status("[❌] Unexpected error: %v", p)
	r.fail(context.WithoutCancel(ctx), Step{Name: current, FailureTag: "error_unexpected_fault"},
		Outcome{Status: StatusFailed, Reason: ReasonUnexpectedFault, Detail: err.Error(), Err: err})
}

func (r *run) closeSession(sess dom.Session) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("run %s: close session panicked: %v", r.id, p)
		}
	}()
	if err := sess.Close(); err != nil {
		log.Printf("run %s: close session: %v", r.id, err)
	}
	r.status("🛑 Browser closed.")
}

func (r *run) setCurrent(step string) {
	r.mu.Lock()
	r.current = step
	r.mu.Unlock()
}

func (r *run) recorderOptions() diagnostics.Options {
	return diagnostics.Options{
		Dir:       filepath.Join(r.engine.opts.ScreenshotDir, r.id),
		SettleMin: r.t.ScreenshotSettleMin,
		SettleMax: r.t.ScreenshotSettleMax,
	}
}

func (r *run) status(format string, args ...interface{}) {
	r.rec.Status(format, args...)
}

// do runs one step: it announces it, runs fn, records the outcome and, for a
// failed outcome, captures the single failure screenshot. It reports whether
// the run may continue.
func (r *run) do(ctx context.Context, step Step, fn func(ctx context.Context) Outcome) bool {
	r.setCurrent(step.Name)

	if err := ctx.Err(); err != nil {
		return r.fail(context.WithoutCancel(ctx), step, failed(err))
	}
	if step.Announce != "" {
		r.status("[🔄] %s", step.Announce)
	}

	start := time.Now()
	o := fn(ctx)
	o.Duration = time.Since(start)

	if !o.OK() {
		return r.fail(context.WithoutCancel(ctx), step, o)
	}
	if step.Tag != "" {
		r.rec.Record(ctx, step.Tag)
	}
	r.finish(step, o)
	return true
}

func (r *run) fail(ctx context.Context, step Step, o Outcome) bool {
	if o.Detail != "" {
		r.status("[❌] %s failed: %s", stepLabel(step.Name), o.Detail)
	}
	tag := step.FailureTag
	if tag == "" {
		tag = step.Name
	}
	r.rec.Failure(ctx, tag)
	r.finish(step, o)
	return false
}

// finish appends the outcome and moves the state machine.
func (r *run) finish(step Step, o Outcome) {
	o.Step = step.Name
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	switch {
	case o.Status == StatusFailed:
		if r.failed == nil {
			r.failed = &o
			r.failStep = step.Name
		}
		if step.Fails != "" {
			r.state = step.Fails
		}
	case step.Reaches != "":
		r.state = step.Reaches
	}
	r.mu.Unlock()

	for _, obs := range r.engine.opts.Observers {
		obs.StepFinished(r.id, o)
	}
}

func (r *run) result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := Result{
		RunID:     r.id,
		State:     r.state,
		Confirmed: r.confirmed,
		Outcomes:  append([]Outcome(nil), r.outcomes...),
		Artifacts: r.rec.Artifacts(),
	}
	if r.failed != nil {
		res.Reason = r.failed.Reason
		res.FailedStep = r.failStep
		return res
	}
	res.OK = r.state == StateSent
	if res.OK && !r.confirmed {
		res.Reason = ReasonConfirmationTimeout
	}
	return res
}

// resolve finds a logical element and reports which candidate matched.
func (r *run) resolve(ctx context.Context, el locator.Element) (dom.Element, Outcome, error) {
	handle, cand, err := r.resolver.Resolve(ctx, r.page, el)
	if err != nil {
		r.status("[❌] %s not found with any selector", capitalize(el.Name))
		return nil, failed(err), err
	}
	r.status("[✓] %s found with selector: %s", capitalize(el.Name), cand)
	return handle, Outcome{Candidate: cand.String()}, nil
}

// click resolves el and clicks it through the fallback chain.
func (r *run) click(ctx context.Context, el locator.Element) Outcome {
	handle, o, err := r.resolve(ctx, el)
	if err != nil {
		return o
	}
	mech, err := r.exec.Click(ctx, r.page, handle, nil)
	if err != nil {
		return failed(err)
	}
	o.Status, o.Mechanism = StatusSucceeded, mech
	return o
}

// fill resolves el, clears it and types text.
func (r *run) fill(ctx context.Context, el locator.Element, text string) (dom.Element, Outcome) {
	handle, o, err := r.resolve(ctx, el)
	if err != nil {
		return nil, o
	}
	mech, err := r.exec.Type(ctx, r.page, handle, text)
	if err != nil {
		return handle, failed(err)
	}
	o.Status, o.Mechanism = StatusSucceeded, mech
	return handle, o
}

// awaitAny polls until the URL contains urlPattern (when set) or any marker
// is present, or until timeout elapses.
func (r *run) awaitAny(ctx context.Context, timeout time.Duration, urlPattern string, markers []dom.Candidate) error {
	interval := r.t.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		if urlPattern != "" {
			if u, err := r.page.URL(ctx); err == nil && strings.Contains(u, urlPattern) {
				return nil
			}
		}
		for _, m := range markers {
			if _, err := r.page.Find(ctx, m); err == nil {
				return nil
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrConfirmationTimeout
		}
		if remaining < interval {
			interval = remaining
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func (r *run) pause(ctx context.Context, lo, hi time.Duration) error {
	d := lo
	if hi > lo {
		d = lo + time.Duration(rand.Int63n(int64(hi-lo)+1))
	}
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func stepLabel(name string) string {
	return capitalize(strings.ReplaceAll(name, "_", " "))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
