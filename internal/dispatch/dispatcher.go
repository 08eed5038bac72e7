// Package dispatch is the hosting layer between inbound commands and the
// workflow engine. It validates commands, rejects bad ones before any session
// is opened and runs every accepted command on its own goroutine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"mailpilot/internal/diagnostics"
	"mailpilot/internal/events"
	"mailpilot/internal/generator"
	"mailpilot/internal/workflow"
)

var (
	// ErrEmptyIntent rejects a generate command without an intent.
	ErrEmptyIntent = errors.New("intent is required")
	// ErrClosed is returned once the dispatcher stops accepting commands.
	ErrClosed = errors.New("dispatcher is closed")
)

// Runner executes one workflow. *workflow.Engine satisfies it.
type Runner interface {
	RunWithID(ctx context.Context, runID string, msg workflow.Message) workflow.Result
}

// Generator drafts content. *generator.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, intent string) events.Draft
}

// Counter observes command dispositions. *metrics.Metrics satisfies it.
type Counter interface {
	Command(kind, disposition string)
	Generation(ok bool)
}

// Options configures a Dispatcher. Every field is optional except Sink.
type Options struct {
	Sink      events.Sink
	Generator Generator
	Tracer    *diagnostics.Tracer
	Counter   Counter
}

// Dispatcher routes commands to the engine and events to their destinations.
// It implements events.Sink so the engine can emit through it, which lets
// each run's events also land in that run's trace.
type Dispatcher struct {
	runner Runner
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	traces map[string]*diagnostics.Trace
}

// New returns a dispatcher whose background runs live until Close.
func New(opts Options) *Dispatcher {
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		traces: make(map[string]*diagnostics.Trace),
	}
}

// SetRunner installs the engine. Call before the first command.
func (d *Dispatcher) SetRunner(r Runner) {
	d.runner = r
}

// Emit implements events.Sink.
func (d *Dispatcher) Emit(e events.Event) {
	d.opts.Sink.Emit(e)
	if e.RunID == "" {
		return
	}
	d.mu.RLock()
	tr := d.traces[e.RunID]
	d.mu.RUnlock()
	if tr != nil {
		tr.Emit(e)
	}
}

// SendMessage validates msg and starts its workflow in the background. It
// returns the run id, or the rejection error.
func (d *Dispatcher) SendMessage(msg workflow.Message) (string, error) {
	if err := d.accept("send_email", msg); err != nil {
		return "", err
	}
	runID := d.begin(msg)
	if err := d.spawn(runID, func(ctx context.Context) { d.execute(ctx, runID, msg) }); err != nil {
		d.endTrace(runID)
		return "", err
	}
	return runID, nil
}

// Send validates msg and runs its workflow to completion under ctx.
func (d *Dispatcher) Send(ctx context.Context, msg workflow.Message) (workflow.Result, error) {
	if err := d.accept("send_email", msg); err != nil {
		return workflow.Result{}, err
	}
	runID := d.begin(msg)
	return d.execute(ctx, runID, msg), nil
}

func (d *Dispatcher) accept(kind string, msg workflow.Message) error {
	if d.isClosed() {
		d.count(kind, "rejected")
		return ErrClosed
	}
	if err := msg.Validate(); err != nil {
		d.count(kind, "rejected")
		d.reject("❌ Missing required fields: to, subject, or body.", workflow.ReasonInvalidCommand)
		return err
	}
	if d.runner == nil {
		d.count(kind, "rejected")
		return errors.New("no workflow runner configured")
	}
	d.count(kind, "accepted")
	return nil
}

// begin assigns a run id, opens its trace and announces the run.
func (d *Dispatcher) begin(msg workflow.Message) string {
	runID := workflow.NewRunID()
	if d.opts.Tracer != nil {
		tr, err := d.opts.Tracer.Open(runID)
		if err != nil {
			log.Printf("dispatch: open trace for %s: %v", runID, err)
		} else {
			d.mu.Lock()
			d.traces[runID] = tr
			d.mu.Unlock()
		}
	}
	d.Emit(events.Text(runID, fmt.Sprintf("📨 Preparing to send email to %s...", msg.Recipient)))
	return runID
}

func (d *Dispatcher) endTrace(runID string) {
	d.mu.Lock()
	tr := d.traces[runID]
	delete(d.traces, runID)
	d.mu.Unlock()
	if tr == nil {
		return
	}
	if err := tr.Close(); err != nil {
		log.Printf("dispatch: close trace for %s: %v", runID, err)
	}
}

func (d *Dispatcher) execute(ctx context.Context, runID string, msg workflow.Message) workflow.Result {
	defer d.endTrace(runID)

	res := d.runner.RunWithID(ctx, runID, msg)
	d.Emit(events.Done(runID, res.OK, string(res.Reason), summary(res)))
	log.Printf("dispatch: run %s finished ok=%t state=%s reason=%s", runID, res.OK, res.State, res.Reason)
	return res
}

func summary(res workflow.Result) string {
	switch {
	case res.OK && res.Confirmed:
		return "Email sent successfully!"
	case res.OK:
		return "Email likely sent (no confirmation toast found)"
	case res.FailedStep != "":
		return fmt.Sprintf("Failed to send email: %s at %s", res.Reason, res.FailedStep)
	default:
		return fmt.Sprintf("Failed to send email: %s", res.Reason)
	}
}

// GenerateContent drafts content for intent and emits it as a result event.
// An empty intent is rejected without calling the generator.
func (d *Dispatcher) GenerateContent(ctx context.Context, intent string) (events.Draft, error) {
	intent = strings.TrimSpace(intent)
	if intent == "" {
		d.count("generate_email", "rejected")
		d.reject("❌ Please provide a request like 'send a leave email'.", workflow.ReasonInvalidCommand)
		return events.Draft{}, ErrEmptyIntent
	}
	if d.opts.Generator == nil {
		d.count("generate_email", "rejected")
		return events.Draft{}, errors.New("no content generator configured")
	}
	d.count("generate_email", "accepted")

	d.Emit(events.Text("", fmt.Sprintf("🧠 Generating email for: '%s'...", intent)))
	draft := d.opts.Generator.Generate(ctx, intent)
	ok := !generator.IsDegraded(draft)
	if d.opts.Counter != nil {
		d.opts.Counter.Generation(ok)
	}
	d.Emit(events.Result(draft))
	return draft, nil
}

// GenerateAsync validates intent and generates in the background.
func (d *Dispatcher) GenerateAsync(intent string) error {
	if strings.TrimSpace(intent) == "" {
		_, err := d.GenerateContent(d.ctx, intent)
		return err
	}
	return d.spawn("", func(ctx context.Context) {
		if _, err := d.GenerateContent(ctx, intent); err != nil {
			log.Printf("dispatch: generate: %v", err)
		}
	})
}

func (d *Dispatcher) reject(msg string, reason workflow.Reason) {
	d.Emit(events.Text("", msg))
	d.Emit(events.Done("", false, string(reason), msg))
}

// spawn runs fn on its own goroutine. A panic that gets this far ends only
// that command: it is logged and reported as a failed done event.
func (d *Dispatcher) spawn(runID string, fn func(ctx context.Context)) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				log.Printf("dispatch: command %s panicked: %v\n%s", runID, p, debug.Stack())
				msg := fmt.Sprintf("❌ Unexpected error: %v", p)
				d.Emit(events.Text(runID, msg))
				d.Emit(events.Done(runID, false, string(workflow.ReasonUnexpectedFault), msg))
			}
		}()
		fn(d.ctx)
	}()
	return nil
}

func (d *Dispatcher) count(kind, disposition string) {
	if d.opts.Counter != nil {
		d.opts.Counter.Command(kind, disposition)
	}
}

func (d *Dispatcher) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// Active lists runs whose trace is open.
func (d *Dispatcher) Active() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.traces))
	for id := range d.traces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until every background command has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting commands, cancels background runs and waits for them.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

var _ events.Sink = (*Dispatcher)(nil)
