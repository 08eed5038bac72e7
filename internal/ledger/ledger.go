// Package ledger keeps a queryable history of workflow runs as Datalog facts:
// one step_outcome per step, one run_result per run, plus derived views such
// as failed_step and unconfirmed_send.
package ledger

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"mailpilot/internal/config"
	"mailpilot/internal/events"
	"mailpilot/internal/workflow"
)

//go:embed schema.mg
var schema string

// RunSummary is the ledger's view of one finished run.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	OK         bool      `json:"ok"`
	State      string    `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	Confirmed  bool      `json:"confirmed"`
	FailedStep string    `json:"failed_step,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// StepFailure is one derived failed_step fact.
type StepFailure struct {
	RunID  string `json:"run_id"`
	Step   string `json:"step"`
	Reason string `json:"reason"`
}

// Ledger records runs. It implements workflow.Observer and events.Sink.
type Ledger struct {
	engine *Engine

	mu  sync.Mutex
	seq map[string]int
}

// New builds a ledger with the embedded schema.
func New(cfg config.LedgerConfig) (*Ledger, error) {
	e, err := NewEngine(cfg.Enable, cfg.FactBufferLimit, schema)
	if err != nil {
		return nil, fmt.Errorf("ledger schema: %w", err)
	}
	return &Ledger{engine: e, seq: make(map[string]int)}, nil
}

// Engine exposes the underlying fact engine for ad-hoc queries.
func (l *Ledger) Engine() *Engine { return l.engine }

// RecordOutcome adds the facts for one step outcome.
func (l *Ledger) RecordOutcome(ctx context.Context, runID string, o workflow.Outcome) error {
	l.mu.Lock()
	l.seq[runID]++
	seq := l.seq[runID]
	l.mu.Unlock()

	now := time.Now()
	facts := []Fact{{
		Predicate: "step_outcome",
		Args:      []interface{}{runID, seq, o.Step, string(o.Status), string(o.Reason)},
		Timestamp: now,
	}}
	if o.Mechanism != "" {
		facts = append(facts, Fact{
			Predicate: "step_mechanism",
			Args:      []interface{}{runID, o.Step, o.Candidate, o.Mechanism},
			Timestamp: now,
		})
	}
	return l.engine.AddFacts(ctx, facts)
}

// RecordResult adds the run_result fact for a finished run.
func (l *Ledger) RecordResult(ctx context.Context, r workflow.Result) error {
	l.mu.Lock()
	delete(l.seq, r.RunID)
	l.mu.Unlock()

	return l.engine.AddFacts(ctx, []Fact{{
		Predicate: "run_result",
		Args:      []interface{}{r.RunID, r.OK, string(r.State), string(r.Reason), r.Confirmed, r.FailedStep},
		Timestamp: time.Now(),
	}})
}

// StepFinished implements workflow.Observer.
func (l *Ledger) StepFinished(runID string, o workflow.Outcome) {
	if err := l.RecordOutcome(context.Background(), runID, o); err != nil {
		log.Printf("ledger: record outcome %s/%s: %v", runID, o.Step, err)
	}
}

// RunFinished implements workflow.Observer.
func (l *Ledger) RunFinished(r workflow.Result) {
	if err := l.RecordResult(context.Background(), r); err != nil {
		log.Printf("ledger: record result %s: %v", r.RunID, err)
	}
}

// Emit implements events.Sink, keeping status lines and artifact names.
func (l *Ledger) Emit(e events.Event) {
	var f Fact
	switch e.Kind {
	case events.KindText:
		f = Fact{Predicate: "status_line", Args: []interface{}{e.RunID, e.Message}}
	case events.KindImage:
		f = Fact{Predicate: "artifact", Args: []interface{}{e.RunID, filepath.Base(e.Artifact)}}
	default:
		return
	}
	if e.RunID == "" {
		return
	}
	f.Timestamp = e.Time
	if err := l.engine.AddFacts(context.Background(), []Fact{f}); err != nil {
		log.Printf("ledger: record %s: %v", f.Predicate, err)
	}
}

// Runs returns up to limit finished runs, newest first. limit <= 0 means all.
func (l *Ledger) Runs(limit int) []RunSummary {
	facts := l.engine.FactsByPredicate("run_result")
	out := make([]RunSummary, 0, len(facts))
	for i := len(facts) - 1; i >= 0; i-- {
		f := facts[i]
		if len(f.Args) < 6 {
			continue
		}
		out = append(out, RunSummary{
			RunID:      fmt.Sprint(f.Args[0]),
			OK:         f.Args[1] == true,
			State:      fmt.Sprint(f.Args[2]),
			Reason:     fmt.Sprint(f.Args[3]),
			Confirmed:  f.Args[4] == true,
			FailedStep: fmt.Sprint(f.Args[5]),
			FinishedAt: f.Timestamp,
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// FailedSteps evaluates the failed_step view, sorted by run then step.
func (l *Ledger) FailedSteps(ctx context.Context) ([]StepFailure, error) {
	facts, err := l.engine.Evaluate(ctx, "failed_step")
	if err != nil {
		return nil, err
	}
	out := make([]StepFailure, 0, len(facts))
	for _, f := range facts {
		out = append(out, StepFailure{
			RunID:  fmt.Sprint(f.Args[0]),
			Step:   fmt.Sprint(f.Args[1]),
			Reason: fmt.Sprint(f.Args[2]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunID != out[j].RunID {
			return out[i].RunID < out[j].RunID
		}
		return out[i].Step < out[j].Step
	})
	return out, nil
}

// UnconfirmedSends lists runs reported as sent without a confirmation marker.
func (l *Ledger) UnconfirmedSends(ctx context.Context) ([]string, error) {
	facts, err := l.engine.Evaluate(ctx, "unconfirmed_send")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		out = append(out, fmt.Sprint(f.Args[0]))
	}
	sort.Strings(out)
	return out, nil
}

// Narrative returns the status lines recorded for runID in order.
func (l *Ledger) Narrative(runID string) []string {
	var out []string
	for _, f := range l.engine.FactsByPredicate("status_line") {
		if len(f.Args) == 2 && f.Args[0] == runID {
			out = append(out, fmt.Sprint(f.Args[1]))
		}
	}
	return out
}

var (
	_ workflow.Observer = (*Ledger)(nil)
	_ events.Sink       = (*Ledger)(nil)
)
