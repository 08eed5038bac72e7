package mcp

import (
	"context"
	"fmt"

	"mailpilot/internal/ledger"
)

type RunHistoryTool struct {
	ledger *ledger.Ledger
}

func (t *RunHistoryTool) Name() string { return "run-history" }
func (t *RunHistoryTool) Description() string {
	return `List recent send-email runs, newest first, with the steps that failed.

Pass run_id to get a single run's status narrative instead.

Returns: {runs: [{run_id, ok, state, reason, confirmed, failed_step}], failed_steps,
unconfirmed} or {run_id, narrative} when run_id is set.`
}
func (t *RunHistoryTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit":  map[string]interface{}{"type": "integer", "description": "Maximum runs to return (default 10, max 100)"},
			"run_id": map[string]interface{}{"type": "string", "description": "Return only this run's narrative"},
			"include_failures": map[string]interface{}{
				"type":        "boolean",
				"description": "Include failed_steps and unconfirmed (default true)",
			},
		},
	}
}
func (t *RunHistoryTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if runID := getStringArg(args, "run_id"); runID != "" {
		return map[string]interface{}{
			"run_id":    runID,
			"narrative": t.ledger.Narrative(runID),
		}, nil
	}

	limit := clamp(getIntArg(args, "limit", 10), 1, 100)
	out := map[string]interface{}{"runs": t.ledger.Runs(limit)}
	if !getBoolArg(args, "include_failures", true) {
		return out, nil
	}

	failures, err := t.ledger.FailedSteps(ctx)
	if err != nil {
		return nil, err
	}
	unconfirmed, err := t.ledger.UnconfirmedSends(ctx)
	if err != nil {
		return nil, err
	}
	out["failed_steps"] = failures
	out["unconfirmed"] = unconfirmed
	return out, nil
}

type QueryLedgerTool struct {
	ledger *ledger.Ledger
}

func (t *QueryLedgerTool) Name() string { return "query-ledger" }
func (t *QueryLedgerTool) Description() string {
	return `Run a Mangle query against the run ledger.

Base predicates: step_outcome(RunID, Seq, Step, Status, Reason),
step_mechanism(RunID, Step, Candidate, Mechanism),
run_result(RunID, OK, State, Reason, Confirmed, FailedStep),
status_line(RunID, Message), artifact(RunID, Name).
Derived: failed_step(RunID, Step, Reason), degraded_step(RunID, Step, Reason),
unconfirmed_send(RunID), failing_step(Step, Reason), fallback_used(RunID, Step, Mechanism).

Example: failed_step(R, S, "ElementNotFound").`
}
func (t *QueryLedgerTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Single-atom Mangle query ending with a period"},
		},
		"required": []string{"query"},
	}
}
func (t *QueryLedgerTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := getStringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	results, err := t.ledger.Engine().Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"results": results, "count": len(results)}, nil
}

type EvaluateLedgerTool struct {
	ledger *ledger.Ledger
}

func (t *EvaluateLedgerTool) Name() string { return "evaluate-ledger" }
func (t *EvaluateLedgerTool) Description() string {
	return `Evaluate the ledger program and return every fact of one predicate.

Returns: {predicate, facts: [{predicate, args}]}.`
}
func (t *EvaluateLedgerTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{"type": "string", "description": "Predicate name, e.g. fallback_used"},
		},
		"required": []string{"predicate"},
	}
}
func (t *EvaluateLedgerTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}
	facts, err := t.ledger.Engine().Evaluate(ctx, predicate)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"predicate": predicate, "facts": facts}, nil
}

type SubmitRuleTool struct {
	ledger *ledger.Ledger
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Add a Mangle rule (with its Decl) to the ledger program.

Example:
  Decl refocused(RunID).
  refocused(RunID) :- step_mechanism(RunID, "fill_recipient", _, "refocus").`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{"type": "string", "description": "Mangle source"},
		},
		"required": []string{"rule"},
	}
}
func (t *SubmitRuleTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	rule := getStringArg(args, "rule")
	if rule == "" {
		return nil, fmt.Errorf("rule is required")
	}
	if err := t.ledger.Engine().AddRule(rule); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true}, nil
}
