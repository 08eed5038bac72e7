package mcp

import (
	"context"

	"mailpilot/internal/browser"
	"mailpilot/internal/dispatch"
)

type ListSessionsTool struct {
	sessions   *browser.Manager
	dispatcher *dispatch.Dispatcher
}

func (t *ListSessionsTool) Name() string { return "list-sessions" }
func (t *ListSessionsTool) Description() string {
	return `List browser sessions currently owned by in-flight runs, with lifetime counters.

opened == closed whenever no run is in flight.

Returns: {sessions: [{id, created_at}], stats: {opened, closed, active}, active_runs}.`
}
func (t *ListSessionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListSessionsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"sessions":    t.sessions.List(),
		"stats":       t.sessions.Stats(),
		"active_runs": t.dispatcher.Active(),
	}, nil
}
