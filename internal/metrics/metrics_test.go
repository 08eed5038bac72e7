package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mailpilot/internal/events"
	"mailpilot/internal/workflow"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunAndStepCounters(t *testing.T) {
	m := New()

	m.StepFinished("r", workflow.Outcome{Step: "send", Status: workflow.StatusSucceeded, Mechanism: "shortcut", Duration: time.Second})
	m.StepFinished("r", workflow.Outcome{Step: "confirm_send", Status: workflow.StatusDegraded})
	m.RunFinished(workflow.Result{OK: true, Reason: workflow.ReasonConfirmationTimeout})
	m.RunFinished(workflow.Result{OK: true, Confirmed: true})
	m.RunFinished(workflow.Result{Reason: workflow.ReasonElementNotFound})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"send succeeded", testutil.ToFloat64(m.Steps.WithLabelValues("send", "succeeded")), 1},
		{"confirm degraded", testutil.ToFloat64(m.Steps.WithLabelValues("confirm_send", "degraded")), 1},
		{"shortcut fallback", testutil.ToFloat64(m.Fallbacks.WithLabelValues("send", "shortcut")), 1},
		{"unconfirmed", testutil.ToFloat64(m.Runs.WithLabelValues("sent_unconfirmed", "ConfirmationTimeout")), 1},
		{"confirmed", testutil.ToFloat64(m.Runs.WithLabelValues("sent", "")), 1},
		{"failed", testutil.ToFloat64(m.Runs.WithLabelValues("failed", "ElementNotFound")), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestSessionGauge(t *testing.T) {
	m := New()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsOpened); got != 2 {
		t.Errorf("opened = %v, want 2", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Command("send_email", "accepted")
	m.Generation(false)
	m.Emit(events.Text("r", "hello"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`mailpilot_commands_total{command="send_email",disposition="accepted"} 1`,
		`mailpilot_generations_total{result="degraded"} 1`,
		`mailpilot_events_total{kind="text"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
