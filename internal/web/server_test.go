package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mailpilot/internal/config"
	"mailpilot/internal/dispatch"
	"mailpilot/internal/events"
	"mailpilot/internal/ledger"

	"github.com/gorilla/websocket"
)

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, intent string) events.Draft {
	return events.Draft{Subject: "About " + intent, Body: "Body"}
}

type stubHistory struct{}

func (stubHistory) Runs(limit int) []ledger.RunSummary {
	return []ledger.RunSummary{{RunID: "run-1", State: "LoginFailed", FailedStep: "enter_credential"}}
}

func (stubHistory) FailedSteps(ctx context.Context) ([]ledger.StepFailure, error) {
	return []ledger.StepFailure{{RunID: "run-1", Step: "enter_credential", Reason: "ElementNotFound"}}, nil
}

func newTestServer(t *testing.T, frontend string) (*httptest.Server, *dispatch.Dispatcher) {
	t.Helper()
	hub := events.NewHub(nil)
	d := dispatch.New(dispatch.Options{Sink: hub, Generator: stubGenerator{}})
	t.Cleanup(d.Close)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "mailpilot_runs_total 0\n")
	})
	s := New(config.HTTPConfig{FrontendDir: frontend}, d, hub, Options{History: stubHistory{}, Metrics: metrics})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv, d
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) events.WireMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg events.WireMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return msg
}

func TestSendEmailRejectedOverWebsocket(t *testing.T) {
	srv, _ := newTestServer(t, "")
	conn := dial(t, srv)

	if err := conn.WriteJSON(map[string]interface{}{
		"event": "send_email",
		"data":  map[string]string{"to": "a@example.test"},
	}); err != nil {
		t.Fatal(err)
	}

	text := readFrame(t, conn)
	if text.Event != "text" || !strings.Contains(text.Data.(string), "Missing required fields") {
		t.Errorf("unexpected frame %+v", text)
	}
	done := readFrame(t, conn)
	if done.Event != "done" {
		t.Errorf("expected done frame, got %+v", done)
	}
}

func TestGenerateEmailOverWebsocket(t *testing.T) {
	srv, _ := newTestServer(t, "")
	conn := dial(t, srv)

	if err := conn.WriteJSON(map[string]interface{}{
		"event": "generate_email",
		"data":  map[string]string{"intent": "a leave email"},
	}); err != nil {
		t.Fatal(err)
	}

	status := readFrame(t, conn)
	if status.Event != "text" || !strings.Contains(status.Data.(string), "Generating email for: 'a leave email'") {
		t.Errorf("unexpected status frame %+v", status)
	}
	result := readFrame(t, conn)
	if result.Event != "generated_email" {
		t.Fatalf("expected generated_email frame, got %+v", result)
	}
	draft, _ := result.Data.(map[string]interface{})
	if draft["subject"] != "About a leave email" {
		t.Errorf("unexpected draft %+v", draft)
	}
}

func TestUnknownCommand(t *testing.T) {
	srv, _ := newTestServer(t, "")
	conn := dial(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"reboot"}`)); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if !strings.Contains(frame.Data.(string), "Unknown command") {
		t.Errorf("unexpected frame %+v", frame)
	}
}

func TestStaticRoutes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>mailpilot</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv, _ := newTestServer(t, dir)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "<h1>mailpilot</h1>"},
		{"/favicon.ico", http.StatusNoContent, ""},
		{"/metrics", http.StatusOK, "mailpilot_runs_total"},
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/api/runs?limit=x", http.StatusBadRequest, "invalid limit"},
		{"/api/runs", http.StatusOK, "ElementNotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if !strings.Contains(string(body), tt.body) {
				t.Errorf("body %q missing %q", body, tt.body)
			}
		})
	}
}

func TestRunsResponseShape(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp, err := http.Get(srv.URL + "/api/runs")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Runs        []ledger.RunSummary  `json:"runs"`
		FailedSteps []ledger.StepFailure `json:"failed_steps"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Runs) != 1 || body.Runs[0].FailedStep != "enter_credential" {
		t.Errorf("unexpected runs %+v", body.Runs)
	}
	if len(body.FailedSteps) != 1 {
		t.Errorf("unexpected failures %+v", body.FailedSteps)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	hub := events.NewHub(nil)
	d := dispatch.New(dispatch.Options{Sink: hub})
	defer d.Close()
	s := New(config.HTTPConfig{Addr: "127.0.0.1:0"}, d, hub, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}
