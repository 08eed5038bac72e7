// Package web serves the operator surface: a websocket carrying commands in
// and events out, the static frontend, run history and metrics.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"mailpilot/internal/config"
	"mailpilot/internal/dispatch"
	"mailpilot/internal/events"
	"mailpilot/internal/ledger"
	"mailpilot/internal/workflow"
)

// Command is an inbound websocket frame.
type Command struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type generateRequest struct {
	Intent string `json:"intent"`
}

// History answers run-history requests. *ledger.Ledger satisfies it.
type History interface {
	Runs(limit int) []ledger.RunSummary
	FailedSteps(ctx context.Context) ([]ledger.StepFailure, error)
}

// Server hosts the HTTP surface.
type Server struct {
	cfg        config.HTTPConfig
	dispatcher *dispatch.Dispatcher
	hub        *events.Hub
	history    History
	metrics    http.Handler

	srv *http.Server
}

// Options carries the optional collaborators of a Server.
type Options struct {
	History History
	Metrics http.Handler
}

// New wires hub frames to dispatcher commands.
func New(cfg config.HTTPConfig, d *dispatch.Dispatcher, hub *events.Hub, opts Options) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		hub:        hub,
		history:    opts.History,
		metrics:    opts.Metrics,
	}
	hub.SetHandler(s.HandleFrame)
	return s
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.hub)
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/runs", s.handleRuns)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	if s.cfg.FrontendDir != "" {
		if info, err := os.Stat(s.cfg.FrontendDir); err == nil && info.IsDir() {
			mux.Handle("/", http.FileServer(http.Dir(s.cfg.FrontendDir)))
		} else {
			log.Printf("web: frontend dir %s not found, static files disabled", s.cfg.FrontendDir)
		}
	}
	return mux
}

// HandleFrame decodes one websocket frame and dispatches the command.
func (s *Server) HandleFrame(raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		log.Printf("web: bad frame: %v", err)
		s.hub.Emit(events.Text("", "❌ Could not read command."))
		return
	}

	switch cmd.Event {
	case "send_email":
		var msg workflow.Message
		if len(cmd.Data) > 0 {
			if err := json.Unmarshal(cmd.Data, &msg); err != nil {
				log.Printf("web: bad send_email payload: %v", err)
			}
		}
		log.Printf("web: received email request to=%s subject=%q", msg.Recipient, msg.Subject)
		if _, err := s.dispatcher.SendMessage(msg); err != nil {
			log.Printf("web: send_email rejected: %v", err)
		}
	case "generate_email":
		var req generateRequest
		if len(cmd.Data) > 0 {
			if err := json.Unmarshal(cmd.Data, &req); err != nil {
				log.Printf("web: bad generate_email payload: %v", err)
			}
		}
		if err := s.dispatcher.GenerateAsync(req.Intent); err != nil {
			log.Printf("web: generate_email rejected: %v", err)
		}
	default:
		log.Printf("web: unknown command %q", cmd.Event)
		s.hub.Emit(events.Text("", fmt.Sprintf("❌ Unknown command %q.", cmd.Event)))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.Clients(),
		"active":  s.dispatcher.Active(),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run ledger disabled"})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	resp := map[string]interface{}{"runs": s.history.Runs(limit)}
	failures, err := s.history.FailedSteps(r.Context())
	if err != nil && !errors.Is(err, ledger.ErrNotReady) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	resp["failed_steps"] = failures
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: encode response: %v", err)
	}
}

// Serve listens on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("web: listening on http://%s", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
