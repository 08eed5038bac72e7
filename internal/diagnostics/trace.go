package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"mailpilot/internal/events"
)

const (
	// MaxRotatedTraces is how many run traces are kept on disk.
	MaxRotatedTraces = 20
	TraceDir         = "data/traces"
)

// traceRecord is one line of a run trace. Image bytes are not stored; the
// artifact name points at the PNG on disk.
type traceRecord struct {
	Timestamp time.Time `json:"ts"`
	Type      string    `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Artifact  string    `json:"artifact,omitempty"`
	Bytes     int       `json:"bytes,omitempty"`
	OK        *bool     `json:"ok,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Tracer opens per-run JSONL traces and keeps the directory bounded.
type Tracer struct {
	mu       sync.Mutex
	basePath string
	keep     int
}

// NewTracer ensures basePath exists.
func NewTracer(basePath string, keep int) (*Tracer, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if keep <= 0 {
		keep = MaxRotatedTraces
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Tracer{basePath: basePath, keep: keep}, nil
}

// Open rotates old traces and starts a new one for runID.
func (t *Tracer) Open(runID string) (*Trace, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.rotate(); err != nil {
		return nil, fmt.Errorf("rotate traces: %w", err)
	}

	filename := fmt.Sprintf("trace_%s_%d.jsonl", runID, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(t.basePath, filename))
	if err != nil {
		return nil, err
	}
	return &Trace{file: f, encoder: json.NewEncoder(f)}, nil
}

// rotate keeps only the newest keep-1 traces so the next one fits.
func (t *Tracer) rotate() error {
	entries, err := os.ReadDir(t.basePath)
	if err != nil {
		return err
	}

	type trace struct {
		name string
		mod  time.Time
	}
	var traces []trace
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, trace{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		return traces[i].mod.After(traces[j].mod)
	})

	if len(traces) >= t.keep {
		for i := t.keep - 1; i < len(traces); i++ {
			_ = os.Remove(filepath.Join(t.basePath, traces[i].name))
		}
	}
	return nil
}

// Trace is an events.Sink appending to one run's JSONL file.
type Trace struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

func (t *Trace) Emit(e events.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.encoder == nil {
		return
	}

	rec := traceRecord{
		Timestamp: e.Time,
		Type:      string(e.Kind),
		RunID:     e.RunID,
		Message:   e.Message,
		Artifact:  e.Artifact,
		Bytes:     len(e.Data),
		Reason:    e.Reason,
	}
	if e.Kind == events.KindDone {
		ok := e.OK
		rec.OK = &ok
	}
	_ = t.encoder.Encode(rec)
}

// Close finishes the trace. Safe to call twice.
func (t *Trace) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	t.encoder = nil
	return err
}
