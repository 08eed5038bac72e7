// Package diagnostics captures what the browser looked like after each step and
// reports it outward. Nothing here can fail a run.
package diagnostics

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mailpilot/internal/events"
)

// FailurePrefix marks artifacts captured for a failed step.
const FailurePrefix = "error_"

// Capturer produces a PNG of the current session state.
type Capturer interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Options configures a Recorder.
type Options struct {
	// Dir is the per-run artifact directory.
	Dir string
	// SettleMin and SettleMax bound the randomized pause before each capture.
	SettleMin time.Duration
	SettleMax time.Duration
}

// Recorder writes one PNG per recorded tag and emits text and image events.
type Recorder struct {
	runID string
	page  Capturer
	sink  events.Sink
	opts  Options

	mu        sync.Mutex
	artifacts []string
}

// NewRecorder returns a recorder for one run. page may be nil when no session
// could be opened; captures then report themselves as skipped.
func NewRecorder(runID string, page Capturer, sink events.Sink, opts Options) *Recorder {
	if sink == nil {
		sink = events.Discard
	}
	return &Recorder{runID: runID, page: page, sink: sink, opts: opts}
}

// Status emits a text event.
func (r *Recorder) Status(format string, args ...interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	r.sink.Emit(events.Text(r.runID, msg))
}

// Record captures the session under tag and returns the artifact path, or ""
// when the capture failed.
func (r *Recorder) Record(ctx context.Context, tag string) string {
	return r.capture(ctx, ArtifactName(tag))
}

// Failure captures the session under the failure-prefixed tag.
func (r *Recorder) Failure(ctx context.Context, tag string) string {
	return r.capture(ctx, ArtifactName(FailurePrefix+strings.TrimPrefix(tag, FailurePrefix)))
}

// Artifacts lists the files written so far, in capture order.
func (r *Recorder) Artifacts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.artifacts...)
}

func (r *Recorder) capture(ctx context.Context, name string) string {
	if r.page == nil {
		r.Status("[!] Cannot take screenshot %s, no browser session", name)
		return ""
	}
	if err := sleepWithContext(ctx, r.settle()); err != nil {
		r.Status("[!] Screenshot %s skipped: %v", name, err)
		return ""
	}

	png, err := r.screenshot(ctx)
	if err != nil {
		r.Status("[!] Screenshot failed for %s: %v", name, err)
		return ""
	}

	if err := os.MkdirAll(r.opts.Dir, 0o755); err != nil {
		r.Status("[!] Screenshot failed for %s: %v", name, err)
		return ""
	}
	path := filepath.Join(r.opts.Dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		r.Status("[!] Screenshot failed for %s: %v", name, err)
		return ""
	}

	r.mu.Lock()
	r.artifacts = append(r.artifacts, path)
	r.mu.Unlock()

	r.Status("[✓] Screenshot saved: %s", path)
	r.sink.Emit(events.Image(r.runID, name, png))
	return path
}

// screenshot converts a panicking capture into an error.
func (r *Recorder) screenshot(ctx context.Context) (png []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			png, err = nil, fmt.Errorf("screenshot panicked: %v", p)
		}
	}()
	return r.page.Screenshot(ctx)
}

func (r *Recorder) settle() time.Duration {
	lo, hi := r.opts.SettleMin, r.opts.SettleMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)+1))
}

// ArtifactName maps a step tag to its file name. The mapping is deterministic
// so the same tag always lands in the same file within a run directory.
func ArtifactName(tag string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(tag) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" {
		name = "step"
	}
	return name + ".png"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
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
