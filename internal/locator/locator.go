// Package locator resolves logical UI elements to live handles by trying an
// ordered list of selector candidates, most likely first.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailpilot/internal/dom"
)

// ErrElementNotFound is matched by every *NotFoundError.
var ErrElementNotFound = errors.New("element not found")

// Element is a logical element: a name for diagnostics plus its candidates in
// priority order.
type Element struct {
	Name       string          `yaml:"name"`
	Candidates []dom.Candidate `yaml:"candidates"`
}

// Named builds an Element.
func Named(name string, cands ...dom.Candidate) Element {
	return Element{Name: name, Candidates: cands}
}

// NotFoundError reports that every candidate of a logical element was exhausted.
type NotFoundError struct {
	Name  string
	Tried []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("element not found: %s (tried %d candidates: %s)", e.Name, len(e.Tried), strings.Join(e.Tried, ", "))
}

func (e *NotFoundError) Is(target error) bool { return target == ErrElementNotFound }

// Resolver polls candidates in order. The first candidate that yields an
// interactable element wins; later candidates are never tried.
type Resolver struct {
	// Timeout bounds each candidate that carries no timeout of its own.
	Timeout time.Duration
	// Interval is the pause between polls of one candidate.
	Interval time.Duration
	// OnAttempt, when set, observes each candidate before it is polled.
	OnAttempt func(element string, c dom.Candidate)
}

// NewResolver returns a resolver with the given default per-candidate bound.
func NewResolver(timeout time.Duration) *Resolver {
	return &Resolver{Timeout: timeout, Interval: 250 * time.Millisecond}
}

// Resolve returns the first interactable match among el's candidates.
func (r *Resolver) Resolve(ctx context.Context, page dom.Page, el Element) (dom.Element, dom.Candidate, error) {
	tried := make([]string, 0, len(el.Candidates))
	for _, c := range el.Candidates {
		if err := ctx.Err(); err != nil {
			return nil, dom.Candidate{}, err
		}
		if r.OnAttempt != nil {
			r.OnAttempt(el.Name, c)
		}
		tried = append(tried, c.String())
		handle, err := r.poll(ctx, page, c)
		if err == nil {
			return handle, c, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, dom.Candidate{}, ctxErr
		}
	}
	return nil, dom.Candidate{}, &NotFoundError{Name: el.Name, Tried: tried}
}

// Present reports whether any candidate currently matches, polling each for at
// most its bound. It never waits for interactability.
func (r *Resolver) Present(ctx context.Context, page dom.Page, cands ...dom.Candidate) bool {
	for _, c := range cands {
		if _, err := r.waitFor(ctx, page, c, false); err == nil {
			return true
		}
	}
	return false
}

func (r *Resolver) poll(ctx context.Context, page dom.Page, c dom.Candidate) (dom.Element, error) {
	return r.waitFor(ctx, page, c, true)
}

func (r *Resolver) waitFor(ctx context.Context, page dom.Page, c dom.Candidate, interactable bool) (dom.Element, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.Timeout
	}
	interval := r.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	deadline := time.Now().Add(timeout)
	for {
		handle, err := page.Find(ctx, c)
		if err == nil && interactable {
			err = handle.Interactable(ctx)
		}
		if err == nil {
			return handle, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, err
		}
		if remaining < interval {
			interval = remaining
		}
		if sleepErr := sleepWithContext(ctx, interval); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
