// Package action performs interactions against resolved elements through an
// ordered fallback chain of dispatch mechanisms.
package action

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"mailpilot/internal/dom"
)

// ErrActionDispatchFailed is matched by every *DispatchError.
var ErrActionDispatchFailed = errors.New("action dispatch failed")

// Mechanism is one way of carrying out an action. Each mechanism runs at most
// once per chain.
type Mechanism struct {
	Name string
	Do   func(ctx context.Context) error
}

// Attempt records one failed mechanism.
type Attempt struct {
	Mechanism string
	Err       error
}

// DispatchError reports that every mechanism of a chain failed.
type DispatchError struct {
	Action   string
	Attempts []Attempt
}

func (e *DispatchError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Mechanism, a.Err))
	}
	return fmt.Sprintf("%s: all %d mechanisms failed (%s)", e.Action, len(e.Attempts), strings.Join(parts, "; "))
}

func (e *DispatchError) Is(target error) bool { return target == ErrActionDispatchFailed }

// Pacing bounds the delays the executor inserts.
type Pacing struct {
	// Settle separates consecutive mechanisms so the UI can catch up.
	Settle time.Duration
	// KeyMin and KeyMax bound the randomized delay after each typed character.
	KeyMin time.Duration
	KeyMax time.Duration
}

// DefaultPacing mirrors human cadence: 50-150ms between keys, 500ms between mechanisms.
func DefaultPacing() Pacing {
	return Pacing{
		Settle: 500 * time.Millisecond,
		KeyMin: 50 * time.Millisecond,
		KeyMax: 150 * time.Millisecond,
	}
}

// Shortcut is a keyboard equivalent of a click, pressed after focusing Focus.
type Shortcut struct {
	Focus dom.Element
	Keys  []dom.Key
}

// Executor runs mechanism chains.
type Executor struct {
	pacing Pacing
	// OnAttempt, when set, observes every mechanism result.
	OnAttempt func(action, mechanism string, err error)
}

// New returns an executor using p.
func New(p Pacing) *Executor {
	return &Executor{pacing: p}
}

// Run tries each mechanism once, in order, and returns the name of the first
// that succeeds. If all fail it returns a *DispatchError.
func (x *Executor) Run(ctx context.Context, action string, chain []Mechanism) (string, error) {
	failed := &DispatchError{Action: action}
	for i, m := range chain {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if i > 0 {
			if err := sleepWithContext(ctx, x.pacing.Settle); err != nil {
				return "", err
			}
		}
		err := m.Do(ctx)
		if x.OnAttempt != nil {
			x.OnAttempt(action, m.Name, err)
		}
		if err == nil {
			return m.Name, nil
		}
		failed.Attempts = append(failed.Attempts, Attempt{Mechanism: m.Name, Err: err})
	}
	return "", failed
}

// Click clicks el, falling back from a direct click to scrolling, script
// dispatch, pointer movement and finally sc when given. A nil el leaves only
// the shortcut.
func (x *Executor) Click(ctx context.Context, page dom.Page, el dom.Element, sc *Shortcut) (string, error) {
	return x.Run(ctx, "click", ClickChain(page, el, sc))
}

// Type clears el and types text one character at a time, falling back the
// same way Click does for reaching the field.
func (x *Executor) Type(ctx context.Context, page dom.Page, el dom.Element, text string) (string, error) {
	return x.Run(ctx, "type", x.TypeChain(page, el, text))
}

// ClickChain builds the click fallback chain.
func ClickChain(page dom.Page, el dom.Element, sc *Shortcut) []Mechanism {
	var chain []Mechanism
	if el != nil {
		chain = append(chain,
			Mechanism{Name: "direct", Do: el.Click},
			Mechanism{Name: "scroll-into-view", Do: func(ctx context.Context) error {
				if err := el.ScrollIntoView(ctx); err != nil {
					return err
				}
				return el.Click(ctx)
			}},
			Mechanism{Name: "script", Do: el.ClickScript},
			Mechanism{Name: "pointer", Do: func(ctx context.Context) error {
				pt, err := el.Center(ctx)
				if err != nil {
					return err
				}
				return page.PointerClick(ctx, pt)
			}},
		)
	}
	if sc != nil && len(sc.Keys) > 0 {
		chain = append(chain, Mechanism{Name: "shortcut", Do: func(ctx context.Context) error {
			if sc.Focus != nil {
				if err := sc.Focus.Click(ctx); err != nil {
					if err := sc.Focus.FocusScript(ctx); err != nil {
						return fmt.Errorf("focus shortcut target: %w", err)
					}
				}
			}
			return page.Shortcut(ctx, sc.Keys...)
		}})
	}
	return chain
}

// TypeChain builds the typing fallback chain. Every mechanism clears the
// field right before typing.
func (x *Executor) TypeChain(page dom.Page, el dom.Element, text string) []Mechanism {
	fill := func(ctx context.Context) error {
		if err := el.Clear(ctx); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		return x.typePaced(ctx, el, text)
	}
	return []Mechanism{
		{Name: "direct", Do: func(ctx context.Context) error {
			if err := el.Click(ctx); err != nil {
				return err
			}
			return fill(ctx)
		}},
		{Name: "scroll-into-view", Do: func(ctx context.Context) error {
			if err := el.ScrollIntoView(ctx); err != nil {
				return err
			}
			return fill(ctx)
		}},
		{Name: "script", Do: func(ctx context.Context) error {
			if err := el.FocusScript(ctx); err != nil {
				return err
			}
			return fill(ctx)
		}},
		{Name: "pointer", Do: func(ctx context.Context) error {
			pt, err := el.Center(ctx)
			if err != nil {
				return err
			}
			if err := page.PointerClick(ctx, pt); err != nil {
				return err
			}
			return fill(ctx)
		}},
	}
}

func (x *Executor) typePaced(ctx context.Context, el dom.Element, text string) error {
	for _, r := range text {
		if err := el.TypeText(ctx, string(r)); err != nil {
			return fmt.Errorf("type %q: %w", r, err)
		}
		if err := sleepWithContext(ctx, x.keyDelay()); err != nil {
			return err
		}
	}
	return nil
}

// keyDelay draws a delay in [KeyMin, KeyMax].
func (x *Executor) keyDelay() time.Duration {
	lo, hi := x.pacing.KeyMin, x.pacing.KeyMax
	if hi < lo {
		hi = lo
	}
	if hi <= 0 {
		return 0
	}
	if hi == lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)+1))
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
