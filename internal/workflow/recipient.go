package workflow

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"mailpilot/internal/dom"
)

// recipientAttempt is one way of turning typed text into an accepted recipient.
type recipientAttempt struct {
	name string
	do   func(ctx context.Context) error
}

// acceptRecipient runs the recipient sub-protocol: suggestion click, commit
// key, advance key, then refocus-and-commit. Each attempt runs only while the
// recipient is still not accepted, and acceptance is re-checked after each.
func (r *run) acceptRecipient(ctx context.Context, to dom.Element, addr string) (string, bool) {
	attempts := []recipientAttempt{
		{"suggestion", func(ctx context.Context) error {
			suggestion, _, err := r.resolver.Resolve(ctx, r.page, r.catalog.Suggestions(addr))
			if err != nil {
				r.status("[🔄] No suggestion found, trying Enter key...")
				return err
			}
			_, err = r.exec.Click(ctx, r.page, suggestion, nil)
			return err
		}},
		{"commit-key", func(ctx context.Context) error {
			return to.Press(ctx, dom.KeyEnter)
		}},
		{"advance-key", func(ctx context.Context) error {
			r.status("[🔄] Enter didn't work, trying Tab key...")
			return to.Press(ctx, dom.KeyTab)
		}},
		{"refocus", func(ctx context.Context) error {
			r.status("[🔄] Still not accepted, trying to click outside and back...")
			subject, err := r.firstPresent(ctx, r.catalog.Subject.Candidates)
			if err != nil {
				return err
			}
			if err := subject.Click(ctx); err != nil {
				return err
			}
			if err := sleep(ctx, r.t.ActionSettle); err != nil {
				return err
			}
			if err := to.Click(ctx); err != nil {
				return err
			}
			return to.Press(ctx, dom.KeyEnter)
		}},
	}

	for _, a := range attempts {
		if ctx.Err() != nil {
			return "", false
		}
		if err := a.do(ctx); err != nil {
			log.Printf("run %s: recipient %s attempt failed: %v", r.id, a.name, err)
		}
		if err := sleep(ctx, r.t.ActionSettle); err != nil {
			return "", false
		}
		if r.recipientAccepted(ctx, addr) {
			return a.name, true
		}
	}
	return "", false
}

// recipientAccepted polls the accepted-chip patterns for one whose text
// contains addr. It only reads the page.
func (r *run) recipientAccepted(ctx context.Context, addr string) bool {
	chips := r.catalog.Chips(addr)
	needle := strings.ToLower(addr)
	interval := r.t.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	deadline := time.Now().Add(r.t.RecipientCheck)
	for {
		for _, c := range chips {
			el, err := r.page.Find(ctx, c)
			if err != nil {
				continue
			}
			text, err := el.Text(ctx)
			if err == nil && strings.Contains(strings.ToLower(text), needle) {
				return true
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if remaining < interval {
			interval = remaining
		}
		if sleep(ctx, interval) != nil {
			return false
		}
	}
}

// firstPresent makes one pass over cands and returns the first match.
func (r *run) firstPresent(ctx context.Context, cands []dom.Candidate) (dom.Element, error) {
	for _, c := range cands {
		if el, err := r.page.Find(ctx, c); err == nil {
			return el, nil
		}
	}
	return nil, errors.New("no adjacent field to move focus to")
}
