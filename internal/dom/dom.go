// Package dom holds the vocabulary shared by the automation layers: how a logical
// element is described (Candidate), and the capabilities a browser driver must
// expose for locating and acting on elements (Page, Element).
package dom

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoMatch is returned by Page.Find when a candidate matches nothing right now.
// Callers poll; the driver must not wait on its own.
var ErrNoMatch = errors.New("no element matches candidate")

// Strategy selects how a Candidate's Value is interpreted.
type Strategy int

const (
	ByID Strategy = iota
	ByCSS
	ByXPath
	// ByText matches elements selected by Value whose text matches Pattern.
	ByText
)

func (s Strategy) String() string {
	switch s {
	case ByID:
		return "id"
	case ByCSS:
		return "css"
	case ByXPath:
		return "xpath"
	case ByText:
		return "text"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Candidate is one way of finding a logical element. Timeout bounds the polling
// for this candidate; zero means the resolver default.
type Candidate struct {
	Strategy Strategy      `json:"strategy" yaml:"strategy"`
	Value    string        `json:"value" yaml:"value"`
	Pattern  string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

func (c Candidate) String() string {
	if c.Strategy == ByText {
		return fmt.Sprintf("text:%s~%q", c.Value, c.Pattern)
	}
	return c.Strategy.String() + ":" + c.Value
}

// ID builds a candidate matching the element id attribute.
func ID(id string) Candidate { return Candidate{Strategy: ByID, Value: id} }

// CSS builds a candidate from a CSS selector.
func CSS(selector string) Candidate { return Candidate{Strategy: ByCSS, Value: selector} }

// XPath builds a candidate from an XPath expression.
func XPath(expr string) Candidate { return Candidate{Strategy: ByXPath, Value: expr} }

// Text builds a candidate matching elements under selector whose text matches pattern (JS regex).
func Text(selector, pattern string) Candidate {
	return Candidate{Strategy: ByText, Value: selector, Pattern: pattern}
}

// Within returns a copy of c with its own polling bound.
func (c Candidate) Within(d time.Duration) Candidate {
	c.Timeout = d
	return c
}

// Key is a named keyboard key understood by every driver.
type Key string

const (
	KeyEnter   Key = "Enter"
	KeyTab     Key = "Tab"
	KeyEscape  Key = "Escape"
	KeyControl Key = "Control"
	KeyMeta    Key = "Meta"
	KeyShift   Key = "Shift"
)

// Point is a viewport coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Element is a live handle to a resolved element. It is only valid for the
// session that produced it.
type Element interface {
	// Interactable reports nil when the element is visible and not covered.
	Interactable(ctx context.Context) error
	Click(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
	// ClickScript dispatches the click from page script instead of input events.
	ClickScript(ctx context.Context) error
	// FocusScript focuses the element from page script.
	FocusScript(ctx context.Context) error
	Center(ctx context.Context) (Point, error)
	Clear(ctx context.Context) error
	// TypeText sends text as key input to the element.
	TypeText(ctx context.Context, text string) error
	Press(ctx context.Context, key Key) error
	Text(ctx context.Context) (string, error)
}

// Page is the browser-driver capability the automation layers consume.
type Page interface {
	// Find makes a single, non-waiting attempt to match c.
	Find(ctx context.Context, c Candidate) (Element, error)
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// PointerClick moves the pointer to p and clicks there.
	PointerClick(ctx context.Context, p Point) error
	// Shortcut presses keys together, in order, then releases them.
	Shortcut(ctx context.Context, keys ...Key) error
}

// Session is one isolated browser context owning a single page. Close releases
// everything the session acquired and is safe to call more than once.
type Session interface {
	Page() Page
	Close() error
}
