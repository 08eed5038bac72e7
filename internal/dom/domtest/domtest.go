// Package domtest provides scriptable in-memory implementations of dom.Page and
// dom.Element for exercising automation code without a browser.
package domtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mailpilot/internal/dom"
)

// ErrInjected is a convenient failure for scripted elements.
var ErrInjected = errors.New("injected failure")

// Page is a fake page. Elements are keyed by Candidate.String(), so the same
// element may be registered under several candidates.
type Page struct {
	mu       sync.Mutex
	elements map[string]*Element

	url         string
	finds       []string
	actions     []string
	navigations []string
	shots       int
	shortcuts   [][]dom.Key

	NavigateErr   error
	ScreenshotErr error
	PointerErr    error
	ShortcutErr   error
	// OnNavigate runs after a successful navigation.
	OnNavigate func(url string)
	// OnShortcut runs after a successful shortcut.
	OnShortcut func(keys []dom.Key)
	// OnPointer runs after a successful pointer click.
	OnPointer func(p dom.Point)
	// OnScreenshot runs before every capture.
	OnScreenshot func()
}

// NewPage returns an empty fake page at url.
func NewPage(url string) *Page {
	return &Page{url: url, elements: make(map[string]*Element)}
}

// Add registers el under every candidate and returns it.
func (p *Page) Add(el *Element, cands ...dom.Candidate) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	el.page = p
	for _, c := range cands {
		p.elements[c.String()] = el
	}
	return el
}

// Remove unregisters whatever is registered under c.
func (p *Page) Remove(c dom.Candidate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, c.String())
}

// SetURL changes the current URL without recording a navigation.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

// Finds lists every candidate lookup, in order.
func (p *Page) Finds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.finds...)
}

// FindCount returns how many lookups were made for c.
func (p *Page) FindCount(c dom.Candidate) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, f := range p.finds {
		if f == c.String() {
			n++
		}
	}
	return n
}

// Actions lists every state-changing call made against the page or its elements.
func (p *Page) Actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.actions...)
}

// Navigations lists the URLs navigated to.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Screenshots returns the number of successful captures.
func (p *Page) Screenshots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shots
}

// Shortcuts lists the key chords pressed.
func (p *Page) Shortcuts() [][]dom.Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]dom.Key(nil), p.shortcuts...)
}

func (p *Page) record(action string) {
	p.mu.Lock()
	p.actions = append(p.actions, action)
	p.mu.Unlock()
}

func (p *Page) Find(ctx context.Context, c dom.Candidate) (dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finds = append(p.finds, c.String())
	el, ok := p.elements[c.String()]
	if !ok {
		return nil, dom.ErrNoMatch
	}
	return el, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.mu.Lock()
	p.url = url
	p.navigations = append(p.navigations, url)
	p.actions = append(p.actions, "navigate:"+url)
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if p.OnScreenshot != nil {
		p.OnScreenshot()
	}
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	p.mu.Lock()
	p.shots++
	p.mu.Unlock()
	// PNG signature is enough for consumers that sniff the payload.
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (p *Page) PointerClick(ctx context.Context, pt dom.Point) error {
	p.record(fmt.Sprintf("pointer:%.0f,%.0f", pt.X, pt.Y))
	if p.PointerErr != nil {
		return p.PointerErr
	}
	if p.OnPointer != nil {
		p.OnPointer(pt)
	}
	return nil
}

func (p *Page) Shortcut(ctx context.Context, keys ...dom.Key) error {
	p.record(fmt.Sprintf("shortcut:%v", keys))
	if p.ShortcutErr != nil {
		return p.ShortcutErr
	}
	p.mu.Lock()
	p.shortcuts = append(p.shortcuts, keys)
	hook := p.OnShortcut
	p.mu.Unlock()
	if hook != nil {
		hook(keys)
	}
	return nil
}

// Element is a fake element. Error fields make the matching method fail.
type Element struct {
	Name string

	mu      sync.Mutex
	page    *Page
	text    string
	typed   string
	clears  int
	clicks  int
	presses []dom.Key

	NotInteractable error
	ClickErr        error
	ScrollErr       error
	ClickScriptErr  error
	FocusErr        error
	CenterErr       error
	ClearErr        error
	TypeErr         error
	PressErr        error

	// OnClick runs after any successful click mechanism (direct or script).
	OnClick func()
	// OnPress runs after a successful key press.
	OnPress func(key dom.Key)
}

// NewElement returns an element with the given name and text.
func NewElement(name, text string) *Element {
	return &Element{Name: name, text: text}
}

// Typed returns everything typed since the last clear.
func (e *Element) Typed() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typed
}

// Clears returns how many times the element was cleared.
func (e *Element) Clears() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clears
}

// Clicks returns the number of successful clicks of any kind.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Presses lists the keys pressed on the element.
func (e *Element) Presses() []dom.Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]dom.Key(nil), e.presses...)
}

// SetText replaces the element's visible text.
func (e *Element) SetText(s string) {
	e.mu.Lock()
	e.text = s
	e.mu.Unlock()
}

func (e *Element) log(action string) {
	if e.page != nil {
		e.page.record(action + ":" + e.Name)
	}
}

func (e *Element) Interactable(ctx context.Context) error { return e.NotInteractable }

func (e *Element) Click(ctx context.Context) error {
	e.log("click")
	if e.ClickErr != nil {
		return e.ClickErr
	}
	e.clicked()
	return nil
}

func (e *Element) clicked() {
	e.mu.Lock()
	e.clicks++
	hook := e.OnClick
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	e.log("scroll")
	return e.ScrollErr
}

func (e *Element) ClickScript(ctx context.Context) error {
	e.log("script-click")
	if e.ClickScriptErr != nil {
		return e.ClickScriptErr
	}
	e.clicked()
	return nil
}

func (e *Element) FocusScript(ctx context.Context) error {
	e.log("focus")
	return e.FocusErr
}

func (e *Element) Center(ctx context.Context) (dom.Point, error) {
	if e.CenterErr != nil {
		return dom.Point{}, e.CenterErr
	}
	return dom.Point{X: 10, Y: 20}, nil
}

func (e *Element) Clear(ctx context.Context) error {
	e.log("clear")
	if e.ClearErr != nil {
		return e.ClearErr
	}
	e.mu.Lock()
	e.typed = ""
	e.clears++
	e.mu.Unlock()
	return nil
}

func (e *Element) TypeText(ctx context.Context, text string) error {
	e.log("type")
	if e.TypeErr != nil {
		return e.TypeErr
	}
	e.mu.Lock()
	e.typed += text
	e.mu.Unlock()
	return nil
}

func (e *Element) Press(ctx context.Context, key dom.Key) error {
	e.log("press-" + string(key))
	if e.PressErr != nil {
		return e.PressErr
	}
	e.mu.Lock()
	e.presses = append(e.presses, key)
	hook := e.OnPress
	e.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	return nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text, nil
}
