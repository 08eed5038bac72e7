package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"mailpilot/internal/dom"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// pointerSteps is how many intermediate moves the pointer makes before clicking.
const pointerSteps = 12

// rodPage adapts a *rod.Page to dom.Page.
type rodPage struct {
	page       *rod.Page
	navTimeout time.Duration
}

// WrapPage exposes a Rod page through the dom capability interfaces.
func WrapPage(p *rod.Page, navTimeout time.Duration) dom.Page {
	return &rodPage{page: p, navTimeout: navTimeout}
}

func (p *rodPage) Find(ctx context.Context, c dom.Candidate) (dom.Element, error) {
	page := p.page.Context(ctx).Sleeper(rod.NotFoundSleeper)

	var (
		el  *rod.Element
		err error
	)
	switch c.Strategy {
	case dom.ByID:
		el, err = page.Element(idSelector(c.Value))
	case dom.ByCSS:
		el, err = page.Element(c.Value)
	case dom.ByXPath:
		el, err = page.ElementX(c.Value)
	case dom.ByText:
		el, err = page.ElementR(c.Value, c.Pattern)
	default:
		return nil, fmt.Errorf("unsupported strategy %s", c.Strategy)
	}
	if err != nil {
		var nf *rod.ElementNotFoundError
		if errors.As(err, &nf) {
			return nil, dom.ErrNoMatch
		}
		return nil, err
	}
	return &rodElement{el: el, page: p.page}, nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	ctx, cancel := navigationContext(ctx, p.navTimeout)
	defer cancel()

	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// navigationContext bounds one navigation by d. The returned cancel must be
// called once the navigation is done so its timer is released.
func navigationContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *rodPage) PointerClick(ctx context.Context, pt dom.Point) error {
	mouse := p.page.Context(ctx).Mouse
	if err := mouse.MoveLinear(proto.Point{X: pt.X, Y: pt.Y}, pointerSteps); err != nil {
		return fmt.Errorf("pointer move: %w", err)
	}
	return mouse.Click(proto.InputMouseButtonLeft, 1)
}

// Shortcut holds every key but the last, taps the last, then releases the held
// keys in reverse order.
func (p *rodPage) Shortcut(ctx context.Context, keys ...dom.Key) error {
	if len(keys) == 0 {
		return errors.New("shortcut needs at least one key")
	}
	mapped := make([]input.Key, 0, len(keys))
	for _, k := range keys {
		ik, err := inputKey(k)
		if err != nil {
			return err
		}
		mapped = append(mapped, ik)
	}

	kb := p.page.Context(ctx).Keyboard
	held := mapped[:len(mapped)-1]
	for _, k := range held {
		if err := kb.Press(k); err != nil {
			return fmt.Errorf("press %v: %w", k, err)
		}
	}
	err := kb.Type(mapped[len(mapped)-1])
	for i := len(held) - 1; i >= 0; i-- {
		_ = kb.Release(held[i])
	}
	return err
}

// rodElement adapts a *rod.Element to dom.Element.
type rodElement struct {
	el   *rod.Element
	page *rod.Page
}

func (e *rodElement) Interactable(ctx context.Context) error {
	_, err := e.el.Context(ctx).Interactable()
	return err
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) ScrollIntoView(ctx context.Context) error {
	return e.el.Context(ctx).ScrollIntoView()
}

const clickScript = `() => {
	this.click();
	this.dispatchEvent(new MouseEvent('click', {bubbles: true, cancelable: true, view: window}));
}`

func (e *rodElement) ClickScript(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(clickScript)
	return err
}

func (e *rodElement) FocusScript(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => { this.focus(); this.click(); }`)
	return err
}

func (e *rodElement) Center(ctx context.Context) (dom.Point, error) {
	shape, err := e.el.Context(ctx).Shape()
	if err != nil {
		return dom.Point{}, err
	}
	pt := shape.OnePointInside()
	if pt == nil {
		return dom.Point{}, errors.New("element has no visible area")
	}
	return dom.Point{X: pt.X, Y: pt.Y}, nil
}

func (e *rodElement) Clear(ctx context.Context) error {
	el := e.el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input("")
}

func (e *rodElement) TypeText(ctx context.Context, text string) error {
	return e.el.Context(ctx).Input(text)
}

func (e *rodElement) Press(ctx context.Context, key dom.Key) error {
	ik, err := inputKey(key)
	if err != nil {
		return err
	}
	if err := e.el.Context(ctx).Focus(); err != nil {
		return err
	}
	return e.page.Context(ctx).Keyboard.Type(ik)
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

var keyMap = map[dom.Key]input.Key{
	dom.KeyEnter:   input.Enter,
	dom.KeyTab:     input.Tab,
	dom.KeyEscape:  input.Escape,
	dom.KeyControl: input.ControlLeft,
	dom.KeyMeta:    input.MetaLeft,
	dom.KeyShift:   input.ShiftLeft,
}

func inputKey(k dom.Key) (input.Key, error) {
	if ik, ok := keyMap[k]; ok {
		return ik, nil
	}
	if r := []rune(string(k)); len(r) == 1 {
		return input.Key(r[0]), nil
	}
	return 0, fmt.Errorf("unknown key: %s", k)
}

func idSelector(id string) string {
	return "[id=" + strconv.Quote(id) + "]"
}
