package domtest

import (
	"context"
	"sync"

	"mailpilot/internal/dom"
)

// Session is a fake dom.Session around a Page.
type Session struct {
	page   *Page
	mu     sync.Mutex
	closes int
	// CloseErr is returned from every Close.
	CloseErr error
}

// NewSession wraps page.
func NewSession(page *Page) *Session { return &Session{page: page} }

func (s *Session) Page() dom.Page { return s.page }

func (s *Session) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return s.CloseErr
}

// Closes reports how many times Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Opener hands out sessions built by Build and counts opens and closes.
type Opener struct {
	mu     sync.Mutex
	opened int
	live   []*Session

	// Build produces the page for each new session. Defaults to an empty page.
	Build func() *Page
	// OpenErr makes every Open fail without creating a session.
	OpenErr error
	// OnOpen runs at the start of every Open.
	OnOpen func()
}

func (o *Opener) Open(ctx context.Context) (dom.Session, error) {
	if o.OnOpen != nil {
		o.OnOpen()
	}
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	page := NewPage("about:blank")
	if o.Build != nil {
		page = o.Build()
	}
	s := NewSession(page)
	o.mu.Lock()
	o.opened++
	o.live = append(o.live, s)
	o.mu.Unlock()
	return s, nil
}

// Opened reports how many sessions were handed out.
func (o *Opener) Opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

// Closed reports the total Close calls across all sessions handed out.
func (o *Opener) Closed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, s := range o.live {
		n += s.Closes()
	}
	return n
}
