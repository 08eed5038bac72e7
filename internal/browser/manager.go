package browser

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mailpilot/internal/config"
	"mailpilot/internal/dom"

	"github.com/google/uuid"
)

// ErrShutdown is returned by Open once the manager has been shut down.
var ErrShutdown = errors.New("session manager is shut down")

// Info describes a live session.
type Info struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats are lifetime lifecycle counters. Opened == Closed whenever no run is in flight.
type Stats struct {
	Opened int64 `json:"opened"`
	Closed int64 `json:"closed"`
	Active int   `json:"active"`
}

// Observer is notified of lifecycle transitions.
type Observer interface {
	SessionOpened()
	SessionClosed()
}

// opener abstracts Launcher.Open so the manager can be exercised without Chrome.
type opener func(ctx context.Context) (dom.Session, error)

// Manager hands out one session per workflow run and tracks every session it
// opened until it is closed.
type Manager struct {
	open     opener
	observer Observer

	mu       sync.Mutex
	sessions map[string]*tracked
	shutdown bool

	opened atomic.Int64
	closed atomic.Int64
}

func NewManager(cfg config.BrowserConfig) *Manager {
	l := NewLauncher(cfg)
	return newManager(func(ctx context.Context) (dom.Session, error) {
		s, err := l.Open(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

func newManager(open opener) *Manager {
	return &Manager{open: open, sessions: make(map[string]*tracked)}
}

// SetObserver installs o. Call before the first Open.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

// Open implements the session opener consumed by the workflow engine.
func (m *Manager) Open(ctx context.Context) (dom.Session, error) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, ErrShutdown
	}
	m.mu.Unlock()

	inner, err := m.open(ctx)
	if err != nil {
		return nil, err
	}

	t := &tracked{Session: inner, id: uuid.NewString(), created: time.Now(), mgr: m}
	m.mu.Lock()
	m.sessions[t.id] = t
	m.mu.Unlock()

	m.opened.Add(1)
	if m.observer != nil {
		m.observer.SessionOpened()
	}
	log.Printf("browser session %s opened", t.id)
	return t, nil
}

// List returns the live sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.sessions))
	for _, t := range m.sessions {
		out = append(out, Info{ID: t.id, CreatedAt: t.created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	active := len(m.sessions)
	m.mu.Unlock()
	return Stats{Opened: m.opened.Load(), Closed: m.closed.Load(), Active: active}
}

// Shutdown refuses new sessions and closes any still live. Runs normally close
// their own sessions; this only catches leftovers on process exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	live := make([]*tracked, 0, len(m.sessions))
	for _, t := range m.sessions {
		live = append(live, t)
	}
	m.mu.Unlock()

	var errs []error
	for _, t := range live {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	log.Printf("Browser shutdown complete")
	return errors.Join(errs...)
}

func (m *Manager) release(t *tracked) {
	m.mu.Lock()
	delete(m.sessions, t.id)
	m.mu.Unlock()

	m.closed.Add(1)
	if m.observer != nil {
		m.observer.SessionClosed()
	}
	log.Printf("browser session %s closed", t.id)
}

// tracked wraps a session so its release is counted exactly once.
type tracked struct {
	dom.Session
	id      string
	created time.Time
	mgr     *Manager

	once sync.Once
	err  error
}

// ID returns the session identifier assigned at open.
func (t *tracked) ID() string { return t.id }

func (t *tracked) Close() error {
	t.once.Do(func() {
		t.err = t.Session.Close()
		t.mgr.release(t)
	})
	return t.err
}
