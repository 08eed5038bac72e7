package browser

import (
	"context"
	"errors"
	"sync"
	"testing"

	"mailpilot/internal/config"
	"mailpilot/internal/dom"
	"mailpilot/internal/dom/domtest"
)

type countingObserver struct {
	mu             sync.Mutex
	opened, closed int
}

func (o *countingObserver) SessionOpened() { o.mu.Lock(); o.opened++; o.mu.Unlock() }
func (o *countingObserver) SessionClosed() { o.mu.Lock(); o.closed++; o.mu.Unlock() }

func fakeManager() (*Manager, *domtest.Opener) {
	fake := &domtest.Opener{}
	return newManager(fake.Open), fake
}

func TestManagerCountsOpenAndClose(t *testing.T) {
	m, fake := fakeManager()
	obs := &countingObserver{}
	m.SetObserver(obs)

	s, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := m.Stats(); got.Opened != 1 || got.Active != 1 || got.Closed != 0 {
		t.Errorf("unexpected stats after open: %+v", got)
	}
	if len(m.List()) != 1 {
		t.Errorf("expected one live session")
	}

	// Repeated closes release once.
	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	got := m.Stats()
	if got.Opened != got.Closed || got.Active != 0 {
		t.Errorf("expected opened == closed with no active sessions, got %+v", got)
	}
	if fake.Closed() != 1 {
		t.Errorf("underlying session closed %d times", fake.Closed())
	}
	if obs.opened != 1 || obs.closed != 1 {
		t.Errorf("observer saw %d/%d", obs.opened, obs.closed)
	}
}

func TestManagerOpenFailureNotCounted(t *testing.T) {
	fake := &domtest.Opener{OpenErr: errors.New("chrome missing")}
	m := newManager(fake.Open)

	if _, err := m.Open(context.Background()); err == nil {
		t.Fatal("expected open error")
	}
	if got := m.Stats(); got.Opened != 0 || got.Closed != 0 {
		t.Errorf("failed open must not count, got %+v", got)
	}
}

func TestManagerConcurrentSessionsAreDistinct(t *testing.T) {
	m, _ := fakeManager()
	const n = 16

	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Open(context.Background())
			if err != nil {
				t.Errorf("open: %v", err)
				return
			}
			ids <- s.(*tracked).ID()
			_ = s.Close()
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate session id %s", id)
		}
		seen[id] = true
	}
	if got := m.Stats(); got.Opened != n || got.Closed != n {
		t.Errorf("unexpected stats %+v", got)
	}
}

func TestManagerShutdownClosesLeftovers(t *testing.T) {
	m, fake := fakeManager()
	for i := 0; i < 2; i++ {
		if _, err := m.Open(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if fake.Closed() != 2 {
		t.Errorf("expected 2 closes, got %d", fake.Closed())
	}
	if _, err := m.Open(context.Background()); !errors.Is(err, ErrShutdown) {
		t.Errorf("expected ErrShutdown, got %v", err)
	}
}

func TestSessionCloseIsSafeWhenPartial(t *testing.T) {
	var s *Session
	if err := s.Close(); err != nil {
		t.Errorf("nil session close: %v", err)
	}
	if s.Page() != nil {
		t.Error("nil session must not expose a page")
	}

	empty := &Session{}
	for i := 0; i < 2; i++ {
		if err := empty.Close(); err != nil {
			t.Errorf("partial session close %d: %v", i, err)
		}
	}
	var _ dom.Session = empty
}

func TestLauncherFlags(t *testing.T) {
	headless := true
	l := NewLauncher(config.BrowserConfig{
		Headless: &headless,
		Flags:    []string{"--no-sandbox", "--lang=en-US"},
	})
	launch := l.newLauncher()

	if !launch.Has("no-sandbox") {
		t.Error("expected extra flag no-sandbox")
	}
	if v := launch.Get("lang"); v != "en-US" {
		t.Errorf("expected lang=en-US, got %q", v)
	}
	if v := launch.Get("disable-blink-features"); v != "AutomationControlled" {
		t.Errorf("automation features not disabled, got %q", v)
	}
	if launch.Has("enable-automation") {
		t.Error("enable-automation must be removed")
	}
}

func TestInputKey(t *testing.T) {
	for _, k := range []dom.Key{dom.KeyEnter, dom.KeyTab, dom.KeyControl, dom.KeyMeta, "a"} {
		if _, err := inputKey(k); err != nil {
			t.Errorf("inputKey(%q): %v", k, err)
		}
	}
	if _, err := inputKey("NotAKey"); err == nil {
		t.Error("expected unknown key error")
	}
}

func TestIDSelector(t *testing.T) {
	if got := idSelector("identifierId"); got != `[id="identifierId"]` {
		t.Errorf("unexpected selector %s", got)
	}
}
