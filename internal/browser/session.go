// Package browser owns Chrome: launching or attaching, preparing a masked,
// cookie-free page, and tearing everything down again.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"mailpilot/internal/config"
	"mailpilot/internal/dom"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// maskScript hides runtime properties that reveal automation. stealth covers
// most of them; webdriver is repeated here so it holds on attached browsers too.
const maskScript = `() => {
	Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
}`

// Launcher opens isolated sessions according to the browser config.
type Launcher struct {
	cfg config.BrowserConfig
}

func NewLauncher(cfg config.BrowserConfig) *Launcher {
	return &Launcher{cfg: cfg}
}

// Session is one browser context with a single page. Every field may be nil
// when Open failed partway.
type Session struct {
	launch    *launcher.Launcher
	browser   *rod.Browser
	incognito *rod.Browser
	page      *rod.Page
	attached  bool
	launched  bool
	navTO     time.Duration

	once     sync.Once
	closeErr error
}

// Open starts (or attaches to) Chrome and prepares a stealth page in a fresh
// incognito context. On failure everything acquired so far is released.
func (l *Launcher) Open(ctx context.Context) (s *Session, err error) {
	s = &Session{navTO: l.cfg.NavigationTimeout()}
	defer func() {
		if err != nil {
			_ = s.Close()
			s = nil
		}
	}()

	controlURL := l.cfg.DebuggerURL
	if controlURL == "" {
		s.launch = l.newLauncher()
		controlURL, err = s.launch.Launch()
		if err != nil {
			return s, fmt.Errorf("launch chrome: %w", err)
		}
		s.launched = true
	} else {
		s.attached = true
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err = browser.Connect(); err != nil {
		return s, fmt.Errorf("connect to chrome: %w", err)
	}
	// Teardown must still work after the run context is cancelled.
	s.browser = browser.Context(context.WithoutCancel(ctx))

	s.incognito, err = s.browser.Incognito()
	if err != nil {
		return s, fmt.Errorf("incognito context: %w", err)
	}

	s.page, err = stealth.Page(s.incognito)
	if err != nil {
		return s, fmt.Errorf("stealth page: %w", err)
	}

	if _, err = s.page.EvalOnNewDocument(maskScript); err != nil {
		return s, fmt.Errorf("mask automation: %w", err)
	}

	if err = (proto.NetworkClearBrowserCookies{}).Call(s.page); err != nil {
		return s, fmt.Errorf("clear cookies: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             l.cfg.GetViewportWidth(),
		Height:            l.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(s.page); err != nil {
		log.Printf("warning: failed to set viewport: %v", err)
	}

	if l.cfg.UserAgent != "" {
		if err := s.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: l.cfg.UserAgent}); err != nil {
			log.Printf("warning: failed to set user agent: %v", err)
		}
	}

	return s, nil
}

func (l *Launcher) newLauncher() *launcher.Launcher {
	launch := launcher.New().
		Headless(l.cfg.IsHeadless()).
		Leakless(true).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled").
		Set(flags.Flag("disable-infobars")).
		Delete(flags.Flag("enable-automation"))
	if l.cfg.Bin != "" {
		launch = launch.Bin(l.cfg.Bin)
	}
	for _, rawFlag := range l.cfg.Flags {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			launch = launch.Set(flags.Flag(name), val)
		} else {
			launch = launch.Set(flags.Flag(name))
		}
	}
	return launch
}

// Page returns the session page as a dom.Page.
func (s *Session) Page() dom.Page {
	if s == nil || s.page == nil {
		return nil
	}
	return &rodPage{page: s.page, navTimeout: s.navTO}
}

// Close releases the page, the incognito context and, for launched browsers,
// the Chrome process. Only the first call does any work.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		var errs []error
		if s.page != nil {
			if err := s.page.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close page: %w", err))
			}
		}
		if s.incognito != nil {
			if err := s.incognito.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close context: %w", err))
			}
		}
		if s.browser != nil && !s.attached {
			if err := s.browser.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close browser: %w", err))
			}
		}
		if s.launch != nil && s.launched {
			s.launch.Kill()
			s.launch.Cleanup()
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

var _ dom.Session = (*Session)(nil)
