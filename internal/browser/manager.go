// Package browser manages Chrome headless lifecycle for the tracking
// pipeline: launch or remote-connect via Rod, hand out a fixed set of
// pre-warmed stealth tabs, and relaunch transparently after a crash.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Config configures the browser manager and pool.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// PoolSize is the number of pre-warmed tabs, which is also the task
	// concurrency cap. Default: 3.
	PoolSize int

	// UserAgent applied to every tab. A realistic desktop UA reduces
	// anti-bot friction. Default: a current Chrome on Linux.
	UserAgent string

	// ViewportWidth/Height applied to every tab. Default: 1440x900.
	ViewportWidth  int
	ViewportHeight int

	// ResourceBlocking lists resource types to block (images, fonts, media,
	// stylesheets). Search result extraction needs none of them.
	ResourceBlocking []string

	// NavTimeout bounds a single navigation. Default: 30s.
	NavTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 3
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1440
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 900
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome process. The Pool borrows tabs from it; only
// Manager.Close is allowed to terminate Chrome.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool

	// launch and probe are seams for tests that have no Chrome to talk to.
	launch func() (*rod.Browser, *launcher.Launcher, error)
	probe  func(*rod.Browser) error
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	m := &Manager{cfg: cfg}
	m.launch = m.realLaunch
	m.probe = func(b *rod.Browser) error {
		_, err := proto.BrowserGetVersion{}.Call(b)
		return err
	}
	return m
}

// Start launches Chrome (or connects to a remote instance).
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	return m.launchLocked()
}

// Browser returns the current Rod browser handle, or nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser
}

// Healthy reports whether the Chrome connection still answers.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthyLocked()
}

func (m *Manager) healthyLocked() bool {
	return m.browser != nil && m.probe(m.browser) == nil
}

// Relaunch replaces a dead Chrome with a fresh one. When the process dies,
// every pooled tab is dead at once and each acquirer asks for a relaunch;
// callers serialize on the mutex, and anyone arriving after the first
// relaunch finds a live browser and leaves it alone, so a fresh instance is
// never torn down under an in-flight tab.
func (m *Manager) Relaunch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	if m.healthyLocked() {
		return nil
	}

	m.cfg.Logger.Info("browser: relaunching chrome")
	m.cleanupLocked()
	return m.launchLocked()
}

// Close shuts down Chrome. The only operation allowed to do so.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanupLocked()
	return nil
}

func (m *Manager) launchLocked() error {
	b, l, err := m.launch()
	if err != nil {
		return err
	}
	m.browser = b
	m.lnch = l
	return nil
}

func (m *Manager) realLaunch() (*rod.Browser, *launcher.Launcher, error) {
	log := m.cfg.Logger

	var wsURL string
	var l *launcher.Launcher
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l = launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		log.Info("browser: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Cleanup()
		}
		return nil, nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}

	return b, l, nil
}

func (m *Manager) cleanupLocked() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}
