package browser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

func testManager() *Manager {
	return NewManager(Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestHealthyBeforeStart(t *testing.T) {
	m := testManager()
	if m.Healthy() {
		t.Fatal("manager with no browser reported healthy")
	}
}

func TestRelaunchKeepsLiveBrowser(t *testing.T) {
	m := testManager()
	live := &rod.Browser{}
	m.browser = live
	m.probe = func(*rod.Browser) error { return nil }
	m.launch = func() (*rod.Browser, *launcher.Launcher, error) {
		t.Fatal("healthy browser must not be relaunched")
		return nil, nil, nil
	}

	if err := m.Relaunch(context.Background()); err != nil {
		t.Fatalf("relaunch on healthy browser: %v", err)
	}
	if m.Browser() != live {
		t.Fatal("live browser handle was replaced")
	}
}

func TestRelaunchConcurrentAcquirersShareOneBrowser(t *testing.T) {
	// Chrome dying kills every pooled tab at once, so several acquirers ask
	// for a relaunch together. Exactly one launch may happen; the rest must
	// find the fresh browser and keep it.
	m := testManager()
	dead := &rod.Browser{}
	fresh := &rod.Browser{}
	m.browser = dead

	m.probe = func(b *rod.Browser) error {
		if b == dead {
			return errors.New("connection lost")
		}
		return nil
	}

	launches := 0
	m.launch = func() (*rod.Browser, *launcher.Launcher, error) {
		launches++ // manager mutex held here
		return fresh, nil, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Relaunch(context.Background()); err != nil {
				t.Errorf("relaunch: %v", err)
			}
		}()
	}
	wg.Wait()

	if launches != 1 {
		t.Fatalf("expected exactly one launch, got %d", launches)
	}
	if m.Browser() != fresh {
		t.Fatal("fresh browser was torn down by a second relauncher")
	}
}

func TestRelaunchAfterClose(t *testing.T) {
	m := testManager()
	m.Close()
	if err := m.Relaunch(context.Background()); err == nil {
		t.Fatal("relaunch after close must fail")
	}
}
