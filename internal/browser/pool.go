package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/rankwatch/internal/pager"
)

// Pool hands out the fixed set of pre-warmed tabs. Tabs are reused across
// tasks rather than recreated, since tab startup dominates task latency; a
// released tab keeps its warm state (cookies, cached scripts) for the next
// keyword. One tab is never shared by two in-flight tasks.
type Pool struct {
	mgr   *Manager
	slots chan *Tab
}

// NewPool creates a pool over mgr. Call Start before Acquire.
func NewPool(mgr *Manager) *Pool {
	return &Pool{
		mgr:   mgr,
		slots: make(chan *Tab, mgr.cfg.PoolSize),
	}
}

// Start launches Chrome and pre-warms PoolSize tabs.
func (p *Pool) Start(ctx context.Context) error {
	if err := p.mgr.Start(ctx); err != nil {
		return err
	}
	for i := 0; i < p.mgr.cfg.PoolSize; i++ {
		tab, err := newTab(p.mgr.Browser(), &p.mgr.cfg)
		if err != nil {
			return fmt.Errorf("browser: warm tab %d: %w", i, err)
		}
		p.slots <- tab
	}
	p.mgr.cfg.Logger.Info("browser: pool warmed", "tabs", p.mgr.cfg.PoolSize)
	return nil
}

// Acquire blocks until a tab is free or ctx is done. Before handing a slot
// out it health-checks the tab; a dead tab (tab crash, Chrome gone) is
// replaced transparently, relaunching Chrome first if the whole process
// died. Waiting acquirers never see the failure.
func (p *Pool) Acquire(ctx context.Context) (pager.Driver, error) {
	select {
	case tab := <-p.slots:
		alive, err := p.ensureAlive(ctx, tab)
		if err != nil {
			return nil, err
		}
		return alive, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a tab to the pool. The tab is not torn down: warm reuse is
// the point of the pool. Always call Release, also after task failure.
func (p *Pool) Release(drv pager.Driver) {
	tab, ok := drv.(*Tab)
	if !ok || tab == nil {
		return
	}
	// Capacity equals pool size, so this never blocks.
	p.slots <- tab
}

// Close drains the pool and shuts Chrome down.
func (p *Pool) Close() {
	for {
		select {
		case tab := <-p.slots:
			tab.close()
		default:
			p.mgr.Close()
			return
		}
	}
}

func (p *Pool) ensureAlive(ctx context.Context, tab *Tab) (*Tab, error) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if tab.healthy(checkCtx) {
		return tab, nil
	}

	log := p.mgr.cfg.Logger
	log.Warn("browser: tab unhealthy, replacing")
	tab.close()

	if !p.mgr.Healthy() {
		if err := p.mgr.Relaunch(ctx); err != nil {
			// Put a placeholder slot back so the pool does not shrink, then
			// surface the failure to this acquirer only.
			p.slots <- tab
			return nil, fmt.Errorf("browser: relaunch for acquire: %w", err)
		}
	}

	fresh, err := newTab(p.mgr.Browser(), &p.mgr.cfg)
	if err != nil {
		p.slots <- tab
		return nil, fmt.Errorf("browser: replacement tab: %w", err)
	}
	return fresh, nil
}
