// Package pager grows a loaded results page until enough entries are present.
// The platform serves results behind infinite scroll on some surfaces and
// numbered page controls on others; the driver handles both and guarantees
// termination even when the page stops responding.
package pager

import (
	"context"
	"fmt"
	"time"
)

// Driver is the capability surface a loaded page exposes to the tracking
// pipeline. The real implementation wraps a browser tab; tests substitute a
// fake. Keeping the pipeline on this interface is what keeps the automation
// library swappable.
type Driver interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// EnterFrame resolves the iframe matching selector and returns a driver
	// scoped to its document.
	EnterFrame(ctx context.Context, selector string) (Driver, error)

	// Eval runs js in the page and returns its string result.
	Eval(ctx context.Context, js string) (string, error)

	// Count reports how many nodes match selector right now.
	Count(ctx context.Context, selector string) (int, error)

	// Click clicks the first node matching selector. Returns an error if no
	// such node exists.
	Click(ctx context.Context, selector string) error

	// ScrollBottom scrolls the container matching selector (or the document
	// when empty) to its bottom.
	ScrollBottom(ctx context.Context, selector string) error

	// HTML serialises the subtree matching selector as outer HTML.
	HTML(ctx context.Context, selector string) (string, error)
}

// Options bound one LoadMore run.
type Options struct {
	// ItemSelector counts loaded results.
	ItemSelector string

	// ListSelector is the scroll container. Empty scrolls the document.
	ListSelector string

	// NextPageSelector is the preferred page control. Clicking a numbered
	// page yields a more complete, deduplicated set than scrolling, so it
	// wins whenever the control exists.
	NextPageSelector string

	// MaxAttempts bounds load triggers. Default 10.
	MaxAttempts int

	// Settle is the pause after each trigger for the page to append rows.
	// Default 800ms.
	Settle time.Duration
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.Settle <= 0 {
		o.Settle = 800 * time.Millisecond
	}
}

// LoadMore triggers result loading until target items are present, the page
// stops growing, or the attempt budget runs out. A page that no longer grows
// is exhausted, which is a normal terminal state, not an error: short result
// sets are real. The count reached is returned.
func LoadMore(ctx context.Context, drv Driver, target int, opts Options) (int, error) {
	opts.defaults()

	count, err := drv.Count(ctx, opts.ItemSelector)
	if err != nil {
		return 0, fmt.Errorf("pager: count: %w", err)
	}

	for attempt := 0; attempt < opts.MaxAttempts && count < target; attempt++ {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		if err := trigger(ctx, drv, opts); err != nil {
			return count, fmt.Errorf("pager: trigger: %w", err)
		}

		if err := sleep(ctx, opts.Settle); err != nil {
			return count, err
		}

		next, err := drv.Count(ctx, opts.ItemSelector)
		if err != nil {
			return count, fmt.Errorf("pager: recount: %w", err)
		}
		if next <= count {
			// No growth after a trigger: the result set is exhausted.
			return next, nil
		}
		count = next
	}

	return count, nil
}

func trigger(ctx context.Context, drv Driver, opts Options) error {
	if opts.NextPageSelector != "" {
		if n, err := drv.Count(ctx, opts.NextPageSelector); err == nil && n > 0 {
			if err := drv.Click(ctx, opts.NextPageSelector); err == nil {
				return nil
			}
			// Stale control: fall through to scrolling.
		}
	}
	return drv.ScrollBottom(ctx, opts.ListSelector)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
