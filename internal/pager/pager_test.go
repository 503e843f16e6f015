package pager

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakePage simulates a results page. Each growth step is the item count after
// one successful load trigger.
type fakePage struct {
	counts   []int // item count per observation; last value repeats
	reads    int
	clicks   int
	scrolls  int
	hasNext  bool
	countErr error
}

func (f *fakePage) Navigate(ctx context.Context, url string) error { return nil }
func (f *fakePage) EnterFrame(ctx context.Context, sel string) (Driver, error) {
	return f, nil
}
func (f *fakePage) Eval(ctx context.Context, js string) (string, error) { return "", nil }
func (f *fakePage) HTML(ctx context.Context, sel string) (string, error) {
	return "", nil
}

func (f *fakePage) Count(ctx context.Context, sel string) (int, error) {
	if sel == "a.next" {
		if f.hasNext {
			return 1, nil
		}
		return 0, nil
	}
	if f.countErr != nil {
		return 0, f.countErr
	}
	i := f.reads
	if i >= len(f.counts) {
		i = len(f.counts) - 1
	}
	f.reads++
	return f.counts[i], nil
}

func (f *fakePage) Click(ctx context.Context, sel string) error {
	f.clicks++
	return nil
}

func (f *fakePage) ScrollBottom(ctx context.Context, sel string) error {
	f.scrolls++
	return nil
}

func opts() Options {
	return Options{
		ItemSelector: "li.item",
		ListSelector: "ul.lst",
		Settle:       time.Millisecond,
	}
}

func TestLoadMoreReachesTarget(t *testing.T) {
	f := &fakePage{counts: []int{20, 40, 60, 80}}
	got, err := LoadMore(context.Background(), f, 70, opts())
	if err != nil {
		t.Fatal(err)
	}
	if got < 70 {
		t.Fatalf("expected >= 70 items, got %d", got)
	}
}

func TestLoadMoreStalledPageTerminates(t *testing.T) {
	f := &fakePage{counts: []int{20}} // never grows
	got, err := LoadMore(context.Background(), f, 300, opts())
	if err != nil {
		t.Fatal(err)
	}
	if got != 20 {
		t.Fatalf("expected stalled count 20, got %d", got)
	}
	if f.scrolls != 1 {
		t.Fatalf("expected exactly one trigger before exhaustion, got %d", f.scrolls)
	}
}

func TestLoadMoreBoundedAttempts(t *testing.T) {
	// Grows by one forever; the attempt budget must stop it.
	counts := make([]int, 64)
	for i := range counts {
		counts[i] = i + 1
	}
	f := &fakePage{counts: counts}

	o := opts()
	o.MaxAttempts = 10
	got, err := LoadMore(context.Background(), f, 1000, o)
	if err != nil {
		t.Fatal(err)
	}
	if got > 11 {
		t.Fatalf("attempt bound not honored: reached %d items", got)
	}
	if f.scrolls > 10 {
		t.Fatalf("expected <= 10 triggers, got %d", f.scrolls)
	}
}

func TestLoadMorePrefersPageControl(t *testing.T) {
	f := &fakePage{counts: []int{20, 40, 60}, hasNext: true}
	if _, err := LoadMore(context.Background(), f, 60, opts2()); err != nil {
		t.Fatal(err)
	}
	if f.clicks == 0 {
		t.Fatal("expected next-page clicks, got none")
	}
	if f.scrolls != 0 {
		t.Fatalf("expected no scrolling while page control exists, got %d", f.scrolls)
	}
}

func opts2() Options {
	o := opts()
	o.NextPageSelector = "a.next"
	return o
}

func TestLoadMoreTargetAlreadyPresent(t *testing.T) {
	f := &fakePage{counts: []int{100}}
	got, err := LoadMore(context.Background(), f, 50, opts())
	if err != nil {
		t.Fatal(err)
	}
	if got != 100 || f.scrolls != 0 || f.clicks != 0 {
		t.Fatalf("expected no triggers when target already met: count=%d scrolls=%d clicks=%d",
			got, f.scrolls, f.clicks)
	}
}

func TestLoadMoreContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakePage{counts: []int{1, 2, 3}}
	_, err := LoadMore(ctx, f, 10, opts())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLoadMoreCountError(t *testing.T) {
	f := &fakePage{countErr: errors.New("frame detached")}
	if _, err := LoadMore(context.Background(), f, 10, opts()); err == nil {
		t.Fatal("expected error when counting fails")
	}
}
