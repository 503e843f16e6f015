package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	ids []string
	err error
}

func (f *fakeLister) ListPlaceIDs(context.Context) ([]string, error) {
	return f.ids, f.err
}

type runRecorder struct {
	mu   sync.Mutex
	runs []string
	fail map[string]error
}

func (r *runRecorder) run(_ context.Context, placeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[placeID]; err != nil {
		return err
	}
	r.runs = append(r.runs, placeID)
	return nil
}

func newScheduler(lister PlaceLister, rec *runRecorder, at string, now time.Time) *Scheduler {
	s := New(lister, rec.run, Options{
		At:                at,
		TimezoneOffsetMin: 540,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s.now = func() time.Time { return now }
	return s
}

func TestTickDispatchesOncePerDay(t *testing.T) {
	rec := &runRecorder{}
	// 01:00 UTC = 10:00 UTC+9, past the 04:00 mark.
	now := time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC)
	s := newScheduler(&fakeLister{ids: []string{"p1", "p2"}}, rec, "04:00", now)

	s.tick(context.Background())
	require.Equal(t, []string{"p1", "p2"}, rec.runs)
	assert.Equal(t, int64(2), s.Stats().Runs)

	// Same day: nothing more.
	s.tick(context.Background())
	assert.Len(t, rec.runs, 2)

	// Next day: runs again.
	s.now = func() time.Time { return now.Add(24 * time.Hour) }
	s.tick(context.Background())
	assert.Len(t, rec.runs, 4)
}

func TestTickWaitsForConfiguredTime(t *testing.T) {
	rec := &runRecorder{}
	// 17:00 UTC = 02:00 UTC+9 next day, before the 04:00 mark.
	now := time.Date(2025, 3, 1, 17, 0, 0, 0, time.UTC)
	s := newScheduler(&fakeLister{ids: []string{"p1"}}, rec, "04:00", now)

	s.tick(context.Background())
	assert.Empty(t, rec.runs)

	// 20:00 UTC = 05:00 UTC+9: due.
	s.now = func() time.Time { return time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC) }
	s.tick(context.Background())
	assert.Equal(t, []string{"p1"}, rec.runs)
}

func TestTickRetriesOnlyFailedPlaces(t *testing.T) {
	rec := &runRecorder{fail: map[string]error{"p2": errors.New("chrome crashed")}}
	now := time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC)
	s := newScheduler(&fakeLister{ids: []string{"p1", "p2"}}, rec, "04:00", now)

	s.tick(context.Background())
	assert.Equal(t, []string{"p1"}, rec.runs)
	assert.Equal(t, int64(1), s.Stats().Errors)

	// p2 recovers; the day was not marked done, so the next tick retries it.
	// p1 already completed today and must not run again.
	rec.fail = nil
	s.tick(context.Background())
	assert.Equal(t, []string{"p1", "p2"}, rec.runs)

	// Day complete: further ticks do nothing.
	s.tick(context.Background())
	assert.Len(t, rec.runs, 2)
}

func TestTickPersistentFailureDoesNotRedispatchCompleted(t *testing.T) {
	rec := &runRecorder{fail: map[string]error{"p3": errors.New("place page gone")}}
	now := time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC)
	s := newScheduler(&fakeLister{ids: []string{"p1", "p2", "p3"}}, rec, "04:00", now)

	// Many retry ticks within the same day: only the broken place is retried,
	// the completed ones run exactly once.
	for i := 0; i < 5; i++ {
		s.tick(context.Background())
	}
	assert.Equal(t, []string{"p1", "p2"}, rec.runs)
	assert.Equal(t, int64(5), s.Stats().Errors)

	// Next day the slate is clean and every place runs again.
	rec.fail = nil
	s.now = func() time.Time { return now.Add(24 * time.Hour) }
	s.tick(context.Background())
	assert.Equal(t, []string{"p1", "p2", "p1", "p2", "p3"}, rec.runs)
}

func TestTickListError(t *testing.T) {
	rec := &runRecorder{}
	now := time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC)
	s := newScheduler(&fakeLister{err: errors.New("db closed")}, rec, "04:00", now)

	s.tick(context.Background())
	assert.Empty(t, rec.runs)
	assert.Equal(t, int64(1), s.Stats().Errors)
}

func TestRunStopsOnCancel(t *testing.T) {
	rec := &runRecorder{}
	s := newScheduler(&fakeLister{}, rec, "04:00", time.Now())
	s.opts.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
