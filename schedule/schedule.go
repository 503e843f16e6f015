// Package schedule re-runs tracking sessions once per day. Rank history is
// keyed by run date, so the scheduler's contract is simple: for every known
// place, make sure a session ran on today's date (in the tracking timezone)
// once the configured local time has passed.
package schedule

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// RunFunc runs one tracking session for a place. Implemented by a closure
// over tracker.TrackPlace.
type RunFunc func(ctx context.Context, placeID string) error

// PlaceLister enumerates the places to track. Implemented by sqlstore.Store.
type PlaceLister interface {
	ListPlaceIDs(ctx context.Context) ([]string, error)
}

// Options tunes the scheduler.
type Options struct {
	// At is the local wall-clock time (HH:MM) after which today's sessions
	// run. Default: "04:00" — search results are stable and traffic is low.
	At string

	// TimezoneOffsetMin positions the local day, minutes east of UTC. Must
	// match the tracker's run-date timezone or sessions double up.
	TimezoneOffsetMin int

	// Interval is the polling frequency. Default: 1m.
	Interval time.Duration

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.At == "" {
		o.At = "04:00"
	}
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Scheduler drives the daily loop. Safe for concurrent Stats reads while
// Run is looping.
type Scheduler struct {
	places PlaceLister
	run    RunFunc
	opts   Options

	// lastDate is the run date most recently dispatched in full. done marks
	// the places already tracked for doneDate, so a retry tick re-runs only
	// the failed ones. All three are guarded by the loop (single writer).
	lastDate string
	doneDate string
	done     map[string]bool

	// now is the clock, injectable in tests.
	now func() time.Time

	runs   atomic.Int64
	errors atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Runs   int64 `json:"runs"`
	Errors int64 `json:"errors"`
}

// New creates a Scheduler. Call Run to start the loop.
func New(places PlaceLister, run RunFunc, opts Options) *Scheduler {
	opts.defaults()
	return &Scheduler{places: places, run: run, opts: opts, now: time.Now}
}

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	return Stats{Runs: s.runs.Load(), Errors: s.errors.Load()}
}

// Run blocks until ctx is cancelled, dispatching each place's session once
// per run date after the configured time of day. A failed session is counted
// and retried on the next poll tick; places that already completed today are
// skipped on retry, and the run date only advances once every place
// succeeded, so a transient failure does not skip a day.
func (s *Scheduler) Run(ctx context.Context) {
	log := s.opts.Logger
	log.Info("schedule: started", "at", s.opts.At, "interval", s.opts.Interval)

	// First check happens immediately: a process restarted after the
	// configured time still runs today's sessions.
	s.tick(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("schedule: stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	log := s.opts.Logger

	now := s.localNow()
	date := now.Format("2006-01-02")
	if date == s.lastDate || !s.due(now) {
		return
	}
	if date != s.doneDate {
		s.doneDate = date
		s.done = make(map[string]bool)
	}

	placeIDs, err := s.places.ListPlaceIDs(ctx)
	if err != nil {
		s.errors.Add(1)
		log.Warn("schedule: list places failed", "error", err)
		return
	}

	allOK := true
	for _, id := range placeIDs {
		if s.done[id] {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if err := s.run(ctx, id); err != nil {
			allOK = false
			s.errors.Add(1)
			log.Warn("schedule: session failed", "place_id", id, "error", err)
			continue
		}
		s.done[id] = true
		s.runs.Add(1)
	}

	if allOK {
		s.lastDate = date
		log.Info("schedule: day dispatched", "run_date", date, "places", len(placeIDs))
	}
}

func (s *Scheduler) localNow() time.Time {
	zone := time.FixedZone("tracking", s.opts.TimezoneOffsetMin*60)
	return s.now().In(zone)
}

// due reports whether now has passed the configured time of day.
func (s *Scheduler) due(now time.Time) bool {
	at, err := time.Parse("15:04", s.opts.At)
	if err != nil {
		return true
	}
	mark := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	return !now.Before(mark)
}
