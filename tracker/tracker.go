// Package tracker drives search-rank tracking batches: for one place and its
// active keywords it harvests ranked results from the platform's place and
// blog surfaces, matches the place by exact normalized name (or listing ID),
// and persists one rank snapshot per keyword per day.
//
// The tracker observes and records, it does not schedule: a caller (HTTP
// trigger, cron) invokes TrackPlace and consumes the progress-event stream.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/rankwatch/internal/fetch"
	"github.com/hazyhaar/rankwatch/internal/match"
	"github.com/hazyhaar/rankwatch/internal/pager"
	"github.com/hazyhaar/rankwatch/internal/queue"
	"github.com/hazyhaar/rankwatch/serp"
)

// DriverPool hands out browser tabs under the concurrency cap. The real
// implementation is internal/browser.Pool; tests substitute a fake.
type DriverPool interface {
	Acquire(ctx context.Context) (pager.Driver, error)
	Release(drv pager.Driver)
	Close()
}

// pageFetcher is the HTTP-only acquisition path (blog surface).
type pageFetcher interface {
	Page(ctx context.Context, rawURL, pageParam string, page int) (string, error)
}

// Tracker is the top-level orchestrator. Create one per process and share
// it: the browser pool it drives is the scarce resource.
type Tracker struct {
	cfg    *Config
	store  Store
	pool   DriverPool
	fetch  pageFetcher
	snap   *snapshotter
	sinks  sinkFanout
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// New creates a Tracker from configuration. The pool must already be
// started; the Tracker borrows tabs but never owns browser lifecycle.
func New(cfg *Config, logger *slog.Logger, store Store, pool DriverPool, sinks ...Sink) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:    cfg,
		store:  store,
		pool:   pool,
		fetch:  fetch.New(fetch.WithLogger(logger)),
		snap:   newSnapshotter(cfg.Snapshot),
		sinks:  sinkFanout{sinks: sinks, logger: logger},
		logger: logger,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// RunDate formats now as the calendar date in the zone offsetMin minutes
// east of UTC. Rank history is keyed by the target market's local day, so
// runs from servers in different regions land on the same date.
func RunDate(now time.Time, offsetMin int) string {
	zone := time.FixedZone(fmt.Sprintf("UTC%+d", offsetMin/60), offsetMin*60)
	return now.In(zone).Format("2006-01-02")
}

// TrackPlace runs one tracking session across every active keyword of the
// place. Keyword failures are warnings and the batch continues; session
// bookkeeping failures abort the run. Cancelling ctx stops dequeuing new
// keywords while in-flight ones drain and their results are persisted.
// Extra sinks receive this run's events in addition to the configured ones;
// an SSE handler subscribes its response stream this way.
func (t *Tracker) TrackPlace(ctx context.Context, placeID string, extra ...Sink) error {
	sinks := t.sinks.with(extra...)

	place, err := t.store.GetPlace(ctx, placeID)
	if err != nil {
		return t.abort(ctx, sinks, "", fmt.Errorf("tracker: load place %s: %w", placeID, err))
	}
	if place == nil || place.Name == "" {
		return t.abort(ctx, sinks, "", fmt.Errorf("tracker: place %s not found", placeID))
	}

	keywords, err := t.store.ListActiveKeywords(ctx, placeID)
	if err != nil {
		return t.abort(ctx, sinks, "", fmt.Errorf("tracker: list keywords: %w", err))
	}

	sess := &Session{
		ID:        t.newID(),
		PlaceID:   placeID,
		RunDate:   RunDate(t.now(), t.cfg.TZOffsetMin()),
		Total:     len(keywords),
		Status:    SessionInProgress,
		StartedAt: t.now(),
	}
	if err := t.store.CreateSession(ctx, sess); err != nil {
		return t.abort(ctx, sinks, "", fmt.Errorf("tracker: create session: %w", err))
	}

	log := t.logger.With("place_id", placeID, "session_id", sess.ID)
	log.Info("tracker: session started", "keywords", len(keywords), "run_date", sess.RunDate)

	t.captureSnapshot(ctx, place, sess)

	batchCtx, cancelBatch := context.WithCancel(ctx)
	defer cancelBatch()

	var (
		mu        sync.Mutex
		completed int
		succeeded int
		failed    int
		bookErr   error
	)

	bookkeeping := func(err error) {
		// First bookkeeping failure wins and stops dequeuing; the run is
		// reported failed after in-flight tasks drain.
		if bookErr == nil {
			bookErr = err
			cancelBatch()
		}
	}

	tasks := make([]queue.Task[*Ranking], 0, len(keywords))
	for _, kw := range keywords {
		tasks = append(tasks, queue.Task[*Ranking]{
			Key: fmt.Sprintf("%d", kw.ID),
			Do: func(taskCtx context.Context) (*Ranking, error) {
				outcome, trackErr := t.trackKeyword(taskCtx, place, kw)
				ranking := buildRanking(kw.ID, sess, outcome, t.now())

				mu.Lock()
				defer mu.Unlock()

				if err := t.store.SaveRanking(ctx, ranking); err != nil {
					bookkeeping(fmt.Errorf("tracker: save ranking %q: %w", kw.Text, err))
					return ranking, trackErr
				}

				completed++
				if err := t.store.UpdateSessionProgress(ctx, sess.ID, completed); err != nil {
					bookkeeping(fmt.Errorf("tracker: update progress: %w", err))
					return ranking, trackErr
				}

				ev := Event{
					Current:   completed,
					Total:     sess.Total,
					Keyword:   kw.Text,
					SessionID: sess.ID,
				}
				switch {
				case trackErr != nil:
					failed++
					ev.Type = EventWarning
					ev.Message = trackErr.Error()
					log.Warn("tracker: keyword failed", "keyword", kw.Text, "error", trackErr)
				case !ranking.Found:
					failed++
					ev.Type = EventWarning
					ev.Message = "not found within harvested results"
				default:
					succeeded++
					ev.Type = EventProgress
					ev.Message = rankMessage(ranking)
				}
				sinks.send(ctx, ev)

				return ranking, trackErr
			},
		})
	}

	queue.Run(batchCtx, t.cfg.Browser.PoolSize, tasks)

	mu.Lock()
	finalErr := bookErr
	okCount, failCount := succeeded, failed
	mu.Unlock()

	if finalErr != nil {
		return t.abort(ctx, sinks, sess.ID, finalErr)
	}

	if err := t.store.CompleteSession(ctx, sess.ID); err != nil {
		return t.abort(ctx, sinks, sess.ID, fmt.Errorf("tracker: complete session: %w", err))
	}

	log.Info("tracker: session completed", "succeeded", okCount, "failed", failCount)
	sinks.send(ctx, Event{
		Type:      EventComplete,
		Total:     sess.Total,
		Current:   sess.Total,
		Succeeded: okCount,
		Failed:    failCount,
		SessionID: sess.ID,
	})
	return nil
}

// TrackOne checks a single keyword outside any session: a spot check for
// operators. Nothing is persisted.
func (t *Tracker) TrackOne(ctx context.Context, placeID, keyword string, surface Surface) (*Ranking, error) {
	place, err := t.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, fmt.Errorf("tracker: load place %s: %w", placeID, err)
	}
	if place == nil {
		return nil, fmt.Errorf("tracker: place %s not found", placeID)
	}

	kw := Keyword{Text: keyword, Surface: surface}
	outcome, err := t.trackKeyword(ctx, place, kw)
	if err != nil {
		return nil, err
	}
	sess := &Session{RunDate: RunDate(t.now(), t.cfg.TZOffsetMin())}
	return buildRanking(0, sess, outcome, t.now()), nil
}

// trackKeyword harvests one keyword's results and matches the place.
// Steps are strictly sequential: navigate, enter frame, load, parse, match.
func (t *Tracker) trackKeyword(ctx context.Context, place *Place, kw Keyword) (*match.Outcome, error) {
	sc := t.surfaceConfig(kw.Surface)

	var entries []serp.Entry
	if sc.HTTPFirst {
		var sufficient bool
		var err error
		entries, sufficient, err = t.harvestHTTP(ctx, sc, kw.Text)
		if err != nil {
			return nil, err
		}
		if !sufficient {
			// Static markup had no results: the surface is being script
			// rendered for this query. Escalate to a browser tab.
			entries, err = t.harvestBrowser(ctx, sc, kw.Text)
			if err != nil {
				return nil, err
			}
		}
	} else {
		var err error
		entries, err = t.harvestBrowser(ctx, sc, kw.Text)
		if err != nil {
			return nil, err
		}
	}

	outcome := match.Match(entries, place.Name, place.ID)
	return &outcome, nil
}

// harvestBrowser runs the browser path: borrow a tab, navigate, enter the
// results iframe when the surface uses one, grow the list, serialize it.
// The tab goes back to the pool warm, also on failure.
func (t *Tracker) harvestBrowser(ctx context.Context, sc SurfaceConfig, keyword string) ([]serp.Entry, error) {
	drv, err := t.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracker: acquire tab: %w", err)
	}
	defer t.pool.Release(drv)

	if err := drv.Navigate(ctx, sc.SearchURLFor(keyword)); err != nil {
		return nil, err
	}

	doc := drv
	if sc.Selectors.Frame != "" {
		doc, err = drv.EnterFrame(ctx, sc.Selectors.Frame)
		if err != nil {
			return nil, err
		}
	}

	if _, err := pager.LoadMore(ctx, doc, t.cfg.MaxResults, pager.Options{
		ItemSelector:     sc.Selectors.Item,
		ListSelector:     sc.Selectors.List,
		NextPageSelector: sc.Selectors.NextPage,
		MaxAttempts:      t.cfg.LoadAttempts,
		Settle:           t.cfg.Settle,
	}); err != nil {
		return nil, err
	}

	listSel := sc.Selectors.List
	if listSel == "" {
		listSel = "body"
	}
	html, err := doc.HTML(ctx, listSel)
	if err != nil {
		return nil, err
	}

	return serp.ParseList(html, sc.Selectors), nil
}

// harvestHTTP pages through a server-rendered surface. Returns
// sufficient=false when the first page carries no parseable results, the
// signal to escalate to a browser tab.
func (t *Tracker) harvestHTTP(ctx context.Context, sc SurfaceConfig, keyword string) ([]serp.Entry, bool, error) {
	searchURL := sc.SearchURLFor(keyword)
	pageSize := sc.PageSize
	if pageSize <= 0 {
		pageSize = 30
	}
	pages := (t.cfg.MaxResults + pageSize - 1) / pageSize

	var entries []serp.Entry
	adOffset, organicOffset := 0, 0

	for p := 0; p < pages; p++ {
		start := p*pageSize + 1
		html, err := t.fetch.Page(ctx, searchURL, sc.PageParam, start)
		if err != nil {
			if p == 0 {
				return nil, false, fmt.Errorf("tracker: fetch page: %w", err)
			}
			// Later pages failing truncates the harvest; what we have is
			// still a valid (shorter) result set.
			t.logger.Warn("tracker: page fetch failed mid-harvest",
				"keyword", keyword, "page", p+1, "error", err)
			break
		}

		batch := serp.ParseListOffset(html, sc.Selectors, adOffset, organicOffset)
		if len(batch) == 0 {
			if p == 0 {
				return nil, false, nil
			}
			break
		}

		for _, e := range batch {
			if e.Ad {
				adOffset = e.Position
			} else {
				organicOffset = e.Position
			}
		}
		entries = append(entries, batch...)

		if len(batch) < pageSize {
			break
		}
	}

	return entries, true, nil
}

// captureSnapshot records the place's own listing metadata once per
// session. Snapshot failures are warnings: rank tracking proceeds without.
func (t *Tracker) captureSnapshot(ctx context.Context, place *Place, sess *Session) {
	drv, err := t.pool.Acquire(ctx)
	if err != nil {
		t.logger.Warn("tracker: snapshot tab acquire failed", "error", err)
		return
	}
	defer t.pool.Release(drv)

	snap, err := t.snap.capture(ctx, drv, place.ID, sess.ID, t.now())
	if err != nil {
		t.logger.Warn("tracker: snapshot capture failed", "place_id", place.ID, "error", err)
		return
	}
	if err := t.store.SaveSnapshot(ctx, snap); err != nil {
		t.logger.Warn("tracker: snapshot save failed", "error", err)
	}
}

func (t *Tracker) surfaceConfig(s Surface) SurfaceConfig {
	if s == SurfaceBlog {
		return t.cfg.Blog
	}
	return t.cfg.Place
}

// abort marks the session failed (when one exists), emits the terminal
// error event, and returns err.
func (t *Tracker) abort(ctx context.Context, sinks sinkFanout, sessionID string, err error) error {
	if sessionID != "" {
		if failErr := t.store.FailSession(ctx, sessionID); failErr != nil {
			t.logger.Error("tracker: fail session", "session_id", sessionID, "error", failErr)
		}
	}
	t.logger.Error("tracker: run aborted", "error", err)
	sinks.send(ctx, Event{Type: EventError, Message: err.Error(), SessionID: sessionID})
	return err
}

func buildRanking(keywordID int64, sess *Session, outcome *match.Outcome, now time.Time) *Ranking {
	r := &Ranking{
		KeywordID: keywordID,
		SessionID: sess.ID,
		RunDate:   sess.RunDate,
		CheckedAt: now,
	}
	if outcome == nil {
		return r
	}
	r.OrganicRank = outcome.OrganicRank
	r.AdRank = outcome.AdRank
	r.Found = outcome.Found
	for _, c := range outcome.TopTen {
		r.TopTen = append(r.TopTen, Competitor{
			Rank:      c.Rank,
			Name:      c.Name,
			ListingID: c.ListingID,
			Ad:        c.Ad,
		})
	}
	return r
}

func rankMessage(r *Ranking) string {
	switch {
	case r.OrganicRank != nil && r.AdRank != nil:
		return fmt.Sprintf("organic #%d, ad #%d", *r.OrganicRank, *r.AdRank)
	case r.OrganicRank != nil:
		return fmt.Sprintf("organic #%d", *r.OrganicRank)
	case r.AdRank != nil:
		return fmt.Sprintf("ad #%d", *r.AdRank)
	default:
		return "not found"
	}
}
