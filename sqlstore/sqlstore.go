// Package sqlstore persists places, keywords, sessions and rank history in
// SQLite. One file is the whole deployment state: rank history is
// append-only, one row per keyword per run date, and re-running a day's
// session overwrites that day's row rather than duplicating it.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/rankwatch/dbopen"
	"github.com/hazyhaar/rankwatch/tracker"
)

// Schema is the full database schema. Idempotent; applied on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS places (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    url        TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS keywords (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    place_id     TEXT NOT NULL REFERENCES places(id) ON DELETE CASCADE,
    text         TEXT NOT NULL,
    surface      TEXT NOT NULL DEFAULT 'place',
    active       INTEGER NOT NULL DEFAULT 1,
    last_checked TEXT NOT NULL DEFAULT '',
    UNIQUE(place_id, text, surface)
);

CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    place_id   TEXT NOT NULL REFERENCES places(id) ON DELETE CASCADE,
    run_date   TEXT NOT NULL,
    total      INTEGER NOT NULL,
    completed  INTEGER NOT NULL DEFAULT 0,
    status     TEXT NOT NULL,
    started_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rankings (
    keyword_id   INTEGER NOT NULL REFERENCES keywords(id) ON DELETE CASCADE,
    session_id   TEXT NOT NULL,
    run_date     TEXT NOT NULL,
    organic_rank INTEGER,
    ad_rank      INTEGER,
    found        INTEGER NOT NULL DEFAULT 0,
    top_ten      TEXT NOT NULL DEFAULT '[]',
    checked_at   TEXT NOT NULL,
    UNIQUE(keyword_id, run_date)
);

CREATE INDEX IF NOT EXISTS idx_rankings_keyword ON rankings(keyword_id, run_date);

CREATE TABLE IF NOT EXISTS snapshots (
    session_id  TEXT NOT NULL,
    category    TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    hours       TEXT NOT NULL DEFAULT '',
    keywords    TEXT NOT NULL DEFAULT '[]',
    captured_at TEXT NOT NULL
);
`

const timeLayout = "2006-01-02 15:04:05"

// Store implements tracker.Store over SQLite.
type Store struct {
	db *sql.DB
}

var _ tracker.Store = (*Store)(nil)

// Open opens (and migrates) the database at path.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already opened database. The schema must be applied.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// UpsertPlace inserts or updates a place.
func (s *Store) UpsertPlace(ctx context.Context, p *tracker.Place) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO places (id, name, url) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, url = excluded.url`,
		p.ID, p.Name, p.URL)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert place: %w", err)
	}
	return nil
}

// GetPlace returns the place or nil when absent.
func (s *Store) GetPlace(ctx context.Context, placeID string) (*tracker.Place, error) {
	var p tracker.Place
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, url FROM places WHERE id = ?`, placeID).
		Scan(&p.ID, &p.Name, &p.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get place: %w", err)
	}
	return &p, nil
}

// ListPlaceIDs returns every known place ID, oldest first.
func (s *Store) ListPlaceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM places ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list places: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlstore: scan place id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertKeyword inserts a keyword or re-activates an existing one. The
// keyword's ID is filled in on return.
func (s *Store) UpsertKeyword(ctx context.Context, kw *tracker.Keyword) error {
	surface := kw.Surface
	if surface == "" {
		surface = tracker.SurfacePlace
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keywords (place_id, text, surface, active) VALUES (?, ?, ?, 1)
		ON CONFLICT(place_id, text, surface) DO UPDATE SET active = 1`,
		kw.PlaceID, kw.Text, string(surface))
	if err != nil {
		return fmt.Errorf("sqlstore: upsert keyword: %w", err)
	}
	return s.db.QueryRowContext(ctx,
		`SELECT id FROM keywords WHERE place_id = ? AND text = ? AND surface = ?`,
		kw.PlaceID, kw.Text, string(surface)).Scan(&kw.ID)
}

// DeactivateKeyword marks a keyword inactive. History is kept.
func (s *Store) DeactivateKeyword(ctx context.Context, keywordID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE keywords SET active = 0 WHERE id = ?`, keywordID)
	if err != nil {
		return fmt.Errorf("sqlstore: deactivate keyword: %w", err)
	}
	return nil
}

// ListActiveKeywords returns the place's active keywords, oldest first.
func (s *Store) ListActiveKeywords(ctx context.Context, placeID string) ([]tracker.Keyword, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, place_id, text, surface, active, last_checked
		FROM keywords WHERE place_id = ? AND active = 1 ORDER BY id`, placeID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list keywords: %w", err)
	}
	defer rows.Close()

	var out []tracker.Keyword
	for rows.Next() {
		var kw tracker.Keyword
		var surface, lastChecked string
		var active int
		if err := rows.Scan(&kw.ID, &kw.PlaceID, &kw.Text, &surface, &active, &lastChecked); err != nil {
			return nil, fmt.Errorf("sqlstore: scan keyword: %w", err)
		}
		kw.Surface = tracker.Surface(surface)
		kw.Active = active == 1
		if lastChecked != "" {
			kw.LastChecked, _ = time.Parse(timeLayout, lastChecked)
		}
		out = append(out, kw)
	}
	return out, rows.Err()
}

// CreateSession inserts a new tracking session row.
func (s *Store) CreateSession(ctx context.Context, sess *tracker.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, place_id, run_date, total, completed, status, started_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		sess.ID, sess.PlaceID, sess.RunDate, sess.Total, string(sess.Status),
		sess.StartedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("sqlstore: create session: %w", err)
	}
	return nil
}

// GetSession returns the session or nil when absent.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*tracker.Session, error) {
	var sess tracker.Session
	var status, startedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, place_id, run_date, total, completed, status, started_at
		FROM sessions WHERE id = ?`, sessionID).
		Scan(&sess.ID, &sess.PlaceID, &sess.RunDate, &sess.Total, &sess.Completed, &status, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get session: %w", err)
	}
	sess.Status = tracker.SessionStatus(status)
	sess.StartedAt, _ = time.Parse(timeLayout, startedAt)
	return &sess, nil
}

// SaveRanking persists one keyword outcome and advances the keyword's
// last-checked timestamp in the same transaction. Re-running a keyword on
// the same run date replaces that date's row.
func (s *Store) SaveRanking(ctx context.Context, r *tracker.Ranking) error {
	topTen, err := json.Marshal(r.TopTen)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal top ten: %w", err)
	}

	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rankings (keyword_id, session_id, run_date, organic_rank, ad_rank, found, top_ten, checked_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(keyword_id, run_date) DO UPDATE SET
				session_id   = excluded.session_id,
				organic_rank = excluded.organic_rank,
				ad_rank      = excluded.ad_rank,
				found        = excluded.found,
				top_ten      = excluded.top_ten,
				checked_at   = excluded.checked_at`,
			r.KeywordID, r.SessionID, r.RunDate,
			nullableInt(r.OrganicRank), nullableInt(r.AdRank),
			boolInt(r.Found), string(topTen),
			r.CheckedAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("sqlstore: save ranking: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE keywords SET last_checked = ? WHERE id = ?`,
			r.CheckedAt.UTC().Format(timeLayout), r.KeywordID); err != nil {
			return fmt.Errorf("sqlstore: touch keyword: %w", err)
		}
		return nil
	})
}

// RankHistory returns a keyword's rank rows, newest first, at most limit.
func (s *Store) RankHistory(ctx context.Context, keywordID int64, limit int) ([]tracker.Ranking, error) {
	if limit <= 0 {
		limit = 90
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT keyword_id, session_id, run_date, organic_rank, ad_rank, found, top_ten, checked_at
		FROM rankings WHERE keyword_id = ? ORDER BY run_date DESC LIMIT ?`,
		keywordID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: rank history: %w", err)
	}
	defer rows.Close()

	var out []tracker.Ranking
	for rows.Next() {
		var r tracker.Ranking
		var organic, ad sql.NullInt64
		var found int
		var topTen, checkedAt string
		if err := rows.Scan(&r.KeywordID, &r.SessionID, &r.RunDate, &organic, &ad, &found, &topTen, &checkedAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scan ranking: %w", err)
		}
		if organic.Valid {
			v := int(organic.Int64)
			r.OrganicRank = &v
		}
		if ad.Valid {
			v := int(ad.Int64)
			r.AdRank = &v
		}
		r.Found = found == 1
		if err := json.Unmarshal([]byte(topTen), &r.TopTen); err != nil {
			return nil, fmt.Errorf("sqlstore: unmarshal top ten: %w", err)
		}
		r.CheckedAt, _ = time.Parse(timeLayout, checkedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveSnapshot stores one listing snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap *tracker.Snapshot) error {
	keywords, err := json.Marshal(snap.Keywords)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal snapshot keywords: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, category, description, hours, keywords, captured_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.SessionID, snap.Category, snap.Description, snap.Hours,
		string(keywords), snap.CapturedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("sqlstore: save snapshot: %w", err)
	}
	return nil
}

// UpdateSessionProgress records how many keywords have resolved so far.
func (s *Store) UpdateSessionProgress(ctx context.Context, sessionID string, completed int) error {
	return s.setSession(ctx, sessionID,
		`UPDATE sessions SET completed = ? WHERE id = ?`, completed, sessionID)
}

// CompleteSession marks the session completed.
func (s *Store) CompleteSession(ctx context.Context, sessionID string) error {
	return s.setSession(ctx, sessionID,
		`UPDATE sessions SET status = ? WHERE id = ?`, string(tracker.SessionCompleted), sessionID)
}

// FailSession marks the session failed.
func (s *Store) FailSession(ctx context.Context, sessionID string) error {
	return s.setSession(ctx, sessionID,
		`UPDATE sessions SET status = ? WHERE id = ?`, string(tracker.SessionFailed), sessionID)
}

func (s *Store) setSession(ctx context.Context, sessionID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlstore: update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("sqlstore: session %s not found", sessionID)
	}
	return nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
