package tracker

import (
	"context"
	"time"
)

// Place is the business listing being tracked. ID is the platform-assigned
// listing identifier; it is optional and not always reliable, in which case
// matching falls back to name equality alone. Name must be non-empty.
type Place struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Surface selects which search surface a keyword is tracked on.
type Surface string

const (
	SurfacePlace Surface = "place"
	SurfaceBlog  Surface = "blog"
)

// Keyword is one search query tracked for a place. Inactive keywords are
// kept but skipped until re-enabled.
type Keyword struct {
	ID          int64     `json:"id"`
	PlaceID     string    `json:"place_id"`
	Text        string    `json:"text"`
	Surface     Surface   `json:"surface"`
	Active      bool      `json:"active"`
	LastChecked time.Time `json:"last_checked,omitzero"`
}

// Competitor is one row of the top-N context stored with a ranking.
type Competitor struct {
	Rank      int    `json:"rank"`
	Name      string `json:"name"`
	ListingID string `json:"listing_id,omitempty"`
	Ad        bool   `json:"ad"`
}

// Ranking is the outcome of tracking one keyword on one run. OrganicRank and
// AdRank are independently nil; a listing can hold both slots on one page.
// Rows are appended once per (keyword, run date) and never mutated — that is
// the trend history.
type Ranking struct {
	KeywordID   int64        `json:"keyword_id"`
	SessionID   string       `json:"session_id"`
	OrganicRank *int         `json:"organic_rank"`
	AdRank      *int         `json:"ad_rank"`
	Found       bool         `json:"found"`
	TopTen      []Competitor `json:"top_ten,omitempty"`
	RunDate     string       `json:"run_date"` // YYYY-MM-DD in the tracking timezone
	CheckedAt   time.Time    `json:"checked_at"`
}

// SessionStatus is the TrackingSession state machine. A failed keyword
// within a session is terminal for that session; the next day's session is
// the retry mechanism.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// Session is one batch run across a place's active keywords on one calendar
// day.
type Session struct {
	ID        string        `json:"id"`
	PlaceID   string        `json:"place_id"`
	RunDate   string        `json:"run_date"`
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
}

// Snapshot is a per-session capture of the place's own listing metadata,
// independent of any keyword.
type Snapshot struct {
	SessionID   string    `json:"session_id"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"` // markdown
	Hours       string    `json:"hours,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Store is the persistence collaborator. Implementations must tolerate
// concurrent SaveRanking calls from sibling tasks; uniqueness of
// (keyword, run date) is the storage layer's job.
type Store interface {
	GetPlace(ctx context.Context, placeID string) (*Place, error)
	ListActiveKeywords(ctx context.Context, placeID string) ([]Keyword, error)

	CreateSession(ctx context.Context, s *Session) error
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// SaveRanking persists one keyword outcome, null ranks included, and
	// advances the keyword's last-checked timestamp. Persisting failures is
	// required: "last checked" must move even when tracking found nothing.
	SaveRanking(ctx context.Context, r *Ranking) error

	UpdateSessionProgress(ctx context.Context, sessionID string, completed int) error
	CompleteSession(ctx context.Context, sessionID string) error
	FailSession(ctx context.Context, sessionID string) error
}
