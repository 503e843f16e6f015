// Package httpapi exposes the tracker over HTTP: CRUD for places and
// keywords, rank history reads, and a server-sent-events endpoint that runs
// a tracking session and streams its progress to the caller.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/rankwatch/tracker"
)

// Runner starts tracking sessions. Implemented by *tracker.Tracker.
type Runner interface {
	TrackPlace(ctx context.Context, placeID string, extra ...tracker.Sink) error
}

// Store is the persistence surface the API needs beyond what the tracker
// itself uses. Implemented by *sqlstore.Store.
type Store interface {
	UpsertPlace(ctx context.Context, p *tracker.Place) error
	GetPlace(ctx context.Context, placeID string) (*tracker.Place, error)
	UpsertKeyword(ctx context.Context, kw *tracker.Keyword) error
	DeactivateKeyword(ctx context.Context, keywordID int64) error
	ListActiveKeywords(ctx context.Context, placeID string) ([]tracker.Keyword, error)
	RankHistory(ctx context.Context, keywordID int64, limit int) ([]tracker.Ranking, error)
}

// Server is the HTTP API.
type Server struct {
	runner Runner
	store  Store
	logger *slog.Logger
	router chi.Router
}

// New builds the API server and its routes.
func New(logger *slog.Logger, runner Runner, store Store) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{runner: runner, store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/places", func(r chi.Router) {
		r.Post("/", s.handleUpsertPlace)
		r.Route("/{placeID}", func(r chi.Router) {
			r.Get("/", s.handleGetPlace)
			r.Get("/keywords", s.handleListKeywords)
			r.Post("/keywords", s.handleAddKeyword)
		})
	})

	r.Route("/keywords/{keywordID}", func(r chi.Router) {
		r.Delete("/", s.handleDeactivateKeyword)
		r.Get("/history", s.handleHistory)
	})

	r.Post("/track/{placeID}", s.handleTrack)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpsertPlace(w http.ResponseWriter, r *http.Request) {
	var p tracker.Place
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode place: %w", err))
		return
	}
	if p.ID == "" || p.Name == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("place id and name are required"))
		return
	}
	if err := s.store.UpsertPlace(r.Context(), &p); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetPlace(w http.ResponseWriter, r *http.Request) {
	placeID := chi.URLParam(r, "placeID")
	p, err := s.store.GetPlace(r.Context(), placeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("place %s not found", placeID))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListKeywords(w http.ResponseWriter, r *http.Request) {
	keywords, err := s.store.ListActiveKeywords(r.Context(), chi.URLParam(r, "placeID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if keywords == nil {
		keywords = []tracker.Keyword{}
	}
	writeJSON(w, http.StatusOK, keywords)
}

func (s *Server) handleAddKeyword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text    string          `json:"text"`
		Surface tracker.Surface `json:"surface"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode keyword: %w", err))
		return
	}
	if body.Text == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("keyword text is required"))
		return
	}
	kw := tracker.Keyword{
		PlaceID: chi.URLParam(r, "placeID"),
		Text:    body.Text,
		Surface: body.Surface,
	}
	if err := s.store.UpsertKeyword(r.Context(), &kw); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, kw)
}

func (s *Server) handleDeactivateKeyword(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "keywordID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad keyword id"))
		return
	}
	if err := s.store.DeactivateKeyword(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "keywordID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad keyword id"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := s.store.RankHistory(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if history == nil {
		history = []tracker.Ranking{}
	}
	writeJSON(w, http.StatusOK, history)
}

// handleTrack runs a tracking session and streams its events as SSE. The
// connection stays open for the whole run; closing it cancels the session's
// context and the batch stops dequeuing keywords.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := tracker.CallbackSink(func(_ context.Context, ev tracker.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	placeID := chi.URLParam(r, "placeID")
	if err := s.runner.TrackPlace(r.Context(), placeID, sink); err != nil {
		// The terminal error event already went down the stream; nothing
		// more to send on an SSE response.
		s.logger.Warn("httpapi: tracking run failed", "place_id", placeID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
