// Command rankwatch tracks where a place ranks in the platform's search
// results, per keyword, per day.
//
// Usage:
//
//	rankwatch -config rankwatch.yaml -serve :8080        # HTTP API + SSE
//	rankwatch -config rankwatch.yaml -place 12345        # run one session
//	rankwatch -place 12345 -keyword "맛집" -surface place  # spot check, no persistence
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/rankwatch/httpapi"
	"github.com/hazyhaar/rankwatch/internal/browser"
	"github.com/hazyhaar/rankwatch/schedule"
	"github.com/hazyhaar/rankwatch/sqlstore"
	"github.com/hazyhaar/rankwatch/tracker"
)

func main() {
	configPath := flag.String("config", "", "path to rankwatch.yaml config file")
	dbPath := flag.String("db", "rankwatch.db", "path to the SQLite database")
	serveAddr := flag.String("serve", "", "run the HTTP API on this address")
	daily := flag.String("daily", "", "with -serve: also run all places daily at this local time (HH:MM)")
	placeID := flag.String("place", "", "run one tracking session for this place")
	keyword := flag.String("keyword", "", "spot-check a single keyword (with -place)")
	surface := flag.String("surface", "place", "surface for -keyword: place or blog")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *dbPath, *serveAddr, *daily, *placeID, *keyword, *surface); err != nil {
		logger.Error("rankwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath, serveAddr, daily, placeID, keyword, surface string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := sqlstore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	mgrCfg := cfg.BrowserManagerConfig()
	mgrCfg.Logger = logger
	pool := browser.NewPool(browser.NewManager(mgrCfg))
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start browser pool: %w", err)
	}
	defer pool.Close()

	switch {
	case serveAddr != "":
		tr := tracker.New(cfg, logger, store, pool)
		if daily != "" {
			runOne := func(ctx context.Context, placeID string) error {
				return tr.TrackPlace(ctx, placeID)
			}
			sched := schedule.New(store, runOne, schedule.Options{
				At:                daily,
				TimezoneOffsetMin: cfg.TZOffsetMin(),
				Logger:            logger,
			})
			go sched.Run(ctx)
		}
		return runServe(ctx, logger, serveAddr, tr, store)

	case placeID != "" && keyword != "":
		tr := tracker.New(cfg, logger, store, pool)
		return runSpotCheck(ctx, tr, placeID, keyword, surface)

	case placeID != "":
		tr := tracker.New(cfg, logger, store, pool, tracker.NewStdoutSink(nil))
		return tr.TrackPlace(ctx, placeID)
	}

	fmt.Fprintln(os.Stderr, "usage: rankwatch -serve <addr> | -place <id> [-keyword <text>]")
	os.Exit(1)
	return nil
}

func loadConfig(path string) (*tracker.Config, error) {
	if path == "" {
		return tracker.DefaultConfig(), nil
	}
	cfg, err := tracker.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, logger *slog.Logger, addr string, tr *tracker.Tracker, store *sqlstore.Store) error {
	api := httpapi.New(logger, tr, store)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rankwatch: serving", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	}
}

func runSpotCheck(ctx context.Context, tr *tracker.Tracker, placeID, keyword, surface string) error {
	s := tracker.SurfacePlace
	if surface == string(tracker.SurfaceBlog) {
		s = tracker.SurfaceBlog
	}

	r, err := tr.TrackOne(ctx, placeID, keyword, s)
	if err != nil {
		return fmt.Errorf("spot check: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	os.Stdout.Write(data)
	os.Stdout.Write([]byte("\n"))
	return nil
}
