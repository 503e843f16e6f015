package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/rankwatch/internal/pager"
)

// snapshotter captures a place's own listing metadata once per session.
// Descriptions arrive as rich HTML; they are sanitized and stored as
// markdown so downstream consumers never handle raw platform markup.
type snapshotter struct {
	cfg       SnapshotConfig
	sanitizer *bluemonday.Policy
	md        *converter.Converter
}

func newSnapshotter(cfg SnapshotConfig) *snapshotter {
	return &snapshotter{
		cfg:       cfg,
		sanitizer: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// capture navigates the place's home page and extracts its metadata. The
// tab is borrowed from the pool by the caller, who also supplies the
// session's clock reading.
func (s *snapshotter) capture(ctx context.Context, drv pager.Driver, placeID, sessionID string, capturedAt time.Time) (*Snapshot, error) {
	if err := drv.Navigate(ctx, fmt.Sprintf(s.cfg.HomeURL, placeID)); err != nil {
		return nil, fmt.Errorf("tracker: snapshot navigate: %w", err)
	}

	html, err := drv.HTML(ctx, s.cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("tracker: snapshot read: %w", err)
	}

	snap := s.parse(html)
	snap.SessionID = sessionID
	snap.CapturedAt = capturedAt
	return snap, nil
}

// parse extracts the snapshot fields from serialized listing HTML. Absent
// selectors leave fields empty; a sparse snapshot is still worth keeping.
func (s *snapshotter) parse(html string) *Snapshot {
	snap := &Snapshot{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return snap
	}

	snap.Category = strings.TrimSpace(doc.Find(s.cfg.Category).First().Text())
	snap.Hours = strings.TrimSpace(doc.Find(s.cfg.Hours).First().Text())

	doc.Find(s.cfg.Keyword).Each(func(_ int, sel *goquery.Selection) {
		if kw := strings.TrimSpace(sel.Text()); kw != "" {
			snap.Keywords = append(snap.Keywords, kw)
		}
	})

	if descHTML, err := doc.Find(s.cfg.Description).First().Html(); err == nil && descHTML != "" {
		snap.Description = s.describe(descHTML)
	}

	return snap
}

// describe sanitizes description HTML and converts it to markdown. Falls
// back to stripped plain text when conversion yields nothing.
func (s *snapshotter) describe(descHTML string) string {
	clean := s.sanitizer.Sanitize(descHTML)

	md, err := s.md.ConvertString(clean)
	if err != nil || strings.TrimSpace(md) == "" {
		return strings.TrimSpace(bluemonday.StrictPolicy().Sanitize(descHTML))
	}
	return strings.TrimSpace(md)
}
