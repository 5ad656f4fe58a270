// Package discovery walks the paginated session listing and records new sessions.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/council-sessions/internal/dates"
	"github.com/JakeFAU/council-sessions/internal/listing"
	"github.com/JakeFAU/council-sessions/internal/metrics"
	"github.com/JakeFAU/council-sessions/internal/session"
	"github.com/JakeFAU/council-sessions/internal/store"
)

// Store is the subset of the record store used by the walker.
type Store interface {
	Exists(key dates.Date) bool
	Upsert(rec session.Record) (bool, error)
	Count() int
	DateRange() (store.Range, bool)
}

// Fetcher retrieves raw page markup.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Parser extracts candidates and the next page link from markup.
type Parser interface {
	Parse(markup []byte, pageURL string) (listing.Page, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config controls a walk.
type Config struct {
	FirstURL string
	MaxPages int
	// Watermark is the absolute stop date. The zero Date disables early stopping.
	Watermark     dates.Date
	ThresholdDays int
}

// Walker drives one listing traversal at a time.
type Walker struct {
	cfg     Config
	store   Store
	fetcher Fetcher
	parser  Parser
	clock   Clock
	ids     IDGenerator
	logger  *zap.Logger
}

// NewWalker wires a Walker. A nil logger is replaced with a no-op logger.
func NewWalker(cfg Config, st Store, fetcher Fetcher, parser Parser, clock Clock, ids IDGenerator, logger *zap.Logger) (*Walker, error) {
	switch {
	case strings.TrimSpace(cfg.FirstURL) == "":
		return nil, errors.New("discovery first url is required")
	case cfg.MaxPages <= 0:
		return nil, fmt.Errorf("discovery max pages must be positive, got %d", cfg.MaxPages)
	case cfg.ThresholdDays < 0:
		return nil, fmt.Errorf("discovery threshold must not be negative, got %d", cfg.ThresholdDays)
	case st == nil || fetcher == nil || parser == nil || clock == nil || ids == nil:
		return nil, errors.New("discovery walker dependencies are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{
		cfg:     cfg,
		store:   st,
		fetcher: fetcher,
		parser:  parser,
		clock:   clock,
		ids:     ids,
		logger:  logger,
	}, nil
}

// List walks the listing from the first page, inserting sessions not yet stored.
// Only a store write failure is returned as an error; every other stop is a
// successful, possibly partial, walk.
func (w *Walker) List(ctx context.Context, relist bool) (Summary, error) {
	runID, err := w.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	discoveredAt := w.clock.Now().UTC()

	known, _ := w.store.DateRange()
	boundary, optimized := EffectiveBoundary(w.cfg.Watermark, known, relist, w.cfg.ThresholdDays)

	summary := Summary{
		RunID:     runID,
		Optimized: optimized,
		NewDates:  []string{},
	}
	if !boundary.IsZero() {
		summary.StopBoundary = boundary.String()
	}
	logger := w.logger.With(zap.String("run_id", runID))
	logger.Info("listing walk started",
		zap.String("url", w.cfg.FirstURL),
		zap.String("stop_boundary", summary.StopBoundary),
		zap.Bool("optimized", optimized),
		zap.Bool("relist", relist),
	)

	visited := make(map[string]struct{})
	current := w.cfg.FirstURL
	for {
		reason, next, err := w.visit(ctx, logger, current, visited, boundary, discoveredAt, &summary)
		if err != nil {
			summary.StoredCount = w.store.Count()
			logger.Error("listing walk aborted", zap.Error(err))
			return summary, err
		}
		if reason != "" {
			summary.StopReason = reason
			break
		}
		current = next
	}

	summary.Success = true
	summary.StoredCount = w.store.Count()
	metrics.ObserveWalk(string(summary.StopReason), summary.StoredCount)
	logger.Info("listing walk finished",
		zap.String("stop_reason", string(summary.StopReason)),
		zap.Int("pages", summary.PagesVisited),
		zap.Int("new", summary.NewCount),
		zap.Int("known", summary.KnownCount),
		zap.Int("skipped", summary.SkippedCount),
		zap.Int("stored", summary.StoredCount),
		zap.Bool("boundary_hit", summary.BoundaryHit),
	)
	return summary, nil
}

// visit handles one page. It returns a non-empty reason when the walk ends,
// otherwise the URL of the next page.
func (w *Walker) visit(
	ctx context.Context,
	logger *zap.Logger,
	url string,
	visited map[string]struct{},
	boundary dates.Date,
	discoveredAt time.Time,
	summary *Summary,
) (StopReason, string, error) {
	if url == "" {
		return StopNoNextPage, "", nil
	}
	if _, seen := visited[url]; seen {
		logger.Warn("listing page already visited; stopping", zap.String("url", url))
		return StopCycle, "", nil
	}
	if len(visited) >= w.cfg.MaxPages {
		logger.Warn("listing page limit reached", zap.Int("max_pages", w.cfg.MaxPages))
		return StopMaxPages, "", nil
	}
	if ctx.Err() != nil {
		return StopCanceled, "", nil
	}

	visited[url] = struct{}{}
	summary.PagesVisited = len(visited)
	logger.Debug("fetching listing page", zap.Int("page", len(visited)), zap.String("url", url))

	markup, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		metrics.ObserveListingPage("failed")
		if ctx.Err() != nil {
			return StopCanceled, "", nil
		}
		logger.Error("listing page fetch failed", zap.String("url", url), zap.Error(err))
		return StopFetchFailed, "", nil
	}
	metrics.ObserveListingPage("ok")

	page, err := w.parser.Parse(markup, url)
	if err != nil {
		logger.Error("listing page parse failed", zap.String("url", url), zap.Error(err))
		return StopEmptyPage, "", nil
	}
	if len(page.Candidates) == 0 {
		logger.Warn("no sessions found on listing page", zap.String("url", url))
		return StopEmptyPage, "", nil
	}

	hit, err := w.apply(logger, page.Candidates, boundary, discoveredAt, summary)
	if err != nil {
		return "", "", err
	}
	if hit {
		summary.BoundaryHit = true
		return StopBoundary, "", nil
	}
	if page.NextURL == "" {
		return StopNoNextPage, "", nil
	}
	return "", page.NextURL, nil
}

// apply processes candidates in page order and reports whether the boundary was crossed.
func (w *Walker) apply(
	logger *zap.Logger,
	candidates []listing.Candidate,
	boundary dates.Date,
	discoveredAt time.Time,
	summary *Summary,
) (bool, error) {
	for _, c := range candidates {
		date, err := dates.Normalize(c.RawDate)
		if err != nil {
			summary.SkippedCount++
			metrics.ObserveCandidate("skipped")
			logger.Error("skipping session with unparseable date",
				zap.String("raw_date", c.RawDate),
				zap.String("url", c.URL),
				zap.Error(err),
			)
			continue
		}
		if !boundary.IsZero() && date.Before(boundary) {
			logger.Info("stop boundary reached",
				zap.String("date", date.String()),
				zap.String("stop_boundary", boundary.String()),
			)
			return true, nil
		}
		if w.store.Exists(date) {
			summary.KnownCount++
			metrics.ObserveCandidate("known")
			logger.Debug("session already known", zap.String("date", date.String()))
			continue
		}

		rec := session.Record{
			URL:          c.URL,
			Date:         date,
			DiscoveredAt: discoveredAt,
			OriginalDate: c.RawDate,
			Title:        c.Title,
		}
		if _, err := w.store.Upsert(rec); err != nil {
			return false, fmt.Errorf("store session %s: %w", date, err)
		}
		summary.NewCount++
		summary.NewDates = append(summary.NewDates, date.String())
		metrics.ObserveCandidate("new")
		logger.Info("new session discovered", zap.String("date", date.String()), zap.String("url", c.URL))
	}
	return false, nil
}
