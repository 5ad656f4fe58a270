package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/council-sessions/internal/dates"
	"github.com/JakeFAU/council-sessions/internal/listing"
	"github.com/JakeFAU/council-sessions/internal/session"
	"github.com/JakeFAU/council-sessions/internal/store"
	"github.com/JakeFAU/council-sessions/internal/testutil"
)

const firstURL = "https://www.vd.ch/actualites/decisions"

var frenchMonths = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

func TestColdStartStoresEveryPage(t *testing.T) {
	t.Parallel()

	st := openStore(t, t.TempDir())
	site := newFakeSite()
	day := dates.MustParseISO("2025-06-30")
	for page := 0; page < 3; page++ {
		var entries []testutil.Entry
		for i := 0; i < 5; i++ {
			entries = append(entries, entry(day))
			day = dates.Of(day.Time().AddDate(0, 0, -7))
		}
		next := ""
		if page < 2 {
			next = fmt.Sprintf("?page=%d", page+1)
		}
		site.add(pageURL(page), testutil.ListingHTML(entries, next))
	}

	w := newWalker(t, Config{FirstURL: firstURL, MaxPages: 100}, st, site, fixedClock{at: runTime(1)})
	summary, err := w.List(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, summary.Success)
	assert.Equal(t, 3, summary.PagesVisited)
	assert.Equal(t, 15, summary.NewCount)
	assert.Equal(t, 15, summary.StoredCount)
	assert.Equal(t, StopNoNextPage, summary.StopReason)
	assert.False(t, summary.Optimized)
	assert.False(t, summary.BoundaryHit)
	assert.Empty(t, summary.StopBoundary)
	assert.Len(t, summary.NewDates, 15)
	assert.Equal(t, "2025-06-30", summary.NewDates[0])
	assert.Equal(t, []string{pageURL(0), pageURL(1), pageURL(2)}, site.fetched())

	for _, rec := range st.All() {
		assert.True(t, rec.DiscoveredAt.Equal(runTime(1)), "all sessions of a run share one discovery time")
		assert.Contains(t, rec.URL, "https://www.vd.ch/seances/")
		assert.Contains(t, rec.Title, "Séance du Conseil d'Etat du ")
		assert.False(t, rec.HasDetails())
	}

	t.Run("second run finds nothing new", func(t *testing.T) {
		w := newWalker(t, Config{FirstURL: firstURL, MaxPages: 100}, st, site, fixedClock{at: runTime(2)})
		again, err := w.List(context.Background(), false)
		require.NoError(t, err)
		assert.True(t, again.Success)
		assert.Equal(t, 0, again.NewCount)
		assert.Equal(t, 15, again.KnownCount)
		assert.Equal(t, 15, again.StoredCount)
		assert.Empty(t, again.NewDates)
		for _, rec := range st.All() {
			assert.True(t, rec.DiscoveredAt.Equal(runTime(1)))
		}
	})
}

func TestOptimizedRewalkStopsAfterFirstPage(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	for d := dates.MustParseISO("2024-01-01"); !d.After(dates.MustParseISO("2025-06-01")); d = dates.Of(d.Time().AddDate(0, 0, 1)) {
		st.records[d] = session.Record{Date: d, URL: "https://www.vd.ch/seances/" + d.String()}
	}

	site := newFakeSite()
	site.add(pageURL(0), testutil.ListingHTML([]testutil.Entry{
		entry(dates.MustParseISO("2025-06-10")),
		entry(dates.MustParseISO("2025-06-01")),
		entry(dates.MustParseISO("2025-05-28")),
	}, "?page=1"))
	site.add(pageURL(1), testutil.ListingHTML([]testutil.Entry{
		entry(dates.MustParseISO("2025-05-21")),
	}, ""))

	cfg := Config{
		FirstURL:      firstURL,
		MaxPages:      100,
		Watermark:     dates.MustParseISO("2024-01-01"),
		ThresholdDays: 30,
	}
	summary, err := newWalker(t, cfg, st, site, fixedClock{at: runTime(1)}).List(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, summary.Success)
	assert.True(t, summary.Optimized)
	assert.Equal(t, "2025-06-01", summary.StopBoundary)
	assert.Equal(t, 1, summary.NewCount)
	assert.Equal(t, 1, summary.KnownCount)
	assert.Equal(t, 1, summary.PagesVisited)
	assert.True(t, summary.BoundaryHit)
	assert.Equal(t, StopBoundary, summary.StopReason)
	assert.Equal(t, []string{"2025-06-10"}, summary.NewDates)
	assert.Equal(t, []string{pageURL(0)}, site.fetched())
}

func TestBoundaryIncludesEqualDatesAndStopsAtFirstEarlier(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.records[dates.MustParseISO("2025-03-01")] = session.Record{Date: dates.MustParseISO("2025-03-01"), URL: "x"}

	site := newFakeSite()
	site.add(pageURL(0), testutil.ListingHTML([]testutil.Entry{
		entry(dates.MustParseISO("2025-04-10")),
		entry(dates.MustParseISO("2025-04-03")),
		entry(dates.MustParseISO("2025-03-27")),
	}, "?page=1"))
	site.add(pageURL(1), testutil.ListingHTML([]testutil.Entry{
		entry(dates.MustParseISO("2025-03-12")),
		entry(dates.MustParseISO("2025-03-05")),
		entry(dates.MustParseISO("2025-03-01")),
		entry(dates.MustParseISO("2025-02-26")),
		entry(dates.MustParseISO("2025-02-19")),
	}, "?page=2"))
	site.add(pageURL(2), testutil.ListingHTML([]testutil.Entry{
		entry(dates.MustParseISO("2025-02-12")),
	}, ""))

	cfg := Config{FirstURL: firstURL, MaxPages: 100, Watermark: dates.MustParseISO("2025-03-01"), ThresholdDays: 30}
	summary, err := newWalker(t, cfg, st, site, fixedClock{at: runTime(1)}).List(context.Background(), true)
	require.NoError(t, err)

	assert.False(t, summary.Optimized, "relist disables the shortcut")
	assert.Equal(t, "2025-03-01", summary.StopBoundary)
	assert.Equal(t, 5, summary.NewCount)
	assert.Equal(t, 1, summary.KnownCount)
	assert.True(t, summary.BoundaryHit)
	assert.Equal(t, 2, summary.PagesVisited)
	assert.Equal(t, []string{pageURL(0), pageURL(1)}, site.fetched())
	assert.False(t, st.Exists(dates.MustParseISO("2025-02-26")))
	assert.False(t, st.Exists(dates.MustParseISO("2025-02-19")))
}

func TestCycleTerminates(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.add(pageURL(0), testutil.ListingHTML([]testutil.Entry{entry(dates.MustParseISO("2025-06-18"))}, "?page=1"))
	site.add(pageURL(1), testutil.ListingHTML([]testutil.Entry{entry(dates.MustParseISO("2025-06-11"))}, firstURL))

	summary, err := newWalker(t, Config{FirstURL: firstURL, MaxPages: 100}, newMemStore(), site, fixedClock{at: runTime(1)}).
		List(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, summary.Success)
	assert.Equal(t, StopCycle, summary.StopReason)
	assert.Equal(t, 2, summary.PagesVisited)
	assert.Equal(t, 2, summary.NewCount)
	assert.Equal(t, []string{pageURL(0), pageURL(1)}, site.fetched())
}

func TestMaxPagesCapsEndlessPagination(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.generate = func(url string) (string, bool) {
		var page int
		if _, err := fmt.Sscanf(url, firstURL+"?page=%d", &page); err != nil {
			page = 0
		}
		d := dates.Of(dates.MustParseISO("2025-06-30").Time().AddDate(0, 0, -page))
		return testutil.ListingHTML([]testutil.Entry{entry(d)}, fmt.Sprintf("?page=%d", page+1)), true
	}

	summary, err := newWalker(t, Config{FirstURL: firstURL, MaxPages: 4}, newMemStore(), site, fixedClock{at: runTime(1)}).
		List(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, summary.Success)
	assert.Equal(t, StopMaxPages, summary.StopReason)
	assert.Equal(t, 4, summary.PagesVisited)
	assert.Equal(t, 4, summary.NewCount)
	assert.Len(t, site.fetched(), 4)
}

func TestMalformedDateIsSkipped(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	st := newMemStore()
	site := newFakeSite()
	site.add(pageURL(0), testutil.ListingHTML([]testutil.Entry{
		entry(dates.MustParseISO("2025-06-18")),
		{DateText: "32 invalidmonth 2025", Href: "/seances/broken"},
		entry(dates.MustParseISO("2025-06-11")),
	}, ""))

	w, err := NewWalker(Config{FirstURL: firstURL, MaxPages: 10}, st, site, mustParser(t), fixedClock{at: runTime(1)}, &seqIDs{}, zap.New(core))
	require.NoError(t, err)
	summary, err := w.List(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, summary.Success)
	assert.Equal(t, 2, summary.NewCount)
	assert.Equal(t, 1, summary.SkippedCount)
	assert.Equal(t, StopNoNextPage, summary.StopReason)
	assert.Equal(t, 1, logs.FilterMessage("skipping session with unparseable date").Len())
}

func TestSoftStops(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		setup     func(site *fakeSite)
		wantPages int
		wantNew   int
		want      StopReason
	}{
		{
			name: "fetch failure keeps earlier pages",
			setup: func(site *fakeSite) {
				site.add(pageURL(0), testutil.ListingHTML([]testutil.Entry{entry(dates.MustParseISO("2025-06-18"))}, "?page=1"))
			},
			wantPages: 2,
			wantNew:   1,
			want:      StopFetchFailed,
		},
		{
			name: "empty page",
			setup: func(site *fakeSite) {
				site.add(pageURL(0), testutil.ListingHTML([]testutil.Entry{entry(dates.MustParseISO("2025-06-18"))}, "?page=1"))
				site.add(pageURL(1), testutil.ListingHTML(nil, "?page=2"))
			},
			wantPages: 2,
			wantNew:   1,
			want:      StopEmptyPage,
		},
		{
			name:      "first page unreachable",
			setup:     func(*fakeSite) {},
			wantPages: 1,
			want:      StopFetchFailed,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			site := newFakeSite()
			tc.setup(site)
			st := newMemStore()
			summary, err := newWalker(t, Config{FirstURL: firstURL, MaxPages: 10}, st, site, fixedClock{at: runTime(1)}).
				List(context.Background(), false)
			require.NoError(t, err)
			assert.True(t, summary.Success)
			assert.Equal(t, tc.want, summary.StopReason)
			assert.Equal(t, tc.wantPages, summary.PagesVisited)
			assert.Equal(t, tc.wantNew, summary.NewCount)
			assert.Equal(t, tc.wantNew, st.Count())
		})
	}
}

func TestCanceledContextStopsBeforeFetching(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.add(pageURL(0), testutil.ListingHTML([]testutil.Entry{entry(dates.MustParseISO("2025-06-18"))}, ""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := newWalker(t, Config{FirstURL: firstURL, MaxPages: 10}, newMemStore(), site, fixedClock{at: runTime(1)}).
		List(ctx, false)
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Equal(t, StopCanceled, summary.StopReason)
	assert.Equal(t, 0, summary.PagesVisited)
	assert.Empty(t, site.fetched())
}

func TestStoreFailureAbortsWalk(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.upsertErr = errors.New("disk full")
	site := newFakeSite()
	site.add(pageURL(0), testutil.ListingHTML([]testutil.Entry{entry(dates.MustParseISO("2025-06-18"))}, ""))

	summary, err := newWalker(t, Config{FirstURL: firstURL, MaxPages: 10}, st, site, fixedClock{at: runTime(1)}).
		List(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, st.upsertErr)
	assert.False(t, summary.Success)
	assert.Equal(t, 0, summary.NewCount)
}

func TestManualDeletionIsRediscovered(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	site := newFakeSite()
	site.add(pageURL(0), testutil.ListingHTML([]testutil.Entry{
		entry(dates.MustParseISO("2025-06-18")),
		entry(dates.MustParseISO("2025-06-11")),
		entry(dates.MustParseISO("2025-06-04")),
	}, ""))

	st := openStore(t, dir)
	_, err := newWalker(t, Config{FirstURL: firstURL, MaxPages: 10}, st, site, fixedClock{at: runTime(1)}).
		List(context.Background(), false)
	require.NoError(t, err)

	removeSession(t, st.Path(), "2025-06-11")

	reopened := openStore(t, dir)
	require.Equal(t, 2, reopened.Count())
	summary, err := newWalker(t, Config{FirstURL: firstURL, MaxPages: 10}, reopened, site, fixedClock{at: runTime(2)}).
		List(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.NewCount)
	assert.Equal(t, []string{"2025-06-11"}, summary.NewDates)
	assert.Equal(t, 3, summary.StoredCount)

	readded, ok := reopened.Get(dates.MustParseISO("2025-06-11"))
	require.True(t, ok)
	assert.True(t, readded.DiscoveredAt.Equal(runTime(2)))
	kept, ok := reopened.Get(dates.MustParseISO("2025-06-18"))
	require.True(t, ok)
	assert.True(t, kept.DiscoveredAt.Equal(runTime(1)))
}

func TestNewWalkerValidates(t *testing.T) {
	t.Parallel()

	parser := mustParser(t)
	clock := fixedClock{at: runTime(1)}
	testCases := []struct {
		name string
		cfg  Config
		st   Store
	}{
		{name: "missing url", cfg: Config{MaxPages: 1}, st: newMemStore()},
		{name: "zero pages", cfg: Config{FirstURL: firstURL}, st: newMemStore()},
		{name: "negative threshold", cfg: Config{FirstURL: firstURL, MaxPages: 1, ThresholdDays: -1}, st: newMemStore()},
		{name: "missing store", cfg: Config{FirstURL: firstURL, MaxPages: 1}},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewWalker(tc.cfg, tc.st, newFakeSite(), parser, clock, &seqIDs{}, nil)
			require.Error(t, err)
		})
	}
}

func TestRunIDsAreUnique(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.add(pageURL(0), testutil.ListingHTML([]testutil.Entry{entry(dates.MustParseISO("2025-06-18"))}, ""))
	w := newWalker(t, Config{FirstURL: firstURL, MaxPages: 10}, newMemStore(), site, fixedClock{at: runTime(1)})

	first, err := w.List(context.Background(), false)
	require.NoError(t, err)
	second, err := w.List(context.Background(), false)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func newWalker(t *testing.T, cfg Config, st Store, site *fakeSite, clock fixedClock) *Walker {
	t.Helper()
	w, err := NewWalker(cfg, st, site, mustParser(t), clock, &seqIDs{}, zap.NewNop())
	require.NoError(t, err)
	return w
}

func mustParser(t *testing.T) *listing.Parser {
	t.Helper()
	p, err := listing.NewParser(listing.Config{})
	require.NoError(t, err)
	return p
}

func openStore(t *testing.T, dir string) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{Dir: dir, Filename: "storage.json", SourceURL: firstURL}, fixedClock{at: runTime(0)}, zap.NewNop())
	require.NoError(t, err)
	return st
}

// removeSession edits the backing file the way an operator would by hand.
func removeSession(t *testing.T, path, iso string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	sessions := doc["sessions"].([]any)
	kept := sessions[:0]
	for _, s := range sessions {
		if s.(map[string]any)["date"] != iso {
			kept = append(kept, s)
		}
	}
	doc["sessions"] = kept
	out, err := json.MarshalIndent(doc, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Clean(path), out, 0o600))
}

func entry(d dates.Date) testutil.Entry {
	return testutil.Entry{
		DateText: fmt.Sprintf("%d %s %d", d.Day, frenchMonths[d.Month-1], d.Year),
		Href:     "/seances/" + d.String(),
	}
}

func pageURL(page int) string {
	if page == 0 {
		return firstURL
	}
	return fmt.Sprintf("%s?page=%d", firstURL, page)
}

func runTime(n int) time.Time {
	return time.Date(2025, time.June, 20, 8, n, 0, 0, time.UTC)
}

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time {
	return c.at
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

type fakeSite struct {
	mu       sync.Mutex
	pages    map[string]string
	generate func(url string) (string, bool)
	visits   []string
}

func newFakeSite() *fakeSite {
	return &fakeSite{pages: make(map[string]string)}
}

func (s *fakeSite) add(url, markup string) {
	s.pages[url] = markup
}

func (s *fakeSite) Fetch(_ context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = append(s.visits, url)
	if markup, ok := s.pages[url]; ok {
		return []byte(markup), nil
	}
	if s.generate != nil {
		if markup, ok := s.generate(url); ok {
			return []byte(markup), nil
		}
	}
	return nil, fmt.Errorf("GET %s: 404", url)
}

func (s *fakeSite) fetched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visits...)
}

type memStore struct {
	records   map[dates.Date]session.Record
	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[dates.Date]session.Record)}
}

func (m *memStore) Exists(key dates.Date) bool {
	_, ok := m.records[key]
	return ok
}

func (m *memStore) Upsert(rec session.Record) (bool, error) {
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	_, exists := m.records[rec.Date]
	if !exists {
		m.records[rec.Date] = rec
	}
	return !exists, nil
}

func (m *memStore) Count() int {
	return len(m.records)
}

func (m *memStore) DateRange() (store.Range, bool) {
	if len(m.records) == 0 {
		return store.Range{}, false
	}
	var r store.Range
	for d := range m.records {
		if r.Oldest.IsZero() || d.Before(r.Oldest) {
			r.Oldest = d
		}
		if d.After(r.Newest) {
			r.Newest = d
		}
	}
	return r, true
}
