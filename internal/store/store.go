package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio"
	"go.uber.org/zap"

	"github.com/JakeFAU/council-sessions/internal/dates"
	"github.com/JakeFAU/council-sessions/internal/session"
)

// ErrCorrupt marks a backing file that exists but fails validation.
var ErrCorrupt = errors.New("corrupt store file")

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Config locates the backing file.
type Config struct {
	Dir       string
	Filename  string
	SourceURL string
}

// Range is the oldest and newest session date currently stored.
type Range struct {
	Oldest dates.Date
	Newest dates.Date
}

// Store is the keyed, deduplicated session collection.
type Store struct {
	mu        sync.RWMutex
	path      string
	sourceURL string
	clock     Clock
	logger    *zap.Logger
	records   map[dates.Date]session.Record
}

// Open loads the store at cfg.Dir/cfg.Filename, creating the directory if needed.
func Open(cfg Config, clock Clock, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Filename) == "" {
		return nil, fmt.Errorf("store filename is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("store clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, err)
	}

	s := &Store{
		path:      filepath.Join(dir, cfg.Filename),
		sourceURL: cfg.SourceURL,
		clock:     clock,
		logger:    logger,
		records:   make(map[dates.Date]session.Record),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.logger.Debug("store opened", zap.String("path", s.path), zap.Int("sessions", len(s.records)))
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("no store file yet; it will be created on first upsert", zap.String("path", s.path))
			return nil
		}
		return fmt.Errorf("read store %s: %w", s.path, err)
	}

	records, err := decodeDocument(data)
	if err != nil {
		s.logger.Warn("store file is invalid; starting empty",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return nil
	}
	for _, rec := range records {
		if _, dup := s.records[rec.Date]; dup {
			s.logger.Warn("duplicate session in store file; merging", zap.Stringer("date", rec.Date))
			s.records[rec.Date] = merge(s.records[rec.Date], rec)
			continue
		}
		s.records[rec.Date] = rec
	}
	return nil
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a session with the given date is stored.
func (s *Store) Exists(date dates.Date) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[date]
	return ok
}

// Get returns a copy of the stored session for date.
func (s *Store) Get(date dates.Date) (session.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[date]
	if !ok {
		return session.Record{}, false
	}
	return rec.Clone(), true
}

// Count returns the number of stored sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All returns copies of every stored session, newest first.
func (s *Store) All() []session.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

// DateRange returns the oldest and newest stored dates; ok is false when empty.
func (s *Store) DateRange() (Range, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return Range{}, false
	}
	var r Range
	first := true
	for date := range s.records {
		if first || date.Before(r.Oldest) {
			r.Oldest = date
		}
		if first || date.After(r.Newest) {
			r.Newest = date
		}
		first = false
	}
	return r, true
}

// Upsert inserts rec or merges it into the session stored under the same date,
// then rewrites the backing file. It returns true when rec was inserted.
//
// On merge the stored DiscoveredAt is kept, non-empty URL, title and original
// date text are taken from rec, and sections are only attached when the stored
// session has none.
func (s *Store) Upsert(rec session.Record) (bool, error) {
	if rec.Date.IsZero() {
		return false, fmt.Errorf("upsert: date is required")
	}
	if strings.TrimSpace(rec.URL) == "" {
		return false, fmt.Errorf("upsert %s: url is required", rec.Date)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, exists := s.records[rec.Date]
	next := rec.Clone()
	if exists {
		next = merge(previous, next)
	} else if next.DiscoveredAt.IsZero() {
		next.DiscoveredAt = s.clock.Now().UTC()
	}
	s.records[rec.Date] = next

	if err := s.persistLocked(); err != nil {
		if exists {
			s.records[rec.Date] = previous
		} else {
			delete(s.records, rec.Date)
		}
		return false, err
	}

	if exists {
		s.logger.Debug("session updated", zap.Stringer("date", rec.Date), zap.String("title", next.Title))
		return false, nil
	}
	s.logger.Debug("session created", zap.Stringer("date", rec.Date), zap.String("title", next.Title))
	return true, nil
}

func merge(existing, incoming session.Record) session.Record {
	out := existing.Clone()
	if incoming.URL != "" {
		out.URL = incoming.URL
	}
	if incoming.Title != "" {
		out.Title = incoming.Title
	}
	if incoming.OriginalDate != "" {
		out.OriginalDate = incoming.OriginalDate
	}
	if !out.HasDetails() && incoming.HasDetails() {
		out.Sections = incoming.Clone().Sections
	}
	return out
}

func (s *Store) sortedLocked() []session.Record {
	out := make([]session.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out
}

func (s *Store) persistLocked() error {
	doc := newDocument(s.sourceURL, s.clock.Now(), s.sortedLocked())
	payload, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(s.path, payload, 0o600); err != nil {
		return fmt.Errorf("write store %s: %w", s.path, err)
	}
	s.logger.Debug("store saved", zap.String("path", s.path), zap.Int("sessions", len(doc.Sessions)))
	return nil
}
