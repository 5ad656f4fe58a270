// Package extractor attaches agenda sections and file links to stored sessions.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/council-sessions/internal/metrics"
	"github.com/JakeFAU/council-sessions/internal/session"
)

// DefaultFilePrefix is the document service hosting session files.
const DefaultFilePrefix = "https://sieldocs.vd.ch/ecm/app18/service/siel/getContent?ID="

const (
	blockSelector   = "#main .col-md-12.pl-0.pr-0"
	headingSelector = "h2.heading"
)

// Store is the subset of the record store used by the extractor.
type Store interface {
	All() []session.Record
	Upsert(rec session.Record) (bool, error)
}

// Fetcher retrieves raw page markup.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config controls which links count as session files.
type Config struct {
	FilePrefix string
}

// Result summarizes one ExtractAll pass.
type Result struct {
	Success   bool `json:"success"`
	Extracted int  `json:"extracted"`
	Failed    int  `json:"failed"`
	Ignored   int  `json:"ignored"`
}

// Extractor fetches detail pages for sessions that have no sections yet.
type Extractor struct {
	cfg     Config
	store   Store
	fetcher Fetcher
	logger  *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, st Store, fetcher Fetcher, logger *zap.Logger) (*Extractor, error) {
	if st == nil || fetcher == nil {
		return nil, errors.New("extractor store and fetcher are required")
	}
	if strings.TrimSpace(cfg.FilePrefix) == "" {
		cfg.FilePrefix = DefaultFilePrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, store: st, fetcher: fetcher, logger: logger}, nil
}

// ExtractAll processes every stored session without sections, newest first.
// Per-session failures are counted; a store write failure or cancellation is returned.
func (e *Extractor) ExtractAll(ctx context.Context) (Result, error) {
	all := e.store.All()
	var res Result
	for _, rec := range all {
		if rec.HasDetails() {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Ignored = len(all) - res.Extracted - res.Failed
			return res, fmt.Errorf("extract canceled: %w", err)
		}
		ok, err := e.Extract(ctx, rec)
		if err != nil {
			return res, err
		}
		if ok {
			res.Extracted++
		} else {
			res.Failed++
		}
	}
	res.Ignored = len(all) - res.Extracted - res.Failed
	res.Success = res.Failed == 0
	e.logger.Info("detail extraction finished",
		zap.Int("extracted", res.Extracted),
		zap.Int("failed", res.Failed),
		zap.Int("ignored", res.Ignored),
	)
	return res, nil
}

// Extract fetches rec's detail page and stores its sections. It reports false
// when the page could not be fetched or parsed.
func (e *Extractor) Extract(ctx context.Context, rec session.Record) (bool, error) {
	logger := e.logger.With(zap.Stringer("date", rec.Date), zap.String("url", rec.URL))
	markup, err := e.fetcher.Fetch(ctx, rec.URL)
	if err != nil {
		metrics.ObserveDetail("fetch_failed")
		logger.Error("session page fetch failed", zap.Error(err))
		return false, nil
	}
	sections, err := ParseDetail(markup, rec, e.cfg.FilePrefix)
	if err != nil {
		metrics.ObserveDetail("parse_failed")
		logger.Error("session page parse failed", zap.Error(err))
		return false, nil
	}
	if len(sections) == 0 {
		logger.Warn("session page has no agenda sections")
	}

	rec.Sections = sections
	if _, err := e.store.Upsert(rec); err != nil {
		return false, fmt.Errorf("store details for %s: %w", rec.Date, err)
	}
	metrics.ObserveDetail("extracted")
	logger.Info("session details extracted", zap.Int("sections", len(sections)), zap.Int("files", len(rec.Files())))
	return true, nil
}

// ParseDetail reads the agenda blocks of a session page. Blocks without a
// heading are skipped. File aliases are YYYYMMDD_<section>_<file>.pdf, both
// indexes one-based and counted over kept sections and matching links.
func ParseDetail(markup []byte, rec session.Record, filePrefix string) ([]session.DetailSection, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}
	base, err := url.Parse(rec.URL)
	if err != nil {
		return nil, fmt.Errorf("parse session url %q: %w", rec.URL, err)
	}
	stamp := strings.ReplaceAll(rec.Date.String(), "-", "")

	sections := []session.DetailSection{}
	doc.Find(blockSelector).Each(func(_ int, block *goquery.Selection) {
		heading := strings.TrimSpace(block.Find(headingSelector).First().Text())
		if heading == "" {
			return
		}
		section := session.DetailSection{Title: heading, Files: []session.DetailFile{}}
		block.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			ref, err := url.Parse(strings.TrimSpace(href))
			if err != nil {
				return
			}
			abs := base.ResolveReference(ref).String()
			if !strings.HasPrefix(abs, filePrefix) {
				return
			}
			section.Files = append(section.Files, session.DetailFile{
				URL:   abs,
				Name:  strings.TrimSpace(a.Text()),
				Alias: fmt.Sprintf("%s_%d_%d.pdf", stamp, len(sections)+1, len(section.Files)+1),
			})
		})
		sections = append(sections, section)
	})
	return sections, nil
}
