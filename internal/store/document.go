package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/council-sessions/internal/dates"
	"github.com/JakeFAU/council-sessions/internal/session"
)

// document is the on-disk layout.
type document struct {
	Metadata metadata         `json:"metadata"`
	Sessions []session.Record `json:"sessions"`
}

type metadata struct {
	SourceURL   string `json:"source_url"`
	LastUpdated string `json:"last_updated"`
	TotalCount  int    `json:"total_count"`
}

func newDocument(sourceURL string, now time.Time, sorted []session.Record) document {
	sessions := make([]session.Record, len(sorted))
	for i, rec := range sorted {
		if rec.Sections == nil {
			rec.Sections = []session.DetailSection{}
		}
		for j := range rec.Sections {
			if rec.Sections[j].Files == nil {
				rec.Sections[j].Files = []session.DetailFile{}
			}
		}
		sessions[i] = rec
	}
	return document{
		Metadata: metadata{
			SourceURL:   sourceURL,
			LastUpdated: now.UTC().Format(time.RFC3339),
			TotalCount:  len(sessions),
		},
		Sessions: sessions,
	}
}

func encodeDocument(doc document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode store document: %w", err)
	}
	return buf.Bytes(), nil
}

// The wire types mirror document with pointer fields so that a missing
// required field can be told apart from a zero value.
type documentWire struct {
	Metadata *metadataWire `json:"metadata"`
	Sessions *[]recordWire `json:"sessions"`
}

type metadataWire struct {
	SourceURL   *string `json:"source_url"`
	LastUpdated *string `json:"last_updated"`
	TotalCount  *int    `json:"total_count"`
}

type recordWire struct {
	URL          *string        `json:"url"`
	Date         *string        `json:"date"`
	DiscoveredAt *string        `json:"discovered_at"`
	OriginalDate *string        `json:"original_date"`
	Title        *string        `json:"title"`
	Sections     *[]sectionWire `json:"sections"`
}

type sectionWire struct {
	Title *string     `json:"title"`
	Files *[]fileWire `json:"files"`
}

type fileWire struct {
	URL   *string `json:"url"`
	Name  *string `json:"name"`
	Alias *string `json:"alias"`
}

// legacyTimestamp is a zone-less ISO timestamp written by older tooling.
const legacyTimestamp = "2006-01-02T15:04:05.999999999"

func decodeDocument(data []byte) ([]session.Record, error) {
	var wire documentWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if err := wire.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	records := make([]session.Record, 0, len(*wire.Sessions))
	for i, rw := range *wire.Sessions {
		rec, err := rw.toRecord()
		if err != nil {
			return nil, fmt.Errorf("%w: sessions[%d]: %w", ErrCorrupt, i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (w documentWire) validate() error {
	if w.Metadata == nil {
		return errors.New("metadata is missing")
	}
	if w.Metadata.SourceURL == nil || w.Metadata.LastUpdated == nil || w.Metadata.TotalCount == nil {
		return errors.New("metadata is incomplete")
	}
	if w.Sessions == nil {
		return errors.New("sessions is missing")
	}
	return nil
}

func (w recordWire) toRecord() (session.Record, error) {
	if w.URL == nil || w.Date == nil || w.DiscoveredAt == nil ||
		w.OriginalDate == nil || w.Title == nil || w.Sections == nil {
		return session.Record{}, errors.New("missing required field")
	}
	date, err := dates.ParseISO(*w.Date)
	if err != nil {
		return session.Record{}, err
	}
	discoveredAt, err := parseTimestamp(*w.DiscoveredAt)
	if err != nil {
		return session.Record{}, err
	}

	rec := session.Record{
		URL:          *w.URL,
		Date:         date,
		DiscoveredAt: discoveredAt,
		OriginalDate: *w.OriginalDate,
		Title:        *w.Title,
	}
	for i, sw := range *w.Sections {
		if sw.Title == nil || sw.Files == nil {
			return session.Record{}, fmt.Errorf("sections[%d]: missing required field", i)
		}
		section := session.DetailSection{Title: *sw.Title}
		for j, fw := range *sw.Files {
			if fw.URL == nil || fw.Name == nil || fw.Alias == nil {
				return session.Record{}, fmt.Errorf("sections[%d].files[%d]: missing required field", i, j)
			}
			section.Files = append(section.Files, session.DetailFile{URL: *fw.URL, Name: *fw.Name, Alias: *fw.Alias})
		}
		rec.Sections = append(rec.Sections, section)
	}
	return rec, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(legacyTimestamp, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse discovered_at %q: %w", raw, err)
	}
	return t, nil
}
