// Package session defines the records discovered on the council listing and the
// detail payloads attached to them later.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/council-sessions/internal/dates"
)

// Record is one discovered session. Date is the natural key.
type Record struct {
	URL          string          `json:"url"`
	Date         dates.Date      `json:"date"`
	DiscoveredAt time.Time       `json:"discovered_at"`
	OriginalDate string          `json:"original_date"`
	Title        string          `json:"title"`
	Sections     []DetailSection `json:"sections"`
}

// DetailSection groups the files published under one agenda heading.
type DetailSection struct {
	Title string       `json:"title"`
	Files []DetailFile `json:"files"`
}

// DetailFile is a downloadable document and the local name it is saved under.
type DetailFile struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Alias string `json:"alias"`
}

// HasDetails reports whether detail extraction already ran for the record.
func (r Record) HasDetails() bool {
	return len(r.Sections) > 0
}

// Files flattens the files of every section in order.
func (r Record) Files() []DetailFile {
	var out []DetailFile
	for _, section := range r.Sections {
		out = append(out, section.Files...)
	}
	return out
}

// Clone returns a deep copy so callers cannot mutate stored sections.
func (r Record) Clone() Record {
	out := r
	if r.Sections != nil {
		out.Sections = make([]DetailSection, len(r.Sections))
		for i, section := range r.Sections {
			out.Sections[i] = DetailSection{
				Title: section.Title,
				Files: append([]DetailFile(nil), section.Files...),
			}
		}
	}
	return out
}

// Validate enforces the fields every stored record must carry.
func (r Record) Validate() error {
	if r.Date.IsZero() {
		return errors.New("date is required")
	}
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("session %s: url is required", r.Date)
	}
	if r.DiscoveredAt.IsZero() {
		return fmt.Errorf("session %s: discovered_at is required", r.Date)
	}
	for i, section := range r.Sections {
		for j, file := range section.Files {
			if file.URL == "" {
				return fmt.Errorf("session %s: section %d file %d: url is required", r.Date, i, j)
			}
		}
	}
	return nil
}
