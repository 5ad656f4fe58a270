package dates

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrFormat means the text has no "<day> <month> <year>" shape.
	ErrFormat = errors.New("unrecognized date format")
	// ErrUnknownMonth means the month word is not in the lexicon.
	ErrUnknownMonth = errors.New("unknown month name")
	// ErrInvalidDay means the day does not exist in the given month and year.
	ErrInvalidDay = errors.New("day out of range")
)

// ParseError reports a phrase that could not be normalized.
type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("normalize date %q: %v", e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var phrasePattern = regexp.MustCompile(`(\d{1,2})\s+([\p{L}\p{M}]+)\s+(\d{4})`)

var frenchMonths = map[string]time.Month{
	"janvier":   time.January,
	"février":   time.February,
	"mars":      time.March,
	"avril":     time.April,
	"mai":       time.May,
	"juin":      time.June,
	"juillet":   time.July,
	"août":      time.August,
	"septembre": time.September,
	"octobre":   time.October,
	"novembre":  time.November,
	"décembre":  time.December,
}

var monthLexicon = buildLexicon(frenchMonths)

func buildLexicon(src map[string]time.Month) map[string]time.Month {
	out := make(map[string]time.Month, len(src))
	for name, month := range src {
		out[foldMonth(name)] = month
	}
	return out
}

// foldMonth canonicalizes composed/decomposed accents and case.
func foldMonth(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// Normalize extracts the first "<day> <month-name> <year>" phrase from text
// and returns it as a Date. Month names are French and matched case-insensitively.
func Normalize(text string) (Date, error) {
	match := phrasePattern.FindStringSubmatch(norm.NFC.String(text))
	if match == nil {
		return Date{}, &ParseError{Text: text, Err: ErrFormat}
	}
	day, err := strconv.Atoi(match[1])
	if err != nil {
		return Date{}, &ParseError{Text: text, Err: ErrFormat}
	}
	month, ok := monthLexicon[foldMonth(match[2])]
	if !ok {
		return Date{}, &ParseError{Text: text, Err: fmt.Errorf("%w: %s", ErrUnknownMonth, match[2])}
	}
	year, err := strconv.Atoi(match[3])
	if err != nil {
		return Date{}, &ParseError{Text: text, Err: ErrFormat}
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if day < 1 || t.Day() != day || t.Month() != month {
		return Date{}, &ParseError{Text: text, Err: fmt.Errorf("%w: %d %s %d", ErrInvalidDay, day, match[2], year)}
	}
	return Date{Year: year, Month: month, Day: day}, nil
}
