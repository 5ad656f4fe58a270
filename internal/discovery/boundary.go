package discovery

import (
	"github.com/JakeFAU/council-sessions/internal/dates"
	"github.com/JakeFAU/council-sessions/internal/store"
)

// EffectiveBoundary decides where a walk stops and whether the shortcut applies.
//
// With relist, an empty store (zero known.Oldest) or no watermark, the boundary
// is the watermark itself and optimization is off. When the store's oldest
// date lies more than thresholdDays after the watermark, coverage is too thin
// to trust and the watermark is kept. Otherwise the boundary is raised to the
// newest stored date.
func EffectiveBoundary(watermark dates.Date, known store.Range, relist bool, thresholdDays int) (dates.Date, bool) {
	if relist || watermark.IsZero() || known.Oldest.IsZero() {
		return watermark, false
	}
	if known.Oldest.DaysSince(watermark) > thresholdDays {
		return watermark, false
	}
	return known.Newest, true
}
