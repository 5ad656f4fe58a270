package discovery

// StopReason names the condition that ended a walk.
type StopReason string

// Walk termination reasons.
const (
	StopNoNextPage  StopReason = "no_next_page"
	StopBoundary    StopReason = "boundary"
	StopMaxPages    StopReason = "max_pages"
	StopCycle       StopReason = "cycle"
	StopFetchFailed StopReason = "fetch_failed"
	StopEmptyPage   StopReason = "empty_page"
	StopCanceled    StopReason = "canceled"
)

// Summary reports the outcome of one walk.
type Summary struct {
	RunID        string     `json:"run_id"`
	Success      bool       `json:"success"`
	PagesVisited int        `json:"pages_visited"`
	NewCount     int        `json:"new_count"`
	KnownCount   int        `json:"known_count"`
	SkippedCount int        `json:"skipped_count"`
	StoredCount  int        `json:"stored_count"`
	Optimized    bool       `json:"optimized"`
	BoundaryHit  bool       `json:"boundary_hit"`
	StopBoundary string     `json:"stop_boundary,omitempty"`
	StopReason   StopReason `json:"stop_reason"`
	NewDates     []string   `json:"new_dates"`
}
