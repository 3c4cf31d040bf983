package classify

import (
	"fmt"

	"github.com/MeKo-Tech/osmscene/internal/types"
)

// Issue is a recovered per-way problem.
type Issue struct {
	Message string
	WayID   int64
}

// Report summarizes a classification run. Per-way problems are recorded here
// instead of aborting the run.
type Report struct {
	Classified  map[types.Category]int
	Issues      []Issue
	Ways        int
	Discarded   int // no category matched
	Empty       int // no resolvable coordinates
	OutOfBounds int
	DroppedRefs int

	// Issues beyond the cap are counted but not kept.
	SuppressedIssues int
	maxIssues        int
}

func newReport(maxIssues int) *Report {
	return &Report{
		Classified: make(map[types.Category]int),
		maxIssues:  maxIssues,
	}
}

func (r *Report) addIssue(wayID int64, msg string) {
	if r.maxIssues >= 0 && len(r.Issues) >= r.maxIssues {
		r.SuppressedIssues++
		return
	}
	r.Issues = append(r.Issues, Issue{WayID: wayID, Message: msg})
}

// Total returns the number of classified features.
func (r *Report) Total() int {
	total := 0
	for _, n := range r.Classified {
		total += n
	}
	return total
}

func (r *Report) String() string {
	return fmt.Sprintf("ways=%d buildings=%d roads=%d water=%d land=%d discarded=%d out_of_bounds=%d empty=%d issues=%d",
		r.Ways,
		r.Classified[types.CategoryBuilding],
		r.Classified[types.CategoryRoad],
		r.Classified[types.CategoryWater],
		r.Classified[types.CategoryLand],
		r.Discarded, r.OutOfBounds, r.Empty,
		len(r.Issues)+r.SuppressedIssues,
	)
}
