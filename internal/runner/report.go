package runner

import (
	"time"

	"github.com/m3rciful/fleetbot/internal/classify"
	"github.com/m3rciful/fleetbot/internal/fleet"
)

// Outcome is the classified result of one account in a run.
type Outcome struct {
	AccountID int64
	Label     string
	Kind      classify.Kind
	Code      string
	Detail    string
	// Attempts counts executed repetitions, Sent the successful ones.
	Attempts int
	Sent     int
	At       time.Time
}

// Succeeded reports whether the outcome counts as a success.
func (o Outcome) Succeeded() bool { return o.Kind.Succeeded() }

// Counters are the running aggregates passed to progress callbacks.
type Counters struct {
	Total     int
	Processed int
	Success   int
	Failed    int
	// Sent sums successful repetitions for multi-send actions.
	Sent int
}

// Report is the final result of a run. Outcomes keeps at most the configured
// detail limit, in plan order; Truncated counts the rest.
type Report struct {
	RunID      string
	Action     fleet.ActionKind
	Counters   Counters
	Outcomes   []Outcome
	Truncated  int
	Cancelled  bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall time of the run.
func (r Report) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ProgressFunc receives counters during a run.
type ProgressFunc func(Counters)
