package runner

import (
	"time"

	"github.com/Teqed/FediFetcher-sub000/internal/importer"
)

// ModeResult records the outcome of one mode within a run.
type ModeResult struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Added    int           `json:"added"`
	Seen     int           `json:"seen"`
	Failed   int           `json:"failed"`
	Error    string        `json:"error,omitempty"`
}

// Summary aggregates the outcome of one run. Mode failures are
// recorded per mode; Error is set only when the run itself failed.
type Summary struct {
	RunID      string       `json:"run_id"`
	Server     string       `json:"server"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Modes      []ModeResult `json:"modes,omitempty"`
	Added      int          `json:"added"`
	Seen       int          `json:"seen"`
	Failed     int          `json:"failed"`
	Error      string       `json:"error,omitempty"`
}

func newSummary(runID, server string) *Summary {
	return &Summary{
		RunID:     runID,
		Server:    server,
		StartedAt: time.Now().UTC(),
	}
}

// record appends a mode outcome and rolls its counters into the totals.
func (s *Summary) record(name string, duration time.Duration, res importer.Result, err error) {
	mode := ModeResult{
		Name:     name,
		Duration: duration,
		Added:    res.Added,
		Seen:     res.Seen,
		Failed:   res.Failed,
	}
	if err != nil {
		mode.Error = err.Error()
	}
	s.Modes = append(s.Modes, mode)
	s.Added += res.Added
	s.Seen += res.Seen
	s.Failed += res.Failed
}

// finish stamps the end of the run.
func (s *Summary) finish() {
	s.FinishedAt = time.Now().UTC()
}

// fail stamps the end of the run with a fatal error.
func (s *Summary) fail(err error) {
	s.finish()
	s.Error = err.Error()
}

// Duration returns the wall-clock span of the run.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
