package reconcile

import (
	"encoding/json"
	"fmt"
	"time"
)

// Report summarizes one reconciliation or stats pass.
type Report struct {
	TotalChecked      int
	ConsistentCount   int
	InconsistentCount int
	FixedCount        int
	FailedCount       int
	StartedAt         time.Time
	Timestamp         time.Time
	Duration          time.Duration
}

func (r *Report) add(result string) {
	r.TotalChecked++
	switch result {
	case ResultConsistent:
		r.ConsistentCount++
	case ResultFixed:
		r.InconsistentCount++
		r.FixedCount++
	case ResultFailed:
		r.InconsistentCount++
		r.FailedCount++
	case ResultDrifted:
		r.InconsistentCount++
	}
}

// ConsistencyPercentage is the share of consistent profiles, 0 when nothing was checked.
func (r Report) ConsistencyPercentage() float64 {
	if r.TotalChecked == 0 {
		return 0
	}
	return float64(r.ConsistentCount) / float64(r.TotalChecked) * 100
}

// Summary is the audit detail line for a completed run.
func (r Report) Summary() string {
	return fmt.Sprintf("Checked: %d, Fixed: %d, Inconsistent: %d, Failed: %d",
		r.TotalChecked, r.FixedCount, r.InconsistentCount, r.FailedCount)
}

func (r Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TotalChecked          int       `json:"totalChecked"`
		ConsistentCount       int       `json:"consistentCount"`
		InconsistentCount     int       `json:"inconsistentCount"`
		FixedCount            int       `json:"fixedCount"`
		FailedCount           int       `json:"failedCount"`
		ConsistencyPercentage float64   `json:"consistencyPercentage"`
		StartedAt             time.Time `json:"startedAt"`
		Timestamp             time.Time `json:"timestamp"`
		DurationMillis        int64     `json:"durationMs"`
	}{
		TotalChecked:          r.TotalChecked,
		ConsistentCount:       r.ConsistentCount,
		InconsistentCount:     r.InconsistentCount,
		FixedCount:            r.FixedCount,
		FailedCount:           r.FailedCount,
		ConsistencyPercentage: r.ConsistencyPercentage(),
		StartedAt:             r.StartedAt,
		Timestamp:             r.Timestamp,
		DurationMillis:        r.Duration.Milliseconds(),
	})
}
