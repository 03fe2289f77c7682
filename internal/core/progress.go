package core

import (
	"math"
	"time"
)

// Progress curve: the service needs roughly a second plus 120ms per
// record. The estimate approaches but never reaches 100 until the run ends.
const (
	progressBase      = time.Second
	progressPerRecord = 120 * time.Millisecond
	progressSteepness = 4.0
)

// ExpectedDuration is the expected dedupe time for n records.
func ExpectedDuration(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	return progressBase + time.Duration(n)*progressPerRecord
}

// EstimateProgress returns a percentage in [0, 100) for a run of n records
// that has been processing for elapsed, rounded to one decimal place.
func EstimateProgress(n int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	x := float64(elapsed) / float64(ExpectedDuration(n))
	pct := 100 * (1 - 1/(1+progressSteepness*x))
	pct = math.Round(pct*10) / 10
	if pct >= 100 {
		pct = 99.9
	}
	return pct
}

// Progress reports the dataset's progress: 100 once terminal.
func (d *Dataset) Progress(now time.Time) float64 {
	if d.IsTerminal() {
		return 100
	}
	return EstimateProgress(d.RecordCount(), d.Duration(now))
}
