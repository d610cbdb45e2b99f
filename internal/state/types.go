package state

import (
	"time"

	"github.com/evanofslack/cloudflare-ddns/internal/reconcile"
)

// Run summarises one reconciliation run. It is kept for operators only and
// never read back into a reconciliation decision.
type Run struct {
	Time     time.Time `json:"time"`
	V4       string    `json:"v4,omitempty"`
	V6       string    `json:"v6,omitempty"`
	Updated  int       `json:"updated"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Planned  int       `json:"planned"`
	Error    string    `json:"error,omitempty"`
	Duration float64   `json:"durationSeconds"`
}

func NewRun(start time.Time, results reconcile.Results, err error) Run {
	run := Run{
		Time:     start.UTC(),
		Updated:  results.Count(reconcile.KindUpdated),
		Skipped:  results.Count(reconcile.KindSkipped),
		Failed:   results.Count(reconcile.KindFailed),
		Planned:  results.Count(reconcile.KindPlanned),
		Duration: time.Since(start).Seconds(),
	}
	if results.Addresses.V4.IsValid() {
		run.V4 = results.Addresses.V4.String()
	}
	if results.Addresses.V6.IsValid() {
		run.V6 = results.Addresses.V6.String()
	}
	if err != nil {
		run.Error = err.Error()
	}
	return run
}

func (r Run) Succeeded() bool {
	return r.Error == ""
}
