package reconcile

import (
	"fmt"

	"github.com/evanofslack/cloudflare-ddns/internal/fetcher"
	"github.com/evanofslack/cloudflare-ddns/internal/provider"
)

type Kind int

const (
	KindUpdated Kind = iota + 1
	KindSkipped
	KindFailed
	// KindPlanned replaces KindUpdated in dry-run mode.
	KindPlanned
)

func (k Kind) String() string {
	switch k {
	case KindUpdated:
		return "updated"
	case KindSkipped:
		return "skipped"
	case KindFailed:
		return "failed"
	case KindPlanned:
		return "planned"
	default:
		return "unknown"
	}
}

// Reason explains a skip.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUpToDate
	ReasonLocked
	ReasonNoAddress
	ReasonIncompatibleType
)

func (r Reason) String() string {
	switch r {
	case ReasonUpToDate:
		return "up_to_date"
	case ReasonLocked:
		return "locked"
	case ReasonNoAddress:
		return "no_applicable_address"
	case ReasonIncompatibleType:
		return "incompatible_type"
	default:
		return ""
	}
}

// Outcome is the result for one eligible record. Record is the snapshot the
// decision was made on; Updated is what the provider returned.
type Outcome struct {
	Zone    provider.Zone
	Record  provider.Record
	Kind    Kind
	Reason  Reason
	Content string
	Updated provider.Record
	Err     error
}

type Results struct {
	Addresses fetcher.Addresses
	Outcomes  []Outcome
}

func (r Results) Count(kind Kind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

type Phase string

const (
	PhaseFetch       Phase = "fetch"
	PhaseListZones   Phase = "list-zones"
	PhaseListRecords Phase = "list-records"
)

// RunError aborts a whole run. Zone is set for PhaseListRecords.
type RunError struct {
	Phase Phase
	Zone  string
	Err   error
}

func (e *RunError) Error() string {
	if e.Zone != "" {
		return fmt.Sprintf("%s %s: %v", e.Phase, e.Zone, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
