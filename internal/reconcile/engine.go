package reconcile

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/evanofslack/cloudflare-ddns/internal/config"
	"github.com/evanofslack/cloudflare-ddns/internal/fetcher"
	"github.com/evanofslack/cloudflare-ddns/internal/metrics"
	"github.com/evanofslack/cloudflare-ddns/internal/provider"
)

type Engine interface {
	// Run fetches the current addresses and reconciles against them.
	Run(ctx context.Context, source fetcher.Fetcher) (Results, error)
	Reconcile(ctx context.Context, addrs fetcher.Addresses) (Results, error)
}

type engine struct {
	repo         provider.Repository
	domains      map[string]bool
	tag          string
	commentMatch string
	dryRun       bool
	metrics      *metrics.Metrics
}

func NewEngine(repo provider.Repository, cfg config.Cloudflare, metrics *metrics.Metrics) *engine {
	domains := make(map[string]bool)
	for _, d := range cfg.Domains {
		domains[d] = true
	}
	return &engine{
		repo:         repo,
		domains:      domains,
		tag:          cfg.Tag,
		commentMatch: cfg.CommentMatch,
		dryRun:       cfg.DryRun,
		metrics:      metrics,
	}
}

func (e *engine) Run(ctx context.Context, source fetcher.Fetcher) (Results, error) {
	addrs, err := source.Fetch(ctx)
	if err != nil {
		return Results{}, &RunError{Phase: PhaseFetch, Err: err}
	}
	slog.Info("Fetched addresses", "addresses", addrs)
	return e.Reconcile(ctx, addrs)
}

func (e *engine) Reconcile(ctx context.Context, addrs fetcher.Addresses) (Results, error) {
	zones, err := e.repo.ListZones(ctx)
	if err != nil {
		return Results{}, &RunError{Phase: PhaseListZones, Err: err}
	}

	results := Results{Addresses: addrs}
	for _, zone := range zones {
		if !e.domains[zone.ID] && !e.domains[zone.Name] {
			continue
		}

		records, err := e.repo.ListRecords(ctx, zone.ID)
		if err != nil {
			return Results{}, &RunError{Phase: PhaseListRecords, Zone: zone.Name, Err: err}
		}
		slog.Debug("Got records from dns provider", "zone", zone.Name, "count", len(records))

		for _, record := range records {
			if !hasTag(record, e.tag, e.commentMatch) {
				continue
			}
			outcome := e.apply(ctx, zone, record, addrs)
			e.metrics.IncRecordOutcome(outcome.Kind.String(), outcome.Reason.String(), record.Type)
			results.Outcomes = append(results.Outcomes, outcome)
		}
	}
	return results, nil
}

// apply performs the single side effect of a run: the update call for a
// record that classify did not skip.
func (e *engine) apply(ctx context.Context, zone provider.Zone, record provider.Record, addrs fetcher.Addresses) Outcome {
	outcome := Outcome{Zone: zone, Record: record}

	content, reason := classify(record, addrs)
	if reason != ReasonNone {
		slog.Debug("Skipping record", "zone", zone.Name, "name", record.Name, "type", record.Type, "reason", reason.String())
		outcome.Kind = KindSkipped
		outcome.Reason = reason
		return outcome
	}

	outcome.Content = content
	if e.dryRun {
		slog.Info("Dry run mode - would update record", "zone", zone.Name, "name", record.Name, "type", record.Type, "from", record.Content, "to", content)
		outcome.Kind = KindPlanned
		return outcome
	}

	updated, err := e.repo.UpdateRecord(ctx, zone.ID, record.ID, content, record.Name, record.Type)
	if err != nil {
		slog.Error("Failed to update record", "zone", zone.Name, "name", record.Name, "type", record.Type, "error", err)
		outcome.Kind = KindFailed
		outcome.Err = err
		return outcome
	}
	slog.Info("Updated record", "zone", zone.Name, "name", record.Name, "type", record.Type, "from", record.Content, "to", updated.Content)
	outcome.Kind = KindUpdated
	outcome.Updated = updated
	return outcome
}

// classify decides what to do with an eligible record without any I/O. It
// returns the content to write, or the reason the record is left alone.
func classify(record provider.Record, addrs fetcher.Addresses) (string, Reason) {
	if record.Locked {
		return "", ReasonLocked
	}

	var content string
	switch record.Type {
	case "A":
		if !addrs.V4.IsValid() {
			return "", ReasonNoAddress
		}
		content = addrs.V4.String()
	case "AAAA":
		if !addrs.V6.IsValid() {
			return "", ReasonNoAddress
		}
		content = addrs.V6.String()
	default:
		return "", ReasonIncompatibleType
	}

	// Textual comparison: netip renders v4 dotted-quad and v6 in RFC 5952
	// form, which is how Cloudflare stores content.
	if content == record.Content {
		return "", ReasonUpToDate
	}
	return content, ReasonNone
}

// hasTag reports whether a record is managed under tag: an exact entry in
// its tags, or a match in its comment.
func hasTag(record provider.Record, tag, commentMatch string) bool {
	if slices.Contains(record.Tags, tag) {
		return true
	}
	if commentMatch == config.CommentMatchToken {
		return slices.Contains(strings.FieldsFunc(record.Comment, isTagSeparator), tag)
	}
	return strings.Contains(record.Comment, tag)
}

func isTagSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\n', ',', ';':
		return true
	}
	return false
}
