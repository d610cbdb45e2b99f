// Package report renders reconciliation results for a terminal.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/evanofslack/cloudflare-ddns/internal/fetcher"
	"github.com/evanofslack/cloudflare-ddns/internal/reconcile"
	"github.com/evanofslack/cloudflare-ddns/internal/state"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// Render writes the addresses used by a run followed by one row per outcome,
// in the order the engine produced them.
func Render(w io.Writer, results reconcile.Results) error {
	fmt.Fprintf(w, "IPv4: %s\nIPv6: %s\n\n", fetcher.FormatAddr(results.Addresses.V4), fetcher.FormatAddr(results.Addresses.V6))

	if len(results.Outcomes) == 0 {
		_, err := fmt.Fprintln(w, "No matching records.")
		return err
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "ZONE\tNAME\tTYPE\tOUTCOME\tDETAIL")
	for _, o := range results.Outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.Zone.Name, o.Record.Name, o.Record.Type, o.Kind, detail(o))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%d updated, %d skipped, %d failed, %d planned\n",
		results.Count(reconcile.KindUpdated),
		results.Count(reconcile.KindSkipped),
		results.Count(reconcile.KindFailed),
		results.Count(reconcile.KindPlanned))
	return err
}

func detail(o reconcile.Outcome) string {
	switch o.Kind {
	case reconcile.KindUpdated:
		return fmt.Sprintf("%s -> %s", o.Record.Content, o.Updated.Content)
	case reconcile.KindPlanned:
		return fmt.Sprintf("%s -> %s (dry run)", o.Record.Content, o.Content)
	case reconcile.KindSkipped:
		return o.Reason.String()
	case reconcile.KindFailed:
		if o.Err != nil {
			return o.Err.Error()
		}
	}
	return ""
}

// RenderHistory writes stored run summaries, newest first.
func RenderHistory(w io.Writer, runs []state.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "TIME\tIPV4\tIPV6\tUPDATED\tSKIPPED\tFAILED\tPLANNED\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.Time.Local().Format(time.DateTime), orNone(r.V4), orNone(r.V6),
			r.Updated, r.Skipped, r.Failed, r.Planned, r.Error)
	}
	return tw.Flush()
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
