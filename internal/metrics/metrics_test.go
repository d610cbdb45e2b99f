package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestMetricsExposed(t *testing.T) {
	m := New(true)
	m.IncSyncRun(true)
	m.SetSyncDuration(250 * time.Millisecond)
	m.IncFetchRequest("ipify", true)
	m.IncDNSRequest("update", "example.com", false)
	m.IncRecordOutcome("skipped", "up_to_date", "AAAA")
	m.IncRecordOutcome("skipped", "incompatible_type", "TXT")
	m.IncBadgerRequest("update", true)

	body := scrape(t, m)
	for _, want := range []string{
		`cloudflare_ddns_sync_runs_total{status="success"} 1`,
		`cloudflare_ddns_fetch_requests_total{source="ipify",status="success"} 1`,
		`cloudflare_ddns_dns_requests_total{operation="update",status="failure",zone="example.com"} 1`,
		`cloudflare_ddns_record_outcomes_total{outcome="skipped",reason="up_to_date",type="AAAA"} 1`,
		`cloudflare_ddns_record_outcomes_total{outcome="skipped",reason="incompatible_type",type="other"} 1`,
		`cloudflare_ddns_badgerdb_requests_total{operation="update",status="success"} 1`,
		`cloudflare_ddns_sync_duration_seconds_count 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func TestInvalidLabelsIgnored(t *testing.T) {
	m := New(true)
	m.IncDNSRequest("delete", "example.com", true)
	m.IncBadgerRequest("create", true)
	m.IncFetchRequest("", true)

	body := scrape(t, m)
	for _, unwanted := range []string{`operation="delete"`, `operation="create"`, `source=""`} {
		if strings.Contains(body, unwanted) {
			t.Errorf("scrape output unexpectedly contains %q", unwanted)
		}
	}
}

func TestUnregistered(t *testing.T) {
	m := New(false)
	m.IncSyncRun(false)
	if body := scrape(t, m); strings.Contains(body, "cloudflare_ddns_sync_runs_total") {
		t.Error("unregistered metrics should not be exposed")
	}
}
