package cloudflare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cloudflare/cloudflare-go"
	"github.com/evanofslack/cloudflare-ddns/internal/metrics"
	"github.com/evanofslack/cloudflare-ddns/internal/provider"
)

func envelope(result any, page, totalPages int) map[string]any {
	return map[string]any{
		"success":  true,
		"errors":   []any{},
		"messages": []any{},
		"result":   result,
		"result_info": map[string]any{
			"page":        page,
			"per_page":    perPage,
			"total_pages": totalPages,
			"count":       1,
			"total_count": totalPages,
		},
	}
}

func failure(code int, message string) map[string]any {
	return map[string]any{
		"success":  false,
		"errors":   []any{map[string]any{"code": code, "message": message}},
		"messages": []any{},
		"result":   nil,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestProvider(t *testing.T, mux *http.ServeMux) *CloudflareProvider {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p, err := New("test-token", metrics.New(false), cloudflare.BaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New("", metrics.New(false)); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestListZonesPaginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /zones", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			writeJSON(w, http.StatusBadRequest, failure(6003, "bad auth header "+got))
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 0 {
			page = 1
		}
		zone := map[string]any{"id": fmt.Sprintf("zone-%d", page), "name": fmt.Sprintf("example%d.com", page)}
		writeJSON(w, http.StatusOK, envelope([]any{zone}, page, 2))
	})

	p := newTestProvider(t, mux)
	zones, err := p.ListZones(context.Background())
	if err != nil {
		t.Fatalf("ListZones: %v", err)
	}
	want := []provider.Zone{{ID: "zone-1", Name: "example1.com"}, {ID: "zone-2", Name: "example2.com"}}
	if len(zones) != len(want) {
		t.Fatalf("got %d zones, want %d: %+v", len(zones), len(want), zones)
	}
	for i := range want {
		if zones[i] != want[i] {
			t.Errorf("zone %d = %+v, want %+v", i, zones[i], want[i])
		}
	}
}

func TestListZonesProviderError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /zones", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, failure(1003, "Invalid or missing zone id."))
	})

	p := newTestProvider(t, mux)
	_, err := p.ListZones(context.Background())
	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *provider.Error", err)
	}
	if perr.Op != "list zones" {
		t.Errorf("Op = %q, want list zones", perr.Op)
	}
	if len(perr.Codes) != 1 || perr.Codes[0] != 1003 {
		t.Errorf("Codes = %v, want [1003]", perr.Codes)
	}
}

func TestListRecords(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /zones/{zone}/dns_records", func(w http.ResponseWriter, r *http.Request) {
		zone := r.PathValue("zone")
		records := []any{
			map[string]any{
				"id": "rec-a", "zone_id": zone, "name": "home.example.com", "type": "A",
				"content": "9.9.9.9", "ttl": 1, "proxied": true, "comment": "managed by ddns",
				"tags": []string{"ddns", "env:home"},
			},
			map[string]any{
				"id": "rec-txt", "zone_id": zone, "name": "example.com", "type": "TXT",
				"content": "v=spf1 -all", "locked": true,
			},
		}
		writeJSON(w, http.StatusOK, envelope(records, 1, 1))
	})

	p := newTestProvider(t, mux)
	records, err := p.ListRecords(context.Background(), "zone-1")
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	a := records[0]
	if a.ID != "rec-a" || a.ZoneID != "zone-1" || a.Type != "A" || a.Content != "9.9.9.9" {
		t.Errorf("unexpected A record: %+v", a)
	}
	if !a.Proxied || a.Comment != "managed by ddns" || len(a.Tags) != 2 || a.Tags[0] != "ddns" {
		t.Errorf("metadata not carried over: %+v", a)
	}
	if !records[1].Locked {
		t.Errorf("TXT record should be locked: %+v", records[1])
	}
}

func TestUpdateRecord(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /zones/{zone}/dns_records/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, failure(1000, err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"errors":   []any{},
			"messages": []any{},
			"result": map[string]any{
				"id": r.PathValue("id"), "zone_id": r.PathValue("zone"),
				"name": body["name"], "type": body["type"], "content": body["content"],
			},
		})
	})

	p := newTestProvider(t, mux)
	updated, err := p.UpdateRecord(context.Background(), "zone-1", "rec-a", "1.2.3.4", "home.example.com", "A")
	if err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if body["content"] != "1.2.3.4" || body["name"] != "home.example.com" || body["type"] != "A" {
		t.Errorf("unexpected PATCH body: %v", body)
	}
	if len(body) != 3 {
		t.Errorf("PATCH body should only carry content, name and type: %v", body)
	}
	if updated.ID != "rec-a" || updated.ZoneID != "zone-1" || updated.Content != "1.2.3.4" {
		t.Errorf("unexpected result: %+v", updated)
	}
}

// TestUpdateRecordKeepsMetadata runs list, update, list against a server that
// applies PATCH the way Cloudflare does: every key present in the body
// overwrites the stored field, null included.
func TestUpdateRecordKeepsMetadata(t *testing.T) {
	var mu sync.Mutex
	stored := map[string]any{
		"id": "rec-a", "zone_id": "zone-1", "name": "home.example.com", "type": "A",
		"content": "9.9.9.9", "comment": "managed by ddns", "tags": []any{"ddns"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /zones/{zone}/dns_records", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		writeJSON(w, http.StatusOK, envelope([]any{stored}, 1, 1))
	})
	mux.HandleFunc("PATCH /zones/{zone}/dns_records/{id}", func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSON(w, http.StatusBadRequest, failure(1000, err.Error()))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for k, v := range patch {
			stored[k] = v
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true, "errors": []any{}, "messages": []any{}, "result": stored,
		})
	})

	p := newTestProvider(t, mux)
	ctx := context.Background()

	before, err := p.ListRecords(ctx, "zone-1")
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	rec := before[0]
	updated, err := p.UpdateRecord(ctx, "zone-1", rec.ID, "1.2.3.4", rec.Name, rec.Type)
	if err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if len(updated.Tags) != 1 || updated.Tags[0] != "ddns" || updated.Comment != "managed by ddns" {
		t.Errorf("update result lost metadata: %+v", updated)
	}

	after, err := p.ListRecords(ctx, "zone-1")
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	got := after[0]
	if got.Content != "1.2.3.4" {
		t.Errorf("content = %q, want 1.2.3.4", got.Content)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "ddns" {
		t.Errorf("tags = %v, want [ddns]", got.Tags)
	}
	if got.Comment != "managed by ddns" {
		t.Errorf("comment = %q, want managed by ddns", got.Comment)
	}
}

func TestUpdateRecordSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /zones/{zone}/dns_records/{id}", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, failure(10000, "internal error"))
	})

	p := newTestProvider(t, mux)
	_, err := p.UpdateRecord(context.Background(), "zone-1", "rec-a", "1.2.3.4", "home.example.com", "A")
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Op != "update record" {
		t.Fatalf("error = %v, want update record *provider.Error", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d requests, want exactly 1", got)
	}
}
