package cloudflare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/evanofslack/cloudflare-ddns/internal/metrics"
	"github.com/evanofslack/cloudflare-ddns/internal/provider"
)

const perPage = 100

type CloudflareProvider struct {
	client  *cloudflare.API
	metrics *metrics.Metrics
}

// New builds a repository backed by the Cloudflare v4 API. Requests are never
// retried by the client: a failed update is reported once and left alone.
func New(token string, metrics *metrics.Metrics, opts ...cloudflare.Option) (*CloudflareProvider, error) {
	if token == "" {
		return nil, fmt.Errorf("cloudflare API token required")
	}

	opts = append([]cloudflare.Option{cloudflare.UsingRetryPolicy(0, 1, 1)}, opts...)
	client, err := cloudflare.NewWithAPIToken(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloudflare client: %w", err)
	}

	return &CloudflareProvider{
		client:  client,
		metrics: metrics,
	}, nil
}

func (p *CloudflareProvider) ListZones(ctx context.Context) ([]provider.Zone, error) {
	slog.Debug("Listing zones")
	start := time.Now()

	var zones []provider.Zone
	page := 1
	for {
		resp, err := p.client.ListZonesContext(ctx, cloudflare.WithPagination(cloudflare.PaginationOptions{
			Page:    page,
			PerPage: perPage,
		}))
		if err != nil {
			p.metrics.IncDNSRequest("list", "", false)
			return nil, wrapError("list zones", err)
		}
		for _, z := range resp.Result {
			zones = append(zones, provider.Zone{ID: z.ID, Name: z.Name})
		}
		if page >= resp.TotalPages {
			break
		}
		page++
	}

	p.metrics.IncDNSRequest("list", "", true)
	slog.Debug("Listed zones", "count", len(zones), "duration", time.Since(start))
	return zones, nil
}

func (p *CloudflareProvider) ListRecords(ctx context.Context, zoneID string) ([]provider.Record, error) {
	slog.Debug("Getting DNS records", "zone", zoneID)
	start := time.Now()

	// Get all records for the zone with pagination
	var allRecords []cloudflare.DNSRecord
	page := 1
	for {
		rc := cloudflare.ZoneIdentifier(zoneID)
		params := cloudflare.ListDNSRecordsParams{
			ResultInfo: cloudflare.ResultInfo{
				Page:    page,
				PerPage: perPage,
			},
		}

		records, resultInfo, err := p.client.ListDNSRecords(ctx, rc, params)
		if err != nil {
			p.metrics.IncDNSRequest("read", zoneID, false)
			return nil, wrapError("list records", err)
		}

		allRecords = append(allRecords, records...)
		if resultInfo == nil || page >= resultInfo.TotalPages {
			break
		}
		page++
	}

	result := make([]provider.Record, 0, len(allRecords))
	for _, r := range allRecords {
		result = append(result, fromCloudflare(r, zoneID))
	}

	p.metrics.IncDNSRequest("read", zoneID, true)
	slog.Debug("Retrieved DNS records", "zone", zoneID, "count", len(result), "duration", time.Since(start))
	return result, nil
}

func (p *CloudflareProvider) UpdateRecord(ctx context.Context, zoneID, recordID, content, name, recordType string) (provider.Record, error) {
	slog.Info("Updating DNS record", "zone", zoneID, "name", name, "type", recordType, "data", content)
	start := time.Now()

	// Only these fields are sent: UpdateDNSRecordParams always serialises
	// tags, and a null tags field clears them.
	body := recordPatch{Type: recordType, Name: name, Content: content}
	endpoint := fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, recordID)

	resp, err := p.client.Raw(ctx, http.MethodPatch, endpoint, body, nil)
	if err != nil {
		p.metrics.IncDNSRequest("update", zoneID, false)
		return provider.Record{}, wrapError("update record", err)
	}
	var updated cloudflare.DNSRecord
	if err := json.Unmarshal(resp.Result, &updated); err != nil {
		p.metrics.IncDNSRequest("update", zoneID, false)
		return provider.Record{}, &provider.Error{Op: "update record", Err: fmt.Errorf("decode result: %w", err)}
	}

	p.metrics.IncDNSRequest("update", zoneID, true)
	slog.Debug("Updated DNS record", "zone", zoneID, "name", name, "type", recordType, "duration", time.Since(start))
	return fromCloudflare(updated, zoneID), nil
}

// recordPatch is the body of a record update: the content plus the name and
// type Cloudflare requires alongside it.
type recordPatch struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

func fromCloudflare(r cloudflare.DNSRecord, zoneID string) provider.Record {
	if r.ZoneID != "" {
		zoneID = r.ZoneID
	}
	record := provider.Record{
		ID:      r.ID,
		ZoneID:  zoneID,
		Name:    r.Name,
		Type:    r.Type,
		Content: r.Content,
		Locked:  r.Locked,
		Comment: r.Comment,
		Tags:    r.Tags,
		TTL:     r.TTL,
	}
	if r.Proxied != nil {
		record.Proxied = *r.Proxied
	}
	return record
}

// apiError is satisfied by the typed errors cloudflare-go returns for
// non-2xx responses.
type apiError interface {
	ErrorCodes() []int
	ErrorMessages() []string
}

func wrapError(op string, err error) error {
	perr := &provider.Error{Op: op, Err: err}
	var typed apiError
	var raw *cloudflare.Error
	switch {
	case errors.As(err, &typed):
		perr.Codes = typed.ErrorCodes()
		perr.Messages = typed.ErrorMessages()
	case errors.As(err, &raw):
		perr.Codes = raw.ErrorCodes
		perr.Messages = raw.ErrorMessages
	}
	return perr
}
