package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"time"
)

const defaultIpifyURL = "https://api64.ipify.org?format=json"

// Ipify asks a lookup service that answers {"ip": "<address>"} with the
// address the request came from.
type Ipify struct {
	url    string
	family Family
	client Httper
}

func NewIpify(url string, family Family, timeout time.Duration) *Ipify {
	if url == "" {
		url = defaultIpifyURL
	}
	return &Ipify{url: url, family: family, client: newHTTPClient(family, timeout)}
}

func (f *Ipify) Fetch(ctx context.Context) (Addresses, error) {
	body, err := get(ctx, f.client, f.url)
	if noRoute(f.family, "ipify", err) {
		return Addresses{}, nil
	}
	if err != nil {
		return Addresses{}, &Error{Source: "ipify", Err: err}
	}
	var resp struct {
		IP netip.Addr `json:"ip"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Addresses{}, &Error{Source: "ipify", Err: fmt.Errorf("decode response: %w", err)}
	}
	return f.family.keep(Addresses{}.with(resp.IP)), nil
}
