package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// Nest reads the WAN address from a Google Nest/OnHub router's local status
// page. The router only reports IPv4, so V6 is never set.
type Nest struct {
	url    string
	client Httper
}

// NewNest targets http://<router>/api/v1/status unless statusURL overrides it.
func NewNest(router netip.Addr, statusURL string, timeout time.Duration) (*Nest, error) {
	if statusURL == "" {
		if !router.IsValid() {
			return nil, errors.New("nest fetcher requires a router address")
		}
		host := router.String()
		if router.Is6() {
			host = "[" + host + "]"
		}
		statusURL = "http://" + host + "/api/v1/status"
	}
	return &Nest{url: statusURL, client: newHTTPClient(Any, timeout)}, nil
}

type nestStatus struct {
	Wan struct {
		LocalIPAddress netip.Addr `json:"localIpAddress"`
	} `json:"wan"`
}

func (f *Nest) Fetch(ctx context.Context) (Addresses, error) {
	body, err := get(ctx, f.client, f.url)
	if err != nil {
		return Addresses{}, &Error{Source: "nest", Err: err}
	}
	var status nestStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return Addresses{}, &Error{Source: "nest", Err: fmt.Errorf("decode status: %w", err)}
	}
	return V4.keep(Addresses{}.with(status.Wan.LocalIPAddress)), nil
}
