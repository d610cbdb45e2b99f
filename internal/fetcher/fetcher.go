// Package fetcher discovers the public addresses of the host running the updater.
//
// Each variant asks exactly one backend per call. A variant that cannot tell
// the address of a family leaves it unset instead of failing; only transport,
// status and decoding failures are errors.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"

	"github.com/evanofslack/cloudflare-ddns/internal/config"
	"github.com/evanofslack/cloudflare-ddns/internal/metrics"
)

const maxBodySize = 64 << 10

// Addresses is the discovered address pair. An invalid netip.Addr means the
// family was not determined.
type Addresses struct {
	V4 netip.Addr
	V6 netip.Addr
}

func (a Addresses) IsZero() bool {
	return !a.V4.IsValid() && !a.V6.IsValid()
}

// LogValue renders an undetermined family as "none".
func (a Addresses) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("v4", FormatAddr(a.V4)),
		slog.String("v6", FormatAddr(a.V6)),
	)
}

// FormatAddr is a.String(), or "none" for an undetermined address.
func FormatAddr(a netip.Addr) string {
	if !a.IsValid() {
		return "none"
	}
	return a.String()
}

// with returns a copy of a holding addr in the slot of its family.
func (a Addresses) with(addr netip.Addr) Addresses {
	addr = addr.Unmap()
	switch {
	case addr.Is4():
		a.V4 = addr
	case addr.Is6():
		a.V6 = addr
	}
	return a
}

type Fetcher interface {
	Fetch(ctx context.Context) (Addresses, error)
}

// Error reports a failed lookup against one backend.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch address from %s: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Family pins a lookup to one IP version.
type Family int

const (
	Any Family = iota
	V4
	V6
)

func (f Family) String() string {
	switch f {
	case V4:
		return "v4"
	case V6:
		return "v6"
	default:
		return "any"
	}
}

// network narrows a Go network name ("tcp", "udp") to the family.
func (f Family) network(base string) string {
	switch f {
	case V4:
		return base + "4"
	case V6:
		return base + "6"
	default:
		return base
	}
}

// keep drops the address of the family f was not asked for.
func (f Family) keep(a Addresses) Addresses {
	switch f {
	case V4:
		a.V6 = netip.Addr{}
	case V6:
		a.V4 = netip.Addr{}
	}
	return a
}

// New builds the configured address source: the v4 variant answers for IPv4,
// the v6 variant for IPv6.
func New(cfg config.Fetchers, m *metrics.Metrics) (Fetcher, error) {
	v4, err := build(cfg.V4, V4, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("build v4 fetcher: %w", err)
	}
	v6, err := build(cfg.V6, V6, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("build v6 fetcher: %w", err)
	}
	return &Pair{
		V4: instrument(cfg.V4.Type, v4, m),
		V6: instrument(cfg.V6.Type, v6, m),
	}, nil
}

func build(cfg config.Fetcher, family Family, timeout time.Duration) (Fetcher, error) {
	switch cfg.Type {
	case config.FetcherIpify:
		return NewIpify(cfg.URL, family, timeout), nil
	case config.FetcherTrace:
		return NewTrace(cfg.URL, family, timeout), nil
	case config.FetcherNest:
		return NewNest(cfg.RouterIP, cfg.URL, timeout)
	case config.FetcherResolver:
		return NewResolver(cfg.Server, cfg.Name, family, timeout), nil
	case config.FetcherDisabled, "":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown fetcher type %q", cfg.Type)
	}
}

// Pair combines one source per family.
type Pair struct {
	V4 Fetcher
	V6 Fetcher
}

func (p *Pair) Fetch(ctx context.Context) (Addresses, error) {
	v4, err := p.V4.Fetch(ctx)
	if err != nil {
		return Addresses{}, err
	}
	v6, err := p.V6.Fetch(ctx)
	if err != nil {
		return Addresses{}, err
	}
	return Addresses{V4: v4.V4, V6: v6.V6}, nil
}

type instrumented struct {
	name    string
	next    Fetcher
	metrics *metrics.Metrics
}

func instrument(name string, f Fetcher, m *metrics.Metrics) Fetcher {
	if _, ok := f.(Disabled); ok || m == nil {
		return f
	}
	return &instrumented{name: name, next: f, metrics: m}
}

func (i *instrumented) Fetch(ctx context.Context) (Addresses, error) {
	start := time.Now()
	addrs, err := i.next.Fetch(ctx)
	i.metrics.IncFetchRequest(i.name, err == nil)
	slog.Debug("Fetched addresses", "source", i.name, "addresses", addrs, "duration", time.Since(start), "error", err)
	return addrs, err
}

type Httper interface {
	Do(req *http.Request) (*http.Response, error)
}

// newHTTPClient returns a client whose connections only use the given family,
// so that a lookup service sees the address of that family.
func newHTTPClient(family Family, timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}
	network := family.network("tcp")
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = func(ctx context.Context, _, addr string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, addr)
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

func get(ctx context.Context, client Httper, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http request returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// noRoute reports whether err only says that the host cannot reach a lookup
// over the family it was pinned to. That family is then left undetermined
// instead of failing the other one as well.
func noRoute(family Family, source string, err error) bool {
	if family == Any {
		return false
	}
	var addrErr *net.AddrError
	switch {
	case errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.EADDRNOTAVAIL),
		errors.Is(err, syscall.EAFNOSUPPORT),
		errors.As(err, &addrErr) && addrErr.Err == "no suitable address found":
		slog.Debug("No route for address family, leaving it unset", "source", source, "family", family.String(), "error", err)
		return true
	}
	return false
}
