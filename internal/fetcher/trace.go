package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

const defaultTraceURL = "https://cloudflare.com/cdn-cgi/trace"

// Trace reads the "ip=" line of Cloudflare's trace endpoint.
type Trace struct {
	url    string
	family Family
	client Httper
}

func NewTrace(url string, family Family, timeout time.Duration) *Trace {
	if url == "" {
		url = defaultTraceURL
	}
	return &Trace{url: url, family: family, client: newHTTPClient(family, timeout)}
}

func (f *Trace) Fetch(ctx context.Context) (Addresses, error) {
	body, err := get(ctx, f.client, f.url)
	if noRoute(f.family, "trace", err) {
		return Addresses{}, nil
	}
	if err != nil {
		return Addresses{}, &Error{Source: "trace", Err: err}
	}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		value, ok := strings.CutPrefix(scanner.Text(), "ip=")
		if !ok {
			continue
		}
		addr, err := netip.ParseAddr(strings.TrimSpace(value))
		if err != nil {
			return Addresses{}, &Error{Source: "trace", Err: fmt.Errorf("parse ip from trace: %w", err)}
		}
		return f.family.keep(Addresses{}.with(addr)), nil
	}
	if err := scanner.Err(); err != nil {
		return Addresses{}, &Error{Source: "trace", Err: err}
	}
	return Addresses{}, &Error{Source: "trace", Err: errors.New("no ip= line in trace response")}
}
