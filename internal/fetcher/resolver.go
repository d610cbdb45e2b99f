package fetcher

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

const (
	defaultResolverServer = "resolver1.opendns.com:53"
	defaultResolverName   = "myip.opendns.com."
)

// Resolver asks a DNS server that answers a well-known name with the address
// of the querying client, as OpenDNS does for myip.opendns.com.
type Resolver struct {
	server string
	name   string
	family Family
	client *dns.Client
}

func NewResolver(server, name string, family Family, timeout time.Duration) *Resolver {
	if server == "" {
		server = defaultResolverServer
	}
	if name == "" {
		name = defaultResolverName
	}
	return &Resolver{
		server: server,
		name:   dns.Fqdn(name),
		family: family,
		client: &dns.Client{Net: family.network("udp"), Timeout: timeout},
	}
}

func (f *Resolver) Fetch(ctx context.Context) (Addresses, error) {
	var addrs Addresses
	if f.family != V6 {
		addr, err := f.query(ctx, dns.TypeA)
		if err != nil {
			return Addresses{}, err
		}
		addrs.V4 = addr
	}
	if f.family != V4 {
		addr, err := f.query(ctx, dns.TypeAAAA)
		if err != nil {
			return Addresses{}, err
		}
		addrs.V6 = addr
	}
	return addrs, nil
}

// query returns the first answer of qtype, or an invalid address when the
// server has none.
func (f *Resolver) query(ctx context.Context, qtype uint16) (netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(f.name, qtype)
	m.RecursionDesired = false

	r, _, err := f.client.ExchangeContext(ctx, m, f.server)
	if noRoute(f.family, "resolver", err) {
		return netip.Addr{}, nil
	}
	if err != nil {
		return netip.Addr{}, &Error{Source: "resolver", Err: fmt.Errorf("query %s %s: %w", f.name, dns.TypeToString[qtype], err)}
	}
	switch r.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return netip.Addr{}, nil
	default:
		return netip.Addr{}, &Error{Source: "resolver", Err: fmt.Errorf("query %s %s: %s", f.name, dns.TypeToString[qtype], dns.RcodeToString[r.Rcode])}
	}

	for _, rr := range r.Answer {
		switch rr := rr.(type) {
		case *dns.A:
			if addr, ok := netip.AddrFromSlice(rr.A.To4()); ok && qtype == dns.TypeA {
				return addr, nil
			}
		case *dns.AAAA:
			if addr, ok := netip.AddrFromSlice(rr.AAAA.To16()); ok && qtype == dns.TypeAAAA {
				return addr, nil
			}
		}
	}
	return netip.Addr{}, nil
}
