package backends

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/miekg/dns"
)

// ErrResolveFailed is returned when a backend's host could not be
// resolved to any address at startup.
var ErrResolveFailed = errors.New("backends: resolve failed")

// Entry is a resolved backend: a non-empty, ordered address list and the
// port every address in it is reached on.
type Entry struct {
	Addrs []netip.Addr
	Port  int
}

// Resolver resolves a configured host string to an ordered, non-empty
// address list. Resolution runs once at startup; sessions only ever see
// the resolved Entry.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]netip.Addr, error)
}

// DNSResolver resolves literal IPs directly and queries the nameservers
// listed in resolv.conf for names, falling back to the Go runtime
// resolver when no resolv.conf is available.
type DNSResolver struct {
	client  *dns.Client
	servers []string
}

// NewDNSResolver builds a DNSResolver from the system's resolv.conf, if
// present. A missing or unreadable resolv.conf is not an error here:
// Resolve simply falls back to net.DefaultResolver for every name.
func NewDNSResolver() *DNSResolver {
	r := &DNSResolver{client: new(dns.Client)}
	cc, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err == nil {
		for _, s := range cc.Servers {
			r.servers = append(r.servers, net.JoinHostPort(s, cc.Port))
		}
	}
	return r
}

// Resolve implements Resolver.
func (r *DNSResolver) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}

	if len(r.servers) > 0 {
		if addrs, err := r.resolveViaDNS(ctx, host); err == nil && len(addrs) > 0 {
			return addrs, nil
		}
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil || len(ips) == 0 {
		return nil, fmt.Errorf("%w: %s: %v", ErrResolveFailed, host, err)
	}
	addrs := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		if a, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, a.Unmap())
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrResolveFailed, host)
	}
	return addrs, nil
}

func (r *DNSResolver) resolveViaDNS(ctx context.Context, host string) ([]netip.Addr, error) {
	var addrs []netip.Addr
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		for _, server := range r.servers {
			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil || resp == nil {
				continue
			}
			for _, rr := range resp.Answer {
				switch rec := rr.(type) {
				case *dns.A:
					if a, ok := netip.AddrFromSlice(rec.A.To4()); ok {
						addrs = append(addrs, a)
					}
				case *dns.AAAA:
					if a, ok := netip.AddrFromSlice(rec.AAAA.To16()); ok {
						addrs = append(addrs, a)
					}
				}
			}
			if len(addrs) > 0 {
				break
			}
		}
	}
	return addrs, nil
}

// ResolveAll resolves every backend in cfg, returning a host → Entry map
// ready for Dispatcher. The caller-supplied default port from each
// backend entry is carried through unchanged.
func ResolveAll(ctx context.Context, cfg *Config, r Resolver) (map[string]Entry, error) {
	out := make(map[string]Entry, len(cfg.Backends))
	var errs []error
	for name, b := range cfg.Backends {
		addrs, err := r.Resolve(ctx, b.Host)
		if err != nil {
			errs = append(errs, fmt.Errorf("backends: %s (host %s): %w", name, b.Host, err))
			continue
		}
		out[name] = Entry{Addrs: addrs, Port: b.Port}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
