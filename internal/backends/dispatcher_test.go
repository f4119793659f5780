package backends

import (
	"context"
	"errors"
	"net/netip"
	"testing"
)

type fakeResolver struct {
	addrs map[string][]netip.Addr
	fail  map[string]bool
}

func (f *fakeResolver) Resolve(_ context.Context, host string) ([]netip.Addr, error) {
	if f.fail[host] {
		return nil, errors.New("boom")
	}
	if a, ok := f.addrs[host]; ok {
		return a, nil
	}
	return nil, ErrResolveFailed
}

func TestResolveAllBuildsEntries(t *testing.T) {
	cfg := &Config{
		Backends: map[string]BackendConfig{
			"example.com": {Host: "10.0.0.1", Port: 443},
			"default":     {Host: "10.0.0.9", Port: 8443},
		},
	}
	r := &fakeResolver{addrs: map[string][]netip.Addr{
		"10.0.0.1": {netip.MustParseAddr("10.0.0.1")},
		"10.0.0.9": {netip.MustParseAddr("10.0.0.9")},
	}}

	entries, err := ResolveAll(context.Background(), cfg, r)
	if err != nil {
		t.Fatalf("ResolveAll error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries["example.com"].Port != 443 {
		t.Fatalf("example.com port = %d, want 443", entries["example.com"].Port)
	}
}

func TestResolveAllAggregatesFailures(t *testing.T) {
	cfg := &Config{
		Backends: map[string]BackendConfig{
			"example.com": {Host: "nx.invalid", Port: 443},
		},
	}
	r := &fakeResolver{fail: map[string]bool{"nx.invalid": true}}

	if _, err := ResolveAll(context.Background(), cfg, r); err == nil {
		t.Fatal("expected resolution failure to be reported")
	}
}

func TestDispatcherExactMatch(t *testing.T) {
	d := NewDispatcher(map[string]Entry{
		"example.com": {Addrs: []netip.Addr{netip.MustParseAddr("127.0.0.1")}, Port: 9001},
	})
	e, err := d.Lookup("example.com")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if e.Port != 9001 {
		t.Fatalf("Port = %d, want 9001", e.Port)
	}
}

func TestDispatcherDefaultFallback(t *testing.T) {
	d := NewDispatcher(map[string]Entry{
		"default": {Addrs: []netip.Addr{netip.MustParseAddr("127.0.0.1")}, Port: 9002},
	})
	e, err := d.Lookup("other.test")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if e.Port != 9002 {
		t.Fatalf("Port = %d, want 9002 (default fallback)", e.Port)
	}
}

func TestDispatcherNotFound(t *testing.T) {
	d := NewDispatcher(map[string]Entry{
		"example.com": {Addrs: []netip.Addr{netip.MustParseAddr("127.0.0.1")}, Port: 9001},
	})
	if _, err := d.Lookup("absent.test"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup error = %v, want ErrNotFound", err)
	}
}

func TestDispatcherNoCaseFolding(t *testing.T) {
	d := NewDispatcher(map[string]Entry{
		"Example.com": {Addrs: []netip.Addr{netip.MustParseAddr("127.0.0.1")}, Port: 9001},
	})
	if _, err := d.Lookup("example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup should be case-sensitive, got err=%v", err)
	}
}
