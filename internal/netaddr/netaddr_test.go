package netaddr

import (
	"errors"
	"net"
	"testing"
)

func ipNet(s string) *net.IPNet {
	return &net.IPNet{IP: net.ParseIP(s), Mask: net.CIDRMask(24, 32)}
}

func withInterfaces(t *testing.T, fn func() ([]ifaceAddrs, error)) {
	t.Helper()
	orig := interfaceAddrs
	t.Cleanup(func() {
		interfaceAddrs = orig
	})
	interfaceAddrs = fn
}

func TestDiscoverIP_SkipsLoopbackIPv6AndDownInterfaces(t *testing.T) {
	withInterfaces(t, func() ([]ifaceAddrs, error) {
		return []ifaceAddrs{
			{up: true, addrs: []net.Addr{ipNet("127.0.0.1")}},
			{up: false, addrs: []net.Addr{ipNet("10.0.0.9")}},
			{up: true, addrs: []net.Addr{&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)}, ipNet("192.168.1.42")}},
			{up: true, addrs: []net.Addr{ipNet("192.168.1.50")}},
		}, nil
	})

	if got := DiscoverIP(); got != "192.168.1.42" {
		t.Fatalf("expected 192.168.1.42, got %q", got)
	}
}

func TestDiscoverIP_FallsBackToLocalhost(t *testing.T) {
	withInterfaces(t, func() ([]ifaceAddrs, error) {
		return []ifaceAddrs{{up: true, addrs: []net.Addr{ipNet("127.0.0.1")}}}, nil
	})
	if got := DiscoverIP(); got != "localhost" {
		t.Fatalf("expected localhost, got %q", got)
	}

	withInterfaces(t, func() ([]ifaceAddrs, error) {
		return nil, errors.New("no interfaces")
	})
	if got := DiscoverIP(); got != "localhost" {
		t.Fatalf("expected localhost on error, got %q", got)
	}
}

func TestDisplayURL(t *testing.T) {
	if got := DisplayURL("192.168.1.42", 8080); got != "http://192.168.1.42:8080" {
		t.Fatalf("unexpected url: %s", got)
	}
	if got := DisplayURL("localhost", 9000); got != "http://localhost:9000" {
		t.Fatalf("unexpected url: %s", got)
	}
}
