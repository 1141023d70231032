// Package netaddr picks the LAN address shown to users in the upload URL.
package netaddr

import (
	"net"
	"strconv"
)

const fallbackHost = "localhost"

// interfaceAddrs is swapped in tests.
var interfaceAddrs = defaultInterfaceAddrs

type ifaceAddrs struct {
	up    bool
	addrs []net.Addr
}

func defaultInterfaceAddrs() ([]ifaceAddrs, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]ifaceAddrs, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, ifaceAddrs{up: iface.Flags&net.FlagUp != 0, addrs: addrs})
	}
	return out, nil
}

// DiscoverIP returns the first non-loopback IPv4 address of an up
// interface, or "localhost" when none exists.
func DiscoverIP() string {
	ifaces, err := interfaceAddrs()
	if err != nil {
		return fallbackHost
	}
	for _, iface := range ifaces {
		if !iface.up {
			continue
		}
		for _, addr := range iface.addrs {
			if ip := ipv4Of(addr); ip != nil && !ip.IsLoopback() {
				return ip.String()
			}
		}
	}
	return fallbackHost
}

// DisplayURL formats the address users type into a browser.
func DisplayURL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func ipv4Of(addr net.Addr) net.IP {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	default:
		return nil
	}
	return ip.To4()
}
