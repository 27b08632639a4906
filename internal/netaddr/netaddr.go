// Package netaddr discovers the local address peers should use to reach the
// server.
package netaddr

import (
	"errors"
	"net"
	"slices"
)

// Unavailable is reported in place of an address when none can be found.
const Unavailable = "No WiFi address"

// ErrNoAddress is returned when no usable interface address exists.
var ErrNoAddress = errors.New("no usable interface address")

// Resolver returns the peer-reachable address of this host.
type Resolver func() (string, error)

// PreferredInterfaces are tried first, in order, before any other interface.
var PreferredInterfaces = []string{"en0", "wlan0", "wlp2s0", "eth0"}

// Interface is the subset of net.Interface the discovery logic needs.
type Interface struct {
	Name  string
	Up    bool
	Loop  bool
	Addrs []net.Addr
}

// Discover returns the best address on this host's interfaces.
func Discover() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	candidates := make([]Interface, 0, len(ifaces))
	for _, ifc := range ifaces {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		candidates = append(candidates, Interface{
			Name:  ifc.Name,
			Up:    ifc.Flags&net.FlagUp != 0,
			Loop:  ifc.Flags&net.FlagLoopback != 0,
			Addrs: addrs,
		})
	}
	return Choose(candidates)
}

// Choose picks an address from candidates: preferred interfaces first, then
// any other up, non-loopback interface. IPv4 is preferred over IPv6 and
// link-local addresses are skipped.
func Choose(candidates []Interface) (string, error) {
	usable := make([]Interface, 0, len(candidates))
	for _, c := range candidates {
		if c.Up && !c.Loop {
			usable = append(usable, c)
		}
	}

	slices.SortStableFunc(usable, func(a, b Interface) int {
		return rank(a.Name) - rank(b.Name)
	})

	for _, want4 := range []bool{true, false} {
		for _, c := range usable {
			if ip := pick(c.Addrs, want4); ip != nil {
				return ip.String(), nil
			}
		}
	}
	return "", ErrNoAddress
}

// Resolve runs r and maps any failure to Unavailable.
func Resolve(r Resolver) string {
	if r == nil {
		return Unavailable
	}
	addr, err := r()
	if err != nil || addr == "" {
		return Unavailable
	}
	return addr
}

func rank(name string) int {
	if i := slices.Index(PreferredInterfaces, name); i >= 0 {
		return i
	}
	return len(PreferredInterfaces)
}

func pick(addrs []net.Addr, want4 bool) net.IP {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			continue
		}
		if (ip.To4() != nil) == want4 {
			return ip
		}
	}
	return nil
}
