package discovery

import (
	"fmt"
	"strings"

	gopsutilnet "github.com/shirou/gopsutil/v3/net"
)

// LocalSubnet returns the /24 CIDR of the first up, non-loopback IPv4
// interface on the host, used as DiscoverFleet's scan target when the
// caller does not name one explicitly. It uses gopsutil's net package
// for interface enumeration instead of hand-rolling net.Interfaces()
// walking, since gopsutil already normalizes the platform differences
// in how interface flags and addresses are reported.
func LocalSubnet() (string, error) {
	ifaces, err := gopsutilnet.Interfaces()
	if err != nil {
		return "", fmt.Errorf("discovery: enumerate interfaces: %w", err)
	}

	for _, iface := range ifaces {
		isUp, isLoopback := false, false
		for _, flag := range iface.Flags {
			switch flag {
			case "up":
				isUp = true
			case "loopback":
				isLoopback = true
			}
		}
		if !isUp || isLoopback {
			continue
		}

		for _, addr := range iface.Addrs {
			ip := addr.Addr
			if idx := strings.IndexByte(ip, '/'); idx >= 0 {
				ip = ip[:idx]
			}
			parts := strings.Split(ip, ".")
			if len(parts) != 4 {
				continue // not an IPv4 address
			}
			return fmt.Sprintf("%s.%s.%s.0/24", parts[0], parts[1], parts[2]), nil
		}
	}

	return "", fmt.Errorf("discovery: no suitable network interface found")
}
