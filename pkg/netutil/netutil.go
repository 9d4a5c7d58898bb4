// Package netutil holds small helpers for turning user-facing target and
// port notations into concrete scan inputs.
package netutil

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// maxExpansion caps how many addresses a single CIDR may expand to, so a
// stray /8 cannot exhaust memory.
const maxExpansion = 65536

// ExpandTargets parses a mixed list of IPs, hostnames, and CIDR blocks into
// individual target strings. CIDR blocks are expanded host by host with the
// network and broadcast addresses dropped. Hostnames pass through untouched.
func ExpandTargets(targets []string) ([]string, error) {
	var out []string
	for _, raw := range targets {
		target := strings.TrimSpace(raw)
		if target == "" {
			continue
		}

		if !strings.Contains(target, "/") {
			out = append(out, target)
			continue
		}

		_, ipNet, err := net.ParseCIDR(target)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", target, err)
		}

		ones, bits := ipNet.Mask.Size()
		if bits-ones > 16 {
			return nil, fmt.Errorf("CIDR %q expands beyond %d addresses", target, maxExpansion)
		}

		hosts := expandCIDR(ipNet)
		out = append(out, hosts...)
	}
	return out, nil
}

func expandCIDR(ipNet *net.IPNet) []string {
	var hosts []string
	ones, bits := ipNet.Mask.Size()
	skipEdges := bits == 32 && ones < 31

	ip := make(net.IP, len(ipNet.IP))
	copy(ip, ipNet.IP.Mask(ipNet.Mask))

	for ; ipNet.Contains(ip); incIP(ip) {
		if skipEdges && (ip.Equal(networkAddr(ipNet)) || ip.Equal(broadcastAddr(ipNet))) {
			continue
		}
		host := make(net.IP, len(ip))
		copy(host, ip)
		hosts = append(hosts, host.String())
		if len(hosts) >= maxExpansion {
			break
		}
	}
	return hosts
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			break
		}
	}
}

func networkAddr(ipNet *net.IPNet) net.IP {
	return ipNet.IP.Mask(ipNet.Mask)
}

func broadcastAddr(ipNet *net.IPNet) net.IP {
	ip4 := ipNet.IP.To4()
	if ip4 == nil {
		return nil
	}
	out := make(net.IP, net.IPv4len)
	for i := 0; i < net.IPv4len; i++ {
		out[i] = ip4[i] | ^ipNet.Mask[i]
	}
	return out
}

// FilterLoopback drops loopback addresses from a target list.
func FilterLoopback(targets []string) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if ip := net.ParseIP(t); ip != nil && ip.IsLoopback() {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ParsePorts parses a comma-separated port spec with ranges, for example
// "22,80,8000-8010". The result is sorted and deduplicated.
func ParsePorts(spec string) ([]int, error) {
	seen := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := parsePort(lo)
			if err != nil {
				return nil, err
			}
			end, err := parsePort(hi)
			if err != nil {
				return nil, err
			}
			if start > end {
				return nil, fmt.Errorf("invalid port range %q: start exceeds end", part)
			}
			for p := start; p <= end; p++ {
				seen[p] = true
			}
			continue
		}

		p, err := parsePort(part)
		if err != nil {
			return nil, err
		}
		seen[p] = true
	}

	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("port %d out of range", p)
	}
	return p, nil
}
