package waypoint

import (
	"net"
	"strings"

	werrors "github.com/toyz/waypoint/internal/errors"
)

// ParseTrustedProxies parses IP addresses and CIDR ranges. A bare address
// is treated as a single-host range.
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, werrors.Newf(werrors.ConfigurationErrorCode, "invalid trusted proxy %q", entry)
			}
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, werrors.Newf(werrors.ConfigurationErrorCode, "invalid trusted proxy %q", entry).WithCause(err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// WithTrustedProxies lists the peers whose forwarding headers are believed.
// Without it, RealIP is always the direct peer address.
func WithTrustedProxies(nets ...*net.IPNet) Option {
	return func(a *App) { a.proxies = append(a.proxies, nets...) }
}

// TrustsProxy reports whether addr, a bare IP, is a trusted proxy.
func (a *App) TrustsProxy(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range a.proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ForwardedIP resolves the client address behind trusted proxies. It walks
// X-Forwarded-For right to left and returns the first untrusted hop, then
// falls back to X-Real-IP. ok is false when the peer itself is untrusted
// or no forwarding header is present.
func ForwardedIP(trusted func(string) bool, peer, forwardedFor, realIP string) (string, bool) {
	if trusted == nil || !trusted(peer) {
		return "", false
	}
	if forwardedFor != "" {
		hops := strings.Split(forwardedFor, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if i == 0 || !trusted(hop) {
				return hop, true
			}
		}
	}
	if realIP = strings.TrimSpace(realIP); realIP != "" {
		return realIP, true
	}
	return "", false
}
