package session

import (
	"net"
	"strings"
)

// NetworkPrefix reduces an address to the network it belongs to: /16 for IPv4 and
// /48 for IPv6. Unparseable input is returned trimmed.
func NetworkPrefix(ip string) string {
	ip = strings.TrimSpace(ip)
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(16, 32)).String() + "/16"
	}
	return parsed.Mask(net.CIDRMask(48, 128)).String() + "/48"
}

// FingerprintMaterial is the stable input the fingerprint is derived from. The
// client address contributes only its network prefix so that a phone moving between
// cells keeps its session while a request from another network does not.
func FingerprintMaterial(rc RequestContext) string {
	return strings.Join([]string{
		strings.TrimSpace(rc.UserAgent),
		strings.ToLower(strings.TrimSpace(rc.AcceptLanguage)),
		strings.ToLower(strings.TrimSpace(rc.AcceptEncoding)),
		NetworkPrefix(rc.IP),
	}, "\x1f")
}
