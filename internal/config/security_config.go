package config

import (
	"net/netip"
	"strings"
)

type SecurityConfig interface {
	GetSubmitRatePerSecond() float64
	GetSubmitRateBurst() int
	GetTrustedProxies() TrustedProxies
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetSubmitRatePerSecond limits line submissions per client IP.
func (Security) GetSubmitRatePerSecond() float64 {
	return GetEnvFloat("SUBMIT_RATE_PER_SECOND", 0.2)
}

func (Security) GetSubmitRateBurst() int {
	return GetEnvInt("SUBMIT_RATE_BURST", 3)
}

// TrustedProxies are the peers whose X-Forwarded-For header is believed.
type TrustedProxies []netip.Prefix

// Contains reports whether ip falls in any trusted range. Unparsable input is untrusted.
func (t TrustedProxies) Contains(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// GetTrustedProxies reads a comma-separated TRUSTED_PROXIES list of CIDRs or bare
// addresses. Invalid entries are skipped. Empty means no proxy is trusted.
func (Security) GetTrustedProxies() TrustedProxies {
	var proxies TrustedProxies
	for _, entry := range strings.Split(GetEnv("TRUSTED_PROXIES", ""), ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			proxies = append(proxies, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			addr = addr.Unmap()
			proxies = append(proxies, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return proxies
}
