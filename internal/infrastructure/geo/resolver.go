// Package geo provides coarse IP-to-risk resolution: blocked and suspicious
// country matching plus VPN/datacenter and Tor exit range detection. It is a
// thin boundary over data that would normally come from an upstream geo
// provider; lookups never fail the request flow, they degrade to a zero
// result.
package geo

import (
	"net"
	"strings"

	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
)

// Lookup is the coarse result of resolving a source address.
type Lookup struct {
	CountryCode       string `json:"countryCode"`
	BlockedCountry    bool   `json:"blockedCountry"`
	SuspiciousCountry bool   `json:"suspiciousCountry"`
	VPN               bool   `json:"vpn"`
	Tor               bool   `json:"tor"`
}

// Resolver resolves IPs against country lists and known VPN/Tor ranges.
type Resolver struct {
	logger              *logging.ChanneledLogger
	blockedCountries    map[string]bool
	suspiciousCountries map[string]bool
	vpnRanges           []*net.IPNet
	torRanges           []*net.IPNet
}

// Airdrop sybil farms cluster in a small set of jurisdictions; the blocked
// list is sanctions-driven, the suspicious list is farm-prevalence-driven.
var (
	defaultBlockedCountries    = []string{"KP", "IR", "SY", "CU"}
	defaultSuspiciousCountries = []string{"NG", "VN", "BD", "PK", "ID"}
)

// Known datacenter/VPN egress ranges. A real deployment feeds these from a
// provider list; the seed set covers the large cloud providers.
var defaultVPNRanges = []string{
	"104.16.0.0/13",  // Cloudflare WARP
	"34.64.0.0/10",   // Google Cloud
	"13.64.0.0/11",   // Azure
	"3.0.0.0/9",      // AWS
	"45.32.0.0/13",   // Vultr
	"104.131.0.0/16", // DigitalOcean
	"192.241.128.0/17",
}

// Published Tor exit ranges (seed set).
var defaultTorRanges = []string{
	"185.220.100.0/22",
	"199.87.154.0/24",
	"204.13.164.0/24",
	"171.25.193.0/24",
}

// NewResolver creates a resolver with the default country and range tables.
func NewResolver(logger *logging.ChanneledLogger) *Resolver {
	r := &Resolver{
		logger:              logger,
		blockedCountries:    make(map[string]bool),
		suspiciousCountries: make(map[string]bool),
	}

	for _, cc := range defaultBlockedCountries {
		r.blockedCountries[cc] = true
	}
	for _, cc := range defaultSuspiciousCountries {
		r.suspiciousCountries[cc] = true
	}

	r.vpnRanges = parseRanges(defaultVPNRanges, logger)
	r.torRanges = parseRanges(defaultTorRanges, logger)

	return r
}

func parseRanges(cidrs []string, logger *logging.ChanneledLogger) []*net.IPNet {
	ranges := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Geo().Warn("Skipping unparseable range", "cidr", cidr, "error", err.Error())
			continue
		}
		ranges = append(ranges, ipNet)
	}
	return ranges
}

// Resolve maps a source address and an upstream country hint onto the coarse
// risk signals. An unparseable address yields a zero lookup, never an error.
func (r *Resolver) Resolve(ipAddress, countryHint string) *Lookup {
	lookup := &Lookup{CountryCode: strings.ToUpper(strings.TrimSpace(countryHint))}

	if lookup.CountryCode != "" {
		lookup.BlockedCountry = r.blockedCountries[lookup.CountryCode]
		lookup.SuspiciousCountry = r.suspiciousCountries[lookup.CountryCode]
	}

	ip := net.ParseIP(strings.TrimSpace(ipAddress))
	if ip == nil {
		if ipAddress != "" {
			r.logger.Geo().Debug("Unparseable source address, skipping range checks")
		}
		return lookup
	}

	// Loopback and RFC1918 traffic carries no network risk signal.
	if ip.IsLoopback() || ip.IsPrivate() {
		return lookup
	}

	for _, ipNet := range r.vpnRanges {
		if ipNet.Contains(ip) {
			lookup.VPN = true
			break
		}
	}
	for _, ipNet := range r.torRanges {
		if ipNet.Contains(ip) {
			lookup.Tor = true
			break
		}
	}

	if lookup.VPN || lookup.Tor || lookup.BlockedCountry {
		r.logger.Geo().Info("Elevated network risk resolved",
			"country", lookup.CountryCode,
			"blocked", lookup.BlockedCountry,
			"vpn", lookup.VPN,
			"tor", lookup.Tor,
		)
	}

	return lookup
}
