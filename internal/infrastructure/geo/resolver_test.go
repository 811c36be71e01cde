package geo

import (
	"log/slog"
	"testing"

	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	cfg := logging.DefaultLoggerConfig()
	cfg.OutputToFile = false
	cfg.OutputToConsole = false
	cfg.DefaultLevel = slog.Level(12)
	logger, err := logging.NewChanneledLogger(cfg)
	require.NoError(t, err)
	return NewResolver(logger)
}

func TestResolveCountryLists(t *testing.T) {
	resolver := newTestResolver(t)

	tests := []struct {
		name       string
		hint       string
		blocked    bool
		suspicious bool
	}{
		{"blocked country", "KP", true, false},
		{"blocked country lowercase", "ir", true, false},
		{"suspicious country", "VN", false, true},
		{"clean country", "US", false, false},
		{"no hint", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := resolver.Resolve("203.0.113.7", tt.hint)
			assert.Equal(t, tt.blocked, lookup.BlockedCountry)
			assert.Equal(t, tt.suspicious, lookup.SuspiciousCountry)
		})
	}
}

func TestResolveNetworkRanges(t *testing.T) {
	resolver := newTestResolver(t)

	t.Run("tor exit", func(t *testing.T) {
		lookup := resolver.Resolve("185.220.100.5", "")
		assert.True(t, lookup.Tor)
		assert.False(t, lookup.VPN)
	})

	t.Run("datacenter egress", func(t *testing.T) {
		lookup := resolver.Resolve("104.131.10.20", "")
		assert.True(t, lookup.VPN)
		assert.False(t, lookup.Tor)
	})

	t.Run("residential address", func(t *testing.T) {
		lookup := resolver.Resolve("203.0.113.7", "")
		assert.False(t, lookup.VPN)
		assert.False(t, lookup.Tor)
	})
}

func TestResolveSkipsLocalTraffic(t *testing.T) {
	resolver := newTestResolver(t)

	for _, ip := range []string{"127.0.0.1", "10.0.0.5", "192.168.1.10", "::1"} {
		lookup := resolver.Resolve(ip, "")
		assert.False(t, lookup.VPN, ip)
		assert.False(t, lookup.Tor, ip)
	}
}

func TestResolveUnparseableAddress(t *testing.T) {
	resolver := newTestResolver(t)

	lookup := resolver.Resolve("not-an-ip", "VN")
	assert.True(t, lookup.SuspiciousCountry)
	assert.False(t, lookup.VPN)
	assert.False(t, lookup.Tor)
	assert.Equal(t, "VN", lookup.CountryCode)
}
