package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSanitizeReturnTo(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", "/"},
		{"/protected", "/protected"},
		{"/protected?tab=claims", "/protected?tab=claims"},
		{"https://evil.example.com/", "/"},
		{"//evil.example.com/", "/"},
		{`/\evil.example.com`, "/"},
		{"protected", "/"},
		{"javascript:alert(1)", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			require.Equal(t, tt.want, sanitizeReturnTo(tt.raw))
		})
	}
}

func TestClientIP(t *testing.T) {
	proxies := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("2001:db8::/32"),
	}
	tests := []struct {
		name      string
		remote    string
		forwarded []string
		want      string
	}{
		{"direct peer", "192.0.2.10:4444", nil, "192.0.2.10"},
		{"untrusted peer forwarded header ignored", "192.0.2.10:4444", []string{"198.51.100.4"}, "192.0.2.10"},
		{"trusted peer", "10.0.0.1:443", []string{"198.51.100.4"}, "198.51.100.4"},
		{"right-most untrusted hop wins", "10.0.0.1:443", []string{"6.6.6.6, 198.51.100.4, 10.2.0.1"}, "198.51.100.4"},
		{"multiple header lines", "10.0.0.1:443", []string{"6.6.6.6", "198.51.100.4"}, "198.51.100.4"},
		{"garbage hop stops the walk", "10.0.0.1:443", []string{"198.51.100.4, not-an-ip, 10.2.0.1"}, "10.2.0.1"},
		{"trusted peer, no header", "10.0.0.1:443", nil, "10.0.0.1"},
		{"ipv6 proxy", "[2001:db8::1]:443", []string{"198.51.100.4"}, "198.51.100.4"},
		{"ipv4 mapped peer", "[::ffff:192.0.2.10]:4444", nil, "192.0.2.10"},
		{"unparseable remote", "not-an-address", []string{"198.51.100.4"}, "not-an-address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for _, v := range tt.forwarded {
				r.Header.Add("X-Forwarded-For", v)
			}
			require.Equal(t, tt.want, clientIP(r, proxies))
		})
	}

	t.Run("no trusted proxies", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:443"
		r.Header.Set("X-Forwarded-For", "198.51.100.4")
		require.Equal(t, "10.0.0.1", clientIP(r, nil))
	})
}

func TestCookieCodec(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	codec, err := newCookieCodec([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	signed, err := codec.encode(cookiePurposeSession, "session-id", now, now.Add(time.Hour))
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		value, err := codec.decode(cookiePurposeSession, signed, now.Add(time.Minute))
		require.NoError(t, err)
		require.Equal(t, "session-id", value)
	})

	t.Run("purpose is bound", func(t *testing.T) {
		_, err := codec.decode(cookiePurposeState, signed, now)
		require.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := codec.decode(cookiePurposeSession, signed, now.Add(2*time.Hour))
		require.Error(t, err)
	})

	t.Run("other key", func(t *testing.T) {
		other, err := newCookieCodec([]byte("fedcba9876543210fedcba9876543210"))
		require.NoError(t, err)
		_, err = other.decode(cookiePurposeSession, signed, now)
		require.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := codec.decode(cookiePurposeSession, "not-a-token", now)
		require.Error(t, err)
	})
}

func TestIPRateLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("disabled", func(t *testing.T) {
		l := newIPRateLimiter(0, 0, clock)
		for range 100 {
			require.True(t, l.Allow("192.0.2.1"))
		}
		require.Zero(t, l.Len())
		require.Zero(t, l.RetryAfterSeconds())
	})

	t.Run("per ip buckets", func(t *testing.T) {
		l := newIPRateLimiter(30, 1, clock)
		require.True(t, l.Allow("192.0.2.1"))
		require.False(t, l.Allow("192.0.2.1"))
		require.True(t, l.Allow("192.0.2.2"))
		require.Equal(t, 2, l.RetryAfterSeconds())
	})

	t.Run("idle buckets are pruned", func(t *testing.T) {
		current := now
		l := newIPRateLimiter(30, 1, func() time.Time { return current })
		require.True(t, l.Allow("192.0.2.1"))
		require.True(t, l.Allow("192.0.2.2"))
		require.Equal(t, 2, l.Len())

		current = current.Add(limiterIdleTTL + time.Second)
		require.True(t, l.Allow("192.0.2.3"))
		require.Equal(t, 1, l.Len())
	})

	t.Run("bucket count is bounded", func(t *testing.T) {
		current := now
		l := newIPRateLimiter(30, 1, func() time.Time { return current })
		l.maxVisitors = 3
		for i := range 10 {
			current = current.Add(time.Second)
			l.Allow(fmt.Sprintf("192.0.2.%d", i))
		}
		require.Equal(t, 3, l.Len())

		// The most recent IPs keep their buckets
		require.False(t, l.Allow("192.0.2.9"))
	})
}
