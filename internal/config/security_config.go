package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

const minSecretKeyLength = 16

type SecurityConfig interface {
	GetAppSecretKey() []byte
	GetSessionTTL() time.Duration
	GetPendingLoginTTL() time.Duration
	GetLoginRatePerMinute() int
	GetLoginRateBurst() int
	GetTrustedProxies() []netip.Prefix
}

type Security struct {
	AppSecretKey       string        `env:"APP_SECRET_KEY"`
	SessionTTL         time.Duration `env:"SESSION_TTL" envDefault:"8h"`
	PendingLoginTTL    time.Duration `env:"PENDING_LOGIN_TTL" envDefault:"10m"`
	LoginRatePerMinute int           `env:"LOGIN_RATE_PER_MINUTE" envDefault:"30"`
	LoginRateBurst     int           `env:"LOGIN_RATE_BURST" envDefault:"10"`
	TrustedProxies     []string      `env:"TRUSTED_PROXIES" envSeparator:","`
}

var _ SecurityConfig = Security{}

// GetAppSecretKey returns the key material that session cookie and PKCE keys are derived from.
func (s Security) GetAppSecretKey() []byte {
	return []byte(s.AppSecretKey)
}

func (s Security) GetSessionTTL() time.Duration {
	return s.SessionTTL
}

func (s Security) GetPendingLoginTTL() time.Duration {
	return s.PendingLoginTTL
}

// GetLoginRatePerMinute is the sustained per-IP rate for login endpoints; 0 disables limiting.
func (s Security) GetLoginRatePerMinute() int {
	return s.LoginRatePerMinute
}

func (s Security) GetLoginRateBurst() int {
	if s.LoginRateBurst <= 0 {
		return 1
	}
	return s.LoginRateBurst
}

// GetTrustedProxies returns the peers whose X-Forwarded-For header is
// honoured. Entries are addresses or CIDR prefixes; empty means none.
func (s Security) GetTrustedProxies() []netip.Prefix {
	prefixes, _ := parseTrustedProxies(s.TrustedProxies)
	return prefixes
}

func parseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES entry %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES entry %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
