package config

import "fmt"

// Pauses flips individual ledger surfaces off without a redeploy. A paused
// surface answers 503 until the flag is cleared.
type Pauses struct {
	Transfers      bool `toml:"Transfers"`
	Conversions    bool `toml:"Conversions"`
	Rewards        bool `toml:"Rewards"`
	TenantPayments bool `toml:"TenantPayments"`
}

// Limits bounds request handling across the HTTP surfaces.
type Limits struct {
	MaxPageSize     int    `toml:"MaxPageSize"`
	DefaultPageSize int    `toml:"DefaultPageSize"`
	MaxRequestBytes int64  `toml:"MaxRequestBytes"`
	Pauses          Pauses `toml:"Pauses"`
}

func (l *Limits) applyDefaults() {
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = 500
	}
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = 50
	}
	if l.MaxRequestBytes <= 0 {
		l.MaxRequestBytes = 1 << 20
	}
}

// ValidateLimits rejects limit combinations the services cannot run with.
func ValidateLimits(l Limits) error {
	if l.DefaultPageSize > l.MaxPageSize {
		return fmt.Errorf("limits: DefaultPageSize > MaxPageSize")
	}
	if l.MaxRequestBytes <= 0 {
		return fmt.Errorf("limits: MaxRequestBytes <= 0")
	}
	return nil
}
