package remote

import (
	"time"
)

// WithTTL sets how long cached AUR metadata stays fresh.
func WithTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

// WithArchitecture selects architecture specific metadata of local
// packages.
func WithArchitecture(arch string) Option {
	return func(s *Service) { s.arch = arch }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}
