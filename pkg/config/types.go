package config

import (
	"time"

	"github.com/the-maldridge/nrepo/pkg/builder"
	"github.com/the-maldridge/nrepo/pkg/packagers"
	"github.com/the-maldridge/nrepo/pkg/repo"
	"github.com/the-maldridge/nrepo/pkg/sign"
	"github.com/the-maldridge/nrepo/pkg/telemetry"
	"github.com/the-maldridge/nrepo/pkg/upload"
)

// Config represents the complete application configuration that
// nrepo supports.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Repository RepositorySettings  `mapstructure:"repository"`
	Build      builder.Settings    `mapstructure:"build"`
	Repo       repo.Settings       `mapstructure:"repo"`
	Sign       sign.Settings       `mapstructure:"sign"`
	Upload     upload.Settings     `mapstructure:"upload"`
	Report     ReportSettings      `mapstructure:"report"`
	Packagers  packagers.Packagers `mapstructure:"packagers"`
	Workers    WorkersSettings     `mapstructure:"workers"`
	AUR        AURSettings         `mapstructure:"aur"`
	Repodata   map[string][]string `mapstructure:"repodata"`
	Cache      CacheSettings       `mapstructure:"cache"`
	Web        WebSettings         `mapstructure:"web"`
	Logs       LogsSettings        `mapstructure:"logs"`
	Telemetry  telemetry.Settings  `mapstructure:"telemetry"`
}

// RepositorySettings names the repository and where its state lives.
type RepositorySettings struct {
	Name          string   `mapstructure:"name"`
	Architectures []string `mapstructure:"architectures"`
	Root          string   `mapstructure:"root"`
}

// ReportSettings lists the cycle listeners in call order.
type ReportSettings struct {
	Listeners []string `mapstructure:"listeners"`
}

// WorkersSettings configures distributed operation.
type WorkersSettings struct {
	// Coordinator is "local" or "redis".
	Coordinator string        `mapstructure:"coordinator"`
	Address     string        `mapstructure:"address"`
	Identifier  string        `mapstructure:"identifier"`
	Server      string        `mapstructure:"server"`
	RedisURL    string        `mapstructure:"redis_url"`
	TTL         time.Duration `mapstructure:"ttl"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Heartbeat   time.Duration `mapstructure:"heartbeat"`
}

// AURSettings configures AUR lookups.
type AURSettings struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CacheSettings configures the upstream metadata cache.
type CacheSettings struct {
	Backend string        `mapstructure:"backend"`
	Path    string        `mapstructure:"path"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// WebSettings configures the HTTP surface.
type WebSettings struct {
	Bind  string        `mapstructure:"bind"`
	Grace time.Duration `mapstructure:"grace"`
}

// LogsSettings configures build log retention.
type LogsSettings struct {
	Keep int `mapstructure:"keep"`
}
