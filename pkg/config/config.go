// Package config loads nrepo configuration from defaults, a config
// file, and NREPO_* environment variables.
package config

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "NREPO"

// Viper returns a viper instance with every default set and
// environment overrides enabled.
func Viper() *viper.Viper {
	v := viper.New()
	v.SetDefault("log_level", "info")

	v.SetDefault("repository.name", "custom")
	v.SetDefault("repository.architectures", []string{"x86_64"})
	v.SetDefault("repository.root", "/var/lib/nrepo")

	v.SetDefault("build.backend", "local")
	v.SetDefault("build.parallelism", 1)
	v.SetDefault("build.command", []string{})
	v.SetDefault("build.output_dir", "")
	v.SetDefault("build.env", []string{})
	v.SetDefault("build.timeout", 2*time.Hour)
	v.SetDefault("build.nomad.address", "")
	v.SetDefault("build.nomad.job", "nrepo-build")
	v.SetDefault("build.nomad.shared_dir", "")
	v.SetDefault("build.nomad.poll_interval", 5*time.Second)

	v.SetDefault("repo.add_command", "repo-add")
	v.SetDefault("repo.remove_command", "repo-remove")

	v.SetDefault("sign.key", "")
	v.SetDefault("sign.command", "gpg")

	v.SetDefault("upload.backends", []string{})
	v.SetDefault("upload.rsync.command", "rsync")
	v.SetDefault("upload.rsync.target", "")
	v.SetDefault("upload.rsync.args", []string{})
	v.SetDefault("upload.s3.bucket", "")
	v.SetDefault("upload.s3.prefix", "")
	v.SetDefault("upload.s3.region", "")
	v.SetDefault("upload.s3.endpoint", "")
	v.SetDefault("upload.sftp.address", "")
	v.SetDefault("upload.sftp.user", "")
	v.SetDefault("upload.sftp.key_file", "")
	v.SetDefault("upload.sftp.password", "")
	v.SetDefault("upload.sftp.known_hosts", "")
	v.SetDefault("upload.sftp.dir", "")
	v.SetDefault("upload.sftp.timeout", 30*time.Second)
	v.SetDefault("upload.push.url", "")
	v.SetDefault("upload.push.timeout", 5*time.Minute)

	v.SetDefault("report.listeners", []string{"console"})

	v.SetDefault("packagers.default", "")
	v.SetDefault("packagers.overrides", map[string]string{})

	v.SetDefault("workers.coordinator", "local")
	v.SetDefault("workers.address", "")
	v.SetDefault("workers.identifier", "")
	v.SetDefault("workers.server", "")
	v.SetDefault("workers.redis_url", "")
	v.SetDefault("workers.ttl", 60*time.Second)
	v.SetDefault("workers.timeout", 5*time.Second)
	v.SetDefault("workers.heartbeat", 20*time.Second)

	v.SetDefault("aur.enabled", true)
	v.SetDefault("aur.url", "https://aur.archlinux.org/rpc/v5")
	v.SetDefault("aur.timeout", 30*time.Second)

	v.SetDefault("repodata", map[string][]string{})

	v.SetDefault("cache.backend", "bitcask")
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.ttl", 15*time.Minute)

	v.SetDefault("web.bind", ":8080")
	v.SetDefault("web.grace", 5*time.Second)
	v.SetDefault("logs.keep", 5)
	v.SetDefault("telemetry.enabled", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// NewConfig returns a config object with default structures
// initialized.  The config can be loaded from other sources to
// override the defaults.
func NewConfig() *Config {
	var c Config
	_ = Viper().Unmarshal(&c)
	return &c
}

// LoadFromFile does as the name suggests, and loads the config from a
// file.  The format follows the file extension.
func (c *Config) LoadFromFile(path string) error {
	v := Viper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	n, err := FromViper(v)
	if err != nil {
		return err
	}
	*c = *n
	return nil
}

// Validate checks settings that would otherwise fail deep inside a
// cycle.
func (c *Config) Validate() error {
	r := c.Repository
	if r.Name == "" || strings.ContainsAny(r.Name, "/:") {
		return types.ErrInvalidOption{Option: "repository.name", Value: r.Name}
	}
	if len(r.Architectures) == 0 {
		return types.ErrInvalidOption{Option: "repository.architectures", Value: "[]"}
	}
	for _, a := range r.Architectures {
		if a == "" || strings.ContainsAny(a, "/:") {
			return types.ErrInvalidOption{Option: "repository.architectures", Value: a}
		}
	}
	if r.Root == "" {
		return types.ErrInvalidOption{Option: "repository.root", Value: r.Root}
	}
	if c.Build.Parallelism < 1 {
		return types.ErrInvalidOption{Option: "build.parallelism", Value: strconv.Itoa(c.Build.Parallelism)}
	}
	if c.Logs.Keep < 1 {
		return types.ErrInvalidOption{Option: "logs.keep", Value: strconv.Itoa(c.Logs.Keep)}
	}
	if c.Workers.TTL <= 0 {
		return types.ErrInvalidOption{Option: "workers.ttl", Value: c.Workers.TTL.String()}
	}
	// Claims are renewed by the heartbeat and expire after the ttl.
	if c.Workers.Heartbeat <= 0 || c.Workers.Heartbeat >= c.Workers.TTL {
		return types.ErrInvalidOption{Option: "workers.heartbeat", Value: c.Workers.Heartbeat.String()}
	}
	switch c.Workers.Coordinator {
	case "local":
	case "redis":
		if c.Workers.RedisURL == "" {
			return types.ErrInvalidOption{Option: "workers.redis_url", Value: ""}
		}
	default:
		return types.ErrInvalidOption{Option: "workers.coordinator", Value: c.Workers.Coordinator}
	}
	for _, b := range c.Upload.Backends {
		switch b {
		case "rsync", "s3", "sftp", "push":
		default:
			return types.ErrInvalidOption{Option: "upload.backends", Value: b}
		}
	}
	for _, li := range c.Report.Listeners {
		if li != "console" {
			return types.ErrInvalidOption{Option: "report.listeners", Value: li}
		}
	}
	return nil
}

// IDs returns one repository identity per configured architecture.
func (c *Config) IDs() []types.RepositoryID {
	out := make([]types.RepositoryID, 0, len(c.Repository.Architectures))
	for _, a := range c.Repository.Architectures {
		out = append(out, types.NewRepositoryID(c.Repository.Name, a))
	}
	return out
}

// RepoDir is where the published repository of id lives.
func (c *Config) RepoDir(id types.RepositoryID) string {
	return filepath.Join(c.Repository.Root, "repository", id.Architecture)
}

// SourcesDir holds the package source checkouts.
func (c *Config) SourcesDir(id types.RepositoryID) string {
	return filepath.Join(c.Repository.Root, "sources", id.Architecture)
}

// BuildDir is the default build output directory.
func (c *Config) BuildDir(id types.RepositoryID) string {
	if c.Build.OutputDir != "" {
		return filepath.Join(c.Build.OutputDir, id.Architecture)
	}
	return filepath.Join(c.Repository.Root, "build", id.Architecture)
}

// PackagesDir is the local package tree.
func (c *Config) PackagesDir() string {
	return filepath.Join(c.Repository.Root, "packages")
}

// ManualDir holds the manual build queue.
func (c *Config) ManualDir() string {
	return filepath.Join(c.Repository.Root, "manual")
}

// CachePath is where the metadata cache lives.
func (c *Config) CachePath() string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	return filepath.Join(c.Repository.Root, "cache")
}
