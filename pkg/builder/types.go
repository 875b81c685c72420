package builder

import (
	"context"
	"time"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// A Build is all the information required for one package build.
type Build struct {
	Package    types.Package
	SourcesDir string
	Packager   string
	ProcessID  string
}

// Artifacts is what a build produced: the package files and the
// captured output of the toolchain.  Log is filled in even when the
// build failed.
type Artifacts struct {
	Files []string
	Log   []byte
}

// A Builder turns package sources into package files.  A failed build
// is reported as types.ErrBuildFailed.
type Builder interface {
	Build(context.Context, Build) (Artifacts, error)
}

// Settings configures the build backends.
type Settings struct {
	Backend     string        `mapstructure:"backend"`
	Parallelism int           `mapstructure:"parallelism"`
	Command     []string      `mapstructure:"command"`
	OutputDir   string        `mapstructure:"output_dir"`
	Env         []string      `mapstructure:"env"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Nomad       NomadSettings `mapstructure:"nomad"`
}

// NomadSettings configures the nomad backend.
type NomadSettings struct {
	Address      string        `mapstructure:"address"`
	Job          string        `mapstructure:"job"`
	SharedDir    string        `mapstructure:"shared_dir"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}
