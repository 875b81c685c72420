// Package local runs package builds as child processes on this host.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/builder"
	"github.com/the-maldridge/nrepo/pkg/types"
)

func init() {
	builder.RegisterInitCallback(cb)
}

func cb() {
	builder.RegisterFactory("local", New)
}

// DefaultCommand builds in the current directory and leaves the
// packages in PKGDEST.
var DefaultCommand = []string{"makepkg", "--noconfirm", "--syncdeps", "--cleanbuild", "--force"}

// New returns a local build backend.
func New(l hclog.Logger, s builder.Settings) (builder.Builder, error) {
	x := Local{
		l:       l.Named("local"),
		command: s.Command,
		output:  s.OutputDir,
		env:     s.Env,
		timeout: s.Timeout,
	}
	if len(x.command) == 0 {
		x.command = DefaultCommand
	}
	if x.output == "" {
		x.output = "build"
	}
	// This can only error out if the underlying call to Getwd
	// fails, which only happens if the directory is gone.
	x.output, _ = filepath.Abs(x.output)
	return &x, nil
}

// Build runs the toolchain in the package sources directory.  The
// process is killed when ctx is cancelled or the timeout passes.
func (c *Local) Build(ctx context.Context, b builder.Build) (builder.Artifacts, error) {
	var art builder.Artifacts
	base := b.Package.Base

	dest := filepath.Join(c.output, base, b.ProcessID)
	if err := os.RemoveAll(dest); err != nil {
		return art, types.NewErrBuildFailed(base, err)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return art, types.NewErrBuildFailed(base, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...)
	cmd.Dir = b.SourcesDir
	cmd.Env = append(os.Environ(), c.env...)
	cmd.Env = append(cmd.Env, "PKGDEST="+dest)
	if b.Packager != "" {
		cmd.Env = append(cmd.Env, "PACKAGER="+b.Packager)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	c.l.Debug("Building package", "package", base, "version", b.Package.Version, "dir", b.SourcesDir)
	err := cmd.Run()
	art.Log = out.Bytes()
	c.l.Trace("Build output", "package", base, "output", out.String())
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			c.l.Warn("Build exited non-zero", "package", base, "code", exitErr.ExitCode())
		} else {
			c.l.Warn("Error running build", "package", base, "error", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return art, types.NewErrBuildFailed(base, err)
	}

	files, err := builder.CollectPackages(dest)
	if err != nil {
		return art, types.NewErrBuildFailed(base, err)
	}
	if len(files) == 0 {
		return art, types.NewErrBuildFailed(base, errors.New("build produced no packages"))
	}
	art.Files = files
	return art, nil
}
