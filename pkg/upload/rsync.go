package upload

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/hashicorp/go-hclog"
)

// Rsync mirrors files with an rsync binary.
type Rsync struct {
	l       hclog.Logger
	command string
	target  string
	args    []string
}

// NewRsync returns an rsync uploader.
func NewRsync(l hclog.Logger, s RsyncSettings) (*Rsync, error) {
	if s.Target == "" {
		return nil, errors.New("rsync target is not set")
	}
	cmd := s.Command
	if cmd == "" {
		cmd = "rsync"
	}
	return &Rsync{l: l.Named("rsync"), command: cmd, target: s.Target, args: s.Args}, nil
}

// Name implements Uploader.
func (r *Rsync) Name() string { return "rsync" }

// Sync implements Uploader.
func (r *Rsync) Sync(ctx context.Context, dir string, files []string) error {
	if len(files) == 0 {
		return nil
	}
	rel, err := relative(dir, files)
	if err != nil {
		return err
	}
	args := append([]string{"--archive", "--relative"}, r.args...)
	args = append(args, rel...)
	args = append(args, r.target)

	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, out)
	}
	r.l.Trace("rsync complete", "target", r.target, "files", len(rel))
	return nil
}
