// Package sign produces detached signatures for built packages.
package sign

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Signer signs files and returns the signature paths written.
type Signer interface {
	Sign(ctx context.Context, files []string) ([]string, error)
}

// Settings configures package signing.  An empty Key disables it.
type Settings struct {
	Key     string `mapstructure:"key"`
	Command string `mapstructure:"command"`
}

// GPG signs with a gpg key into <file>.sig.
type GPG struct {
	l   hclog.Logger
	key string
	cmd string
}

type none struct{}

// New returns a signer for s.  Without a key every package is
// passed through unsigned.
func New(l hclog.Logger, s Settings) Signer {
	if s.Key == "" {
		l.Named("sign").Debug("Signing disabled")
		return none{}
	}
	cmd := s.Command
	if cmd == "" {
		cmd = "gpg"
	}
	return &GPG{l: l.Named("sign"), key: s.Key, cmd: cmd}
}

func (none) Sign(context.Context, []string) ([]string, error) { return nil, nil }

// Sign writes one detached binary signature per file.
func (g *GPG) Sign(ctx context.Context, files []string) ([]string, error) {
	var out []string
	for _, f := range files {
		if strings.HasSuffix(f, ".sig") {
			continue
		}
		sig := f + ".sig"
		cmd := exec.CommandContext(ctx, g.cmd,
			"--batch", "--yes", "--detach-sign",
			"--local-user", g.key,
			"--output", sig, f,
		)
		if res, err := cmd.CombinedOutput(); err != nil {
			g.l.Warn("Unable to sign file", "path", f, "error", err, "output", string(res))
			return nil, fmt.Errorf("signing %s: %w", f, err)
		}
		g.l.Trace("Signed file", "path", f)
		out = append(out, sig)
	}
	return out, nil
}
