package repo

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Default database maintenance commands.
const (
	DefaultAddCommand    = "repo-add"
	DefaultRemoveCommand = "repo-remove"
)

// NewTool returns a Tool for the repository described by s.
func NewTool(l hclog.Logger, s Settings) (*Tool, error) {
	dir, err := filepath.Abs(s.Dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	t := Tool{
		l:         l.Named("repo"),
		dir:       dir,
		db:        s.Name + ".db.tar.zst",
		addCmd:    s.AddCommand,
		removeCmd: s.RemoveCommand,
		repoMutex: new(sync.Mutex),
	}
	if t.addCmd == "" {
		t.addCmd = DefaultAddCommand
	}
	if t.removeCmd == "" {
		t.removeCmd = DefaultRemoveCommand
	}
	return &t, nil
}

// Dir returns the repository directory.
func (t *Tool) Dir() string { return t.dir }

// Database returns the path of the package database.
func (t *Tool) Database() string { return filepath.Join(t.dir, t.db) }

// Add copies the given package files, and any detached signatures
// next to them, into the repository and registers the packages in
// the database.  It returns the repository paths it wrote.
func (t *Tool) Add(ctx context.Context, files []string) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	var written, pkgs []string
	for _, f := range files {
		if strings.HasSuffix(f, ".sig") {
			continue
		}
		dst, err := t.copyIn(f)
		if err != nil {
			return nil, err
		}
		written = append(written, dst)
		pkgs = append(pkgs, dst)
		if _, err := os.Stat(f + ".sig"); err == nil {
			sig, err := t.copyIn(f + ".sig")
			if err != nil {
				return nil, err
			}
			written = append(written, sig)
		}
	}

	args := append([]string{"-R", t.Database()}, pkgs...)
	if err := t.run(ctx, t.addCmd, args); err != nil {
		return nil, err
	}
	t.l.Trace("Added packages into index", "files", pkgs)
	return append(written, t.databaseFiles()...), nil
}

// Remove drops the named packages from the database.  Package files
// are left for the uploader's deletion policy.
func (t *Tool) Remove(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := append([]string{t.Database()}, names...)
	if err := t.run(ctx, t.removeCmd, args); err != nil {
		return nil, err
	}
	t.l.Trace("Removed packages from index", "packages", names)
	return t.databaseFiles(), nil
}

func (t *Tool) run(ctx context.Context, command string, args []string) error {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = t.dir
	t.repoMutex.Lock()
	defer t.repoMutex.Unlock()
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.l.Warn("Unable to update the package database", "command", command, "error", err, "output", string(out))
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}

func (t *Tool) copyIn(src string) (string, error) {
	dst := filepath.Join(t.dir, filepath.Base(src))
	if src == dst {
		return dst, nil
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		t.l.Warn("Error creating/opening file", "path", dst, "error", err)
		return "", err
	}
	if _, err = io.Copy(out, in); err != nil {
		// If something went wrong copying, the error closing out is likely to
		// be the same.
		_ = out.Close()
		return "", err
	}
	return dst, out.Close()
}

// databaseFiles lists the database and its companion files; repo-add
// writes <name>.db and <name>.files plus their archives.
func (t *Tool) databaseFiles() []string {
	name := strings.TrimSuffix(t.db, ".db.tar.zst")
	var out []string
	for _, pattern := range []string{name + ".db*", name + ".files*"} {
		m, _ := filepath.Glob(filepath.Join(t.dir, pattern))
		out = append(out, m...)
	}
	sort.Strings(out)
	return out
}
