// Package source fetches package build files and reads their
// metadata.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	git "github.com/go-git/go-git/v5"
	gitPlumbing "github.com/go-git/go-git/v5/plumbing"
	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// New creates a new Fetcher.
func New(l hclog.Logger) *Fetcher {
	return &Fetcher{
		l:     l.Named("source"),
		locks: make(map[string]*sync.Mutex),
	}
}

func (f *Fetcher) lock(dir string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.locks[dir]
	if !ok {
		m = new(sync.Mutex)
		f.locks[dir] = m
	}
	return m
}

// Fetch brings dir up to date with the remote source and returns the
// directory holding the build files.
func (f *Fetcher) Fetch(ctx context.Context, remote types.RemoteSource, dir string) (string, error) {
	m := f.lock(dir)
	m.Lock()
	defer m.Unlock()

	var err error
	switch {
	case remote.GitURL != "":
		err = f.fetchGit(ctx, remote, dir)
	case remote.Path != "":
		err = f.copyLocal(remote.Path, dir)
		return dir, err
	default:
		err = fmt.Errorf("source %s has neither git url nor path", remote.Source)
	}
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, remote.Path), nil
}

func (f *Fetcher) fetchGit(ctx context.Context, remote types.RemoteSource, dir string) error {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return f.clone(ctx, remote, dir)
	}
	if err != nil {
		return err
	}

	wt, err := repo.Worktree()
	if err != nil {
		f.l.Trace("Error getting worktree")
		return err
	}
	f.l.Debug("Pulling repository", "path", dir, "url", remote.GitURL)
	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    "origin",
		ReferenceName: branch(remote),
		SingleBranch:  true,
		Force:         true,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		return nil
	default:
		// A history rewrite upstream breaks fast-forward pulls;
		// start over from a fresh clone.
		f.l.Warn("Pull failed, recloning", "path", dir, "error", err)
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
		return f.clone(ctx, remote, dir)
	}
}

func (f *Fetcher) clone(ctx context.Context, remote types.RemoteSource, dir string) error {
	f.l.Debug("Cloning repository", "path", dir, "url", remote.GitURL)
	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           remote.GitURL,
		ReferenceName: branch(remote),
		SingleBranch:  true,
	})
	if err != nil {
		f.l.Trace("Error running PlainClone", "error", err)
	}
	return err
}

// Head returns the commit a checkout is at.
func (f *Fetcher) Head(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		f.l.Trace("Error getting HEAD")
		return "", err
	}
	return head.Hash().String(), nil
}

func branch(remote types.RemoteSource) gitPlumbing.ReferenceName {
	if remote.Branch == "" {
		return gitPlumbing.NewBranchReferenceName("master")
	}
	return gitPlumbing.NewBranchReferenceName(remote.Branch)
}

// copyLocal mirrors a local package directory into dir.
func (f *Fetcher) copyLocal(src, dir string) error {
	f.l.Debug("Copying local sources", "from", src, "to", dir)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dir, rel)
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
