// Package upload publishes the repository to its mirrors.
package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// New builds the configured uploaders in order.
func New(ctx context.Context, l hclog.Logger, s Settings) ([]Uploader, error) {
	l = l.Named("upload")
	var out []Uploader
	for _, b := range s.Backends {
		var u Uploader
		var err error
		switch b {
		case "rsync":
			u, err = NewRsync(l, s.Rsync)
		case "s3":
			u, err = NewS3(ctx, l, s.S3)
		case "sftp":
			u, err = NewSFTP(l, s.SFTP)
		case "push":
			u, err = NewPush(l, s.Push)
		default:
			return nil, types.NewErrUnknownBackend("upload", b)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b, err)
		}
		out = append(out, u)
	}
	return out, nil
}

// Sync runs every uploader and returns the first failure as an
// ErrSyncFailed.  Later uploaders still run.
func Sync(ctx context.Context, l hclog.Logger, uploaders []Uploader, dir string, files []string) error {
	var first error
	for _, u := range uploaders {
		if err := u.Sync(ctx, dir, files); err != nil {
			l.Error("Upload failed", "uploader", u.Name(), "error", err)
			if first == nil {
				first = types.ErrSyncFailed{Uploader: u.Name(), Err: err}
			}
			continue
		}
		l.Info("Upload complete", "uploader", u.Name(), "files", len(files))
	}
	return first
}

// relative maps files to slash separated paths below dir.
func relative(dir string, files []string) ([]string, error) {
	out := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(dir, f)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("%s is outside %s", f, dir)
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out, nil
}
