package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Push hands package files to the reciever of a coordinator, which
// adds them to its own repository.  Database files are skipped.
type Push struct {
	l       hclog.Logger
	hClient *http.Client
	url     string
}

// NewPush returns a push uploader.
func NewPush(l hclog.Logger, s PushSettings) (*Push, error) {
	if s.URL == "" {
		return nil, errors.New("push url is not set")
	}
	return &Push{
		l:       l.Named("push"),
		hClient: &http.Client{Timeout: s.Timeout},
		url:     strings.TrimSuffix(s.URL, "/"),
	}, nil
}

// Name implements Uploader.
func (p *Push) Name() string { return "push" }

// Sync implements Uploader.  dir is the repository directory of one
// architecture and names it.
func (p *Push) Sync(ctx context.Context, dir string, files []string) error {
	arch := filepath.Base(dir)

	var pkgs []string
	for _, f := range files {
		if strings.Contains(filepath.Base(f), ".pkg.tar") {
			pkgs = append(pkgs, f)
		}
	}
	// Signatures go first so they are staged when their package
	// arrives.
	sort.SliceStable(pkgs, func(i, j int) bool {
		return strings.HasSuffix(pkgs[i], ".sig") && !strings.HasSuffix(pkgs[j], ".sig")
	})

	for _, f := range pkgs {
		if err := p.put(ctx, arch, f); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
	}
	p.l.Trace("push complete", "target", p.url, "files", len(pkgs))
	return nil
}

func (p *Push) put(ctx context.Context, arch, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	q := url.Values{}
	q.Set("fname", filepath.Base(path))
	q.Set("arch", arch)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.url+"/file?"+q.Encode(), f)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.hClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push rejected: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
