package update

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// Enqueue adds packages to the manual build queue in dir.  The next
// cycle with Request.Manual set picks them up.
func Enqueue(dir string, pkgs ...types.Package) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, p := range pkgs {
		if p.Base == "" || strings.ContainsAny(p.Base, "/\\") || strings.HasPrefix(p.Base, ".") {
			return types.ErrInvalidOption{Option: "package", Value: p.Base}
		}
		if p.Remote.Source == "" {
			p.Remote = types.AURSource(p.Base)
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		tmp := filepath.Join(dir, "."+p.Base+".tmp")
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			return err
		}
		if err := os.Rename(tmp, filepath.Join(dir, p.Base)); err != nil {
			return err
		}
	}
	return nil
}

// readQueue returns the queued packages in name order and the files
// holding them.  An empty entry is an AUR base.
func readQueue(dir string) ([]types.Package, []string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var pkgs []types.Package
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		p := types.Package{Base: e.Name(), Remote: types.AURSource(e.Name())}
		if len(strings.TrimSpace(string(data))) > 0 {
			if err := json.Unmarshal(data, &p); err != nil {
				return nil, nil, err
			}
			p.Base = e.Name()
		}
		pkgs = append(pkgs, p)
		files = append(files, path)
	}
	return pkgs, files, nil
}

func drainQueue(l hclog.Logger, files []string) {
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.Warn("Unable to drain manual queue entry", "path", f, "error", err)
		}
	}
}
