package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	srcinfo "github.com/Morganamilo/go-srcinfo"
	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// SRCINFO is the metadata file every package directory carries.
const SRCINFO = ".SRCINFO"

// ParseSRCINFO reads package metadata from the text of a .SRCINFO
// file. Architecture specific entries are kept only when they match
// arch.
func ParseSRCINFO(data, arch string) (types.Package, error) {
	info, err := srcinfo.Parse(data)
	if err != nil {
		return types.Package{}, err
	}
	return fromSrcinfo(info, arch), nil
}

// LoadDir reads the .SRCINFO in dir.
func LoadDir(dir, arch string) (types.Package, error) {
	data, err := os.ReadFile(filepath.Join(dir, SRCINFO))
	if err != nil {
		return types.Package{}, err
	}
	return ParseSRCINFO(string(data), arch)
}

func fromSrcinfo(info *srcinfo.Srcinfo, arch string) types.Package {
	pkg := types.Package{
		Base:     info.Pkgbase,
		Version:  version(info),
		Packages: make(map[string]types.PackageDescription),
	}
	for _, sp := range info.SplitPackages() {
		pkg.Packages[sp.Pkgname] = types.PackageDescription{
			Description:  sp.Pkgdesc,
			URL:          sp.URL,
			Licenses:     sp.License,
			Depends:      values(sp.Depends, arch),
			MakeDepends:  values(info.MakeDepends, arch),
			CheckDepends: values(info.CheckDepends, arch),
			OptDepends:   values(sp.OptDepends, arch),
			Provides:     values(sp.Provides, arch),
			Architecture: archOf(sp.Arch, arch),
		}
	}
	return pkg
}

// version renders [epoch:]pkgver-pkgrel.
func version(info *srcinfo.Srcinfo) string {
	v := info.Pkgver + "-" + info.Pkgrel
	if info.Epoch != "" && info.Epoch != "0" {
		v = info.Epoch + ":" + v
	}
	return v
}

func values(in []srcinfo.ArchString, arch string) []string {
	var out []string
	for _, s := range in {
		if s.Arch == "" || s.Arch == arch {
			out = append(out, s.Value)
		}
	}
	return out
}

func archOf(declared []string, arch string) string {
	for _, a := range declared {
		if a == "any" {
			return "any"
		}
	}
	return arch
}

// ScanLocal reads every package directory below root. Directories
// without a .SRCINFO are skipped with a warning.
func ScanLocal(l hclog.Logger, root, arch string) ([]types.Package, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []types.Package
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		pkg, err := LoadDir(dir, arch)
		if errors.Is(err, fs.ErrNotExist) {
			l.Warn("Package directory has no metadata", "path", dir)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
		pkg.Remote = types.RemoteSource{Source: types.SourceLocal, Path: dir}
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out, nil
}
