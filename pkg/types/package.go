package types

import (
	"sort"
	"time"
)

// SourceKind names where the sources of a package base come from.
type SourceKind string

// The source kinds the updater knows how to fetch.
const (
	SourceUnknown    SourceKind = "unknown"
	SourceAUR        SourceKind = "aur"
	SourceLocal      SourceKind = "local"
	SourceManual     SourceKind = "manual"
	SourceRepository SourceKind = "repository"
)

// RemoteSource describes how to obtain the build files of a package
// base.
type RemoteSource struct {
	Source SourceKind `json:"source"`
	GitURL string     `json:"git_url,omitempty"`
	WebURL string     `json:"web_url,omitempty"`
	Path   string     `json:"path,omitempty"`
	Branch string     `json:"branch,omitempty"`
}

// AURSource returns the remote source for an AUR package base.
func AURSource(base string) RemoteSource {
	return RemoteSource{
		Source: SourceAUR,
		GitURL: "https://aur.archlinux.org/" + base + ".git",
		WebURL: "https://aur.archlinux.org/packages/" + base,
		Path:   ".",
		Branch: "master",
	}
}

// PackageDescription is the metadata of one concrete package produced
// by a package base.
type PackageDescription struct {
	Architecture  string    `json:"architecture,omitempty"`
	Description   string    `json:"description,omitempty"`
	URL           string    `json:"url,omitempty"`
	Filename      string    `json:"filename,omitempty"`
	ArchiveSize   int64     `json:"archive_size,omitempty"`
	InstalledSize int64     `json:"installed_size,omitempty"`
	BuildDate     time.Time `json:"build_date,omitempty"`
	Licenses      []string  `json:"licenses,omitempty"`
	Depends       []string  `json:"depends,omitempty"`
	MakeDepends   []string  `json:"make_depends,omitempty"`
	CheckDepends  []string  `json:"check_depends,omitempty"`
	OptDepends    []string  `json:"opt_depends,omitempty"`
	Provides      []string  `json:"provides,omitempty"`
}

// Package is a package base: the unit of build and versioning.  All
// concrete packages under one base share the version and are built
// and removed together.
type Package struct {
	Base     string                        `json:"base"`
	Version  string                        `json:"version"`
	Remote   RemoteSource                  `json:"remote"`
	Packages map[string]PackageDescription `json:"packages"`
	Packager string                        `json:"packager,omitempty"`
}

// Names returns the concrete package names in sorted order.
func (p Package) Names() []string {
	out := make([]string, 0, len(p.Packages))
	for name := range p.Packages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Depends is the union of run, make and check time dependency names
// of every concrete package.  Only names are kept; version
// constraints are stripped.
func (p Package) Depends() []string {
	set := make(map[string]struct{})
	for _, desc := range p.Packages {
		for _, list := range [][]string{desc.Depends, desc.MakeDepends, desc.CheckDepends} {
			for _, dep := range list {
				set[TrimVersion(dep)] = struct{}{}
			}
		}
	}
	return sortedKeys(set)
}

// Provides returns every name this base satisfies: its concrete
// package names plus their provides lists.
func (p Package) Provides() []string {
	set := make(map[string]struct{})
	for name, desc := range p.Packages {
		set[name] = struct{}{}
		for _, prov := range desc.Provides {
			set[TrimVersion(prov)] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// IsSingle reports whether the base produces exactly one package named
// after itself.
func (p Package) IsSingle() bool {
	_, ok := p.Packages[p.Base]
	return ok && len(p.Packages) == 1
}

// TrimVersion strips a version constraint from a dependency string
// such as "glibc>=2.38" and returns just the name.
func TrimVersion(dep string) string {
	for i, r := range dep {
		switch r {
		case '<', '>', '=', ':':
			return dep[:i]
		}
	}
	return dep
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
