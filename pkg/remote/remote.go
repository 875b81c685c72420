// Package remote looks up upstream package metadata and decides
// which packages are out of date.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/repo"
	"github.com/the-maldridge/nrepo/pkg/source"
	"github.com/the-maldridge/nrepo/pkg/storage"
	"github.com/the-maldridge/nrepo/pkg/types"
)

// NewService wires the metadata sources together.  index and cache
// may be nil.
func NewService(l hclog.Logger, aur *AURClient, index *repo.IndexService, cache storage.Storage, opts ...Option) *Service {
	s := Service{
		l:     l.Named("remote"),
		aur:   aur,
		index: index,
		cache: cache,
		ttl:   15 * time.Minute,
		now:   time.Now,
	}
	for _, o := range opts {
		o(&s)
	}
	return &s
}

// IsOutdated reports whether remote carries a newer version than
// local.  A local package without a version has never been built.
func IsOutdated(local, remote types.Package) bool {
	if local.Version == "" {
		return true
	}
	return Vercmp(remote.Version, local.Version) > 0
}

// FetchMetadata returns the upstream state of pkg, or
// types.ErrNotFound when its source has no such package.
func (s *Service) FetchMetadata(ctx context.Context, pkg types.Package) (types.Package, error) {
	switch pkg.Remote.Source {
	case types.SourceAUR:
		found, err := s.fetchAUR(ctx, []types.Package{pkg})
		if err != nil {
			return types.Package{}, err
		}
		p, ok := found[pkg.Base]
		if !ok {
			return types.Package{}, types.ErrNotFound
		}
		return p, nil
	case types.SourceRepository:
		if s.index == nil {
			return types.Package{}, types.ErrNotFound
		}
		return s.index.GetPackage(pkg.Base)
	case types.SourceLocal:
		p, err := source.LoadDir(pkg.Remote.Path, s.arch)
		if err != nil {
			return types.Package{}, err
		}
		p.Remote = pkg.Remote
		return p, nil
	default:
		return types.Package{}, types.ErrNotFound
	}
}

// Outdated returns the upstream state of every package in pkgs that
// has a newer version upstream.  Packages whose source cannot be
// queried are skipped with a warning.
func (s *Service) Outdated(ctx context.Context, pkgs []types.Package) ([]types.Package, error) {
	var aurPkgs []types.Package
	for _, p := range pkgs {
		if p.Remote.Source == types.SourceAUR {
			aurPkgs = append(aurPkgs, p)
		}
	}
	aur, err := s.fetchAUR(ctx, aurPkgs)
	if err != nil {
		return nil, err
	}

	var out []types.Package
	for _, local := range pkgs {
		var upstream types.Package
		var ok bool
		if local.Remote.Source == types.SourceAUR {
			upstream, ok = aur[local.Base]
		} else {
			upstream, err = s.FetchMetadata(ctx, local)
			ok = err == nil
			if err != nil && !errors.Is(err, types.ErrNotFound) {
				s.l.Warn("Unable to fetch metadata", "package", local.Base, "error", err)
			}
		}
		if !ok {
			s.l.Debug("No upstream for package", "package", local.Base, "source", local.Remote.Source)
			continue
		}
		if IsOutdated(local, upstream) {
			s.l.Debug("Package is outdated", "package", local.Base, "local", local.Version, "remote", upstream.Version)
			if upstream.Packager == "" {
				upstream.Packager = local.Packager
			}
			out = append(out, upstream)
		}
	}
	return out, nil
}

// fetchAUR answers from the cache where it can and asks the AUR for
// the rest in one batch.  The AUR is queried by package name, a base
// is found through any of its names.  The result is keyed by the
// local base.
func (s *Service) fetchAUR(ctx context.Context, pkgs []types.Package) (map[string]types.Package, error) {
	out := make(map[string]types.Package, len(pkgs))
	var missing []types.Package
	for _, p := range pkgs {
		if up, ok := s.cacheGet(p.Base); ok {
			out[p.Base] = up
			continue
		}
		missing = append(missing, p)
	}
	if len(missing) == 0 || s.aur == nil {
		return out, nil
	}

	var names []string
	for _, p := range missing {
		names = append(names, aurNames(p)...)
	}
	found, err := s.aur.Info(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("aur lookup: %w", err)
	}
	byName := make(map[string]types.Package)
	for _, up := range found {
		for name := range up.Packages {
			byName[name] = up
		}
	}
	for _, p := range missing {
		for _, name := range aurNames(p) {
			up, ok := byName[name]
			if !ok {
				continue
			}
			if up.Base != p.Base {
				s.l.Debug("Package moved to another base", "package", p.Base, "base", up.Base)
			}
			out[p.Base] = up
			s.cachePut(p.Base, up)
			break
		}
	}
	return out, nil
}

// aurNames are the names p is looked up by.  A base never built
// carries no names yet and is tried by its own name.
func aurNames(p types.Package) []string {
	if names := p.Names(); len(names) > 0 {
		return names
	}
	return []string{p.Base}
}

const cachePrefix = "aur/"

func cacheKey(base string) []byte { return []byte(cachePrefix + base) }

// PurgeCache drops cached metadata older than the ttl, or every entry
// when all is set.  It returns how many entries went.
func (s *Service) PurgeCache(all bool) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	var keys [][]byte
	err := s.cache.Scan([]byte(cachePrefix), func(k []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, k := range keys {
		if !all {
			raw, err := s.cache.Get(k)
			if err != nil {
				return n, err
			}
			var c cached
			if json.Unmarshal(raw, &c) == nil && s.now().Sub(c.Fetched) <= s.ttl {
				continue
			}
		}
		if err := s.cache.Del(k); err != nil {
			return n, err
		}
		n++
	}
	s.l.Debug("Purged metadata cache", "removed", n, "kept", len(keys)-n)
	return n, nil
}

func (s *Service) cacheGet(base string) (types.Package, bool) {
	if s.cache == nil {
		return types.Package{}, false
	}
	raw, err := s.cache.Get(cacheKey(base))
	if err != nil || raw == nil {
		return types.Package{}, false
	}
	var c cached
	if err := json.Unmarshal(raw, &c); err != nil {
		s.l.Trace("Discarding unreadable cache entry", "package", base, "error", err)
		return types.Package{}, false
	}
	if s.now().Sub(c.Fetched) > s.ttl {
		return types.Package{}, false
	}
	var p types.Package
	if err := json.Unmarshal(c.Package, &p); err != nil {
		return types.Package{}, false
	}
	return p, true
}

func (s *Service) cachePut(base string, p types.Package) {
	if s.cache == nil {
		return
	}
	body, err := json.Marshal(p)
	if err != nil {
		return
	}
	raw, err := json.Marshal(cached{Fetched: s.now(), Package: body})
	if err != nil {
		return
	}
	if err := s.cache.Put(cacheKey(base), raw); err != nil {
		s.l.Warn("Unable to cache metadata", "package", base, "error", err)
	}
}
