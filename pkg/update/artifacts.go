package update

import (
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/repo"
	"github.com/the-maldridge/nrepo/pkg/types"
)

// describeArtifacts copies file name, sizes and build date of every
// built package file into the matching description of p.  Files that
// cannot be read leave their description as it was.
func describeArtifacts(l hclog.Logger, p types.Package, files []string) types.Package {
	descs := make(map[string]types.PackageDescription, len(p.Packages))
	for name, d := range p.Packages {
		descs[name] = d
	}
	for _, f := range files {
		if strings.HasSuffix(f, ".sig") {
			continue
		}
		a, err := repo.Inspect(f)
		if err != nil {
			l.Warn("Unable to describe built file", "file", f, "error", err)
			continue
		}
		d, known := descs[a.Name]
		if !known {
			l.Debug("Build produced an undeclared package", "name", a.Name)
		}
		d.Filename = a.Filename
		d.ArchiveSize = a.ArchiveSize
		d.BuildDate = a.BuildDate
		if a.InstalledSize > 0 {
			d.InstalledSize = a.InstalledSize
		}
		if d.Architecture == "" {
			d.Architecture = a.Architecture
		}
		descs[a.Name] = d
	}
	p.Packages = descs
	return p
}
