package repo

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"howett.net/plist"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// pkgDesc is one package entry of a repository index.  The plist
// tags follow xbps index.plist, the desc parser fills the same
// fields from pacman sync databases.
type pkgDesc struct {
	Pkgver        string   `plist:"pkgver"`
	Architecture  string   `plist:"architecture"`
	ShortDesc     string   `plist:"short_desc"`
	Homepage      string   `plist:"homepage"`
	License       string   `plist:"license"`
	Filename      string   `plist:"-"`
	ArchiveSize   int64    `plist:"filename-size"`
	InstalledSize int64    `plist:"installed_size"`
	BuildDate     string   `plist:"build-date"`
	RunDepends    []string `plist:"run_depends"`
	Provides      []string `plist:"provides"`
	SourcePkg     string   `plist:"sourcepkg"`

	makeDepends  []string
	checkDepends []string
	optDepends   []string
	licenses     []string
	builtAt      time.Time
}

// NewIndexService creates an IndexService
func NewIndexService(l hclog.Logger) *IndexService {
	is := IndexService{
		l:        l.Named("IndexService"),
		client:   &http.Client{Timeout: time.Minute},
		packages: make(map[string]indexEntry),
	}
	return &is
}

// LoadIndex retrieves an index via http or from a file and merges
// it into the known packages.  A path ending in -repodata is read as
// an xbps index, anything else as a pacman sync database.
func (is *IndexService) LoadIndex(ctx context.Context, path string) error {
	var indexBytes []byte
	var err error

	switch {
	case strings.HasPrefix(path, "http"):
		indexBytes, err = is.fetchHTTP(ctx, path)
	case strings.HasPrefix(path, "file"):
		indexBytes, err = is.fetchFile(path)
	default:
		err = errors.New("unknown repodata scheme")
		is.l.Error("Repodata scheme must be either file or http(s)", "path", path)
	}
	if err != nil {
		return err
	}

	read := readSyncDB
	if strings.HasSuffix(path, "-repodata") {
		read = readXBPSIndex
	}
	entries, err := read(indexBytes)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	is.mu.Lock()
	defer is.mu.Unlock()
	for name, e := range entries {
		is.packages[name] = e
	}
	is.l.Debug("Loaded index", "path", path, "packages", len(entries))
	return nil
}

// PkgCount is a quick check of how many packages this index knows
// about.
func (is *IndexService) PkgCount() int {
	is.mu.RLock()
	defer is.mu.RUnlock()
	return len(is.packages)
}

// GetPackage returns the package base that produces name.
func (is *IndexService) GetPackage(name string) (types.Package, error) {
	is.mu.RLock()
	defer is.mu.RUnlock()

	e, ok := is.packages[name]
	if !ok {
		return types.Package{}, types.ErrNotFound
	}
	pkg := types.Package{
		Base:     e.base,
		Version:  e.version,
		Remote:   types.RemoteSource{Source: types.SourceRepository},
		Packages: make(map[string]types.PackageDescription),
	}
	// Collect siblings so split packages come back as one base.
	for n, sib := range is.packages {
		if sib.base == e.base {
			pkg.Packages[n] = sib.desc.description()
		}
	}
	return pkg, nil
}

func (d pkgDesc) description() types.PackageDescription {
	lic := d.licenses
	if lic == nil && d.License != "" {
		lic = []string{d.License}
	}
	return types.PackageDescription{
		Architecture:  d.Architecture,
		Description:   d.ShortDesc,
		URL:           d.Homepage,
		Filename:      d.Filename,
		ArchiveSize:   d.ArchiveSize,
		InstalledSize: d.InstalledSize,
		BuildDate:     d.builtAt,
		Licenses:      lic,
		Depends:       d.RunDepends,
		MakeDepends:   d.makeDepends,
		CheckDepends:  d.checkDepends,
		OptDepends:    d.optDepends,
		Provides:      d.Provides,
	}
}

func (is *IndexService) fetchHTTP(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := is.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: %s", path, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (is *IndexService) fetchFile(path string) ([]byte, error) {
	return os.ReadFile(strings.TrimPrefix(path, "file://"))
}

// openIndex unpacks a zstd or gzip compressed tar.
func openIndex(indexBytes []byte) (*tar.Reader, func(), error) {
	if bytes.HasPrefix(indexBytes, []byte{0x1f, 0x8b}) {
		z, err := gzip.NewReader(bytes.NewReader(indexBytes))
		if err != nil {
			return nil, nil, err
		}
		return tar.NewReader(z), func() { z.Close() }, nil
	}
	d, err := zstd.NewReader(bytes.NewReader(indexBytes))
	if err != nil {
		return nil, nil, err
	}
	return tar.NewReader(d), d.Close, nil
}

// readSyncDB reads a pacman sync database, one <name>-<version>/desc
// per package.
func readSyncDB(indexBytes []byte) (map[string]indexEntry, error) {
	tarchive, done, err := openIndex(indexBytes)
	if err != nil {
		return nil, err
	}
	defer done()

	out := make(map[string]indexEntry)
	for {
		header, err := tarchive.Next()
		switch err {
		case nil:
		case io.EOF:
			return out, nil
		default:
			return nil, err
		}
		if path.Base(header.Name) != "desc" {
			continue
		}
		name, e, err := parseDesc(tarchive)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", header.Name, err)
		}
		out[name] = e
	}
}

// readXBPSIndex reads the index.plist of an xbps repodata.  Heavily
// inspired and simplified from the generalized reader in Duncaen's
// go-xbps project.
func readXBPSIndex(indexBytes []byte) (map[string]indexEntry, error) {
	tarchive, done, err := openIndex(indexBytes)
	if err != nil {
		return nil, err
	}
	defer done()

	for {
		header, err := tarchive.Next()
		switch err {
		case nil:
		case io.EOF:
			return nil, errors.New("no index.plist in repodata")
		default:
			return nil, err
		}
		if header.Name != "index.plist" {
			continue
		}

		idx := make(map[string]pkgDesc)
		buf := &bytes.Buffer{}
		if _, err := buf.ReadFrom(tarchive); err != nil {
			return nil, err
		}
		if err := plist.NewDecoder(bytes.NewReader(buf.Bytes())).Decode(&idx); err != nil {
			return nil, err
		}
		out := make(map[string]indexEntry, len(idx))
		for name, desc := range idx {
			out[name] = fromPlist(name, desc)
		}
		return out, nil
	}
}

func fromPlist(name string, d pkgDesc) indexEntry {
	// pkgver is <name>-<version>_<revision>
	version := strings.TrimPrefix(d.Pkgver, name+"-")
	base := d.SourcePkg
	if base == "" {
		base = name
	}
	for i, dep := range d.RunDepends {
		d.RunDepends[i] = xbpsDepName(dep)
	}
	if t, err := time.Parse("2006-01-02 15:04 MST", d.BuildDate); err == nil {
		d.builtAt = t
	}
	return indexEntry{base: base, version: version, desc: d}
}

// xbpsDepName strips the version pattern from an xbps dependency,
// "foo>=1.0_1" and "foo-1.0_1" both name foo.
func xbpsDepName(dep string) string {
	if n := types.TrimVersion(dep); n != dep {
		return n
	}
	if i := strings.LastIndexByte(dep, '-'); i > 0 && strings.ContainsRune(dep[i:], '_') {
		return dep[:i]
	}
	return dep
}

// parseDesc reads a pacman desc file: %FIELD% headers followed by one
// value per line, sections separated by blank lines.
func parseDesc(r io.Reader) (string, indexEntry, error) {
	var name string
	var e indexEntry
	var field string

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			field = ""
			continue
		}
		if strings.HasPrefix(line, "%") && strings.HasSuffix(line, "%") {
			field = strings.Trim(line, "%")
			continue
		}
		switch field {
		case "NAME":
			name = line
		case "BASE":
			e.base = line
		case "VERSION":
			e.version = line
		case "DESC":
			e.desc.ShortDesc = line
		case "URL":
			e.desc.Homepage = line
		case "ARCH":
			e.desc.Architecture = line
		case "FILENAME":
			e.desc.Filename = line
		case "CSIZE":
			e.desc.ArchiveSize, _ = strconv.ParseInt(line, 10, 64)
		case "ISIZE":
			e.desc.InstalledSize, _ = strconv.ParseInt(line, 10, 64)
		case "BUILDDATE":
			if ts, err := strconv.ParseInt(line, 10, 64); err == nil {
				e.desc.builtAt = time.Unix(ts, 0).UTC()
			}
		case "LICENSE":
			e.desc.licenses = append(e.desc.licenses, line)
		case "DEPENDS":
			e.desc.RunDepends = append(e.desc.RunDepends, line)
		case "MAKEDEPENDS":
			e.desc.makeDepends = append(e.desc.makeDepends, line)
		case "CHECKDEPENDS":
			e.desc.checkDepends = append(e.desc.checkDepends, line)
		case "OPTDEPENDS":
			e.desc.optDepends = append(e.desc.optDepends, line)
		case "PROVIDES":
			e.desc.Provides = append(e.desc.Provides, line)
		}
	}
	if err := sc.Err(); err != nil {
		return "", e, err
	}
	if name == "" {
		return "", e, errors.New("desc has no %NAME%")
	}
	if e.base == "" {
		e.base = name
	}
	return name, e, nil
}
