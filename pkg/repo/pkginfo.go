package repo

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Artifact describes one built package file.
type Artifact struct {
	Name          string
	Version       string
	Architecture  string
	Filename      string
	ArchiveSize   int64
	InstalledSize int64
	BuildDate     time.Time
}

// Inspect describes the package file at path.  The .PKGINFO inside
// the archive wins; without a readable one the name, version and
// architecture come from the file name and the build date from its
// modification time.
func Inspect(path string) (Artifact, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	a := Artifact{
		Filename:    filepath.Base(path),
		ArchiveSize: fi.Size(),
		BuildDate:   fi.ModTime().UTC(),
	}

	named, nameErr := splitFilename(a.Filename)
	info, infoErr := readPKGINFO(path)
	switch {
	case infoErr == nil:
		a.Name = info.Name
		a.Version = info.Version
		a.Architecture = info.Architecture
		a.InstalledSize = info.InstalledSize
		if !info.BuildDate.IsZero() {
			a.BuildDate = info.BuildDate
		}
	case nameErr == nil:
		a.Name = named.Name
		a.Version = named.Version
		a.Architecture = named.Architecture
	default:
		return Artifact{}, fmt.Errorf("%s: %w", a.Filename, infoErr)
	}
	return a, nil
}

// splitFilename reads <name>-<pkgver>-<pkgrel>-<arch>.pkg.tar[.ext].
func splitFilename(fname string) (Artifact, error) {
	i := strings.Index(fname, ".pkg.tar")
	if i < 0 {
		return Artifact{}, errors.New("not a package file name")
	}
	parts := strings.Split(fname[:i], "-")
	if len(parts) < 4 {
		return Artifact{}, errors.New("package file name lacks version or architecture")
	}
	n := len(parts)
	return Artifact{
		Name:         strings.Join(parts[:n-3], "-"),
		Version:      parts[n-3] + "-" + parts[n-2],
		Architecture: parts[n-1],
	}, nil
}

func readPKGINFO(path string) (Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return Artifact{}, err
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".zst"):
		d, err := zstd.NewReader(f)
		if err != nil {
			return Artifact{}, err
		}
		defer d.Close()
		r = d
	case strings.HasSuffix(path, ".gz"):
		z, err := gzip.NewReader(f)
		if err != nil {
			return Artifact{}, err
		}
		defer z.Close()
		r = z
	case strings.HasSuffix(path, ".tar"):
	default:
		return Artifact{}, errors.New("unsupported package compression")
	}

	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return Artifact{}, errors.New("no .PKGINFO in package")
		}
		if err != nil {
			return Artifact{}, err
		}
		if h.Name == ".PKGINFO" {
			return parsePKGINFO(tr)
		}
	}
}

// parsePKGINFO reads the "key = value" lines makepkg writes.
func parsePKGINFO(r io.Reader) (Artifact, error) {
	var a Artifact
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, " = ")
		if !ok {
			continue
		}
		switch k {
		case "pkgname":
			a.Name = v
		case "pkgver":
			a.Version = v
		case "arch":
			a.Architecture = v
		case "size":
			a.InstalledSize, _ = strconv.ParseInt(v, 10, 64)
		case "builddate":
			if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
				a.BuildDate = time.Unix(ts, 0).UTC()
			}
		}
	}
	if err := sc.Err(); err != nil {
		return Artifact{}, err
	}
	if a.Name == "" {
		return Artifact{}, errors.New(".PKGINFO has no pkgname")
	}
	return a, nil
}
