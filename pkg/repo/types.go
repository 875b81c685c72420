package repo

import (
	"net/http"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// IndexService is a wrapper around a lot of functions that
// interrogate repodata.
type IndexService struct {
	l      hclog.Logger
	client *http.Client

	mu       sync.RWMutex
	packages map[string]indexEntry
}

type indexEntry struct {
	base    string
	version string
	desc    pkgDesc
}

// Tool maintains the package database of one repository directory.
// All database mutations are serialized.
type Tool struct {
	l   hclog.Logger
	dir string
	db  string

	addCmd    string
	removeCmd string

	repoMutex *sync.Mutex
}

// Settings configures the repository Tool.
type Settings struct {
	// Dir is where package files and the database live.
	Dir string `mapstructure:"dir"`

	// Name is the database name; files are <Name>.db.tar.zst.
	Name string `mapstructure:"name"`

	AddCommand    string `mapstructure:"add_command"`
	RemoveCommand string `mapstructure:"remove_command"`
}
