package remote

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/repo"
	"github.com/the-maldridge/nrepo/pkg/storage"
)

// AURClient talks to the AUR RPC interface.
type AURClient struct {
	l       hclog.Logger
	hClient *http.Client

	url string
}

// Service answers "what is the newest upstream version of this
// package" for every source kind.
type Service struct {
	l hclog.Logger

	aur   *AURClient
	index *repo.IndexService
	cache storage.Storage
	ttl   time.Duration
	arch  string
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// aurInfo is one result row of an AUR info query.
type aurInfo struct {
	Name         string   `json:"Name"`
	PackageBase  string   `json:"PackageBase"`
	Version      string   `json:"Version"`
	Description  string   `json:"Description"`
	URL          string   `json:"URL"`
	License      []string `json:"License"`
	Depends      []string `json:"Depends"`
	MakeDepends  []string `json:"MakeDepends"`
	CheckDepends []string `json:"CheckDepends"`
	OptDepends   []string `json:"OptDepends"`
	Provides     []string `json:"Provides"`
}

type aurResponse struct {
	Type        string    `json:"type"`
	Error       string    `json:"error"`
	ResultCount int       `json:"resultcount"`
	Results     []aurInfo `json:"results"`
}

// cached is what the metadata cache keeps per base.
type cached struct {
	Fetched time.Time       `json:"fetched"`
	Package json.RawMessage `json:"package"`
}
