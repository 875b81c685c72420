package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// DefaultAURURL is the public AUR RPC endpoint.
const DefaultAURURL = "https://aur.archlinux.org/rpc/v5"

// The AUR rejects requests with overly long query strings.
const maxInfoArgs = 150

// NewAURClient creates a new AUR client.
func NewAURClient(l hclog.Logger, endpoint string, timeout time.Duration) *AURClient {
	if endpoint == "" {
		endpoint = DefaultAURURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	x := AURClient{
		l:       l.Named("aur"),
		hClient: &http.Client{Timeout: timeout},
		url:     endpoint,
	}
	return &x
}

// Info looks up the given package names and returns the package
// bases they belong to.  Names the AUR does not know are absent from
// the result.
func (c *AURClient) Info(ctx context.Context, names []string) ([]types.Package, error) {
	bases := make(map[string]*types.Package)
	for start := 0; start < len(names); start += maxInfoArgs {
		end := start + maxInfoArgs
		if end > len(names) {
			end = len(names)
		}
		results, err := c.info(ctx, names[start:end])
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			pkg, ok := bases[r.PackageBase]
			if !ok {
				pkg = &types.Package{
					Base:     r.PackageBase,
					Version:  r.Version,
					Remote:   types.AURSource(r.PackageBase),
					Packages: make(map[string]types.PackageDescription),
				}
				bases[r.PackageBase] = pkg
			}
			pkg.Packages[r.Name] = types.PackageDescription{
				Description:  r.Description,
				URL:          r.URL,
				Licenses:     r.License,
				Depends:      r.Depends,
				MakeDepends:  r.MakeDepends,
				CheckDepends: r.CheckDepends,
				OptDepends:   r.OptDepends,
				Provides:     r.Provides,
			}
		}
	}

	out := make([]types.Package, 0, len(bases))
	for _, p := range bases {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out, nil
}

func (c *AURClient) info(ctx context.Context, names []string) ([]aurInfo, error) {
	q := url.Values{}
	for _, n := range names {
		q.Add("arg[]", n)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/info?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hClient.Do(req)
	if err != nil {
		c.l.Warn("Unable to query AUR", "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	var r aurResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		c.l.Warn("Unable to decode AUR response", "status", resp.Status, "error", err)
		return nil, fmt.Errorf("aur: %s: %w", resp.Status, err)
	}
	if r.Type == "error" {
		return nil, fmt.Errorf("aur: %s", r.Error)
	}
	c.l.Trace("AUR info", "query", len(names), "results", r.ResultCount)
	return r.Results, nil
}
