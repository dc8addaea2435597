package npm

import (
	"context"
	"errors"
	"net/url"
	"sort"

	"github.com/FormidableLabs/trygql/internal/fetch"
)

// DefaultSkypackURL is the skypack CDN.
const DefaultSkypackURL = "https://cdn.skypack.dev"

type skypackMeta struct {
	Name           string             `json:"name"`
	Version        string             `json:"version"`
	BuildStatus    string             `json:"buildStatus"`
	PackageExports map[string]*Export `json:"packageExports"`
}

// Skypack reads build metadata for published versions.
type Skypack struct {
	client *fetch.Client
}

// NewSkypack creates a skypack reader over client.
func NewSkypack(client *fetch.Client) *Skypack {
	return &Skypack{client: client}
}

// Exports returns the files exported by name@version ordered by path, or nil
// when skypack does not know the version.
func (s *Skypack) Exports(ctx context.Context, name, version string) ([]*Export, error) {
	var meta skypackMeta
	err := s.client.GetJSON(ctx, fetch.Request{
		Endpoint: "meta",
		Path:     name + "@" + version + "/",
		Query:    url.Values{"meta": {""}},
	}, &meta)
	if errors.Is(err, fetch.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	exports := make([]*Export, 0, len(meta.PackageExports))
	for id, exp := range meta.PackageExports {
		if exp == nil {
			continue
		}
		if exp.ID == "" {
			exp.ID = id
		}
		exports = append(exports, exp)
	}
	sort.Slice(exports, func(i, j int) bool { return exports[i].ID < exports[j].ID })
	return exports, nil
}
