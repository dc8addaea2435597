// Package npm serves npm registry metadata as a relay-style GraphQL API.
package npm

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"

	"github.com/FormidableLabs/trygql/internal/fetch"
)

// DefaultRegistryURL is the public npm registry.
const DefaultRegistryURL = "https://registry.npmjs.org"

// MaxSearchSize is the largest page the registry search endpoint returns.
const MaxSearchSize = 250

// Dist describes the tarball of a version.
type Dist struct {
	Shasum       string  `json:"shasum"`
	Tarball      string  `json:"tarball"`
	Integrity    *string `json:"integrity,omitempty"`
	FileCount    *int    `json:"fileCount,omitempty"`
	UnpackedSize *int    `json:"unpackedSize,omitempty"`
	Signature    *string `json:"npm-signature,omitempty"`
}

// Version is one published version of a package.
type Version struct {
	Name                 string    `json:"name"`
	Version              string    `json:"version"`
	Description          string    `json:"description,omitempty"`
	Dist                 Dist      `json:"dist"`
	Dependencies         StringMap `json:"dependencies,omitempty"`
	DevDependencies      StringMap `json:"devDependencies,omitempty"`
	PeerDependencies     StringMap `json:"peerDependencies,omitempty"`
	OptionalDependencies StringMap `json:"optionalDependencies,omitempty"`
	Engines              StringMap `json:"engines,omitempty"`
	Bin                  StringMap `json:"bin,omitempty"`
}

// Package is a registry packument.
type Package struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	DistTags    map[string]string   `json:"dist-tags"`
	Time        map[string]string   `json:"time,omitempty"`
	Versions    map[string]*Version `json:"versions"`
}

type searchPage struct {
	Objects []struct {
		Package struct {
			Name string `json:"name"`
		} `json:"package"`
	} `json:"objects"`
	Total int `json:"total"`
}

// Registry reads packuments from an npm registry.
type Registry struct {
	client *fetch.Client
}

// NewRegistry creates a registry reader over client.
func NewRegistry(client *fetch.Client) *Registry {
	return &Registry{client: client}
}

// Package returns the packument for name, or nil when it does not exist.
func (r *Registry) Package(ctx context.Context, name string) (*Package, error) {
	var pkg Package
	err := r.client.GetJSON(ctx, fetch.Request{Endpoint: "package", Path: name}, &pkg)
	if errors.Is(err, fetch.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if pkg.Versions == nil {
		pkg.Versions = map[string]*Version{}
	}
	if pkg.DistTags == nil {
		pkg.DistTags = map[string]string{}
	}
	return &pkg, nil
}

// Search runs a text search and fetches the packument of every hit, in
// result order. Hits whose packument has disappeared are skipped.
func (r *Registry) Search(ctx context.Context, text string, size, from int) ([]*Package, error) {
	if size > MaxSearchSize {
		size = MaxSearchSize
	}

	var page searchPage
	err := r.client.GetJSON(ctx, fetch.Request{
		Endpoint: "search",
		Path:     "-/v1/search",
		Query: url.Values{
			"text": {text},
			"size": {strconv.Itoa(size)},
			"from": {strconv.Itoa(from)},
		},
	}, &page)
	if err != nil {
		return nil, err
	}

	packages := make([]*Package, len(page.Objects))
	errs := make([]error, len(page.Objects))

	var wg sync.WaitGroup
	for i, obj := range page.Objects {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			packages[i], errs[i] = r.Package(ctx, name)
		}(i, obj.Package.Name)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	out := packages[:0]
	for _, pkg := range packages {
		if pkg != nil {
			out = append(out, pkg)
		}
	}
	return out, nil
}
