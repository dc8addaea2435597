package npm

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
)

// StringMap is a string-to-string JSON object such as a dependency list.
// Values of any other shape decode as nil, since old packuments carry arrays
// or strings in some of these fields. Null stays nil so a decoded map renders
// the same as the one it was encoded from.
type StringMap map[string]string

func (m *StringMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		*m = nil
		return nil
	}

	out := make(StringMap, len(raw))
	for key, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			out[key] = s
		}
	}
	*m = out
	return nil
}

// ID returns the relay node id of the package.
func (p *Package) ID() string {
	return p.Name
}

// Modified returns when the packument last changed.
func (p *Package) Modified() (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, p.Time["modified"])
	return t, err == nil
}

// Tag is a named pointer to a version.
type Tag struct {
	Tag     string `json:"tag"`
	Version string `json:"version"`
}

// Tags returns the dist-tags ordered by tag name.
func (p *Package) Tags() []Tag {
	tags := make([]Tag, 0, len(p.DistTags))
	for tag, version := range p.DistTags {
		tags = append(tags, Tag{Tag: tag, Version: version})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Tag < tags[j].Tag })
	return tags
}

// VersionList returns all versions in ascending semver order. Versions that
// do not parse sort last, by name.
func (p *Package) VersionList() []*Version {
	type entry struct {
		key     string
		parsed  *semver.Version
		version *Version
	}

	entries := make([]entry, 0, len(p.Versions))
	for key, v := range p.Versions {
		if v == nil {
			continue
		}
		parsed, _ := semver.NewVersion(key)
		entries = append(entries, entry{key: key, parsed: parsed, version: v})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.parsed != nil && b.parsed != nil:
			if c := a.parsed.Compare(b.parsed); c != 0 {
				return c < 0
			}
			return a.key < b.key
		case a.parsed != nil:
			return true
		case b.parsed != nil:
			return false
		default:
			return a.key < b.key
		}
	})

	out := make([]*Version, len(entries))
	for i, e := range entries {
		out[i] = e.version
	}
	return out
}

// ID returns the relay node id of the version, "<name>@<version>".
func (v *Version) ID() string {
	return v.Name + "@" + v.Version
}

// Export kinds reported by skypack.
const (
	ExportJS    = "JS"
	ExportAsset = "ASSET"
)

// Export is one file of a version's distributable.
type Export struct {
	Type             string   `json:"type"`
	ID               string   `json:"id"`
	HasDefaultExport bool     `json:"hasDefaultExport,omitempty"`
	NamedExports     []string `json:"namedExports,omitempty"`
}

// decodeNode rebuilds a cached Query.node result, which is either a Package
// or a Version. Only packuments carry a "versions" object.
func decodeNode(data []byte) (any, error) {
	var probe struct {
		Versions json.RawMessage `json:"versions"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	if probe.Versions != nil {
		var pkg Package
		if err := json.Unmarshal(data, &pkg); err != nil {
			return nil, err
		}
		return &pkg, nil
	}

	var v Version
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
