package npm

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ResolveVersion picks the version of p a selector refers to. The selector may
// be empty or "latest", an exact version, a semver range (the highest
// satisfying version wins) or any other dist-tag. It returns nil when nothing
// matches.
func ResolveVersion(p *Package, selector string) *Version {
	if p == nil {
		return nil
	}
	selector = strings.TrimSpace(selector)

	var version string
	switch {
	case selector == "" || selector == "latest":
		version = p.DistTags["latest"]
	default:
		if exact, err := semver.StrictNewVersion(strings.TrimLeft(selector, "=v")); err == nil {
			version = exact.String()
		} else if constraint, err := semver.NewConstraint(selector); err == nil {
			version = maxSatisfying(p, constraint)
		} else {
			version = p.DistTags[selector]
		}
	}

	if version == "" {
		return nil
	}
	return p.Versions[version]
}

func maxSatisfying(p *Package, constraint *semver.Constraints) string {
	var (
		best    *semver.Version
		bestKey string
	)
	for key := range p.Versions {
		v, err := semver.NewVersion(key)
		if err != nil || !constraint.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best, bestKey = v, key
		}
	}
	return bestKey
}

var idRe = regexp.MustCompile(`^(?:@([^/@]+?)/)?([^/@]+)(?:@([\d.]+(?:-.+)?))?$`)

// ParseID splits a relay node id of the form "[@scope/]name[@version]" into
// the package name and the optional version.
func ParseID(id string) (name, version string, ok bool) {
	m := idRe.FindStringSubmatch(id)
	if m == nil {
		return "", "", false
	}
	name = m[2]
	if m[1] != "" {
		name = "@" + m[1] + "/" + name
	}
	return name, m[3], true
}
