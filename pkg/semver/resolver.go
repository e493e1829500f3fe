package semver

import (
	"fmt"
	"sort"

	masterminds "github.com/Masterminds/semver/v3"
)

const resolverLogPrefix = "semver:resolver"

// Status is the lifecycle state of a release.
type Status string

const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusDisabled   Status = "disabled"
)

// ParseStatus maps a manifest value to a Status; empty means active.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "", StatusActive:
		return StatusActive, nil
	case StatusDeprecated, StatusDisabled:
		return Status(s), nil
	}
	return "", fmt.Errorf("%s - unknown status %q", resolverLogPrefix, s)
}

// Release is one registered version of a script.
type Release struct {
	Version *masterminds.Version
	Status  Status
}

// NewRelease parses version. An empty version is 0.0.0.
func NewRelease(version string, status Status) (Release, error) {
	if version == "" {
		version = "0.0.0"
	}
	v, err := masterminds.StrictNewVersion(trimV(version))
	if err != nil {
		return Release{}, fmt.Errorf("%s - invalid version %q: %w", resolverLogPrefix, version, err)
	}
	if status == "" {
		status = StatusActive
	}
	return Release{Version: v, Status: status}, nil
}

func trimV(s string) string {
	if len(s) > 0 && (s[0] == 'v' || s[0] == 'V') {
		return s[1:]
	}
	return s
}

// ResolveParams holds parameters for Resolve.
type ResolveParams struct {
	Releases          []Release
	Range             string // SemVer range, major-only, exact, or empty
	IncludeDeprecated bool   // treat deprecated releases like active ones
	IncludeDisabled   bool
}

// Resolve finds the best release for a range. Without a range the latest
// release of the highest major wins; stable releases beat prereleases there.
// Active releases are preferred over deprecated ones unless IncludeDeprecated
// is set.
func Resolve(params ResolveParams) (Release, bool) {
	candidates := make([]Release, 0, len(params.Releases))
	for _, r := range params.Releases {
		if r.Status == StatusDisabled && !params.IncludeDisabled {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return Release{}, false
	}
	sortDesc(candidates)

	switch {
	case params.Range == "":
		return latestInMajor(candidates, int64(candidates[0].Version.Major()), params.IncludeDeprecated)
	case IsMajorOnly(params.Range):
		return latestInMajor(candidates, majorFromRange(params.Range), params.IncludeDeprecated)
	case IsExactVersion(params.Range):
		want, err := masterminds.NewVersion(params.Range)
		if err != nil {
			return Release{}, false
		}
		for _, r := range candidates {
			if r.Version.Equal(want) {
				return r, true
			}
		}
		return Release{}, false
	}

	constraint, err := masterminds.NewConstraint(params.Range)
	if err != nil {
		return Release{}, false
	}
	var matching []Release
	for _, r := range candidates {
		if constraint.Check(r.Version) {
			matching = append(matching, r)
		}
	}
	return preferActive(matching, params.IncludeDeprecated)
}

// SatisfiesRange checks if a version string satisfies a range.
func SatisfiesRange(version, rangeStr string) bool {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}
	if rangeStr == "" {
		return true
	}
	if IsMajorOnly(rangeStr) {
		return int64(sv.Major()) == majorFromRange(rangeStr)
	}
	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}

// --- internal helpers ---

func sortDesc(releases []Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		return releases[i].Version.GreaterThan(releases[j].Version)
	})
}

// latestInMajor expects releases sorted descending.
func latestInMajor(releases []Release, major int64, includeDeprecated bool) (Release, bool) {
	var stable, all []Release
	for _, r := range releases {
		if int64(r.Version.Major()) != major {
			continue
		}
		all = append(all, r)
		if r.Version.Prerelease() == "" {
			stable = append(stable, r)
		}
	}
	if len(stable) > 0 {
		return preferActive(stable, includeDeprecated)
	}
	return preferActive(all, includeDeprecated)
}

// preferActive expects releases sorted descending.
func preferActive(releases []Release, includeDeprecated bool) (Release, bool) {
	if len(releases) == 0 {
		return Release{}, false
	}
	if !includeDeprecated {
		for _, r := range releases {
			if r.Status == StatusActive {
				return r, true
			}
		}
	}
	return releases[0], true
}
