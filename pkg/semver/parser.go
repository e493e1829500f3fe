// Package semver provides script reference parsing and SemVer resolution logic.
package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const logPrefix = "semver:parser"

// ParsedScriptRef holds the parsed components of a script reference string.
type ParsedScriptRef struct {
	// Script name (e.g., "blog", "admin.users")
	Name string
	// Version range if specified (e.g., "^2.1.0", "2", ""); empty means latest
	Range string
	// Raw input string, trimmed
	Raw string
}

var (
	scriptNameRegex   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseScriptRef parses a script reference string.
//
// Supported formats:
//   - blog            (latest)
//   - blog@2          (major only)
//   - blog@2.1.3      (exact version)
//   - blog@^2.1.0     (caret range)
//   - blog@~2.1.0     (tilde range)
//   - blog@>=2.0.0    (comparison range)
func ParseScriptRef(input string) (*ParsedScriptRef, error) {
	raw := strings.TrimSpace(input)
	name, rangeStr, hasAt := strings.Cut(raw, "@")

	if !ValidateScriptName(name) {
		return nil, fmt.Errorf("%s - invalid script name in reference: %q", logPrefix, raw)
	}
	rangeStr = strings.TrimSpace(rangeStr)
	if hasAt && rangeStr == "" {
		return nil, fmt.Errorf("%s - empty version range in reference: %q", logPrefix, raw)
	}

	return &ParsedScriptRef{Name: name, Range: rangeStr, Raw: raw}, nil
}

// String rebuilds the reference.
func (p *ParsedScriptRef) String() string {
	return BuildScriptRef(p.Name, p.Range)
}

// BuildScriptRef builds a reference from a name and an optional version or range.
func BuildScriptRef(name, version string) string {
	if version != "" {
		return name + "@" + version
	}
	return name
}

// ValidateScriptName validates a script name (letters, digits, dots, hyphens, underscores).
func ValidateScriptName(name string) bool {
	return scriptNameRegex.MatchString(name)
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "2").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g., "2.1.3").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// majorFromRange returns the major of a major-only range, or -1.
func majorFromRange(rangeStr string) int64 {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	major, err := strconv.ParseInt(rangeStr, 10, 64)
	if err != nil {
		return -1
	}
	return major
}
