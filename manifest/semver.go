package manifest

import (
	"fmt"
	"strconv"
	"strings"
)

// Semver is a version as plugin manifests carry them: an optional "v"
// prefix, up to three numeric parts with missing ones read as zero, an
// optional prerelease tag after "-", and build metadata after "+" which is
// parsed off and ignored.
type Semver struct {
	Major int
	Minor int
	Patch int
	Pre   string
}

func (s Semver) String() string {
	if s.Pre != "" {
		return fmt.Sprintf("%d.%d.%d-%s", s.Major, s.Minor, s.Patch, s.Pre)
	}
	return fmt.Sprintf("%d.%d.%d", s.Major, s.Minor, s.Patch)
}

// Compare returns -1, 0, or 1. Numeric parts order first; a prerelease
// sorts below the release it precedes, and two prereleases of the same
// release compare as plain strings.
func (s Semver) Compare(other Semver) int {
	pairs := [3][2]int{
		{s.Major, other.Major},
		{s.Minor, other.Minor},
		{s.Patch, other.Patch},
	}
	for _, p := range pairs {
		if p[0] != p[1] {
			if p[0] < p[1] {
				return -1
			}
			return 1
		}
	}
	switch {
	case s.Pre == other.Pre:
		return 0
	case s.Pre == "":
		return 1
	case other.Pre == "":
		return -1
	}
	return strings.Compare(s.Pre, other.Pre)
}

// ParseSemver parses a manifest version string. "1", "1.2", "v1.2.3", and
// "1.2.3-rc.1+build5" all parse; anything non-numeric in the release parts
// does not.
func ParseSemver(v string) (Semver, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexByte(raw, '+'); i >= 0 {
		raw = raw[:i]
	}
	var pre string
	if i := strings.IndexByte(raw, '-'); i >= 0 {
		raw, pre = raw[:i], raw[i+1:]
		if pre == "" {
			return Semver{}, fmt.Errorf("version %q has an empty prerelease tag", v)
		}
	}
	if raw == "" {
		return Semver{}, fmt.Errorf("version %q is empty", v)
	}
	parts := strings.Split(raw, ".")
	if len(parts) > 3 {
		return Semver{}, fmt.Errorf("version %q has more than three parts", v)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Semver{}, fmt.Errorf("version %q: part %q is not a number", v, p)
		}
		nums[i] = n
	}
	return Semver{Major: nums[0], Minor: nums[1], Patch: nums[2], Pre: pre}, nil
}

// Constraint bounds the versions a dependency accepts, e.g. ">=1.0.0",
// "^2.1", "~1.2.0-beta". A bare version means exact match.
type Constraint struct {
	op      string
	version Semver
}

func (c *Constraint) String() string {
	if c.op == "=" {
		return c.version.String()
	}
	return c.op + c.version.String()
}

// Two-character operators listed first so ">=" is not read as ">".
var constraintOps = []string{">=", "<=", "!=", ">", "<", "^", "~", "="}

// ParseConstraint parses a dependency constraint string.
func ParseConstraint(s string) (*Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty constraint")
	}
	op := "="
	for _, candidate := range constraintOps {
		if strings.HasPrefix(s, candidate) {
			op = candidate
			s = s[len(candidate):]
			break
		}
	}
	v, err := ParseSemver(s)
	if err != nil {
		return nil, err
	}
	return &Constraint{op: op, version: v}, nil
}

// Check reports whether a version satisfies the constraint.
func (c *Constraint) Check(v Semver) bool {
	cmp := v.Compare(c.version)
	switch c.op {
	case "=":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case "^":
		// Same major line, at or above the floor.
		return v.Major == c.version.Major && cmp >= 0
	case "~":
		// Same minor line, at or above the floor.
		return v.Major == c.version.Major && v.Minor == c.version.Minor && cmp >= 0
	}
	return false
}

// CheckVersion reports whether a version string satisfies a constraint
// string.
func CheckVersion(version, constraint string) (bool, error) {
	v, err := ParseSemver(version)
	if err != nil {
		return false, fmt.Errorf("invalid version: %w", err)
	}
	c, err := ParseConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid constraint: %w", err)
	}
	return c.Check(v), nil
}
