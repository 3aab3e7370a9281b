// Package policy decides which devices are covered by the ban and whether a
// device currently needs to be disabled.
package policy

import (
	"errors"
	"regexp"
	"strings"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

// DefaultPattern matches every NVIDIA HD Audio output the driver exposes,
// e.g. "NVIDIA High Definition Audio (Monitor A)".
const DefaultPattern = "*NVIDIA High Definition Audio*"

// ErrEmptyPattern is returned when a policy is built without a pattern.
var ErrEmptyPattern = errors.New("device pattern must not be empty")

// BanPolicy describes which devices must be kept disabled.
// Immutable after construction.
type BanPolicy struct {
	pattern   string
	targetAll bool

	glob   *regexp.Regexp // set when pattern has wildcards
	substr string         // lowercased pattern otherwise
}

// New compiles a ban policy. Patterns containing * or ? are anchored globs;
// anything else is a substring. Matching is case-insensitive either way.
// targetAll makes routine passes act on matches regardless of status.
func New(pattern string, targetAll bool) (*BanPolicy, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, ErrEmptyPattern
	}

	p := &BanPolicy{pattern: pattern, targetAll: targetAll}
	if strings.ContainsAny(pattern, "*?") {
		p.glob = regexp.MustCompile("(?is)^" + globToRegexp(pattern) + "$")
	} else {
		p.substr = strings.ToLower(pattern)
	}
	return p, nil
}

// Default returns the policy for NVIDIA HD Audio outputs.
func Default() *BanPolicy {
	p, _ := New(DefaultPattern, false)
	return p
}

// Pattern returns the configured name pattern.
func (p *BanPolicy) Pattern() string {
	return p.pattern
}

// TargetAll reports whether routine passes ignore device status.
func (p *BanPolicy) TargetAll() bool {
	return p.targetAll
}

// Matches reports whether the device's display name is in scope.
func (p *BanPolicy) Matches(d domain.Device) bool {
	if p.glob != nil {
		return p.glob.MatchString(d.DisplayName)
	}
	return strings.Contains(strings.ToLower(d.DisplayName), p.substr)
}

// RequiresAction reports whether the device matches and must be disabled
// now: always under force, otherwise only while it is enabled.
func (p *BanPolicy) RequiresAction(d domain.Device, force bool) bool {
	if !p.Matches(d) {
		return false
	}
	return force || p.targetAll || d.Status == domain.StatusEnabled
}

// globToRegexp translates * and ? and quotes everything else.
func globToRegexp(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}
