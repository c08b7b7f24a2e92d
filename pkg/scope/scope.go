// Package scope implements the include/exclude rule engine that
// classifies a (host, path) pair as in-scope or out-of-scope.
package scope

import (
	"regexp"
	"strings"
)

// RuleType selects whether a matching rule includes or excludes
// traffic.
type RuleType int

const (
	Include RuleType = iota
	Exclude
)

// PatternType selects the matching strategy for Rule.Pattern.
type PatternType int

const (
	Wildcard PatternType = iota
	Regex
)

// Target selects which value of the observation a rule matches
// against.
type Target int

const (
	TargetHost Target = iota
	TargetPath
)

// Rule is one include/exclude pattern. Disabled rules are skipped
// entirely.
type Rule struct {
	RuleType    RuleType
	PatternType PatternType
	Target      Target
	Pattern     string
	Enabled     bool
}

// IsInScope is a pure function of (rules, host, path): exclude always
// wins over include; with no matching rule at all, traffic is
// out-of-scope.
func IsInScope(rules []Rule, host, path string) bool {
	includeMatch := false
	excludeMatch := false

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if matchesRule(rule, host, path) {
			switch rule.RuleType {
			case Include:
				includeMatch = true
			case Exclude:
				excludeMatch = true
			}
		}
	}

	if excludeMatch {
		return false
	}
	return includeMatch
}

func matchesRule(rule Rule, host, path string) bool {
	var value string
	switch rule.Target {
	case TargetHost:
		value = host
	case TargetPath:
		value = path
	}

	switch rule.PatternType {
	case Wildcard:
		return wildcardMatch(rule.Pattern, value)
	case Regex:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			// A malformed regex never propagates as an error; the
			// rule simply never matches.
			return false
		}
		return re.MatchString(value)
	default:
		return false
	}
}

// wildcardMatch splits pattern on '*': the leading literal must
// prefix value; each subsequent literal must be found, in order,
// after the previous match position; if pattern doesn't end in '*',
// the final literal must also suffix value.
func wildcardMatch(pattern, value string) bool {
	parts := strings.Split(pattern, "*")
	pos := 0

	if len(parts) > 0 {
		prefix := parts[0]
		if !strings.HasPrefix(value, prefix) {
			return false
		}
		pos += len(prefix)
		parts = parts[1:]
	}

	for _, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(value[pos:], part)
		if idx < 0 {
			return false
		}
		pos += idx + len(part)
	}

	if !strings.HasSuffix(pattern, "*") {
		all := strings.Split(pattern, "*")
		last := all[len(all)-1]
		if !strings.HasSuffix(value, last) {
			return false
		}
	}

	return true
}
