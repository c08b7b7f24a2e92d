package proxy

import (
	"sync/atomic"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/scope"
)

// ruleSnapshot pairs an immutable rule slice with the version counter
// bumped every time the set changes.
type ruleSnapshot struct {
	rules   []scope.Rule
	version int64
}

// RuleSource publishes an immutable scope-rule snapshot the
// orchestrator re-reads at each observation boundary. Updates publish
// a new snapshot atomically (copy-on-write); readers never observe a
// torn update.
type RuleSource struct {
	current atomic.Pointer[ruleSnapshot]
}

// NewRuleSource builds a source seeded with the given initial rules
// at version 0.
func NewRuleSource(initial []scope.Rule) *RuleSource {
	s := &RuleSource{}
	snap := &ruleSnapshot{rules: append([]scope.Rule(nil), initial...), version: 0}
	s.current.Store(snap)
	return s
}

// Snapshot returns the current rule slice and its version.
func (s *RuleSource) Snapshot() ([]scope.Rule, int64) {
	snap := s.current.Load()
	return snap.rules, snap.version
}

// Replace publishes a new rule set, bumping the version counter.
func (s *RuleSource) Replace(rules []scope.Rule) {
	prev := s.current.Load()
	next := &ruleSnapshot{
		rules:   append([]scope.Rule(nil), rules...),
		version: prev.version + 1,
	}
	s.current.Store(next)
}
