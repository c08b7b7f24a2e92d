package proxy

import (
	"testing"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/scope"
)

func TestRuleSourceInitialSnapshot(t *testing.T) {
	initial := []scope.Rule{
		{RuleType: scope.Include, PatternType: scope.Wildcard, Target: scope.TargetHost, Pattern: "*.example.com", Enabled: true},
	}
	s := NewRuleSource(initial)

	rules, version := s.Snapshot()
	if version != 0 {
		t.Errorf("initial version = %d, want 0", version)
	}
	if len(rules) != 1 {
		t.Fatalf("rules len = %d, want 1", len(rules))
	}
}

func TestRuleSourceReplaceBumpsVersion(t *testing.T) {
	s := NewRuleSource(nil)

	s.Replace([]scope.Rule{
		{RuleType: scope.Exclude, PatternType: scope.Wildcard, Target: scope.TargetPath, Pattern: "/health*", Enabled: true},
	})
	rules, version := s.Snapshot()
	if version != 1 {
		t.Errorf("version after one replace = %d, want 1", version)
	}
	if len(rules) != 1 {
		t.Fatalf("rules len = %d, want 1", len(rules))
	}

	s.Replace(nil)
	rules, version = s.Snapshot()
	if version != 2 {
		t.Errorf("version after second replace = %d, want 2", version)
	}
	if len(rules) != 0 {
		t.Errorf("rules len = %d, want 0", len(rules))
	}
}

func TestRuleSourceSnapshotIsolatedFromCallerMutation(t *testing.T) {
	initial := []scope.Rule{
		{RuleType: scope.Include, PatternType: scope.Wildcard, Target: scope.TargetHost, Pattern: "a.example.com", Enabled: true},
	}
	s := NewRuleSource(initial)

	// Mutating the caller's slice must not affect the published snapshot.
	initial[0].Pattern = "mutated"
	rules, _ := s.Snapshot()
	if rules[0].Pattern != "a.example.com" {
		t.Errorf("snapshot pattern = %q, want the original", rules[0].Pattern)
	}
}
