package scope

import "testing"

func TestExcludeOverridesInclude(t *testing.T) {
	rules := []Rule{
		{RuleType: Include, PatternType: Wildcard, Target: TargetHost, Pattern: "*.example.com", Enabled: true},
		{RuleType: Exclude, PatternType: Wildcard, Target: TargetHost, Pattern: "api.example.com", Enabled: true},
	}
	if IsInScope(rules, "api.example.com", "/") {
		t.Fatalf("expected exclude to override include")
	}
}

func TestIncludeMatchesWhenPresent(t *testing.T) {
	rules := []Rule{
		{RuleType: Include, PatternType: Wildcard, Target: TargetHost, Pattern: "*.example.com", Enabled: true},
	}
	if !IsInScope(rules, "api.example.com", "/") {
		t.Fatalf("expected host to match wildcard include")
	}
}

func TestNoRulesMeansOutOfScope(t *testing.T) {
	if IsInScope(nil, "example.com", "/") {
		t.Fatalf("expected no rules to mean out of scope")
	}
}

func TestDisabledRuleIsSkipped(t *testing.T) {
	rules := []Rule{
		{RuleType: Exclude, PatternType: Wildcard, Target: TargetHost, Pattern: "*.example.com", Enabled: false},
		{RuleType: Include, PatternType: Wildcard, Target: TargetHost, Pattern: "*.example.com", Enabled: true},
	}
	if !IsInScope(rules, "api.example.com", "/") {
		t.Fatalf("expected disabled exclude rule to be ignored")
	}
}

func TestWildcardMiddleSegmentsInOrder(t *testing.T) {
	rules := []Rule{
		{RuleType: Include, PatternType: Wildcard, Target: TargetPath, Pattern: "/api/*/users/*", Enabled: true},
	}
	if !IsInScope(rules, "example.com", "/api/v1/users/42") {
		t.Fatalf("expected multi-segment wildcard to match")
	}
	if IsInScope(rules, "example.com", "/api/v1/users") {
		t.Fatalf("expected path missing the trailing segment to not match")
	}
}

func TestWildcardRequiresSuffixWhenNotTrailingStar(t *testing.T) {
	rules := []Rule{
		{RuleType: Include, PatternType: Wildcard, Target: TargetPath, Pattern: "/static/*.js", Enabled: true},
	}
	if !IsInScope(rules, "example.com", "/static/app.js") {
		t.Fatalf("expected .js suffix to match")
	}
	if IsInScope(rules, "example.com", "/static/app.css") {
		t.Fatalf("expected non-.js suffix to not match")
	}
}

func TestRegexTarget(t *testing.T) {
	rules := []Rule{
		{RuleType: Include, PatternType: Regex, Target: TargetHost, Pattern: `^([a-z]+\.)?example\.com$`, Enabled: true},
	}
	if !IsInScope(rules, "example.com", "/") {
		t.Fatalf("expected bare domain to match regex")
	}
	if !IsInScope(rules, "api.example.com", "/") {
		t.Fatalf("expected subdomain to match regex")
	}
	if IsInScope(rules, "evil-example.com", "/") {
		t.Fatalf("expected non-matching host to stay out of scope")
	}
}

func TestMalformedRegexNeverMatches(t *testing.T) {
	rules := []Rule{
		{RuleType: Include, PatternType: Regex, Target: TargetHost, Pattern: "(unterminated", Enabled: true},
	}
	if IsInScope(rules, "example.com", "/") {
		t.Fatalf("expected a malformed regex rule to never match, not error")
	}
}

func TestPathTargetIndependentOfHost(t *testing.T) {
	rules := []Rule{
		{RuleType: Include, PatternType: Wildcard, Target: TargetHost, Pattern: "*.example.com", Enabled: true},
		{RuleType: Exclude, PatternType: Wildcard, Target: TargetPath, Pattern: "/admin/*", Enabled: true},
	}
	if IsInScope(rules, "api.example.com", "/admin/users") {
		t.Fatalf("expected path-targeted exclude to override host-targeted include")
	}
	if !IsInScope(rules, "api.example.com", "/v1/users") {
		t.Fatalf("expected non-admin path to remain in scope")
	}
}
