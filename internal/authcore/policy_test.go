package authcore

import "testing"

func TestMatchesPattern_Wildcard(t *testing.T) {
	if !MatchesPattern("*", "anything.at.all") {
		t.Fatal("bare * should match anything")
	}
}

func TestMatchesPattern_SingleSegmentStar(t *testing.T) {
	cases := []struct {
		pattern, value string
		want           bool
	}{
		{"tool.*.execute", "tool.run_command.execute", true},
		{"tool.*.execute", "tool.a.b.execute", false}, // star must not cross a dot
		{"tool.rm.execute", "tool.rm.execute", true},
		{"tool.rm.execute", "tool.ls.execute", false},
		{"fs.*.read", "fs.var.read", true},
		{"fs.*.read", "fs.var.log.read", false},
	}
	for _, c := range cases {
		if got := MatchesPattern(c.pattern, c.value); got != c.want {
			t.Errorf("MatchesPattern(%q, %q) = %v, want %v", c.pattern, c.value, got, c.want)
		}
	}
}

func TestMatchesPattern_LiteralEquality(t *testing.T) {
	if MatchesPattern("exact.literal", "exact.literal.extra") {
		t.Fatal("literal pattern should not match a longer string")
	}
	if !MatchesPattern("exact.literal", "exact.literal") {
		t.Fatal("literal pattern should match itself")
	}
}

func TestMatchesPattern_RegexMetacharactersAreLiteral(t *testing.T) {
	if MatchesPattern("tool.a+b.execute", "tool.aXb.execute") {
		t.Fatal("regex metacharacters in the pattern must be treated literally, not as regex syntax")
	}
	if !MatchesPattern("tool.a+b.execute", "tool.a+b.execute") {
		t.Fatal("a pattern containing a literal '+' should match itself")
	}
}
