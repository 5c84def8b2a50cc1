package rulekit

import "testing"

func TestCompile_InvalidGlob(t *testing.T) {
	_, err := Compile([]PathRule{{Pattern: "[", Tag: "bad"}}, nil)
	if err == nil {
		t.Fatal("expected error for invalid glob pattern")
	}
}

func TestCompile_InvalidRegex(t *testing.T) {
	_, err := Compile(nil, []RegexRule{{Pattern: "(", Tag: "bad"}})
	if err == nil {
		t.Fatal("expected error for invalid regex pattern")
	}
}

func TestMatchPath(t *testing.T) {
	m, err := Compile([]PathRule{
		{Pattern: "/admin/**", Tag: "admin"},
		{Pattern: "*.env", Tag: "dotenv"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	tag, ok := m.MatchPath("/admin/users")
	if !ok || tag != "admin" {
		t.Errorf("expected admin match, got %q, %v", tag, ok)
	}

	tag, ok = m.MatchPath(".env")
	if !ok || tag != "dotenv" {
		t.Errorf("expected dotenv match, got %q, %v", tag, ok)
	}

	if _, ok := m.MatchPath("/public/index.html"); ok {
		t.Error("expected no match for unrelated path")
	}
}

func TestMatchPath_FirstWins(t *testing.T) {
	m, err := Compile([]PathRule{
		{Pattern: "/api/**", Tag: "first"},
		{Pattern: "/api/**", Tag: "second"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	tag, _ := m.MatchPath("/api/v1/flag")
	if tag != "first" {
		t.Errorf("expected first declared rule to win, got %q", tag)
	}
}

func TestMatchRegex(t *testing.T) {
	m, err := Compile(nil, []RegexRule{
		{Pattern: `flag\{[a-f0-9]+\}`, Tag: "flag"},
	})
	if err != nil {
		t.Fatal(err)
	}

	tag, ok := m.MatchRegex("response: flag{deadbeef} captured")
	if !ok || tag != "flag" {
		t.Errorf("expected flag match, got %q, %v", tag, ok)
	}

	if _, ok := m.MatchRegex("nothing interesting here"); ok {
		t.Error("expected no match")
	}
}

func TestFindAllRegex(t *testing.T) {
	m, err := Compile(nil, []RegexRule{
		{Pattern: `flag\{[a-f0-9]+\}`, Tag: "flag"},
	})
	if err != nil {
		t.Fatal(err)
	}

	matches := m.FindAllRegex("flag", "flag{aaa} and flag{bbb}")
	if len(matches) != 2 {
		t.Errorf("expected 2 matches, got %d: %v", len(matches), matches)
	}
}

func TestFindAllRegex_UnknownTag(t *testing.T) {
	m, err := Compile(nil, []RegexRule{{Pattern: `x`, Tag: "x"}})
	if err != nil {
		t.Fatal(err)
	}
	if matches := m.FindAllRegex("nope", "xxxx"); matches != nil {
		t.Errorf("expected nil for unknown tag, got %v", matches)
	}
}

func TestMatcher_NilSafe(t *testing.T) {
	var m *Matcher
	if _, ok := m.MatchPath("/anything"); ok {
		t.Error("nil matcher should report no match")
	}
	if _, ok := m.MatchRegex("anything"); ok {
		t.Error("nil matcher should report no match")
	}
	if matches := m.FindAllRegex("tag", "anything"); matches != nil {
		t.Error("nil matcher FindAllRegex should return nil")
	}
}

func TestContainsAnyFold(t *testing.T) {
	if !ContainsAnyFold("this is EVIL content", []string{"evil", "malicious"}) {
		t.Error("expected case-insensitive match on 'EVIL'")
	}
	if ContainsAnyFold("benign content", []string{"evil", "malicious"}) {
		t.Error("expected no match")
	}
}
