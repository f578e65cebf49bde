package util

import "testing"

func TestCompositeAndPrefix(t *testing.T) {
	if got := Composite("exam-1", "q1"); got != "exam-1:q1" {
		t.Fatalf("Composite = %q", got)
	}
	if got := Prefix("exam-1"); got != "exam-1:" {
		t.Fatalf("Prefix = %q", got)
	}
}

func TestGlobEscape(t *testing.T) {
	cases := map[string]string{
		"plain":   "plain",
		"a*b":     `a\*b`,
		"q?[1]":   `q\?\[1\]`,
		`back\sl`: `back\\sl`,
	}
	for in, want := range cases {
		if got := GlobEscape(in); got != want {
			t.Fatalf("GlobEscape(%q) = %q want %q", in, got, want)
		}
	}
}
