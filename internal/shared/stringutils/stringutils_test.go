package stringutils

import "testing"

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("short string must pass through, got %q", got)
	}
	if got := Truncate("hello", 5); got != "hello" {
		t.Errorf("exact length must pass through, got %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Errorf("expected %q, got %q", "hello...", got)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"a  b", "a b"},
		{"a\nb\tc", "a b c"},
		{"  padded  ", "padded"},
		{"one\n\n\ntwo", "one two"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CollapseWhitespace(tc.in); got != tc.want {
			t.Errorf("CollapseWhitespace(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
