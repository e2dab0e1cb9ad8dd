package heartbeat

import "testing"

func TestHasActiveTasks(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    bool
	}{
		{"empty file", "", false},
		{"only whitespace", "  \n\t\n  ", false},
		{"only comments", "<!-- nothing to do -->\n<!-- still nothing -->", false},
		{"only headings", "# Tasks\n## Today", false},
		{"only unchecked boxes", "- [ ] write report\n- [ ] call back", false},
		{"boilerplate mix", "# Tasks\n<!-- fill in below -->\n- [ ] someday\n", false},
		{"checked box counts", "- [x] done yesterday", true},
		{"plain task line", "follow up with the vendor", true},
		{"task after boilerplate", "# Tasks\n- [ ] later\ncheck the deploy logs", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := hasActiveTasks(tc.content); got != tc.want {
				t.Errorf("hasActiveTasks(%q) = %v, want %v", tc.content, got, tc.want)
			}
		})
	}
}
