package websearch

import "testing"

func TestStripHTML(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "Check the impeller.", "Check the impeller."},
		{"tags removed", "<p>Check the <b>impeller</b></p>", "Check the impeller"},
		{"entities unescaped", "oil &amp; fuel filters", "oil & fuel filters"},
		{"script dropped", "<script>var x = 1;</script>Drain the line", "Drain the line"},
		{"nested markup", "<div><ul><li>Step one</li><li>Step two</li></ul></div>", "Step one Step two"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripHTML(tc.in); got != tc.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
