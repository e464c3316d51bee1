package sufficiency

import "testing"

func TestIsSufficient(t *testing.T) {
	cases := []struct {
		name   string
		answer string
		want   bool
	}{
		{
			name:   "empty",
			answer: "",
			want:   false,
		},
		{
			name:   "whitespace only",
			answer: "   \n",
			want:   false,
		},
		{
			name:   "explicit admission",
			answer: "I don't have enough information about that system.",
			want:   false,
		},
		{
			name:   "actionable steps",
			answer: "Step 1: Replace the fuel filter. Step 2: Bleed the line.",
			want:   true,
		},
		{
			name:   "short but specific",
			answer: "Check the impeller.",
			want:   true,
		},
		{
			name:   "hedging",
			answer: "It might be the thermostat, hard to say.",
			want:   false,
		},
		{
			name:   "deflects to manual",
			answer: "I would recommend consulting the manual for this model.",
			want:   false,
		},
		{
			name:   "case insensitive",
			answer: "I CANNOT ANSWER that with the current knowledge base.",
			want:   false,
		},
		{
			name:   "documents do not cover",
			answer: "The documents don't cover winterization procedures.",
			want:   false,
		},
		{
			name:   "provided documents with punctuation",
			answer: "Based on the provided documents, I can't determine the cause.",
			want:   false,
		},
		{
			name:   "unrelated retrieval",
			answer: "The retrieved documents seem unrelated to your question.",
			want:   false,
		},
		{
			name:   "detailed answer",
			answer: "Open the seacock, remove the strainer lid and clear any debris from the basket. Reassemble and confirm water flow at the exhaust.",
			want:   true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsSufficient(tc.answer); got != tc.want {
				t.Errorf("IsSufficient(%q) = %v, want %v", tc.answer, got, tc.want)
			}
		})
	}
}

// Matches are attributed to a named rule so a misfiring phrasing can be
// traced from the logs back to one table entry.
func TestRuleAttribution(t *testing.T) {
	cases := []struct {
		answer string
		rule   string
	}{
		{"it might be the thermostat", "hedging_might_be"},
		{"the retrieved documents seem unrelated to your question", "retrieval_unrelated"},
		{"i would recommend consulting the manual", "deflects_to_manual"},
	}
	for _, tc := range cases {
		name, ok := matchRule(tc.answer)
		if !ok || name != tc.rule {
			t.Errorf("matchRule(%q) = %q, %v, want %q", tc.answer, name, ok, tc.rule)
		}
	}
}
