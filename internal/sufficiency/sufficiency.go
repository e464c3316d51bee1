// Package sufficiency judges whether a generated answer is specific enough
// to present on its own, or whether the caller should escalate to a fallback
// strategy. The judge is deliberately recall-oriented: rejecting a good
// answer only costs an extra search, while accepting a vague one costs the
// user a useless reply.
package sufficiency

import (
	"log/slog"
	"regexp"
	"strings"
)

// minSufficientLength flags suspiciously short answers in the logs. Length
// alone never fails an answer, short denials are caught by the rule table
// and short specific answers ("Check the impeller.") are fine.
const minSufficientLength = 50

// rule is one labeled insufficiency predicate. Rules are evaluated in table
// order and the first match wins; the name identifies the rule in logs and
// lets tests target a single phrasing.
type rule struct {
	name string
	re   *regexp.Regexp
}

// insufficiencyRules matches hedging or explicit admissions that the
// retrieved context lacked the answer. Matched against lower-cased text.
var insufficiencyRules = []rule{
	{"no_specific_details", regexp.MustCompile(`couldn't find specific details`)},
	{"no_information_found", regexp.MustCompile(`could not find information`)},
	{"no_specific_information", regexp.MustCompile(`do not have specific information`)},
	{"information_unavailable", regexp.MustCompile(`information is not available`)},
	{"cant_per_documents", regexp.MustCompile(`based on the provided documents?.?.? i can't`)},
	{"no_specific_steps", regexp.MustCompile(`unable to provide specific steps`)},
	{"no_mention", regexp.MustCompile(`no mention of`)},
	{"documents_dont_cover", regexp.MustCompile(`documents? don't cover`)},
	{"general_information", regexp.MustCompile(`general information`)},
	{"general_advice_only", regexp.MustCompile(`i can only provide general advice`)},
	{"hedging_might_be", regexp.MustCompile(`it might be`)},
	{"hedging_possible_causes", regexp.MustCompile(`possible causes could include`)},
	{"deflects_to_manual", regexp.MustCompile(`recommend consulting the manual`)},
	{"deflects_to_procedures", regexp.MustCompile(`refer to standard procedures`)},
	{"cannot_answer", regexp.MustCompile(`i cannot answer`)},
	{"not_enough_information", regexp.MustCompile(`don't have enough information`)},
	{"does_not_know", regexp.MustCompile(`therefore,? i don't know`)},
	{"apologetic_documents", regexp.MustCompile(`i am sorry,? but the provided documents?`)},
	{"documents_lack_information", regexp.MustCompile(`documents? provided do not contain information`)},
	{"limited_to_own_knowledge", regexp.MustCompile(`based on the information i have`)},
	{"no_access_to_topic", regexp.MustCompile(`i don't have access to information about that`)},
	{"kb_missing_details", regexp.MustCompile(`my knowledge base doesn't include details on`)},
	{"nothing_relevant_in_context", regexp.MustCompile(`unable to find relevant information in the context`)},
	{"context_does_not_answer", regexp.MustCompile(`the context provided does not answer`)},
	{"retrieval_unrelated", regexp.MustCompile(`the retrieved documents? seem unrelated`)},
	{"lacks_specific_data", regexp.MustCompile(`i lack the specific data`)},
}

// IsSufficient reports whether the answer text is specific enough to present
// without a fallback attempt. Empty text is never sufficient.
func IsSufficient(answer string) bool {
	if strings.TrimSpace(answer) == "" {
		slog.Warn("sufficiency check: answer is empty")
		return false
	}

	if len(answer) < minSufficientLength {
		slog.Warn("sufficiency check: answer is short", "length", len(answer), "min", minSufficientLength)
	}

	if name, ok := matchRule(strings.ToLower(answer)); ok {
		slog.Warn("sufficiency check: insufficiency rule matched", "rule", name)
		return false
	}

	slog.Debug("sufficiency check: answer seems specific")
	return true
}

// matchRule returns the name of the first insufficiency rule matching text.
func matchRule(text string) (string, bool) {
	for _, r := range insufficiencyRules {
		if r.re.MatchString(text) {
			return r.name, true
		}
	}
	return "", false
}
