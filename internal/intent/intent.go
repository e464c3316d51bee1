// Package intent classifies user turns with deterministic rule tables:
// whether a message names a known problem, asks for help, or reports that a
// suggested fix worked. No model calls are involved, so the troubleshooting
// loop stays predictable and cheap.
package intent

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/marindock/shipmate/internal/catalog"
)

// rule is one labeled predicate in a classification table. Rules are
// evaluated in table order and the first match wins, so new phrasings can be
// added without touching control flow and tests can target a single rule.
type rule struct {
	name string
	re   *regexp.Regexp
}

var helpRules = []rule{
	{"how_to_fix", regexp.MustCompile(`how\s+(to|do\s+i)\s+(fix|solve|repair|troubleshoot)`)},
	{"repair_verb", regexp.MustCompile(`\b(fix|solve|repair|troubleshoot|diagnose)\b`)},
	{"issue_with", regexp.MustCompile(`\b(issue|problem|error|fault|failure)\s+with\b`)},
	{"not_working", regexp.MustCompile(`is\s+(not\s+working|failing|broken|down|acting\s+up)`)},
	{"help_with", regexp.MustCompile(`\b(help|assist|advice|guidance)\s+(me\s+)?(with|on)?\b`)},
	{"what_to_do", regexp.MustCompile(`what\s+to\s+do\s+(about|if|when)`)},
	{"can_you_help", regexp.MustCompile(`can\s+you\s+help`)},
}

var solvedRules = []rule{
	{"solved_word", regexp.MustCompile(`\b(solved|fixed|resolved|ok|okay|worked|working)\b`)},
	{"it_works", regexp.MustCompile(`\bit\s+works\b`)},
	{"problem_gone", regexp.MustCompile(`\bproblem\s+(is\s+)?gone\b`)},
	{"issue_fixed", regexp.MustCompile(`\bissue\s+fixed\b`)},
	{"did_the_trick", regexp.MustCompile(`\bthat\s+(did|fixed)\s+(it|the\s+trick)\b`)},
	{"leading_yes", regexp.MustCompile(`^(yes|yeah|yep|affirmative)\b`)},
	{"gratitude_worked", regexp.MustCompile(`(great|perfect|excellent|awesome|thanks|thank\s+you).*\b(it|that)\s+worked`)},
	{"all_good_now", regexp.MustCompile(`all\s+good\s+now`)},
	{"running_smoothly", regexp.MustCompile(`running\s+smoothly`)},
}

var negationPattern = regexp.MustCompile(`\b(no(t)?|didn'?t|doesn'?t|hasn'?t|haven'?t|isn'?t|aren't|can'?t|couldn'?t|still|yet)\b`)

// negatedSolvedPattern matches solved wording that is itself negated, such as
// "not fixed" or "isn't working". Those spans must not count as confirmation.
var negatedSolvedPattern = regexp.MustCompile(`\b(no(t)?|didn'?t|doesn'?t|hasn'?t|haven'?t|isn'?t|aren't|wasn'?t|can'?t|couldn'?t|never)\s+(solved|fixed|resolved|ok|okay|worked|working)\b`)

var notSolvedRules = []rule{
	{"not_solved", regexp.MustCompile(`\bnot\s+(solved|fixed|working|resolved|helping)\b`)},
	{"did_not_work", regexp.MustCompile(`\b(didn'?t|doesn'?t|did\s+not|does\s+not)\s+(work|help|fix|solve|change)\b`)},
	{"no_change", regexp.MustCompile(`\bno\s+(change|effect|luck|joy|difference)\b`)},
	{"still_having", regexp.MustCompile(`\bstill\s+(have|having|seeing)\s+(the\s+|an\s+)?(problem|issue|error)\b`)},
	{"same_problem", regexp.MustCompile(`\b(same|persistent)\s+(problem|issue)\b`)},
	{"leading_no", regexp.MustCompile(`^(no|nope|negative)\b`)},
	{"did_not_do_anything", regexp.MustCompile(`didn'?t\s+(do\s+)?(anything|it)`)},
	{"was_not_it", regexp.MustCompile(`that\s+wasn'?t\s+it`)},
}

// wordPattern extracts words of three or more characters for overlap scoring.
var wordPattern = regexp.MustCompile(`\b\w{3,}\b`)

// DetectProblem scans the query for a known catalog problem. Matching is
// case-insensitive and runs in three stages: exact match, longest substring
// containment, then word overlap requiring at least two shared words of three
// or more characters. Earlier catalog entries win ties, so results are stable
// across runs. Returns the problem name as recorded in the catalog.
func DetectProblem(query string, cat *catalog.Catalog) (string, bool) {
	if cat == nil || cat.Len() == 0 {
		return "", false
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return "", false
	}

	names := cat.Names()

	for _, name := range names {
		if strings.ToLower(name) == q {
			return name, true
		}
	}

	best := ""
	bestScore := 0
	for _, name := range names {
		if strings.Contains(q, strings.ToLower(name)) && len(name) > bestScore {
			bestScore = len(name)
			best = name
		}
	}

	if best == "" {
		queryWords := wordSet(q)
		// A single common word is too weak a signal to start troubleshooting.
		if len(queryWords) < 2 {
			return "", false
		}
		for _, name := range names {
			common := 0
			for w := range wordSet(strings.ToLower(name)) {
				if queryWords[w] {
					common++
				}
			}
			if common >= 2 && common > bestScore {
				bestScore = common
				best = name
			}
		}
	}

	if best == "" {
		return "", false
	}
	slog.Debug("matched known problem", "problem", best, "query", query)
	return best, true
}

func wordSet(s string) map[string]bool {
	words := wordPattern.FindAllString(s, -1)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// IsAskingForHelp reports whether the text reads like a request for help or
// a problem report.
func IsAskingForHelp(text string) bool {
	_, ok := matchRule(helpRules, strings.ToLower(text))
	return ok
}

// IsProblemSolved reports whether the text confirms the problem is fixed.
// Negated phrases ("not fixed yet", "still broken") are rejected, and a bare
// "no"/"nope" always reads as not solved. A solved phrase outside the negated
// span overrides the negation, so "it was not working, but now it is working"
// still counts as solved.
func IsProblemSolved(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))

	if negationPattern.MatchString(t) {
		if t == "no" || t == "nope" {
			return false
		}
		_, ok := matchRule(solvedRules, negatedSolvedPattern.ReplaceAllString(t, ""))
		return ok
	}

	_, ok := matchRule(solvedRules, t)
	return ok
}

// IsProblemNotSolved reports whether the text says the fix did not work.
// A text that reads as solved never reads as not solved.
func IsProblemNotSolved(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if IsProblemSolved(t) {
		return false
	}
	_, ok := matchRule(notSolvedRules, t)
	return ok
}

// matchRule returns the name of the first rule in the table matching text.
func matchRule(rules []rule, text string) (string, bool) {
	for _, r := range rules {
		if r.re.MatchString(text) {
			return r.name, true
		}
	}
	return "", false
}
