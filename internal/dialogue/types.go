package dialogue

// State tracks an active troubleshooting session across turns. The caller
// stores it between requests; the engine treats it as input and returns the
// updated value with every response. The zero value means no session.
type State struct {
	IsActive       bool   `json:"is_active"`
	CurrentProblem string `json:"current_problem"`
	CurrentStep    int    `json:"current_step"`
}

// Turn is one conversation message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one user turn plus the caller-held conversation state.
type Request struct {
	Prompt         string `json:"prompt"`
	History        []Turn `json:"history"`
	State          State  `json:"troubleshooting_state"`
	ForceWebSearch bool   `json:"force_web_search"`
}

// Response is a processed turn. Answer is never empty and Source is never
// unset; History carries the user turn and the assistant turn appended to
// the request history.
type Response struct {
	Answer         string `json:"answer"`
	History        []Turn `json:"history"`
	State          State  `json:"troubleshooting_state"`
	OfferWebSearch bool   `json:"offer_web_search"`
	Source         string `json:"final_answer_source"`

	// Diagnostic fields for the interaction log, not part of the wire format.
	// Problem names the troubleshooting problem this turn dealt with, set
	// even when the closing turn resets the state.
	Strategy      string `json:"-"`
	ContextPrompt string `json:"-"`
	Problem       string `json:"-"`
}
