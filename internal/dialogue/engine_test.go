package dialogue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/marindock/shipmate/internal/catalog"
	"github.com/marindock/shipmate/internal/engine"
	"github.com/marindock/shipmate/internal/fallback"
)

// specificAnswer passes the sufficiency check; hedgedAnswer fails it.
const (
	specificAnswer = "Check the coolant level in the header tank and inspect the raw water strainer for debris before restarting the engine."
	hedgedAnswer   = "I couldn't find specific details about that in the internal documents."
)

type mockKnowledge struct {
	answerFn func(ctx context.Context, prompt string, history []engine.Message) (string, error)
	prompts  []string
	histLens []int
}

func (m *mockKnowledge) Answer(ctx context.Context, prompt string, history []engine.Message) (string, error) {
	m.prompts = append(m.prompts, prompt)
	m.histLens = append(m.histLens, len(history))
	if m.answerFn != nil {
		return m.answerFn(ctx, prompt, history)
	}
	return specificAnswer, nil
}

// failingKnowledge fails the test if the knowledge base is consulted at all.
func failingKnowledge(t *testing.T) *mockKnowledge {
	t.Helper()
	return &mockKnowledge{answerFn: func(context.Context, string, []engine.Message) (string, error) {
		t.Fatal("knowledge base should not be consulted")
		return "", nil
	}}
}

type mockFallback struct {
	enabled bool
	runFn   func(ctx context.Context, query string) (string, string)
	queries []string
}

func (m *mockFallback) Enabled() bool { return m.enabled }

func (m *mockFallback) Run(ctx context.Context, query string) (string, string) {
	m.queries = append(m.queries, query)
	if m.runFn != nil {
		return m.runFn(ctx, query)
	}
	return "I searched the web, but couldn't find any relevant results for your query.", fallback.SourceNoResults
}

func testHandle(t *testing.T) *catalog.Handle {
	t.Helper()
	h := catalog.NewHandle()
	h.Replace(catalog.New([]catalog.Record{
		catalog.NewRecord("Engine Overheating", "Low coolant level",
			"Check the coolant level and top up if low.",
			"Inspect the raw water intake for blockage.",
			"Check the impeller for wear."),
		catalog.NewRecord("Bilge Pump Not Working", "N/A",
			"Check the float switch for debris."),
		catalog.NewRecord("Radio Static", "Loose antenna connector"),
	}))
	return h
}

func activeState(problem string, step int) State {
	return State{IsActive: true, CurrentProblem: problem, CurrentStep: step}
}

func TestProcessTurn_StartTroubleshooting(t *testing.T) {
	e := NewEngine(testHandle(t), failingKnowledge(t), nil)

	resp := e.ProcessTurn(context.Background(), Request{Prompt: "How do I fix Engine Overheating?"})

	want := "Okay, let's start troubleshooting for **'Engine Overheating'**. (Possible Cause: *Low coolant level*)\n\n" +
		"**Step 1: Check the coolant level and top up if low.**\n\n" +
		"Please perform this step and tell me if it solved the problem."
	if resp.Answer != want {
		t.Errorf("Answer = %q, want %q", resp.Answer, want)
	}
	if resp.Source != "Troubleshooting Start" {
		t.Errorf("Source = %q", resp.Source)
	}
	if got := activeState("Engine Overheating", 1); resp.State != got {
		t.Errorf("State = %+v, want %+v", resp.State, got)
	}
	if resp.Strategy != "start_troubleshooting" {
		t.Errorf("Strategy = %q", resp.Strategy)
	}
	if resp.Problem != "Engine Overheating" {
		t.Errorf("Problem = %q", resp.Problem)
	}
	if resp.OfferWebSearch {
		t.Error("OfferWebSearch should be false for a normal start")
	}
}

func TestProcessTurn_StartWithoutCause(t *testing.T) {
	// "N/A" in the cause column must not surface in the opening message.
	e := NewEngine(testHandle(t), failingKnowledge(t), nil)

	resp := e.ProcessTurn(context.Background(), Request{Prompt: "help with bilge pump not working"})

	want := "Okay, let's start troubleshooting for **'Bilge Pump Not Working'**. \n\n" +
		"**Step 1: Check the float switch for debris.**\n\n" +
		"Please perform this step and tell me if it solved the problem."
	if resp.Answer != want {
		t.Errorf("Answer = %q, want %q", resp.Answer, want)
	}
	if got := activeState("Bilge Pump Not Working", 1); resp.State != got {
		t.Errorf("State = %+v, want %+v", resp.State, got)
	}
}

func TestProcessTurn_StartWithoutSteps(t *testing.T) {
	tests := []struct {
		name       string
		fb         Fallback
		wantAnswer string
		wantOffer  bool
	}{
		{
			name:       "web search enabled",
			fb:         &mockFallback{enabled: true},
			wantAnswer: "I found **'Radio Static'** in the guide, but there are no specific solution steps listed.\n\nWould you like me to search the web?",
			wantOffer:  true,
		},
		{
			name:       "web search disabled",
			fb:         nil,
			wantAnswer: "I found **'Radio Static'** in the guide, but there are no specific solution steps listed.",
			wantOffer:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(testHandle(t), failingKnowledge(t), tt.fb)
			resp := e.ProcessTurn(context.Background(), Request{Prompt: "can you help with radio static"})

			if resp.Answer != tt.wantAnswer {
				t.Errorf("Answer = %q, want %q", resp.Answer, tt.wantAnswer)
			}
			if resp.Source != "Troubleshooting No Steps" {
				t.Errorf("Source = %q", resp.Source)
			}
			if resp.OfferWebSearch != tt.wantOffer {
				t.Errorf("OfferWebSearch = %v, want %v", resp.OfferWebSearch, tt.wantOffer)
			}
			if resp.State != (State{}) {
				t.Errorf("State = %+v, want reset", resp.State)
			}
		})
	}
}

func TestProcessTurn_StartRequiresBothSignals(t *testing.T) {
	// Naming a problem without asking for help, or asking for help without a
	// known problem, goes to the knowledge base instead of the state machine.
	prompts := []string{
		"Engine Overheating",
		"can you help me with the anchor winch",
	}

	for _, prompt := range prompts {
		t.Run(prompt, func(t *testing.T) {
			knowledge := &mockKnowledge{}
			e := NewEngine(testHandle(t), knowledge, nil)

			resp := e.ProcessTurn(context.Background(), Request{Prompt: prompt})

			if resp.Strategy != "rag" {
				t.Errorf("Strategy = %q, want rag", resp.Strategy)
			}
			if len(knowledge.prompts) != 1 || knowledge.prompts[0] != prompt {
				t.Errorf("knowledge prompts = %v, want [%q]", knowledge.prompts, prompt)
			}
			if resp.State.IsActive {
				t.Error("no troubleshooting session should have started")
			}
		})
	}
}

func TestProcessTurn_EmptyCatalogSkipsDetection(t *testing.T) {
	knowledge := &mockKnowledge{}
	e := NewEngine(catalog.NewHandle(), knowledge, nil)

	resp := e.ProcessTurn(context.Background(), Request{Prompt: "How do I fix Engine Overheating?"})

	if resp.Strategy != "rag" {
		t.Errorf("Strategy = %q, want rag", resp.Strategy)
	}
	if resp.Answer != specificAnswer {
		t.Errorf("Answer = %q", resp.Answer)
	}
}

func TestProcessTurn_NextStep(t *testing.T) {
	e := NewEngine(testHandle(t), failingKnowledge(t), nil)

	resp := e.ProcessTurn(context.Background(), Request{
		Prompt: "no, still overheating",
		State:  activeState("Engine Overheating", 1),
	})

	want := "Okay, let's try the next step for **'Engine Overheating'**:\n\n" +
		"**Step 2: Inspect the raw water intake for blockage.**\n\n" +
		"Please try this and let me know if it solved the problem."
	if resp.Answer != want {
		t.Errorf("Answer = %q, want %q", resp.Answer, want)
	}
	if resp.Source != "Troubleshooting Step" {
		t.Errorf("Source = %q", resp.Source)
	}
	if got := activeState("Engine Overheating", 2); resp.State != got {
		t.Errorf("State = %+v, want %+v", resp.State, got)
	}
	if resp.Strategy != "next_step" {
		t.Errorf("Strategy = %q", resp.Strategy)
	}
}

func TestProcessTurn_StepsExhausted(t *testing.T) {
	base := "We've tried all the documented steps for **'Engine Overheating'**.\n\n" +
		"I couldn't resolve it with the internal guide."

	tests := []struct {
		name       string
		fb         Fallback
		wantAnswer string
		wantOffer  bool
	}{
		{
			name:       "web search enabled",
			fb:         &mockFallback{enabled: true},
			wantAnswer: base + "\n\nWould you like me to search the web for additional insights?",
			wantOffer:  true,
		},
		{
			name:       "web search disabled",
			fb:         nil,
			wantAnswer: base,
			wantOffer:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(testHandle(t), failingKnowledge(t), tt.fb)
			resp := e.ProcessTurn(context.Background(), Request{
				Prompt: "nope",
				State:  activeState("Engine Overheating", 3),
			})

			if resp.Answer != tt.wantAnswer {
				t.Errorf("Answer = %q, want %q", resp.Answer, tt.wantAnswer)
			}
			if resp.Source != "Troubleshooting End" {
				t.Errorf("Source = %q", resp.Source)
			}
			if resp.OfferWebSearch != tt.wantOffer {
				t.Errorf("OfferWebSearch = %v, want %v", resp.OfferWebSearch, tt.wantOffer)
			}
			if resp.State != (State{}) {
				t.Errorf("State = %+v, want reset", resp.State)
			}
		})
	}
}

func TestProcessTurn_Solved(t *testing.T) {
	e := NewEngine(testHandle(t), failingKnowledge(t), nil)

	resp := e.ProcessTurn(context.Background(), Request{
		Prompt: "yes, that fixed it!",
		State:  activeState("Engine Overheating", 2),
	})

	want := "Excellent! Glad to hear the issue with **'Engine Overheating'** is resolved. How else can I help?"
	if resp.Answer != want {
		t.Errorf("Answer = %q, want %q", resp.Answer, want)
	}
	if resp.Source != "Troubleshooting Solved" {
		t.Errorf("Source = %q", resp.Source)
	}
	if resp.State != (State{}) {
		t.Errorf("State = %+v, want reset", resp.State)
	}
	if resp.Strategy != "solved" {
		t.Errorf("Strategy = %q", resp.Strategy)
	}
	if resp.Problem != "Engine Overheating" {
		t.Errorf("Problem = %q", resp.Problem)
	}
}

func TestProcessTurn_QuestionMidTroubleshooting(t *testing.T) {
	knowledge := &mockKnowledge{}
	e := NewEngine(testHandle(t), knowledge, nil)

	state := activeState("Engine Overheating", 2)
	resp := e.ProcessTurn(context.Background(), Request{
		Prompt: "what does the impeller do",
		State:  state,
	})

	annotated := "Context: Currently troubleshooting ship problem 'Engine Overheating' (last suggested step was 2). User asks: what does the impeller do"
	if len(knowledge.prompts) != 1 || knowledge.prompts[0] != annotated {
		t.Errorf("knowledge prompts = %v, want [%q]", knowledge.prompts, annotated)
	}
	if resp.Answer != specificAnswer {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if resp.Source != "Internal Knowledge (RAG)" {
		t.Errorf("Source = %q", resp.Source)
	}
	if resp.State != state {
		t.Errorf("State = %+v, want unchanged %+v", resp.State, state)
	}
	if resp.Strategy != "rag_troubleshooting_context" {
		t.Errorf("Strategy = %q", resp.Strategy)
	}
	if resp.ContextPrompt != annotated {
		t.Errorf("ContextPrompt = %q", resp.ContextPrompt)
	}
}

func TestProcessTurn_FallbackGetsOriginalPrompt(t *testing.T) {
	// The annotated prompt is for retrieval only; a web search engine would
	// choke on the context preamble.
	knowledge := &mockKnowledge{answerFn: func(context.Context, string, []engine.Message) (string, error) {
		return hedgedAnswer, nil
	}}
	fb := &mockFallback{enabled: true, runFn: func(_ context.Context, _ string) (string, string) {
		return "Impellers push raw water through the cooling loop.", fallback.SourceSynthesis
	}}
	e := NewEngine(testHandle(t), knowledge, fb)

	prompt := "how long should the flush take"
	e.ProcessTurn(context.Background(), Request{
		Prompt: prompt,
		State:  activeState("Engine Overheating", 1),
	})

	if len(knowledge.prompts) != 1 || !strings.HasPrefix(knowledge.prompts[0], "Context: Currently troubleshooting") {
		t.Errorf("knowledge prompts = %v, want annotated prompt", knowledge.prompts)
	}
	if len(fb.queries) != 1 || fb.queries[0] != prompt {
		t.Errorf("fallback queries = %v, want [%q]", fb.queries, prompt)
	}
}

func TestProcessTurn_SufficientAnswerSkipsFallback(t *testing.T) {
	knowledge := &mockKnowledge{}
	fb := &mockFallback{enabled: true}
	e := NewEngine(testHandle(t), knowledge, fb)

	resp := e.ProcessTurn(context.Background(), Request{Prompt: "What oil grade does the generator take?"})

	if resp.Answer != specificAnswer {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if resp.Source != "Internal Knowledge (RAG)" {
		t.Errorf("Source = %q", resp.Source)
	}
	if len(fb.queries) != 0 {
		t.Errorf("fallback should not run for a sufficient answer, got queries %v", fb.queries)
	}
}

func TestProcessTurn_InsufficientAnswerTriggersFallback(t *testing.T) {
	knowledge := &mockKnowledge{answerFn: func(context.Context, string, []engine.Message) (string, error) {
		return hedgedAnswer, nil
	}}
	fb := &mockFallback{enabled: true, runFn: func(_ context.Context, _ string) (string, string) {
		return "Marine diesel generators typically take 15W-40 oil.", fallback.SourceSynthesis
	}}
	e := NewEngine(testHandle(t), knowledge, fb)

	resp := e.ProcessTurn(context.Background(), Request{Prompt: "What oil grade does the generator take?"})

	if resp.Answer != "Marine diesel generators typically take 15W-40 oil." {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if resp.Source != fallback.SourceSynthesis {
		t.Errorf("Source = %q", resp.Source)
	}
	if len(fb.queries) != 1 {
		t.Errorf("fallback queries = %v, want exactly one", fb.queries)
	}
}

func TestProcessTurn_RetrievalFailureBlocksFallback(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantAnswer string
		wantSource string
	}{
		{
			name:       "rate limited",
			err:        &statusErr{code: 429, delay: 30 * time.Second},
			wantAnswer: "The AI service is temporarily busy due to high demand. Please try again in about 30 seconds.",
			wantSource: "Error (Rate Limited)",
		},
		{
			name:       "rate limited without hint",
			err:        &statusErr{code: 429},
			wantAnswer: "The AI service is temporarily busy due to high demand. Please try again later.",
			wantSource: "Error (Rate Limited)",
		},
		{
			name:       "generic failure",
			err:        errors.New("something broke"),
			wantAnswer: "Sorry, an error occurred while retrieving information from the knowledge base (RequestFailed).",
			wantSource: "Error (RAG Failure)",
		},
		{
			name:       "backend unavailable",
			err:        engine.ErrNoEngine,
			wantAnswer: "Sorry, an error occurred while retrieving information from the knowledge base (BackendUnavailable).",
			wantSource: "Error (RAG Failure)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			knowledge := &mockKnowledge{answerFn: func(context.Context, string, []engine.Message) (string, error) {
				return "", tt.err
			}}
			fb := &mockFallback{enabled: true}
			e := NewEngine(testHandle(t), knowledge, fb)

			resp := e.ProcessTurn(context.Background(), Request{Prompt: "What oil grade does the generator take?"})

			if resp.Answer != tt.wantAnswer {
				t.Errorf("Answer = %q, want %q", resp.Answer, tt.wantAnswer)
			}
			if resp.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", resp.Source, tt.wantSource)
			}
			if len(fb.queries) != 0 {
				t.Errorf("fallback must not run after a retrieval failure, got queries %v", fb.queries)
			}
		})
	}
}

func TestProcessTurn_InsufficientWithWebSearchDisabled(t *testing.T) {
	tests := []struct {
		name       string
		ragAnswer  string
		wantAnswer string
	}{
		{
			name:       "partial internal answer",
			ragAnswer:  hedgedAnswer,
			wantAnswer: hedgedAnswer + "\n\n_(Internal knowledge was limited, and web search is currently unavailable.)_",
		},
		{
			name:       "no internal answer",
			ragAnswer:  "",
			wantAnswer: "I couldn't find specific information in the internal guide, and web search is currently unavailable.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			knowledge := &mockKnowledge{answerFn: func(context.Context, string, []engine.Message) (string, error) {
				return tt.ragAnswer, nil
			}}
			e := NewEngine(testHandle(t), knowledge, nil)

			resp := e.ProcessTurn(context.Background(), Request{Prompt: "What oil grade does the generator take?"})

			if resp.Answer != tt.wantAnswer {
				t.Errorf("Answer = %q, want %q", resp.Answer, tt.wantAnswer)
			}
			if resp.Source != "Internal Knowledge (Limited)" {
				t.Errorf("Source = %q", resp.Source)
			}
		})
	}
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name       string
		ragAnswer  string
		webAnswer  string
		webSource  string
		wantAnswer string
		wantSource string
	}{
		{
			name:       "synthesis replaces partial answer",
			ragAnswer:  "partial",
			webAnswer:  "Full web answer.",
			webSource:  fallback.SourceSynthesis,
			wantAnswer: "Full web answer.",
			wantSource: fallback.SourceSynthesis,
		},
		{
			name:       "synthesis label without text",
			ragAnswer:  "partial",
			webAnswer:  "",
			webSource:  fallback.SourceSynthesis,
			wantAnswer: "partial\n\n_(Internal knowledge was limited. Web search fallback did not produce a usable result [State: Web Search Synthesis (Ship Focused)])_",
			wantSource: "Internal Knowledge (Limited)",
		},
		{
			name:       "no results appends to partial answer",
			ragAnswer:  "partial",
			webAnswer:  "No relevant results.",
			webSource:  fallback.SourceNoResults,
			wantAnswer: "partial\n\nNo relevant results.",
			wantSource: fallback.SourceNoResults,
		},
		{
			name:       "no results without partial answer",
			ragAnswer:  "",
			webAnswer:  "No relevant results.",
			webSource:  fallback.SourceNoResults,
			wantAnswer: "No relevant results.",
			wantSource: fallback.SourceNoResults,
		},
		{
			name:       "empty synthesis keeps its label",
			ragAnswer:  "partial",
			webAnswer:  "Could not synthesize an answer.",
			webSource:  fallback.SourceSynthesisEmpty,
			wantAnswer: "partial\n\nCould not synthesize an answer.",
			wantSource: fallback.SourceSynthesisEmpty,
		},
		{
			name:       "disabled keeps its label",
			ragAnswer:  "",
			webAnswer:  "Web search is currently disabled.",
			webSource:  fallback.SourceDisabled,
			wantAnswer: "Web search is currently disabled.",
			wantSource: fallback.SourceDisabled,
		},
		{
			name:       "error folded into partial answer",
			ragAnswer:  "partial",
			webAnswer:  "There seems to be an issue with the API key.",
			webSource:  fallback.SourceError,
			wantAnswer: "partial\n\n_(There seems to be an issue with the API key.)_",
			wantSource: "Internal Knowledge (Limited)",
		},
		{
			name:       "error without partial answer",
			ragAnswer:  "",
			webAnswer:  "There seems to be an issue with the API key.",
			webSource:  fallback.SourceError,
			wantAnswer: "I couldn't find information internally. There seems to be an issue with the API key.",
			wantSource: "Error",
		},
		{
			name:       "rate limited treated as error",
			ragAnswer:  "partial",
			webAnswer:  "The service is busy.",
			webSource:  "Error (Rate Limited)",
			wantAnswer: "partial\n\n_(The service is busy.)_",
			wantSource: "Internal Knowledge (Limited)",
		},
		{
			name:       "unexpected label with partial answer",
			ragAnswer:  "partial",
			webAnswer:  "whatever",
			webSource:  "Strange State",
			wantAnswer: "partial\n\n_(Internal knowledge was limited. Web search fallback did not produce a usable result [State: Strange State])_",
			wantSource: "Internal Knowledge (Limited)",
		},
		{
			name:       "unexpected label without partial answer",
			ragAnswer:  "",
			webAnswer:  "whatever",
			webSource:  "Strange State",
			wantAnswer: "I couldn't find information internally, and the web search fallback did not produce a usable result [State: Strange State].",
			wantSource: "Internal Knowledge (Limited)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &Response{}
			combine(resp, tt.ragAnswer, tt.webAnswer, tt.webSource)

			if resp.Answer != tt.wantAnswer {
				t.Errorf("Answer = %q, want %q", resp.Answer, tt.wantAnswer)
			}
			if resp.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", resp.Source, tt.wantSource)
			}
		})
	}
}

func TestProcessTurn_ForcedWebSearch(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		fb := &mockFallback{enabled: true, runFn: func(_ context.Context, _ string) (string, string) {
			return "Web synthesis about overheating.", fallback.SourceSynthesis
		}}
		e := NewEngine(testHandle(t), failingKnowledge(t), fb)

		resp := e.ProcessTurn(context.Background(), Request{
			Prompt:         "search the web for engine overheating causes",
			State:          activeState("Engine Overheating", 2),
			ForceWebSearch: true,
		})

		if resp.Answer != "Web synthesis about overheating." {
			t.Errorf("Answer = %q", resp.Answer)
		}
		if resp.Source != fallback.SourceSynthesis {
			t.Errorf("Source = %q", resp.Source)
		}
		if resp.State != (State{}) {
			t.Errorf("State = %+v, want reset", resp.State)
		}
		if resp.Strategy != "forced_web_search" {
			t.Errorf("Strategy = %q", resp.Strategy)
		}
		if len(fb.queries) != 1 || fb.queries[0] != "search the web for engine overheating causes" {
			t.Errorf("fallback queries = %v", fb.queries)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		e := NewEngine(testHandle(t), failingKnowledge(t), nil)

		resp := e.ProcessTurn(context.Background(), Request{
			Prompt:         "search the web for engine overheating causes",
			State:          activeState("Engine Overheating", 2),
			ForceWebSearch: true,
		})

		want := "Web search was requested, but it is currently disabled (missing API key or initialization error)."
		if resp.Answer != want {
			t.Errorf("Answer = %q, want %q", resp.Answer, want)
		}
		if resp.Source != "Web Search Disabled" {
			t.Errorf("Source = %q", resp.Source)
		}
		if resp.State != (State{}) {
			t.Errorf("State = %+v, want reset", resp.State)
		}
	})
}

func TestProcessTurn_PanicRecovery(t *testing.T) {
	knowledge := &mockKnowledge{answerFn: func(context.Context, string, []engine.Message) (string, error) {
		panic("index out of range")
	}}
	e := NewEngine(testHandle(t), knowledge, nil)

	resp := e.ProcessTurn(context.Background(), Request{
		Prompt: "What oil grade does the generator take?",
		State:  activeState("Engine Overheating", 1),
	})

	if resp.Answer != "An unexpected server error occurred: string" {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if resp.Source != "Server Error" {
		t.Errorf("Source = %q", resp.Source)
	}
	if resp.State != (State{}) {
		t.Errorf("State = %+v, want reset", resp.State)
	}
	if resp.OfferWebSearch {
		t.Error("OfferWebSearch should be false after a panic")
	}
	if len(resp.History) != 2 {
		t.Fatalf("History length = %d, want user and assistant turns", len(resp.History))
	}
	if resp.History[1].Content != resp.Answer {
		t.Errorf("assistant turn = %q, want the error answer", resp.History[1].Content)
	}
}

func TestProcessTurn_EmptyAnswerGuard(t *testing.T) {
	knowledge := &mockKnowledge{answerFn: func(context.Context, string, []engine.Message) (string, error) {
		return "", nil
	}}
	fb := &mockFallback{enabled: true, runFn: func(_ context.Context, _ string) (string, string) {
		return "", fallback.SourceNoResults
	}}
	e := NewEngine(testHandle(t), knowledge, fb)

	resp := e.ProcessTurn(context.Background(), Request{Prompt: "What oil grade does the generator take?"})

	if resp.Answer != "Sorry, I encountered an issue and couldn't generate a response." {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if resp.Source != "Error" {
		t.Errorf("Source = %q", resp.Source)
	}
	if got := resp.History[len(resp.History)-1].Content; got != resp.Answer {
		t.Errorf("assistant turn = %q, want the guard answer", got)
	}
}

func TestProcessTurn_HistoryHandling(t *testing.T) {
	knowledge := &mockKnowledge{}
	e := NewEngine(testHandle(t), knowledge, nil)

	history := []Turn{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "Hello! How can I help with your ship today?"},
	}
	prompt := "What oil grade does the generator take?"
	resp := e.ProcessTurn(context.Background(), Request{Prompt: prompt, History: history})

	if len(resp.History) != 4 {
		t.Fatalf("History length = %d, want 4", len(resp.History))
	}
	if resp.History[2] != (Turn{Role: "user", Content: prompt}) {
		t.Errorf("History[2] = %+v, want the new user turn", resp.History[2])
	}
	if resp.History[3] != (Turn{Role: "assistant", Content: specificAnswer}) {
		t.Errorf("History[3] = %+v, want the assistant turn", resp.History[3])
	}

	// The knowledge base sees the prior conversation only; the new prompt
	// travels separately.
	if len(knowledge.histLens) != 1 || knowledge.histLens[0] != 2 {
		t.Errorf("knowledge history lengths = %v, want [2]", knowledge.histLens)
	}

	// The request history must not be extended in place.
	if len(history) != 2 {
		t.Errorf("request history mutated, length = %d", len(history))
	}
}
