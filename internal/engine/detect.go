package engine

import (
	"context"
	"errors"
)

// ErrNoEngine is returned by Detect when no inference backend is reachable.
var ErrNoEngine = errors.New("no inference backend reachable")

// DetectConfig holds parameters for backend detection.
type DetectConfig struct {
	OllamaBaseURL   string
	OpenAICompatURL string
}

// Detect probes available inference backends and returns the first reachable
// one. Ollama is preferred; an OpenAI-compatible server (LM Studio, vLLM,
// llama.cpp server) is used as fallback when configured. Returns ErrNoEngine
// when nothing answers.
func Detect(ctx context.Context, cfg DetectConfig) (Engine, error) {
	oe := NewOllamaEngine(cfg.OllamaBaseURL)
	if oe.IsRunning(ctx) {
		return oe, nil
	}

	if cfg.OpenAICompatURL != "" {
		ce := NewOpenAIEngine(cfg.OpenAICompatURL)
		if ce.IsRunning(ctx) {
			return ce, nil
		}
	}

	return nil, ErrNoEngine
}
