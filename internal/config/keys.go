package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SHIPMATE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "SHIPMATE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "SHIPMATE_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "SHIPMATE_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "engine.openai_compat_url", typ: kString, env: "SHIPMATE_ENGINE_OPENAI_COMPAT_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.OpenAICompatURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.OpenAICompatURL },
	},
	{
		key: "search.tavily_api_key", typ: kString, env: "SHIPMATE_TAVILY_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Search.TavilyAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.TavilyAPIKey },
	},
	{
		key: "search.max_results", typ: kInt, env: "SHIPMATE_SEARCH_MAX_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MaxResults },
	},
	{
		key: "search.result_max_chars", typ: kInt, env: "SHIPMATE_SEARCH_RESULT_MAX_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Search.ResultMaxChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.ResultMaxChars },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "SHIPMATE_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.reranking_enabled", typ: kBool, env: "SHIPMATE_RETRIEVAL_RERANKING_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RerankingEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Retrieval.RerankingEnabled },
	},
	{
		key: "catalog.csv_path", typ: kString, env: "SHIPMATE_CATALOG_CSV_PATH",
		apply:   func(cfg *Config, v any) { cfg.Catalog.CSVPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.CSVPath },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SHIPMATE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "SHIPMATE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
