package config

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Engine    EngineConfig
	Search    SearchConfig
	Retrieval RetrievalConfig
	Catalog   CatalogConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type EngineConfig struct {
	// OpenAICompatURL points at an OpenAI-compatible /v1 endpoint used as a
	// fallback when Ollama is not reachable. Empty disables the fallback.
	OpenAICompatURL string
}

type SearchConfig struct {
	TavilyAPIKey   string
	MaxResults     int
	ResultMaxChars int
}

type RetrievalConfig struct {
	TopK             int
	RerankingEnabled bool
}

type CatalogConfig struct {
	CSVPath string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// CatalogPath returns the configured CSV path, falling back to
// <data dir>/data/ships.csv when none is set.
func (c Config) CatalogPath() string {
	if c.Catalog.CSVPath != "" {
		return c.Catalog.CSVPath
	}
	return filepath.Join(c.Storage.DataDir, "data", "ships.csv")
}

// WebSearchEnabled reports whether a Tavily API key is configured.
// A missing key is not an error: the assistant runs with web search
// disabled and says so in its answers.
func (c Config) WebSearchEnabled() bool {
	return strings.TrimSpace(c.Search.TavilyAPIKey) != ""
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "mistral-nemo",
			EmbedModel: "nomic-embed-text",
		},
		Search: SearchConfig{
			MaxResults:     5,
			ResultMaxChars: 3000,
		},
		Retrieval: RetrievalConfig{
			TopK:             4,
			RerankingEnabled: true,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.marindock.shipmate) and
// secrets fall back to macOS Keychain. On Linux the backend is a JSON file at
// $XDG_CONFIG_HOME/shipmate/config.json and secrets live in a mode-0600
// secrets file.
//
// Environment variables (SHIPMATE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// Keychain abstracts the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

const (
	keychainService  = "shipmate"
	tavilyKeyAccount = "tavily_api_key"
	apiTokenAccount  = "api_token"
)

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the Tavily key if still empty.
	// No key just means web search stays disabled.
	if cfg.Search.TavilyAPIKey == "" {
		if key, err := kc.Get(keychainService, tavilyKeyAccount); err == nil {
			cfg.Search.TavilyAPIKey = strings.TrimSpace(key)
		}
	}

	return cfg, nil
}

// GetAPIToken returns the bearer token protecting the management API,
// generating and persisting a fresh one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok, err := kc.Get(keychainService, apiTokenAccount); err == nil {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			return tok, nil
		}
	}

	tok := uuid.NewString()
	if err := kc.Set(keychainService, apiTokenAccount, tok); err != nil {
		return "", err
	}
	return tok, nil
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return keychainReader{}
}

type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (keychainReader) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
