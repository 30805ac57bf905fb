package config

import (
	"log"
	"os"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

// Config is the process-wide configuration, read once by main and
// threaded into the composition root (spec §9's "process-wide
// singletons" note).
type Config struct {
	Mode Mode

	Port string

	GCPProjectID string
	GCPLocation  string
	ModelName    string

	StorageBackend string // "memory" or "firestore"
	UseMockLLM     bool   // true = use mock even in gcp mode

	// OpenAIAPIKey/AnthropicAPIKey, when set, register the corresponding
	// HTTP-based provider with the Router (spec §4.6's routing table)
	// alongside Vertex; empty means that provider is left unregistered
	// and requests naming it fail with the Router's unknown-provider
	// error, which is not recoverable and so is not retried against mock.
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// AgentsFile optionally points at a YAML MeetingConfig template
	// (spec_full §4.9) used to seed POST /meetings when the caller omits
	// an agents list.
	AgentsFile string
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

// Load reads all env vars and builds the config.
func Load() *Config {
	modeStr := getEnv("CONVENE_MODE", "local")
	var mode Mode
	switch modeStr {
	case "gcp":
		mode = ModeGCP
	default:
		mode = ModeLocal
	}

	cfg := &Config{
		Mode: mode,

		Port: getEnv("CONVENE_PORT", "8080"),

		GCPProjectID: getEnv("CONVENE_GCP_PROJECT", ""),
		GCPLocation:  getEnv("CONVENE_GCP_LOCATION", "us-central1"),
		ModelName:    getEnv("CONVENE_MODEL_NAME", "gemini-2.5-flash"),

		StorageBackend: getEnv("CONVENE_STORAGE_BACKEND", "memory"),
		UseMockLLM:     getBoolEnv("CONVENE_USE_MOCK_LLM", mode == ModeLocal),

		OpenAIAPIKey:    getEnv("CONVENE_OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("CONVENE_ANTHROPIC_API_KEY", ""),

		AgentsFile: getEnv("CONVENE_AGENTS_FILE", ""),
	}

	if cfg.Mode == ModeGCP && cfg.GCPProjectID == "" {
		log.Fatal("CONVENE_GCP_PROJECT must be set in gcp mode")
	}

	return cfg
}
