package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	Provider        string
	GoogleApiKey    string
	AnthropicApiKey string

	// Three model slots: cheap tool-driving/aggregation calls, planning,
	// and the final streamed report.
	FastModel      string
	ReasoningModel string
	SynthesisModel string

	ParallelApiKey  string
	ParallelBaseURL string
	EnableArxiv     bool
	MistralApiKey   string

	MaxIterations       int
	QueriesPerIteration int
	SearchConcurrency   int
	MaxToolSteps        int
	ExtractChunkSize    int
	ExtractMaxChunks    int
	ResearchTimeout     time.Duration

	DatabaseURL string
	DBMaxConns  int
	Port        string
}

func Load() *Config {
	provider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini))

	fast, reasoning, synthesis := "gemini-2.5-flash-lite", "gemini-2.5-flash-lite", "gemini-2.5-flash"
	if provider == ProviderAnthropic {
		fast, reasoning, synthesis = "claude-3-5-haiku-latest", "claude-sonnet-4-20250514", "claude-sonnet-4-20250514"
	}

	return &Config{
		Provider:            provider,
		GoogleApiKey:        getEnv("GOOGLE_API_KEY", os.Getenv("GEMINI_API_KEY")),
		AnthropicApiKey:     getEnv("ANTHROPIC_API_KEY", ""),
		FastModel:           getEnv("FAST_MODEL", fast),
		ReasoningModel:      getEnv("REASONING_MODEL", reasoning),
		SynthesisModel:      getEnv("SYNTHESIS_MODEL", synthesis),
		ParallelApiKey:      getEnv("PARALLEL_API_KEY", ""),
		ParallelBaseURL:     getEnv("PARALLEL_BASE_URL", "https://api.parallel.ai"),
		EnableArxiv:         getEnvAsBool("ENABLE_ARXIV", false),
		MistralApiKey:       getEnv("MISTRAL_API_KEY", ""),
		MaxIterations:       getEnvAsInt("MAX_ITERATIONS", 5),
		QueriesPerIteration: getEnvAsInt("QUERIES_PER_ITERATION", 4),
		SearchConcurrency:   getEnvAsInt("SEARCH_CONCURRENCY", 0), // 0 follows QUERIES_PER_ITERATION
		MaxToolSteps:        getEnvAsInt("MAX_TOOL_STEPS", 5),
		ExtractChunkSize:    getEnvAsInt("EXTRACT_CHUNK_SIZE", 2000),
		ExtractMaxChunks:    getEnvAsInt("EXTRACT_MAX_CHUNKS", 4),
		ResearchTimeout:     getEnvAsDuration("RESEARCH_TIMEOUT", 120*time.Second),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DBMaxConns:          getEnvAsInt("DB_MAX_CONNS", 0),
		Port:                getEnv("PORT", "8081"),
	}
}

// Validate reports settings the research loop cannot run without.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderGemini:
		if c.GoogleApiKey == "" {
			errs = append(errs, errors.New("GOOGLE_API_KEY is not set"))
		}
	case ProviderAnthropic:
		if c.AnthropicApiKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is not set"))
		}
	default:
		errs = append(errs, errors.New("LLM_PROVIDER must be one of gemini, anthropic"))
	}

	if c.ParallelApiKey == "" {
		errs = append(errs, errors.New("PARALLEL_API_KEY is not set"))
	}
	if c.MaxIterations < 1 {
		errs = append(errs, errors.New("MAX_ITERATIONS must be at least 1"))
	}
	if c.QueriesPerIteration < 1 {
		errs = append(errs, errors.New("QUERIES_PER_ITERATION must be at least 1"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
