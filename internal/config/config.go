package config

import (
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Log           LogConfig           `mapstructure:"log"`
	Completion    CompletionConfig    `mapstructure:"completion"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Consensus     ConsensusConfig     `mapstructure:"consensus"`
	Determinism   DeterminismConfig   `mapstructure:"determinism"`
	GroundTruth   GroundTruthConfig   `mapstructure:"ground_truth"`
	Store         StoreConfig         `mapstructure:"store"`
	Server        ServerConfig        `mapstructure:"server"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CompletionConfig selects and configures the language-model backend.
type CompletionConfig struct {
	Provider    string        `mapstructure:"provider"` // openai, cli, static
	Model       string        `mapstructure:"model"`
	APIKeyEnv   string        `mapstructure:"api_key_env"`
	BaseURL     string        `mapstructure:"base_url"`
	Command     string        `mapstructure:"command"`
	Args        []string      `mapstructure:"args"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	// StaticResponse is returned verbatim by the static provider.
	StaticResponse string `mapstructure:"static_response"`
	// StaticResponsesFile holds per-specialty replies for the static provider.
	StaticResponsesFile string `mapstructure:"static_responses_file"`
}

// DownstreamKey names the completion backend for circuit breaking. Every
// caller of the same provider and model shares one breaker.
func (c CompletionConfig) DownstreamKey() string {
	provider := strings.ToLower(strings.TrimSpace(c.Provider))
	if model := strings.TrimSpace(c.Model); model != "" {
		return provider + "/" + model
	}
	return provider
}

// RateLimitConfig configures the per-specialty sliding window.
type RateLimitConfig struct {
	Capacity int           `mapstructure:"capacity"`
	Window   time.Duration `mapstructure:"window"`
}

// ResilienceConfig configures retry and circuit breaking.
type ResilienceConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	Jitter           float64       `mapstructure:"jitter"`
	Multiplier       float64       `mapstructure:"multiplier"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	CoolDown         time.Duration `mapstructure:"cool_down"`
}

// OrchestrationConfig configures the coordinator.
type OrchestrationConfig struct {
	Specialties         []string `mapstructure:"specialties"`
	MinSuccessfulAgents int      `mapstructure:"min_successful_agents"`
	MaxConcurrency      int      `mapstructure:"max_concurrency"`
}

// ConsensusConfig configures peer review and recommendation synthesis.
type ConsensusConfig struct {
	DedupThreshold     float64 `mapstructure:"dedup_threshold"`
	CategorySimilarity float64 `mapstructure:"category_similarity"`
	ConflictPenalty    float64 `mapstructure:"conflict_penalty"`
	// CategoryOwners maps a category keyword to the specialty that owns it.
	CategoryOwners map[string]string `mapstructure:"category_owners"`
}

// DeterminismConfig configures repeated-run measurement.
type DeterminismConfig struct {
	RunCount             int           `mapstructure:"run_count"`
	DelayBetweenRuns     time.Duration `mapstructure:"delay_between_runs"`
	ConsistencyThreshold float64       `mapstructure:"consistency_threshold"`
}

// GroundTruthConfig configures matching against labeled datasets.
type GroundTruthConfig struct {
	CategoryWeight      float64 `mapstructure:"category_weight"`
	SeverityWeight      float64 `mapstructure:"severity_weight"`
	LocationWeight      float64 `mapstructure:"location_weight"`
	MinMatchConfidence  float64 `mapstructure:"min_match_confidence"`
	SeverityTolerance   int     `mapstructure:"severity_tolerance"`
	LineTolerance       int     `mapstructure:"line_tolerance"`
	CountPartialMatches bool    `mapstructure:"count_partial_matches"`
}

// StoreConfig configures report persistence.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}
