package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateCompletion(&cfg.Completion)
	v.validateRateLimit(&cfg.RateLimit)
	v.validateResilience(&cfg.Resilience)
	v.validateOrchestration(&cfg.Orchestration)
	v.validateConsensus(&cfg.Consensus)
	v.validateDeterminism(&cfg.Determinism)
	v.validateGroundTruth(&cfg.GroundTruth)
	v.validateServer(&cfg.Server)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateCompletion(cfg *CompletionConfig) {
	switch cfg.Provider {
	case "openai":
		if cfg.Model == "" {
			v.addError("completion.model", cfg.Model, "model required for openai provider")
		}
		if cfg.APIKeyEnv == "" {
			v.addError("completion.api_key_env", cfg.APIKeyEnv, "environment variable name required")
		}
	case "cli":
		if strings.TrimSpace(cfg.Command) == "" {
			v.addError("completion.command", cfg.Command, "command required for cli provider")
		}
	case "static":
	default:
		v.addError("completion.provider", cfg.Provider, "must be one of: openai, cli, static")
	}

	v.positiveDuration("completion.timeout", cfg.Timeout)

	if cfg.MaxTokens < 0 || cfg.MaxTokens > 200000 {
		v.addError("completion.max_tokens", cfg.MaxTokens, "must be between 0 and 200000")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		v.addError("completion.temperature", cfg.Temperature, "must be between 0 and 2")
	}
}

func (v *Validator) validateRateLimit(cfg *RateLimitConfig) {
	if cfg.Capacity <= 0 {
		v.addError("rate_limit.capacity", cfg.Capacity, "must be positive")
	}
	v.positiveDuration("rate_limit.window", cfg.Window)
}

func (v *Validator) validateResilience(cfg *ResilienceConfig) {
	if cfg.MaxAttempts < 1 || cfg.MaxAttempts > 10 {
		v.addError("resilience.max_attempts", cfg.MaxAttempts, "must be between 1 and 10")
	}
	if cfg.BaseDelay < 0 {
		v.addError("resilience.base_delay", cfg.BaseDelay, "must be non-negative")
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		v.addError("resilience.max_delay", cfg.MaxDelay, "must be >= resilience.base_delay")
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		v.addError("resilience.jitter", cfg.Jitter, "must be between 0 and 1")
	}
	if cfg.Multiplier < 1 {
		v.addError("resilience.multiplier", cfg.Multiplier, "must be >= 1")
	}
	v.positiveDuration("resilience.call_timeout", cfg.CallTimeout)
	if cfg.FailureThreshold < 1 {
		v.addError("resilience.failure_threshold", cfg.FailureThreshold, "must be positive")
	}
	v.positiveDuration("resilience.cool_down", cfg.CoolDown)
}

func (v *Validator) validateOrchestration(cfg *OrchestrationConfig) {
	for _, name := range cfg.Specialties {
		if strings.TrimSpace(name) == "" {
			v.addError("orchestration.specialties", name, "specialty name cannot be empty")
		}
	}
	if cfg.MinSuccessfulAgents < 1 {
		v.addError("orchestration.min_successful_agents", cfg.MinSuccessfulAgents, "must be at least 1")
	}
	if cfg.MaxConcurrency < 0 {
		v.addError("orchestration.max_concurrency", cfg.MaxConcurrency, "must be non-negative (0 = unlimited)")
	}
}

func (v *Validator) validateConsensus(cfg *ConsensusConfig) {
	v.unitInterval("consensus.dedup_threshold", cfg.DedupThreshold)
	v.unitInterval("consensus.category_similarity", cfg.CategorySimilarity)
	v.unitInterval("consensus.conflict_penalty", cfg.ConflictPenalty)
	for keyword, owner := range cfg.CategoryOwners {
		if strings.TrimSpace(keyword) == "" || strings.TrimSpace(owner) == "" {
			v.addError("consensus.category_owners", keyword, "keyword and specialty must be non-empty")
		}
	}
}

func (v *Validator) validateDeterminism(cfg *DeterminismConfig) {
	if cfg.RunCount < 2 {
		v.addError("determinism.run_count", cfg.RunCount, "must be at least 2")
	}
	if cfg.DelayBetweenRuns < 0 {
		v.addError("determinism.delay_between_runs", cfg.DelayBetweenRuns, "must be non-negative")
	}
	v.unitInterval("determinism.consistency_threshold", cfg.ConsistencyThreshold)
}

func (v *Validator) validateGroundTruth(cfg *GroundTruthConfig) {
	total := cfg.CategoryWeight + cfg.SeverityWeight + cfg.LocationWeight
	if total <= 0 || math.IsNaN(total) {
		v.addError("ground_truth.weights", total, "weights must sum to a positive value")
	}
	for name, w := range map[string]float64{
		"category_weight": cfg.CategoryWeight,
		"severity_weight": cfg.SeverityWeight,
		"location_weight": cfg.LocationWeight,
	} {
		if w < 0 {
			v.addError("ground_truth."+name, w, "must be non-negative")
		}
	}
	if cfg.MinMatchConfidence < 0 || cfg.MinMatchConfidence > 100 {
		v.addError("ground_truth.min_match_confidence", cfg.MinMatchConfidence, "must be between 0 and 100")
	}
	if cfg.SeverityTolerance < 0 || cfg.SeverityTolerance > 3 {
		v.addError("ground_truth.severity_tolerance", cfg.SeverityTolerance, "must be between 0 and 3")
	}
	if cfg.LineTolerance < 0 {
		v.addError("ground_truth.line_tolerance", cfg.LineTolerance, "must be non-negative")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Addr == "" {
		v.addError("server.addr", cfg.Addr, "listen address required")
	}
}

func (v *Validator) positiveDuration(field string, d time.Duration) {
	if d <= 0 {
		v.addError(field, d, "must be a positive duration")
	}
}

func (v *Validator) unitInterval(field string, f float64) {
	if f < 0 || f > 1 {
		v.addError(field, f, "must be between 0 and 1")
	}
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
