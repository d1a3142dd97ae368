package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for configuration environment variables.
const EnvPrefix = "QANALYZER"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance so CLI
// flags bound to it take precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (QANALYZER_*)
// 3. Project config (.quorum-analyzer.yaml in current directory)
// 4. User config (~/.config/quorum-analyzer/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".quorum-analyzer")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "quorum-analyzer"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("completion.provider", "openai")
	l.v.SetDefault("completion.model", "gpt-4o-mini")
	l.v.SetDefault("completion.api_key_env", "OPENAI_API_KEY")
	l.v.SetDefault("completion.timeout", "120s")
	l.v.SetDefault("completion.max_tokens", 4096)
	l.v.SetDefault("completion.temperature", 0.0)

	// 5 requests per minute per specialty
	l.v.SetDefault("rate_limit.capacity", 5)
	l.v.SetDefault("rate_limit.window", "60s")

	l.v.SetDefault("resilience.max_attempts", 3)
	l.v.SetDefault("resilience.base_delay", "1s")
	l.v.SetDefault("resilience.max_delay", "30s")
	l.v.SetDefault("resilience.jitter", 0.2)
	l.v.SetDefault("resilience.multiplier", 2.0)
	l.v.SetDefault("resilience.call_timeout", "90s")
	l.v.SetDefault("resilience.failure_threshold", 5)
	l.v.SetDefault("resilience.cool_down", "60s")

	l.v.SetDefault("orchestration.specialties", []string{})
	l.v.SetDefault("orchestration.min_successful_agents", 1)
	l.v.SetDefault("orchestration.max_concurrency", 0)

	l.v.SetDefault("consensus.dedup_threshold", 0.6)
	l.v.SetDefault("consensus.category_similarity", 0.5)
	l.v.SetDefault("consensus.conflict_penalty", 0.75)

	l.v.SetDefault("determinism.run_count", 5)
	l.v.SetDefault("determinism.delay_between_runs", "2s")
	l.v.SetDefault("determinism.consistency_threshold", 0.70)

	l.v.SetDefault("ground_truth.category_weight", 0.5)
	l.v.SetDefault("ground_truth.severity_weight", 0.3)
	l.v.SetDefault("ground_truth.location_weight", 0.2)
	l.v.SetDefault("ground_truth.min_match_confidence", 60.0)
	l.v.SetDefault("ground_truth.severity_tolerance", 1)
	l.v.SetDefault("ground_truth.line_tolerance", 5)
	l.v.SetDefault("ground_truth.count_partial_matches", true)

	l.v.SetDefault("store.path", ".quorum-analyzer/reports.db")

	l.v.SetDefault("server.addr", "127.0.0.1:8089")
	l.v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}
