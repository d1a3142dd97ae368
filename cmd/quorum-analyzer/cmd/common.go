package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/adapters/llm"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service/team"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/validation"
)

// maxSourceFileSize skips generated blobs and binaries when walking a tree.
const maxSourceFileSize = 1 << 20

// loadConfig reads and validates configuration using the global viper
// instance, so bound flags take precedence.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}

// app holds the process-scoped services one command works with.
type app struct {
	cfg         *config.Config
	logger      *logging.Logger
	limiter     *service.RateLimiter
	breakers    *service.BreakerRegistry
	coordinator *team.Coordinator
	metrics     *service.MetricsCollector
}

// newApp wires the completion backend, resilience layer and specialist team
// from configuration.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	backend, err := llm.New(cfg.Completion, logger)
	if err != nil {
		return nil, fmt.Errorf("creating completion backend: %w", err)
	}

	res := cfg.Resilience
	retry := service.NewRetryPolicy(
		service.WithMaxAttempts(res.MaxAttempts),
		service.WithBaseDelay(res.BaseDelay),
		service.WithMaxDelay(res.MaxDelay),
		service.WithJitter(res.Jitter),
		service.WithMultiplier(res.Multiplier),
	)
	breakers := service.NewBreakerRegistry(service.BreakerConfig{
		FailureThreshold: res.FailureThreshold,
		CoolDown:         res.CoolDown,
	}, nil, logger)
	caller := service.NewResilientCaller(retry, breakers,
		service.WithCallTimeout(res.CallTimeout),
		service.WithCallerLogger(logger))

	prompts, err := service.NewPromptRenderer()
	if err != nil {
		return nil, fmt.Errorf("creating prompt renderer: %w", err)
	}

	// One breaker per downstream; specialties only key the rate limiter.
	completer := service.NewResilientCompleter(caller, cfg.Completion.DownstreamKey(), backend)
	registry := team.NewRegistry(logger)
	completerFor := func(core.Specialty) (core.Completer, error) {
		return completer, nil
	}
	if err := team.RegisterDefaults(registry, prompts, completerFor, logger, extraSpecialties(cfg.Orchestration.Specialties)...); err != nil {
		return nil, err
	}

	owners := service.DefaultCategoryOwners()
	for keyword, sp := range cfg.Consensus.CategoryOwners {
		owners[strings.ToLower(keyword)] = core.Specialty(sp)
	}
	limiter := service.NewRateLimiter(service.RateLimiterConfig{
		Capacity: cfg.RateLimit.Capacity,
		Window:   cfg.RateLimit.Window,
	})
	metrics := service.NewMetricsCollector()
	coordinator := team.NewCoordinator(team.Config{
		MinSuccessfulAgents: cfg.Orchestration.MinSuccessfulAgents,
		MaxConcurrency:      cfg.Orchestration.MaxConcurrency,
	}, registry, limiter,
		team.WithConsensusEngine(service.NewConsensusEngine(service.ConsensusConfig{
			CategorySimilarity: cfg.Consensus.CategorySimilarity,
			ConflictPenalty:    cfg.Consensus.ConflictPenalty,
			CategoryOwners:     owners,
		}, logger)),
		team.WithSynthesizer(service.NewSynthesizer(service.SynthesisConfig{
			DedupThreshold: cfg.Consensus.DedupThreshold,
		}, prompts, completer, logger)),
		team.WithMetrics(metrics),
		team.WithLogger(logger),
	)

	return &app{
		cfg:         cfg,
		logger:      logger,
		limiter:     limiter,
		breakers:    breakers,
		coordinator: coordinator,
		metrics:     metrics,
	}, nil
}

// extraSpecialties returns the configured specialties that are not built in.
func extraSpecialties(names []string) []core.Specialty {
	builtin := make(map[string]bool, len(core.BuiltinSpecialties))
	for _, sp := range core.BuiltinSpecialties {
		builtin[sp.Key()] = true
	}
	var out []core.Specialty
	for _, name := range names {
		sp := core.Specialty(strings.TrimSpace(name))
		if sp == "" || builtin[sp.Key()] {
			continue
		}
		builtin[sp.Key()] = true
		out = append(out, sp)
	}
	return out
}

// groundTruthConfig converts the configuration section.
func groundTruthConfig(cfg config.GroundTruthConfig) validation.GroundTruthConfig {
	return validation.GroundTruthConfig{
		CategoryWeight:                     cfg.CategoryWeight,
		SeverityWeight:                     cfg.SeverityWeight,
		LocationWeight:                     cfg.LocationWeight,
		MinMatchConfidence:                 cfg.MinMatchConfidence,
		SeverityTolerance:                  cfg.SeverityTolerance,
		LineTolerance:                      cfg.LineTolerance,
		CountPartialMatchesAsTruePositives: cfg.CountPartialMatches,
	}
}

// openArchive opens the report archive at the configured path.
func openArchive(cfg *config.Config) (*store.SQLiteArchive, error) {
	archive, err := store.NewSQLiteArchive(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening report archive: %w", err)
	}
	return archive, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".php":   "php",
	".cs":    "csharp",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".rs":    "rust",
	".swift": "swift",
	".scala": "scala",
	".sql":   "sql",
}

// readSourceFiles loads the named files. Directories are walked for files
// with a known source extension; hidden and vendored directories are skipped.
func readSourceFiles(paths []string) ([]core.SourceFile, error) {
	var files []core.SourceFile
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			f, err := readSourceFile(p)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if path != p && (strings.HasPrefix(name, ".") || name == "vendor" || name == "node_modules") {
					return filepath.SkipDir
				}
				return nil
			}
			if _, ok := languageByExt[strings.ToLower(filepath.Ext(path))]; !ok {
				return nil
			}
			if info, err := d.Info(); err != nil || info.Size() > maxSourceFileSize {
				return nil
			}
			f, err := readSourceFile(path)
			if err != nil {
				return err
			}
			files = append(files, f)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if len(files) == 0 {
		return nil, core.ErrValidation(core.CodeNoFiles, "no source files found")
	}
	return files, nil
}

func readSourceFile(path string) (core.SourceFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.SourceFile{}, fmt.Errorf("reading %s: %w", path, err)
	}
	content := string(data)
	return core.SourceFile{
		Path:     filepath.ToSlash(path),
		Language: languageByExt[strings.ToLower(filepath.Ext(path))],
		Content:  content,
		Metadata: core.FileMetadata{LinesOfCode: countLines(content)},
	}, nil
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

const (
	formatSummary  = "summary"
	formatJSON     = "json"
	formatMarkdown = "markdown"
)

// reportFormat resolves --format: an explicit value wins, then the output
// file extension, then the console summary.
func reportFormat(flag, output string) string {
	if f := strings.ToLower(strings.TrimSpace(flag)); f != "" {
		if f == "md" {
			return formatMarkdown
		}
		return f
	}
	switch strings.ToLower(filepath.Ext(output)) {
	case "":
		if output == "" {
			return formatSummary
		}
		return formatMarkdown
	case ".json":
		return formatJSON
	default:
		return formatMarkdown
	}
}

// writeReport renders a report as json or markdown to path, or to out when
// path is empty.
func writeReport(out io.Writer, path, format string, v any, markdown func(io.Writer) error) error {
	render := func(w io.Writer) error {
		switch format {
		case formatJSON:
			return writeJSON(w, v)
		case formatMarkdown:
			return markdown(w)
		default:
			return fmt.Errorf("unknown format %q (want summary, json or markdown)", format)
		}
	}
	if path == "" {
		return render(out)
	}
	return store.WriteDocument(path, render)
}
