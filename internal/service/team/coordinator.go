package team

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service"
)

var tracer = otel.Tracer("quorum-analyzer.team")

// Config tunes orchestration.
type Config struct {
	// MinSuccessfulAgents is the number of specialists that must succeed for
	// a result to be returned. It is clamped to [1, dispatched].
	MinSuccessfulAgents int
	// MaxConcurrency bounds parallel dispatches; 0 dispatches all at once.
	MaxConcurrency int
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{MinSuccessfulAgents: 1}
}

// CoordinateRequest is one orchestration call.
type CoordinateRequest struct {
	Files             []core.SourceFile
	BusinessObjective string
	ProjectContext    string
	// Specialties to dispatch; empty means every registered one.
	Specialties []string
	// Progress, if set, is called from the dispatch goroutines.
	Progress core.ProgressSink
}

// Coordinator dispatches specialists in parallel, keeps whatever succeeds
// and runs peer review and synthesis over the survivors.
type Coordinator struct {
	cfg       Config
	registry  *Registry
	limiter   *service.RateLimiter
	consensus *service.ConsensusEngine
	synth     *service.Synthesizer
	converter core.ErrorConverter
	metrics   *service.MetricsCollector
	logger    *logging.Logger
	now       func() time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithConsensusEngine sets the peer review engine.
func WithConsensusEngine(e *service.ConsensusEngine) CoordinatorOption {
	return func(c *Coordinator) {
		c.consensus = e
	}
}

// WithSynthesizer sets the recommendation synthesizer.
func WithSynthesizer(s *service.Synthesizer) CoordinatorOption {
	return func(c *Coordinator) {
		c.synth = s
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *service.MetricsCollector) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithErrorConverter overrides the failure mapping.
func WithErrorConverter(conv core.ErrorConverter) CoordinatorOption {
	return func(c *Coordinator) {
		c.converter = conv
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// NewCoordinator creates a coordinator. The limiter is shared by every
// orchestration of the process.
func NewCoordinator(cfg Config, registry *Registry, limiter *service.RateLimiter, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		registry:  registry,
		limiter:   limiter,
		converter: core.DefaultErrorConverter(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	if c.limiter == nil {
		c.limiter = service.NewRateLimiter(service.DefaultRateLimiterConfig())
	}
	if c.consensus == nil {
		c.consensus = service.NewConsensusEngine(service.DefaultConsensusConfig(), c.logger)
	}
	if c.synth == nil {
		c.synth = service.NewSynthesizer(service.DefaultSynthesisConfig(), nil, nil, c.logger)
	}
	if c.metrics == nil {
		c.metrics = service.NewMetricsCollector()
	}
	return c
}

// Registry returns the specialist registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Metrics returns the metrics collector.
func (c *Coordinator) Metrics() *service.MetricsCollector {
	return c.metrics
}

// dispatchOutcome is exactly one of a successful analysis or an agent error.
type dispatchOutcome struct {
	analysis *core.AgentAnalysis
	agentErr *core.AgentErrorResult
}

// Coordinate runs one orchestration. It fails only on invalid input or when
// fewer than the required number of specialists succeed; in the latter case
// the error is an *core.OrchestrationFailure carrying every agent error.
func (c *Coordinator) Coordinate(ctx context.Context, req CoordinateRequest) (*core.TeamAnalysisResult, error) {
	if len(req.Files) == 0 {
		return nil, core.ErrValidation(core.CodeNoFiles, "no files submitted for analysis")
	}
	handlers, err := c.registry.Resolve(req.Specialties)
	if err != nil {
		return nil, err
	}
	if len(handlers) == 0 {
		return nil, core.ErrValidation(core.CodeNoAgents, "no specialists registered")
	}

	runID := uuid.NewString()
	logger := c.logger.WithRun(runID)
	ctx, span := tracer.Start(ctx, "team.Coordinate",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.agents", len(handlers)),
		),
	)
	defer span.End()

	result := &core.TeamAnalysisResult{
		RunID:             runID,
		BusinessObjective: req.BusinessObjective,
		StartedAt:         c.now(),
	}
	progress := func(format string, args ...any) {
		if req.Progress != nil {
			req.Progress.Progress(fmt.Sprintf(format, args...))
		}
	}

	logger.Info("dispatching specialists", "agents", len(handlers), "files", len(req.Files))
	progress("Dispatching %d specialist(s)", len(handlers))

	areq := core.AnalysisRequest{
		Files:             req.Files,
		BusinessObjective: req.BusinessObjective,
		ProjectContext:    req.ProjectContext,
	}

	var (
		mu       sync.Mutex
		outcomes = make([]dispatchOutcome, 0, len(handlers))
	)
	g := new(errgroup.Group)
	if c.cfg.MaxConcurrency > 0 {
		g.SetLimit(c.cfg.MaxConcurrency)
	}
	for _, h := range handlers {
		h := h
		g.Go(func() error {
			out := c.dispatch(ctx, h, areq, logger, progress)
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range outcomes {
		if out.analysis != nil {
			result.AgentAnalyses = append(result.AgentAnalyses, *out.analysis)
		} else {
			result.Errors = append(result.Errors, *out.agentErr)
		}
	}
	core.SortAnalyses(result.AgentAnalyses)
	sort.SliceStable(result.Errors, func(i, j int) bool {
		return result.Errors[i].Specialty < result.Errors[j].Specialty
	})
	c.metrics.RecordRun()

	required := c.cfg.MinSuccessfulAgents
	if required < 1 {
		required = 1
	}
	if required > len(handlers) {
		required = len(handlers)
	}
	span.SetAttributes(
		attribute.Int("run.succeeded", len(result.AgentAnalyses)),
		attribute.Int("run.failed", len(result.Errors)),
	)
	if len(result.AgentAnalyses) < required {
		failure := &core.OrchestrationFailure{
			Required:  required,
			Succeeded: len(result.AgentAnalyses),
			Errors:    result.Errors,
		}
		logger.Error("orchestration failed", "required", required, "succeeded", len(result.AgentAnalyses))
		progress("Analysis failed: %d of %d required specialist(s) succeeded", len(result.AgentAnalyses), required)
		span.RecordError(failure)
		span.SetStatus(codes.Error, "not enough specialists succeeded")
		return nil, failure
	}

	progress("Reviewing findings from %d specialist(s)", len(result.AgentAnalyses))
	review := c.consensus.Review(result.AgentAnalyses, req.Files)
	result.Findings = review.Findings
	result.Conflicts = review.Conflicts
	result.ConsensusRecommendations = c.synth.MergeRecommendations(result.AgentAnalyses)

	progress("Writing executive summary")
	result.ExecutiveSummary = c.synth.Summarize(ctx, service.SummaryInput{
		BusinessObjective: req.BusinessObjective,
		Analyses:          result.AgentAnalyses,
		Findings:          result.Findings,
		Recommendations:   result.ConsensusRecommendations,
		Conflicts:         result.Conflicts,
		Errors:            result.Errors,
	})
	result.CompletedAt = c.now()

	logger.Info("orchestration complete",
		"succeeded", len(result.AgentAnalyses),
		"failed", len(result.Errors),
		"findings", len(result.Findings),
		"conflicts", len(result.Conflicts),
		"duration", result.CompletedAt.Sub(result.StartedAt),
	)
	progress("Analysis complete: %d finding(s), %d conflict(s) resolved", len(result.Findings), len(result.Conflicts))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// dispatch runs one specialist behind the rate limiter. It never returns an
// error: every failure becomes an AgentErrorResult.
func (c *Coordinator) dispatch(ctx context.Context, h core.Specialist, req core.AnalysisRequest, logger *logging.Logger, progress func(string, ...any)) (out dispatchOutcome) {
	specialty := h.Specialty()
	logger = logger.WithAgent(h.Name(), specialty)
	ctx, span := tracer.Start(ctx, "team.dispatch",
		trace.WithAttributes(attribute.String("agent.specialty", string(specialty))),
	)
	defer span.End()
	logger = logger.WithContext(ctx)

	start := c.now()
	fail := func(err error) dispatchOutcome {
		if errors.Is(ctx.Err(), context.Canceled) && !core.IsCategory(err, core.ErrCatCancelled) {
			err = core.ErrCancelled("orchestration cancelled before the specialist finished").WithCause(err)
		}
		ae := c.converter.ToAgentError(specialty, err)
		c.metrics.RecordAgent(specialty, c.now().Sub(start), ae.ErrorCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, ae.ErrorCode)
		logger.Warn("specialist failed", "code", ae.ErrorCode, "error", err)
		progress("%s failed: %s", specialty, ae.ErrorCode)
		return dispatchOutcome{agentErr: &ae}
	}
	defer func() {
		if r := recover(); r != nil {
			out = fail(core.ErrExecution(core.CodeAgentFailed, fmt.Sprintf("specialist panicked: %v", r)))
		}
	}()

	if err := c.limiter.Wait(ctx, specialty.Key()); err != nil {
		return fail(err)
	}
	progress("%s analysis started", specialty)

	a, err := h.Analyze(ctx, req)
	if err == nil && a == nil {
		err = core.ErrExecution(core.CodeAgentFailed, "specialist returned no analysis")
	}
	if err != nil {
		return fail(err)
	}

	analysis := *a
	analysis.Specialty = specialty
	if analysis.AgentName == "" {
		analysis.AgentName = h.Name()
	}
	if analysis.Duration == 0 {
		analysis.Duration = c.now().Sub(start)
	}
	c.metrics.RecordAgent(specialty, analysis.Duration, "")
	logger.Info("specialist completed", "findings", len(analysis.KeyFindings), "duration", analysis.Duration)
	progress("%s analysis completed with %d finding(s)", specialty, len(analysis.KeyFindings))
	return dispatchOutcome{analysis: &analysis}
}
