package team

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/testutil"
)

func newTestCoordinator(cfg Config, handlers ...*testutil.FakeSpecialist) *Coordinator {
	r := NewRegistry(nil)
	for _, h := range handlers {
		r.Register(h.Specialty(), h)
	}
	limiter := service.NewRateLimiter(service.RateLimiterConfig{Capacity: 100, Window: time.Minute})
	return NewCoordinator(cfg, r, limiter)
}

func request() CoordinateRequest {
	return CoordinateRequest{
		Files:             testutil.SampleFiles(),
		BusinessObjective: "Harden the user service",
	}
}

// progressLog is a ProgressSink safe for concurrent use.
type progressLog struct {
	mu       sync.Mutex
	messages []string
	onMsg    func(string)
}

func (p *progressLog) Progress(msg string) {
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	fn := p.onMsg
	p.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (p *progressLog) all() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.messages, "\n")
}

func TestCoordinator_PartialSuccess(t *testing.T) {
	timeout := core.ErrTimeout("completion timed out")

	t.Run("one of three below minimum", func(t *testing.T) {
		c := newTestCoordinator(Config{MinSuccessfulAgents: 2},
			testutil.NewFakeSpecialist(core.SpecialtySecurity).WithFindings(testutil.SQLInjectionFinding()),
			testutil.NewFakeSpecialist(core.SpecialtyPerformance).WithError(timeout),
			testutil.NewFakeSpecialist(core.SpecialtyReliability).WithError(core.ErrAuth("invalid api key")),
		)

		res, err := c.Coordinate(context.Background(), request())
		if res != nil {
			t.Fatalf("Coordinate() result = %+v, want nil", res)
		}
		var failure *core.OrchestrationFailure
		if !errors.As(err, &failure) {
			t.Fatalf("Coordinate() error = %v, want OrchestrationFailure", err)
		}
		if failure.Required != 2 || failure.Succeeded != 1 || len(failure.Errors) != 2 {
			t.Errorf("failure = %+v", failure)
		}
		codes := []string{failure.Errors[0].ErrorCode, failure.Errors[1].ErrorCode}
		if diff := cmp.Diff([]string{core.CodeTimeout, core.CodeUnauthorized}, codes); diff != "" {
			t.Errorf("error codes mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("two of three meets minimum", func(t *testing.T) {
		c := newTestCoordinator(Config{MinSuccessfulAgents: 2},
			testutil.NewFakeSpecialist(core.SpecialtySecurity).WithFindings(testutil.SQLInjectionFinding()),
			testutil.NewFakeSpecialist(core.SpecialtyPerformance).WithError(timeout),
			testutil.NewFakeSpecialist(core.SpecialtyArchitecture),
		)

		res, err := c.Coordinate(context.Background(), request())
		if err != nil {
			t.Fatalf("Coordinate() error = %v", err)
		}
		if res.SuccessfulAgents() != 2 || len(res.Errors) != 1 {
			t.Fatalf("analyses = %d, errors = %d", res.SuccessfulAgents(), len(res.Errors))
		}
		ae := res.Errors[0]
		if ae.Specialty != core.SpecialtyPerformance || ae.ErrorCode != core.CodeTimeout || !ae.Retryable || ae.RetryDelaySeconds != 30 {
			t.Errorf("agent error = %+v", ae)
		}
		if len(ae.RemediationSteps) == 0 {
			t.Error("agent error has no remediation steps")
		}
		// Sorted by specialty name.
		if res.AgentAnalyses[0].Specialty != core.SpecialtyArchitecture || res.AgentAnalyses[1].Specialty != core.SpecialtySecurity {
			t.Errorf("analyses order = %s, %s", res.AgentAnalyses[0].Specialty, res.AgentAnalyses[1].Specialty)
		}
	})
}

func TestCoordinator_MinimumClampedToDispatched(t *testing.T) {
	c := newTestCoordinator(Config{MinSuccessfulAgents: 5},
		testutil.NewFakeSpecialist(core.SpecialtySecurity),
		testutil.NewFakeSpecialist(core.SpecialtyPerformance),
	)
	if _, err := c.Coordinate(context.Background(), request()); err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}

	c = newTestCoordinator(Config{MinSuccessfulAgents: 0},
		testutil.NewFakeSpecialist(core.SpecialtySecurity).WithError(errors.New("boom")),
	)
	_, err := c.Coordinate(context.Background(), request())
	var failure *core.OrchestrationFailure
	if !errors.As(err, &failure) || failure.Required != 1 {
		t.Fatalf("Coordinate() error = %v, want failure requiring 1", err)
	}
	if failure.Errors[0].ErrorCode != core.CodeUnknown {
		t.Errorf("ErrorCode = %s, want %s", failure.Errors[0].ErrorCode, core.CodeUnknown)
	}
}

func TestCoordinator_EndToEnd(t *testing.T) {
	sec := testutil.NewFakeSpecialist(core.SpecialtySecurity).
		WithFindings(testutil.SQLInjectionFinding(), testutil.HardcodedSecretFinding()).
		WithRecommendations(core.Recommendation{Title: "Use parameterized queries", ImpactScore: 9, Urgency: core.SeverityCritical})
	maint := testutil.NewFakeSpecialist(core.SpecialtyMaintainability).
		WithFindings(core.Finding{
			Category:    "Query style",
			Severity:    core.SeverityLow,
			Description: "Inline f-string query.",
			Location:    "UserService.py:22",
			Evidence:    []string{`query = f"SELECT * FROM users WHERE id = {user_id}"`},
		}).
		WithRecommendations(core.Recommendation{Title: "Use parameterized SQL queries", ImpactScore: 5, Urgency: core.SeverityMedium})

	r := NewRegistry(nil)
	r.Register(sec.Specialty(), sec)
	r.Register(maint.Specialty(), maint)
	renderer, err := service.NewPromptRenderer()
	if err != nil {
		t.Fatal(err)
	}
	completer := testutil.NewFakeCompleter(testutil.FakeResponse{Text: "Fix the SQL injection first."})
	c := NewCoordinator(DefaultConfig(), r, nil,
		WithSynthesizer(service.NewSynthesizer(service.DefaultSynthesisConfig(), renderer, completer, nil)),
	)

	progress := &progressLog{}
	req := request()
	req.Progress = progress
	res, err := c.Coordinate(context.Background(), req)
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}

	if res.RunID == "" || res.BusinessObjective != "Harden the user service" {
		t.Errorf("run = %q / %q", res.RunID, res.BusinessObjective)
	}
	if res.CompletedAt.Before(res.StartedAt) {
		t.Errorf("CompletedAt %v before StartedAt %v", res.CompletedAt, res.StartedAt)
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].Policy != core.PolicySpecialtyPriority {
		t.Fatalf("conflicts = %+v", res.Conflicts)
	}
	if got := res.Conflicts[0].DissentingOpinions; len(got) != 1 || got[0].Agent != "Maintainability Specialist" {
		t.Errorf("dissent = %+v", got)
	}
	if len(res.Findings) != 2 {
		t.Errorf("findings = %d, want 2 after the loser is set aside", len(res.Findings))
	}
	for _, f := range res.Findings {
		if f.SourceAgent != "Security Specialist" {
			t.Errorf("unexpected finding source %s", f.SourceAgent)
		}
	}
	if len(res.ConsensusRecommendations) != 1 || len(res.ConsensusRecommendations[0].Sources) != 2 {
		t.Errorf("recommendations = %+v", res.ConsensusRecommendations)
	}
	if res.ExecutiveSummary != "Fix the SQL injection first." {
		t.Errorf("ExecutiveSummary = %q", res.ExecutiveSummary)
	}

	log := progress.all()
	for _, want := range []string{"Dispatching 2 specialist(s)", "Security analysis completed with 2 finding(s)", "Analysis complete"} {
		if !strings.Contains(log, want) {
			t.Errorf("progress missing %q:\n%s", want, log)
		}
	}

	// Every specialist received the same request.
	if got := sec.Requests()[0].BusinessObjective; got != "Harden the user service" {
		t.Errorf("request objective = %q", got)
	}
	if c.Metrics().Runs() != 1 {
		t.Errorf("Runs() = %d, want 1", c.Metrics().Runs())
	}
}

func TestCoordinator_CancellationKeepsCompletedResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slow := testutil.NewFakeSpecialist(core.SpecialtyPerformance).WithDelay(time.Hour)
	c := newTestCoordinator(Config{MinSuccessfulAgents: 1},
		testutil.NewFakeSpecialist(core.SpecialtySecurity).WithFindings(testutil.SQLInjectionFinding()),
		slow,
	)

	progress := &progressLog{onMsg: func(msg string) {
		if strings.HasPrefix(msg, "Security analysis completed") {
			cancel()
		}
	}}
	req := request()
	req.Progress = progress

	res, err := c.Coordinate(ctx, req)
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}
	if res.SuccessfulAgents() != 1 || res.AgentAnalyses[0].Specialty != core.SpecialtySecurity {
		t.Fatalf("analyses = %+v", res.AgentAnalyses)
	}
	if len(res.Errors) != 1 || res.Errors[0].ErrorCode != core.CodeCancelled {
		t.Errorf("errors = %+v, want one CANCELLED", res.Errors)
	}
	if res.ExecutiveSummary == "" {
		t.Error("summary missing")
	}
}

func TestCoordinator_MaxConcurrency(t *testing.T) {
	var running, peak int32
	track := func(ctx context.Context, req core.AnalysisRequest) (*core.AgentAnalysis, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return &core.AgentAnalysis{Confidence: 1}, nil
	}

	var handlers []*testutil.FakeSpecialist
	for _, s := range core.BuiltinSpecialties {
		handlers = append(handlers, testutil.NewFakeSpecialist(s).WithFunc(track))
	}
	c := newTestCoordinator(Config{MaxConcurrency: 2}, handlers...)

	res, err := c.Coordinate(context.Background(), request())
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}
	if res.SuccessfulAgents() != 5 {
		t.Errorf("analyses = %d, want 5", res.SuccessfulAgents())
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	// Names are filled in from the handler when the analysis omits them.
	for _, a := range res.AgentAnalyses {
		if a.AgentName != string(a.Specialty)+" Specialist" {
			t.Errorf("AgentName = %q for %s", a.AgentName, a.Specialty)
		}
	}
}

func TestCoordinator_PanickingSpecialist(t *testing.T) {
	c := newTestCoordinator(Config{},
		testutil.NewFakeSpecialist(core.SpecialtySecurity),
		testutil.NewFakeSpecialist(core.SpecialtyReliability).WithFunc(func(context.Context, core.AnalysisRequest) (*core.AgentAnalysis, error) {
			panic("nil map")
		}),
	)
	res, err := c.Coordinate(context.Background(), request())
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0].ErrorCode != core.CodeAgentFailed {
		t.Errorf("errors = %+v", res.Errors)
	}
}

func TestCoordinator_InvalidRequests(t *testing.T) {
	sec := testutil.NewFakeSpecialist(core.SpecialtySecurity)
	c := newTestCoordinator(Config{}, sec)

	_, err := c.Coordinate(context.Background(), CoordinateRequest{})
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Errorf("no files: error = %v", err)
	}

	req := request()
	req.Specialties = []string{"Security", "Securty"}
	_, err = c.Coordinate(context.Background(), req)
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr.Code != core.CodeUnknownSpecialty {
		t.Errorf("unknown specialty: error = %v", err)
	}
	if sec.Calls() != 0 {
		t.Errorf("specialist called %d times for an invalid request", sec.Calls())
	}

	empty := NewCoordinator(Config{}, NewRegistry(nil), nil)
	_, err = empty.Coordinate(context.Background(), request())
	if !errors.As(err, &domErr) || domErr.Code != core.CodeNoAgents {
		t.Errorf("empty registry: error = %v", err)
	}
}

func TestCoordinator_SharedBreakerFailsFast(t *testing.T) {
	prompts, err := service.NewPromptRenderer()
	if err != nil {
		t.Fatal(err)
	}
	backend := testutil.NewFakeCompleter(testutil.FakeResponse{Err: core.ErrTransport("connection refused")})
	breakers := service.NewBreakerRegistry(service.BreakerConfig{FailureThreshold: 2, CoolDown: time.Minute}, nil, nil)
	caller := service.NewResilientCaller(service.NewRetryPolicy(service.WithMaxAttempts(1)), breakers)
	shared := service.NewResilientCompleter(caller, "openai/gpt-4o", backend)

	r := NewRegistry(nil)
	for _, sp := range core.BuiltinSpecialties {
		r.Register(sp, NewLLMSpecialist(sp, shared, prompts))
	}
	limiter := service.NewRateLimiter(service.RateLimiterConfig{Capacity: 100, Window: time.Minute})
	c := NewCoordinator(Config{MinSuccessfulAgents: 1, MaxConcurrency: 1}, r, limiter)

	_, err = c.Coordinate(context.Background(), request())
	var failure *core.OrchestrationFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Coordinate() error = %v, want OrchestrationFailure", err)
	}

	codes := make(map[string]int)
	for _, e := range failure.Errors {
		codes[e.ErrorCode]++
	}
	want := map[string]int{core.CodeTransport: 2, core.CodeCircuitOpen: len(core.BuiltinSpecialties) - 2}
	if diff := cmp.Diff(want, codes); diff != "" {
		t.Errorf("error codes mismatch (-want +got):\n%s", diff)
	}
	if backend.Calls() != 2 {
		t.Errorf("downstream calls = %d, want 2", backend.Calls())
	}

	states := breakers.States()
	if len(states) != 1 || states["openai/gpt-4o"].State != service.CircuitOpen {
		t.Errorf("breaker states = %+v, want one open breaker", states)
	}
}
