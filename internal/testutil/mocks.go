package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

// FakeResponse is one scripted completion.
type FakeResponse struct {
	Text  string
	Err   error
	Delay time.Duration
}

// FakeCompleter implements core.Completer with scripted responses. Responses
// are consumed in order and the last one repeats.
type FakeCompleter struct {
	mu        sync.Mutex
	responses []FakeResponse
	fn        func(ctx context.Context, prompt string) (string, error)
	prompts   []string
}

// NewFakeCompleter creates a completer that plays back responses.
func NewFakeCompleter(responses ...FakeResponse) *FakeCompleter {
	return &FakeCompleter{responses: responses}
}

// WithFunc replaces the scripted responses with fn.
func (f *FakeCompleter) WithFunc(fn func(ctx context.Context, prompt string) (string, error)) *FakeCompleter {
	f.fn = fn
	return f
}

// Complete implements core.Completer.
func (f *FakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	call := len(f.prompts) - 1
	fn := f.fn
	var resp FakeResponse
	if len(f.responses) > 0 {
		if call >= len(f.responses) {
			call = len(f.responses) - 1
		}
		resp = f.responses[call]
	}
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	if resp.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(resp.Delay):
		}
	}
	return resp.Text, resp.Err
}

// Calls returns the number of Complete calls.
func (f *FakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// Prompts returns a copy of every prompt received.
func (f *FakeCompleter) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// FakeSpecialist implements core.Specialist for testing.
type FakeSpecialist struct {
	specialty   core.Specialty
	name        string
	analysis    core.AgentAnalysis
	analyzeFunc func(ctx context.Context, req core.AnalysisRequest) (*core.AgentAnalysis, error)

	mu       sync.Mutex
	requests []core.AnalysisRequest
}

// NewFakeSpecialist creates a specialist that returns an empty analysis.
func NewFakeSpecialist(specialty core.Specialty) *FakeSpecialist {
	return &FakeSpecialist{
		specialty: specialty,
		name:      string(specialty) + " Specialist",
		analysis:  core.AgentAnalysis{Confidence: 1},
	}
}

// Specialty implements core.Specialist.
func (f *FakeSpecialist) Specialty() core.Specialty {
	return f.specialty
}

// Name implements core.Specialist.
func (f *FakeSpecialist) Name() string {
	return f.name
}

// WithName sets the agent name.
func (f *FakeSpecialist) WithName(name string) *FakeSpecialist {
	f.name = name
	return f
}

// WithFindings sets the findings returned on success.
func (f *FakeSpecialist) WithFindings(findings ...core.Finding) *FakeSpecialist {
	f.analysis.KeyFindings = findings
	return f
}

// WithRecommendations sets the recommendations returned on success.
func (f *FakeSpecialist) WithRecommendations(recs ...core.Recommendation) *FakeSpecialist {
	f.analysis.Recommendations = recs
	return f
}

// WithConfidence sets the reported confidence.
func (f *FakeSpecialist) WithConfidence(c float64) *FakeSpecialist {
	f.analysis.Confidence = c
	return f
}

// WithError makes every call fail with err.
func (f *FakeSpecialist) WithError(err error) *FakeSpecialist {
	f.analyzeFunc = func(ctx context.Context, req core.AnalysisRequest) (*core.AgentAnalysis, error) {
		return nil, err
	}
	return f
}

// WithDelay makes every call wait d, or until ctx is done, before answering.
func (f *FakeSpecialist) WithDelay(d time.Duration) *FakeSpecialist {
	f.analyzeFunc = func(ctx context.Context, req core.AnalysisRequest) (*core.AgentAnalysis, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
		return f.result(), nil
	}
	return f
}

// WithFunc sets a custom analyze function.
func (f *FakeSpecialist) WithFunc(fn func(ctx context.Context, req core.AnalysisRequest) (*core.AgentAnalysis, error)) *FakeSpecialist {
	f.analyzeFunc = fn
	return f
}

// Analyze implements core.Specialist.
func (f *FakeSpecialist) Analyze(ctx context.Context, req core.AnalysisRequest) (*core.AgentAnalysis, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.analyzeFunc != nil {
		return f.analyzeFunc(ctx, req)
	}
	return f.result(), nil
}

func (f *FakeSpecialist) result() *core.AgentAnalysis {
	a := f.analysis
	a.Specialty = f.specialty
	a.AgentName = f.name
	a.KeyFindings = append([]core.Finding(nil), f.analysis.KeyFindings...)
	a.Recommendations = append([]core.Recommendation(nil), f.analysis.Recommendations...)
	if a.BusinessImpact == "" {
		a.BusinessImpact = "Impact assessed by " + f.name
	}
	return &a
}

// Calls returns the number of Analyze calls.
func (f *FakeSpecialist) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a copy of every request received.
func (f *FakeSpecialist) Requests() []core.AnalysisRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.AnalysisRequest(nil), f.requests...)
}
