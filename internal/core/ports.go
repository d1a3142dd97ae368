package core

import (
	"context"
	"strings"
)

// =============================================================================
// Completion Port
// =============================================================================

// Completer is the language-model completion collaborator: prompt in, text
// out. Failures should be reported as DomainErrors (timeout, transport,
// rate-limited, unauthorized) so the resilience layer can classify them.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// =============================================================================
// Specialist Port
// =============================================================================

// FileMetadata is the structural summary produced by the static-analysis
// collaborator. It is passed through to prompts untouched.
type FileMetadata struct {
	Classes              int `json:"classes" yaml:"classes"`
	Methods              int `json:"methods" yaml:"methods"`
	CyclomaticComplexity int `json:"cyclomatic_complexity" yaml:"cyclomatic_complexity"`
	LinesOfCode          int `json:"lines_of_code" yaml:"lines_of_code"`
}

// SourceFile is one file submitted for analysis.
type SourceFile struct {
	Path     string       `json:"path" yaml:"path"`
	Language string       `json:"language,omitempty" yaml:"language,omitempty"`
	Content  string       `json:"content" yaml:"content"`
	Metadata FileMetadata `json:"metadata" yaml:"metadata"`
}

// AnalysisRequest is the input handed to every specialist.
type AnalysisRequest struct {
	Files             []SourceFile
	BusinessObjective string
	ProjectContext    string
}

// Code concatenates all files with path headers.
func (r AnalysisRequest) Code() string {
	var b strings.Builder
	for i, f := range r.Files {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("// File: ")
		b.WriteString(f.Path)
		b.WriteString("\n")
		b.WriteString(f.Content)
	}
	return b.String()
}

// Specialist is one analysis variant. Callers never branch on the concrete
// specialty.
type Specialist interface {
	Specialty() Specialty
	Name() string
	Analyze(ctx context.Context, req AnalysisRequest) (*AgentAnalysis, error)
}

// =============================================================================
// Progress Port
// =============================================================================

// ProgressSink receives incremental status messages. It is a one-way
// notification channel and must not block for long.
type ProgressSink interface {
	Progress(message string)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(message string)

// Progress calls f.
func (f ProgressFunc) Progress(message string) {
	f(message)
}
