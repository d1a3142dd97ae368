package service

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// PromptRenderer renders prompts from templates.
type PromptRenderer struct {
	templates map[string]*template.Template
}

// NewPromptRenderer creates a new prompt renderer.
func NewPromptRenderer() (*PromptRenderer, error) {
	r := &PromptRenderer{
		templates: make(map[string]*template.Template),
	}

	if err := r.loadTemplates(); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	return r, nil
}

// loadTemplates loads all templates from the embedded filesystem.
func (r *PromptRenderer) loadTemplates() error {
	return fs.WalkDir(promptsFS, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ".md.tmpl") {
			return nil
		}

		content, err := promptsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		name := strings.TrimPrefix(path, "prompts/")
		name = strings.TrimSuffix(name, ".md.tmpl")

		tmpl, err := template.New(name).Funcs(templateFuncs()).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", name, err)
		}

		r.templates[name] = tmpl
		return nil
	})
}

// templateFuncs returns custom template functions.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"join":      strings.Join,
		"indent":    indent,
		"trimSpace": strings.TrimSpace,
		"upper":     strings.ToUpper,
		"lower":     strings.ToLower,
		"add":       func(a, b int) int { return a + b },
		"pct":       func(f float64) string { return fmt.Sprintf("%.0f%%", f) },
	}
}

func indent(spaces int, s string) string {
	pad := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n")
}

// focusAreas lists what each built-in specialty looks for.
var focusAreas = map[core.Specialty][]string{
	core.SpecialtySecurity: {
		"Injection flaws (SQL, command, template)",
		"Hard-coded secrets and credentials",
		"Authentication and session handling",
		"Password storage and cryptography",
		"Input validation and output encoding",
	},
	core.SpecialtyPerformance: {
		"Algorithmic complexity and nested loops",
		"Unbounded queries and missing pagination",
		"N+1 data access patterns",
		"Memory growth and caching",
		"Blocking I/O on hot paths",
	},
	core.SpecialtyArchitecture: {
		"Layering and separation of concerns",
		"Coupling between modules and global state",
		"Dependency direction and injection",
		"Cohesion of types and services",
	},
	core.SpecialtyMaintainability: {
		"Duplication and dead code",
		"Naming and readability",
		"Function size and cyclomatic complexity",
		"Test seams and documentation",
	},
	core.SpecialtyReliability: {
		"Error handling and swallowed exceptions",
		"Resource leaks",
		"Concurrency hazards and races",
		"Nil or null dereferences",
	},
}

// FocusAreas returns the focus areas for a specialty. Specialties registered
// at runtime without their own list get a general review brief.
func FocusAreas(specialty core.Specialty) []string {
	for s, areas := range focusAreas {
		if s.Key() == specialty.Key() {
			return append([]string(nil), areas...)
		}
	}
	return []string{
		fmt.Sprintf("Issues that fall under %s", specialty),
		"Business risk introduced by the code as written",
	}
}

// SpecialistPromptParams contains parameters for the specialist template.
type SpecialistPromptParams struct {
	Specialty         core.Specialty
	FocusAreas        []string
	BusinessObjective string
	ProjectContext    string
	Files             []core.SourceFile
}

// RenderSpecialist renders the analysis prompt for one specialty.
func (r *PromptRenderer) RenderSpecialist(params SpecialistPromptParams) (string, error) {
	if len(params.FocusAreas) == 0 {
		params.FocusAreas = FocusAreas(params.Specialty)
	}
	return r.render("specialist-analyze", params)
}

// SummaryPromptParams contains parameters for the executive summary template.
type SummaryPromptParams struct {
	BusinessObjective string
	Specialties       []core.Specialty
	Findings          []core.ResolvedFinding
	Recommendations   []core.RankedRecommendation
	ConflictCount     int
	Errors            []core.AgentErrorResult
}

// RenderExecutiveSummary renders the executive summary prompt.
func (r *PromptRenderer) RenderExecutiveSummary(params SummaryPromptParams) (string, error) {
	return r.render("executive-summary", params)
}

// render executes a template with the given data.
func (r *PromptRenderer) render(name string, data interface{}) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template %q not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}

	return buf.String(), nil
}
