package service

import (
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

// EvidenceValidator checks quoted evidence against the submitted sources.
// Comparison ignores case and whitespace layout, since models routinely
// re-indent the code they quote.
type EvidenceValidator struct {
	files map[string]string // normalized path -> normalized content
	all   string
}

// NewEvidenceValidator indexes files for lookup.
func NewEvidenceValidator(files []core.SourceFile) *EvidenceValidator {
	v := &EvidenceValidator{files: make(map[string]string, len(files))}
	var all []string
	for _, f := range files {
		content := strings.ToLower(normalizeWhitespace(f.Content))
		v.files[core.ParseLocation(f.Path).File] = content
		all = append(all, content)
	}
	v.all = strings.Join(all, "\n")
	return v
}

// Validate grades a finding's evidence: every snippet found is Validated,
// some found or none supplied is LowConfidence, none found is Failed.
// Reasons explain anything short of Validated.
func (v *EvidenceValidator) Validate(f core.Finding) (core.ValidationStatus, []string) {
	snippets := make([]string, 0, len(f.Evidence))
	for _, e := range f.Evidence {
		if s := strings.ToLower(normalizeWhitespace(e)); s != "" {
			snippets = append(snippets, s)
		}
	}
	if len(snippets) == 0 {
		return core.StatusLowConfidence, []string{"no evidence supplied"}
	}

	haystack := v.all
	if content, ok := v.files[f.Loc().File]; ok {
		haystack = content
	}

	found := 0
	var missing []string
	for i, s := range snippets {
		if strings.Contains(haystack, s) {
			found++
			continue
		}
		missing = append(missing, fmt.Sprintf("evidence #%d not found in source", i+1))
	}

	switch {
	case found == len(snippets):
		return core.StatusValidated, nil
	case found == 0:
		return core.StatusFailed, append(missing, "none of the quoted evidence appears in the submitted code")
	default:
		return core.StatusLowConfidence, missing
	}
}
