package team

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

// analysisPayload is the JSON document a specialist model is asked to return.
type analysisPayload struct {
	KeyFindings     []findingPayload        `json:"key_findings"`
	BusinessImpact  string                  `json:"business_impact"`
	Recommendations []recommendationPayload `json:"recommendations"`
	Confidence      *float64                `json:"confidence"`
}

type findingPayload struct {
	Category    string       `json:"category"`
	Severity    string       `json:"severity"`
	Description string       `json:"description"`
	Location    string       `json:"location"`
	Line        int          `json:"line"`
	Evidence    evidenceList `json:"evidence"`
}

type recommendationPayload struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	ImpactScore float64 `json:"impact_score"`
	Urgency     string  `json:"urgency"`
}

// evidenceList accepts a single snippet or a list of snippets.
type evidenceList []string

func (e *evidenceList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*e = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = evidenceList{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*e = list
	return nil
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*\\n?```")

// ExtractJSON finds the analysis object in a model response: the whole
// response, a CLI result wrapper, a fenced code block, or the first balanced
// object in the text.
func ExtractJSON(output string) (string, bool) {
	output = strings.TrimSpace(output)
	if output == "" {
		return "", false
	}

	if json.Valid([]byte(output)) && strings.HasPrefix(output, "{") {
		// CLI backends wrap the model text: {"type":"result","result":"..."}.
		var wrapper struct {
			Result *string `json:"result"`
		}
		if err := json.Unmarshal([]byte(output), &wrapper); err == nil && wrapper.Result != nil {
			if inner, ok := ExtractJSON(*wrapper.Result); ok {
				return inner, true
			}
		}
		return output, true
	}

	if m := fencedJSON.FindStringSubmatch(output); len(m) == 2 && json.Valid([]byte(m[1])) {
		return m[1], true
	}

	for start := strings.IndexByte(output, '{'); start >= 0; {
		if end := balancedEnd(output[start:]); end > 0 {
			candidate := output[start : start+end]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(output[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// balancedEnd returns the length of the brace-balanced prefix of s, which
// must start with '{', or -1. Braces inside strings are ignored.
func balancedEnd(s string) int {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// ParseAnalysis maps a model response onto an AgentAnalysis. Unknown
// severities default to MEDIUM; findings without a category or description
// are dropped. Output with no analysis object is a PARSE_FAILED error.
func ParseAnalysis(output string) (*core.AgentAnalysis, error) {
	raw, ok := ExtractJSON(output)
	if !ok {
		return nil, core.ErrParse("no JSON object in specialist output").
			WithDetail("output", truncate(output, 200))
	}

	var p analysisPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, core.ErrParse("specialist output is not an analysis document").WithCause(err)
	}
	if p.KeyFindings == nil && p.BusinessImpact == "" && p.Recommendations == nil {
		return nil, core.ErrParse("specialist output has none of key_findings, business_impact or recommendations").
			WithCause(errors.New("unexpected JSON shape"))
	}

	a := &core.AgentAnalysis{
		BusinessImpact: strings.TrimSpace(p.BusinessImpact),
		Confidence:     1,
	}
	if p.Confidence != nil {
		a.Confidence = clampUnit(*p.Confidence)
	}

	for _, f := range p.KeyFindings {
		category := strings.TrimSpace(f.Category)
		if category == "" || strings.TrimSpace(f.Description) == "" {
			continue
		}
		location := strings.TrimSpace(f.Location)
		if f.Line > 0 && !core.ParseLocation(location).HasLine() {
			location = fmt.Sprintf("%s:%d", location, f.Line)
		}
		a.KeyFindings = append(a.KeyFindings, core.Finding{
			Category:    category,
			Severity:    severityOr(f.Severity, core.SeverityMedium),
			Description: strings.TrimSpace(f.Description),
			Location:    location,
			Evidence:    nonBlank(f.Evidence),
		})
	}

	for _, r := range p.Recommendations {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			continue
		}
		a.Recommendations = append(a.Recommendations, core.Recommendation{
			Title:       title,
			Description: strings.TrimSpace(r.Description),
			ImpactScore: int(math.Round(r.ImpactScore)),
			Urgency:     severityOr(r.Urgency, core.SeverityMedium),
		})
	}
	return a, nil
}

func severityOr(s string, def core.Severity) core.Severity {
	sev, err := core.ParseSeverity(s)
	if err != nil || !sev.Valid() {
		return def
	}
	return sev
}

// clampUnit maps a reported confidence into [MinConfidence, 1].
func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < core.MinConfidence:
		return core.MinConfidence
	case v > 1:
		// Some models answer in percent.
		if v <= 100 {
			return v / 100
		}
		return 1
	}
	return v
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
