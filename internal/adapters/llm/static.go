package llm

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

// EmptyAnalysis is the static reply when nothing else is configured: a
// well-formed analysis without findings.
const EmptyAnalysis = `{"key_findings": [], "business_impact": "No analysis performed (static provider).", "recommendations": [], "confidence": 0.5}`

// StaticCompleter answers every prompt with canned text. Replies can be keyed
// by specialty; the specialty is recognised from the prompt's opening line.
type StaticCompleter struct {
	bySpecialty map[string]string
	fallback    string
}

// NewStaticCompleter returns a completer that always replies with text.
func NewStaticCompleter(text string) *StaticCompleter {
	if strings.TrimSpace(text) == "" {
		text = EmptyAnalysis
	}
	return &StaticCompleter{fallback: text}
}

// staticResponses is the YAML document loaded by LoadStaticResponses:
//
//	default: '{"key_findings": []}'
//	specialties:
//	  Security: '{"key_findings": [...]}'
type staticResponses struct {
	Default     string            `yaml:"default"`
	Specialties map[string]string `yaml:"specialties"`
}

// ReadStaticResponses builds a completer from a YAML document.
func ReadStaticResponses(r io.Reader) (*StaticCompleter, error) {
	var doc staticResponses
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding static responses: %w", err)
	}
	c := NewStaticCompleter(doc.Default)
	if len(doc.Specialties) > 0 {
		c.bySpecialty = make(map[string]string, len(doc.Specialties))
		for name, text := range doc.Specialties {
			c.bySpecialty[core.Specialty(name).Key()] = text
		}
	}
	return c, nil
}

// LoadStaticResponses reads a static responses file.
func LoadStaticResponses(path string) (*StaticCompleter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening static responses: %w", err)
	}
	defer f.Close()
	return ReadStaticResponses(f)
}

// Complete implements core.Completer.
func (s *StaticCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", core.ErrCancelled("static completion cancelled").WithCause(err)
	}
	if name, ok := promptSpecialty(prompt); ok {
		if text, ok := s.bySpecialty[core.Specialty(name).Key()]; ok {
			return text, nil
		}
	}
	return s.fallback, nil
}

// promptSpecialty extracts X from a prompt starting "You are the X specialist".
func promptSpecialty(prompt string) (string, bool) {
	const prefix = "You are the "
	line, _, _ := strings.Cut(strings.TrimSpace(prompt), "\n")
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	name, _, ok := strings.Cut(strings.TrimPrefix(line, prefix), " specialist")
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
