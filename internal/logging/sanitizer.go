package logging

import (
	"regexp"
)

// Sanitizer redacts credentials from log messages and attributes. Prompts and
// model responses are logged at debug level and may echo keys pasted into
// submitted source files.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with the default credential patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

var credentialPatterns = []string{
	`sk-ant-[a-zA-Z0-9-]{40,}`,     // Anthropic
	`sk-(?:proj-)?[A-Za-z0-9_-]{20,}`, // OpenAI
	`AIza[a-zA-Z0-9_-]{35}`,         // Google AI
	`gh[pousr]_[A-Za-z0-9]{36}`,     // GitHub tokens
	`AKIA[0-9A-Z]{16}`,              // AWS access key
	`xox[baprs]-[0-9a-zA-Z-]{10,}`,  // Slack
	`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
	`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	`(?i)secret["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	`(?i)password["'\s:=]+[^\s"']{8,}`,
	`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
}

func defaultPatterns() []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(credentialPatterns))
	for _, p := range credentialPatterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}
