package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Severity is the ordinal severity of a finding: LOW < MEDIUM < HIGH < CRITICAL.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// AllSeverities lists the valid severities in ascending order.
var AllSeverities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// String returns the canonical upper-case name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is one of the four ordinal levels.
func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

// ParseSeverity parses a severity name case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "info", "informational", "minor":
		return SeverityLow, nil
	case "medium", "moderate":
		return SeverityMedium, nil
	case "high", "major":
		return SeverityHigh, nil
	case "critical", "severe", "blocker":
		return SeverityCritical, nil
	case "unknown":
		return SeverityUnknown, nil
	}
	return SeverityUnknown, fmt.Errorf("unknown severity %q", s)
}

// SeverityDistance returns the ordinal distance between two severities.
func SeverityDistance(a, b Severity) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}

// MarshalText encodes the severity as its canonical name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Finding is one reported issue. It is immutable once an agent produced it.
type Finding struct {
	Category    string   `json:"category" yaml:"category"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Description string   `json:"description" yaml:"description"`
	Location    string   `json:"location" yaml:"location"`
	Evidence    []string `json:"evidence" yaml:"evidence,omitempty"`
}

// CanonicalCategory returns the category normalized for comparison.
func (f Finding) CanonicalCategory() string {
	return CanonicalCategory(f.Category)
}

// Loc parses the finding's free-text location.
func (f Finding) Loc() Location {
	return ParseLocation(f.Location)
}

// MarshalJSON keeps evidence as an empty list rather than null for readers
// that index into it.
func (f Finding) MarshalJSON() ([]byte, error) {
	type alias Finding
	a := alias(f)
	if a.Evidence == nil {
		a.Evidence = []string{}
	}
	return json.Marshal(a)
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// CanonicalCategory lower-cases a category and collapses punctuation and
// whitespace into single spaces: "SQL-Injection" and "sql injection" compare
// equal.
func CanonicalCategory(category string) string {
	return strings.TrimSpace(nonWord.ReplaceAllString(strings.ToLower(category), " "))
}

// Location is a parsed finding location. Line is zero when absent.
type Location struct {
	File string
	Line int
	Raw  string
}

// HasLine reports whether a line number was present.
func (l Location) HasLine() bool {
	return l.Line > 0
}

// Key returns the normalized location used for grouping: the lower-cased file
// plus the line number when present.
func (l Location) Key() string {
	if l.HasLine() {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return l.File
}

var (
	colonLine   = regexp.MustCompile(`^(.*?):(\d+)(?::\d+)?$`)
	wordLine    = regexp.MustCompile(`(?i)^(.*?)[\s,(]*\blines?\s*(\d+)(?:\s*-\s*\d+)?\)?$`)
	lineNumbers = regexp.MustCompile(`(?i)(:|\bline\s*|\blines\s*)\d+(\s*-\s*\d+)?`)
)

// ParseLocation understands "path:42", "path:42:7", "path line 42",
// "path (line 42)" and "path, lines 40-44". Anything else is treated as a
// file-only location.
func ParseLocation(raw string) Location {
	s := strings.TrimSpace(raw)
	loc := Location{Raw: raw}
	if m := colonLine.FindStringSubmatch(s); m != nil {
		loc.File = normalizePath(m[1])
		loc.Line, _ = strconv.Atoi(m[2])
		return loc
	}
	if m := wordLine.FindStringSubmatch(s); m != nil {
		loc.File = normalizePath(m[1])
		loc.Line, _ = strconv.Atoi(m[2])
		return loc
	}
	loc.File = normalizePath(s)
	return loc
}

// WildcardLines replaces line numbers in a location with '*' so that two
// locations differing only by line compare equal.
func WildcardLines(raw string) string {
	out := lineNumbers.ReplaceAllStringFunc(strings.ToLower(strings.TrimSpace(raw)), func(m string) string {
		if strings.HasPrefix(m, ":") {
			return ":*"
		}
		return "line *"
	})
	return strings.Join(strings.Fields(out), " ")
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.Trim(p, "`'\",()")
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	return strings.ToLower(strings.TrimSpace(p))
}
