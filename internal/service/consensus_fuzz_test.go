//go:build go1.18

package service_test

import (
	"strings"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service"
)

func FuzzJaccardSimilarity(f *testing.F) {
	f.Add("hello world", "hello there")
	f.Add("the quick brown fox", "the quick brown dog")
	f.Add("", "")
	f.Add("a", "a")
	f.Add("completely different", "nothing alike")
	f.Add("repeated repeated repeated", "repeated once")

	f.Fuzz(func(t *testing.T, a, b string) {
		wordsA := strings.Fields(a)
		wordsB := strings.Fields(b)

		score := service.JaccardSimilarity(wordsA, wordsB)
		if score < 0 || score > 1 {
			t.Errorf("score out of range: %f", score)
		}
		if reverse := service.JaccardSimilarity(wordsB, wordsA); score != reverse {
			t.Errorf("not symmetric: %f != %f", score, reverse)
		}
		if len(wordsA) > 0 {
			if self := service.JaccardSimilarity(wordsA, wordsA); self != 1.0 {
				t.Errorf("self similarity should be 1.0, got %f", self)
			}
		}
	})
}

func FuzzConsensusWeightBounds(f *testing.F) {
	f.Add("SQL Injection", "UserService.py:22", 4, "SQL injection", "UserService.py line 22", 1, 0.9, 0.4)
	f.Add("", "", 0, "", "", 0, 0.0, 0.0)
	f.Add("Safe query", "a.go:1", 1, "Injection", "a.go:1", 4, 1.5, -2.0)

	f.Fuzz(func(t *testing.T, catA, locA string, sevA int, catB, locB string, sevB int, confA, confB float64) {
		analyses := []core.AgentAnalysis{
			{
				Specialty:   core.SpecialtySecurity,
				AgentName:   "a",
				Confidence:  confA,
				KeyFindings: []core.Finding{{Category: catA, Location: locA, Severity: core.Severity((sevA%5 + 5) % 5), Evidence: []string{locA}}},
			},
			{
				Specialty:   core.SpecialtyPerformance,
				AgentName:   "b",
				Confidence:  confB,
				KeyFindings: []core.Finding{{Category: catB, Location: locB, Severity: core.Severity((sevB%5 + 5) % 5), Evidence: []string{locB}}},
			},
		}

		engine := service.NewConsensusEngine(service.DefaultConsensusConfig(), nil)
		result := engine.Review(analyses, nil)

		for _, rf := range result.Findings {
			if rf.ConsensusWeight < 0 || rf.ConsensusWeight > 100 {
				t.Errorf("consensus weight out of range: %f", rf.ConsensusWeight)
			}
		}
		total := len(result.Findings)
		for _, c := range result.Conflicts {
			total += len(c.DissentingOpinions)
		}
		if total != 2 {
			t.Errorf("findings plus dissent = %d, want 2 (nothing is dropped)", total)
		}
	})
}
