package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

// DefaultCategoryOwners maps category keywords to the specialty whose domain
// owns them.
func DefaultCategoryOwners() map[string]core.Specialty {
	return map[string]core.Specialty{
		"injection":      core.SpecialtySecurity,
		"xss":            core.SpecialtySecurity,
		"auth":           core.SpecialtySecurity,
		"crypto":         core.SpecialtySecurity,
		"secret":         core.SpecialtySecurity,
		"credential":     core.SpecialtySecurity,
		"password":       core.SpecialtySecurity,
		"vulnerab":       core.SpecialtySecurity,
		"csrf":           core.SpecialtySecurity,
		"traversal":      core.SpecialtySecurity,
		"performance":    core.SpecialtyPerformance,
		"n+1":            core.SpecialtyPerformance,
		"latency":        core.SpecialtyPerformance,
		"memory":         core.SpecialtyPerformance,
		"cache":          core.SpecialtyPerformance,
		"pagination":     core.SpecialtyPerformance,
		"slow":           core.SpecialtyPerformance,
		"coupling":       core.SpecialtyArchitecture,
		"architecture":   core.SpecialtyArchitecture,
		"design":         core.SpecialtyArchitecture,
		"layering":       core.SpecialtyArchitecture,
		"dependency":     core.SpecialtyArchitecture,
		"global state":   core.SpecialtyArchitecture,
		"duplication":    core.SpecialtyMaintainability,
		"naming":         core.SpecialtyMaintainability,
		"readability":    core.SpecialtyMaintainability,
		"maintainab":     core.SpecialtyMaintainability,
		"dead code":      core.SpecialtyMaintainability,
		"complexity":     core.SpecialtyMaintainability,
		"error handling": core.SpecialtyReliability,
		"exception":      core.SpecialtyReliability,
		"race":           core.SpecialtyReliability,
		"concurrency":    core.SpecialtyReliability,
		"leak":           core.SpecialtyReliability,
		"null":           core.SpecialtyReliability,
		"nil":            core.SpecialtyReliability,
	}
}

// contradiction is a pair of findings, by index, that cannot both be right.
type contradiction struct {
	a, b int
	kind core.ConflictKind
}

// detect finds contradictory pairs between findings of different agents.
func (e *ConsensusEngine) detect(fs []core.ResolvedFinding) []contradiction {
	var out []contradiction
	for i := range fs {
		for j := i + 1; j < len(fs); j++ {
			a, b := &fs[i], &fs[j]
			if a.SourceAgent == b.SourceAgent {
				continue
			}
			if SamePreciseLocation(a.Finding.Loc(), b.Finding.Loc()) && oppositeSeverities(a.Finding.Severity, b.Finding.Severity) {
				out = append(out, contradiction{a: i, b: j, kind: core.ConflictSeverity})
			}
			if evidenceOverlaps(a.Finding.Evidence, b.Finding.Evidence) && IsSafeCategory(a.Finding.Category) != IsSafeCategory(b.Finding.Category) {
				out = append(out, contradiction{a: i, b: j, kind: core.ConflictCategory})
			}
		}
	}
	return out
}

// oppositeSeverities reports severities at the two ends of the scale.
func oppositeSeverities(a, b core.Severity) bool {
	return (a == core.SeverityCritical && b == core.SeverityLow) ||
		(a == core.SeverityLow && b == core.SeverityCritical)
}

func evidenceOverlaps(a, b []string) bool {
	for _, x := range a {
		nx := strings.ToLower(normalizeWhitespace(x))
		if nx == "" {
			continue
		}
		for _, y := range b {
			ny := strings.ToLower(normalizeWhitespace(y))
			if ny == "" {
				continue
			}
			if strings.Contains(nx, ny) || strings.Contains(ny, nx) {
				return true
			}
		}
	}
	return false
}

var (
	safeWords   = map[string]bool{"safe": true, "secure": true, "acceptable": true, "compliant": true, "correct": true, "ok": true, "sound": true}
	safePhrases = []string{"no issue", "no issues", "no problem", "no risk", "not vulnerable", "false positive", "not an issue"}
)

// IsSafeCategory reports whether a category asserts the absence of a
// problem ("Safe query construction", "No issue") rather than naming one.
func IsSafeCategory(category string) bool {
	canon := core.CanonicalCategory(category)
	for _, p := range safePhrases {
		if strings.Contains(" "+canon+" ", " "+p+" ") {
			return true
		}
	}
	words := strings.Fields(canon)
	for i, w := range words {
		if safeWords[w] && (i == 0 || words[i-1] != "not") {
			return true
		}
	}
	return false
}

// ConflictResolver settles contradiction groups: specialty priority, then a
// majority vote among three or more agents, then highest severity with a
// confidence penalty.
type ConflictResolver struct {
	owners   map[string]core.Specialty
	keywords []string
	penalty  float64
}

// NewConflictResolver creates a resolver.
func NewConflictResolver(owners map[string]core.Specialty, penalty float64) *ConflictResolver {
	keywords := make([]string, 0, len(owners))
	normalized := make(map[string]core.Specialty, len(owners))
	for k, v := range owners {
		nk := core.CanonicalCategory(k)
		if nk == "" {
			continue
		}
		normalized[nk] = v
		keywords = append(keywords, nk)
	}
	// Longest keyword first so "error handling" beats "error".
	sort.Slice(keywords, func(i, j int) bool {
		if len(keywords[i]) != len(keywords[j]) {
			return len(keywords[i]) > len(keywords[j])
		}
		return keywords[i] < keywords[j]
	})
	return &ConflictResolver{owners: normalized, keywords: keywords, penalty: penalty}
}

// OwnerOf returns the specialty that owns a category. Keywords match at the
// start of a word, so "auth" covers "authentication".
func (r *ConflictResolver) OwnerOf(category string) (core.Specialty, bool) {
	canon := " " + core.CanonicalCategory(category)
	for _, k := range r.keywords {
		if strings.Contains(canon, " "+k) {
			return r.owners[k], true
		}
	}
	return "", false
}

// Resolve groups contradictions into connected components and settles each
// one. Winners in fs are downgraded in place. Members that disagree with the
// winner are returned by index and preserved in the records as dissenting
// opinions; members that agree with it stay in the finding set.
func (r *ConflictResolver) Resolve(fs []core.ResolvedFinding, pairs []contradiction) ([]core.ConflictRecord, map[int]bool) {
	losers := make(map[int]bool)
	if len(pairs) == 0 {
		return nil, losers
	}

	parent := make(map[int]int)
	var find func(int) int
	find = func(x int) int {
		if _, ok := parent[x]; !ok {
			parent[x] = x
		}
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	for _, p := range pairs {
		ra, rb := find(p.a), find(p.b)
		if ra != rb {
			if ra < rb {
				parent[rb] = ra
			} else {
				parent[ra] = rb
			}
		}
	}

	groups := make(map[int][]int)
	kinds := make(map[int]map[core.ConflictKind]bool)
	for _, p := range pairs {
		root := find(p.a)
		if kinds[root] == nil {
			kinds[root] = make(map[core.ConflictKind]bool)
		}
		kinds[root][p.kind] = true
	}
	for x := range parent {
		root := find(x)
		groups[root] = append(groups[root], x)
	}

	roots := make([]int, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	records := make([]core.ConflictRecord, 0, len(roots))
	for n, root := range roots {
		members := groups[root]
		sort.Ints(members)

		contestants := make([]core.ResolvedFinding, len(members))
		for i, m := range members {
			contestants[i] = fs[m]
		}

		winner, policy := r.pick(fs, members)
		w := &fs[winner]

		var loserAgents []string
		var dissent []core.DissentingOpinion
		for _, m := range members {
			l := fs[m]
			if m == winner || agrees(l.Finding, w.Finding) {
				continue
			}
			losers[m] = true
			loserAgents = append(loserAgents, l.SourceAgent)
			dissent = append(dissent, core.DissentingOpinion{
				Agent:     l.SourceAgent,
				Specialty: l.SourceSpecialty,
				Finding:   l.Finding,
				Explanation: fmt.Sprintf("%s rated %q as %s; overruled by %s in favour of %s (%s)",
					l.SourceAgent, l.Finding.Category, l.Finding.Severity, policy, w.SourceAgent, w.Finding.Severity),
			})
		}

		if policy == core.PolicyHighestSeverity {
			w.Confidence *= r.penalty
		}
		w.Downgrade(fmt.Sprintf("contradicted by %s; resolved by %s", strings.Join(loserAgents, ", "), policy))
		RecordConflict(policy)

		records = append(records, core.ConflictRecord{
			ID:                  fmt.Sprintf("conflict-%03d", n+1),
			Kinds:               sortedKinds(kinds[root]),
			Location:            w.Finding.Location,
			Contestants:         contestants,
			Policy:              policy,
			Winner:              w.SourceAgent,
			ResolvedSeverity:    w.Finding.Severity,
			ResolvedDescription: w.Finding.Description,
			DissentingOpinions:  dissent,
		})
	}
	return records, losers
}

// agrees reports whether b takes the same side as a: same polarity and a
// comparable severity.
func agrees(a, b core.Finding) bool {
	return IsSafeCategory(a.Category) == IsSafeCategory(b.Category) &&
		core.SeverityDistance(a.Severity, b.Severity) <= 1
}

// pick chooses the winning member of a contradiction group.
func (r *ConflictResolver) pick(fs []core.ResolvedFinding, members []int) (int, core.ResolutionPolicy) {
	if w, ok := r.bySpecialty(fs, members); ok {
		return w, core.PolicySpecialtyPriority
	}
	if w, ok := byMajority(fs, members); ok {
		return w, core.PolicyMajorityVote
	}
	return bySeverity(fs, members), core.PolicyHighestSeverity
}

// bySpecialty lets the specialty that owns the contested category decide.
// It abstains when no owner is clear or when every contestant is the owner.
func (r *ConflictResolver) bySpecialty(fs []core.ResolvedFinding, members []int) (int, bool) {
	counts := make(map[core.Specialty]int)
	for _, m := range members {
		if owner, ok := r.OwnerOf(fs[m].Finding.Category); ok {
			counts[owner]++
		}
	}
	var owner core.Specialty
	best, tie := 0, false
	for s, c := range counts {
		switch {
		case c > best:
			owner, best, tie = s, c, false
		case c == best:
			tie = true
		}
	}
	if best == 0 || tie {
		return 0, false
	}

	var candidates []int
	for _, m := range members {
		if fs[m].SourceSpecialty.Key() == owner.Key() {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 || len(candidates) == len(members) {
		return 0, false
	}
	return strongest(fs, candidates), true
}

// byMajority needs at least three distinct agents and a position held by
// more than half of them.
func byMajority(fs []core.ResolvedFinding, members []int) (int, bool) {
	agents := make(map[string]bool)
	votes := make(map[string]map[string]bool)
	byPosition := make(map[string][]int)
	for _, m := range members {
		f := fs[m]
		pos := fmt.Sprintf("%t|%s", IsSafeCategory(f.Finding.Category), f.Finding.Severity)
		agents[f.SourceAgent] = true
		if votes[pos] == nil {
			votes[pos] = make(map[string]bool)
		}
		votes[pos][f.SourceAgent] = true
		byPosition[pos] = append(byPosition[pos], m)
	}
	if len(agents) < 3 {
		return 0, false
	}
	for pos, voters := range votes {
		if len(voters)*2 > len(agents) {
			return strongest(fs, byPosition[pos]), true
		}
	}
	return 0, false
}

// bySeverity picks the most severe assessment.
func bySeverity(fs []core.ResolvedFinding, members []int) int {
	best := members[0]
	for _, m := range members[1:] {
		if fs[m].Finding.Severity > fs[best].Finding.Severity {
			best = m
		} else if fs[m].Finding.Severity == fs[best].Finding.Severity && stronger(fs[m], fs[best]) {
			best = m
		}
	}
	return best
}

// strongest picks the member with the highest consensus, then severity,
// then confidence. Earlier members win ties.
func strongest(fs []core.ResolvedFinding, members []int) int {
	best := members[0]
	for _, m := range members[1:] {
		a, b := fs[m], fs[best]
		switch {
		case a.ConsensusWeight != b.ConsensusWeight:
			if a.ConsensusWeight > b.ConsensusWeight {
				best = m
			}
		case a.Finding.Severity != b.Finding.Severity:
			if a.Finding.Severity > b.Finding.Severity {
				best = m
			}
		case a.Confidence > b.Confidence:
			best = m
		}
	}
	return best
}

func stronger(a, b core.ResolvedFinding) bool {
	if a.ConsensusWeight != b.ConsensusWeight {
		return a.ConsensusWeight > b.ConsensusWeight
	}
	return a.Confidence > b.Confidence
}

func sortedKinds(set map[core.ConflictKind]bool) []core.ConflictKind {
	out := make([]core.ConflictKind, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
