package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/testutil"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/validation"
)

func newTestArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	a, err := NewSQLiteArchive(filepath.Join(t.TempDir(), "nested", "reports.db"), WithNow(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))
	if err != nil {
		t.Fatalf("NewSQLiteArchive() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func sampleAnalysis() *core.TeamAnalysisResult {
	started := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	return &core.TeamAnalysisResult{
		RunID:             "run-1",
		BusinessObjective: "Harden the login flow",
		Findings: []core.ResolvedFinding{{
			Finding:         testutil.SQLInjectionFinding(),
			SourceAgent:     "security-specialist",
			SourceSpecialty: "Security",
			ConsensusWeight: 80,
			Confidence:      0.9,
			Status:          core.StatusValidated,
		}},
		Errors: []core.AgentErrorResult{{
			Specialty: "Performance",
			ErrorCode: "TIMEOUT",
			Message:   "timed out",
			Retryable: true,
		}},
		ExecutiveSummary: "One critical issue.",
		StartedAt:        started,
		CompletedAt:      started.Add(time.Minute),
	}
}

func TestSQLiteArchive_SaveAndGetAnalysis(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	want := sampleAnalysis()

	id, err := a.SaveAnalysis(ctx, want)
	if err != nil {
		t.Fatalf("SaveAnalysis() error = %v", err)
	}
	if id != "run-1" {
		t.Errorf("SaveAnalysis() id = %q, want run ID", id)
	}

	var got core.TeamAnalysisResult
	rec, err := a.Get(ctx, id, &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Kind != KindAnalysis || rec.Title != "Harden the login flow" || rec.Score != nil {
		t.Errorf("Get() record = %+v", rec)
	}
	if diff := cmp.Diff(want, &got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteArchive_ListNewestFirst(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	if _, err := a.SaveAnalysis(ctx, sampleAnalysis()); err != nil {
		t.Fatal(err)
	}
	detID, err := a.SaveDeterminism(ctx, &validation.DeterminismResult{
		ID:               "det-1",
		Objective:        "stability",
		DeterminismScore: 87.5,
		ConsistencyLevel: validation.LevelGood,
	})
	if err != nil {
		t.Fatal(err)
	}
	valID, err := a.SaveValidation(ctx, &validation.ValidationReport{
		DatasetName: "owasp-sample",
		Metrics:     validation.QualityMetrics{MetricSet: validation.MetricSet{F1: 0.75}},
	})
	if err != nil {
		t.Fatal(err)
	}

	all, err := a.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var ids []string
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{valID, detID, "run-1"}, ids); diff != "" {
		t.Errorf("List() order (-want +got):\n%s", diff)
	}
	if all[0].Score == nil || *all[0].Score != 75 {
		t.Errorf("validation score = %v, want 75", all[0].Score)
	}

	dets, err := a.List(ctx, KindDeterminism, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(dets) != 1 || dets[0].Title != "stability" || *dets[0].Score != 87.5 {
		t.Errorf("List(determinism) = %+v", dets)
	}

	limited, err := a.List(ctx, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("List(limit 2) returned %d records", len(limited))
	}
}

func TestSQLiteArchive_SaveOverwrites(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	r := sampleAnalysis()
	if _, err := a.SaveAnalysis(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.ExecutiveSummary = "Revised."
	if _, err := a.SaveAnalysis(ctx, r); err != nil {
		t.Fatal(err)
	}

	records, _ := a.List(ctx, KindAnalysis, 0)
	if len(records) != 1 {
		t.Fatalf("List() returned %d records, want 1", len(records))
	}
	var got core.TeamAnalysisResult
	if _, err := a.Get(ctx, r.RunID, &got); err != nil {
		t.Fatal(err)
	}
	if got.ExecutiveSummary != "Revised." {
		t.Errorf("ExecutiveSummary = %q", got.ExecutiveSummary)
	}
}

func TestSQLiteArchive_NotFoundAndDelete(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	if _, err := a.Get(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if err := a.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}

	id, _ := a.SaveAnalysis(ctx, sampleAnalysis())
	if err := a.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := a.Get(ctx, id, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(deleted) error = %v", err)
	}
}

func TestSQLiteArchive_DetectsTampering(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	id, _ := a.SaveAnalysis(ctx, sampleAnalysis())
	if _, err := a.db.ExecContext(ctx, "UPDATE reports SET payload = '{}' WHERE id = ?", id); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Get(ctx, id, nil); err == nil {
		t.Error("Get() accepted a payload with a stale checksum")
	}
}

func TestSQLiteArchive_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.db")
	a, err := NewSQLiteArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := a.SaveAnalysis(context.Background(), sampleAnalysis())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := NewSQLiteArchive(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer b.Close()
	if _, err := b.Get(context.Background(), id, nil); err != nil {
		t.Errorf("Get() after reopen error = %v", err)
	}
	if _, err := os.Stat(b.Path()); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

func TestSQLiteArchive_RejectsNil(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	if _, err := a.SaveAnalysis(ctx, nil); !core.IsCategory(err, core.ErrCatValidation) {
		t.Errorf("SaveAnalysis(nil) error = %v", err)
	}
	if _, err := a.SaveDeterminism(ctx, nil); err == nil {
		t.Error("SaveDeterminism(nil) succeeded")
	}
	if _, err := a.SaveValidation(ctx, nil); err == nil {
		t.Error("SaveValidation(nil) succeeded")
	}
}
