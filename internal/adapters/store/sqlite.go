// Package store persists analysis outcomes: a SQLite archive of reports and
// atomic file documents for datasets and exports.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/validation"
)

//go:embed migrations/001_reports.sql
var migrationV1 string

// ErrNotFound is returned when no report has the requested ID.
var ErrNotFound = errors.New("report not found")

// Kind identifies what a stored report contains.
type Kind string

const (
	KindAnalysis    Kind = "analysis"
	KindDeterminism Kind = "determinism"
	KindValidation  Kind = "validation"
)

// Record describes a stored report without its payload.
type Record struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Score     *float64  `json:"score,omitempty"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

// SQLiteArchive stores reports as JSON documents in SQLite.
type SQLiteArchive struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
	now    func() time.Time
}

// ArchiveOption configures the archive.
type ArchiveOption func(*SQLiteArchive)

// WithNow sets the timestamp source for new records.
func WithNow(now func() time.Time) ArchiveOption {
	return func(a *SQLiteArchive) {
		a.now = now
	}
}

// NewSQLiteArchive opens (creating if needed) the archive at dbPath.
func NewSQLiteArchive(dbPath string, opts ...ArchiveOption) (*SQLiteArchive, error) {
	a := &SQLiteArchive{dbPath: dbPath, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.db = db

	if err := a.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return a, nil
}

// Close closes the database connection.
func (a *SQLiteArchive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (a *SQLiteArchive) Path() string {
	return a.dbPath
}

func (a *SQLiteArchive) migrate() error {
	var version int
	err := a.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// table missing on a fresh database
		version = 0
	}
	if version < 1 {
		if _, err := a.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// SaveAnalysis archives a team analysis under its run ID.
func (a *SQLiteArchive) SaveAnalysis(ctx context.Context, r *core.TeamAnalysisResult) (string, error) {
	if r == nil {
		return "", core.ErrValidation(core.CodeInvalidConfig, "analysis result is nil")
	}
	id := r.RunID
	if id == "" {
		id = uuid.NewString()
	}
	return id, a.save(ctx, id, KindAnalysis, r.BusinessObjective, nil, r)
}

// SaveDeterminism archives a determinism measurement under its ID.
func (a *SQLiteArchive) SaveDeterminism(ctx context.Context, r *validation.DeterminismResult) (string, error) {
	if r == nil {
		return "", core.ErrValidation(core.CodeInvalidConfig, "determinism result is nil")
	}
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	score := r.DeterminismScore
	return id, a.save(ctx, id, KindDeterminism, r.Objective, &score, r)
}

// SaveValidation archives a ground-truth report. Reports carry no ID of
// their own, so a new one is assigned; the score is F1 as a percentage.
func (a *SQLiteArchive) SaveValidation(ctx context.Context, r *validation.ValidationReport) (string, error) {
	if r == nil {
		return "", core.ErrValidation(core.CodeInvalidConfig, "validation report is nil")
	}
	id := uuid.NewString()
	score := r.Metrics.F1 * 100
	return id, a.save(ctx, id, KindValidation, r.DatasetName, &score, r)
}

func (a *SQLiteArchive) save(ctx context.Context, id string, kind Kind, title string, score *float64, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s report: %w", kind, err)
	}
	hash := sha256.Sum256(payload)
	checksum := hex.EncodeToString(hash[:])

	a.mu.Lock()
	defer a.mu.Unlock()

	var nullScore sql.NullFloat64
	if score != nil {
		nullScore = sql.NullFloat64{Float64: *score, Valid: true}
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO reports (id, kind, title, score, payload, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			title = excluded.title,
			score = excluded.score,
			payload = excluded.payload,
			checksum = excluded.checksum
	`, id, string(kind), title, nullScore, string(payload), checksum, a.now().UTC())
	if err != nil {
		return fmt.Errorf("saving %s report: %w", kind, err)
	}
	return nil
}

// List returns stored records, newest first. An empty kind lists every kind;
// limit <= 0 means no limit.
func (a *SQLiteArchive) List(ctx context.Context, kind Kind, limit int) ([]Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	query := "SELECT id, kind, title, score, checksum, created_at FROM reports"
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY created_at DESC, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec   Record
			kind  string
			score sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &kind, &rec.Title, &score, &rec.Checksum, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		rec.Kind = Kind(kind)
		if score.Valid {
			s := score.Float64
			rec.Score = &s
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reports: %w", err)
	}
	return records, nil
}

// Get loads the report with the given ID into v and returns its record.
// A payload whose checksum no longer matches is rejected.
func (a *SQLiteArchive) Get(ctx context.Context, id string, v any) (Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var (
		rec     Record
		kind    string
		score   sql.NullFloat64
		payload string
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT id, kind, title, score, payload, checksum, created_at
		FROM reports WHERE id = ?
	`, id).Scan(&rec.ID, &kind, &rec.Title, &score, &payload, &rec.Checksum, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("loading report %s: %w", id, err)
	}
	rec.Kind = Kind(kind)
	if score.Valid {
		s := score.Float64
		rec.Score = &s
	}

	hash := sha256.Sum256([]byte(payload))
	if hex.EncodeToString(hash[:]) != rec.Checksum {
		return rec, fmt.Errorf("report %s: checksum mismatch", id)
	}
	if v != nil {
		if err := json.Unmarshal([]byte(payload), v); err != nil {
			return rec, fmt.Errorf("decoding report %s: %w", id, err)
		}
	}
	return rec, nil
}

// Delete removes a report.
func (a *SQLiteArchive) Delete(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.db.ExecContext(ctx, "DELETE FROM reports WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting report %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
