// Package decisionlog keeps the decision candidates surfaced at the design
// gate in SQLite. Candidates that pass the significance test wait as
// pending until a human confirms or dismisses them; the rest are logged.
package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/c360studio/semgate/phase"
	"github.com/c360studio/semgate/significance"
)

// Sentinel errors.
var (
	ErrNotFound   = errors.New("decision not found")
	ErrNotPending = errors.New("decision is not pending")
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is replaced in tests.
var timeNow = time.Now

// Status is the review state of a logged candidate.
type Status string

const (
	// StatusPending awaits a human decision on creating a record.
	StatusPending Status = "pending"
	// StatusLogged is a log-only candidate. It never becomes a record.
	StatusLogged Status = "logged"
	// StatusConfirmed was accepted by a human; a record was written.
	StatusConfirmed Status = "confirmed"
	// StatusDismissed was rejected by a human.
	StatusDismissed Status = "dismissed"
)

// IsValid returns true if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusLogged, StatusConfirmed, StatusDismissed:
		return true
	default:
		return false
	}
}

// Entry is one logged candidate.
type Entry struct {
	ID        string                 `json:"id"`
	FeatureID string                 `json:"feature_id"`
	Candidate significance.Candidate `json:"candidate"`
	Status    Status                 `json:"status"`
	Note      string                 `json:"note,omitempty"`
	Record    string                 `json:"record,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	DecidedAt *time.Time             `json:"decided_at,omitempty"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	FeatureID string
	Status    Status
	Tier      significance.Tier
}

// Log is the SQLite decision log. It is safe for concurrent use.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ phase.Observer = (*Log)(nil)

// Open opens or creates the database at path.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("decisionlog: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("decisionlog: open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("decisionlog: pragma %q: %w", p, err)
		}
	}

	l := &Log{db: db, logger: logger}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("decisionlog: migration: %w", err)
	}
	return l, nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS decisions (
			id          TEXT PRIMARY KEY,
			feature_id  TEXT NOT NULL,
			text        TEXT NOT NULL,
			candidate   TEXT NOT NULL,
			verdict     TEXT NOT NULL,
			status      TEXT NOT NULL,
			note        TEXT NOT NULL DEFAULT '',
			record      TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			decided_at  TEXT,
			UNIQUE (feature_id, text)
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_feature ON decisions(feature_id);
		CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record logs candidates for a feature. A candidate whose verdict is
// create-record starts pending; every other candidate is logged. A
// candidate already logged for the feature is left as it is, so repeated
// gates do not reopen decided entries. It returns the entries inserted.
func (l *Log) Record(ctx context.Context, featureID string, candidates []significance.Candidate) ([]Entry, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("decisionlog: begin: %w", err)
	}
	defer tx.Rollback()

	var inserted []Entry
	now := timeNow().UTC()
	for _, c := range candidates {
		status := StatusLogged
		if c.Verdict == significance.VerdictCreateRecord {
			status = StatusPending
		}
		data, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("decisionlog: encode candidate: %w", err)
		}

		e := Entry{ID: uuid.NewString(), FeatureID: featureID, Candidate: c, Status: status, CreatedAt: now}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO decisions (id, feature_id, text, candidate, verdict, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (feature_id, text) DO NOTHING`,
			e.ID, featureID, c.Text, string(data), string(c.Verdict), string(status), formatTime(now))
		if err != nil {
			return nil, fmt.Errorf("decisionlog: insert: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, e)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("decisionlog: commit: %w", err)
	}
	return inserted, nil
}

// ObserveTransition logs the candidates of a successful design gate.
func (l *Log) ObserveTransition(ctx context.Context, ev phase.Event) error {
	if !ev.Advanced || len(ev.Candidates) == 0 {
		return nil
	}
	inserted, err := l.Record(ctx, ev.FeatureID, ev.Candidates)
	if err != nil {
		return err
	}
	pending := 0
	for _, e := range inserted {
		if e.Status == StatusPending {
			pending++
		}
	}
	l.logger.Info("Decision candidates logged", "feature", ev.FeatureID,
		"logged", len(inserted), "pending", pending)
	return nil
}

const selectColumns = `SELECT id, feature_id, candidate, status, note, record, created_at, decided_at FROM decisions`

// Get returns one entry.
func (l *Log) Get(ctx context.Context, id string) (Entry, error) {
	row := l.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

// List returns entries in creation order, then by span position.
func (l *Log) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.FeatureID != "" {
		where = append(where, "feature_id = ?")
		args = append(args, f.FeatureID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Tier != "" {
		where = append(where, "json_extract(candidate, '$.tier') = ?")
		args = append(args, string(f.Tier))
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, feature_id, json_extract(candidate, '$.span.start')"

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("decisionlog: list: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Confirm marks a pending entry confirmed. Only a human calls this; the log
// never confirms on its own.
func (l *Log) Confirm(ctx context.Context, id, note string) (Entry, error) {
	return l.decide(ctx, id, StatusConfirmed, note)
}

// Dismiss marks a pending entry dismissed.
func (l *Log) Dismiss(ctx context.Context, id, note string) (Entry, error) {
	return l.decide(ctx, id, StatusDismissed, note)
}

func (l *Log) decide(ctx context.Context, id string, status Status, note string) (Entry, error) {
	now := timeNow().UTC()
	res, err := l.db.ExecContext(ctx,
		`UPDATE decisions SET status = ?, note = ?, decided_at = ? WHERE id = ? AND status = ?`,
		string(status), note, formatTime(now), id, string(StatusPending))
	if err != nil {
		return Entry{}, fmt.Errorf("decisionlog: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		e, err := l.Get(ctx, id)
		if err != nil {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("%w: %s is %s", ErrNotPending, id, e.Status)
	}
	return l.Get(ctx, id)
}

// SetRecord stores where the confirmed entry's record was written.
func (l *Log) SetRecord(ctx context.Context, id, record string) error {
	res, err := l.db.ExecContext(ctx, `UPDATE decisions SET record = ? WHERE id = ?`, record, id)
	if err != nil {
		return fmt.Errorf("decisionlog: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e         Entry
		candidate string
		status    string
		created   string
		decided   sql.NullString
	)
	if err := s.Scan(&e.ID, &e.FeatureID, &candidate, &status, &e.Note, &e.Record, &created, &decided); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(candidate), &e.Candidate); err != nil {
		return Entry{}, fmt.Errorf("decisionlog: decode candidate %s: %w", e.ID, err)
	}
	e.Status = Status(status)

	var err error
	if e.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
		return Entry{}, fmt.Errorf("decisionlog: created_at %s: %w", e.ID, err)
	}
	if decided.Valid {
		t, err := time.Parse(timeFormat, decided.String)
		if err != nil {
			return Entry{}, fmt.Errorf("decisionlog: decided_at %s: %w", e.ID, err)
		}
		e.DecidedAt = &t
	}
	return e, nil
}

// timeFormat is fixed width so stored times sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}
