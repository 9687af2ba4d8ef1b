// Package ledger keeps a local history of upload attempts in SQLite.
//
// The ledger is an audit trail only. It never stores image bytes or upload
// targets and the upload pipeline never reads it back, so a lost or deleted
// database changes nothing about how uploads behave.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/tonimelisma/lapse-go/internal/upload"
)

// DBFileName is the ledger database file inside the data directory.
const DBFileName = "history.db"

// walJournalSizeLimit caps the WAL file at 64 MiB.
const walJournalSizeLimit = 67108864

// Outcome is the terminal state of an attempt.
type Outcome string

// Attempt outcomes.
const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// ErrAttemptNotFound is returned when an update targets an unknown attempt.
var ErrAttemptNotFound = errors.New("ledger: attempt not found")

// Entry is one recorded upload attempt.
type Entry struct {
	AttemptID  string
	Source     string
	Size       int
	TakenAt    time.Time
	StartedAt  time.Time
	FinishedAt time.Time // zero while pending
	Stage      upload.Stage
	Outcome    Outcome
	Error      string
}

// Orphaned reports whether the attempt transferred its object but never
// registered a media record for it. A failed transfer may also leave partial
// data at the target, but the service never confirmed an object there, so
// transfer-stage failures are not counted as orphans.
func (e Entry) Orphaned() bool {
	return e.Outcome == OutcomeFailed && e.Stage == upload.StageRegister
}

// Store is a SQLite-backed upload history. It implements upload.Recorder.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ upload.Recorder = (*Store)(nil)

// Open opens (creating if needed) the ledger at dbPath and applies
// migrations. Use ":memory:" for tests.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("opening upload ledger", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = NORMAL", "synchronous NORMAL"},
		{"PRAGMA busy_timeout = 5000", "busy timeout"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("ledger: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", slog.String("pragma", p.desc))
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records a new pending attempt.
func (s *Store) Begin(ctx context.Context, a upload.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO upload_attempts (attempt_id, source, size, taken_at, started_at, stage, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Source, a.Size, a.TakenAt.UnixNano(), s.now().UnixNano(),
		string(upload.StageAcquireTarget), string(OutcomePending),
	)
	if err != nil {
		return fmt.Errorf("ledger: recording attempt %s: %w", a.ID, err)
	}

	return nil
}

// Stage records the stage an attempt has reached.
func (s *Store) Stage(ctx context.Context, attemptID string, stage upload.Stage) error {
	return s.update(ctx, attemptID,
		`UPDATE upload_attempts SET stage = ? WHERE attempt_id = ?`,
		string(stage), attemptID,
	)
}

// Finish records the terminal outcome. A nil err means success.
func (s *Store) Finish(ctx context.Context, attemptID string, err error) error {
	outcome, msg := OutcomeSucceeded, ""
	if err != nil {
		outcome, msg = OutcomeFailed, err.Error()
	}

	return s.update(ctx, attemptID,
		`UPDATE upload_attempts SET outcome = ?, error = ?, finished_at = ? WHERE attempt_id = ?`,
		string(outcome), msg, s.now().UnixNano(), attemptID,
	)
}

func (s *Store) update(ctx context.Context, attemptID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ledger: updating attempt %s: %w", attemptID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: updating attempt %s: %w", attemptID, err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAttemptNotFound, attemptID)
	}

	return nil
}

// List returns the most recent attempts, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}

	return s.query(ctx,
		`SELECT attempt_id, source, size, taken_at, started_at, finished_at, stage, outcome, error
		 FROM upload_attempts ORDER BY started_at DESC, attempt_id DESC LIMIT ?`,
		limit,
	)
}

// Orphans returns failed attempts whose object was transferred but never
// registered, newest first. See Entry.Orphaned.
func (s *Store) Orphans(ctx context.Context) ([]Entry, error) {
	return s.query(ctx,
		`SELECT attempt_id, source, size, taken_at, started_at, finished_at, stage, outcome, error
		 FROM upload_attempts WHERE outcome = ? AND stage = ?
		 ORDER BY started_at DESC, attempt_id DESC`,
		string(OutcomeFailed), string(upload.StageRegister),
	)
}

// Uploaded reports whether source has a successful attempt on record.
func (s *Store) Uploaded(ctx context.Context, source string) (bool, error) {
	var n int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upload_attempts WHERE source = ? AND outcome = ?`,
		source, string(OutcomeSucceeded),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("ledger: checking %s: %w", source, err)
	}

	return n > 0, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing attempts: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e                Entry
			takenAt, started int64
			finished         sql.NullInt64
			stage, outcome   string
		)

		if err := rows.Scan(&e.AttemptID, &e.Source, &e.Size, &takenAt, &started, &finished,
			&stage, &outcome, &e.Error); err != nil {
			return nil, fmt.Errorf("ledger: scanning attempt: %w", err)
		}

		e.TakenAt = time.Unix(0, takenAt).UTC()
		e.StartedAt = time.Unix(0, started).UTC()

		if finished.Valid {
			e.FinishedAt = time.Unix(0, finished.Int64).UTC()
		}

		e.Stage = upload.Stage(stage)
		e.Outcome = Outcome(outcome)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating attempts: %w", err)
	}

	return entries, nil
}
