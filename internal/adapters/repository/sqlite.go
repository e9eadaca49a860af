package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/okian/festboard/internal/domain/model"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS results (
    id TEXT PRIMARY KEY,
    program_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    entity_kind TEXT NOT NULL CHECK (entity_kind IN ('student', 'team')),
    placement INTEGER NOT NULL CHECK (placement BETWEEN 1 AND 3),
    grade TEXT NOT NULL CHECK (grade IN ('A', 'B', 'C', 'none')),
    event_type TEXT NOT NULL CHECK (event_type IN ('single', 'group')),
    status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected', 'superseded')),
    version INTEGER NOT NULL DEFAULT 1,
    supersedes TEXT NOT NULL DEFAULT '',
    submitted_at INTEGER NOT NULL,
    decided_at INTEGER,
    approved_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_results_status ON results(status);
CREATE INDEX IF NOT EXISTS idx_results_entity ON results(entity_kind, entity_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_results_open_correction
    ON results(supersedes) WHERE status = 'pending' AND supersedes <> '';
`

// SQLStore persists records in a SQLite database through database/sql.
type SQLStore struct {
	db   *sql.DB
	opts options
}

var _ ResultStore = (*SQLStore)(nil)

// OpenSQLite opens (or creates) the database file at path and applies the
// schema. The pool holds one connection, so SQLite sees a single writer.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classify("ping", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLStore{db: db, opts: applyOptions(opts)}, nil
}

// Submit implements ResultStore.
func (s *SQLStore) Submit(ctx context.Context, r model.Record) (out model.Record, err error) {
	defer func(start time.Time) { observe("submit", start, err) }(time.Now())

	r, err = prepareSubmit(r, s.opts.newID(), s.opts.now())
	if err != nil {
		return model.Record{}, err
	}
	if err := insertSQLite(ctx, s.db, r); err != nil {
		return model.Record{}, classify("submit", err)
	}
	return r, nil
}

// Approve implements ResultStore.
func (s *SQLStore) Approve(ctx context.Context, id string) (out model.Record, err error) {
	defer func(start time.Time) { observe("approve", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Record{}, classify("approve", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.opts.now().UnixNano()
	row := tx.QueryRowContext(ctx, `UPDATE results
		SET status = 'approved', decided_at = ?, approved_at = ?
		WHERE id = ? AND status = 'pending'
		RETURNING `+recordColumns, now, now, id)
	r, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		cur, found, lerr := getSQLite(ctx, tx, id)
		if lerr != nil {
			return model.Record{}, classify("approve", lerr)
		}
		return model.Record{}, decisionError(id, cur, found)
	}
	if err != nil {
		return model.Record{}, classify("approve", err)
	}

	if r.Supersedes != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE results SET status = 'superseded' WHERE id = ? AND status = 'approved'`,
			r.Supersedes); err != nil {
			return model.Record{}, classify("approve", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Record{}, classify("approve", err)
	}
	return r, nil
}

// Reject implements ResultStore.
func (s *SQLStore) Reject(ctx context.Context, id string) (out model.Record, err error) {
	defer func(start time.Time) { observe("reject", start, err) }(time.Now())

	row := s.db.QueryRowContext(ctx, `UPDATE results
		SET status = 'rejected', decided_at = ?
		WHERE id = ? AND status = 'pending'
		RETURNING `+recordColumns, s.opts.now().UnixNano(), id)
	r, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		cur, found, lerr := getSQLite(ctx, s.db, id)
		if lerr != nil {
			return model.Record{}, classify("reject", lerr)
		}
		return model.Record{}, decisionError(id, cur, found)
	}
	if err != nil {
		return model.Record{}, classify("reject", err)
	}
	return r, nil
}

// Correct implements ResultStore.
func (s *SQLStore) Correct(ctx context.Context, id string, c model.Correction) (out model.Record, err error) {
	defer func(start time.Time) { observe("correct", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Record{}, classify("correct", err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, found, err := getSQLite(ctx, tx, id)
	if err != nil {
		return model.Record{}, classify("correct", err)
	}
	if !found {
		return model.Record{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if prev.Status != model.StatusApproved {
		return model.Record{}, fmt.Errorf("%w: only approved records can be corrected, %s is %s",
			model.ErrInvalidState, id, prev.Status)
	}

	var open string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM results WHERE supersedes = ? AND status = 'pending' LIMIT 1`, id).Scan(&open)
	switch {
	case err == nil:
		return model.Record{}, fmt.Errorf("%w: %s already has an open correction %s",
			model.ErrInvalidState, id, open)
	case !errors.Is(err, sql.ErrNoRows):
		return model.Record{}, classify("correct", err)
	}

	next, err := c.Apply(prev)
	if err != nil {
		return model.Record{}, err
	}
	next.ID = s.opts.newID()
	next.SubmittedAt = s.opts.now()
	if err := insertSQLite(ctx, tx, next); err != nil {
		return model.Record{}, classify("correct", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Record{}, classify("correct", err)
	}
	return next, nil
}

// Get implements ResultStore.
func (s *SQLStore) Get(ctx context.Context, id string) (out model.Record, err error) {
	defer func(start time.Time) { observe("get", start, err) }(time.Now())

	r, found, err := getSQLite(ctx, s.db, id)
	if err != nil {
		return model.Record{}, classify("get", err)
	}
	if !found {
		return model.Record{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return r, nil
}

// List implements ResultStore.
func (s *SQLStore) List(ctx context.Context, f Filter) (out []model.Record, err error) {
	defer func(start time.Time) { observe("list", start, err) }(time.Now())
	return s.list(ctx, f)
}

// ListApproved implements ResultStore.
func (s *SQLStore) ListApproved(ctx context.Context, f Filter) (out []model.Record, err error) {
	defer func(start time.Time) { observe("list_approved", start, err) }(time.Now())
	f.Status = model.StatusApproved
	return s.list(ctx, f)
}

func (s *SQLStore) list(ctx context.Context, f Filter) ([]model.Record, error) {
	clause, args := where(f, questionMark)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM results`+clause+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, classify("list", err)
	}
	defer rows.Close()

	out := make([]model.Record, 0)
	for rows.Next() {
		r, err := scanSQLite(rows)
		if err != nil {
			return nil, classify("list", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list", err)
	}
	return out, nil
}

// Close implements ResultStore.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertSQLite(ctx context.Context, q sqlQuerier, r model.Record) error {
	_, err := q.ExecContext(ctx, `INSERT INTO results (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProgramID, r.EntityID, string(r.EntityKind), r.Placement, string(r.Grade),
		string(r.EventType), string(r.Status), r.Version, r.Supersedes,
		r.SubmittedAt.UnixNano(), unixNano(r.DecidedAt), unixNano(r.ApprovedAt))
	return err
}

func getSQLite(ctx context.Context, q sqlQuerier, id string) (model.Record, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM results WHERE id = ?`, id)
	r, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, err
	}
	return r, true, nil
}

func scanSQLite(row scanner) (model.Record, error) {
	var (
		r                   model.Record
		kind, grade, et, st string
		submitted           int64
		decided, approvedAt sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.ProgramID, &r.EntityID, &kind, &r.Placement, &grade, &et,
		&st, &r.Version, &r.Supersedes, &submitted, &decided, &approvedAt); err != nil {
		return model.Record{}, err
	}
	r.EntityKind = model.EntityKind(kind)
	r.Grade = model.Grade(grade)
	r.EventType = model.EventType(et)
	r.Status = model.Status(st)
	r.SubmittedAt = time.Unix(0, submitted).UTC()
	r.DecidedAt = fromNullNano(decided)
	r.ApprovedAt = fromNullNano(approvedAt)
	return r, nil
}

func unixNano(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNullNano(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
