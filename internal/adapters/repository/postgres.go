package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/festboard/internal/domain/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS results (
    seq BIGSERIAL,
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
    submitted_at TIMESTAMPTZ NOT NULL,
    decided_at TIMESTAMPTZ,
    approved_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_results_status ON results(status);
CREATE INDEX IF NOT EXISTS idx_results_entity ON results(entity_kind, entity_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_results_open_correction
    ON results(supersedes) WHERE status = 'pending' AND supersedes <> '';
`

// pgQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists records in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts options
}

var _ ResultStore = (*PostgresStore)(nil)

// OpenPostgres connects to databaseURL, verifies the connection and applies
// the schema.
func OpenPostgres(ctx context.Context, databaseURL string, opts ...Option) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse database URL: %w", err)
	}
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("ping", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}
	return &PostgresStore{pool: pool, opts: applyOptions(opts)}, nil
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *PostgresStore) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Submit implements ResultStore.
func (s *PostgresStore) Submit(ctx context.Context, r model.Record) (out model.Record, err error) {
	defer func(start time.Time) { observe("submit", start, err) }(time.Now())

	r, err = prepareSubmit(r, s.opts.newID(), s.opts.now())
	if err != nil {
		return model.Record{}, err
	}
	if err := insertPostgres(ctx, s.pool, r); err != nil {
		return model.Record{}, classify("submit", err)
	}
	return r, nil
}

// Approve implements ResultStore.
func (s *PostgresStore) Approve(ctx context.Context, id string) (out model.Record, err error) {
	defer func(start time.Time) { observe("approve", start, err) }(time.Now())

	now := s.opts.now()
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `UPDATE results
			SET status = 'approved', decided_at = $1, approved_at = $1
			WHERE id = $2 AND status = 'pending'
			RETURNING `+recordColumns, now, id)
		r, err := scanPostgres(row)
		if errors.Is(err, pgx.ErrNoRows) {
			cur, found, lerr := getPostgres(ctx, tx, id)
			if lerr != nil {
				return lerr
			}
			return decisionError(id, cur, found)
		}
		if err != nil {
			return err
		}
		if r.Supersedes != "" {
			if _, err := tx.Exec(ctx,
				`UPDATE results SET status = 'superseded' WHERE id = $1 AND status = 'approved'`,
				r.Supersedes); err != nil {
				return err
			}
		}
		out = r
		return nil
	})
	if err != nil {
		return model.Record{}, classify("approve", err)
	}
	return out, nil
}

// Reject implements ResultStore.
func (s *PostgresStore) Reject(ctx context.Context, id string) (out model.Record, err error) {
	defer func(start time.Time) { observe("reject", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `UPDATE results
		SET status = 'rejected', decided_at = $1
		WHERE id = $2 AND status = 'pending'
		RETURNING `+recordColumns, s.opts.now(), id)
	r, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		cur, found, lerr := getPostgres(ctx, s.pool, id)
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
func (s *PostgresStore) Correct(ctx context.Context, id string, c model.Correction) (out model.Record, err error) {
	defer func(start time.Time) { observe("correct", start, err) }(time.Now())

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM results WHERE id = $1 FOR UPDATE`, id)
		prev, err := scanPostgres(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", model.ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if prev.Status != model.StatusApproved {
			return fmt.Errorf("%w: only approved records can be corrected, %s is %s",
				model.ErrInvalidState, id, prev.Status)
		}

		next, err := c.Apply(prev)
		if err != nil {
			return err
		}
		next.ID = s.opts.newID()
		next.SubmittedAt = s.opts.now()
		if err := insertPostgres(ctx, tx, next); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s already has an open correction", model.ErrInvalidState, id)
			}
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return model.Record{}, classify("correct", err)
	}
	return out, nil
}

// Get implements ResultStore.
func (s *PostgresStore) Get(ctx context.Context, id string) (out model.Record, err error) {
	defer func(start time.Time) { observe("get", start, err) }(time.Now())

	r, found, err := getPostgres(ctx, s.pool, id)
	if err != nil {
		return model.Record{}, classify("get", err)
	}
	if !found {
		return model.Record{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return r, nil
}

// List implements ResultStore.
func (s *PostgresStore) List(ctx context.Context, f Filter) (out []model.Record, err error) {
	defer func(start time.Time) { observe("list", start, err) }(time.Now())
	return s.list(ctx, f)
}

// ListApproved implements ResultStore.
func (s *PostgresStore) ListApproved(ctx context.Context, f Filter) (out []model.Record, err error) {
	defer func(start time.Time) { observe("list_approved", start, err) }(time.Now())
	f.Status = model.StatusApproved
	return s.list(ctx, f)
}

func (s *PostgresStore) list(ctx context.Context, f Filter) ([]model.Record, error) {
	clause, args := where(f, dollar)
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM results`+clause+` ORDER BY seq`, args...)
	if err != nil {
		return nil, classify("list", err)
	}
	defer rows.Close()

	out := make([]model.Record, 0)
	for rows.Next() {
		r, err := scanPostgres(rows)
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
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func insertPostgres(ctx context.Context, q pgQuerier, r model.Record) error {
	_, err := q.Exec(ctx, `INSERT INTO results (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.ProgramID, r.EntityID, string(r.EntityKind), r.Placement, string(r.Grade),
		string(r.EventType), string(r.Status), r.Version, r.Supersedes,
		r.SubmittedAt, r.DecidedAt, r.ApprovedAt)
	return err
}

func getPostgres(ctx context.Context, q pgQuerier, id string) (model.Record, bool, error) {
	row := q.QueryRow(ctx, `SELECT `+recordColumns+` FROM results WHERE id = $1`, id)
	r, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, err
	}
	return r, true, nil
}

func scanPostgres(row scanner) (model.Record, error) {
	var (
		r                   model.Record
		kind, grade, et, st string
	)
	if err := row.Scan(&r.ID, &r.ProgramID, &r.EntityID, &kind, &r.Placement, &grade, &et,
		&st, &r.Version, &r.Supersedes, &r.SubmittedAt, &r.DecidedAt, &r.ApprovedAt); err != nil {
		return model.Record{}, err
	}
	r.EntityKind = model.EntityKind(kind)
	r.Grade = model.Grade(grade)
	r.EventType = model.EventType(et)
	r.Status = model.Status(st)
	r.SubmittedAt = r.SubmittedAt.UTC()
	return r, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
