package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/liveinterview/internal/transcript"
)

const ddlInterviewTurns = `
CREATE TABLE IF NOT EXISTS interview_turns (
    id            BIGSERIAL    PRIMARY KEY,
    interview_id  TEXT         NOT NULL,
    source        TEXT         NOT NULL,
    text          TEXT         NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_interview_turns_interview_id
    ON interview_turns (interview_id, id);
`

// Migrate creates the interview_turns table if it does not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlInterviewTurns); err != nil {
		return fmt.Errorf("history migrate: %w", err)
	}
	return nil
}

// PostgresStore keeps history in a PostgreSQL interview_turns table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies the connection and runs
// [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Append implements [Store].
func (s *PostgresStore) Append(ctx context.Context, interviewID string, e transcript.Entry) error {
	if interviewID == "" {
		return ErrInvalidID
	}
	if skip(e) {
		return nil
	}
	const q = `
		INSERT INTO interview_turns (interview_id, source, text, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))`

	var at any
	if !e.At.IsZero() {
		at = e.At
	}
	if _, err := s.pool.Exec(ctx, q, interviewID, e.Source.String(), e.Text, at); err != nil {
		return fmt.Errorf("history store: append: %w", err)
	}
	return nil
}

// Load implements [Store].
func (s *PostgresStore) Load(ctx context.Context, interviewID string) ([]transcript.Entry, error) {
	if interviewID == "" {
		return nil, ErrInvalidID
	}
	const q = `
		SELECT source, text, created_at
		FROM   interview_turns
		WHERE  interview_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, interviewID)
	if err != nil {
		return nil, fmt.Errorf("history store: load: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Entry, error) {
		var (
			e   transcript.Entry
			src string
		)
		if err := row.Scan(&src, &e.Text, &e.At); err != nil {
			return e, err
		}
		if err := e.Source.UnmarshalText([]byte(src)); err != nil {
			return e, err
		}
		e.Final = true
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan: %w", err)
	}
	return entries, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store].
func (s *PostgresStore) Close() {
	s.pool.Close()
}

