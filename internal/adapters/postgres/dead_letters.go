// Package postgres stores abandoned reconciliation tasks.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS dead_letters (
	id           TEXT PRIMARY KEY,
	task_id      TEXT NOT NULL,
	order_number TEXT NOT NULL,
	attempt_id   TEXT NOT NULL DEFAULT '',
	payload      JSONB NOT NULL,
	attempts     INT NOT NULL,
	last_error   TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS dead_letters_pending_idx ON dead_letters (created_at) WHERE resolved_at IS NULL;`

const columns = `id, task_id, order_number, attempt_id, payload, attempts, last_error, created_at, resolved_at`

// DeadLetters implements ports.DeadLetterStore on a pgx pool.
type DeadLetters struct {
	pool *pgxpool.Pool
}

// NewPool connects and pings the database.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func NewDeadLetters(pool *pgxpool.Pool) *DeadLetters {
	return &DeadLetters{pool: pool}
}

// EnsureSchema creates the table when it does not exist.
func (d *DeadLetters) EnsureSchema(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, schema)
	return err
}

func (d *DeadLetters) Save(ctx context.Context, dl domain.DeadLetter) error {
	_, err := d.pool.Exec(ctx, `INSERT INTO dead_letters(id, task_id, order_number, attempt_id, payload, attempts, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		dl.ID, dl.TaskID, dl.OrderNumber, dl.AttemptID, dl.Payload, dl.Attempts, dl.LastError, dl.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert dead letter %s: %w", dl.ID, err)
	}
	return nil
}

func (d *DeadLetters) Get(ctx context.Context, id string) (*domain.DeadLetter, error) {
	row := d.pool.QueryRow(ctx, `SELECT `+columns+` FROM dead_letters WHERE id=$1`, id)
	dl, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewServiceError(domain.ErrDeadLetterNotFound, "dead letter "+id, "DEAD_LETTER_NOT_FOUND")
	}
	if err != nil {
		return nil, err
	}
	return &dl, nil
}

// ListPending returns unresolved records, oldest first.
func (d *DeadLetters) ListPending(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.pool.Query(ctx, `SELECT `+columns+` FROM dead_letters WHERE resolved_at IS NULL ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeadLetter
	for rows.Next() {
		dl, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (d *DeadLetters) MarkResolved(ctx context.Context, id string) error {
	tag, err := d.pool.Exec(ctx, `UPDATE dead_letters SET resolved_at=now() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NewServiceError(domain.ErrDeadLetterNotFound, "dead letter "+id, "DEAD_LETTER_NOT_FOUND")
	}
	return nil
}

func scan(row pgx.Row) (domain.DeadLetter, error) {
	var dl domain.DeadLetter
	err := row.Scan(&dl.ID, &dl.TaskID, &dl.OrderNumber, &dl.AttemptID, &dl.Payload, &dl.Attempts, &dl.LastError, &dl.CreatedAt, &dl.ResolvedAt)
	return dl, err
}
