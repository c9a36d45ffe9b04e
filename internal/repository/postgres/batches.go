package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

type batchStore struct {
	q querier
}

const batchColumns = `id, title, status, created_by, created_at, submitted_at, completed_at`

func scanBatch(row pgx.Row) (*repository.PaymentBatch, error) {
	var b repository.PaymentBatch
	err := row.Scan(&b.ID, &b.Title, &b.Status, &b.CreatedBy, &b.CreatedAt, &b.SubmittedAt, &b.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *batchStore) Create(ctx context.Context, b *repository.PaymentBatch) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO payment_batches (id, title, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.Title, b.Status, b.CreatedBy, b.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "insert payment batch")
	}
	return nil
}

func (s *batchStore) GetByID(ctx context.Context, id uuid.UUID) (*repository.PaymentBatch, error) {
	return s.get(ctx, id, "")
}

func (s *batchStore) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*repository.PaymentBatch, error) {
	return s.get(ctx, id, " FOR UPDATE")
}

func (s *batchStore) get(ctx context.Context, id uuid.UUID, suffix string) (*repository.PaymentBatch, error) {
	b, err := scanBatch(s.q.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM payment_batches WHERE id = $1`+suffix, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("payment batch", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "get payment batch")
	}
	return b, nil
}

func (s *batchStore) List(ctx context.Context, status *repository.BatchStatus, limit, offset int) ([]*repository.PaymentBatch, int64, error) {
	where := ""
	args := []any{}
	if status != nil {
		where = " WHERE status = $1"
		args = append(args, *status)
	}

	var total int64
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM payment_batches`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "count payment batches")
	}

	query := `SELECT ` + batchColumns + ` FROM payment_batches` + where +
		` ORDER BY created_at DESC`
	if status != nil {
		query += ` LIMIT $2 OFFSET $3`
	} else {
		query += ` LIMIT $1 OFFSET $2`
	}
	args = append(args, limit, offset)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "list payment batches")
	}
	defer rows.Close()

	var out []*repository.PaymentBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "scan payment batch")
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "iterate payment batches")
	}
	return out, total, nil
}

// Transition moves the batch between statuses guarded by the expected current
// status. Zero rows matched means someone else changed the batch first.
func (s *batchStore) Transition(ctx context.Context, id uuid.UUID, from, to repository.BatchStatus, submittedAt, completedAt *time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE payment_batches
		SET status = $3,
		    submitted_at = COALESCE($4, submitted_at),
		    completed_at = COALESCE($5, completed_at)
		WHERE id = $1 AND status = $2`,
		id, from, to, submittedAt, completedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "update payment batch status")
	}
	if tag.RowsAffected() == 0 {
		return errors.Conflict("payment batch was modified concurrently").
			WithDetail("batch_id", id.String())
	}
	return nil
}
