package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

type idempotencyStore struct {
	q querier
}

func (s *idempotencyStore) Get(ctx context.Context, key, operation string) (*repository.IdempotencyRecord, error) {
	var rec repository.IdempotencyRecord
	err := s.q.QueryRow(ctx, `
		SELECT id, key, operation, target_id, response_code, created_at
		FROM idempotency_records WHERE key = $1 AND operation = $2`,
		key, operation,
	).Scan(&rec.ID, &rec.Key, &rec.Operation, &rec.TargetID, &rec.ResponseCode, &rec.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("idempotency record", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "get idempotency record")
	}
	return &rec, nil
}

func (s *idempotencyStore) Create(ctx context.Context, rec *repository.IdempotencyRecord) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO idempotency_records (id, key, operation, target_id, response_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Key, rec.Operation, rec.TargetID, rec.ResponseCode, rec.CreatedAt,
	)
	if err != nil {
		if conflict := conflictFromUnique(err, map[string]string{
			"idempotency_records_key_operation_key": repository.ConstraintIdempotencyKeyOperation,
		}); conflict != nil {
			return conflict
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "insert idempotency record")
	}
	return nil
}
