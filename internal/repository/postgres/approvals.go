package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

type approvalStore struct {
	q querier
}

func (s *approvalStore) Create(ctx context.Context, a *repository.ApprovalRecord) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO approval_records (id, payment_request_id, approver_id, decision, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.PaymentRequestID, a.ApproverID, a.Decision, a.Comment, a.CreatedAt,
	)
	if err != nil {
		if conflict := conflictFromUnique(err, map[string]string{
			"approval_records_payment_request_id_key": repository.ConstraintApprovalRequest,
		}); conflict != nil {
			return conflict
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "insert approval record")
	}
	return nil
}

func (s *approvalStore) GetByRequestID(ctx context.Context, requestID uuid.UUID) (*repository.ApprovalRecord, error) {
	var a repository.ApprovalRecord
	err := s.q.QueryRow(ctx, `
		SELECT id, payment_request_id, approver_id, decision, comment, created_at
		FROM approval_records WHERE payment_request_id = $1`,
		requestID,
	).Scan(&a.ID, &a.PaymentRequestID, &a.ApproverID, &a.Decision, &a.Comment, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval record for request", requestID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "get approval record")
	}
	return &a, nil
}
