package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

type requestStore struct {
	q querier
}

const requestColumns = `id, batch_id, status, version, currency,
	amount, beneficiary_name, beneficiary_account, purpose,
	payee_type, vendor_id, subcontractor_id, site_id,
	base_amount, extra_amount, extra_reason, total_amount,
	vendor_snapshot_name, site_snapshot_code, subcontractor_snapshot_name,
	execution_id, created_by, created_at, updated_by, updated_at`

func scanRequest(row pgx.Row) (*repository.PaymentRequest, error) {
	var r repository.PaymentRequest
	err := row.Scan(
		&r.ID, &r.BatchID, &r.Status, &r.Version, &r.Currency,
		&r.Amount, &r.BeneficiaryName, &r.BeneficiaryAccount, &r.Purpose,
		&r.PayeeType, &r.VendorID, &r.SubcontractorID, &r.SiteID,
		&r.BaseAmount, &r.ExtraAmount, &r.ExtraReason, &r.TotalAmount,
		&r.VendorSnapshotName, &r.SiteSnapshotCode, &r.SubcontractorSnapshotName,
		&r.ExecutionID, &r.CreatedBy, &r.CreatedAt, &r.UpdatedBy, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *requestStore) Create(ctx context.Context, r *repository.PaymentRequest) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO payment_requests (
			id, batch_id, status, version, currency,
			amount, beneficiary_name, beneficiary_account, purpose,
			payee_type, vendor_id, subcontractor_id, site_id,
			base_amount, extra_amount, extra_reason, total_amount,
			vendor_snapshot_name, site_snapshot_code, subcontractor_snapshot_name,
			execution_id, created_by, created_at, updated_by, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20,
			$21, $22, $23, $24, $25
		)`,
		r.ID, r.BatchID, r.Status, r.Version, r.Currency,
		r.Amount, r.BeneficiaryName, r.BeneficiaryAccount, r.Purpose,
		r.PayeeType, r.VendorID, r.SubcontractorID, r.SiteID,
		r.BaseAmount, r.ExtraAmount, r.ExtraReason, r.TotalAmount,
		r.VendorSnapshotName, r.SiteSnapshotCode, r.SubcontractorSnapshotName,
		r.ExecutionID, r.CreatedBy, r.CreatedAt, r.UpdatedBy, r.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "insert payment request")
	}
	return nil
}

func (s *requestStore) GetByID(ctx context.Context, id uuid.UUID) (*repository.PaymentRequest, error) {
	return s.get(ctx, id, "")
}

func (s *requestStore) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*repository.PaymentRequest, error) {
	return s.get(ctx, id, " FOR UPDATE")
}

func (s *requestStore) get(ctx context.Context, id uuid.UUID, suffix string) (*repository.PaymentRequest, error) {
	r, err := scanRequest(s.q.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM payment_requests WHERE id = $1`+suffix, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("payment request", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "get payment request")
	}
	return r, nil
}

// ListByBatchForUpdate locks every request of the batch. Ascending id order
// keeps lock acquisition deterministic across concurrent submissions.
func (s *requestStore) ListByBatchForUpdate(ctx context.Context, batchID uuid.UUID) ([]*repository.PaymentRequest, error) {
	return s.listByBatch(ctx, batchID, ` ORDER BY id ASC FOR UPDATE`)
}

func (s *requestStore) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*repository.PaymentRequest, error) {
	return s.listByBatch(ctx, batchID, ` ORDER BY created_at ASC`)
}

func (s *requestStore) listByBatch(ctx context.Context, batchID uuid.UUID, suffix string) ([]*repository.PaymentRequest, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+requestColumns+` FROM payment_requests WHERE batch_id = $1`+suffix, batchID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "list payment requests")
	}
	defer rows.Close()

	var out []*repository.PaymentRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "scan payment request")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "iterate payment requests")
	}
	return out, nil
}

func (s *requestStore) ListByStatus(ctx context.Context, status repository.RequestStatus, limit, offset int) ([]*repository.PaymentRequest, int64, error) {
	var total int64
	if err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM payment_requests WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "count payment requests")
	}

	rows, err := s.q.Query(ctx,
		`SELECT `+requestColumns+` FROM payment_requests
		 WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "list payment requests by status")
	}
	defer rows.Close()

	var out []*repository.PaymentRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "scan payment request")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "iterate payment requests")
	}
	return out, total, nil
}

// ApplyTransition is the version-locked status change. The WHERE clause
// matches id, the version the caller read, and the status the caller
// validated against; anything else changed the row first.
func (s *requestStore) ApplyTransition(ctx context.Context, id uuid.UUID, expectedVersion int, from, to repository.RequestStatus, updatedBy *uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE payment_requests
		SET status = $4, version = version + 1, updated_by = $5, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = $3`,
		id, expectedVersion, from, to, updatedBy,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "transition payment request")
	}
	if tag.RowsAffected() == 0 {
		return errors.Conflict("payment request was modified concurrently").
			WithDetail("request_id", id.String()).
			WithDetail("expected_version", expectedVersion)
	}
	return nil
}

// SetExecution stamps the external execution reference. The caller holds the
// row lock and has just transitioned the request, so no version guard here.
func (s *requestStore) SetExecution(ctx context.Context, id uuid.UUID, executionID *uuid.UUID) error {
	_, err := s.q.Exec(ctx,
		`UPDATE payment_requests SET execution_id = $2 WHERE id = $1`,
		id, executionID,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "set payment request execution")
	}
	return nil
}

// UpdateDraft rewrites the mutable fields, version locked like ApplyTransition.
// Status stays DRAFT; the version still increments so concurrent editors
// conflict instead of silently overwriting each other.
func (s *requestStore) UpdateDraft(ctx context.Context, r *repository.PaymentRequest, expectedVersion int) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE payment_requests
		SET currency = $3,
		    amount = $4, beneficiary_name = $5, beneficiary_account = $6, purpose = $7,
		    payee_type = $8, vendor_id = $9, subcontractor_id = $10, site_id = $11,
		    base_amount = $12, extra_amount = $13, extra_reason = $14, total_amount = $15,
		    vendor_snapshot_name = $16, site_snapshot_code = $17, subcontractor_snapshot_name = $18,
		    version = version + 1, updated_by = $19, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = 'DRAFT'`,
		r.ID, expectedVersion, r.Currency,
		r.Amount, r.BeneficiaryName, r.BeneficiaryAccount, r.Purpose,
		r.PayeeType, r.VendorID, r.SubcontractorID, r.SiteID,
		r.BaseAmount, r.ExtraAmount, r.ExtraReason, r.TotalAmount,
		r.VendorSnapshotName, r.SiteSnapshotCode, r.SubcontractorSnapshotName,
		r.UpdatedBy,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "update payment request draft")
	}
	if tag.RowsAffected() == 0 {
		return errors.Conflict("payment request was modified concurrently").
			WithDetail("request_id", r.ID.String()).
			WithDetail("expected_version", expectedVersion)
	}
	return nil
}
