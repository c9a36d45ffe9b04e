package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

type soaStore struct {
	q querier
}

const soaColumns = `id, payment_request_id, version_number, document_reference, source, uploaded_by, uploaded_at`

func scanSOA(row pgx.Row) (*repository.SOAVersion, error) {
	var v repository.SOAVersion
	err := row.Scan(&v.ID, &v.PaymentRequestID, &v.VersionNumber, &v.DocumentReference, &v.Source, &v.UploadedBy, &v.UploadedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *soaStore) Create(ctx context.Context, v *repository.SOAVersion) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO soa_versions (id, payment_request_id, version_number, document_reference, source, uploaded_by, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.PaymentRequestID, v.VersionNumber, v.DocumentReference, v.Source, v.UploadedBy, v.UploadedAt,
	)
	if err != nil {
		if conflict := conflictFromUnique(err, nil); conflict != nil {
			return conflict
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "insert soa version")
	}
	return nil
}

// NextVersionNumber must run inside the transaction that holds the request
// row lock; the lock serializes competing uploads for the same request.
func (s *soaStore) NextVersionNumber(ctx context.Context, requestID uuid.UUID) (int, error) {
	var next int
	err := s.q.QueryRow(ctx, `
		SELECT COALESCE(MAX(version_number), 0) + 1
		FROM soa_versions WHERE payment_request_id = $1`,
		requestID,
	).Scan(&next)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "next soa version number")
	}
	return next, nil
}

func (s *soaStore) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*repository.SOAVersion, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+soaColumns+` FROM soa_versions WHERE payment_request_id = $1 ORDER BY version_number ASC`,
		requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "list soa versions")
	}
	defer rows.Close()

	var out []*repository.SOAVersion
	for rows.Next() {
		v, err := scanSOA(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "scan soa version")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "iterate soa versions")
	}
	return out, nil
}

func (s *soaStore) GetByID(ctx context.Context, id, requestID uuid.UUID) (*repository.SOAVersion, error) {
	v, err := scanSOA(s.q.QueryRow(ctx,
		`SELECT `+soaColumns+` FROM soa_versions WHERE id = $1 AND payment_request_id = $2`,
		id, requestID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("soa version", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "get soa version")
	}
	return v, nil
}

func (s *soaStore) HasGeneratedForBatch(ctx context.Context, batchID uuid.UUID) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM soa_versions v
			JOIN payment_requests r ON r.id = v.payment_request_id
			WHERE r.batch_id = $1 AND v.source = 'GENERATED'
		)`,
		batchID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "check generated soa for batch")
	}
	return exists, nil
}
