package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Logical constraint names carried in the "constraint" detail of CONFLICT
// errors, so services can tell uniqueness races apart without knowing
// database-level constraint identifiers.
const (
	ConstraintIdempotencyKeyOperation = "idempotency_key_operation"
	ConstraintApprovalRequest         = "approval_records_request"
)

// Store is the persistence boundary of the workflow service. The service
// receives a Store at construction time; no code path writes workflow rows
// except through it.
//
// A Store used directly runs each call in auto-commit mode. InTransaction
// hands the callback a Tx whose stores all operate inside one transaction;
// the transaction commits when the callback returns nil.
type Store interface {
	Tx
	InTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx groups the per-entity stores sharing one transaction.
type Tx interface {
	Batches() BatchStore
	Requests() RequestStore
	Approvals() ApprovalStore
	SOA() SOAStore
	Idempotency() IdempotencyStore
	Audit() AuditStore
	Users() UserStore
	Ledger() LedgerStore
}

// BatchStore persists PaymentBatch rows.
type BatchStore interface {
	Create(ctx context.Context, b *PaymentBatch) error
	GetByID(ctx context.Context, id uuid.UUID) (*PaymentBatch, error)
	// GetByIDForUpdate locks the row for the duration of the transaction.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*PaymentBatch, error)
	List(ctx context.Context, status *BatchStatus, limit, offset int) ([]*PaymentBatch, int64, error)
	// Transition updates status guarded by the expected current status;
	// zero rows matched surfaces a CONFLICT error.
	Transition(ctx context.Context, id uuid.UUID, from, to BatchStatus, submittedAt, completedAt *time.Time) error
}

// RequestStore persists PaymentRequest rows. All mutations are version
// locked: they match on the version read at the start of the operation and
// increment it, surfacing a CONFLICT error when zero rows match.
type RequestStore interface {
	Create(ctx context.Context, r *PaymentRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*PaymentRequest, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*PaymentRequest, error)
	// ListByBatchForUpdate locks all requests of a batch in ascending id
	// order to keep lock acquisition deadlock-free across submissions.
	ListByBatchForUpdate(ctx context.Context, batchID uuid.UUID) ([]*PaymentRequest, error)
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*PaymentRequest, error)
	ListByStatus(ctx context.Context, status RequestStatus, limit, offset int) ([]*PaymentRequest, int64, error)
	// ApplyTransition is the version-locked status change:
	// UPDATE ... WHERE id=$1 AND version=$2 AND status=$3.
	ApplyTransition(ctx context.Context, id uuid.UUID, expectedVersion int, from, to RequestStatus, updatedBy *uuid.UUID) error
	// UpdateDraft rewrites the mutable fields of a DRAFT request, version
	// locked like ApplyTransition.
	UpdateDraft(ctx context.Context, r *PaymentRequest, expectedVersion int) error
	// SetExecution records the external execution reference of a payment.
	SetExecution(ctx context.Context, id uuid.UUID, executionID *uuid.UUID) error
}

// ApprovalStore persists the one-per-request decision records.
type ApprovalStore interface {
	// Create inserts the record; a uniqueness race surfaces a CONFLICT
	// error with detail constraint=approval_records_request.
	Create(ctx context.Context, a *ApprovalRecord) error
	GetByRequestID(ctx context.Context, requestID uuid.UUID) (*ApprovalRecord, error)
}

// SOAStore persists statement-of-account versions, append-only.
type SOAStore interface {
	Create(ctx context.Context, v *SOAVersion) error
	NextVersionNumber(ctx context.Context, requestID uuid.UUID) (int, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*SOAVersion, error)
	GetByID(ctx context.Context, id, requestID uuid.UUID) (*SOAVersion, error)
	// HasGeneratedForBatch reports whether any request in the batch already
	// has a GENERATED version; guards generation idempotency.
	HasGeneratedForBatch(ctx context.Context, batchID uuid.UUID) (bool, error)
}

// IdempotencyStore persists the (key, operation) replay ledger.
type IdempotencyStore interface {
	// Get returns NOT_FOUND when the pair has not been recorded.
	Get(ctx context.Context, key, operation string) (*IdempotencyRecord, error)
	// Create surfaces a CONFLICT error with detail
	// constraint=idempotency_key_operation when the pair already exists.
	Create(ctx context.Context, rec *IdempotencyRecord) error
}

// AuditStore appends immutable audit entries. No update or delete exists.
type AuditStore interface {
	Append(ctx context.Context, e *AuditEntry) error
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]*AuditEntry, int64, error)
}

// UserStore resolves actors for authorization.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
}

// LedgerStore persists master data referenced by ledger-driven requests.
// GetActive* return NOT_FOUND for missing or deactivated rows.
type LedgerStore interface {
	CreateClient(ctx context.Context, c *Client) error
	CreateSite(ctx context.Context, s *Site) error
	CreateVendorType(ctx context.Context, vt *VendorType) error
	CreateVendor(ctx context.Context, v *Vendor) error
	CreateScope(ctx context.Context, sc *SubcontractorScope) error
	CreateSubcontractor(ctx context.Context, s *Subcontractor) error

	GetActiveVendor(ctx context.Context, id uuid.UUID) (*Vendor, error)
	GetActiveSubcontractor(ctx context.Context, id uuid.UUID) (*Subcontractor, error)
	GetActiveSite(ctx context.Context, id uuid.UUID) (*Site, error)

	ListVendors(ctx context.Context, activeOnly bool) ([]*Vendor, error)
	ListSubcontractors(ctx context.Context, activeOnly bool) ([]*Subcontractor, error)
	ListSites(ctx context.Context, activeOnly bool) ([]*Site, error)

	// Deactivate flips is_active off and stamps deactivated_at for the
	// given entity kind ("vendor", "subcontractor", "site", "client").
	Deactivate(ctx context.Context, kind string, id uuid.UUID, at time.Time) error
}
