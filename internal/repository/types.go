package repository

import (
	"time"

	"github.com/google/uuid"
)

// ── Status enums ─────────────────────────────────────────────────────────────

// BatchStatus is the lifecycle state of a PaymentBatch.
type BatchStatus string

const (
	BatchDraft      BatchStatus = "DRAFT"
	BatchSubmitted  BatchStatus = "SUBMITTED"
	BatchProcessing BatchStatus = "PROCESSING"
	BatchCompleted  BatchStatus = "COMPLETED"
	BatchCancelled  BatchStatus = "CANCELLED"
)

// RequestStatus is the lifecycle state of a PaymentRequest.
type RequestStatus string

const (
	RequestDraft           RequestStatus = "DRAFT"
	RequestSubmitted       RequestStatus = "SUBMITTED"
	RequestPendingApproval RequestStatus = "PENDING_APPROVAL"
	RequestApproved        RequestStatus = "APPROVED"
	RequestRejected        RequestStatus = "REJECTED"
	RequestPaid            RequestStatus = "PAID"
)

// Decision is the outcome recorded by an approver.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// SOASource distinguishes user uploads from system-generated statements.
type SOASource string

const (
	SOASourceUpload    SOASource = "UPLOAD"
	SOASourceGenerated SOASource = "GENERATED"
)

// PayeeType selects which ledger entity a ledger-driven request pays.
type PayeeType string

const (
	PayeeVendor        PayeeType = "VENDOR"
	PayeeSubcontractor PayeeType = "SUBCONTRACTOR"
)

// Role is an actor's role for authorization checks.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleCreator  Role = "CREATOR"
	RoleApprover Role = "APPROVER"
	RoleViewer   Role = "VIEWER"
)

// ── Workflow entities ────────────────────────────────────────────────────────

// PaymentBatch is a logical grouping of payment requests submitted and
// approved together.
type PaymentBatch struct {
	ID          uuid.UUID
	Title       string
	Status      BatchStatus
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
	SubmittedAt *time.Time // set iff status != DRAFT
	CompletedAt *time.Time // set iff status in (COMPLETED, CANCELLED)
}

// PaymentRequest is a single payment instruction within a batch.
//
// Exactly one of the legacy beneficiary fields or the ledger-driven fields is
// populated. All amounts are in minor currency units (cents).
type PaymentRequest struct {
	ID       uuid.UUID
	BatchID  uuid.UUID
	Status   RequestStatus
	Version  int // optimistic concurrency counter, starts at 1
	Currency string

	// Legacy flat payment fields.
	Amount             *int64
	BeneficiaryName    *string
	BeneficiaryAccount *string
	Purpose            *string

	// Ledger-driven payment fields.
	PayeeType                 *PayeeType
	VendorID                  *uuid.UUID
	SubcontractorID           *uuid.UUID
	SiteID                    *uuid.UUID
	BaseAmount                *int64
	ExtraAmount               *int64
	ExtraReason               *string
	TotalAmount               *int64 // always base + extra, computed server-side
	VendorSnapshotName        *string
	SiteSnapshotCode          *string
	SubcontractorSnapshotName *string

	ExecutionID *uuid.UUID

	CreatedBy uuid.UUID
	CreatedAt time.Time
	UpdatedBy *uuid.UUID
	UpdatedAt time.Time
}

// LedgerDriven reports whether this request references ledger master data
// rather than carrying legacy flat beneficiary fields.
func (r *PaymentRequest) LedgerDriven() bool {
	return r.PayeeType != nil
}

// EffectiveAmount returns the amount that should appear on statements.
func (r *PaymentRequest) EffectiveAmount() int64 {
	if r.TotalAmount != nil {
		return *r.TotalAmount
	}
	if r.Amount != nil {
		return *r.Amount
	}
	return 0
}

// ApprovalRecord captures a single approve/reject decision, one per request.
type ApprovalRecord struct {
	ID               uuid.UUID
	PaymentRequestID uuid.UUID
	ApproverID       uuid.UUID
	Decision         Decision
	Comment          *string
	CreatedAt        time.Time
}

// SOAVersion is one versioned statement-of-account document for a request.
type SOAVersion struct {
	ID                uuid.UUID
	PaymentRequestID  uuid.UUID
	VersionNumber     int // starts at 1, unique per request
	DocumentReference string
	Source            SOASource
	UploadedBy        *uuid.UUID // nil for GENERATED
	UploadedAt        time.Time
}

// IdempotencyRecord maps (key, operation) to the outcome of the first
// successful execution. Never updated or deleted.
type IdempotencyRecord struct {
	ID           uuid.UUID
	Key          string
	Operation    string
	TargetID     *uuid.UUID
	ResponseCode int
	CreatedAt    time.Time
}

// AuditEntry is one immutable before/after record. A nil ActorID marks a
// system-triggered transition.
type AuditEntry struct {
	ID            uuid.UUID
	EventType     string
	ActorID       *uuid.UUID
	EntityType    string
	EntityID      uuid.UUID
	PreviousState map[string]any
	NewState      map[string]any
	OccurredAt    time.Time
}

// User is an actor resolved for authorization.
type User struct {
	ID          uuid.UUID
	Username    string
	DisplayName string
	Role        Role
	CreatedAt   time.Time
}

// ── Ledger master data ───────────────────────────────────────────────────────
// Active-flag records; deactivation instead of deletes.

type Client struct {
	ID            uuid.UUID
	Name          string
	IsActive      bool
	EffectiveFrom time.Time
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Site struct {
	ID            uuid.UUID
	Code          string
	Name          string
	ClientID      uuid.UUID
	IsActive      bool
	EffectiveFrom time.Time
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type VendorType struct {
	ID            uuid.UUID
	Name          string
	IsActive      bool
	EffectiveFrom time.Time
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Vendor struct {
	ID            uuid.UUID
	Name          string
	VendorTypeID  uuid.UUID
	IsActive      bool
	EffectiveFrom time.Time
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type SubcontractorScope struct {
	ID            uuid.UUID
	Name          string
	IsActive      bool
	EffectiveFrom time.Time
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Subcontractor struct {
	ID             uuid.UUID
	Name           string
	ScopeID        uuid.UUID
	AssignedSiteID *uuid.UUID
	IsActive       bool
	EffectiveFrom  time.Time
	DeactivatedAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
