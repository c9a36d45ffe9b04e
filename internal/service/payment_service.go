// Package service implements the payment workflow use cases: batch and
// request lifecycle, approvals, idempotency, audit, and statement-of-account
// documents.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/notify"
	"github.com/meridian-fin/be-payments-workflow/internal/objectstore"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

// Idempotency operation names. The (key, operation) pair scopes replay, so
// one client key may safely span different operations.
const (
	OpCreateBatch    = "CREATE_BATCH"
	OpAddRequest     = "ADD_REQUEST"
	OpSubmitBatch    = "SUBMIT_BATCH"
	OpCancelBatch    = "CANCEL_BATCH"
	OpApproveRequest = "APPROVE_REQUEST"
	OpRejectRequest  = "REJECT_REQUEST"
	OpMarkPaid       = "MARK_PAID"
	OpUploadSOA      = "UPLOAD_SOA"
)

// Audit/event entity type names.
const (
	EntityBatch   = "payment_batch"
	EntityRequest = "payment_request"
	EntitySOA     = "soa_version"
)

// PaymentWorkflowService executes every workflow mutation inside a single
// database transaction: state transition, approval record, audit entries, and
// idempotency record commit or roll back together.
type PaymentWorkflowService struct {
	store  repository.Store
	docs   objectstore.Store
	events *notify.Publisher
	log    zerolog.Logger
	now    func() time.Time
}

// NewPaymentWorkflowService wires the service. events may be nil to disable
// publishing.
func NewPaymentWorkflowService(store repository.Store, docs objectstore.Store, events *notify.Publisher, log zerolog.Logger) *PaymentWorkflowService {
	return &PaymentWorkflowService{
		store:  store,
		docs:   docs,
		events: events,
		log:    log,
		now:    time.Now,
	}
}

// CreateBatchInput carries the fields a creator supplies for a new batch.
type CreateBatchInput struct {
	Title string
}

// RequestInput carries the mutable payment fields of a request. Exactly one
// of the legacy beneficiary block or the ledger-driven block must be set.
// Amounts are minor currency units.
type RequestInput struct {
	Currency string

	Amount             *int64
	BeneficiaryName    *string
	BeneficiaryAccount *string
	Purpose            *string

	PayeeType       *repository.PayeeType
	VendorID        *uuid.UUID
	SubcontractorID *uuid.UUID
	SiteID          *uuid.UUID
	BaseAmount      *int64
	ExtraAmount     *int64
	ExtraReason     *string
}

// ── Idempotency plumbing ─────────────────────────────────────────────────────

// withIdempotency runs the mutation under the (key, operation) replay ledger.
//
// A recorded pair short-circuits to verify, which must confirm the current
// state is the one this operation produces (and capture the result for the
// caller); any mismatch is a PRECONDITION_FAILED. When two first attempts
// race, the loser's insert hits the unique constraint, its transaction rolls
// back, and the replay path reruns in a fresh transaction.
//
// An empty key runs the mutation with no ledger involvement.
func (s *PaymentWorkflowService) withIdempotency(
	ctx context.Context,
	key, operation string,
	verify func(tx repository.Tx, rec *repository.IdempotencyRecord) error,
	run func(tx repository.Tx) (*uuid.UUID, error),
) (replayed bool, err error) {
	if key == "" {
		return false, s.store.InTransaction(ctx, func(tx repository.Tx) error {
			_, err := run(tx)
			return err
		})
	}

	replay := func(tx repository.Tx) error {
		rec, err := tx.Idempotency().Get(ctx, key, operation)
		if err != nil {
			return err
		}
		return verify(tx, rec)
	}

	err = s.store.InTransaction(ctx, func(tx repository.Tx) error {
		switch rec, err := tx.Idempotency().Get(ctx, key, operation); {
		case err == nil:
			replayed = true
			return verify(tx, rec)
		case !errors.IsCode(err, errors.ErrCodeNotFound):
			return err
		}

		target, err := run(tx)
		if err != nil {
			return err
		}
		return tx.Idempotency().Create(ctx, &repository.IdempotencyRecord{
			ID:           uuid.New(),
			Key:          key,
			Operation:    operation,
			TargetID:     target,
			ResponseCode: 200,
			CreatedAt:    s.now(),
		})
	})
	if err != nil &&
		errors.IsCode(err, errors.ErrCodeConflict) &&
		errors.DetailOf(err, "constraint") == repository.ConstraintIdempotencyKeyOperation {
		replayed = true
		err = s.store.InTransaction(ctx, replay)
	}
	return replayed, err
}

func replayMismatch(operation string) *errors.Error {
	return errors.PreconditionFailed(
		"idempotency key was already used for a " + operation + " with a different outcome").
		WithDetail("operation", operation)
}

// ── Shared helpers ───────────────────────────────────────────────────────────

func (s *PaymentWorkflowService) resolveActor(ctx context.Context, tx repository.Tx, actorID uuid.UUID) (*repository.User, error) {
	actor, err := tx.Users().GetByID(ctx, actorID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return nil, errors.Forbidden("unknown actor " + actorID.String())
		}
		return nil, err
	}
	return actor, nil
}

// requireBatchOwner enforces that only the creator of a batch mutates it or
// its requests. Admins bypass the ownership check.
func requireBatchOwner(actor *repository.User, batch *repository.PaymentBatch) error {
	if actor.Role == repository.RoleAdmin || batch.CreatedBy == actor.ID {
		return nil
	}
	return errors.Forbidden("only the batch creator can modify this batch").
		WithDetail("batch_id", batch.ID.String())
}

func batchState(b *repository.PaymentBatch) map[string]any {
	return map[string]any{"status": string(b.Status)}
}

func requestState(r *repository.PaymentRequest) map[string]any {
	return map[string]any{
		"status":  string(r.Status),
		"version": r.Version,
		"amount":  r.EffectiveAmount(),
	}
}

func (s *PaymentWorkflowService) appendAudit(ctx context.Context, tx repository.Tx, eventType string, actorID *uuid.UUID, entityType string, entityID uuid.UUID, prev, next map[string]any) error {
	return tx.Audit().Append(ctx, &repository.AuditEntry{
		ID:            uuid.New(),
		EventType:     eventType,
		ActorID:       actorID,
		EntityType:    entityType,
		EntityID:      entityID,
		PreviousState: prev,
		NewState:      next,
		OccurredAt:    s.now(),
	})
}

func (s *PaymentWorkflowService) publish(events []notify.Event) {
	for _, e := range events {
		s.events.Publish(e)
	}
}

func (s *PaymentWorkflowService) event(eventType, entityType string, entityID uuid.UUID, actorID *uuid.UUID) notify.Event {
	e := notify.Event{
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID.String(),
		OccurredAt: s.now(),
	}
	if actorID != nil {
		e.ActorID = actorID.String()
	}
	return e
}

// ── Batch operations ─────────────────────────────────────────────────────────

// CreateBatch creates a DRAFT batch owned by the actor.
func (s *PaymentWorkflowService) CreateBatch(ctx context.Context, actorID uuid.UUID, key string, in CreateBatchInput) (*repository.PaymentBatch, error) {
	if in.Title == "" {
		return nil, errors.InvalidInput("title", "title is required")
	}

	var (
		result  *repository.PaymentBatch
		pending []notify.Event
	)
	replayed, err := s.withIdempotency(ctx, key, OpCreateBatch,
		func(tx repository.Tx, rec *repository.IdempotencyRecord) error {
			if rec.TargetID == nil {
				return replayMismatch(OpCreateBatch)
			}
			b, err := tx.Batches().GetByID(ctx, *rec.TargetID)
			if err != nil {
				return err
			}
			result = b
			return nil
		},
		func(tx repository.Tx) (*uuid.UUID, error) {
			actor, err := s.resolveActor(ctx, tx, actorID)
			if err != nil {
				return nil, err
			}
			if err := Authorize(actor, ActionCreateBatch); err != nil {
				return nil, err
			}

			b := &repository.PaymentBatch{
				ID:        uuid.New(),
				Title:     in.Title,
				Status:    repository.BatchDraft,
				CreatedBy: actor.ID,
				CreatedAt: s.now(),
			}
			if err := tx.Batches().Create(ctx, b); err != nil {
				return nil, err
			}
			if err := s.appendAudit(ctx, tx, "batch.created", &actor.ID, EntityBatch, b.ID, nil, batchState(b)); err != nil {
				return nil, err
			}
			result = b
			pending = append(pending, s.event("batch.created", EntityBatch, b.ID, &actor.ID))
			return &b.ID, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.publish(pending)
	}
	return result, nil
}

// SubmitBatch submits every request of a DRAFT batch and moves the batch into
// PROCESSING. All-or-nothing: one ineligible request aborts the whole
// submission.
func (s *PaymentWorkflowService) SubmitBatch(ctx context.Context, actorID uuid.UUID, key string, batchID uuid.UUID) (*repository.PaymentBatch, error) {
	var (
		result  *repository.PaymentBatch
		pending []notify.Event
	)
	replayed, err := s.withIdempotency(ctx, key, OpSubmitBatch,
		func(tx repository.Tx, rec *repository.IdempotencyRecord) error {
			if rec.TargetID == nil || *rec.TargetID != batchID {
				return replayMismatch(OpSubmitBatch)
			}
			b, err := tx.Batches().GetByID(ctx, batchID)
			if err != nil {
				return err
			}
			if b.Status != repository.BatchProcessing && b.Status != repository.BatchCompleted {
				return replayMismatch(OpSubmitBatch)
			}
			result = b
			return nil
		},
		func(tx repository.Tx) (*uuid.UUID, error) {
			actor, err := s.resolveActor(ctx, tx, actorID)
			if err != nil {
				return nil, err
			}
			if err := Authorize(actor, ActionSubmitBatch); err != nil {
				return nil, err
			}

			// Lock order is batch first, then requests ascending by id.
			batch, err := tx.Batches().GetByIDForUpdate(ctx, batchID)
			if err != nil {
				return nil, err
			}
			if err := requireBatchOwner(actor, batch); err != nil {
				return nil, err
			}
			if err := ValidateBatchTransition(batch.Status, repository.BatchSubmitted); err != nil {
				return nil, err
			}

			requests, err := tx.Requests().ListByBatchForUpdate(ctx, batchID)
			if err != nil {
				return nil, err
			}
			if len(requests) == 0 {
				return nil, errors.PreconditionFailed("batch has no payment requests").
					WithDetail("batch_id", batchID.String())
			}
			for _, r := range requests {
				if err := ValidateRequestTransition(r.Status, repository.RequestSubmitted); err != nil {
					return nil, err
				}
			}

			now := s.now()
			for _, r := range requests {
				prev := requestState(r)
				if err := tx.Requests().ApplyTransition(ctx, r.ID, r.Version, repository.RequestDraft, repository.RequestSubmitted, &actor.ID); err != nil {
					return nil, err
				}
				r.Status = repository.RequestSubmitted
				r.Version++
				mid := requestState(r)
				if err := s.appendAudit(ctx, tx, "request.submitted", &actor.ID, EntityRequest, r.ID, prev, mid); err != nil {
					return nil, err
				}

				// The advance into PENDING_APPROVAL is system-triggered.
				if err := tx.Requests().ApplyTransition(ctx, r.ID, r.Version, repository.RequestSubmitted, repository.RequestPendingApproval, nil); err != nil {
					return nil, err
				}
				r.Status = repository.RequestPendingApproval
				r.Version++
				if err := s.appendAudit(ctx, tx, "request.pending_approval", nil, EntityRequest, r.ID, mid, requestState(r)); err != nil {
					return nil, err
				}
			}

			prev := batchState(batch)
			if err := tx.Batches().Transition(ctx, batchID, repository.BatchDraft, repository.BatchSubmitted, &now, nil); err != nil {
				return nil, err
			}
			batch.Status = repository.BatchSubmitted
			batch.SubmittedAt = &now
			mid := batchState(batch)
			if err := s.appendAudit(ctx, tx, "batch.submitted", &actor.ID, EntityBatch, batchID, prev, mid); err != nil {
				return nil, err
			}

			if err := tx.Batches().Transition(ctx, batchID, repository.BatchSubmitted, repository.BatchProcessing, nil, nil); err != nil {
				return nil, err
			}
			batch.Status = repository.BatchProcessing
			if err := s.appendAudit(ctx, tx, "batch.processing", nil, EntityBatch, batchID, mid, batchState(batch)); err != nil {
				return nil, err
			}

			result = batch
			pending = append(pending, s.event("batch.submitted", EntityBatch, batchID, &actor.ID))
			return &batchID, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.publish(pending)
	}
	return result, nil
}

// CancelBatch cancels a DRAFT batch. Submitted batches cannot be cancelled.
func (s *PaymentWorkflowService) CancelBatch(ctx context.Context, actorID uuid.UUID, key string, batchID uuid.UUID) (*repository.PaymentBatch, error) {
	var (
		result  *repository.PaymentBatch
		pending []notify.Event
	)
	replayed, err := s.withIdempotency(ctx, key, OpCancelBatch,
		func(tx repository.Tx, rec *repository.IdempotencyRecord) error {
			if rec.TargetID == nil || *rec.TargetID != batchID {
				return replayMismatch(OpCancelBatch)
			}
			b, err := tx.Batches().GetByID(ctx, batchID)
			if err != nil {
				return err
			}
			if b.Status != repository.BatchCancelled {
				return replayMismatch(OpCancelBatch)
			}
			result = b
			return nil
		},
		func(tx repository.Tx) (*uuid.UUID, error) {
			actor, err := s.resolveActor(ctx, tx, actorID)
			if err != nil {
				return nil, err
			}
			if err := Authorize(actor, ActionCancelBatch); err != nil {
				return nil, err
			}

			batch, err := tx.Batches().GetByIDForUpdate(ctx, batchID)
			if err != nil {
				return nil, err
			}
			if err := requireBatchOwner(actor, batch); err != nil {
				return nil, err
			}
			if err := ValidateBatchTransition(batch.Status, repository.BatchCancelled); err != nil {
				return nil, err
			}

			now := s.now()
			prev := batchState(batch)
			if err := tx.Batches().Transition(ctx, batchID, repository.BatchDraft, repository.BatchCancelled, nil, &now); err != nil {
				return nil, err
			}
			batch.Status = repository.BatchCancelled
			batch.CompletedAt = &now
			if err := s.appendAudit(ctx, tx, "batch.cancelled", &actor.ID, EntityBatch, batchID, prev, batchState(batch)); err != nil {
				return nil, err
			}

			result = batch
			pending = append(pending, s.event("batch.cancelled", EntityBatch, batchID, &actor.ID))
			return &batchID, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.publish(pending)
	}
	return result, nil
}

// ── Request operations ───────────────────────────────────────────────────────

// AddRequest adds a DRAFT request to a DRAFT batch.
func (s *PaymentWorkflowService) AddRequest(ctx context.Context, actorID uuid.UUID, key string, batchID uuid.UUID, in RequestInput) (*repository.PaymentRequest, error) {
	if err := validateRequestInput(in); err != nil {
		return nil, err
	}

	var (
		result  *repository.PaymentRequest
		pending []notify.Event
	)
	replayed, err := s.withIdempotency(ctx, key, OpAddRequest,
		func(tx repository.Tx, rec *repository.IdempotencyRecord) error {
			if rec.TargetID == nil {
				return replayMismatch(OpAddRequest)
			}
			r, err := tx.Requests().GetByID(ctx, *rec.TargetID)
			if err != nil {
				return err
			}
			if r.BatchID != batchID {
				return replayMismatch(OpAddRequest)
			}
			result = r
			return nil
		},
		func(tx repository.Tx) (*uuid.UUID, error) {
			actor, err := s.resolveActor(ctx, tx, actorID)
			if err != nil {
				return nil, err
			}
			if err := Authorize(actor, ActionEditRequest); err != nil {
				return nil, err
			}

			batch, err := tx.Batches().GetByIDForUpdate(ctx, batchID)
			if err != nil {
				return nil, err
			}
			if err := requireBatchOwner(actor, batch); err != nil {
				return nil, err
			}
			if batch.Status != repository.BatchDraft {
				return nil, errors.InvalidState("payment requests can only be added to a DRAFT batch").
					WithDetail("batch_status", string(batch.Status))
			}

			now := s.now()
			r := &repository.PaymentRequest{
				ID:        uuid.New(),
				BatchID:   batchID,
				Status:    repository.RequestDraft,
				Version:   1,
				CreatedBy: actor.ID,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.applyRequestInput(ctx, tx, r, in); err != nil {
				return nil, err
			}
			if err := tx.Requests().Create(ctx, r); err != nil {
				return nil, err
			}
			if err := s.appendAudit(ctx, tx, "request.created", &actor.ID, EntityRequest, r.ID, nil, requestState(r)); err != nil {
				return nil, err
			}

			result = r
			pending = append(pending, s.event("request.created", EntityRequest, r.ID, &actor.ID))
			return &r.ID, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.publish(pending)
	}
	return result, nil
}

// UpdateRequest edits a DRAFT request. expectedVersion 0 means "whatever the
// current version is"; any other value must match the stored version or the
// edit fails with CONFLICT.
func (s *PaymentWorkflowService) UpdateRequest(ctx context.Context, actorID, requestID uuid.UUID, expectedVersion int, in RequestInput) (*repository.PaymentRequest, error) {
	if err := validateRequestInput(in); err != nil {
		return nil, err
	}

	var (
		result  *repository.PaymentRequest
		pending []notify.Event
	)
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		actor, err := s.resolveActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := Authorize(actor, ActionEditRequest); err != nil {
			return err
		}

		r, err := tx.Requests().GetByIDForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		batch, err := tx.Batches().GetByID(ctx, r.BatchID)
		if err != nil {
			return err
		}
		if err := requireBatchOwner(actor, batch); err != nil {
			return err
		}
		// An edit is the DRAFT -> DRAFT self-transition.
		if err := ValidateRequestTransition(r.Status, repository.RequestDraft); err != nil {
			return err
		}
		if expectedVersion != 0 && expectedVersion != r.Version {
			return errors.Conflict("payment request was modified concurrently").
				WithDetail("request_id", requestID.String()).
				WithDetail("expected_version", expectedVersion).
				WithDetail("current_version", r.Version)
		}

		prev := requestState(r)
		if err := s.applyRequestInput(ctx, tx, r, in); err != nil {
			return err
		}
		r.UpdatedBy = &actor.ID
		if err := tx.Requests().UpdateDraft(ctx, r, r.Version); err != nil {
			return err
		}
		r.Version++
		r.UpdatedAt = s.now()
		if err := s.appendAudit(ctx, tx, "request.updated", &actor.ID, EntityRequest, r.ID, prev, requestState(r)); err != nil {
			return err
		}

		result = r
		pending = append(pending, s.event("request.updated", EntityRequest, r.ID, &actor.ID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(pending)
	return result, nil
}

// ApproveRequest records an approval decision and moves the request to
// APPROVED. Exactly one decision can ever exist per request.
func (s *PaymentWorkflowService) ApproveRequest(ctx context.Context, actorID uuid.UUID, key string, requestID uuid.UUID, comment *string) (*repository.PaymentRequest, error) {
	return s.decide(ctx, actorID, key, requestID, repository.DecisionApproved, comment)
}

// RejectRequest records a rejection and moves the request to REJECTED.
func (s *PaymentWorkflowService) RejectRequest(ctx context.Context, actorID uuid.UUID, key string, requestID uuid.UUID, comment *string) (*repository.PaymentRequest, error) {
	return s.decide(ctx, actorID, key, requestID, repository.DecisionRejected, comment)
}

func (s *PaymentWorkflowService) decide(ctx context.Context, actorID uuid.UUID, key string, requestID uuid.UUID, decision repository.Decision, comment *string) (*repository.PaymentRequest, error) {
	operation := OpApproveRequest
	action := ActionApproveRequest
	target := repository.RequestApproved
	eventType := "request.approved"
	if decision == repository.DecisionRejected {
		operation = OpRejectRequest
		action = ActionRejectRequest
		target = repository.RequestRejected
		eventType = "request.rejected"
	}

	var (
		result  *repository.PaymentRequest
		pending []notify.Event
	)
	replayed, err := s.withIdempotency(ctx, key, operation,
		func(tx repository.Tx, rec *repository.IdempotencyRecord) error {
			if rec.TargetID == nil || *rec.TargetID != requestID {
				return replayMismatch(operation)
			}
			r, err := tx.Requests().GetByID(ctx, requestID)
			if err != nil {
				return err
			}
			// An approved request may since have been paid; that is still the
			// outcome this operation produced.
			ok := r.Status == target ||
				(target == repository.RequestApproved && r.Status == repository.RequestPaid)
			if !ok {
				return replayMismatch(operation)
			}
			result = r
			return nil
		},
		func(tx repository.Tx) (*uuid.UUID, error) {
			actor, err := s.resolveActor(ctx, tx, actorID)
			if err != nil {
				return nil, err
			}
			if err := Authorize(actor, action); err != nil {
				return nil, err
			}

			r, err := tx.Requests().GetByIDForUpdate(ctx, requestID)
			if err != nil {
				return nil, err
			}
			if err := ValidateRequestTransition(r.Status, target); err != nil {
				return nil, err
			}

			prev := requestState(r)
			if err := tx.Requests().ApplyTransition(ctx, r.ID, r.Version, repository.RequestPendingApproval, target, &actor.ID); err != nil {
				return nil, err
			}
			r.Status = target
			r.Version++

			if err := tx.Approvals().Create(ctx, &repository.ApprovalRecord{
				ID:               uuid.New(),
				PaymentRequestID: requestID,
				ApproverID:       actor.ID,
				Decision:         decision,
				Comment:          comment,
				CreatedAt:        s.now(),
			}); err != nil {
				return nil, err
			}
			if err := s.appendAudit(ctx, tx, eventType, &actor.ID, EntityRequest, r.ID, prev, requestState(r)); err != nil {
				return nil, err
			}

			result = r
			pending = append(pending, s.event(eventType, EntityRequest, r.ID, &actor.ID))
			return &requestID, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.publish(pending)
	}
	return result, nil
}

// MarkPaid moves an APPROVED request to PAID. When the payment closes the
// last open request of a PROCESSING batch, the batch completes and
// statement-of-account documents are generated, both in the same transaction.
func (s *PaymentWorkflowService) MarkPaid(ctx context.Context, actorID uuid.UUID, key string, requestID uuid.UUID, executionID *uuid.UUID) (*repository.PaymentRequest, error) {
	var (
		result  *repository.PaymentRequest
		pending []notify.Event
	)
	replayed, err := s.withIdempotency(ctx, key, OpMarkPaid,
		func(tx repository.Tx, rec *repository.IdempotencyRecord) error {
			if rec.TargetID == nil || *rec.TargetID != requestID {
				return replayMismatch(OpMarkPaid)
			}
			r, err := tx.Requests().GetByID(ctx, requestID)
			if err != nil {
				return err
			}
			if r.Status != repository.RequestPaid {
				return replayMismatch(OpMarkPaid)
			}
			result = r
			return nil
		},
		func(tx repository.Tx) (*uuid.UUID, error) {
			actor, err := s.resolveActor(ctx, tx, actorID)
			if err != nil {
				return nil, err
			}
			if err := Authorize(actor, ActionMarkPaid); err != nil {
				return nil, err
			}

			// Peek at the request to learn its batch, then take locks in
			// batch-then-request order, same as SubmitBatch.
			peek, err := tx.Requests().GetByID(ctx, requestID)
			if err != nil {
				return nil, err
			}
			batch, err := tx.Batches().GetByIDForUpdate(ctx, peek.BatchID)
			if err != nil {
				return nil, err
			}
			r, err := tx.Requests().GetByIDForUpdate(ctx, requestID)
			if err != nil {
				return nil, err
			}
			if err := ValidateRequestTransition(r.Status, repository.RequestPaid); err != nil {
				return nil, err
			}

			prev := requestState(r)
			if err := tx.Requests().ApplyTransition(ctx, r.ID, r.Version, repository.RequestApproved, repository.RequestPaid, &actor.ID); err != nil {
				return nil, err
			}
			r.Status = repository.RequestPaid
			r.Version++
			if executionID != nil {
				if err := tx.Requests().SetExecution(ctx, r.ID, executionID); err != nil {
					return nil, err
				}
				r.ExecutionID = executionID
			}
			if err := s.appendAudit(ctx, tx, "request.paid", &actor.ID, EntityRequest, r.ID, prev, requestState(r)); err != nil {
				return nil, err
			}
			pending = append(pending, s.event("request.paid", EntityRequest, r.ID, &actor.ID))

			completed, cascadeEvents, err := s.completeBatchIfDone(ctx, tx, batch, r)
			if err != nil {
				return nil, err
			}
			if completed {
				pending = append(pending, cascadeEvents...)
			}

			result = r
			return &requestID, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.publish(pending)
	}
	return result, nil
}

// completeBatchIfDone runs the batch-completion cascade. The caller holds the
// batch row lock. just is the request transitioned in this transaction; its
// in-memory status is ahead of the rows re-read here.
func (s *PaymentWorkflowService) completeBatchIfDone(ctx context.Context, tx repository.Tx, batch *repository.PaymentBatch, just *repository.PaymentRequest) (bool, []notify.Event, error) {
	if batch.Status != repository.BatchProcessing {
		return false, nil, nil
	}
	requests, err := tx.Requests().ListByBatch(ctx, batch.ID)
	if err != nil {
		return false, nil, err
	}
	for _, r := range requests {
		status := r.Status
		if r.ID == just.ID {
			status = just.Status
		}
		if !IsTerminalRequestStatus(status) {
			return false, nil, nil
		}
	}

	now := s.now()
	prev := batchState(batch)
	if err := tx.Batches().Transition(ctx, batch.ID, repository.BatchProcessing, repository.BatchCompleted, nil, &now); err != nil {
		return false, nil, err
	}
	batch.Status = repository.BatchCompleted
	batch.CompletedAt = &now
	if err := s.appendAudit(ctx, tx, "batch.completed", nil, EntityBatch, batch.ID, prev, batchState(batch)); err != nil {
		return false, nil, err
	}
	events := []notify.Event{s.event("batch.completed", EntityBatch, batch.ID, nil)}

	generated, err := s.generateBatchStatements(ctx, tx, batch, requests, just)
	if err != nil {
		return false, nil, err
	}
	events = append(events, generated...)
	return true, events, nil
}

// ── Input validation and ledger resolution ───────────────────────────────────

func validateRequestInput(in RequestInput) error {
	if len(in.Currency) != 3 {
		return errors.InvalidInput("currency", "currency must be a 3-letter ISO code")
	}

	legacy := in.Amount != nil || in.BeneficiaryName != nil || in.BeneficiaryAccount != nil
	ledger := in.PayeeType != nil
	switch {
	case legacy && ledger:
		return errors.InvalidInput("payee_type", "request cannot mix beneficiary fields with ledger fields")
	case !legacy && !ledger:
		return errors.InvalidInput("amount", "request needs either beneficiary fields or a payee")
	}

	if legacy {
		if in.Amount == nil || *in.Amount <= 0 {
			return errors.InvalidInput("amount", "amount must be positive")
		}
		if in.BeneficiaryName == nil || *in.BeneficiaryName == "" {
			return errors.InvalidInput("beneficiary_name", "beneficiary name is required")
		}
		if in.BeneficiaryAccount == nil || *in.BeneficiaryAccount == "" {
			return errors.InvalidInput("beneficiary_account", "beneficiary account is required")
		}
		return nil
	}

	switch *in.PayeeType {
	case repository.PayeeVendor:
		if in.VendorID == nil {
			return errors.InvalidInput("vendor_id", "vendor_id is required for a VENDOR payee")
		}
		if in.SubcontractorID != nil {
			return errors.InvalidInput("subcontractor_id", "subcontractor_id is not allowed for a VENDOR payee")
		}
	case repository.PayeeSubcontractor:
		if in.SubcontractorID == nil {
			return errors.InvalidInput("subcontractor_id", "subcontractor_id is required for a SUBCONTRACTOR payee")
		}
		if in.VendorID != nil {
			return errors.InvalidInput("vendor_id", "vendor_id is not allowed for a SUBCONTRACTOR payee")
		}
	default:
		return errors.InvalidInput("payee_type", "payee_type must be VENDOR or SUBCONTRACTOR")
	}

	if in.BaseAmount == nil || *in.BaseAmount <= 0 {
		return errors.InvalidInput("base_amount", "base_amount must be positive")
	}
	if in.ExtraAmount != nil && *in.ExtraAmount < 0 {
		return errors.InvalidInput("extra_amount", "extra_amount cannot be negative")
	}
	if in.ExtraAmount != nil && *in.ExtraAmount > 0 && (in.ExtraReason == nil || *in.ExtraReason == "") {
		return errors.InvalidInput("extra_reason", "extra_reason is required when extra_amount is set")
	}
	return nil
}

// applyRequestInput copies validated input onto the request, resolving ledger
// references against active master data and snapshotting their display names.
// The total is always recomputed here; client-supplied totals are ignored.
func (s *PaymentWorkflowService) applyRequestInput(ctx context.Context, tx repository.Tx, r *repository.PaymentRequest, in RequestInput) error {
	r.Currency = in.Currency
	r.Amount = in.Amount
	r.BeneficiaryName = in.BeneficiaryName
	r.BeneficiaryAccount = in.BeneficiaryAccount
	r.Purpose = in.Purpose

	r.PayeeType = in.PayeeType
	r.VendorID = in.VendorID
	r.SubcontractorID = in.SubcontractorID
	r.SiteID = in.SiteID
	r.BaseAmount = in.BaseAmount
	r.ExtraAmount = in.ExtraAmount
	r.ExtraReason = in.ExtraReason
	r.TotalAmount = nil
	r.VendorSnapshotName = nil
	r.SubcontractorSnapshotName = nil
	r.SiteSnapshotCode = nil

	if in.PayeeType == nil {
		return nil
	}

	extra := int64(0)
	if in.ExtraAmount != nil {
		extra = *in.ExtraAmount
	}
	total := *in.BaseAmount + extra
	r.TotalAmount = &total

	switch *in.PayeeType {
	case repository.PayeeVendor:
		vendor, err := tx.Ledger().GetActiveVendor(ctx, *in.VendorID)
		if err != nil {
			return err
		}
		r.VendorSnapshotName = &vendor.Name
	case repository.PayeeSubcontractor:
		sub, err := tx.Ledger().GetActiveSubcontractor(ctx, *in.SubcontractorID)
		if err != nil {
			return err
		}
		r.SubcontractorSnapshotName = &sub.Name
	}

	if in.SiteID != nil {
		site, err := tx.Ledger().GetActiveSite(ctx, *in.SiteID)
		if err != nil {
			return err
		}
		r.SiteSnapshotCode = &site.Code
	}
	return nil
}

// ── Reads ────────────────────────────────────────────────────────────────────

// BatchDetail is a batch with its requests.
type BatchDetail struct {
	Batch    *repository.PaymentBatch
	Requests []*repository.PaymentRequest
}

// GetBatch returns a batch with its requests.
func (s *PaymentWorkflowService) GetBatch(ctx context.Context, actorID, batchID uuid.UUID) (*BatchDetail, error) {
	actor, err := s.resolveActor(ctx, s.store, actorID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, ActionView); err != nil {
		return nil, err
	}
	batch, err := s.store.Batches().GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	requests, err := s.store.Requests().ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &BatchDetail{Batch: batch, Requests: requests}, nil
}

// ListBatches pages batches, optionally filtered by status.
func (s *PaymentWorkflowService) ListBatches(ctx context.Context, actorID uuid.UUID, status *repository.BatchStatus, limit, offset int) ([]*repository.PaymentBatch, int64, error) {
	actor, err := s.resolveActor(ctx, s.store, actorID)
	if err != nil {
		return nil, 0, err
	}
	if err := Authorize(actor, ActionView); err != nil {
		return nil, 0, err
	}
	return s.store.Batches().List(ctx, status, normalizeLimit(limit), max(offset, 0))
}

// GetRequest returns a single request.
func (s *PaymentWorkflowService) GetRequest(ctx context.Context, actorID, requestID uuid.UUID) (*repository.PaymentRequest, error) {
	actor, err := s.resolveActor(ctx, s.store, actorID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, ActionView); err != nil {
		return nil, err
	}
	return s.store.Requests().GetByID(ctx, requestID)
}

// ListRequestsByStatus pages requests in a given status, the approver's
// worklist query.
func (s *PaymentWorkflowService) ListRequestsByStatus(ctx context.Context, actorID uuid.UUID, status repository.RequestStatus, limit, offset int) ([]*repository.PaymentRequest, int64, error) {
	actor, err := s.resolveActor(ctx, s.store, actorID)
	if err != nil {
		return nil, 0, err
	}
	if err := Authorize(actor, ActionView); err != nil {
		return nil, 0, err
	}
	return s.store.Requests().ListByStatus(ctx, status, normalizeLimit(limit), max(offset, 0))
}

// GetApproval returns the decision recorded for a request.
func (s *PaymentWorkflowService) GetApproval(ctx context.Context, actorID, requestID uuid.UUID) (*repository.ApprovalRecord, error) {
	actor, err := s.resolveActor(ctx, s.store, actorID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, ActionView); err != nil {
		return nil, err
	}
	return s.store.Approvals().GetByRequestID(ctx, requestID)
}

// AuditTrail pages the audit entries of one entity.
func (s *PaymentWorkflowService) AuditTrail(ctx context.Context, actorID uuid.UUID, entityType string, entityID uuid.UUID, limit, offset int) ([]*repository.AuditEntry, int64, error) {
	actor, err := s.resolveActor(ctx, s.store, actorID)
	if err != nil {
		return nil, 0, err
	}
	if err := Authorize(actor, ActionViewAudit); err != nil {
		return nil, 0, err
	}
	if entityType != EntityBatch && entityType != EntityRequest {
		return nil, 0, errors.InvalidInput("entity_type", "unknown entity type "+entityType)
	}
	return s.store.Audit().ListByEntity(ctx, entityType, entityID, normalizeLimit(limit), max(offset, 0))
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}
