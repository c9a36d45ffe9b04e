package service

import (
	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

// The two transition tables below are the single source of truth for
// lifecycle legality. Every persisted status change is validated against
// them immediately before the write; callers never re-derive the rules.

var requestTransitions = map[repository.RequestStatus][]repository.RequestStatus{
	// DRAFT -> DRAFT represents an in-place edit.
	repository.RequestDraft:           {repository.RequestSubmitted, repository.RequestDraft},
	repository.RequestSubmitted:       {repository.RequestPendingApproval},
	repository.RequestPendingApproval: {repository.RequestApproved, repository.RequestRejected},
	repository.RequestApproved:        {repository.RequestPaid},
	repository.RequestRejected:        {},
	repository.RequestPaid:            {},
}

var batchTransitions = map[repository.BatchStatus][]repository.BatchStatus{
	repository.BatchDraft:      {repository.BatchSubmitted, repository.BatchCancelled},
	repository.BatchSubmitted:  {repository.BatchProcessing},
	repository.BatchProcessing: {repository.BatchCompleted},
	repository.BatchCompleted:  {},
	repository.BatchCancelled:  {},
}

// ValidateRequestTransition returns nil when current -> target is legal for a
// PaymentRequest, and an INVALID_STATE error otherwise. Terminal states get a
// distinct message.
func ValidateRequestTransition(current, target repository.RequestStatus) error {
	allowed, ok := requestTransitions[current]
	if !ok {
		return errors.Newf(errors.ErrCodeInvalidState, "unknown payment request status %q", current)
	}
	if len(allowed) == 0 {
		return errors.Newf(errors.ErrCodeInvalidState,
			"payment request in state %s is terminal and cannot transition", current).
			WithDetail("current_status", string(current)).
			WithDetail("target_status", string(target))
	}
	for _, candidate := range allowed {
		if candidate == target {
			return nil
		}
	}
	return errors.Newf(errors.ErrCodeInvalidState,
		"payment request cannot transition from %s to %s", current, target).
		WithDetail("current_status", string(current)).
		WithDetail("target_status", string(target))
}

// ValidateBatchTransition is the PaymentBatch counterpart of
// ValidateRequestTransition.
func ValidateBatchTransition(current, target repository.BatchStatus) error {
	allowed, ok := batchTransitions[current]
	if !ok {
		return errors.Newf(errors.ErrCodeInvalidState, "unknown payment batch status %q", current)
	}
	if len(allowed) == 0 {
		return errors.Newf(errors.ErrCodeInvalidState,
			"payment batch in state %s is terminal and cannot transition", current).
			WithDetail("current_status", string(current)).
			WithDetail("target_status", string(target))
	}
	for _, candidate := range allowed {
		if candidate == target {
			return nil
		}
	}
	return errors.Newf(errors.ErrCodeInvalidState,
		"payment batch cannot transition from %s to %s", current, target).
		WithDetail("current_status", string(current)).
		WithDetail("target_status", string(target))
}

// IsTerminalRequestStatus reports whether a request status has no outgoing
// transitions.
func IsTerminalRequestStatus(s repository.RequestStatus) bool {
	allowed, ok := requestTransitions[s]
	return ok && len(allowed) == 0
}

// IsClosedBatch reports whether a batch is COMPLETED or CANCELLED.
func IsClosedBatch(s repository.BatchStatus) bool {
	allowed, ok := batchTransitions[s]
	return ok && len(allowed) == 0
}
