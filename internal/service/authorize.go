package service

import (
	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

// Action names every operation subject to role checks.
type Action string

const (
	ActionCreateBatch    Action = "create_batch"
	ActionEditRequest    Action = "edit_request"
	ActionSubmitBatch    Action = "submit_batch"
	ActionCancelBatch    Action = "cancel_batch"
	ActionApproveRequest Action = "approve_request"
	ActionRejectRequest  Action = "reject_request"
	ActionMarkPaid       Action = "mark_paid"
	ActionUploadSOA      Action = "upload_soa"
	ActionViewSOA        Action = "view_soa"
	ActionViewAudit      Action = "view_audit"
	ActionManageLedger   Action = "manage_ledger"
	ActionView           Action = "view"
)

// rolePermissions is the whole policy. Authorization everywhere in the
// service goes through this table; there is no second place to check.
var rolePermissions = map[repository.Role]map[Action]bool{
	repository.RoleAdmin: {
		ActionCreateBatch:    true,
		ActionEditRequest:    true,
		ActionSubmitBatch:    true,
		ActionCancelBatch:    true,
		ActionApproveRequest: true,
		ActionRejectRequest:  true,
		ActionMarkPaid:       true,
		ActionUploadSOA:      true,
		ActionViewSOA:        true,
		ActionViewAudit:      true,
		ActionManageLedger:   true,
		ActionView:           true,
	},
	repository.RoleCreator: {
		ActionCreateBatch: true,
		ActionEditRequest: true,
		ActionSubmitBatch: true,
		ActionCancelBatch: true,
		ActionMarkPaid:    true,
		ActionUploadSOA:   true,
		ActionViewSOA:     true,
		ActionViewAudit:   true,
		ActionView:        true,
	},
	repository.RoleApprover: {
		ActionApproveRequest: true,
		ActionRejectRequest:  true,
		ActionMarkPaid:       true,
		ActionViewSOA:        true,
		ActionViewAudit:      true,
		ActionView:           true,
	},
	repository.RoleViewer: {
		ActionViewSOA:   true,
		ActionViewAudit: true,
		ActionView:      true,
	},
}

// Authorize returns a FORBIDDEN error unless the actor's role permits the
// action.
func Authorize(actor *repository.User, action Action) error {
	if actor == nil {
		return errors.Forbidden("authentication required")
	}
	if rolePermissions[actor.Role][action] {
		return nil
	}
	return errors.Newf(errors.ErrCodeForbidden,
		"role %s is not allowed to %s", actor.Role, action).
		WithDetail("role", string(actor.Role)).
		WithDetail("action", string(action))
}
