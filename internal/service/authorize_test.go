package service

import (
	"testing"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

func TestAuthorize(t *testing.T) {
	cases := []struct {
		role    repository.Role
		action  Action
		allowed bool
	}{
		{repository.RoleAdmin, ActionApproveRequest, true},
		{repository.RoleAdmin, ActionManageLedger, true},
		{repository.RoleCreator, ActionCreateBatch, true},
		{repository.RoleCreator, ActionSubmitBatch, true},
		{repository.RoleCreator, ActionApproveRequest, false},
		{repository.RoleCreator, ActionManageLedger, false},
		{repository.RoleApprover, ActionApproveRequest, true},
		{repository.RoleApprover, ActionRejectRequest, true},
		{repository.RoleApprover, ActionCreateBatch, false},
		{repository.RoleApprover, ActionEditRequest, false},
		// Marking paid is open to every operating role.
		{repository.RoleAdmin, ActionMarkPaid, true},
		{repository.RoleCreator, ActionMarkPaid, true},
		{repository.RoleApprover, ActionMarkPaid, true},
		{repository.RoleViewer, ActionMarkPaid, false},
		{repository.RoleViewer, ActionView, true},
		{repository.RoleViewer, ActionViewAudit, true},
		{repository.RoleViewer, ActionUploadSOA, false},
	}
	for _, tc := range cases {
		err := Authorize(&repository.User{Role: tc.role}, tc.action)
		if tc.allowed && err != nil {
			t.Errorf("%s should be allowed to %s, got %v", tc.role, tc.action, err)
		}
		if !tc.allowed && !errors.IsCode(err, errors.ErrCodeForbidden) {
			t.Errorf("%s should be forbidden to %s, got %v", tc.role, tc.action, err)
		}
	}
}

func TestAuthorizeNilActor(t *testing.T) {
	if err := Authorize(nil, ActionView); !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Fatalf("nil actor must be forbidden, got %v", err)
	}
}
