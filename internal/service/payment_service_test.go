package service

import (
	"context"
	stderrors "errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

func mustCreateBatch(t *testing.T, f *fixture, actorID uuid.UUID) *repository.PaymentBatch {
	t.Helper()
	b, err := f.svc.CreateBatch(context.Background(), actorID, "", CreateBatchInput{Title: "March vendor run"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	return b
}

func mustAddRequest(t *testing.T, f *fixture, batchID uuid.UUID) *repository.PaymentRequest {
	t.Helper()
	r, err := f.svc.AddRequest(context.Background(), creatorID, "", batchID, legacyInput())
	if err != nil {
		t.Fatalf("AddRequest: %v", err)
	}
	return r
}

func mustSubmit(t *testing.T, f *fixture, batchID uuid.UUID) *repository.PaymentBatch {
	t.Helper()
	b, err := f.svc.SubmitBatch(context.Background(), creatorID, "", batchID)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	return b
}

func TestHappyPathWorkflow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	batch := mustCreateBatch(t, f, creatorID)
	if batch.Status != repository.BatchDraft {
		t.Fatalf("new batch status = %s, want DRAFT", batch.Status)
	}

	r1 := mustAddRequest(t, f, batch.ID)
	r2 := mustAddRequest(t, f, batch.ID)
	if r1.Version != 1 || r1.Status != repository.RequestDraft {
		t.Fatalf("new request = %s v%d, want DRAFT v1", r1.Status, r1.Version)
	}

	submitted := mustSubmit(t, f, batch.ID)
	if submitted.Status != repository.BatchProcessing {
		t.Fatalf("batch after submit = %s, want PROCESSING", submitted.Status)
	}
	if submitted.SubmittedAt == nil {
		t.Fatal("submitted batch has no submitted_at")
	}
	for _, id := range []uuid.UUID{r1.ID, r2.ID} {
		r, err := f.svc.GetRequest(ctx, viewerID, id)
		if err != nil {
			t.Fatalf("GetRequest: %v", err)
		}
		if r.Status != repository.RequestPendingApproval {
			t.Fatalf("request after submit = %s, want PENDING_APPROVAL", r.Status)
		}
		if r.Version != 3 {
			t.Fatalf("request after submit version = %d, want 3 (two transitions)", r.Version)
		}
	}

	for _, id := range []uuid.UUID{r1.ID, r2.ID} {
		if _, err := f.svc.ApproveRequest(ctx, approverID, "", id, strp("checked against PO")); err != nil {
			t.Fatalf("ApproveRequest: %v", err)
		}
	}

	if _, err := f.svc.MarkPaid(ctx, creatorID, "", r1.ID, nil); err != nil {
		t.Fatalf("MarkPaid r1: %v", err)
	}
	mid, err := f.svc.GetBatch(ctx, viewerID, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if mid.Batch.Status != repository.BatchProcessing {
		t.Fatalf("batch with one open request = %s, want PROCESSING", mid.Batch.Status)
	}

	execID := uuid.New()
	paid, err := f.svc.MarkPaid(ctx, creatorID, "", r2.ID, &execID)
	if err != nil {
		t.Fatalf("MarkPaid r2: %v", err)
	}
	if paid.ExecutionID == nil || *paid.ExecutionID != execID {
		t.Fatal("execution id not recorded")
	}

	done, err := f.svc.GetBatch(ctx, viewerID, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if done.Batch.Status != repository.BatchCompleted {
		t.Fatalf("batch after last payment = %s, want COMPLETED", done.Batch.Status)
	}
	if done.Batch.CompletedAt == nil {
		t.Fatal("completed batch has no completed_at")
	}

	// Completion generated one statement per request.
	for _, id := range []uuid.UUID{r1.ID, r2.ID} {
		versions, err := f.svc.ListSOAVersions(ctx, viewerID, id)
		if err != nil {
			t.Fatalf("ListSOAVersions: %v", err)
		}
		if len(versions) != 1 || versions[0].Source != repository.SOASourceGenerated {
			t.Fatalf("want exactly one GENERATED version, got %+v", versions)
		}
		if versions[0].UploadedBy != nil {
			t.Error("generated version must have no uploader")
		}
	}
}

func TestSubmitEmptyBatchFails(t *testing.T) {
	f := newFixture()
	batch := mustCreateBatch(t, f, creatorID)

	_, err := f.svc.SubmitBatch(context.Background(), creatorID, "", batch.ID)
	if !errors.IsCode(err, errors.ErrCodePrecondition) {
		t.Fatalf("submit of empty batch = %v, want PRECONDITION_FAILED", err)
	}

	b, gerr := f.svc.GetBatch(context.Background(), creatorID, batch.ID)
	if gerr != nil {
		t.Fatalf("GetBatch: %v", gerr)
	}
	if b.Batch.Status != repository.BatchDraft {
		t.Fatalf("failed submit must leave batch DRAFT, got %s", b.Batch.Status)
	}
}

func TestUpdateAfterSubmitRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	batch := mustCreateBatch(t, f, creatorID)
	r := mustAddRequest(t, f, batch.ID)
	mustSubmit(t, f, batch.ID)

	_, err := f.svc.UpdateRequest(ctx, creatorID, r.ID, 0, legacyInput())
	if !errors.IsCode(err, errors.ErrCodeInvalidState) {
		t.Fatalf("edit of submitted request = %v, want INVALID_STATE", err)
	}
}

func TestUpdateDraftRequest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	batch := mustCreateBatch(t, f, creatorID)
	r := mustAddRequest(t, f, batch.ID)

	in := legacyInput()
	in.Amount = int64p(99_000)
	updated, err := f.svc.UpdateRequest(ctx, creatorID, r.ID, r.Version, in)
	if err != nil {
		t.Fatalf("UpdateRequest: %v", err)
	}
	if updated.Version != r.Version+1 {
		t.Fatalf("edit must bump version: got %d, want %d", updated.Version, r.Version+1)
	}
	if updated.Amount == nil || *updated.Amount != 99_000 {
		t.Fatal("amount not updated")
	}

	// A stale version must conflict.
	_, err = f.svc.UpdateRequest(ctx, creatorID, r.ID, r.Version, in)
	if !errors.IsCode(err, errors.ErrCodeConflict) {
		t.Fatalf("stale-version edit = %v, want CONFLICT", err)
	}
}

func TestCancelBatch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	batch := mustCreateBatch(t, f, creatorID)
	cancelled, err := f.svc.CancelBatch(ctx, creatorID, "", batch.ID)
	if err != nil {
		t.Fatalf("CancelBatch: %v", err)
	}
	if cancelled.Status != repository.BatchCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("cancelled batch = %s completed_at=%v", cancelled.Status, cancelled.CompletedAt)
	}

	// Cancelling after submission is illegal.
	other := mustCreateBatch(t, f, creatorID)
	mustAddRequest(t, f, other.ID)
	mustSubmit(t, f, other.ID)
	_, err = f.svc.CancelBatch(ctx, creatorID, "", other.ID)
	if !errors.IsCode(err, errors.ErrCodeInvalidState) {
		t.Fatalf("cancel of submitted batch = %v, want INVALID_STATE", err)
	}
}

func TestAddRequestToNonDraftBatch(t *testing.T) {
	f := newFixture()
	batch := mustCreateBatch(t, f, creatorID)
	mustAddRequest(t, f, batch.ID)
	mustSubmit(t, f, batch.ID)

	_, err := f.svc.AddRequest(context.Background(), creatorID, "", batch.ID, legacyInput())
	if !errors.IsCode(err, errors.ErrCodeInvalidState) {
		t.Fatalf("add to PROCESSING batch = %v, want INVALID_STATE", err)
	}
}

func TestRoleEnforcement(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.CreateBatch(ctx, viewerID, "", CreateBatchInput{Title: "x"}); !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Fatalf("viewer CreateBatch = %v, want FORBIDDEN", err)
	}
	if _, err := f.svc.CreateBatch(ctx, approverID, "", CreateBatchInput{Title: "x"}); !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Fatalf("approver CreateBatch = %v, want FORBIDDEN", err)
	}

	batch := mustCreateBatch(t, f, creatorID)
	r := mustAddRequest(t, f, batch.ID)
	mustSubmit(t, f, batch.ID)

	if _, err := f.svc.ApproveRequest(ctx, creatorID, "", r.ID, nil); !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Fatalf("creator ApproveRequest = %v, want FORBIDDEN", err)
	}
}

func TestBatchOwnershipEnforced(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	batch := mustCreateBatch(t, f, creatorID)
	r := mustAddRequest(t, f, batch.ID)

	// A second creator holds the right role but does not own the batch.
	if _, err := f.svc.AddRequest(ctx, otherCreatorID, "", batch.ID, legacyInput()); !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Fatalf("non-owner AddRequest = %v, want FORBIDDEN", err)
	}
	if _, err := f.svc.UpdateRequest(ctx, otherCreatorID, r.ID, r.Version, legacyInput()); !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Fatalf("non-owner UpdateRequest = %v, want FORBIDDEN", err)
	}
	if _, err := f.svc.SubmitBatch(ctx, otherCreatorID, "", batch.ID); !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Fatalf("non-owner SubmitBatch = %v, want FORBIDDEN", err)
	}
	if _, err := f.svc.CancelBatch(ctx, otherCreatorID, "", batch.ID); !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Fatalf("non-owner CancelBatch = %v, want FORBIDDEN", err)
	}
	_, err := f.svc.UploadSOA(ctx, otherCreatorID, "", UploadSOAInput{
		RequestID:   r.ID,
		Filename:    "statement.pdf",
		ContentType: "application/pdf",
		Size:        4,
		Body:        strings.NewReader("body"),
	})
	if !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Fatalf("non-owner UploadSOA = %v, want FORBIDDEN", err)
	}

	// Nothing above mutated the batch.
	detail, err := f.svc.GetBatch(ctx, creatorID, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if detail.Batch.Status != repository.BatchDraft || len(detail.Requests) != 1 {
		t.Fatalf("batch after denied mutations = %s with %d requests, want DRAFT with 1", detail.Batch.Status, len(detail.Requests))
	}

	// Admins act on any batch.
	submitted, err := f.svc.SubmitBatch(ctx, adminID, "", batch.ID)
	if err != nil {
		t.Fatalf("admin SubmitBatch: %v", err)
	}
	if submitted.Status != repository.BatchProcessing {
		t.Fatalf("admin submit = %s, want PROCESSING", submitted.Status)
	}
}

func TestUploadSOAOnlyWhileDraft(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	batch := mustCreateBatch(t, f, creatorID)
	r := mustAddRequest(t, f, batch.ID)
	mustSubmit(t, f, batch.ID)

	upload := func() error {
		_, err := f.svc.UploadSOA(ctx, creatorID, "", UploadSOAInput{
			RequestID:   r.ID,
			Filename:    "statement.pdf",
			ContentType: "application/pdf",
			Size:        4,
			Body:        strings.NewReader("body"),
		})
		return err
	}

	if err := upload(); !errors.IsCode(err, errors.ErrCodeInvalidState) {
		t.Fatalf("upload to PENDING_APPROVAL request = %v, want INVALID_STATE", err)
	}

	if _, err := f.svc.ApproveRequest(ctx, approverID, "", r.ID, nil); err != nil {
		t.Fatalf("ApproveRequest: %v", err)
	}
	if err := upload(); !errors.IsCode(err, errors.ErrCodeInvalidState) {
		t.Fatalf("upload to APPROVED request = %v, want INVALID_STATE", err)
	}

	versions, err := f.svc.ListSOAVersions(ctx, viewerID, r.ID)
	if err != nil {
		t.Fatalf("ListSOAVersions: %v", err)
	}
	if len(versions) != 0 {
		t.Fatalf("%d versions stored after rejected uploads, want 0", len(versions))
	}
}

func TestTransactionRollbackOnError(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	boom := stderrors.New("downstream failure")
	err := f.store.InTransaction(ctx, func(tx repository.Tx) error {
		b := &repository.PaymentBatch{ID: uuid.New(), Title: "doomed", Status: repository.BatchDraft, CreatedBy: creatorID}
		if err := tx.Batches().Create(ctx, b); err != nil {
			return err
		}
		return boom
	})
	if !stderrors.Is(err, boom) {
		t.Fatalf("InTransaction error = %v, want the closure's error", err)
	}
	if len(f.store.batches) != 0 {
		t.Fatalf("%d batches survived a failed transaction, want 0", len(f.store.batches))
	}
}

func TestApproveIdempotentReplay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	batch := mustCreateBatch(t, f, creatorID)
	r := mustAddRequest(t, f, batch.ID)
	mustSubmit(t, f, batch.ID)

	key := "approve-" + r.ID.String()
	first, err := f.svc.ApproveRequest(ctx, approverID, key, r.ID, nil)
	if err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if first.Status != repository.RequestApproved {
		t.Fatalf("approved request = %s", first.Status)
	}

	// Same key: replay succeeds and changes nothing.
	second, err := f.svc.ApproveRequest(ctx, approverID, key, r.ID, nil)
	if err != nil {
		t.Fatalf("replayed approve: %v", err)
	}
	if second.Status != repository.RequestApproved || second.Version != first.Version {
		t.Fatalf("replay must not mutate: got %s v%d", second.Status, second.Version)
	}
	if len(f.store.approvals) != 1 {
		t.Fatalf("replay created a second approval record: %d", len(f.store.approvals))
	}

	// Different key is a genuinely new attempt and fails on state.
	_, err = f.svc.ApproveRequest(ctx, approverID, "other-key", r.ID, nil)
	if !errors.IsCode(err, errors.ErrCodeInvalidState) {
		t.Fatalf("fresh approve of APPROVED request = %v, want INVALID_STATE", err)
	}

	// Replay still succeeds after the request moved on to PAID.
	if _, err := f.svc.MarkPaid(ctx, creatorID, "", r.ID, nil); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if _, err := f.svc.ApproveRequest(ctx, approverID, key, r.ID, nil); err != nil {
		t.Fatalf("approve replay after PAID: %v", err)
	}
}

func TestIdempotencyKeyReuseAcrossTargets(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	batch := mustCreateBatch(t, f, creatorID)
	r1 := mustAddRequest(t, f, batch.ID)
	r2 := mustAddRequest(t, f, batch.ID)
	mustSubmit(t, f, batch.ID)

	if _, err := f.svc.ApproveRequest(ctx, approverID, "shared-key", r1.ID, nil); err != nil {
		t.Fatalf("approve r1: %v", err)
	}
	_, err := f.svc.ApproveRequest(ctx, approverID, "shared-key", r2.ID, nil)
	if !errors.IsCode(err, errors.ErrCodePrecondition) {
		t.Fatalf("key reuse against a different request = %v, want PRECONDITION_FAILED", err)
	}

	// The same key is fine for a different operation.
	if _, err := f.svc.MarkPaid(ctx, creatorID, "shared-key", r1.ID, nil); err != nil {
		t.Fatalf("same key, different operation: %v", err)
	}
}

func TestCreateBatchReplay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.CreateBatch(ctx, creatorID, "key-1", CreateBatchInput{Title: "run"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	second, err := f.svc.CreateBatch(ctx, creatorID, "key-1", CreateBatchInput{Title: "run"})
	if err != nil {
		t.Fatalf("replayed CreateBatch: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("replay created a second batch: %s vs %s", first.ID, second.ID)
	}
	if len(f.store.batches) != 1 {
		t.Fatalf("store holds %d batches, want 1", len(f.store.batches))
	}
}

func TestSubmitBatchReplay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	batch := mustCreateBatch(t, f, creatorID)
	r := mustAddRequest(t, f, batch.ID)

	if _, err := f.svc.SubmitBatch(ctx, creatorID, "submit-key", batch.ID); err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	replayed, err := f.svc.SubmitBatch(ctx, creatorID, "submit-key", batch.ID)
	if err != nil {
		t.Fatalf("replayed SubmitBatch: %v", err)
	}
	if replayed.Status != repository.BatchProcessing {
		t.Fatalf("replay returned %s, want PROCESSING", replayed.Status)
	}
	got, err := f.svc.GetRequest(ctx, viewerID, r.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.Version != 3 {
		t.Fatalf("replay must not re-transition requests: version %d, want 3", got.Version)
	}
}

func TestCascadeWithRejectedRequest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	batch := mustCreateBatch(t, f, creatorID)
	r1 := mustAddRequest(t, f, batch.ID)
	r2 := mustAddRequest(t, f, batch.ID)
	mustSubmit(t, f, batch.ID)

	if _, err := f.svc.RejectRequest(ctx, approverID, "", r1.ID, strp("duplicate of Feb run")); err != nil {
		t.Fatalf("RejectRequest: %v", err)
	}
	if _, err := f.svc.ApproveRequest(ctx, approverID, "", r2.ID, nil); err != nil {
		t.Fatalf("ApproveRequest: %v", err)
	}

	// REJECTED is terminal, so paying the last APPROVED request closes the
	// batch.
	if _, err := f.svc.MarkPaid(ctx, creatorID, "", r2.ID, nil); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	detail, err := f.svc.GetBatch(ctx, viewerID, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if detail.Batch.Status != repository.BatchCompleted {
		t.Fatalf("batch = %s, want COMPLETED", detail.Batch.Status)
	}

	rec, err := f.svc.GetApproval(ctx, viewerID, r1.ID)
	if err != nil {
		t.Fatalf("GetApproval: %v", err)
	}
	if rec.Decision != repository.DecisionRejected {
		t.Fatalf("decision = %s, want REJECTED", rec.Decision)
	}
}

func TestStatementGenerationRunsOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	batch := mustCreateBatch(t, f, creatorID)
	r := mustAddRequest(t, f, batch.ID)
	mustSubmit(t, f, batch.ID)

	if _, err := f.svc.ApproveRequest(ctx, approverID, "", r.ID, nil); err != nil {
		t.Fatalf("ApproveRequest: %v", err)
	}
	if _, err := f.svc.MarkPaid(ctx, creatorID, "pay-key", r.ID, nil); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if _, err := f.svc.MarkPaid(ctx, creatorID, "pay-key", r.ID, nil); err != nil {
		t.Fatalf("MarkPaid replay: %v", err)
	}

	versions, err := f.svc.ListSOAVersions(ctx, viewerID, r.ID)
	if err != nil {
		t.Fatalf("ListSOAVersions: %v", err)
	}
	generated := 0
	for _, v := range versions {
		if v.Source == repository.SOASourceGenerated {
			generated++
		}
	}
	if generated != 1 {
		t.Fatalf("generated statements = %d, want 1", generated)
	}
}

func TestLedgerDrivenRequestTotals(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	vendorID := uuid.New()
	f.store.vendors[vendorID] = &repository.Vendor{ID: vendorID, Name: "Steelworks GmbH", IsActive: true}
	siteID := uuid.New()
	f.store.sites[siteID] = &repository.Site{ID: siteID, Code: "BER-07", Name: "Berlin depot", IsActive: true}

	batch := mustCreateBatch(t, f, creatorID)
	payee := repository.PayeeVendor
	in := RequestInput{
		Currency:    "EUR",
		PayeeType:   &payee,
		VendorID:    &vendorID,
		SiteID:      &siteID,
		BaseAmount:  int64p(200_000),
		ExtraAmount: int64p(15_000),
		ExtraReason: strp("expedited delivery surcharge"),
	}
	r, err := f.svc.AddRequest(ctx, creatorID, "", batch.ID, in)
	if err != nil {
		t.Fatalf("AddRequest: %v", err)
	}
	if r.TotalAmount == nil || *r.TotalAmount != 215_000 {
		t.Fatalf("total = %v, want 215000 (base + extra)", r.TotalAmount)
	}
	if r.VendorSnapshotName == nil || *r.VendorSnapshotName != "Steelworks GmbH" {
		t.Fatalf("vendor snapshot = %v", r.VendorSnapshotName)
	}
	if r.SiteSnapshotCode == nil || *r.SiteSnapshotCode != "BER-07" {
		t.Fatalf("site snapshot = %v", r.SiteSnapshotCode)
	}

	// A deactivated vendor cannot be referenced by new requests.
	f.store.vendors[vendorID].IsActive = false
	if _, err := f.svc.AddRequest(ctx, creatorID, "", batch.ID, in); !errors.IsCode(err, errors.ErrCodeNotFound) {
		t.Fatalf("add with inactive vendor = %v, want NOT_FOUND", err)
	}
}

func TestRequestInputValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	batch := mustCreateBatch(t, f, creatorID)

	cases := []struct {
		name string
		mut  func(*RequestInput)
	}{
		{"bad currency", func(in *RequestInput) { in.Currency = "EURO" }},
		{"zero amount", func(in *RequestInput) { in.Amount = int64p(0) }},
		{"missing beneficiary", func(in *RequestInput) { in.BeneficiaryName = nil }},
		{"mixed modes", func(in *RequestInput) {
			p := repository.PayeeVendor
			in.PayeeType = &p
		}},
	}
	for _, tc := range cases {
		in := legacyInput()
		tc.mut(&in)
		if _, err := f.svc.AddRequest(ctx, creatorID, "", batch.ID, in); !errors.IsCode(err, errors.ErrCodeValidation) {
			t.Errorf("%s: got %v, want VALIDATION_ERROR", tc.name, err)
		}
	}

	// Extra amount without a reason.
	vendorID := uuid.New()
	f.store.vendors[vendorID] = &repository.Vendor{ID: vendorID, Name: "v", IsActive: true}
	payee := repository.PayeeVendor
	in := RequestInput{
		Currency: "USD", PayeeType: &payee, VendorID: &vendorID,
		BaseAmount: int64p(1000), ExtraAmount: int64p(50),
	}
	if _, err := f.svc.AddRequest(ctx, creatorID, "", batch.ID, in); !errors.IsCode(err, errors.ErrCodeValidation) {
		t.Fatalf("extra without reason = %v, want VALIDATION_ERROR", err)
	}
}

func TestConcurrentApprovals(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	batch := mustCreateBatch(t, f, creatorID)
	r := mustAddRequest(t, f, batch.ID)
	mustSubmit(t, f, batch.ID)

	const workers = 8
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApproveRequest(ctx, approverID, "", r.ID, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.IsCode(err, errors.ErrCodeInvalidState), errors.IsCode(err, errors.ErrCodeConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d approvals succeeded, want exactly 1", succeeded)
	}
	if len(f.store.approvals) != 1 {
		t.Fatalf("%d approval records, want exactly 1", len(f.store.approvals))
	}
}

func TestUploadSOAVersioning(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	batch := mustCreateBatch(t, f, creatorID)
	r := mustAddRequest(t, f, batch.ID)

	upload := func(key, content string) (*repository.SOAVersion, error) {
		return f.svc.UploadSOA(ctx, creatorID, key, UploadSOAInput{
			RequestID:   r.ID,
			Filename:    "statement.pdf",
			ContentType: "application/pdf",
			Size:        int64(len(content)),
			Body:        strings.NewReader(content),
		})
	}

	v1, err := upload("up-1", "first")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	v2, err := upload("up-2", "second")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if v1.VersionNumber != 1 || v2.VersionNumber != 2 {
		t.Fatalf("versions = %d, %d; want 1, 2", v1.VersionNumber, v2.VersionNumber)
	}

	// Replay returns the recorded version without storing a third document.
	again, err := upload("up-2", "second")
	if err != nil {
		t.Fatalf("replayed upload: %v", err)
	}
	if again.ID != v2.ID {
		t.Fatal("replay returned a different version")
	}
	if got, _ := f.svc.ListSOAVersions(ctx, viewerID, r.ID); len(got) != 2 {
		t.Fatalf("%d versions stored, want 2", len(got))
	}

	meta, body, err := f.svc.OpenSOADocument(ctx, viewerID, r.ID, v2.ID)
	if err != nil {
		t.Fatalf("OpenSOADocument: %v", err)
	}
	defer body.Close()
	raw, _ := io.ReadAll(body)
	if string(raw) != "second" {
		t.Fatalf("document content = %q", raw)
	}
	if meta.Source != repository.SOASourceUpload {
		t.Fatalf("source = %s", meta.Source)
	}

	if _, err := upload("", ""); !errors.IsCode(err, errors.ErrCodeValidation) {
		t.Fatalf("empty upload = %v, want VALIDATION_ERROR", err)
	}
}

func TestAuditTrailRecordsSystemAndUserActions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	batch := mustCreateBatch(t, f, creatorID)
	r := mustAddRequest(t, f, batch.ID)
	mustSubmit(t, f, batch.ID)

	entries, _, err := f.svc.AuditTrail(ctx, viewerID, EntityRequest, r.ID, 50, 0)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	// created, submitted, pending_approval.
	if len(entries) != 3 {
		t.Fatalf("%d audit entries, want 3", len(entries))
	}

	var sawSystem, sawUser bool
	for _, e := range entries {
		if e.ActorID == nil {
			sawSystem = true
		} else {
			sawUser = true
		}
	}
	if !sawSystem || !sawUser {
		t.Fatalf("audit trail should contain user and system entries: system=%v user=%v", sawSystem, sawUser)
	}

	batchEntries, _, err := f.svc.AuditTrail(ctx, viewerID, EntityBatch, batch.ID, 50, 0)
	if err != nil {
		t.Fatalf("AuditTrail batch: %v", err)
	}
	// created, submitted, processing.
	if len(batchEntries) != 3 {
		t.Fatalf("%d batch audit entries, want 3", len(batchEntries))
	}
}
