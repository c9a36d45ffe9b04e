package service

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

// fakeStore is an in-memory repository.Store. InTransaction serializes all
// mutations behind one mutex, which is what makes the concurrency tests
// deterministic: each "transaction" observes a consistent snapshot.
//
// Entity stores hand out copies so service-side mutation of returned structs
// never leaks into stored state.
type fakeStore struct {
	mu sync.Mutex

	users       map[uuid.UUID]*repository.User
	batches     map[uuid.UUID]*repository.PaymentBatch
	requests    map[uuid.UUID]*repository.PaymentRequest
	approvals   map[uuid.UUID]*repository.ApprovalRecord // by payment request id
	soa         []*repository.SOAVersion
	idempotency map[[2]string]*repository.IdempotencyRecord
	audit       []*repository.AuditEntry

	vendors map[uuid.UUID]*repository.Vendor
	subs    map[uuid.UUID]*repository.Subcontractor
	sites   map[uuid.UUID]*repository.Site
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[uuid.UUID]*repository.User{},
		batches:     map[uuid.UUID]*repository.PaymentBatch{},
		requests:    map[uuid.UUID]*repository.PaymentRequest{},
		approvals:   map[uuid.UUID]*repository.ApprovalRecord{},
		idempotency: map[[2]string]*repository.IdempotencyRecord{},
		vendors:     map[uuid.UUID]*repository.Vendor{},
		subs:        map[uuid.UUID]*repository.Subcontractor{},
		sites:       map[uuid.UUID]*repository.Site{},
	}
}

// InTransaction mirrors database.DB.InTransaction: an error from the closure
// rolls the store back to its state on entry, so callers never observe a
// partially applied mutation.
func (s *fakeStore) InTransaction(_ context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type storeSnapshot struct {
	users       map[uuid.UUID]*repository.User
	batches     map[uuid.UUID]*repository.PaymentBatch
	requests    map[uuid.UUID]*repository.PaymentRequest
	approvals   map[uuid.UUID]*repository.ApprovalRecord
	soa         []*repository.SOAVersion
	idempotency map[[2]string]*repository.IdempotencyRecord
	audit       []*repository.AuditEntry
	vendors     map[uuid.UUID]*repository.Vendor
	subs        map[uuid.UUID]*repository.Subcontractor
	sites       map[uuid.UUID]*repository.Site
}

func (s *fakeStore) snapshot() storeSnapshot {
	return storeSnapshot{
		users:       cloneMap(s.users),
		batches:     cloneMap(s.batches),
		requests:    cloneMap(s.requests),
		approvals:   cloneMap(s.approvals),
		soa:         cloneSlice(s.soa),
		idempotency: cloneMap(s.idempotency),
		audit:       cloneSlice(s.audit),
		vendors:     cloneMap(s.vendors),
		subs:        cloneMap(s.subs),
		sites:       cloneMap(s.sites),
	}
}

func (s *fakeStore) restore(snap storeSnapshot) {
	s.users = snap.users
	s.batches = snap.batches
	s.requests = snap.requests
	s.approvals = snap.approvals
	s.soa = snap.soa
	s.idempotency = snap.idempotency
	s.audit = snap.audit
	s.vendors = snap.vendors
	s.subs = snap.subs
	s.sites = snap.sites
}

func cloneMap[K comparable, V any](m map[K]*V) map[K]*V {
	out := make(map[K]*V, len(m))
	for k, v := range m {
		cp := *v
		out[k] = &cp
	}
	return out
}

func cloneSlice[V any](s []*V) []*V {
	out := make([]*V, 0, len(s))
	for _, v := range s {
		cp := *v
		out = append(out, &cp)
	}
	return out
}

func (s *fakeStore) Batches() repository.BatchStore           { return (*fakeBatches)(s) }
func (s *fakeStore) Requests() repository.RequestStore        { return (*fakeRequests)(s) }
func (s *fakeStore) Approvals() repository.ApprovalStore      { return (*fakeApprovals)(s) }
func (s *fakeStore) SOA() repository.SOAStore                 { return (*fakeSOA)(s) }
func (s *fakeStore) Idempotency() repository.IdempotencyStore { return (*fakeIdempotency)(s) }
func (s *fakeStore) Audit() repository.AuditStore             { return (*fakeAudit)(s) }
func (s *fakeStore) Users() repository.UserStore              { return (*fakeUsers)(s) }
func (s *fakeStore) Ledger() repository.LedgerStore           { return (*fakeLedger)(s) }

// ── Batches ──────────────────────────────────────────────────────────────────

type fakeBatches fakeStore

func (f *fakeBatches) Create(_ context.Context, b *repository.PaymentBatch) error {
	cp := *b
	f.batches[b.ID] = &cp
	return nil
}

func (f *fakeBatches) GetByID(_ context.Context, id uuid.UUID) (*repository.PaymentBatch, error) {
	b, ok := f.batches[id]
	if !ok {
		return nil, errors.NotFound("payment batch", id.String())
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBatches) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*repository.PaymentBatch, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeBatches) List(_ context.Context, status *repository.BatchStatus, limit, offset int) ([]*repository.PaymentBatch, int64, error) {
	var out []*repository.PaymentBatch
	for _, b := range f.batches {
		if status != nil && b.Status != *status {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (f *fakeBatches) Transition(_ context.Context, id uuid.UUID, from, to repository.BatchStatus, submittedAt, completedAt *time.Time) error {
	b, ok := f.batches[id]
	if !ok {
		return errors.NotFound("payment batch", id.String())
	}
	if b.Status != from {
		return errors.Conflict("payment batch was modified concurrently")
	}
	b.Status = to
	if submittedAt != nil {
		b.SubmittedAt = submittedAt
	}
	if completedAt != nil {
		b.CompletedAt = completedAt
	}
	return nil
}

// ── Requests ─────────────────────────────────────────────────────────────────

type fakeRequests fakeStore

func (f *fakeRequests) Create(_ context.Context, r *repository.PaymentRequest) error {
	cp := *r
	f.requests[r.ID] = &cp
	return nil
}

func (f *fakeRequests) GetByID(_ context.Context, id uuid.UUID) (*repository.PaymentRequest, error) {
	r, ok := f.requests[id]
	if !ok {
		return nil, errors.NotFound("payment request", id.String())
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRequests) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*repository.PaymentRequest, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeRequests) ListByBatchForUpdate(ctx context.Context, batchID uuid.UUID) ([]*repository.PaymentRequest, error) {
	return f.ListByBatch(ctx, batchID)
}

func (f *fakeRequests) ListByBatch(_ context.Context, batchID uuid.UUID) ([]*repository.PaymentRequest, error) {
	var out []*repository.PaymentRequest
	for _, r := range f.requests {
		if r.BatchID == batchID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRequests) ListByStatus(_ context.Context, status repository.RequestStatus, limit, offset int) ([]*repository.PaymentRequest, int64, error) {
	var out []*repository.PaymentRequest
	for _, r := range f.requests {
		if r.Status == status {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeRequests) ApplyTransition(_ context.Context, id uuid.UUID, expectedVersion int, from, to repository.RequestStatus, updatedBy *uuid.UUID) error {
	r, ok := f.requests[id]
	if !ok {
		return errors.NotFound("payment request", id.String())
	}
	if r.Version != expectedVersion || r.Status != from {
		return errors.Conflict("payment request was modified concurrently")
	}
	r.Status = to
	r.Version++
	r.UpdatedBy = updatedBy
	return nil
}

func (f *fakeRequests) UpdateDraft(_ context.Context, r *repository.PaymentRequest, expectedVersion int) error {
	stored, ok := f.requests[r.ID]
	if !ok {
		return errors.NotFound("payment request", r.ID.String())
	}
	if stored.Version != expectedVersion || stored.Status != repository.RequestDraft {
		return errors.Conflict("payment request was modified concurrently")
	}
	cp := *r
	cp.Version = expectedVersion + 1
	f.requests[r.ID] = &cp
	return nil
}

func (f *fakeRequests) SetExecution(_ context.Context, id uuid.UUID, executionID *uuid.UUID) error {
	r, ok := f.requests[id]
	if !ok {
		return errors.NotFound("payment request", id.String())
	}
	r.ExecutionID = executionID
	return nil
}

// ── Approvals ────────────────────────────────────────────────────────────────

type fakeApprovals fakeStore

func (f *fakeApprovals) Create(_ context.Context, a *repository.ApprovalRecord) error {
	if _, exists := f.approvals[a.PaymentRequestID]; exists {
		return errors.Conflict("duplicate record").
			WithDetail("constraint", repository.ConstraintApprovalRequest)
	}
	cp := *a
	f.approvals[a.PaymentRequestID] = &cp
	return nil
}

func (f *fakeApprovals) GetByRequestID(_ context.Context, requestID uuid.UUID) (*repository.ApprovalRecord, error) {
	a, ok := f.approvals[requestID]
	if !ok {
		return nil, errors.NotFound("approval record for request", requestID.String())
	}
	cp := *a
	return &cp, nil
}

// ── SOA ──────────────────────────────────────────────────────────────────────

type fakeSOA fakeStore

func (f *fakeSOA) Create(_ context.Context, v *repository.SOAVersion) error {
	for _, existing := range f.soa {
		if existing.PaymentRequestID == v.PaymentRequestID && existing.VersionNumber == v.VersionNumber {
			return errors.Conflict("duplicate record")
		}
	}
	cp := *v
	f.soa = append(f.soa, &cp)
	return nil
}

func (f *fakeSOA) NextVersionNumber(_ context.Context, requestID uuid.UUID) (int, error) {
	next := 1
	for _, v := range f.soa {
		if v.PaymentRequestID == requestID && v.VersionNumber >= next {
			next = v.VersionNumber + 1
		}
	}
	return next, nil
}

func (f *fakeSOA) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*repository.SOAVersion, error) {
	var out []*repository.SOAVersion
	for _, v := range f.soa {
		if v.PaymentRequestID == requestID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSOA) GetByID(_ context.Context, id, requestID uuid.UUID) (*repository.SOAVersion, error) {
	for _, v := range f.soa {
		if v.ID == id && v.PaymentRequestID == requestID {
			cp := *v
			return &cp, nil
		}
	}
	return nil, errors.NotFound("soa version", id.String())
}

func (f *fakeSOA) HasGeneratedForBatch(_ context.Context, batchID uuid.UUID) (bool, error) {
	for _, v := range f.soa {
		if v.Source != repository.SOASourceGenerated {
			continue
		}
		if r, ok := f.requests[v.PaymentRequestID]; ok && r.BatchID == batchID {
			return true, nil
		}
	}
	return false, nil
}

// ── Idempotency ──────────────────────────────────────────────────────────────

type fakeIdempotency fakeStore

func (f *fakeIdempotency) Get(_ context.Context, key, operation string) (*repository.IdempotencyRecord, error) {
	rec, ok := f.idempotency[[2]string{key, operation}]
	if !ok {
		return nil, errors.NotFound("idempotency record", key)
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeIdempotency) Create(_ context.Context, rec *repository.IdempotencyRecord) error {
	k := [2]string{rec.Key, rec.Operation}
	if _, exists := f.idempotency[k]; exists {
		return errors.Conflict("duplicate record").
			WithDetail("constraint", repository.ConstraintIdempotencyKeyOperation)
	}
	cp := *rec
	f.idempotency[k] = &cp
	return nil
}

// ── Audit ────────────────────────────────────────────────────────────────────

type fakeAudit fakeStore

func (f *fakeAudit) Append(_ context.Context, e *repository.AuditEntry) error {
	cp := *e
	f.audit = append(f.audit, &cp)
	return nil
}

func (f *fakeAudit) ListByEntity(_ context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]*repository.AuditEntry, int64, error) {
	var out []*repository.AuditEntry
	for _, e := range f.audit {
		if e.EntityType == entityType && e.EntityID == entityID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

// ── Users ────────────────────────────────────────────────────────────────────

type fakeUsers fakeStore

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*repository.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errors.NotFound("user", id.String())
	}
	cp := *u
	return &cp, nil
}

// ── Ledger ───────────────────────────────────────────────────────────────────

type fakeLedger fakeStore

func (f *fakeLedger) CreateClient(_ context.Context, c *repository.Client) error { return nil }

func (f *fakeLedger) CreateSite(_ context.Context, s *repository.Site) error {
	cp := *s
	f.sites[s.ID] = &cp
	return nil
}

func (f *fakeLedger) CreateVendorType(_ context.Context, vt *repository.VendorType) error { return nil }

func (f *fakeLedger) CreateVendor(_ context.Context, v *repository.Vendor) error {
	cp := *v
	f.vendors[v.ID] = &cp
	return nil
}

func (f *fakeLedger) CreateScope(_ context.Context, sc *repository.SubcontractorScope) error {
	return nil
}

func (f *fakeLedger) CreateSubcontractor(_ context.Context, s *repository.Subcontractor) error {
	cp := *s
	f.subs[s.ID] = &cp
	return nil
}

func (f *fakeLedger) GetActiveVendor(_ context.Context, id uuid.UUID) (*repository.Vendor, error) {
	v, ok := f.vendors[id]
	if !ok || !v.IsActive {
		return nil, errors.NotFound("active vendor", id.String())
	}
	cp := *v
	return &cp, nil
}

func (f *fakeLedger) GetActiveSubcontractor(_ context.Context, id uuid.UUID) (*repository.Subcontractor, error) {
	s, ok := f.subs[id]
	if !ok || !s.IsActive {
		return nil, errors.NotFound("active subcontractor", id.String())
	}
	cp := *s
	return &cp, nil
}

func (f *fakeLedger) GetActiveSite(_ context.Context, id uuid.UUID) (*repository.Site, error) {
	s, ok := f.sites[id]
	if !ok || !s.IsActive {
		return nil, errors.NotFound("active site", id.String())
	}
	cp := *s
	return &cp, nil
}

func (f *fakeLedger) ListVendors(_ context.Context, activeOnly bool) ([]*repository.Vendor, error) {
	var out []*repository.Vendor
	for _, v := range f.vendors {
		if activeOnly && !v.IsActive {
			continue
		}
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeLedger) ListSubcontractors(_ context.Context, activeOnly bool) ([]*repository.Subcontractor, error) {
	var out []*repository.Subcontractor
	for _, s := range f.subs {
		if activeOnly && !s.IsActive {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeLedger) ListSites(_ context.Context, activeOnly bool) ([]*repository.Site, error) {
	var out []*repository.Site
	for _, s := range f.sites {
		if activeOnly && !s.IsActive {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeLedger) Deactivate(_ context.Context, kind string, id uuid.UUID, at time.Time) error {
	switch kind {
	case "vendor":
		if v, ok := f.vendors[id]; ok && v.IsActive {
			v.IsActive = false
			v.DeactivatedAt = &at
			return nil
		}
	case "subcontractor":
		if s, ok := f.subs[id]; ok && s.IsActive {
			s.IsActive = false
			s.DeactivatedAt = &at
			return nil
		}
	case "site":
		if s, ok := f.sites[id]; ok && s.IsActive {
			s.IsActive = false
			s.DeactivatedAt = &at
			return nil
		}
	}
	return errors.NotFound("active "+kind, id.String())
}

// ── Document store fake ──────────────────────────────────────────────────────

type fakeDocs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{objects: map[string][]byte{}}
}

func (d *fakeDocs) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[key] = raw
	return nil
}

func (d *fakeDocs) Open(_ context.Context, key string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, ok := d.objects[key]
	if !ok {
		return nil, errors.NotFound("document", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

// ── Test fixture ─────────────────────────────────────────────────────────────

var (
	adminID        = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	creatorID      = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	approverID     = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	viewerID       = uuid.MustParse("00000000-0000-0000-0000-00000000000d")
	otherCreatorID = uuid.MustParse("00000000-0000-0000-0000-00000000000e")

	testTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
)

type fixture struct {
	svc   *PaymentWorkflowService
	store *fakeStore
	docs  *fakeDocs
}

func newFixture() *fixture {
	store := newFakeStore()
	store.users[adminID] = &repository.User{ID: adminID, Username: "admin", Role: repository.RoleAdmin}
	store.users[creatorID] = &repository.User{ID: creatorID, Username: "creator", Role: repository.RoleCreator}
	store.users[approverID] = &repository.User{ID: approverID, Username: "approver", Role: repository.RoleApprover}
	store.users[viewerID] = &repository.User{ID: viewerID, Username: "viewer", Role: repository.RoleViewer}
	store.users[otherCreatorID] = &repository.User{ID: otherCreatorID, Username: "creator2", Role: repository.RoleCreator}

	docs := newFakeDocs()
	svc := NewPaymentWorkflowService(store, docs, nil, zerolog.Nop())
	svc.now = func() time.Time { return testTime }
	return &fixture{svc: svc, store: store, docs: docs}
}

func int64p(v int64) *int64 { return &v }
func strp(s string) *string { return &s }
func legacyInput() RequestInput {
	return RequestInput{
		Currency:           "USD",
		Amount:             int64p(150_000),
		BeneficiaryName:    strp("Acme Supplies Ltd"),
		BeneficiaryAccount: strp("DE89370400440532013000"),
		Purpose:            strp("Office fit-out"),
	}
}
