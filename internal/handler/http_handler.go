// Package handler exposes the payment workflow over HTTP.
package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
	"github.com/meridian-fin/be-payments-workflow/internal/service"
)

// Request headers the API reads.
const (
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

const maxUploadBytes = 25 << 20

// HTTPHandler routes API requests to the workflow services.
type HTTPHandler struct {
	payments *service.PaymentWorkflowService
	ledger   *service.LedgerService
	log      zerolog.Logger
}

// NewHTTPHandler wires the handler.
func NewHTTPHandler(payments *service.PaymentWorkflowService, ledger *service.LedgerService, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{payments: payments, ledger: ledger, log: log}
}

// RegisterRoutes mounts every route on mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)

	mux.HandleFunc("POST /api/v1/batches", h.createBatch)
	mux.HandleFunc("GET /api/v1/batches", h.listBatches)
	mux.HandleFunc("GET /api/v1/batches/{id}", h.getBatch)
	mux.HandleFunc("POST /api/v1/batches/{id}/submit", h.submitBatch)
	mux.HandleFunc("POST /api/v1/batches/{id}/cancel", h.cancelBatch)
	mux.HandleFunc("POST /api/v1/batches/{id}/requests", h.addRequest)

	mux.HandleFunc("GET /api/v1/requests", h.listRequests)
	mux.HandleFunc("GET /api/v1/requests/{id}", h.getRequest)
	mux.HandleFunc("PATCH /api/v1/requests/{id}", h.updateRequest)
	mux.HandleFunc("POST /api/v1/requests/{id}/approve", h.approveRequest)
	mux.HandleFunc("POST /api/v1/requests/{id}/reject", h.rejectRequest)
	mux.HandleFunc("POST /api/v1/requests/{id}/mark-paid", h.markPaid)
	mux.HandleFunc("GET /api/v1/requests/{id}/approval", h.getApproval)
	mux.HandleFunc("POST /api/v1/requests/{id}/soa", h.uploadSOA)
	mux.HandleFunc("GET /api/v1/requests/{id}/soa", h.listSOA)
	mux.HandleFunc("GET /api/v1/requests/{id}/soa/{versionId}/document", h.downloadSOA)

	mux.HandleFunc("GET /api/v1/audit/{entityType}/{id}", h.auditTrail)

	mux.HandleFunc("POST /api/v1/ledger/clients", h.createClient)
	mux.HandleFunc("POST /api/v1/ledger/sites", h.createSite)
	mux.HandleFunc("GET /api/v1/ledger/sites", h.listSites)
	mux.HandleFunc("POST /api/v1/ledger/vendor-types", h.createVendorType)
	mux.HandleFunc("POST /api/v1/ledger/vendors", h.createVendor)
	mux.HandleFunc("GET /api/v1/ledger/vendors", h.listVendors)
	mux.HandleFunc("POST /api/v1/ledger/scopes", h.createScope)
	mux.HandleFunc("POST /api/v1/ledger/subcontractors", h.createSubcontractor)
	mux.HandleFunc("GET /api/v1/ledger/subcontractors", h.listSubcontractors)
	mux.HandleFunc("POST /api/v1/ledger/{kind}/{id}/deactivate", h.deactivateLedger)
}

// ── Response plumbing ────────────────────────────────────────────────────────

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

var statusByCode = map[string]int{
	errors.ErrCodeValidation:   http.StatusBadRequest,
	errors.ErrCodeInvalidState: http.StatusConflict,
	errors.ErrCodeNotFound:     http.StatusNotFound,
	errors.ErrCodeForbidden:    http.StatusForbidden,
	errors.ErrCodePrecondition: http.StatusPreconditionFailed,
	errors.ErrCodeConflict:     http.StatusConflict,
	errors.ErrCodeInternal:     http.StatusInternalServerError,
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"data": data}); err != nil {
		h.log.Error().Err(err).Msg("encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: errors.ErrCodeInternal, Message: "internal error"}
	var domain *errors.Error
	if stderrors.As(err, &domain) {
		body.Code = domain.Code
		body.Message = domain.Message
		body.Details = domain.Details
	}
	status, ok := statusByCode[body.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(map[string]any{"error": body}); encErr != nil {
		h.log.Error().Err(encErr).Msg("encode error response")
	}
}

func (h *HTTPHandler) actor(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(HeaderUserID)
	if raw == "" {
		return uuid.Nil, errors.Forbidden("missing " + HeaderUserID + " header")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.InvalidInput("user_id", "malformed "+HeaderUserID+" header")
	}
	return id, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, errors.InvalidInput(name, "malformed "+name)
	}
	return id, nil
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "malformed request body")
	}
	return nil
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

// ── DTOs ─────────────────────────────────────────────────────────────────────

type batchDTO struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	CreatedBy   uuid.UUID  `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toBatchDTO(b *repository.PaymentBatch) batchDTO {
	return batchDTO{
		ID: b.ID, Title: b.Title, Status: string(b.Status),
		CreatedBy: b.CreatedBy, CreatedAt: b.CreatedAt,
		SubmittedAt: b.SubmittedAt, CompletedAt: b.CompletedAt,
	}
}

type requestDTO struct {
	ID       uuid.UUID `json:"id"`
	BatchID  uuid.UUID `json:"batch_id"`
	Status   string    `json:"status"`
	Version  int       `json:"version"`
	Currency string    `json:"currency"`

	Amount             *int64  `json:"amount,omitempty"`
	BeneficiaryName    *string `json:"beneficiary_name,omitempty"`
	BeneficiaryAccount *string `json:"beneficiary_account,omitempty"`
	Purpose            *string `json:"purpose,omitempty"`

	PayeeType                 *repository.PayeeType `json:"payee_type,omitempty"`
	VendorID                  *uuid.UUID            `json:"vendor_id,omitempty"`
	SubcontractorID           *uuid.UUID            `json:"subcontractor_id,omitempty"`
	SiteID                    *uuid.UUID            `json:"site_id,omitempty"`
	BaseAmount                *int64                `json:"base_amount,omitempty"`
	ExtraAmount               *int64                `json:"extra_amount,omitempty"`
	ExtraReason               *string               `json:"extra_reason,omitempty"`
	TotalAmount               *int64                `json:"total_amount,omitempty"`
	VendorSnapshotName        *string               `json:"vendor_snapshot_name,omitempty"`
	SiteSnapshotCode          *string               `json:"site_snapshot_code,omitempty"`
	SubcontractorSnapshotName *string               `json:"subcontractor_snapshot_name,omitempty"`

	ExecutionID *uuid.UUID `json:"execution_id,omitempty"`

	CreatedBy uuid.UUID  `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedBy *uuid.UUID `json:"updated_by,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func toRequestDTO(r *repository.PaymentRequest) requestDTO {
	return requestDTO{
		ID: r.ID, BatchID: r.BatchID, Status: string(r.Status), Version: r.Version,
		Currency: r.Currency,
		Amount:   r.Amount, BeneficiaryName: r.BeneficiaryName,
		BeneficiaryAccount: r.BeneficiaryAccount, Purpose: r.Purpose,
		PayeeType: r.PayeeType, VendorID: r.VendorID, SubcontractorID: r.SubcontractorID,
		SiteID: r.SiteID, BaseAmount: r.BaseAmount, ExtraAmount: r.ExtraAmount,
		ExtraReason: r.ExtraReason, TotalAmount: r.TotalAmount,
		VendorSnapshotName: r.VendorSnapshotName, SiteSnapshotCode: r.SiteSnapshotCode,
		SubcontractorSnapshotName: r.SubcontractorSnapshotName,
		ExecutionID:               r.ExecutionID,
		CreatedBy:                 r.CreatedBy, CreatedAt: r.CreatedAt,
		UpdatedBy: r.UpdatedBy, UpdatedAt: r.UpdatedAt,
	}
}

func toRequestDTOs(rs []*repository.PaymentRequest) []requestDTO {
	out := make([]requestDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, toRequestDTO(r))
	}
	return out
}

type requestBody struct {
	Currency string `json:"currency"`

	Amount             *int64  `json:"amount"`
	BeneficiaryName    *string `json:"beneficiary_name"`
	BeneficiaryAccount *string `json:"beneficiary_account"`
	Purpose            *string `json:"purpose"`

	PayeeType       *repository.PayeeType `json:"payee_type"`
	VendorID        *uuid.UUID            `json:"vendor_id"`
	SubcontractorID *uuid.UUID            `json:"subcontractor_id"`
	SiteID          *uuid.UUID            `json:"site_id"`
	BaseAmount      *int64                `json:"base_amount"`
	ExtraAmount     *int64                `json:"extra_amount"`
	ExtraReason     *string               `json:"extra_reason"`

	Version int `json:"version"`
}

func (b requestBody) toInput() service.RequestInput {
	return service.RequestInput{
		Currency: strings.ToUpper(b.Currency),
		Amount:   b.Amount, BeneficiaryName: b.BeneficiaryName,
		BeneficiaryAccount: b.BeneficiaryAccount, Purpose: b.Purpose,
		PayeeType: b.PayeeType, VendorID: b.VendorID, SubcontractorID: b.SubcontractorID,
		SiteID: b.SiteID, BaseAmount: b.BaseAmount, ExtraAmount: b.ExtraAmount,
		ExtraReason: b.ExtraReason,
	}
}

type listEnvelope[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// ── Health ───────────────────────────────────────────────────────────────────

func (h *HTTPHandler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Batch endpoints ──────────────────────────────────────────────────────────

func (h *HTTPHandler) createBatch(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	batch, err := h.payments.CreateBatch(r.Context(), actorID, r.Header.Get(HeaderIdempotencyKey), service.CreateBatchInput{Title: body.Title})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toBatchDTO(batch))
}

func (h *HTTPHandler) listBatches(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var status *repository.BatchStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := repository.BatchStatus(strings.ToUpper(raw))
		status = &s
	}
	limit, offset := pageParams(r)
	batches, total, err := h.payments.ListBatches(r.Context(), actorID, status, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := make([]batchDTO, 0, len(batches))
	for _, b := range batches {
		items = append(items, toBatchDTO(b))
	}
	h.writeJSON(w, http.StatusOK, listEnvelope[batchDTO]{Items: items, Total: total, Limit: limit, Offset: offset})
}

func (h *HTTPHandler) getBatch(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	batchID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	detail, err := h.payments.GetBatch(r.Context(), actorID, batchID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"batch":    toBatchDTO(detail.Batch),
		"requests": toRequestDTOs(detail.Requests),
	})
}

func (h *HTTPHandler) submitBatch(w http.ResponseWriter, r *http.Request) {
	h.batchAction(w, r, h.payments.SubmitBatch)
}

func (h *HTTPHandler) cancelBatch(w http.ResponseWriter, r *http.Request) {
	h.batchAction(w, r, h.payments.CancelBatch)
}

func (h *HTTPHandler) batchAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actorID uuid.UUID, key string, batchID uuid.UUID) (*repository.PaymentBatch, error)) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	batchID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	batch, err := fn(r.Context(), actorID, r.Header.Get(HeaderIdempotencyKey), batchID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toBatchDTO(batch))
}

// ── Request endpoints ────────────────────────────────────────────────────────

func (h *HTTPHandler) addRequest(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	batchID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body requestBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	req, err := h.payments.AddRequest(r.Context(), actorID, r.Header.Get(HeaderIdempotencyKey), batchID, body.toInput())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toRequestDTO(req))
}

func (h *HTTPHandler) listRequests(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	raw := r.URL.Query().Get("status")
	if raw == "" {
		h.writeError(w, errors.InvalidInput("status", "status query parameter is required"))
		return
	}
	limit, offset := pageParams(r)
	requests, total, err := h.payments.ListRequestsByStatus(r.Context(), actorID, repository.RequestStatus(strings.ToUpper(raw)), limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listEnvelope[requestDTO]{Items: toRequestDTOs(requests), Total: total, Limit: limit, Offset: offset})
}

func (h *HTTPHandler) getRequest(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	requestID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	req, err := h.payments.GetRequest(r.Context(), actorID, requestID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRequestDTO(req))
}

func (h *HTTPHandler) updateRequest(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	requestID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body requestBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	req, err := h.payments.UpdateRequest(r.Context(), actorID, requestID, body.Version, body.toInput())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRequestDTO(req))
}

type decisionBody struct {
	Comment *string `json:"comment"`
}

func (h *HTTPHandler) approveRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.payments.ApproveRequest)
}

func (h *HTTPHandler) rejectRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.payments.RejectRequest)
}

func (h *HTTPHandler) decide(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actorID uuid.UUID, key string, requestID uuid.UUID, comment *string) (*repository.PaymentRequest, error)) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	requestID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body decisionBody
	if r.ContentLength > 0 {
		if err := decodeBody(r, &body); err != nil {
			h.writeError(w, err)
			return
		}
	}
	req, err := fn(r.Context(), actorID, r.Header.Get(HeaderIdempotencyKey), requestID, body.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRequestDTO(req))
}

func (h *HTTPHandler) markPaid(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	requestID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		ExecutionID *uuid.UUID `json:"execution_id"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &body); err != nil {
			h.writeError(w, err)
			return
		}
	}
	req, err := h.payments.MarkPaid(r.Context(), actorID, r.Header.Get(HeaderIdempotencyKey), requestID, body.ExecutionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRequestDTO(req))
}

func (h *HTTPHandler) getApproval(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	requestID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	rec, err := h.payments.GetApproval(r.Context(), actorID, requestID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":                 rec.ID,
		"payment_request_id": rec.PaymentRequestID,
		"approver_id":        rec.ApproverID,
		"decision":           rec.Decision,
		"comment":            rec.Comment,
		"created_at":         rec.CreatedAt,
	})
}

// ── SOA endpoints ────────────────────────────────────────────────────────────

type soaDTO struct {
	ID                uuid.UUID  `json:"id"`
	PaymentRequestID  uuid.UUID  `json:"payment_request_id"`
	VersionNumber     int        `json:"version_number"`
	DocumentReference string     `json:"document_reference"`
	Source            string     `json:"source"`
	UploadedBy        *uuid.UUID `json:"uploaded_by,omitempty"`
	UploadedAt        time.Time  `json:"uploaded_at"`
}

func toSOADTO(v *repository.SOAVersion) soaDTO {
	return soaDTO{
		ID: v.ID, PaymentRequestID: v.PaymentRequestID, VersionNumber: v.VersionNumber,
		DocumentReference: v.DocumentReference, Source: string(v.Source),
		UploadedBy: v.UploadedBy, UploadedAt: v.UploadedAt,
	}
}

func (h *HTTPHandler) uploadSOA(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	requestID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, errors.Wrap(err, errors.ErrCodeValidation, "malformed multipart upload"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, errors.InvalidInput("file", "file part is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	v, err := h.payments.UploadSOA(r.Context(), actorID, r.Header.Get(HeaderIdempotencyKey), service.UploadSOAInput{
		RequestID:   requestID,
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toSOADTO(v))
}

func (h *HTTPHandler) listSOA(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	requestID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	versions, err := h.payments.ListSOAVersions(r.Context(), actorID, requestID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := make([]soaDTO, 0, len(versions))
	for _, v := range versions {
		items = append(items, toSOADTO(v))
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *HTTPHandler) downloadSOA(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	requestID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	versionID, err := pathUUID(r, "versionId")
	if err != nil {
		h.writeError(w, err)
		return
	}
	v, body, err := h.payments.OpenSOADocument(r.Context(), actorID, requestID, versionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+pathBase(v.DocumentReference)+`"`)
	if _, err := io.Copy(w, body); err != nil {
		h.log.Warn().Err(err).Str("document", v.DocumentReference).Msg("stream soa document")
	}
}

func pathBase(ref string) string {
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// ── Audit endpoint ───────────────────────────────────────────────────────────

func (h *HTTPHandler) auditTrail(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	entityID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	limit, offset := pageParams(r)
	entries, total, err := h.payments.AuditTrail(r.Context(), actorID, r.PathValue("entityType"), entityID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	type auditDTO struct {
		ID            uuid.UUID      `json:"id"`
		EventType     string         `json:"event_type"`
		ActorID       *uuid.UUID     `json:"actor_id,omitempty"`
		EntityType    string         `json:"entity_type"`
		EntityID      uuid.UUID      `json:"entity_id"`
		PreviousState map[string]any `json:"previous_state,omitempty"`
		NewState      map[string]any `json:"new_state,omitempty"`
		OccurredAt    time.Time      `json:"occurred_at"`
	}
	items := make([]auditDTO, 0, len(entries))
	for _, e := range entries {
		items = append(items, auditDTO{
			ID: e.ID, EventType: e.EventType, ActorID: e.ActorID,
			EntityType: e.EntityType, EntityID: e.EntityID,
			PreviousState: e.PreviousState, NewState: e.NewState,
			OccurredAt: e.OccurredAt,
		})
	}
	h.writeJSON(w, http.StatusOK, listEnvelope[auditDTO]{Items: items, Total: total, Limit: limit, Offset: offset})
}

// ── Ledger endpoints ─────────────────────────────────────────────────────────

func (h *HTTPHandler) createClient(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	c, err := h.ledger.CreateClient(r.Context(), actorID, body.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, c)
}

func (h *HTTPHandler) createSite(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		Code     string    `json:"code"`
		Name     string    `json:"name"`
		ClientID uuid.UUID `json:"client_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	site, err := h.ledger.CreateSite(r.Context(), actorID, body.Code, body.Name, body.ClientID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, site)
}

func (h *HTTPHandler) createVendorType(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	vt, err := h.ledger.CreateVendorType(r.Context(), actorID, body.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, vt)
}

func (h *HTTPHandler) createVendor(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		Name         string    `json:"name"`
		VendorTypeID uuid.UUID `json:"vendor_type_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	v, err := h.ledger.CreateVendor(r.Context(), actorID, body.Name, body.VendorTypeID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, v)
}

func (h *HTTPHandler) createScope(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	sc, err := h.ledger.CreateScope(r.Context(), actorID, body.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sc)
}

func (h *HTTPHandler) createSubcontractor(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		Name           string     `json:"name"`
		ScopeID        uuid.UUID  `json:"scope_id"`
		AssignedSiteID *uuid.UUID `json:"assigned_site_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	sub, err := h.ledger.CreateSubcontractor(r.Context(), actorID, body.Name, body.ScopeID, body.AssignedSiteID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sub)
}

func (h *HTTPHandler) listVendors(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	vendors, err := h.ledger.ListVendors(r.Context(), actorID, r.URL.Query().Get("include_inactive") == "true")
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, vendors)
}

func (h *HTTPHandler) listSubcontractors(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	subs, err := h.ledger.ListSubcontractors(r.Context(), actorID, r.URL.Query().Get("include_inactive") == "true")
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, subs)
}

func (h *HTTPHandler) listSites(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	sites, err := h.ledger.ListSites(r.Context(), actorID, r.URL.Query().Get("include_inactive") == "true")
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sites)
}

func (h *HTTPHandler) deactivateLedger(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.ledger.Deactivate(r.Context(), actorID, r.PathValue("kind"), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
