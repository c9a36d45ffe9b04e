package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/notify"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

// UploadSOAInput carries an uploaded statement document.
type UploadSOAInput struct {
	RequestID   uuid.UUID
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadSOA stores the document and appends a new UPLOAD version for the
// request. Versions only ever grow; re-uploading never replaces an earlier
// document.
func (s *PaymentWorkflowService) UploadSOA(ctx context.Context, actorID uuid.UUID, key string, in UploadSOAInput) (*repository.SOAVersion, error) {
	if in.Filename == "" {
		return nil, errors.InvalidInput("filename", "filename is required")
	}
	if in.Size <= 0 {
		return nil, errors.InvalidInput("file", "document body is empty")
	}

	var (
		result  *repository.SOAVersion
		pending []notify.Event
	)
	replayed, err := s.withIdempotency(ctx, key, OpUploadSOA,
		func(tx repository.Tx, rec *repository.IdempotencyRecord) error {
			if rec.TargetID == nil {
				return replayMismatch(OpUploadSOA)
			}
			v, err := tx.SOA().GetByID(ctx, *rec.TargetID, in.RequestID)
			if err != nil {
				if errors.IsCode(err, errors.ErrCodeNotFound) {
					return replayMismatch(OpUploadSOA)
				}
				return err
			}
			result = v
			return nil
		},
		func(tx repository.Tx) (*uuid.UUID, error) {
			actor, err := s.resolveActor(ctx, tx, actorID)
			if err != nil {
				return nil, err
			}
			if err := Authorize(actor, ActionUploadSOA); err != nil {
				return nil, err
			}

			// The row lock serializes version numbering per request.
			r, err := tx.Requests().GetByIDForUpdate(ctx, in.RequestID)
			if err != nil {
				return nil, err
			}
			batch, err := tx.Batches().GetByID(ctx, r.BatchID)
			if err != nil {
				return nil, err
			}
			if err := requireBatchOwner(actor, batch); err != nil {
				return nil, err
			}
			if r.Status != repository.RequestDraft {
				return nil, errors.InvalidState("statements can only be uploaded while the request is DRAFT").
					WithDetail("current_status", string(r.Status))
			}

			versionNumber, err := tx.SOA().NextVersionNumber(ctx, r.ID)
			if err != nil {
				return nil, err
			}
			docKey := fmt.Sprintf("soa/%s/v%d_%s", r.ID, versionNumber, sanitizeFilename(in.Filename))
			if err := s.docs.Put(ctx, docKey, in.Body, in.Size, in.ContentType); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "store soa document")
			}

			v := &repository.SOAVersion{
				ID:                uuid.New(),
				PaymentRequestID:  r.ID,
				VersionNumber:     versionNumber,
				DocumentReference: docKey,
				Source:            repository.SOASourceUpload,
				UploadedBy:        &actor.ID,
				UploadedAt:        s.now(),
			}
			if err := tx.SOA().Create(ctx, v); err != nil {
				return nil, err
			}
			if err := s.appendAudit(ctx, tx, "soa.uploaded", &actor.ID, EntityRequest, r.ID, nil, map[string]any{
				"soa_version_id": v.ID.String(),
				"version_number": versionNumber,
				"source":         string(repository.SOASourceUpload),
			}); err != nil {
				return nil, err
			}

			result = v
			pending = append(pending, s.event("soa.uploaded", EntitySOA, v.ID, &actor.ID))
			return &v.ID, nil
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

// ListSOAVersions returns the version history of a request.
func (s *PaymentWorkflowService) ListSOAVersions(ctx context.Context, actorID, requestID uuid.UUID) ([]*repository.SOAVersion, error) {
	actor, err := s.resolveActor(ctx, s.store, actorID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, ActionViewSOA); err != nil {
		return nil, err
	}
	if _, err := s.store.Requests().GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return s.store.SOA().ListByRequest(ctx, requestID)
}

// OpenSOADocument returns the version metadata and a reader over its stored
// document. The caller closes the reader.
func (s *PaymentWorkflowService) OpenSOADocument(ctx context.Context, actorID, requestID, versionID uuid.UUID) (*repository.SOAVersion, io.ReadCloser, error) {
	actor, err := s.resolveActor(ctx, s.store, actorID)
	if err != nil {
		return nil, nil, err
	}
	if err := Authorize(actor, ActionViewSOA); err != nil {
		return nil, nil, err
	}
	v, err := s.store.SOA().GetByID(ctx, versionID, requestID)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.docs.Open(ctx, v.DocumentReference)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "open soa document")
	}
	return v, body, nil
}

// generateBatchStatements renders and stores one GENERATED statement per
// request of a completed batch. Generation is idempotent per batch: any
// pre-existing GENERATED version means a previous completion already ran and
// the whole step is skipped.
func (s *PaymentWorkflowService) generateBatchStatements(ctx context.Context, tx repository.Tx, batch *repository.PaymentBatch, requests []*repository.PaymentRequest, just *repository.PaymentRequest) ([]notify.Event, error) {
	already, err := tx.SOA().HasGeneratedForBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, nil
	}

	var events []notify.Event
	for _, r := range requests {
		if r.ID == just.ID {
			r = just
		}
		doc := renderStatement(batch, r)
		docKey := fmt.Sprintf("soa/generated/%s/%s.txt", batch.ID, r.ID)
		if err := s.docs.Put(ctx, docKey, bytes.NewReader(doc), int64(len(doc)), "text/plain; charset=utf-8"); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "store generated statement")
		}

		versionNumber, err := tx.SOA().NextVersionNumber(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		v := &repository.SOAVersion{
			ID:                uuid.New(),
			PaymentRequestID:  r.ID,
			VersionNumber:     versionNumber,
			DocumentReference: docKey,
			Source:            repository.SOASourceGenerated,
			UploadedAt:        s.now(),
		}
		if err := tx.SOA().Create(ctx, v); err != nil {
			return nil, err
		}
		if err := s.appendAudit(ctx, tx, "soa.generated", nil, EntityRequest, r.ID, nil, map[string]any{
			"soa_version_id": v.ID.String(),
			"version_number": versionNumber,
			"source":         string(repository.SOASourceGenerated),
		}); err != nil {
			return nil, err
		}
		events = append(events, s.event("soa.generated", EntitySOA, v.ID, nil))
	}
	return events, nil
}

// renderStatement produces the plain-text statement of account for one
// request of a completed batch.
func renderStatement(batch *repository.PaymentBatch, r *repository.PaymentRequest) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "STATEMENT OF ACCOUNT\n")
	fmt.Fprintf(&b, "Batch:    %s (%s)\n", batch.Title, batch.ID)
	fmt.Fprintf(&b, "Request:  %s\n", r.ID)
	fmt.Fprintf(&b, "Status:   %s\n", r.Status)
	if r.LedgerDriven() {
		switch *r.PayeeType {
		case repository.PayeeVendor:
			if r.VendorSnapshotName != nil {
				fmt.Fprintf(&b, "Payee:    %s (vendor)\n", *r.VendorSnapshotName)
			}
		case repository.PayeeSubcontractor:
			if r.SubcontractorSnapshotName != nil {
				fmt.Fprintf(&b, "Payee:    %s (subcontractor)\n", *r.SubcontractorSnapshotName)
			}
		}
		if r.SiteSnapshotCode != nil {
			fmt.Fprintf(&b, "Site:     %s\n", *r.SiteSnapshotCode)
		}
	} else if r.BeneficiaryName != nil {
		fmt.Fprintf(&b, "Payee:    %s\n", *r.BeneficiaryName)
	}
	fmt.Fprintf(&b, "Amount:   %s %s\n", formatMinorUnits(r.EffectiveAmount()), r.Currency)
	if batch.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", batch.CompletedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return []byte(b.String())
}

// formatMinorUnits renders cents as a decimal string, e.g. 150000 -> 1500.00.
func formatMinorUnits(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func sanitizeFilename(name string) string {
	name = path.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
