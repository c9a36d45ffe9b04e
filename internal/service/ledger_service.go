package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

// LedgerService manages the master data that ledger-driven payment requests
// reference. All mutations are admin-gated; records are deactivated rather
// than deleted so historical requests keep valid references.
type LedgerService struct {
	store repository.Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewLedgerService wires the service.
func NewLedgerService(store repository.Store, log zerolog.Logger) *LedgerService {
	return &LedgerService{store: store, log: log, now: time.Now}
}

func (s *LedgerService) authorize(ctx context.Context, tx repository.Tx, actorID uuid.UUID, action Action) (*repository.User, error) {
	actor, err := tx.Users().GetByID(ctx, actorID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return nil, errors.Forbidden("unknown actor " + actorID.String())
		}
		return nil, err
	}
	if err := Authorize(actor, action); err != nil {
		return nil, err
	}
	return actor, nil
}

// CreateClient registers a client.
func (s *LedgerService) CreateClient(ctx context.Context, actorID uuid.UUID, name string) (*repository.Client, error) {
	if name == "" {
		return nil, errors.InvalidInput("name", "name is required")
	}
	var out *repository.Client
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, ActionManageLedger); err != nil {
			return err
		}
		now := s.now()
		c := &repository.Client{
			ID: uuid.New(), Name: name, IsActive: true,
			EffectiveFrom: now, CreatedAt: now, UpdatedAt: now,
		}
		if err := tx.Ledger().CreateClient(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// CreateSite registers a site under a client.
func (s *LedgerService) CreateSite(ctx context.Context, actorID uuid.UUID, code, name string, clientID uuid.UUID) (*repository.Site, error) {
	if code == "" {
		return nil, errors.InvalidInput("code", "code is required")
	}
	if name == "" {
		return nil, errors.InvalidInput("name", "name is required")
	}
	var out *repository.Site
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, ActionManageLedger); err != nil {
			return err
		}
		now := s.now()
		site := &repository.Site{
			ID: uuid.New(), Code: code, Name: name, ClientID: clientID, IsActive: true,
			EffectiveFrom: now, CreatedAt: now, UpdatedAt: now,
		}
		if err := tx.Ledger().CreateSite(ctx, site); err != nil {
			return err
		}
		out = site
		return nil
	})
	return out, err
}

// CreateVendorType registers a vendor category.
func (s *LedgerService) CreateVendorType(ctx context.Context, actorID uuid.UUID, name string) (*repository.VendorType, error) {
	if name == "" {
		return nil, errors.InvalidInput("name", "name is required")
	}
	var out *repository.VendorType
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, ActionManageLedger); err != nil {
			return err
		}
		now := s.now()
		vt := &repository.VendorType{
			ID: uuid.New(), Name: name, IsActive: true,
			EffectiveFrom: now, CreatedAt: now, UpdatedAt: now,
		}
		if err := tx.Ledger().CreateVendorType(ctx, vt); err != nil {
			return err
		}
		out = vt
		return nil
	})
	return out, err
}

// CreateVendor registers a vendor of a given type.
func (s *LedgerService) CreateVendor(ctx context.Context, actorID uuid.UUID, name string, vendorTypeID uuid.UUID) (*repository.Vendor, error) {
	if name == "" {
		return nil, errors.InvalidInput("name", "name is required")
	}
	var out *repository.Vendor
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, ActionManageLedger); err != nil {
			return err
		}
		now := s.now()
		v := &repository.Vendor{
			ID: uuid.New(), Name: name, VendorTypeID: vendorTypeID, IsActive: true,
			EffectiveFrom: now, CreatedAt: now, UpdatedAt: now,
		}
		if err := tx.Ledger().CreateVendor(ctx, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// CreateScope registers a subcontractor scope of work.
func (s *LedgerService) CreateScope(ctx context.Context, actorID uuid.UUID, name string) (*repository.SubcontractorScope, error) {
	if name == "" {
		return nil, errors.InvalidInput("name", "name is required")
	}
	var out *repository.SubcontractorScope
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, ActionManageLedger); err != nil {
			return err
		}
		now := s.now()
		sc := &repository.SubcontractorScope{
			ID: uuid.New(), Name: name, IsActive: true,
			EffectiveFrom: now, CreatedAt: now, UpdatedAt: now,
		}
		if err := tx.Ledger().CreateScope(ctx, sc); err != nil {
			return err
		}
		out = sc
		return nil
	})
	return out, err
}

// CreateSubcontractor registers a subcontractor, optionally assigned to a
// site.
func (s *LedgerService) CreateSubcontractor(ctx context.Context, actorID uuid.UUID, name string, scopeID uuid.UUID, assignedSiteID *uuid.UUID) (*repository.Subcontractor, error) {
	if name == "" {
		return nil, errors.InvalidInput("name", "name is required")
	}
	var out *repository.Subcontractor
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, ActionManageLedger); err != nil {
			return err
		}
		if assignedSiteID != nil {
			if _, err := tx.Ledger().GetActiveSite(ctx, *assignedSiteID); err != nil {
				return err
			}
		}
		now := s.now()
		sub := &repository.Subcontractor{
			ID: uuid.New(), Name: name, ScopeID: scopeID, AssignedSiteID: assignedSiteID, IsActive: true,
			EffectiveFrom: now, CreatedAt: now, UpdatedAt: now,
		}
		if err := tx.Ledger().CreateSubcontractor(ctx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	return out, err
}

// Deactivate retires a ledger record. Existing payment requests keep their
// snapshots; new requests can no longer reference it.
func (s *LedgerService) Deactivate(ctx context.Context, actorID uuid.UUID, kind string, id uuid.UUID) error {
	return s.store.InTransaction(ctx, func(tx repository.Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, ActionManageLedger); err != nil {
			return err
		}
		return tx.Ledger().Deactivate(ctx, kind, id, s.now())
	})
}

// ListVendors returns vendors, active only unless includeInactive.
func (s *LedgerService) ListVendors(ctx context.Context, actorID uuid.UUID, includeInactive bool) ([]*repository.Vendor, error) {
	if _, err := s.authorize(ctx, s.store, actorID, ActionView); err != nil {
		return nil, err
	}
	return s.store.Ledger().ListVendors(ctx, !includeInactive)
}

// ListSubcontractors returns subcontractors, active only unless
// includeInactive.
func (s *LedgerService) ListSubcontractors(ctx context.Context, actorID uuid.UUID, includeInactive bool) ([]*repository.Subcontractor, error) {
	if _, err := s.authorize(ctx, s.store, actorID, ActionView); err != nil {
		return nil, err
	}
	return s.store.Ledger().ListSubcontractors(ctx, !includeInactive)
}

// ListSites returns sites, active only unless includeInactive.
func (s *LedgerService) ListSites(ctx context.Context, actorID uuid.UUID, includeInactive bool) ([]*repository.Site, error) {
	if _, err := s.authorize(ctx, s.store, actorID, ActionView); err != nil {
		return nil, err
	}
	return s.store.Ledger().ListSites(ctx, !includeInactive)
}
