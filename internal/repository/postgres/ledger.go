package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

// ledgerStore persists the master-data tables referenced by ledger-driven
// payment requests. Records are deactivated, never deleted; historical
// requests keep their snapshots regardless.
type ledgerStore struct {
	q querier
}

func (s *ledgerStore) CreateClient(ctx context.Context, c *repository.Client) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO ledger_clients (id, name, is_active, effective_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Name, c.IsActive, c.EffectiveFrom, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if conflict := conflictFromUnique(err, nil); conflict != nil {
			return conflict
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "insert client")
	}
	return nil
}

func (s *ledgerStore) CreateSite(ctx context.Context, site *repository.Site) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO ledger_sites (id, code, name, client_id, is_active, effective_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		site.ID, site.Code, site.Name, site.ClientID, site.IsActive, site.EffectiveFrom, site.CreatedAt, site.UpdatedAt,
	)
	if err != nil {
		if conflict := conflictFromUnique(err, nil); conflict != nil {
			return conflict
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "insert site")
	}
	return nil
}

func (s *ledgerStore) CreateVendorType(ctx context.Context, vt *repository.VendorType) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO ledger_vendor_types (id, name, is_active, effective_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		vt.ID, vt.Name, vt.IsActive, vt.EffectiveFrom, vt.CreatedAt, vt.UpdatedAt,
	)
	if err != nil {
		if conflict := conflictFromUnique(err, nil); conflict != nil {
			return conflict
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "insert vendor type")
	}
	return nil
}

func (s *ledgerStore) CreateVendor(ctx context.Context, v *repository.Vendor) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO ledger_vendors (id, name, vendor_type_id, is_active, effective_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.Name, v.VendorTypeID, v.IsActive, v.EffectiveFrom, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		if conflict := conflictFromUnique(err, nil); conflict != nil {
			return conflict
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "insert vendor")
	}
	return nil
}

func (s *ledgerStore) CreateScope(ctx context.Context, sc *repository.SubcontractorScope) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO ledger_subcontractor_scopes (id, name, is_active, effective_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sc.ID, sc.Name, sc.IsActive, sc.EffectiveFrom, sc.CreatedAt, sc.UpdatedAt,
	)
	if err != nil {
		if conflict := conflictFromUnique(err, nil); conflict != nil {
			return conflict
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "insert subcontractor scope")
	}
	return nil
}

func (s *ledgerStore) CreateSubcontractor(ctx context.Context, sub *repository.Subcontractor) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO ledger_subcontractors (id, name, scope_id, assigned_site_id, is_active, effective_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.Name, sub.ScopeID, sub.AssignedSiteID, sub.IsActive, sub.EffectiveFrom, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if conflict := conflictFromUnique(err, nil); conflict != nil {
			return conflict
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "insert subcontractor")
	}
	return nil
}

func (s *ledgerStore) GetActiveVendor(ctx context.Context, id uuid.UUID) (*repository.Vendor, error) {
	var v repository.Vendor
	err := s.q.QueryRow(ctx, `
		SELECT id, name, vendor_type_id, is_active, effective_from, deactivated_at, created_at, updated_at
		FROM ledger_vendors WHERE id = $1 AND is_active`,
		id,
	).Scan(&v.ID, &v.Name, &v.VendorTypeID, &v.IsActive, &v.EffectiveFrom, &v.DeactivatedAt, &v.CreatedAt, &v.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("active vendor", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "get vendor")
	}
	return &v, nil
}

func (s *ledgerStore) GetActiveSubcontractor(ctx context.Context, id uuid.UUID) (*repository.Subcontractor, error) {
	var sub repository.Subcontractor
	err := s.q.QueryRow(ctx, `
		SELECT id, name, scope_id, assigned_site_id, is_active, effective_from, deactivated_at, created_at, updated_at
		FROM ledger_subcontractors WHERE id = $1 AND is_active`,
		id,
	).Scan(&sub.ID, &sub.Name, &sub.ScopeID, &sub.AssignedSiteID, &sub.IsActive, &sub.EffectiveFrom, &sub.DeactivatedAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("active subcontractor", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "get subcontractor")
	}
	return &sub, nil
}

func (s *ledgerStore) GetActiveSite(ctx context.Context, id uuid.UUID) (*repository.Site, error) {
	var site repository.Site
	err := s.q.QueryRow(ctx, `
		SELECT id, code, name, client_id, is_active, effective_from, deactivated_at, created_at, updated_at
		FROM ledger_sites WHERE id = $1 AND is_active`,
		id,
	).Scan(&site.ID, &site.Code, &site.Name, &site.ClientID, &site.IsActive, &site.EffectiveFrom, &site.DeactivatedAt, &site.CreatedAt, &site.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("active site", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "get site")
	}
	return &site, nil
}

func (s *ledgerStore) ListVendors(ctx context.Context, activeOnly bool) ([]*repository.Vendor, error) {
	query := `SELECT id, name, vendor_type_id, is_active, effective_from, deactivated_at, created_at, updated_at
		FROM ledger_vendors`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "list vendors")
	}
	defer rows.Close()

	var out []*repository.Vendor
	for rows.Next() {
		var v repository.Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.VendorTypeID, &v.IsActive, &v.EffectiveFrom, &v.DeactivatedAt, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "scan vendor")
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "iterate vendors")
	}
	return out, nil
}

func (s *ledgerStore) ListSubcontractors(ctx context.Context, activeOnly bool) ([]*repository.Subcontractor, error) {
	query := `SELECT id, name, scope_id, assigned_site_id, is_active, effective_from, deactivated_at, created_at, updated_at
		FROM ledger_subcontractors`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "list subcontractors")
	}
	defer rows.Close()

	var out []*repository.Subcontractor
	for rows.Next() {
		var sub repository.Subcontractor
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.ScopeID, &sub.AssignedSiteID, &sub.IsActive, &sub.EffectiveFrom, &sub.DeactivatedAt, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "scan subcontractor")
		}
		out = append(out, &sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "iterate subcontractors")
	}
	return out, nil
}

func (s *ledgerStore) ListSites(ctx context.Context, activeOnly bool) ([]*repository.Site, error) {
	query := `SELECT id, code, name, client_id, is_active, effective_from, deactivated_at, created_at, updated_at
		FROM ledger_sites`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY code ASC`

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "list sites")
	}
	defer rows.Close()

	var out []*repository.Site
	for rows.Next() {
		var site repository.Site
		if err := rows.Scan(&site.ID, &site.Code, &site.Name, &site.ClientID, &site.IsActive, &site.EffectiveFrom, &site.DeactivatedAt, &site.CreatedAt, &site.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "scan site")
		}
		out = append(out, &site)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "iterate sites")
	}
	return out, nil
}

var ledgerTables = map[string]string{
	"client":        "ledger_clients",
	"site":          "ledger_sites",
	"vendor_type":   "ledger_vendor_types",
	"vendor":        "ledger_vendors",
	"scope":         "ledger_subcontractor_scopes",
	"subcontractor": "ledger_subcontractors",
}

func (s *ledgerStore) Deactivate(ctx context.Context, kind string, id uuid.UUID, at time.Time) error {
	table, ok := ledgerTables[kind]
	if !ok {
		return errors.InvalidInput("kind", "unknown ledger entity kind "+kind)
	}
	tag, err := s.q.Exec(ctx,
		`UPDATE `+table+` SET is_active = FALSE, deactivated_at = $2, updated_at = $2 WHERE id = $1 AND is_active`,
		id, at,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "deactivate "+kind)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("active "+kind, id.String())
	}
	return nil
}
