// Package postgres implements the repository interfaces on PostgreSQL via
// pgx. All SQL the service executes lives in this package.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meridian-fin/be-payments-workflow/internal/database"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

// querier is the subset of pgx shared by *database.DB and pgx.Tx, so the same
// store code runs in auto-commit mode and inside transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL-backed repository.Store.
type Store struct {
	db *database.DB
	stores
}

// NewStore wraps a database handle.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, stores: stores{q: db}}
}

// InTransaction runs fn with every store bound to one transaction.
func (s *Store) InTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&stores{q: tx})
	})
}

// stores binds the per-entity stores to one querier.
type stores struct {
	q querier
}

func (s *stores) Batches() repository.BatchStore           { return &batchStore{q: s.q} }
func (s *stores) Requests() repository.RequestStore        { return &requestStore{q: s.q} }
func (s *stores) Approvals() repository.ApprovalStore      { return &approvalStore{q: s.q} }
func (s *stores) SOA() repository.SOAStore                 { return &soaStore{q: s.q} }
func (s *stores) Idempotency() repository.IdempotencyStore { return &idempotencyStore{q: s.q} }
func (s *stores) Audit() repository.AuditStore             { return &auditStore{q: s.q} }
func (s *stores) Users() repository.UserStore              { return &userStore{q: s.q} }
func (s *stores) Ledger() repository.LedgerStore           { return &ledgerStore{q: s.q} }
