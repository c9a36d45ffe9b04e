package postgres

import (
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const pgUniqueViolation = "23505"

// uniqueViolation returns the violated constraint name when err is a unique
// violation, or "" otherwise.
func uniqueViolation(err error) string {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName
	}
	return ""
}

// conflictFromUnique maps a unique violation to a domain CONFLICT error
// carrying the logical constraint name, so services can distinguish races on
// different constraints. Returns nil when err is not a unique violation.
func conflictFromUnique(err error, logical map[string]string) *errors.Error {
	name := uniqueViolation(err)
	if name == "" {
		return nil
	}
	if mapped, ok := logical[name]; ok {
		name = mapped
	}
	return errors.Conflict("duplicate record").WithDetail("constraint", name)
}

// encodeState marshals an audit state snapshot for a JSONB column. A nil map
// becomes SQL NULL.
func encodeState(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "encode state snapshot")
	}
	return raw, nil
}

// decodeState unmarshals a JSONB column into a state snapshot.
func decodeState(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "decode state snapshot")
	}
	return m, nil
}
