package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

// auditStore appends immutable audit entries. There is deliberately no
// update or delete statement in this file; the table trigger rejects both.
type auditStore struct {
	q querier
}

func (s *auditStore) Append(ctx context.Context, e *repository.AuditEntry) error {
	prev, err := encodeState(e.PreviousState)
	if err != nil {
		return err
	}
	next, err := encodeState(e.NewState)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO audit_entries (id, event_type, actor_id, entity_type, entity_id, previous_state, new_state, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.EventType, e.ActorID, e.EntityType, e.EntityID, prev, next, e.OccurredAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "append audit entry")
	}
	return nil
}

func (s *auditStore) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]*repository.AuditEntry, int64, error) {
	var total int64
	if err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "count audit entries")
	}

	rows, err := s.q.Query(ctx, `
		SELECT id, event_type, actor_id, entity_type, entity_id, previous_state, new_state, occurred_at
		FROM audit_entries
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY occurred_at ASC, id ASC
		LIMIT $3 OFFSET $4`,
		entityType, entityID, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "list audit entries")
	}
	defer rows.Close()

	var out []*repository.AuditEntry
	for rows.Next() {
		var e repository.AuditEntry
		var prevRaw, nextRaw []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.ActorID, &e.EntityType, &e.EntityID, &prevRaw, &nextRaw, &e.OccurredAt); err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "scan audit entry")
		}
		if e.PreviousState, err = decodeState(prevRaw); err != nil {
			return nil, 0, err
		}
		if e.NewState, err = decodeState(nextRaw); err != nil {
			return nil, 0, err
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "iterate audit entries")
	}
	return out, total, nil
}
