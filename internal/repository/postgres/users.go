package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridian-fin/be-payments-workflow/internal/errors"
	"github.com/meridian-fin/be-payments-workflow/internal/repository"
)

type userStore struct {
	q querier
}

func (s *userStore) GetByID(ctx context.Context, id uuid.UUID) (*repository.User, error) {
	var u repository.User
	err := s.q.QueryRow(ctx, `
		SELECT id, username, display_name, role, created_at
		FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "get user")
	}
	return &u, nil
}
