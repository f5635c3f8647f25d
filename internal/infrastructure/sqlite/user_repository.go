package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/arborworks/arbor/internal/domain/tree"
)

// userRepository implements tree.UserRepository using SQLite.
type userRepository struct {
	q querier
}

var _ tree.UserRepository = (*userRepository)(nil)

func (r *userRepository) Upsert(ctx context.Context, u *tree.User) error {
	model := toUserModel(u)
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO users (id, display_name, enabled, deleted, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			enabled = excluded.enabled,
			deleted = excluded.deleted`,
		model.ID, model.DisplayName, model.Enabled, model.Deleted, model.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (r *userRepository) ByID(ctx context.Context, id uuid.UUID) (*tree.User, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, display_name, enabled, deleted, created_at FROM users WHERE id = ?`,
		id.String(),
	)
	var model UserModel
	err := row.Scan(&model.ID, &model.DisplayName, &model.Enabled, &model.Deleted, &model.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tree.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by id: %w", err)
	}
	return model.toDomain()
}

func (r *userRepository) SetEnabled(ctx context.Context, id uuid.UUID, enabled, deleted bool) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE users SET enabled = ?, deleted = ? WHERE id = ?`,
		enabled, deleted, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update user flags: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return tree.ErrUserNotFound
	}
	return nil
}
