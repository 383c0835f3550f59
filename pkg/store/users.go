package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, q Querier, id string) (model.User, error) {
	var u model.User
	err := q.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	return u, classify(err)
}

// GetUserByUsername fetches a user by their platform username.
func (s *Store) GetUserByUsername(ctx context.Context, q Querier, username string) (model.User, error) {
	var u model.User
	err := q.GetContext(ctx, &u, `SELECT * FROM users WHERE username = $1`, username)
	return u, classify(err)
}

// ListUsers returns every registered user.
func (s *Store) ListUsers(ctx context.Context, q Querier) ([]model.User, error) {
	var out []model.User
	err := q.SelectContext(ctx, &out, `SELECT * FROM users ORDER BY username`)
	return out, classify(err)
}

// PutUser inserts a new user.
func (s *Store) PutUser(ctx context.Context, q Querier, u model.User) (model.User, error) {
	const query = `
		INSERT INTO users (username, email, role, active)
		VALUES ($1, $2, $3, $4)
		RETURNING *`
	var out model.User
	err := q.GetContext(ctx, &out, query, u.Username, u.Email, u.Role, u.Active)
	return out, classify(err)
}

// SetUserActive toggles a user's active flag, used by admin suspend/reinstate.
func (s *Store) SetUserActive(ctx context.Context, q Querier, id string, active bool) error {
	_, err := q.ExecContext(ctx, `UPDATE users SET active = $2 WHERE id = $1`, id, active)
	return classify(err)
}

// DeleteUser removes a user and, via ON DELETE CASCADE, every owned entity.
func (s *Store) DeleteUser(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	return classify(err)
}
