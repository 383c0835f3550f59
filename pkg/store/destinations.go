package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// GetDestination fetches a destination chat by id.
func (s *Store) GetDestination(ctx context.Context, q Querier, id string) (model.Destination, error) {
	var dst model.Destination
	err := q.GetContext(ctx, &dst, `SELECT * FROM destinations WHERE id = $1`, id)
	return dst, classify(err)
}

// ListDestinationsByUser returns every destination a user has registered.
func (s *Store) ListDestinationsByUser(ctx context.Context, q Querier, userID string) ([]model.Destination, error) {
	var out []model.Destination
	err := q.SelectContext(ctx, &out, `SELECT * FROM destinations WHERE user_id = $1 ORDER BY chat_title`, userID)
	return out, classify(err)
}

// PutDestination registers a new destination chat.
func (s *Store) PutDestination(ctx context.Context, q Querier, dst model.Destination) (model.Destination, error) {
	const query = `
		INSERT INTO destinations (user_id, chat_id, chat_title, chat_type, chat_username, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *`
	var out model.Destination
	err := q.GetContext(ctx, &out, query, dst.UserID, dst.ChatID, dst.ChatTitle, dst.ChatType, dst.ChatUsername, dst.Active)
	return out, classify(err)
}

// IncrementDestinationMessageCount bumps the running total after a
// successful dispatch.
func (s *Store) IncrementDestinationMessageCount(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `UPDATE destinations SET message_count = message_count + 1 WHERE id = $1`, id)
	return classify(err)
}

// DeleteDestination removes a destination and, via cascade, every mapping
// built on it.
func (s *Store) DeleteDestination(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM destinations WHERE id = $1`, id)
	return classify(err)
}
