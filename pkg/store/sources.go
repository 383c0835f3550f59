package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// GetSource fetches a source chat by id.
func (s *Store) GetSource(ctx context.Context, q Querier, id string) (model.Source, error) {
	var src model.Source
	err := q.GetContext(ctx, &src, `SELECT * FROM sources WHERE id = $1`, id)
	return src, classify(err)
}

// ListSourcesByUser returns every source a user has registered.
func (s *Store) ListSourcesByUser(ctx context.Context, q Querier, userID string) ([]model.Source, error) {
	var out []model.Source
	err := q.SelectContext(ctx, &out, `SELECT * FROM sources WHERE user_id = $1 ORDER BY chat_title`, userID)
	return out, classify(err)
}

// PutSource registers a new source chat.
func (s *Store) PutSource(ctx context.Context, q Querier, src model.Source) (model.Source, error) {
	const query = `
		INSERT INTO sources (user_id, chat_id, chat_title, chat_type, chat_username, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *`
	var out model.Source
	err := q.GetContext(ctx, &out, query, src.UserID, src.ChatID, src.ChatTitle, src.ChatType, src.ChatUsername, src.Active)
	return out, classify(err)
}

// IncrementSourceMessageCount bumps the running total, fire-and-forget from
// the forwarding pipeline after a successful dispatch.
func (s *Store) IncrementSourceMessageCount(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `UPDATE sources SET message_count = message_count + 1 WHERE id = $1`, id)
	return classify(err)
}

// SetSourceActive toggles a source's active flag.
func (s *Store) SetSourceActive(ctx context.Context, q Querier, id string, active bool) error {
	_, err := q.ExecContext(ctx, `UPDATE sources SET active = $2 WHERE id = $1`, id, active)
	return classify(err)
}

// DeleteSource removes a source and, via cascade, every mapping built on it.
func (s *Store) DeleteSource(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM sources WHERE id = $1`, id)
	return classify(err)
}
