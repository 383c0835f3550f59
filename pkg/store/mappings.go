package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// GetMapping fetches a mapping by id.
func (s *Store) GetMapping(ctx context.Context, q Querier, id string) (model.Mapping, error) {
	var m model.Mapping
	err := q.GetContext(ctx, &m, `SELECT * FROM mappings WHERE id = $1`, id)
	return m, classify(err)
}

// ListMappingsByUser returns every mapping a user owns.
func (s *Store) ListMappingsByUser(ctx context.Context, q Querier, userID string) ([]model.Mapping, error) {
	var out []model.Mapping
	err := q.SelectContext(ctx, &out, `SELECT * FROM mappings WHERE user_id = $1 ORDER BY priority DESC, created_at`, userID)
	return out, classify(err)
}

// ListMappingsBySource returns every active mapping forwarding from a given
// source chat — the hot path the forwarding pipeline resolves on each event.
func (s *Store) ListMappingsBySource(ctx context.Context, q Querier, sourceID string) ([]model.Mapping, error) {
	var out []model.Mapping
	err := q.SelectContext(ctx, &out, `
		SELECT * FROM mappings WHERE source_id = $1 AND active = true ORDER BY priority DESC`, sourceID)
	return out, classify(err)
}

// ListActiveMappingsForChat resolves the mappings an inbound event fans out
// to: every active mapping whose source row matches the session owner's
// (user_id, platform chat_id), ordered by (priority desc, created_at asc) —
// the order the pipeline processes sibling mappings in.
func (s *Store) ListActiveMappingsForChat(ctx context.Context, q Querier, userID string, chatID int64) ([]model.Mapping, error) {
	var out []model.Mapping
	err := q.SelectContext(ctx, &out, `
		SELECT m.* FROM mappings m
		JOIN sources s ON s.id = m.source_id
		WHERE m.user_id = $1 AND s.chat_id = $2 AND m.active = true AND s.active = true
		ORDER BY m.priority DESC, m.created_at ASC`, userID, chatID)
	return out, classify(err)
}

// PutMapping creates a new source→destination forwarding rule.
func (s *Store) PutMapping(ctx context.Context, q Querier, m model.Mapping) (model.Mapping, error) {
	const query = `
		INSERT INTO mappings (user_id, source_id, destination_id, pair_name, pair_type, priority, active, filters, editing, sync, delay)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING *`
	var out model.Mapping
	err := q.GetContext(ctx, &out, query,
		m.UserID, m.SourceID, m.DestinationID, m.PairName, m.PairType, m.Priority, m.Active,
		m.Filters, m.Editing, m.Sync, m.Delay)
	return out, classify(err)
}

// UpdateMappingWith loads a mapping FOR UPDATE, applies fn, and writes it
// back with an optimistic version CAS.
func (s *Store) UpdateMappingWith(ctx context.Context, q Querier, id string, fn func(*model.Mapping) error) (model.Mapping, error) {
	var m model.Mapping
	if err := q.GetContext(ctx, &m, `SELECT * FROM mappings WHERE id = $1 FOR UPDATE`, id); err != nil {
		return model.Mapping{}, classify(err)
	}
	if err := fn(&m); err != nil {
		return model.Mapping{}, err
	}
	const query = `
		UPDATE mappings SET
			pair_name = $2, priority = $3, active = $4, filters = $5, editing = $6, sync = $7, delay = $8,
			version = version + 1
		WHERE id = $1 AND version = $9
		RETURNING *`
	var out model.Mapping
	err := q.GetContext(ctx, &out, query, m.ID, m.PairName, m.Priority, m.Active, m.Filters, m.Editing, m.Sync, m.Delay, m.Version)
	if err != nil {
		return model.Mapping{}, classify(err)
	}
	return out, nil
}

// DeleteMapping removes a mapping and, via cascade, its regex rules.
func (s *Store) DeleteMapping(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM mappings WHERE id = $1`, id)
	return classify(err)
}
