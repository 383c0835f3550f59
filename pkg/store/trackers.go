package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// FindTracker looks up an existing tracker row for a (mapping, source chat,
// source message) triple. The pipeline's at-most-once guarantee hinges on
// this lookup happening inside the same transaction as the insert below.
func (s *Store) FindTracker(ctx context.Context, q Querier, mappingID string, sourceChatID, sourceMsgID int64) (model.MessageTracker, bool, error) {
	var t model.MessageTracker
	err := q.GetContext(ctx, &t, `
		SELECT * FROM message_trackers WHERE mapping_id = $1 AND source_chat_id = $2 AND source_msg_id = $3`,
		mappingID, sourceChatID, sourceMsgID)
	if err != nil {
		ce := classify(err)
		if relayErrIsNotFound(ce) {
			return model.MessageTracker{}, false, nil
		}
		return model.MessageTracker{}, false, ce
	}
	return t, true, nil
}

// PutTracker inserts a tracker row recording a forwarded message. A
// concurrent duplicate insert collides on the (mapping_id, source_chat_id,
// source_msg_id) unique index and surfaces as a Conflict — the signal the
// pipeline uses to treat a retried event as already forwarded.
func (s *Store) PutTracker(ctx context.Context, q Querier, t model.MessageTracker) (model.MessageTracker, error) {
	const query = `
		INSERT INTO message_trackers (mapping_id, source_msg_id, source_chat_id, forwarded_msg_id, destination_chat_id, hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *`
	var out model.MessageTracker
	err := q.GetContext(ctx, &out, query,
		t.MappingID, t.SourceMsgID, t.SourceChatID, t.ForwardedMsgID, t.DestinationChatID, t.Hash)
	return out, classify(err)
}

// UpdateTrackerSync records a successful edit or delete sync against an
// already-forwarded message.
func (s *Store) UpdateTrackerSync(ctx context.Context, q Querier, id string, forwardedMsgID *int64, hash *string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE message_trackers SET forwarded_msg_id = $2, hash = $3, last_synced = now() WHERE id = $1`,
		id, forwardedMsgID, hash)
	return classify(err)
}

// MarkTrackerOrphaned flags a tracker row whose forwarded copy could not be
// deleted after the retry budget; the row stays for operator inspection and
// keeps the dedup claim.
func (s *Store) MarkTrackerOrphaned(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `UPDATE message_trackers SET orphaned = true WHERE id = $1`, id)
	return classify(err)
}

// DeleteTracker removes a tracker row, called when the forwarded copy is
// deleted from the destination chat.
func (s *Store) DeleteTracker(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM message_trackers WHERE id = $1`, id)
	return classify(err)
}
