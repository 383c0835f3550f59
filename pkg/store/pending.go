package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// GetPending fetches a pending message by id.
func (s *Store) GetPending(ctx context.Context, q Querier, id string) (model.PendingMessage, error) {
	var p model.PendingMessage
	err := q.GetContext(ctx, &p, `SELECT * FROM pending_messages WHERE id = $1`, id)
	return p, classify(err)
}

// ListPendingByUser returns a user's messages awaiting an approval decision.
func (s *Store) ListPendingByUser(ctx context.Context, q Querier, userID string) ([]model.PendingMessage, error) {
	var out []model.PendingMessage
	err := q.SelectContext(ctx, &out, `
		SELECT * FROM pending_messages WHERE user_id = $1 ORDER BY scheduled_for`, userID)
	return out, classify(err)
}

// ClaimDueActivations claims approved messages whose scheduled_for has
// passed, moving them to scheduled, for the syncer's activation poll. FOR
// UPDATE SKIP LOCKED lets multiple syncer instances poll the same table
// without double-dispatching.
func (s *Store) ClaimDueActivations(ctx context.Context, q Querier, limit int) ([]model.PendingMessage, error) {
	var out []model.PendingMessage
	err := q.SelectContext(ctx, &out, `
		SELECT * FROM pending_messages
		WHERE status = $1 AND scheduled_for <= now()
		ORDER BY scheduled_for
		FOR UPDATE SKIP LOCKED
		LIMIT $2`, model.PendingApproved, limit)
	if err != nil {
		return nil, classify(err)
	}
	if len(out) == 0 {
		return out, nil
	}
	ids := make([]string, len(out))
	for i, p := range out {
		ids[i] = p.ID
	}
	if _, err := q.ExecContext(ctx, `UPDATE pending_messages SET status = $1 WHERE id = ANY($2)`, model.PendingScheduled, pqArray(ids)); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// MarkPendingStatus stamps a terminal dispatch state (sent, or back to
// approved when a dispatch attempt must be re-queued).
func (s *Store) MarkPendingStatus(ctx context.Context, q Querier, id string, status model.PendingStatus) error {
	_, err := q.ExecContext(ctx, `UPDATE pending_messages SET status = $2 WHERE id = $1`, id, status)
	return classify(err)
}

// AutoApproveDuePending flips pending messages past their auto-approve
// deadline to approved with no approver recorded.
func (s *Store) AutoApproveDuePending(ctx context.Context, q Querier) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE pending_messages SET status = $1, approved_at = now()
		WHERE status = $2 AND expires_at IS NOT NULL AND expires_at < now()`,
		model.PendingApproved, model.PendingPending)
	if err != nil {
		return 0, classify(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PutPending queues a message for delayed or approval-gated dispatch.
func (s *Store) PutPending(ctx context.Context, q Querier, p model.PendingMessage) (model.PendingMessage, error) {
	const query = `
		INSERT INTO pending_messages (
			mapping_id, user_id, original_content, processed_content, status,
			scheduled_for, expires_at, source_msg_id, source_chat_id, destination_chat_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING *`
	var out model.PendingMessage
	err := q.GetContext(ctx, &out, query,
		p.MappingID, p.UserID, p.OriginalContent, p.ProcessedContent, p.Status,
		p.ScheduledFor, p.ExpiresAt, p.SourceMsgID, p.SourceChatID, p.DestinationChatID)
	return out, classify(err)
}

// DecidePending records an approve/reject decision on a pending message.
func (s *Store) DecidePending(ctx context.Context, q Querier, id string, status model.PendingStatus, approvedBy string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE pending_messages SET status = $2, approved_by = $3, approved_at = now() WHERE id = $1`,
		id, status, approvedBy)
	return classify(err)
}

// ExpirePending marks undecided pending messages with no auto-approve
// deadline as expired once they have sat longer than maxAgeSeconds.
func (s *Store) ExpirePending(ctx context.Context, q Querier, maxAgeSeconds int) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE pending_messages SET status = $1
		WHERE status = $2 AND expires_at IS NULL AND scheduled_for < now() - make_interval(secs => $3)`,
		model.PendingExpired, model.PendingPending, maxAgeSeconds)
	if err != nil {
		return 0, classify(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// pqArray renders a string slice as a Postgres array literal for ANY($1)
// without pulling in lib/pq solely for its Array helper.
func pqArray(ids []string) string {
	out := "{"
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += `"` + id + `"`
	}
	return out + "}"
}
