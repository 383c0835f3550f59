package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// PutForwardingLog appends a pipeline outcome row. ForwardingLog is
// append-only: there is no update or delete path, only list/filter.
func (s *Store) PutForwardingLog(ctx context.Context, q Querier, l model.ForwardingLog) (model.ForwardingLog, error) {
	const query = `
		INSERT INTO forwarding_logs (
			mapping_id, source_id, destination_id, msg_type, original_text,
			processed_text, status, filter_reason, error, processing_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING *`
	var out model.ForwardingLog
	err := q.GetContext(ctx, &out, query,
		l.MappingID, l.SourceID, l.DestinationID, l.MsgType, l.OriginalText,
		l.ProcessedText, l.Status, l.FilterReason, l.Error, l.ProcessingMs)
	return out, classify(err)
}

// ListForwardingLogs returns logs newest-first, optionally filtered by
// status, paged by (limit, offset) for the admin logs screen.
func (s *Store) ListForwardingLogs(ctx context.Context, q Querier, status *model.LogStatus, limit, offset int) ([]model.ForwardingLog, error) {
	var out []model.ForwardingLog
	var err error
	if status != nil {
		err = q.SelectContext(ctx, &out, `
			SELECT * FROM forwarding_logs WHERE status = $1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3`, *status, limit, offset)
	} else {
		err = q.SelectContext(ctx, &out, `
			SELECT * FROM forwarding_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	return out, classify(err)
}

// CountForwardingLogsSince returns per-status counts since a cutoff, the
// building block for the statistics hourly/daily/total aggregation.
func (s *Store) CountForwardingLogsSince(ctx context.Context, q Querier, since any) (map[model.LogStatus]int64, error) {
	rows, err := q.QueryxContext(ctx, `
		SELECT status, count(*) FROM forwarding_logs WHERE created_at >= $1 GROUP BY status`, since)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[model.LogStatus]int64)
	for rows.Next() {
		var status model.LogStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, classify(err)
		}
		out[status] = n
	}
	return out, classify(rows.Err())
}
