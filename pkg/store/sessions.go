package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, q Querier, id string) (model.Session, error) {
	var sess model.Session
	err := q.GetContext(ctx, &sess, `SELECT * FROM sessions WHERE id = $1`, id)
	return sess, classify(err)
}

// ListSessions returns every session, for the admin listing.
func (s *Store) ListSessions(ctx context.Context, q Querier) ([]model.Session, error) {
	var out []model.Session
	err := q.SelectContext(ctx, &out, `SELECT * FROM sessions ORDER BY created_at`)
	return out, classify(err)
}

// ListSessionsByUser returns all sessions a user owns.
func (s *Store) ListSessionsByUser(ctx context.Context, q Querier, userID string) ([]model.Session, error) {
	var out []model.Session
	err := q.SelectContext(ctx, &out, `SELECT * FROM sessions WHERE user_id = $1 ORDER BY created_at`, userID)
	return out, classify(err)
}

// ListSessionsByWorker returns every session currently routed through a worker.
func (s *Store) ListSessionsByWorker(ctx context.Context, q Querier, workerID string) ([]model.Session, error) {
	var out []model.Session
	err := q.SelectContext(ctx, &out, `SELECT * FROM sessions WHERE worker_id = $1`, workerID)
	return out, classify(err)
}

// PutSession inserts a new session in the idle state.
func (s *Store) PutSession(ctx context.Context, q Querier, sess model.Session) (model.Session, error) {
	const query = `
		INSERT INTO sessions (user_id, session_name, phone, auth_blob, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *`
	var out model.Session
	err := q.GetContext(ctx, &out, query, sess.UserID, sess.SessionName, sess.Phone, sess.AuthBlob, model.SessionIdle)
	return out, classify(err)
}

// UpdateSessionWith loads a session row FOR UPDATE, applies fn, and writes it
// back with an optimistic version CAS.
func (s *Store) UpdateSessionWith(ctx context.Context, q Querier, id string, fn func(*model.Session) error) (model.Session, error) {
	var sess model.Session
	if err := q.GetContext(ctx, &sess, `SELECT * FROM sessions WHERE id = $1 FOR UPDATE`, id); err != nil {
		return model.Session{}, classify(err)
	}
	if err := fn(&sess); err != nil {
		return model.Session{}, err
	}
	const query = `
		UPDATE sessions SET
			worker_id = $2, status = $3, msg_count = $4, last_activity = $5, version = version + 1
		WHERE id = $1 AND version = $6
		RETURNING *`
	var out model.Session
	err := q.GetContext(ctx, &out, query, sess.ID, sess.WorkerID, sess.Status, sess.MsgCount, sess.LastActivity, sess.Version)
	if err != nil {
		return model.Session{}, classify(err)
	}
	return out, nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return classify(err)
}
