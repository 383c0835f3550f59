// Package worker is the controller's boundary to the fleet: the
// PlatformClient capability the pipeline dispatches through, the HTTP
// client that implements it against a worker node, and the pool that hands
// out one breaker-wrapped client per worker.
package worker

import (
	"context"
)

// EventKind distinguishes the platform update types the pipeline handles.
type EventKind string

const (
	EventNew    EventKind = "new"
	EventEdit   EventKind = "edit"
	EventDelete EventKind = "delete"
)

// Event is one inbound platform update, reported by the worker running the
// session.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	ChatID    int64     `json:"chat_id"`
	MsgID     int64     `json:"msg_id"`
	MsgType   string    `json:"msg_type"`
	Text      string    `json:"text"`
	IsForward bool      `json:"is_forward"`
	Sender    string    `json:"sender"`
	MediaRefs []string  `json:"media_refs,omitempty"`
}

// Payload is the rendered message handed to send/edit.
type Payload struct {
	Text      string   `json:"text"`
	MediaRefs []string `json:"media_refs,omitempty"`
}

// PlatformClient is the per-worker capability the pipeline and sync
// dispatcher use to act on the chat platform. PauseUpdates/ResumeUpdates are
// the flow-control contract: when a session's pipeline queue fills, the
// worker is told to stop polling the platform for that session until the
// queue drains.
type PlatformClient interface {
	StartSession(ctx context.Context, sessionID string, authBlob []byte) error
	StopSession(ctx context.Context, sessionID string) error
	Send(ctx context.Context, destinationChatID int64, payload Payload) (forwardedMsgID int64, err error)
	Edit(ctx context.Context, destinationChatID, forwardedMsgID int64, payload Payload) error
	Delete(ctx context.Context, destinationChatID, forwardedMsgID int64) error
	PauseUpdates(ctx context.Context, sessionID string) error
	ResumeUpdates(ctx context.Context, sessionID string) error
}
