package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// GlobalChannel receives every published event; topic-specific channels
// carry only their own (e.g. "assignment", "queue", "scaling").
const GlobalChannel = "global"

// envelope is the wire shape of one published event.
type envelope struct {
	Topic     string `json:"topic"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload"`
}

// Publisher routes scheduler/pipeline/syncer events to the connection
// manager. It satisfies the Publisher interfaces of the scheduler and the
// forwarding engine, keeping those packages free of any WebSocket knowledge.
type Publisher struct {
	manager *ConnectionManager
	log     *slog.Logger
}

// NewPublisher builds a Publisher over a connection manager.
func NewPublisher(m *ConnectionManager, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{manager: m, log: log}
}

// Publish broadcasts one event. topic is dot-separated
// ("assignment.created", "queue.promoted", "scaling.overflow"); the channel
// is the topic's first segment ("assignment", "queue", "scaling").
// Best-effort: a marshal failure is logged and dropped, never surfaced to
// the caller.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) {
	data, err := json.Marshal(envelope{
		Topic:     topic,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		p.log.Warn("marshalling event failed", "topic", topic, "error", err)
		return
	}
	p.manager.Broadcast(channelOf(topic), data)
	p.manager.Broadcast(GlobalChannel, data)
}

func channelOf(topic string) string {
	for i := 0; i < len(topic); i++ {
		if topic[i] == '.' {
			return topic[:i]
		}
	}
	return topic
}
