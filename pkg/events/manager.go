// Package events fans controller state changes out to connected dashboard
// clients over WebSocket: assignment changes, queue promotions, forwarding
// outcomes, scaling events.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// writeTimeout bounds a single WebSocket send so one stalled client cannot
// hold up a broadcast.
const writeTimeout = 5 * time.Second

// ClientMessage is what a connected dashboard client may send: subscribe and
// unsubscribe requests for topic channels.
type ClientMessage struct {
	Action  string `json:"action"` // subscribe | unsubscribe | ping
	Channel string `json:"channel"`
}

// Connection is a single WebSocket client.
//
// subscriptions is accessed without a lock: every read and write happens on
// the goroutine running HandleConnection's read loop for this connection.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// ConnectionManager tracks WebSocket connections and their channel
// subscriptions. One instance per controller process.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	channelMu sync.RWMutex
	channels  map[string]map[string]bool // channel → set of connection ids

	log *slog.Logger
}

// NewConnectionManager builds an empty manager.
func NewConnectionManager(log *slog.Logger) *ConnectionManager {
	if log == nil {
		log = slog.Default()
	}
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		channels:    make(map[string]map[string]bool),
		log:         log,
	}
}

// HandleConnection owns the lifecycle of one WebSocket connection: register,
// read loop, cleanup. Blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
	m.register(c)
	defer m.unregister(c)

	m.send(c, map[string]string{"type": "connection.established", "connection_id": connID})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.log.Warn("invalid websocket message", "connection_id", connID, "error", err)
			continue
		}
		m.handle(c, &msg)
	}
}

func (m *ConnectionManager) handle(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			return
		}
		c.subscriptions[msg.Channel] = true
		m.channelMu.Lock()
		if m.channels[msg.Channel] == nil {
			m.channels[msg.Channel] = make(map[string]bool)
		}
		m.channels[msg.Channel][c.ID] = true
		m.channelMu.Unlock()
		m.send(c, map[string]string{"type": "subscribed", "channel": msg.Channel})
	case "unsubscribe":
		delete(c.subscriptions, msg.Channel)
		m.channelMu.Lock()
		if conns := m.channels[msg.Channel]; conns != nil {
			delete(conns, c.ID)
			if len(conns) == 0 {
				delete(m.channels, msg.Channel)
			}
		}
		m.channelMu.Unlock()
	case "ping":
		m.send(c, map[string]string{"type": "pong"})
	}
}

// Broadcast sends an event to every connection subscribed to the channel.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.channelMu.RLock()
	ids := make([]string, 0, len(m.channels[channel]))
	for id := range m.channels[channel] {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
		if err := c.Conn.Write(ctx, websocket.MessageText, event); err != nil {
			m.log.Debug("websocket write failed, dropping client", "connection_id", c.ID, "error", err)
			c.cancel()
		}
		cancel()
	}
}

// ConnectionCount reports how many clients are attached, for system status.
func (m *ConnectionManager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()
}

func (m *ConnectionManager) unregister(c *Connection) {
	c.cancel()
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	m.channelMu.Lock()
	for channel := range c.subscriptions {
		if conns := m.channels[channel]; conns != nil {
			delete(conns, c.ID)
			if len(conns) == 0 {
				delete(m.channels, channel)
			}
		}
	}
	m.channelMu.Unlock()
}

func (m *ConnectionManager) send(c *Connection, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.Conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.cancel()
	}
}
