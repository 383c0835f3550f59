// Package model holds the entity types of the control plane's data model.
// Every status field is a fixed Go type with an exhaustive set of
// constants rather than an ad-hoc string tag, so unreachable or stale
// status values fail at build time.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Role is a User's plan-independent role.
type Role string

const (
	RoleFree  Role = "free"
	RolePro   Role = "pro"
	RoleElite Role = "elite"
	RoleAdmin Role = "admin"
)

// User is an end-user identity on the chat platform.
type User struct {
	ID       string `db:"id" json:"id"`
	Username string `db:"username" json:"username"`
	Email    string `db:"email" json:"email"`
	Role     Role   `db:"role" json:"role"`
	Active   bool   `db:"active" json:"active"`
}

// PlanStatus is the lifecycle state of a Plan.
type PlanStatus string

const (
	PlanStatusActive   PlanStatus = "active"
	PlanStatusExpired  PlanStatus = "expired"
	PlanStatusCanceled PlanStatus = "canceled"
)

// Plan is a user's subscription tier and derived quota counters.
type Plan struct {
	UserID          string     `db:"user_id" json:"user_id"`
	Tier            Role       `db:"tier" json:"tier"`
	Status          PlanStatus `db:"status" json:"status"`
	MaxSessions     int        `db:"max_sessions" json:"max_sessions"` // -1 = unlimited
	MaxPairs        int        `db:"max_pairs" json:"max_pairs"`       // -1 = unlimited
	Priority        int        `db:"priority" json:"priority"`
	CurrentSessions int        `db:"current_sessions" json:"current_sessions"`
	CurrentPairs    int        `db:"current_pairs" json:"current_pairs"`
	Start           time.Time  `db:"start" json:"start"`
	Expiry          *time.Time `db:"expiry" json:"expiry,omitempty"`
	Version         int        `db:"version" json:"-"`
}

// SessionStatus is the lifecycle state of a platform Session.
type SessionStatus string

const (
	SessionIdle    SessionStatus = "idle"
	SessionActive  SessionStatus = "active"
	SessionPaused  SessionStatus = "paused"
	SessionCrashed SessionStatus = "crashed"
	SessionStopped SessionStatus = "stopped"
)

// Session is a user's chat-platform session, eventually assigned to a Worker.
type Session struct {
	ID           string        `db:"id" json:"id"`
	UserID       string        `db:"user_id" json:"user_id"`
	SessionName  string        `db:"session_name" json:"session_name"`
	Phone        string        `db:"phone" json:"phone"`
	AuthBlob     []byte        `db:"auth_blob" json:"-"`
	WorkerID     *string       `db:"worker_id" json:"worker_id,omitempty"`
	Status       SessionStatus `db:"status" json:"status"`
	MsgCount     int64         `db:"msg_count" json:"msg_count"`
	LastActivity *time.Time    `db:"last_activity" json:"last_activity,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	Version      int           `db:"version" json:"-"`
}

// WorkerStatus is the liveness state of a Worker.
type WorkerStatus string

const (
	WorkerOnline   WorkerStatus = "online"
	WorkerDraining WorkerStatus = "draining"
	WorkerOffline  WorkerStatus = "offline"
)

// Worker is a fleet node that hosts platform sessions.
type Worker struct {
	ID             string       `db:"id" json:"id"`
	WorkerID       string       `db:"worker_id" json:"worker_id"`
	Address        string       `db:"address" json:"address"`
	Status         WorkerStatus `db:"status" json:"status"`
	TotalRAM       int64        `db:"total_ram" json:"total_ram"`
	UsedRAM        int64        `db:"used_ram" json:"used_ram"`
	CPUPercent     float64      `db:"cpu_percent" json:"cpu_percent"`
	MaxSessions    int          `db:"max_sessions" json:"max_sessions"`
	ActiveSessions int          `db:"active_sessions" json:"active_sessions"`
	LoadScore      int          `db:"load_score" json:"load_score"`
	PingMs         int          `db:"ping_ms" json:"ping_ms"`
	RAMThreshold   int64        `db:"ram_threshold" json:"ram_threshold"`
	Priority       int          `db:"priority" json:"priority"`
	AuthToken      string       `db:"auth_token" json:"-"`
	LastHeartbeat  *time.Time   `db:"last_heartbeat" json:"last_heartbeat,omitempty"`
	Version        int          `db:"version" json:"-"`
}

// AvailableSlots returns the worker's remaining session capacity.
func (w *Worker) AvailableSlots() int {
	slots := w.MaxSessions - w.ActiveSessions
	if slots < 0 {
		return 0
	}
	return slots
}

// HasCapacity reports whether the worker can accept another session:
// online, a free slot, and RAM under its threshold.
func (w *Worker) HasCapacity() bool {
	return w.Status == WorkerOnline && w.ActiveSessions < w.MaxSessions && w.UsedRAM < w.RAMThreshold
}

// AssignmentType distinguishes how an Assignment was created.
type AssignmentType string

const (
	AssignmentAutomatic AssignmentType = "automatic"
	AssignmentManual    AssignmentType = "manual"
	AssignmentMigration AssignmentType = "migration"
)

// AssignmentStatus is the lifecycle state of a SessionAssignment.
type AssignmentStatus string

const (
	AssignmentAssigned   AssignmentStatus = "assigned"
	AssignmentActive     AssignmentStatus = "active"
	AssignmentPaused     AssignmentStatus = "paused"
	AssignmentMigrating  AssignmentStatus = "migrating"
	AssignmentTerminated AssignmentStatus = "terminated"
)

// Assignment binds a Session to exactly one Worker.
type Assignment struct {
	ID                string           `db:"id" json:"id"`
	SessionID         string           `db:"session_id" json:"session_id"`
	WorkerID          string           `db:"worker_id" json:"worker_id"`
	UserID            string           `db:"user_id" json:"user_id"`
	Type              AssignmentType   `db:"type" json:"type"`
	Status            AssignmentStatus `db:"status" json:"status"`
	Priority          int              `db:"priority" json:"priority"`
	MessagesProcessed int64            `db:"messages_processed" json:"messages_processed"`
	RAMMb             int64            `db:"ram_mb" json:"ram_mb"`
	AvgProcMs         float64          `db:"avg_proc_ms" json:"avg_proc_ms"`
	AssignedAt        time.Time        `db:"assigned_at" json:"assigned_at"`
	ActivatedAt       *time.Time       `db:"activated_at" json:"activated_at,omitempty"`
	LastHeartbeat     *time.Time       `db:"last_heartbeat" json:"last_heartbeat,omitempty"`
	LastMigration     *time.Time       `db:"last_migration" json:"last_migration,omitempty"`
	Version           int              `db:"version" json:"-"`
}

// QueueStatus is the lifecycle state of a SessionQueue row.
type QueueStatus string

const (
	QueueQueued   QueueStatus = "queued"
	QueuePromoted QueueStatus = "promoted"
	QueueExpired  QueueStatus = "expired"
)

// QueueItem is a pending assignment waiting for worker capacity.
type QueueItem struct {
	ID        string      `db:"id" json:"id"`
	UserID    string      `db:"user_id" json:"user_id"`
	SessionID string      `db:"session_id" json:"session_id"`
	Priority  int         `db:"priority" json:"priority"`
	Position  int         `db:"position" json:"position"`
	EstWaitS  int         `db:"est_wait_s" json:"est_wait_s"`
	Status    QueueStatus `db:"status" json:"status"`
	QueuedAt  time.Time   `db:"queued_at" json:"queued_at"`
}

// ChatType is the kind of chat a Source/Destination refers to.
type ChatType string

const (
	ChatChannel ChatType = "channel"
	ChatGroup   ChatType = "group"
)

// Source is a chat a mapping forwards messages from. ChatID is the
// platform's numeric chat identifier, the key inbound events carry.
type Source struct {
	ID           string   `db:"id" json:"id"`
	UserID       string   `db:"user_id" json:"user_id"`
	ChatID       int64    `db:"chat_id" json:"chat_id"`
	ChatTitle    string   `db:"chat_title" json:"chat_title"`
	ChatType     ChatType `db:"chat_type" json:"chat_type"`
	ChatUsername *string  `db:"chat_username" json:"chat_username,omitempty"`
	Active       bool     `db:"active" json:"active"`
	MessageCount int64    `db:"message_count" json:"message_count"`
}

// Destination is a chat a mapping forwards messages to.
type Destination struct {
	ID           string   `db:"id" json:"id"`
	UserID       string   `db:"user_id" json:"user_id"`
	ChatID       int64    `db:"chat_id" json:"chat_id"`
	ChatTitle    string   `db:"chat_title" json:"chat_title"`
	ChatType     ChatType `db:"chat_type" json:"chat_type"`
	ChatUsername *string  `db:"chat_username" json:"chat_username,omitempty"`
	Active       bool     `db:"active" json:"active"`
	MessageCount int64    `db:"message_count" json:"message_count"`
}

// KeywordMode controls how Filters.IncludeKeywords is matched.
type KeywordMode string

const (
	KeywordAny KeywordMode = "any"
	KeywordAll KeywordMode = "all"
)

// Filters is the embedded filter policy of a Mapping.
type Filters struct {
	IncludeKeywords []string    `json:"include_kw,omitempty"`
	ExcludeKeywords []string    `json:"exclude_kw,omitempty"`
	KeywordMode     KeywordMode `json:"kw_mode"`
	CaseSensitive   bool        `json:"case_sensitive"`
	AllowedTypes    []string    `json:"allowed_types,omitempty"`
	BlockURLs       bool        `json:"block_urls"`
	BlockForwards   bool        `json:"block_forwards"`
	MinLen          int         `json:"min_len"`
	MaxLen          int         `json:"max_len"`
}

// Editing is the embedded transform policy of a Mapping.
type Editing struct {
	Header             *string `json:"header,omitempty"`
	Footer             *string `json:"footer,omitempty"`
	RemoveSender       bool    `json:"remove_sender"`
	RemoveURLs         bool    `json:"remove_urls"`
	RemoveHashtags     bool    `json:"remove_hashtags"`
	RemoveMentions     bool    `json:"remove_mentions"`
	PreserveFormatting bool    `json:"preserve_formatting"`
}

// Sync is the embedded edit/delete propagation policy of a Mapping.
type Sync struct {
	UpdateEnabled bool `json:"update_enabled"`
	DeleteEnabled bool `json:"delete_enabled"`
	UpdateDelayS  int  `json:"update_delay_s"`
}

// Delay is the embedded approval-delay policy of a Mapping.
type Delay struct {
	Enabled           bool `json:"enabled"`
	Seconds           int  `json:"seconds"`
	RequireApproval   bool `json:"require_approval"`
	AutoApproveAfterS *int `json:"auto_approve_after_s,omitempty"`
}

// Value and Scan on Filters, Editing, Sync and Delay let sqlx read and write
// these embedded policies as plain jsonb columns instead of side tables.

func (f Filters) Value() (driver.Value, error) { return json.Marshal(f) }
func (f *Filters) Scan(src any) error          { return scanJSON(src, f) }

func (e Editing) Value() (driver.Value, error) { return json.Marshal(e) }
func (e *Editing) Scan(src any) error          { return scanJSON(src, e) }

func (s Sync) Value() (driver.Value, error) { return json.Marshal(s) }
func (s *Sync) Scan(src any) error          { return scanJSON(src, s) }

func (d Delay) Value() (driver.Value, error) { return json.Marshal(d) }
func (d *Delay) Scan(src any) error          { return scanJSON(src, d) }

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("model: unsupported scan source %T", src)
	}
}

// Mapping is a user-owned source→destination forwarding rule.
type Mapping struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	SourceID      string    `db:"source_id" json:"source_id"`
	DestinationID string    `db:"destination_id" json:"destination_id"`
	PairName      string    `db:"pair_name" json:"pair_name"`
	PairType      string    `db:"pair_type" json:"pair_type"`
	Priority      int       `db:"priority" json:"priority"`
	Active        bool      `db:"active" json:"active"`
	Filters       Filters   `db:"filters" json:"filters"`
	Editing       Editing   `db:"editing" json:"editing"`
	Sync          Sync      `db:"sync" json:"sync"`
	Delay         Delay     `db:"delay" json:"delay"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	Version       int       `db:"version" json:"-"`
}

// RegexRuleKind is the transform kind of a RegexRule.
type RegexRuleKind string

const (
	RegexFindReplace        RegexRuleKind = "find_replace"
	RegexRemove             RegexRuleKind = "remove"
	RegexExtract            RegexRuleKind = "extract"
	RegexConditionalReplace RegexRuleKind = "conditional_replace"
)

// RegexRule is a user-authored text transform, optionally scoped to a Mapping.
type RegexRule struct {
	ID            string        `db:"id" json:"id"`
	UserID        string        `db:"user_id" json:"user_id"`
	MappingID     *string       `db:"mapping_id" json:"mapping_id,omitempty"`
	Name          string        `db:"name" json:"name"`
	Pattern       string        `db:"pattern" json:"pattern"`
	Replacement   *string       `db:"replacement" json:"replacement,omitempty"`
	Kind          RegexRuleKind `db:"kind" json:"kind"`
	OrderIndex    int           `db:"order_index" json:"order_index"`
	CaseSensitive bool          `db:"case_sensitive" json:"case_sensitive"`
	Active        bool          `db:"active" json:"active"`
}

// MessageTracker links an inbound source message to its forwarded copy.
type MessageTracker struct {
	ID                string    `db:"id" json:"id"`
	MappingID         string    `db:"mapping_id" json:"mapping_id"`
	SourceMsgID       int64     `db:"source_msg_id" json:"source_msg_id"`
	SourceChatID      int64     `db:"source_chat_id" json:"source_chat_id"`
	ForwardedMsgID    *int64    `db:"forwarded_msg_id" json:"forwarded_msg_id,omitempty"`
	DestinationChatID int64     `db:"destination_chat_id" json:"destination_chat_id"`
	Hash              *string   `db:"hash" json:"hash,omitempty"`
	Orphaned          bool      `db:"orphaned" json:"orphaned"`
	LastSynced        time.Time `db:"last_synced" json:"last_synced"`
}

// PendingStatus is the lifecycle state of a PendingMessage.
type PendingStatus string

const (
	PendingPending   PendingStatus = "pending"
	PendingApproved  PendingStatus = "approved"
	PendingRejected  PendingStatus = "rejected"
	PendingExpired   PendingStatus = "expired"
	PendingScheduled PendingStatus = "scheduled"
	PendingSent      PendingStatus = "sent"
)

// PendingMessage is a message awaiting an approval decision before dispatch.
type PendingMessage struct {
	ID               string        `db:"id" json:"id"`
	MappingID        string        `db:"mapping_id" json:"mapping_id"`
	UserID           string        `db:"user_id" json:"user_id"`
	OriginalContent  []byte        `db:"original_content" json:"-"`
	ProcessedContent []byte        `db:"processed_content" json:"-"`
	Status           PendingStatus `db:"status" json:"status"`
	ScheduledFor     time.Time     `db:"scheduled_for" json:"scheduled_for"`
	ExpiresAt        *time.Time    `db:"expires_at" json:"expires_at,omitempty"`
	ApprovedBy       *string       `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt       *time.Time    `db:"approved_at" json:"approved_at,omitempty"`

	// Denormalized routing info so the sync dispatcher / pipeline doesn't need
	// to rejoin Mapping/Source/Destination on activation.
	SourceMsgID       int64 `db:"source_msg_id" json:"source_msg_id"`
	SourceChatID      int64 `db:"source_chat_id" json:"source_chat_id"`
	DestinationChatID int64 `db:"destination_chat_id" json:"destination_chat_id"`
}

// LogStatus is the outcome of a ForwardingLog row.
type LogStatus string

const (
	LogSuccess  LogStatus = "success"
	LogFiltered LogStatus = "filtered"
	LogError    LogStatus = "error"
	LogTest     LogStatus = "test"
)

// ForwardingLog is an append-only record of one pipeline outcome.
type ForwardingLog struct {
	ID            string    `db:"id" json:"id"`
	MappingID     *string   `db:"mapping_id" json:"mapping_id,omitempty"`
	SourceID      *string   `db:"source_id" json:"source_id,omitempty"`
	DestinationID *string   `db:"destination_id" json:"destination_id,omitempty"`
	MsgType       string    `db:"msg_type" json:"msg_type"`
	OriginalText  *string   `db:"original_text" json:"original_text,omitempty"`
	ProcessedText *string   `db:"processed_text" json:"processed_text,omitempty"`
	Status        LogStatus `db:"status" json:"status"`
	FilterReason  *string   `db:"filter_reason" json:"filter_reason,omitempty"`
	Error         *string   `db:"error" json:"error,omitempty"`
	ProcessingMs  *int64    `db:"processing_ms" json:"processing_ms,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ScalingTrigger is what caused a ScalingEvent.
type ScalingTrigger string

const (
	TriggerHighQueue ScalingTrigger = "high_queue"
	TriggerHighLoad  ScalingTrigger = "high_load"
)

// ScalingEvent is an append-only record of an overload crossing. Details is
// a propertybag payload carrying the justification context (queue depth,
// utilisation, fleet size) at the moment of the crossing.
type ScalingEvent struct {
	ID        string         `db:"id" json:"id"`
	Type      string         `db:"type" json:"type"` // always "overflow_detected"
	Trigger   ScalingTrigger `db:"trigger" json:"trigger"`
	Details   []byte         `db:"details" json:"details,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// WorkerControlAction is the command kind a worker polls for.
type WorkerControlAction string

const (
	ControlStopSession  WorkerControlAction = "stop_session"
	ControlDrain        WorkerControlAction = "drain"
	ControlReloadConfig WorkerControlAction = "reload_config"
)

// WorkerControlStatus is the delivery state of a WorkerControl record.
type WorkerControlStatus string

const (
	ControlPending   WorkerControlStatus = "pending"
	ControlDelivered WorkerControlStatus = "delivered"
	ControlAcked     WorkerControlStatus = "acked"
)

// WorkerControl is an admin-issued command a worker polls and acks.
type WorkerControl struct {
	ID        string              `db:"id" json:"id"`
	WorkerID  string              `db:"worker_id" json:"worker_id"`
	SessionID *string             `db:"session_id" json:"session_id,omitempty"`
	Action    WorkerControlAction `db:"action" json:"action"`
	Status    WorkerControlStatus `db:"status" json:"status"`
	CreatedAt time.Time           `db:"created_at" json:"created_at"`
}

// WorkerAnalytics is an append-only per-heartbeat rolling-window sample.
type WorkerAnalytics struct {
	ID             string    `db:"id" json:"id"`
	WorkerID       string    `db:"worker_id" json:"worker_id"`
	MessagesPerMin float64   `db:"messages_per_min" json:"messages_per_min"`
	AvgProcMs      float64   `db:"avg_proc_ms" json:"avg_proc_ms"`
	ErrorRate      float64   `db:"error_rate" json:"error_rate"`
	SampledAt      time.Time `db:"sampled_at" json:"sampled_at"`
}
