package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	echo "github.com/labstack/echo/v5"

	"github.com/relaymesh/relayd/pkg/model"
)

// validate is the shared request validator; struct tags on the request DTOs
// below carry the constraints.
var validate = validator.New()

// bind decodes and validates a request body in one step.
func bind[T any](c *echo.Context, req *T) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Kind: "InputInvalid", Message: err.Error()})
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Kind: "InputInvalid", Message: err.Error()})
	}
	return nil
}

// CreateUserRequest is the body of POST /api/v1/users.
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Role     string `json:"role" validate:"omitempty,oneof=free pro elite admin"`
}

// UpdateUserRequest is the body of PATCH /api/v1/users/:id.
type UpdateUserRequest struct {
	Role   *string `json:"role" validate:"omitempty,oneof=free pro elite admin"`
	Active *bool   `json:"active"`
}

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	UserID      string `json:"user_id" validate:"required,uuid"`
	SessionName string `json:"session_name" validate:"required,max=128"`
	Phone       string `json:"phone" validate:"required,max=32"`
	AuthBlob    []byte `json:"auth_blob" validate:"required"`
}

// UpdateSessionStatusRequest is the body of PATCH /api/v1/sessions/:id/status.
type UpdateSessionStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active paused stopped"`
}

// RegisterWorkerRequest is the body of POST /api/v1/workers.
type RegisterWorkerRequest struct {
	WorkerID     string `json:"worker_id" validate:"required,max=64"`
	Address      string `json:"address" validate:"required,hostname_port"`
	TotalRAM     int64  `json:"total_ram" validate:"required,gt=0"`
	MaxSessions  int    `json:"max_sessions" validate:"required,gt=0"`
	RAMThreshold int64  `json:"ram_threshold" validate:"required,gt=0"`
	Priority     int    `json:"priority" validate:"gte=0,lte=10"`
	AuthToken    string `json:"auth_token" validate:"required,min=16"`
}

// HeartbeatRequest is the body of POST /api/v1/workers/:id/heartbeat.
type HeartbeatRequest struct {
	UsedRAM        int64   `json:"used_ram" validate:"gte=0"`
	CPUPercent     float64 `json:"cpu_percent" validate:"gte=0"`
	ActiveSessions int     `json:"active_sessions" validate:"gte=0"`
	PingMs         int     `json:"ping_ms" validate:"gte=0"`
	Version        string  `json:"version"`

	// Optional rolling analytics sample.
	MessagesPerMin float64 `json:"messages_per_min" validate:"gte=0"`
	AvgProcMs      float64 `json:"avg_proc_ms" validate:"gte=0"`
	ErrorRate      float64 `json:"error_rate" validate:"gte=0,lte=1"`
}

// SessionFailureRequest is the body of POST /api/v1/workers/:id/failures.
type SessionFailureRequest struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
	Kind      string `json:"kind" validate:"required,oneof=auth connection"`
	Details   string `json:"details"`
}

// CreateChatRequest is the body of POST /api/v1/sources and /destinations.
type CreateChatRequest struct {
	UserID       string  `json:"user_id" validate:"required,uuid"`
	ChatID       int64   `json:"chat_id" validate:"required"`
	ChatTitle    string  `json:"chat_title" validate:"required,max=256"`
	ChatType     string  `json:"chat_type" validate:"required,oneof=channel group"`
	ChatUsername *string `json:"chat_username"`
}

// CreateMappingRequest is the body of POST /api/v1/mappings.
type CreateMappingRequest struct {
	UserID        string        `json:"user_id" validate:"required,uuid"`
	SourceID      string        `json:"source_id" validate:"required,uuid"`
	DestinationID string        `json:"destination_id" validate:"required,uuid"`
	PairName      string        `json:"pair_name" validate:"required,max=128"`
	PairType      string        `json:"pair_type"`
	Priority      int           `json:"priority" validate:"gte=1,lte=10"`
	Filters       model.Filters `json:"filters"`
	Editing       model.Editing `json:"editing"`
	Sync          model.Sync    `json:"sync"`
	Delay         model.Delay   `json:"delay"`
}

// UpdateMappingRequest is the body of PATCH /api/v1/mappings/:id.
type UpdateMappingRequest struct {
	PairName *string `json:"pair_name" validate:"omitempty,max=128"`
	Priority *int    `json:"priority" validate:"omitempty,gte=1,lte=10"`
}

// UpdateMappingRulesRequest is the body of PUT /api/v1/mappings/:id/rules.
type UpdateMappingRulesRequest struct {
	Filters *model.Filters `json:"filters"`
	Editing *model.Editing `json:"editing"`
	Sync    *model.Sync    `json:"sync"`
	Delay   *model.Delay   `json:"delay"`
}

// CreateRegexRuleRequest is the body of POST /api/v1/regex-rules.
type CreateRegexRuleRequest struct {
	UserID        string  `json:"user_id" validate:"required,uuid"`
	MappingID     *string `json:"mapping_id" validate:"omitempty,uuid"`
	Name          string  `json:"name" validate:"required,max=128"`
	Pattern       string  `json:"pattern" validate:"required,max=1024"`
	Replacement   *string `json:"replacement"`
	Kind          string  `json:"kind" validate:"required,oneof=find_replace remove extract conditional_replace"`
	OrderIndex    int     `json:"order_index" validate:"gte=0"`
	CaseSensitive bool    `json:"case_sensitive"`
}

// UpdateRegexRuleRequest is the body of PATCH /api/v1/regex-rules/:id.
type UpdateRegexRuleRequest struct {
	Name          *string `json:"name" validate:"omitempty,max=128"`
	Pattern       *string `json:"pattern" validate:"omitempty,max=1024"`
	Replacement   *string `json:"replacement"`
	OrderIndex    *int    `json:"order_index" validate:"omitempty,gte=0"`
	CaseSensitive *bool   `json:"case_sensitive"`
	Active        *bool   `json:"active"`
}

// TestRegexRuleRequest is the body of POST /api/v1/regex-rules/test.
type TestRegexRuleRequest struct {
	Pattern       string  `json:"pattern" validate:"required,max=1024"`
	Replacement   *string `json:"replacement"`
	Kind          string  `json:"kind" validate:"required,oneof=find_replace remove extract conditional_replace"`
	CaseSensitive bool    `json:"case_sensitive"`
	Text          string  `json:"text" validate:"required,max=8192"`
}

// DecidePendingRequest is the body of the approve/reject pending ops.
type DecidePendingRequest struct {
	DecidedBy string `json:"decided_by" validate:"required,uuid"`
}
