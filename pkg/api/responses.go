package api

import (
	"time"

	"github.com/relaymesh/relayd/pkg/model"
)

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Connections int    `json:"connections,omitempty"`
}

// AssignResponse is the body of POST /api/v1/sessions/:id/assign. Exactly
// one of WorkerID or Position is meaningful, per Status.
type AssignResponse struct {
	Status   string `json:"status"` // assigned | queued
	WorkerID string `json:"worker_id,omitempty"`
	Position int    `json:"position,omitempty"`
	EstWaitS int    `json:"est_wait_s,omitempty"`
}

// SystemStatusResponse is the body of GET /api/v1/workers/system/status.
type SystemStatusResponse struct {
	TotalWorkers     int                 `json:"total_workers"`
	OnlineWorkers    int                 `json:"online_workers"`
	DrainingWorkers  int                 `json:"draining_workers"`
	TotalSessions    int                 `json:"total_sessions"`
	QueuedSessions   int                 `json:"queued_sessions"`
	Utilisation      float64             `json:"utilisation"`
	LastScalingEvent *model.ScalingEvent `json:"last_scaling_event,omitempty"`
	Connections      int                 `json:"connections"`
	GeneratedAt      time.Time           `json:"generated_at"`
}

// ControlsResponse is the body of GET /api/v1/workers/:id/controls.
type ControlsResponse struct {
	Controls []model.WorkerControl `json:"controls"`
}
