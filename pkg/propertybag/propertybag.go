// Package propertybag implements the small, extensible property bag used for
// per-entity "details" blobs (worker config overrides, analytics samples,
// scaling-event context). Rather than an untyped map[string]any passed
// through business logic, each bag is a tagged union of known variants with
// an Opaque(bytes) fallback for forward-compatible, unknown payloads.
package propertybag

import (
	"encoding/json"
	"fmt"
)

// Kind tags which variant a Bag holds.
type Kind string

const (
	KindWorkerConfig  Kind = "worker_config"
	KindScalingReason Kind = "scaling_reason"
	KindAnalytics     Kind = "analytics"
	KindOpaque        Kind = "opaque"
)

// WorkerConfig is a known variant: worker-reported tunables that don't
// warrant their own column on the Worker row.
type WorkerConfig struct {
	MaxBatchSize      int    `json:"max_batch_size,omitempty"`
	PreferredRegion   string `json:"preferred_region,omitempty"`
	ThrottleOnHighRAM bool   `json:"throttle_on_high_ram,omitempty"`
}

// ScalingReason is a known variant: the justification context attached to a
// ScalingEvent.
type ScalingReason struct {
	QueueDepth    int     `json:"queue_depth"`
	Utilisation   float64 `json:"utilisation"`
	OnlineWorkers int     `json:"online_workers"`
}

// Analytics is a known variant: a rolling-window sample for WorkerAnalytics.
type Analytics struct {
	MessagesPerMin float64 `json:"messages_per_min"`
	AvgProcMs      float64 `json:"avg_proc_ms"`
	ErrorRate      float64 `json:"error_rate"`
}

// Bag is a tagged union persisted as jsonb. Exactly one of the typed fields
// is populated according to Kind; Opaque holds the raw bytes for any
// payload that didn't decode into a known variant (forward compatibility
// with producers running a newer version of the schema).
type Bag struct {
	Kind          Kind            `json:"kind"`
	WorkerConfig  *WorkerConfig   `json:"worker_config,omitempty"`
	ScalingReason *ScalingReason  `json:"scaling_reason,omitempty"`
	Analytics     *Analytics      `json:"analytics,omitempty"`
	Opaque        json.RawMessage `json:"opaque,omitempty"`
}

// FromWorkerConfig wraps a WorkerConfig in a Bag.
func FromWorkerConfig(c WorkerConfig) Bag { return Bag{Kind: KindWorkerConfig, WorkerConfig: &c} }

// FromScalingReason wraps a ScalingReason in a Bag.
func FromScalingReason(r ScalingReason) Bag { return Bag{Kind: KindScalingReason, ScalingReason: &r} }

// FromAnalytics wraps an Analytics sample in a Bag.
func FromAnalytics(a Analytics) Bag { return Bag{Kind: KindAnalytics, Analytics: &a} }

// MarshalValue encodes the Bag for storage in a jsonb column.
func (b Bag) MarshalValue() ([]byte, error) {
	return json.Marshal(b)
}

// ParseValue decodes a jsonb column into a Bag. Unknown kinds are preserved
// as KindOpaque with the raw bytes rather than rejected, so a controller
// running an older binary can still round-trip data written by a newer one.
func ParseValue(raw []byte) (Bag, error) {
	if len(raw) == 0 {
		return Bag{}, nil
	}
	var b Bag
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bag{Kind: KindOpaque, Opaque: raw}, nil
	}
	switch b.Kind {
	case KindWorkerConfig, KindScalingReason, KindAnalytics, KindOpaque, "":
		return b, nil
	default:
		return Bag{Kind: KindOpaque, Opaque: raw}, nil
	}
}

// String is a debugging helper.
func (b Bag) String() string {
	return fmt.Sprintf("Bag{kind=%s}", b.Kind)
}
