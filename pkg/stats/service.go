// Package stats aggregates forwarding outcomes for the statistics endpoint.
package stats

import (
	"context"
	"time"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/relayerr"
	"github.com/relaymesh/relayd/pkg/store"
)

// Aggregation selects the statistics window.
type Aggregation string

const (
	Hourly Aggregation = "hourly"
	Daily  Aggregation = "daily"
	Total  Aggregation = "total"
)

// Summary is the per-window outcome breakdown.
type Summary struct {
	Aggregation Aggregation `json:"aggregation"`
	Since       *time.Time  `json:"since,omitempty"`
	Forwarded   int64       `json:"forwarded"`
	Filtered    int64       `json:"filtered"`
	Errors      int64       `json:"errors"`
	Tests       int64       `json:"tests"`
}

// Service computes statistics over the forwarding log.
type Service struct {
	store *store.Store
}

// New builds a Service.
func New(st *store.Store) *Service { return &Service{store: st} }

// Get returns the outcome counts for the requested aggregation window.
func (s *Service) Get(ctx context.Context, agg Aggregation) (Summary, error) {
	var since time.Time
	switch agg {
	case Hourly:
		since = time.Now().Add(-time.Hour)
	case Daily:
		since = time.Now().Add(-24 * time.Hour)
	case Total:
		// Epoch: everything ever logged.
	default:
		return Summary{}, relayerr.Newf(relayerr.KindInputInvalid, "unknown aggregation %q", agg)
	}

	counts, err := s.store.CountForwardingLogsSince(ctx, s.store.Q(), since)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{
		Aggregation: agg,
		Forwarded:   counts[model.LogSuccess],
		Filtered:    counts[model.LogFiltered],
		Errors:      counts[model.LogError],
		Tests:       counts[model.LogTest],
	}
	if agg != Total {
		out.Since = &since
	}
	return out, nil
}
