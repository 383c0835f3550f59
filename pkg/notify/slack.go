// Package notify delivers operator notifications over Slack: scaling
// events, plan downgrade overages, and approval prompts.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/quota"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service posts operator notifications. Nil-safe: every method is a no-op on
// a nil receiver, so callers never need to guard. Fail-open: delivery errors
// are logged, never returned.
type Service struct {
	api          *goslack.Client
	channelID    string
	dashboardURL string
	log          *slog.Logger
}

// NewService builds a Service, or returns nil when Slack is not configured.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		api:          goslack.New(cfg.Token),
		channelID:    cfg.Channel,
		dashboardURL: cfg.DashboardURL,
		log:          slog.Default().With("component", "notify"),
	}
}

// NewServiceWithAPIURL targets a custom API URL, for tests against a mock
// Slack server.
func NewServiceWithAPIURL(cfg ServiceConfig, apiURL string) *Service {
	s := NewService(cfg)
	if s == nil {
		return nil
	}
	s.api = goslack.New(cfg.Token, goslack.OptionAPIURL(apiURL))
	return s
}

// NotifyScalingEvent posts an overflow notification. The scheduler already
// rate-limits calls to one per cooldown window.
func (s *Service) NotifyScalingEvent(ctx context.Context, ev model.ScalingEvent, reason string) {
	if s == nil {
		return
	}
	text := fmt.Sprintf(":rotating_light: *Capacity overflow detected* — trigger `%s`: %s", ev.Trigger, reason)
	s.post(ctx, text)
}

// NotifyPlanDowngrade reports a downgrade that left a user's usage above the
// new tier's limits; the quota manager never auto-terminates, so an operator
// has to follow up.
func (s *Service) NotifyPlanDowngrade(ctx context.Context, o quota.PlanDowngradeOverage) {
	if s == nil {
		return
	}
	text := fmt.Sprintf(":warning: Plan downgrade overage for user `%s`: %s usage %d over new limit %d",
		o.UserID, o.Kind, o.Current, o.Max)
	s.post(ctx, text)
}

// NotifyApprovalPending tells operators a message is waiting for a manual
// approval decision.
func (s *Service) NotifyApprovalPending(ctx context.Context, pm model.PendingMessage) {
	if s == nil {
		return
	}
	text := fmt.Sprintf(":hourglass: Message pending approval on mapping `%s` (scheduled %s)",
		pm.MappingID, pm.ScheduledFor.UTC().Format(time.RFC3339))
	if s.dashboardURL != "" {
		text += fmt.Sprintf("\n<%s/pending/%s|Review in dashboard>", s.dashboardURL, pm.ID)
	}
	s.post(ctx, text)
}

func (s *Service) post(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, _, err := s.api.PostMessageContext(ctx, s.channelID, goslack.MsgOptionText(text, false)); err != nil {
		s.log.Error("slack notification failed", "error", err)
	}
}
