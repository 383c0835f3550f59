package scheduler

import (
	"context"
	"time"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/propertybag"
)

// evaluateScaling runs after every assign, drain, or worker transition. It
// computes the queue depth and fleet RAM utilisation; crossing either
// threshold writes a ScalingEvent row and fires the admin notification at
// most once per cooldown window so a sustained overload doesn't storm the
// operators.
//
// Callers hold s.mu, which also guards lastNotified.
func (s *Scheduler) evaluateScaling(ctx context.Context) {
	queued, err := s.store.ListQueueByStatus(ctx, s.store.Q(), model.QueueQueued)
	if err != nil {
		s.log.Error("scaling evaluation: listing queue failed", "error", err)
		return
	}

	online, err := s.store.ListWorkersByStatus(ctx, s.store.Q(), model.WorkerOnline)
	if err != nil {
		s.log.Error("scaling evaluation: listing workers failed", "error", err)
		return
	}
	util := utilisationOf(online)

	var trigger model.ScalingTrigger
	switch {
	case len(queued) > s.cfg.HighQueueThresh:
		trigger = model.TriggerHighQueue
	case util > s.cfg.HighLoadThresh:
		trigger = model.TriggerHighLoad
	default:
		return
	}

	details, err := propertybag.FromScalingReason(propertybag.ScalingReason{
		QueueDepth:    len(queued),
		Utilisation:   util,
		OnlineWorkers: len(online),
	}).MarshalValue()
	if err != nil {
		s.log.Error("encoding scaling event details failed", "error", err)
	}

	ev, err := s.store.PutScalingEvent(ctx, s.store.Q(), model.ScalingEvent{
		Type:    "overflow_detected",
		Trigger: trigger,
		Details: details,
	})
	if err != nil {
		s.log.Error("writing scaling event failed", "trigger", trigger, "error", err)
		return
	}
	s.publish(ctx, "scaling.overflow", ev)

	now := time.Now()
	if now.Sub(s.lastNotified) < s.cfg.ScalingCooldown {
		return
	}
	s.lastNotified = now

	if s.notifier != nil {
		reason := "queue depth over threshold"
		if trigger == model.TriggerHighLoad {
			reason = "fleet RAM utilisation over threshold"
		}
		s.notifier.NotifyScalingEvent(ctx, ev, reason)
	}
	s.log.Warn("overflow detected", "trigger", trigger, "queued", len(queued), "utilisation", util)
}

func utilisationOf(online []model.Worker) float64 {
	var used, total int64
	for _, w := range online {
		used += w.UsedRAM
		total += w.TotalRAM
	}
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total)
}
