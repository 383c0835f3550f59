package quota

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/relayerr"
)

// pairKey identifies one (user, activity) rate-limited resource.
type pairKey struct {
	userID   string
	activity string
}

// tokenPair is the hourly/daily token-bucket pair for one (user,
// activity). rate.Limiter already implements the linear-refill token
// bucket, so there is no hand-rolled counter here.
type tokenPair struct {
	hourly *rate.Limiter
	daily  *rate.Limiter
}

// bucketRegistry lazily creates one tokenPair per (user, activity), sized
// from the user's plan tier.
type bucketRegistry struct {
	mu      sync.Mutex
	buckets map[pairKey]*tokenPair
	limits  map[model.Role]TierLimits
}

func newBucketRegistry(limits map[model.Role]TierLimits) *bucketRegistry {
	return &bucketRegistry{buckets: make(map[pairKey]*tokenPair), limits: limits}
}

func (r *bucketRegistry) allow(userID string, tier model.Role, activity string) error {
	limits := r.limits[tier]
	if limits.HourlyAPI == Unlimited && limits.DailyAPI == Unlimited {
		return nil
	}

	key := pairKey{userID: userID, activity: activity}
	r.mu.Lock()
	tp, ok := r.buckets[key]
	if !ok {
		tp = newTokenPair(limits)
		r.buckets[key] = tp
	}
	r.mu.Unlock()

	now := time.Now()
	if limits.HourlyAPI != Unlimited && !tp.hourly.AllowN(now, 1) {
		return throttled(tp.hourly.Reserve().Delay())
	}
	if limits.DailyAPI != Unlimited && !tp.daily.AllowN(now, 1) {
		return throttled(tp.daily.Reserve().Delay())
	}
	return nil
}

func newTokenPair(limits TierLimits) *tokenPair {
	hourlyRate := rate.Limit(float64(limits.HourlyAPI) / 3600.0)
	dailyRate := rate.Limit(float64(limits.DailyAPI) / 86400.0)
	if limits.HourlyAPI == Unlimited {
		hourlyRate = rate.Inf
	}
	if limits.DailyAPI == Unlimited {
		dailyRate = rate.Inf
	}
	return &tokenPair{
		hourly: rate.NewLimiter(hourlyRate, max(limits.HourlyAPI, 1)),
		daily:  rate.NewLimiter(dailyRate, max(limits.DailyAPI, 1)),
	}
}

func throttled(retryAfter time.Duration) error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return relayerr.New(relayerr.KindThrottled, fmt.Sprintf("rate limited, retry after %s", retryAfter)).
		WithDetails(map[string]any{"retry_after_s": retryAfter.Seconds()})
}
