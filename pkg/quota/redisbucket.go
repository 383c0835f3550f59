package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/relayerr"
)

// SharedBuckets replicates the per-(user, activity) rate-limit windows
// across controller replicas through Redis. In-process token buckets stop
// being accurate as soon as a second replica serves the same user; the
// Redis counters give every replica the same view at the cost of a network
// round trip per check.
type SharedBuckets struct {
	client *redis.Client
	limits map[model.Role]TierLimits
}

// NewRedisBuckets connects to Redis and returns a SharedBuckets.
func NewRedisBuckets(ctx context.Context, addr, password string, limits map[model.Role]TierLimits) (*SharedBuckets, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &SharedBuckets{client: client, limits: limits}, nil
}

// Allow checks and consumes one unit from both the hourly and the daily
// window. Windows are fixed (INCR + EXPIRE on first hit), so the retry-after
// hint is the window's remaining TTL.
func (s *SharedBuckets) Allow(ctx context.Context, userID string, tier model.Role, activity string) error {
	limits := s.limits[tier]
	if limits.HourlyAPI == Unlimited && limits.DailyAPI == Unlimited {
		return nil
	}

	if limits.HourlyAPI != Unlimited {
		if err := s.consume(ctx, key(userID, activity, "h"), limits.HourlyAPI, time.Hour); err != nil {
			return err
		}
	}
	if limits.DailyAPI != Unlimited {
		if err := s.consume(ctx, key(userID, activity, "d"), limits.DailyAPI, 24*time.Hour); err != nil {
			return err
		}
	}
	return nil
}

func (s *SharedBuckets) consume(ctx context.Context, k string, limit int, window time.Duration) error {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open on Redis trouble: rate limiting is protective, not
		// correctness-critical, and a Redis outage must not take admission
		// down with it.
		return nil
	}
	if incr.Val() <= int64(limit) {
		return nil
	}

	ttl, err := s.client.TTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return relayerr.New(relayerr.KindThrottled, fmt.Sprintf("rate limited, retry after %s", ttl)).
		WithDetails(map[string]any{"retry_after_s": ttl.Seconds()})
}

// Close releases the Redis connection.
func (s *SharedBuckets) Close() error { return s.client.Close() }

func key(userID, activity, window string) string {
	return "relayd:rl:" + userID + ":" + activity + ":" + window
}
