package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/relayerr"
)

func newTestSharedBuckets(t *testing.T) (*SharedBuckets, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	sb, err := NewRedisBuckets(context.Background(), mr.Addr(), "", DefaultTierLimits())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sb.Close() })
	return sb, mr
}

func TestSharedBuckets_HourlyLimit(t *testing.T) {
	sb, _ := newTestSharedBuckets(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if err := sb.Allow(ctx, "u1", model.RoleFree, "api"); err != nil {
			t.Fatalf("call %d unexpectedly throttled: %v", i, err)
		}
	}
	err := sb.Allow(ctx, "u1", model.RoleFree, "api")
	if !relayerr.Is(err, relayerr.KindThrottled) {
		t.Fatalf("expected Throttled, got %v", err)
	}
}

func TestSharedBuckets_WindowReset(t *testing.T) {
	sb, mr := newTestSharedBuckets(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if err := sb.Allow(ctx, "u1", model.RoleFree, "api"); err != nil {
			t.Fatal(err)
		}
	}
	if err := sb.Allow(ctx, "u1", model.RoleFree, "api"); !relayerr.Is(err, relayerr.KindThrottled) {
		t.Fatalf("expected Throttled, got %v", err)
	}

	// The hourly window elapsing clears the counter.
	mr.FastForward(time.Hour + time.Second)
	if err := sb.Allow(ctx, "u1", model.RoleFree, "api"); err != nil {
		t.Fatalf("still throttled after window reset: %v", err)
	}
}

func TestSharedBuckets_AdminUnlimited(t *testing.T) {
	sb, _ := newTestSharedBuckets(t)
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		if err := sb.Allow(ctx, "root", model.RoleAdmin, "api"); err != nil {
			t.Fatalf("admin throttled: %v", err)
		}
	}
}
