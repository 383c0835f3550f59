package quota

import (
	"testing"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/relayerr"
)

func TestBucketRegistry_AllowWithinBurst(t *testing.T) {
	reg := newBucketRegistry(DefaultTierLimits())
	for i := 0; i < 100; i++ {
		if err := reg.allow("u1", model.RoleFree, "api"); err != nil {
			t.Fatalf("call %d unexpectedly throttled: %v", i, err)
		}
	}
	// The 101st call exceeds the free tier's hourly burst of 100.
	err := reg.allow("u1", model.RoleFree, "api")
	if !relayerr.Is(err, relayerr.KindThrottled) {
		t.Fatalf("expected Throttled, got %v", err)
	}
	var re *relayerr.Error
	if !asRelayErr(err, &re) || re.Details["retry_after_s"] == nil {
		t.Errorf("throttle error missing retry_after_s details: %v", err)
	}
}

func TestBucketRegistry_AdminUnlimited(t *testing.T) {
	reg := newBucketRegistry(DefaultTierLimits())
	for i := 0; i < 10_000; i++ {
		if err := reg.allow("root", model.RoleAdmin, "api"); err != nil {
			t.Fatalf("admin throttled on call %d: %v", i, err)
		}
	}
}

func TestBucketRegistry_ActivitiesAreIndependent(t *testing.T) {
	reg := newBucketRegistry(DefaultTierLimits())
	for i := 0; i < 100; i++ {
		if err := reg.allow("u1", model.RoleFree, "assign"); err != nil {
			t.Fatal(err)
		}
	}
	// Exhausting "assign" must not throttle "export".
	if err := reg.allow("u1", model.RoleFree, "export"); err != nil {
		t.Fatalf("independent activity throttled: %v", err)
	}
}

func TestBucketRegistry_UsersAreIndependent(t *testing.T) {
	reg := newBucketRegistry(DefaultTierLimits())
	for i := 0; i < 100; i++ {
		if err := reg.allow("u1", model.RoleFree, "api"); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.allow("u2", model.RoleFree, "api"); err != nil {
		t.Fatalf("second user throttled by first user's usage: %v", err)
	}
}

func asRelayErr(err error, target **relayerr.Error) bool {
	e, ok := err.(*relayerr.Error)
	if ok {
		*target = e
	}
	return ok
}
