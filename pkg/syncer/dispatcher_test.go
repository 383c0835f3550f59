package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/worker"
)

// Rapid edits for the same forwarded message within the coalescing window
// must collapse to the latest payload, one timer, one eventual send.
func TestEnqueueEdit_CoalescesToLatest(t *testing.T) {
	d := New(nil, nil, DefaultConfig(), nil)
	ctx := context.Background()

	fwd := int64(500)
	tracker := model.MessageTracker{ID: "t1", ForwardedMsgID: &fwd, DestinationChatID: 99}
	w := model.Worker{ID: "w1"}

	// A long window keeps the timer from firing during the test.
	d.EnqueueEdit(ctx, tracker, w, worker.Payload{Text: "first"}, time.Hour)
	d.EnqueueEdit(ctx, tracker, w, worker.Payload{Text: "second"}, time.Hour)
	d.EnqueueEdit(ctx, tracker, w, worker.Payload{Text: "third"}, time.Hour)

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.edits) != 1 {
		t.Fatalf("pending edits = %d, want 1", len(d.edits))
	}
	if got := d.edits["t1"].payload.Text; got != "third" {
		t.Errorf("coalesced payload = %q, want %q", got, "third")
	}
}

func TestEnqueueEdit_SeparateTrackersDoNotCoalesce(t *testing.T) {
	d := New(nil, nil, DefaultConfig(), nil)
	ctx := context.Background()

	fwd := int64(500)
	w := model.Worker{ID: "w1"}
	d.EnqueueEdit(ctx, model.MessageTracker{ID: "t1", ForwardedMsgID: &fwd}, w, worker.Payload{Text: "a"}, time.Hour)
	d.EnqueueEdit(ctx, model.MessageTracker{ID: "t2", ForwardedMsgID: &fwd}, w, worker.Payload{Text: "b"}, time.Hour)

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.edits) != 2 {
		t.Fatalf("pending edits = %d, want 2", len(d.edits))
	}
}
