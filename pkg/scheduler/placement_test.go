package scheduler

import (
	"testing"

	"github.com/relaymesh/relayd/pkg/model"
)

func worker(id string, loadScore, maxSessions, activeSessions int) model.Worker {
	return model.Worker{
		ID:             id,
		WorkerID:       id,
		Status:         model.WorkerOnline,
		LoadScore:      loadScore,
		MaxSessions:    maxSessions,
		ActiveSessions: activeSessions,
		TotalRAM:       16 << 30,
		UsedRAM:        1 << 30,
		RAMThreshold:   14 << 30,
	}
}

// Free user with fleet headroom: least-loaded worker wins because it has
// more than 5 available slots.
func TestPlace_FreeUserWithHeadroom(t *testing.T) {
	candidates := []model.Worker{
		worker("w1", 10, 10, 2), // 8 slots
		worker("w2", 20, 10, 1), // 9 slots
		worker("w3", 30, 10, 0), // 10 slots
	}
	w, ok := place(candidates, model.RoleFree)
	if !ok {
		t.Fatal("expected a placement")
	}
	if w.ID != "w1" {
		t.Errorf("placed on %s, want w1", w.ID)
	}
}

// Premium bias: a pro user takes the least-loaded worker regardless of slot
// count; a free user then avoids it because it is near saturation.
func TestPlace_PremiumBias(t *testing.T) {
	candidates := []model.Worker{
		worker("w1", 10, 10, 7), // 3 slots
		worker("w2", 40, 12, 2), // 10 slots
	}

	w, ok := place(candidates, model.RolePro)
	if !ok || w.ID != "w1" {
		t.Fatalf("pro placed on %v, want w1", w.ID)
	}

	w, ok = place(candidates, model.RoleFree)
	if !ok || w.ID != "w2" {
		t.Fatalf("free placed on %v, want w2", w.ID)
	}
}

// When no candidate clears the slot threshold, the free user falls back to
// the least-loaded head.
func TestPlace_FreeUserFallsBackToHead(t *testing.T) {
	candidates := []model.Worker{
		worker("w1", 50, 6, 3), // 3 slots
		worker("w2", 60, 6, 2), // 4 slots
	}
	w, ok := place(candidates, model.RoleFree)
	if !ok || w.ID != "w1" {
		t.Fatalf("placed on %v, want w1", w.ID)
	}
}

func TestPlace_NoCandidates(t *testing.T) {
	if _, ok := place(nil, model.RoleElite); ok {
		t.Fatal("expected no placement from an empty candidate set")
	}
}

// The sort must be stable so equal load scores keep their store order
// (ascending by the workers-by-status query's load_score ordering).
func TestPlace_StableOnTies(t *testing.T) {
	candidates := []model.Worker{
		worker("w1", 25, 10, 0),
		worker("w2", 25, 10, 0),
	}
	w, _ := place(candidates, model.RoleAdmin)
	if w.ID != "w1" {
		t.Errorf("placed on %s, want w1 (stable head)", w.ID)
	}
}
