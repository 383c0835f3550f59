package scheduler

import (
	"sort"

	"github.com/relaymesh/relayd/pkg/model"
)

const premiumFreeSlotThreshold = 5

// isPremium reports whether a role gets the premium placement bias.
func isPremium(role model.Role) bool {
	return role == model.RolePro || role == model.RoleElite || role == model.RoleAdmin
}

// place implements the placement rule: sort candidates ascending by
// load_score; a premium user gets the head (least-loaded); a free user
// gets the first candidate with more than 5 available slots, falling back
// to the head if none qualifies. This is deliberately observable: given an
// identical fleet, premium arrivals get the least-loaded worker while free
// arrivals avoid workers near saturation, preserving headroom for premium
// arrivals that may come later.
func place(candidates []model.Worker, role model.Role) (model.Worker, bool) {
	if len(candidates) == 0 {
		return model.Worker{}, false
	}
	sorted := make([]model.Worker, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LoadScore < sorted[j].LoadScore })

	if isPremium(role) {
		return sorted[0], true
	}
	for _, w := range sorted {
		if w.AvailableSlots() > premiumFreeSlotThreshold {
			return w, true
		}
	}
	return sorted[0], true
}
