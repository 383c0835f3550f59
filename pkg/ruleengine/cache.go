package ruleengine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/store"
)

// Cache hands out compiled policies keyed by (mapping_id, version),
// recompiling only when a mapping's version moves. Unscoped (user-global)
// rule changes don't bump any mapping version, so the rule-management
// handlers call InvalidateUser after mutating them.
type Cache struct {
	store *store.Store
	log   *slog.Logger

	mu       sync.RWMutex
	policies map[string]*CompiledPolicy // mapping_id → latest compiled
	owners   map[string][]string        // user_id → mapping_ids with cached policies
}

// NewCache builds a policy cache over the store.
func NewCache(st *store.Store, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		store:    st,
		log:      log,
		policies: make(map[string]*CompiledPolicy),
		owners:   make(map[string][]string),
	}
}

// PolicyFor returns the compiled policy for a mapping, compiling it on a
// version miss. The mapping row is the caller's already-loaded copy so the
// hot path does not re-read it.
func (c *Cache) PolicyFor(ctx context.Context, m model.Mapping) (*CompiledPolicy, error) {
	c.mu.RLock()
	p, ok := c.policies[m.ID]
	c.mu.RUnlock()
	if ok && p.Version == m.Version {
		return p, nil
	}

	userRules, err := c.userGlobalRules(ctx, m.UserID)
	if err != nil {
		return nil, err
	}
	mappingRules, err := c.store.ListRegexRulesByMapping(ctx, c.store.Q(), m.ID)
	if err != nil {
		return nil, err
	}

	p = Compile(m, userRules, mappingRules, c.log)

	c.mu.Lock()
	if _, cached := c.policies[m.ID]; !cached {
		c.owners[m.UserID] = append(c.owners[m.UserID], m.ID)
	}
	c.policies[m.ID] = p
	c.mu.Unlock()
	return p, nil
}

// userGlobalRules filters a user's rules down to the unscoped ones, which
// apply to all of the user's mappings ahead of mapping-scoped rules.
func (c *Cache) userGlobalRules(ctx context.Context, userID string) ([]model.RegexRule, error) {
	all, err := c.store.ListRegexRulesByUser(ctx, c.store.Q(), userID)
	if err != nil {
		return nil, err
	}
	var out []model.RegexRule
	for _, r := range all {
		if r.MappingID == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// Invalidate drops the cached policy for one mapping (mapping-scoped rule
// change; the mapping row itself carries a version so edits to the mapping
// invalidate implicitly).
func (c *Cache) Invalidate(mappingID string) {
	c.mu.Lock()
	delete(c.policies, mappingID)
	c.mu.Unlock()
}

// InvalidateUser drops every cached policy owned by a user, called when an
// unscoped rule is created, edited, or deleted.
func (c *Cache) InvalidateUser(userID string) {
	c.mu.Lock()
	for _, id := range c.owners[userID] {
		delete(c.policies, id)
	}
	delete(c.owners, userID)
	c.mu.Unlock()
}
