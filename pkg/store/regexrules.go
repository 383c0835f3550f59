package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// ListRegexRulesByMapping returns the rules scoped to a single mapping, in
// the fixed evaluation order the pipeline applies them.
func (s *Store) ListRegexRulesByMapping(ctx context.Context, q Querier, mappingID string) ([]model.RegexRule, error) {
	var out []model.RegexRule
	err := q.SelectContext(ctx, &out, `
		SELECT * FROM regex_rules WHERE mapping_id = $1 AND active = true ORDER BY order_index`, mappingID)
	return out, classify(err)
}

// ListRegexRulesByUser returns every rule a user has authored, scoped and
// unscoped, for the rule-management surface.
func (s *Store) ListRegexRulesByUser(ctx context.Context, q Querier, userID string) ([]model.RegexRule, error) {
	var out []model.RegexRule
	err := q.SelectContext(ctx, &out, `SELECT * FROM regex_rules WHERE user_id = $1 ORDER BY order_index`, userID)
	return out, classify(err)
}

// GetRegexRule fetches a rule by id.
func (s *Store) GetRegexRule(ctx context.Context, q Querier, id string) (model.RegexRule, error) {
	var r model.RegexRule
	err := q.GetContext(ctx, &r, `SELECT * FROM regex_rules WHERE id = $1`, id)
	return r, classify(err)
}

// PutRegexRule creates a new transform rule.
func (s *Store) PutRegexRule(ctx context.Context, q Querier, r model.RegexRule) (model.RegexRule, error) {
	const query = `
		INSERT INTO regex_rules (user_id, mapping_id, name, pattern, replacement, kind, order_index, case_sensitive, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *`
	var out model.RegexRule
	err := q.GetContext(ctx, &out, query,
		r.UserID, r.MappingID, r.Name, r.Pattern, r.Replacement, r.Kind, r.OrderIndex, r.CaseSensitive, r.Active)
	return out, classify(err)
}

// UpdateRegexRuleWith loads a rule FOR UPDATE, applies fn, and writes it
// back.
func (s *Store) UpdateRegexRuleWith(ctx context.Context, q Querier, id string, fn func(*model.RegexRule) error) (model.RegexRule, error) {
	var r model.RegexRule
	if err := q.GetContext(ctx, &r, `SELECT * FROM regex_rules WHERE id = $1 FOR UPDATE`, id); err != nil {
		return model.RegexRule{}, classify(err)
	}
	if err := fn(&r); err != nil {
		return model.RegexRule{}, err
	}
	const query = `
		UPDATE regex_rules SET
			name = $2, pattern = $3, replacement = $4, kind = $5, order_index = $6,
			case_sensitive = $7, active = $8
		WHERE id = $1
		RETURNING *`
	var out model.RegexRule
	err := q.GetContext(ctx, &out, query,
		r.ID, r.Name, r.Pattern, r.Replacement, r.Kind, r.OrderIndex, r.CaseSensitive, r.Active)
	return out, classify(err)
}

// SetRegexRuleActive toggles a rule's active flag.
func (s *Store) SetRegexRuleActive(ctx context.Context, q Querier, id string, active bool) error {
	_, err := q.ExecContext(ctx, `UPDATE regex_rules SET active = $2 WHERE id = $1`, id, active)
	return classify(err)
}

// DeleteRegexRule removes a rule.
func (s *Store) DeleteRegexRule(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM regex_rules WHERE id = $1`, id)
	return classify(err)
}
