// Package ruleengine compiles a mapping's filters, transforms, and regex
// rules into an immutable CompiledPolicy and evaluates inbound events
// against it (C5). Policies are pure and deterministic: identical inputs
// always produce identical decisions.
package ruleengine

import (
	"log/slog"
	"regexp"

	"github.com/relaymesh/relayd/pkg/model"
)

// compiledRule is one regex rule with its pattern pre-compiled.
type compiledRule struct {
	name        string
	kind        model.RegexRuleKind
	re          *regexp.Regexp
	replacement string
}

// CompiledPolicy is the immutable compiled form of a mapping's filters,
// transforms, sync flags, and delay settings. Built once per mapping change
// and shared by every pipeline task evaluating that mapping.
type CompiledPolicy struct {
	MappingID string
	Version   int

	Filters model.Filters
	Editing model.Editing
	Sync    model.Sync
	Delay   model.Delay

	// rules holds user-global rules first, then mapping-scoped rules, each
	// group ordered by order_index ascending — the fixed application order.
	rules []compiledRule

	// Keyword lists pre-lowercased when the match is case-insensitive.
	includeKw []string
	excludeKw []string
}

// Compile builds a CompiledPolicy from a mapping and its applicable regex
// rules. userRules are the owner's unscoped rules; mappingRules are scoped to
// this mapping. A rule whose pattern fails to compile is skipped and logged,
// never fatal.
func Compile(m model.Mapping, userRules, mappingRules []model.RegexRule, log *slog.Logger) *CompiledPolicy {
	if log == nil {
		log = slog.Default()
	}

	p := &CompiledPolicy{
		MappingID: m.ID,
		Version:   m.Version,
		Filters:   m.Filters,
		Editing:   m.Editing,
		Sync:      m.Sync,
		Delay:     m.Delay,
	}

	for _, group := range [][]model.RegexRule{userRules, mappingRules} {
		for _, r := range group {
			if !r.Active {
				continue
			}
			pattern := r.Pattern
			if !r.CaseSensitive {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				log.Warn("regex rule failed to compile, skipping",
					"rule_id", r.ID, "rule_name", r.Name, "error", err)
				continue
			}
			var repl string
			if r.Replacement != nil {
				repl = *r.Replacement
			}
			p.rules = append(p.rules, compiledRule{name: r.Name, kind: r.Kind, re: re, replacement: repl})
		}
	}

	p.includeKw = normalizeKeywords(m.Filters.IncludeKeywords, m.Filters.CaseSensitive)
	p.excludeKw = normalizeKeywords(m.Filters.ExcludeKeywords, m.Filters.CaseSensitive)
	return p
}

func normalizeKeywords(kws []string, caseSensitive bool) []string {
	if caseSensitive {
		return kws
	}
	out := make([]string, len(kws))
	for i, kw := range kws {
		out[i] = lower(kw)
	}
	return out
}
