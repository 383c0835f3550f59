package ruleengine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/relaymesh/relayd/pkg/model"
)

// Event is the rule engine's view of one inbound platform update.
type Event struct {
	Type      string // text, photo, video, document, sticker, ...
	Text      string
	IsForward bool
	Sender    string
	MediaRefs []string
}

// DecisionKind enumerates the four evaluate outcomes.
type DecisionKind int

const (
	// DecisionForward means the message passed every gate and should be
	// dispatched with ProcessedText.
	DecisionForward DecisionKind = iota
	// DecisionFilter means a filter gate rejected the message; Reason names
	// the gate.
	DecisionFilter
	// DecisionApprove means the message passed the gates and transforms but
	// the mapping requires manual approval before dispatch.
	DecisionApprove
	// DecisionBlock means a transform stage failed; Reason carries the error.
	DecisionBlock
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionForward:
		return "forward"
	case DecisionFilter:
		return "filter"
	case DecisionApprove:
		return "approve"
	default:
		return "block"
	}
}

// Decision is the outcome of evaluating one event against one policy.
type Decision struct {
	Kind          DecisionKind
	ProcessedText string
	MediaRefs     []string
	Reason        string
}

// Fixed transform regexes for the editing toggles. URL detection doubles as
// the block_urls gate.
var (
	reURL     = regexp.MustCompile(`(?i)\b(?:https?://|www\.|t\.me/)\S+`)
	reMention = regexp.MustCompile(`@[A-Za-z0-9_]+`)
	reHashtag = regexp.MustCompile(`#[\pL\pN_]+`)
	reSender  = regexp.MustCompile(`(?mi)^(?:forwarded from|from|via)\s*:?.*$`)
	reBlank   = regexp.MustCompile(`\n{3,}`)
)

// Evaluate runs the fixed gate-and-transform sequence against an event. The
// gate order is load-bearing: type, forward, length, exclude keywords,
// include keywords, URL, then the transform chain, then the approval branch.
func Evaluate(ev Event, p *CompiledPolicy) Decision {
	if len(p.Filters.AllowedTypes) > 0 && !contains(p.Filters.AllowedTypes, ev.Type) {
		return Decision{Kind: DecisionFilter, Reason: "type"}
	}
	if ev.IsForward && p.Filters.BlockForwards {
		return Decision{Kind: DecisionFilter, Reason: "forward"}
	}

	n := len(ev.Text)
	if n < p.Filters.MinLen || (p.Filters.MaxLen > 0 && n > p.Filters.MaxLen) {
		return Decision{Kind: DecisionFilter, Reason: "length"}
	}

	matchText := ev.Text
	if !p.Filters.CaseSensitive {
		matchText = lower(ev.Text)
	}
	for _, kw := range p.excludeKw {
		if strings.Contains(matchText, kw) {
			return Decision{Kind: DecisionFilter, Reason: "exclude_kw"}
		}
	}
	if len(p.includeKw) > 0 && !matchesInclude(matchText, p.includeKw, p.Filters.KeywordMode) {
		return Decision{Kind: DecisionFilter, Reason: "include_kw"}
	}

	if p.Filters.BlockURLs && reURL.MatchString(ev.Text) {
		return Decision{Kind: DecisionFilter, Reason: "url"}
	}

	rendered, err := transform(ev, p)
	if err != nil {
		return Decision{Kind: DecisionBlock, Reason: err.Error()}
	}

	if p.Delay.RequireApproval {
		return Decision{Kind: DecisionApprove, ProcessedText: rendered, MediaRefs: ev.MediaRefs}
	}
	return Decision{Kind: DecisionForward, ProcessedText: rendered, MediaRefs: ev.MediaRefs}
}

// transform applies the fixed transform chain: regex rules (user-global
// first, then mapping-scoped, order_index ascending), then the editing
// toggles, then header/footer. Each stage's output feeds the next. Stages
// never panic; a rule application that fails short-circuits to an error the
// caller converts to Block.
func transform(ev Event, p *CompiledPolicy) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform stage panicked: %v", r)
		}
	}()

	text := ev.Text
	for _, rule := range p.rules {
		text = applyRule(text, rule)
	}

	if p.Editing.RemoveSender {
		text = reSender.ReplaceAllString(text, "")
	}
	if p.Editing.RemoveMentions {
		text = reMention.ReplaceAllString(text, "")
	}
	if p.Editing.RemoveURLs {
		text = reURL.ReplaceAllString(text, "")
	}
	if p.Editing.RemoveHashtags {
		text = reHashtag.ReplaceAllString(text, "")
	}
	if !p.Editing.PreserveFormatting {
		text = reBlank.ReplaceAllString(text, "\n\n")
		text = strings.TrimSpace(text)
	}

	if p.Editing.Header != nil && *p.Editing.Header != "" {
		text = *p.Editing.Header + "\n" + text
	}
	if p.Editing.Footer != nil && *p.Editing.Footer != "" {
		text = text + "\n" + *p.Editing.Footer
	}
	return text, nil
}

func applyRule(text string, r compiledRule) string {
	switch r.kind {
	case model.RegexRemove:
		return r.re.ReplaceAllString(text, "")
	case model.RegexExtract:
		matches := r.re.FindAllStringSubmatch(text, -1)
		if matches == nil {
			return text
		}
		var b strings.Builder
		for _, m := range matches {
			if len(m) > 1 {
				for _, group := range m[1:] {
					b.WriteString(group)
				}
			} else {
				b.WriteString(m[0])
			}
		}
		return b.String()
	default: // find_replace, conditional_replace
		return r.re.ReplaceAllString(text, r.replacement)
	}
}

func matchesInclude(text string, kws []string, mode model.KeywordMode) bool {
	if mode == model.KeywordAll {
		for _, kw := range kws {
			if !strings.Contains(text, kw) {
				return false
			}
		}
		return true
	}
	for _, kw := range kws {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func lower(s string) string { return strings.ToLower(s) }
