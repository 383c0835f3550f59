package ruleengine

import (
	"reflect"
	"testing"

	"github.com/relaymesh/relayd/pkg/model"
)

func strPtr(s string) *string { return &s }

func compileMapping(t *testing.T, m model.Mapping, rules ...model.RegexRule) *CompiledPolicy {
	t.Helper()
	var userRules, mappingRules []model.RegexRule
	for _, r := range rules {
		if r.MappingID == nil {
			userRules = append(userRules, r)
		} else {
			mappingRules = append(mappingRules, r)
		}
	}
	return Compile(m, userRules, mappingRules, nil)
}

func TestEvaluate_FilterGates(t *testing.T) {
	tests := []struct {
		name       string
		filters    model.Filters
		event      Event
		wantKind   DecisionKind
		wantReason string
	}{
		{
			name:       "type gate rejects disallowed type",
			filters:    model.Filters{AllowedTypes: []string{"text", "photo"}},
			event:      Event{Type: "sticker", Text: "hello"},
			wantKind:   DecisionFilter,
			wantReason: "type",
		},
		{
			name:     "empty allowed types admits everything",
			filters:  model.Filters{},
			event:    Event{Type: "sticker", Text: "hello"},
			wantKind: DecisionForward,
		},
		{
			name:       "forward gate",
			filters:    model.Filters{BlockForwards: true},
			event:      Event{Type: "text", Text: "hello", IsForward: true},
			wantKind:   DecisionFilter,
			wantReason: "forward",
		},
		{
			name:       "min length gate",
			filters:    model.Filters{MinLen: 10},
			event:      Event{Type: "text", Text: "short"},
			wantKind:   DecisionFilter,
			wantReason: "length",
		},
		{
			name:       "max length gate",
			filters:    model.Filters{MaxLen: 3},
			event:      Event{Type: "text", Text: "too long"},
			wantKind:   DecisionFilter,
			wantReason: "length",
		},
		{
			name:       "exclude keyword wins over include",
			filters:    model.Filters{IncludeKeywords: []string{"deal"}, ExcludeKeywords: []string{"scam"}},
			event:      Event{Type: "text", Text: "great deal, not a scam"},
			wantKind:   DecisionFilter,
			wantReason: "exclude_kw",
		},
		{
			name:       "include any mode misses",
			filters:    model.Filters{IncludeKeywords: []string{"btc", "eth"}, KeywordMode: model.KeywordAny},
			event:      Event{Type: "text", Text: "nothing relevant"},
			wantKind:   DecisionFilter,
			wantReason: "include_kw",
		},
		{
			name:     "include any mode hits on one",
			filters:  model.Filters{IncludeKeywords: []string{"btc", "eth"}, KeywordMode: model.KeywordAny},
			event:    Event{Type: "text", Text: "BTC to the moon"},
			wantKind: DecisionForward,
		},
		{
			name:       "include all mode needs every keyword",
			filters:    model.Filters{IncludeKeywords: []string{"btc", "eth"}, KeywordMode: model.KeywordAll},
			event:      Event{Type: "text", Text: "btc only"},
			wantKind:   DecisionFilter,
			wantReason: "include_kw",
		},
		{
			name:       "case sensitive keyword match",
			filters:    model.Filters{IncludeKeywords: []string{"BTC"}, KeywordMode: model.KeywordAny, CaseSensitive: true},
			event:      Event{Type: "text", Text: "btc lowercase"},
			wantKind:   DecisionFilter,
			wantReason: "include_kw",
		},
		{
			name:       "url gate",
			filters:    model.Filters{BlockURLs: true},
			event:      Event{Type: "text", Text: "join https://example.com/x now"},
			wantKind:   DecisionFilter,
			wantReason: "url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := compileMapping(t, model.Mapping{Filters: tt.filters})
			d := Evaluate(tt.event, p)
			if d.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v (reason %q)", d.Kind, tt.wantKind, d.Reason)
			}
			if tt.wantReason != "" && d.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluate_Transforms(t *testing.T) {
	tests := []struct {
		name    string
		mapping model.Mapping
		rules   []model.RegexRule
		text    string
		want    string
	}{
		{
			name: "find_replace substitutes",
			rules: []model.RegexRule{
				{Active: true, Kind: model.RegexFindReplace, Pattern: `foo`, Replacement: strPtr("bar"), MappingID: strPtr("m")},
			},
			text: "foo and foo",
			want: "bar and bar",
		},
		{
			name: "remove deletes matches",
			rules: []model.RegexRule{
				{Active: true, Kind: model.RegexRemove, Pattern: `\s*\[ad\]`, MappingID: strPtr("m")},
			},
			text: "price update [ad]",
			want: "price update",
		},
		{
			name: "extract keeps only captures",
			rules: []model.RegexRule{
				{Active: true, Kind: model.RegexExtract, Pattern: `price: (\d+)`, MappingID: strPtr("m")},
			},
			text: "price: 42 and price: 7",
			want: "427",
		},
		{
			name: "user-global rule runs before mapping rule",
			rules: []model.RegexRule{
				{Active: true, Kind: model.RegexFindReplace, Pattern: `b`, Replacement: strPtr("c"), MappingID: strPtr("m"), OrderIndex: 0},
				{Active: true, Kind: model.RegexFindReplace, Pattern: `a`, Replacement: strPtr("b")}, // unscoped
			},
			text: "a",
			want: "c",
		},
		{
			name: "bad pattern is skipped, rest still applies",
			rules: []model.RegexRule{
				{Active: true, Kind: model.RegexFindReplace, Pattern: `([`, Replacement: strPtr("x"), MappingID: strPtr("m")},
				{Active: true, Kind: model.RegexFindReplace, Pattern: `ok`, Replacement: strPtr("fine"), MappingID: strPtr("m"), OrderIndex: 1},
			},
			text: "ok",
			want: "fine",
		},
		{
			name:    "mention and hashtag removal",
			mapping: model.Mapping{Editing: model.Editing{RemoveMentions: true, RemoveHashtags: true, PreserveFormatting: true}},
			text:    "news from @channel about #crypto today",
			want:    "news from  about  today",
		},
		{
			name:    "url removal toggle",
			mapping: model.Mapping{Editing: model.Editing{RemoveURLs: true, PreserveFormatting: true}},
			text:    "read https://example.com now",
			want:    "read  now",
		},
		{
			name:    "header and footer wrap the body",
			mapping: model.Mapping{Editing: model.Editing{Header: strPtr("== news =="), Footer: strPtr("-- relayd"), PreserveFormatting: true}},
			text:    "body",
			want:    "== news ==\nbody\n-- relayd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mapping.Editing.PreserveFormatting = true
			p := compileMapping(t, tt.mapping, tt.rules...)
			d := Evaluate(Event{Type: "text", Text: tt.text}, p)
			if d.Kind != DecisionForward {
				t.Fatalf("Kind = %v, want forward (reason %q)", d.Kind, d.Reason)
			}
			if d.ProcessedText != tt.want {
				t.Errorf("ProcessedText = %q, want %q", d.ProcessedText, tt.want)
			}
		})
	}
}

func TestEvaluate_ApprovalBranch(t *testing.T) {
	m := model.Mapping{Delay: model.Delay{Enabled: true, RequireApproval: true}}
	p := compileMapping(t, m)
	d := Evaluate(Event{Type: "text", Text: "needs review"}, p)
	if d.Kind != DecisionApprove {
		t.Fatalf("Kind = %v, want approve", d.Kind)
	}
	if d.ProcessedText != "needs review" {
		t.Errorf("ProcessedText = %q", d.ProcessedText)
	}
}

// Evaluating the same (event, policy) twice yields identical decisions.
func TestEvaluate_Deterministic(t *testing.T) {
	m := model.Mapping{
		Filters: model.Filters{IncludeKeywords: []string{"x"}, KeywordMode: model.KeywordAny},
		Editing: model.Editing{Header: strPtr("h"), RemoveHashtags: true},
	}
	rules := []model.RegexRule{
		{Active: true, Kind: model.RegexFindReplace, Pattern: `x+`, Replacement: strPtr("y"), MappingID: strPtr("m")},
	}
	p := compileMapping(t, m, rules...)
	ev := Event{Type: "text", Text: "xxx #tag"}

	first := Evaluate(ev, p)
	second := Evaluate(ev, p)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("decisions differ: %+v vs %+v", first, second)
	}
}

func TestTestRule(t *testing.T) {
	res, err := TestRule(model.RegexRule{
		Kind: model.RegexFindReplace, Pattern: `\d+`, Replacement: strPtr("N"),
	}, "call 555 or 123")
	if err != nil {
		t.Fatal(err)
	}
	if res.Transformed != "call N or N" {
		t.Errorf("Transformed = %q", res.Transformed)
	}
	if !reflect.DeepEqual(res.Matches, []string{"555", "123"}) {
		t.Errorf("Matches = %v", res.Matches)
	}

	if _, err := TestRule(model.RegexRule{Pattern: `([`}, "x"); err == nil {
		t.Fatal("expected compile error")
	}
}
