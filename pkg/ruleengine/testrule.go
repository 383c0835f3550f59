package ruleengine

import (
	"regexp"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/relayerr"
)

// TestResult is what the rule test endpoint returns for a dry run of one
// rule against sample text.
type TestResult struct {
	Original    string   `json:"original"`
	Transformed string   `json:"transformed"`
	Matches     []string `json:"matches"`
}

// TestRule applies a single rule to sample text without touching any
// mapping, for the regex_rules test(text) admin operation.
func TestRule(r model.RegexRule, text string) (TestResult, error) {
	pattern := r.Pattern
	if !r.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return TestResult{}, relayerr.Wrap(relayerr.KindInputInvalid, err, "pattern does not compile")
	}

	var repl string
	if r.Replacement != nil {
		repl = *r.Replacement
	}
	cr := compiledRule{name: r.Name, kind: r.Kind, re: re, replacement: repl}

	return TestResult{
		Original:    text,
		Transformed: applyRule(text, cr),
		Matches:     re.FindAllString(text, -1),
	}, nil
}
