package router

import (
	"sort"
	"strings"

	"github.com/LeeJc02/ShopMate/pkg/config"
)

// RuleSet contains the compiled trigger rules for pattern matching.
type RuleSet struct {
	// Ordered by priority (longer triggers first for specificity)
	rules []compiledRule
}

type compiledRule struct {
	route   string
	trigger string
	raw     string
}

// NewRuleSet creates a new rule set from routing configuration.
func NewRuleSet(cfg *config.RoutingConfig) *RuleSet {
	rs := &RuleSet{}
	if cfg == nil {
		return rs
	}
	for name, spec := range cfg.Routes {
		for _, trigger := range spec.Triggers {
			t := strings.ToLower(strings.TrimSpace(trigger))
			if t == "" {
				continue
			}
			rs.rules = append(rs.rules, compiledRule{route: name, trigger: t, raw: trigger})
		}
	}
	sort.SliceStable(rs.rules, func(i, j int) bool {
		if len(rs.rules[i].trigger) == len(rs.rules[j].trigger) {
			if rs.rules[i].route == rs.rules[j].route {
				return rs.rules[i].trigger < rs.rules[j].trigger
			}
			return rs.rules[i].route < rs.rules[j].route
		}
		return len(rs.rules[i].trigger) > len(rs.rules[j].trigger)
	})
	return rs
}

// Match returns the route of the most specific trigger found in prompt.
func (rs *RuleSet) Match(prompt string) (route string, trigger string, ok bool) {
	promptLower := strings.ToLower(prompt)
	for _, rule := range rs.rules {
		if containsTrigger(promptLower, rule.trigger) {
			return rule.route, rule.raw, true
		}
	}
	return "", "", false
}

// Score returns every matched trigger grouped by route.
func (rs *RuleSet) Score(prompt string) map[string][]string {
	promptLower := strings.ToLower(prompt)
	out := make(map[string][]string)
	for _, rule := range rs.rules {
		if containsTrigger(promptLower, rule.trigger) {
			out[rule.route] = append(out[rule.route], rule.raw)
		}
	}
	return out
}

// containsTrigger checks if the prompt contains the trigger phrase at a word
// boundary. Every occurrence is tried, so "reorder my order" still matches
// "order". Non-ASCII neighbours never count as word characters, which lets
// CJK triggers match inside unsegmented text.
func containsTrigger(prompt, trigger string) bool {
	offset := 0
	for {
		idx := strings.Index(prompt[offset:], trigger)
		if idx == -1 {
			return false
		}
		start := offset + idx
		end := start + len(trigger)

		boundaryBefore := start == 0 || !isWordChar(prompt[start-1])
		boundaryAfter := end >= len(prompt) || !isWordChar(prompt[end])
		if boundaryBefore && boundaryAfter {
			return true
		}
		offset = start + 1
		if offset >= len(prompt) {
			return false
		}
	}
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
