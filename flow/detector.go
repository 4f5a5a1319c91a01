package flow

import (
	"context"
	"regexp"
	"strings"

	"github.com/hupe1980/convocore/core"
)

// IntentRule declares one recognizable intent: the kinds it applies to, the
// keywords that trigger it and the slots that must be filled before a
// handler can act on it.
type IntentRule struct {
	Name          string
	Kinds         []core.Kind
	Keywords      []string
	RequiredSlots []string
}

// RuleDetector is the built-in keyword IntentDetector. It is deliberately
// simple: the detector is a pluggable collaborator and production
// deployments usually swap in a model-backed implementation via options.
type RuleDetector struct {
	rules        []IntentRule
	slotPatterns map[string]*regexp.Regexp
}

var _ core.IntentDetector = (*RuleDetector)(nil)

// DefaultRules covers the built-in conversation kinds.
func DefaultRules() []IntentRule {
	return []IntentRule{
		{
			Name:          "book_table",
			Kinds:         []core.Kind{core.KindBooking},
			Keywords:      []string{"book", "reserve", "reservation", "table"},
			RequiredSlots: []string{"party_size", "time"},
		},
		{
			Name:     "opening_hours",
			Kinds:    []core.Kind{core.KindInquiry},
			Keywords: []string{"hours", "open", "close", "when"},
		},
		{
			Name:     "menu_inquiry",
			Kinds:    []core.Kind{core.KindInquiry},
			Keywords: []string{"menu", "price", "vegan", "vegetarian", "gluten"},
		},
		{
			Name:     "support_request",
			Kinds:    []core.Kind{core.KindSupport},
			Keywords: []string{"help", "problem", "issue", "refund", "complaint"},
		},
	}
}

func defaultSlotPatterns() map[string]*regexp.Regexp {
	return map[string]*regexp.Regexp{
		"party_size": regexp.MustCompile(`(?i)(?:for|party of|we are|we're)\s+(\d+)|\b(\d+)\s+(?:people|persons|guests)\b|^\s*(\d+)\s*$`),
		"time":       regexp.MustCompile(`(?i)\b(tonight|today|tomorrow|this evening|noon|midnight|\d{1,2}:\d{2}(?:\s*(?:am|pm))?|\d{1,2}\s*(?:am|pm))\b`),
		"date":       regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`),
	}
}

// NewRuleDetector constructs the detector with the default rules and slot
// patterns unless overridden.
func NewRuleDetector(rules ...IntentRule) *RuleDetector {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &RuleDetector{rules: rules, slotPatterns: defaultSlotPatterns()}
}

// SetSlotPattern registers or replaces the extraction pattern for a slot.
// The first non-empty capture group becomes the slot value.
func (d *RuleDetector) SetSlotPattern(slot string, pattern *regexp.Regexp) {
	d.slotPatterns[slot] = pattern
}

// Detect classifies text against the rules for the conversation kind and
// extracts any slot values found in it.
func (d *RuleDetector) Detect(_ context.Context, kind core.Kind, text string, slots map[string]any) (*core.Intent, map[string]any, error) {
	lower := strings.ToLower(text)

	extracted := map[string]any{}
	for slot, pattern := range d.slotPatterns {
		if _, have := slots[slot]; have {
			continue
		}
		if value := firstGroup(pattern, text); value != "" {
			extracted[slot] = value
		}
	}

	for _, rule := range d.rules {
		if !ruleAppliesTo(rule, kind) {
			continue
		}
		hits := 0
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		confidence := 0.6 + 0.1*float64(min(hits, 3))
		return &core.Intent{
			Name:          rule.Name,
			Confidence:    confidence,
			RequiredSlots: rule.RequiredSlots,
		}, extracted, nil
	}

	return &core.Intent{Name: "general_chat", Confidence: 0.3}, extracted, nil
}

func ruleAppliesTo(rule IntentRule, kind core.Kind) bool {
	if len(rule.Kinds) == 0 {
		return true
	}
	for _, k := range rule.Kinds {
		if k == kind || kind == core.KindGeneral {
			return true
		}
	}
	return false
}

func firstGroup(pattern *regexp.Regexp, text string) string {
	match := pattern.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	for _, group := range match[1:] {
		if group != "" {
			return strings.TrimSpace(group)
		}
	}
	return ""
}
