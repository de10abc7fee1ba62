package classify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleSet holds the keyword tables driving priority classification.
// Matching is case-insensitive substring matching against the message
// content; the three sets are checked in urgent > high > low order.
type RuleSet struct {
	UrgentKeywords       []string `yaml:"urgentKeywords"`
	HighPriorityKeywords []string `yaml:"highPriorityKeywords"`
	LowPriorityKeywords  []string `yaml:"lowPriorityKeywords"`
}

// DefaultRules returns the built-in keyword tables.
func DefaultRules() RuleSet {
	return RuleSet{
		UrgentKeywords: []string{
			"urgent", "asap", "emergency", "critical", "immediate",
			"help", "problem", "issue", "error", "failure", "down",
		},
		HighPriorityKeywords: []string{
			"important", "priority", "deadline", "meeting", "call",
			"interview", "review", "approval", "payment", "invoice",
		},
		LowPriorityKeywords: []string{
			"fyi", "heads up", "update", "newsletter", "notification",
			"reminder", "weekly", "monthly", "digest",
		},
	}
}

// LoadRules reads a RuleSet from a YAML file. Sections left empty in the
// file fall back to the defaults.
func LoadRules(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rules file %s: %w", path, err)
	}

	var rules RuleSet
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return RuleSet{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	defaults := DefaultRules()
	if len(rules.UrgentKeywords) == 0 {
		rules.UrgentKeywords = defaults.UrgentKeywords
	}
	if len(rules.HighPriorityKeywords) == 0 {
		rules.HighPriorityKeywords = defaults.HighPriorityKeywords
	}
	if len(rules.LowPriorityKeywords) == 0 {
		rules.LowPriorityKeywords = defaults.LowPriorityKeywords
	}
	return rules, nil
}
