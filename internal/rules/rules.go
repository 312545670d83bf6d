// Package rules holds the keyword table driving rule-based categorization.
// The table is loaded once at process start and injected into the
// categorizer; there is no hidden global state.
package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule maps one category name to the keywords that select it.
type Rule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// Table is an ordered rule list. Order matters: the first rule whose
// keyword matches wins.
type Table struct {
	Rules []Rule `yaml:"rules"`
}

// Load reads a YAML rules file:
//
//	rules:
//	  - category: Produce
//	    keywords: [apple, banana, lettuce]
//	  - category: Dairy
//	    keywords: [milk, cheese, yogurt]
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML rules document.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	for i, r := range t.Rules {
		if strings.TrimSpace(r.Category) == "" {
			return nil, fmt.Errorf("rule %d: empty category", i)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no keywords", i, r.Category)
		}
	}
	return &t, nil
}

// Empty returns a table with no rules; the rule job becomes a no-op.
func Empty() *Table {
	return &Table{}
}

// Match returns the category of the first rule with a keyword contained
// case-insensitively in name.
func (t *Table) Match(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, rule := range t.Rules {
		for _, kw := range rule.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				return rule.Category, true
			}
		}
	}
	return "", false
}

// Len reports the number of rules in the table.
func (t *Table) Len() int {
	return len(t.Rules)
}
