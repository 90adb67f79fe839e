package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClassifierRules lists the order attributes that exclude an order from
// conversion reporting. Any single match excludes.
type ClassifierRules struct {
	ExcludedTags               []string `yaml:"excluded_tags"`
	ExcludedSources            []string `yaml:"excluded_sources"`
	ExcludedLineItemProperties []string `yaml:"excluded_line_item_properties"`
	ExcludeSellingPlans        bool     `yaml:"exclude_selling_plans"`
}

// DefaultClassifierRules excludes Recharge recurring orders and any order
// bought through a selling plan.
func DefaultClassifierRules() ClassifierRules {
	return ClassifierRules{
		ExcludedTags:               []string{"Subscription Recurring Order"},
		ExcludedSources:            []string{"subscription_contract"},
		ExcludedLineItemProperties: []string{"_recharge_subscription_id"},
		ExcludeSellingPlans:        true,
	}
}

// LoadClassifierRules returns the default rules when path is empty. A file
// replaces the defaults wholesale, so it must list every rule it wants.
func LoadClassifierRules(path string) (ClassifierRules, error) {
	if path == "" {
		return DefaultClassifierRules(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ClassifierRules{}, fmt.Errorf("failed to read classifier rules %s: %w", path, err)
	}

	var rules ClassifierRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return ClassifierRules{}, fmt.Errorf("failed to parse classifier rules %s: %w", path, err)
	}
	return rules, nil
}
