// Package classifier decides whether an order is excluded from conversion
// reporting. Recurring subscription renewals are the main case: the original
// checkout was already reported.
package classifier

import (
	"conversions/config"
	"conversions/models"
)

// Reason kinds recorded on a match.
const (
	ReasonTag              = "tag"
	ReasonSource           = "source"
	ReasonLineItemProperty = "line_item_property"
	ReasonSellingPlan      = "selling_plan"
)

// Reason is one matched exclusion rule.
type Reason struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

func (r Reason) String() string {
	return r.Kind + "=" + r.Value
}

// Result is the classification outcome. Reasons are for logging only.
type Result struct {
	Excluded bool     `json:"excluded"`
	Reasons  []Reason `json:"reasons,omitempty"`
}

type Classifier struct {
	tags       map[string]struct{}
	sources    map[string]struct{}
	properties map[string]struct{}
	plans      bool
}

func New(rules config.ClassifierRules) *Classifier {
	return &Classifier{
		tags:       toSet(rules.ExcludedTags),
		sources:    toSet(rules.ExcludedSources),
		properties: toSet(rules.ExcludedLineItemProperties),
		plans:      rules.ExcludeSellingPlans,
	}
}

// Classify evaluates every rule so the result lists all matches, not just the first.
func (c *Classifier) Classify(order *models.OrderEvent) Result {
	var reasons []Reason

	for _, tag := range order.TagList() {
		if _, ok := c.tags[tag]; ok {
			reasons = append(reasons, Reason{Kind: ReasonTag, Value: tag})
		}
	}

	if _, ok := c.sources[order.SourceName]; ok {
		reasons = append(reasons, Reason{Kind: ReasonSource, Value: order.SourceName})
	}

	for _, li := range order.LineItems {
		for _, prop := range li.Properties {
			if _, ok := c.properties[prop.Name]; ok {
				reasons = append(reasons, Reason{Kind: ReasonLineItemProperty, Value: prop.Name})
			}
		}
		if c.plans && li.HasSellingPlan() {
			reasons = append(reasons, Reason{Kind: ReasonSellingPlan, Value: li.ID.String()})
		}
	}

	return Result{Excluded: len(reasons) > 0, Reasons: reasons}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
