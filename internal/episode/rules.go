// Package episode rebuilds the discrete episodes of a journey from its
// checkpoint sequence. Extraction is offline and read-only: it is purely a
// function of the checkpoints, so running it twice yields identical output,
// and it never mutates the states it reads.
package episode

import (
	"github.com/kingrea/journeysim/internal/journey"
)

// Classification tags. TypeStateChange is the fallback: unclassifiable
// deltas are still surfaced rather than dropped.
const (
	TypeMedication  = "medication"
	TypeDiagnostic  = "diagnostic"
	TypePlanChange  = "plan-change"
	TypeTravel      = "travel"
	TypeStateChange = "state-change"
)

// Outcome categories describe what an episode accomplished for the member.
const (
	OutcomePlanProposed          = "plan_proposed"
	OutcomeInterventionScheduled = "intervention_scheduled"
	OutcomeMonitoringEstablished = "monitoring_established"
	OutcomeInformationProvided   = "information_provided"
)

// decisionOutcome maps a decision kind to its outcome category: orders and
// prescriptions schedule an intervention, advice proposes a plan.
func decisionOutcome(kind journey.DecisionKind) string {
	switch kind {
	case journey.KindMedication, journey.KindTest:
		return OutcomeInterventionScheduled
	default:
		return OutcomePlanProposed
	}
}

// attributeOutcome maps an attribute-driven episode to its outcome category.
// A classified change establishes something being tracked; the fallback only
// records that state moved.
func attributeOutcome(episodeType string) string {
	if episodeType == TypeStateChange {
		return OutcomeInformationProvided
	}
	return OutcomeMonitoringEstablished
}

// Rule classifies one unit of a state delta. A rule matches either a new
// decision (by kind) or a changed attribute (by key, optionally pinned to a
// new value). Rules are evaluated in order; the first match wins. The rule
// set is a policy parameter, not a structural requirement.
type Rule struct {
	Type           string `yaml:"type"`
	Kind           string `yaml:"kind,omitempty"`
	AttributeKey   string `yaml:"attribute_key,omitempty"`
	AttributeValue string `yaml:"attribute_value,omitempty"`
}

// DefaultRules returns the standard classification table.
func DefaultRules() []Rule {
	return []Rule{
		{Type: TypeMedication, Kind: string(journey.KindMedication)},
		{Type: TypeDiagnostic, Kind: string(journey.KindTest)},
		{Type: TypePlanChange, Kind: string(journey.KindRecommendation)},
		{Type: TypeTravel, AttributeKey: journey.AttrWeeksSinceTrip, AttributeValue: "0"},
		{Type: TypeDiagnostic, AttributeKey: journey.AttrWeeksSinceDiagnostic, AttributeValue: "0"},
		{Type: TypePlanChange, AttributeKey: journey.AttrPlanUpdatedWeek},
	}
}

func (r Rule) matchesDecision(d journey.Decision) bool {
	return r.Kind != "" && r.Kind == string(d.Kind)
}

func (r Rule) matchesAttribute(key, newValue string) bool {
	if r.AttributeKey == "" || r.AttributeKey != key {
		return false
	}
	return r.AttributeValue == "" || r.AttributeValue == newValue
}
