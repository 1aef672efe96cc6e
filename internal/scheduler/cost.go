package scheduler

import (
	"github.com/kingrea/journeysim/internal/journey"
)

// CostModel estimates the team time a week of conversation consumed. The
// formula is additive: a base cost per reply plus per-character,
// per-recommendation, per-medication, per-test, and per-consultation
// surcharges. The values are policy constants, configurable rather than
// structural.
type CostModel struct {
	BaseMinutes              float64 `yaml:"base_minutes"`
	MinutesPerHundredChars   float64 `yaml:"minutes_per_hundred_chars"`
	MinutesPerRecommendation float64 `yaml:"minutes_per_recommendation"`
	MinutesPerMedication     float64 `yaml:"minutes_per_medication"`
	MinutesPerTest           float64 `yaml:"minutes_per_test"`
	MinutesPerConsultation   float64 `yaml:"minutes_per_consultation"`
}

// DefaultCostModel returns the standard constants.
func DefaultCostModel() CostModel {
	return CostModel{
		BaseMinutes:              8,
		MinutesPerHundredChars:   3,
		MinutesPerRecommendation: 6,
		MinutesPerMedication:     12,
		MinutesPerTest:           10,
		MinutesPerConsultation:   8,
	}
}

// ReplyMinutes prices a single team reply.
func (m CostModel) ReplyMinutes(msg journey.Message, consultation bool) float64 {
	minutes := m.BaseMinutes
	minutes += float64(len(msg.Text)) / 100 * m.MinutesPerHundredChars
	minutes += float64(len(msg.Annotations.Recommendations)) * m.MinutesPerRecommendation
	minutes += float64(len(msg.Annotations.Medications)) * m.MinutesPerMedication
	minutes += float64(len(msg.Annotations.Tests)) * m.MinutesPerTest
	if consultation {
		minutes += m.MinutesPerConsultation
	}
	return minutes
}

// WeekHours aggregates estimated hours per role for one simulated week. A
// reply counts as a consultation when a team role other than the thread's
// lead is pulled in.
func (m CostModel) WeekHours(state *journey.MemberState, week int) map[journey.Role]float64 {
	hours := make(map[journey.Role]float64)
	for _, thread := range state.ThreadsForWeek(week) {
		lead := journey.RouteTopic(thread.Topic)
		for _, msg := range thread.Messages {
			if msg.Speaker == journey.RoleMember {
				continue
			}
			consultation := msg.Speaker != lead
			hours[msg.Speaker] += m.ReplyMinutes(msg, consultation) / 60
		}
	}
	return hours
}
