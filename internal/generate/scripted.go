package generate

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/kingrea/journeysim/internal/journey"
)

// Scripted is a deterministic offline generator. It stands in for a language
// model during simulation and tests: replies depend only on the request and
// the seed, never on call order, so a resumed run replays a week identically.
type Scripted struct {
	seed int64
}

// NewScripted builds a scripted generator for the given run seed.
func NewScripted(seed int64) *Scripted {
	return &Scripted{seed: seed}
}

// Generate produces a canned reply for the requested turn.
func (s *Scripted) Generate(_ context.Context, req Request) (Reply, error) {
	if req.Role == journey.RoleMember {
		return s.memberReply(req), nil
	}
	return s.agentReply(req), nil
}

func (s *Scripted) memberReply(req Request) Reply {
	if req.Turn == 0 {
		return Reply{Text: s.opener(req)}
	}
	// Members wrap up after a short exchange; the exact length varies per
	// thread but is fixed for a given seed.
	maxMemberTurns := 2 + int(s.mix(req)%2)
	memberTurns := req.Turn/2 + 1
	end := memberTurns >= maxMemberTurns
	text := fmt.Sprintf("Got it, thanks. I'll follow up on the %s guidance.", req.Topic)
	if !end {
		text = fmt.Sprintf("Quick follow-up on %s before we wrap: what should I watch for this week?", req.Topic)
	}
	return Reply{Text: text, Annotations: journey.Annotations{EndTurn: end}}
}

func (s *Scripted) opener(req Request) string {
	switch req.Topic {
	case journey.TopicDiagnostics:
		return "I believe my quarterly panel is due. Can we get that scheduled?"
	case journey.TopicTravel:
		return "I have a work trip coming up next week and want to keep the plan on track."
	case journey.TopicNutrition:
		return "I've been inconsistent with meals while busy. Can we review my nutrition plan?"
	case journey.TopicTraining:
		return "My knee felt stiff after the last two sessions. Should we adjust the program?"
	case journey.TopicDataReview:
		return "My watch shows my sleep scores dipping. Is there anything in the data?"
	case journey.TopicStrategy:
		return "Can we step back and look at how the overall program is tracking?"
	default:
		return "Checking in for the week. A few small wins and one or two questions."
	}
}

func (s *Scripted) agentReply(req Request) Reply {
	switch req.Role {
	case journey.RoleDiagnostics:
		if req.Attributes[journey.AttrPendingTestResult] == "" {
			return Reply{
				Text: "Ordering the quarterly blood panel; fasting draw, results in a few days.",
				Annotations: journey.Annotations{
					Tests: []string{"quarterly blood panel"},
					Sets: map[string]string{
						journey.AttrPendingTestResult:    "quarterly blood panel",
						journey.AttrWeeksSinceDiagnostic: "0",
					},
				},
			}
		}
		return Reply{
			Text:        "The panel is already in flight; results go to Dr. Warren for interpretation.",
			Annotations: journey.Annotations{Resolved: true},
		}
	case journey.RoleMedical:
		if pending := req.Attributes[journey.AttrPendingTestResult]; pending != "" {
			return Reply{
				Text: "Results are back. Fasting glucose is elevated at 105 mg/dL; I want tighter dietary control before we reassess.",
				Annotations: journey.Annotations{
					Recommendations: []string{"tighten dietary control; reassess glucose in 4 weeks"},
					Observes:        []string{journey.AttrPendingTestResult},
					Sets: map[string]string{
						"glucose_status":              "elevated",
						journey.AttrPendingTestResult: "",
					},
				},
			}
		}
		return Reply{
			Text:        "Nothing clinically actionable this week; keep the current protocol.",
			Annotations: journey.Annotations{Resolved: true},
		}
	case journey.RoleNutrition:
		if req.Attributes["glucose_status"] == "elevated" && req.Attributes["medication.metformin"] == "" {
			return Reply{
				Text: "Given the elevated glucose, I'm starting you on metformin 500mg with dinner alongside the carb adjustments.",
				Annotations: journey.Annotations{
					Medications: []string{"metformin"},
					Observes:    []string{"glucose_status"},
					Sets:        map[string]string{"medication.metformin": "active"},
				},
			}
		}
		return Reply{
			Text: "Let's anchor breakfast around protein this week and keep the CGM on.",
			Annotations: journey.Annotations{
				Recommendations: []string{"protein-first breakfast"},
				Resolved:        req.Turn > 2,
			},
		}
	case journey.RoleCoaching:
		return Reply{
			Text: "Swapping the loaded squats for split squats and adding a mobility block while the knee settles.",
			Annotations: journey.Annotations{
				Recommendations: []string{"substitute split squats; add mobility block"},
				Sets:            map[string]string{journey.AttrPlanUpdatedWeek: fmt.Sprintf("%d", req.Week)},
				Resolved:        req.Turn > 2,
			},
		}
	case journey.RoleData:
		if s.mix(req)%3 == 0 {
			return Reply{
				Text: "HRV is trending down with the late screens; I'd pull bedtime forward 30 minutes.",
				Annotations: journey.Annotations{
					Recommendations: []string{"advance bedtime by 30 minutes"},
					Sets:            map[string]string{"hrv_trend": "recovering"},
				},
			}
		}
		return Reply{
			Text:        "The dip lines up with travel nights; the baseline itself looks stable.",
			Annotations: journey.Annotations{Resolved: req.Turn > 2},
		}
	case journey.RoleSpecialist:
		return Reply{
			Text: "Big picture: adherence is the constraint, not the plan. Let's simplify before we add anything new.",
			Annotations: journey.Annotations{
				Recommendations: []string{"simplify weekly plan to core commitments"},
				Resolved:        req.Turn > 2,
			},
		}
	default: // coordinator
		if req.Topic == journey.TopicTravel {
			return Reply{
				Text: "I'll line up the travel kit: hotel gym options, meal defaults, and a light plan for the trip days.",
				Annotations: journey.Annotations{
					Sets:     map[string]string{journey.AttrWeeksSinceTrip: "0"},
					Resolved: req.Turn > 2,
				},
			}
		}
		return Reply{
			Text:        "Noted. I'll coordinate with the team and confirm the schedule by tomorrow.",
			Annotations: journey.Annotations{Resolved: req.Turn > 2},
		}
	}
}

// mix folds the request coordinates into a stable small number so replies
// vary across threads without depending on call order.
func (s *Scripted) mix(req Request) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%d|%s|%s|%d", s.seed, req.Week, req.Topic, req.Role, req.Turn)
	return h.Sum64()
}
