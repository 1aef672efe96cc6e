package journey

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Well-known attribute keys. Attributes are free-form key/value pairs with
// overwrite semantics, but these keys steer topic routing and counters.
const (
	AttrWeeksSinceDiagnostic = "weeks_since_last_diagnostic"
	AttrWeeksSinceTrip       = "weeks_since_last_trip"
	AttrPendingTestResult    = "pending_test_result"
	AttrUpcomingTrip         = "upcoming_trip"
	AttrPlanUpdatedWeek      = "plan_updated_week"
)

// decisionAttrPrefix marks bookkeeping keys that record which decision last
// established an attribute. They are internal to the scheduler and excluded
// from episode deltas.
const decisionAttrPrefix = "decision.for."

// DecisionAttrKey returns the bookkeeping key holding the id of the decision
// that last set attr.
func DecisionAttrKey(attr string) string {
	return decisionAttrPrefix + attr
}

// IsDecisionAttrKey reports whether key is scheduler bookkeeping rather than
// member-visible state.
func IsDecisionAttrKey(key string) bool {
	return strings.HasPrefix(key, decisionAttrPrefix)
}

// Attributes hold the evolving member facts (adherence, travel, labs...).
type Attributes map[string]string

// Int reads an attribute as an integer, defaulting to 0.
func (a Attributes) Int(key string) int {
	n, err := strconv.Atoi(a[key])
	if err != nil {
		return 0
	}
	return n
}

// SetInt writes an integer attribute.
func (a Attributes) SetInt(key string, value int) {
	a[key] = strconv.Itoa(value)
}

func (a Attributes) clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// SortedKeys returns attribute keys in lexical order, for deterministic
// iteration.
func (a Attributes) SortedKeys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InvariantViolation signals checkpoint/state corruption: a week index
// regression, a duplicate decision id, a broken message sequence. It is
// fatal to the run and must not be propagated into further simulation.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return "journey: state invariant violated: " + e.Reason
}

// MemberState is the single mutable aggregate for one simulated member's
// journey. It exclusively owns its threads and decisions; checkpoints hold
// independent deep copies.
type MemberState struct {
	RunID      string     `json:"run_id"`
	MemberName string     `json:"member_name"`
	Week       int        `json:"week"`
	Attributes Attributes `json:"attributes"`
	Decisions  []Decision `json:"decisions"`
	Threads    []Thread   `json:"threads"`
}

// NewMemberState starts a journey at week 0 with seeded counters.
func NewMemberState(runID, memberName string) *MemberState {
	attrs := Attributes{}
	attrs.SetInt(AttrWeeksSinceDiagnostic, 0)
	attrs.SetInt(AttrWeeksSinceTrip, 0)
	return &MemberState{
		RunID:      runID,
		MemberName: memberName,
		Attributes: attrs,
	}
}

// Clone produces a deep copy. Mutating the live state never alters a copy
// handed to the checkpoint store.
func (s *MemberState) Clone() *MemberState {
	out := &MemberState{
		RunID:      s.RunID,
		MemberName: s.MemberName,
		Week:       s.Week,
		Attributes: s.Attributes.clone(),
		Decisions:  make([]Decision, len(s.Decisions)),
		Threads:    make([]Thread, len(s.Threads)),
	}
	for i := range s.Decisions {
		out.Decisions[i] = s.Decisions[i].clone()
	}
	for i := range s.Threads {
		out.Threads[i] = s.Threads[i].clone()
	}
	return out
}

// AdvanceWeek moves the journey to the next week. The week index only ever
// increases.
func (s *MemberState) AdvanceWeek() {
	s.Week++
}

// Decision returns a pointer to the decision with the given id.
func (s *MemberState) Decision(id int) (*Decision, bool) {
	for i := range s.Decisions {
		if s.Decisions[i].ID == id {
			return &s.Decisions[i], true
		}
	}
	return nil, false
}

// Thread returns a pointer to the thread with the given id.
func (s *MemberState) Thread(id string) (*Thread, bool) {
	for i := range s.Threads {
		if s.Threads[i].ID == id {
			return &s.Threads[i], true
		}
	}
	return nil, false
}

// FindMessage locates a message anywhere in the journey by id.
func (s *MemberState) FindMessage(id string) (Message, bool) {
	for i := range s.Threads {
		if msg, ok := s.Threads[i].Message(id); ok {
			return msg, true
		}
	}
	return Message{}, false
}

// ThreadsForWeek returns pointers to the threads owned by the given week.
func (s *MemberState) ThreadsForWeek(week int) []*Thread {
	var out []*Thread
	for i := range s.Threads {
		if s.Threads[i].Week == week {
			out = append(out, &s.Threads[i])
		}
	}
	return out
}

// MaxDecisionID returns the highest decision id present, 0 when none.
func (s *MemberState) MaxDecisionID() int {
	max := 0
	for i := range s.Decisions {
		if s.Decisions[i].ID > max {
			max = s.Decisions[i].ID
		}
	}
	return max
}

// Validate checks the structural invariants a healthy state must satisfy.
// It is run on every checkpoint load so corruption is caught before the
// simulation continues on top of it.
func (s *MemberState) Validate() error {
	if s.Week < 0 {
		return &InvariantViolation{Reason: fmt.Sprintf("negative week index %d", s.Week)}
	}
	seenDecisions := make(map[int]int, len(s.Decisions))
	prevID := 0
	for i := range s.Decisions {
		d := &s.Decisions[i]
		if d.ID <= 0 {
			return &InvariantViolation{Reason: fmt.Sprintf("decision id %d is not positive", d.ID)}
		}
		if _, dup := seenDecisions[d.ID]; dup {
			return &InvariantViolation{Reason: fmt.Sprintf("duplicate decision id %d", d.ID)}
		}
		if d.ID <= prevID {
			return &InvariantViolation{Reason: fmt.Sprintf("decision ids out of order at %d", d.ID)}
		}
		if d.Week > s.Week {
			return &InvariantViolation{Reason: fmt.Sprintf("decision %d belongs to future week %d", d.ID, d.Week)}
		}
		seenDecisions[d.ID] = d.Week
		prevID = d.ID
	}
	for i := range s.Decisions {
		d := &s.Decisions[i]
		for _, ref := range d.Evidence {
			if ref.Kind != EvidenceDecision {
				continue
			}
			week, ok := seenDecisions[ref.DecisionID]
			if !ok {
				return &InvariantViolation{Reason: fmt.Sprintf("decision %d references unknown decision %d", d.ID, ref.DecisionID)}
			}
			if week > d.Week {
				return &InvariantViolation{Reason: fmt.Sprintf("decision %d references forward decision %d", d.ID, ref.DecisionID)}
			}
		}
	}
	seenThreads := make(map[string]struct{}, len(s.Threads))
	for i := range s.Threads {
		t := &s.Threads[i]
		if _, dup := seenThreads[t.ID]; dup {
			return &InvariantViolation{Reason: fmt.Sprintf("duplicate thread id %s", t.ID)}
		}
		seenThreads[t.ID] = struct{}{}
		if t.Week > s.Week {
			return &InvariantViolation{Reason: fmt.Sprintf("thread %s belongs to future week %d", t.ID, t.Week)}
		}
		for seq := range t.Messages {
			if t.Messages[seq].Seq != seq {
				return &InvariantViolation{Reason: fmt.Sprintf("thread %s: message %d carries seq %d", t.ID, seq, t.Messages[seq].Seq)}
			}
		}
	}
	return nil
}
