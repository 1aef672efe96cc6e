// Package lineage is the single source for minting decision identifiers and
// validating the evidence graph. Every decision created during a run passes
// through a Tracker, which guarantees ids are unique and monotonic and that
// evidence/successor links never form a cycle or point forward in week order.
package lineage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kingrea/journeysim/internal/journey"
)

// Tracker owns the decision id sequence for one run. It operates directly on
// the run's MemberState so the state remains the sole owner of the decisions;
// the tracker only keeps an index and the next id.
type Tracker struct {
	mu    sync.Mutex
	state *journey.MemberState
	index map[int]int // decision id -> position in state.Decisions
	// causedBy maps a decision to the decision whose successor link points
	// at it. Needed for cycle detection on LinkSuccessor.
	causedBy map[int]int
	next     int
	clock    func() time.Time
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock injects a deterministic clock (primarily for tests and for the
// scheduler's simulated timeline).
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// NewTracker builds a tracker over an existing state. Resuming from a
// checkpoint rebuilds the id sequence from the decisions already present, so
// a re-run week can never duplicate an id minted before the checkpoint.
func NewTracker(state *journey.MemberState, opts ...Option) (*Tracker, error) {
	if state == nil {
		return nil, fmt.Errorf("lineage: member state is required")
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	t := &Tracker{
		state:    state,
		index:    make(map[int]int, len(state.Decisions)),
		causedBy: make(map[int]int),
		next:     state.MaxDecisionID() + 1,
		clock:    time.Now,
	}
	for i := range state.Decisions {
		d := &state.Decisions[i]
		t.index[d.ID] = i
		if d.Successor != 0 {
			t.causedBy[d.Successor] = d.ID
		}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// CreateDecision validates the evidence references and mints a new decision
// in the proposed state. Minting is serialized: concurrent threads never
// receive the same id.
func (t *Tracker) CreateDecision(week int, agent journey.Role, kind journey.DecisionKind, subject, rationale string, evidence []journey.EvidenceRef) (journey.Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if week < 0 || week > t.state.Week {
		return journey.Decision{}, &journey.InvariantViolation{Reason: fmt.Sprintf("decision week %d outside run week %d", week, t.state.Week)}
	}
	if !agent.Valid() || agent == journey.RoleMember {
		return journey.Decision{}, fmt.Errorf("lineage: %q cannot author decisions", agent)
	}
	for _, ref := range evidence {
		if err := t.checkEvidence(week, ref); err != nil {
			return journey.Decision{}, err
		}
	}
	d := journey.Decision{
		ID:        t.next,
		Week:      week,
		Agent:     agent,
		Kind:      kind,
		Subject:   subject,
		Rationale: rationale,
		Evidence:  append([]journey.EvidenceRef(nil), evidence...),
		Outcome:   journey.OutcomeProposed,
		CreatedAt: t.clock().UTC(),
	}
	t.next++
	t.state.Decisions = append(t.state.Decisions, d)
	t.index[d.ID] = len(t.state.Decisions) - 1
	return d, nil
}

// Accept transitions a proposed decision to accepted.
func (t *Tracker) Accept(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, err := t.lookup(id)
	if err != nil {
		return err
	}
	if d.Outcome != journey.OutcomeProposed {
		return fmt.Errorf("lineage: decision %d is %s, not proposed", id, d.Outcome)
	}
	d.Outcome = journey.OutcomeAccepted
	return nil
}

// LinkSuccessor records that child was caused by parent. The link fails with
// a CycleError when child is already a transitive ancestor of parent, and
// leaves the graph unchanged on any failure.
func (t *Tracker) LinkSuccessor(parentID, childID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	parent, err := t.lookup(parentID)
	if err != nil {
		return err
	}
	if _, err := t.lookup(childID); err != nil {
		return err
	}
	if parentID == childID {
		return &CycleError{Parent: parentID, Child: childID}
	}
	if parent.Successor != 0 && parent.Successor != childID {
		return fmt.Errorf("lineage: decision %d already has successor %d", parentID, parent.Successor)
	}
	if t.reachable(parentID, childID) {
		return &CycleError{Parent: parentID, Child: childID}
	}
	parent.Successor = childID
	t.causedBy[childID] = parentID
	return nil
}

// Supersede marks old as superseded and records its replacement. The
// replacement must belong to the same or a later week.
func (t *Tracker) Supersede(oldID, newID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	oldD, err := t.lookup(oldID)
	if err != nil {
		return err
	}
	newD, err := t.lookup(newID)
	if err != nil {
		return err
	}
	if newD.Week < oldD.Week {
		return fmt.Errorf("lineage: decision %d (week %d) cannot supersede %d from week %d", newID, newD.Week, oldID, oldD.Week)
	}
	oldD.Outcome = journey.OutcomeSuperseded
	oldD.SupersededBy = newID
	return nil
}

// Trace walks backward from a decision to all of its transitive evidence and
// returns the chain earliest-first, ending with the decision itself. This is
// the backtracking contract the analysis layer consumes.
func (t *Tracker) Trace(id int) ([]journey.Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.lookup(id); err != nil {
		return nil, err
	}
	seen := map[int]struct{}{}
	stack := []int{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := seen[current]; done {
			continue
		}
		seen[current] = struct{}{}
		d, err := t.lookup(current)
		if err != nil {
			return nil, err
		}
		stack = append(stack, d.EvidenceDecisionIDs()...)
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	// Ids are minted in creation order, so ascending id is a topological
	// order of the evidence DAG.
	sort.Ints(ids)
	chain := make([]journey.Decision, 0, len(ids))
	for _, id := range ids {
		d, _ := t.lookup(id)
		chain = append(chain, *d)
	}
	return chain, nil
}

func (t *Tracker) lookup(id int) (*journey.Decision, error) {
	pos, ok := t.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDecision, id)
	}
	return &t.state.Decisions[pos], nil
}

func (t *Tracker) checkEvidence(week int, ref journey.EvidenceRef) error {
	switch ref.Kind {
	case journey.EvidenceDecision:
		pos, ok := t.index[ref.DecisionID]
		if !ok {
			return &InvalidEvidenceError{Ref: ref, Week: week, Reason: "does not exist"}
		}
		if evidenceWeek := t.state.Decisions[pos].Week; evidenceWeek > week {
			return &InvalidEvidenceError{Ref: ref, Week: week, Reason: fmt.Sprintf("belongs to later week %d", evidenceWeek)}
		}
	case journey.EvidenceMessage:
		if _, ok := t.state.FindMessage(ref.MessageID); !ok {
			return &InvalidEvidenceError{Ref: ref, Week: week, Reason: "does not exist"}
		}
	default:
		return &InvalidEvidenceError{Ref: ref, Week: week, Reason: fmt.Sprintf("unknown evidence kind %q", ref.Kind)}
	}
	return nil
}

// reachable reports whether target can be reached from start by walking
// backward over evidence and caused-by edges.
func (t *Tracker) reachable(start, target int) bool {
	seen := map[int]struct{}{}
	stack := []int{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == target {
			return true
		}
		if _, done := seen[current]; done {
			continue
		}
		seen[current] = struct{}{}
		if d, err := t.lookup(current); err == nil {
			stack = append(stack, d.EvidenceDecisionIDs()...)
		}
		if parent, ok := t.causedBy[current]; ok {
			stack = append(stack, parent)
		}
	}
	return false
}
