package lineage

import (
	"errors"
	"testing"
	"time"

	"github.com/kingrea/journeysim/internal/journey"
)

func fixedClock() time.Time {
	return time.Date(2025, time.January, 6, 10, 0, 0, 0, time.UTC)
}

func newRunState(t *testing.T, week int) *journey.MemberState {
	t.Helper()
	state := journey.NewMemberState("run-1", "Rohan Patel")
	state.Week = week
	state.Threads = append(state.Threads, journey.Thread{ID: journey.ThreadID(0, 1), Week: 0, Topic: journey.TopicDiagnostics})
	thread, _ := state.Thread(journey.ThreadID(0, 1))
	if err := thread.Append(journey.Message{ID: "m-0", Seq: 0, Speaker: journey.RoleMember, Text: "panel due"}); err != nil {
		t.Fatal(err)
	}
	return state
}

func mustCreate(t *testing.T, tr *Tracker, week int, agent journey.Role, kind journey.DecisionKind, subject string, evidence ...journey.EvidenceRef) journey.Decision {
	t.Helper()
	d, err := tr.CreateDecision(week, agent, kind, subject, "because", evidence)
	if err != nil {
		t.Fatalf("CreateDecision(%s): %v", subject, err)
	}
	return d
}

func TestCreateDecisionMintsMonotonicIDs(t *testing.T) {
	state := newRunState(t, 0)
	tr, err := NewTracker(state, WithClock(fixedClock))
	if err != nil {
		t.Fatal(err)
	}
	d1 := mustCreate(t, tr, 0, journey.RoleDiagnostics, journey.KindTest, "panel", journey.MessageEvidence("m-0"))
	d2 := mustCreate(t, tr, 0, journey.RoleMedical, journey.KindRecommendation, "diet", journey.DecisionEvidence(d1.ID))
	if d1.ID != 1 || d2.ID != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", d1.ID, d2.ID)
	}
	if d1.Outcome != journey.OutcomeProposed {
		t.Fatalf("new decision outcome = %s, want proposed", d1.Outcome)
	}
	if !d1.CreatedAt.Equal(fixedClock()) {
		t.Fatalf("created at = %v, want the injected clock", d1.CreatedAt)
	}
	if len(state.Decisions) != 2 {
		t.Fatalf("state holds %d decisions, want 2", len(state.Decisions))
	}
}

func TestCreateDecisionRejectsMemberAuthor(t *testing.T) {
	tr, err := NewTracker(newRunState(t, 0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.CreateDecision(0, journey.RoleMember, journey.KindRecommendation, "x", "", nil); err == nil {
		t.Fatal("member should not author decisions")
	}
}

func TestCreateDecisionValidatesEvidence(t *testing.T) {
	state := newRunState(t, 1)
	tr, err := NewTracker(state, WithClock(fixedClock))
	if err != nil {
		t.Fatal(err)
	}

	var invalid *InvalidEvidenceError
	if _, err := tr.CreateDecision(1, journey.RoleMedical, journey.KindRecommendation, "x", "", []journey.EvidenceRef{journey.DecisionEvidence(9)}); !errors.As(err, &invalid) {
		t.Fatalf("unknown decision evidence returned %v, want InvalidEvidenceError", err)
	}
	if _, err := tr.CreateDecision(1, journey.RoleMedical, journey.KindRecommendation, "x", "", []journey.EvidenceRef{journey.MessageEvidence("ghost")}); !errors.As(err, &invalid) {
		t.Fatalf("unknown message evidence returned %v, want InvalidEvidenceError", err)
	}

	// A decision created in week 1 cannot be cited by a week-0 decision.
	d := mustCreate(t, tr, 1, journey.RoleMedical, journey.KindRecommendation, "diet")
	if _, err := tr.CreateDecision(0, journey.RoleNutrition, journey.KindRecommendation, "x", "", []journey.EvidenceRef{journey.DecisionEvidence(d.ID)}); !errors.As(err, &invalid) {
		t.Fatalf("forward evidence returned %v, want InvalidEvidenceError", err)
	}
	// The failed mints must not consume ids.
	next := mustCreate(t, tr, 1, journey.RoleNutrition, journey.KindRecommendation, "meals")
	if next.ID != d.ID+1 {
		t.Fatalf("id after failed mints = %d, want %d", next.ID, d.ID+1)
	}
}

func TestResumeContinuesIDSequence(t *testing.T) {
	state := newRunState(t, 0)
	tr, err := NewTracker(state, WithClock(fixedClock))
	if err != nil {
		t.Fatal(err)
	}
	mustCreate(t, tr, 0, journey.RoleDiagnostics, journey.KindTest, "panel")
	mustCreate(t, tr, 0, journey.RoleMedical, journey.KindRecommendation, "diet")

	// A fresh tracker over the same state stands in for a resume.
	state.AdvanceWeek()
	resumed, err := NewTracker(state, WithClock(fixedClock))
	if err != nil {
		t.Fatal(err)
	}
	d := mustCreate(t, resumed, 1, journey.RoleNutrition, journey.KindMedication, "metformin")
	if d.ID != 3 {
		t.Fatalf("resumed mint id = %d, want 3", d.ID)
	}
}

func TestAcceptTransitions(t *testing.T) {
	tr, err := NewTracker(newRunState(t, 0), WithClock(fixedClock))
	if err != nil {
		t.Fatal(err)
	}
	d := mustCreate(t, tr, 0, journey.RoleDiagnostics, journey.KindTest, "panel")
	if err := tr.Accept(d.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := tr.Accept(d.ID); err == nil {
		t.Fatal("accepting twice should fail")
	}
	if err := tr.Accept(99); !errors.Is(err, ErrUnknownDecision) {
		t.Fatalf("accept unknown returned %v, want ErrUnknownDecision", err)
	}
}

func TestSupersedeRequiresLaterOrSameWeek(t *testing.T) {
	state := newRunState(t, 2)
	tr, err := NewTracker(state, WithClock(fixedClock))
	if err != nil {
		t.Fatal(err)
	}
	early := mustCreate(t, tr, 0, journey.RoleMedical, journey.KindRecommendation, "diet v1")
	late := mustCreate(t, tr, 2, journey.RoleMedical, journey.KindRecommendation, "diet v2")

	if err := tr.Supersede(late.ID, early.ID); err == nil {
		t.Fatal("an earlier decision must not supersede a later one")
	}
	if err := tr.Supersede(early.ID, late.ID); err != nil {
		t.Fatalf("supersede: %v", err)
	}
	got, _ := state.Decision(early.ID)
	if got.Outcome != journey.OutcomeSuperseded || got.SupersededBy != late.ID {
		t.Fatalf("superseded decision = %+v", got)
	}
}

func TestLinkSuccessorRejectsCyclesAndLeavesGraphUnchanged(t *testing.T) {
	state := newRunState(t, 0)
	tr, err := NewTracker(state, WithClock(fixedClock))
	if err != nil {
		t.Fatal(err)
	}
	d1 := mustCreate(t, tr, 0, journey.RoleDiagnostics, journey.KindTest, "panel")
	d2 := mustCreate(t, tr, 0, journey.RoleMedical, journey.KindRecommendation, "diet", journey.DecisionEvidence(d1.ID))
	d3 := mustCreate(t, tr, 0, journey.RoleNutrition, journey.KindMedication, "metformin", journey.DecisionEvidence(d2.ID))

	if err := tr.LinkSuccessor(d1.ID, d2.ID); err != nil {
		t.Fatalf("link: %v", err)
	}

	var cycle *CycleError
	if err := tr.LinkSuccessor(d3.ID, d1.ID); !errors.As(err, &cycle) {
		t.Fatalf("closing the loop returned %v, want CycleError", err)
	}
	if err := tr.LinkSuccessor(d1.ID, d1.ID); !errors.As(err, &cycle) {
		t.Fatalf("self link returned %v, want CycleError", err)
	}

	got, _ := state.Decision(d3.ID)
	if got.Successor != 0 {
		t.Fatalf("failed link mutated decision %d: successor = %d", d3.ID, got.Successor)
	}
	// The rejected edge must not block a valid one afterwards.
	if err := tr.LinkSuccessor(d2.ID, d3.ID); err != nil {
		t.Fatalf("valid link after rejection: %v", err)
	}
}

func TestTraceReturnsChainEarliestFirst(t *testing.T) {
	state := newRunState(t, 2)
	tr, err := NewTracker(state, WithClock(fixedClock))
	if err != nil {
		t.Fatal(err)
	}
	d1 := mustCreate(t, tr, 0, journey.RoleDiagnostics, journey.KindTest, "panel", journey.MessageEvidence("m-0"))
	d2 := mustCreate(t, tr, 1, journey.RoleMedical, journey.KindRecommendation, "diet", journey.DecisionEvidence(d1.ID))
	mustCreate(t, tr, 1, journey.RoleCoaching, journey.KindRecommendation, "unrelated")
	d4 := mustCreate(t, tr, 2, journey.RoleNutrition, journey.KindMedication, "metformin", journey.DecisionEvidence(d2.ID))

	chain, err := tr.Trace(d4.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{d1.ID, d2.ID, d4.ID}
	if len(chain) != len(want) {
		t.Fatalf("chain length = %d, want %d", len(chain), len(want))
	}
	for i, id := range want {
		if chain[i].ID != id {
			t.Fatalf("chain[%d].ID = %d, want %d", i, chain[i].ID, id)
		}
	}
	if chain[len(chain)-1].Kind != journey.KindMedication {
		t.Fatalf("chain must end with the traced decision, got %s", chain[len(chain)-1].Kind)
	}

	if _, err := tr.Trace(99); !errors.Is(err, ErrUnknownDecision) {
		t.Fatalf("trace unknown returned %v, want ErrUnknownDecision", err)
	}
}

func TestNewTrackerRejectsCorruptState(t *testing.T) {
	state := newRunState(t, 0)
	state.Decisions = []journey.Decision{
		{ID: 1, Week: 0, Agent: journey.RoleMedical, Kind: journey.KindRecommendation, Outcome: journey.OutcomeProposed},
		{ID: 1, Week: 0, Agent: journey.RoleMedical, Kind: journey.KindRecommendation, Outcome: journey.OutcomeProposed},
	}
	if _, err := NewTracker(state); err == nil {
		t.Fatal("tracker accepted a state with duplicate decision ids")
	}
}
