package scheduler

import (
	"strings"
	"testing"

	"github.com/kingrea/journeysim/internal/journey"
)

func TestReplyMinutes(t *testing.T) {
	model := DefaultCostModel()
	msg := journey.Message{
		Text: strings.Repeat("x", 200),
		Annotations: journey.Annotations{
			Recommendations: []string{"a"},
			Medications:     []string{"b"},
			Tests:           []string{"c"},
		},
	}
	// 8 base + 6 chars + 6 rec + 12 med + 10 test = 42
	if got := model.ReplyMinutes(msg, false); got != 42 {
		t.Fatalf("ReplyMinutes = %v, want 42", got)
	}
	if got := model.ReplyMinutes(msg, true); got != 50 {
		t.Fatalf("consultation ReplyMinutes = %v, want 50", got)
	}
}

func TestWeekHoursBillsConsultations(t *testing.T) {
	model := DefaultCostModel()
	state := journey.NewMemberState("run-1", "Rohan Patel")
	state.Week = 1
	state.Threads = append(state.Threads, journey.Thread{ID: journey.ThreadID(1, 1), Week: 1, Topic: journey.TopicDiagnostics})
	thread, _ := state.Thread(journey.ThreadID(1, 1))
	msgs := []journey.Message{
		{Seq: 0, Speaker: journey.RoleMember, Text: "hello"},
		{Seq: 1, Speaker: journey.RoleDiagnostics, Text: "ordering"},
		{Seq: 2, Speaker: journey.RoleMedical, Text: "interpreting"},
	}
	for _, msg := range msgs {
		if err := thread.Append(msg); err != nil {
			t.Fatal(err)
		}
	}

	hours := model.WeekHours(state, 1)
	if _, ok := hours[journey.RoleMember]; ok {
		t.Fatal("member time must not be billed")
	}
	lead := hours[journey.RoleDiagnostics]
	consult := hours[journey.RoleMedical]
	if lead <= 0 || consult <= 0 {
		t.Fatalf("hours = %v", hours)
	}
	// Medical was pulled into a diagnostics-led thread, so their reply
	// carries the consultation surcharge.
	wantConsult := model.ReplyMinutes(msgs[2], true) / 60
	if consult != wantConsult {
		t.Fatalf("consultation hours = %v, want %v", consult, wantConsult)
	}
}

func TestRenderTranscript(t *testing.T) {
	state := journey.NewMemberState("run-1", "Rohan Patel")
	state.Week = 1
	state.Threads = append(state.Threads, journey.Thread{ID: journey.ThreadID(1, 1), Week: 1, Topic: journey.TopicCheckIn, DecisionIDs: []int{3}})
	thread, _ := state.Thread(journey.ThreadID(1, 1))
	if err := thread.Append(journey.Message{Seq: 0, Speaker: journey.RoleCoordinator, Text: "Schedule confirmed."}); err != nil {
		t.Fatal(err)
	}

	out := RenderTranscript(state, 1)
	for _, want := range []string{"=== Week 1 ===", "w01-t1", "[RUBY]:", "Schedule confirmed.", "[decisions: [3]]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("transcript missing %q:\n%s", want, out)
		}
	}
}
